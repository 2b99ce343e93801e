// Package oauth discovers the OAuth coordinates of a protected MCP server.
//
// A server that rejects a request with 401 or 403 names, through its
// WWW-Authenticate challenge or through well-known documents, the protected
// resource metadata describing it and the authorization server that issues
// tokens for it. This package parses those challenges, fetches and validates
// both metadata documents, and synthesizes defaults for servers that publish
// none. Acquiring the token itself is left to the caller.
package oauth

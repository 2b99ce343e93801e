// Package transport connects an MCP client to a remote server over HTTP.
//
// A Handle owns one connection. It speaks the streamable HTTP transport and
// falls back to the legacy HTTP+SSE transport when the server turns out to
// predate it. Everything the handle learns is reported to its owner through
// the Proxy interface: inbound messages, state changes, log lines and token
// requests.
//
// # Transport Modes
//
// A handle starts with an undecided mode. The answer to the first POST
// settles it:
//
//   - A success, or any response carrying an Mcp-Session-Id, selects
//     streamable HTTP. Responses are JSON bodies or event streams, and a GET
//     backchannel is opened for server-initiated messages.
//   - A 4xx other than 401 or 403 selects legacy SSE. The handle opens the
//     session-long GET stream, waits for its endpoint event and resends the
//     message there.
//
// Until the mode is known sends are serialized; afterwards they run
// concurrently. A mode never changes back to undecided, and legacy SSE is
// final.
//
// # Authentication
//
// A 401 or 403 triggers discovery of the protected resource metadata and of
// the authorization server it names, after which the owner is asked for a
// token and the request is retried. Changed scope challenges and tokens the
// server keeps rejecting lead to one more retry each. A token provider that
// needs user interaction stops the handle.
//
// # Usage
//
//	h, err := transport.NewHandle("server-1", transport.LaunchConfig{
//	    URI:     "https://mcp.example.com/mcp",
//	    Headers: map[string]string{"X-Api-Key": key},
//	}, owner, transport.WithMetrics(metrics))
//	if err != nil {
//	    return err
//	}
//	defer h.Dispose()
//
//	h.Send(ctx, `{"jsonrpc":"2.0","id":1,"method":"initialize","params":{}}`)
//	...
//	h.Close(ctx)
//
// Send and Close never fail from the caller's point of view: transport
// errors arrive as StateError notifications, with ShouldRetry set when the
// server dropped the session and a new one should be started.
package transport

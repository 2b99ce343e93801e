package oauth

import (
	"encoding/json"
	"net/url"
	"strings"

	"golang.org/x/oauth2"

	mcperrors "github.com/ajitpratap0/mcp-http-transport/pkg/errors"
)

const (
	resourceMetadataDocument = "resource metadata"
	serverMetadataDocument   = "authorization server metadata"
)

// ProtectedResourceMetadata is the OAuth 2.0 Protected Resource Metadata
// document (RFC 9728)
type ProtectedResourceMetadata struct {
	Resource                          string   `json:"resource"`
	ResourceName                      string   `json:"resource_name,omitempty"`
	AuthorizationServers              []string `json:"authorization_servers,omitempty"`
	JWKSURI                           string   `json:"jwks_uri,omitempty"`
	ScopesSupported                   []string `json:"scopes_supported,omitempty"`
	BearerMethodsSupported            []string `json:"bearer_methods_supported,omitempty"`
	ResourceSigningAlgValuesSupported []string `json:"resource_signing_alg_values_supported,omitempty"`
	ResourceDocumentation             string   `json:"resource_documentation,omitempty"`
	ResourcePolicyURI                 string   `json:"resource_policy_uri,omitempty"`
	ResourceTOSURI                    string   `json:"resource_tos_uri,omitempty"`
}

// AuthorizationServerMetadata is the OAuth 2.0 Authorization Server Metadata
// document (RFC 8414), also served as OpenID Connect discovery
type AuthorizationServerMetadata struct {
	Issuer                            string   `json:"issuer"`
	AuthorizationEndpoint             string   `json:"authorization_endpoint,omitempty"`
	TokenEndpoint                     string   `json:"token_endpoint,omitempty"`
	RegistrationEndpoint              string   `json:"registration_endpoint,omitempty"`
	JWKSURI                           string   `json:"jwks_uri,omitempty"`
	DeviceAuthorizationEndpoint       string   `json:"device_authorization_endpoint,omitempty"`
	ScopesSupported                   []string `json:"scopes_supported,omitempty"`
	ResponseTypesSupported            []string `json:"response_types_supported,omitempty"`
	GrantTypesSupported               []string `json:"grant_types_supported,omitempty"`
	CodeChallengeMethodsSupported     []string `json:"code_challenge_methods_supported,omitempty"`
	TokenEndpointAuthMethodsSupported []string `json:"token_endpoint_auth_methods_supported,omitempty"`
}

// Endpoint returns the token endpoints in the form golang.org/x/oauth2 uses
func (m *AuthorizationServerMetadata) Endpoint() oauth2.Endpoint {
	return oauth2.Endpoint{
		AuthURL:       m.AuthorizationEndpoint,
		TokenURL:      m.TokenEndpoint,
		DeviceAuthURL: m.DeviceAuthorizationEndpoint,
	}
}

// DefaultMetadataForURL synthesizes metadata for an authorization server that
// publishes no discovery document, using the conventional endpoint paths.
func DefaultMetadataForURL(server *url.URL) *AuthorizationServerMetadata {
	origin := Origin(server)
	return &AuthorizationServerMetadata{
		Issuer:                 origin + "/",
		AuthorizationEndpoint:  origin + "/authorize",
		TokenEndpoint:          origin + "/token",
		RegistrationEndpoint:   origin + "/register",
		ResponseTypesSupported: []string{"code", "id_token", "id_token token"},
	}
}

// Origin returns scheme://host[:port] of u
func Origin(u *url.URL) string {
	return u.Scheme + "://" + u.Host
}

var serverMetadataURLFields = []string{
	"issuer",
	"authorization_endpoint",
	"token_endpoint",
	"registration_endpoint",
	"jwks_uri",
}

// ParseAuthorizationServerMetadata decodes and validates an authorization
// server metadata document. The issuer is required, and every URL-valued
// field that is present must be an http or https URL.
func ParseAuthorizationServerMetadata(data []byte) (*AuthorizationServerMetadata, error) {
	var raw map[string]interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, err
	}
	if raw == nil {
		return nil, mcperrors.InvalidMetadata("Authorization server metadata", "", "must be an object")
	}
	if issuer, ok := raw["issuer"]; !ok || issuer == nil || issuer == "" {
		return nil, mcperrors.InvalidMetadata("Authorization server metadata", "", "must have an issuer")
	}

	for _, field := range serverMetadataURLFields {
		value, ok := raw[field]
		if !ok || value == nil {
			continue
		}
		s, isString := value.(string)
		if !isString {
			return nil, mcperrors.InvalidMetadata("Authorization server metadata", field, "must be a string")
		}
		if s == "" {
			continue
		}
		if !strings.HasPrefix(s, "http://") && !strings.HasPrefix(s, "https://") {
			return nil, mcperrors.InvalidMetadata("Authorization server metadata", field, "must start with http:// or https://")
		}
	}

	var metadata AuthorizationServerMetadata
	if err := json.Unmarshal(data, &metadata); err != nil {
		return nil, err
	}
	return &metadata, nil
}

// ParseProtectedResourceMetadata decodes and validates a protected resource
// metadata document
func ParseProtectedResourceMetadata(data []byte) (*ProtectedResourceMetadata, error) {
	invalid := mcperrors.InvalidMetadata(
		"Invalid resource metadata.",
		"",
		"Expected to follow shape of ProtectedResourceMetadata (Hints: is scopes_supported an array? Is resource a string?)",
	)

	var raw map[string]interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, err
	}
	if resource, ok := raw["resource"].(string); !ok || resource == "" {
		return nil, invalid
	}
	if scopes, ok := raw["scopes_supported"]; ok && scopes != nil {
		if _, isArray := scopes.([]interface{}); !isArray {
			return nil, invalid
		}
	}

	var metadata ProtectedResourceMetadata
	if err := json.Unmarshal(data, &metadata); err != nil {
		return nil, invalid
	}
	return &metadata, nil
}

// normalizeResource canonicalizes a resource URL for comparison: scheme and
// host are lowercased, default ports and a trailing slash are dropped.
func normalizeResource(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return raw
	}

	scheme := strings.ToLower(u.Scheme)
	host := strings.ToLower(u.Hostname())
	if port := u.Port(); port != "" && !(scheme == "https" && port == "443") && !(scheme == "http" && port == "80") {
		host += ":" + port
	}

	path := strings.TrimSuffix(u.EscapedPath(), "/")
	out := scheme + "://" + host + path
	if u.RawQuery != "" {
		out += "?" + u.RawQuery
	}
	return out
}

// ResourceMatches reports whether a metadata resource value names target
func ResourceMatches(resource, target string) bool {
	return normalizeResource(resource) == normalizeResource(target)
}

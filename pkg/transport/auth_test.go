package transport

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"

	mcperrors "github.com/ajitpratap0/mcp-http-transport/pkg/errors"
)

// protectedServer serves an MCP endpoint at /mcp that requires "Bearer
// <token>", plus resource and authorization server metadata
func protectedServer(t *testing.T, token string, challenge func(base string) string) (string, *requestLog) {
	var base string
	srv, requests := newServer(t, func(w http.ResponseWriter, r *http.Request, rec recordedRequest) {
		switch r.URL.Path {
		case "/.well-known/oauth-protected-resource/mcp":
			writeJSON(w, http.StatusOK, fmt.Sprintf(
				`{"resource":%q,"authorization_servers":[%q],"scopes_supported":["read"]}`,
				base+"/mcp", base+"/auth"))
		case "/.well-known/oauth-authorization-server/auth":
			writeJSON(w, http.StatusOK, fmt.Sprintf(
				`{"issuer":%q,"authorization_endpoint":%q,"token_endpoint":%q}`,
				base+"/auth", base+"/auth/authorize", base+"/auth/token"))
		case "/mcp":
			if r.Method == http.MethodGet {
				w.WriteHeader(http.StatusMethodNotAllowed)
				return
			}
			if r.Header.Get("Authorization") != "Bearer "+token {
				w.Header().Set("WWW-Authenticate", challenge(base))
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
			writeJSON(w, http.StatusOK, `{"ok":true}`)
		default:
			http.NotFound(w, r)
		}
	})
	base = srv.URL
	return base, requests
}

func TestAuthDiscoveryFromResourceMetadata(t *testing.T) {
	base, requests := protectedServer(t, "tok-1", func(base string) string {
		return fmt.Sprintf(`Bearer resource_metadata="%s/.well-known/oauth-protected-resource/mcp", scope="read write"`, base)
	})

	proxy := newRecordingProxy()
	proxy.serverToken = bearer("tok-1")
	metrics, _ := newTestMetrics(t)
	h := newTestHandle(t, base+"/mcp", proxy, WithMetrics(metrics))

	h.Send(context.Background(), initialize)

	assert.Equal(t, []string{`{"ok":true}`}, proxy.Messages())
	assert.Empty(t, proxy.errorStates())

	posts := requests.filter(http.MethodPost, "/mcp")
	require.Len(t, posts, 2)
	assert.Empty(t, posts[0].Header.Get("Authorization"))
	assert.Equal(t, "Bearer tok-1", posts[1].Header.Get("Authorization"))
	assert.Equal(t, initialize, posts[1].Body)

	metadataRequests := requests.filter(http.MethodGet, "/.well-known/oauth-protected-resource/mcp")
	require.Len(t, metadataRequests, 1)
	assert.Equal(t, ProtocolRevision, metadataRequests[0].Header.Get(HeaderProtocolVersion))

	auth := proxy.ServerAuth()
	require.NotEmpty(t, auth)
	assert.Equal(t, base+"/auth", auth[0].AuthorizationServer)
	assert.Equal(t, []string{"read", "write"}, auth[0].Scopes, "challenge scopes win over scopes_supported")
	require.NotNil(t, auth[0].ServerMetadata)
	assert.Equal(t, base+"/auth/token", auth[0].ServerMetadata.TokenEndpoint)
	require.NotNil(t, auth[0].ResourceMetadata)
	assert.Equal(t, base+"/mcp", auth[0].ResourceMetadata.Resource)

	assert.Contains(t, scrape(t, metrics), `mcp_http_transport_auth_retries_total{reason="discovered",service="test"} 1`)
}

func TestAuthDiscoveryUsesSupportedScopes(t *testing.T) {
	base, _ := protectedServer(t, "tok-1", func(string) string { return "Bearer" })

	proxy := newRecordingProxy()
	proxy.serverToken = bearer("tok-1")
	h := newTestHandle(t, base+"/mcp", proxy)

	h.Send(context.Background(), initialize)

	auth := proxy.ServerAuth()
	require.NotEmpty(t, auth)
	assert.Equal(t, base+"/auth", auth[0].AuthorizationServer)
	assert.Equal(t, []string{"read"}, auth[0].Scopes)
	assert.Len(t, proxy.Messages(), 1)
}

func TestAuthScopeChallengeChangesScopes(t *testing.T) {
	var posts atomic.Int32
	srv, requests := newServer(t, func(w http.ResponseWriter, r *http.Request, rec recordedRequest) {
		switch {
		case r.URL.Path == "/.well-known/oauth-authorization-server":
			writeJSON(w, http.StatusOK, `{"issuer":"https://issuer.example.com"}`)
		case r.URL.Path == "/mcp" && r.Method == http.MethodPost:
			switch posts.Add(1) {
			case 1:
				w.Header().Set("WWW-Authenticate", `Bearer scope="a"`)
				w.WriteHeader(http.StatusUnauthorized)
			case 3:
				w.Header().Set("WWW-Authenticate", `Bearer error="insufficient_scope", scope="a b"`)
				w.WriteHeader(http.StatusForbidden)
			default:
				writeJSON(w, http.StatusOK, `{}`)
			}
		case r.URL.Path == "/mcp":
			w.WriteHeader(http.StatusMethodNotAllowed)
		default:
			http.NotFound(w, r)
		}
	})

	proxy := newRecordingProxy()
	proxy.serverToken = bearer("tok")
	metrics, _ := newTestMetrics(t)
	h := newTestHandle(t, srv.URL+"/mcp", proxy, WithMetrics(metrics))

	h.Send(context.Background(), initialize)
	h.Send(context.Background(), `{"jsonrpc":"2.0","id":2,"method":"tools/list"}`)

	assert.Len(t, requests.filter(http.MethodPost, "/mcp"), 4)
	assert.Len(t, proxy.Messages(), 2)
	assert.Empty(t, proxy.errorStates())

	auth := proxy.ServerAuth()
	require.NotEmpty(t, auth)
	assert.Equal(t, []string{"a"}, auth[0].Scopes)
	assert.Equal(t, []string{"a", "b"}, auth[len(auth)-1].Scopes)
	assert.Equal(t, srv.URL, auth[0].AuthorizationServer)
	assert.Equal(t, "https://issuer.example.com", auth[0].ServerMetadata.Issuer)

	assert.Contains(t, scrape(t, metrics), `mcp_http_transport_auth_retries_total{reason="scopes_changed",service="test"} 1`)
}

func TestAuthForcesNewRegistration(t *testing.T) {
	base, requests := protectedServer(t, "fresh", func(string) string { return "Bearer" })

	proxy := newRecordingProxy()
	proxy.serverToken = func(ac AuthContext, opts TokenOptions) (*oauth2.Token, error) {
		if opts.ForceNewRegistration {
			return &oauth2.Token{AccessToken: "fresh"}, nil
		}
		return &oauth2.Token{AccessToken: "stale"}, nil
	}
	h := newTestHandle(t, base+"/mcp", proxy)
	h.Send(context.Background(), initialize)

	posts := requests.filter(http.MethodPost, "/mcp")
	require.Len(t, posts, 3)
	assert.Empty(t, posts[0].Header.Get("Authorization"))
	assert.Equal(t, "Bearer stale", posts[1].Header.Get("Authorization"))
	assert.Equal(t, "Bearer fresh", posts[2].Header.Get("Authorization"))
	assert.Equal(t, []string{`{"ok":true}`}, proxy.Messages())

	opts := proxy.Options()
	require.NotEmpty(t, opts)
	assert.True(t, opts[len(opts)-1].ForceNewRegistration)
}

func TestAuthDefaultMetadata(t *testing.T) {
	srv, _ := newServer(t, func(w http.ResponseWriter, r *http.Request, rec recordedRequest) {
		switch {
		case r.URL.Path == "/mcp" && r.Method == http.MethodPost:
			if r.Header.Get("Authorization") == "" {
				w.Header().Set("WWW-Authenticate", "Bearer")
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
			writeJSON(w, http.StatusOK, `{}`)
		case r.URL.Path == "/mcp":
			w.WriteHeader(http.StatusMethodNotAllowed)
		default:
			http.NotFound(w, r)
		}
	})

	proxy := newRecordingProxy()
	proxy.serverToken = bearer("tok")
	h := newTestHandle(t, srv.URL+"/mcp", proxy)
	h.Send(context.Background(), initialize)

	auth := proxy.ServerAuth()
	require.NotEmpty(t, auth)
	assert.Equal(t, srv.URL, auth[0].AuthorizationServer)
	assert.Nil(t, auth[0].ResourceMetadata)
	assert.Nil(t, auth[0].Scopes)
	require.NotNil(t, auth[0].ServerMetadata)
	assert.Equal(t, srv.URL+"/token", auth[0].ServerMetadata.TokenEndpoint)
	assert.Equal(t, srv.URL+"/authorize", auth[0].ServerMetadata.AuthorizationEndpoint)
	assert.Equal(t, srv.URL+"/register", auth[0].ServerMetadata.RegistrationEndpoint)
}

func TestAuthWithoutTokenReturnsChallenge(t *testing.T) {
	base, requests := protectedServer(t, "tok", func(string) string { return "Bearer" })

	proxy := newRecordingProxy()
	h := newTestHandle(t, base+"/mcp", proxy)
	h.Send(context.Background(), initialize)

	assert.Len(t, requests.filter(http.MethodPost, "/mcp"), 1, "no token means no retry")
	errs := proxy.errorStates()
	require.Len(t, errs, 1)
	assert.Contains(t, errs[0].Message, "401 status sending message to")
	assert.Equal(t, modeUnknown, h.currentMode().kind, "auth failures do not trigger the legacy fallback")
}

func TestAuthNeedsUserInteraction(t *testing.T) {
	base, requests := protectedServer(t, "tok", func(string) string { return "Bearer" })

	proxy := newRecordingProxy()
	proxy.serverToken = func(ac AuthContext, opts TokenOptions) (*oauth2.Token, error) {
		assert.True(t, opts.ErrorOnUserInteraction)
		return nil, mcperrors.UserInteractionRequired("", ac.Scopes)
	}
	h := newTestHandle(t, base+"/mcp", proxy, WithErrorOnUserInteraction(true))
	h.Send(context.Background(), initialize)

	assert.Len(t, requests.filter(http.MethodPost, "/mcp"), 1)
	assert.Empty(t, proxy.errorStates())
	states := proxy.States()
	require.Len(t, states, 2)
	assert.Equal(t, State{Kind: StateStopped, Reason: ReasonNeedsUserInteraction}, states[1])
}

func TestAuthProviderBindingWins(t *testing.T) {
	base, requests := protectedServer(t, "provided", func(string) string { return "Bearer" })

	var (
		mu       sync.Mutex
		provider string
		scopes   []string
	)
	proxy := newRecordingProxy()
	proxy.serverToken = bearer("discovered")
	proxy.providerToken = func(providerID string, s []string, opts TokenOptions) (*oauth2.Token, error) {
		mu.Lock()
		provider, scopes = providerID, s
		mu.Unlock()
		return &oauth2.Token{AccessToken: "provided", TokenType: "bearer"}, nil
	}

	h, err := NewHandle("bound", LaunchConfig{
		URI:  base + "/mcp",
		Auth: &AuthBinding{ProviderID: "github", Scopes: []string{"repo"}},
	}, proxy)
	require.NoError(t, err)
	disposeOnCleanup(t, h)

	h.Send(context.Background(), initialize)

	posts := requests.filter(http.MethodPost, "/mcp")
	require.Len(t, posts, 1)
	assert.Equal(t, "Bearer provided", posts[0].Header.Get("Authorization"))
	assert.Empty(t, proxy.ServerAuth(), "no challenge, no discovery")

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, "github", provider)
	assert.Equal(t, []string{"repo"}, scopes)
}

func TestAuthProviderErrorIsLogged(t *testing.T) {
	srv, requests := newServer(t, func(w http.ResponseWriter, r *http.Request, rec recordedRequest) {
		if r.Method == http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		writeJSON(w, http.StatusOK, `{}`)
	})

	proxy := newRecordingProxy()
	proxy.providerToken = func(string, []string, TokenOptions) (*oauth2.Token, error) {
		return nil, fmt.Errorf("provider offline")
	}
	h, err := NewHandle("bound", LaunchConfig{
		URI:  srv.URL,
		Auth: &AuthBinding{ProviderID: "corp"},
	}, proxy)
	require.NoError(t, err)
	disposeOnCleanup(t, h)

	h.Send(context.Background(), initialize)

	posts := requests.filter(http.MethodPost, "")
	require.Len(t, posts, 1)
	assert.Empty(t, posts[0].Header.Get("Authorization"))
	assert.True(t, proxy.hasLog("Error getting token from provided authentication config"), "logs: %v", proxy.Logs())
}

func TestSetAuthorization(t *testing.T) {
	h := newTestHandle(t, "http://mcp.test/mcp", newRecordingProxy())

	tests := []struct {
		name  string
		token *oauth2.Token
		want  string
		set   bool
	}{
		{"nil token", nil, "", false},
		{"empty access token", &oauth2.Token{TokenType: "Bearer"}, "", false},
		{"default type", &oauth2.Token{AccessToken: "t1"}, "Bearer t1", true},
		{"lowercase bearer", &oauth2.Token{AccessToken: "t2", TokenType: "bearer"}, "Bearer t2", true},
		{"other type", &oauth2.Token{AccessToken: "t3", TokenType: "DPoP"}, "DPoP t3", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			header := http.Header{"X-Api-Key": []string{"k"}}
			assert.Equal(t, tt.set, h.setAuthorization(context.Background(), header, tt.token))
			assert.Equal(t, tt.want, header.Get("Authorization"))
			assert.Equal(t, "k", header.Get("X-Api-Key"))
		})
	}
}

func TestChallengeScopes(t *testing.T) {
	header := http.Header{}
	assert.Nil(t, challengeScopes(header))

	header.Set("WWW-Authenticate", `Bearer scope=""`)
	assert.Nil(t, challengeScopes(header))

	header.Set("WWW-Authenticate", `Bearer realm="x", scope="a b"`)
	assert.Equal(t, []string{"a", "b"}, challengeScopes(header))

	assert.Equal(t, "undefined", formatScopes(nil))
	assert.Equal(t, "[a b]", formatScopes([]string{"a", "b"}))
}

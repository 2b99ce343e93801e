package transport

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"slices"
	"strings"

	"golang.org/x/oauth2"

	mcperrors "github.com/ajitpratap0/mcp-http-transport/pkg/errors"
	"github.com/ajitpratap0/mcp-http-transport/pkg/logging"
	"github.com/ajitpratap0/mcp-http-transport/pkg/oauth"
)

// authContext returns a copy of the cached auth context, or nil
func (h *Handle) authContext() *AuthContext {
	h.authMu.Lock()
	defer h.authMu.Unlock()
	if h.auth == nil {
		return nil
	}
	ac := *h.auth
	ac.Scopes = slices.Clone(h.auth.Scopes)
	return &ac
}

func (h *Handle) setAuthContext(ac *AuthContext) {
	h.authMu.Lock()
	h.auth = ac
	h.authMu.Unlock()
}

func (h *Handle) setScopes(scopes []string) {
	h.authMu.Lock()
	if h.auth != nil {
		h.auth.Scopes = scopes
	}
	h.authMu.Unlock()
}

// addAuthHeader sets Authorization on header from the owner's token
// providers. The provider bound in the launch config wins over the token
// for the discovered server. A provider that needs user interaction stops
// the handle and the returned error is a cancellation.
func (h *Handle) addAuthHeader(ctx context.Context, header http.Header, forceNewRegistration bool) error {
	opts := TokenOptions{
		ErrorOnUserInteraction: h.config.ErrorOnUserInteraction,
		ForceNewRegistration:   forceNewRegistration,
	}
	logger := h.logger.WithContext(ctx)

	if ac := h.authContext(); ac != nil {
		token, err := h.proxy.TokenFromServerMetadata(ctx, h.id, *ac, opts)
		switch {
		case mcperrors.IsUserInteractionRequired(err):
			return h.needsUserInteraction()
		case err != nil:
			logger.WithError(err).Warn("Error getting token from server metadata")
		default:
			h.setAuthorization(ctx, header, token)
		}
	}

	if binding := h.launch.Auth; binding != nil {
		logger.Debug("Using provided authentication config",
			logging.String("provider_id", binding.ProviderID),
			logging.String("scopes", strings.Join(binding.Scopes, ", ")))

		token, err := h.proxy.TokenForProvider(ctx, h.id, binding.ProviderID, binding.Scopes, opts)
		switch {
		case mcperrors.IsUserInteractionRequired(err):
			return h.needsUserInteraction()
		case err != nil:
			logger.WithError(err).Warn("Error getting token from provided authentication config")
		default:
			if h.setAuthorization(ctx, header, token) {
				logger.Info("Successfully obtained token from provided authentication config")
			}
		}
	}
	return nil
}

func (h *Handle) needsUserInteraction() error {
	h.changeState(State{Kind: StateStopped, Reason: ReasonNeedsUserInteraction})
	return mcperrors.Cancelled("authenticate")
}

// setAuthorization writes token to header. It reports false for an empty
// token, leaving header untouched.
func (h *Handle) setAuthorization(ctx context.Context, header http.Header, token *oauth2.Token) bool {
	if token == nil || token.AccessToken == "" {
		return false
	}
	if subject := oauth.FillExpiry(token); subject != "" && h.logger.Enabled(logging.DebugLevel) {
		h.logger.WithContext(ctx).Debug("Attaching bearer token",
			logging.String("subject", subject),
			logging.Any("expiry", token.Expiry))
	}
	// SetAuthHeader only touches the request's header map
	token.SetAuthHeader(&http.Request{Header: header})
	return true
}

// fetchWithAuthRetry performs r and reacts to a 401 or 403. Without an auth
// context one is discovered and the request retried with a token; with one,
// a changed scope challenge updates the scopes and retries. If the request
// still fails with a token attached, a fresh client registration is forced
// for one last attempt.
func (h *Handle) fetchWithAuthRetry(ctx context.Context, r *request) (*http.Response, error) {
	resp, err := h.fetch(ctx, r)
	if err != nil {
		return nil, err
	}

	if isAuthStatus(resp.StatusCode) {
		if ac := h.authContext(); ac == nil {
			h.populateAuthMetadata(r.url, resp)
			if err := h.addAuthHeader(ctx, r.header, false); err != nil {
				discard(resp)
				return nil, err
			}
			if r.header.Get("Authorization") != "" {
				if resp, err = h.retry(ctx, r, resp, "discovered"); err != nil {
					return nil, err
				}
			}
		} else if scopes := challengeScopes(resp.Header); !oauth.ScopesMatch(scopes, ac.Scopes) {
			h.logger.WithContext(ctx).Debug(fmt.Sprintf("Scopes changed from %s to %s, updating and retrying",
				formatScopes(ac.Scopes), formatScopes(scopes)))
			h.setScopes(scopes)
			if err := h.addAuthHeader(ctx, r.header, false); err != nil {
				discard(resp)
				return nil, err
			}
			if r.header.Get("Authorization") != "" {
				if resp, err = h.retry(ctx, r, resp, "scopes_changed"); err != nil {
					return nil, err
				}
			}
		}
	}

	if r.header.Get("Authorization") != "" && isAuthStatus(resp.StatusCode) {
		if err := h.addAuthHeader(ctx, r.header, true); err != nil {
			discard(resp)
			return nil, err
		}
		return h.retry(ctx, r, resp, "new_registration")
	}
	return resp, nil
}

func (h *Handle) retry(ctx context.Context, r *request, previous *http.Response, reason string) (*http.Response, error) {
	discard(previous)
	h.config.Metrics.RecordAuthRetry(reason)
	return h.fetch(ctx, r)
}

// challengeScopes returns the scopes of the Bearer challenge in h, nil when
// the challenge names none
func challengeScopes(h http.Header) []string {
	hint, _ := oauth.ParseBearerChallenge(h)
	if len(hint.Scopes) == 0 {
		return nil
	}
	return hint.Scopes
}

func formatScopes(scopes []string) string {
	if scopes == nil {
		return "undefined"
	}
	return "[" + strings.Join(scopes, " ") + "]"
}

// populateAuthMetadata discovers where tokens for mcpURL come from, using
// the challenge in resp. Concurrent discoveries for the same URL share one
// run. Discovery never fails: without a usable authorization server document
// the conventional endpoints on the server's origin are assumed.
func (h *Handle) populateAuthMetadata(mcpURL string, resp *http.Response) {
	responseURL := mcpURL
	if resp.Request != nil && resp.Request.URL != nil {
		responseURL = resp.Request.URL.String()
	}
	hint, _ := oauth.ParseBearerChallenge(resp.Header)

	_, _, _ = h.discovery.Do(mcpURL, func() (interface{}, error) {
		if h.authContext() != nil {
			return nil, nil
		}
		h.setAuthContext(h.discoverAuth(h.ctx, mcpURL, responseURL, hint))
		return nil, nil
	})
}

func (h *Handle) discoverAuth(ctx context.Context, mcpURL, responseURL string, hint oauth.BearerHint) *AuthContext {
	logger := h.logger.WithContext(ctx).WithFields(logging.String("component", "auth"))
	doer := fetchDoer{h}

	scopes := hint.Scopes
	if len(scopes) == 0 {
		scopes = nil
	} else {
		logger.Debug("Found scope challenge in WWW-Authenticate header", logging.String("scope", strings.Join(scopes, " ")))
	}
	if hint.ResourceMetadata != "" {
		logger.Debug("Found resource_metadata challenge in WWW-Authenticate header", logging.String("url", hint.ResourceMetadata))
	}

	sameOriginHeaders := h.launchHeader()
	sameOriginHeaders.Set(HeaderProtocolVersion, ProtocolRevision)

	var (
		serverURL string
		resource  *oauth.ProtectedResourceMetadata
	)
	metadata, err := oauth.FetchResourceMetadata(ctx, doer, mcpURL, hint.ResourceMetadata, sameOriginHeaders)
	if err != nil {
		logger.Debug("Could not fetch resource metadata", logging.ErrorField(err))
	} else {
		if len(metadata.AuthorizationServers) > 0 {
			serverURL = metadata.AuthorizationServers[0]
		}
		logger.Debug("Using auth server metadata url", logging.String("url", serverURL))
		if scopes == nil {
			scopes = metadata.ScopesSupported
		}
		resource = metadata
	}

	base, err := url.Parse(responseURL)
	if err != nil {
		base = h.launchURL
	}
	baseURL := oauth.Origin(base)

	var additionalHeaders http.Header
	if serverURL == "" {
		serverURL = baseURL
		additionalHeaders = sameOriginHeaders
	}

	logger.Debug("Fetching auth server metadata", logging.String("url", serverURL))
	serverMetadata, err := oauth.FetchAuthorizationServerMetadata(ctx, doer, serverURL, additionalHeaders)
	if err == nil {
		logger.Info("Populated auth metadata")
		return &AuthContext{
			AuthorizationServer: serverURL,
			ServerMetadata:      serverMetadata,
			ResourceMetadata:    resource,
			Scopes:              scopes,
		}
	}
	logger.WithError(err).Warn(fmt.Sprintf("Error populating auth server metadata for %s", serverURL))

	logger.Info("Using default auth metadata")
	return &AuthContext{
		AuthorizationServer: baseURL,
		ServerMetadata:      oauth.DefaultMetadataForURL(base),
		ResourceMetadata:    resource,
		Scopes:              scopes,
	}
}

// fetchDoer routes discovery requests through the handle's fetcher so they
// follow redirects and are traced like every other request
type fetchDoer struct {
	h *Handle
}

func (d fetchDoer) Do(req *http.Request) (*http.Response, error) {
	header := req.Header
	if header == nil {
		header = http.Header{}
	}
	return d.h.fetch(req.Context(), &request{
		method: req.Method,
		url:    req.URL.String(),
		header: header,
	})
}

package oauth

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/hashicorp/go-multierror"

	mcperrors "github.com/ajitpratap0/mcp-http-transport/pkg/errors"
)

const (
	protectedResourceWellKnown   = "/.well-known/oauth-protected-resource"
	authorizationServerWellKnown = "/.well-known/oauth-authorization-server"
	openIDConfigurationWellKnown = "/.well-known/openid-configuration"

	maxMetadataSize = 1 << 20
)

// Doer sends an HTTP request. *http.Client satisfies it.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// FetchResourceMetadata retrieves the protected resource metadata for
// targetResource. When resourceMetadataURL is set, typically from a Bearer
// challenge, only that document is tried; otherwise the path-scoped and then
// the root well-known locations on the target's origin are tried in turn.
//
// sameOriginHeaders are added only to requests that stay on the target's
// origin. The document's resource must name targetResource.
func FetchResourceMetadata(ctx context.Context, doer Doer, targetResource, resourceMetadataURL string, sameOriginHeaders http.Header) (*ProtectedResourceMetadata, error) {
	target, err := url.Parse(targetResource)
	if err != nil {
		return nil, mcperrors.InvalidLaunchURI(targetResource, err)
	}

	var candidates []string
	if resourceMetadataURL != "" {
		candidates = []string{resourceMetadataURL}
	} else {
		origin := Origin(target)
		if path := target.EscapedPath(); path != "" && path != "/" {
			candidates = append(candidates, origin+protectedResourceWellKnown+path)
		}
		candidates = append(candidates, origin+protectedResourceWellKnown)
	}

	var errs *multierror.Error
	for _, candidate := range candidates {
		metadata, err := fetchResourceMetadataFrom(ctx, doer, target, targetResource, candidate, sameOriginHeaders)
		if err == nil {
			return metadata, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		errs = multierror.Append(errs, err)
	}
	return nil, aggregate(errs, "Failed to fetch resource metadata from all attempted URLs")
}

func fetchResourceMetadataFrom(ctx context.Context, doer Doer, target *url.URL, targetResource, metadataURL string, sameOriginHeaders http.Header) (*ProtectedResourceMetadata, error) {
	header := http.Header{}
	if u, err := url.Parse(metadataURL); err == nil && sameOrigin(u, target) {
		for k, v := range sameOriginHeaders {
			header[k] = append([]string(nil), v...)
		}
	}

	body, err := getMetadata(ctx, doer, resourceMetadataDocument, metadataURL, header)
	if err != nil {
		return nil, err
	}

	metadata, err := ParseProtectedResourceMetadata(body)
	if err != nil {
		if _, ok := mcperrors.AsMCPError(err); ok {
			return nil, err
		}
		return nil, mcperrors.MetadataRequestFailed(resourceMetadataDocument, metadataURL, err)
	}

	if !ResourceMatches(metadata.Resource, targetResource) {
		return nil, mcperrors.ResourceMismatch(metadata.Resource, targetResource)
	}
	return metadata, nil
}

// FetchAuthorizationServerMetadata retrieves the metadata of an
// authorization server, trying in order the OAuth well-known location with
// the issuer path inserted, the OpenID Connect location with the path
// inserted, and the OpenID Connect location appended to the issuer.
// additionalHeaders are sent with every attempt.
func FetchAuthorizationServerMetadata(ctx context.Context, doer Doer, authorizationServer string, additionalHeaders http.Header) (*AuthorizationServerMetadata, error) {
	server, err := url.Parse(authorizationServer)
	if err != nil {
		return nil, mcperrors.MetadataRequestFailed(serverMetadataDocument, authorizationServer, err)
	}

	origin := Origin(server)
	path := strings.TrimSuffix(server.EscapedPath(), "/")
	candidates := []string{
		origin + authorizationServerWellKnown + path,
		origin + openIDConfigurationWellKnown + path,
		origin + path + openIDConfigurationWellKnown,
	}

	var errs *multierror.Error
	for _, candidate := range candidates {
		body, err := getMetadata(ctx, doer, serverMetadataDocument, candidate, additionalHeaders)
		if err == nil {
			var metadata *AuthorizationServerMetadata
			if metadata, err = ParseAuthorizationServerMetadata(body); err == nil {
				return metadata, nil
			}
			err = mcperrors.MetadataRequestFailed(serverMetadataDocument, candidate, err)
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		errs = multierror.Append(errs, err)
	}
	return nil, aggregate(errs, "Failed to fetch authorization server metadata from all attempted URLs")
}

// getMetadata GETs a JSON discovery document and returns its body when the
// server answers 200
func getMetadata(ctx context.Context, doer Doer, document, metadataURL string, header http.Header) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, metadataURL, nil)
	if err != nil {
		return nil, mcperrors.MetadataRequestFailed(document, metadataURL, err)
	}
	for k, v := range header {
		req.Header[http.CanonicalHeaderKey(k)] = append([]string(nil), v...)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := doer.Do(req)
	if err != nil {
		return nil, mcperrors.MetadataRequestFailed(document, metadataURL, err)
	}
	defer resp.Body.Close()

	body, readErr := io.ReadAll(io.LimitReader(resp.Body, maxMetadataSize))
	if resp.StatusCode != http.StatusOK {
		detail := strings.TrimSpace(string(body))
		if readErr != nil || detail == "" {
			detail = http.StatusText(resp.StatusCode)
		}
		return nil, mcperrors.MetadataFetchFailed(document, metadataURL, resp.StatusCode, detail)
	}
	if readErr != nil {
		return nil, mcperrors.MetadataRequestFailed(document, metadataURL, readErr)
	}
	return body, nil
}

// aggregate returns the only error unwrapped, or all of them under summary
func aggregate(errs *multierror.Error, summary string) error {
	if errs == nil || len(errs.Errors) == 0 {
		return nil
	}
	if len(errs.Errors) == 1 {
		return errs.Errors[0]
	}
	errs.ErrorFormat = func(list []error) string {
		var b strings.Builder
		b.WriteString(summary)
		for _, err := range list {
			fmt.Fprintf(&b, "\n\t* %s", err)
		}
		return b.String()
	}
	return errs
}

func sameOrigin(a, b *url.URL) bool {
	return strings.EqualFold(a.Scheme, b.Scheme) &&
		strings.EqualFold(a.Hostname(), b.Hostname()) &&
		effectivePort(a) == effectivePort(b)
}

func effectivePort(u *url.URL) string {
	if port := u.Port(); port != "" {
		return port
	}
	switch strings.ToLower(u.Scheme) {
	case "https":
		return "443"
	case "http":
		return "80"
	}
	return ""
}

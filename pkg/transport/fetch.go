package transport

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/elnormous/contenttype"

	mcperrors "github.com/ajitpratap0/mcp-http-transport/pkg/errors"
	"github.com/ajitpratap0/mcp-http-transport/pkg/logging"
)

// maxErrorBody bounds how much of an error response is read for messages
const maxErrorBody = 64 << 10

var (
	jsonMediaType        = contenttype.NewMediaType("application/json")
	eventStreamMediaType = contenttype.NewMediaType("text/event-stream")
)

// request is one logical HTTP request. header is shared with the auth retry
// logic, which rewrites Authorization between attempts.
type request struct {
	method string
	url    string
	header http.Header
	body   []byte
}

func isRedirect(status int) bool {
	switch status {
	case http.StatusMovedPermanently, http.StatusFound, http.StatusSeeOther,
		http.StatusTemporaryRedirect, http.StatusPermanentRedirect:
		return true
	}
	return false
}

func isAuthStatus(status int) bool {
	return status == http.StatusUnauthorized || status == http.StatusForbidden
}

// fetch performs r, following up to MaxRedirects redirects. A redirect
// beyond the limit is returned as the response. 303, and 301/302 answering
// a POST, continue as a GET without a body; 307 and 308 resend as is.
func (h *Handle) fetch(ctx context.Context, r *request) (*http.Response, error) {
	method, target, body := r.method, r.url, r.body

	for hop := 0; ; hop++ {
		resp, err := h.do(ctx, method, target, r.header, body, hop)
		if err != nil {
			return nil, err
		}
		if !isRedirect(resp.StatusCode) {
			return resp, nil
		}
		if hop >= h.config.MaxRedirects {
			h.logger.WithContext(ctx).WithError(mcperrors.RedirectLimitExceeded(r.url, hop)).Debug("Redirect limit reached")
			return resp, nil
		}

		location := resp.Header.Get("Location")
		if location == "" {
			return resp, nil
		}
		next, err := resolveLocation(target, location)
		if err != nil {
			h.logger.WithContext(ctx).Debug("Ignoring unparsable redirect", logging.String("location", location), logging.ErrorField(err))
			return resp, nil
		}
		discard(resp)
		h.config.Metrics.RecordRedirect()

		if resp.StatusCode == http.StatusSeeOther ||
			(method == http.MethodPost && (resp.StatusCode == http.StatusMovedPermanently || resp.StatusCode == http.StatusFound)) {
			method, body = http.MethodGet, nil
		}
		target = next.String()
	}
}

// resolveLocation resolves a redirect target against the URL that was
// requested. Custom RoundTrippers need not set Response.Request.
func resolveLocation(target, location string) (*url.URL, error) {
	base, err := url.Parse(target)
	if err != nil {
		return nil, err
	}
	return base.Parse(location)
}

// do sends a single exchange without following redirects
func (h *Handle) do(ctx context.Context, method, target string, header http.Header, body []byte, hop int) (*http.Response, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return nil, err
	}
	req.Header = header.Clone()
	if body == nil {
		req.Header.Del("Content-Type")
	}
	req.Header.Set("User-Agent", h.config.UserAgent)

	spanCtx, span := h.config.Tracer.StartFetch(req, hop)
	req = req.WithContext(spanCtx)

	start := h.clock.Now()
	resp, err := h.client.Do(req)
	status := 0
	if resp != nil {
		status = resp.StatusCode
	}
	h.config.Metrics.RecordRequest(method, status, h.clock.Since(start))
	h.config.Tracer.EndFetch(span, status, err)
	if err != nil && !mcperrors.IsCancelled(err) {
		return nil, mcperrors.ConnectionFailed(method, target, err)
	}
	return resp, err
}

// errorText reads the body of a failed response for inclusion in messages
func errorText(resp *http.Response) string {
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	if err != nil {
		return resp.Status
	}
	return string(data)
}

// discard drains and closes a response that will not be used
func discard(resp *http.Response) {
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxErrorBody))
	resp.Body.Close()
}

type contentKind int

const (
	contentOther contentKind = iota
	contentJSON
	contentEventStream
)

// classify maps a Content-Type header to how the body should be read
func classify(header string) contentKind {
	if header == "" {
		return contentOther
	}
	mt := contenttype.NewMediaType(strings.ToLower(header))
	switch {
	case mt.Type == eventStreamMediaType.Type && mt.Subtype == eventStreamMediaType.Subtype:
		return contentEventStream
	case mt.Type == jsonMediaType.Type && mt.Subtype == jsonMediaType.Subtype:
		return contentJSON
	default:
		return contentOther
	}
}

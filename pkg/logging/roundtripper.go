package logging

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"
)

// Redacted replaces credential header values in logs
const Redacted = "***"

var sensitiveHeaders = map[string]bool{
	"Authorization":       true,
	"Proxy-Authorization": true,
	"Cookie":              true,
}

// RedactHeaders flattens h into a map suitable for logging, masking
// credentials.
func RedactHeaders(h http.Header) map[string]string {
	out := make(map[string]string, len(h))
	for k, v := range h {
		key := http.CanonicalHeaderKey(k)
		if sensitiveHeaders[key] {
			out[key] = Redacted
			continue
		}
		out[key] = strings.Join(v, ", ")
	}
	return out
}

func headerJSON(h http.Header) string {
	redacted := RedactHeaders(h)
	keys := make([]string, 0, len(redacted))
	for k := range redacted {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, k := range keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		kb, _ := json.Marshal(k)
		vb, _ := json.Marshal(redacted[k])
		buf.Write(kb)
		buf.WriteByte(':')
		buf.Write(vb)
	}
	buf.WriteByte('}')
	return buf.String()
}

// TraceRoundTripper logs every request and response at trace level. It does
// nothing beyond delegating when trace logging is disabled.
type TraceRoundTripper struct {
	next   http.RoundTripper
	logger Logger
}

// NewTraceRoundTripper wraps next with wire tracing
func NewTraceRoundTripper(next http.RoundTripper, logger Logger) *TraceRoundTripper {
	if next == nil {
		next = http.DefaultTransport
	}
	return &TraceRoundTripper{next: next, logger: logger}
}

// RoundTrip implements http.RoundTripper
func (t *TraceRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	if !t.logger.Enabled(TraceLevel) {
		return t.next.RoundTrip(req)
	}

	logger := t.logger.WithContext(req.Context())
	fields := []Field{
		String("method", req.Method),
		String("headers", headerJSON(req.Header)),
	}
	if req.GetBody != nil && req.ContentLength != 0 {
		if body, err := req.GetBody(); err == nil {
			data, _ := io.ReadAll(io.LimitReader(body, 64<<10))
			body.Close()
			fields = append(fields, String("body", string(data)))
		}
	}
	logger.Trace("Fetching "+req.URL.String(), fields...)

	start := time.Now()
	resp, err := t.next.RoundTrip(req)
	if err != nil {
		logger.Trace("Fetch failed "+req.URL.String(), ErrorField(err), Duration("duration", time.Since(start)))
		return nil, err
	}

	logger.Trace("Fetched "+req.URL.String(),
		Int("status", resp.StatusCode),
		String("headers", headerJSON(resp.Header)),
		Duration("duration", time.Since(start)),
	)
	return resp, nil
}

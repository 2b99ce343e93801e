package transport

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"

	"github.com/ajitpratap0/mcp-http-transport/pkg/logging"
	"github.com/ajitpratap0/mcp-http-transport/pkg/observability"
)

const waitTimeout = 2 * time.Second

// recordingProxy records every callback a Handle makes to its owner
type recordingProxy struct {
	mu       sync.Mutex
	messages []string
	states   []State
	logs     []string

	serverAuth   []AuthContext
	tokenOptions []TokenOptions

	serverToken   func(ac AuthContext, opts TokenOptions) (*oauth2.Token, error)
	providerToken func(providerID string, scopes []string, opts TokenOptions) (*oauth2.Token, error)

	messageCh chan string
}

func newRecordingProxy() *recordingProxy {
	return &recordingProxy{messageCh: make(chan string, 64)}
}

func (p *recordingProxy) ReceiveMessage(id, message string) {
	p.mu.Lock()
	p.messages = append(p.messages, message)
	p.mu.Unlock()
	select {
	case p.messageCh <- message:
	default:
	}
}

func (p *recordingProxy) ChangeState(id string, state State) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.states = append(p.states, state)
}

func (p *recordingProxy) PublishLog(id string, level logging.Level, message string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.logs = append(p.logs, level.String()+" "+message)
}

func (p *recordingProxy) TokenFromServerMetadata(ctx context.Context, id string, ac AuthContext, opts TokenOptions) (*oauth2.Token, error) {
	p.mu.Lock()
	p.serverAuth = append(p.serverAuth, ac)
	p.tokenOptions = append(p.tokenOptions, opts)
	fn := p.serverToken
	p.mu.Unlock()
	if fn == nil {
		return nil, nil
	}
	return fn(ac, opts)
}

func (p *recordingProxy) TokenForProvider(ctx context.Context, id, providerID string, scopes []string, opts TokenOptions) (*oauth2.Token, error) {
	p.mu.Lock()
	p.tokenOptions = append(p.tokenOptions, opts)
	fn := p.providerToken
	p.mu.Unlock()
	if fn == nil {
		return nil, nil
	}
	return fn(providerID, scopes, opts)
}

func (p *recordingProxy) Messages() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.messages...)
}

func (p *recordingProxy) States() []State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]State(nil), p.states...)
}

func (p *recordingProxy) Logs() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.logs...)
}

func (p *recordingProxy) ServerAuth() []AuthContext {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]AuthContext(nil), p.serverAuth...)
}

func (p *recordingProxy) Options() []TokenOptions {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]TokenOptions(nil), p.tokenOptions...)
}

// errorStates returns the Error states reported so far
func (p *recordingProxy) errorStates() []State {
	var out []State
	for _, s := range p.States() {
		if s.Kind == StateError {
			out = append(out, s)
		}
	}
	return out
}

func (p *recordingProxy) waitMessage(t *testing.T) string {
	t.Helper()
	select {
	case m := <-p.messageCh:
		return m
	case <-time.After(waitTimeout):
		t.Fatal("timed out waiting for a message")
		return ""
	}
}

func (p *recordingProxy) hasLog(substr string) bool {
	for _, l := range p.Logs() {
		if strings.Contains(l, substr) {
			return true
		}
	}
	return false
}

// recordedRequest is what a test server saw
type recordedRequest struct {
	Method string
	Path   string
	Query  string
	Header http.Header
	Body   string
}

// requestLog collects requests seen by a test server
type requestLog struct {
	mu       sync.Mutex
	requests []recordedRequest
	notify   chan recordedRequest
}

func newRequestLog() *requestLog {
	return &requestLog{notify: make(chan recordedRequest, 64)}
}

func (l *requestLog) record(r *http.Request) recordedRequest {
	body, _ := io.ReadAll(r.Body)
	rec := recordedRequest{
		Method: r.Method,
		Path:   r.URL.Path,
		Query:  r.URL.RawQuery,
		Header: r.Header.Clone(),
		Body:   string(body),
	}
	l.mu.Lock()
	l.requests = append(l.requests, rec)
	l.mu.Unlock()
	select {
	case l.notify <- rec:
	default:
	}
	return rec
}

func (l *requestLog) all() []recordedRequest {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]recordedRequest(nil), l.requests...)
}

func (l *requestLog) filter(method, path string) []recordedRequest {
	var out []recordedRequest
	for _, r := range l.all() {
		if r.Method == method && (path == "" || r.Path == path) {
			out = append(out, r)
		}
	}
	return out
}

// waitFor blocks until a request with method arrives
func (l *requestLog) waitFor(t *testing.T, method string) recordedRequest {
	t.Helper()
	deadline := time.After(waitTimeout)
	for {
		select {
		case r := <-l.notify:
			if r.Method == method {
				return r
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %s request", method)
			return recordedRequest{}
		}
	}
}

// newServer starts a test server whose handler records every request first
func newServer(t *testing.T, handler func(w http.ResponseWriter, r *http.Request, rec recordedRequest)) (*httptest.Server, *requestLog) {
	t.Helper()
	log := newRequestLog()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := log.record(r)
		handler(w, r, rec)
	}))
	t.Cleanup(srv.Close)
	return srv, log
}

// newTestHandle creates a handle that is disposed when the test ends. The
// cleanup runs before the server's, so streaming handlers see the client go.
func newTestHandle(t *testing.T, uri string, proxy Proxy, opts ...Option) *Handle {
	t.Helper()
	opts = append([]Option{WithLogLevel(logging.TraceLevel)}, opts...)
	h, err := NewHandle("test", LaunchConfig{URI: uri}, proxy, opts...)
	require.NoError(t, err)
	disposeOnCleanup(t, h)
	return h
}

// disposeOnCleanup disposes h when the test ends and waits for its
// goroutines
func disposeOnCleanup(t *testing.T, h *Handle) {
	t.Cleanup(func() {
		h.Dispose()
		h.Wait()
	})
}

func newTestMetrics(t *testing.T) (*observability.TransportMetrics, *prometheus.Registry) {
	t.Helper()
	reg := prometheus.NewRegistry()
	m, err := observability.NewTransportMetrics(observability.MetricsConfig{
		ServiceName: "test",
		Registerer:  reg,
		Gatherer:    reg,
	})
	require.NoError(t, err)
	return m, reg
}

// scrape returns the metrics text exposition
func scrape(t *testing.T, m *observability.TransportMetrics) string {
	t.Helper()
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	return rec.Body.String()
}

// writeSSE writes events to a streaming response and flushes
func writeSSE(w http.ResponseWriter, events ...string) {
	for _, e := range events {
		_, _ = io.WriteString(w, e)
		if !strings.HasSuffix(e, "\n\n") {
			_, _ = io.WriteString(w, "\n\n")
		}
	}
	if f, ok := w.(http.Flusher); ok {
		f.Flush()
	}
}

func startSSE(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)
	if f, ok := w.(http.Flusher); ok {
		f.Flush()
	}
}

func writeJSON(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = io.WriteString(w, body)
}

func bearer(token string) func(AuthContext, TokenOptions) (*oauth2.Token, error) {
	return func(AuthContext, TokenOptions) (*oauth2.Token, error) {
		return &oauth2.Token{AccessToken: token, TokenType: "Bearer"}, nil
	}
}

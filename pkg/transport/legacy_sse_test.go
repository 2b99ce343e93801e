package transport

import (
	"context"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/mcp-http-transport/pkg/utils"
)

const reply = `{"jsonrpc":"2.0","id":1,"result":{}}`

// legacyServer behaves like an SSE-only MCP server: POSTs to /mcp are
// refused, GET /mcp opens the event stream and POSTs to /msg are answered on
// that stream
func legacyServer(t *testing.T, endpoint string) (string, *requestLog) {
	push := make(chan string, 8)
	srv, requests := newServer(t, func(w http.ResponseWriter, r *http.Request, rec recordedRequest) {
		switch {
		case r.URL.Path == "/mcp" && r.Method == http.MethodPost:
			w.WriteHeader(http.StatusMethodNotAllowed)
		case r.URL.Path == "/mcp" && r.Method == http.MethodGet:
			startSSE(w)
			writeSSE(w, ": connected", "event: endpoint\ndata: "+endpoint)
			for {
				select {
				case msg := <-push:
					writeSSE(w, "data: "+msg)
				case <-r.Context().Done():
					return
				}
			}
		case r.URL.Path == "/msg" && r.Method == http.MethodPost:
			w.WriteHeader(http.StatusAccepted)
			push <- reply
		default:
			http.NotFound(w, r)
		}
	})
	return srv.URL, requests
}

func TestLegacySSEFallback(t *testing.T) {
	base, requests := legacyServer(t, "/msg?sid=42")

	proxy := newRecordingProxy()
	metrics, _ := newTestMetrics(t)
	h, err := NewHandle("legacy", LaunchConfig{
		URI:     base + "/mcp",
		Headers: map[string]string{"X-Api-Key": "k1"},
	}, proxy, WithMetrics(metrics))
	require.NoError(t, err)
	disposeOnCleanup(t, h)

	h.Send(context.Background(), initialize)

	assert.Equal(t, reply, proxy.waitMessage(t))
	mode := h.currentMode()
	assert.Equal(t, modeSSE, mode.kind)
	assert.Equal(t, base+"/msg?sid=42", mode.endpoint)

	gets := requests.filter(http.MethodGet, "/mcp")
	require.Len(t, gets, 1)
	assert.Equal(t, "text/event-stream", gets[0].Header.Get("Accept"))
	assert.Equal(t, "k1", gets[0].Header.Get("X-Api-Key"))

	posts := requests.filter(http.MethodPost, "/msg")
	require.Len(t, posts, 1)
	assert.Equal(t, "sid=42", posts[0].Query)
	assert.Equal(t, initialize, posts[0].Body)
	assert.Equal(t, "application/json", posts[0].Header.Get("Content-Type"))
	assert.Equal(t, "k1", posts[0].Header.Get("X-Api-Key"))

	// Later messages go straight to the announced endpoint
	h.Send(context.Background(), `{"jsonrpc":"2.0","id":2,"method":"ping"}`)
	assert.Equal(t, reply, proxy.waitMessage(t))
	assert.Len(t, requests.filter(http.MethodPost, "/mcp"), 1)
	assert.Len(t, requests.filter(http.MethodPost, "/msg"), 2)

	h.Close(context.Background())
	assert.Empty(t, requests.filter(http.MethodDelete, ""), "legacy sessions are not deleted")
	assert.Empty(t, proxy.errorStates())

	text := scrape(t, metrics)
	assert.Contains(t, text, `mcp_http_transport_mode_transitions_total{mode="sse",service="test"} 1`)
	assert.Contains(t, text, `mcp_http_transport_messages_received_total{service="test",source="sse"} 2`)
}

func TestLegacySSEAbsoluteEndpoint(t *testing.T) {
	other, otherRequests := newServer(t, func(w http.ResponseWriter, r *http.Request, rec recordedRequest) {
		w.WriteHeader(http.StatusAccepted)
	})
	srv, _ := newServer(t, func(w http.ResponseWriter, r *http.Request, rec recordedRequest) {
		if r.Method == http.MethodPost {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		startSSE(w)
		writeSSE(w, "event: endpoint\ndata: "+other.URL+"/messages")
		<-r.Context().Done()
	})

	h := newTestHandle(t, srv.URL, newRecordingProxy())
	h.Send(context.Background(), initialize)

	posts := otherRequests.filter(http.MethodPost, "/messages")
	require.Len(t, posts, 1)
	assert.Equal(t, initialize, posts[0].Body)
}

func TestLegacySSEStreamEndsBeforeEndpoint(t *testing.T) {
	srv, requests := newServer(t, func(w http.ResponseWriter, r *http.Request, rec recordedRequest) {
		if r.Method == http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		startSSE(w)
		writeSSE(w, "data: {\"early\":true}")
	})

	proxy := newRecordingProxy()
	h := newTestHandle(t, srv.URL, proxy)
	h.Send(context.Background(), initialize)

	require.Eventually(t, func() bool { return len(proxy.errorStates()) == 1 }, waitTimeout, 10*time.Millisecond)
	assert.Equal(t, "SSE stream from "+srv.URL+" ended before an endpoint event", proxy.errorStates()[0].Message)
	assert.Equal(t, []string{`{"early":true}`}, proxy.Messages())
	assert.Equal(t, modeUnknown, h.currentMode().kind)
	assert.Len(t, requests.filter(http.MethodPost, ""), 1, "nothing to resend to")
}

func TestLegacySSEStreamLost(t *testing.T) {
	srv, _ := newServer(t, func(w http.ResponseWriter, r *http.Request, rec recordedRequest) {
		switch r.Method {
		case http.MethodGet:
			startSSE(w)
			writeSSE(w, "event: endpoint\ndata: /msg")
		case http.MethodPost:
			if r.URL.Path == "/msg" {
				w.WriteHeader(http.StatusAccepted)
				return
			}
			w.WriteHeader(http.StatusMethodNotAllowed)
		}
	})

	proxy := newRecordingProxy()
	h := newTestHandle(t, srv.URL, proxy)
	h.Send(context.Background(), initialize)

	require.Eventually(t, func() bool { return len(proxy.errorStates()) == 1 }, waitTimeout, 10*time.Millisecond)
	assert.Equal(t, "SSE stream from "+srv.URL+" ended", proxy.errorStates()[0].Message)
}

// disposingProxy disposes its handle as soon as an error is reported
type disposingProxy struct {
	*recordingProxy
	h        *Handle
	disposed chan struct{}
}

func (p *disposingProxy) ChangeState(id string, state State) {
	p.recordingProxy.ChangeState(id, state)
	if state.Kind == StateError && p.h != nil {
		p.h.Dispose()
		close(p.disposed)
	}
}

func TestDisposeFromStateCallback(t *testing.T) {
	checker := utils.NewLeakChecker(t, "transport.(*Handle)")

	srv, _ := newServer(t, func(w http.ResponseWriter, r *http.Request, rec recordedRequest) {
		switch {
		case r.Method == http.MethodGet:
			startSSE(w)
			writeSSE(w, "event: endpoint\ndata: /msg")
		case r.URL.Path == "/msg":
			w.WriteHeader(http.StatusAccepted)
		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
		}
	})

	proxy := &disposingProxy{recordingProxy: newRecordingProxy(), disposed: make(chan struct{})}
	h, err := NewHandle("test", LaunchConfig{URI: srv.URL}, proxy)
	require.NoError(t, err)
	proxy.h = h

	h.Send(context.Background(), initialize)

	select {
	case <-proxy.disposed:
	case <-time.After(waitTimeout):
		t.Fatal("Dispose called from ChangeState did not return")
	}
	h.Wait()
	checker.Check()

	require.Len(t, proxy.errorStates(), 1)
	assert.Equal(t, "SSE stream from "+srv.URL+" ended", proxy.errorStates()[0].Message)
}

func TestLegacySSEConnectFailure(t *testing.T) {
	srv, _ := newServer(t, func(w http.ResponseWriter, r *http.Request, rec recordedRequest) {
		if r.Method == http.MethodPost {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		http.Error(w, "no streams here", http.StatusInternalServerError)
	})

	proxy := newRecordingProxy()
	h := newTestHandle(t, srv.URL, proxy)
	h.Send(context.Background(), initialize)

	errs := proxy.errorStates()
	require.Len(t, errs, 1)
	assert.True(t, strings.HasPrefix(errs[0].Message, "500 status connecting to "+srv.URL+" as SSE: no streams here"), errs[0].Message)
	assert.Equal(t, modeUnknown, h.currentMode().kind)
}

func TestLegacySSEPostFailureIsLogged(t *testing.T) {
	srv, _ := newServer(t, func(w http.ResponseWriter, r *http.Request, rec recordedRequest) {
		switch {
		case r.Method == http.MethodGet:
			startSSE(w)
			writeSSE(w, "event: endpoint\ndata: /msg")
			<-r.Context().Done()
		case r.URL.Path == "/msg":
			http.Error(w, "bad message", http.StatusBadRequest)
		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
		}
	})

	proxy := newRecordingProxy()
	h := newTestHandle(t, srv.URL, proxy)
	h.Send(context.Background(), initialize)

	assert.Empty(t, proxy.errorStates())
	assert.True(t, proxy.hasLog("400 status sending message to "+srv.URL+"/msg: bad message"), "logs: %v", proxy.Logs())
}

// A server that answers the first POST with an SSE endpoint event is a
// legacy server that accepted the POST as its stream request.
func TestEndpointEventOnPostFallsBack(t *testing.T) {
	srv, requests := newServer(t, func(w http.ResponseWriter, r *http.Request, rec recordedRequest) {
		switch {
		case r.URL.Path == "/msg":
			w.WriteHeader(http.StatusAccepted)
		case r.Method == http.MethodPost:
			startSSE(w)
			writeSSE(w, "event: endpoint\ndata: /msg")
		default:
			startSSE(w)
			writeSSE(w, "event: endpoint\ndata: /msg")
			<-r.Context().Done()
		}
	})

	proxy := newRecordingProxy()
	h := newTestHandle(t, srv.URL+"/mcp", proxy)
	h.Send(context.Background(), initialize)

	assert.Equal(t, modeSSE, h.currentMode().kind)
	posts := requests.filter(http.MethodPost, "/msg")
	require.Len(t, posts, 1)
	assert.Equal(t, initialize, posts[0].Body)
	assert.True(t, proxy.hasLog("will fall back to legacy SSE"), "logs: %v", proxy.Logs())
}

func TestEndpointEventIgnoredWithSession(t *testing.T) {
	srv, requests := newServer(t, func(w http.ResponseWriter, r *http.Request, rec recordedRequest) {
		switch r.Method {
		case http.MethodPost:
			w.Header().Set(HeaderSessionID, "S1")
			startSSE(w)
			writeSSE(w, "event: endpoint\ndata: /msg", `data: {"id":1}`)
		case http.MethodGet:
			w.WriteHeader(http.StatusMethodNotAllowed)
		}
	})

	proxy := newRecordingProxy()
	h := newTestHandle(t, srv.URL, proxy)
	h.Send(context.Background(), initialize)

	assert.Equal(t, httpMode("S1"), h.currentMode())
	assert.Equal(t, []string{`{"id":1}`}, proxy.Messages())
	assert.Empty(t, requests.filter(http.MethodPost, "/msg"))
	assert.True(t, proxy.hasLog("Ignoring SSE endpoint event"), "logs: %v", proxy.Logs())
}

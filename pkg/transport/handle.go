package transport

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/sourcegraph/conc"
	"golang.org/x/sync/singleflight"

	mcperrors "github.com/ajitpratap0/mcp-http-transport/pkg/errors"
	"github.com/ajitpratap0/mcp-http-transport/pkg/logging"
)

// Handle is one connection to a remote MCP server over HTTP. It speaks
// streamable HTTP and falls back to legacy SSE when the server does not.
//
// Send and Close never return transport failures; they are reported to the
// owner through Proxy.ChangeState.
type Handle struct {
	id        string
	launch    LaunchConfig
	launchURL *url.URL
	proxy     Proxy
	config    Config
	logger    logging.Logger
	clock     clockwork.Clock
	client    *http.Client

	ctx    context.Context
	cancel context.CancelFunc
	wg     conc.WaitGroup

	sequencer *sequencer
	discovery singleflight.Group

	mu                sync.Mutex
	mode              transportMode
	didSendClose      bool
	backchannelCancel context.CancelFunc
	disposed          atomic.Bool

	authMu sync.Mutex
	auth   *AuthContext
}

// NewHandle creates a handle for launch and reports it Running. An empty id
// is replaced with a random one.
func NewHandle(id string, launch LaunchConfig, proxy Proxy, opts ...Option) (*Handle, error) {
	launchURL, err := url.Parse(launch.URI)
	if err != nil {
		return nil, mcperrors.InvalidLaunchURI(launch.URI, err)
	}
	if launchURL.Scheme != "http" && launchURL.Scheme != "https" {
		return nil, mcperrors.InvalidLaunchURI(launch.URI, fmt.Errorf("unsupported scheme %q", launchURL.Scheme))
	}
	if proxy == nil {
		return nil, fmt.Errorf("transport: proxy is required")
	}
	if id == "" {
		id = uuid.NewString()
	}

	config := DefaultConfig()
	for _, opt := range opts {
		opt(&config)
	}
	if config.Clock == nil {
		config.Clock = clockwork.NewRealClock()
	}

	h := &Handle{
		id:        id,
		launch:    launch,
		launchURL: launchURL,
		proxy:     proxy,
		config:    config,
		clock:     config.Clock,
		sequencer: newSequencer(),
	}
	h.ctx, h.cancel = context.WithCancel(context.Background())

	if config.Logger != nil {
		h.logger = config.Logger.WithFields(logging.String("handle_id", id))
	} else {
		h.logger = logging.NewPublisher(func(level logging.Level, line string) {
			if !h.disposed.Load() {
				proxy.PublishLog(id, level, line)
			}
		})
		h.logger.SetLevel(config.LogLevel)
	}
	h.client = newHTTPClient(config, h.logger)

	config.Metrics.RecordActiveHandles(1)
	h.changeState(State{Kind: StateRunning})
	return h, nil
}

// ID returns the handle id passed to every Proxy callback
func (h *Handle) ID() string {
	return h.id
}

// SessionID returns the streamable HTTP session id, if the server issued one
func (h *Handle) SessionID() string {
	return h.currentMode().sessionID
}

// Send transmits message. While the mode is still undecided sends run one
// at a time in arrival order; afterwards they run concurrently. Send
// returns once the exchange, including any streamed response, is complete.
func (h *Handle) Send(ctx context.Context, message string) {
	ctx, requestID := logging.EnsureRequestID(ctx)
	ctx, cancel := h.bind(ctx)
	defer cancel()

	var err error
	if h.currentMode().kind == modeUnknown {
		err = h.sequencer.do(ctx, func() error { return h.send(ctx, message) })
	} else {
		err = h.send(ctx, message)
	}
	if err == nil || mcperrors.IsCancelled(err) || h.isDisposed() {
		return
	}

	mode := h.currentMode()
	if mcpErr, ok := mcperrors.AsMCPError(err); ok {
		err = mcpErr.WithContext(&mcperrors.Context{
			HandleID:  h.id,
			RequestID: requestID,
			SessionID: mode.sessionID,
			Method:    http.MethodPost,
			Endpoint:  h.launch.URI,
			Operation: "send",
			Timestamp: h.clock.Now(),
		})
	}
	h.logger.WithContext(ctx).WithError(err).Debug("Send failed")
	h.changeState(State{
		Kind:    StateError,
		Message: fmt.Sprintf("Error sending message to %s: %v", h.launch.URI, err),
	})
}

func (h *Handle) send(ctx context.Context, message string) error {
	mode := h.currentMode()
	switch mode.kind {
	case modeSSE:
		return h.sendLegacySSE(ctx, mode.endpoint, message)
	case modeHTTP:
		return h.sendStreamableHTTP(ctx, message, mode.sessionID)
	default:
		return h.sendStreamableHTTP(ctx, message, "")
	}
}

// Close ends the server session, if there is one, and reports Stopped. The
// DELETE that ends a streamable HTTP session is sent at most once and its
// failures are ignored.
func (h *Handle) Close(ctx context.Context) {
	ctx, cancel := h.bind(ctx)
	defer cancel()

	h.mu.Lock()
	mode := h.mode
	closeSession := mode.kind == modeHTTP && mode.sessionID != "" && !h.didSendClose
	if closeSession {
		h.didSendClose = true
	}
	h.mu.Unlock()

	if closeSession {
		if err := h.closeSession(ctx, mode.sessionID); err != nil {
			h.logger.WithContext(ctx).Debug("Failed to close session", logging.String("session_id", mode.sessionID), logging.ErrorField(err))
		}
	}
	h.changeState(State{Kind: StateStopped})
}

// closeSession deletes the session without retrying on auth failures
func (h *Handle) closeSession(ctx context.Context, sessionID string) error {
	header := h.launchHeader()
	header.Set(HeaderSessionID, sessionID)
	if err := h.addAuthHeader(ctx, header, false); err != nil {
		return err
	}
	resp, err := h.fetch(ctx, &request{
		method: http.MethodDelete,
		url:    h.launch.URI,
		header: header,
	})
	if err != nil {
		return err
	}
	discard(resp)
	return nil
}

// Dispose cancels every in-flight request and stream. Nothing is reported
// to the owner afterwards. It does not wait for the handle's goroutines, so
// it is safe to call from a Proxy callback; use Wait for that.
func (h *Handle) Dispose() {
	h.mu.Lock()
	if h.disposed.Load() {
		h.mu.Unlock()
		return
	}
	h.disposed.Store(true)
	h.mu.Unlock()

	h.cancel()
	h.config.Metrics.RecordActiveHandles(-1)
}

// Wait blocks until the goroutines of a disposed handle have exited. It
// must not be called from a Proxy callback.
func (h *Handle) Wait() {
	h.wg.Wait()
}

func (h *Handle) isDisposed() bool {
	return h.disposed.Load()
}

// spawn runs fn on the handle's wait group. It reports false once the handle
// is disposed.
func (h *Handle) spawn(fn func()) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.disposed.Load() {
		return false
	}
	h.wg.Go(fn)
	return true
}

// bind derives a context that ends with either ctx or the handle
func (h *Handle) bind(ctx context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(ctx)
	stop := context.AfterFunc(h.ctx, cancel)
	return ctx, func() {
		stop()
		cancel()
	}
}

// detach derives a context that keeps ctx's values but lives as long as the
// handle, for streams that outlast the call that opened them
func (h *Handle) detach(ctx context.Context) (context.Context, context.CancelFunc) {
	return h.bind(context.WithoutCancel(ctx))
}

func (h *Handle) currentMode() transportMode {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.mode
}

// transition moves to next if the current mode allows it
func (h *Handle) transition(next transportMode) bool {
	h.mu.Lock()
	if !h.mode.canBecome(next) {
		h.mu.Unlock()
		return false
	}
	changed := h.mode.kind != next.kind
	h.mode = next
	h.mu.Unlock()

	if changed {
		h.config.Metrics.RecordMode(next.kind.String())
		h.logger.Debug("Transport mode resolved", logging.String("mode", next.kind.String()))
	}
	return true
}

// launchHeader returns a fresh copy of the static launch headers
func (h *Handle) launchHeader() http.Header {
	header := make(http.Header, len(h.launch.Headers)+4)
	for k, v := range h.launch.Headers {
		header.Set(k, v)
	}
	return header
}

func (h *Handle) changeState(state State) {
	if h.isDisposed() {
		return
	}
	h.config.Metrics.RecordState(state.Kind.String())
	h.proxy.ChangeState(h.id, state)
}

func (h *Handle) deliver(message, source string) {
	if h.isDisposed() {
		return
	}
	h.config.Metrics.RecordMessage(source)
	h.proxy.ReceiveMessage(h.id, message)
}

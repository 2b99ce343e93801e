package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"

	mcperrors "github.com/ajitpratap0/mcp-http-transport/pkg/errors"
	"github.com/ajitpratap0/mcp-http-transport/pkg/logging"
	"github.com/ajitpratap0/mcp-http-transport/pkg/sse"
)

// linearBackOff grows the delay by one step per attempt up to limit. The
// first attempt runs immediately; after Reset the next one waits one step.
type linearBackOff struct {
	step    time.Duration
	limit   time.Duration
	attempt int
}

var _ backoff.BackOff = (*linearBackOff)(nil)

func newLinearBackOff(step, limit time.Duration) *linearBackOff {
	return &linearBackOff{step: step, limit: limit}
}

// NextBackOff implements backoff.BackOff
func (b *linearBackOff) NextBackOff() time.Duration {
	d := time.Duration(b.attempt) * b.step
	b.attempt++
	if d > b.limit {
		return b.limit
	}
	return d
}

// Reset implements backoff.BackOff
func (b *linearBackOff) Reset() {
	b.attempt = 1
}

// startBackchannel launches the notification stream once per handle
func (h *Handle) startBackchannel() {
	h.mu.Lock()
	if h.backchannelCancel != nil {
		h.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(h.ctx)
	h.backchannelCancel = cancel
	h.mu.Unlock()

	if !h.spawn(func() {
		defer cancel()
		h.runBackchannel(ctx)
	}) {
		cancel()
	}
}

// stopBackchannel ends the notification stream, if running
func (h *Handle) stopBackchannel() {
	h.mu.Lock()
	cancel := h.backchannelCancel
	h.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// runBackchannel keeps a GET stream open for server-initiated messages.
// Support is optional for servers: a 4xx or 5xx answer ends the loop for
// good. Otherwise it reconnects until ctx is done, resuming from the last
// event id and honouring retry directives.
func (h *Handle) runBackchannel(ctx context.Context) {
	logger := h.logger.WithFields(logging.String("component", "backchannel"))
	delays := newLinearBackOff(h.config.BackoffStep, h.config.MaxBackoff)

	var (
		lastEventID string
		reconnectAt time.Time
	)
	for ctx.Err() == nil {
		wait := delays.NextBackOff()
		if !reconnectAt.IsZero() {
			wait = max(0, reconnectAt.Sub(h.clock.Now()))
			reconnectAt = time.Time{}
		}
		if !h.sleep(ctx, wait) {
			return
		}

		mode := h.currentMode()
		if mode.kind != modeHTTP {
			return
		}

		header := h.launchHeader()
		header.Set("Accept", "text/event-stream")
		if err := h.addAuthHeader(ctx, header, false); err != nil {
			return
		}
		if mode.sessionID != "" {
			header.Set(HeaderSessionID, mode.sessionID)
		}
		if lastEventID != "" {
			header.Set(HeaderLastEventID, lastEventID)
		}

		resp, err := h.fetchWithAuthRetry(ctx, &request{
			method: http.MethodGet,
			url:    h.launch.URI,
			header: header,
		})
		if err != nil {
			if mcperrors.IsCancelled(err) {
				return
			}
			logger.Info(fmt.Sprintf("Error connecting to %s for async notifications, will retry", h.launch.URI), logging.ErrorField(err))
			continue
		}
		if resp.StatusCode >= 400 {
			logger.Info(fmt.Sprintf("%d status connecting to %s for async notifications; they will be disabled: %s",
				resp.StatusCode, h.launch.URI, errorText(resp)))
			resp.Body.Close()
			return
		}

		h.config.Metrics.RecordBackchannelConnect()
		if contentType := resp.Header.Get("Content-Type"); classify(contentType) == contentEventStream {
			delays.Reset()
		} else {
			logger.Debug("Backchannel answered without an event stream",
				logging.Int("status", resp.StatusCode),
				logging.String("content_type", contentType))
		}

		reader := sse.NewReader(resp.Body)
		for {
			event, err := reader.Next()
			if err != nil {
				if !errors.Is(err, io.EOF) && ctx.Err() == nil {
					logger.Info(fmt.Sprintf("Error reading from async stream, we will reconnect: %v", err))
				}
				break
			}
			if event.Retry > 0 {
				reconnectAt = h.clock.Now().Add(event.Retry)
			}
			if event.Type == sse.DefaultEventType && event.Data != "" {
				h.deliver(event.Data, "backchannel")
			}
			if event.ID != "" {
				lastEventID = event.ID
			}
		}
		resp.Body.Close()
	}
}

// sleep waits for d on the handle's clock. It reports false if ctx ended first.
func (h *Handle) sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := h.clock.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.Chan():
		return true
	}
}

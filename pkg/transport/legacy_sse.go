package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	mcperrors "github.com/ajitpratap0/mcp-http-transport/pkg/errors"
	"github.com/ajitpratap0/mcp-http-transport/pkg/logging"
	"github.com/ajitpratap0/mcp-http-transport/pkg/sse"
)

// attachSSE opens the session-long GET stream of a legacy SSE server and
// waits for its endpoint event. Failures are reported as state changes and
// yield an empty endpoint. The stream outlives ctx; only disposal ends it.
func (h *Handle) attachSSE(ctx context.Context) (string, error) {
	header := h.launchHeader()
	header.Set("Accept", "text/event-stream")
	if err := h.addAuthHeader(ctx, header, false); err != nil {
		return "", err
	}

	streamCtx, cancel := h.detach(ctx)
	resp, err := h.fetchWithAuthRetry(streamCtx, &request{
		method: http.MethodGet,
		url:    h.launch.URI,
		header: header,
	})
	if err != nil {
		cancel()
		if mcperrors.IsCancelled(err) {
			return "", err
		}
		h.changeState(State{
			Kind:    StateError,
			Message: fmt.Sprintf("Error connecting to %s as SSE: %v", h.launch.URI, err),
		})
		return "", nil
	}
	if resp.StatusCode >= 300 {
		body := errorText(resp)
		resp.Body.Close()
		cancel()
		h.changeState(State{
			Kind:    StateError,
			Message: fmt.Sprintf("%d status connecting to %s as SSE: %s", resp.StatusCode, h.launch.URI, body),
		})
		return "", nil
	}

	endpoints := make(chan string, 1)
	done := make(chan struct{})
	started := h.spawn(func() {
		defer close(done)
		defer cancel()
		h.readLegacySSE(resp, endpoints)
	})
	if !started {
		resp.Body.Close()
		cancel()
		return "", mcperrors.Cancelled("attach_sse")
	}

	select {
	case endpoint := <-endpoints:
		return endpoint, nil
	case <-done:
		select {
		case endpoint := <-endpoints:
			return endpoint, nil
		default:
			return "", nil
		}
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// readLegacySSE consumes the legacy stream until it ends. Messages are
// delivered; the first endpoint event is resolved against the launch URI and
// sent on endpoints. The stream ending is an error unless the handle was
// disposed, since the session cannot continue without it.
func (h *Handle) readLegacySSE(resp *http.Response, endpoints chan<- string) {
	defer resp.Body.Close()
	logger := h.logger.WithFields(logging.String("component", "legacy_sse"))

	reader := sse.NewReader(resp.Body)
	announced := false
	for {
		event, err := reader.Next()
		if err != nil {
			if h.isDisposed() {
				return
			}
			var failure mcperrors.MCPError
			switch {
			case !errors.Is(err, io.EOF):
				failure = mcperrors.EventSourceError(h.launch.URI, "read", err)
				h.changeState(State{Kind: StateError, Message: fmt.Sprintf("Error reading SSE stream: %v", err)})
			case !announced:
				failure = mcperrors.EndpointMissing(h.launch.URI)
				h.changeState(State{Kind: StateError, Message: failure.Error()})
			default:
				failure = mcperrors.ConnectionLost(h.launch.URI)
				h.changeState(State{Kind: StateError, Message: failure.Error()})
			}
			logger.WithError(failure).Debug("Legacy SSE stream closed")
			return
		}

		switch event.Type {
		case sse.DefaultEventType:
			h.deliver(event.Data, "sse")
		case "endpoint":
			target, err := h.launchURL.Parse(event.Data)
			if err != nil {
				logger.Warn("Ignoring invalid SSE endpoint", logging.String("endpoint", event.Data), logging.ErrorField(err))
				continue
			}
			if !announced {
				announced = true
				endpoints <- target.String()
			}
		}
	}
}

// sendLegacySSE POSTs message to the endpoint announced by a legacy server.
// Replies arrive on the SSE stream, so the response body is ignored.
func (h *Handle) sendLegacySSE(ctx context.Context, endpoint, message string) error {
	header := h.launchHeader()
	header.Set("Content-Type", "application/json")
	if err := h.addAuthHeader(ctx, header, false); err != nil {
		return err
	}

	resp, err := h.fetch(ctx, &request{
		method: http.MethodPost,
		url:    endpoint,
		header: header,
		body:   []byte(message),
	})
	if err != nil {
		return err
	}
	defer discard(resp)

	if resp.StatusCode >= 300 {
		h.logger.WithContext(ctx).Warn(fmt.Sprintf("%d status sending message to %s: %s", resp.StatusCode, endpoint, errorText(resp)))
	}
	return nil
}

package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	mcperrors "github.com/ajitpratap0/mcp-http-transport/pkg/errors"
	"github.com/ajitpratap0/mcp-http-transport/pkg/logging"
	"github.com/ajitpratap0/mcp-http-transport/pkg/sse"
)

// maxMessageSize bounds a JSON response body
const maxMessageSize = 16 << 20

// sendStreamableHTTP POSTs message to the launch URI and handles the reply.
// The first exchange decides the mode: a session id or any success means
// streamable HTTP, a non-auth 4xx means a legacy SSE server.
func (h *Handle) sendStreamableHTTP(ctx context.Context, message, sessionID string) error {
	header := h.launchHeader()
	header.Set("Content-Type", "application/json")
	header.Set("Accept", "text/event-stream, application/json")
	if sessionID != "" {
		header.Set(HeaderSessionID, sessionID)
	}
	if err := h.addAuthHeader(ctx, header, false); err != nil {
		return err
	}

	resp, err := h.fetchWithAuthRetry(ctx, &request{
		method: http.MethodPost,
		url:    h.launch.URI,
		header: header,
		body:   []byte(message),
	})
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	wasUnknown := h.currentMode().kind == modeUnknown
	if next := resp.Header.Get(HeaderSessionID); next != "" {
		h.transition(httpMode(next))
	}
	mode := h.currentMode()
	logger := h.logger.WithContext(ctx)

	if mode.kind == modeUnknown && resp.StatusCode >= 400 && resp.StatusCode < 500 && !isAuthStatus(resp.StatusCode) {
		logger.Info(fmt.Sprintf("%d status sending message to %s, will attempt to fall back to legacy SSE", resp.StatusCode, h.launch.URI))
		discard(resp)
		return h.fallbackToSSE(ctx, message)
	}

	if resp.StatusCode >= 300 {
		body := errorText(resp)
		// A server that no longer knows the session answers 404, some 400.
		if mode.kind == modeHTTP && mode.sessionID != "" &&
			(resp.StatusCode == http.StatusBadRequest || resp.StatusCode == http.StatusNotFound) {
			err := mcperrors.SessionNotFound(h.launch.URI, mode.sessionID, resp.StatusCode, body)
			logger.WithError(err).Debug("Session rejected")
			h.changeState(State{
				Kind:        StateError,
				Message:     err.Error() + "; will retry with new session ID",
				ShouldRetry: true,
			})
			return nil
		}
		h.changeState(State{
			Kind:    StateError,
			Message: mcperrors.HTTPStatusError("sending message to", h.launch.URI, resp.StatusCode, body).Error(),
		})
		return nil
	}

	if mode.kind == modeUnknown {
		h.transition(httpMode(""))
	}
	if wasUnknown {
		h.startBackchannel()
	}
	return h.handleStreamableResponse(ctx, resp, message, wasUnknown)
}

// handleStreamableResponse delivers the messages carried by a successful POST
func (h *Handle) handleStreamableResponse(ctx context.Context, resp *http.Response, message string, wasUnknown bool) error {
	if resp.StatusCode == http.StatusAccepted {
		return nil
	}
	logger := h.logger.WithContext(ctx)

	switch classify(resp.Header.Get("Content-Type")) {
	case contentEventStream:
		reader := sse.NewReader(resp.Body)
		for {
			event, err := reader.Next()
			if err != nil {
				if !errors.Is(err, io.EOF) && !mcperrors.IsCancelled(err) && !h.isDisposed() {
					logger.WithError(mcperrors.EventSourceError(h.launch.URI, "reading response stream", err)).
						Warn(fmt.Sprintf("Error reading SSE stream: %v", err))
				}
				return nil
			}
			switch event.Type {
			case sse.DefaultEventType:
				h.deliver(event.Data, "post")
			case "endpoint":
				if !wasUnknown || !h.currentMode().canBecome(sseMode(event.Data)) {
					logger.Warn("Ignoring SSE endpoint event on an established streamable HTTP session")
					continue
				}
				logger.Warn(fmt.Sprintf("Received SSE endpoint from a POST to %s, will fall back to legacy SSE", h.launch.URI))
				resp.Body.Close()
				return h.fallbackToSSE(ctx, message)
			}
		}

	case contentJSON:
		body, err := io.ReadAll(io.LimitReader(resp.Body, maxMessageSize))
		if err != nil {
			return err
		}
		h.deliver(string(body), "post")

	default:
		body, err := io.ReadAll(io.LimitReader(resp.Body, maxMessageSize))
		if err != nil {
			return err
		}
		if json.Valid(body) {
			h.deliver(string(body), "post")
			return nil
		}
		unexpected := mcperrors.UnexpectedContent(resp.StatusCode, resp.Header.Get("Content-Type"), string(body))
		logger.WithError(unexpected).Warn(fmt.Sprintf("Unexpected %d response for request: %s", resp.StatusCode, body))
	}
	return nil
}

// fallbackToSSE attaches the legacy SSE stream and, once the server has
// announced its endpoint, resends message there
func (h *Handle) fallbackToSSE(ctx context.Context, message string) error {
	endpoint, err := h.attachSSE(ctx)
	if err != nil || endpoint == "" {
		return err
	}
	if !h.transition(sseMode(endpoint)) {
		h.logger.WithContext(ctx).Warn("Legacy SSE endpoint arrived after the mode was decided", logging.String("endpoint", endpoint))
		return nil
	}
	h.stopBackchannel()
	return h.sendLegacySSE(ctx, endpoint, message)
}

package errors

import (
	"fmt"
	"net/http"
	"net/url"
	"time"
)

// TransportErrorData contains structured data for transport-related errors
type TransportErrorData struct {
	Transport    string        `json:"transport"`
	Operation    string        `json:"operation,omitempty"`
	Endpoint     string        `json:"endpoint,omitempty"`
	Connected    bool          `json:"connected"`
	Retryable    bool          `json:"retryable"`
	Reason       string        `json:"reason,omitempty"`
	StatusCode   int           `json:"status_code,omitempty"`
	ResponseTime time.Duration `json:"response_time,omitempty"`
}

func reason(cause error) string {
	if cause == nil {
		return ""
	}
	return cause.Error()
}

// ConnectionFailed creates an error for requests that never produced a response
func ConnectionFailed(method, endpoint string, cause error) MCPError {
	message := fmt.Sprintf("%s %s failed", method, endpoint)
	if cause != nil {
		message = fmt.Sprintf("%s: %s", message, cause.Error())
	}

	host := endpoint
	if u, err := url.Parse(endpoint); err == nil && u.Host != "" {
		host = u.Host
	}

	return WrapError(
		cause,
		CodeConnectionFailed,
		message,
		CategoryTransport,
		SeverityError,
	).WithData(&TransportErrorData{
		Transport: "http",
		Operation: method,
		Endpoint:  host,
		Retryable: true,
		Reason:    reason(cause),
	})
}

// HTTPStatusError creates an error for a response whose status the caller
// cannot handle. The response body, or the status text when the body is
// empty, becomes the error detail.
func HTTPStatusError(operation, endpoint string, statusCode int, body string) MCPError {
	code, category := CodeHTTPStatus, CategoryTransport
	if statusCode == http.StatusUnauthorized || statusCode == http.StatusForbidden {
		code, category = CodeUnauthorized, CategoryAuth
	}
	if body == "" {
		body = http.StatusText(statusCode)
	}

	return NewError(
		code,
		fmt.Sprintf("%d status %s %s", statusCode, operation, endpoint),
		category,
		SeverityError,
	).WithDetail(body).WithData(&TransportErrorData{
		Transport:  "http",
		Operation:  operation,
		Endpoint:   endpoint,
		Connected:  true,
		Retryable:  statusCode >= 500 || statusCode == http.StatusTooManyRequests,
		StatusCode: statusCode,
		Reason:     body,
	})
}

// SessionNotFound creates an error for a server that rejected a request
// carrying a session id. The caller should start over with a new session.
func SessionNotFound(endpoint, sessionID string, statusCode int, body string) MCPError {
	if body == "" {
		body = http.StatusText(statusCode)
	}
	return NewError(
		CodeSessionNotFound,
		fmt.Sprintf("%d status sending message to %s", statusCode, endpoint),
		CategoryTransport,
		SeverityWarning,
	).WithDetail(body).WithContext(&Context{
		SessionID: sessionID,
		Endpoint:  endpoint,
		Timestamp: time.Now(),
	}).WithData(&TransportErrorData{
		Transport:  "streamable_http",
		Operation:  "send",
		Endpoint:   endpoint,
		Connected:  true,
		Retryable:  true,
		StatusCode: statusCode,
		Reason:     "session not found",
	})
}

// RedirectLimitExceeded creates an error for a redirect chain that was cut short
func RedirectLimitExceeded(endpoint string, hops int) MCPError {
	return NewError(
		CodeRedirectLimit,
		fmt.Sprintf("Stopped following redirects from %s after %d hops", endpoint, hops),
		CategoryTransport,
		SeverityWarning,
	).WithData(&TransportErrorData{
		Transport: "http",
		Operation: "redirect",
		Endpoint:  endpoint,
		Connected: true,
	})
}

// EventSourceError creates an error for Server-Sent Events issues
func EventSourceError(endpoint, reason string, cause error) MCPError {
	message := fmt.Sprintf("Event source error: %s", reason)
	if endpoint != "" {
		message = fmt.Sprintf("Event source error for %s: %s", endpoint, reason)
	}
	if cause != nil {
		message = fmt.Sprintf("%s: %s", message, cause.Error())
	}

	return WrapError(
		cause,
		CodeEventStreamError,
		message,
		CategoryTransport,
		SeverityError,
	).WithData(&TransportErrorData{
		Transport: "sse",
		Operation: "event_stream",
		Endpoint:  endpoint,
		Connected: true,
		Retryable: true,
		Reason:    reason,
	})
}

// ConnectionLost creates an error for a legacy SSE stream that ended while
// the session still depended on it
func ConnectionLost(endpoint string) MCPError {
	return NewError(
		CodeConnectionLost,
		fmt.Sprintf("SSE stream from %s ended", endpoint),
		CategoryTransport,
		SeverityError,
	).WithData(&TransportErrorData{
		Transport: "sse",
		Operation: "event_stream",
		Endpoint:  endpoint,
		Retryable: true,
		Reason:    "stream ended",
	})
}

// EndpointMissing creates an error for a legacy SSE stream that closed before
// announcing where messages should be posted
func EndpointMissing(endpoint string) MCPError {
	return NewError(
		CodeEndpointMissing,
		fmt.Sprintf("SSE stream from %s ended before an endpoint event", endpoint),
		CategoryProtocol,
		SeverityError,
	)
}

// InvalidLaunchURI creates an error for a launch configuration that cannot be dialled
func InvalidLaunchURI(uri string, cause error) MCPError {
	message := fmt.Sprintf("Invalid launch URI %q", uri)
	if cause != nil {
		message = fmt.Sprintf("%s: %s", message, cause.Error())
	}
	return WrapError(cause, CodeInvalidLaunchURI, message, CategoryInternal, SeverityCritical)
}

// UnexpectedContent creates an error for a response body that is neither an
// event stream nor JSON
func UnexpectedContent(statusCode int, contentType, body string) MCPError {
	return NewError(
		CodeUnexpectedContent,
		fmt.Sprintf("Unexpected %d response for request", statusCode),
		CategoryProtocol,
		SeverityWarning,
	).WithDetail(body).WithData(map[string]interface{}{
		"status_code":  statusCode,
		"content_type": contentType,
	})
}

// Cancelled creates an error for operations aborted by disposal or by the
// token provider asking for user interaction
func Cancelled(operation string) MCPError {
	return NewError(
		CodeOperationCancelled,
		fmt.Sprintf("Operation '%s' was cancelled", operation),
		CategoryCancelled,
		SeverityInfo,
	)
}

package errors

// Transport Errors (-32500 to -32599)
const (
	CodeTransportError    int = -32500 // Generic transport error
	CodeConnectionFailed  int = -32501 // Failed to establish connection
	CodeConnectionLost    int = -32502 // Stream ended or broke mid-read
	CodeHTTPStatus        int = -32503 // Server answered with a non-success status
	CodeRedirectLimit     int = -32504 // Too many redirects
	CodeEventStreamError  int = -32505 // Server-sent event stream failure
	CodeSessionNotFound   int = -32506 // Server no longer knows the session id
	CodeEndpointMissing   int = -32507 // Legacy SSE stream never announced a POST endpoint
	CodeInvalidLaunchURI  int = -32508 // Launch URI is not an absolute http(s) URL
	CodeUnexpectedContent int = -32509 // Response body could not be interpreted
)

// Authentication Errors (-32100 to -32199)
const (
	CodeUnauthorized            int = -32100 // Server rejected the credentials
	CodeInvalidToken            int = -32102 // Token could not be parsed
	CodeUserInteractionRequired int = -32105 // Token acquisition needs the user
	CodeMetadataFetchFailed     int = -32106 // Discovery document could not be fetched
	CodeInvalidMetadata         int = -32107 // Discovery document is malformed
	CodeResourceMismatch        int = -32108 // Protected resource metadata names another resource
)

// Operation Errors (-32300 to -32399)
const (
	CodeOperationCancelled int = -32300 // Operation was cancelled
)

// ErrorCodeInfo provides human-readable information about error codes
type ErrorCodeInfo struct {
	Code        int
	Name        string
	Description string
	Category    Category
	Severity    Severity
}

var errorCodeRegistry = map[int]ErrorCodeInfo{
	CodeTransportError:    {CodeTransportError, "TransportError", "Transport error", CategoryTransport, SeverityError},
	CodeConnectionFailed:  {CodeConnectionFailed, "ConnectionFailed", "Connection failed", CategoryTransport, SeverityError},
	CodeConnectionLost:    {CodeConnectionLost, "ConnectionLost", "Connection lost", CategoryTransport, SeverityError},
	CodeHTTPStatus:        {CodeHTTPStatus, "HTTPStatus", "Unexpected HTTP status", CategoryTransport, SeverityError},
	CodeRedirectLimit:     {CodeRedirectLimit, "RedirectLimit", "Too many redirects", CategoryTransport, SeverityWarning},
	CodeEventStreamError:  {CodeEventStreamError, "EventStreamError", "Event stream error", CategoryTransport, SeverityError},
	CodeSessionNotFound:   {CodeSessionNotFound, "SessionNotFound", "Session not found", CategoryTransport, SeverityWarning},
	CodeEndpointMissing:   {CodeEndpointMissing, "EndpointMissing", "Legacy SSE endpoint missing", CategoryProtocol, SeverityError},
	CodeInvalidLaunchURI:  {CodeInvalidLaunchURI, "InvalidLaunchURI", "Invalid launch URI", CategoryInternal, SeverityCritical},
	CodeUnexpectedContent: {CodeUnexpectedContent, "UnexpectedContent", "Unexpected response content", CategoryProtocol, SeverityWarning},

	CodeUnauthorized:            {CodeUnauthorized, "Unauthorized", "Client not authorized", CategoryAuth, SeverityError},
	CodeInvalidToken:            {CodeInvalidToken, "InvalidToken", "Invalid authentication token", CategoryAuth, SeverityWarning},
	CodeUserInteractionRequired: {CodeUserInteractionRequired, "UserInteractionRequired", "User interaction required", CategoryAuth, SeverityWarning},
	CodeMetadataFetchFailed:     {CodeMetadataFetchFailed, "MetadataFetchFailed", "Metadata fetch failed", CategoryDiscovery, SeverityWarning},
	CodeInvalidMetadata:         {CodeInvalidMetadata, "InvalidMetadata", "Invalid metadata document", CategoryDiscovery, SeverityWarning},
	CodeResourceMismatch:        {CodeResourceMismatch, "ResourceMismatch", "Protected resource mismatch", CategoryDiscovery, SeverityError},

	CodeOperationCancelled: {CodeOperationCancelled, "OperationCancelled", "Operation cancelled", CategoryCancelled, SeverityInfo},
}

// GetErrorCodeInfo returns information about an error code
func GetErrorCodeInfo(code int) (ErrorCodeInfo, bool) {
	info, exists := errorCodeRegistry[code]
	return info, exists
}

// GetErrorCodeName returns the name of an error code
func GetErrorCodeName(code int) string {
	if info, exists := errorCodeRegistry[code]; exists {
		return info.Name
	}
	return "UnknownError"
}

package errors

import (
	"fmt"
)

// AuthErrorData contains structured data for authentication-related errors
type AuthErrorData struct {
	ProviderID string   `json:"provider_id,omitempty"`
	Scopes     []string `json:"scopes,omitempty"`
	Reason     string   `json:"reason,omitempty"`
}

// DiscoveryErrorData contains structured data for metadata discovery errors
type DiscoveryErrorData struct {
	Document   string `json:"document"`
	URL        string `json:"url"`
	StatusCode int    `json:"status_code,omitempty"`
	Field      string `json:"field,omitempty"`
}

// UserInteractionRequired signals that a token could only be obtained by
// prompting the user, which the owner has forbidden.
func UserInteractionRequired(providerID string, scopes []string) MCPError {
	message := "User interaction required to obtain a token"
	if providerID != "" {
		message = fmt.Sprintf("User interaction required to obtain a token from %s", providerID)
	}
	return NewError(
		CodeUserInteractionRequired,
		message,
		CategoryAuth,
		SeverityWarning,
	).WithData(&AuthErrorData{
		ProviderID: providerID,
		Scopes:     scopes,
		Reason:     "needs-user-interaction",
	})
}

// IsUserInteractionRequired reports whether err asks for user interaction
func IsUserInteractionRequired(err error) bool {
	return IsCode(err, CodeUserInteractionRequired)
}

// InvalidToken creates an error for a bearer token that cannot be inspected
func InvalidToken(reason string, cause error) MCPError {
	return WrapError(
		cause,
		CodeInvalidToken,
		fmt.Sprintf("Invalid token: %s", reason),
		CategoryAuth,
		SeverityWarning,
	)
}

// MetadataFetchFailed creates an error for a discovery document that answered
// with a non-success status. detail is the response body or status text.
func MetadataFetchFailed(document, url string, statusCode int, detail string) MCPError {
	return NewError(
		CodeMetadataFetchFailed,
		fmt.Sprintf("Failed to fetch %s from %s: %d %s", document, url, statusCode, detail),
		CategoryDiscovery,
		SeverityWarning,
	).WithData(&DiscoveryErrorData{
		Document:   document,
		URL:        url,
		StatusCode: statusCode,
	})
}

// MetadataRequestFailed creates an error for a discovery request that failed
// before a response arrived, or whose body could not be decoded
func MetadataRequestFailed(document, url string, cause error) MCPError {
	return WrapError(
		cause,
		CodeMetadataFetchFailed,
		fmt.Sprintf("Failed to fetch %s from %s: %s", document, url, reason(cause)),
		CategoryDiscovery,
		SeverityWarning,
	).WithData(&DiscoveryErrorData{
		Document: document,
		URL:      url,
	})
}

// InvalidMetadata creates an error for a discovery document that violates
// its schema
func InvalidMetadata(document, field, problem string) MCPError {
	message := fmt.Sprintf("%s %s", document, problem)
	if field != "" {
		message = fmt.Sprintf("%s '%s' %s", document, field, problem)
	}
	return NewError(
		CodeInvalidMetadata,
		message,
		CategoryDiscovery,
		SeverityWarning,
	).WithData(&DiscoveryErrorData{
		Document: document,
		Field:    field,
	})
}

// ResourceMismatch creates an error for protected resource metadata whose
// resource does not name the server being contacted
func ResourceMismatch(resource, target string) MCPError {
	return NewError(
		CodeResourceMismatch,
		fmt.Sprintf(
			"Protected Resource Metadata resource property value %q (length: %d) does not match target server url %q (length: %d). These must match per RFC 9728",
			resource, len(resource), target, len(target),
		),
		CategoryDiscovery,
		SeverityError,
	).WithData(&DiscoveryErrorData{
		Document: "resource metadata",
		URL:      resource,
		Field:    "resource",
	})
}

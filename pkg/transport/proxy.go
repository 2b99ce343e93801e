package transport

import (
	"context"

	"golang.org/x/oauth2"

	"github.com/ajitpratap0/mcp-http-transport/pkg/logging"
	"github.com/ajitpratap0/mcp-http-transport/pkg/oauth"
)

// ReasonNeedsUserInteraction is the Stopped reason reported when a token
// could only be obtained by prompting the user
const ReasonNeedsUserInteraction = "needs-user-interaction"

// StateKind enumerates the connection states reported to the owner
type StateKind int

const (
	// StateStopped means the handle is closed or cannot continue without help
	StateStopped StateKind = iota
	// StateRunning means the handle is accepting messages
	StateRunning
	// StateError means a request failed; see State.Message
	StateError
)

// String returns the state name
func (k StateKind) String() string {
	switch k {
	case StateStopped:
		return "stopped"
	case StateRunning:
		return "running"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

// State is a connection state change
type State struct {
	Kind StateKind `json:"state"`

	// Message describes the failure of an Error state
	Message string `json:"message,omitempty"`

	// ShouldRetry hints that the owner should reconnect with a new session
	ShouldRetry bool `json:"should_retry,omitempty"`

	// Reason explains a Stopped state
	Reason string `json:"reason,omitempty"`
}

// AuthContext describes where tokens for the server come from. It is
// discovered on the first 401 or 403 and handed to the owner when a token
// is needed.
type AuthContext struct {
	AuthorizationServer string                             `json:"authorization_server"`
	ServerMetadata      *oauth.AuthorizationServerMetadata `json:"server_metadata"`
	ResourceMetadata    *oauth.ProtectedResourceMetadata   `json:"resource_metadata,omitempty"`
	Scopes              []string                           `json:"scopes,omitempty"`
}

// TokenOptions are passed through to the owner's token providers
type TokenOptions struct {
	// ErrorOnUserInteraction asks the provider to fail with
	// errors.UserInteractionRequired instead of prompting
	ErrorOnUserInteraction bool

	// ForceNewRegistration asks the provider to discard any cached client
	// registration for the authorization server
	ForceNewRegistration bool
}

// Proxy is the owner of a Handle. Every callback carries the handle id.
//
// The token methods may return a nil token with a nil error when no token is
// available; the request then goes out unauthenticated.
type Proxy interface {
	ReceiveMessage(id string, message string)
	ChangeState(id string, state State)
	PublishLog(id string, level logging.Level, message string)

	TokenFromServerMetadata(ctx context.Context, id string, auth AuthContext, opts TokenOptions) (*oauth2.Token, error)
	TokenForProvider(ctx context.Context, id string, providerID string, scopes []string, opts TokenOptions) (*oauth2.Token, error)
}

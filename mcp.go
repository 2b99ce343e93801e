package mcp

import (
	"github.com/ajitpratap0/mcp-http-transport/pkg/transport"
)

// Version represents the current version of the transport
const Version = transport.Version

// These exports provide direct access to the core transport components
var (
	// NewHandle creates a connection to a remote MCP server
	NewHandle = transport.NewHandle

	// DefaultConfig returns the configuration options start from
	DefaultConfig = transport.DefaultConfig
)

// Handle options
var (
	WithHTTPClient             = transport.WithHTTPClient
	WithLogger                 = transport.WithLogger
	WithLogLevel               = transport.WithLogLevel
	WithClock                  = transport.WithClock
	WithMetrics                = transport.WithMetrics
	WithTracer                 = transport.WithTracer
	WithUserAgent              = transport.WithUserAgent
	WithErrorOnUserInteraction = transport.WithErrorOnUserInteraction
	WithMaxRedirects           = transport.WithMaxRedirects
	WithMaxBackoff             = transport.WithMaxBackoff
)

// State kinds reported through Proxy.ChangeState
const (
	StateStopped = transport.StateStopped
	StateRunning = transport.StateRunning
	StateError   = transport.StateError
)

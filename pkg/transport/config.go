package transport

import (
	"net"
	"net/http"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/ajitpratap0/mcp-http-transport/pkg/logging"
	"github.com/ajitpratap0/mcp-http-transport/pkg/observability"
)

const (
	// Version is reported in the User-Agent of every request
	Version = "1.0.0"

	// ProtocolRevision is sent as MCP-Protocol-Version during auth discovery
	ProtocolRevision = "2025-06-18"

	// DefaultMaxRedirects is the number of redirects followed for one request
	DefaultMaxRedirects = 5

	// DefaultBackoffStep is added to the backchannel reconnect delay per attempt
	DefaultBackoffStep = time.Second

	// DefaultMaxBackoff caps the backchannel reconnect delay
	DefaultMaxBackoff = 30 * time.Second
)

// Header names used on the wire
const (
	HeaderSessionID       = "Mcp-Session-Id"
	HeaderLastEventID     = "Last-Event-ID"
	HeaderProtocolVersion = "MCP-Protocol-Version"
)

// AuthBinding names an authentication provider the owner can mint tokens from
type AuthBinding struct {
	ProviderID string   `json:"provider_id"`
	Scopes     []string `json:"scopes,omitempty"`
}

// LaunchConfig holds the connection parameters supplied by the owner. The
// handle never modifies it.
type LaunchConfig struct {
	// URI is the MCP endpoint
	URI string `json:"uri"`

	// Headers are sent with every request to the endpoint. Protocol headers
	// and the Authorization header are applied after them.
	Headers map[string]string `json:"headers,omitempty"`

	// Auth optionally binds the handle to a named provider
	Auth *AuthBinding `json:"auth,omitempty"`
}

// ConnectionConfig tunes the default HTTP client. It is ignored when a client
// is supplied with WithHTTPClient.
type ConnectionConfig struct {
	KeepAlive       time.Duration `json:"keep_alive"`
	MaxIdleConns    int           `json:"max_idle_conns"`
	MaxConnsPerHost int           `json:"max_conns_per_host"`
	IdleConnTimeout time.Duration `json:"idle_conn_timeout"`
}

// Config is the handle configuration. Start from DefaultConfig and adjust it
// with options.
type Config struct {
	Connection ConnectionConfig `json:"connection"`

	// HTTPClient overrides the client built from Connection. Its redirect
	// policy is replaced; the handle follows redirects itself.
	HTTPClient *http.Client `json:"-"`

	// Logger receives handle diagnostics. When nil, entries are published to
	// the owner through Proxy.PublishLog at LogLevel.
	Logger   logging.Logger `json:"-"`
	LogLevel logging.Level  `json:"log_level"`

	Clock   clockwork.Clock                `json:"-"`
	Metrics *observability.TransportMetrics `json:"-"`
	Tracer  *observability.TracingProvider  `json:"-"`

	UserAgent              string        `json:"user_agent"`
	ErrorOnUserInteraction bool          `json:"error_on_user_interaction"`
	MaxRedirects           int           `json:"max_redirects"`
	BackoffStep            time.Duration `json:"backoff_step"`
	MaxBackoff             time.Duration `json:"max_backoff"`
}

// DefaultConfig returns a configuration with sensible defaults
func DefaultConfig() Config {
	return Config{
		Connection: ConnectionConfig{
			KeepAlive:       30 * time.Second,
			MaxIdleConns:    100,
			MaxConnsPerHost: 10,
			IdleConnTimeout: 90 * time.Second,
		},
		LogLevel:     logging.InfoLevel,
		Clock:        clockwork.NewRealClock(),
		UserAgent:    "mcp-http-transport/" + Version,
		MaxRedirects: DefaultMaxRedirects,
		BackoffStep:  DefaultBackoffStep,
		MaxBackoff:   DefaultMaxBackoff,
	}
}

// Option configures a Handle
type Option func(*Config)

// WithHTTPClient sets the HTTP client used for every request
func WithHTTPClient(client *http.Client) Option {
	return func(c *Config) {
		c.HTTPClient = client
	}
}

// WithLogger sends diagnostics to logger instead of the owner's log channel
func WithLogger(logger logging.Logger) Option {
	return func(c *Config) {
		c.Logger = logger
	}
}

// WithLogLevel sets the minimum level published to the owner
func WithLogLevel(level logging.Level) Option {
	return func(c *Config) {
		c.LogLevel = level
	}
}

// WithClock sets the clock driving reconnect waits
func WithClock(clock clockwork.Clock) Option {
	return func(c *Config) {
		c.Clock = clock
	}
}

// WithMetrics records transport activity in metrics
func WithMetrics(metrics *observability.TransportMetrics) Option {
	return func(c *Config) {
		c.Metrics = metrics
	}
}

// WithTracer traces every HTTP exchange
func WithTracer(tracer *observability.TracingProvider) Option {
	return func(c *Config) {
		c.Tracer = tracer
	}
}

// WithUserAgent overrides the User-Agent header
func WithUserAgent(userAgent string) Option {
	return func(c *Config) {
		c.UserAgent = userAgent
	}
}

// WithErrorOnUserInteraction asks token providers to fail rather than prompt
func WithErrorOnUserInteraction(enabled bool) Option {
	return func(c *Config) {
		c.ErrorOnUserInteraction = enabled
	}
}

// WithMaxRedirects sets how many redirects are followed per request
func WithMaxRedirects(n int) Option {
	return func(c *Config) {
		c.MaxRedirects = n
	}
}

// WithMaxBackoff caps the backchannel reconnect delay
func WithMaxBackoff(d time.Duration) Option {
	return func(c *Config) {
		c.MaxBackoff = d
	}
}

// newHTTPClient builds the client requests go through. Redirects are never
// followed by net/http, and wire tracing is layered over the transport.
func newHTTPClient(config Config, logger logging.Logger) *http.Client {
	var client http.Client
	if config.HTTPClient != nil {
		client = *config.HTTPClient
	} else {
		conn := config.Connection
		client.Transport = &http.Transport{
			Proxy: http.ProxyFromEnvironment,
			DialContext: (&net.Dialer{
				Timeout:   30 * time.Second,
				KeepAlive: conn.KeepAlive,
			}).DialContext,
			ForceAttemptHTTP2:   true,
			MaxIdleConns:        conn.MaxIdleConns,
			MaxConnsPerHost:     conn.MaxConnsPerHost,
			IdleConnTimeout:     conn.IdleConnTimeout,
			TLSHandshakeTimeout: 10 * time.Second,
		}
	}

	client.Transport = logging.NewTraceRoundTripper(client.Transport, logger)
	client.CheckRedirect = func(*http.Request, []*http.Request) error {
		return http.ErrUseLastResponse
	}
	return &client
}

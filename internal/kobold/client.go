// Package kobold forwards generation and status requests to a
// koboldcpp-compatible backend.
package kobold

import (
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"kobold-gateway/internal/models"
)

const (
	contentTypeJSON        = "application/json"
	contentTypeEventStream = "text/event-stream"
	userAgent              = "kobold-gateway/0.1"

	generatePath       = "/v1/generate"
	generateStreamPath = "/extra/generate/stream"
	versionPath        = "/v1/info/version"
	extraVersionPath   = "/extra/version"
	modelPath          = "/v1/model"

	// DefaultMaxAttempts is the total number of buffered generation attempts.
	DefaultMaxAttempts = 3
	// DefaultRetryDelay is the wait between attempts after a transient failure.
	DefaultRetryDelay = 2500 * time.Millisecond

	maxErrorBodyBytes = 64 * 1024

	defaultDialTimeout     = 10 * time.Second
	defaultKeepAlive       = 30 * time.Second
	defaultIdleConnTimeout = 90 * time.Second
)

// Doer issues HTTP requests. *http.Client satisfies it.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Client talks to koboldcpp backends. The backend address travels with each
// request, so a single Client serves any number of servers.
type Client struct {
	doer        Doer
	markers     models.Markers
	maxAttempts int
	retryDelay  time.Duration
	logger      *slog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithDoer replaces the HTTP client.
func WithDoer(d Doer) Option {
	return func(c *Client) { c.doer = d }
}

// WithMarkers sets the marker set used to render request messages and to
// extend the DRY sequence breakers.
func WithMarkers(m models.Markers) Option {
	return func(c *Client) { c.markers = m }
}

// WithRetry overrides the attempt budget and the delay between attempts.
func WithRetry(attempts int, delay time.Duration) Option {
	return func(c *Client) {
		if attempts > 0 {
			c.maxAttempts = attempts
		}
		c.retryDelay = delay
	}
}

// WithLogger sets the logger for retry and prompt diagnostics.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// New constructs a Client.
func New(opts ...Option) *Client {
	c := &Client{
		maxAttempts: DefaultMaxAttempts,
		retryDelay:  DefaultRetryDelay,
	}
	for _, o := range opts {
		o(c)
	}
	if c.doer == nil {
		c.doer = NewHTTPClient()
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	return c
}

// NewHTTPClient returns a client tuned for long-running generations. It sets
// no overall timeout so streamed responses are not cut off; request contexts
// bound each call instead.
func NewHTTPClient() *http.Client {
	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           (&net.Dialer{Timeout: defaultDialTimeout, KeepAlive: defaultKeepAlive}).DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          20,
		IdleConnTimeout:       defaultIdleConnTimeout,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
	return &http.Client{Transport: transport}
}

// NormalizeServer rewrites localhost to the IPv4 loopback address and drops
// trailing slashes.
func NormalizeServer(apiServer string) string {
	server := strings.TrimSpace(apiServer)
	server = strings.Replace(server, "localhost", "127.0.0.1", 1)
	return strings.TrimRight(server, "/")
}

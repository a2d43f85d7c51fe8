package cgls

import (
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/rs/zerolog"

	internalhttp "github.com/example/go-cgls/cgls/internal/http"
)

// Option configures a Client.
type Option func(*Client) error

// WithBaseURL overrides the default manifest portal URL.
func WithBaseURL(raw string) Option {
	return func(c *Client) error {
		if raw == "" {
			return fmt.Errorf("base url cannot be empty")
		}
		if _, err := url.Parse(raw); err != nil {
			return fmt.Errorf("parse base url: %w", err)
		}
		c.baseURL = raw
		return nil
	}
}

// WithHTTPClient allows providing a custom HTTP client implementation.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) error {
		if hc == nil {
			return fmt.Errorf("http client cannot be nil")
		}
		c.httpClient = hc
		if c.httpClient.Timeout == 0 {
			c.httpClient.Timeout = 30 * time.Second
		}
		return nil
	}
}

// WithTimeout overrides the HTTP client's request timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) error {
		if d <= 0 {
			return fmt.Errorf("timeout must be positive")
		}
		c.httpClient.Timeout = d
		return nil
	}
}

// WithUserAgent sets a custom user-agent header for outbound requests.
func WithUserAgent(ua string) Option {
	return func(c *Client) error {
		if ua != "" {
			c.userAgent = ua
		}
		return nil
	}
}

// WithRetryPolicy sets the retry policy used for listing requests.
// Downloads are never retried regardless of this policy.
func WithRetryPolicy(policy internalhttp.RetryPolicy) Option {
	return func(c *Client) error {
		if policy == nil {
			return fmt.Errorf("retry policy cannot be nil")
		}
		c.retry = policy
		return nil
	}
}

// WithTableParser substitutes the HTML table extraction collaborator.
func WithTableParser(p TableParser) Option {
	return func(c *Client) error {
		if p == nil {
			return fmt.Errorf("table parser cannot be nil")
		}
		c.tables = p
		return nil
	}
}

// WithLogger sets the logger used by the client and its download managers.
func WithLogger(log zerolog.Logger) Option {
	return func(c *Client) error {
		c.log = log
		return nil
	}
}

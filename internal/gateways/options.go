package gateways

import (
	"net/http"
	"time"
)

// ClientOption adjusts the HTTP client backing a gateway.
type ClientOption func(*http.Client)

// WithTimeout overrides the client's default request timeout.
func WithTimeout(timeout time.Duration) ClientOption {
	return func(c *http.Client) {
		if timeout > 0 {
			c.Timeout = timeout
		}
	}
}

func applyClientOptions(c *http.Client, opts []ClientOption) *http.Client {
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c
}

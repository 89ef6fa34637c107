// Package dispatch implements the task handlers that execute the actual
// outbound work for the queue: delivering a message to a channel,
// submitting it to an AI channel, fetching a linked URL, and running
// registered system maintenance actions.
package dispatch

import (
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"messagepusher/internal/store"
)

// Clients caches one *http.Client per distinct proxy configuration so a
// channel template routed through a given proxy reuses its connections
// instead of paying a fresh dial/handshake on every attempt.
type Clients struct {
	mu      sync.Mutex
	timeout time.Duration
	byProxy map[string]*http.Client
	direct  *http.Client
}

// NewClients builds a client cache with the given per-request timeout.
func NewClients(timeout time.Duration) *Clients {
	return &Clients{
		timeout: timeout,
		byProxy: make(map[string]*http.Client),
		direct:  &http.Client{Timeout: timeout},
	}
}

// For returns the *http.Client to use for a template's proxy config (nil
// meaning no proxy, i.e. direct dial).
func (c *Clients) For(proxy *store.ProxyConfig) (*http.Client, error) {
	if proxy == nil || (proxy.HTTP == "" && proxy.HTTPS == "") {
		return c.direct, nil
	}

	key := proxy.HTTP + "|" + proxy.HTTPS
	c.mu.Lock()
	defer c.mu.Unlock()
	if client, ok := c.byProxy[key]; ok {
		return client, nil
	}

	transport := &http.Transport{
		Proxy: func(req *http.Request) (*url.URL, error) {
			raw := proxy.HTTP
			if req.URL.Scheme == "https" && proxy.HTTPS != "" {
				raw = proxy.HTTPS
			}
			if raw == "" {
				return nil, nil
			}
			u, err := url.Parse(raw)
			if err != nil {
				return nil, fmt.Errorf("dispatch: parse proxy url: %w", err)
			}
			return u, nil
		},
	}
	client := &http.Client{Timeout: c.timeout, Transport: transport}
	c.byProxy[key] = client
	return client, nil
}

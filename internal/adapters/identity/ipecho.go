// Package identity reads the device's public IP from an echo endpoint.
package identity

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

const DefaultEchoURL = "https://api.ipify.org"

var ErrEmptyIdentity = errors.New("identity endpoint returned an empty body")

// IPEcho caches the last IP reported by an HTTP echo service.
type IPEcho struct {
	url    string
	client *http.Client
	logger *zerolog.Logger

	mu      sync.RWMutex
	current string
}

func NewIPEcho(url string, timeout time.Duration, logger *zerolog.Logger) *IPEcho {
	if url == "" {
		url = DefaultEchoURL
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if logger == nil {
		l := zerolog.Nop()
		logger = &l
	}
	return &IPEcho{
		url: url,
		// no keep-alive: a rotated network must not reuse the old connection
		client: &http.Client{
			Timeout:   timeout,
			Transport: &http.Transport{DisableKeepAlives: true, Proxy: http.ProxyFromEnvironment},
		},
		logger: logger,
	}
}

// Current returns the last fetched identity, or "" before the first Refresh.
func (p *IPEcho) Current() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.current
}

// Refresh fetches the identity again. On failure the cached value is kept.
func (p *IPEcho) Refresh(ctx context.Context) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.url, nil)
	if err != nil {
		return "", fmt.Errorf("build identity request: %w", err)
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetch identity: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("fetch identity: status %d", resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 256))
	if err != nil {
		return "", fmt.Errorf("read identity: %w", err)
	}
	ip := strings.TrimSpace(string(body))
	if ip == "" {
		return "", ErrEmptyIdentity
	}
	if net.ParseIP(ip) == nil {
		return "", fmt.Errorf("identity %q is not an IP address", ip)
	}
	p.mu.Lock()
	prev := p.current
	p.current = ip
	p.mu.Unlock()
	if prev != ip {
		p.logger.Debug().Str("from", prev).Str("to", ip).Msg("identity changed")
	}
	return ip, nil
}

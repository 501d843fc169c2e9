package identity

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestRefreshCachesIdentity(t *testing.T) {
	ips := []string{"198.51.100.7\n", "203.0.113.9"}
	var n atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		i := int(n.Add(1)) - 1
		_, _ = io.WriteString(w, ips[i%len(ips)])
	}))
	defer srv.Close()

	p := NewIPEcho(srv.URL, time.Second, nil)
	if p.Current() != "" {
		t.Fatalf("identity should be empty before refresh")
	}
	ip, err := p.Refresh(context.Background())
	if err != nil || ip != "198.51.100.7" || p.Current() != ip {
		t.Fatalf("first refresh: ip=%q current=%q err=%v", ip, p.Current(), err)
	}
	ip, err = p.Refresh(context.Background())
	if err != nil || ip != "203.0.113.9" || p.Current() != ip {
		t.Fatalf("second refresh: ip=%q current=%q err=%v", ip, p.Current(), err)
	}
}

func TestRefreshErrorsKeepCachedValue(t *testing.T) {
	var mu sync.Mutex
	body, status := "198.51.100.7", http.StatusOK
	respond := func(b string, code int) {
		mu.Lock()
		body, status = b, code
		mu.Unlock()
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		b, code := body, status
		mu.Unlock()
		w.WriteHeader(code)
		_, _ = io.WriteString(w, b)
	}))
	defer srv.Close()
	p := NewIPEcho(srv.URL, time.Second, nil)
	if _, err := p.Refresh(context.Background()); err != nil {
		t.Fatalf("seed: %v", err)
	}

	respond("  ", http.StatusOK)
	if _, err := p.Refresh(context.Background()); !errors.Is(err, ErrEmptyIdentity) {
		t.Fatalf("want ErrEmptyIdentity, got %v", err)
	}
	respond("<html>captive portal</html>", http.StatusOK)
	if _, err := p.Refresh(context.Background()); err == nil {
		t.Fatalf("non-IP body should fail")
	}
	respond("203.0.113.9", http.StatusBadGateway)
	if _, err := p.Refresh(context.Background()); err == nil {
		t.Fatalf("non-200 should fail")
	}
	if p.Current() != "198.51.100.7" {
		t.Fatalf("failed refreshes must keep the cached identity, got %q", p.Current())
	}
}

func TestDefaultURL(t *testing.T) {
	if p := NewIPEcho("", 0, nil); p.url != DefaultEchoURL {
		t.Fatalf("default url: %q", p.url)
	}
}

package executor

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"simctl/internal/domain"
)

type staticSettings struct {
	mu sync.Mutex
	s  domain.Settings
}

func (s *staticSettings) LoadSettings(ctx context.Context) (domain.Settings, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.s, nil
}

type outcome struct {
	ok     bool
	status int
	err    string
}

type chanCallback chan outcome

func (c chanCallback) OnSuccess(status int, latencyMs int64) { c <- outcome{ok: true, status: status} }
func (c chanCallback) OnError(msg string)                    { c <- outcome{err: msg} }

func run(t *testing.T, e *HTTPExecutor, url string, profile domain.BrowsingProfile) outcome {
	t.Helper()
	cb := make(chanCallback, 1)
	e.Execute(context.Background(), url, profile, domain.Session{ID: "s1"}, cb)
	select {
	case o := <-cb:
		return o
	case <-time.After(5 * time.Second):
		t.Fatalf("callback never fired")
		return outcome{}
	}
}

func newTestExecutor(s *staticSettings) *HTTPExecutor {
	l := zerolog.New(io.Discard)
	var src SettingsSource
	if s != nil {
		src = s
	}
	return NewHTTPExecutor(Config{Timeout: 5 * time.Second}, src, &l)
}

func TestExecuteSendsProfileHeaders(t *testing.T) {
	reqs := make(chan *http.Request, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqs <- r.Clone(context.Background())
		_, _ = io.WriteString(w, "<html>ok</html>")
	}))
	defer srv.Close()

	e := newTestExecutor(nil)
	o := run(t, e, srv.URL, domain.BrowsingProfile{UserAgent: "TestAgent/1.0", Region: "slovakia"})
	if !o.ok || o.status != 200 {
		t.Fatalf("unexpected outcome: %+v", o)
	}
	r := <-reqs
	if r.Method != http.MethodGet || r.UserAgent() != "TestAgent/1.0" || !strings.HasPrefix(r.Header.Get("Accept-Language"), "sk-SK") {
		t.Fatalf("headers: method=%q ua=%q lang=%q", r.Method, r.UserAgent(), r.Header.Get("Accept-Language"))
	}
}

func TestExecuteErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	o := run(t, newTestExecutor(nil), srv.URL, domain.BrowsingProfile{})
	if o.ok || !strings.Contains(o.err, "500") {
		t.Fatalf("want status error, got %+v", o)
	}
}

func TestExecuteUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()
	if o := run(t, newTestExecutor(nil), url, domain.BrowsingProfile{}); o.ok || o.err == "" {
		t.Fatalf("closed server should fail, got %+v", o)
	}
	if o := run(t, newTestExecutor(nil), "://bad", domain.BrowsingProfile{}); o.ok {
		t.Fatalf("malformed url should fail")
	}
}

func TestExecuteRedirectToggle(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/start", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/final", http.StatusFound)
	})
	mux.HandleFunc("/final", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	settings := &staticSettings{s: domain.Settings{HandleRedirects: true}}
	e := newTestExecutor(settings)
	if o := run(t, e, srv.URL+"/start", domain.BrowsingProfile{}); !o.ok || o.status != 200 {
		t.Fatalf("followed redirect: %+v", o)
	}

	settings.mu.Lock()
	settings.s.HandleRedirects = false
	settings.mu.Unlock()
	if o := run(t, e, srv.URL+"/start", domain.BrowsingProfile{}); !o.ok || o.status != http.StatusFound {
		t.Fatalf("unfollowed redirect should succeed with 302: %+v", o)
	}
}

func TestExecuteCookieClearing(t *testing.T) {
	var mu sync.Mutex
	var seen []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		seen = append(seen, r.Header.Get("Cookie"))
		mu.Unlock()
		http.SetCookie(w, &http.Cookie{Name: "sid", Value: "abc", Path: "/"})
	}))
	defer srv.Close()
	cookies := func() []string {
		mu.Lock()
		defer mu.Unlock()
		return append([]string(nil), seen...)
	}

	keep := newTestExecutor(&staticSettings{s: domain.Settings{HandleRedirects: true}})
	run(t, keep, srv.URL, domain.BrowsingProfile{})
	run(t, keep, srv.URL, domain.BrowsingProfile{})
	if got := cookies(); got[1] != "sid=abc" {
		t.Fatalf("shared client should resend cookies, got %q", got)
	}

	mu.Lock()
	seen = nil
	mu.Unlock()
	clearing := newTestExecutor(&staticSettings{s: domain.Settings{HandleRedirects: true, AggressiveSessionClearing: true}})
	run(t, clearing, srv.URL, domain.BrowsingProfile{})
	run(t, clearing, srv.URL, domain.BrowsingProfile{})
	if got := cookies(); got[1] != "" {
		t.Fatalf("aggressive clearing should drop cookies, got %q", got)
	}

	mu.Lock()
	seen = nil
	mu.Unlock()
	fresh := newTestExecutor(&staticSettings{s: domain.Settings{HandleRedirects: true, NewTransportPerRequest: true}})
	run(t, fresh, srv.URL, domain.BrowsingProfile{})
	run(t, fresh, srv.URL, domain.BrowsingProfile{})
	if got := cookies(); got[1] != "" {
		t.Fatalf("per-request client should start without cookies, got %q", got)
	}
}

func TestAcceptLanguageFallback(t *testing.T) {
	if got := AcceptLanguage("atlantis"); got != "en-US,en;q=0.9" {
		t.Fatalf("unexpected fallback %q", got)
	}
	if got := AcceptLanguage("germany"); !strings.HasPrefix(got, "de-DE") {
		t.Fatalf("unexpected germany value %q", got)
	}
}

func TestPerRequestTransportClosesConnections(t *testing.T) {
	var mu sync.Mutex
	var closing []bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		closing = append(closing, r.Close)
		mu.Unlock()
	}))
	defer srv.Close()
	seen := func() []bool {
		mu.Lock()
		defer mu.Unlock()
		return append([]bool(nil), closing...)
	}

	fresh := newTestExecutor(&staticSettings{s: domain.Settings{HandleRedirects: true, NewTransportPerRequest: true}})
	run(t, fresh, srv.URL, domain.BrowsingProfile{})
	if got := seen(); len(got) != 1 || !got[0] {
		t.Fatalf("one-shot transport should ask for connection close, got %v", got)
	}

	mu.Lock()
	closing = nil
	mu.Unlock()
	shared := newTestExecutor(&staticSettings{s: domain.Settings{HandleRedirects: true}})
	run(t, shared, srv.URL, domain.BrowsingProfile{})
	if got := seen(); len(got) != 1 || got[0] {
		t.Fatalf("shared transport should keep connections alive, got %v", got)
	}
}

package executor

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"simctl/internal/domain"
	"simctl/internal/usecase"
	"simctl/pkg/shared/redact"
)

// maxBodyBytes is how much of a response body is drained before closing.
const maxBodyBytes = 1 << 20

// SettingsSource supplies the transport toggles read on every request.
type SettingsSource interface {
	LoadSettings(ctx context.Context) (domain.Settings, error)
}

// Config holds settings for the HTTP executor.
type Config struct {
	Timeout time.Duration
	Proxy   func(*http.Request) (*url.URL, error)
	Headers http.Header
}

// HTTPExecutor issues one GET per Execute using the profile's User-Agent and
// a region-matched Accept-Language. 2xx and 3xx responses count as success.
type HTTPExecutor struct {
	cfg      Config
	settings SettingsSource
	logger   *zerolog.Logger

	mu        sync.Mutex
	shared    *http.Client
	redirects bool
}

func NewHTTPExecutor(cfg Config, settings SettingsSource, logger *zerolog.Logger) *HTTPExecutor {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if logger == nil {
		l := zerolog.Nop()
		logger = &l
	}
	return &HTTPExecutor{cfg: cfg, settings: settings, logger: logger}
}

var _ usecase.RequestExecutor = (*HTTPExecutor)(nil)

// Execute returns immediately; the callback fires from a worker goroutine.
func (e *HTTPExecutor) Execute(ctx context.Context, endpoint string, profile domain.BrowsingProfile, session domain.Session, cb usecase.Callback) {
	opts := e.loadOptions(ctx)
	client := e.client(opts)
	go func() {
		status, latency, err := e.do(ctx, client, endpoint, profile)
		if err != nil {
			e.logger.Debug().Err(err).Str("session", session.ID).Str("target", redact.RedactURL(endpoint)).Msg("request error")
			cb.OnError(err.Error())
			return
		}
		if status < 200 || status >= 400 {
			cb.OnError(fmt.Sprintf("unexpected status %d", status))
			return
		}
		cb.OnSuccess(status, latency.Milliseconds())
	}()
}

func (e *HTTPExecutor) do(ctx context.Context, client *http.Client, endpoint string, profile domain.BrowsingProfile) (int, time.Duration, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return 0, 0, fmt.Errorf("build request: %w", err)
	}
	for k, vs := range e.cfg.Headers {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	if profile.UserAgent != "" {
		req.Header.Set("User-Agent", profile.UserAgent)
	}
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	req.Header.Set("Accept-Language", AcceptLanguage(profile.Region))

	began := time.Now()
	resp, err := client.Do(req)
	if err != nil {
		return 0, 0, err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxBodyBytes))
	return resp.StatusCode, time.Since(began), nil
}

func (e *HTTPExecutor) loadOptions(ctx context.Context) domain.Settings {
	if e.settings == nil {
		return domain.Settings{HandleRedirects: true}
	}
	s, err := e.settings.LoadSettings(ctx)
	if err != nil {
		e.logger.Warn().Err(err).Msg("load transport settings failed, using defaults")
		return domain.Settings{HandleRedirects: true}
	}
	return s
}

// client returns the shared client, a fresh one per request, or a shared
// client with its cookies dropped, depending on the toggles.
func (e *HTTPExecutor) client(opts domain.Settings) *http.Client {
	if opts.NewTransportPerRequest {
		// nothing reuses a one-shot transport, so it keeps no idle conns
		return e.newClient(opts.HandleRedirects, false)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.shared == nil || e.redirects != opts.HandleRedirects {
		if e.shared != nil {
			e.shared.CloseIdleConnections()
		}
		e.shared = e.newClient(opts.HandleRedirects, true)
		e.redirects = opts.HandleRedirects
	} else if opts.AggressiveSessionClearing {
		cp := *e.shared
		cp.Jar = newJar()
		e.shared = &cp
	}
	return e.shared
}

func (e *HTTPExecutor) newClient(followRedirects, keepAlive bool) *http.Client {
	transport := &http.Transport{
		DisableKeepAlives: !keepAlive,
		Proxy:             e.cfg.Proxy,
		DialContext: (&net.Dialer{
			Timeout:   e.cfg.Timeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		ForceAttemptHTTP2:   true,
		MaxIdleConns:        10,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
	}
	c := &http.Client{
		Transport: transport,
		Timeout:   e.cfg.Timeout,
		Jar:       newJar(),
	}
	if !followRedirects {
		c.CheckRedirect = func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		}
	}
	return c
}

func newJar() http.CookieJar {
	jar, _ := cookiejar.New(nil) // never fails with nil options
	return jar
}

var regionLanguages = map[string]string{
	"slovakia":       "sk-SK,sk;q=0.9,cs;q=0.8,en-US;q=0.7,en;q=0.6",
	"czechia":        "cs-CZ,cs;q=0.9,sk;q=0.8,en-US;q=0.7,en;q=0.6",
	"germany":        "de-DE,de;q=0.9,en-US;q=0.8,en;q=0.7",
	"austria":        "de-AT,de;q=0.9,en-US;q=0.8,en;q=0.7",
	"poland":         "pl-PL,pl;q=0.9,en-US;q=0.8,en;q=0.7",
	"hungary":        "hu-HU,hu;q=0.9,en-US;q=0.8,en;q=0.7",
	"united_kingdom": "en-GB,en;q=0.9",
	"united_states":  "en-US,en;q=0.9",
}

// AcceptLanguage maps a profile region to an Accept-Language header value.
func AcceptLanguage(region string) string {
	if v, ok := regionLanguages[region]; ok {
		return v
	}
	return "en-US,en;q=0.9"
}

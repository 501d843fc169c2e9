package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"simctl/internal/domain"
	"simctl/internal/infrastructure/config"
	obs "simctl/internal/infrastructure/observability"
	"simctl/internal/usecase"
)

type Deps struct {
	Cfg      config.Config
	Logger   *zerolog.Logger
	Metrics  *obs.Metrics
	Ctrl     *usecase.Controller
	Settings usecase.SettingsStore
	Monitor  *MonitorHub
	// SettingsApplied, when set, sees every saved settings update.
	SettingsApplied func(domain.Settings)
	// Ready reports whether backing storage is usable; nil means always ready.
	Ready func(ctx context.Context) error
}

func NewRouter(d *Deps) http.Handler {
	r := chi.NewRouter()
	r.Use(CORS(d.Cfg.CORSAllowOrigin))
	r.Use(RequestID)
	r.Use(Logger(d.Logger))
	r.Use(Recovery(d.Logger))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Get("/readyz", d.handleReady)
	if d.Metrics != nil {
		r.Handle("/metrics", promhttp.HandlerFor(d.Metrics.Registry(), promhttp.HandlerOpts{}))
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/version", func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusOK, map[string]any{
				"name":  "simctl",
				"build": obs.Build(),
				"time":  time.Now().UTC(),
			})
		})

		r.Group(func(r chi.Router) {
			r.Use(BearerAuth(d.Cfg.APIToken))

			r.Route("/session", func(r chi.Router) {
				r.Get("/", d.handleCurrentSession)
				r.Get("/status", d.handleStatus)
				r.Post("/start", d.handleStart)
				r.Post("/pause", d.handlePause)
				r.Post("/resume", d.handleResume)
				r.Post("/stop", d.handleStop)
				r.Post("/restore", d.handleRestore)
			})
			r.Get("/sessions", d.handleHistory)
			r.Get("/settings", d.handleGetSettings)
			r.Post("/settings", d.handleUpdateSettings)
			r.Get("/monitor/ws", d.Monitor.HandleWS)
			r.Get("/monitor/events", d.handleMonitorEvents)
		})
	})
	return r
}

func (d *Deps) handleReady(w http.ResponseWriter, r *http.Request) {
	if d.Ready != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := d.Ready(ctx); err != nil {
			writeError(w, http.StatusServiceUnavailable, "NOT_READY", err.Error(), nil)
			return
		}
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}

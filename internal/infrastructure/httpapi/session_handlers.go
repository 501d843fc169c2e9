package httpapi

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"simctl/internal/domain"
	"simctl/internal/usecase"
)

// startRequest fields left out of the body fall back to stored settings.
type startRequest struct {
	URL           string `json:"url"`
	Iterations    *int   `json:"iterations"`
	MinInterval   *int   `json:"minInterval"`
	MaxInterval   *int   `json:"maxInterval"`
	RotateIP      *bool  `json:"rotateIp"`
	RandomProfile *bool  `json:"randomProfile"`
	TransportMode string `json:"transportMode"`
}

type commandResponse struct {
	OK      bool            `json:"ok"`
	Message string          `json:"message,omitempty"`
	Session *domain.Session `json:"session,omitempty"`
}

func (d *Deps) handleStart(w http.ResponseWriter, r *http.Request) {
	var in startRequest
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, "BAD_JSON", "invalid json", err.Error())
		return
	}
	var stored domain.Settings
	if d.Settings != nil {
		s, err := d.Settings.LoadSettings(r.Context())
		if err != nil {
			writeError(w, http.StatusInternalServerError, "SETTINGS_UNAVAILABLE", err.Error(), nil)
			return
		}
		stored = s
	}
	opts := startOptions(in, stored)

	_, err := d.Ctrl.Start(r.Context(), opts)
	switch {
	case errors.Is(err, usecase.ErrAlreadyRunning):
		writeError(w, http.StatusConflict, "ALREADY_RUNNING", err.Error(), nil)
		return
	case errors.Is(err, usecase.ErrShutdown):
		writeError(w, http.StatusServiceUnavailable, "SHUTTING_DOWN", err.Error(), nil)
		return
	case errors.Is(err, usecase.ErrInvalidOptions):
		writeError(w, http.StatusBadRequest, "INVALID_OPTIONS", err.Error(), nil)
		return
	case errors.Is(err, usecase.ErrNoExecutor):
		writeError(w, http.StatusBadRequest, "NO_EXECUTOR", err.Error(), nil)
		return
	case err != nil:
		writeError(w, http.StatusInternalServerError, "START_FAILED", err.Error(), nil)
		return
	}
	sess, _ := d.Ctrl.CurrentSession()
	d.Monitor.PublishState(sess)
	writeJSON(w, http.StatusAccepted, commandResponse{OK: true, Session: &sess})
}

func startOptions(in startRequest, s domain.Settings) usecase.StartOptions {
	opts := usecase.StartOptions{
		Endpoint:      strings.TrimSpace(in.URL),
		Iterations:    s.Iterations,
		MinInterval:   s.MinInterval,
		MaxInterval:   s.MaxInterval,
		RotateIP:      s.RotateIP,
		RandomProfile: s.UseRandomDeviceProfile,
		Transport:     s.Transport(),
	}
	if opts.Endpoint == "" {
		opts.Endpoint = s.TargetURL
	}
	if in.Iterations != nil {
		opts.Iterations = *in.Iterations
	}
	if in.MinInterval != nil {
		opts.MinInterval = *in.MinInterval
	}
	if in.MaxInterval != nil {
		opts.MaxInterval = *in.MaxInterval
	}
	if in.RotateIP != nil {
		opts.RotateIP = *in.RotateIP
	}
	if in.RandomProfile != nil {
		opts.RandomProfile = *in.RandomProfile
	}
	if in.TransportMode != "" {
		opts.Transport = domain.ParseTransportMode(in.TransportMode)
	}
	return opts
}

func (d *Deps) handlePause(w http.ResponseWriter, r *http.Request) {
	if !d.Ctrl.Pause(r.Context()) {
		writeJSON(w, http.StatusOK, commandResponse{OK: false, Message: usecase.ErrNotRunning.Error() + " or already paused"})
		return
	}
	d.respondWithSession(w)
}

func (d *Deps) handleResume(w http.ResponseWriter, r *http.Request) {
	if !d.Ctrl.Resume(r.Context()) {
		writeJSON(w, http.StatusOK, commandResponse{OK: false, Message: "session is not paused"})
		return
	}
	d.respondWithSession(w)
}

// handleStop is idempotent: stopping an idle controller still reports ok.
func (d *Deps) handleStop(w http.ResponseWriter, r *http.Request) {
	d.Ctrl.Stop(r.Context())
	d.respondWithSession(w)
}

func (d *Deps) handleRestore(w http.ResponseWriter, r *http.Request) {
	if !d.Ctrl.RestoreSession(r.Context()) {
		msg := usecase.ErrNoSavedSession.Error()
		if d.Ctrl.IsRunning() {
			msg = usecase.ErrAlreadyRunning.Error()
		}
		writeJSON(w, http.StatusOK, commandResponse{OK: false, Message: msg})
		return
	}
	d.respondWithSession(w)
}

func (d *Deps) respondWithSession(w http.ResponseWriter) {
	resp := commandResponse{OK: true}
	if sess, ok := d.Ctrl.CurrentSession(); ok {
		d.Monitor.PublishState(sess)
		resp.Session = &sess
	}
	writeJSON(w, http.StatusOK, resp)
}

func (d *Deps) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, d.Ctrl.Status())
}

func (d *Deps) handleCurrentSession(w http.ResponseWriter, r *http.Request) {
	sess, ok := d.Ctrl.CurrentSession()
	if !ok {
		writeError(w, http.StatusNotFound, "NO_SESSION", "no session has been started", nil)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

type historyResponse struct {
	Items  []domain.Session `json:"items"`
	Total  int              `json:"total"`
	Limit  int              `json:"limit"`
	Offset int              `json:"offset"`
}

func (d *Deps) handleHistory(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, err := queryInt(q.Get("limit"), 50)
	if err != nil || limit < 0 {
		writeError(w, http.StatusBadRequest, "BAD_VALUE", "limit must be a non-negative integer", nil)
		return
	}
	offset, err := queryInt(q.Get("offset"), 0)
	if err != nil || offset < 0 {
		writeError(w, http.StatusBadRequest, "BAD_VALUE", "offset must be a non-negative integer", nil)
		return
	}
	items, total, err := d.Ctrl.History(r.Context(), limit, offset)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "HISTORY_UNAVAILABLE", err.Error(), nil)
		return
	}
	if items == nil {
		items = []domain.Session{}
	}
	writeJSON(w, http.StatusOK, historyResponse{Items: items, Total: total, Limit: limit, Offset: offset})
}

func queryInt(raw string, def int) (int, error) {
	if raw == "" {
		return def, nil
	}
	return strconv.Atoi(raw)
}

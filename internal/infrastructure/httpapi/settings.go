package httpapi

import (
	"net/http"
	"strings"

	"simctl/internal/domain"
)

// settingsPatch holds the fields a caller may change; nil fields are kept.
// isRunning is owned by the controller and cannot be written here.
type settingsPatch struct {
	TargetURL                 *string `json:"targetUrl"`
	Iterations                *int    `json:"iterations"`
	MinInterval               *int    `json:"minInterval"`
	MaxInterval               *int    `json:"maxInterval"`
	RotateIP                  *bool   `json:"rotateIp"`
	UseRandomDeviceProfile    *bool   `json:"randomDeviceProfile"`
	UseBrowserTransport       *bool   `json:"useBrowserTransport"`
	NewTransportPerRequest    *bool   `json:"newTransportInstancePerRequest"`
	AggressiveSessionClearing *bool   `json:"aggressiveSessionClearing"`
	HandleRedirects           *bool   `json:"handleRedirects"`
	AirplaneModeDelayMs       *int    `json:"airplaneModeDelayMs"`
}

func (d *Deps) handleGetSettings(w http.ResponseWriter, r *http.Request) {
	s, err := d.Settings.LoadSettings(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "SETTINGS_UNAVAILABLE", err.Error(), nil)
		return
	}
	writeJSON(w, http.StatusOK, s)
}

// handleUpdateSettings applies a partial update. Interval changes also reach
// a running session's pacing immediately.
func (d *Deps) handleUpdateSettings(w http.ResponseWriter, r *http.Request) {
	var in settingsPatch
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, "BAD_JSON", "invalid json", err.Error())
		return
	}
	cur, err := d.Settings.LoadSettings(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "SETTINGS_UNAVAILABLE", err.Error(), nil)
		return
	}
	next := applyPatch(cur, in)
	if msg := validateSettings(next); msg != "" {
		writeError(w, http.StatusBadRequest, "BAD_VALUE", msg, nil)
		return
	}
	if err := d.Settings.SaveSettings(r.Context(), next); err != nil {
		writeError(w, http.StatusInternalServerError, "SETTINGS_UNAVAILABLE", err.Error(), nil)
		return
	}
	if (in.MinInterval != nil || in.MaxInterval != nil) && d.Ctrl != nil && d.Ctrl.IsRunning() {
		t := d.Ctrl.Timing()
		if next.MinInterval <= next.MaxInterval {
			t.SetMaxIntervalSeconds(next.MaxInterval)
			t.SetMinIntervalSeconds(next.MinInterval)
		}
		d.Logger.Info().Int("min_interval", next.MinInterval).Int("max_interval", next.MaxInterval).Msg("session pacing updated")
	}
	if d.SettingsApplied != nil {
		d.SettingsApplied(next)
	}
	writeJSON(w, http.StatusOK, next)
}

func applyPatch(s domain.Settings, p settingsPatch) domain.Settings {
	if p.TargetURL != nil {
		s.TargetURL = strings.TrimSpace(*p.TargetURL)
	}
	if p.Iterations != nil {
		s.Iterations = *p.Iterations
	}
	if p.MinInterval != nil {
		s.MinInterval = *p.MinInterval
	}
	if p.MaxInterval != nil {
		s.MaxInterval = *p.MaxInterval
	}
	if p.RotateIP != nil {
		s.RotateIP = *p.RotateIP
	}
	if p.UseRandomDeviceProfile != nil {
		s.UseRandomDeviceProfile = *p.UseRandomDeviceProfile
	}
	if p.UseBrowserTransport != nil {
		s.UseBrowserTransport = *p.UseBrowserTransport
	}
	if p.NewTransportPerRequest != nil {
		s.NewTransportPerRequest = *p.NewTransportPerRequest
	}
	if p.AggressiveSessionClearing != nil {
		s.AggressiveSessionClearing = *p.AggressiveSessionClearing
	}
	if p.HandleRedirects != nil {
		s.HandleRedirects = *p.HandleRedirects
	}
	if p.AirplaneModeDelayMs != nil {
		s.AirplaneModeDelayMs = *p.AirplaneModeDelayMs
	}
	return s
}

func validateSettings(s domain.Settings) string {
	switch {
	case s.Iterations < 0:
		return "iterations must be >= 0"
	case s.MinInterval < 0 || s.MaxInterval < 0:
		return "intervals must be >= 0"
	case s.MinInterval > s.MaxInterval:
		return "minInterval must not exceed maxInterval"
	case s.AirplaneModeDelayMs < 0:
		return "airplaneModeDelayMs must be >= 0"
	}
	return ""
}

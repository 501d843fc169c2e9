package domain

import "time"

// PersistedState is the durable subset of a session. CurrentIteration counts
// completed iterations, never the one in flight.
type PersistedState struct {
	CurrentIteration int       `json:"currentIteration"`
	TotalIterations  int       `json:"totalIterations"`
	IsPaused         bool      `json:"isPaused"`
	StartTime        time.Time `json:"startTime"`
}

type RotationResult struct {
	Success          bool   `json:"success"`
	PreviousIdentity string `json:"previousIdentity"`
	NewIdentity      string `json:"newIdentity"`
	Message          string `json:"message"`
}

// Settings mirrors the general settings keys shared with external callers.
type Settings struct {
	TargetURL                 string `json:"targetUrl" yaml:"target_url"`
	Iterations                int    `json:"iterations" yaml:"iterations"`
	MinInterval               int    `json:"minInterval" yaml:"min_interval"`
	MaxInterval               int    `json:"maxInterval" yaml:"max_interval"`
	RotateIP                  bool   `json:"rotateIp" yaml:"rotate_ip"`
	UseRandomDeviceProfile    bool   `json:"randomDeviceProfile" yaml:"use_random_device_profile"`
	IsRunning                 bool   `json:"isRunning" yaml:"is_running"`
	UseBrowserTransport       bool   `json:"useBrowserTransport" yaml:"use_webview_mode"`
	NewTransportPerRequest    bool   `json:"newTransportInstancePerRequest" yaml:"new_webview_per_request"`
	AggressiveSessionClearing bool   `json:"aggressiveSessionClearing" yaml:"aggressive_session_clearing"`
	HandleRedirects           bool   `json:"handleRedirects" yaml:"handle_redirects"`
	AirplaneModeDelayMs       int    `json:"airplaneModeDelayMs" yaml:"airplane_mode_delay"`
}

// Transport returns the transport implied by the browser toggle.
func (s Settings) Transport() TransportMode {
	if s.UseBrowserTransport {
		return TransportBrowser
	}
	return TransportHTTP
}

// Status is the dashboard view of the controller.
type Status struct {
	IsRunning                 bool    `json:"isRunning"`
	IsPaused                  bool    `json:"isPaused"`
	State                     State   `json:"state"`
	CurrentIteration          int     `json:"currentIteration"`
	TotalIterations           int     `json:"totalIterations"`
	Percentage                float64 `json:"percentage"`
	TargetURL                 string  `json:"targetUrl"`
	MinInterval               int     `json:"minInterval"`
	MaxInterval               int     `json:"maxInterval"`
	ElapsedSeconds            int64   `json:"elapsedSeconds"`
	EstimatedRemainingSeconds int64   `json:"estimatedRemainingSeconds"`
	SuccessCount              int     `json:"successCount"`
	FailureCount              int     `json:"failureCount"`
	RotationCount             int     `json:"rotationCount"`
	CurrentIdentity           string  `json:"currentIdentity,omitempty"`
}

// DefaultSettings seeds an empty settings store.
func DefaultSettings() Settings {
	return Settings{
		Iterations:          100,
		MinInterval:         1,
		MaxInterval:         5,
		HandleRedirects:     true,
		AirplaneModeDelayMs: 3000,
	}
}

// IsZero reports whether nothing has ever been stored.
func (s Settings) IsZero() bool { return s == Settings{} }

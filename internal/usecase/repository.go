package usecase

import (
	"context"
	"time"

	"simctl/internal/domain"
)

// StateStore persists the resumable subset of a session. Implementations must
// keep the previously stored values intact if a write fails midway.
type StateStore interface {
	Save(ctx context.Context, st domain.PersistedState) error
	Load(ctx context.Context) (domain.PersistedState, bool, error)
	Clear(ctx context.Context) error
	Exists(ctx context.Context) (bool, error)
}

// SettingsStore holds the general settings shared with external callers.
type SettingsStore interface {
	LoadSettings(ctx context.Context) (domain.Settings, error)
	SaveSettings(ctx context.Context, s domain.Settings) error
}

// HistoryRepository keeps finished sessions for listing.
type HistoryRepository interface {
	RecordSession(ctx context.Context, s domain.Session) error
	ListSessions(ctx context.Context, limit, offset int) ([]domain.Session, int, error)
}

// Callback receives the outcome of one request. Exactly one of the methods
// is invoked, exactly once.
type Callback interface {
	OnSuccess(statusCode int, latencyMs int64)
	OnError(message string)
}

// RequestExecutor performs one request against endpoint. Execute may return
// before the callback fires.
type RequestExecutor interface {
	Execute(ctx context.Context, endpoint string, profile domain.BrowsingProfile, session domain.Session, cb Callback)
}

// IdentityProvider reports the device's current outbound identity (its IP).
type IdentityProvider interface {
	Current() string
	Refresh(ctx context.Context) (string, error)
}

// ConnectivityToggler switches the device's network connectivity.
type ConnectivityToggler interface {
	SetConnectivity(ctx context.Context, enabled bool) error
}

type IdentityRotator interface {
	Rotate(ctx context.Context) domain.RotationResult
}

// BehaviorSimulator runs a post-request human behavior pass.
type BehaviorSimulator interface {
	Simulate(ctx context.Context, profile domain.BrowsingProfile, contentLength int) error
}

type ProfileGenerator interface {
	Random() domain.BrowsingProfile
	Default() domain.BrowsingProfile
}

type ProgressListener interface {
	OnProgress(current, total int)
}

// ProgressFunc adapts a plain function to ProgressListener.
type ProgressFunc func(current, total int)

func (f ProgressFunc) OnProgress(current, total int) { f(current, total) }

// Recorder receives controller events for metrics.
type Recorder interface {
	RequestFinished(mode domain.TransportMode, ok bool, latency time.Duration)
	RotationFinished(ok bool)
	IterationCompleted()
	SessionActive(active bool)
}

type noopRecorder struct{}

func (noopRecorder) RequestFinished(domain.TransportMode, bool, time.Duration) {}
func (noopRecorder) RotationFinished(bool)                                   {}
func (noopRecorder) IterationCompleted()                                     {}
func (noopRecorder) SessionActive(bool)                                      {}

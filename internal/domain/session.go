package domain

import "time"

// State is the lifecycle position of a session.
type State string

const (
	StateIdle      State = "idle"
	StateRunning   State = "running"
	StatePaused    State = "paused"
	StateCompleted State = "completed"
	StateStopped   State = "stopped"
	StateFailed    State = "failed"
)

// maxIdentityHistory bounds Session.IdentityHistory.
const maxIdentityHistory = 64

type Session struct {
	ID               string          `json:"id"`
	TargetEndpoint   string          `json:"targetUrl"`
	Profile          BrowsingProfile `json:"profile"`
	Transport        TransportMode   `json:"transportMode"`
	CurrentIteration int             `json:"currentIteration"`
	TotalIterations  int             `json:"totalIterations"`
	IsRunning        bool            `json:"isRunning"`
	IsPaused         bool            `json:"isPaused"`
	State            State           `json:"state"`
	StartTime        time.Time       `json:"startTime"`
	EndTime          *time.Time      `json:"endTime,omitempty"`
	RotationCount    int             `json:"rotationCount"`
	SuccessCount     int             `json:"successCount"`
	FailureCount     int             `json:"failureCount"`
	CurrentIdentity  string          `json:"currentIdentity,omitempty"`
	IdentityHistory  []string        `json:"identityHistory,omitempty"`
}

// NewSession builds a running session at iteration zero.
func NewSession(id, endpoint string, total int, profile BrowsingProfile, transport TransportMode, now time.Time) *Session {
	return &Session{
		ID:              id,
		TargetEndpoint:  endpoint,
		Profile:         profile,
		Transport:       transport,
		TotalIterations: total,
		IsRunning:       true,
		State:           StateRunning,
		StartTime:       now,
	}
}

// RecordIdentityChange stores a newly observed outbound identity. Only a
// change from a previously known identity counts as a rotation.
func (s *Session) RecordIdentityChange(identity string) {
	if identity == "" {
		return
	}
	if s.CurrentIdentity != "" && s.CurrentIdentity != identity {
		s.RotationCount++
	}
	s.CurrentIdentity = identity
	s.IdentityHistory = append(s.IdentityHistory, identity)
	if len(s.IdentityHistory) > maxIdentityHistory {
		s.IdentityHistory = s.IdentityHistory[len(s.IdentityHistory)-maxIdentityHistory:]
	}
}

// RecordRotation counts a confirmed rotation to identity.
func (s *Session) RecordRotation(identity string) {
	s.RotationCount++
	if identity == "" {
		return
	}
	s.CurrentIdentity = identity
	s.IdentityHistory = append(s.IdentityHistory, identity)
	if len(s.IdentityHistory) > maxIdentityHistory {
		s.IdentityHistory = s.IdentityHistory[len(s.IdentityHistory)-maxIdentityHistory:]
	}
}

// Complete marks the session finished with the given terminal state.
func (s *Session) Complete(state State, now time.Time) {
	if s.EndTime == nil {
		t := now
		s.EndTime = &t
	}
	s.IsRunning = false
	s.IsPaused = false
	s.State = state
}

func (s *Session) TotalRequests() int { return s.SuccessCount + s.FailureCount }

// SuccessRate is the percentage of successful requests, 0 when none were made.
func (s *Session) SuccessRate() float64 {
	total := s.TotalRequests()
	if total == 0 {
		return 0
	}
	return float64(s.SuccessCount) * 100 / float64(total)
}

// Duration is measured to EndTime for finished sessions and to now otherwise.
func (s *Session) Duration(now time.Time) time.Duration {
	if s.StartTime.IsZero() {
		return 0
	}
	end := now
	if s.EndTime != nil {
		end = *s.EndTime
	}
	return end.Sub(s.StartTime)
}

// Clone returns a deep copy safe to hand to readers.
func (s *Session) Clone() Session {
	cp := *s
	if s.EndTime != nil {
		t := *s.EndTime
		cp.EndTime = &t
	}
	if s.IdentityHistory != nil {
		cp.IdentityHistory = append([]string(nil), s.IdentityHistory...)
	}
	return cp
}

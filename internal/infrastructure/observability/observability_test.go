package observability

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"simctl/internal/domain"
)

func TestLoggerJSON(t *testing.T) {
	var buf bytes.Buffer
	l := NewLoggerTo(&buf, "warn", "json")
	l.Info().Msg("hidden")
	l.Warn().Str("k", "v").Msg("shown")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 1 {
		t.Fatalf("want one line at warn level, got %q", buf.String())
	}
	var rec map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &rec); err != nil {
		t.Fatalf("not json: %v", err)
	}
	if rec["service"] != "simctl" || rec["k"] != "v" || rec["message"] != "shown" {
		t.Fatalf("unexpected record: %v", rec)
	}
}

func TestLoggerConsole(t *testing.T) {
	var buf bytes.Buffer
	NewLoggerTo(&buf, "debug", "console").Debug().Msg("hello")
	if !strings.Contains(buf.String(), "hello") || strings.HasPrefix(buf.String(), "{") {
		t.Fatalf("unexpected console output %q", buf.String())
	}
}

// sample returns the value of the series in family name whose labels include
// every pair in want.
func sample(t *testing.T, m *Metrics, name string, want map[string]string) float64 {
	t.Helper()
	families, err := m.Registry().Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	for _, f := range families {
		if f.GetName() != name {
			continue
		}
		for _, s := range f.GetMetric() {
			match := 0
			for _, lp := range s.GetLabel() {
				if want[lp.GetName()] == lp.GetValue() {
					match++
				}
			}
			if match != len(want) {
				continue
			}
			switch {
			case s.GetCounter() != nil:
				return s.GetCounter().GetValue()
			case s.GetGauge() != nil:
				return s.GetGauge().GetValue()
			}
		}
	}
	t.Fatalf("series %s %v not found", name, want)
	return 0
}

func TestMetricsRecorder(t *testing.T) {
	m := NewMetrics()
	m.RequestFinished(domain.TransportHTTP, true, 200*time.Millisecond)
	m.RequestFinished(domain.TransportHTTP, false, time.Second)
	m.RequestFinished(domain.TransportHTTP, true, time.Millisecond)
	m.RotationFinished(false)
	m.IterationCompleted()
	m.SessionActive(true)
	m.OnProgress(3, 10)

	if got := sample(t, m, "simctl_requests_total", map[string]string{"transport": "http", "outcome": "success"}); got != 2 {
		t.Fatalf("success requests: %v", got)
	}
	if got := sample(t, m, "simctl_rotations_total", map[string]string{"outcome": "failure"}); got != 1 {
		t.Fatalf("failed rotations: %v", got)
	}
	if got := sample(t, m, "simctl_active_sessions", nil); got != 1 {
		t.Fatalf("active: %v", got)
	}
	if got := sample(t, m, "simctl_session_progress", map[string]string{"kind": "total"}); got != 10 {
		t.Fatalf("progress total: %v", got)
	}
	m.SessionActive(false)
	if got := sample(t, m, "simctl_active_sessions", nil); got != 0 {
		t.Fatalf("active after stop: %v", got)
	}
}

func TestBuildDefaults(t *testing.T) {
	if b := Build(); b.Version == "" {
		t.Fatalf("version must not be empty")
	}
}

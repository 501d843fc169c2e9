package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"simctl/internal/domain"
)

func openTest(t *testing.T) *Store {
	t.Helper()
	s, err := Open(context.Background(), filepath.Join(t.TempDir(), "state", "simctl.db"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestStateRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := openTest(t)

	if ok, err := s.Exists(ctx); err != nil || ok {
		t.Fatalf("fresh db: exists=%v err=%v", ok, err)
	}
	if _, ok, err := s.Load(ctx); err != nil || ok {
		t.Fatalf("fresh db: load ok=%v err=%v", ok, err)
	}

	start := time.UnixMilli(1700000000123)
	want := domain.PersistedState{CurrentIteration: 23, TotalIterations: 500, IsPaused: true, StartTime: start}
	if err := s.Save(ctx, want); err != nil {
		t.Fatalf("save: %v", err)
	}
	got, ok, err := s.Load(ctx)
	if err != nil || !ok {
		t.Fatalf("load: ok=%v err=%v", ok, err)
	}
	if got.CurrentIteration != 23 || got.TotalIterations != 500 || !got.IsPaused || !got.StartTime.Equal(start) {
		t.Fatalf("unexpected state: %+v", got)
	}
	if v, ok, _ := s.Get(ctx, KeySessionCurrentIndex); !ok || v != "23" {
		t.Fatalf("raw key: %q ok=%v", v, ok)
	}

	if err := s.Clear(ctx); err != nil {
		t.Fatalf("clear: %v", err)
	}
	if ok, _ := s.Exists(ctx); ok {
		t.Fatalf("state should be cleared")
	}
}

func TestSettingsRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := openTest(t)

	empty, err := s.LoadSettings(ctx)
	if err != nil || !empty.IsZero() {
		t.Fatalf("fresh settings should be zero: %+v err=%v", empty, err)
	}
	want := domain.DefaultSettings()
	want.TargetURL = "https://example.com/landing?ref=1"
	want.RotateIP = true
	want.UseBrowserTransport = true
	want.AggressiveSessionClearing = true
	if err := s.SaveSettings(ctx, want); err != nil {
		t.Fatalf("save: %v", err)
	}
	got, err := s.LoadSettings(ctx)
	if err != nil || got != want {
		t.Fatalf("settings: got %+v want %+v err=%v", got, want, err)
	}
	// settings and state live side by side
	_ = s.Save(ctx, domain.PersistedState{CurrentIteration: 1, TotalIterations: 2})
	_ = s.Clear(ctx)
	if got, _ := s.LoadSettings(ctx); got != want {
		t.Fatalf("clearing state touched settings: %+v", got)
	}
}

func TestStateSurvivesReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "simctl.db")
	s, err := Open(ctx, path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	_ = s.Save(ctx, domain.PersistedState{CurrentIteration: 4, TotalIterations: 10})
	_ = s.Close()

	s2, err := Open(ctx, path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s2.Close()
	got, ok, err := s2.Load(ctx)
	if err != nil || !ok || got.CurrentIteration != 4 || got.TotalIterations != 10 {
		t.Fatalf("after reopen: %+v ok=%v err=%v", got, ok, err)
	}
}

func TestHistoryOrderingAndPaging(t *testing.T) {
	ctx := context.Background()
	s, err := Open(ctx, ":memory:")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer s.Close()

	for _, id := range []string{"a", "b", "c"} {
		if err := s.RecordSession(ctx, domain.Session{ID: id, State: domain.StateCompleted, TotalIterations: 3}); err != nil {
			t.Fatalf("record %s: %v", id, err)
		}
		time.Sleep(2 * time.Millisecond)
	}
	items, total, err := s.ListSessions(ctx, 0, 0)
	if err != nil || total != 3 || len(items) != 3 {
		t.Fatalf("list: total=%d len=%d err=%v", total, len(items), err)
	}
	if items[0].ID != "c" || items[2].ID != "a" {
		t.Fatalf("want newest first, got %s..%s", items[0].ID, items[2].ID)
	}
	page, _, _ := s.ListSessions(ctx, 1, 1)
	if len(page) != 1 || page[0].ID != "b" {
		t.Fatalf("unexpected page: %+v", page)
	}

	_ = s.RecordSession(ctx, domain.Session{ID: "a", State: domain.StateStopped})
	items, total, _ = s.ListSessions(ctx, 10, 0)
	if total != 3 || items[0].ID != "a" || items[0].State != domain.StateStopped {
		t.Fatalf("re-record should update and bump: total=%d first=%+v", total, items[0])
	}
}

func TestPing(t *testing.T) {
	if err := openTest(t).Ping(context.Background()); err != nil {
		t.Fatalf("ping: %v", err)
	}
}

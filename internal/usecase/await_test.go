package usecase

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"simctl/internal/domain"
)

type execFunc func(ctx context.Context, cb Callback)

func (f execFunc) Execute(ctx context.Context, _ string, _ domain.BrowsingProfile, _ domain.Session, cb Callback) {
	f(ctx, cb)
}

func TestAwaitRequestFirstOutcomeWins(t *testing.T) {
	exec := execFunc(func(ctx context.Context, cb Callback) {
		cb.OnSuccess(204, 12)
		cb.OnError("late error")
		cb.OnSuccess(500, 1)
	})
	res := awaitRequest(context.Background(), exec, "https://example.com", domain.BrowsingProfile{}, domain.Session{}, time.Second)
	if !res.OK || res.StatusCode != 204 || res.LatencyMs != 12 {
		t.Fatalf("unexpected result: %+v", res)
	}
}

func TestAwaitRequestError(t *testing.T) {
	exec := execFunc(func(ctx context.Context, cb Callback) {
		go cb.OnError("connection refused")
	})
	res := awaitRequest(context.Background(), exec, "", domain.BrowsingProfile{}, domain.Session{}, time.Second)
	if res.OK || res.Err != "connection refused" {
		t.Fatalf("unexpected result: %+v", res)
	}
}

func TestAwaitRequestTimeout(t *testing.T) {
	exec := execFunc(func(ctx context.Context, cb Callback) {})
	began := time.Now()
	res := awaitRequest(context.Background(), exec, "", domain.BrowsingProfile{}, domain.Session{}, 30*time.Millisecond)
	if res.OK || !strings.Contains(res.Err, "timed out") {
		t.Fatalf("want timeout error, got %+v", res)
	}
	if time.Since(began) > 2*time.Second {
		t.Fatalf("timeout took too long")
	}
}

func TestAwaitRequestCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	exec := execFunc(func(ctx context.Context, cb Callback) {})
	res := awaitRequest(ctx, exec, "", domain.BrowsingProfile{}, domain.Session{}, time.Minute)
	if res.OK || res.Err != "request cancelled" {
		t.Fatalf("unexpected result: %+v", res)
	}
}

func TestAwaitRequestExecutorPanic(t *testing.T) {
	exec := execFunc(func(ctx context.Context, cb Callback) { panic("boom") })
	res := awaitRequest(context.Background(), exec, "", domain.BrowsingProfile{}, domain.Session{}, time.Second)
	if res.OK || !strings.Contains(res.Err, "boom") {
		t.Fatalf("panic should surface as an error, got %+v", res)
	}
}

func TestAwaitBounded(t *testing.T) {
	if err := awaitBounded(context.Background(), time.Second, func(context.Context) error { return nil }); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	err := awaitBounded(context.Background(), 20*time.Millisecond, func(ctx context.Context) error {
		<-ctx.Done()
		time.Sleep(50 * time.Millisecond)
		return nil
	})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("want deadline exceeded, got %v", err)
	}
}

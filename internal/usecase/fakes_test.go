package usecase

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"simctl/internal/adapters/storage/memory"
	"simctl/internal/domain"
)

// Global timeout guard so a stuck loop fails the package instead of hanging.
func TestMain(m *testing.M) {
	timeout := 2 * time.Minute
	if v := os.Getenv("USECASE_TIMEOUT_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			timeout = time.Duration(n) * time.Second
		}
	}
	timer := time.AfterFunc(timeout, func() {
		fmt.Fprintf(os.Stderr, "\n[usecase] global timeout %s reached, aborting tests\n", timeout)
		os.Exit(3)
	})
	code := m.Run()
	_ = timer.Stop()
	os.Exit(code)
}

type execCall struct {
	endpoint  string
	iteration int
	profile   domain.BrowsingProfile
}

// fakeExecutor answers from outcome, called with the zero-based call number.
// With gate set, every call blocks until the test sends on it.
type fakeExecutor struct {
	mu      sync.Mutex
	calls   []execCall
	outcome func(call int) (ok bool, status int)
	gate    chan struct{}
	silent  bool
	started chan int
}

func (f *fakeExecutor) Execute(ctx context.Context, endpoint string, profile domain.BrowsingProfile, sess domain.Session, cb Callback) {
	f.mu.Lock()
	n := len(f.calls)
	f.calls = append(f.calls, execCall{endpoint: endpoint, iteration: sess.CurrentIteration, profile: profile})
	outcome, gate, silent, started := f.outcome, f.gate, f.silent, f.started
	f.mu.Unlock()
	if started != nil {
		select {
		case started <- n:
		default:
		}
	}
	if silent {
		return
	}
	go func() {
		if gate != nil {
			select {
			case <-gate:
			case <-ctx.Done():
				cb.OnError("cancelled")
				return
			}
		}
		ok, status := true, 200
		if outcome != nil {
			ok, status = outcome(n)
		}
		if ok {
			cb.OnSuccess(status, 5)
			return
		}
		cb.OnError(fmt.Sprintf("status %d", status))
	}()
}

func (f *fakeExecutor) Calls() []execCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]execCall(nil), f.calls...)
}

type fakeIdentity struct {
	mu      sync.Mutex
	current string
}

func (f *fakeIdentity) Current() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.current
}

func (f *fakeIdentity) Refresh(ctx context.Context) (string, error) {
	return f.Current(), nil
}

func (f *fakeIdentity) set(v string) {
	f.mu.Lock()
	f.current = v
	f.mu.Unlock()
}

// fakeRotator hands out the next identity on every call.
type fakeRotator struct {
	mu       sync.Mutex
	identity *fakeIdentity
	next     []string
	calls    int
}

func (f *fakeRotator) Rotate(ctx context.Context) domain.RotationResult {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	prev := f.identity.Current()
	if len(f.next) == 0 {
		return domain.RotationResult{PreviousIdentity: prev, NewIdentity: prev, Message: "identity unchanged after toggle"}
	}
	id := f.next[0]
	f.next = f.next[1:]
	f.identity.set(id)
	return domain.RotationResult{Success: true, PreviousIdentity: prev, NewIdentity: id}
}

func (f *fakeRotator) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type progressLog struct {
	mu     sync.Mutex
	events [][2]int
}

func (p *progressLog) OnProgress(current, total int) {
	p.mu.Lock()
	p.events = append(p.events, [2]int{current, total})
	p.mu.Unlock()
}

func (p *progressLog) Events() [][2]int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([][2]int(nil), p.events...)
}

type testEnv struct {
	ctrl  *Controller
	store *memory.Store
	exec  *fakeExecutor
}

func testConfig() ControllerConfig {
	cfg := DefaultControllerConfig()
	cfg.IntervalUnit = time.Millisecond
	cfg.FailureBackoff = time.Millisecond
	cfg.RotationRecoveryDelay = time.Millisecond
	cfg.RequestTimeout = 5 * time.Second
	return cfg
}

func newTestEnv(t *testing.T, cfg ControllerConfig, exec *fakeExecutor, mutate func(*ControllerDeps)) *testEnv {
	t.Helper()
	logger := zerolog.New(io.Discard)
	store := memory.NewStore(10, 0)
	deps := ControllerDeps{
		State:     store,
		Settings:  store,
		History:   store,
		Executors: map[domain.TransportMode]RequestExecutor{domain.TransportHTTP: exec},
		Logger:    &logger,
	}
	if mutate != nil {
		mutate(&deps)
	}
	ctrl := NewController(cfg, deps)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = ctrl.Shutdown(ctx)
	})
	return &testEnv{ctrl: ctrl, store: store, exec: exec}
}

func waitDone(t *testing.T, done <-chan struct{}, timeout time.Duration) {
	t.Helper()
	select {
	case <-done:
	case <-time.After(timeout):
		t.Fatalf("session did not finish within %s", timeout)
	}
}

func waitFor(t *testing.T, timeout time.Duration, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

// failingState wraps a memory store and fails reads or writes on demand.
type failingState struct {
	*memory.Store
	mu       sync.Mutex
	failSave bool
	failLoad bool
	saves    int
}

var errStorage = errors.New("disk I/O error")

func (f *failingState) set(save, load bool) {
	f.mu.Lock()
	f.failSave, f.failLoad = save, load
	f.mu.Unlock()
}

func (f *failingState) Save(ctx context.Context, st domain.PersistedState) error {
	f.mu.Lock()
	fail := f.failSave
	f.saves++
	f.mu.Unlock()
	if fail {
		return errStorage
	}
	return f.Store.Save(ctx, st)
}

func (f *failingState) Load(ctx context.Context) (domain.PersistedState, bool, error) {
	f.mu.Lock()
	fail := f.failLoad
	f.mu.Unlock()
	if fail {
		return domain.PersistedState{}, false, errStorage
	}
	return f.Store.Load(ctx)
}

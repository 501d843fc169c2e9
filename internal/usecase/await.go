package usecase

import (
	"context"
	"fmt"
	"sync"
	"time"

	"simctl/internal/domain"
)

// RequestResult is the outcome of one awaited request.
type RequestResult struct {
	OK         bool
	StatusCode int
	LatencyMs  int64
	Err        string
}

// resultCallback turns the callback contract into a single channel send;
// anything after the first outcome is dropped.
type resultCallback struct {
	once sync.Once
	ch   chan RequestResult
}

func newResultCallback() *resultCallback {
	return &resultCallback{ch: make(chan RequestResult, 1)}
}

func (c *resultCallback) OnSuccess(statusCode int, latencyMs int64) {
	c.once.Do(func() { c.ch <- RequestResult{OK: true, StatusCode: statusCode, LatencyMs: latencyMs} })
}

func (c *resultCallback) OnError(message string) {
	c.once.Do(func() { c.ch <- RequestResult{Err: message} })
}

// awaitRequest runs exec and waits at most timeout for its callback. A
// timeout is reported like any other error.
func awaitRequest(ctx context.Context, exec RequestExecutor, endpoint string, profile domain.BrowsingProfile, sess domain.Session, timeout time.Duration) RequestResult {
	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cb := newResultCallback()
	go func() {
		defer func() {
			if r := recover(); r != nil {
				cb.OnError(fmt.Sprintf("executor panic: %v", r))
			}
		}()
		exec.Execute(reqCtx, endpoint, profile, sess, cb)
	}()

	select {
	case res := <-cb.ch:
		return res
	case <-reqCtx.Done():
		// a result may have raced the deadline
		select {
		case res := <-cb.ch:
			return res
		default:
		}
		if ctx.Err() != nil {
			return RequestResult{Err: "request cancelled"}
		}
		return RequestResult{Err: fmt.Sprintf("request timed out after %s", timeout)}
	}
}

// awaitBounded runs fn and waits at most limit for it. fn keeps running in
// the background if it overstays; its context is cancelled on return.
func awaitBounded(ctx context.Context, limit time.Duration, fn func(ctx context.Context) error) error {
	bctx, cancel := context.WithTimeout(ctx, limit)
	defer cancel()
	errCh := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				errCh <- fmt.Errorf("panic: %v", r)
			}
		}()
		errCh <- fn(bctx)
	}()
	select {
	case err := <-errCh:
		return err
	case <-bctx.Done():
		return bctx.Err()
	}
}

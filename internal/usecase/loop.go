package usecase

import (
	"context"
	"fmt"
	"runtime/debug"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"simctl/internal/domain"
)

// loop drives one run from its first incomplete iteration until it completes,
// is stopped, or the controller shuts down. A failed request is retried at the
// same index; the counter only moves on success.
func (c *Controller) loop(r *run) {
	defer close(r.done)
	defer func() {
		if p := recover(); p != nil {
			c.mu.Lock()
			r.running = false
			r.sess.Complete(domain.StateFailed, c.now())
			r.signal()
			id := r.sess.ID
			snap := r.sess.Clone()
			c.mu.Unlock()
			c.recorder.SessionActive(false)
			c.logger.Error().Str("session", id).Interface("panic", p).Str("stack", string(debug.Stack())).Msg("session loop crashed")
			// progress stays persisted for a manual restore, but a crashed
			// session must not come back through auto-restore
			ioCtx := context.WithoutCancel(c.ctx)
			c.recordHistory(ioCtx, snap)
			c.updateSettings(ioCtx, func(s *domain.Settings) { s.IsRunning = false })
		}
	}()

	ctx := c.ctx
	log := c.logger.With().Str("session", r.sess.ID).Logger()
	c.recordInitialIdentity(ctx, r)

	failures := 0
	for {
		if !c.waitWhilePaused(ctx, r) {
			break
		}

		c.mu.Lock()
		i := r.sess.CurrentIteration
		total := r.sess.TotalIterations
		force := r.forceRotate
		r.forceRotate = false
		_, identityUsed := r.used[r.sess.CurrentIdentity]
		profile := r.sess.Profile
		c.mu.Unlock()
		if i >= total {
			break
		}
		log.Info().Int("iteration", i+1).Int("total", total).Msg("starting iteration")

		if force || (r.opts.RotateIP && (i > 0 || identityUsed)) {
			if force {
				log.Info().Msg("rotating identity after resume")
			}
			c.rotateIdentity(ctx, r, &log)
			if !c.active(r) {
				break
			}
		}

		if r.opts.RandomProfile {
			profile = c.profiles.Random()
			c.mu.Lock()
			r.sess.Profile = profile
			c.mu.Unlock()
		}
		log.Debug().Str("platform", profile.Platform).Str("device", profile.DeviceType).Str("tier", profile.DeviceTier).Msg("using profile")

		c.mu.Lock()
		snap := r.sess.Clone()
		c.mu.Unlock()
		began := time.Now()
		res := awaitRequest(ctx, c.executors[r.opts.Transport], r.opts.Endpoint, profile, snap, c.cfg.RequestTimeout)
		c.recorder.RequestFinished(r.opts.Transport, res.OK, time.Since(began))

		c.mu.Lock()
		if !r.running {
			c.mu.Unlock()
			log.Info().Int("iteration", i+1).Msg("session stopped while request was in flight")
			break
		}
		if res.OK {
			r.sess.CurrentIteration++
			r.sess.SuccessCount++
			cur := r.sess.CurrentIteration
			c.mu.Unlock()

			failures = 0
			log.Info().Int("status", res.StatusCode).Int64("latency_ms", res.LatencyMs).Int("iteration", cur).Int("total", total).Msg("request succeeded")
			c.recorder.IterationCompleted()
			c.notify(cur, total)
			c.markIdentityUsed(r)
			c.simulateBehavior(ctx, profile, &log)
			c.checkpoint(ctx, r)
		} else {
			r.sess.FailureCount++
			c.mu.Unlock()

			failures++
			log.Warn().Str("error", res.Err).Int("iteration", i+1).Int("attempt", failures).Msg("request failed, retrying same iteration")
			if c.cfg.RetryLimit > 0 && failures >= c.cfg.RetryLimit {
				c.abort(ctx, r, fmt.Sprintf("iteration %d failed %d times", i+1, failures))
				break
			}
		}

		c.mu.Lock()
		last := r.sess.CurrentIteration >= r.sess.TotalIterations
		c.mu.Unlock()
		if last {
			continue
		}
		wait := time.Duration(c.timing.Next()) * c.cfg.IntervalUnit
		if !res.OK && wait < c.cfg.FailureBackoff {
			wait = c.cfg.FailureBackoff
		}
		log.Debug().Dur("wait", wait).Msg("waiting before next iteration")
		c.waitInterval(ctx, r, wait)
	}
	c.finish(ctx, r)
}

// waitWhilePaused blocks while the run is paused. It returns false once the
// run is stopped or the controller shuts down.
func (c *Controller) waitWhilePaused(ctx context.Context, r *run) bool {
	for {
		c.mu.Lock()
		if !r.running {
			c.mu.Unlock()
			return false
		}
		if !r.paused {
			c.mu.Unlock()
			return ctx.Err() == nil
		}
		// a request that finished after Pause moved the counter
		var st *domain.PersistedState
		if r.persisted != r.sess.CurrentIteration {
			s := r.persistedState()
			r.persisted = s.CurrentIteration
			st = &s
		}
		ch := r.changed
		c.mu.Unlock()

		if st != nil {
			c.saveState(ctx, *st)
		}
		select {
		case <-ch:
		case <-ctx.Done():
			return false
		}
	}
}

// waitInterval sleeps for d, returning early on pause, stop or shutdown.
func (c *Controller) waitInterval(ctx context.Context, r *run, d time.Duration) {
	if d <= 0 {
		return
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	for {
		c.mu.Lock()
		if !r.running || r.paused {
			c.mu.Unlock()
			return
		}
		ch := r.changed
		c.mu.Unlock()
		select {
		case <-timer.C:
			return
		case <-ch:
		case <-ctx.Done():
			return
		}
	}
}

func (c *Controller) active(r *run) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return r.running
}

func (c *Controller) recordInitialIdentity(ctx context.Context, r *run) {
	if c.identity == nil {
		return
	}
	id := c.identity.Current()
	if id == "" {
		v, err := c.identity.Refresh(ctx)
		if err != nil {
			c.logger.Warn().Err(err).Msg("initial identity unavailable")
			return
		}
		id = v
	}
	c.mu.Lock()
	r.sess.RecordIdentityChange(id)
	c.mu.Unlock()
}

func (c *Controller) markIdentityUsed(r *run) {
	if c.identity == nil {
		return
	}
	id := c.identity.Current()
	if id == "" || strings.EqualFold(id, "unknown") {
		return
	}
	c.mu.Lock()
	r.used[id] = struct{}{}
	c.mu.Unlock()
}

// rotateIdentity never fails the session: on failure it re-reads whatever
// identity is active and carries on with it.
func (c *Controller) rotateIdentity(ctx context.Context, r *run, log *zerolog.Logger) {
	if c.rotator == nil {
		log.Warn().Msg("identity rotation requested but no rotator configured")
		return
	}
	res := c.rotator.Rotate(ctx)
	c.recorder.RotationFinished(res.Success)
	if res.Success {
		c.mu.Lock()
		r.sess.RecordRotation(res.NewIdentity)
		count := r.sess.RotationCount
		c.mu.Unlock()
		log.Info().Str("from", res.PreviousIdentity).Str("to", res.NewIdentity).Int("rotations", count).Msg("identity rotated")
		return
	}

	log.Warn().Str("reason", res.Message).Str("identity", res.PreviousIdentity).Msg("identity rotation failed, continuing")
	if c.identity == nil {
		return
	}
	if err := sleepCtx(ctx, c.cfg.RotationRecoveryDelay); err != nil {
		return
	}
	id, err := c.identity.Refresh(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("identity refresh after failed rotation")
		return
	}
	if id != "" {
		c.mu.Lock()
		r.sess.RecordIdentityChange(id)
		c.mu.Unlock()
		log.Info().Str("identity", id).Msg("identity after failed rotation")
	}
}

func (c *Controller) simulateBehavior(ctx context.Context, profile domain.BrowsingProfile, log *zerolog.Logger) {
	if c.behavior == nil {
		return
	}
	err := awaitBounded(ctx, c.cfg.BehaviorMaxWait, func(bctx context.Context) error {
		return c.behavior.Simulate(bctx, profile, c.cfg.BehaviorContentLength)
	})
	if err != nil {
		log.Debug().Err(err).Msg("behavior simulation cut short")
	}
}

func (c *Controller) checkpoint(ctx context.Context, r *run) {
	if c.cfg.CheckpointEvery <= 0 {
		return
	}
	c.mu.Lock()
	if !r.running || r.sess.CurrentIteration%c.cfg.CheckpointEvery != 0 {
		c.mu.Unlock()
		return
	}
	st := r.persistedState()
	r.persisted = st.CurrentIteration
	c.mu.Unlock()
	c.saveState(ctx, st)
}

// abort ends the run as failed but keeps its progress persisted.
func (c *Controller) abort(ctx context.Context, r *run, reason string) {
	c.mu.Lock()
	if !r.running {
		c.mu.Unlock()
		return
	}
	st := r.persistedState()
	r.running = false
	r.paused = false
	r.sess.Complete(domain.StateFailed, c.now())
	r.signal()
	snap := r.sess.Clone()
	c.mu.Unlock()

	c.recordHistory(ctx, snap)
	c.saveState(ctx, st)
	c.updateSettings(ctx, func(s *domain.Settings) { s.IsRunning = false })
	c.recorder.SessionActive(false)
	c.logger.Error().Str("reason", reason).Int("iteration", st.CurrentIteration).Int("total", st.TotalIterations).Msg("session aborted")
}

func (c *Controller) finish(ctx context.Context, r *run) {
	c.mu.Lock()
	completed := r.running && r.sess.CurrentIteration >= r.sess.TotalIterations
	// the controller context ended under a run nobody stopped
	orphaned := r.running && !completed
	if r.running {
		r.running = false
		r.paused = false
		if completed {
			r.sess.Complete(domain.StateCompleted, c.now())
		} else {
			r.sess.Complete(domain.StateStopped, c.now())
		}
		r.signal()
	}
	sess := r.sess.Clone()
	c.mu.Unlock()
	if orphaned {
		c.recorder.SessionActive(false)
		c.logger.Warn().Str("session", sess.ID).Int("iteration", sess.CurrentIteration).Msg("session loop ended by shutdown")
		return
	}
	if !completed {
		return
	}

	// the loop context may already be gone during shutdown
	ioCtx := context.WithoutCancel(ctx)
	c.recordHistory(ioCtx, sess)
	if err := c.state.Clear(ioCtx); err != nil {
		c.logger.Error().Err(err).Msg("clear session state failed")
	}
	c.updateSettings(ioCtx, func(s *domain.Settings) { s.IsRunning = false })
	c.recorder.SessionActive(false)
	c.logger.Info().
		Str("session", sess.ID).
		Int("requests", sess.TotalRequests()).
		Float64("success_rate", sess.SuccessRate()).
		Int("rotations", sess.RotationCount).
		Dur("duration", sess.Duration(c.now())).
		Msg("session completed")
}

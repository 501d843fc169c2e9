package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"simctl/internal/domain"
	"simctl/pkg/shared/redact"
)

var (
	ErrAlreadyRunning = errors.New("session already running")
	ErrInvalidOptions = errors.New("invalid start options")
	ErrNoExecutor     = errors.New("no executor for transport")
	ErrShutdown       = errors.New("controller shut down")
	// ErrNotRunning and ErrNoSavedSession describe why a command was refused
	// to callers of the boolean control methods.
	ErrNotRunning     = errors.New("no running session")
	ErrNoSavedSession = errors.New("no saved session to restore")
)

// StartOptions configures one session run.
type StartOptions struct {
	Endpoint      string
	Iterations    int
	RandomProfile bool
	RotateIP      bool
	MinInterval   int
	MaxInterval   int
	Transport     domain.TransportMode
}

func (o StartOptions) Validate() error {
	switch {
	case strings.TrimSpace(o.Endpoint) == "":
		return fmt.Errorf("%w: endpoint is required", ErrInvalidOptions)
	case o.Iterations <= 0:
		return fmt.Errorf("%w: iterations must be > 0 (got %d)", ErrInvalidOptions, o.Iterations)
	case o.MinInterval < 0 || o.MaxInterval < 0:
		return fmt.Errorf("%w: intervals must be >= 0", ErrInvalidOptions)
	case o.MinInterval > o.MaxInterval:
		return fmt.Errorf("%w: minInterval %d > maxInterval %d", ErrInvalidOptions, o.MinInterval, o.MaxInterval)
	}
	return nil
}

type ControllerConfig struct {
	// RequestTimeout bounds each awaited request. Fresh and resumed passes
	// share it.
	RequestTimeout time.Duration
	// BehaviorMaxWait bounds the post-request behavior pass.
	BehaviorMaxWait       time.Duration
	BehaviorContentLength int
	// RotationRecoveryDelay is waited before re-fetching the identity after
	// a failed rotation.
	RotationRecoveryDelay time.Duration
	// IntervalUnit is the length of one TimingDistributor unit.
	IntervalUnit time.Duration
	// FailureBackoff is the minimum wait after a failed request when the
	// drawn interval is shorter.
	FailureBackoff time.Duration
	// RetryLimit caps consecutive failures of one iteration; 0 retries forever.
	RetryLimit int
	// CheckpointEvery persists progress every N completed iterations; 0 only
	// persists at start/pause/resume/stop.
	CheckpointEvery int
}

func DefaultControllerConfig() ControllerConfig {
	return ControllerConfig{
		RequestTimeout:        120 * time.Second,
		BehaviorMaxWait:       30 * time.Second,
		BehaviorContentLength: 50,
		RotationRecoveryDelay: 2 * time.Second,
		IntervalUnit:          time.Second,
		FailureBackoff:        time.Second,
	}
}

// ControllerDeps are the collaborators of a Controller. State, Settings and an
// HTTP executor are required; the rest may be nil.
type ControllerDeps struct {
	State     StateStore
	Settings  SettingsStore
	History   HistoryRepository
	Executors map[domain.TransportMode]RequestExecutor
	Rotator   IdentityRotator
	Identity  IdentityProvider
	Behavior  BehaviorSimulator
	Profiles  ProfileGenerator
	Timing    *TimingDistributor
	Recorder  Recorder
	Logger    *zerolog.Logger
}

// run is the per-session control block. All fields are guarded by
// Controller.mu; the loop goroutine is the only writer of the counters.
type run struct {
	opts        StartOptions
	sess        *domain.Session
	used        map[string]struct{}
	running     bool
	paused      bool
	forceRotate bool
	persisted   int
	// changed is closed and replaced on every flag change
	changed chan struct{}
	done    chan struct{}
}

func newRun(opts StartOptions, sess *domain.Session) *run {
	return &run{
		opts:      opts,
		sess:      sess,
		used:      make(map[string]struct{}),
		running:   true,
		persisted: -1,
		changed:   make(chan struct{}),
		done:      make(chan struct{}),
	}
}

func (r *run) signal() {
	close(r.changed)
	r.changed = make(chan struct{})
}

func (r *run) finished() bool {
	select {
	case <-r.done:
		return true
	default:
		return false
	}
}

func (r *run) persistedState() domain.PersistedState {
	return domain.PersistedState{
		CurrentIteration: r.sess.CurrentIteration,
		TotalIterations:  r.sess.TotalIterations,
		IsPaused:         r.paused,
		StartTime:        r.sess.StartTime,
	}
}

// Controller runs at most one simulation session at a time. Pause, Resume and
// Stop may be called from any goroutine; the loop observes them at its wait
// points and never interrupts a request in flight.
type Controller struct {
	cfg       ControllerConfig
	state     StateStore
	settings  SettingsStore
	history   HistoryRepository
	executors map[domain.TransportMode]RequestExecutor
	rotator   IdentityRotator
	identity  IdentityProvider
	behavior  BehaviorSimulator
	profiles  ProfileGenerator
	timing    *TimingDistributor
	recorder  Recorder
	logger    *zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	now    func() time.Time

	mu        sync.Mutex
	cur       *run
	listeners []ProgressListener
}

func NewController(cfg ControllerConfig, deps ControllerDeps) *Controller {
	def := DefaultControllerConfig()
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = def.RequestTimeout
	}
	if cfg.BehaviorMaxWait <= 0 {
		cfg.BehaviorMaxWait = def.BehaviorMaxWait
	}
	if cfg.BehaviorContentLength <= 0 {
		cfg.BehaviorContentLength = def.BehaviorContentLength
	}
	if cfg.IntervalUnit <= 0 {
		cfg.IntervalUnit = def.IntervalUnit
	}
	if cfg.RotationRecoveryDelay < 0 {
		cfg.RotationRecoveryDelay = 0
	}
	if cfg.FailureBackoff < 0 {
		cfg.FailureBackoff = 0
	}
	logger := deps.Logger
	if logger == nil {
		l := zerolog.Nop()
		logger = &l
	}
	timing := deps.Timing
	if timing == nil {
		timing = NewTimingDistributor(1, 5)
	}
	recorder := deps.Recorder
	if recorder == nil {
		recorder = noopRecorder{}
	}
	profiles := deps.Profiles
	if profiles == nil {
		profiles = staticProfiles{}
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Controller{
		cfg:       cfg,
		state:     deps.State,
		settings:  deps.Settings,
		history:   deps.History,
		executors: deps.Executors,
		rotator:   deps.Rotator,
		identity:  deps.Identity,
		behavior:  deps.Behavior,
		profiles:  profiles,
		timing:    timing,
		recorder:  recorder,
		logger:    logger,
		ctx:       ctx,
		cancel:    cancel,
		now:       time.Now,
	}
}

// AddListener registers a progress observer.
func (c *Controller) AddListener(l ProgressListener) {
	c.mu.Lock()
	c.listeners = append(c.listeners, l)
	c.mu.Unlock()
}

// Timing exposes the distributor so pacing can be changed mid-session.
func (c *Controller) Timing() *TimingDistributor { return c.timing }

// Start begins a new session and returns a channel closed when its loop
// exits. A call while a session is active returns that session's channel
// and ErrAlreadyRunning without touching it. ctx only scopes the
// persistence done before the loop starts.
func (c *Controller) Start(ctx context.Context, opts StartOptions) (<-chan struct{}, error) {
	if opts.Transport == "" {
		opts.Transport = domain.TransportHTTP
	}
	if err := opts.Validate(); err != nil {
		c.logger.Warn().Err(err).Msg("start rejected")
		return closedChan(), err
	}
	if _, ok := c.executors[opts.Transport]; !ok {
		err := fmt.Errorf("%w %q", ErrNoExecutor, opts.Transport)
		c.logger.Warn().Err(err).Msg("start rejected")
		return closedChan(), err
	}

	c.mu.Lock()
	if c.busyLocked() {
		done := c.cur.done
		c.mu.Unlock()
		c.logger.Warn().Msg("session already running")
		return done, ErrAlreadyRunning
	}
	if c.ctx.Err() != nil {
		c.mu.Unlock()
		c.logger.Warn().Msg("start rejected: controller shut down")
		return closedChan(), ErrShutdown
	}
	c.timing.SetMinIntervalSeconds(opts.MinInterval)
	c.timing.SetMaxIntervalSeconds(opts.MaxInterval)
	profile := c.profiles.Default()
	if opts.RandomProfile {
		profile = c.profiles.Random()
	}
	sess := domain.NewSession(uuid.NewString(), opts.Endpoint, opts.Iterations, profile, opts.Transport, c.now())
	r := newRun(opts, sess)
	st := r.persistedState()
	r.persisted = st.CurrentIteration
	c.cur = r
	c.mu.Unlock()

	c.saveState(ctx, st)
	c.updateSettings(ctx, func(s *domain.Settings) {
		s.TargetURL = opts.Endpoint
		s.Iterations = opts.Iterations
		s.MinInterval = opts.MinInterval
		s.MaxInterval = opts.MaxInterval
		s.RotateIP = opts.RotateIP
		s.UseRandomDeviceProfile = opts.RandomProfile
		s.UseBrowserTransport = opts.Transport == domain.TransportBrowser
		s.IsRunning = true
	})
	c.recorder.SessionActive(true)
	c.logger.Info().
		Str("session", sess.ID).
		Str("target", redact.RedactURL(opts.Endpoint)).
		Int("iterations", opts.Iterations).
		Int("min_interval", opts.MinInterval).
		Int("max_interval", opts.MaxInterval).
		Bool("rotate_ip", opts.RotateIP).
		Bool("random_profile", opts.RandomProfile).
		Str("transport", string(opts.Transport)).
		Msg("session started")

	go c.loop(r)
	return r.done, nil
}

// Pause suspends a running session. It returns false when there is no
// running, unpaused session.
func (c *Controller) Pause(ctx context.Context) bool {
	c.mu.Lock()
	r := c.cur
	if r == nil || !r.running || r.paused {
		c.mu.Unlock()
		c.logger.Warn().Msg("cannot pause: session not running or already paused")
		return false
	}
	r.paused = true
	r.sess.IsPaused = true
	r.sess.State = domain.StatePaused
	st := r.persistedState()
	r.persisted = st.CurrentIteration
	r.signal()
	id := r.sess.ID
	c.mu.Unlock()

	c.saveState(ctx, st)
	c.logger.Info().Str("session", id).Int("iteration", st.CurrentIteration).Int("total", st.TotalIterations).Msg("session paused")
	return true
}

// Resume continues a paused session at its first incomplete iteration. The
// next iteration always rotates identity.
func (c *Controller) Resume(ctx context.Context) bool {
	c.mu.Lock()
	r := c.cur
	if r == nil || !r.running || !r.paused {
		c.mu.Unlock()
		c.logger.Warn().Msg("cannot resume: session not running or not paused")
		return false
	}
	r.paused = false
	r.sess.IsPaused = false
	r.sess.State = domain.StateRunning
	r.forceRotate = true
	r.used = make(map[string]struct{})
	st := r.persistedState()
	r.persisted = st.CurrentIteration
	r.signal()
	id := r.sess.ID
	c.mu.Unlock()

	c.saveState(ctx, st)
	c.logger.Info().Str("session", id).Int("remaining", st.TotalIterations-st.CurrentIteration).Msg("session resumed")
	return true
}

// Stop ends the active session at its next wait point and clears the
// persisted state. Stopping an idle controller does nothing.
func (c *Controller) Stop(ctx context.Context) {
	c.mu.Lock()
	r := c.cur
	if r == nil || !r.running {
		c.mu.Unlock()
		return
	}
	r.running = false
	r.paused = false
	r.sess.Complete(domain.StateStopped, c.now())
	r.signal()
	id, cur, total := r.sess.ID, r.sess.CurrentIteration, r.sess.TotalIterations
	snap := r.sess.Clone()
	c.mu.Unlock()

	c.recordHistory(ctx, snap)
	if err := c.state.Clear(ctx); err != nil {
		c.logger.Error().Err(err).Msg("clear session state failed")
	}
	c.updateSettings(ctx, func(s *domain.Settings) { s.IsRunning = false })
	c.recorder.SessionActive(false)
	c.logger.Info().Str("session", id).Int("iteration", cur).Int("total", total).Msg("session stopped")
}

// RestoreSession rebuilds a session from persisted state and settings and
// continues it without replaying completed iterations. A session persisted as
// paused stays paused until Resume.
func (c *Controller) RestoreSession(ctx context.Context) bool {
	c.mu.Lock()
	busy := c.busyLocked()
	c.mu.Unlock()
	if busy {
		c.logger.Warn().Msg("cannot restore: session already running")
		return false
	}
	if c.ctx.Err() != nil {
		c.logger.Warn().Msg("cannot restore: controller shut down")
		return false
	}

	st, ok, err := c.state.Load(ctx)
	if err != nil {
		c.logger.Error().Err(err).Msg("cannot restore: load session state")
		return false
	}
	if !ok {
		c.logger.Warn().Msg("cannot restore: no saved session state")
		return false
	}
	if st.TotalIterations <= 0 || st.CurrentIteration < 0 || st.CurrentIteration > st.TotalIterations {
		c.logger.Error().Int("current", st.CurrentIteration).Int("total", st.TotalIterations).Msg("cannot restore: saved state out of range")
		return false
	}
	settings, err := c.settings.LoadSettings(ctx)
	if err != nil {
		c.logger.Error().Err(err).Msg("cannot restore: load settings")
		return false
	}
	if settings.TargetURL == "" {
		c.logger.Warn().Msg("cannot restore: no target url in settings")
		return false
	}
	opts := StartOptions{
		Endpoint:      settings.TargetURL,
		Iterations:    st.TotalIterations,
		RandomProfile: settings.UseRandomDeviceProfile,
		RotateIP:      settings.RotateIP,
		MinInterval:   settings.MinInterval,
		MaxInterval:   settings.MaxInterval,
		Transport:     settings.Transport(),
	}
	if _, ok := c.executors[opts.Transport]; !ok {
		c.logger.Error().Str("transport", string(opts.Transport)).Msg("cannot restore: no executor for transport")
		return false
	}

	startTime := st.StartTime
	if startTime.IsZero() {
		startTime = c.now()
	}
	profile := c.profiles.Default()
	if opts.RandomProfile {
		profile = c.profiles.Random()
	}
	sess := domain.NewSession(uuid.NewString(), opts.Endpoint, opts.Iterations, profile, opts.Transport, startTime)
	sess.CurrentIteration = st.CurrentIteration
	r := newRun(opts, sess)
	r.persisted = st.CurrentIteration
	if st.IsPaused {
		r.paused = true
		sess.IsPaused = true
		sess.State = domain.StatePaused
	}

	c.mu.Lock()
	if c.busyLocked() {
		c.mu.Unlock()
		c.logger.Warn().Msg("cannot restore: session already running")
		return false
	}
	c.timing.SetMinIntervalSeconds(opts.MinInterval)
	c.timing.SetMaxIntervalSeconds(opts.MaxInterval)
	c.cur = r
	c.mu.Unlock()

	c.updateSettings(ctx, func(s *domain.Settings) { s.IsRunning = true })
	c.recorder.SessionActive(true)
	c.logger.Info().
		Str("session", sess.ID).
		Int("iteration", st.CurrentIteration).
		Int("total", st.TotalIterations).
		Bool("paused", st.IsPaused).
		Time("start_time", startTime).
		Msg("session restored")
	c.notify(st.CurrentIteration, st.TotalIterations)

	go c.loop(r)
	return true
}

// Shutdown stops the loop but keeps the progress persisted so the session can
// be restored by the next process.
func (c *Controller) Shutdown(ctx context.Context) error {
	c.mu.Lock()
	r := c.cur
	var st *domain.PersistedState
	if r != nil && r.running {
		s := r.persistedState()
		st = &s
		r.running = false
		r.sess.Complete(domain.StateStopped, c.now())
		r.signal()
	}
	c.mu.Unlock()

	if st != nil {
		c.saveState(ctx, *st)
		c.recorder.SessionActive(false)
		c.logger.Info().Int("iteration", st.CurrentIteration).Int("total", st.TotalIterations).Msg("session state kept for restore")
	}
	c.cancel()
	if r == nil {
		return nil
	}
	select {
	case <-r.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Controller) IsRunning() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cur != nil && c.cur.running
}

func (c *Controller) IsPaused() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cur != nil && c.cur.running && c.cur.paused
}

// CurrentSession returns a copy of the latest session, if any.
func (c *Controller) CurrentSession() (domain.Session, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cur == nil {
		return domain.Session{}, false
	}
	return c.cur.sess.Clone(), true
}

// Status summarizes the controller for dashboards.
func (c *Controller) Status() domain.Status {
	minI, maxI := c.timing.Bounds()
	c.mu.Lock()
	defer c.mu.Unlock()
	st := domain.Status{State: domain.StateIdle, MinInterval: minI, MaxInterval: maxI}
	r := c.cur
	if r == nil {
		return st
	}
	s := r.sess
	now := c.now()
	st.IsRunning = r.running
	st.IsPaused = r.running && r.paused
	st.State = s.State
	st.CurrentIteration = s.CurrentIteration
	st.TotalIterations = s.TotalIterations
	st.TargetURL = s.TargetEndpoint
	st.SuccessCount = s.SuccessCount
	st.FailureCount = s.FailureCount
	st.RotationCount = s.RotationCount
	st.CurrentIdentity = s.CurrentIdentity
	if s.TotalIterations > 0 {
		st.Percentage = float64(s.CurrentIteration) * 100 / float64(s.TotalIterations)
	}
	elapsed := s.Duration(now)
	st.ElapsedSeconds = int64(elapsed / time.Second)
	remaining := s.TotalIterations - s.CurrentIteration
	if r.running && remaining > 0 {
		if s.CurrentIteration > 0 {
			perIteration := elapsed / time.Duration(s.CurrentIteration)
			st.EstimatedRemainingSeconds = int64(perIteration*time.Duration(remaining)) / int64(time.Second)
		} else {
			avg := time.Duration(minI+maxI) * c.cfg.IntervalUnit / 2
			st.EstimatedRemainingSeconds = int64(avg*time.Duration(remaining)) / int64(time.Second)
		}
	}
	return st
}

// busyLocked reports whether a session is active or its loop is still
// draining an in-flight request.
func (c *Controller) busyLocked() bool {
	return c.cur != nil && (c.cur.running || !c.cur.finished())
}

// History lists finished sessions, newest first.
func (c *Controller) History(ctx context.Context, limit, offset int) ([]domain.Session, int, error) {
	if c.history == nil {
		return nil, 0, nil
	}
	return c.history.ListSessions(ctx, limit, offset)
}

func (c *Controller) recordHistory(ctx context.Context, sess domain.Session) {
	if c.history == nil {
		return
	}
	if err := c.history.RecordSession(ctx, sess); err != nil {
		c.logger.Warn().Err(err).Str("session", sess.ID).Msg("record session history failed")
	}
}

func (c *Controller) notify(current, total int) {
	c.mu.Lock()
	ls := append([]ProgressListener(nil), c.listeners...)
	c.mu.Unlock()
	for _, l := range ls {
		l.OnProgress(current, total)
	}
}

func (c *Controller) saveState(ctx context.Context, st domain.PersistedState) {
	if err := c.state.Save(context.WithoutCancel(ctx), st); err != nil {
		c.logger.Error().Err(err).Int("iteration", st.CurrentIteration).Msg("save session state failed")
	}
}

func (c *Controller) updateSettings(ctx context.Context, mutate func(*domain.Settings)) {
	if c.settings == nil {
		return
	}
	s, err := c.settings.LoadSettings(ctx)
	if err != nil {
		c.logger.Error().Err(err).Msg("load settings failed")
		return
	}
	mutate(&s)
	if err := c.settings.SaveSettings(ctx, s); err != nil {
		c.logger.Error().Err(err).Msg("save settings failed")
	}
}

func closedChan() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}

// staticProfiles is used when no generator is wired.
type staticProfiles struct{}

func (staticProfiles) Default() domain.BrowsingProfile {
	return domain.BrowsingProfile{
		Platform:   domain.PlatformAndroid,
		DeviceType: domain.DeviceMobile,
		DeviceTier: domain.TierMidRange,
		UserAgent:  "Mozilla/5.0 (Linux; Android 13; Pixel 7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Mobile Safari/537.36",
		Region:     "slovakia",
	}
}

func (s staticProfiles) Random() domain.BrowsingProfile { return s.Default() }

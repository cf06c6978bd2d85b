package sync

import (
	"context"
	"log/slog"
	gosync "sync"
	"time"
)

const (
	// defaultViewThrottle is the minimum interval between passes triggered
	// by the favorites screen becoming visible.
	defaultViewThrottle = 15 * time.Minute

	// defaultDebounce coalesces rapid favorite toggles into one pass.
	defaultDebounce = time.Second
)

// Reason describes what triggered an automatic sync request.
type Reason int

const (
	// ReasonViewAppear means the favorites screen became visible. Subject
	// to the view-appear throttle.
	ReasonViewAppear Reason = iota
	// ReasonPostToggle means a local favorite was just toggled. Debounced
	// so a burst of toggles coalesces into one pass.
	ReasonPostToggle
	// ReasonRemoteChange means the realtime listener observed a remote
	// write. Debounced like a toggle so event bursts coalesce.
	ReasonRemoteChange
)

// String returns the trigger label.
func (r Reason) String() string {
	switch r {
	case ReasonViewAppear:
		return "view_appear"
	case ReasonPostToggle:
		return "post_toggle"
	case ReasonRemoteChange:
		return "remote_change"
	default:
		return "unknown"
	}
}

// Scheduler decides admission of reconciliation requests and guarantees at
// most one pass per owner is in flight. Requests arriving while a pass runs
// are dropped, not queued.
type Scheduler struct {
	engine  *Engine
	session Session
	log     *slog.Logger

	viewThrottle time.Duration
	debounce     time.Duration

	mu       gosync.Mutex
	inFlight map[string]bool
	lastDone map[string]time.Time
	timers   map[string]*time.Timer
	closed   bool
}

// NewScheduler creates a Scheduler. Non-positive durations fall back to the
// defaults (15 m view throttle, 1 s toggle debounce).
func NewScheduler(engine *Engine, session Session, viewThrottle, debounce time.Duration, logger *slog.Logger) *Scheduler {
	if viewThrottle <= 0 {
		viewThrottle = defaultViewThrottle
	}
	if debounce <= 0 {
		debounce = defaultDebounce
	}
	return &Scheduler{
		engine:       engine,
		session:      session,
		log:          logger,
		viewThrottle: viewThrottle,
		debounce:     debounce,
		inFlight:     make(map[string]bool),
		lastDone:     make(map[string]time.Time),
		timers:       make(map[string]*time.Timer),
	}
}

// TriggerAutoSync requests an automatic pass. It returns true when a pass
// was started or scheduled, false when the request was dropped (throttled,
// already in flight, no session, or scheduler closed).
func (s *Scheduler) TriggerAutoSync(ctx context.Context, reason Reason) bool {
	owner, err := s.session.CurrentOwnerID(ctx)
	if err != nil {
		s.log.Debug("auto sync dropped, no session", "reason", reason.String(), "error", err)
		return false
	}

	switch reason {
	case ReasonPostToggle, ReasonRemoteChange:
		return s.scheduleDebounced(ctx, owner, reason)
	default:
		if !s.admitThrottled(owner) {
			s.log.Debug("auto sync throttled", "reason", reason.String(), "owner", owner)
			return false
		}
		if !s.tryAcquire(owner) {
			s.log.Debug("auto sync dropped, pass in flight", "reason", reason.String(), "owner", owner)
			return false
		}
		go func() {
			defer s.release(owner)
			s.engine.Reconcile(ctx)
		}()
		return true
	}
}

// TriggerManualSync runs a pass immediately, bypassing the view-appear
// throttle but not the single-flight guard. The boolean reports whether a
// pass actually ran; false means one was already in flight and no new pass
// was started.
func (s *Scheduler) TriggerManualSync(ctx context.Context) (Report, bool) {
	owner, err := s.session.CurrentOwnerID(ctx)
	if err != nil {
		rep := Report{StartedAt: time.Now().UTC()}
		return rep.failure(err), true
	}

	if !s.tryAcquire(owner) {
		s.log.Info("manual sync dropped, pass in flight", "owner", owner)
		return Report{}, false
	}
	defer s.release(owner)

	return s.engine.Reconcile(ctx), true
}

// InProgress reports whether a pass is currently running for the owner.
func (s *Scheduler) InProgress(ownerID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inFlight[ownerID]
}

// Close stops pending debounce timers. In-flight passes run to completion.
func (s *Scheduler) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	for owner, t := range s.timers {
		t.Stop()
		delete(s.timers, owner)
	}
}

// scheduleDebounced starts or resets the owner's debounce timer. Several
// rapid triggers therefore coalesce into a single pass.
func (s *Scheduler) scheduleDebounced(ctx context.Context, owner string, reason Reason) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}

	if t, ok := s.timers[owner]; ok {
		t.Stop()
	}
	s.timers[owner] = time.AfterFunc(s.debounce, func() {
		s.mu.Lock()
		delete(s.timers, owner)
		s.mu.Unlock()

		if !s.tryAcquire(owner) {
			s.log.Debug("debounced sync dropped, pass in flight", "owner", owner)
			return
		}
		defer s.release(owner)
		s.engine.Reconcile(ctx)
	})

	s.log.Debug("sync debounce timer reset", "reason", reason.String(), "owner", owner, "delay", s.debounce)
	return true
}

// admitThrottled reports whether enough time has passed since the owner's
// last completed pass for a view-appear trigger.
func (s *Scheduler) admitThrottled(owner string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	last, ok := s.lastDone[owner]
	return !ok || time.Since(last) >= s.viewThrottle
}

// tryAcquire takes the owner's single-flight slot. It is the only
// mutex-equivalent discipline in the engine: no shared mutable state is
// touched by more than one in-flight pass.
func (s *Scheduler) tryAcquire(owner string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || s.inFlight[owner] {
		return false
	}
	s.inFlight[owner] = true
	return true
}

// release frees the slot and records completion time for the throttle.
// Called on every exit path, including cancellation.
func (s *Scheduler) release(owner string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.inFlight, owner)
	s.lastDone[owner] = time.Now()
}

// Package scheduler routes agent runs through named lanes (main chat traffic,
// cron, subagents, delegate announces) so a burst on one lane can't starve
// another, while still capping how many runs a single session can have in
// flight at once.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/semaphore"

	"github.com/nextlevelbuilder/goclaw/internal/agent"
)

// RunFunc executes a single agent turn. The scheduler calls it once per
// scheduled request, inside whatever lane/session gating currently allows it.
type RunFunc func(ctx context.Context, req agent.RunRequest) (*agent.RunResult, error)

// TokenEstimateFunc reports a session's current estimated prompt tokens and
// its context window size, used to throttle concurrency as a session nears
// compaction.
type TokenEstimateFunc func(sessionKey string) (estimatedTokens int, contextWindow int)

// Outcome is delivered on the channel returned by Schedule/ScheduleWithOpts.
type Outcome struct {
	Result *agent.RunResult
	Err    error
}

type lane struct {
	name    string
	sem     *semaphore.Weighted
	pending int64
	maxPending int64
}

func newLane(cfg LaneConfig) *lane {
	return &lane{
		name:       cfg.Name,
		sem:        semaphore.NewWeighted(int64(cfg.Workers)),
		maxPending: int64(cfg.Workers + cfg.QueueSize),
	}
}

// admit reserves a queue slot, rejecting once Workers+QueueSize requests are
// already queued or running.
func (l *lane) admit() bool {
	for {
		cur := atomic.LoadInt64(&l.pending)
		if cur >= l.maxPending {
			return false
		}
		if atomic.CompareAndSwapInt64(&l.pending, cur, cur+1) {
			return true
		}
	}
}

func (l *lane) release() {
	atomic.AddInt64(&l.pending, -1)
}

// Scheduler dispatches agent runs across lanes with per-session concurrency
// control and an adaptive throttle driven by context-window usage.
type Scheduler struct {
	mu       sync.Mutex
	lanes    map[string]*lane
	queueCfg QueueConfig
	run      RunFunc
	sessions map[string]*semaphore.Weighted
	sessCap  map[string]int64
	active   map[string][]context.CancelFunc // sessionKey -> in-flight runs' cancel funcs, oldest first

	tokenEstFnMu sync.RWMutex
	tokenEstFn   TokenEstimateFunc

	wg sync.WaitGroup
}

// NewScheduler builds a Scheduler with one worker pool per lane in lanes,
// dispatching accepted runs to run.
func NewScheduler(lanes []LaneConfig, queueCfg QueueConfig, run RunFunc) *Scheduler {
	s := &Scheduler{
		lanes:    make(map[string]*lane, len(lanes)),
		queueCfg: queueCfg,
		run:      run,
		sessions: make(map[string]*semaphore.Weighted),
		sessCap:  make(map[string]int64),
		active:   make(map[string][]context.CancelFunc),
	}
	for _, lc := range lanes {
		s.lanes[lc.Name] = newLane(lc)
	}
	return s
}

// SetTokenEstimateFunc installs the throttle's token/context-window source.
// Safe to call concurrently with Schedule.
func (s *Scheduler) SetTokenEstimateFunc(fn TokenEstimateFunc) {
	s.tokenEstFnMu.Lock()
	s.tokenEstFn = fn
	s.tokenEstFnMu.Unlock()
}

// Stop waits for every in-flight and queued run to finish. Callers should
// cancel the context passed to Schedule first if they want a fast shutdown.
func (s *Scheduler) Stop() {
	s.wg.Wait()
}

// Schedule dispatches req onto lane using the default per-session concurrency
// limit. The returned channel receives exactly one Outcome.
func (s *Scheduler) Schedule(ctx context.Context, laneName string, req agent.RunRequest) <-chan Outcome {
	return s.ScheduleWithOpts(ctx, laneName, req, ScheduleOpts{})
}

// ScheduleWithOpts dispatches req onto lane, overriding the session's
// concurrency limit via opts. The returned channel receives exactly one
// Outcome; it is always closed after the single send.
func (s *Scheduler) ScheduleWithOpts(ctx context.Context, laneName string, req agent.RunRequest, opts ScheduleOpts) <-chan Outcome {
	outCh := make(chan Outcome, 1)

	l := s.laneFor(laneName)
	if !l.admit() {
		outCh <- Outcome{Err: fmt.Errorf("scheduler: lane %q queue full", laneName)}
		close(outCh)
		return outCh
	}

	limit := opts.MaxConcurrent
	if limit <= 0 {
		limit = s.queueCfg.DefaultMaxConcurrentPerSession
	}
	if limit <= 0 {
		limit = 1
	}
	if s.throttled(req.SessionKey) {
		limit = 1
	}
	sessSem := s.sessionSemaphore(req.SessionKey, int64(limit))

	runCtx, cancel := context.WithCancel(ctx)
	s.trackRun(req.SessionKey, cancel)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer l.release()
		defer s.untrackRun(req.SessionKey, cancel)
		defer cancel()

		if err := sessSem.Acquire(runCtx, 1); err != nil {
			outCh <- Outcome{Err: err}
			close(outCh)
			return
		}
		defer sessSem.Release(1)

		if err := l.sem.Acquire(runCtx, 1); err != nil {
			outCh <- Outcome{Err: err}
			close(outCh)
			return
		}
		defer l.sem.Release(1)

		result, err := s.run(runCtx, req)
		outCh <- Outcome{Result: result, Err: err}
		close(outCh)
	}()

	return outCh
}

// trackRun registers an in-flight run's cancel func under its session key so
// CancelSession/CancelOneSession can reach it later.
func (s *Scheduler) trackRun(sessionKey string, cancel context.CancelFunc) {
	if sessionKey == "" {
		return
	}
	s.mu.Lock()
	s.active[sessionKey] = append(s.active[sessionKey], cancel)
	s.mu.Unlock()
}

// untrackRun removes a single cancel func (by identity) from the session's
// in-flight list once its run has finished.
func (s *Scheduler) untrackRun(sessionKey string, cancel context.CancelFunc) {
	if sessionKey == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	funcs := s.active[sessionKey]
	for i := range funcs {
		if fmt.Sprintf("%p", funcs[i]) == fmt.Sprintf("%p", cancel) {
			funcs = append(funcs[:i], funcs[i+1:]...)
			break
		}
	}
	if len(funcs) == 0 {
		delete(s.active, sessionKey)
	} else {
		s.active[sessionKey] = funcs
	}
}

// CancelOneSession cancels the oldest in-flight run for sessionKey, used by
// the /stop command. Reports whether a run was found and cancelled.
func (s *Scheduler) CancelOneSession(sessionKey string) bool {
	s.mu.Lock()
	funcs := s.active[sessionKey]
	if len(funcs) == 0 {
		s.mu.Unlock()
		return false
	}
	cancel := funcs[0]
	s.mu.Unlock()
	cancel()
	return true
}

// CancelSession cancels every in-flight run for sessionKey, used by the
// /stopall command. Reports whether any run was found and cancelled.
func (s *Scheduler) CancelSession(sessionKey string) bool {
	s.mu.Lock()
	funcs := append([]context.CancelFunc(nil), s.active[sessionKey]...)
	s.mu.Unlock()
	if len(funcs) == 0 {
		return false
	}
	for _, cancel := range funcs {
		cancel()
	}
	return true
}

// laneFor returns the named lane, falling back to the main lane (creating it
// lazily with single-worker capacity) for unknown lane names rather than
// failing the request outright.
func (s *Scheduler) laneFor(name string) *lane {
	s.mu.Lock()
	defer s.mu.Unlock()
	if l, ok := s.lanes[name]; ok {
		return l
	}
	slog.Warn("scheduler: unknown lane, falling back to main", "lane", name)
	if l, ok := s.lanes[LaneMain]; ok {
		return l
	}
	l := newLane(LaneConfig{Name: LaneMain, Workers: 1, QueueSize: 8})
	s.lanes[LaneMain] = l
	return l
}

// sessionSemaphore returns the concurrency gate for a session key, creating
// it on first use. Capacity only ever grows for a given key — sessions whose
// concurrency limit varies by call site (e.g. group chats requesting a
// higher limit than DMs) get the larger of the limits seen so far.
func (s *Scheduler) sessionSemaphore(key string, capacity int64) *semaphore.Weighted {
	s.mu.Lock()
	defer s.mu.Unlock()

	if cap, ok := s.sessCap[key]; ok && cap >= capacity {
		return s.sessions[key]
	}
	sem := semaphore.NewWeighted(capacity)
	s.sessions[key] = sem
	s.sessCap[key] = capacity
	return sem
}

// throttled reports whether key's session is close enough to its context
// window that concurrent runs should be serialized to avoid racing a
// compaction.
func (s *Scheduler) throttled(key string) bool {
	s.tokenEstFnMu.RLock()
	fn := s.tokenEstFn
	s.tokenEstFnMu.RUnlock()
	if fn == nil || key == "" {
		return false
	}
	tokens, window := fn(key)
	if window <= 0 {
		return false
	}
	threshold := s.queueCfg.ThrottleThreshold
	if threshold <= 0 {
		threshold = 0.85
	}
	return float64(tokens)/float64(window) >= threshold
}

// Package cron implements CronExecutor (spec §4.10): persisted jobs on a
// schedule, each firing either a SystemEvent broadcast or an AgentTurn.
//
// Grounded on adhocore/gronx for schedule evaluation (already a teacher
// dependency) and internal/sessions.Manager's atomic temp-file-then-rename
// JSON persistence for the job store.
package cron

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/adhocore/gronx"
	"github.com/google/uuid"

	"github.com/nextlevelbuilder/goclaw/internal/store"
)

// RetryConfig controls how many times a failed job fires again, and how
// long to wait between attempts.
type RetryConfig struct {
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
}

// DefaultRetryConfig retries a failed job up to 3 times after the first
// attempt, with exponential backoff starting at 2s and capped at 30s.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{MaxRetries: 3, BaseDelay: 2 * time.Second, MaxDelay: 30 * time.Second}
}

func (rc RetryConfig) delay(attempt int) time.Duration {
	d := rc.BaseDelay
	for i := 0; i < attempt; i++ {
		d *= 2
		if d > rc.MaxDelay {
			return rc.MaxDelay
		}
	}
	return d
}

// pollInterval is how often the scheduler checks every job's schedule
// against gronx. One minute matches standard cron expression granularity.
const pollInterval = time.Minute

// Service is a persistent, schedule-driven job runner. It satisfies
// store.CronStore.
type Service struct {
	mu       sync.Mutex
	path     string
	jobs     map[string]*store.CronJob
	retryCfg RetryConfig
	onJob    func(job *store.CronJob) (*store.CronJobResult, error)

	gron gronx.Gronx

	stopCh chan struct{}
	doneCh chan struct{}
}

// NewService loads (or initializes) a job store rooted at path.
// logger is accepted for interface symmetry with the teacher's other
// services but currently unused (slog's package-level logger is used
// throughout, matching the rest of this codebase).
func NewService(path string, logger *slog.Logger) *Service {
	s := &Service{
		path:     path,
		jobs:     make(map[string]*store.CronJob),
		retryCfg: DefaultRetryConfig(),
		gron:     gronx.New(),
	}
	if err := s.load(); err != nil {
		slog.Warn("cron: failed to load job store, starting empty", "path", path, "error", err)
	}
	return s
}

// SetRetryConfig overrides the default retry policy.
func (s *Service) SetRetryConfig(cfg RetryConfig) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.retryCfg = cfg
}

// SetOnJob installs the handler invoked when a job fires.
func (s *Service) SetOnJob(fn func(job *store.CronJob) (*store.CronJobResult, error)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onJob = fn
}

// Start begins the polling loop. Safe to call once; a second call is a no-op.
func (s *Service) Start() error {
	s.mu.Lock()
	if s.stopCh != nil {
		s.mu.Unlock()
		return nil
	}
	s.stopCh = make(chan struct{})
	s.doneCh = make(chan struct{})
	s.mu.Unlock()

	go s.run()
	return nil
}

// Stop halts the polling loop and waits for the in-flight tick to finish.
func (s *Service) Stop() {
	s.mu.Lock()
	stopCh := s.stopCh
	doneCh := s.doneCh
	s.stopCh = nil
	s.mu.Unlock()

	if stopCh == nil {
		return
	}
	close(stopCh)
	<-doneCh
}

func (s *Service) run() {
	defer close(s.doneCh)
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCh:
			return
		case now := <-ticker.C:
			s.tick(now)
		}
	}
}

func (s *Service) tick(now time.Time) {
	s.mu.Lock()
	due := make([]*store.CronJob, 0)
	for _, j := range s.jobs {
		if !j.Enabled {
			continue
		}
		isDue, err := s.gron.IsDue(j.Schedule, now)
		if err != nil {
			slog.Warn("cron: invalid schedule expression", "job", j.ID, "schedule", j.Schedule, "error", err)
			continue
		}
		if isDue {
			due = append(due, j)
		}
	}
	handler := s.onJob
	retryCfg := s.retryCfg
	s.mu.Unlock()

	for _, job := range due {
		go s.fire(job, handler, retryCfg)
	}
}

// fire runs one job with retry-with-backoff, recording the outcome for
// audit on the job record. Failures never move the job's schedule —
// next-run is derived purely from the cron expression.
func (s *Service) fire(job *store.CronJob, handler func(job *store.CronJob) (*store.CronJobResult, error), retryCfg RetryConfig) {
	if handler == nil {
		return
	}

	var result *store.CronJobResult
	var err error
	for attempt := 0; attempt <= retryCfg.MaxRetries; attempt++ {
		result, err = handler(job)
		if err == nil {
			break
		}
		slog.Warn("cron: job execution failed", "job", job.ID, "attempt", attempt, "error", err)
		if attempt < retryCfg.MaxRetries {
			time.Sleep(retryCfg.delay(attempt))
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	j, ok := s.jobs[job.ID]
	if !ok {
		return
	}
	j.LastRunAt = &now
	if err != nil {
		j.LastError = err.Error()
	} else {
		j.LastError = ""
		if result != nil {
			j.LastResultContent = result.Content
		}
	}
	_ = s.saveLocked()
}

// List returns every persisted job.
func (s *Service) List() []*store.CronJob {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*store.CronJob, 0, len(s.jobs))
	for _, j := range s.jobs {
		out = append(out, j)
	}
	return out
}

// Get returns a single job by ID.
func (s *Service) Get(id string) (*store.CronJob, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	return j, ok
}

// Create validates job's schedule, assigns an ID, persists it, and returns
// the stored record.
func (s *Service) Create(job store.CronJob) (*store.CronJob, error) {
	if _, err := gronx.New().IsDue(job.Schedule); err != nil {
		return nil, fmt.Errorf("invalid cron schedule %q: %w", job.Schedule, err)
	}
	job.ID = uuid.NewString()
	job.CreatedAt = time.Now()
	job.Enabled = true

	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[job.ID] = &job
	if err := s.saveLocked(); err != nil {
		delete(s.jobs, job.ID)
		return nil, err
	}
	return &job, nil
}

// Update replaces an existing job's mutable fields.
func (s *Service) Update(id string, mutate func(job *store.CronJob)) (*store.CronJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.jobs[id]
	if !ok {
		return nil, fmt.Errorf("cron job %s not found", id)
	}
	mutate(j)
	if err := s.saveLocked(); err != nil {
		return nil, err
	}
	return j, nil
}

// Delete removes a job permanently.
func (s *Service) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[id]; !ok {
		return fmt.Errorf("cron job %s not found", id)
	}
	delete(s.jobs, id)
	return s.saveLocked()
}

func (s *Service) load() error {
	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}
	var jobs []*store.CronJob
	if err := json.Unmarshal(data, &jobs); err != nil {
		return err
	}
	for _, j := range jobs {
		s.jobs[j.ID] = j
	}
	return nil
}

// saveLocked atomically persists every job: write to a temp file in the
// same directory, then rename over the target. Caller must hold s.mu.
func (s *Service) saveLocked() error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return err
	}
	jobs := make([]*store.CronJob, 0, len(s.jobs))
	for _, j := range s.jobs {
		jobs = append(jobs, j)
	}
	data, err := json.MarshalIndent(jobs, "", "  ")
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".cron-*.tmp")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), s.path)
}

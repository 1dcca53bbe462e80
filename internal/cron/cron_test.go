package cron

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/nextlevelbuilder/goclaw/internal/store"
)

func TestRetryConfigDelayDoublesAndCaps(t *testing.T) {
	rc := RetryConfig{MaxRetries: 5, BaseDelay: time.Second, MaxDelay: 5 * time.Second}

	cases := []struct {
		attempt int
		want    time.Duration
	}{
		{0, time.Second},
		{1, 2 * time.Second},
		{2, 4 * time.Second},
		{3, 5 * time.Second}, // would be 8s, capped at MaxDelay
		{10, 5 * time.Second},
	}
	for _, tc := range cases {
		if got := rc.delay(tc.attempt); got != tc.want {
			t.Fatalf("delay(%d) = %v, want %v", tc.attempt, got, tc.want)
		}
	}
}

func TestCreateRejectsInvalidSchedule(t *testing.T) {
	svc := NewService(filepath.Join(t.TempDir(), "jobs.json"), nil)
	if _, err := svc.Create(store.CronJob{Name: "bad", Schedule: "not a cron expr"}); err == nil {
		t.Fatalf("expected invalid schedule to be rejected")
	}
}

func TestCreateListGetUpdateDelete(t *testing.T) {
	svc := NewService(filepath.Join(t.TempDir(), "jobs.json"), nil)

	job, err := svc.Create(store.CronJob{Name: "daily", Schedule: "0 9 * * *", Payload: store.CronPayload{Message: "hi"}})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if job.ID == "" {
		t.Fatalf("expected generated ID")
	}
	if !job.Enabled {
		t.Fatalf("expected new job to be enabled")
	}

	if got, ok := svc.Get(job.ID); !ok || got.Name != "daily" {
		t.Fatalf("Get returned %+v, ok=%v", got, ok)
	}

	jobs := svc.List()
	if len(jobs) != 1 {
		t.Fatalf("expected 1 job, got %d", len(jobs))
	}

	updated, err := svc.Update(job.ID, func(j *store.CronJob) { j.Enabled = false })
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if updated.Enabled {
		t.Fatalf("expected job to be disabled after update")
	}

	if err := svc.Delete(job.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, ok := svc.Get(job.ID); ok {
		t.Fatalf("expected job to be gone after delete")
	}
}

func TestDeleteUnknownJobErrors(t *testing.T) {
	svc := NewService(filepath.Join(t.TempDir(), "jobs.json"), nil)
	if err := svc.Delete("nope"); err == nil {
		t.Fatalf("expected error deleting unknown job")
	}
}

func TestFireRecordsLastErrorWithoutMovingSchedule(t *testing.T) {
	svc := NewService(filepath.Join(t.TempDir(), "jobs.json"), nil)
	job, err := svc.Create(store.CronJob{Name: "flaky", Schedule: "0 9 * * *"})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	calls := 0
	handler := func(j *store.CronJob) (*store.CronJobResult, error) {
		calls++
		return nil, errors.New("boom")
	}

	svc.fire(job, handler, RetryConfig{MaxRetries: 2, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond})

	if calls != 3 {
		t.Fatalf("expected 1 initial attempt + 2 retries = 3 calls, got %d", calls)
	}
	got, ok := svc.Get(job.ID)
	if !ok {
		t.Fatalf("job disappeared after fire")
	}
	if got.LastError == "" {
		t.Fatalf("expected LastError to be recorded")
	}
	if got.Schedule != "0 9 * * *" {
		t.Fatalf("fire must never mutate the job's schedule, got %q", got.Schedule)
	}
	if got.LastRunAt == nil {
		t.Fatalf("expected LastRunAt to be set")
	}
}

func TestFireRecordsSuccessResult(t *testing.T) {
	svc := NewService(filepath.Join(t.TempDir(), "jobs.json"), nil)
	job, err := svc.Create(store.CronJob{Name: "ok", Schedule: "0 9 * * *"})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	handler := func(j *store.CronJob) (*store.CronJobResult, error) {
		return &store.CronJobResult{Content: "done"}, nil
	}

	svc.fire(job, handler, DefaultRetryConfig())

	got, ok := svc.Get(job.ID)
	if !ok {
		t.Fatalf("job disappeared after fire")
	}
	if got.LastError != "" {
		t.Fatalf("expected no error, got %q", got.LastError)
	}
	if got.LastResultContent != "done" {
		t.Fatalf("expected LastResultContent %q, got %q", "done", got.LastResultContent)
	}
}

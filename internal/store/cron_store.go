package store

import "time"

// CronPayload is what fires when a job is due: either a channel delivery
// (Deliver=true routes Content to Channel/To) or a plain AgentTurn message.
type CronPayload struct {
	Channel string `json:"channel,omitempty"`
	Message string `json:"message"`
	To      string `json:"to,omitempty"`
	Deliver bool   `json:"deliver,omitempty"`
}

// CronJob is a persisted, schedule-driven job (spec §4.10).
type CronJob struct {
	ID      string      `json:"id"`
	Name    string      `json:"name"`
	AgentID string      `json:"agent_id,omitempty"`
	UserID  string      `json:"user_id,omitempty"`
	Schedule string     `json:"schedule"` // standard 5-field cron expression
	Enabled bool        `json:"enabled"`
	Payload CronPayload `json:"payload"`

	CreatedAt         time.Time  `json:"created_at"`
	LastRunAt         *time.Time `json:"last_run_at,omitempty"`
	LastError         string     `json:"last_error,omitempty"`
	LastResultContent string     `json:"last_result_content,omitempty"`
}

// CronJobResult is the single outcome type returned for audit each time a
// job fires (spec §4.10: "atomic operation with a single outcome type").
type CronJobResult struct {
	Content      string `json:"content"`
	InputTokens  int    `json:"input_tokens,omitempty"`
	OutputTokens int    `json:"output_tokens,omitempty"`
}

// CronStore manages scheduled jobs and their execution loop.
type CronStore interface {
	List() []*CronJob
	Get(id string) (*CronJob, bool)
	Create(job CronJob) (*CronJob, error)
	Update(id string, mutate func(job *CronJob)) (*CronJob, error)
	Delete(id string) error

	SetOnJob(fn func(job *CronJob) (*CronJobResult, error))
	Start() error
	Stop()
}

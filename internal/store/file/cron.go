package file

import "github.com/nextlevelbuilder/goclaw/internal/cron"

// FileCronStore adapts cron.Service to store.CronStore. Embedding promotes
// every Service method, including SetRetryConfig(cron.RetryConfig), so
// callers can still reach it through a type assertion on the store.CronStore
// interface value.
type FileCronStore struct {
	*cron.Service
}

// NewFileCronStore wraps an already-loaded cron.Service.
func NewFileCronStore(svc *cron.Service) *FileCronStore {
	return &FileCronStore{Service: svc}
}

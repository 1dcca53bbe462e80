package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/nextlevelbuilder/goclaw/internal/store"
)

// CronTool lets an agent list, create, and remove its own scheduled jobs.
type CronTool struct {
	store store.CronStore
}

func NewCronTool(cronStore store.CronStore) *CronTool {
	return &CronTool{store: cronStore}
}

func (t *CronTool) Name() string { return "cron" }
func (t *CronTool) Description() string {
	return "Manage scheduled jobs: list, create, or delete a cron-triggered message"
}
func (t *CronTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"action": map[string]interface{}{
				"type":        "string",
				"description": "One of: list, create, delete",
				"enum":        []string{"list", "create", "delete"},
			},
			"id":       map[string]interface{}{"type": "string", "description": "Job ID (for delete)"},
			"name":     map[string]interface{}{"type": "string", "description": "Job name (for create)"},
			"schedule": map[string]interface{}{"type": "string", "description": "5-field cron expression (for create)"},
			"message":  map[string]interface{}{"type": "string", "description": "Message to send when the job fires (for create)"},
		},
		"required": []string{"action"},
	}
}

func (t *CronTool) Execute(ctx context.Context, args map[string]interface{}) *Result {
	action, _ := args["action"].(string)
	switch action {
	case "list":
		return t.list()
	case "create":
		return t.create(args)
	case "delete":
		return t.delete(args)
	default:
		return ErrorResult(fmt.Sprintf("unknown cron action %q", action))
	}
}

func (t *CronTool) list() *Result {
	jobs := t.store.List()
	if len(jobs) == 0 {
		return SilentResult("no scheduled jobs")
	}
	var b strings.Builder
	for _, j := range jobs {
		status := "enabled"
		if !j.Enabled {
			status = "disabled"
		}
		fmt.Fprintf(&b, "%s (%s) — %s — %s\n", j.ID, j.Name, j.Schedule, status)
	}
	return SilentResult(b.String())
}

func (t *CronTool) create(args map[string]interface{}) *Result {
	name, _ := args["name"].(string)
	schedule, _ := args["schedule"].(string)
	message, _ := args["message"].(string)
	if schedule == "" || message == "" {
		return ErrorResult("schedule and message are required")
	}
	if name == "" {
		name = "job"
	}

	job, err := t.store.Create(store.CronJob{
		Name:     name,
		Schedule: schedule,
		Payload:  store.CronPayload{Message: message},
	})
	if err != nil {
		return ErrorResult(fmt.Sprintf("failed to create cron job: %v", err))
	}

	data, _ := json.Marshal(job)
	return SilentResult(string(data))
}

func (t *CronTool) delete(args map[string]interface{}) *Result {
	id, _ := args["id"].(string)
	if id == "" {
		return ErrorResult("id is required")
	}
	if err := t.store.Delete(id); err != nil {
		return ErrorResult(fmt.Sprintf("failed to delete cron job: %v", err))
	}
	return SilentResult(fmt.Sprintf("deleted job %s", id))
}

package cmd

import (
	"context"
	"errors"

	"github.com/nextlevelbuilder/goclaw/internal/providers"
)

// formatAgentError turns an agent run failure into a short message safe to
// deliver back to the channel the request came from, rather than leaking
// internal error text (stack traces, DSNs, file paths) to end users.
func formatAgentError(err error) string {
	if err == nil {
		return ""
	}

	var httpErr *providers.HTTPError
	if errors.As(err, &httpErr) {
		switch {
		case httpErr.Status == 429:
			return "I'm being rate-limited by the AI provider right now. Please try again in a moment."
		case httpErr.Status == 401 || httpErr.Status == 403:
			return "The AI provider rejected the request (check API key configuration)."
		case httpErr.Status >= 500:
			return "The AI provider is having issues right now. Please try again shortly."
		}
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return "That took too long to process. Please try again."
	}

	return "Sorry, something went wrong processing that message. Please try again."
}

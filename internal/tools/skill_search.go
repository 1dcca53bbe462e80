package tools

import (
	"context"
	"fmt"
	"strings"

	"github.com/nextlevelbuilder/goclaw/internal/skills"
)

// SkillSearchTool lets the agent discover skills by keyword instead of
// requiring every skill to be loaded into context up front.
type SkillSearchTool struct {
	loader *skills.Loader
}

// NewSkillSearchTool creates a tool backed by loader's current skill set.
func NewSkillSearchTool(loader *skills.Loader) *SkillSearchTool {
	return &SkillSearchTool{loader: loader}
}

func (t *SkillSearchTool) Name() string { return "skill_search" }

func (t *SkillSearchTool) Description() string {
	return "Search available skills by keyword; returns matching skill names, descriptions, and full content"
}

func (t *SkillSearchTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"query": map[string]interface{}{
				"type":        "string",
				"description": "Keyword or phrase to search skill names, descriptions, and tags for. Empty returns all skills.",
			},
		},
	}
}

func (t *SkillSearchTool) Execute(ctx context.Context, args map[string]interface{}) *Result {
	query, _ := args["query"].(string)
	matches := t.loader.Search(query)
	if len(matches) == 0 {
		return SilentResult("no matching skills found")
	}

	var sb strings.Builder
	for _, s := range matches {
		fmt.Fprintf(&sb, "## %s\n%s\n\n%s\n\n", s.Name, s.Description, s.Content)
	}
	return SilentResult(sb.String())
}

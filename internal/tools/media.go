package tools

import (
	"context"
	"fmt"

	"github.com/nextlevelbuilder/goclaw/internal/media"
	"github.com/nextlevelbuilder/goclaw/internal/providers"
)

// FetchImageTool downloads a remote image through the SSRF-guarded media
// pipeline and describes it with a vision-capable provider, for images
// referenced by URL rather than already attached to the conversation.
type FetchImageTool struct {
	pipeline *media.Pipeline
	registry *providers.Registry
}

func NewFetchImageTool(pipeline *media.Pipeline, registry *providers.Registry) *FetchImageTool {
	return &FetchImageTool{pipeline: pipeline, registry: registry}
}

func (t *FetchImageTool) Name() string { return "fetch_image" }

func (t *FetchImageTool) Description() string {
	return "Download an image from a URL and analyze it with a vision model. Use this for images referenced by URL rather than attached to the conversation."
}

func (t *FetchImageTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"url": map[string]interface{}{
				"type":        "string",
				"description": "Image URL to fetch",
			},
			"prompt": map[string]interface{}{
				"type":        "string",
				"description": "What you want to know about the image. E.g. 'Describe this image in detail'",
			},
		},
		"required": []string{"url"},
	}
}

func (t *FetchImageTool) Execute(ctx context.Context, args map[string]interface{}) *Result {
	rawURL, _ := args["url"].(string)
	if rawURL == "" {
		return ErrorResult("url is required")
	}
	prompt, _ := args["prompt"].(string)

	path, err := t.pipeline.Fetch(ctx, rawURL)
	if err != nil {
		return ErrorResult(fmt.Sprintf("failed to fetch image: %v", err))
	}

	provider, _, err := t.resolveVisionProvider()
	if err != nil {
		return ErrorResult(err.Error())
	}

	analysis, err := t.pipeline.Analyze(ctx, path, provider, prompt)
	if err != nil {
		return ErrorResult(fmt.Sprintf("failed to analyze image: %v", err))
	}

	result := NewResult(analysis)
	result.Provider = provider.Name()
	return result
}

// resolveVisionProvider picks the first available vision-capable provider,
// same priority order read_image uses.
func (t *FetchImageTool) resolveVisionProvider() (providers.Provider, string, error) {
	for _, name := range visionProviderPriority {
		p, err := t.registry.Get(name)
		if err != nil {
			continue
		}
		model := p.DefaultModel()
		if override, ok := visionModelOverrides[name]; ok {
			model = override
		}
		return p, model, nil
	}
	return nil, "", fmt.Errorf("no vision-capable provider available (need one of: %v)", visionProviderPriority)
}

package providers

// Option keys carried in ChatRequest.Options, shared across providers so
// callers don't need to know which provider a model string routes to.
const (
	OptMaxTokens       = "max_tokens"
	OptTemperature     = "temperature"
	OptThinkingLevel   = "thinking_level" // "off", "low", "medium", "high"
	OptReasoningEffort = "reasoning_effort"
	OptEnableThinking  = "enable_thinking"
	OptThinkingBudget  = "thinking_budget"
)

// toolCallAccumulator collects a streamed tool call's arguments JSON
// fragment by fragment until content_block_stop / [DONE].
type toolCallAccumulator struct {
	ToolCall
	rawArgs    string
	thoughtSig string
}

// CleanToolSchemas converts tool definitions to the OpenAI-compatible wire
// shape, applying per-provider schema sanitization.
func CleanToolSchemas(provider string, tools []ToolDefinition) []map[string]interface{} {
	out := make([]map[string]interface{}, 0, len(tools))
	for _, t := range tools {
		out = append(out, map[string]interface{}{
			"type": "function",
			"function": map[string]interface{}{
				"name":        t.Function.Name,
				"description": t.Function.Description,
				"parameters":  CleanSchemaForProvider(provider, t.Function.Parameters),
			},
		})
	}
	return out
}

// geminiUnsupportedKeywords lists JSON Schema keywords Gemini's function
// calling rejects outright (HTTP 400: "Unknown name ... at 'tools'").
var geminiUnsupportedKeywords = map[string]bool{
	"$schema":              true,
	"additionalProperties": true,
	"examples":             true,
	"const":                true,
}

// CleanSchemaForProvider strips JSON Schema keywords a given provider's
// tool-calling API doesn't accept, recursing into nested object/array
// schemas. Anthropic and plain OpenAI accept the full schema unchanged.
func CleanSchemaForProvider(provider string, schema map[string]interface{}) map[string]interface{} {
	if schema == nil {
		return map[string]interface{}{"type": "object", "properties": map[string]interface{}{}}
	}
	switch provider {
	case "gemini", "openrouter/gemini":
		return stripKeywords(schema, geminiUnsupportedKeywords)
	default:
		return schema
	}
}

func stripKeywords(schema map[string]interface{}, blocked map[string]bool) map[string]interface{} {
	out := make(map[string]interface{}, len(schema))
	for k, v := range schema {
		if blocked[k] {
			continue
		}
		switch vv := v.(type) {
		case map[string]interface{}:
			out[k] = stripKeywords(vv, blocked)
		case []interface{}:
			out[k] = stripKeywordsSlice(vv, blocked)
		default:
			out[k] = v
		}
	}
	return out
}

func stripKeywordsSlice(items []interface{}, blocked map[string]bool) []interface{} {
	out := make([]interface{}, len(items))
	for i, item := range items {
		if m, ok := item.(map[string]interface{}); ok {
			out[i] = stripKeywords(m, blocked)
			continue
		}
		out[i] = item
	}
	return out
}

package providers

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"
)

// BedrockProvider implements Provider over the AWS Bedrock Converse API,
// signed with a hand-rolled AWS Signature Version 4 implementation rather
// than the AWS SDK's request pipeline — the gateway already resolves
// long-lived or STS credentials itself (see internal/config), and Converse
// is a single POST with no need for the SDK's retry/endpoint machinery.
//
// Grounded on original_source/src/agent/bedrock.rs: same non-streaming
// Converse API choice (avoids the event-stream binary framing a true
// streaming Bedrock call would require), the same canonical-request/
// string-to-sign/derive-key/authorization-header sequence, translated from
// hmac::Hmac<Sha256> to crypto/hmac + crypto/sha256.
type BedrockProvider struct {
	region          string
	accessKeyID     string
	secretAccessKey string
	sessionToken    string
	baseURL         string
	defaultModel    string
	client          *http.Client
	retryConfig     RetryConfig
}

// NewBedrockProvider validates credentials and constructs a Bedrock Converse
// client for region.
func NewBedrockProvider(region, accessKeyID, secretAccessKey, defaultModel string) (*BedrockProvider, error) {
	if strings.TrimSpace(region) == "" {
		return nil, fmt.Errorf("bedrock: AWS region must not be empty")
	}
	if strings.TrimSpace(accessKeyID) == "" {
		return nil, fmt.Errorf("bedrock: AWS access key ID must not be empty")
	}
	if strings.TrimSpace(secretAccessKey) == "" {
		return nil, fmt.Errorf("bedrock: AWS secret access key must not be empty")
	}
	if defaultModel == "" {
		defaultModel = "anthropic.claude-sonnet-4-5-20250929-v1:0"
	}
	return &BedrockProvider{
		region:          region,
		accessKeyID:     accessKeyID,
		secretAccessKey: secretAccessKey,
		baseURL:         fmt.Sprintf("https://bedrock-runtime.%s.amazonaws.com", region),
		defaultModel:    defaultModel,
		client:          &http.Client{Timeout: 300 * time.Second},
		retryConfig:     DefaultRetryConfig(),
	}, nil
}

// WithBedrockSessionToken attaches a temporary STS session token.
func (p *BedrockProvider) WithBedrockSessionToken(token string) *BedrockProvider {
	p.sessionToken = strings.TrimSpace(token)
	return p
}

func (p *BedrockProvider) Name() string        { return "bedrock" }
func (p *BedrockProvider) DefaultModel() string { return p.defaultModel }

func (p *BedrockProvider) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	model := req.Model
	if model == "" {
		model = p.defaultModel
	}
	body := p.buildConverseBody(req)

	return RetryDo(ctx, p.retryConfig, func() (*ChatResponse, error) {
		respBody, err := p.doConverse(ctx, model, body)
		if err != nil {
			return nil, err
		}
		defer respBody.Close()

		var resp bedrockConverseResponse
		if err := json.NewDecoder(respBody).Decode(&resp); err != nil {
			return nil, fmt.Errorf("bedrock: decode response: %w", err)
		}
		return p.parseConverseResponse(&resp), nil
	})
}

// ChatStream synthesizes chunk callbacks from a single Converse response:
// Bedrock's Converse API is request/response only, so there is nothing to
// stream from (mirrors DashScopeProvider's tools-present fallback).
func (p *BedrockProvider) ChatStream(ctx context.Context, req ChatRequest, onChunk func(StreamChunk)) (*ChatResponse, error) {
	resp, err := p.Chat(ctx, req)
	if err != nil {
		return nil, err
	}
	if onChunk != nil {
		if resp.Thinking != "" {
			onChunk(StreamChunk{Thinking: resp.Thinking})
		}
		if resp.Content != "" {
			onChunk(StreamChunk{Content: resp.Content})
		}
		onChunk(StreamChunk{Done: true})
	}
	return resp, nil
}

func (p *BedrockProvider) buildConverseBody(req ChatRequest) map[string]interface{} {
	body := map[string]interface{}{}

	var system []map[string]interface{}
	var messages []map[string]interface{}

	for _, m := range req.Messages {
		switch m.Role {
		case "system":
			system = append(system, map[string]interface{}{"text": m.Content})
		case "user":
			messages = append(messages, map[string]interface{}{
				"role":    "user",
				"content": []map[string]interface{}{{"text": m.Content}},
			})
		case "assistant":
			var blocks []map[string]interface{}
			if m.Content != "" {
				blocks = append(blocks, map[string]interface{}{"text": m.Content})
			}
			for _, tc := range m.ToolCalls {
				blocks = append(blocks, map[string]interface{}{
					"toolUse": map[string]interface{}{
						"toolUseId": tc.ID,
						"name":      tc.Name,
						"input":     tc.Arguments,
					},
				})
			}
			messages = append(messages, map[string]interface{}{"role": "assistant", "content": blocks})
		case "tool":
			messages = append(messages, map[string]interface{}{
				"role": "user",
				"content": []map[string]interface{}{{
					"toolResult": map[string]interface{}{
						"toolUseId": m.ToolCallID,
						"content":   []map[string]interface{}{{"text": m.Content}},
						"status":    "success",
					},
				}},
			})
		}
	}

	if len(system) > 0 {
		body["system"] = system
	}
	body["messages"] = messages

	inferenceConfig := map[string]interface{}{"maxTokens": 4096}
	if v, ok := req.Options[OptMaxTokens]; ok {
		inferenceConfig["maxTokens"] = v
	}
	if v, ok := req.Options[OptTemperature]; ok {
		inferenceConfig["temperature"] = v
	}
	body["inferenceConfig"] = inferenceConfig

	if len(req.Tools) > 0 {
		var tools []map[string]interface{}
		for _, t := range req.Tools {
			tools = append(tools, map[string]interface{}{
				"toolSpec": map[string]interface{}{
					"name":        t.Function.Name,
					"description": t.Function.Description,
					"inputSchema": map[string]interface{}{"json": t.Function.Parameters},
				},
			})
		}
		body["toolConfig"] = map[string]interface{}{"tools": tools}
	}

	return body
}

func (p *BedrockProvider) parseConverseResponse(resp *bedrockConverseResponse) *ChatResponse {
	result := &ChatResponse{FinishReason: "stop"}
	for _, block := range resp.Output.Message.Content {
		if block.Text != "" {
			result.Content += block.Text
		}
		if block.ToolUse != nil {
			result.ToolCalls = append(result.ToolCalls, ToolCall{
				ID:        block.ToolUse.ToolUseID,
				Name:      strings.TrimSpace(block.ToolUse.Name),
				Arguments: block.ToolUse.Input,
			})
		}
	}
	switch resp.StopReason {
	case "tool_use":
		result.FinishReason = "tool_calls"
	case "max_tokens":
		result.FinishReason = "length"
	}
	result.Usage = &Usage{
		PromptTokens:     resp.Usage.InputTokens,
		CompletionTokens: resp.Usage.OutputTokens,
		TotalTokens:      resp.Usage.TotalTokens,
	}
	return result
}

func (p *BedrockProvider) doConverse(ctx context.Context, model string, body map[string]interface{}) (io.ReadCloser, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("bedrock: marshal request: %w", err)
	}

	uriPath := "/model/" + percentEncodePathSegment(model) + "/converse"
	url := p.baseURL + uriPath

	httpReq, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("bedrock: create request: %w", err)
	}
	httpReq.Header.Set("content-type", "application/json")

	now := time.Now().UTC()
	for name, value := range p.signRequest("POST", uriPath, data, now) {
		httpReq.Header.Set(name, value)
	}

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("bedrock: request failed: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		return nil, &HTTPError{
			Status: resp.StatusCode,
			Body:   fmt.Sprintf("bedrock: %s", string(respBody)),
		}
	}
	return resp.Body, nil
}

// signRequest implements AWS Signature Version 4 for a single Bedrock
// Converse POST: canonical request -> string to sign -> derived signing key
// -> Authorization header.
func (p *BedrockProvider) signRequest(method, uriPath string, body []byte, now time.Time) map[string]string {
	datetime := now.Format("20060102T150405Z")
	date := datetime[:8]
	host := fmt.Sprintf("bedrock-runtime.%s.amazonaws.com", p.region)
	payloadHash := hexSHA256(body)

	signedHeaderNames := []string{"host", "x-amz-content-sha256", "x-amz-date"}
	if p.sessionToken != "" {
		signedHeaderNames = append(signedHeaderNames, "x-amz-security-token")
	}
	sort.Strings(signedHeaderNames)

	headerValues := map[string]string{
		"host":                  host,
		"x-amz-content-sha256":  payloadHash,
		"x-amz-date":            datetime,
		"x-amz-security-token":  p.sessionToken,
	}

	var canonicalHeaders strings.Builder
	for _, name := range signedHeaderNames {
		canonicalHeaders.WriteString(name)
		canonicalHeaders.WriteByte(':')
		canonicalHeaders.WriteString(headerValues[name])
		canonicalHeaders.WriteByte('\n')
	}
	signedHeaders := strings.Join(signedHeaderNames, ";")

	canonicalRequest := strings.Join([]string{
		method, uriPath, "", canonicalHeaders.String(), signedHeaders, payloadHash,
	}, "\n")

	credentialScope := fmt.Sprintf("%s/%s/bedrock/aws4_request", date, p.region)
	stringToSign := strings.Join([]string{
		"AWS4-HMAC-SHA256", datetime, credentialScope, hexSHA256([]byte(canonicalRequest)),
	}, "\n")

	signingKey := deriveSigningKey(p.secretAccessKey, date, p.region)
	signature := hex.EncodeToString(hmacSHA256(signingKey, []byte(stringToSign)))

	authorization := fmt.Sprintf("AWS4-HMAC-SHA256 Credential=%s/%s, SignedHeaders=%s, Signature=%s",
		p.accessKeyID, credentialScope, signedHeaders, signature)

	headers := map[string]string{
		"host":                 host,
		"x-amz-date":           datetime,
		"x-amz-content-sha256": payloadHash,
		"authorization":        authorization,
	}
	if p.sessionToken != "" {
		headers["x-amz-security-token"] = p.sessionToken
	}
	return headers
}

func hmacSHA256(key, data []byte) []byte {
	mac := hmac.New(sha256.New, key)
	mac.Write(data)
	return mac.Sum(nil)
}

func hexSHA256(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

func deriveSigningKey(secretKey, date, region string) []byte {
	kDate := hmacSHA256([]byte("AWS4"+secretKey), []byte(date))
	kRegion := hmacSHA256(kDate, []byte(region))
	kService := hmacSHA256(kRegion, []byte("bedrock"))
	return hmacSHA256(kService, []byte("aws4_request"))
}

// percentEncodePathSegment escapes a path segment per RFC 3986 unreserved
// characters, as SigV4 canonical-request construction requires (model IDs
// contain ':' and '.', which must be percent-encoded).
func percentEncodePathSegment(segment string) string {
	var b strings.Builder
	for i := 0; i < len(segment); i++ {
		c := segment[i]
		if (c >= 'A' && c <= 'Z') || (c >= 'a' && c <= 'z') || (c >= '0' && c <= '9') ||
			c == '-' || c == '_' || c == '.' || c == '~' {
			b.WriteByte(c)
		} else {
			fmt.Fprintf(&b, "%%%02X", c)
		}
	}
	return b.String()
}

// --- Bedrock Converse API response types ---

type bedrockConverseResponse struct {
	Output struct {
		Message struct {
			Content []bedrockContentBlock `json:"content"`
		} `json:"message"`
	} `json:"output"`
	StopReason string `json:"stopReason"`
	Usage      struct {
		InputTokens  int `json:"inputTokens"`
		OutputTokens int `json:"outputTokens"`
		TotalTokens  int `json:"totalTokens"`
	} `json:"usage"`
}

type bedrockContentBlock struct {
	Text    string `json:"text,omitempty"`
	ToolUse *struct {
		ToolUseID string                 `json:"toolUseId"`
		Name      string                 `json:"name"`
		Input     map[string]interface{} `json:"input"`
	} `json:"toolUse,omitempty"`
}

package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"loom/internal/config"
	"loom/internal/services"
)

const (
	jsonResponseType   = "json_object"
	defaultHTTPTimeout = 120 * time.Second
	defaultEndpoint    = "https://openrouter.ai/api/v1/chat/completions"

	systemPrompt = "You are a precise document analysis engine. Respond with a single JSON value that satisfies the JSON Schema provided in the request. Output JSON only, no prose and no code fences."
)

// Client wraps an OpenRouter-compatible chat completion API and validates
// every response against the caller-supplied JSON schema before returning it.
// It satisfies the structured-generation port consumed by the pipeline.
type Client struct {
	cfg        config.LLM
	httpClient *http.Client
}

// Option customizes the client.
type Option func(*Client)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// NewClient constructs a structured-generation client from configuration.
func NewClient(cfg *config.Config, opts ...Option) *Client {
	llmCfg := cfg.LLM
	llmCfg.APIKey = strings.TrimSpace(llmCfg.APIKey)
	llmCfg.BaseURL = strings.TrimSpace(llmCfg.BaseURL)
	llmCfg.Model = strings.TrimSpace(llmCfg.Model)
	if llmCfg.BaseURL == "" {
		llmCfg.BaseURL = defaultEndpoint
	}

	timeout := defaultHTTPTimeout
	if llmCfg.TimeoutSeconds > 0 {
		timeout = time.Duration(llmCfg.TimeoutSeconds) * time.Second
	}

	client := &Client{
		cfg:        llmCfg,
		httpClient: &http.Client{Timeout: timeout},
	}
	for _, opt := range opts {
		opt(client)
	}
	return client
}

type chatCompletionRequest struct {
	Model          string            `json:"model"`
	Messages       []chatMessage     `json:"messages"`
	Temperature    float64           `json:"temperature"`
	ResponseFormat map[string]string `json:"response_format"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatCompletionResponse struct {
	Choices []struct {
		Message chatCompletionMessage `json:"message"`
		// Some providers return the streaming schema (delta) even when
		// stream=false, so tolerate it as a fallback.
		Delta chatCompletionMessage `json:"delta"`
		Text  string                `json:"text"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

type chatCompletionMessage struct {
	Content string `json:"content"`
	Refusal string `json:"refusal"`
}

// Generate issues one schema-constrained completion and returns the validated
// JSON payload. Transport and provider failures carry the transient marker so
// the stage executor retries them; a payload that fails schema validation is
// a validation failure and fails fast.
func (c *Client) Generate(ctx context.Context, prompt string, outputSchema []byte) (json.RawMessage, error) {
	prompt = strings.TrimSpace(prompt)
	if prompt == "" {
		return nil, services.Wrap(services.ErrValidation, "llm", "generate", "prompt is required", nil)
	}
	if c.cfg.APIKey == "" {
		return nil, services.Wrap(services.ErrConfiguration, "llm", "generate", "api key is not configured", nil)
	}

	schema, err := compileSchema(outputSchema)
	if err != nil {
		return nil, services.Wrap(services.ErrConfiguration, "llm", "generate", "invalid output schema", err)
	}

	system := systemPrompt
	if len(outputSchema) > 0 {
		system = fmt.Sprintf("%s\n\nJSON Schema:\n%s", systemPrompt, string(outputSchema))
	}
	payload := chatCompletionRequest{
		Model: c.cfg.Model,
		Messages: []chatMessage{
			{Role: "system", Content: system},
			{Role: "user", Content: prompt},
		},
		Temperature:    0,
		ResponseFormat: map[string]string{"type": jsonResponseType},
	}

	content, err := c.sendChatRequest(ctx, payload)
	if err != nil {
		return nil, err
	}

	sanitized := sanitizeJSONPayload(content)
	var decoded any
	if err := json.Unmarshal([]byte(sanitized), &decoded); err != nil {
		return nil, services.Wrap(services.ErrValidation, "llm", "generate",
			fmt.Sprintf("malformed payload (snippet: %s)", summarizeSnippet(content)), err)
	}
	if schema != nil {
		if err := schema.Validate(decoded); err != nil {
			return nil, services.Wrap(services.ErrValidation, "llm", "generate", "payload violates output schema", err)
		}
	}
	return json.RawMessage(sanitized), nil
}

func compileSchema(outputSchema []byte) (*jsonschema.Schema, error) {
	if len(outputSchema) == 0 {
		return nil, nil
	}
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("output.json", bytes.NewReader(outputSchema)); err != nil {
		return nil, err
	}
	return compiler.Compile("output.json")
}

func (c *Client) sendChatRequest(ctx context.Context, payload chatCompletionRequest) (string, error) {
	encoded, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("llm request: encode body: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL, bytes.NewReader(encoded))
	if err != nil {
		return "", fmt.Errorf("llm request: new request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.Referer != "" {
		req.Header.Set("HTTP-Referer", c.cfg.Referer)
		req.Header.Set("Referer", c.cfg.Referer)
	}
	if c.cfg.Title != "" {
		req.Header.Set("X-Title", c.cfg.Title)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", services.Wrap(services.ErrTransient, "llm", "request", "http error", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", services.Wrap(services.ErrTransient, "llm", "request", "read body", err)
	}
	if resp.StatusCode >= http.StatusMultipleChoices {
		detail := fmt.Sprintf("http %d: %s", resp.StatusCode, summarizeSnippet(string(body)))
		if retryableStatus(resp.StatusCode) {
			return "", services.Wrap(services.ErrTransient, "llm", "request", detail, nil)
		}
		return "", services.Wrap(services.ErrConfiguration, "llm", "request", detail, nil)
	}

	var completion chatCompletionResponse
	if err := json.Unmarshal(body, &completion); err != nil {
		return "", services.Wrap(services.ErrTransient, "llm", "request", "decode response", err)
	}
	if completion.Error != nil {
		return "", services.Wrap(services.ErrTransient, "llm", "request",
			"api error: "+strings.TrimSpace(completion.Error.Message), nil)
	}

	for _, choice := range completion.Choices {
		if content := firstNonEmpty(choice.Message.Content, choice.Delta.Content, choice.Text); content != "" {
			return content, nil
		}
	}
	refusal := ""
	for _, choice := range completion.Choices {
		if refusal = firstNonEmpty(choice.Message.Refusal, choice.Delta.Refusal); refusal != "" {
			break
		}
	}
	detail := "empty completion"
	if refusal != "" {
		detail = "model refused: " + refusal
	}
	return "", services.Wrap(services.ErrTransient, "llm", "request", detail, nil)
}

func retryableStatus(status int) bool {
	return status == http.StatusRequestTimeout ||
		status == http.StatusTooManyRequests ||
		status >= http.StatusInternalServerError
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if trimmed := strings.TrimSpace(value); trimmed != "" {
			return trimmed
		}
	}
	return ""
}

// sanitizeJSONPayload strips code fences and surrounding prose that some
// models emit despite the JSON-only instruction.
func sanitizeJSONPayload(content string) string {
	trimmed := strings.TrimSpace(stripCodeFence(content))
	if trimmed == "" {
		return trimmed
	}
	if trimmed[0] == '{' || trimmed[0] == '[' {
		return trimmed
	}
	if start := strings.Index(trimmed, "{"); start >= 0 {
		if end := strings.LastIndex(trimmed, "}"); end > start {
			return strings.TrimSpace(trimmed[start : end+1])
		}
	}
	if start := strings.Index(trimmed, "["); start >= 0 {
		if end := strings.LastIndex(trimmed, "]"); end > start {
			return strings.TrimSpace(trimmed[start : end+1])
		}
	}
	return trimmed
}

func stripCodeFence(content string) string {
	trimmed := strings.TrimSpace(content)
	if !strings.HasPrefix(trimmed, "```") {
		return trimmed
	}
	body := trimmed[3:]
	body = strings.TrimLeft(body, " \t\r\n")
	if len(body) >= 4 && strings.EqualFold(body[:4], "json") {
		body = strings.TrimLeft(body[4:], " \t\r\n")
	}
	if idx := strings.LastIndex(body, "```"); idx >= 0 {
		body = body[:idx]
	}
	return strings.TrimSpace(body)
}

func summarizeSnippet(content string) string {
	clean := strings.Join(strings.Fields(strings.TrimSpace(content)), " ")
	if clean == "" {
		return "<empty>"
	}
	const limit = 160
	runes := []rune(clean)
	if len(runes) > limit {
		clean = string(runes[:limit]) + "..."
	}
	return clean
}

package llmengine

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

// Provider identifies a remote chat/embedding backend.
type Provider string

const (
	ProviderOpenAI    Provider = "openai"
	ProviderAnthropic Provider = "anthropic"
	ProviderGoogle    Provider = "google"
	// ProviderOllama talks to a locally-hosted Ollama server through its
	// OpenAI-compatible /v1 surface, so it reuses the OpenAI request and
	// response shapes rather than a bespoke wire format.
	ProviderOllama Provider = "ollama"
)

// RemoteConfig configures a RemoteEngine.
type RemoteConfig struct {
	Provider          Provider
	APIKey            string
	BaseURL           string
	InferenceModel    string
	EmbeddingModel    string
	Timeout           time.Duration
	RequestsPerSecond float64
	EmbeddingDim      int
}

// RemoteEngine talks to one of the supported hosted chat providers over
// HTTP, following the request-building and error-wrapping idiom of
// Toolkit/providers/claude/client.go: a single doRequest helper, errors
// wrapped with fmt.Errorf("...: %w", err), JSON in and out.
type RemoteEngine struct {
	cfg        RemoteConfig
	httpClient *http.Client
	limiter    *rate.Limiter
	logger     *logrus.Logger
}

// NewRemoteEngine constructs a RemoteEngine for the given provider.
func NewRemoteEngine(cfg RemoteConfig, logger *logrus.Logger) *RemoteEngine {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.RequestsPerSecond <= 0 {
		cfg.RequestsPerSecond = 5.0
	}
	if cfg.EmbeddingDim <= 0 {
		cfg.EmbeddingDim = defaultDimensionFor(cfg.Provider)
	}
	if logger == nil {
		logger = logrus.New()
	}
	return &RemoteEngine{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		limiter:    rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), int(cfg.RequestsPerSecond)+1),
		logger:     logger,
	}
}

func defaultDimensionFor(p Provider) int {
	switch p {
	case ProviderGoogle:
		return 768
	case ProviderOllama:
		return 4096
	default:
		return 1536
	}
}

func (e *RemoteEngine) Name() string { return string(e.cfg.Provider) }

func (e *RemoteEngine) Dimension() int { return e.cfg.EmbeddingDim }

// Embed returns the provider's embedding for text, or a zero vector of
// Dimension() length on any failure (spec.md §4.A EngineCall: embed
// errors never propagate, they degrade to a harmless zero vector).
func (e *RemoteEngine) Embed(ctx context.Context, text string) []float64 {
	if err := e.limiter.Wait(ctx); err != nil {
		return zeroVector(e.cfg.EmbeddingDim)
	}

	vec, err := e.embedRemote(ctx, text)
	if err != nil {
		e.logger.WithError(err).WithField("engine", e.Name()).Warn("embed failed, returning zero vector")
		return zeroVector(e.cfg.EmbeddingDim)
	}
	return vec
}

func zeroVector(dim int) []float64 {
	if dim <= 0 {
		dim = 1536
	}
	return make([]float64, dim)
}

func (e *RemoteEngine) embedRemote(ctx context.Context, text string) ([]float64, error) {
	switch e.cfg.Provider {
	case ProviderOpenAI, ProviderOllama:
		var resp struct {
			Data []struct {
				Embedding []float64 `json:"embedding"`
			} `json:"data"`
		}
		payload := map[string]interface{}{
			"model": e.cfg.EmbeddingModel,
			"input": text,
		}
		if err := e.doRequest(ctx, "POST", "/v1/embeddings", payload, &resp); err != nil {
			return nil, err
		}
		if len(resp.Data) == 0 {
			return nil, fmt.Errorf("empty embedding response")
		}
		return resp.Data[0].Embedding, nil
	case ProviderGoogle:
		var resp struct {
			Embedding struct {
				Values []float64 `json:"values"`
			} `json:"embedding"`
		}
		payload := map[string]interface{}{
			"model":   "models/" + e.cfg.EmbeddingModel,
			"content": map[string]interface{}{"parts": []map[string]string{{"text": text}}},
		}
		path := fmt.Sprintf("/v1beta/models/%s:embedContent?key=%s", e.cfg.EmbeddingModel, e.cfg.APIKey)
		if err := e.doRequest(ctx, "POST", path, payload, &resp); err != nil {
			return nil, err
		}
		return resp.Embedding.Values, nil
	default:
		// Anthropic has no native embeddings; degrade to zero vector.
		return nil, fmt.Errorf("provider %s does not support embeddings", e.cfg.Provider)
	}
}

// ChatJSON requests JSON-only output and strips common wrappers (code
// fences, a leading "json" language tag) before parsing, per spec.md
// §4.A. Any failure — call error or parse error — yields a fail-open
// JudgeResult{0, "parse error"}.
func (e *RemoteEngine) ChatJSON(ctx context.Context, systemPrompt, userPrompt string) (JudgeResult, error) {
	if err := e.limiter.Wait(ctx); err != nil {
		return JudgeResult{RiskScore: 0, Reason: "parse error"}, err
	}

	raw, err := e.chatRemote(ctx, systemPrompt, userPrompt, nil, true)
	if err != nil {
		return JudgeResult{RiskScore: 0, Reason: "parse error"}, err
	}

	cleaned := stripJSONWrapper(raw)
	var result JudgeResult
	if err := json.Unmarshal([]byte(cleaned), &result); err != nil {
		return JudgeResult{RiskScore: 0, Reason: "parse error"}, fmt.Errorf("%w: decode judge response: %w", ErrEngineParse, err)
	}
	return result, nil
}

// ChatText requests a free-form completion, threading history in.
func (e *RemoteEngine) ChatText(ctx context.Context, systemPrompt, userPrompt string, history []ChatMessage) (string, error) {
	if err := e.limiter.Wait(ctx); err != nil {
		return "", err
	}
	return e.chatRemote(ctx, systemPrompt, userPrompt, history, false)
}

func stripJSONWrapper(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	s = strings.TrimPrefix(strings.TrimSpace(s), "json")
	return strings.TrimSpace(s)
}

func (e *RemoteEngine) chatRemote(ctx context.Context, systemPrompt, userPrompt string, history []ChatMessage, jsonMode bool) (string, error) {
	switch e.cfg.Provider {
	case ProviderOpenAI, ProviderOllama:
		return e.chatOpenAI(ctx, systemPrompt, userPrompt, history, jsonMode)
	case ProviderAnthropic:
		return e.chatAnthropic(ctx, systemPrompt, userPrompt, history, jsonMode)
	case ProviderGoogle:
		return e.chatGoogle(ctx, systemPrompt, userPrompt, history, jsonMode)
	default:
		return "", fmt.Errorf("unknown provider %q", e.cfg.Provider)
	}
}

func (e *RemoteEngine) chatOpenAI(ctx context.Context, systemPrompt, userPrompt string, history []ChatMessage, jsonMode bool) (string, error) {
	messages := []map[string]string{{"role": "system", "content": systemPrompt}}
	for _, h := range history {
		messages = append(messages, map[string]string{"role": h.Role, "content": h.Content})
	}
	messages = append(messages, map[string]string{"role": "user", "content": userPrompt})

	payload := map[string]interface{}{
		"model":       e.cfg.InferenceModel,
		"messages":    messages,
		"temperature": 0.1,
		"max_tokens":  500,
	}
	if jsonMode {
		payload["response_format"] = map[string]string{"type": "json_object"}
	}

	var resp struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := e.doRequest(ctx, "POST", "/v1/chat/completions", payload, &resp); err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("empty chat response")
	}
	return resp.Choices[0].Message.Content, nil
}

func (e *RemoteEngine) chatAnthropic(ctx context.Context, systemPrompt, userPrompt string, history []ChatMessage, jsonMode bool) (string, error) {
	messages := make([]map[string]string, 0, len(history)+1)
	for _, h := range history {
		messages = append(messages, map[string]string{"role": h.Role, "content": h.Content})
	}
	messages = append(messages, map[string]string{"role": "user", "content": userPrompt})

	prompt := systemPrompt
	if jsonMode {
		prompt += "\nRespond with ONLY a raw JSON object, no markdown fences."
	}

	payload := map[string]interface{}{
		"model":      e.cfg.InferenceModel,
		"max_tokens": 1000,
		"system":     prompt,
		"messages":   messages,
	}

	var resp struct {
		Content []struct {
			Text string `json:"text"`
		} `json:"content"`
	}
	if err := e.doRequest(ctx, "POST", "/v1/messages", payload, &resp); err != nil {
		return "", err
	}
	if len(resp.Content) == 0 {
		return "", fmt.Errorf("empty chat response")
	}
	return resp.Content[0].Text, nil
}

func (e *RemoteEngine) chatGoogle(ctx context.Context, systemPrompt, userPrompt string, history []ChatMessage, jsonMode bool) (string, error) {
	var sb strings.Builder
	sb.WriteString(systemPrompt)
	sb.WriteString("\n\n")
	for _, h := range history {
		role := "User"
		if h.Role == "assistant" {
			role = "Model"
		}
		sb.WriteString(fmt.Sprintf("%s: %s\n\n", role, h.Content))
	}
	sb.WriteString("User: ")
	sb.WriteString(userPrompt)
	if jsonMode {
		sb.WriteString("\n\nCRITICAL: respond with ONLY valid JSON, no markdown.")
	}

	payload := map[string]interface{}{
		"contents": []map[string]interface{}{
			{"parts": []map[string]string{{"text": sb.String()}}},
		},
	}

	path := fmt.Sprintf("/v1beta/models/%s:generateContent?key=%s", e.cfg.InferenceModel, e.cfg.APIKey)

	var resp struct {
		Candidates []struct {
			Content struct {
				Parts []struct {
					Text string `json:"text"`
				} `json:"parts"`
			} `json:"content"`
		} `json:"candidates"`
	}
	if err := e.doRequest(ctx, "POST", path, payload, &resp); err != nil {
		return "", err
	}
	if len(resp.Candidates) == 0 || len(resp.Candidates[0].Content.Parts) == 0 {
		return "", fmt.Errorf("empty chat response")
	}
	return resp.Candidates[0].Content.Parts[0].Text, nil
}

func (e *RemoteEngine) doRequest(ctx context.Context, method, path string, payload, result interface{}) error {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("marshal payload: %w", err)
		}
		body = bytes.NewBuffer(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, e.cfg.BaseURL+path, body)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	switch e.cfg.Provider {
	case ProviderOpenAI:
		req.Header.Set("Authorization", "Bearer "+e.cfg.APIKey)
	case ProviderAnthropic:
		req.Header.Set("x-api-key", e.cfg.APIKey)
		req.Header.Set("anthropic-version", "2023-06-01")
	}

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("do request: %w: %w", ErrEngineCall, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("%w: request failed with status %d: %s", ErrEngineCall, resp.StatusCode, string(raw))
	}
	if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
		return fmt.Errorf("%w: decode response: %w", ErrEngineParse, err)
	}
	return nil
}

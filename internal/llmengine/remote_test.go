package llmengine

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestOpenAIServer(t *testing.T, body string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(body))
	}))
}

func TestRemoteEngine_ChatJSON_StripsCodeFence(t *testing.T) {
	body := "{\"choices\":[{\"message\":{\"content\":\"```json\\n{\\\"risk_score\\\": 85, \\\"reason\\\": \\\"prompt injection\\\"}\\n```\"}}]}"
	srv := newTestOpenAIServer(t, body)
	defer srv.Close()

	e := NewRemoteEngine(RemoteConfig{
		Provider:       ProviderOpenAI,
		BaseURL:        srv.URL,
		InferenceModel: "gpt-4o-mini",
	}, nil)

	result, err := e.ChatJSON(context.Background(), "system", "user")
	require.NoError(t, err)
	assert.Equal(t, 85, result.RiskScore)
	assert.Equal(t, "prompt injection", result.Reason)
}

func TestRemoteEngine_ChatJSON_FailsOpenOnUnreachable(t *testing.T) {
	e := NewRemoteEngine(RemoteConfig{
		Provider:       ProviderOpenAI,
		BaseURL:        "http://127.0.0.1:1",
		InferenceModel: "gpt-4o-mini",
	}, nil)

	result, err := e.ChatJSON(context.Background(), "system", "user")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrEngineCall))
	assert.Equal(t, 0, result.RiskScore)
	assert.Equal(t, "parse error", result.Reason)
}

func TestRemoteEngine_Embed_ZeroVectorOnFailure(t *testing.T) {
	e := NewRemoteEngine(RemoteConfig{
		Provider:     ProviderOpenAI,
		BaseURL:      "http://127.0.0.1:1",
		EmbeddingDim: 10,
	}, nil)

	vec := e.Embed(context.Background(), "hello")
	require.Len(t, vec, 10)
	for _, x := range vec {
		assert.Equal(t, 0.0, x)
	}
}

func TestRemoteEngine_Embed_OpenAI(t *testing.T) {
	srv := newTestOpenAIServer(t, `{"data":[{"embedding":[0.1,0.2,0.3]}]}`)
	defer srv.Close()

	e := NewRemoteEngine(RemoteConfig{
		Provider:       ProviderOpenAI,
		BaseURL:        srv.URL,
		EmbeddingModel: "text-embedding-3-small",
	}, nil)

	vec := e.Embed(context.Background(), "hello")
	assert.Equal(t, []float64{0.1, 0.2, 0.3}, vec)
}

func TestStripJSONWrapper(t *testing.T) {
	cases := map[string]string{
		"```json\n{\"a\":1}\n```": `{"a":1}`,
		"{\"a\":1}":               `{"a":1}`,
		"```\n{\"a\":1}\n```":     `{"a":1}`,
	}
	for in, want := range cases {
		assert.Equal(t, want, stripJSONWrapper(in))
	}
}

func TestDefaultDimensionFor(t *testing.T) {
	assert.Equal(t, 768, defaultDimensionFor(ProviderGoogle))
	assert.Equal(t, 1536, defaultDimensionFor(ProviderOpenAI))
	assert.Equal(t, 1536, defaultDimensionFor(ProviderAnthropic))
	assert.Equal(t, 4096, defaultDimensionFor(ProviderOllama))
}

func TestRemoteEngine_ChatOpenAICompatible_ServesOllama(t *testing.T) {
	srv := newTestOpenAIServer(t, `{"choices":[{"message":{"content":"hello from ollama"}}]}`)
	defer srv.Close()

	e := NewRemoteEngine(RemoteConfig{
		Provider:       ProviderOllama,
		BaseURL:        srv.URL,
		InferenceModel: "llama3.1",
	}, nil)

	text, err := e.ChatText(context.Background(), "system", "user", nil)
	require.NoError(t, err)
	assert.Equal(t, "hello from ollama", text)
}

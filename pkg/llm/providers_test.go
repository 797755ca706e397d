package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const featureAnswer = `{"features":[{"spanishTerm":"el pico","englishTerm":"beak","type":"anatomical","boundingBox":{"x":0.4,"y":0.2,"width":0.1,"height":0.1},"confidence":0.9}]}`

// pngHeader is enough for content sniffing to report image/png.
var pngHeader = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR")

func TestOpenAIVisionClient_DetectFeatures(t *testing.T) {
	var captured map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&captured))

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id":      "chatcmpl-1",
			"object":  "chat.completion",
			"created": 1,
			"model":   "gpt-4o",
			"choices": []map[string]any{{
				"index":         0,
				"message":       map[string]any{"role": "assistant", "content": featureAnswer},
				"finish_reason": "stop",
			}},
			"usage": map[string]any{"prompt_tokens": 120, "completion_tokens": 40, "total_tokens": 160},
		})
	}))
	defer server.Close()

	client, err := NewOpenAIVisionClient(OpenAIVisionConfig{
		BaseURL:   server.URL,
		Model:     "gpt-4o",
		APIKey:    "test-key",
		MaxTokens: 500,
	}, zap.NewNop())
	require.NoError(t, err)

	result, err := client.DetectFeatures(context.Background(), &DetectionRequest{
		ImageURL:     "https://images.example.com/robin.jpg",
		SystemPrompt: "system",
		Prompt:       "find features",
	})
	require.NoError(t, err)
	require.Len(t, result.Features, 1)
	assert.Equal(t, "beak", result.Features[0].EnglishTerm)
	assert.Equal(t, 120, result.PromptTokens)
	assert.Equal(t, "gpt-4o", result.Model)

	format := captured["response_format"].(map[string]any)
	assert.Equal(t, "json_object", format["type"])

	messages := captured["messages"].([]any)
	require.Len(t, messages, 2)
	parts := messages[1].(map[string]any)["content"].([]any)
	require.Len(t, parts, 2)
	image := parts[1].(map[string]any)
	assert.Equal(t, "image_url", image["type"])
	assert.Equal(t, "https://images.example.com/robin.jpg", image["image_url"].(map[string]any)["url"])
}

func TestOpenAIVisionClient_ServerErrorIsRetryable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(`{"error":{"message":"overloaded","type":"server_error"}}`))
	}))
	defer server.Close()

	client, err := NewOpenAIVisionClient(OpenAIVisionConfig{BaseURL: server.URL, Model: "gpt-4o", APIKey: "k"}, zap.NewNop())
	require.NoError(t, err)

	_, err = client.DetectFeatures(context.Background(), &DetectionRequest{ImageURL: "https://x/y.jpg"})
	require.Error(t, err)
	classified := ClassifyError(err)
	assert.True(t, classified.Retryable)
	assert.Equal(t, 503, classified.StatusCode)
	assert.Equal(t, "gpt-4o", classified.Model)
}

func TestOpenAIVisionClient_UnparseableAnswer(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"choices":[{"index":0,"message":{"role":"assistant","content":"no birds here"}}]}`))
	}))
	defer server.Close()

	client, err := NewOpenAIVisionClient(OpenAIVisionConfig{BaseURL: server.URL, Model: "gpt-4o"}, zap.NewNop())
	require.NoError(t, err)

	_, err = client.DetectFeatures(context.Background(), &DetectionRequest{ImageURL: "https://x/y.jpg"})
	require.Error(t, err)
	assert.Equal(t, ErrorTypeResponse, GetErrorType(err))
}

func TestNewOpenAIVisionClient_RequiresModel(t *testing.T) {
	_, err := NewOpenAIVisionClient(OpenAIVisionConfig{}, zap.NewNop())
	assert.Error(t, err)
}

func TestAnthropicVisionClient_DetectFeatures(t *testing.T) {
	images := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write(pngHeader)
	}))
	defer images.Close()

	var captured map[string]any
	api := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/messages", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&captured))

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id":          "msg_1",
			"type":        "message",
			"role":        "assistant",
			"model":       "claude-sonnet-4-5",
			"content":     []map[string]any{{"type": "text", "text": "Sure:\n" + featureAnswer}},
			"stop_reason": "end_turn",
			"usage":       map[string]any{"input_tokens": 900, "output_tokens": 60},
		})
	}))
	defer api.Close()

	client, err := NewAnthropicVisionClient(AnthropicVisionConfig{
		BaseURL:   api.URL,
		Model:     "claude-sonnet-4-5",
		APIKey:    "test-key",
		MaxTokens: 500,
	}, NewImageFetcher(images.Client(), 1024), zap.NewNop())
	require.NoError(t, err)

	result, err := client.DetectFeatures(context.Background(), &DetectionRequest{
		ImageURL:     images.URL + "/robin.png",
		SystemPrompt: "system",
		Prompt:       "find features",
	})
	require.NoError(t, err)
	require.Len(t, result.Features, 1)
	assert.Equal(t, "el pico", result.Features[0].SpanishTerm)
	assert.Equal(t, 900, result.PromptTokens)
	assert.Equal(t, 60, result.CompletionTokens)

	assert.Equal(t, "system", captured["system"])
	messages := captured["messages"].([]any)
	content := messages[0].(map[string]any)["content"].([]any)
	require.Len(t, content, 2)
	source := content[0].(map[string]any)["source"].(map[string]any)
	assert.Equal(t, "base64", source["type"])
	assert.Equal(t, "image/png", source["media_type"])
	assert.NotEmpty(t, source["data"])
}

func TestNewAnthropicVisionClient_RequiresKey(t *testing.T) {
	_, err := NewAnthropicVisionClient(AnthropicVisionConfig{Model: "claude"}, NewImageFetcher(nil, 1), zap.NewNop())
	assert.Error(t, err)
}

func TestImageFetcher(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/sniffed":
			_, _ = w.Write(pngHeader)
		case "/text":
			w.Header().Set("Content-Type", "text/plain")
			_, _ = w.Write([]byte("hello, not an image"))
		case "/broken":
			w.WriteHeader(http.StatusBadGateway)
		default:
			http.NotFound(w, r)
		}
	}))
	defer server.Close()

	fetcher := NewImageFetcher(server.Client(), 1024)

	mediaType, data, err := fetcher.FetchBase64(context.Background(), server.URL+"/sniffed")
	require.NoError(t, err)
	assert.Equal(t, "image/png", mediaType)
	assert.NotEmpty(t, data)

	_, _, err = fetcher.FetchBase64(context.Background(), server.URL+"/text")
	require.Error(t, err)
	assert.Equal(t, ErrorTypeImage, GetErrorType(err))

	_, _, err = fetcher.FetchBase64(context.Background(), server.URL+"/missing")
	require.Error(t, err)
	assert.False(t, ClassifyError(err).Retryable)

	_, _, err = fetcher.FetchBase64(context.Background(), server.URL+"/broken")
	require.Error(t, err)
	assert.True(t, ClassifyError(err).Retryable)

	small := NewImageFetcher(server.Client(), 4)
	_, _, err = small.FetchBase64(context.Background(), server.URL+"/sniffed")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "too large")
}

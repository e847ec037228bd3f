package synth

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"github.com/lamim/animeforge/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var pngMagic = []byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n', 0, 0, 0, 0}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

func webuiConfig(baseURL string) config.BackendConfig {
	return config.BackendConfig{
		Kind:               config.BackendWebUI,
		BaseURL:            baseURL,
		Model:              "anything-v5",
		RateLimitPerMinute: 6000,
		MaxRetries:         3,
		HTTPTimeoutSeconds: 5,
	}
}

func modelsHandler(w http.ResponseWriter) {
	_ = json.NewEncoder(w).Encode([]sdModel{
		{Title: "v1-5-pruned-emaonly.safetensors [6ce0161689]", ModelName: "v1-5-pruned-emaonly"},
		{Title: "anything-v5.safetensors [7f96a1a9ca]", ModelName: "anything-v5"},
	})
}

func TestWebUI_Synthesize(t *testing.T) {
	var got txt2imgRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case sdModelsPath:
			assert.Equal(t, http.MethodGet, r.Method)
			modelsHandler(w)
		case txt2imgPath:
			assert.Equal(t, http.MethodPost, r.Method)
			assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
			assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
			require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
			_ = json.NewEncoder(w).Encode(txt2imgResponse{
				Images: []string{base64.StdEncoding.EncodeToString(pngMagic)},
				Info:   `{"seed": 101, "all_seeds": [101]}`,
			})
		default:
			http.NotFound(w, r)
		}
	}))
	defer server.Close()

	client, err := NewWebUI(context.Background(), webuiConfig(server.URL), "secret", testLogger())
	require.NoError(t, err)
	assert.Equal(t, "anything-v5", client.Model())

	img, err := client.Synthesize(context.Background(), Request{
		Prompt:         "anime style Alexander",
		NegativePrompt: "lowres",
		Steps:          25,
		GuidanceScale:  8.0,
		Width:          512,
		Height:         512,
		Seed:           101,
	})
	require.NoError(t, err)

	assert.Equal(t, pngMagic, img.Data)
	assert.Equal(t, "image/png", img.MIMEType)
	assert.Equal(t, int64(101), img.Seed)

	assert.Equal(t, "anime style Alexander", got.Prompt)
	assert.Equal(t, "lowres", got.NegativePrompt)
	assert.Equal(t, 25, got.Steps)
	assert.InDelta(t, 8.0, got.CFGScale, 1e-9)
	assert.Equal(t, 512, got.Width)
	assert.Equal(t, 512, got.Height)
	assert.Equal(t, int64(101), got.Seed)
	assert.Equal(t, 1, got.BatchSize)
	assert.Equal(t, "anything-v5.safetensors [7f96a1a9ca]", got.OverrideSettings["sd_model_checkpoint"])
}

func TestWebUI_ModelNotFound(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		modelsHandler(w)
	}))
	defer server.Close()

	cfg := webuiConfig(server.URL)
	cfg.Model = "counterfeit-v3"

	_, err := NewWebUI(context.Background(), cfg, "", testLogger())
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrModelNotFound), "expected ErrModelNotFound, got %v", err)
}

func TestWebUI_RetryOn500(t *testing.T) {
	var attempts atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if attempts.Add(1) < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			_, _ = w.Write([]byte(`{"error": "RuntimeError", "errors": "CUDA out of memory"}`))
			return
		}
		_ = json.NewEncoder(w).Encode(txt2imgResponse{
			Images: []string{base64.StdEncoding.EncodeToString(pngMagic)},
		})
	}))
	defer server.Close()

	cfg := webuiConfig(server.URL)
	cfg.Model = ""
	client, err := NewWebUI(context.Background(), cfg, "", testLogger())
	require.NoError(t, err)
	client.baseRetryDelay = time.Millisecond

	img, err := client.Synthesize(context.Background(), Request{Prompt: "p", Steps: 1, Width: 64, Height: 64, Seed: 7})
	require.NoError(t, err)
	assert.Equal(t, int32(3), attempts.Load())
	assert.Equal(t, int64(7), img.Seed, "seed falls back to the request when info is absent")
}

func TestWebUI_NonRetryableError(t *testing.T) {
	var attempts atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
		w.WriteHeader(http.StatusUnprocessableEntity)
		_, _ = w.Write([]byte(`{"detail": "steps must be positive"}`))
	}))
	defer server.Close()

	cfg := webuiConfig(server.URL)
	cfg.Model = ""
	client, err := NewWebUI(context.Background(), cfg, "", testLogger())
	require.NoError(t, err)
	client.baseRetryDelay = time.Millisecond

	_, err = client.Synthesize(context.Background(), Request{Prompt: "p", Steps: 1, Width: 64, Height: 64})
	require.Error(t, err)

	var synthErr *SynthesisError
	require.True(t, errors.As(err, &synthErr))
	assert.Equal(t, http.StatusUnprocessableEntity, synthErr.StatusCode)
	assert.False(t, synthErr.Retryable)
	assert.Contains(t, synthErr.Message, "steps must be positive")
	assert.Equal(t, int32(1), attempts.Load())
}

func TestWebUI_MaxRetriesExceeded(t *testing.T) {
	var attempts atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	cfg := webuiConfig(server.URL)
	cfg.Model = ""
	cfg.MaxRetries = 2
	client, err := NewWebUI(context.Background(), cfg, "", testLogger())
	require.NoError(t, err)
	client.baseRetryDelay = time.Millisecond

	_, err = client.Synthesize(context.Background(), Request{Prompt: "p", Steps: 1, Width: 64, Height: 64})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "max retries exceeded")
	assert.Equal(t, int32(3), attempts.Load())
}

func TestWebUI_BasicAuth(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		assert.True(t, ok)
		assert.Equal(t, "artist", user)
		assert.Equal(t, "hunter2", pass)
		_ = json.NewEncoder(w).Encode(txt2imgResponse{
			Images: []string{"data:image/png;base64," + base64.StdEncoding.EncodeToString(pngMagic)},
		})
	}))
	defer server.Close()

	cfg := webuiConfig(server.URL)
	cfg.Model = ""
	client, err := NewWebUI(context.Background(), cfg, "artist:hunter2", testLogger())
	require.NoError(t, err)

	img, err := client.Synthesize(context.Background(), Request{Prompt: "p", Steps: 1, Width: 64, Height: 64})
	require.NoError(t, err)
	assert.Equal(t, pngMagic, img.Data)
}

func TestWebUI_ContextCanceled(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	cfg := webuiConfig(server.URL)
	cfg.Model = ""
	client, err := NewWebUI(context.Background(), cfg, "", testLogger())
	require.NoError(t, err)
	client.baseRetryDelay = time.Hour

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err = client.Synthesize(ctx, Request{Prompt: "p", Steps: 1, Width: 64, Height: 64})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestRequestValidate(t *testing.T) {
	tests := []struct {
		name string
		req  Request
		ok   bool
	}{
		{"valid", Request{Prompt: "p", Steps: 1, Width: 8, Height: 8}, true},
		{"empty prompt", Request{Steps: 1, Width: 8, Height: 8}, false},
		{"zero steps", Request{Prompt: "p", Width: 8, Height: 8}, false},
		{"zero width", Request{Prompt: "p", Steps: 1, Height: 8}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.req.Validate()
			assert.Equal(t, tt.ok, err == nil, "Validate() error = %v", err)
		})
	}
}

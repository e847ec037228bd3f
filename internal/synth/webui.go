package synth

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"strings"
	"time"

	"github.com/lamim/animeforge/internal/config"
)

const (
	// DefaultBaseRetryDelay is the base delay for exponential backoff
	DefaultBaseRetryDelay = 2 * time.Second
	// RateLimitBackoffMultiplier is the multiplier for rate limit backoff (3^n)
	RateLimitBackoffMultiplier = 3

	txt2imgPath  = "/sdapi/v1/txt2img"
	sdModelsPath = "/sdapi/v1/sd-models"

	backendWebUI = "webui"
)

// WebUI talks to an AUTOMATIC1111-compatible Stable Diffusion server
type WebUI struct {
	httpClient      *http.Client
	rateLimiterPool *RateLimiterPool
	logger          *slog.Logger
	baseURL         string
	apiKey          string
	model           string
	checkpoint      string // Resolved checkpoint title pinned per request
	sampler         string
	rpm             int
	maxRetries      int
	maxBackoff      time.Duration
	baseRetryDelay  time.Duration
}

// NewWebUI creates a client and verifies the configured checkpoint is installed
func NewWebUI(ctx context.Context, cfg config.BackendConfig, apiKey string, logger *slog.Logger) (*WebUI, error) {
	w := &WebUI{
		httpClient: &http.Client{
			Timeout: time.Duration(cfg.HTTPTimeoutSeconds) * time.Second,
		},
		rateLimiterPool: NewRateLimiterPool(),
		logger:          logger,
		baseURL:         strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:          apiKey,
		model:           cfg.Model,
		sampler:         cfg.Sampler,
		rpm:             cfg.RateLimitPerMinute,
		maxRetries:      cfg.MaxRetries,
		maxBackoff:      time.Duration(cfg.MaxBackoffSeconds) * time.Second,
		baseRetryDelay:  DefaultBaseRetryDelay,
	}
	if w.rpm < 1 {
		w.rpm = 60
	}

	if cfg.Model != "" {
		title, err := w.resolveCheckpoint(ctx, cfg.Model)
		if err != nil {
			return nil, err
		}
		w.checkpoint = title
		logger.Info("Using webui checkpoint", "model", cfg.Model, "checkpoint", title)
	}

	return w, nil
}

// Model returns the configured model name
func (w *WebUI) Model() string {
	return w.model
}

// Synthesize renders one image through /sdapi/v1/txt2img
func (w *WebUI) Synthesize(ctx context.Context, req Request) (*Image, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	body := txt2imgRequest{
		Prompt:         req.Prompt,
		NegativePrompt: req.NegativePrompt,
		Steps:          req.Steps,
		CFGScale:       req.GuidanceScale,
		Width:          req.Width,
		Height:         req.Height,
		Seed:           req.Seed,
		BatchSize:      1,
		NIter:          1,
		SamplerName:    w.sampler,
		SendImages:     true,
	}
	if w.checkpoint != "" {
		body.OverrideSettings = map[string]any{"sd_model_checkpoint": w.checkpoint}
	}

	var resp txt2imgResponse
	if err := w.doWithRetry(ctx, http.MethodPost, txt2imgPath, body, &resp); err != nil {
		return nil, err
	}

	if len(resp.Images) == 0 {
		return nil, &SynthesisError{Backend: backendWebUI, Message: "no images returned"}
	}

	data, err := decodeBase64Image(resp.Images[0])
	if err != nil {
		return nil, &SynthesisError{Backend: backendWebUI, Message: err.Error()}
	}

	seed := req.Seed
	if resp.Info != "" {
		var info txt2imgInfo
		if err := json.Unmarshal([]byte(resp.Info), &info); err == nil && info.Seed != 0 {
			seed = info.Seed
		}
	}

	return &Image{
		Data:     data,
		MIMEType: http.DetectContentType(data),
		Seed:     seed,
	}, nil
}

// resolveCheckpoint finds the installed checkpoint title for name
func (w *WebUI) resolveCheckpoint(ctx context.Context, name string) (string, error) {
	var models []sdModel
	if err := w.doWithRetry(ctx, http.MethodGet, sdModelsPath, nil, &models); err != nil {
		return "", fmt.Errorf("failed to list webui models: %w", err)
	}

	for _, m := range models {
		if m.matches(name) {
			return m.Title, nil
		}
	}

	available := make([]string, 0, len(models))
	for _, m := range models {
		available = append(available, m.Title)
	}
	return "", fmt.Errorf("%w: %q is not installed on %s (available: %s)",
		ErrModelNotFound, name, w.baseURL, strings.Join(available, ", "))
}

func (w *WebUI) doWithRetry(ctx context.Context, method, path string, in, out any) error {
	endpoint := w.baseURL + path

	// Retry with exponential backoff; maxRetries < 0 means unlimited
	var lastErr error
	for attempt := 0; w.maxRetries < 0 || attempt <= w.maxRetries; attempt++ {
		if attempt > 0 {
			sleepDuration := w.backoff(attempt, lastErr)

			w.logger.Warn("Retrying webui request",
				"attempt", attempt,
				"max_retries", w.maxRetries,
				"backoff", sleepDuration,
				"endpoint", path,
				"error", lastErr)

			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(sleepDuration):
			}
		}

		// Wait for rate limiter
		if err := w.rateLimiterPool.Wait(ctx, endpoint, w.rpm); err != nil {
			return fmt.Errorf("rate limiter wait failed: %w", err)
		}

		err := w.doRequest(ctx, method, endpoint, in, out)
		if err == nil {
			return nil
		}
		lastErr = err

		if !isRetryable(err) || ctx.Err() != nil {
			return err
		}
	}

	return fmt.Errorf("max retries exceeded: %w", lastErr)
}

func (w *WebUI) backoff(attempt int, lastErr error) time.Duration {
	backoff := time.Duration(math.Pow(2, float64(attempt-1))) * w.baseRetryDelay

	// For rate limit errors, use longer delays (3^n)
	var synthErr *SynthesisError
	if errors.As(lastErr, &synthErr) && synthErr.StatusCode == http.StatusTooManyRequests {
		backoff = time.Duration(math.Pow(RateLimitBackoffMultiplier, float64(attempt))) * w.baseRetryDelay
	}
	if w.maxBackoff > 0 && backoff > w.maxBackoff {
		backoff = w.maxBackoff
	}

	jitter := time.Duration(float64(backoff) * 0.1 * (2*float64(time.Now().UnixNano()%100)/100 - 1))
	return backoff + jitter
}

func (w *WebUI) doRequest(ctx context.Context, method, endpoint string, in, out any) error {
	var reqBody io.Reader
	if in != nil {
		body, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		reqBody = bytes.NewReader(body)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, endpoint, reqBody)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	if in != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	if w.apiKey != "" {
		// webui --api-auth uses basic auth as user:password
		if user, pass, ok := strings.Cut(w.apiKey, ":"); ok {
			httpReq.SetBasicAuth(user, pass)
		} else {
			httpReq.Header.Set("Authorization", "Bearer "+w.apiKey)
		}
	}

	httpResp, err := w.httpClient.Do(httpReq)
	if err != nil {
		return &SynthesisError{
			Backend:   backendWebUI,
			Message:   fmt.Sprintf("request failed: %v", err),
			Retryable: ctx.Err() == nil,
		}
	}
	defer func() {
		if err := httpResp.Body.Close(); err != nil {
			w.logger.Warn("Failed to close response body", "error", err)
		}
	}()

	respBody, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return &SynthesisError{
			Backend:   backendWebUI,
			Message:   fmt.Sprintf("failed to read response: %v", err),
			Retryable: true,
		}
	}

	if httpResp.StatusCode != http.StatusOK {
		retryable := isStatusCodeRetryable(httpResp.StatusCode)

		var errResp webuiErrorResponse
		if err := json.Unmarshal(respBody, &errResp); err == nil {
			if msg := errResp.message(); msg != "" {
				return &SynthesisError{
					Backend:    backendWebUI,
					StatusCode: httpResp.StatusCode,
					Message:    msg,
					Retryable:  retryable,
				}
			}
		}

		return &SynthesisError{
			Backend:    backendWebUI,
			StatusCode: httpResp.StatusCode,
			Message:    fmt.Sprintf("request failed with status %d: %s", httpResp.StatusCode, string(respBody)),
			Retryable:  retryable,
		}
	}

	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}
	return nil
}

// decodeBase64Image accepts raw base64 or a data URL
func decodeBase64Image(s string) ([]byte, error) {
	if _, after, ok := strings.Cut(s, ";base64,"); ok {
		s = after
	}
	data, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("failed to decode image: %w", err)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("empty image payload")
	}
	return data, nil
}

func isRetryable(err error) bool {
	var synthErr *SynthesisError
	if errors.As(err, &synthErr) {
		return synthErr.Retryable
	}
	return false
}

func isStatusCodeRetryable(statusCode int) bool {
	// Retry on rate limits and server errors
	return statusCode == http.StatusTooManyRequests ||
		statusCode == http.StatusInternalServerError ||
		statusCode == http.StatusBadGateway ||
		statusCode == http.StatusServiceUnavailable ||
		statusCode == http.StatusGatewayTimeout
}

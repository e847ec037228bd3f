package synth

import (
	"context"
	"fmt"
	"log/slog"
	"math"

	"google.golang.org/genai"
)

const backendGemini = "gemini"

// contentGenerator is the subset of *genai.Models used here
type contentGenerator interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

// Gemini renders images with a Gemini image model through google.golang.org/genai
type Gemini struct {
	models contentGenerator
	model  string
	logger *slog.Logger
}

// NewGemini creates a Gemini backend using apiKey
func NewGemini(ctx context.Context, model, apiKey string, logger *slog.Logger) (*Gemini, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("GEMINI_API_KEY is required for the gemini backend")
	}
	if model == "" {
		return nil, fmt.Errorf("%w: empty gemini model name", ErrModelNotFound)
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create GenAI client: %w", err)
	}

	return newGeminiWithModels(client.Models, model, logger), nil
}

func newGeminiWithModels(models contentGenerator, model string, logger *slog.Logger) *Gemini {
	return &Gemini{models: models, model: model, logger: logger}
}

// Model returns the Gemini model id
func (g *Gemini) Model() string {
	return g.model
}

// Synthesize sends the prompt as a single user turn and returns the first inline image.
// Gemini has no negative prompt or guidance parameter; the negative prompt is passed
// as a system instruction and the step/guidance settings are ignored.
func (g *Gemini) Synthesize(ctx context.Context, req Request) (*Image, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	seed, err := seedToInt32(req.Seed)
	if err != nil {
		return nil, &SynthesisError{Backend: backendGemini, Message: err.Error()}
	}
	cfg := &genai.GenerateContentConfig{
		Seed: &seed,
		ImageConfig: &genai.ImageConfig{
			AspectRatio: aspectRatio(req.Width, req.Height),
		},
	}
	if req.NegativePrompt != "" {
		cfg.SystemInstruction = genai.NewContentFromText(
			"Do not include any of the following in the image: "+req.NegativePrompt, genai.RoleUser)
	}

	g.logger.Debug("Gemini image request",
		"model", g.model,
		"aspect_ratio", cfg.ImageConfig.AspectRatio,
		"seed", seed,
		"ignored_steps", req.Steps,
		"ignored_guidance", req.GuidanceScale)

	contents := []*genai.Content{genai.NewContentFromText(req.Prompt, genai.RoleUser)}
	resp, err := g.models.GenerateContent(ctx, g.model, contents, cfg)
	if err != nil {
		return nil, &SynthesisError{Backend: backendGemini, Message: err.Error(), Retryable: false}
	}

	return parseGeminiResponse(resp, req.Seed)
}

func parseGeminiResponse(resp *genai.GenerateContentResponse, seed int64) (*Image, error) {
	if resp == nil || len(resp.Candidates) == 0 {
		if resp != nil && resp.PromptFeedback != nil && resp.PromptFeedback.BlockReason != "" {
			return nil, &SynthesisError{Backend: backendGemini, Message: fmt.Sprintf("prompt blocked: %s", resp.PromptFeedback.BlockReason)}
		}
		return nil, &SynthesisError{Backend: backendGemini, Message: "no candidates returned"}
	}

	// Only the first candidate is used
	candidate := resp.Candidates[0]
	if candidate.Content != nil {
		for _, part := range candidate.Content.Parts {
			if part.InlineData != nil && len(part.InlineData.Data) > 0 {
				return &Image{
					Data:     part.InlineData.Data,
					MIMEType: part.InlineData.MIMEType,
					Seed:     seed,
				}, nil
			}
		}
	}

	// Safety filters and the like end the candidate early
	if candidate.FinishReason != genai.FinishReasonUnspecified && candidate.FinishReason != genai.FinishReasonStop {
		return nil, &SynthesisError{Backend: backendGemini, Message: fmt.Sprintf("generation stopped (finish reason %s)", candidate.FinishReason)}
	}
	return nil, &SynthesisError{Backend: backendGemini, Message: "response contained no image data"}
}

// seedToInt32 converts to the SDK's int32 seed, rejecting values that would wrap
func seedToInt32(seed int64) (int32, error) {
	if seed < math.MinInt32 || seed > math.MaxInt32 {
		return 0, fmt.Errorf("seed %d is outside the int32 range gemini accepts", seed)
	}
	return int32(seed), nil
}

// supportedAspectRatios lists the ratios Gemini image models accept
var supportedAspectRatios = []struct {
	name  string
	ratio float64
}{
	{"1:1", 1},
	{"2:3", 2.0 / 3.0},
	{"3:2", 3.0 / 2.0},
	{"3:4", 3.0 / 4.0},
	{"4:3", 4.0 / 3.0},
	{"9:16", 9.0 / 16.0},
	{"16:9", 16.0 / 9.0},
}

// aspectRatio maps a pixel size to the closest supported ratio
func aspectRatio(width, height int) string {
	if width <= 0 || height <= 0 {
		return "1:1"
	}
	target := float64(width) / float64(height)
	best := supportedAspectRatios[0]
	for _, ar := range supportedAspectRatios[1:] {
		if math.Abs(ar.ratio-target) < math.Abs(best.ratio-target) {
			best = ar
		}
	}
	return best.name
}

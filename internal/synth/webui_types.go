package synth

import (
	"encoding/json"
	"strings"
)

// txt2imgRequest is the AUTOMATIC1111 /sdapi/v1/txt2img payload
type txt2imgRequest struct {
	Prompt           string         `json:"prompt"`
	NegativePrompt   string         `json:"negative_prompt,omitempty"`
	Steps            int            `json:"steps"`
	CFGScale         float64        `json:"cfg_scale"`
	Width            int            `json:"width"`
	Height           int            `json:"height"`
	Seed             int64          `json:"seed"`
	BatchSize        int            `json:"batch_size"`
	NIter            int            `json:"n_iter"`
	SamplerName      string         `json:"sampler_name,omitempty"`
	SendImages       bool           `json:"send_images"`
	SaveImages       bool           `json:"save_images"`
	OverrideSettings map[string]any `json:"override_settings,omitempty"`
}

// txt2imgResponse carries base64 images and a JSON-encoded info string
type txt2imgResponse struct {
	Images []string `json:"images"`
	Info   string   `json:"info"`
}

// txt2imgInfo is the subset of the info document we read
type txt2imgInfo struct {
	Seed     int64   `json:"seed"`
	AllSeeds []int64 `json:"all_seeds"`
}

// sdModel is one entry of /sdapi/v1/sd-models
type sdModel struct {
	Title     string `json:"title"`
	ModelName string `json:"model_name"`
	Hash      string `json:"hash"`
	Filename  string `json:"filename"`
}

// webuiErrorResponse covers both FastAPI and webui error shapes
type webuiErrorResponse struct {
	Detail json.RawMessage `json:"detail"`
	Error  string          `json:"error"`
	Errors string          `json:"errors"`
}

func (e webuiErrorResponse) message() string {
	var parts []string
	if e.Error != "" {
		parts = append(parts, e.Error)
	}
	if e.Errors != "" {
		parts = append(parts, e.Errors)
	}
	if len(e.Detail) > 0 {
		var s string
		if err := json.Unmarshal(e.Detail, &s); err == nil {
			parts = append(parts, s)
		} else {
			parts = append(parts, string(e.Detail))
		}
	}
	return strings.Join(parts, ": ")
}

// matches reports whether name identifies this checkpoint
func (m sdModel) matches(name string) bool {
	if name == "" {
		return false
	}
	if m.Title == name || m.ModelName == name || m.Hash == name {
		return true
	}
	// Titles look like "anything-v5.safetensors [7f96a1a9ca]"
	return strings.HasPrefix(m.Title, name+".") || strings.HasPrefix(m.Title, name+" ")
}

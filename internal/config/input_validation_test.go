package config

import (
	"strings"
	"testing"

	"github.com/lamim/animeforge/pkg/models"
)

func TestValidateCharacterID_Valid(t *testing.T) {
	tests := []string{
		"alexander",
		"demarcus",
		"kira_2",
		"0-test",
	}

	for _, tt := range tests {
		t.Run(tt, func(t *testing.T) {
			if err := ValidateCharacterID(tt); err != nil {
				t.Errorf("ValidateCharacterID(%q) returned unexpected error: %v", tt, err)
			}
		})
	}
}

func TestValidateCharacterID_Invalid(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string // substring of expected error
	}{
		{name: "empty", input: "", want: "cannot be empty"},
		{name: "uppercase", input: "Alexander", want: "must match"},
		{name: "traversal", input: "../etc", want: "must match"},
		{name: "separator", input: "a/b", want: "must match"},
		{name: "leading_dash", input: "-x", want: "must match"},
		{name: "too_long", input: strings.Repeat("a", MaxCharacterIDLength+1), want: "exceeds maximum length"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateCharacterID(tt.input)
			if err == nil {
				t.Errorf("ValidateCharacterID(%q) expected error, got nil", tt.input)
			} else if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("ValidateCharacterID(%q) error = %v, want substring %q", tt.input, err, tt.want)
			}
		})
	}
}

func TestValidatePromptFragment(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr bool
	}{
		{"plain", "confident smile, looking at viewer", false},
		{"newline_ok", "line one\nline two", false},
		{"null_byte", "smile\x00", true},
		{"bell_char", "smile\x07", true},
		{"too_long", strings.Repeat("a", MaxPromptLength+1), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validatePromptFragment(tt.input)
			if (err != nil) != tt.wantErr {
				t.Errorf("validatePromptFragment() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestValidateBaseURL(t *testing.T) {
	tests := []struct {
		name    string
		url     string
		wantErr bool
	}{
		{"http", "http://127.0.0.1:7860", false},
		{"https", "https://huggingface.co", false},
		{"ftp", "ftp://example.com", true},
		{"no_host", "http://", true},
		{"file", "file:///etc/passwd", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validateBaseURL(tt.url, "backend.base_url")
			if (err != nil) != tt.wantErr {
				t.Errorf("validateBaseURL(%q) error = %v, wantErr %v", tt.url, err, tt.wantErr)
			}
		})
	}
}

func TestValidateInputs(t *testing.T) {
	cfg := validConfig()
	if err := cfg.ValidateInputs(); err != nil {
		t.Fatalf("ValidateInputs() on valid config: %v", err)
	}

	cfg.Characters = append(cfg.Characters, models.CharacterTemplate{
		ID:         "Bad Name",
		Base:       "anime style Bad",
		Variations: []string{"x"},
	})
	if err := cfg.ValidateInputs(); err == nil {
		t.Error("Expected error for unsafe character id, got nil")
	}

	cfg = validConfig()
	cfg.Pools.NegativePrompts = []string{"ok", "bad\x1b[31m"}
	err := cfg.ValidateInputs()
	if err == nil || !strings.Contains(err.Error(), "pools.negative_prompts[1]") {
		t.Errorf("Expected negative pool error, got %v", err)
	}

	cfg = validConfig()
	cfg.Training.CaptionTemplate = strings.Repeat("x", MaxTemplateSize+1)
	if err := cfg.ValidateInputs(); err == nil {
		t.Error("Expected error for oversized caption template, got nil")
	}
}

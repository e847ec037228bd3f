package config

import (
	"fmt"
	"net/url"
	"regexp"
	"unicode"
)

const (
	// MaxPromptLength is the maximum allowed length for any prompt fragment
	MaxPromptLength = 1000

	// MaxModelNameLength is the maximum allowed length for model names
	MaxModelNameLength = 200

	// MaxTemplateSize is the maximum allowed size for template content
	MaxTemplateSize = 4 * 1024 // 4KB

	// MaxCharacterIDLength is the maximum allowed length for character ids
	MaxCharacterIDLength = 64
)

// Character ids double as directory and file name prefixes
var characterIDRegex = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]*$`)

// ValidateInputs performs additional security validation on user-controllable fields.
// Character ids become path segments, so they are held to a strict charset.
func (c *Config) ValidateInputs() error {
	if err := validateModelName(c.Backend.Model); err != nil {
		return err
	}

	if c.Backend.BaseURL != "" {
		if err := validateBaseURL(c.Backend.BaseURL, "backend.base_url"); err != nil {
			return err
		}
	}
	if err := validateBaseURL(c.HuggingFace.Endpoint, "huggingface.endpoint"); err != nil {
		return err
	}

	for _, ch := range c.Characters {
		if err := ValidateCharacterID(ch.ID); err != nil {
			return err
		}
		if err := validatePromptFragment(ch.Base); err != nil {
			return fmt.Errorf("character '%s' base: %w", ch.ID, err)
		}
		for i, v := range ch.Variations {
			if err := validatePromptFragment(v); err != nil {
				return fmt.Errorf("character '%s' variation %d: %w", ch.ID, i, err)
			}
		}
	}

	pools := []struct {
		name    string
		entries []string
	}{
		{"pools.quality_modifiers", c.Pools.QualityModifiers},
		{"pools.negative_prompts", c.Pools.NegativePrompts},
		{"pools.anime_negative", []string{c.Pools.AnimeNegative}},
		{"studio.example_prompts", c.Studio.ExamplePrompts},
	}
	for _, pool := range pools {
		for i, entry := range pool.entries {
			if err := validatePromptFragment(entry); err != nil {
				return fmt.Errorf("%s[%d]: %w", pool.name, i, err)
			}
		}
	}

	if len(c.Training.CaptionTemplate) > MaxTemplateSize {
		return fmt.Errorf("training.caption_template exceeds maximum size of %d bytes (got %d)",
			MaxTemplateSize, len(c.Training.CaptionTemplate))
	}

	return nil
}

// ValidateCharacterID checks that a character id is safe to use as a path segment
func ValidateCharacterID(id string) error {
	if id == "" {
		return fmt.Errorf("character id cannot be empty")
	}
	if len(id) > MaxCharacterIDLength {
		return fmt.Errorf("character id '%s' exceeds maximum length of %d", id, MaxCharacterIDLength)
	}
	if !characterIDRegex.MatchString(id) {
		return fmt.Errorf("character id '%s' must match %s", id, characterIDRegex.String())
	}
	return nil
}

// validatePromptFragment checks a prompt fragment for security issues
func validatePromptFragment(s string) error {
	// Check length
	if len(s) > MaxPromptLength {
		return fmt.Errorf("exceeds maximum length of %d characters (got %d)",
			MaxPromptLength, len(s))
	}

	// Check for control characters (except newlines and tabs)
	if containsControlChars(s) {
		return fmt.Errorf("contains invalid control characters")
	}

	return nil
}

// validateModelName checks model name for security issues
func validateModelName(modelName string) error {
	if len(modelName) > MaxModelNameLength {
		return fmt.Errorf("backend.model exceeds maximum length of %d (got %d)",
			MaxModelNameLength, len(modelName))
	}

	// Check for control characters
	if containsControlChars(modelName) {
		return fmt.Errorf("backend.model contains invalid control characters")
	}

	return nil
}

// validateBaseURL checks that the base URL is properly formatted and safe
func validateBaseURL(baseURL, configKey string) error {
	// Parse URL
	u, err := url.Parse(baseURL)
	if err != nil {
		return fmt.Errorf("%s is invalid: %w", configKey, err)
	}

	// Check scheme
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("%s must use http or https scheme (got %s)", configKey, u.Scheme)
	}

	// Check host is present
	if u.Host == "" {
		return fmt.Errorf("%s must have a host", configKey)
	}

	return nil
}

// containsControlChars checks if a string contains control characters
// (excluding newlines, tabs, and carriage returns which are acceptable)
func containsControlChars(s string) bool {
	for _, r := range s {
		if unicode.IsControl(r) && r != '\n' && r != '\t' && r != '\r' {
			return true
		}
	}
	return false
}

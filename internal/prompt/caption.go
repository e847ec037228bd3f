package prompt

import (
	"strings"
	"text/template"

	"github.com/lamim/animeforge/internal/util"
)

// Describe strips the style marker and the character's display name from a
// composed prompt, leaving the visual description. The name match is
// case-insensitive so "Alexander, " is removed for id "alexander".
func Describe(id, prompt, styleMarker string) string {
	body := prompt
	if styleMarker != "" {
		body = strings.TrimPrefix(body, styleMarker)
	}
	prefix := id + ", "
	if len(body) >= len(prefix) && strings.EqualFold(body[:len(prefix)], prefix) {
		body = body[len(prefix):]
	}
	return body
}

// Caption returns the training caption for prompt with id as trigger word
func Caption(id, prompt, styleMarker string) string {
	return id + ", " + Describe(id, prompt, styleMarker)
}

// captionData is exposed to caption templates
type captionData struct {
	Character   string
	Description string
	Prompt      string
	Variation   string
}

// Captioner renders captions through a configurable template
type Captioner struct {
	tmpl        *template.Template
	styleMarker string
}

// NewCaptioner parses tmpl once. Fields: Character, Description, Prompt, Variation.
func NewCaptioner(tmpl, styleMarker string) (*Captioner, error) {
	t, err := util.ParseTemplate("caption", tmpl)
	if err != nil {
		return nil, err
	}
	return &Captioner{tmpl: t, styleMarker: styleMarker}, nil
}

// Render produces the caption for a composed prompt
func (c *Captioner) Render(id, prompt, variation string) (string, error) {
	return util.ExecuteTemplate(c.tmpl, captionData{
		Character:   id,
		Description: Describe(id, prompt, c.styleMarker),
		Prompt:      prompt,
		Variation:   variation,
	})
}

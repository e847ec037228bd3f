package models

import "time"

// CharacterTemplate describes a character's base look and the ordered
// variation phrases cycled through during batch generation
type CharacterTemplate struct {
	ID         string   `toml:"id" yaml:"id" json:"id"`
	Base       string   `toml:"base" yaml:"base" json:"base"`
	Variations []string `toml:"variations" yaml:"variations" json:"variations"`
}

// GenerationRequest is the fully composed input for one batch index
type GenerationRequest struct {
	Character       string
	VariationIndex  int
	Variation       string
	QualityModifier string
	Prompt          string
	NegativePrompt  string
	Seed            int64
}

// GenerationRecord describes one persisted image/caption pair
type GenerationRecord struct {
	Filename       string `json:"filename"`
	CaptionFile    string `json:"caption_file"`
	Prompt         string `json:"prompt"`
	NegativePrompt string `json:"negative_prompt"`
	Seed           int64  `json:"seed"`
	VariationIndex int    `json:"variation_index"`
}

// BatchMetadata is the run-level document written as training_metadata.json
type BatchMetadata struct {
	RunID          string             `json:"run_id"`
	Character      string             `json:"character"`
	Model          string             `json:"model"`
	GenerationDate string             `json:"generation_date"`
	RequestedCount int                `json:"requested_count"`
	TotalImages    int                `json:"total_images"`
	Images         []GenerationRecord `json:"images"`
}

// ItemOutcome is the result of processing a single batch index
type ItemOutcome struct {
	Index    int
	Request  GenerationRequest
	Record   *GenerationRecord
	Err      error
	Duration time.Duration
}

// OK reports whether the item was synthesized and persisted
func (o ItemOutcome) OK() bool {
	return o.Err == nil && o.Record != nil
}

// BatchStats tracks statistics for one batch run
type BatchStats struct {
	Requested       int
	Succeeded       int
	Failed          int
	StartTime       time.Time
	EndTime         time.Time
	TotalDuration   time.Duration
	AverageDuration time.Duration
}

// Observe folds an item outcome into the running totals
func (s *BatchStats) Observe(o ItemOutcome) {
	if o.OK() {
		s.Succeeded++
	} else {
		s.Failed++
	}
}

// Finish stamps the end time and derives the duration figures
func (s *BatchStats) Finish(end time.Time) {
	s.EndTime = end
	s.TotalDuration = end.Sub(s.StartTime)
	if processed := s.Succeeded + s.Failed; processed > 0 {
		s.AverageDuration = s.TotalDuration / time.Duration(processed)
	}
}

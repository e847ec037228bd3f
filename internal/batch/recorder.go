package batch

import (
	"fmt"
	"time"

	"github.com/lamim/animeforge/internal/writer"
	"github.com/lamim/animeforge/pkg/models"
)

// Recorder accumulates generation records in memory and writes the run
// metadata once at the end of a batch
type Recorder struct {
	meta      models.BatchMetadata
	finalized bool
}

// NewRecorder starts metadata for a run
func NewRecorder(runID, character, model string, requested int, date time.Time) *Recorder {
	return &Recorder{
		meta: models.BatchMetadata{
			RunID:          runID,
			Character:      character,
			Model:          model,
			GenerationDate: date.Format(time.RFC3339),
			RequestedCount: requested,
			Images:         []models.GenerationRecord{},
		},
	}
}

// Add appends a successful record
func (r *Recorder) Add(rec models.GenerationRecord) {
	r.meta.Images = append(r.meta.Images, rec)
	r.meta.TotalImages = len(r.meta.Images)
}

// Metadata returns a snapshot of the accumulated metadata
func (r *Recorder) Metadata() models.BatchMetadata {
	snapshot := r.meta
	snapshot.Images = append([]models.GenerationRecord{}, r.meta.Images...)
	return snapshot
}

// Finalize writes training_metadata.json into dir. It may only be called once.
func (r *Recorder) Finalize(dir string) (*models.BatchMetadata, error) {
	if r.finalized {
		return nil, fmt.Errorf("metadata for run %s already finalized", r.meta.RunID)
	}

	meta := r.Metadata()
	if _, err := writer.WriteMetadata(dir, &meta); err != nil {
		return nil, err
	}

	r.finalized = true
	return &meta, nil
}

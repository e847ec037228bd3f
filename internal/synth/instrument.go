package synth

import (
	"context"
	"time"
)

// Observer receives timing for every synthesis call
type Observer interface {
	RecordSynthesis(model string, duration time.Duration, success bool)
}

type instrumented struct {
	Synthesizer
	obs Observer
}

// Instrument wraps s so each call is reported to obs. A nil obs returns s unchanged.
func Instrument(s Synthesizer, obs Observer) Synthesizer {
	if obs == nil {
		return s
	}
	return &instrumented{Synthesizer: s, obs: obs}
}

func (i *instrumented) Synthesize(ctx context.Context, req Request) (*Image, error) {
	start := time.Now()
	img, err := i.Synthesizer.Synthesize(ctx, req)
	i.obs.RecordSynthesis(i.Model(), time.Since(start), err == nil)
	return img, err
}

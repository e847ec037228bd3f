package synth

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	"image/png"
)

// Placeholder renders deterministic solid-gradient PNGs without a model.
// Same seed and size always yield the same bytes.
type Placeholder struct {
	model string
}

// NewPlaceholder returns an offline backend reporting model as its name
func NewPlaceholder(model string) *Placeholder {
	return &Placeholder{model: model}
}

// Model returns the configured model name
func (p *Placeholder) Model() string {
	return p.model
}

// Synthesize paints a vertical gradient whose colour is derived from the seed
func (p *Placeholder) Synthesize(ctx context.Context, req Request) (*Image, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	base := seedColor(req.Seed)
	img := image.NewNRGBA(image.Rect(0, 0, req.Width, req.Height))
	for y := 0; y < req.Height; y++ {
		shade := uint8(255 * y / req.Height)
		c := color.NRGBA{
			R: blend(base.R, shade),
			G: blend(base.G, shade),
			B: blend(base.B, shade),
			A: 255,
		}
		for x := 0; x < req.Width; x++ {
			img.SetNRGBA(x, y, c)
		}
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("failed to encode placeholder image: %w", err)
	}

	return &Image{Data: buf.Bytes(), MIMEType: "image/png", Seed: req.Seed}, nil
}

// seedColor spreads the seed bits over RGB (splitmix64 finalizer)
func seedColor(seed int64) color.NRGBA {
	z := uint64(seed) + 0x9e3779b97f4a7c15
	z = (z ^ (z >> 30)) * 0xbf58476d1ce4e5b9
	z = (z ^ (z >> 27)) * 0x94d049bb133111eb
	z ^= z >> 31
	return color.NRGBA{R: uint8(z), G: uint8(z >> 8), B: uint8(z >> 16), A: 255}
}

func blend(a, b uint8) uint8 {
	return uint8((uint16(a)*3 + uint16(b)) / 4)
}

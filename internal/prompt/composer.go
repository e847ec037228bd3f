package prompt

import (
	"fmt"
	"math/rand/v2"

	"github.com/lamim/animeforge/pkg/models"
)

// Pools are the random choice pools mixed into every composition
type Pools struct {
	QualityModifiers []string
	NegativePrompts  []string
}

// Composer turns (character, index) pairs into full prompts.
// Not safe for concurrent use: the RNG is owned by the composer.
type Composer struct {
	store *Store
	pools Pools
	rng   *rand.Rand
}

// NewComposer creates a composer drawing from pools with rng
func NewComposer(store *Store, pools Pools, rng *rand.Rand) (*Composer, error) {
	if store == nil {
		return nil, fmt.Errorf("nil template store")
	}
	if len(pools.QualityModifiers) == 0 {
		return nil, fmt.Errorf("quality modifier pool is empty")
	}
	if len(pools.NegativePrompts) == 0 {
		return nil, fmt.Errorf("negative prompt pool is empty")
	}
	if rng == nil {
		return nil, fmt.Errorf("nil random source")
	}
	return &Composer{store: store, pools: pools, rng: rng}, nil
}

// Compose builds the prompt for variation index of character id.
// Variations wrap around, so any non-negative index is valid.
func (c *Composer) Compose(id string, index int) (models.GenerationRequest, error) {
	if index < 0 {
		return models.GenerationRequest{}, fmt.Errorf("variation index must not be negative (got %d)", index)
	}

	tmpl, err := c.store.Lookup(id)
	if err != nil {
		return models.GenerationRequest{}, err
	}

	variation := tmpl.Variations[index%len(tmpl.Variations)]
	quality := c.pools.QualityModifiers[c.rng.IntN(len(c.pools.QualityModifiers))]
	negative := c.pools.NegativePrompts[c.rng.IntN(len(c.pools.NegativePrompts))]

	return models.GenerationRequest{
		Character:       id,
		VariationIndex:  index,
		Variation:       variation,
		QualityModifier: quality,
		Prompt:          tmpl.Base + ", " + variation + ", " + quality,
		NegativePrompt:  negative,
	}, nil
}

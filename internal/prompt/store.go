// Package prompt builds diffusion prompts from character templates.
package prompt

import (
	"errors"
	"fmt"

	"github.com/lamim/animeforge/internal/config"
	"github.com/lamim/animeforge/pkg/models"
)

// ErrUnknownCharacter is returned when a character id has no template
var ErrUnknownCharacter = errors.New("unknown character")

// Store is a read-only table of character templates built once at startup
type Store struct {
	order     []string
	templates map[string]models.CharacterTemplate
}

// NewStore validates the templates and freezes them into a Store
func NewStore(templates []models.CharacterTemplate) (*Store, error) {
	if len(templates) == 0 {
		return nil, fmt.Errorf("no character templates")
	}

	s := &Store{
		order:     make([]string, 0, len(templates)),
		templates: make(map[string]models.CharacterTemplate, len(templates)),
	}
	for _, t := range templates {
		if err := config.ValidateCharacterID(t.ID); err != nil {
			return nil, err
		}
		if _, dup := s.templates[t.ID]; dup {
			return nil, fmt.Errorf("duplicate character id '%s'", t.ID)
		}
		if t.Base == "" {
			return nil, fmt.Errorf("character '%s' has an empty base description", t.ID)
		}
		if len(t.Variations) == 0 {
			return nil, fmt.Errorf("character '%s' has no variations", t.ID)
		}
		s.templates[t.ID] = clone(t)
		s.order = append(s.order, t.ID)
	}
	return s, nil
}

// Lookup returns a copy of the template for id
func (s *Store) Lookup(id string) (models.CharacterTemplate, error) {
	t, ok := s.templates[id]
	if !ok {
		return models.CharacterTemplate{}, fmt.Errorf("%w: %s", ErrUnknownCharacter, id)
	}
	return clone(t), nil
}

// IDs returns the character ids in registration order
func (s *Store) IDs() []string {
	ids := make([]string, len(s.order))
	copy(ids, s.order)
	return ids
}

// Len returns the number of registered characters
func (s *Store) Len() int {
	return len(s.order)
}

func clone(t models.CharacterTemplate) models.CharacterTemplate {
	vars := make([]string, len(t.Variations))
	copy(vars, t.Variations)
	t.Variations = vars
	return t
}

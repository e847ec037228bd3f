package studio

import (
	"fmt"
	"sort"
)

// Profile names
const (
	ProfileSD15       = "sd15"
	ProfileAnythingV5 = "anything-v5"
)

// Profile holds the sampler defaults and filename prefix for one checkpoint
type Profile struct {
	Name          string
	FilePrefix    string
	Steps         int
	GuidanceScale float64
	Width         int
	Height        int

	// EnhanceNegative appends the anime negative list to the user's negative prompt
	EnhanceNegative bool
	// ShowExamples enables the "examples" command in interactive mode
	ShowExamples bool
}

var profiles = map[string]Profile{
	ProfileSD15: {
		Name:          ProfileSD15,
		FilePrefix:    "generated",
		Steps:         20,
		GuidanceScale: 7.5,
		Width:         512,
		Height:        512,
	},
	ProfileAnythingV5: {
		Name:            ProfileAnythingV5,
		FilePrefix:      "battle_eternal_anything_v5",
		Steps:           25,
		GuidanceScale:   8.0,
		Width:           512,
		Height:          768,
		EnhanceNegative: true,
		ShowExamples:    true,
	},
}

// LookupProfile returns the named profile
func LookupProfile(name string) (Profile, error) {
	p, ok := profiles[name]
	if !ok {
		return Profile{}, fmt.Errorf("unknown studio profile %q (available: %v)", name, ProfileNames())
	}
	return p, nil
}

// ProfileNames lists the known profiles in sorted order
func ProfileNames() []string {
	names := make([]string, 0, len(profiles))
	for name := range profiles {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// BattleEternal returns p with the Battle-Eternal tuned sampler settings
func (p Profile) BattleEternal() Profile {
	p.Steps = 30
	p.GuidanceScale = 8.5
	p.Width = 512
	p.Height = 768
	return p
}

// Negative builds the negative prompt sent to the backend
func (p Profile) Negative(userNegative, animeNegative string) string {
	if !p.EnhanceNegative {
		return userNegative
	}
	if userNegative == "" {
		return animeNegative
	}
	return userNegative + ", " + animeNegative
}

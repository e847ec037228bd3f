package config

import "github.com/lamim/animeforge/pkg/models"

// DefaultAnimeNegative is the baseline anime negative prompt. It is also the
// first entry of the default negative pool.
const DefaultAnimeNegative = "lowres, bad anatomy, bad hands, text, error, missing fingers, extra digit, fewer digits, cropped, worst quality, low quality, normal quality, jpeg artifacts, signature, watermark, username, blurry, artist name"

// DefaultCaptionTemplate renders a training caption with the character id as trigger word
const DefaultCaptionTemplate = "{{.Character}}, {{.Description}}"

// DefaultStyleMarker is stripped from prompts when building captions
const DefaultStyleMarker = "anime style "

// GetDefaultCharacters returns the built-in Battle-Eternal character templates
func GetDefaultCharacters() []models.CharacterTemplate {
	return []models.CharacterTemplate{
		{
			ID:   "alexander",
			Base: "anime style Alexander, blonde messy hair, blue eyes, glasses, red hoodie",
			Variations: []string{
				// Poses and expressions
				"confident smile, looking at viewer",
				"serious expression, side profile",
				"determined look, clenched fist",
				"surprised expression, wide eyes",
				"thinking pose, hand on chin",
				"pointing forward, dynamic pose",
				"arms crossed, confident stance",
				"looking up, hopeful expression",
				"smirking, arrogant look",
				"concerned expression, frowning",

				// Outfits and settings
				"school uniform, indoor setting",
				"casual clothes, outdoor scene",
				"winter coat, snowy background",
				"summer clothes, bright lighting",
				"formal attire, elegant pose",

				// Magic and battle
				"glowing magical aura around him",
				"holding magical cards in hand",
				"surrounded by floating spell effects",
				"casting a spell, dramatic lighting",
				"in battle stance, energy effects",

				// Camera angles
				"full body shot, standing pose",
				"upper body portrait, detailed face",
				"close-up face shot, detailed eyes",
				"three quarter view, slight angle",
				"from below angle, heroic pose",
			},
		},
		{
			ID:   "demarcus",
			Base: "anime style DeMarcus, dark-skinned bald male, technomancer",
			Variations: []string{
				// Expressions and poses
				"arrogant smirk, looking down",
				"concentrated expression, coding",
				"evil grin, glowing eyes",
				"serious face, determined look",
				"laughing maniacally, crazy eyes",
				"confident pose, arms crossed",
				"typing on laptop, focused",
				"pointing at screen, explaining",
				"leaning back in chair, smug",
				"standing pose, intimidating",

				// Tech settings
				"surrounded by multiple monitors",
				"laptop open, code on screen",
				"holographic displays around him",
				"cyberpunk office environment",
				"server room background, blue lights",

				// Magic and tech
				"laptop with magical energy emanating",
				"runic code flowing from computer",
				"red dragon energy behind him",
				"shadow and fire constructs around",
				"mystical tech laboratory setting",
				"digital magic spell effects",
				"technomancy ritual, glowing symbols",

				// Camera angles
				"full body in tech environment",
				"upper body at computer desk",
				"close-up portrait, intense eyes",
				"from side, profile view",
				"dramatic low angle, imposing",
			},
		},
	}
}

// GetDefaultQualityModifiers returns the lighting/quality suffix pool
func GetDefaultQualityModifiers() []string {
	return []string{
		"detailed art, high quality",
		"masterpiece, detailed digital art",
		"professional illustration, detailed",
		"high resolution, sharp details",
		"detailed anime art style",
		"studio lighting, high quality",
		"dramatic lighting, detailed art",
		"soft lighting, detailed illustration",
	}
}

// GetDefaultNegativePrompts returns the negative prompt pool
func GetDefaultNegativePrompts() []string {
	return []string{
		DefaultAnimeNegative,
		"ugly, duplicate, morbid, mutilated, out of frame, extra fingers, mutated hands, poorly drawn hands, poorly drawn face, mutation, deformed, blurry, bad anatomy, bad proportions, extra limbs, cloned face, disfigured, gross proportions, malformed limbs",
		"multiple people, crowd, group, extra person, background characters, text, watermark, signature, artist name, low quality, blurry",
	}
}

// GetDefaultExamplePrompts returns the prompts suggested in interactive mode
func GetDefaultExamplePrompts() []string {
	return []string{
		"anime style portrait of Alexander, blonde hair, blue eyes, glasses, red hoodie, magical cards floating around, dramatic lighting",
		"beautiful anime girl with long hair, magical powers, glowing eyes, fantasy outfit, detailed art",
		"anime boy warrior, sword in hand, mystical background, high quality digital art",
		"magical battle scene, anime characters, spell effects, dynamic poses, detailed illustration",
	}
}

// Default returns a configuration with every default applied
func Default() *Config {
	var cfg Config
	applyDefaults(&cfg)
	return &cfg
}

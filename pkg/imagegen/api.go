// Package imagegen provides the image creation adapter: strategy selection,
// prompt assembly, and pluggable generation backends.
package imagegen

import "context"

// SeedType tags a seed image with what it depicts so the backend prompt can
// reference it correctly.
type SeedType string

const (
	SeedCharacter   SeedType = "character"
	SeedEnvironment SeedType = "environment"
	SeedProp        SeedType = "prop"
	SeedOther       SeedType = "other"
)

// SeedImage is an existing image supplied to bias generation toward visual
// consistency.
type SeedImage struct {
	URL  string   `json:"url"`
	Type SeedType `json:"type"`
}

// Strategy identifies how the backend combined the inputs.
type Strategy string

const (
	// StrategyGenerate creates an image from the prompt alone.
	StrategyGenerate Strategy = "generate"
	// StrategyEdit modifies a single seed image.
	StrategyEdit Strategy = "edit"
	// StrategyMerge composes multiple seed images into one scene.
	StrategyMerge Strategy = "merge"
)

// SelectStrategy picks the generation strategy from the seed count.
func SelectStrategy(seedCount int) Strategy {
	switch {
	case seedCount == 0:
		return StrategyGenerate
	case seedCount == 1:
		return StrategyEdit
	default:
		return StrategyMerge
	}
}

// Request describes one image to create.
type Request struct {
	Description      string      `json:"description"`
	StyleBible       string      `json:"style_bible,omitempty"`
	Seeds            []SeedImage `json:"seeds,omitempty"`
	StyleConsistency bool        `json:"style_consistency"`
	AspectRatio      string      `json:"aspect_ratio,omitempty"` // "1:1", "16:9", "3:4"
}

// Result is the outcome of a generation call.
type Result struct {
	ImageURL        string   `json:"image_url"`
	Strategy        Strategy `json:"strategy"`
	EffectivePrompt string   `json:"effective_prompt"`
}

// Generator is the image creation interface step handlers depend on.
type Generator interface {
	CreateImage(ctx context.Context, req Request) (Result, error)
}

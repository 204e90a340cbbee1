package book

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExtractFeatures(t *testing.T) {
	attrs := ExtractFeatures("Ria is a 7-year-old fox with bright eyes, red fur, a bushy tail, " +
		"and white spots on her back. She is small and wears a blue scarf.")

	assert.Equal(t, "7", attrs.Age)
	assert.Equal(t, "bright", attrs.EyeColor)
	assert.Equal(t, "red", attrs.HairColor)
	assert.Equal(t, "bushy", attrs.HairStyle)
	assert.Equal(t, "small", attrs.Height)
	assert.NotEmpty(t, attrs.Marks)
	assert.Contains(t, attrs.Clothing, "a blue scarf")
}

func TestExtractFeaturesEmptyDescription(t *testing.T) {
	attrs := ExtractFeatures("A mysterious traveler.")
	assert.True(t, attrs.IsEmpty())
}

func TestExtractFeaturesDedupesMarks(t *testing.T) {
	attrs := ExtractFeatures("She has a scar above her eye. The scar above her eye glows at night.")
	assert.NotEmpty(t, attrs.Marks)
	seen := map[string]bool{}
	for _, m := range attrs.Marks {
		assert.False(t, seen[m], "duplicate mark %q", m)
		seen[m] = true
	}
}

func TestBuildPortraitPromptUsesStructuredAttributes(t *testing.T) {
	c := &Character{
		Name:        "Ria",
		Description: "A curious little fox.",
		Attributes: PhysicalAttributes{
			Age:       "7",
			EyeColor:  "amber",
			HairColor: "red",
			Height:    "small",
			Clothing:  []string{"a blue scarf"},
		},
		Props: []string{"lantern"},
	}

	prompt := BuildPortraitPrompt(c, "soft watercolor")
	assert.Contains(t, prompt, "Character portrait of Ria")
	assert.Contains(t, prompt, "amber eyes")
	assert.Contains(t, prompt, "wearing a blue scarf")
	assert.Contains(t, prompt, "lantern")
	assert.Contains(t, prompt, "soft watercolor")
	assert.Contains(t, prompt, "single character only")
}

func TestBuildPortraitPromptFallsBackToExtraction(t *testing.T) {
	c := &Character{
		Name:        "Tomas",
		Description: "A tall boy with green eyes and curly hair.",
	}

	prompt := BuildPortraitPrompt(c, "")
	assert.Contains(t, prompt, "green eyes")
	assert.Contains(t, prompt, "tall build")
}

func TestBuildMasterPlatePrompt(t *testing.T) {
	e := &Environment{
		Name:               "Berry Clearing",
		Location:           "a sunlit forest clearing",
		TimeOfDay:          "morning",
		Weather:            "clear",
		PersistentElements: []string{"old oak tree", "berry bushes"},
	}

	prompt := BuildMasterPlatePrompt(e, "soft watercolor")
	assert.Contains(t, prompt, "a sunlit forest clearing")
	assert.Contains(t, prompt, "morning")
	assert.Contains(t, prompt, "old oak tree")
	assert.Contains(t, prompt, "no characters")
}

func TestEnvironmentKey(t *testing.T) {
	assert.Equal(t, "berry_clearing_morning", EnvironmentKey("Berry Clearing", "Morning"))
	assert.Equal(t, "berry_clearing", EnvironmentKey("Berry Clearing", ""))
}

func TestPlanMergeCharacter(t *testing.T) {
	plan := &Plan{Characters: []Character{{Name: "Ria", Description: "v1"}}}

	plan.MergeCharacter(Character{Name: "Ria", Description: "v2", PortraitURL: "https://img/ria.png"})
	assert.Len(t, plan.Characters, 1)
	assert.Equal(t, "v2", plan.Characters[0].Description)

	plan.MergeCharacter(Character{Name: "Ghost"})
	assert.Len(t, plan.Characters, 2)
	assert.NotNil(t, plan.CharacterByName("Ghost"))
	assert.Nil(t, plan.CharacterByName("Nobody"))
}

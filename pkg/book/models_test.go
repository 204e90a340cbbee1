package book

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCharacterProfile(t *testing.T) {
	c := Character{
		Name:        "Ria",
		Role:        "protagonist",
		Description: "A clever 7-year-old fox",
		Personality: "curious and generous",
		Backstory:   "Grew up alone in the bramble woods",
	}

	profile := c.Profile()
	assert.Contains(t, profile, "A clever 7-year-old fox")
	assert.Contains(t, profile, "Role: protagonist.")
	assert.Contains(t, profile, "Personality: curious and generous.")
	assert.Contains(t, profile, "Backstory: Grew up alone in the bramble woods.")
}

func TestCharacterProfileDescriptionOnly(t *testing.T) {
	c := Character{Name: "Ghost", Description: "A pale owl"}
	assert.Equal(t, "A pale owl", c.Profile())
}

func TestPlanMergeCharacterReplacesByName(t *testing.T) {
	p := Plan{Characters: []Character{{Name: "Ria", Description: "a fox"}}}

	p.MergeCharacter(Character{Name: "Ria", Description: "a clever fox", Role: "protagonist"})
	p.MergeCharacter(Character{Name: "Mole", Description: "a shy mole"})

	assert.Len(t, p.Characters, 2)
	assert.Equal(t, "a clever fox", p.Characters[0].Description)
	assert.Equal(t, "protagonist", p.Characters[0].Role)
}

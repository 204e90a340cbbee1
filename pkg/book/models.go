// Package book holds the domain model for a book in progress: the plan, its
// characters and environments, and the physical-attribute extraction used to
// build portrait prompts.
package book

import "strings"

// PhysicalAttributes are the structured appearance fields carried from the
// planning step onward so later steps do not re-derive them from prose.
type PhysicalAttributes struct {
	Age       string   `json:"age,omitempty"`
	EyeColor  string   `json:"eye_color,omitempty"`
	HairColor string   `json:"hair_color,omitempty"`
	HairStyle string   `json:"hair_style,omitempty"`
	Height    string   `json:"height,omitempty"`
	Marks     []string `json:"marks,omitempty"`
	Clothing  []string `json:"clothing,omitempty"`
}

// IsEmpty reports whether no attribute was captured.
func (a PhysicalAttributes) IsEmpty() bool {
	return a.Age == "" && a.EyeColor == "" && a.HairColor == "" && a.HairStyle == "" &&
		a.Height == "" && len(a.Marks) == 0 && len(a.Clothing) == 0
}

// Character is one persistent character in a book. Role, personality, and
// backstory are carried as their own fields rather than folded into the
// physical description.
type Character struct {
	Name             string             `json:"name"`
	Role             string             `json:"role,omitempty"`
	Description      string             `json:"description"`
	Personality      string             `json:"personality,omitempty"`
	Backstory        string             `json:"backstory,omitempty"`
	Attributes       PhysicalAttributes `json:"attributes,omitempty"`
	Props            []string           `json:"props,omitempty"`
	PortraitURL      string             `json:"portrait_url,omitempty"`
	ExistingPortrait bool               `json:"existing_portrait,omitempty"`
}

// Profile joins the character's narrative fields into one prose block for
// prompts and memory records.
func (c *Character) Profile() string {
	parts := make([]string, 0, 4)
	if c.Description != "" {
		parts = append(parts, c.Description)
	}
	if c.Role != "" {
		parts = append(parts, "Role: "+c.Role+".")
	}
	if c.Personality != "" {
		parts = append(parts, "Personality: "+c.Personality+".")
	}
	if c.Backstory != "" {
		parts = append(parts, "Backstory: "+c.Backstory+".")
	}
	return strings.Join(parts, " ")
}

// Environment is one persistent location in a book.
type Environment struct {
	Name               string   `json:"name"`
	Location           string   `json:"location"`
	TimeOfDay          string   `json:"time_of_day,omitempty"`
	Weather            string   `json:"weather,omitempty"`
	PersistentElements []string `json:"persistent_elements,omitempty"`
	MasterPlateURL     string   `json:"master_plate_url,omitempty"`
}

// Scene is one illustrated moment within a chapter.
type Scene struct {
	ID            string   `json:"id"`
	ChapterNumber int      `json:"chapter_number"`
	SceneNumber   int      `json:"scene_number"`
	Synopsis      string   `json:"synopsis"`
	Excerpt       string   `json:"excerpt,omitempty"`
	Environment   string   `json:"environment"`
	Characters    []string `json:"characters,omitempty"`
	Props         []string `json:"props,omitempty"`
	RenderURL     string   `json:"render_url,omitempty"`
}

// Plan is the approved output of the planning step.
type Plan struct {
	BookID       string        `json:"book_id"`
	Title        string        `json:"title"`
	Genre        string        `json:"genre,omitempty"`
	TargetAge    string        `json:"target_age,omitempty"`
	PictureBook  bool          `json:"picture_book"`
	Premise      string        `json:"premise"`
	Themes       []string      `json:"themes,omitempty"`
	StyleBible   string        `json:"style_bible,omitempty"`
	Characters   []Character   `json:"characters,omitempty"`
	Environments []Environment `json:"environments,omitempty"`
	ChapterCount int           `json:"chapter_count,omitempty"`
}

// CharacterByName returns a pointer into the plan's character list, or nil.
func (p *Plan) CharacterByName(name string) *Character {
	for i := range p.Characters {
		if p.Characters[i].Name == name {
			return &p.Characters[i]
		}
	}
	return nil
}

// MergeCharacter replaces the character with the same name or appends.
func (p *Plan) MergeCharacter(c Character) {
	for i := range p.Characters {
		if p.Characters[i].Name == c.Name {
			p.Characters[i] = c
			return
		}
	}
	p.Characters = append(p.Characters, c)
}

package book

import (
	"fmt"
	"regexp"
	"strings"
)

// Regexes for pulling appearance details out of free-form character prose.
// Extraction is best-effort: anything not matched is simply absent from the
// structured attributes.
var (
	ageRe       = regexp.MustCompile(`(?i)\b(\d{1,3})[- ]year[- ]old\b`)
	eyeColorRe  = regexp.MustCompile(`(?i)\b(blue|green|brown|hazel|amber|gr[ae]y|golden|dark|violet|bright)\s+eyes\b`)
	hairColorRe = regexp.MustCompile(`(?i)\b(black|brown|blonde?|red|auburn|gr[ae]y|white|silver|golden|dark)\s+(?:hair|fur|mane|coat)\b`)
	hairStyleRe = regexp.MustCompile(`(?i)\b(curly|straight|wavy|braided|short|long|messy|fluffy|bushy)\s+(?:hair|fur|mane|tail)\b`)
	heightRe    = regexp.MustCompile(`(?i)\b(tall|short|small|little|tiny|towering|lanky)\b`)
	marksRe     = regexp.MustCompile(`(?i)\b(?:a|an|with)?\s*(scar|freckles|birthmark|stripe[sd]?|spot(?:s|ted)?|patch(?:es)?)\b[^.,;]*`)
	clothingRe  = regexp.MustCompile(`(?i)\b(?:wear(?:s|ing)|dressed in)\s+([^.,;]+)`)
)

// ExtractFeatures parses physical attributes from a character description.
func ExtractFeatures(description string) PhysicalAttributes {
	var attrs PhysicalAttributes

	if m := ageRe.FindStringSubmatch(description); m != nil {
		attrs.Age = m[1]
	}
	if m := eyeColorRe.FindStringSubmatch(description); m != nil {
		attrs.EyeColor = strings.ToLower(m[1])
	}
	if m := hairColorRe.FindStringSubmatch(description); m != nil {
		attrs.HairColor = strings.ToLower(m[1])
	}
	if m := hairStyleRe.FindStringSubmatch(description); m != nil {
		attrs.HairStyle = strings.ToLower(m[1])
	}
	if m := heightRe.FindStringSubmatch(description); m != nil {
		attrs.Height = strings.ToLower(m[1])
	}
	for _, m := range marksRe.FindAllStringSubmatch(description, -1) {
		mark := strings.TrimSpace(strings.ToLower(m[0]))
		mark = strings.TrimPrefix(mark, "with ")
		mark = strings.TrimPrefix(mark, "a ")
		mark = strings.TrimPrefix(mark, "an ")
		attrs.Marks = appendUnique(attrs.Marks, mark)
	}
	for _, m := range clothingRe.FindAllStringSubmatch(description, -1) {
		attrs.Clothing = appendUnique(attrs.Clothing, strings.TrimSpace(strings.ToLower(m[1])))
	}

	return attrs
}

func appendUnique(list []string, item string) []string {
	if item == "" {
		return list
	}
	for _, existing := range list {
		if existing == item {
			return list
		}
	}
	return append(list, item)
}

// BuildPortraitPrompt assembles the image prompt for a character portrait
// from the structured attributes, falling back to the raw description for
// anything unextracted.
func BuildPortraitPrompt(c *Character, styleBible string) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Character portrait of %s.", c.Name)

	attrs := c.Attributes
	if attrs.IsEmpty() {
		attrs = ExtractFeatures(c.Description)
	}

	var details []string
	if attrs.Age != "" {
		details = append(details, attrs.Age+" years old")
	}
	if attrs.EyeColor != "" {
		details = append(details, attrs.EyeColor+" eyes")
	}
	if attrs.HairColor != "" {
		details = append(details, attrs.HairColor+" hair")
	}
	if attrs.HairStyle != "" {
		details = append(details, attrs.HairStyle)
	}
	if attrs.Height != "" {
		details = append(details, attrs.Height+" build")
	}
	details = append(details, attrs.Marks...)
	for _, item := range attrs.Clothing {
		details = append(details, "wearing "+item)
	}

	if len(details) > 0 {
		sb.WriteString(" Appearance: ")
		sb.WriteString(strings.Join(details, ", "))
		sb.WriteString(".")
	}
	if c.Description != "" {
		sb.WriteString(" ")
		sb.WriteString(strings.TrimSpace(c.Description))
	}
	if len(c.Props) > 0 {
		sb.WriteString(" Shown with: ")
		sb.WriteString(strings.Join(c.Props, ", "))
		sb.WriteString(".")
	}
	if styleBible != "" {
		sb.WriteString(" Style: ")
		sb.WriteString(strings.TrimSpace(styleBible))
	}
	sb.WriteString(" Neutral background, full-body view, single character only.")

	return sb.String()
}

// BuildMasterPlatePrompt assembles the image prompt for an environment master
// plate: an empty establishing view with no characters, so later scene
// renders can composite characters onto it.
func BuildMasterPlatePrompt(e *Environment, styleBible string) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Establishing master plate of %s.", e.Location)

	if e.TimeOfDay != "" {
		fmt.Fprintf(&sb, " Time of day: %s.", e.TimeOfDay)
	}
	if e.Weather != "" {
		fmt.Fprintf(&sb, " Weather: %s.", e.Weather)
	}
	if len(e.PersistentElements) > 0 {
		sb.WriteString(" Must include: ")
		sb.WriteString(strings.Join(e.PersistentElements, ", "))
		sb.WriteString(".")
	}
	if styleBible != "" {
		sb.WriteString(" Style: ")
		sb.WriteString(strings.TrimSpace(styleBible))
	}
	sb.WriteString(" Empty scene, top-down or elevated view, no characters.")

	return sb.String()
}

// EnvironmentKey derives the composite identity for an environment from its
// location and time of day.
func EnvironmentKey(location, timeOfDay string) string {
	key := strings.ToLower(strings.TrimSpace(location))
	key = strings.ReplaceAll(key, " ", "_")
	if timeOfDay != "" {
		key += "_" + strings.ToLower(strings.TrimSpace(timeOfDay))
	}
	return key
}

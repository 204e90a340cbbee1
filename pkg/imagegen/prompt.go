package imagegen

import (
	"fmt"
	"strings"
)

// BuildPrompt assembles the effective prompt for a request: the description,
// the style bible, seed references by type, and aspect-ratio guidance. Every
// backend sends the same prompt so style stays consistent regardless of which
// service renders it.
func BuildPrompt(req Request) string {
	var sb strings.Builder
	sb.WriteString(strings.TrimSpace(req.Description))

	if req.StyleBible != "" {
		sb.WriteString("\n\nStyle guide: ")
		sb.WriteString(strings.TrimSpace(req.StyleBible))
	}

	if len(req.Seeds) > 0 {
		counts := map[SeedType]int{}
		for _, seed := range req.Seeds {
			counts[seed.Type]++
		}
		var refs []string
		for _, st := range []SeedType{SeedCharacter, SeedEnvironment, SeedProp, SeedOther} {
			if n := counts[st]; n > 0 {
				refs = append(refs, fmt.Sprintf("%d %s reference(s)", n, st))
			}
		}
		sb.WriteString("\n\nMatch the provided reference images: ")
		sb.WriteString(strings.Join(refs, ", "))
		sb.WriteString(". Keep character likenesses and environment layouts faithful to the references.")
	}

	if req.StyleConsistency {
		sb.WriteString("\nMaintain a consistent illustration style across the whole book.")
	}

	if req.AspectRatio != "" {
		sb.WriteString(fmt.Sprintf("\nCompose for a %s aspect ratio.", req.AspectRatio))
	}

	return sb.String()
}

// sizeForAspectRatio maps an aspect ratio to a pixel size accepted by the
// generation backends. Unknown ratios fall back to the configured default.
func sizeForAspectRatio(aspectRatio, fallback string) string {
	switch aspectRatio {
	case "1:1":
		return "1024x1024"
	case "16:9":
		return "1792x1024"
	case "9:16":
		return "1024x1792"
	case "3:4":
		return "1024x1365"
	case "4:3":
		return "1365x1024"
	default:
		if fallback != "" {
			return fallback
		}
		return "1024x1024"
	}
}

package utils

import (
	"encoding/json"
	"fmt"
	"strings"
)

// ExtractJSONArray locates the first top-level JSON array in free-form LLM
// output and unmarshals it into dest. Models frequently wrap JSON in prose or
// markdown fences, so we scan for a balanced bracket range instead of
// unmarshaling the raw text.
func ExtractJSONArray(text string, dest any) error {
	raw, err := extractBalanced(text, '[', ']')
	if err != nil {
		return err
	}
	if err := json.Unmarshal([]byte(raw), dest); err != nil {
		return fmt.Errorf("failed to parse extracted JSON array: %w", err)
	}
	return nil
}

// ExtractJSONObject is the object counterpart of ExtractJSONArray.
func ExtractJSONObject(text string, dest any) error {
	raw, err := extractBalanced(text, '{', '}')
	if err != nil {
		return err
	}
	if err := json.Unmarshal([]byte(raw), dest); err != nil {
		return fmt.Errorf("failed to parse extracted JSON object: %w", err)
	}
	return nil
}

// extractBalanced returns the first balanced open..close range in text,
// ignoring brackets inside JSON string literals.
func extractBalanced(text string, open, close byte) (string, error) {
	start := strings.IndexByte(text, open)
	if start == -1 {
		return "", fmt.Errorf("no '%c' found in text", open)
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(text); i++ {
		c := text[i]
		if escaped {
			escaped = false
			continue
		}
		switch {
		case c == '\\' && inString:
			escaped = true
		case c == '"':
			inString = !inString
		case inString:
			// Brackets inside strings don't count.
		case c == open:
			depth++
		case c == close:
			depth--
			if depth == 0 {
				return text[start : i+1], nil
			}
		}
	}

	return "", fmt.Errorf("unbalanced '%c' starting at offset %d", open, start)
}

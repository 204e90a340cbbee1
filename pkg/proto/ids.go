package proto

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// GenerateBookID creates a globally unique book identifier. Book IDs double
// as repository and memory-store keys, so they must be stable and unique
// across processes.
func GenerateBookID() string {
	return fmt.Sprintf("book_%s", uuid.NewString())
}

// GenerateAssetID creates a unique ID for a character or environment asset.
func GenerateAssetID(kind string) string {
	return fmt.Sprintf("%s_%s", kind, uuid.NewString())
}

// GenerateSceneID creates a deterministic scene identifier within a chapter.
// Scene IDs are positional so re-running segmentation yields the same IDs.
func GenerateSceneID(chapterNumber, sceneNumber int) string {
	return fmt.Sprintf("ch%d_scene%d", chapterNumber, sceneNumber)
}

// IsBookID reports whether the given string looks like a generated book ID.
func IsBookID(s string) bool {
	return strings.HasPrefix(s, "book_")
}

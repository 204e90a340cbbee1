package persistence

import (
	"time"

	"github.com/google/uuid"
)

// Book represents a book run.
//
//nolint:govet // struct alignment optimization not critical for this type
type Book struct {
	CreatedAt    time.Time  `json:"created_at"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
	ID           string     `json:"id"`
	Title        string     `json:"title"`
	BookType     string     `json:"book_type"`
	Premise      string     `json:"premise"`
	Plan         string     `json:"plan,omitempty"`
	StyleBible   string     `json:"style_bible,omitempty"`
	Status       string     `json:"status"`
	TargetAge    string     `json:"target_age,omitempty"`
	ChapterCount int        `json:"chapter_count"`
}

// Book type constants.
const (
	BookTypePicture     = "picture_book"
	BookTypeChapter     = "chapter_book"
	BookTypeEarlyReader = "early_reader"
)

// Book status constants.
const (
	BookStatusInProgress = "in_progress"
	BookStatusCompleted  = "completed"
	BookStatusAbandoned  = "abandoned"
)

// IsPictureBook reports whether the book goes through the illustration steps.
func (b *Book) IsPictureBook() bool {
	return b.BookType == BookTypePicture
}

// Chapter represents drafted prose for one chapter.
type Chapter struct {
	CreatedAt time.Time `json:"created_at"`
	BookID    string    `json:"book_id"`
	Title     string    `json:"title"`
	Content   string    `json:"content"`
	Number    int       `json:"number"`
	WordCount int       `json:"word_count"`
	Approved  bool      `json:"approved"`
}

// Scene represents one visual moment segmented from a chapter.
type Scene struct {
	ID            string   `json:"id"`
	BookID        string   `json:"book_id"`
	Synopsis      string   `json:"synopsis"`
	Excerpt       string   `json:"excerpt,omitempty"`
	Environment   string   `json:"environment,omitempty"`
	Characters    []string `json:"characters,omitempty"`
	ChapterNumber int      `json:"chapter_number"`
	SceneNumber   int      `json:"scene_number"`
}

// Asset kind constants.
const (
	AssetKindCharacter   = "character"
	AssetKindEnvironment = "environment"
	AssetKindProp        = "prop"
)

// Asset represents a reusable visual asset (character, environment, or prop).
// Assets are unique per (book, kind, name); existence checks go through this
// key rather than through text search of generated output.
//
//nolint:govet // struct alignment optimization not critical for this type
type Asset struct {
	CreatedAt      time.Time `json:"created_at"`
	ID             string    `json:"id"`
	BookID         string    `json:"book_id"`
	Kind           string    `json:"kind"`
	Name           string    `json:"name"`
	Description    string    `json:"description"`
	ImageURL       string    `json:"image_url,omitempty"`
	ImagePrompt    string    `json:"image_prompt,omitempty"`
	MemoryID       string    `json:"memory_id,omitempty"`
	ReusedFromBook string    `json:"reused_from_book,omitempty"`
}

// Render strategy constants.
const (
	StrategyGenerate = "generate"
	StrategyEdit     = "edit"
	StrategyMerge    = "merge"
)

// Render represents a composed scene image.
//
//nolint:govet // struct alignment optimization not critical for this type
type Render struct {
	CreatedAt time.Time `json:"created_at"`
	ID        string    `json:"id"`
	BookID    string    `json:"book_id"`
	SceneID   string    `json:"scene_id"`
	ImageURL  string    `json:"image_url"`
	Strategy  string    `json:"strategy"`
	Prompt    string    `json:"prompt,omitempty"`
	Approved  bool      `json:"approved"`
}

// ApprovalRecord is the audit row for one approval gate decision.
//
//nolint:govet // struct alignment optimization not critical for this type
type ApprovalRecord struct {
	RequestedAt  time.Time  `json:"requested_at"`
	ReviewedAt   *time.Time `json:"reviewed_at,omitempty"`
	ID           string     `json:"id"`
	BookID       string     `json:"book_id"`
	ApprovalType string     `json:"approval_type"`
	Status       string     `json:"status"`
	Content      string     `json:"content,omitempty"`
	Feedback     string     `json:"feedback,omitempty"`
	Step         int        `json:"step"`
}

// DeadLetter records a background task that exhausted its retries.
//
//nolint:govet // struct alignment optimization not critical for this type
type DeadLetter struct {
	CreatedAt time.Time `json:"created_at"`
	ID        string    `json:"id"`
	BookID    string    `json:"book_id,omitempty"`
	Operation string    `json:"operation"`
	Payload   string    `json:"payload,omitempty"`
	LastError string    `json:"last_error"`
	Attempts  int       `json:"attempts"`
}

// AssetFilter represents criteria for querying assets.
type AssetFilter struct {
	BookID *string `json:"book_id,omitempty"`
	Kind   *string `json:"kind,omitempty"`
	Name   *string `json:"name,omitempty"`
}

// BookSummary represents aggregated progress for a book.
type BookSummary struct {
	BookID          string `json:"book_id"`
	Title           string `json:"title"`
	Status          string `json:"status"`
	ChapterCount    int    `json:"chapter_count"`
	SceneCount      int    `json:"scene_count"`
	CharacterCount  int    `json:"character_count"`
	EnvironmentCnt  int    `json:"environment_count"`
	PropCount       int    `json:"prop_count"`
	RenderCount     int    `json:"render_count"`
	ApprovedRenders int    `json:"approved_renders"`
}

// GenerateRenderID generates a new UUID for a render.
func GenerateRenderID() string {
	return uuid.New().String()
}

// GenerateDeadLetterID generates a new UUID for a dead letter row.
func GenerateDeadLetterID() string {
	return uuid.New().String()
}

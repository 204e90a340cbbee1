package steps

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/Papr-ai/papr-open-piksa-sub001/pkg/agent/llm"
	"github.com/Papr-ai/papr-open-piksa-sub001/pkg/book"
	"github.com/Papr-ai/papr-open-piksa-sub001/pkg/memory"
	"github.com/Papr-ai/papr-open-piksa-sub001/pkg/persistence"
	"github.com/Papr-ai/papr-open-piksa-sub001/pkg/proto"
	"github.com/Papr-ai/papr-open-piksa-sub001/pkg/utils"
)

// DraftChapterInput is the request for the chapter drafting step.
type DraftChapterInput struct {
	BookID        string   `json:"book_id"`
	ChapterNumber int      `json:"chapter_number"`
	Title         string   `json:"title"`
	Content       string   `json:"content"`
	WordCount     int      `json:"word_count,omitempty"`
	KeyEvents     []string `json:"key_events,omitempty"`
	PictureBook   bool     `json:"picture_book"`
	BookContext   string   `json:"book_context,omitempty"`

	// MoreChapters keeps the drafting step open for further chapters instead
	// of sending it to the approval gate.
	MoreChapters bool `json:"more_chapters,omitempty"`
}

// DraftChapterResult is the drafting step's structured result.
type DraftChapterResult struct {
	Outcome
	Content string       `json:"content,omitempty"`
	Scenes  []book.Scene `json:"scenes,omitempty"`
}

// segmentedScene is the shape the segmentation model is asked to produce.
type segmentedScene struct {
	Synopsis    string   `json:"synopsis"`
	Environment string   `json:"environment"`
	Characters  []string `json:"characters"`
	Props       []string `json:"props,omitempty"`
	Excerpt     string   `json:"excerpt,omitempty"`
}

// DraftChapter persists a chapter and, for picture books, segments it into
// 2 to 4 scenes. Segmentation parse failures fall back to the unsegmented
// chapter rather than failing the step.
func (s *Service) DraftChapter(ctx context.Context, in DraftChapterInput) *DraftChapterResult {
	if out, ok := s.authOutcome(); !ok {
		return &DraftChapterResult{Outcome: out}
	}
	if in.BookID == "" || strings.TrimSpace(in.Content) == "" {
		return &DraftChapterResult{Outcome: failure("book ID and chapter content are required")}
	}
	if in.ChapterNumber < 1 {
		return &DraftChapterResult{Outcome: failure("chapter number must be positive")}
	}

	w, err := s.Workflow(in.BookID)
	if err != nil {
		return &DraftChapterResult{Outcome: failure("unknown book %s: %v", in.BookID, err)}
	}
	if err := s.beginStep(w, proto.StepDraftChapter); err != nil {
		return &DraftChapterResult{Outcome: failure("cannot draft chapter: %v", err)}
	}

	var scenes []book.Scene
	content := in.Content
	if in.PictureBook {
		scenes = s.segmentChapter(ctx, in)
		if scenes != nil {
			content = sceneBlocks(in.Content, scenes)
		}
	}

	wordCount := in.WordCount
	if wordCount == 0 {
		wordCount = len(strings.Fields(in.Content))
	}
	if err := s.db.UpsertChapter(&persistence.Chapter{
		CreatedAt: time.Now().UTC(),
		BookID:    in.BookID,
		Title:     in.Title,
		Content:   content,
		Number:    in.ChapterNumber,
		WordCount: wordCount,
	}); err != nil {
		s.abortStep(w, proto.StepDraftChapter)
		return &DraftChapterResult{Outcome: failure("failed to persist chapter: %v", err)}
	}

	if len(scenes) > 0 {
		rows := make([]*persistence.Scene, 0, len(scenes))
		for i := range scenes {
			rows = append(rows, &persistence.Scene{
				ID:            scenes[i].ID,
				BookID:        in.BookID,
				Synopsis:      scenes[i].Synopsis,
				Excerpt:       scenes[i].Excerpt,
				Environment:   scenes[i].Environment,
				Characters:    scenes[i].Characters,
				ChapterNumber: in.ChapterNumber,
				SceneNumber:   scenes[i].SceneNumber,
			})
		}
		if err := s.db.ReplaceScenes(in.BookID, in.ChapterNumber, rows); err != nil {
			s.abortStep(w, proto.StepDraftChapter)
			return &DraftChapterResult{Outcome: failure("failed to persist scenes: %v", err)}
		}
	}

	s.storeChapterMemory(ctx, in, content, scenes)

	s.emitEvent(proto.EventChapterDrafted, map[string]any{
		"book_id": in.BookID,
		"chapter": in.ChapterNumber,
		"scenes":  len(scenes),
	})
	for i := range scenes {
		s.emitEvent(proto.EventSceneCreated, map[string]any{
			"book_id":  in.BookID,
			"scene_id": scenes[i].ID,
		})
	}

	out := s.finishStep(w, proto.StepDraftChapter, content, in.MoreChapters)
	return &DraftChapterResult{Outcome: out, Content: content, Scenes: scenes}
}

// segmentChapter asks the drafting model to split the chapter into scenes.
// Returns nil on any model or parse failure so the caller falls back to the
// unsegmented chapter.
func (s *Service) segmentChapter(ctx context.Context, in DraftChapterInput) []book.Scene {
	if s.drafter == nil {
		return nil
	}

	req := segmentationRequest(in)
	resp, err := s.drafter.Complete(ctx, req)
	if err != nil && isReasoningChainError(err) {
		// One blind retry with the structured temperature and no other
		// changes; models occasionally choke on their own reasoning output.
		s.logger.Warn("segmentation hit a reasoning chain error for book %s, retrying once: %v", in.BookID, err)
		req.Temperature = llm.TemperatureStructured
		resp, err = s.drafter.Complete(ctx, req)
	}
	if err != nil {
		s.logger.Warn("scene segmentation failed for book %s chapter %d: %v", in.BookID, in.ChapterNumber, err)
		return nil
	}

	var parsed []segmentedScene
	if err := utils.ExtractJSONArray(resp.Content, &parsed); err != nil {
		s.logger.Warn("failed to parse segmentation output for book %s chapter %d: %v; raw: %s",
			in.BookID, in.ChapterNumber, err, llmSnippet(resp.Content))
		return nil
	}
	if len(parsed) == 0 {
		return nil
	}

	scenes := make([]book.Scene, 0, len(parsed))
	for i, seg := range parsed {
		scenes = append(scenes, book.Scene{
			ID:            proto.GenerateSceneID(in.ChapterNumber, i+1),
			ChapterNumber: in.ChapterNumber,
			SceneNumber:   i + 1,
			Synopsis:      seg.Synopsis,
			Excerpt:       seg.Excerpt,
			Environment:   seg.Environment,
			Characters:    seg.Characters,
			Props:         seg.Props,
		})
	}
	return scenes
}

func segmentationRequest(in DraftChapterInput) llm.CompletionRequest {
	var prompt strings.Builder
	fmt.Fprintf(&prompt, "Segment this picture book chapter into 2 to 4 scenes.\n")
	fmt.Fprintf(&prompt, "Return ONLY a JSON array; each element has synopsis, environment, characters (names), props, excerpt.\n")
	if in.BookContext != "" {
		fmt.Fprintf(&prompt, "Book context: %s\n", in.BookContext)
	}
	if len(in.KeyEvents) > 0 {
		fmt.Fprintf(&prompt, "Key events to cover: %s\n", strings.Join(in.KeyEvents, "; "))
	}
	fmt.Fprintf(&prompt, "\nChapter %d: %s\n\n%s", in.ChapterNumber, in.Title, in.Content)

	return llm.CompletionRequest{
		Messages: []llm.CompletionMessage{
			llm.NewSystemMessage("You segment children's book chapters into illustratable scenes. Respond with a JSON array only."),
			llm.NewUserMessage(prompt.String()),
		},
		MaxTokens:   4096,
		Temperature: llm.TemperatureStructured,
	}
}

// isReasoningChainError matches the provider error signature emitted when a
// model's reasoning output breaks the completion.
func isReasoningChainError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "reasoning")
}

// sceneBlocks restructures chapter content into per-scene sections.
func sceneBlocks(original string, scenes []book.Scene) string {
	var b strings.Builder
	for i := range scenes {
		fmt.Fprintf(&b, "## Scene %d: %s\n\n", scenes[i].SceneNumber, scenes[i].Synopsis)
		excerpt := scenes[i].Excerpt
		if excerpt == "" {
			excerpt = original
		}
		b.WriteString(strings.TrimSpace(excerpt))
		b.WriteString("\n\n")
	}
	return strings.TrimSpace(b.String())
}

func llmSnippet(text string) string {
	const limit = 200
	if len(text) <= limit {
		return text
	}
	return text[:limit] + "..."
}

func (s *Service) storeChapterMemory(ctx context.Context, in DraftChapterInput, content string, scenes []book.Scene) {
	metadata := map[string]string{
		memory.MetaBookID:  in.BookID,
		memory.MetaKind:    "chapter",
		memory.MetaChapter: fmt.Sprintf("%d", in.ChapterNumber),
	}
	if _, err := s.memory.StoreContent(ctx, s.userID, content, memory.ContentTypeText, metadata); err != nil {
		s.logger.Warn("failed to store chapter memory for book %s: %v", in.BookID, err)
	}

	for i := range scenes {
		sceneMeta := map[string]string{
			memory.MetaBookID:    in.BookID,
			memory.MetaKind:      "scene",
			memory.MetaAssetName: scenes[i].ID,
			memory.MetaChapter:   fmt.Sprintf("%d", in.ChapterNumber),
		}
		if _, err := s.memory.StoreContent(ctx, s.userID, scenes[i].Synopsis, memory.ContentTypeText, sceneMeta); err != nil {
			s.logger.Warn("failed to store scene memory %s: %v", scenes[i].ID, err)
		}
	}
}

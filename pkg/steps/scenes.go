package steps

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/Papr-ai/papr-open-piksa-sub001/pkg/book"
	"github.com/Papr-ai/papr-open-piksa-sub001/pkg/memory"
	"github.com/Papr-ai/papr-open-piksa-sub001/pkg/persistence"
	"github.com/Papr-ai/papr-open-piksa-sub001/pkg/proto"
)

// SceneInput is one explicit scene supplied to the segmentation step.
type SceneInput struct {
	Synopsis        string   `json:"synopsis"`
	Excerpt         string   `json:"excerpt,omitempty"`
	Environment     string   `json:"environment"`
	TimeOfDay       string   `json:"time_of_day,omitempty"`
	Characters      []string `json:"characters,omitempty"`
	Props           []string `json:"props,omitempty"`
	ContinuityNotes []string `json:"continuity_notes,omitempty"`
}

// SegmentScenesInput is the request for the explicit scene segmentation step.
type SegmentScenesInput struct {
	BookID        string       `json:"book_id"`
	ChapterNumber int          `json:"chapter_number"`
	Scenes        []SceneInput `json:"scenes"`

	// MoreChapters keeps the step open for the next chapter's scenes.
	MoreChapters bool `json:"more_chapters,omitempty"`
}

// SegmentScenesResult is the segmentation step's structured result.
type SegmentScenesResult struct {
	Outcome
	ScenesCreated int          `json:"scenes_created"`
	Scenes        []book.Scene `json:"scenes,omitempty"`
}

// SegmentScenes persists an explicit scene list for a chapter. Each scene's
// environment is stored under a composite key derived from its location and
// time of day so repeats of the same setting converge.
func (s *Service) SegmentScenes(ctx context.Context, in SegmentScenesInput) *SegmentScenesResult {
	if out, ok := s.authOutcome(); !ok {
		return &SegmentScenesResult{Outcome: out}
	}
	if in.BookID == "" || len(in.Scenes) == 0 {
		return &SegmentScenesResult{Outcome: failure("book ID and at least one scene are required")}
	}
	if in.ChapterNumber < 1 {
		return &SegmentScenesResult{Outcome: failure("chapter number must be positive")}
	}

	w, err := s.Workflow(in.BookID)
	if err != nil {
		return &SegmentScenesResult{Outcome: failure("unknown book %s: %v", in.BookID, err)}
	}
	if err := s.beginStep(w, proto.StepSegmentScenes); err != nil {
		return &SegmentScenesResult{Outcome: failure("cannot segment scenes: %v", err)}
	}

	scenes := make([]book.Scene, 0, len(in.Scenes))
	rows := make([]*persistence.Scene, 0, len(in.Scenes))
	for i, sc := range in.Scenes {
		scene := book.Scene{
			ID:            proto.GenerateSceneID(in.ChapterNumber, i+1),
			ChapterNumber: in.ChapterNumber,
			SceneNumber:   i + 1,
			Synopsis:      sc.Synopsis,
			Excerpt:       sc.Excerpt,
			Environment:   sc.Environment,
			Characters:    sc.Characters,
			Props:         sc.Props,
		}
		scenes = append(scenes, scene)
		rows = append(rows, &persistence.Scene{
			ID:            scene.ID,
			BookID:        in.BookID,
			Synopsis:      scene.Synopsis,
			Excerpt:       scene.Excerpt,
			Environment:   scene.Environment,
			Characters:    scene.Characters,
			ChapterNumber: in.ChapterNumber,
			SceneNumber:   scene.SceneNumber,
		})
	}

	if err := s.db.ReplaceScenes(in.BookID, in.ChapterNumber, rows); err != nil {
		s.abortStep(w, proto.StepSegmentScenes)
		return &SegmentScenesResult{Outcome: failure("failed to persist scenes: %v", err)}
	}

	for i, sc := range in.Scenes {
		s.storeSceneMemories(ctx, in.BookID, in.ChapterNumber, scenes[i], sc)
		s.emitEvent(proto.EventSceneCreated, map[string]any{
			"book_id":  in.BookID,
			"scene_id": scenes[i].ID,
		})
	}

	content := fmt.Sprintf("Chapter %d segmented into %d scenes", in.ChapterNumber, len(scenes))
	out := s.finishStep(w, proto.StepSegmentScenes, content, in.MoreChapters)
	return &SegmentScenesResult{Outcome: out, ScenesCreated: len(scenes), Scenes: scenes}
}

// storeSceneMemories writes one record for the scene and one for its
// environment, keyed by location plus time of day.
func (s *Service) storeSceneMemories(ctx context.Context, bookID string, chapterNumber int, scene book.Scene, in SceneInput) {
	sceneContent := scene.Synopsis
	if len(in.ContinuityNotes) > 0 {
		sceneContent += "\nContinuity: " + strings.Join(in.ContinuityNotes, "; ")
	}
	_, err := s.memory.StoreContent(ctx, s.userID, sceneContent, memory.ContentTypeText, map[string]string{
		memory.MetaBookID:    bookID,
		memory.MetaKind:      "scene",
		memory.MetaAssetName: scene.ID,
		memory.MetaChapter:   fmt.Sprintf("%d", chapterNumber),
	})
	if err != nil {
		s.logger.Warn("failed to store scene memory %s: %v", scene.ID, err)
	}

	if scene.Environment == "" {
		return
	}
	envKey := book.EnvironmentKey(scene.Environment, in.TimeOfDay)
	_, err = s.memory.StoreContent(ctx, s.userID, scene.Environment, memory.ContentTypeText, map[string]string{
		memory.MetaBookID:    bookID,
		memory.MetaKind:      persistence.AssetKindEnvironment,
		memory.MetaAssetName: envKey,
	})
	if err != nil {
		s.logger.Warn("failed to store environment memory %s: %v", envKey, err)
	}

	// Seed the keyed index so the manifest step can see the environment even
	// before its master plate exists.
	if err := s.persistSceneEnvironment(bookID, envKey, scene.Environment); err != nil {
		s.logger.Warn("failed to index environment %s: %v", envKey, err)
	}
}

func (s *Service) persistSceneEnvironment(bookID, envKey, description string) error {
	existing, err := s.db.GetAssetByKey(bookID, persistence.AssetKindEnvironment, envKey)
	if err != nil {
		return err
	}
	if existing != nil {
		return nil
	}
	return s.db.UpsertAsset(&persistence.Asset{
		CreatedAt:   time.Now().UTC(),
		ID:          proto.GenerateAssetID(persistence.AssetKindEnvironment),
		BookID:      bookID,
		Kind:        persistence.AssetKindEnvironment,
		Name:        envKey,
		Description: description,
	})
}

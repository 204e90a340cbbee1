package steps

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/Papr-ai/papr-open-piksa-sub001/pkg/imagegen"
	"github.com/Papr-ai/papr-open-piksa-sub001/pkg/memory"
	"github.com/Papr-ai/papr-open-piksa-sub001/pkg/persistence"
	"github.com/Papr-ai/papr-open-piksa-sub001/pkg/proto"
)

// RenderSceneInput is the request for the scene render step.
type RenderSceneInput struct {
	BookID         string   `json:"book_id"`
	SceneID        string   `json:"scene_id"`
	EnvironmentKey string   `json:"environment_key"`
	Characters     []string `json:"characters,omitempty"`
	Props          []string `json:"props,omitempty"`
	Description    string   `json:"description"`
	Lighting       string   `json:"lighting,omitempty"`
	CameraAngle    string   `json:"camera_angle,omitempty"`

	// PriorSceneID enables continuity seeding: when the prior scene shares
	// this scene's environment, its finished render replaces the raw master
	// plate as the environment seed.
	PriorSceneID    string `json:"prior_scene_id,omitempty"`
	ContinuityCheck bool   `json:"continuity_check,omitempty"`

	// MoreScenes keeps the render step open for further scenes.
	MoreScenes bool `json:"more_scenes,omitempty"`
}

// RenderSceneResult is the render step's structured result.
type RenderSceneResult struct {
	Outcome
	ImageURL        string            `json:"image_url,omitempty"`
	Strategy        imagegen.Strategy `json:"strategy,omitempty"`
	SeedCount       int               `json:"seed_count"`
	ContinuityFound bool              `json:"continuity_found"`
	ContinuityUsed  bool              `json:"continuity_used"`
}

// RenderScene composes the final scene image from the environment plate (or
// the prior scene's render, for continuity) plus character and prop seeds.
func (s *Service) RenderScene(ctx context.Context, in RenderSceneInput) *RenderSceneResult {
	if out, ok := s.authOutcome(); !ok {
		return &RenderSceneResult{Outcome: out}
	}
	if in.BookID == "" || in.SceneID == "" || strings.TrimSpace(in.Description) == "" {
		return &RenderSceneResult{Outcome: failure("book ID, scene ID, and description are required")}
	}

	w, err := s.Workflow(in.BookID)
	if err != nil {
		return &RenderSceneResult{Outcome: failure("unknown book %s: %v", in.BookID, err)}
	}
	if err := s.beginStep(w, proto.StepRenderScene); err != nil {
		return &RenderSceneResult{Outcome: failure("cannot render scene: %v", err)}
	}

	result := &RenderSceneResult{}
	var seeds []imagegen.SeedImage

	envSeed, continuityFound, continuityUsed := s.environmentSeed(in)
	result.ContinuityFound = continuityFound
	result.ContinuityUsed = continuityUsed
	if envSeed != "" {
		seeds = append(seeds, imagegen.SeedImage{URL: envSeed, Type: imagegen.SeedEnvironment})
	}

	for _, name := range in.Characters {
		asset, err := s.db.GetAssetByKey(in.BookID, persistence.AssetKindCharacter, name)
		if err != nil || asset == nil || asset.ImageURL == "" {
			continue
		}
		seeds = append(seeds, imagegen.SeedImage{URL: asset.ImageURL, Type: imagegen.SeedCharacter})
	}

	// Prop seeds often alias the carrier's portrait; skip URLs already seeded.
	seeded := make(map[string]bool, len(seeds))
	for _, seed := range seeds {
		seeded[seed.URL] = true
	}
	for _, prop := range in.Props {
		asset, err := s.db.GetAssetByKey(in.BookID, persistence.AssetKindProp, prop)
		if err != nil || asset == nil || asset.ImageURL == "" || seeded[asset.ImageURL] {
			continue
		}
		seeds = append(seeds, imagegen.SeedImage{URL: asset.ImageURL, Type: imagegen.SeedProp})
		seeded[asset.ImageURL] = true
	}

	styleBible := s.styleBibleFor(in.BookID)
	prompt := composeRenderPrompt(in)

	generated, err := s.images.CreateImage(imagegen.WithBookID(ctx, in.BookID), imagegen.Request{
		Description:      prompt,
		StyleBible:       styleBible,
		Seeds:            seeds,
		StyleConsistency: true,
		AspectRatio:      "16:9",
	})
	if err != nil {
		s.abortStep(w, proto.StepRenderScene)
		return &RenderSceneResult{Outcome: failure("scene render failed: %v", err)}
	}

	render := &persistence.Render{
		CreatedAt: time.Now().UTC(),
		ID:        persistence.GenerateRenderID(),
		BookID:    in.BookID,
		SceneID:   in.SceneID,
		ImageURL:  generated.ImageURL,
		Strategy:  string(generated.Strategy),
		Prompt:    generated.EffectivePrompt,
	}
	if err := s.db.UpsertRender(render); err != nil {
		s.abortStep(w, proto.StepRenderScene)
		return &RenderSceneResult{Outcome: failure("failed to persist render: %v", err)}
	}

	s.storeRenderMemory(ctx, in, seeds, generated.ImageURL)
	s.emitEvent(proto.EventImageGenerated, proto.ImageGeneratedPayload{
		BookID:   in.BookID,
		AssetID:  render.ID,
		Kind:     "scene",
		ImageURL: generated.ImageURL,
		Strategy: string(generated.Strategy),
	})

	result.ImageURL = generated.ImageURL
	result.Strategy = generated.Strategy
	result.SeedCount = len(seeds)

	content := fmt.Sprintf("Rendered scene %s with %d seeds", in.SceneID, len(seeds))
	result.Outcome = s.finishStep(w, proto.StepRenderScene, content, in.MoreScenes)
	return result
}

// environmentSeed picks the environment seed image. The prior scene's
// finished render wins when continuity checking is on and the prior scene is
// set in the same environment; otherwise the raw master plate is used.
func (s *Service) environmentSeed(in RenderSceneInput) (url string, continuityFound, continuityUsed bool) {
	if in.ContinuityCheck && in.PriorSceneID != "" {
		priorScene, err := s.db.GetSceneByID(in.BookID, in.PriorSceneID)
		if err != nil {
			s.logger.Warn("prior scene lookup failed for %s: %v", in.PriorSceneID, err)
		}
		currentScene, err := s.db.GetSceneByID(in.BookID, in.SceneID)
		if err != nil {
			s.logger.Warn("scene lookup failed for %s: %v", in.SceneID, err)
		}

		if priorScene != nil && sameEnvironment(priorScene, currentScene, in.EnvironmentKey) {
			continuityFound = true
			render, err := s.db.GetLatestRenderForScene(in.BookID, in.PriorSceneID)
			if err != nil {
				s.logger.Warn("prior render lookup failed for %s: %v", in.PriorSceneID, err)
			}
			if render != nil && render.ImageURL != "" {
				return render.ImageURL, true, true
			}
		}
	}

	if in.EnvironmentKey == "" {
		return "", continuityFound, false
	}
	asset, err := s.db.GetAssetByKey(in.BookID, persistence.AssetKindEnvironment, in.EnvironmentKey)
	if err != nil || asset == nil {
		return "", continuityFound, false
	}
	return asset.ImageURL, continuityFound, false
}

// sameEnvironment reports whether the prior scene shares the environment of
// the current render request.
func sameEnvironment(prior, current *persistence.Scene, environmentKey string) bool {
	if current != nil && prior.Environment != "" {
		return prior.Environment == current.Environment
	}
	return environmentKey != "" && prior.Environment == environmentKey
}

func composeRenderPrompt(in RenderSceneInput) string {
	var b strings.Builder
	b.WriteString(strings.TrimSpace(in.Description))
	if in.Lighting != "" {
		fmt.Fprintf(&b, " Lighting: %s.", in.Lighting)
	}
	if in.CameraAngle != "" {
		fmt.Fprintf(&b, " Camera: %s.", in.CameraAngle)
	}
	if len(in.Props) > 0 {
		fmt.Fprintf(&b, " Include: %s.", strings.Join(in.Props, ", "))
	}
	return b.String()
}

func (s *Service) storeRenderMemory(ctx context.Context, in RenderSceneInput, seeds []imagegen.SeedImage, imageURL string) {
	manifest := map[string]any{
		"scene_id":     in.SceneID,
		"image_url":    imageURL,
		"seeds":        seeds,
		"lighting":     in.Lighting,
		"camera_angle": in.CameraAngle,
	}
	content, err := json.Marshal(manifest)
	if err != nil {
		s.logger.Warn("failed to serialize render manifest for %s: %v", in.SceneID, err)
		return
	}
	_, err = s.memory.StoreContent(ctx, s.userID, string(content), memory.ContentTypeImage, map[string]string{
		memory.MetaBookID:    in.BookID,
		memory.MetaKind:      "render",
		memory.MetaAssetName: in.SceneID,
		"image_url":          imageURL,
	})
	if err != nil {
		s.logger.Warn("failed to store render memory for %s: %v", in.SceneID, err)
	}
}

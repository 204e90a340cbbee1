package steps

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/Papr-ai/papr-open-piksa-sub001/pkg/memory"
	"github.com/Papr-ai/papr-open-piksa-sub001/pkg/persistence"
	"github.com/Papr-ai/papr-open-piksa-sub001/pkg/proto"
)

// Continuity check statuses.
const (
	ContinuityVerified     = "verified"
	ContinuityMissing      = "missing"
	ContinuityInconsistent = "inconsistent"
)

// ContinuityCheck is one required element of a scene and its verification
// state.
type ContinuityCheck struct {
	Item        string `json:"item"`
	Requirement string `json:"requirement"`
	Status      string `json:"status"`
}

// SceneManifestInput is the request for the manifest step.
type SceneManifestInput struct {
	BookID           string            `json:"book_id"`
	SceneID          string            `json:"scene_id"`
	EnvironmentKey   string            `json:"environment_key"`
	Characters       []string          `json:"characters,omitempty"`
	Props            []string          `json:"props,omitempty"`
	ContinuityChecks []ContinuityCheck `json:"continuity_checks,omitempty"`

	// MoreScenes keeps the manifest step open for further scenes.
	MoreScenes bool `json:"more_scenes,omitempty"`
}

// SceneManifestResult is the manifest step's structured result.
// CanProceedToRender holds exactly when MissingAssets is empty.
type SceneManifestResult struct {
	Outcome
	EnvironmentFound   bool     `json:"environment_found"`
	CharactersFound    int      `json:"characters_found"`
	CharactersRequired int      `json:"characters_required"`
	PropsFound         int      `json:"props_found"`
	PropsRequired      int      `json:"props_required"`
	MissingAssets      []string `json:"missing_assets"`
	CanProceedToRender bool     `json:"can_proceed_to_render"`
	ContinuityVerified int      `json:"continuity_verified"`
	ContinuityProblems int      `json:"continuity_problems"`
}

// SceneManifest checks that every asset a scene requires exists before
// rendering. Existence comes from the keyed asset index; props missing from
// the index fall back to best-effort memory search.
func (s *Service) SceneManifest(ctx context.Context, in SceneManifestInput) *SceneManifestResult {
	if out, ok := s.authOutcome(); !ok {
		return &SceneManifestResult{Outcome: out}
	}
	if in.BookID == "" || in.SceneID == "" {
		return &SceneManifestResult{Outcome: failure("book ID and scene ID are required")}
	}

	w, err := s.Workflow(in.BookID)
	if err != nil {
		return &SceneManifestResult{Outcome: failure("unknown book %s: %v", in.BookID, err)}
	}
	if err := s.beginStep(w, proto.StepSceneManifest); err != nil {
		return &SceneManifestResult{Outcome: failure("cannot build scene manifest: %v", err)}
	}

	result := &SceneManifestResult{
		CharactersRequired: len(in.Characters),
		PropsRequired:      len(in.Props),
		MissingAssets:      []string{},
	}

	if in.EnvironmentKey != "" {
		asset, err := s.db.GetAssetByKey(in.BookID, persistence.AssetKindEnvironment, in.EnvironmentKey)
		if err != nil {
			s.logger.Warn("environment lookup failed for %s: %v", in.EnvironmentKey, err)
		}
		result.EnvironmentFound = asset != nil && asset.ImageURL != ""
		if !result.EnvironmentFound {
			result.MissingAssets = append(result.MissingAssets, "Environment (0/1)")
		}
	} else {
		result.EnvironmentFound = true
	}

	for _, name := range in.Characters {
		asset, err := s.db.GetAssetByKey(in.BookID, persistence.AssetKindCharacter, name)
		if err != nil {
			s.logger.Warn("character lookup failed for %s: %v", name, err)
			continue
		}
		if asset != nil && asset.ImageURL != "" {
			result.CharactersFound++
		}
	}
	if result.CharactersFound < result.CharactersRequired {
		result.MissingAssets = append(result.MissingAssets,
			fmt.Sprintf("Characters (%d/%d)", result.CharactersFound, result.CharactersRequired))
	}

	for _, prop := range in.Props {
		if s.propExists(ctx, in.BookID, prop) {
			result.PropsFound++
		}
	}
	if result.PropsFound < result.PropsRequired {
		result.MissingAssets = append(result.MissingAssets,
			fmt.Sprintf("Props (%d/%d)", result.PropsFound, result.PropsRequired))
	}

	for _, check := range in.ContinuityChecks {
		if check.Status == ContinuityVerified {
			result.ContinuityVerified++
		} else {
			result.ContinuityProblems++
		}
	}

	result.CanProceedToRender = len(result.MissingAssets) == 0

	s.storeManifestMemory(ctx, in, result)

	content := fmt.Sprintf("Manifest for scene %s: %d missing assets", in.SceneID, len(result.MissingAssets))
	result.Outcome = s.finishStep(w, proto.StepSceneManifest, content, in.MoreScenes)
	return result
}

// propExists reports whether the prop is known to this book. Props are
// indexed under their own key when the character carrying them is created;
// an index miss falls back to best-effort memory search.
func (s *Service) propExists(ctx context.Context, bookID, prop string) bool {
	if asset, err := s.db.GetAssetByKey(bookID, persistence.AssetKindProp, prop); err == nil && asset != nil {
		return true
	}

	records, err := s.memory.SearchMemories(ctx, s.userID, prop, 5)
	if err != nil {
		s.logger.Warn("prop search failed for %s: %v", prop, err)
		return false
	}
	for _, rec := range records {
		if rec.Metadata[memory.MetaBookID] != bookID {
			continue
		}
		if rec.Metadata[memory.MetaAssetName] == prop {
			return true
		}
	}
	return false
}

func (s *Service) storeManifestMemory(ctx context.Context, in SceneManifestInput, result *SceneManifestResult) {
	manifest := map[string]any{
		"scene_id":          in.SceneID,
		"environment":       in.EnvironmentKey,
		"characters":        in.Characters,
		"props":             in.Props,
		"missing_assets":    result.MissingAssets,
		"continuity_checks": in.ContinuityChecks,
		"status":            string(proto.StepPendingApproval),
	}
	content, err := json.Marshal(manifest)
	if err != nil {
		s.logger.Warn("failed to serialize manifest for scene %s: %v", in.SceneID, err)
		return
	}
	_, err = s.memory.StoreContent(ctx, s.userID, string(content), memory.ContentTypeText, map[string]string{
		memory.MetaBookID:    in.BookID,
		memory.MetaKind:      "manifest",
		memory.MetaAssetName: in.SceneID,
	})
	if err != nil {
		s.logger.Warn("failed to store manifest for scene %s: %v", in.SceneID, err)
	}
}

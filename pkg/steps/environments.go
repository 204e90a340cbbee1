package steps

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/Papr-ai/papr-open-piksa-sub001/pkg/book"
	"github.com/Papr-ai/papr-open-piksa-sub001/pkg/imagegen"
	"github.com/Papr-ai/papr-open-piksa-sub001/pkg/memory"
	"github.com/Papr-ai/papr-open-piksa-sub001/pkg/persistence"
	"github.com/Papr-ai/papr-open-piksa-sub001/pkg/proto"
)

// EnvironmentInput is one environment in a creation batch.
type EnvironmentInput struct {
	Name               string   `json:"name,omitempty"`
	Location           string   `json:"location"`
	TimeOfDay          string   `json:"time_of_day,omitempty"`
	Weather            string   `json:"weather,omitempty"`
	PersistentElements []string `json:"persistent_elements,omitempty"`
	SeedURLs           []string `json:"seed_urls,omitempty"`

	// Generate requests master plate generation when no existing plate is
	// found.
	Generate bool `json:"generate"`
}

// CreateEnvironmentsInput is the request for the environment creation step.
type CreateEnvironmentsInput struct {
	BookID       string             `json:"book_id"`
	Environments []EnvironmentInput `json:"environments"`

	// MoreComing keeps the step open for another batch before approval.
	MoreComing bool `json:"more_coming,omitempty"`
}

// EnvironmentResult is the per-item outcome within a batch.
type EnvironmentResult struct {
	Key            string `json:"key"`
	MasterPlateURL string `json:"master_plate_url,omitempty"`
	ExistingPlate  bool   `json:"existing_plate"`
	Error          string `json:"error,omitempty"`
}

// CreateEnvironmentsResult is the batch's structured result.
type CreateEnvironmentsResult struct {
	Outcome
	Results    []EnvironmentResult `json:"results"`
	CanAddMore bool                `json:"can_add_more"`
}

// CreateEnvironments creates or reuses master plates for up to three
// environments. Environments key on location plus time of day, so morning
// and evening in the same clearing are distinct plates.
func (s *Service) CreateEnvironments(ctx context.Context, in CreateEnvironmentsInput) *CreateEnvironmentsResult {
	if out, ok := s.authOutcome(); !ok {
		return &CreateEnvironmentsResult{Outcome: out}
	}
	if in.BookID == "" || len(in.Environments) == 0 {
		return &CreateEnvironmentsResult{Outcome: failure("book ID and at least one environment are required")}
	}
	if len(in.Environments) > maxBatchSize {
		return &CreateEnvironmentsResult{Outcome: failure("batch size %d exceeds the maximum of %d", len(in.Environments), maxBatchSize)}
	}

	w, err := s.Workflow(in.BookID)
	if err != nil {
		return &CreateEnvironmentsResult{Outcome: failure("unknown book %s: %v", in.BookID, err)}
	}
	if err := s.beginStep(w, proto.StepCreateEnvironments); err != nil {
		return &CreateEnvironmentsResult{Outcome: failure("cannot create environments: %v", err)}
	}

	styleBible := s.styleBibleFor(in.BookID)

	results := make([]EnvironmentResult, 0, len(in.Environments))
	for _, e := range in.Environments {
		results = append(results, s.createOneEnvironment(ctx, in.BookID, styleBible, e))
	}

	content := environmentBatchSummary(results)
	out := s.finishStep(w, proto.StepCreateEnvironments, content, in.MoreComing)
	return &CreateEnvironmentsResult{
		Outcome:    out,
		Results:    results,
		CanAddMore: in.MoreComing,
	}
}

func (s *Service) createOneEnvironment(ctx context.Context, bookID, styleBible string, in EnvironmentInput) EnvironmentResult {
	if strings.TrimSpace(in.Location) == "" {
		return EnvironmentResult{Error: "environment location is required"}
	}

	key := book.EnvironmentKey(in.Location, in.TimeOfDay)
	result := EnvironmentResult{Key: key}

	// Exact-key lookup first.
	if asset, err := s.db.GetAssetByKey(bookID, persistence.AssetKindEnvironment, key); err != nil {
		result.Error = fmt.Sprintf("asset lookup failed: %v", err)
		return result
	} else if asset != nil && asset.ImageURL != "" {
		result.MasterPlateURL = asset.ImageURL
		result.ExistingPlate = true
		return result
	}

	// Best-effort memory search.
	if url := s.searchPlateMemory(ctx, bookID, key); url != "" {
		result.MasterPlateURL = url
		result.ExistingPlate = true
		s.persistEnvironmentAsset(ctx, bookID, key, in, url)
		return result
	}

	if !in.Generate {
		result.Error = "no existing master plate found and generation was not requested"
		return result
	}

	env := book.Environment{
		Name:               in.Name,
		Location:           in.Location,
		TimeOfDay:          in.TimeOfDay,
		Weather:            in.Weather,
		PersistentElements: in.PersistentElements,
	}
	prompt := book.BuildMasterPlatePrompt(&env, styleBible)

	seeds := make([]imagegen.SeedImage, 0, len(in.SeedURLs))
	for _, url := range in.SeedURLs {
		seeds = append(seeds, imagegen.SeedImage{URL: url, Type: imagegen.SeedEnvironment})
	}

	generated, err := s.images.CreateImage(imagegen.WithBookID(ctx, bookID), imagegen.Request{
		Description:      prompt,
		StyleBible:       styleBible,
		Seeds:            seeds,
		StyleConsistency: true,
		AspectRatio:      "16:9",
	})
	if err != nil {
		result.Error = fmt.Sprintf("master plate generation failed: %v", err)
		return result
	}

	result.MasterPlateURL = generated.ImageURL
	s.persistEnvironmentAsset(ctx, bookID, key, in, generated.ImageURL)
	s.emitEvent(proto.EventImageGenerated, proto.ImageGeneratedPayload{
		BookID:   bookID,
		Kind:     persistence.AssetKindEnvironment,
		ImageURL: generated.ImageURL,
		Strategy: string(generated.Strategy),
	})
	return result
}

func (s *Service) searchPlateMemory(ctx context.Context, bookID, key string) string {
	records, err := s.memory.SearchMemories(ctx, s.userID, fmt.Sprintf("environment master plate %s", key), 3)
	if err != nil {
		s.logger.Warn("plate memory search failed for %s: %v", key, err)
		return ""
	}
	for _, rec := range records {
		if rec.Metadata[memory.MetaBookID] != bookID {
			continue
		}
		if rec.Metadata[memory.MetaAssetName] != key {
			continue
		}
		if url := rec.Metadata["image_url"]; url != "" {
			return url
		}
	}
	return ""
}

func (s *Service) persistEnvironmentAsset(ctx context.Context, bookID, key string, in EnvironmentInput, plateURL string) {
	description := in.Location
	if in.Weather != "" {
		description += ", " + in.Weather
	}
	if len(in.PersistentElements) > 0 {
		description += ". Persistent elements: " + strings.Join(in.PersistentElements, ", ")
	}

	if err := s.db.UpsertAsset(&persistence.Asset{
		CreatedAt:   time.Now().UTC(),
		ID:          proto.GenerateAssetID(persistence.AssetKindEnvironment),
		BookID:      bookID,
		Kind:        persistence.AssetKindEnvironment,
		Name:        key,
		Description: description,
		ImageURL:    plateURL,
	}); err != nil {
		s.logger.Warn("failed to index environment %s: %v", key, err)
	}

	_, err := s.memory.StoreContent(ctx, s.userID, description, memory.ContentTypeImage, map[string]string{
		memory.MetaBookID:    bookID,
		memory.MetaKind:      persistence.AssetKindEnvironment,
		memory.MetaAssetName: key,
		"image_url":          plateURL,
	})
	if err != nil {
		s.logger.Warn("failed to store plate memory for %s: %v", key, err)
	}

	s.emitEvent(proto.EventEnvironmentCreated, map[string]any{
		"book_id": bookID,
		"key":     key,
	})
}

func environmentBatchSummary(results []EnvironmentResult) string {
	var keys []string
	for _, r := range results {
		if r.Error == "" {
			keys = append(keys, r.Key)
		}
	}
	return fmt.Sprintf("Created master plates for: %s", strings.Join(keys, ", "))
}

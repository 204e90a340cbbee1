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
	"github.com/Papr-ai/papr-open-piksa-sub001/pkg/workflow"
)

// CharacterInput is one character in a creation batch.
type CharacterInput struct {
	Name        string   `json:"name"`
	Description string   `json:"description,omitempty"`
	ArtStyle    string   `json:"art_style,omitempty"`
	BaseOutfit  string   `json:"base_outfit,omitempty"`
	SeedURLs    []string `json:"seed_urls,omitempty"`
	Props       []string `json:"props,omitempty"`

	// UseExistingURL short-circuits generation with a caller-supplied
	// portrait.
	UseExistingURL string `json:"use_existing_url,omitempty"`

	// Generate requests portrait generation when no existing portrait is
	// found anywhere.
	Generate bool `json:"generate"`
}

// CreateCharactersInput is the request for the character creation step.
type CreateCharactersInput struct {
	BookID     string           `json:"book_id"`
	Characters []CharacterInput `json:"characters"`

	// MoreComing keeps the step open for another batch before approval.
	MoreComing bool `json:"more_coming,omitempty"`
}

// CharacterResult is the per-item outcome within a batch.
type CharacterResult struct {
	Name             string `json:"name"`
	PortraitURL      string `json:"portrait_url,omitempty"`
	ExistingPortrait bool   `json:"existing_portrait"`
	ReusedFromBook   string `json:"reused_from_book,omitempty"`
	PropCount        int    `json:"prop_count"`
	Error            string `json:"error,omitempty"`
}

// CreateCharactersResult is the batch's structured result. The batch succeeds
// as a whole when at least the request shape was valid; per-item failures
// live in the item's Error field.
type CreateCharactersResult struct {
	Outcome
	Results    []CharacterResult `json:"results"`
	CanAddMore bool              `json:"can_add_more"`
}

// CreateCharacters creates or reuses portraits for up to three characters.
// The keyed asset index is consulted before any generation, making repeat
// calls for the same name idempotent; a miss there falls back to memory
// search within the book, then across books.
func (s *Service) CreateCharacters(ctx context.Context, in CreateCharactersInput) *CreateCharactersResult {
	if out, ok := s.authOutcome(); !ok {
		return &CreateCharactersResult{Outcome: out}
	}
	if in.BookID == "" || len(in.Characters) == 0 {
		return &CreateCharactersResult{Outcome: failure("book ID and at least one character are required")}
	}
	if len(in.Characters) > maxBatchSize {
		return &CreateCharactersResult{Outcome: failure("batch size %d exceeds the maximum of %d", len(in.Characters), maxBatchSize)}
	}

	w, err := s.Workflow(in.BookID)
	if err != nil {
		return &CreateCharactersResult{Outcome: failure("unknown book %s: %v", in.BookID, err)}
	}
	if err := s.beginStep(w, proto.StepCreateCharacters); err != nil {
		return &CreateCharactersResult{Outcome: failure("cannot create characters: %v", err)}
	}

	styleBible := s.styleBibleFor(in.BookID)

	results := make([]CharacterResult, 0, len(in.Characters))
	for _, c := range in.Characters {
		results = append(results, s.createOneCharacter(ctx, in.BookID, styleBible, c))
	}

	s.mergeWorkflowCharacters(w, in.BookID)

	content := characterBatchSummary(results)
	out := s.finishStep(w, proto.StepCreateCharacters, content, in.MoreComing)
	return &CreateCharactersResult{
		Outcome:    out,
		Results:    results,
		CanAddMore: in.MoreComing,
	}
}

func (s *Service) createOneCharacter(ctx context.Context, bookID, styleBible string, in CharacterInput) CharacterResult {
	result := CharacterResult{Name: in.Name, PropCount: len(in.Props)}
	if strings.TrimSpace(in.Name) == "" {
		result.Error = "character name is required"
		return result
	}

	// Caller-supplied portrait wins outright.
	if in.UseExistingURL != "" {
		result.PortraitURL = in.UseExistingURL
		result.ExistingPortrait = true
		s.persistCharacterAsset(ctx, bookID, in, result, "")
		return result
	}

	// Exact-key lookup in this book.
	if asset, err := s.db.GetAssetByKey(bookID, persistence.AssetKindCharacter, in.Name); err != nil {
		result.Error = fmt.Sprintf("asset lookup failed: %v", err)
		return result
	} else if asset != nil && asset.ImageURL != "" {
		result.PortraitURL = asset.ImageURL
		result.ExistingPortrait = true
		s.persistProps(ctx, bookID, in.Name, in.Props, asset.ImageURL)
		return result
	}

	// Best-effort memory search within the book.
	if url := s.searchPortraitMemory(ctx, bookID, in.Name); url != "" {
		result.PortraitURL = url
		result.ExistingPortrait = true
		s.persistCharacterAsset(ctx, bookID, in, result, "")
		return result
	}

	// Cross-book reuse by name.
	if asset, err := s.db.FindAssetAcrossBooks(bookID, persistence.AssetKindCharacter, in.Name); err == nil && asset != nil {
		result.PortraitURL = asset.ImageURL
		result.ExistingPortrait = true
		result.ReusedFromBook = asset.BookID
		s.persistCharacterAsset(ctx, bookID, in, result, asset.BookID)
		return result
	}

	if !in.Generate {
		result.Error = "no existing portrait found and generation was not requested"
		return result
	}

	character := book.Character{
		Name:        in.Name,
		Description: in.Description,
		Props:       in.Props,
	}
	if character.Description == "" {
		character.Description = s.characterDescriptionFromMemory(ctx, bookID, in.Name)
	}
	character.Attributes = book.ExtractFeatures(character.Description)

	prompt := book.BuildPortraitPrompt(&character, styleBible)
	if in.ArtStyle != "" {
		prompt += " Art style: " + in.ArtStyle + "."
	}
	if in.BaseOutfit != "" {
		prompt += " Wearing: " + in.BaseOutfit + "."
	}

	seeds := make([]imagegen.SeedImage, 0, len(in.SeedURLs))
	for _, url := range in.SeedURLs {
		seeds = append(seeds, imagegen.SeedImage{URL: url, Type: imagegen.SeedCharacter})
	}

	generated, err := s.images.CreateImage(imagegen.WithBookID(ctx, bookID), imagegen.Request{
		Description:      prompt,
		StyleBible:       styleBible,
		Seeds:            seeds,
		StyleConsistency: true,
		AspectRatio:      "3:4",
	})
	if err != nil {
		result.Error = fmt.Sprintf("portrait generation failed: %v", err)
		return result
	}

	result.PortraitURL = generated.ImageURL
	s.persistCharacterAsset(ctx, bookID, in, result, "")
	s.emitEvent(proto.EventImageGenerated, proto.ImageGeneratedPayload{
		BookID:   bookID,
		Kind:     persistence.AssetKindCharacter,
		ImageURL: generated.ImageURL,
		Strategy: string(generated.Strategy),
	})
	return result
}

// searchPortraitMemory looks for a stored portrait URL for this character in
// this book. Failures degrade to "not found".
func (s *Service) searchPortraitMemory(ctx context.Context, bookID, name string) string {
	records, err := s.memory.SearchMemories(ctx, s.userID, fmt.Sprintf("character portrait %s", name), 3)
	if err != nil {
		s.logger.Warn("portrait memory search failed for %s: %v", name, err)
		return ""
	}
	for _, rec := range records {
		if rec.Metadata[memory.MetaBookID] != bookID {
			continue
		}
		if rec.Metadata[memory.MetaAssetName] != name {
			continue
		}
		if url := rec.Metadata["image_url"]; url != "" {
			return url
		}
	}
	return ""
}

func (s *Service) characterDescriptionFromMemory(ctx context.Context, bookID, name string) string {
	records, err := s.memory.SearchMemories(ctx, s.userID, fmt.Sprintf("character %s", name), 3)
	if err != nil {
		return ""
	}
	for _, rec := range records {
		if rec.Metadata[memory.MetaBookID] == bookID && rec.Metadata[memory.MetaAssetName] == name {
			return rec.Content
		}
	}
	return ""
}

// persistCharacterAsset writes the keyed index row and the memory record for
// a resolved portrait.
func (s *Service) persistCharacterAsset(ctx context.Context, bookID string, in CharacterInput, result CharacterResult, reusedFrom string) {
	asset := &persistence.Asset{
		CreatedAt:      time.Now().UTC(),
		ID:             proto.GenerateAssetID(persistence.AssetKindCharacter),
		BookID:         bookID,
		Kind:           persistence.AssetKindCharacter,
		Name:           in.Name,
		Description:    in.Description,
		ImageURL:       result.PortraitURL,
		ReusedFromBook: reusedFrom,
	}
	if err := s.db.UpsertAsset(asset); err != nil {
		s.logger.Warn("failed to index character %s: %v", in.Name, err)
	}

	content := in.Description
	if content == "" {
		content = fmt.Sprintf("Character %s portrait", in.Name)
	}
	if len(in.Props) > 0 {
		content += "\nProps: " + strings.Join(in.Props, ", ")
	}
	_, err := s.memory.StoreContent(ctx, s.userID, content, memory.ContentTypeImage, map[string]string{
		memory.MetaBookID:    bookID,
		memory.MetaKind:      persistence.AssetKindCharacter,
		memory.MetaAssetName: in.Name,
		"image_url":          result.PortraitURL,
	})
	if err != nil {
		s.logger.Warn("failed to store portrait memory for %s: %v", in.Name, err)
	}

	s.persistProps(ctx, bookID, in.Name, in.Props, result.PortraitURL)

	s.emitEvent(proto.EventCharacterCreated, map[string]any{
		"book_id": bookID,
		"name":    in.Name,
		"reused":  result.ExistingPortrait,
	})
}

// persistProps indexes each prop a character carries under its own key and
// memory record, so scene manifests can verify the prop by name and renders
// can seed it. The carrier's portrait doubles as the prop's visual reference.
func (s *Service) persistProps(ctx context.Context, bookID, carrier string, props []string, portraitURL string) {
	for _, prop := range props {
		name := strings.TrimSpace(prop)
		if name == "" {
			continue
		}

		asset := &persistence.Asset{
			CreatedAt:   time.Now().UTC(),
			ID:          proto.GenerateAssetID(persistence.AssetKindProp),
			BookID:      bookID,
			Kind:        persistence.AssetKindProp,
			Name:        name,
			Description: fmt.Sprintf("Prop carried by %s", carrier),
			ImageURL:    portraitURL,
		}
		if err := s.db.UpsertAsset(asset); err != nil {
			s.logger.Warn("failed to index prop %s: %v", name, err)
		}

		content := fmt.Sprintf("Prop %s carried by %s", name, carrier)
		_, err := s.memory.StoreContent(ctx, s.userID, content, memory.ContentTypeText, map[string]string{
			memory.MetaBookID:    bookID,
			memory.MetaKind:      persistence.AssetKindProp,
			memory.MetaAssetName: name,
		})
		if err != nil {
			s.logger.Warn("failed to store prop memory for %s: %v", name, err)
		}
	}
}

// mergeWorkflowCharacters rebuilds the workflow's character list from the
// keyed index, replacing duplicates by name.
func (s *Service) mergeWorkflowCharacters(w *workflow.BookWorkflow, bookID string) {
	kind := persistence.AssetKindCharacter
	assets, err := s.db.GetAssets(&persistence.AssetFilter{BookID: &bookID, Kind: &kind})
	if err != nil {
		s.logger.Warn("failed to load characters for book %s: %v", bookID, err)
		return
	}

	characters := make([]book.Character, 0, len(assets))
	for _, asset := range assets {
		characters = append(characters, book.Character{
			Name:             asset.Name,
			Description:      asset.Description,
			PortraitURL:      asset.ImageURL,
			ExistingPortrait: asset.ImageURL != "",
		})
	}
	if err := w.SetData("characters", characters); err != nil {
		s.logger.Warn("failed to record characters for book %s: %v", bookID, err)
	}
}

func (s *Service) styleBibleFor(bookID string) string {
	record, err := s.db.GetBookByID(bookID)
	if err != nil || record == nil {
		return ""
	}
	return record.StyleBible
}

func characterBatchSummary(results []CharacterResult) string {
	var names []string
	for _, r := range results {
		if r.Error == "" {
			names = append(names, r.Name)
		}
	}
	return fmt.Sprintf("Created portraits for: %s", strings.Join(names, ", "))
}

package steps

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/Papr-ai/papr-open-piksa-sub001/pkg/agent/llm"
	"github.com/Papr-ai/papr-open-piksa-sub001/pkg/book"
	"github.com/Papr-ai/papr-open-piksa-sub001/pkg/memory"
	"github.com/Papr-ai/papr-open-piksa-sub001/pkg/persistence"
	"github.com/Papr-ai/papr-open-piksa-sub001/pkg/proto"
	"github.com/Papr-ai/papr-open-piksa-sub001/pkg/workflow"
)

// PlanInput is the request for the planning step.
type PlanInput struct {
	Title        string           `json:"title"`
	Genre        string           `json:"genre,omitempty"`
	TargetAge    string           `json:"target_age,omitempty"`
	Premise      string           `json:"premise"`
	Themes       []string         `json:"themes,omitempty"`
	Characters   []book.Character `json:"characters,omitempty"`
	StyleBible   string           `json:"style_bible,omitempty"`
	PictureBook  bool             `json:"picture_book"`
	ChapterCount int              `json:"chapter_count,omitempty"`

	// HasContext indicates the conversation already supplied enough context,
	// skipping the redundant memory search.
	HasContext bool `json:"has_context,omitempty"`
}

// PlanResult is the planning step's structured result.
type PlanResult struct {
	Outcome
	BookID               string    `json:"book_id,omitempty"`
	Plan                 book.Plan `json:"plan,omitempty"`
	Brief                string    `json:"brief,omitempty"`
	FoundExistingContext bool      `json:"found_existing_context"`
}

// Plan creates the book, its workflow, and the book brief. Prior plans and
// characters found in memory are merged into the new plan rather than
// overwritten.
func (s *Service) Plan(ctx context.Context, in PlanInput) *PlanResult {
	if out, ok := s.authOutcome(); !ok {
		return &PlanResult{Outcome: out}
	}
	if strings.TrimSpace(in.Title) == "" {
		return &PlanResult{Outcome: failure("title is required")}
	}
	if strings.TrimSpace(in.Premise) == "" {
		return &PlanResult{Outcome: failure("premise is required")}
	}

	plan := book.Plan{
		BookID:       proto.GenerateBookID(),
		Title:        in.Title,
		Genre:        in.Genre,
		TargetAge:    in.TargetAge,
		PictureBook:  in.PictureBook,
		Premise:      in.Premise,
		Themes:       in.Themes,
		StyleBible:   in.StyleBible,
		Characters:   in.Characters,
		ChapterCount: in.ChapterCount,
	}
	for i := range plan.Characters {
		if plan.Characters[i].Attributes.IsEmpty() {
			plan.Characters[i].Attributes = book.ExtractFeatures(plan.Characters[i].Description)
		}
	}

	foundContext := false
	var priorContext []string
	characterMemories := make(map[string]memory.Memory)
	if !in.HasContext {
		foundContext, priorContext, characterMemories = s.searchPlanContext(ctx, &plan)
	}

	w, err := workflow.New(plan.BookID, plan.PictureBook, s.workflowOptions()...)
	if err != nil {
		return &PlanResult{Outcome: failure("failed to create workflow: %v", err)}
	}
	s.registerWorkflow(w)
	if err := s.beginStep(w, proto.StepPlan); err != nil {
		return &PlanResult{Outcome: failure("failed to start planning: %v", err)}
	}

	brief := s.composeBrief(ctx, &plan, priorContext)

	if err := s.db.UpsertBook(&persistence.Book{
		ID:           plan.BookID,
		Title:        plan.Title,
		BookType:     bookType(plan.PictureBook),
		Premise:      plan.Premise,
		Plan:         brief,
		StyleBible:   plan.StyleBible,
		Status:       persistence.BookStatusInProgress,
		TargetAge:    plan.TargetAge,
		ChapterCount: plan.ChapterCount,
		CreatedAt:    time.Now().UTC(),
	}); err != nil {
		s.abortStep(w, proto.StepPlan)
		return &PlanResult{Outcome: failure("failed to persist book: %v", err)}
	}

	s.storeBriefMemory(ctx, &plan, brief)
	s.storeCharacterMemories(ctx, &plan, characterMemories)
	s.persistCharactersInBackground(&plan)

	if err := w.SetData("plan", plan); err != nil {
		s.logger.Warn("book %s: failed to record plan data: %v", plan.BookID, err)
	}

	s.emitEvent(proto.EventBookID, plan.BookID)
	s.emitEvent(proto.EventTitle, plan.Title)
	s.emitEvent(proto.EventKind, "book")
	s.emitEvent(proto.EventBookPlan, map[string]any{
		"book_id":    plan.BookID,
		"title":      plan.Title,
		"characters": len(plan.Characters),
	})

	out := s.finishStep(w, proto.StepPlan, brief, false)
	return &PlanResult{
		Outcome:              out,
		BookID:               plan.BookID,
		Plan:                 plan,
		Brief:                brief,
		FoundExistingContext: foundContext,
	}
}

// searchPlanContext looks for a prior plan with the same title and for each
// named character. Search failures degrade to empty context, never abort.
func (s *Service) searchPlanContext(ctx context.Context, plan *book.Plan) (bool, []string, map[string]memory.Memory) {
	found := false
	var prior []string
	characterMemories := make(map[string]memory.Memory)

	results, err := s.memory.SearchMemories(ctx, s.userID, fmt.Sprintf("book plan %s", plan.Title), 3)
	if err != nil {
		s.logger.Warn("plan context search failed for %q: %v", plan.Title, err)
	}
	for _, rec := range results {
		found = true
		prior = append(prior, rec.Content)
	}

	for i := range plan.Characters {
		c := &plan.Characters[i]
		results, err := s.memory.SearchMemories(ctx, s.userID, fmt.Sprintf("character %s", c.Name), 1)
		if err != nil {
			s.logger.Warn("character context search failed for %q: %v", c.Name, err)
			continue
		}
		for _, rec := range results {
			if rec.Metadata[memory.MetaAssetName] != c.Name {
				continue
			}
			found = true
			characterMemories[c.Name] = rec
			// Merge, never overwrite: fill gaps from the stored record.
			if c.Description == "" {
				c.Description = rec.Content
			}
			if c.Attributes.IsEmpty() {
				c.Attributes = book.ExtractFeatures(rec.Content)
			}
		}
	}

	return found, prior, characterMemories
}

// composeBrief writes the book brief, preferring the planning model and
// falling back to deterministic composition when no model is available.
func (s *Service) composeBrief(ctx context.Context, plan *book.Plan, priorContext []string) string {
	fallback := deterministicBrief(plan)
	if s.planner == nil {
		return fallback
	}

	var prompt strings.Builder
	fmt.Fprintf(&prompt, "Write a concise book brief for %q.\n", plan.Title)
	fmt.Fprintf(&prompt, "Genre: %s. Target age: %s. Picture book: %t.\n", plan.Genre, plan.TargetAge, plan.PictureBook)
	fmt.Fprintf(&prompt, "Premise: %s\n", plan.Premise)
	if len(plan.Themes) > 0 {
		fmt.Fprintf(&prompt, "Themes: %s\n", strings.Join(plan.Themes, ", "))
	}
	for i := range plan.Characters {
		fmt.Fprintf(&prompt, "Character %s: %s\n", plan.Characters[i].Name, plan.Characters[i].Profile())
	}
	if plan.StyleBible != "" {
		fmt.Fprintf(&prompt, "Style guide: %s\n", plan.StyleBible)
	}
	for _, prior := range priorContext {
		fmt.Fprintf(&prompt, "Earlier plan context to build on: %s\n", prior)
	}

	resp, err := s.planner.Complete(ctx, llm.CompletionRequest{
		Messages: []llm.CompletionMessage{
			llm.NewSystemMessage("You plan illustrated children's books. Produce a short prose brief covering premise, cast, and tone."),
			llm.NewUserMessage(prompt.String()),
		},
		MaxTokens:   2048,
		Temperature: llm.TemperatureCreative,
	})
	if err != nil || strings.TrimSpace(resp.Content) == "" {
		s.logger.Warn("planning model failed for book %s, using composed brief: %v", plan.BookID, err)
		return fallback
	}
	return resp.Content
}

func deterministicBrief(plan *book.Plan) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s (%s, ages %s). %s", plan.Title, plan.Genre, plan.TargetAge, plan.Premise)
	if len(plan.Themes) > 0 {
		fmt.Fprintf(&b, " Themes: %s.", strings.Join(plan.Themes, ", "))
	}
	for i := range plan.Characters {
		fmt.Fprintf(&b, " %s: %s", plan.Characters[i].Name, plan.Characters[i].Profile())
	}
	return b.String()
}

func (s *Service) storeBriefMemory(ctx context.Context, plan *book.Plan, brief string) {
	_, err := s.memory.StoreContent(ctx, s.userID, brief, memory.ContentTypeText, map[string]string{
		memory.MetaBookID: plan.BookID,
		memory.MetaKind:   "brief",
	})
	if err != nil {
		s.logger.Warn("failed to store brief for book %s: %v", plan.BookID, err)
	}
}

// storeCharacterMemories updates the existing record when the context search
// found one, and creates a record otherwise.
func (s *Service) storeCharacterMemories(ctx context.Context, plan *book.Plan, existing map[string]memory.Memory) {
	for i := range plan.Characters {
		c := &plan.Characters[i]
		metadata := map[string]string{
			memory.MetaBookID:    plan.BookID,
			memory.MetaKind:      persistence.AssetKindCharacter,
			memory.MetaAssetName: c.Name,
		}

		profile := c.Profile()
		if rec, ok := existing[c.Name]; ok {
			err := s.memory.UpdateMemory(ctx, rec.ID, memory.Update{
				Content:  profile,
				Metadata: metadata,
			})
			if err != nil {
				s.logger.Warn("failed to update character memory for %s: %v", c.Name, err)
			}
			continue
		}

		if _, err := s.memory.StoreContent(ctx, s.userID, profile, memory.ContentTypeText, metadata); err != nil {
			s.logger.Warn("failed to store character memory for %s: %v", c.Name, err)
		}
	}
}

// persistCharactersInBackground writes character rows to the asset index
// without blocking the planning response.
func (s *Service) persistCharactersInBackground(plan *book.Plan) {
	if len(plan.Characters) == 0 {
		return
	}
	characters := make([]book.Character, len(plan.Characters))
	copy(characters, plan.Characters)
	payload, _ := json.Marshal(characters)

	bookID := plan.BookID
	s.persistInBackground(bookID, "persist_plan_characters", string(payload), func() error {
		for i := range characters {
			// A portrait created in the meantime wins over the plan row.
			if existing, err := s.db.GetAssetByKey(bookID, persistence.AssetKindCharacter, characters[i].Name); err == nil && existing != nil && existing.ImageURL != "" {
				continue
			}
			asset := &persistence.Asset{
				CreatedAt:   time.Now().UTC(),
				ID:          proto.GenerateAssetID(persistence.AssetKindCharacter),
				BookID:      bookID,
				Kind:        persistence.AssetKindCharacter,
				Name:        characters[i].Name,
				Description: characters[i].Description,
				ImageURL:    characters[i].PortraitURL,
			}
			if err := s.db.UpsertAsset(asset); err != nil {
				return err
			}
		}
		return nil
	})
}

func bookType(pictureBook bool) string {
	if pictureBook {
		return persistence.BookTypePicture
	}
	return persistence.BookTypeChapter
}

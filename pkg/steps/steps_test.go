package steps

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Papr-ai/papr-open-piksa-sub001/pkg/agent"
	"github.com/Papr-ai/papr-open-piksa-sub001/pkg/agent/llm"
	"github.com/Papr-ai/papr-open-piksa-sub001/pkg/book"
	"github.com/Papr-ai/papr-open-piksa-sub001/pkg/imagegen"
	"github.com/Papr-ai/papr-open-piksa-sub001/pkg/memory"
	"github.com/Papr-ai/papr-open-piksa-sub001/pkg/persistence"
	"github.com/Papr-ai/papr-open-piksa-sub001/pkg/proto"
	"github.com/Papr-ai/papr-open-piksa-sub001/pkg/state"
)

const foxScenesJSON = `[
	{"synopsis": "Ria discovers the berry clearing", "environment": "berry clearing", "characters": ["Ria"], "excerpt": "Ria's nose twitched."},
	{"synopsis": "Ria shares the berries", "environment": "berry clearing", "characters": ["Ria"], "props": ["berry basket"], "excerpt": "She filled the basket."}
]`

type fixture struct {
	service *Service
	memory  *memory.Fake
	images  *imagegen.Mock
	drafter *agent.MockClient
	events  []proto.StreamEvent
}

type fixtureOption func(*Deps)

func withUserID(userID string) fixtureOption {
	return func(d *Deps) { d.UserID = userID }
}

func withApprovalGates() fixtureOption {
	return func(d *Deps) { d.SkipApproval = false }
}

func newFixture(t *testing.T, opts ...fixtureOption) *fixture {
	t.Helper()

	db, err := persistence.InitializeDatabase(filepath.Join(t.TempDir(), "steps.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	store, err := state.NewStore(t.TempDir())
	require.NoError(t, err)

	f := &fixture{
		memory:  memory.NewFake(),
		images:  imagegen.NewMock(),
		drafter: agent.NewMockClientWithText(foxScenesJSON),
	}

	deps := Deps{
		UserID:       "user_1",
		Storage:      persistence.NewDatabaseOperations(db),
		Memory:       f.memory,
		Images:       f.images,
		Drafter:      f.drafter,
		StateStore:   store,
		Emit:         func(event proto.StreamEvent) { f.events = append(f.events, event) },
		SkipApproval: true,
	}
	for _, opt := range opts {
		opt(&deps)
	}

	service, err := NewService(deps)
	require.NoError(t, err)
	f.service = service
	return f
}

func foxPlan() PlanInput {
	return PlanInput{
		Title:       "Fox Tale",
		Genre:       "adventure",
		TargetAge:   "4-6",
		Premise:     "A clever fox learns to share",
		PictureBook: true,
		Characters: []book.Character{
			{Name: "Ria", Description: "A clever 7-year-old fox with bright green eyes and a bushy tail"},
		},
		StyleBible: "Soft watercolor, warm light",
	}
}

func (f *fixture) planFox(t *testing.T) string {
	t.Helper()
	result := f.service.Plan(context.Background(), foxPlan())
	require.True(t, result.Success, "plan failed: %s", result.Error)
	require.NotEmpty(t, result.BookID)
	return result.BookID
}

func (f *fixture) draftFox(t *testing.T, bookID string) *DraftChapterResult {
	t.Helper()
	result := f.service.DraftChapter(context.Background(), DraftChapterInput{
		BookID:        bookID,
		ChapterNumber: 1,
		Title:         "The Berry Clearing",
		Content:       "Ria's nose twitched. Somewhere past the brambles, berries were ripening.",
		PictureBook:   true,
	})
	require.True(t, result.Success, "draft failed: %s", result.Error)
	return result
}

func TestPlanCreatesBookAndBrief(t *testing.T) {
	f := newFixture(t)

	result := f.service.Plan(context.Background(), foxPlan())
	require.True(t, result.Success, result.Error)
	assert.True(t, proto.IsBookID(result.BookID))
	assert.Equal(t, NextProceed, result.NextStep)
	assert.NotEmpty(t, result.Brief)

	record, err := f.service.db.GetBookByID(result.BookID)
	require.NoError(t, err)
	require.NotNil(t, record)
	assert.Equal(t, "Fox Tale", record.Title)
	assert.True(t, record.IsPictureBook())

	// Brief plus one record per character.
	assert.GreaterOrEqual(t, f.memory.Count(), 2)

	// Physical attributes are extracted up front, not re-derived later.
	assert.Equal(t, "7", result.Plan.Characters[0].Attributes.Age)

	w, err := f.service.Workflow(result.BookID)
	require.NoError(t, err)
	assert.Equal(t, proto.StepApproved, w.Status(proto.StepPlan))
}

func TestPlanRequiresAuthenticatedUser(t *testing.T) {
	f := newFixture(t, withUserID(""))

	result := f.service.Plan(context.Background(), foxPlan())
	assert.False(t, result.Success)
	assert.Contains(t, result.Error, "no authenticated user")
}

func TestPlanValidatesInput(t *testing.T) {
	f := newFixture(t)

	result := f.service.Plan(context.Background(), PlanInput{Premise: "no title"})
	assert.False(t, result.Success)
	assert.Contains(t, result.Error, "title")
}

func TestPlanMergesExistingCharacterContext(t *testing.T) {
	f := newFixture(t)

	_, err := f.memory.StoreContent(context.Background(), "user_1",
		"A clever 7-year-old fox with bright green eyes", memory.ContentTypeText,
		map[string]string{memory.MetaKind: persistence.AssetKindCharacter, memory.MetaAssetName: "Ria"})
	require.NoError(t, err)

	in := foxPlan()
	in.Characters = []book.Character{{Name: "Ria"}}
	result := f.service.Plan(context.Background(), in)
	require.True(t, result.Success, result.Error)

	assert.True(t, result.FoundExistingContext)
	assert.Contains(t, result.Plan.Characters[0].Description, "green eyes")
}

func TestPlanCarriesCharacterRoleAndBackstory(t *testing.T) {
	f := newFixture(t)

	in := foxPlan()
	in.Characters[0].Role = "protagonist"
	in.Characters[0].Personality = "curious and generous"
	in.Characters[0].Backstory = "Grew up alone in the bramble woods"

	result := f.service.Plan(context.Background(), in)
	require.True(t, result.Success, result.Error)
	assert.Equal(t, "protagonist", result.Plan.Characters[0].Role)
	assert.Contains(t, result.Brief, "Role: protagonist.")
	assert.Contains(t, result.Brief, "Personality: curious and generous.")
	assert.Contains(t, result.Brief, "bramble woods")
}

func TestPlanStopsAtApprovalGate(t *testing.T) {
	f := newFixture(t, withApprovalGates())

	result := f.service.Plan(context.Background(), foxPlan())
	require.True(t, result.Success, result.Error)
	assert.True(t, result.ApprovalRequired)
	require.NotNil(t, result.Approval)
	assert.Equal(t, proto.ApprovalTypePlan, result.Approval.Type)

	// Drafting is rejected until the plan is approved.
	draft := f.service.DraftChapter(context.Background(), DraftChapterInput{
		BookID: result.BookID, ChapterNumber: 1, Content: "text", PictureBook: true,
	})
	assert.False(t, draft.Success)

	require.NoError(t, f.service.Approve(result.BookID, proto.StepPlan))
	draft = f.service.DraftChapter(context.Background(), DraftChapterInput{
		BookID: result.BookID, ChapterNumber: 1, Content: "text", PictureBook: true,
	})
	assert.True(t, draft.Success, draft.Error)
}

func TestApprovalGateWritesAuditTrail(t *testing.T) {
	f := newFixture(t, withApprovalGates())

	plan := f.service.Plan(context.Background(), foxPlan())
	require.True(t, plan.Success, plan.Error)
	require.True(t, plan.ApprovalRequired)

	trail, err := f.service.db.GetApprovalsByBook(plan.BookID)
	require.NoError(t, err)
	require.Len(t, trail, 1)
	assert.Equal(t, plan.Approval.ID, trail[0].ID)
	assert.Equal(t, string(proto.ApprovalStatusPending), trail[0].Status)
	assert.Equal(t, int(proto.StepPlan), trail[0].Step)
	assert.Nil(t, trail[0].ReviewedAt)

	require.NoError(t, f.service.Approve(plan.BookID, proto.StepPlan))

	trail, err = f.service.db.GetApprovalsByBook(plan.BookID)
	require.NoError(t, err)
	require.Len(t, trail, 1)
	assert.Equal(t, string(proto.ApprovalStatusApproved), trail[0].Status)
	require.NotNil(t, trail[0].ReviewedAt)

	draft := f.service.DraftChapter(context.Background(), DraftChapterInput{
		BookID: plan.BookID, ChapterNumber: 1, Content: "Ria's nose twitched.", PictureBook: true,
	})
	require.True(t, draft.Success, draft.Error)
	require.NoError(t, f.service.Reject(plan.BookID, proto.StepDraftChapter, "tighten the opening"))

	trail, err = f.service.db.GetApprovalsByBook(plan.BookID)
	require.NoError(t, err)
	require.Len(t, trail, 2)
	assert.Equal(t, string(proto.ApprovalStatusRejected), trail[1].Status)
	assert.Equal(t, "tighten the opening", trail[1].Feedback)
}

func TestDraftChapterSegmentsPictureBook(t *testing.T) {
	f := newFixture(t)
	bookID := f.planFox(t)

	result := f.draftFox(t, bookID)
	require.Len(t, result.Scenes, 2)
	assert.Equal(t, "berry clearing", result.Scenes[0].Environment)
	assert.Contains(t, result.Scenes[0].Characters, "Ria")
	assert.Contains(t, result.Content, "## Scene 1")

	scenes, err := f.service.db.GetScenesByChapter(bookID, 1)
	require.NoError(t, err)
	assert.Len(t, scenes, 2)
}

func TestDraftChapterParseFailureFallsBack(t *testing.T) {
	f := newFixture(t)
	bookID := f.planFox(t)

	f.drafter = agent.NewMockClientWithText("I could not produce scenes this time.")
	f.service.drafter = f.drafter

	result := f.service.DraftChapter(context.Background(), DraftChapterInput{
		BookID:        bookID,
		ChapterNumber: 1,
		Content:       "Ria's nose twitched.",
		PictureBook:   true,
	})
	require.True(t, result.Success, result.Error)
	assert.Nil(t, result.Scenes)
	assert.Equal(t, "Ria's nose twitched.", result.Content)
}

func TestDraftChapterRetriesReasoningChainError(t *testing.T) {
	f := newFixture(t)
	bookID := f.planFox(t)

	f.drafter = agent.NewMockClient(
		agent.ScriptedResponse{Err: assert.AnError},
		agent.ScriptedResponse{Response: llm.CompletionResponse{Content: foxScenesJSON, StopReason: "end_turn"}},
	)
	f.service.drafter = f.drafter

	// A non-reasoning error is not retried: segmentation falls back.
	result := f.service.DraftChapter(context.Background(), DraftChapterInput{
		BookID: bookID, ChapterNumber: 1, Content: "text", PictureBook: true, MoreChapters: true,
	})
	require.True(t, result.Success, result.Error)
	assert.Nil(t, result.Scenes)
	assert.Equal(t, 1, f.drafter.CallCount())

	f.drafter = agent.NewMockClient(
		agent.ScriptedResponse{Err: errors.New("model reasoning chain was truncated")},
		agent.ScriptedResponse{Response: llm.CompletionResponse{Content: foxScenesJSON, StopReason: "end_turn"}},
	)
	f.service.drafter = f.drafter

	result = f.service.DraftChapter(context.Background(), DraftChapterInput{
		BookID: bookID, ChapterNumber: 2, Content: "more text", PictureBook: true,
	})
	require.True(t, result.Success, result.Error)
	assert.Len(t, result.Scenes, 2)
	assert.Equal(t, 2, f.drafter.CallCount())
}

func TestSegmentScenesPersistsEnvironments(t *testing.T) {
	f := newFixture(t)
	bookID := f.planFox(t)
	f.draftFox(t, bookID)

	result := f.service.SegmentScenes(context.Background(), SegmentScenesInput{
		BookID:        bookID,
		ChapterNumber: 1,
		Scenes: []SceneInput{
			{Synopsis: "Ria finds the clearing", Environment: "berry clearing", TimeOfDay: "morning", Characters: []string{"Ria"}},
			{Synopsis: "Ria shares", Environment: "berry clearing", TimeOfDay: "morning", Characters: []string{"Ria"}},
		},
	})
	require.True(t, result.Success, result.Error)
	assert.Equal(t, 2, result.ScenesCreated)

	// Both scenes share one environment key.
	asset, err := f.service.db.GetAssetByKey(bookID, persistence.AssetKindEnvironment, "berry_clearing_morning")
	require.NoError(t, err)
	require.NotNil(t, asset)
}

func TestCreateCharactersOneResultPerItem(t *testing.T) {
	f := newFixture(t)
	bookID := f.planFox(t)
	f.draftFox(t, bookID)
	f.segmentFox(t, bookID)

	result := f.service.CreateCharacters(context.Background(), CreateCharactersInput{
		BookID: bookID,
		Characters: []CharacterInput{
			{Name: "Ria", Description: "A clever 7-year-old fox", Generate: true},
			{Name: "", Generate: true},
		},
	})
	require.True(t, result.Success, result.Error)
	require.Len(t, result.Results, 2)
	assert.NotEmpty(t, result.Results[0].PortraitURL)
	assert.Empty(t, result.Results[0].Error)
	assert.NotEmpty(t, result.Results[1].Error)
}

func TestCreateCharactersIdempotent(t *testing.T) {
	f := newFixture(t)
	bookID := f.planFox(t)
	f.draftFox(t, bookID)
	f.segmentFox(t, bookID)

	first := f.service.CreateCharacters(context.Background(), CreateCharactersInput{
		BookID:     bookID,
		Characters: []CharacterInput{{Name: "Ria", Description: "A clever fox", Generate: true}},
		MoreComing: true,
	})
	require.True(t, first.Success, first.Error)
	require.False(t, first.Results[0].ExistingPortrait)
	url := first.Results[0].PortraitURL
	require.NotEmpty(t, url)
	generated := f.images.CallCount()

	second := f.service.CreateCharacters(context.Background(), CreateCharactersInput{
		BookID:     bookID,
		Characters: []CharacterInput{{Name: "Ria", Description: "A clever fox", Generate: true}},
	})
	require.True(t, second.Success, second.Error)
	assert.True(t, second.Results[0].ExistingPortrait)
	assert.Equal(t, url, second.Results[0].PortraitURL)
	assert.Equal(t, generated, f.images.CallCount(), "no duplicate generation")
}

func TestCreateCharactersBatchLimit(t *testing.T) {
	f := newFixture(t)
	bookID := f.planFox(t)

	result := f.service.CreateCharacters(context.Background(), CreateCharactersInput{
		BookID: bookID,
		Characters: []CharacterInput{
			{Name: "A"}, {Name: "B"}, {Name: "C"}, {Name: "D"},
		},
	})
	assert.False(t, result.Success)
	assert.Contains(t, result.Error, "batch size")
}

func TestCreateCharactersCrossBookReuse(t *testing.T) {
	f := newFixture(t)
	bookID := f.planFox(t)
	f.draftFox(t, bookID)
	f.segmentFox(t, bookID)

	// Ria already has a portrait in an earlier book. The book row comes
	// first; assets reference their book.
	require.NoError(t, f.service.db.UpsertBook(&persistence.Book{
		ID:       "book_earlier",
		Title:    "Ria and the River",
		BookType: persistence.BookTypePicture,
		Status:   persistence.BookStatusCompleted,
	}))
	require.NoError(t, f.service.db.UpsertAsset(&persistence.Asset{
		ID:       proto.GenerateAssetID(persistence.AssetKindCharacter),
		BookID:   "book_earlier",
		Kind:     persistence.AssetKindCharacter,
		Name:     "Ria",
		ImageURL: "https://images.local/earlier/ria.png",
	}))

	result := f.service.CreateCharacters(context.Background(), CreateCharactersInput{
		BookID:     bookID,
		Characters: []CharacterInput{{Name: "Ria", Generate: true}},
	})
	require.True(t, result.Success, result.Error)
	assert.True(t, result.Results[0].ExistingPortrait)
	assert.Equal(t, "book_earlier", result.Results[0].ReusedFromBook)
	assert.Equal(t, "https://images.local/earlier/ria.png", result.Results[0].PortraitURL)
	assert.Equal(t, 0, f.images.CallCount())
}

func TestCreateEnvironmentsGeneratesMasterPlate(t *testing.T) {
	f := newFixture(t)
	bookID := f.setupThroughCharacters(t)

	result := f.service.CreateEnvironments(context.Background(), CreateEnvironmentsInput{
		BookID: bookID,
		Environments: []EnvironmentInput{
			{Location: "berry clearing", TimeOfDay: "morning", PersistentElements: []string{"old gnarled oak"}, Generate: true},
		},
	})
	require.True(t, result.Success, result.Error)
	require.Len(t, result.Results, 1)
	assert.Equal(t, "berry_clearing_morning", result.Results[0].Key)
	assert.NotEmpty(t, result.Results[0].MasterPlateURL)

	req := f.images.LastRequest()
	require.NotNil(t, req)
	assert.Contains(t, req.Description, "no characters")
}

func TestSceneManifestMissingCharacter(t *testing.T) {
	f := newFixture(t)
	bookID := f.setupThroughEnvironments(t)

	result := f.service.SceneManifest(context.Background(), SceneManifestInput{
		BookID:         bookID,
		SceneID:        "ch1_scene1",
		EnvironmentKey: "berry_clearing_morning",
		Characters:     []string{"Ghost"},
	})
	require.True(t, result.Success, result.Error)
	assert.Contains(t, result.MissingAssets, "Characters (0/1)")
	assert.False(t, result.CanProceedToRender)
}

func TestSceneManifestCanProceedWhenNothingMissing(t *testing.T) {
	f := newFixture(t)
	bookID := f.setupThroughEnvironments(t)

	result := f.service.SceneManifest(context.Background(), SceneManifestInput{
		BookID:         bookID,
		SceneID:        "ch1_scene1",
		EnvironmentKey: "berry_clearing_morning",
		Characters:     []string{"Ria"},
	})
	require.True(t, result.Success, result.Error)
	assert.Empty(t, result.MissingAssets)
	assert.True(t, result.CanProceedToRender)
	assert.True(t, result.EnvironmentFound)
	assert.Equal(t, 1, result.CharactersFound)
}

func TestSceneManifestVerifiesCharacterProps(t *testing.T) {
	f := newFixture(t)
	bookID := f.setupThroughEnvironmentsWithProps(t, "berry basket")

	result := f.service.SceneManifest(context.Background(), SceneManifestInput{
		BookID:         bookID,
		SceneID:        "ch1_scene2",
		EnvironmentKey: "berry_clearing_morning",
		Characters:     []string{"Ria"},
		Props:          []string{"berry basket"},
		MoreScenes:     true,
	})
	require.True(t, result.Success, result.Error)
	assert.Equal(t, 1, result.PropsFound)
	assert.Empty(t, result.MissingAssets)
	assert.True(t, result.CanProceedToRender)

	// A prop nobody carries still blocks the render.
	missing := f.service.SceneManifest(context.Background(), SceneManifestInput{
		BookID:         bookID,
		SceneID:        "ch1_scene1",
		EnvironmentKey: "berry_clearing_morning",
		Props:          []string{"lantern"},
	})
	require.True(t, missing.Success, missing.Error)
	assert.Contains(t, missing.MissingAssets, "Props (0/1)")
	assert.False(t, missing.CanProceedToRender)
}

func TestRenderSceneSeedsProps(t *testing.T) {
	f := newFixture(t)
	bookID := f.setupThroughEnvironmentsWithProps(t, "berry basket")
	f.manifestFox(t, bookID, true)

	// The prop's reference image aliases Ria's portrait, so seeding her
	// alongside the prop must not duplicate the URL.
	withCarrier := f.service.RenderScene(context.Background(), RenderSceneInput{
		BookID:         bookID,
		SceneID:        "ch1_scene1",
		EnvironmentKey: "berry_clearing_morning",
		Characters:     []string{"Ria"},
		Props:          []string{"berry basket"},
		Description:    "Ria fills the berry basket",
		MoreScenes:     true,
	})
	require.True(t, withCarrier.Success, withCarrier.Error)
	req := f.images.LastRequest()
	require.NotNil(t, req)
	assert.Equal(t, seedTypeCount(req.Seeds, imagegen.SeedCharacter), 1)
	assert.Equal(t, seedTypeCount(req.Seeds, imagegen.SeedProp), 0)

	withoutCarrier := f.service.RenderScene(context.Background(), RenderSceneInput{
		BookID:         bookID,
		SceneID:        "ch1_scene2",
		EnvironmentKey: "berry_clearing_morning",
		Props:          []string{"berry basket"},
		Description:    "The berry basket rests beneath the oak",
	})
	require.True(t, withoutCarrier.Success, withoutCarrier.Error)
	req = f.images.LastRequest()
	require.NotNil(t, req)
	assert.Equal(t, seedTypeCount(req.Seeds, imagegen.SeedProp), 1)
	assert.Contains(t, req.Description, "berry basket")
}

func seedTypeCount(seeds []imagegen.SeedImage, kind imagegen.SeedType) int {
	var n int
	for _, seed := range seeds {
		if seed.Type == kind {
			n++
		}
	}
	return n
}

func TestRenderSceneUsesPriorRenderForContinuity(t *testing.T) {
	f := newFixture(t)
	bookID := f.setupThroughEnvironments(t)
	f.manifestFox(t, bookID, true)

	first := f.service.RenderScene(context.Background(), RenderSceneInput{
		BookID:         bookID,
		SceneID:        "ch1_scene1",
		EnvironmentKey: "berry_clearing_morning",
		Characters:     []string{"Ria"},
		Description:    "Ria steps into the berry clearing",
		MoreScenes:     true,
	})
	require.True(t, first.Success, first.Error)
	require.NotEmpty(t, first.ImageURL)
	assert.False(t, first.ContinuityUsed)

	second := f.service.RenderScene(context.Background(), RenderSceneInput{
		BookID:          bookID,
		SceneID:         "ch1_scene2",
		EnvironmentKey:  "berry_clearing_morning",
		Characters:      []string{"Ria"},
		Description:     "Ria shares the berries",
		PriorSceneID:    "ch1_scene1",
		ContinuityCheck: true,
	})
	require.True(t, second.Success, second.Error)
	assert.True(t, second.ContinuityFound)
	assert.True(t, second.ContinuityUsed)

	req := f.images.LastRequest()
	require.NotNil(t, req)
	require.NotEmpty(t, req.Seeds)
	assert.Equal(t, imagegen.SeedEnvironment, req.Seeds[0].Type)
	assert.Equal(t, first.ImageURL, req.Seeds[0].URL, "prior render beats the raw master plate")
}

func TestCompleteBookFlags(t *testing.T) {
	f := newFixture(t)
	bookID := f.setupThroughCharacters(t)

	result := f.service.CompleteBook(context.Background(), CompleteBookInput{BookID: bookID})
	require.True(t, result.Success, result.Error)
	assert.True(t, result.IsComplete)
	assert.False(t, result.ReadyForPublishing, "final review not requested")

	result = f.service.CompleteBook(context.Background(), CompleteBookInput{BookID: bookID, FinalReview: true})
	require.True(t, result.Success, result.Error)
	assert.True(t, result.ReadyForPublishing)

	record, err := f.service.db.GetBookByID(bookID)
	require.NoError(t, err)
	assert.Equal(t, persistence.BookStatusCompleted, record.Status)
}

func TestCompleteBookCountsProps(t *testing.T) {
	f := newFixture(t)
	bookID := f.setupThroughEnvironmentsWithProps(t, "berry basket")

	result := f.service.CompleteBook(context.Background(), CompleteBookInput{BookID: bookID})
	require.True(t, result.Success, result.Error)
	assert.Equal(t, 1, result.AssetCounts["props"])
	assert.Equal(t, 1, result.AssetCounts["characters"])
}

func TestCompleteBookReportsMissingRequirements(t *testing.T) {
	f := newFixture(t)
	bookID := f.planFox(t)

	result := f.service.CompleteBook(context.Background(), CompleteBookInput{BookID: bookID, FinalReview: true})
	require.True(t, result.Success, result.Error)
	assert.False(t, result.IsComplete)
	assert.False(t, result.ReadyForPublishing)
	assert.Contains(t, result.MissingRequirements, "at least one chapter")
}

func TestEndToEndFoxTale(t *testing.T) {
	f := newFixture(t)

	bookID := f.planFox(t)

	draft := f.draftFox(t, bookID)
	require.NotEmpty(t, draft.Scenes)
	assert.NotEmpty(t, draft.Scenes[0].Environment)
	assert.Contains(t, draft.Scenes[0].Characters, "Ria")

	f.segmentFox(t, bookID)

	created := f.service.CreateCharacters(context.Background(), CreateCharactersInput{
		BookID:     bookID,
		Characters: []CharacterInput{{Name: "Ria", Description: "A clever 7-year-old fox", Generate: true}},
	})
	require.True(t, created.Success, created.Error)
	require.NotEmpty(t, created.Results[0].PortraitURL)
	assert.False(t, created.Results[0].ExistingPortrait)

	envs := f.service.CreateEnvironments(context.Background(), CreateEnvironmentsInput{
		BookID:       bookID,
		Environments: []EnvironmentInput{{Location: "berry clearing", TimeOfDay: "morning", Generate: true}},
	})
	require.True(t, envs.Success, envs.Error)

	manifest := f.service.SceneManifest(context.Background(), SceneManifestInput{
		BookID:         bookID,
		SceneID:        "ch1_scene1",
		EnvironmentKey: "berry_clearing_morning",
		Characters:     []string{"Ria"},
	})
	require.True(t, manifest.Success, manifest.Error)
	require.True(t, manifest.CanProceedToRender)

	render := f.service.RenderScene(context.Background(), RenderSceneInput{
		BookID:         bookID,
		SceneID:        "ch1_scene1",
		EnvironmentKey: "berry_clearing_morning",
		Characters:     []string{"Ria"},
		Description:    "Ria steps into the berry clearing at dawn",
	})
	require.True(t, render.Success, render.Error)
	require.NotEmpty(t, render.ImageURL)
	assert.GreaterOrEqual(t, render.SeedCount, 2, "environment plate plus Ria's portrait")

	w, err := f.service.Workflow(bookID)
	require.NoError(t, err)
	assert.True(t, w.IsComplete())

	done := f.service.CompleteBook(context.Background(), CompleteBookInput{BookID: bookID, FinalReview: true})
	require.True(t, done.Success, done.Error)
	assert.True(t, done.ReadyForPublishing)
	assert.True(t, done.WorkflowComplete)
}

// Helpers driving the picture book pipeline up to a given step.

func (f *fixture) segmentFox(t *testing.T, bookID string) {
	t.Helper()
	result := f.service.SegmentScenes(context.Background(), SegmentScenesInput{
		BookID:        bookID,
		ChapterNumber: 1,
		Scenes: []SceneInput{
			{Synopsis: "Ria finds the clearing", Environment: "berry clearing", TimeOfDay: "morning", Characters: []string{"Ria"}},
			{Synopsis: "Ria shares the berries", Environment: "berry clearing", TimeOfDay: "morning", Characters: []string{"Ria"}},
		},
	})
	require.True(t, result.Success, "segment failed: %s", result.Error)
}

func (f *fixture) setupThroughCharacters(t *testing.T) string {
	t.Helper()
	bookID := f.planFox(t)
	f.draftFox(t, bookID)
	f.segmentFox(t, bookID)

	result := f.service.CreateCharacters(context.Background(), CreateCharactersInput{
		BookID:     bookID,
		Characters: []CharacterInput{{Name: "Ria", Description: "A clever 7-year-old fox", Generate: true}},
	})
	require.True(t, result.Success, "characters failed: %s", result.Error)
	return bookID
}

func (f *fixture) setupThroughEnvironments(t *testing.T) string {
	t.Helper()
	bookID := f.setupThroughCharacters(t)

	result := f.service.CreateEnvironments(context.Background(), CreateEnvironmentsInput{
		BookID:       bookID,
		Environments: []EnvironmentInput{{Location: "berry clearing", TimeOfDay: "morning", Generate: true}},
	})
	require.True(t, result.Success, "environments failed: %s", result.Error)
	return bookID
}

func (f *fixture) setupThroughEnvironmentsWithProps(t *testing.T, props ...string) string {
	t.Helper()
	bookID := f.planFox(t)
	f.draftFox(t, bookID)
	f.segmentFox(t, bookID)

	characters := f.service.CreateCharacters(context.Background(), CreateCharactersInput{
		BookID: bookID,
		Characters: []CharacterInput{
			{Name: "Ria", Description: "A clever 7-year-old fox", Props: props, Generate: true},
		},
	})
	require.True(t, characters.Success, "characters failed: %s", characters.Error)
	require.Equal(t, len(props), characters.Results[0].PropCount)

	environments := f.service.CreateEnvironments(context.Background(), CreateEnvironmentsInput{
		BookID:       bookID,
		Environments: []EnvironmentInput{{Location: "berry clearing", TimeOfDay: "morning", Generate: true}},
	})
	require.True(t, environments.Success, "environments failed: %s", environments.Error)
	return bookID
}

func (f *fixture) manifestFox(t *testing.T, bookID string, moreScenes bool) {
	t.Helper()
	result := f.service.SceneManifest(context.Background(), SceneManifestInput{
		BookID:         bookID,
		SceneID:        "ch1_scene1",
		EnvironmentKey: "berry_clearing_morning",
		Characters:     []string{"Ria"},
		MoreScenes:     moreScenes,
	})
	require.True(t, result.Success, "manifest failed: %s", result.Error)
	require.True(t, result.CanProceedToRender)
	if !moreScenes {
		return
	}
	// Close the manifest step so rendering can begin.
	done := f.service.SceneManifest(context.Background(), SceneManifestInput{
		BookID:         bookID,
		SceneID:        "ch1_scene2",
		EnvironmentKey: "berry_clearing_morning",
		Characters:     []string{"Ria"},
	})
	require.True(t, done.Success, "manifest close failed: %s", done.Error)
}

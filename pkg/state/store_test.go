package state

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Papr-ai/papr-open-piksa-sub001/pkg/proto"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := NewStore(t.TempDir())
	require.NoError(t, err)
	return store
}

func TestSaveAndLoadSnapshot(t *testing.T) {
	store := newTestStore(t)

	snapshot := &Snapshot{
		BookID:      "book_abc",
		CurrentStep: proto.StepDraftChapter,
		Steps: map[proto.StepID]proto.StepStatus{
			proto.StepPlan:         proto.StepApproved,
			proto.StepDraftChapter: proto.StepInProgress,
		},
		Data: map[string]any{"plan": "a story about a fox"},
	}
	require.NoError(t, store.Save(snapshot))
	assert.False(t, snapshot.SavedAt.IsZero())

	loaded, err := store.Load("book_abc")
	require.NoError(t, err)
	require.NotNil(t, loaded)
	assert.Equal(t, proto.StepDraftChapter, loaded.CurrentStep)
	assert.Equal(t, proto.StepApproved, loaded.Steps[proto.StepPlan])
	assert.Equal(t, "a story about a fox", loaded.Data["plan"])
}

func TestLoadMissingSnapshot(t *testing.T) {
	store := newTestStore(t)

	loaded, err := store.Load("book_missing")
	require.NoError(t, err)
	assert.Nil(t, loaded)
}

func TestSaveOverwrites(t *testing.T) {
	store := newTestStore(t)

	first := &Snapshot{BookID: "book_x", CurrentStep: proto.StepPlan}
	require.NoError(t, store.Save(first))

	second := &Snapshot{BookID: "book_x", CurrentStep: proto.StepSegmentScenes}
	require.NoError(t, store.Save(second))

	loaded, err := store.Load("book_x")
	require.NoError(t, err)
	assert.Equal(t, proto.StepSegmentScenes, loaded.CurrentStep)
}

func TestDeleteSnapshot(t *testing.T) {
	store := newTestStore(t)

	require.NoError(t, store.Save(&Snapshot{BookID: "book_y", CurrentStep: proto.StepPlan}))
	require.NoError(t, store.Delete("book_y"))
	require.NoError(t, store.Delete("book_y"), "deleting twice is fine")

	loaded, err := store.Load("book_y")
	require.NoError(t, err)
	assert.Nil(t, loaded)
}

func TestListBooks(t *testing.T) {
	store := newTestStore(t)

	require.NoError(t, store.Save(&Snapshot{BookID: "book_1", CurrentStep: proto.StepPlan}))
	require.NoError(t, store.Save(&Snapshot{BookID: "book_2", CurrentStep: proto.StepPlan}))

	books, err := store.ListBooks()
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"book_1", "book_2"}, books)
}

func TestSaveEmptyBookID(t *testing.T) {
	store := newTestStore(t)
	assert.Error(t, store.Save(&Snapshot{}))
}

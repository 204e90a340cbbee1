package proto

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStepOrdering(t *testing.T) {
	steps := AllSteps()
	require.Len(t, steps, StepCount)
	assert.Equal(t, StepPlan, steps[0])
	assert.Equal(t, StepRenderScene, steps[len(steps)-1])

	for i := 1; i < len(steps); i++ {
		assert.Greater(t, int(steps[i]), int(steps[i-1]))
	}
}

func TestPictureBookOnlySteps(t *testing.T) {
	assert.False(t, StepPlan.PictureBookOnly())
	assert.False(t, StepDraftChapter.PictureBookOnly())

	for _, s := range []StepID{StepSegmentScenes, StepCreateCharacters, StepCreateEnvironments, StepSceneManifest, StepRenderScene} {
		assert.True(t, s.PictureBookOnly(), "step %s should be picture-book only", s)
	}
}

func TestStepStatusTerminal(t *testing.T) {
	assert.True(t, StepApproved.Terminal())
	assert.True(t, StepSkipped.Terminal())
	assert.False(t, StepPending.Terminal())
	assert.False(t, StepInProgress.Terminal())
	assert.False(t, StepPendingApproval.Terminal())
	assert.False(t, StepRejected.Terminal())
}

func TestParseStepStatus(t *testing.T) {
	status, err := ParseStepStatus("pending_approval")
	require.NoError(t, err)
	assert.Equal(t, StepPendingApproval, status)

	_, err = ParseStepStatus("done")
	assert.Error(t, err)
}

func TestParseApprovalType(t *testing.T) {
	at, err := ParseApprovalType("  Plan ")
	require.NoError(t, err)
	assert.Equal(t, ApprovalTypePlan, at)

	_, err = ParseApprovalType("outline")
	assert.Error(t, err)
}

func TestStreamEventRoundTrip(t *testing.T) {
	event := NewStreamEvent(EventProgress, ProgressPayload{
		Step:   StepDraftChapter,
		Status: StepInProgress,
	})
	require.NotEmpty(t, event.ID)

	data, err := event.ToJSON()
	require.NoError(t, err)

	decoded, err := StreamEventFromJSON(data)
	require.NoError(t, err)
	assert.Equal(t, event.ID, decoded.ID)
	assert.Equal(t, EventProgress, decoded.Type)

	payload, ok := decoded.DataMap()
	require.True(t, ok)
	assert.Equal(t, float64(StepDraftChapter), payload["step"])
}

func TestIDGeneration(t *testing.T) {
	a := GenerateApprovalID()
	b := GenerateApprovalID()
	assert.NotEqual(t, a, b)

	bookID := GenerateBookID()
	assert.True(t, IsBookID(bookID))
	assert.False(t, IsBookID("novel-123"))

	assert.Equal(t, "ch2_scene5", GenerateSceneID(2, 5))
}

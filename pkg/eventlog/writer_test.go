package eventlog

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Papr-ai/papr-open-piksa-sub001/pkg/proto"
)

func TestWriteAndReadEvents(t *testing.T) {
	dir := t.TempDir()
	writer, err := NewWriter(dir)
	require.NoError(t, err)
	defer func() { _ = writer.Close() }()

	first := proto.NewStreamEvent(proto.EventBookID, "book_1")
	second := proto.NewStreamEvent(proto.EventProgress, proto.ProgressPayload{
		Step:    proto.StepPlan,
		Status:  proto.StepInProgress,
		Message: "planning Fox Tale",
	})

	require.NoError(t, writer.WriteEvent(&first))
	require.NoError(t, writer.WriteEvent(&second))

	path := writer.CurrentLogFile()
	require.NotEmpty(t, path)

	events, err := ReadEvents(path)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, proto.EventBookID, events[0].Type)
	assert.Equal(t, "book_1", events[0].DataString())
	assert.Equal(t, proto.EventProgress, events[1].Type)

	payload, ok := events[1].DataMap()
	require.True(t, ok)
	assert.Equal(t, float64(proto.StepPlan), payload["step"])
}

func TestListLogFiles(t *testing.T) {
	dir := t.TempDir()
	writer, err := NewWriter(dir)
	require.NoError(t, err)
	event := proto.NewStreamEvent(proto.EventFinish, nil)
	require.NoError(t, writer.WriteEvent(&event))
	require.NoError(t, writer.Close())

	files, err := ListLogFiles(dir)
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.Contains(t, files[0], "events-")
}

func TestReadEventsMissingFile(t *testing.T) {
	_, err := ReadEvents("/nonexistent/events.jsonl")
	require.Error(t, err)
}

func TestWriteAfterClose(t *testing.T) {
	dir := t.TempDir()
	writer, err := NewWriter(dir)
	require.NoError(t, err)
	require.NoError(t, writer.Close())

	// Writing after close reopens the current day's file.
	event := proto.NewStreamEvent(proto.EventFinish, nil)
	require.NoError(t, writer.WriteEvent(&event))
	require.NoError(t, writer.Close())
}

package store

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"yuzu/voicegw/internal/collab"
)

func TestModes(t *testing.T) {
	st := NewMemory()
	temp := 0.4
	st.PutMode(collab.Mode{ID: "tutor", Instructions: "teach", Temperature: &temp})

	m, err := st.ResolveMode(context.Background(), "tutor")
	require.NoError(t, err)
	assert.Equal(t, "teach", m.Instructions)

	_, err = st.ResolveMode(context.Background(), "nope")
	assert.ErrorIs(t, err, collab.ErrModeNotFound)
}

func TestSettings(t *testing.T) {
	st := NewMemory()
	got, err := st.Settings(context.Background())
	require.NoError(t, err)
	assert.Equal(t, collab.Settings{}, got)

	st.PutSettings(collab.Settings{Model: "gpt-4o-realtime-preview", MaxTokens: 1200})
	got, _ = st.Settings(context.Background())
	assert.Equal(t, 1200, got.MaxTokens)
}

func TestSaveMessage(t *testing.T) {
	st := NewMemory()
	ctx := context.Background()
	require.NoError(t, st.SaveMessage(ctx, collab.Message{OwnerID: "u1", Text: "hi"}))
	require.NoError(t, st.SaveMessage(ctx, collab.Message{OwnerID: "u2", Text: "other"}))
	require.NoError(t, st.SaveMessage(ctx, collab.Message{OwnerID: "u1", Text: "[AI Audio Response]", IsAI: true}))

	msgs := st.Messages("u1")
	require.Len(t, msgs, 2)
	assert.Equal(t, "hi", msgs[0].Content)
	assert.False(t, msgs[0].IsAI)
	assert.True(t, msgs[1].IsAI)
	assert.NotEmpty(t, msgs[1].ID)

	assert.ErrorIs(t, st.SaveMessage(ctx, collab.Message{Text: "orphan"}), collab.ErrPersistence)
}

func TestJournalAppendAndList(t *testing.T) {
	st := NewMemory()
	st.AppendEvent("c1", "session_started", map[string]any{"voice": "alloy"})
	st.AppendEvent("c1", "stop", nil)

	evs := st.ListEvents("c1")
	require.Len(t, evs, 2)
	assert.Equal(t, "session_started", evs[0].Type)
	assert.True(t, st.HasJournal("c1"))
	assert.False(t, st.HasJournal("c2"))

	// the returned slice is a copy
	evs[0].Type = "mutated"
	assert.Equal(t, "session_started", st.ListEvents("c1")[0].Type)
}

func TestJournalCap(t *testing.T) {
	st := NewMemory()
	for i := 0; i < maxEvents+50; i++ {
		st.AppendEvent("c1", fmt.Sprintf("e%d", i), nil)
	}
	evs := st.ListEvents("c1")
	require.Len(t, evs, maxEvents)
	last := evs[len(evs)-1]
	assert.Equal(t, "events_truncated", last.Type)
	assert.Equal(t, 51, last.Payload["dropped"])
	assert.Equal(t, "e249", evs[len(evs)-2].Type)
	assert.Equal(t, "e51", evs[0].Type)
	markers := 0
	for _, e := range evs {
		if e.Type == "events_truncated" {
			markers++
		}
	}
	assert.Equal(t, 1, markers)

	// further appends keep the total bounded
	st.AppendEvent("c1", "more", nil)
	assert.Len(t, st.ListEvents("c1"), maxEvents)
}

func TestJournalSessionBound(t *testing.T) {
	st := NewMemory()
	for i := 0; i < maxJournals+1; i++ {
		st.AppendEvent(fmt.Sprintf("c%d", i), "x", nil)
	}
	assert.False(t, st.HasJournal("c0"))
	assert.True(t, st.HasJournal(fmt.Sprintf("c%d", maxJournals)))
}

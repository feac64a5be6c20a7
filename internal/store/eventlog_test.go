package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/promptchain/pkg/schema"
)

func TestEventLog_Append(t *testing.T) {
	s := newTestStore(t)
	el := NewEventLog(s)
	ch := seedChain(t, s, "a")

	e, err := el.Append(context.Background(), ch.ID, "s1", schema.EventEditApplied, 1, map[string]any{"action": "shift_right"})
	require.NoError(t, err)
	assert.Equal(t, int64(1), e.Sequence)
	assert.JSONEq(t, `{"action":"shift_right"}`, string(e.Payload))

	e, err = el.Append(context.Background(), ch.ID, "", schema.EventChainArchived, 0, nil)
	require.NoError(t, err)
	assert.Nil(t, e.Payload)
}

func TestEventLog_Append_BadPayload(t *testing.T) {
	s := newTestStore(t)
	el := NewEventLog(s)
	ch := seedChain(t, s, "a")

	_, err := el.Append(context.Background(), ch.ID, "s1", schema.EventEditApplied, 1, map[string]any{"f": func() {}})
	assert.Error(t, err)
}

func TestEventLog_ReplaySessions(t *testing.T) {
	s := newTestStore(t)
	el := NewEventLog(s)
	ctx := context.Background()
	ch := seedChain(t, s, "a")

	steps := []struct {
		session string
		typ     string
		version int
	}{
		{"", schema.EventChainCreated, 1},
		{"s1", schema.EventSessionOpened, 1},
		{"s1", schema.EventEditApplied, 1},
		{"s1", schema.EventEditApplied, 1},
		{"s1", schema.EventEditUndone, 1},
		{"s1", schema.EventEditRedone, 1},
		{"s1", schema.EventVersionCommitted, 2},
		{"s2", schema.EventSessionOpened, 2},
		{"s1", schema.EventSessionClosed, 2},
	}
	for _, st := range steps {
		_, err := el.Append(ctx, ch.ID, st.session, st.typ, st.version, nil)
		require.NoError(t, err)
	}

	sessions, err := el.ReplaySessions(ctx, ch.ID)
	require.NoError(t, err)
	require.Len(t, sessions, 2)

	s1 := sessions["s1"]
	assert.Equal(t, 1, s1.BaseVersion)
	assert.Equal(t, 2, s1.Applied)
	assert.Equal(t, 1, s1.Undone)
	assert.Equal(t, 1, s1.Redone)
	assert.Equal(t, []int{2}, s1.Committed)
	assert.NotNil(t, s1.ClosedAt)

	s2 := sessions["s2"]
	assert.Equal(t, 2, s2.BaseVersion)
	assert.Nil(t, s2.ClosedAt)
}

func TestEventLog_ReplaySessions_Empty(t *testing.T) {
	s := newTestStore(t)
	sessions, err := NewEventLog(s).ReplaySessions(context.Background(), "missing")
	require.NoError(t, err)
	assert.Empty(t, sessions)
}

func TestEventLog_ReplaySessions_Gap(t *testing.T) {
	s := newTestStore(t)
	el := NewEventLog(s)
	ctx := context.Background()
	ch := seedChain(t, s, "a")

	for i := 0; i < 3; i++ {
		_, err := el.Append(ctx, ch.ID, "s1", schema.EventEditApplied, 1, nil)
		require.NoError(t, err)
	}
	_, err := s.DB().Exec(`DELETE FROM chain_events WHERE chain_id = ? AND sequence = 2`, ch.ID)
	require.NoError(t, err)

	_, err = el.ReplaySessions(ctx, ch.ID)
	require.Error(t, err)
	assert.True(t, schema.HasCode(err, schema.ErrCodeStore))
}

package history

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryPlayedCounts(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	require.NoError(t, m.RecordPlayed(ctx, "tetris", []string{"alice", "bob"}))
	require.NoError(t, m.RecordPlayed(ctx, "tetris", []string{"alice"}))
	require.NoError(t, m.RecordPlayed(ctx, "threeplayer_rps", []string{"alice"}))

	n, err := m.Played(ctx, "alice", "tetris")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	n, _ = m.Played(ctx, "bob", "tetris")
	assert.Equal(t, 1, n)

	n, _ = m.Played(ctx, "carol", "tetris")
	assert.Zero(t, n)
}

func TestMemoryResultsNewestFirst(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	base := time.Unix(1_700_000_000, 0)

	players := []string{"a", "b"}
	require.NoError(t, m.RecordResult(ctx, Result{RoomID: "r1", Game: "tetris", Reason: "timeup", Players: players, FinishedAt: base}))
	require.NoError(t, m.RecordResult(ctx, Result{RoomID: "r2", Game: "threeplayer_rps", Reason: "elimination", FinishedAt: base.Add(time.Second)}))
	require.NoError(t, m.RecordResult(ctx, Result{RoomID: "r3", Game: "tetris", Reason: "forfeit", FinishedAt: base.Add(2 * time.Second)}))
	players[0] = "mutated"

	all, err := m.Results(ctx, "", 0)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "r3", all[0].RoomID)
	assert.Equal(t, "r1", all[2].RoomID)
	assert.Equal(t, []string{"a", "b"}, all[2].Players)

	tetris, _ := m.Results(ctx, "tetris", 1)
	require.Len(t, tetris, 1)
	assert.Equal(t, "r3", tetris[0].RoomID)
}

var _ Store = (*Memory)(nil)
var _ Store = (*GormStore)(nil)

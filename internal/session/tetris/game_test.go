package tetris

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DoyleJ11/matchroom/internal/engine"
	"github.com/DoyleJ11/matchroom/internal/session"
	"github.com/DoyleJ11/matchroom/internal/types"
)

var t0 = time.Unix(1_700_000_000, 0)

func seats() []session.Seat {
	return []session.Seat{
		{Role: RoleP1, Identity: "alice", Name: "Alice", Connected: true},
		{Role: RoleP2, Identity: "bob", Name: "Bob", Connected: true},
	}
}

func TestDisconnectPastGraceForfeits(t *testing.T) {
	g := New(Config{Seed: 1, Duration: time.Minute})
	g.Start(t0)
	timers := session.NewForfeitTimers()
	timers.MarkDisconnected(RoleP1, t0)
	grace := 3 * time.Second

	early := t0.Add(2900 * time.Millisecond)
	end, _ := g.Forfeit(timers.Expired(g.Roles(), early, grace), timers.Disconnected(g.Roles()), early)
	require.False(t, end, "still inside grace")

	late := t0.Add(3100 * time.Millisecond)
	expired := timers.Expired(g.Roles(), late, grace)
	require.Equal(t, []string{RoleP1}, expired)
	end, _ = g.Forfeit(expired, timers.Disconnected(g.Roles()), late)
	require.True(t, end)

	out := g.Outcome(seats())
	require.NotNil(t, out.WinnerRole)
	assert.Equal(t, RoleP2, *out.WinnerRole)
	assert.Equal(t, ReasonForfeit, out.Reason)
	assert.Equal(t, "P1 disconnected", out.WinnerReason)
	assert.Equal(t, "bob", out.Results[1].Identity)
}

func TestReconnectClearsForfeit(t *testing.T) {
	timers := session.NewForfeitTimers()
	timers.MarkDisconnected(RoleP1, t0)
	timers.Clear(RoleP1)
	assert.Empty(t, timers.Expired([]string{RoleP1, RoleP2}, t0.Add(time.Hour), time.Second))
}

func TestBothDisconnectedEndsImmediately(t *testing.T) {
	g := New(Config{Seed: 1})
	g.Start(t0)
	end, _ := g.Forfeit(nil, []string{RoleP1, RoleP2}, t0.Add(time.Millisecond))
	require.True(t, end)
	out := g.Outcome(seats())
	assert.Nil(t, out.WinnerRole)
	assert.Equal(t, "draw (both disconnected with same score)", out.WinnerReason)
}

func TestGravityAndSpeedUpdates(t *testing.T) {
	g := New(Config{Seed: 3, Duration: 2 * time.Minute, Speed: engine.SpeedPlan{Mode: engine.SpeedProgressive}})
	g.Start(t0)
	before, ok := g.Board(RoleP1).Active()
	require.True(t, ok)

	assert.Empty(t, g.Advance(t0.Add(499*time.Millisecond)))
	now, _ := g.Board(RoleP1).Active()
	assert.Equal(t, before.Y, now.Y)

	g.Advance(t0.Add(500 * time.Millisecond))
	now, _ = g.Board(RoleP1).Active()
	assert.Equal(t, before.Y+1, now.Y)

	outs := g.Advance(t0.Add(30 * time.Second))
	require.Len(t, outs, 1)
	assert.Equal(t, "", outs[0].To)
	assert.Equal(t, types.SpeedUpdate{NewIntervalMs: 450, Reason: "Time 30s", At: t0.Add(30 * time.Second).UnixMilli()}, outs[0].Msg)
}

func TestFinishedOnTimeUp(t *testing.T) {
	g := New(Config{Seed: 3, Duration: 10 * time.Second})
	g.Start(t0)
	assert.False(t, g.Finished(t0.Add(9*time.Second)))
	assert.True(t, g.Finished(t0.Add(10*time.Second)))
	out := g.Outcome(seats())
	assert.Equal(t, ReasonTimeUp, out.Reason)
	assert.Nil(t, out.WinnerRole)
}

func TestFinishedOnTopOut(t *testing.T) {
	g := New(Config{Seed: 5, Duration: time.Hour})
	g.Start(t0)
	for i := 0; i < 200 && !g.Finished(t0); i++ {
		g.Apply(RoleP2, types.Input{Seq: int64(i + 1), Action: engine.ActionHard}, t0)
	}
	require.True(t, g.Board(RoleP2).ToppedOut)
	out := g.Outcome(seats())
	require.NotNil(t, out.WinnerRole)
	assert.Equal(t, RoleP1, *out.WinnerRole)
	assert.Equal(t, "opponent top out", out.WinnerReason)
}

func TestSameSeedSameSequence(t *testing.T) {
	g := New(Config{Seed: 42})
	assert.Equal(t, g.Board(RoleP1).Next(6), g.Board(RoleP2).Next(6))
}

func TestWelcomeAndSnapshot(t *testing.T) {
	g := New(Config{Seed: 9, Duration: 90 * time.Second})
	w := g.Welcome(RoleP2, false)
	assert.Equal(t, BagRule, w.BagRule)
	assert.Equal(t, types.Rules{Mode: "timer", DurationSec: 90}, w.RulesSummary)
	require.NotNil(t, w.SpeedPlan)
	assert.Equal(t, 500, w.SpeedPlan.InitialDropMs)

	g.Start(t0)
	snap := g.Snapshot(t0.Add(time.Second), seats())
	assert.Equal(t, int64(89_000), snap.RemainingMs)
	assert.Equal(t, int64(500), snap.CurrentDropMs)
	require.Len(t, snap.Players, 2)
	assert.Equal(t, "Bob", snap.Players[1].Name)
	assert.Len(t, snap.Players[0].Board, engine.Height)
	assert.Len(t, snap.Players[0].Next, 3)
	assert.Equal(t, 1, snap.Players[0].Level)
}

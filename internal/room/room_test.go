package room

import (
	"fmt"
	"math/rand/v2"
	"slices"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var now = time.Unix(1_700_000_000, 0)

func mustApply(t *testing.T, r Room, cmd Command) ([]Event, Room) {
	t.Helper()
	cmd.At = now
	evs, next, err := Apply(r, cmd)
	require.NoError(t, err, "command %s by %q", cmd.Type, cmd.Identity)
	return evs, next
}

func fullRoom(t *testing.T, capacity int) Room {
	t.Helper()
	r := New("r1", "owner", "rps3", "1.0.1", capacity)
	for i := 1; i < capacity; i++ {
		_, r = mustApply(t, r, Command{Type: CmdJoin, Identity: fmt.Sprintf("guest%d", i)})
	}
	return r
}

func TestJoinCapacityAndIdempotence(t *testing.T) {
	r := New("r1", "alice", "tetris", "1.0.1", 2)

	evs, r := mustApply(t, r, Command{Type: CmdJoin, Identity: "bob"})
	assert.True(t, ContainsEvent(evs, EvtJoined))
	assert.Equal(t, []string{"alice", "bob"}, r.Players)

	evs, again := mustApply(t, r, Command{Type: CmdJoin, Identity: "bob"})
	assert.Empty(t, evs, "rejoin is a no-op")
	assert.Equal(t, r.Players, again.Players)

	_, _, err := Apply(r, Command{Type: CmdJoin, Identity: "carol"})
	assert.ErrorIs(t, err, ErrRoomFull)
}

func TestJoinClosedRoom(t *testing.T) {
	r := fullRoom(t, 2)
	_, r = mustApply(t, r, Command{Type: CmdForceClose})
	require.Equal(t, StatusClosed, r.Status)

	_, _, err := Apply(r, Command{Type: CmdJoin, Identity: "late"})
	assert.ErrorIs(t, err, ErrAlreadyClosed)
}

func TestOwnerLeaveTransfersOwnership(t *testing.T) {
	r := fullRoom(t, 3)
	_, r = mustApply(t, r, Command{Type: CmdPropose, Identity: "owner"})
	require.Equal(t, StartProposed, r.Start.State)

	evs, r := mustApply(t, r, Command{Type: CmdLeave, Identity: "owner"})
	assert.True(t, ContainsEvent(evs, EvtOwnerChanged))
	assert.Equal(t, "guest1", r.Owner)
	assert.Equal(t, StartIdle, r.Start.State)
}

func TestLastLeaveDestroys(t *testing.T) {
	r := New("r1", "solo", "tetris", "1.0.1", 2)
	evs, r := mustApply(t, r, Command{Type: CmdLeave, Identity: "solo"})
	assert.True(t, ContainsEvent(evs, EvtDestroyed))
	assert.Empty(t, r.Players)
	assert.Equal(t, StatusClosed, r.Status)
}

func TestLeaveNonMemberIsNoop(t *testing.T) {
	r := fullRoom(t, 2)
	evs, next := mustApply(t, r, Command{Type: CmdLeave, Identity: "stranger"})
	assert.Empty(t, evs)
	assert.Equal(t, r, next)
}

func TestLeaveDuringMatchAbandons(t *testing.T) {
	r := startedRoom(t)
	evs, r := mustApply(t, r, Command{Type: CmdLeave, Identity: "guest1"})
	assert.True(t, ContainsEvent(evs, EvtAbandoned))
	assert.Equal(t, StatusWaiting, r.Status)
	assert.Equal(t, StartIdle, r.Start.State)
	assert.Zero(t, r.Port)
}

func TestReadyStatus(t *testing.T) {
	r := fullRoom(t, 2)
	_, r = mustApply(t, r, Command{Type: CmdReady, Identity: "owner"})
	assert.Equal(t, StatusWaiting, r.Status)
	_, r = mustApply(t, r, Command{Type: CmdReady, Identity: "guest1"})
	assert.Equal(t, StatusReady, r.Status)
	_, r = mustApply(t, r, Command{Type: CmdUnready, Identity: "owner"})
	assert.Equal(t, StatusWaiting, r.Status)
	assert.Equal(t, []string{"guest1"}, r.ReadyPlayers)

	_, _, err := Apply(r, Command{Type: CmdReady, Identity: "stranger"})
	assert.ErrorIs(t, err, ErrNotMember)
}

func TestProposeByNonOwnerLeavesNegotiationUnchanged(t *testing.T) {
	r := fullRoom(t, 2)
	_, got, err := Apply(r, Command{Type: CmdPropose, Identity: "guest1", At: now})
	assert.ErrorIs(t, err, ErrNotOwner)
	assert.Equal(t, StartIdle, got.Start.State)
	assert.Equal(t, r, got)
}

func TestProposeNeedsFullRoom(t *testing.T) {
	r := New("r1", "owner", "rps3", "1.0.1", 3)
	_, r = mustApply(t, r, Command{Type: CmdJoin, Identity: "guest1"})
	_, _, err := Apply(r, Command{Type: CmdPropose, Identity: "owner"})
	assert.ErrorIs(t, err, ErrInsufficientPlayers)
}

func TestRespondErrors(t *testing.T) {
	r := fullRoom(t, 2)
	_, _, err := Apply(r, Command{Type: CmdRespond, Identity: "guest1", Accept: true})
	assert.ErrorIs(t, err, ErrNoActiveProposal)

	_, r = mustApply(t, r, Command{Type: CmdPropose, Identity: "owner"})
	_, _, err = Apply(r, Command{Type: CmdRespond, Identity: "owner", Accept: true})
	assert.ErrorIs(t, err, ErrOwnerCannotRespond)
}

func TestAgreementNeedsEveryGuest(t *testing.T) {
	r := fullRoom(t, 3)
	_, r = mustApply(t, r, Command{Type: CmdPropose, Identity: "owner"})

	evs, r := mustApply(t, r, Command{Type: CmdRespond, Identity: "guest1", Accept: true})
	assert.False(t, ContainsEvent(evs, EvtAgreed))
	assert.Equal(t, StartProposed, r.Start.State)

	evs, r = mustApply(t, r, Command{Type: CmdRespond, Identity: "guest2", Accept: true})
	assert.True(t, ContainsEvent(evs, EvtAgreed))
	assert.Equal(t, StartAgreed, r.Start.State)
	assert.NotEqual(t, StatusInGame, r.Status, "in_game only once the session is reachable")
}

func TestSingleRejectionEndsProposal(t *testing.T) {
	r := fullRoom(t, 3)
	_, r = mustApply(t, r, Command{Type: CmdPropose, Identity: "owner"})
	_, r = mustApply(t, r, Command{Type: CmdRespond, Identity: "guest1", Accept: true})

	evs, r := mustApply(t, r, Command{Type: CmdRespond, Identity: "guest2", Accept: false})
	assert.True(t, ContainsEvent(evs, EvtRejected))
	assert.Equal(t, StartRejected, r.Start.State)
	assert.Equal(t, "guest2", r.Start.RejectedBy)

	_, _, err := Apply(r, Command{Type: CmdRespond, Identity: "guest1", Accept: true})
	assert.ErrorIs(t, err, ErrNoActiveProposal)
}

func TestMembershipChangeResetsNegotiation(t *testing.T) {
	r := New("r1", "owner", "tetris", "1.0.1", 2)
	_, r = mustApply(t, r, Command{Type: CmdJoin, Identity: "guest1"})
	_, r = mustApply(t, r, Command{Type: CmdPropose, Identity: "owner"})
	_, r = mustApply(t, r, Command{Type: CmdLeave, Identity: "guest1"})
	assert.Equal(t, StartIdle, r.Start.State)
	_, r = mustApply(t, r, Command{Type: CmdJoin, Identity: "guest2"})
	assert.Equal(t, StartIdle, r.Start.State)
}

func startedRoom(t *testing.T) Room {
	t.Helper()
	r := fullRoom(t, 2)
	_, r = mustApply(t, r, Command{Type: CmdReady, Identity: "owner"})
	_, r = mustApply(t, r, Command{Type: CmdPropose, Identity: "owner"})
	_, r = mustApply(t, r, Command{Type: CmdRespond, Identity: "guest1", Accept: true})
	_, r = mustApply(t, r, Command{Type: CmdLaunched, Host: "127.0.0.1", Port: 40000})
	return r
}

func TestLaunchAndFinish(t *testing.T) {
	r := startedRoom(t)
	assert.Equal(t, StatusInGame, r.Status)
	assert.Empty(t, r.ReadyPlayers)
	assert.Equal(t, 40000, r.Port)

	evs, reset := mustApply(t, r, Command{Type: CmdFinished})
	assert.True(t, ContainsEvent(evs, EvtReset))
	assert.Equal(t, StatusWaiting, reset.Status)
	assert.Equal(t, StartIdle, reset.Start.State)
	assert.Equal(t, r.Players, reset.Players)

	evs, closed := mustApply(t, r, Command{Type: CmdFinished, KickAll: true})
	assert.True(t, ContainsEvent(evs, EvtClosed))
	assert.Equal(t, StatusClosed, closed.Status)
	assert.Empty(t, closed.Players)
}

func TestFinishedOutsideMatchIsRejected(t *testing.T) {
	r := fullRoom(t, 2)
	_, r = mustApply(t, r, Command{Type: CmdPropose, Identity: "owner"})

	for _, kickAll := range []bool{false, true} {
		evs, got, err := Apply(r, Command{Type: CmdFinished, KickAll: kickAll})
		assert.ErrorIs(t, err, ErrNotInGame)
		assert.Empty(t, evs)
		assert.Equal(t, StatusWaiting, got.Status)
		assert.Equal(t, StartProposed, got.Start.State)
		assert.Equal(t, []string{"owner", "guest1"}, got.Players)
	}

	// a second notification for the same match finds the room reset
	_, reset := mustApply(t, startedRoom(t), Command{Type: CmdFinished})
	_, _, err := Apply(reset, Command{Type: CmdFinished, KickAll: true})
	assert.ErrorIs(t, err, ErrNotInGame)
}

func TestLaunchFailureRollsBack(t *testing.T) {
	r := fullRoom(t, 2)
	_, r = mustApply(t, r, Command{Type: CmdPropose, Identity: "owner"})
	_, r = mustApply(t, r, Command{Type: CmdRespond, Identity: "guest1", Accept: true})
	_, r = mustApply(t, r, Command{Type: CmdLaunchFailed})
	assert.Equal(t, StatusWaiting, r.Status)
	assert.Equal(t, StartIdle, r.Start.State)
	assert.Zero(t, r.Port)
}

func TestApplyDoesNotMutateInput(t *testing.T) {
	r := fullRoom(t, 3)
	_, r = mustApply(t, r, Command{Type: CmdPropose, Identity: "owner"})
	before := r.Clone()
	mustApply(t, r, Command{Type: CmdRespond, Identity: "guest1", Accept: true})
	mustApply(t, r, Command{Type: CmdLeave, Identity: "guest2"})
	assert.Equal(t, before, r)
}

// Random join/leave/negotiation sequences never break membership invariants.
func TestRandomSequencesKeepInvariants(t *testing.T) {
	identities := []string{"a", "b", "c", "d", "e"}
	kinds := []CommandType{CmdJoin, CmdJoin, CmdLeave, CmdReady, CmdUnready, CmdPropose, CmdRespond}
	rng := rand.New(rand.NewPCG(1, 2))

	for run := 0; run < 200; run++ {
		capacity := 2 + rng.IntN(3)
		r := New("r", "a", "g", "1.0.0", capacity)
		for step := 0; step < 60; step++ {
			cmd := Command{
				Type:     kinds[rng.IntN(len(kinds))],
				Identity: identities[rng.IntN(len(identities))],
				Accept:   rng.IntN(4) != 0,
				At:       now,
			}
			prev := r
			_, next, err := Apply(r, cmd)
			if err != nil {
				require.Equal(t, prev, next, "failed command must not change the room")
				continue
			}
			r = next
			if r.Status == StatusClosed {
				break
			}

			require.LessOrEqual(t, len(r.Players), r.MaxPlayers)
			require.Contains(t, r.Players, r.Owner)
			require.Len(t, slices.Compact(slices.Sorted(slices.Values(r.Players))), len(r.Players), "duplicate member")
			for _, p := range r.ReadyPlayers {
				require.Contains(t, r.Players, p)
			}
			if r.Start.State == StartAgreed && prev.Start.State == StartProposed {
				for _, g := range prev.Guests() {
					require.True(t, prev.Start.Responses[g] || g == cmd.Identity, "agreed without %s accepting", g)
				}
			}
			if cmd.Type == CmdJoin || cmd.Type == CmdLeave {
				if len(prev.Players) != len(r.Players) {
					require.Equal(t, StartIdle, r.Start.State)
				}
			}
		}
	}
}

package hub

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/DoyleJ11/matchroom/internal/catalog"
	"github.com/DoyleJ11/matchroom/internal/history"
	"github.com/DoyleJ11/matchroom/internal/lobby"
	"github.com/DoyleJ11/matchroom/internal/room"
	"github.com/DoyleJ11/matchroom/internal/types"
)

type stubLauncher struct{}

func (stubLauncher) Launch(context.Context, room.Room) (lobby.Match, error) {
	return lobby.Match{Host: "127.0.0.1", Port: 40100, Stop: func() {}}, nil
}

func newTestHub(t *testing.T) (*Hub, *history.Memory) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	mem := history.NewMemory()
	h := NewHub(ctx, Config{
		Catalog: catalog.Default(),
		History: mem,
		Lobby:   lobby.Config{Launcher: stubLauncher{}},
	})
	return h, mem
}

func mustDo(t *testing.T, h *Hub, id string, cmd room.Command) lobby.Result {
	t.Helper()
	res, err := h.Do(context.Background(), id, cmd)
	if err != nil {
		t.Fatalf("Do(%s): %v", cmd.Type, err)
	}
	if res.Err != nil {
		t.Fatalf("Do(%s): room error %v", cmd.Type, res.Err)
	}
	return res
}

// eventually polls cond so tests never depend on actor scheduling.
func eventually(t *testing.T, within time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(within)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("condition not met within %v", within)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestHub_Create_Get_SamePointer(t *testing.T) {
	h, _ := newTestHub(t)
	ctx := context.Background()

	r, err := h.Create(ctx, "alice", "tetris", "")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(r.ID, "tetris-") || r.MaxPlayers != 2 || r.Version != "1.0.1" {
		t.Fatalf("unexpected room %+v", r)
	}

	lb1, err := h.Lobby(ctx, r.ID)
	if err != nil {
		t.Fatal(err)
	}
	lb2, _ := h.Lobby(ctx, r.ID)
	if lb1 == nil || lb1 != lb2 {
		t.Fatalf("expected same lobby pointer")
	}
}

func TestHub_CreateValidatesAgainstCatalog(t *testing.T) {
	h, _ := newTestHub(t)
	ctx := context.Background()

	tests := []struct {
		name    string
		owner   string
		game    string
		version string
		want    error
	}{
		{"unknown game", "alice", "chess", "", catalog.ErrUnknownGame},
		{"old version", "alice", "tetris", "1.0.0", catalog.ErrVersionMismatch},
		{"no owner", " ", "tetris", "", ErrBadIdentity},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := h.Create(ctx, tc.owner, tc.game, tc.version)
			if !errors.Is(err, tc.want) {
				t.Fatalf("want %v, got %v", tc.want, err)
			}
		})
	}

	// "v1.0.1" normalizes to the latest version
	if _, err := h.Create(ctx, "alice", "tetris", "v1.0.1"); err != nil {
		t.Fatalf("normalized version rejected: %v", err)
	}
}

func TestHub_UnknownRoom(t *testing.T) {
	h, _ := newTestHub(t)
	_, err := h.Do(context.Background(), "tetris-nope", room.Command{Type: room.CmdJoin, Identity: "bob"})
	if !errors.Is(err, ErrRoomNotFound) {
		t.Fatalf("want ErrRoomNotFound, got %v", err)
	}
}

func TestHub_ListSorted(t *testing.T) {
	h, _ := newTestHub(t)
	ctx := context.Background()
	for _, owner := range []string{"a", "b", "c"} {
		if _, err := h.Create(ctx, owner, "threeplayer_rps", ""); err != nil {
			t.Fatal(err)
		}
	}
	rooms, err := h.List(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(rooms) != 3 {
		t.Fatalf("want 3 rooms, got %d", len(rooms))
	}
	for i := 1; i < len(rooms); i++ {
		if rooms[i-1].ID > rooms[i].ID {
			t.Fatalf("rooms not sorted: %s > %s", rooms[i-1].ID, rooms[i].ID)
		}
	}
}

func TestHub_MatchLifecycleWithKickAll(t *testing.T) {
	h, mem := newTestHub(t)
	ctx := context.Background()

	r, err := h.Create(ctx, "alice", "tetris", "")
	if err != nil {
		t.Fatal(err)
	}
	mustDo(t, h, r.ID, room.Command{Type: room.CmdJoin, Identity: "bob"})
	mustDo(t, h, r.ID, room.Command{Type: room.CmdPropose, Identity: "alice"})
	res := mustDo(t, h, r.ID, room.Command{Type: room.CmdRespond, Identity: "bob", Accept: true})
	if res.Room.Status != room.StatusInGame || res.Room.Port != 40100 {
		t.Fatalf("room not launched: %+v", res.Room)
	}

	eventually(t, time.Second, func() bool {
		n, _ := mem.Played(ctx, "bob", "tetris")
		return n == 1
	})

	winner, winnerID := "P2", "bob"
	err = h.Finished(ctx, types.GameFinished{
		RoomID:         r.ID,
		KickAll:        true,
		Reason:         "forfeit",
		WinnerRole:     &winner,
		WinnerIdentity: &winnerID,
		Players:        []string{"alice", "bob"},
	})
	if err != nil {
		t.Fatalf("Finished: %v", err)
	}

	eventually(t, time.Second, func() bool {
		_, err := h.Room(ctx, r.ID)
		return errors.Is(err, ErrRoomNotFound)
	})

	results, _ := mem.Results(ctx, "tetris", 0)
	if len(results) != 1 || results[0].WinnerIdentity != "bob" || results[0].Reason != "forfeit" {
		t.Fatalf("history results = %+v", results)
	}
}

func TestHub_FinishedWithoutKickAllKeepsRoom(t *testing.T) {
	h, _ := newTestHub(t)
	ctx := context.Background()

	r, _ := h.Create(ctx, "alice", "tetris", "")
	mustDo(t, h, r.ID, room.Command{Type: room.CmdJoin, Identity: "bob"})
	mustDo(t, h, r.ID, room.Command{Type: room.CmdPropose, Identity: "alice"})
	mustDo(t, h, r.ID, room.Command{Type: room.CmdRespond, Identity: "bob", Accept: true})

	if err := h.Finished(ctx, types.GameFinished{RoomID: r.ID, Reason: "timeup"}); err != nil {
		t.Fatal(err)
	}
	got, err := h.Room(ctx, r.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != room.StatusWaiting || got.Start.State != room.StartIdle || len(got.Players) != 2 {
		t.Fatalf("room not reset: %+v", got)
	}
}

func TestHub_FinishedWithoutMatchIsRefused(t *testing.T) {
	h, mem := newTestHub(t)
	ctx := context.Background()

	r, _ := h.Create(ctx, "alice", "tetris", "")
	mustDo(t, h, r.ID, room.Command{Type: room.CmdJoin, Identity: "bob"})
	mustDo(t, h, r.ID, room.Command{Type: room.CmdPropose, Identity: "alice"})

	err := h.Finished(ctx, types.GameFinished{RoomID: r.ID, KickAll: true, Reason: "timeup"})
	if !errors.Is(err, room.ErrNotInGame) {
		t.Fatalf("want ErrNotInGame, got %v", err)
	}
	got, err := h.Room(ctx, r.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != room.StatusWaiting || got.Start.State != room.StartProposed || len(got.Players) != 2 {
		t.Fatalf("room changed by a stray notification: %+v", got)
	}
	if results, _ := mem.Results(ctx, "", 0); len(results) != 0 {
		t.Fatalf("stray notification recorded %+v", results)
	}
}

func TestHub_LastLeaveRemovesRoom(t *testing.T) {
	h, _ := newTestHub(t)
	ctx := context.Background()

	r, _ := h.Create(ctx, "alice", "tetris", "")
	res := mustDo(t, h, r.ID, room.Command{Type: room.CmdLeave, Identity: "alice"})
	if !room.ContainsEvent(res.Events, room.EvtDestroyed) {
		t.Fatalf("want Destroyed, got %+v", res.Events)
	}
	eventually(t, time.Second, func() bool {
		rooms, _ := h.List(ctx)
		return len(rooms) == 0
	})
	if err := h.Finished(ctx, types.GameFinished{RoomID: r.ID}); !errors.Is(err, ErrRoomNotFound) {
		t.Fatalf("finished for a deleted room: %v", err)
	}
}

func TestHub_ShutdownStopsLobbies(t *testing.T) {
	h, _ := newTestHub(t)
	ctx := context.Background()
	r, _ := h.Create(ctx, "alice", "tetris", "")
	lb, _ := h.Lobby(ctx, r.ID)

	done := make(chan struct{})
	go func() { h.Shutdown(); close(done) }()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Shutdown did not return")
	}
	select {
	case <-lb.Done():
	default:
		t.Fatal("lobby still running after Shutdown")
	}
}

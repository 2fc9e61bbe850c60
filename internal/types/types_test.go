package types

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DoyleJ11/matchroom/internal/engine"
	"github.com/DoyleJ11/matchroom/internal/wire"
)

func strPtr(s string) *string { return &s }

// through pushes every frame through one framing and returns what the peer reads.
func through(t *testing.T, f wire.Framing, frames [][]byte) [][]byte {
	t.Helper()
	var buf bytes.Buffer
	w := wire.NewWriter(&buf, f)
	for _, fr := range frames {
		require.NoError(t, w.WriteFrame(fr))
	}
	r := wire.NewReader(&buf, f)
	out := make([][]byte, 0, len(frames))
	for range frames {
		fr, err := r.ReadFrame()
		require.NoError(t, err)
		out = append(out, fr)
	}
	return out
}

var framings = []wire.Framing{wire.LengthPrefixed, wire.NewlineDelimited}

func TestClientMessagesRoundTrip(t *testing.T) {
	msgs := []ClientMessage{
		Hello{Identity: "alice", DisplayName: "Alice"},
		Input{Seq: 42, Action: engine.ActionHard},
		Input{Seq: 3, Action: engine.ActionChoice, Choice: 2},
		Ping{T: json.RawMessage(`1700000000123`)},
		Bye{},
	}
	for _, f := range framings {
		t.Run(f.String(), func(t *testing.T) {
			frames := make([][]byte, 0, len(msgs))
			for _, m := range msgs {
				b, err := EncodeClient(m)
				require.NoError(t, err)
				frames = append(frames, b)
			}
			for i, fr := range through(t, f, frames) {
				got, err := DecodeClient(fr)
				require.NoError(t, err)
				assert.Equal(t, msgs[i], got)
			}
		})
	}
}

func TestServerMessagesRoundTrip(t *testing.T) {
	plan := engine.SpeedPlan{Mode: engine.SpeedProgressive}.WithDefaults()
	msgs := []ServerMessage{
		Welcome{
			Role: "P1", Seed: 99, BagRule: "7bag",
			RulesSummary: Rules{Mode: "timer", DurationSec: 120},
			SpeedPlan:    &plan,
		},
		Welcome{Role: "SPEC_1", Seed: 99, RulesSummary: Rules{Mode: "elimination", MaxPlayers: 3, Choices: []int{1, 2, 3}}, IsSpectator: true},
		Pong{T: json.RawMessage(`"abc"`)},
		Snapshot{At: 10, RemainingMs: 5000, CurrentDropMs: 450, Players: []RoleState{{
			Role: "P1", Name: "alice", Connected: true,
			Board:  [][]int{{0, 1}, {2, 0}},
			Active: &engine.ActiveView{Shape: "T", X: 3, Y: 0, Rot: 1},
			Hold:   "I", Next: []string{"O", "S", "Z"},
			Score: 300, Lines: 2, Level: 1, BlocksCleared: 20,
		}}},
		SpeedUpdate{NewIntervalMs: 450, Reason: "Time 30s", At: 30000},
		Round{Round: 2, Result: "double_elimination", Choices: map[string]int{"P1": 1, "P2": 1, "P3": 2}, Eliminated: []string{"P1", "P2"}},
		MatchEnd{
			Reason:         "topout",
			Results:        []RoleResult{{Role: "P1", Identity: "alice", Name: "Alice", Score: 500, Lines: 12, BlocksCleared: 120, MaxCombo: 2}},
			WinnerRole:     strPtr("P2"),
			WinnerIdentity: strPtr("bob"),
			WinnerReason:   "higher score after simultaneous top out (500 vs 900)",
		},
		MatchEnd{Reason: "timeup", Results: []RoleResult{}, WinnerReason: "draw (same lines and score)"},
		SpectatorKicked{Reason: "Game ended"},
		ErrorMsg{Code: CodeGameEnded, Msg: "match is over"},
	}
	for _, f := range framings {
		t.Run(f.String(), func(t *testing.T) {
			frames := make([][]byte, 0, len(msgs))
			for _, m := range msgs {
				b, err := EncodeServer(m)
				require.NoError(t, err)
				frames = append(frames, b)
			}
			for i, fr := range through(t, f, frames) {
				got, err := DecodeServer(fr)
				require.NoError(t, err)
				assert.Equal(t, msgs[i], got)
			}
		})
	}
}

func TestRequestsRoundTrip(t *testing.T) {
	reqs := []Request{
		CreateRoom{Identity: "alice", Game: "tetris", Version: "1.0.1"},
		JoinRoom{Identity: "bob", RoomID: "tetris-1"},
		LeaveRoom{Identity: "bob", RoomID: "tetris-1"},
		PlayerReady{Identity: "bob", RoomID: "tetris-1"},
		PlayerUnready{Identity: "bob", RoomID: "tetris-1"},
		ProposeStart{Identity: "alice", RoomID: "tetris-1"},
		RespondStart{Identity: "bob", RoomID: "tetris-1", Accept: true},
		SubscribeRoom{RoomID: "tetris-1"},
		ListRooms{},
		GameFinished{RoomID: "tetris-1", KickAll: true, Reason: "topout", WinnerRole: strPtr("P1"), WinnerIdentity: strPtr("alice")},
	}
	for _, f := range framings {
		t.Run(f.String(), func(t *testing.T) {
			frames := make([][]byte, 0, len(reqs))
			for _, r := range reqs {
				b, err := EncodeRequest(r)
				require.NoError(t, err)
				frames = append(frames, b)
			}
			for i, fr := range through(t, f, frames) {
				got, err := DecodeRequest(fr)
				require.NoError(t, err)
				assert.Equal(t, reqs[i], got)
			}
		})
	}
}

func TestDecodeClientUnknownAndDefaults(t *testing.T) {
	m, err := DecodeClient([]byte(`{"type":"EMOTE","what":"wave"}`))
	require.NoError(t, err)
	assert.Equal(t, Unknown{Type: "EMOTE"}, m)

	m, err = DecodeClient([]byte(`{"type":"HELLO","identity":"  Zoé "}`))
	require.NoError(t, err)
	hello := m.(Hello)
	assert.Equal(t, "Zoé", hello.Identity, "trimmed and NFC-composed")
	assert.Equal(t, hello.Identity, hello.DisplayName)

	_, err = DecodeClient([]byte(`not json`))
	assert.Error(t, err)
}

func TestDecodeRequestLegacyKickAll(t *testing.T) {
	r, err := DecodeRequest([]byte(`{"kind":"game_finished","room_id":"x","kick_all":true}`))
	require.NoError(t, err)
	assert.True(t, r.(GameFinished).KickAll)

	r, err = DecodeRequest([]byte(`{"kind":"register"}`))
	require.NoError(t, err)
	assert.Equal(t, UnknownRequest{Kind: "register"}, r)
}

func TestReplyAndRoomUpdateShape(t *testing.T) {
	rep, err := OKReply("joined").WithRoom("r1", map[string]any{"id": "r1"})
	require.NoError(t, err)
	b, err := json.Marshal(rep)
	require.NoError(t, err)
	assert.JSONEq(t, `{"ok":true,"msg":"joined","room_id":"r1","room":{"id":"r1"}}`, string(b))

	up, err := NewRoomUpdate(map[string]any{"id": "r1"})
	require.NoError(t, err)
	b, err = json.Marshal(up)
	require.NoError(t, err)
	assert.JSONEq(t, `{"event":"room_update","room":{"id":"r1"}}`, string(b))
}

package session

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/DoyleJ11/matchroom/internal/engine"
	"github.com/DoyleJ11/matchroom/internal/types"
	"github.com/DoyleJ11/matchroom/internal/wire"
)

// countingGame ends once target distinct inputs were applied.
type countingGame struct {
	target  int
	applied []int64
	perTick []int
	pending int
}

func (g *countingGame) Roles() []string { return []string{"A", "B"} }
func (g *countingGame) Welcome(role string, spectator bool) types.Welcome {
	return types.Welcome{Role: role, IsSpectator: spectator}
}
func (g *countingGame) Start(time.Time) {}
func (g *countingGame) Apply(_ string, in types.Input, _ time.Time) []Out {
	g.applied = append(g.applied, in.Seq)
	g.pending++
	return nil
}
func (g *countingGame) Advance(time.Time) []Out {
	if g.pending > 0 {
		g.perTick = append(g.perTick, g.pending)
		g.pending = 0
	}
	return nil
}
func (g *countingGame) Forfeit(expired, _ []string, _ time.Time) (bool, []Out) {
	return len(expired) > 0, nil
}
func (g *countingGame) Finished(time.Time) bool { return len(g.applied) >= g.target }
func (g *countingGame) Snapshot(now time.Time, _ []Seat) types.Snapshot {
	return types.Snapshot{At: now.UnixMilli()}
}
func (g *countingGame) Outcome([]Seat) types.MatchEnd {
	w := "A"
	return types.MatchEnd{Reason: "done", WinnerRole: &w, Results: []types.RoleResult{{Role: "A"}, {Role: "B"}}}
}

func testConfig() Config {
	return Config{
		RoomID:        "room-1",
		Framing:       wire.NewlineDelimited,
		Tick:          20 * time.Millisecond,
		SnapshotEvery: 40 * time.Millisecond,
		ForfeitGrace:  time.Second,
		FinalGrace:    20 * time.Millisecond,
		InputBurst:    4,
	}
}

func run(t *testing.T, g Game, cfg Config) (*Session, string) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	s := New(ln, g, cfg, zap.NewNop(), nil)
	ctx, cancel := context.WithCancel(context.Background())
	go s.Run(ctx)
	t.Cleanup(func() {
		cancel()
		<-s.Done()
	})
	return s, ln.Addr().String()
}

func connect(t *testing.T, addr, identity string, f wire.Framing) (*wire.Conn, types.Welcome) {
	t.Helper()
	nc, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	t.Cleanup(func() { nc.Close() })
	c := wire.NewConn(nc, f)
	write(t, c, types.Hello{Identity: identity})
	m := read(t, c)
	w, ok := m.(types.Welcome)
	require.True(t, ok, "expected WELCOME, got %T", m)
	return c, w
}

func write(t *testing.T, c *wire.Conn, m types.ClientMessage) {
	t.Helper()
	b, err := types.EncodeClient(m)
	require.NoError(t, err)
	require.NoError(t, c.WriteFrame(b))
}

func read(t *testing.T, c *wire.Conn) types.ServerMessage {
	t.Helper()
	require.NoError(t, c.SetReadDeadline(time.Now().Add(2*time.Second)))
	frame, err := c.ReadFrame()
	require.NoError(t, err)
	m, err := types.DecodeServer(frame)
	require.NoError(t, err)
	return m
}

func readUntil[T types.ServerMessage](t *testing.T, c *wire.Conn) T {
	t.Helper()
	for {
		if m, ok := read(t, c).(T); ok {
			return m
		}
	}
}

func TestInputDedupAndBurstBound(t *testing.T) {
	g := &countingGame{target: 12}
	s, addr := run(t, g, testConfig())

	a, _ := connect(t, addr, "ann", wire.NewlineDelimited)
	b, _ := connect(t, addr, "ben", wire.NewlineDelimited)
	readUntil[types.Snapshot](t, a)

	for seq := int64(1); seq <= 12; seq++ {
		write(t, a, types.Input{Seq: seq, Action: engine.ActionLeft})
		if seq%3 == 0 {
			write(t, a, types.Input{Seq: seq, Action: engine.ActionLeft})
			write(t, a, types.Input{Seq: 1, Action: engine.ActionLeft})
		}
	}

	end := readUntil[types.MatchEnd](t, b)
	require.NotNil(t, end.WinnerIdentity)
	assert.Equal(t, "ann", *end.WinnerIdentity)
	assert.Equal(t, "ben", end.Results[1].Identity)

	<-s.Done()
	want := make([]int64, 12)
	for i := range want {
		want[i] = int64(i + 1)
	}
	assert.Equal(t, want, g.applied)
	for _, n := range g.perTick {
		assert.LessOrEqual(t, n, 4)
	}
}

func TestInputDroppedOnFullQueueIsNotAcknowledged(t *testing.T) {
	g := &countingGame{target: 3}
	cfg := testConfig()
	cfg.Tick = 200 * time.Millisecond
	cfg.SnapshotEvery = 200 * time.Millisecond
	cfg.InputQueue = 1
	cfg.InputBurst = 1
	s, addr := run(t, g, cfg)

	a, _ := connect(t, addr, "ann", wire.NewlineDelimited)
	b, _ := connect(t, addr, "ben", wire.NewlineDelimited)
	readUntil[types.Snapshot](t, a)

	// seq 2 finds the queue full and is dropped
	write(t, a, types.Input{Seq: 1, Action: engine.ActionLeft})
	write(t, a, types.Input{Seq: 2, Action: engine.ActionLeft})
	time.Sleep(300 * time.Millisecond)

	// the resend is accepted
	write(t, a, types.Input{Seq: 2, Action: engine.ActionLeft})
	time.Sleep(250 * time.Millisecond)
	write(t, a, types.Input{Seq: 3, Action: engine.ActionLeft})

	readUntil[types.MatchEnd](t, b)
	<-s.Done()
	assert.Equal(t, []int64{1, 2, 3}, g.applied)
}

func TestBadHandshakeGetsErrorBeforeClose(t *testing.T) {
	_, addr := run(t, &countingGame{target: 1000}, testConfig())

	for _, first := range []types.ClientMessage{
		types.Ping{T: []byte(`1`)},
		types.Hello{},
	} {
		nc, err := net.Dial("tcp", addr)
		require.NoError(t, err)
		c := wire.NewConn(nc, wire.NewlineDelimited)
		write(t, c, first)

		e, ok := read(t, c).(types.ErrorMsg)
		require.True(t, ok, "first reply to %T", first)
		assert.Equal(t, types.CodeBadRequest, e.Code)

		_, err = c.ReadFrame()
		assert.Error(t, err, "connection should be closed after the error")
		nc.Close()
	}
}

func TestSecondConnectionSameIdentityReplacesFirst(t *testing.T) {
	_, addr := run(t, &countingGame{target: 1000}, testConfig())

	first, w1 := connect(t, addr, "ann", wire.NewlineDelimited)
	second, w2 := connect(t, addr, "ann", wire.NewlineDelimited)
	assert.Equal(t, "A", w1.Role)
	assert.Equal(t, "A", w2.Role)

	require.NoError(t, first.SetReadDeadline(time.Now().Add(2*time.Second)))
	for {
		if _, err := first.ReadFrame(); err != nil {
			var ne net.Error
			if errors.As(err, &ne) {
				assert.False(t, ne.Timeout(), "old connection was not closed")
			}
			break
		}
	}

	write(t, second, types.Ping{T: []byte(`"x"`)})
	pong := readUntil[types.Pong](t, second)
	assert.JSONEq(t, `"x"`, string(pong.T))
}

func TestSpectatorsNumbered(t *testing.T) {
	_, addr := run(t, &countingGame{target: 1000}, testConfig())
	connect(t, addr, "ann", wire.NewlineDelimited)
	connect(t, addr, "ben", wire.NewlineDelimited)
	_, w3 := connect(t, addr, "cat", wire.NewlineDelimited)
	_, w4 := connect(t, addr, "dan", wire.NewlineDelimited)
	assert.Equal(t, "SPEC_1", w3.Role)
	assert.Equal(t, "SPEC_2", w4.Role)
	assert.True(t, w4.IsSpectator)
}

func TestLeaveBeforeStartFreesRole(t *testing.T) {
	_, addr := run(t, &countingGame{target: 1000}, testConfig())
	a, _ := connect(t, addr, "ann", wire.NewlineDelimited)
	write(t, a, types.Bye{})
	time.Sleep(100 * time.Millisecond)

	_, w := connect(t, addr, "zed", wire.NewlineDelimited)
	assert.Equal(t, "A", w.Role)
}

func TestForfeitTimers(t *testing.T) {
	roles := []string{"A", "B"}
	f := NewForfeitTimers()
	at := time.Unix(0, 0)
	f.MarkDisconnected("B", at)
	f.MarkDisconnected("B", at.Add(time.Second))
	assert.Equal(t, []string{"B"}, f.Disconnected(roles))
	assert.Empty(t, f.Expired(roles, at.Add(2999*time.Millisecond), 3*time.Second))
	assert.Equal(t, []string{"B"}, f.Expired(roles, at.Add(3*time.Second), 3*time.Second), "earliest mark wins")
	assert.False(t, f.AllDisconnected(roles))
	f.MarkDisconnected("A", at)
	assert.True(t, f.AllDisconnected(roles))
	f.Clear("A")
	f.Clear("B")
	assert.Empty(t, f.Disconnected(roles))
}

func TestDecorateFillsIdentities(t *testing.T) {
	w := "B"
	end := decorate(types.MatchEnd{WinnerRole: &w, Results: []types.RoleResult{{Role: "A"}, {Role: "B", Name: "custom"}}},
		[]Seat{{Role: "A", Identity: "ann", Name: "Ann"}, {Role: "B", Identity: "ben", Name: "Ben"}})
	require.NotNil(t, end.WinnerIdentity)
	assert.Equal(t, "ben", *end.WinnerIdentity)
	assert.Equal(t, "Ann", end.Results[0].Name)
	assert.Equal(t, "custom", end.Results[1].Name)
}

// Package session runs one live match: it owns the listener, assigns roles,
// queues player input and drives a Game on a fixed tick until it ends.
//
// All Game methods are called from the tick goroutine only. Connection
// goroutines never touch game state; they enqueue input and read frames the
// tick goroutine has already encoded.
package session

import (
	"time"

	"github.com/DoyleJ11/matchroom/internal/types"
	"github.com/DoyleJ11/matchroom/internal/wire"
)

// Game is the body of a match.
type Game interface {
	// Roles lists the primary roles in seating order.
	Roles() []string
	Welcome(role string, spectator bool) types.Welcome
	// Start is called once, on the first tick where every role is seated.
	Start(now time.Time)
	Apply(role string, in types.Input, now time.Time) []Out
	// Advance runs timed effects such as gravity.
	Advance(now time.Time) []Out
	// Forfeit is consulted every tick while any primary role is
	// disconnected. expired holds the roles past the grace period.
	Forfeit(expired, disconnected []string, now time.Time) (bool, []Out)
	Finished(now time.Time) bool
	Snapshot(now time.Time, seats []Seat) types.Snapshot
	// Outcome is evaluated exactly once, after the match has ended.
	Outcome(seats []Seat) types.MatchEnd
}

// Out is a message produced by the game. An empty To broadcasts.
type Out struct {
	To  string
	Msg types.ServerMessage
}

// Broadcast is shorthand for an Out addressed to everyone.
func Broadcast(m types.ServerMessage) Out { return Out{Msg: m} }

type Seat struct {
	Role      string
	Identity  string
	Name      string
	Connected bool
}

type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

type Config struct {
	RoomID  string
	Framing wire.Framing

	Tick          time.Duration
	SnapshotEvery time.Duration
	ForfeitGrace  time.Duration
	// FinalGrace is how long clients get to read MATCH_END before teardown.
	FinalGrace       time.Duration
	HandshakeTimeout time.Duration
	WriteTimeout     time.Duration
	NotifyTimeout    time.Duration

	// InputBurst bounds how many queued inputs one role applies per tick.
	InputBurst int
	InputQueue int
	OutQueue   int

	// KeepRoom asks the lobby to reset the room instead of closing it.
	KeepRoom bool

	Clock Clock
}

func (c Config) withDefaults() Config {
	if c.Tick <= 0 {
		c.Tick = 50 * time.Millisecond
	}
	if c.SnapshotEvery <= 0 {
		c.SnapshotEvery = 150 * time.Millisecond
	}
	if c.ForfeitGrace <= 0 {
		c.ForfeitGrace = 3 * time.Second
	}
	if c.FinalGrace <= 0 {
		c.FinalGrace = 1500 * time.Millisecond
	}
	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = 10 * time.Second
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 3 * time.Second
	}
	if c.NotifyTimeout <= 0 {
		c.NotifyTimeout = 5 * time.Second
	}
	if c.InputBurst <= 0 {
		c.InputBurst = 8
	}
	if c.InputQueue <= 0 {
		c.InputQueue = 64
	}
	if c.OutQueue <= 0 {
		c.OutQueue = 64
	}
	if c.Clock == nil {
		c.Clock = systemClock{}
	}
	return c
}

// Package tetris is the two-player falling-block match. Both boards share
// one seed so both players see the same piece sequence.
package tetris

import (
	"time"

	"github.com/DoyleJ11/matchroom/internal/engine"
	"github.com/DoyleJ11/matchroom/internal/session"
	"github.com/DoyleJ11/matchroom/internal/types"
)

const (
	RoleP1 = "P1"
	RoleP2 = "P2"
)

const BagRule = "7bag"

type Config struct {
	Seed     int64
	Duration time.Duration
	Speed    engine.SpeedPlan
}

type Game struct {
	cfg      Config
	roles    []string
	boards   map[string]*engine.Engine
	curve    *engine.Curve
	start    time.Time
	lastDrop map[string]time.Time
	forfeit  *Forfeit
}

var _ session.Game = (*Game)(nil)

func New(cfg Config) *Game {
	if cfg.Duration <= 0 {
		cfg.Duration = 3 * time.Minute
	}
	cfg.Speed = cfg.Speed.WithDefaults()
	g := &Game{
		cfg:      cfg,
		roles:    []string{RoleP1, RoleP2},
		boards:   make(map[string]*engine.Engine, 2),
		curve:    engine.NewCurve(cfg.Speed),
		lastDrop: make(map[string]time.Time, 2),
	}
	for _, r := range g.roles {
		g.boards[r] = engine.New(cfg.Seed)
	}
	return g
}

func (g *Game) Roles() []string { return g.roles }

// Board exposes a role's engine for inspection.
func (g *Game) Board(role string) *engine.Engine { return g.boards[role] }

func (g *Game) Welcome(role string, spectator bool) types.Welcome {
	plan := g.curve.Plan()
	return types.Welcome{
		Role:    role,
		Seed:    g.cfg.Seed,
		BagRule: BagRule,
		RulesSummary: types.Rules{
			Mode:        "timer",
			DurationSec: int(g.cfg.Duration / time.Second),
		},
		SpeedPlan:   &plan,
		IsSpectator: spectator,
	}
}

func (g *Game) Start(now time.Time) {
	g.start = now
	for _, r := range g.roles {
		g.lastDrop[r] = now
	}
}

func (g *Game) Apply(role string, in types.Input, _ time.Time) []session.Out {
	b, ok := g.boards[role]
	if !ok {
		return nil
	}
	// unsupported actions are ignored like unknown messages
	_, _ = b.Apply(in.Action)
	return nil
}

func (g *Game) Advance(now time.Time) []session.Out {
	var outs []session.Out
	lines := 0
	for _, b := range g.boards {
		lines += b.Lines
	}
	if changed, reason := g.curve.Update(now.Sub(g.start), lines); changed {
		outs = append(outs, session.Broadcast(types.SpeedUpdate{
			NewIntervalMs: int64(g.curve.IntervalMs()),
			Reason:        reason,
			At:            now.UnixMilli(),
		}))
	}
	for _, r := range g.roles {
		if now.Sub(g.lastDrop[r]) >= g.curve.Interval() {
			g.lastDrop[r] = now
			g.boards[r].SoftDrop()
		}
	}
	return outs
}

func (g *Game) Forfeit(expired, disconnected []string, _ time.Time) (bool, []session.Out) {
	all := len(disconnected) == len(g.roles)
	if len(expired) == 0 && !all {
		return false, nil
	}
	g.forfeit = &Forfeit{Expired: expired, AllDisconnected: all}
	return true, nil
}

func (g *Game) Finished(now time.Time) bool {
	for _, b := range g.boards {
		if b.ToppedOut {
			return true
		}
	}
	return g.remaining(now) == 0
}

func (g *Game) remaining(now time.Time) time.Duration {
	return max(0, g.cfg.Duration-now.Sub(g.start))
}

func (g *Game) Snapshot(now time.Time, seats []session.Seat) types.Snapshot {
	snap := types.Snapshot{
		At:            now.UnixMilli(),
		RemainingMs:   g.remaining(now).Milliseconds(),
		CurrentDropMs: int64(g.curve.IntervalMs()),
		Players:       make([]types.RoleState, 0, len(g.roles)),
	}
	for i, r := range g.roles {
		v := g.boards[r].View()
		snap.Players = append(snap.Players, types.RoleState{
			Role:          r,
			Name:          displayName(seats, i),
			Connected:     i < len(seats) && seats[i].Connected,
			Board:         v.Board,
			Active:        v.Active,
			Hold:          v.Hold,
			Next:          v.Next,
			Score:         v.Score,
			Lines:         v.Lines,
			Level:         v.Level,
			BlocksCleared: v.BlocksCleared,
		})
	}
	return snap
}

func (g *Game) Outcome(seats []session.Seat) types.MatchEnd {
	stats := make([]Stats, len(g.roles))
	results := make([]types.RoleResult, len(g.roles))
	for i, r := range g.roles {
		b := g.boards[r]
		stats[i] = Stats{Role: r, ToppedOut: b.ToppedOut, Lines: b.Lines, Score: b.Score}
		results[i] = types.RoleResult{
			Role:          r,
			Name:          displayName(seats, i),
			Score:         b.Score,
			Lines:         b.Lines,
			BlocksCleared: b.BlocksCleared,
			MaxCombo:      b.MaxCombo,
		}
		if i < len(seats) {
			results[i].Identity = seats[i].Identity
		}
	}
	v := Arbitrate(stats[0], stats[1], g.forfeit)
	return types.MatchEnd{
		Reason:       v.Reason,
		Results:      results,
		WinnerRole:   v.Winner,
		WinnerReason: v.Detail,
	}
}

func displayName(seats []session.Seat, i int) string {
	if i < len(seats) && seats[i].Name != "" {
		return seats[i].Name
	}
	return "Player" + string(rune('1'+i))
}

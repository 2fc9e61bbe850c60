// Package elimination is the N-player simultaneous-choice match: every
// round each remaining role picks rock, paper or scissors, beaten roles are
// eliminated, and the last role standing wins.
package elimination

import (
	"fmt"
	"maps"
	"time"

	"github.com/DoyleJ11/matchroom/internal/engine"
	"github.com/DoyleJ11/matchroom/internal/session"
	"github.com/DoyleJ11/matchroom/internal/types"
)

const (
	ReasonElimination = "elimination"
	ReasonForfeit     = "forfeit"
)

type Game struct {
	roles      []string
	eliminated map[string]bool
	choices    map[string]int
	round      int

	over   bool
	winner string
	reason string
	detail string
}

var _ session.Game = (*Game)(nil)

func New(players int) *Game {
	g := &Game{
		eliminated: make(map[string]bool),
		choices:    make(map[string]int),
	}
	for i := 1; i <= players; i++ {
		g.roles = append(g.roles, fmt.Sprintf("P%d", i))
	}
	return g
}

func (g *Game) Roles() []string { return g.roles }

func (g *Game) Welcome(role string, spectator bool) types.Welcome {
	return types.Welcome{
		Role: role,
		RulesSummary: types.Rules{
			Mode:       "elimination",
			MaxPlayers: len(g.roles),
			Choices:    []int{Rock, Paper, Scissors},
		},
		IsSpectator: spectator,
	}
}

func (g *Game) Start(time.Time) { g.round = 1 }

func (g *Game) active() []string {
	out := make([]string, 0, len(g.roles))
	for _, r := range g.roles {
		if !g.eliminated[r] {
			out = append(out, r)
		}
	}
	return out
}

func (g *Game) Apply(role string, in types.Input, _ time.Time) []session.Out {
	if g.over || g.eliminated[role] || in.Action != engine.ActionChoice {
		return nil
	}
	if !ValidChoice(in.Choice) {
		return []session.Out{{To: role, Msg: types.ErrorMsg{
			Code: types.CodeInvalidChoice,
			Msg:  fmt.Sprintf("choice must be 1, 2 or 3, got %d", in.Choice),
		}}}
	}
	g.choices[role] = in.Choice
	return nil
}

// Advance resolves the round once every remaining role has chosen.
func (g *Game) Advance(time.Time) []session.Out {
	if g.over {
		return nil
	}
	active := g.active()
	for _, r := range active {
		if _, ok := g.choices[r]; !ok {
			return nil
		}
	}
	res := Resolve(active, g.choices)
	round := types.Round{
		Round:      g.round,
		Result:     res.Result,
		Choices:    maps.Clone(g.choices),
		Eliminated: res.Eliminated,
		Reason:     res.Reason,
	}
	for _, r := range res.Eliminated {
		g.eliminated[r] = true
	}
	if res.Winner != "" {
		g.end(res.Winner, ReasonElimination, res.Reason)
	}
	clear(g.choices)
	g.round++
	return []session.Out{session.Broadcast(round)}
}

// Forfeit eliminates every remaining role whose grace period expired.
func (g *Game) Forfeit(expired, disconnected []string, _ time.Time) (bool, []session.Out) {
	if g.over {
		return true, nil
	}
	var out []string
	for _, r := range expired {
		if !g.eliminated[r] {
			g.eliminated[r] = true
			delete(g.choices, r)
			out = append(out, r)
		}
	}
	var outs []session.Out
	if len(out) > 0 {
		outs = append(outs, session.Broadcast(types.Round{
			Round:      g.round,
			Result:     ResultEliminate,
			Choices:    map[string]int{},
			Eliminated: out,
			Reason:     "timeout",
		}))
	}

	active := g.active()
	gone := 0
	for _, r := range active {
		for _, d := range disconnected {
			if r == d {
				gone++
			}
		}
	}
	switch {
	case len(active) == 1:
		g.end(active[0], ReasonForfeit, "opponents eliminated")
	case len(active) == 0 || gone == len(active):
		g.over, g.reason, g.detail = true, ReasonForfeit, "draw (all players disconnected)"
	}
	return g.over, outs
}

func (g *Game) end(winner, reason, detail string) {
	g.over, g.winner, g.reason, g.detail = true, winner, reason, detail
}

func (g *Game) Finished(time.Time) bool { return g.over }

func (g *Game) Snapshot(now time.Time, seats []session.Seat) types.Snapshot {
	snap := types.Snapshot{At: now.UnixMilli(), Players: make([]types.RoleState, 0, len(g.roles))}
	for i, r := range g.roles {
		st := types.RoleState{Role: r, Eliminated: g.eliminated[r]}
		if i < len(seats) {
			st.Name, st.Connected = seats[i].Name, seats[i].Connected
		}
		_, st.Submitted = g.choices[r]
		snap.Players = append(snap.Players, st)
	}
	return snap
}

func (g *Game) Outcome(seats []session.Seat) types.MatchEnd {
	results := make([]types.RoleResult, 0, len(g.roles))
	for i, r := range g.roles {
		res := types.RoleResult{Role: r, Eliminated: g.eliminated[r]}
		if i < len(seats) {
			res.Identity, res.Name = seats[i].Identity, seats[i].Name
		}
		if r == g.winner {
			res.Score = 1
		}
		results = append(results, res)
	}
	end := types.MatchEnd{Reason: g.reason, Results: results, WinnerReason: g.detail}
	if g.winner != "" {
		w := g.winner
		end.WinnerRole = &w
	}
	return end
}

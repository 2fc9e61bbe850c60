// Package history is the match ledger: how often each identity played each
// game and how every finished match ended.
package history

import (
	"context"
	"slices"
	"sync"
	"time"
)

type Result struct {
	RoomID         string
	Game           string
	Reason         string
	WinnerRole     string
	WinnerIdentity string
	Players        []string
	FinishedAt     time.Time
}

type Store interface {
	RecordPlayed(ctx context.Context, game string, players []string) error
	RecordResult(ctx context.Context, r Result) error
	Played(ctx context.Context, identity, game string) (int, error)
	Results(ctx context.Context, game string, limit int) ([]Result, error)
}

type playKey struct{ identity, game string }

// Memory keeps the ledger in process; it is lost on restart.
type Memory struct {
	mu      sync.Mutex
	played  map[playKey]int
	results []Result
}

func NewMemory() *Memory {
	return &Memory{played: make(map[playKey]int)}
}

func (m *Memory) RecordPlayed(_ context.Context, game string, players []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range players {
		m.played[playKey{p, game}]++
	}
	return nil
}

func (m *Memory) RecordResult(_ context.Context, r Result) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r.Players = slices.Clone(r.Players)
	m.results = append(m.results, r)
	return nil
}

func (m *Memory) Played(_ context.Context, identity, game string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.played[playKey{identity, game}], nil
}

// Results returns the newest results first. An empty game matches all.
func (m *Memory) Results(_ context.Context, game string, limit int) ([]Result, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Result
	for i := len(m.results) - 1; i >= 0 && (limit <= 0 || len(out) < limit); i-- {
		if game == "" || m.results[i].Game == game {
			out = append(out, m.results[i])
		}
	}
	return out, nil
}

// Package launch starts Session Engine instances for rooms whose members
// agreed to play, either inside the lobby process or as child processes.
package launch

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"net"
	"time"

	"github.com/DoyleJ11/matchroom/internal/catalog"
	"github.com/DoyleJ11/matchroom/internal/session"
	"github.com/DoyleJ11/matchroom/internal/session/elimination"
	"github.com/DoyleJ11/matchroom/internal/session/tetris"
)

// NewGame builds the game body a catalog entry describes. A zero seed picks
// one at random unless the tuning pins it.
func NewGame(g catalog.Game, seed int64) (session.Game, error) {
	switch g.Kind {
	case catalog.KindTetris:
		if seed == 0 {
			seed = g.Tuning.Seed
		}
		if seed == 0 {
			seed = rand.Int64()
		}
		return tetris.New(tetris.Config{
			Seed:     seed,
			Duration: time.Duration(g.Tuning.DurationSec) * time.Second,
			Speed:    g.Tuning.Speed,
		}), nil
	case catalog.KindElimination:
		return elimination.New(g.MaxPlayers), nil
	default:
		return nil, fmt.Errorf("%s: unknown game kind %q", g.Name, g.Kind)
	}
}

// WaitReachable dials addr until it accepts a connection or ctx expires.
func WaitReachable(ctx context.Context, addr string) error {
	var d net.Dialer
	backoff := 10 * time.Millisecond
	for {
		c, err := d.DialContext(ctx, "tcp", addr)
		if err == nil {
			return c.Close()
		}
		t := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			t.Stop()
			return fmt.Errorf("%s not reachable: %w", addr, errors.Join(ctx.Err(), err))
		case <-t.C:
		}
		backoff = min(backoff*2, 250*time.Millisecond)
	}
}

// dialHost turns a wildcard bind address into something dialable.
func dialHost(bind string) string {
	if bind == "" || bind == "0.0.0.0" || bind == "::" {
		return "127.0.0.1"
	}
	return bind
}

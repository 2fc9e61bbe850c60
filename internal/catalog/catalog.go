// Package catalog holds the metadata of installable games: capacity, latest
// version and match tuning. Uploading and versioning bundles happens
// elsewhere; this is only the read side the lobby needs to create rooms.
package catalog

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"slices"
	"strconv"
	"strings"

	"github.com/DoyleJ11/matchroom/internal/engine"
)

var (
	ErrUnknownGame     = errors.New("unknown game")
	ErrVersionMismatch = errors.New("version is not the latest")
)

// Kind selects which session game body runs a match.
type Kind string

const (
	KindTetris      Kind = "tetris"
	KindElimination Kind = "elimination"
)

type Tuning struct {
	DurationSec int              `json:"durationSec,omitempty"`
	Speed       engine.SpeedPlan `json:"speed,omitempty"`
	// Seed fixes the piece sequence; zero means pick one per match.
	Seed int64 `json:"seed,omitempty"`
}

type Game struct {
	Name        string `json:"name"`
	DisplayName string `json:"display_name,omitempty"`
	Version     string `json:"version"`
	MaxPlayers  int    `json:"max_players"`
	Kind        Kind   `json:"kind"`
	Tuning      Tuning `json:"tuning"`
}

func (g Game) validate() error {
	if g.Name == "" {
		return errors.New("game without name")
	}
	if g.MaxPlayers < 2 {
		return fmt.Errorf("%s: max_players %d below 2", g.Name, g.MaxPlayers)
	}
	switch g.Kind {
	case KindTetris:
		if g.MaxPlayers != 2 {
			return fmt.Errorf("%s: tetris matches are two-player", g.Name)
		}
		if err := g.Tuning.Speed.WithDefaults().Validate(); err != nil {
			return fmt.Errorf("%s: %w", g.Name, err)
		}
	case KindElimination:
	default:
		return fmt.Errorf("%s: unknown kind %q", g.Name, g.Kind)
	}
	return nil
}

type Catalog struct {
	games map[string]Game
}

// Default is the built-in catalog used when no file is configured.
func Default() *Catalog {
	c, _ := New(
		Game{
			Name: "tetris", DisplayName: "Tetris Battle", Version: "1.0.1",
			MaxPlayers: 2, Kind: KindTetris,
			Tuning: Tuning{DurationSec: 180, Speed: engine.SpeedPlan{Mode: engine.SpeedProgressive}},
		},
		Game{
			Name: "threeplayer_rps", DisplayName: "Three Player RPS", Version: "1.0.1",
			MaxPlayers: 3, Kind: KindElimination,
		},
	)
	return c
}

func New(games ...Game) (*Catalog, error) {
	c := &Catalog{games: make(map[string]Game, len(games))}
	for _, g := range games {
		if err := g.validate(); err != nil {
			return nil, err
		}
		g.Version = NormalizeVersion(g.Version)
		g.Tuning.Speed = g.Tuning.Speed.WithDefaults()
		c.games[g.Name] = g
	}
	return c, nil
}

// Load reads a JSON array of games.
func Load(path string) (*Catalog, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog: %w", err)
	}
	var games []Game
	if err := json.Unmarshal(raw, &games); err != nil {
		return nil, fmt.Errorf("parse catalog %s: %w", path, err)
	}
	return New(games...)
}

func (c *Catalog) Get(name string) (Game, bool) {
	g, ok := c.games[name]
	return g, ok
}

// Resolve finds the game a room should run. An empty version means latest;
// any other version must normalize to the latest.
func (c *Catalog) Resolve(name, version string) (Game, error) {
	g, ok := c.games[name]
	if !ok {
		return Game{}, fmt.Errorf("%w: %q", ErrUnknownGame, name)
	}
	if version != "" && NormalizeVersion(version) != g.Version {
		return Game{}, fmt.Errorf("%w: %s wants %s, latest is %s", ErrVersionMismatch, name, version, g.Version)
	}
	return g, nil
}

func (c *Catalog) List() []Game {
	out := make([]Game, 0, len(c.games))
	for _, g := range c.games {
		out = append(out, g)
	}
	slices.SortFunc(out, func(a, b Game) int { return strings.Compare(a.Name, b.Name) })
	return out
}

// NormalizeVersion reduces a version string to a dotted numeric triple.
// Non-numeric characters are dropped and missing parts become zero, so
// "v1.2" -> "1.2.0" and "1.01" -> "1.1.0".
func NormalizeVersion(v string) string {
	clean := strings.Map(func(r rune) rune {
		if r == '.' || (r >= '0' && r <= '9') {
			return r
		}
		return -1
	}, v)
	if clean == "" {
		return ""
	}
	parts := strings.Split(clean, ".")
	out := make([]string, 3)
	for i := range out {
		n := 0
		if i < len(parts) && parts[i] != "" {
			n, _ = strconv.Atoi(parts[i])
		}
		out[i] = strconv.Itoa(n)
	}
	return strings.Join(out, ".")
}

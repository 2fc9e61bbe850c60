// Package config reads process settings from the environment, after an
// optional .env file has been loaded into it.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type SessionMode string

const (
	ModeInProcess SessionMode = "inproc"
	ModeExec      SessionMode = "exec"
)

// Server is the lobby process configuration.
type Server struct {
	LobbyAddr       string
	HTTPAddr        string
	PublicHost      string
	SessionBindHost string
	SessionMode     SessionMode
	SessionBinary   string
	LaunchTimeout   time.Duration
	MatchTimeout    time.Duration
	Tick            time.Duration
	SnapshotEvery   time.Duration
	ForfeitGrace    time.Duration
	FinalGrace      time.Duration
	CatalogFile     string
	DatabaseURL     string
	LogLevel        string
	LogDev          bool
}

// LoadDotEnv loads the given files (".env" when none) into the environment.
// Missing files are ignored; variables already set win.
func LoadDotEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("load %s: %w", f, err)
		}
	}
	return nil
}

func LoadServer() (Server, error) {
	e := env{}
	c := Server{
		LobbyAddr:       e.str("LOBBY_ADDR", ":13001"),
		HTTPAddr:        e.str("HTTP_ADDR", ":8080"),
		PublicHost:      e.str("PUBLIC_HOST", "127.0.0.1"),
		SessionBindHost: e.str("SESSION_BIND_HOST", "0.0.0.0"),
		SessionMode:     SessionMode(e.str("SESSION_MODE", string(ModeInProcess))),
		SessionBinary:   e.str("SESSION_BINARY", "matchroom-session"),
		LaunchTimeout:   e.duration("LAUNCH_TIMEOUT", 10*time.Second),
		MatchTimeout:    e.duration("MATCH_TIMEOUT", 5*time.Minute),
		Tick:            e.duration("TICK", 50*time.Millisecond),
		SnapshotEvery:   e.duration("SNAPSHOT_EVERY", 150*time.Millisecond),
		ForfeitGrace:    e.duration("FORFEIT_GRACE", 3*time.Second),
		FinalGrace:      e.duration("FINAL_GRACE", 1500*time.Millisecond),
		CatalogFile:     e.str("CATALOG_FILE", ""),
		DatabaseURL:     e.str("DATABASE_URL", ""),
		LogLevel:        e.str("LOG_LEVEL", "info"),
		LogDev:          e.flag("LOG_DEV", false),
	}
	if err := e.err(); err != nil {
		return Server{}, err
	}
	switch c.SessionMode {
	case ModeInProcess, ModeExec:
	default:
		return Server{}, fmt.Errorf("SESSION_MODE: unknown mode %q", c.SessionMode)
	}
	return c, nil
}

// Session describes one match process. The exec launcher hands it to the
// child through Environ; the child reads it back with LoadSession.
type Session struct {
	RoomID     string
	GameName   string
	GameKind   string
	MaxPlayers int
	Host       string
	Port       int
	LobbyHost  string
	LobbyPort  int
	Seed       int64
	// Tuning is the catalog tuning as JSON.
	Tuning string

	// Zero durations leave the session defaults in place.
	Tick          time.Duration
	SnapshotEvery time.Duration
	ForfeitGrace  time.Duration
	FinalGrace    time.Duration
}

func (s Session) Environ() []string {
	return []string{
		"ROOM_ID=" + s.RoomID,
		"GAME_NAME=" + s.GameName,
		"GAME_KIND=" + s.GameKind,
		"MAX_PLAYERS=" + strconv.Itoa(s.MaxPlayers),
		"GAME_HOST=" + s.Host,
		"GAME_PORT=" + strconv.Itoa(s.Port),
		"LOBBY_CONNECT_HOST=" + s.LobbyHost,
		"LOBBY_PORT=" + strconv.Itoa(s.LobbyPort),
		"SEED=" + strconv.FormatInt(s.Seed, 10),
		"TUNING=" + s.Tuning,
		"TICK=" + s.Tick.String(),
		"SNAPSHOT_EVERY=" + s.SnapshotEvery.String(),
		"FORFEIT_GRACE=" + s.ForfeitGrace.String(),
		"FINAL_GRACE=" + s.FinalGrace.String(),
	}
}

func LoadSession() (Session, error) {
	e := env{}
	s := Session{
		RoomID:     e.str("ROOM_ID", ""),
		GameName:   e.str("GAME_NAME", "tetris"),
		GameKind:   e.str("GAME_KIND", "tetris"),
		MaxPlayers: e.num("MAX_PLAYERS", 2),
		Host:       e.str("GAME_HOST", "0.0.0.0"),
		Port:       e.num("GAME_PORT", 0),
		LobbyHost:  e.str("LOBBY_CONNECT_HOST", "127.0.0.1"),
		LobbyPort:  e.num("LOBBY_PORT", 13001),
		Seed:       int64(e.num("SEED", 0)),
		Tuning:     e.str("TUNING", ""),

		Tick:          e.duration("TICK", 0),
		SnapshotEvery: e.duration("SNAPSHOT_EVERY", 0),
		ForfeitGrace:  e.duration("FORFEIT_GRACE", 0),
		FinalGrace:    e.duration("FINAL_GRACE", 0),
	}
	return s, e.err()
}

// env collects parse failures so every bad variable is reported at once.
type env struct {
	errs []string
}

func (e *env) str(key, def string) string {
	if v, ok := os.LookupEnv(key); ok && strings.TrimSpace(v) != "" {
		return strings.TrimSpace(v)
	}
	return def
}

func (e *env) num(key string, def int) int {
	v := e.str(key, "")
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		e.errs = append(e.errs, fmt.Sprintf("%s: %q is not an integer", key, v))
		return def
	}
	return n
}

func (e *env) flag(key string, def bool) bool {
	v := e.str(key, "")
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		e.errs = append(e.errs, fmt.Sprintf("%s: %q is not a boolean", key, v))
		return def
	}
	return b
}

// duration accepts Go durations ("250ms") or bare seconds ("3").
func (e *env) duration(key string, def time.Duration) time.Duration {
	v := e.str(key, "")
	if v == "" {
		return def
	}
	if secs, err := strconv.ParseFloat(v, 64); err == nil {
		return time.Duration(secs * float64(time.Second))
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		e.errs = append(e.errs, fmt.Sprintf("%s: %q is not a duration", key, v))
		return def
	}
	return d
}

func (e *env) err() error {
	if len(e.errs) == 0 {
		return nil
	}
	return errors.New("config: " + strings.Join(e.errs, "; "))
}

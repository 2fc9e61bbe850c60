// Command session runs one match as its own process. The lobby's exec
// launcher starts it with the match described in the environment; flags
// override the environment for manual runs.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"go.uber.org/zap"

	"github.com/DoyleJ11/matchroom/internal/catalog"
	"github.com/DoyleJ11/matchroom/internal/config"
	"github.com/DoyleJ11/matchroom/internal/logging"
	"github.com/DoyleJ11/matchroom/internal/session"
	"github.com/DoyleJ11/matchroom/internal/session/launch"
	"github.com/DoyleJ11/matchroom/internal/wire"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "session:", err)
		os.Exit(1)
	}
}

func run() error {
	if err := config.LoadDotEnv(); err != nil {
		return err
	}
	sc, err := config.LoadSession()
	if err != nil {
		return err
	}

	fs := flag.NewFlagSet("session", flag.ContinueOnError)
	fs.StringVar(&sc.RoomID, "room", sc.RoomID, "room id reported back to the lobby")
	fs.StringVar(&sc.GameName, "game", sc.GameName, "game name")
	fs.StringVar(&sc.GameKind, "kind", sc.GameKind, "game kind: tetris or elimination")
	fs.IntVar(&sc.MaxPlayers, "players", sc.MaxPlayers, "number of roles")
	fs.StringVar(&sc.Host, "host", sc.Host, "bind host")
	fs.IntVar(&sc.Port, "port", sc.Port, "bind port")
	fs.StringVar(&sc.LobbyHost, "lobby-host", sc.LobbyHost, "lobby control host")
	fs.IntVar(&sc.LobbyPort, "lobby-port", sc.LobbyPort, "lobby control port; 0 disables the finished notification")
	fs.Int64Var(&sc.Seed, "seed", sc.Seed, "piece sequence seed; 0 picks one")
	fs.StringVar(&sc.Tuning, "tuning", sc.Tuning, "catalog tuning as JSON")
	framing := fs.String("framing", "length", "match framing: length or newline")
	keepRoom := fs.Bool("keep-room", false, "ask the lobby to reset the room instead of closing it")
	logLevel := fs.String("log-level", "info", "log level")
	logDev := fs.Bool("log-dev", false, "console logging")
	if err := fs.Parse(os.Args[1:]); err != nil {
		return err
	}

	log, err := logging.New(*logLevel, *logDev)
	if err != nil {
		return err
	}
	defer log.Sync()

	g := catalog.Game{
		Name:       sc.GameName,
		Kind:       catalog.Kind(sc.GameKind),
		MaxPlayers: sc.MaxPlayers,
	}
	if sc.Tuning != "" {
		if err := json.Unmarshal([]byte(sc.Tuning), &g.Tuning); err != nil {
			return fmt.Errorf("TUNING: %w", err)
		}
	}
	game, err := launch.NewGame(g, sc.Seed)
	if err != nil {
		return err
	}

	cfg := session.Config{
		RoomID:        sc.RoomID,
		KeepRoom:      *keepRoom,
		Tick:          sc.Tick,
		SnapshotEvery: sc.SnapshotEvery,
		ForfeitGrace:  sc.ForfeitGrace,
		FinalGrace:    sc.FinalGrace,
	}
	switch *framing {
	case "length":
		cfg.Framing = wire.LengthPrefixed
	case "newline":
		cfg.Framing = wire.NewlineDelimited
	default:
		return fmt.Errorf("unknown framing %q", *framing)
	}

	ln, err := net.Listen("tcp", net.JoinHostPort(sc.Host, strconv.Itoa(sc.Port)))
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}

	var notify session.Notifier
	if sc.LobbyPort > 0 {
		notify = session.LobbyNotifier{Addr: net.JoinHostPort(sc.LobbyHost, strconv.Itoa(sc.LobbyPort))}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	s := session.New(ln, game, cfg, log, notify)
	log.Info("session listening",
		zap.String("room", sc.RoomID),
		zap.String("game", sc.GameName),
		zap.Stringer("addr", s.Addr()))
	return s.Run(ctx)
}

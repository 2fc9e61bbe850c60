package launch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand/v2"
	"net"
	"os"
	"os/exec"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/DoyleJ11/matchroom/internal/catalog"
	"github.com/DoyleJ11/matchroom/internal/config"
	"github.com/DoyleJ11/matchroom/internal/lobby"
	"github.com/DoyleJ11/matchroom/internal/room"
	"github.com/DoyleJ11/matchroom/internal/session"
)

// Exec runs each session as a child process of the lobby. The child reports
// the result back through the lobby's control endpoint.
type Exec struct {
	Binary     string
	Args       []string
	Catalog    *catalog.Catalog
	BindHost   string
	PublicHost string
	// LobbyHost and LobbyPort are where the child sends game_finished.
	LobbyHost string
	LobbyPort int
	// StopGrace is how long a stopped child gets before it is killed.
	StopGrace time.Duration
	// Session carries the timing settings handed to every child.
	Session session.Config
	Log     *zap.Logger

	wg sync.WaitGroup
}

func (e *Exec) Launch(ctx context.Context, r room.Room) (lobby.Match, error) {
	g, ok := e.Catalog.Get(r.Game)
	if !ok {
		return lobby.Match{}, fmt.Errorf("%w: %s", catalog.ErrUnknownGame, r.Game)
	}
	port, err := freePort(e.BindHost)
	if err != nil {
		return lobby.Match{}, err
	}
	sc, err := e.sessionEnv(r.ID, g, port)
	if err != nil {
		return lobby.Match{}, err
	}

	log := e.logger().With(zap.String("room", r.ID))
	pctx, stop := context.WithCancel(context.Background())
	cmd := exec.CommandContext(pctx, e.Binary, e.Args...)
	cmd.Env = append(os.Environ(), sc.Environ()...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	cmd.Cancel = func() error { return cmd.Process.Signal(os.Interrupt) }
	cmd.WaitDelay = e.stopGrace()
	if err := cmd.Start(); err != nil {
		stop()
		return lobby.Match{}, fmt.Errorf("start %s: %w", e.Binary, err)
	}

	exited := make(chan error, 1)
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		defer stop()
		err := cmd.Wait()
		if err != nil && pctx.Err() == nil {
			log.Warn("session process exited", zap.Error(err))
		}
		exited <- err
	}()

	addr := net.JoinHostPort(dialHost(e.BindHost), strconv.Itoa(port))
	wctx, cancel := context.WithCancel(ctx)
	defer cancel()
	reach := make(chan error, 1)
	go func() { reach <- WaitReachable(wctx, addr) }()

	select {
	case err := <-reach:
		if err != nil {
			stop()
			return lobby.Match{}, err
		}
	case err := <-exited:
		cancel()
		if err == nil {
			err = errors.New("exit status 0")
		}
		return lobby.Match{}, fmt.Errorf("session process exited before listening: %w", err)
	}
	log.Info("session process up", zap.Int("pid", cmd.Process.Pid), zap.Int("port", port))
	return lobby.Match{Host: e.publicHost(), Port: port, Stop: stop}, nil
}

// sessionEnv describes the match for a child listening on port.
func (e *Exec) sessionEnv(roomID string, g catalog.Game, port int) (config.Session, error) {
	tuning, err := json.Marshal(g.Tuning)
	if err != nil {
		return config.Session{}, err
	}
	seed := g.Tuning.Seed
	if seed == 0 {
		seed = rand.Int64()
	}
	return config.Session{
		RoomID:        roomID,
		GameName:      g.Name,
		GameKind:      string(g.Kind),
		MaxPlayers:    g.MaxPlayers,
		Host:          e.BindHost,
		Port:          port,
		LobbyHost:     e.LobbyHost,
		LobbyPort:     e.LobbyPort,
		Seed:          seed,
		Tuning:        string(tuning),
		Tick:          e.Session.Tick,
		SnapshotEvery: e.Session.SnapshotEvery,
		ForfeitGrace:  e.Session.ForfeitGrace,
		FinalGrace:    e.Session.FinalGrace,
	}, nil
}

// Wait blocks until every child process has been reaped.
func (e *Exec) Wait() { e.wg.Wait() }

func (e *Exec) logger() *zap.Logger {
	if e.Log == nil {
		return zap.NewNop()
	}
	return e.Log
}

func (e *Exec) stopGrace() time.Duration {
	if e.StopGrace <= 0 {
		return 3 * time.Second
	}
	return e.StopGrace
}

func (e *Exec) publicHost() string {
	if e.PublicHost != "" {
		return e.PublicHost
	}
	return dialHost(e.BindHost)
}

// freePort asks the kernel for an unused port. Another process may take it
// before the child binds; the launch then fails and the room rolls back.
func freePort(host string) (int, error) {
	ln, err := net.Listen("tcp", net.JoinHostPort(host, "0"))
	if err != nil {
		return 0, fmt.Errorf("allocate port: %w", err)
	}
	defer ln.Close()
	return ln.Addr().(*net.TCPAddr).Port, nil
}

package launch

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"sync"

	"go.uber.org/zap"

	"github.com/DoyleJ11/matchroom/internal/catalog"
	"github.com/DoyleJ11/matchroom/internal/lobby"
	"github.com/DoyleJ11/matchroom/internal/room"
	"github.com/DoyleJ11/matchroom/internal/session"
)

// InProcess runs each session as a set of goroutines in the lobby process.
type InProcess struct {
	catalog    *catalog.Catalog
	bindHost   string
	publicHost string
	template   session.Config
	notify     session.Notifier
	log        *zap.Logger

	base context.Context
	wg   sync.WaitGroup
}

type InProcessConfig struct {
	Catalog    *catalog.Catalog
	BindHost   string
	PublicHost string
	// Session is copied for every match; RoomID is filled in per room.
	Session  session.Config
	Notifier session.Notifier
	Log      *zap.Logger
}

// NewInProcess ties every session to base: cancelling it abandons them all.
func NewInProcess(base context.Context, cfg InProcessConfig) *InProcess {
	if cfg.Log == nil {
		cfg.Log = zap.NewNop()
	}
	if cfg.PublicHost == "" {
		cfg.PublicHost = dialHost(cfg.BindHost)
	}
	return &InProcess{
		catalog:    cfg.Catalog,
		bindHost:   cfg.BindHost,
		publicHost: cfg.PublicHost,
		template:   cfg.Session,
		notify:     cfg.Notifier,
		log:        cfg.Log,
		base:       base,
	}
}

func (p *InProcess) Launch(ctx context.Context, r room.Room) (lobby.Match, error) {
	g, ok := p.catalog.Get(r.Game)
	if !ok {
		return lobby.Match{}, fmt.Errorf("%w: %s", catalog.ErrUnknownGame, r.Game)
	}
	game, err := NewGame(g, 0)
	if err != nil {
		return lobby.Match{}, err
	}
	ln, err := net.Listen("tcp", net.JoinHostPort(p.bindHost, "0"))
	if err != nil {
		return lobby.Match{}, fmt.Errorf("listen: %w", err)
	}
	port := ln.Addr().(*net.TCPAddr).Port

	cfg := p.template
	cfg.RoomID = r.ID
	s := session.New(ln, game, cfg, p.log, p.notify)

	sctx, cancel := context.WithCancel(p.base)
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		defer cancel()
		if err := s.Run(sctx); err != nil {
			p.log.Error("session stopped", zap.String("room", r.ID), zap.Error(err))
		}
	}()

	addr := net.JoinHostPort(dialHost(p.bindHost), strconv.Itoa(port))
	if err := WaitReachable(ctx, addr); err != nil {
		cancel()
		return lobby.Match{}, err
	}
	p.log.Info("session listening", zap.String("room", r.ID), zap.String("game", g.Name), zap.Int("port", port))
	return lobby.Match{Host: p.publicHost, Port: port, Stop: cancel}, nil
}

// Wait blocks until every launched session has returned.
func (p *InProcess) Wait() { p.wg.Wait() }

package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/DoyleJ11/matchroom/internal/catalog"
	"github.com/DoyleJ11/matchroom/internal/config"
	"github.com/DoyleJ11/matchroom/internal/control"
	"github.com/DoyleJ11/matchroom/internal/history"
	"github.com/DoyleJ11/matchroom/internal/httpapi"
	"github.com/DoyleJ11/matchroom/internal/hub"
	"github.com/DoyleJ11/matchroom/internal/lobby"
	"github.com/DoyleJ11/matchroom/internal/logging"
	"github.com/DoyleJ11/matchroom/internal/session"
	"github.com/DoyleJ11/matchroom/internal/session/launch"
	"github.com/DoyleJ11/matchroom/internal/types"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "matchroom:", err)
		os.Exit(1)
	}
}

type waiter interface{ Wait() }

func run() error {
	if err := config.LoadDotEnv(); err != nil {
		return err
	}
	cfg, err := config.LoadServer()
	if err != nil {
		return err
	}
	log, err := logging.New(cfg.LogLevel, cfg.LogDev)
	if err != nil {
		return err
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cat := catalog.Default()
	if cfg.CatalogFile != "" {
		if cat, err = catalog.Load(cfg.CatalogFile); err != nil {
			return err
		}
	}

	var store history.Store = history.NewMemory()
	if cfg.DatabaseURL != "" {
		pg, err := history.OpenPostgres(cfg.DatabaseURL)
		if err != nil {
			return err
		}
		defer pg.Close()
		store = pg
	}

	ln, err := net.Listen("tcp", cfg.LobbyAddr)
	if err != nil {
		return fmt.Errorf("listen control: %w", err)
	}

	// the in-process notifier needs the hub, which needs the launcher
	var h *hub.Hub
	var launcher lobby.Launcher
	timing := session.Config{
		Tick:          cfg.Tick,
		SnapshotEvery: cfg.SnapshotEvery,
		ForfeitGrace:  cfg.ForfeitGrace,
		FinalGrace:    cfg.FinalGrace,
	}
	switch cfg.SessionMode {
	case config.ModeExec:
		host, port, err := lobbyEndpoint(ln.Addr())
		if err != nil {
			return err
		}
		launcher = &launch.Exec{
			Binary:     cfg.SessionBinary,
			Catalog:    cat,
			BindHost:   cfg.SessionBindHost,
			PublicHost: cfg.PublicHost,
			LobbyHost:  host,
			LobbyPort:  port,
			Session:    timing,
			Log:        log,
		}
	default:
		launcher = launch.NewInProcess(ctx, launch.InProcessConfig{
			Catalog:    cat,
			BindHost:   cfg.SessionBindHost,
			PublicHost: cfg.PublicHost,
			Session:    timing,
			Notifier: session.NotifierFunc(func(ctx context.Context, m types.GameFinished) error {
				return h.Finished(ctx, m)
			}),
			Log: log,
		})
	}

	h = hub.NewHub(ctx, hub.Config{
		Catalog: cat,
		History: store,
		Lobby: lobby.Config{
			Launcher:      launcher,
			LaunchTimeout: cfg.LaunchTimeout,
			MatchTimeout:  cfg.MatchTimeout,
		},
		Log: log,
	})

	ctl := control.NewServer(control.Dispatcher{Hub: h}, log)
	httpSrv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           httpapi.SetupRoutes(h, log),
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return ctl.Serve(gctx, ln) })
	g.Go(func() error {
		log.Info("http listening", zap.String("addr", cfg.HTTPAddr))
		if err := httpSrv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return httpSrv.Shutdown(sctx)
	})

	err = g.Wait()
	log.Info("shutting down")
	h.Shutdown()
	if w, ok := launcher.(waiter); ok {
		w.Wait()
	}
	return err
}

// lobbyEndpoint is where child sessions reach the control listener.
func lobbyEndpoint(addr net.Addr) (string, int, error) {
	host, portStr, err := net.SplitHostPort(addr.String())
	if err != nil {
		return "", 0, err
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return "", 0, err
	}
	if ip := net.ParseIP(host); ip == nil || ip.IsUnspecified() {
		host = "127.0.0.1"
	}
	return host, port, nil
}

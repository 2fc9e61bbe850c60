package control

import (
	"context"
	"errors"
	"io"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/DoyleJ11/matchroom/internal/room"
	"github.com/DoyleJ11/matchroom/internal/types"
	"github.com/DoyleJ11/matchroom/internal/wire"
)

// Server accepts control connections. A connection carries any number of
// requests until it subscribes, after which it only receives room updates.
type Server struct {
	d            Dispatcher
	log          *zap.Logger
	WriteTimeout time.Duration
	// SubscriberQueue bounds pending updates per subscriber before it is dropped.
	SubscriberQueue int

	mu    sync.Mutex
	conns map[net.Conn]struct{}
	wg    sync.WaitGroup
}

func NewServer(d Dispatcher, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	return &Server{
		d:               d,
		log:             log.Named("control"),
		WriteTimeout:    3 * time.Second,
		SubscriberQueue: 16,
		conns:           make(map[net.Conn]struct{}),
	}
}

// Serve runs until ctx is cancelled or ln fails, then closes every open
// connection and waits for their handlers.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	stop := context.AfterFunc(ctx, func() { ln.Close() })
	defer stop()
	s.log.Info("control listening", zap.Stringer("addr", ln.Addr()))

	var err error
	for {
		nc, aerr := ln.Accept()
		if aerr != nil {
			if ctx.Err() == nil && !errors.Is(aerr, net.ErrClosed) {
				err = aerr
			}
			break
		}
		s.track(nc, true)
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			defer s.track(nc, false)
			s.serveConn(ctx, nc)
		}()
	}

	s.mu.Lock()
	for c := range s.conns {
		err = multierr.Append(err, ignoreClosed(c.Close()))
	}
	s.mu.Unlock()
	s.wg.Wait()
	return err
}

func (s *Server) track(c net.Conn, add bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if add {
		s.conns[c] = struct{}{}
	} else {
		delete(s.conns, c)
	}
}

func ignoreClosed(err error) error {
	if errors.Is(err, net.ErrClosed) {
		return nil
	}
	return err
}

func (s *Server) serveConn(ctx context.Context, nc net.Conn) {
	defer nc.Close()
	c := wire.NewConn(nc, wire.NewlineDelimited)
	log := s.log.With(zap.Stringer("remote", nc.RemoteAddr()))

	for {
		frame, err := c.ReadFrame()
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) {
				log.Debug("control read", zap.Error(err))
			}
			return
		}
		req, err := types.DecodeRequest(frame)
		if err != nil {
			// the frame boundary is intact, so the connection survives
			if s.write(c, types.ErrorReply(CodeBadRequest, err)) != nil {
				return
			}
			continue
		}
		if sub, ok := req.(types.SubscribeRoom); ok {
			s.subscribe(ctx, c, sub, log)
			return
		}
		rep := s.d.Handle(ctx, req)
		if !rep.OK {
			log.Debug("request refused", zap.String("code", rep.Code), zap.String("error", rep.Error))
		}
		if err := s.write(c, rep); err != nil {
			log.Debug("control write", zap.Error(err))
			return
		}
	}
}

func (s *Server) write(c *wire.Conn, v any) error {
	if err := c.SetWriteDeadline(time.Now().Add(s.WriteTimeout)); err != nil {
		return err
	}
	return wire.WriteJSON(c, v)
}

// subscribe turns the connection into a push channel for one room. It
// returns when the room goes away, the subscriber falls behind or the peer
// disconnects.
func (s *Server) subscribe(ctx context.Context, c *wire.Conn, req types.SubscribeRoom, log *zap.Logger) {
	if req.RoomID == "" {
		_ = s.write(c, types.ErrorReply(CodeBadRequest, errors.New("room_id is required")))
		return
	}
	id := uuid.NewString()
	out := make(chan room.Room, s.SubscriberQueue)
	if err := s.d.Hub.Subscribe(ctx, req.RoomID, id, out); err != nil {
		_ = s.write(c, fail(err))
		return
	}
	defer s.d.Hub.Unsubscribe(context.WithoutCancel(ctx), req.RoomID, id)

	rep := types.OKReply("subscribed")
	rep.RoomID = req.RoomID
	if err := s.write(c, rep); err != nil {
		return
	}
	log = log.With(zap.String("room", req.RoomID))
	log.Debug("subscribed")

	// the peer has nothing more to say; a read error means it went away
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, err := c.ReadFrame(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case r, ok := <-out:
			if !ok {
				log.Debug("subscription ended")
				return
			}
			upd, err := types.NewRoomUpdate(r)
			if err != nil {
				log.Error("encode room update", zap.Error(err))
				return
			}
			if err := s.write(c, upd); err != nil {
				return
			}
		case <-gone:
			return
		case <-ctx.Done():
			return
		}
	}
}

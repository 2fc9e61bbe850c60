package session

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/DoyleJ11/matchroom/internal/types"
	"github.com/DoyleJ11/matchroom/internal/wire"
)

type seat struct {
	identity string
	name     string
	conn     *conn
}

type joinReq struct {
	c     *conn
	hello types.Hello
	reply chan bool
}

type Session struct {
	cfg    Config
	game   Game
	roles  []string
	ln     net.Listener
	log    *zap.Logger
	notify Notifier

	joins  chan joinReq
	leaves chan *conn
	inputs map[string]chan types.Input

	started   atomic.Bool
	accepting atomic.Bool
	ended     chan struct{}
	endOnce   sync.Once
	done      chan struct{}

	// owned by the tick goroutine
	seats      map[string]*seat
	byIdentity map[string]string
	spectators map[*conn]struct{}
	specCount  int
	forfeit    *ForfeitTimers
	lastSnap   time.Time

	mu     sync.Mutex
	conns  map[*conn]struct{}
	result *types.MatchEnd

	wg sync.WaitGroup
}

// New prepares a session on an already listening socket. notify may be nil.
func New(ln net.Listener, game Game, cfg Config, log *zap.Logger, notify Notifier) *Session {
	cfg = cfg.withDefaults()
	s := &Session{
		cfg:        cfg,
		game:       game,
		roles:      game.Roles(),
		ln:         ln,
		log:        log.With(zap.String("room", cfg.RoomID)),
		notify:     notify,
		joins:      make(chan joinReq),
		leaves:     make(chan *conn, 16),
		inputs:     make(map[string]chan types.Input),
		ended:      make(chan struct{}),
		done:       make(chan struct{}),
		seats:      make(map[string]*seat),
		byIdentity: make(map[string]string),
		spectators: make(map[*conn]struct{}),
		forfeit:    NewForfeitTimers(),
		conns:      make(map[*conn]struct{}),
	}
	for _, r := range s.roles {
		s.inputs[r] = make(chan types.Input, cfg.InputQueue)
	}
	s.accepting.Store(true)
	return s
}

func (s *Session) Addr() net.Addr { return s.ln.Addr() }

// Done is closed once Run has returned and every connection is gone.
func (s *Session) Done() <-chan struct{} { return s.done }

// Result returns the MATCH_END that was broadcast, if the match finished.
func (s *Session) Result() (types.MatchEnd, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.result == nil {
		return types.MatchEnd{}, false
	}
	return *s.result, true
}

// Run serves the match until it ends or ctx is cancelled. A cancelled
// session is abandoned: connections are dropped and nobody is notified.
func (s *Session) Run(ctx context.Context) error {
	defer close(s.done)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return s.acceptLoop(gctx) })
	g.Go(func() error { return s.loop(gctx) })
	err := g.Wait()
	s.wg.Wait()
	return err
}

func (s *Session) acceptLoop(ctx context.Context) error {
	for {
		raw, err := s.ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) || ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("accept: %w", err)
		}
		s.wg.Add(1)
		go s.serve(raw)
	}
}

func (s *Session) loop(ctx context.Context) error {
	ticker := time.NewTicker(s.cfg.Tick)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			s.log.Info("session abandoned")
			s.stopAccepting()
			s.teardown()
			return nil
		case j := <-s.joins:
			j.reply <- s.join(j.c, j.hello)
		case c := <-s.leaves:
			s.leave(c)
		case <-ticker.C:
			if s.tick(s.cfg.Clock.Now()) {
				s.finish(ctx)
				return nil
			}
		}
	}
}

// tick reports whether the match has ended.
func (s *Session) tick(now time.Time) bool {
	if !s.started.Load() {
		if !s.allSeated() {
			return false
		}
		s.game.Start(now)
		s.started.Store(true)
		s.log.Info("match started")
	}

	if disc := s.forfeit.Disconnected(s.roles); len(disc) > 0 {
		expired := s.forfeit.Expired(s.roles, now, s.cfg.ForfeitGrace)
		end, outs := s.game.Forfeit(expired, disc, now)
		s.dispatch(outs)
		if end {
			s.log.Info("match ended by forfeit", zap.Strings("expired", expired), zap.Strings("disconnected", disc))
			return true
		}
	}

	for _, role := range s.roles {
		q := s.inputs[role]
	drain:
		for i := 0; i < s.cfg.InputBurst; i++ {
			select {
			case in := <-q:
				s.dispatch(s.game.Apply(role, in, now))
			default:
				break drain
			}
		}
	}

	s.dispatch(s.game.Advance(now))
	if s.game.Finished(now) {
		return true
	}

	if now.Sub(s.lastSnap) >= s.cfg.SnapshotEvery {
		s.lastSnap = now
		s.broadcast(s.game.Snapshot(now, s.seatList()))
	}
	return false
}

func (s *Session) allSeated() bool {
	for _, r := range s.roles {
		st := s.seats[r]
		if st == nil || st.conn == nil {
			return false
		}
	}
	return true
}

// join assigns a role: the role this identity already holds, else the next
// open primary role, else a spectator slot.
func (s *Session) join(c *conn, hello types.Hello) bool {
	if !s.accepting.Load() {
		return false
	}
	c.identity, c.name = hello.Identity, hello.DisplayName

	if role, ok := s.byIdentity[hello.Identity]; ok {
		st := s.seats[role]
		if st.conn != nil {
			_ = st.conn.kill()
		}
		st.conn, st.name = c, hello.DisplayName
		s.forfeit.Clear(role)
		c.role = role
		s.log.Info("player reconnected", zap.String("role", role), zap.String("identity", hello.Identity))
	} else if role, ok := s.openRole(); ok {
		s.seats[role] = &seat{identity: hello.Identity, name: hello.DisplayName, conn: c}
		s.byIdentity[hello.Identity] = role
		c.role = role
		s.log.Info("player joined", zap.String("role", role), zap.String("identity", hello.Identity))
	} else {
		s.specCount++
		c.role = fmt.Sprintf("SPEC_%d", s.specCount)
		c.spectator = true
		s.spectators[c] = struct{}{}
		s.log.Info("spectator joined", zap.String("role", c.role), zap.String("identity", hello.Identity))
	}
	c.sendMsg(s.game.Welcome(c.role, c.spectator))
	return true
}

func (s *Session) openRole() (string, bool) {
	for _, r := range s.roles {
		if s.seats[r] == nil {
			return r, true
		}
	}
	return "", false
}

func (s *Session) leave(c *conn) {
	if c.spectator {
		delete(s.spectators, c)
		return
	}
	st := s.seats[c.role]
	if st == nil || st.conn != c {
		// replaced by a reconnect
		return
	}
	st.conn = nil
	if !s.started.Load() {
		delete(s.seats, c.role)
		delete(s.byIdentity, st.identity)
		s.log.Info("player left before start", zap.String("role", c.role))
		return
	}
	s.forfeit.MarkDisconnected(c.role, s.cfg.Clock.Now())
	s.log.Info("player disconnected", zap.String("role", c.role), zap.String("identity", st.identity))
}

func (s *Session) seatList() []Seat {
	out := make([]Seat, 0, len(s.roles))
	for _, r := range s.roles {
		st := s.seats[r]
		if st == nil {
			out = append(out, Seat{Role: r})
			continue
		}
		out = append(out, Seat{Role: r, Identity: st.identity, Name: st.name, Connected: st.conn != nil})
	}
	return out
}

func (s *Session) dispatch(outs []Out) {
	for _, o := range outs {
		if o.To == "" {
			s.broadcast(o.Msg)
			continue
		}
		if st := s.seats[o.To]; st != nil && st.conn != nil {
			st.conn.sendMsg(o.Msg)
		}
	}
}

func (s *Session) broadcast(m types.ServerMessage) {
	frame, err := types.EncodeServer(m)
	if err != nil {
		s.log.Error("encode broadcast", zap.Error(err))
		return
	}
	for _, r := range s.roles {
		if st := s.seats[r]; st != nil && st.conn != nil {
			st.conn.send(frame)
		}
	}
	for c := range s.spectators {
		c.send(frame)
	}
}

func (s *Session) stopAccepting() {
	s.endOnce.Do(func() {
		s.accepting.Store(false)
		close(s.ended)
	})
}

// finish runs the end-of-match sequence exactly once.
func (s *Session) finish(ctx context.Context) {
	s.stopAccepting()

	seats := s.seatList()
	end := decorate(s.game.Outcome(seats), seats)
	s.mu.Lock()
	s.result = &end
	s.mu.Unlock()
	s.log.Info("match over",
		zap.String("reason", end.Reason),
		zap.Stringp("winner", end.WinnerRole),
		zap.String("detail", end.WinnerReason))

	s.broadcast(end)
	for c := range s.spectators {
		c.sendMsg(types.SpectatorKicked{Reason: "Game ended"})
		c.close()
	}
	clear(s.spectators)

	if s.notify != nil {
		nctx, cancel := context.WithTimeout(ctx, s.cfg.NotifyTimeout)
		if err := s.notify.Finished(nctx, s.finishedMsg(end, seats)); err != nil {
			s.log.Warn("notify lobby", zap.Error(err))
		}
		cancel()
	}

	t := time.NewTimer(s.cfg.FinalGrace)
	select {
	case <-t.C:
	case <-ctx.Done():
		t.Stop()
	}
	s.teardown()
}

func (s *Session) teardown() {
	err := s.ln.Close()
	s.mu.Lock()
	for c := range s.conns {
		err = multierr.Append(err, c.kill())
	}
	s.mu.Unlock()
	if err != nil {
		s.log.Debug("teardown", zap.Error(err))
	}
}

func (s *Session) finishedMsg(end types.MatchEnd, seats []Seat) types.GameFinished {
	players := make([]string, 0, len(seats))
	for _, st := range seats {
		if st.Identity != "" {
			players = append(players, st.Identity)
		}
	}
	return types.GameFinished{
		RoomID:         s.cfg.RoomID,
		KickAll:        !s.cfg.KeepRoom,
		Reason:         end.Reason,
		WinnerRole:     end.WinnerRole,
		WinnerIdentity: end.WinnerIdentity,
		Results:        end.Results,
		Players:        players,
	}
}

// decorate fills identities and names the game does not know about.
func decorate(end types.MatchEnd, seats []Seat) types.MatchEnd {
	byRole := make(map[string]Seat, len(seats))
	for _, st := range seats {
		byRole[st.Role] = st
	}
	for i, r := range end.Results {
		st := byRole[r.Role]
		if r.Identity == "" {
			end.Results[i].Identity = st.Identity
		}
		if r.Name == "" {
			end.Results[i].Name = st.Name
		}
	}
	if end.WinnerRole != nil && end.WinnerIdentity == nil {
		if id := byRole[*end.WinnerRole].Identity; id != "" {
			end.WinnerIdentity = &id
		}
	}
	if end.Results == nil {
		end.Results = []types.RoleResult{}
	}
	return end
}

func (s *Session) track(c *conn) {
	s.mu.Lock()
	s.conns[c] = struct{}{}
	s.mu.Unlock()
}

func (s *Session) untrack(c *conn) {
	s.mu.Lock()
	delete(s.conns, c)
	s.mu.Unlock()
}

func (s *Session) serve(raw net.Conn) {
	defer s.wg.Done()
	c := newConn(wire.NewConn(raw, s.cfg.Framing), s.cfg.OutQueue, s.log)
	s.track(c)
	defer s.untrack(c)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		c.writeLoop(s.cfg.WriteTimeout)
	}()
	defer c.kill()

	if !s.accepting.Load() {
		s.refuse(c)
		return
	}

	_ = raw.SetReadDeadline(time.Now().Add(s.cfg.HandshakeTimeout))
	frame, err := c.nc.ReadFrame()
	if err != nil {
		c.log.Debug("handshake read", zap.Error(err))
		return
	}
	msg, err := types.DecodeClient(frame)
	hello, ok := msg.(types.Hello)
	if err != nil || !ok || hello.Identity == "" {
		c.sendMsg(types.ErrorMsg{Code: types.CodeBadRequest, Msg: "need HELLO"})
		c.closeAndFlush(s.cfg.WriteTimeout, s.done)
		return
	}
	_ = raw.SetReadDeadline(time.Time{})

	reply := make(chan bool, 1)
	select {
	case s.joins <- joinReq{c: c, hello: hello, reply: reply}:
	case <-s.ended:
		s.refuse(c)
		return
	}
	if !<-reply {
		s.refuse(c)
		return
	}

	s.readLoop(c)

	select {
	case s.leaves <- c:
	case <-s.ended:
	}
}

func (s *Session) refuse(c *conn) {
	c.sendMsg(types.ErrorMsg{Code: types.CodeGameEnded, Msg: "This game has already ended"})
	c.closeAndFlush(s.cfg.WriteTimeout, s.done)
}

func (s *Session) readLoop(c *conn) {
	for {
		frame, err := c.nc.ReadFrame()
		if err != nil {
			if wire.IsProtocolError(err) {
				c.log.Info("protocol error, closing", zap.Error(err))
			}
			return
		}
		msg, err := types.DecodeClient(frame)
		if err != nil {
			c.log.Debug("bad message", zap.Error(err))
			c.sendMsg(types.ErrorMsg{Code: types.CodeBadRequest, Msg: "bad json"})
			continue
		}
		switch m := msg.(type) {
		case types.Input:
			if c.spectator || !s.started.Load() {
				continue
			}
			if m.Seq <= c.lastAck {
				c.log.Debug("duplicate input", zap.Int64("seq", m.Seq))
				continue
			}
			select {
			case s.inputs[c.role] <- m:
				c.lastAck = m.Seq
			default:
				c.log.Debug("input queue full", zap.String("role", c.role))
			}
		case types.Ping:
			c.sendMsg(types.Pong{T: m.T})
		case types.Bye:
			return
		default:
			// unknown or repeated HELLO
		}
	}
}

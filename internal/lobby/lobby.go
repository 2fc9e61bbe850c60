// Package lobby runs one actor goroutine per room. The actor is the only
// writer of its room: it applies room commands, fans room updates out to
// subscribers, drives the session launch and owns the forced-close timer.
package lobby

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/DoyleJ11/matchroom/internal/room"
)

var (
	ErrLaunchFailed = errors.New("launch failed")
	ErrClosed       = errors.New("lobby closed")
)

// Match is a running session as seen by the lobby.
type Match struct {
	Host string
	Port int
	// Stop abandons the session. It must be safe to call more than once.
	Stop func()
}

// Launcher starts a session for a room whose members agreed to start.
// Launch returns once the session is reachable or ctx expires.
type Launcher interface {
	Launch(ctx context.Context, r room.Room) (Match, error)
}

type Msg interface{ isLobbyMsg() }

type Request struct {
	Cmd   room.Command
	Reply chan Result // buffered, capacity 1
}

func (Request) isLobbyMsg() {}

type Result struct {
	Room   room.Room
	Events []room.Event
	Err    error
}

type Subscribe struct {
	ID     string
	Outbox chan room.Room // receives the current room immediately, then every change
}

func (Subscribe) isLobbyMsg() {}

type Unsubscribe struct{ ID string }

func (Unsubscribe) isLobbyMsg() {}

type Shutdown struct{}

func (Shutdown) isLobbyMsg() {}

type GetState struct {
	Reply chan View
}

func (GetState) isLobbyMsg() {}

type launchDone struct {
	gen   int
	match Match
	err   error
}

type matchTimeout struct{ gen int }

func (matchTimeout) isLobbyMsg() {}

type View struct {
	Version        int
	NumSubscribers int
	Launching      bool
	Room           room.Room
}

type Config struct {
	Launcher      Launcher
	LaunchTimeout time.Duration
	// MatchTimeout force-closes a room that stays in_game this long.
	MatchTimeout time.Duration
	Now          func() time.Time
	Log          *zap.Logger

	// OnLaunched runs on the lobby goroutine after a session is up.
	OnLaunched func(room.Room)
	// OnClosed runs once, after the room was closed or destroyed.
	OnClosed func(id string)
}

func (c Config) withDefaults() Config {
	if c.LaunchTimeout <= 0 {
		c.LaunchTimeout = 10 * time.Second
	}
	if c.MatchTimeout <= 0 {
		c.MatchTimeout = 5 * time.Minute
	}
	if c.Now == nil {
		c.Now = time.Now
	}
	if c.Log == nil {
		c.Log = zap.NewNop()
	}
	return c
}

type pending struct {
	reply  chan Result
	events []room.Event
}

type Lobby struct {
	cfg     Config
	log     *zap.Logger
	inbox   chan Msg
	results chan launchDone // unbuffered so a late result never outlives the actor
	room    room.Room
	version int
	subs    map[string]chan room.Room

	launchGen int
	launching *pending
	match     *Match
	timerGen  int
	timer     *time.Timer

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

func NewLobby(parent context.Context, initial room.Room, cfg Config) *Lobby {
	cfg = cfg.withDefaults()
	ctx, cancel := context.WithCancel(parent)

	l := &Lobby{
		cfg:     cfg,
		log:     cfg.Log.With(zap.String("room", initial.ID)),
		inbox:   make(chan Msg, 64),
		results: make(chan launchDone),
		room:    initial.Clone(),
		subs:    make(map[string]chan room.Room),
		ctx:     ctx,
		cancel:  cancel,
		done:    make(chan struct{}),
	}

	go l.loop()
	return l
}

func (l *Lobby) loop() {
	defer close(l.done)
	for {
		select {
		case <-l.ctx.Done():
			l.shutdown()
			return

		case res := <-l.results:
			l.launched(res)

		case m := <-l.inbox:
			switch msg := m.(type) {
			case Subscribe:
				l.subs[msg.ID] = msg.Outbox
				select {
				case msg.Outbox <- l.room.Clone():
				default:
				}

			case Unsubscribe:
				delete(l.subs, msg.ID)

			case Request:
				if l.handle(msg) {
					l.shutdown()
					return
				}

			case matchTimeout:
				if l.expire(msg) {
					l.shutdown()
					return
				}

			case GetState:
				msg.Reply <- View{
					Version:        l.version,
					NumSubscribers: len(l.subs),
					Launching:      l.launching != nil,
					Room:           l.room.Clone(),
				}

			case Shutdown:
				l.shutdown()
				return
			}
		}
	}
}

// handle applies one request and reports whether the room is gone.
func (l *Lobby) handle(req Request) bool {
	cmd := req.Cmd
	if cmd.At.IsZero() {
		cmd.At = l.cfg.Now()
	}
	evs, next, err := room.Apply(l.room, cmd)
	if err != nil {
		req.Reply <- Result{Room: l.room.Clone(), Err: err}
		return false
	}
	if len(evs) == 0 {
		req.Reply <- Result{Room: l.room.Clone()}
		return false
	}
	l.commit(next)
	l.log.Debug("room command", zap.String("cmd", string(cmd.Type)), zap.String("identity", cmd.Identity))

	if room.ContainsEvent(evs, room.EvtAbandoned) || cmd.Type == room.CmdForceClose {
		l.stopMatch()
	}
	if cmd.Type == room.CmdFinished {
		// the session ended on its own and is tearing itself down
		l.match = nil
		l.disarm()
	}
	if room.ContainsEvent(evs, room.EvtClosed) || room.ContainsEvent(evs, room.EvtDestroyed) {
		req.Reply <- Result{Room: l.room.Clone(), Events: evs}
		return true
	}
	if room.ContainsEvent(evs, room.EvtAgreed) {
		l.startLaunch(req.Reply, evs)
		return false
	}
	req.Reply <- Result{Room: l.room.Clone(), Events: evs}
	return false
}

func (l *Lobby) commit(next room.Room) {
	l.room = next
	l.version++
	l.broadcast(l.room)
}

// startLaunch runs the launcher off the actor goroutine. The reply to the
// final accepter is held until the launch settles.
func (l *Lobby) startLaunch(reply chan Result, evs []room.Event) {
	if l.cfg.Launcher == nil {
		l.abortLaunch(&pending{reply: reply, events: evs}, errors.New("no launcher configured"))
		return
	}
	if old := l.launching; old != nil {
		old.reply <- Result{Room: l.room.Clone(), Events: old.events, Err: fmt.Errorf("%w: superseded", ErrLaunchFailed)}
	}
	l.launchGen++
	gen := l.launchGen
	l.launching = &pending{reply: reply, events: evs}
	snapshot := l.room.Clone()
	l.log.Info("launching session", zap.Strings("players", snapshot.Players))

	go func() {
		ctx, cancel := context.WithTimeout(l.ctx, l.cfg.LaunchTimeout)
		defer cancel()
		m, err := l.cfg.Launcher.Launch(ctx, snapshot)
		select {
		case l.results <- launchDone{gen: gen, match: m, err: err}:
		case <-l.done:
			if err == nil && m.Stop != nil {
				m.Stop()
			}
		}
	}()
}

func (l *Lobby) launched(msg launchDone) {
	if msg.gen != l.launchGen || l.launching == nil {
		if msg.err == nil && msg.match.Stop != nil {
			msg.match.Stop()
		}
		return
	}
	p := l.launching
	l.launching = nil

	if msg.err != nil {
		l.abortLaunch(p, msg.err)
		return
	}
	evs, next, err := room.Apply(l.room, room.Command{
		Type: room.CmdLaunched,
		Host: msg.match.Host,
		Port: msg.match.Port,
		At:   l.cfg.Now(),
	})
	if err != nil {
		// membership changed while the session was starting
		if msg.match.Stop != nil {
			msg.match.Stop()
		}
		p.reply <- Result{Room: l.room.Clone(), Events: p.events, Err: fmt.Errorf("%w: %v", ErrLaunchFailed, err)}
		return
	}
	l.commit(next)
	m := msg.match
	l.match = &m
	l.arm()
	l.log.Info("session up", zap.String("host", m.Host), zap.Int("port", m.Port))
	if l.cfg.OnLaunched != nil {
		l.cfg.OnLaunched(l.room.Clone())
	}
	p.reply <- Result{Room: l.room.Clone(), Events: append(p.events, evs...)}
}

func (l *Lobby) abortLaunch(p *pending, cause error) {
	l.log.Warn("launch failed", zap.Error(cause))
	evs := p.events
	if l.room.Start.State == room.StartAgreed {
		more, next, err := room.Apply(l.room, room.Command{Type: room.CmdLaunchFailed, At: l.cfg.Now()})
		if err == nil {
			l.commit(next)
			evs = append(evs, more...)
		}
	}
	p.reply <- Result{Room: l.room.Clone(), Events: evs, Err: fmt.Errorf("%w: %v", ErrLaunchFailed, cause)}
}

// arm starts the forced-close timer. Fires from an earlier generation are
// dropped in expire.
func (l *Lobby) arm() {
	l.disarm()
	gen := l.timerGen
	l.timer = time.AfterFunc(l.cfg.MatchTimeout, func() {
		select {
		case l.inbox <- matchTimeout{gen: gen}:
		case <-l.done:
		}
	})
}

func (l *Lobby) disarm() {
	l.timerGen++
	if l.timer != nil {
		l.timer.Stop()
		l.timer = nil
	}
}

// expire reports whether the room was force-closed.
func (l *Lobby) expire(msg matchTimeout) bool {
	if msg.gen != l.timerGen || l.room.Status != room.StatusInGame {
		return false
	}
	l.log.Warn("match exceeded time limit, closing room", zap.Duration("limit", l.cfg.MatchTimeout))
	_, next, err := room.Apply(l.room, room.Command{Type: room.CmdForceClose, At: l.cfg.Now()})
	if err != nil {
		return false
	}
	l.commit(next)
	l.stopMatch()
	return true
}

func (l *Lobby) stopMatch() {
	l.disarm()
	if l.match != nil && l.match.Stop != nil {
		l.match.Stop()
	}
	l.match = nil
}

func (l *Lobby) shutdown() {
	l.stopMatch()
	if l.launching != nil {
		l.launching.reply <- Result{Room: l.room.Clone(), Events: l.launching.events, Err: ErrLaunchFailed}
		l.launching = nil
	}
	for id, ch := range l.subs {
		close(ch) // no more updates
		delete(l.subs, id)
	}
	if l.cfg.OnClosed != nil {
		l.cfg.OnClosed(l.room.ID)
	}
	l.cancel()
}

func (l *Lobby) broadcast(r room.Room) {
	for id, ch := range l.subs {
		select {
		case ch <- r.Clone():
			//ok
		default:
			// Subscriber is slow/full - drop them.
			close(ch)
			delete(l.subs, id)
		}
	}
}

// Expose the inbox so tests or the transport layers can send messages.
func (l *Lobby) Inbox() chan<- Msg { return l.inbox }

// Done is closed once the actor has exited.
func (l *Lobby) Done() <-chan struct{} { return l.done }

// Do sends cmd to the actor and waits for its result.
func (l *Lobby) Do(ctx context.Context, cmd room.Command) (Result, error) {
	reply := make(chan Result, 1)
	select {
	case l.inbox <- Request{Cmd: cmd, Reply: reply}:
	case <-l.done:
		return Result{}, ErrClosed
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
	select {
	case res := <-reply:
		return res, nil
	case <-l.done:
		select {
		case res := <-reply:
			return res, nil
		default:
			return Result{}, ErrClosed
		}
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
}

func (l *Lobby) State(ctx context.Context) (View, error) {
	reply := make(chan View, 1)
	select {
	case l.inbox <- GetState{Reply: reply}:
	case <-l.done:
		return View{}, ErrClosed
	case <-ctx.Done():
		return View{}, ctx.Err()
	}
	select {
	case v := <-reply:
		return v, nil
	case <-l.done:
		return View{}, ErrClosed
	case <-ctx.Done():
		return View{}, ctx.Err()
	}
}

// Subscribe registers outbox for room updates. The outbox is closed when
// the subscriber is dropped or the room goes away.
func (l *Lobby) Subscribe(ctx context.Context, id string, outbox chan room.Room) error {
	select {
	case l.inbox <- Subscribe{ID: id, Outbox: outbox}:
		return nil
	case <-l.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (l *Lobby) Unsubscribe(id string) {
	select {
	case l.inbox <- Unsubscribe{ID: id}:
	case <-l.done:
	}
}

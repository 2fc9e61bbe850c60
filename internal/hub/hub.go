package hub

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/DoyleJ11/matchroom/internal/catalog"
	"github.com/DoyleJ11/matchroom/internal/history"
	"github.com/DoyleJ11/matchroom/internal/lobby"
	"github.com/DoyleJ11/matchroom/internal/room"
	"github.com/DoyleJ11/matchroom/internal/types"
)

var (
	ErrRoomNotFound = errors.New("room not found")
	ErrBadIdentity  = errors.New("identity required")
)

type HubMsg interface{ isHubMsg() }

type CreateLobby struct {
	Room  room.Room
	Reply chan *lobby.Lobby // nil when the id is taken
}

type GetLobby struct {
	ID    string
	Reply chan *lobby.Lobby
}

type ListLobbies struct {
	Reply chan []*lobby.Lobby
}

type RemoveLobby struct {
	ID string
}

type ShutdownHub struct {
	Reply chan []*lobby.Lobby
}

func (CreateLobby) isHubMsg() {}
func (GetLobby) isHubMsg()    {}
func (ListLobbies) isHubMsg() {}
func (RemoveLobby) isHubMsg() {}
func (ShutdownHub) isHubMsg() {}

type Config struct {
	Catalog *catalog.Catalog
	History history.Store
	// Lobby is the template for every room; the hub sets its hooks.
	Lobby lobby.Config
	Log   *zap.Logger
}

type Hub struct {
	cfg     Config
	log     *zap.Logger
	inbox   chan HubMsg
	lobbies map[string]*lobby.Lobby
	ctx     context.Context
	cancel  context.CancelFunc
}

func NewHub(parent context.Context, cfg Config) *Hub {
	if cfg.Catalog == nil {
		cfg.Catalog = catalog.Default()
	}
	if cfg.History == nil {
		cfg.History = history.NewMemory()
	}
	if cfg.Log == nil {
		cfg.Log = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(parent)
	h := &Hub{
		cfg:     cfg,
		log:     cfg.Log,
		inbox:   make(chan HubMsg, 64),
		lobbies: make(map[string]*lobby.Lobby),
		ctx:     ctx,
		cancel:  cancel,
	}
	go h.loop()
	return h
}

func (h *Hub) Inbox() chan<- HubMsg { return h.inbox }

func (h *Hub) loop() {
	for {
		select {
		case <-h.ctx.Done():
			return

		case m := <-h.inbox:
			switch msg := m.(type) {
			case CreateLobby:
				if h.lobbies[msg.Room.ID] != nil {
					msg.Reply <- nil
					break
				}
				lb := lobby.NewLobby(h.ctx, msg.Room, h.lobbyConfig())
				h.lobbies[msg.Room.ID] = lb
				msg.Reply <- lb

			case GetLobby:
				msg.Reply <- h.lobbies[msg.ID] // May be nil

			case ListLobbies:
				out := make([]*lobby.Lobby, 0, len(h.lobbies))
				for _, lb := range h.lobbies {
					out = append(out, lb)
				}
				msg.Reply <- out

			case RemoveLobby:
				delete(h.lobbies, msg.ID)
				h.log.Info("room removed", zap.String("room", msg.ID))

			case ShutdownHub:
				out := make([]*lobby.Lobby, 0, len(h.lobbies))
				for _, lb := range h.lobbies {
					out = append(out, lb)
				}
				clear(h.lobbies)
				msg.Reply <- out
				h.cancel() // parent of every lobby context
				return
			}
		}
	}
}

// lobbyConfig wires the per-room hooks back into the hub. Hooks run on the
// lobby goroutine, so they never block on it.
func (h *Hub) lobbyConfig() lobby.Config {
	cfg := h.cfg.Lobby
	if cfg.Log == nil {
		cfg.Log = h.log
	}
	cfg.OnClosed = func(id string) {
		select {
		case h.inbox <- RemoveLobby{ID: id}:
		case <-h.ctx.Done():
		}
	}
	cfg.OnLaunched = func(r room.Room) {
		go h.recordPlayed(r)
	}
	return cfg
}

func (h *Hub) recordPlayed(r room.Room) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := h.cfg.History.RecordPlayed(ctx, r.Game, r.Players); err != nil {
		h.log.Warn("record played", zap.String("room", r.ID), zap.Error(err))
	}
}

func (h *Hub) ask(ctx context.Context, m HubMsg) error {
	select {
	case h.inbox <- m:
		return nil
	case <-h.ctx.Done():
		return errors.New("hub stopped")
	case <-ctx.Done():
		return ctx.Err()
	}
}

func recv[T any](ctx context.Context, h *Hub, ch chan T) (T, error) {
	var zero T
	select {
	case v := <-ch:
		return v, nil
	case <-h.ctx.Done():
		return zero, errors.New("hub stopped")
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}

// Create validates game and version against the catalog and opens a room
// owned by owner. The room always runs the latest version.
func (h *Hub) Create(ctx context.Context, owner, game, version string) (room.Room, error) {
	if strings.TrimSpace(owner) == "" {
		return room.Room{}, ErrBadIdentity
	}
	g, err := h.cfg.Catalog.Resolve(game, version)
	if err != nil {
		return room.Room{}, err
	}
	for {
		id := g.Name + "-" + strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
		r := room.New(id, owner, g.Name, g.Version, g.MaxPlayers)
		reply := make(chan *lobby.Lobby, 1)
		if err := h.ask(ctx, CreateLobby{Room: r, Reply: reply}); err != nil {
			return room.Room{}, err
		}
		lb, err := recv(ctx, h, reply)
		if err != nil {
			return room.Room{}, err
		}
		if lb == nil {
			h.log.Debug("room id collision, regenerating", zap.String("room", id))
			continue
		}
		h.log.Info("room created", zap.String("room", id), zap.String("owner", owner), zap.String("game", g.Name))
		return r, nil
	}
}

func (h *Hub) Lobby(ctx context.Context, id string) (*lobby.Lobby, error) {
	reply := make(chan *lobby.Lobby, 1)
	if err := h.ask(ctx, GetLobby{ID: id, Reply: reply}); err != nil {
		return nil, err
	}
	lb, err := recv(ctx, h, reply)
	if err != nil {
		return nil, err
	}
	if lb == nil {
		return nil, fmt.Errorf("%w: %s", ErrRoomNotFound, id)
	}
	return lb, nil
}

// Do runs cmd on the room's actor. A room that closed meanwhile reads as
// not found.
func (h *Hub) Do(ctx context.Context, id string, cmd room.Command) (lobby.Result, error) {
	lb, err := h.Lobby(ctx, id)
	if err != nil {
		return lobby.Result{}, err
	}
	res, err := lb.Do(ctx, cmd)
	if errors.Is(err, lobby.ErrClosed) {
		return lobby.Result{}, fmt.Errorf("%w: %s", ErrRoomNotFound, id)
	}
	return res, err
}

func (h *Hub) Room(ctx context.Context, id string) (room.Room, error) {
	lb, err := h.Lobby(ctx, id)
	if err != nil {
		return room.Room{}, err
	}
	v, err := lb.State(ctx)
	if errors.Is(err, lobby.ErrClosed) {
		return room.Room{}, fmt.Errorf("%w: %s", ErrRoomNotFound, id)
	}
	return v.Room, err
}

// Subscribe registers out for updates of room id; see lobby.Subscribe.
func (h *Hub) Subscribe(ctx context.Context, id, subID string, out chan room.Room) error {
	lb, err := h.Lobby(ctx, id)
	if err != nil {
		return err
	}
	if err := lb.Subscribe(ctx, subID, out); errors.Is(err, lobby.ErrClosed) {
		return fmt.Errorf("%w: %s", ErrRoomNotFound, id)
	} else if err != nil {
		return err
	}
	return nil
}

func (h *Hub) Unsubscribe(ctx context.Context, id, subID string) {
	if lb, err := h.Lobby(ctx, id); err == nil {
		lb.Unsubscribe(subID)
	}
}

// List returns every open room ordered by id.
func (h *Hub) List(ctx context.Context) ([]room.Room, error) {
	reply := make(chan []*lobby.Lobby, 1)
	if err := h.ask(ctx, ListLobbies{Reply: reply}); err != nil {
		return nil, err
	}
	lbs, err := recv(ctx, h, reply)
	if err != nil {
		return nil, err
	}
	rooms := make([]room.Room, 0, len(lbs))
	for _, lb := range lbs {
		v, err := lb.State(ctx)
		if errors.Is(err, lobby.ErrClosed) {
			continue
		}
		if err != nil {
			return nil, err
		}
		rooms = append(rooms, v.Room)
	}
	slices.SortFunc(rooms, func(a, b room.Room) int { return strings.Compare(a.ID, b.ID) })
	return rooms, nil
}

// Finished absorbs a session's end-of-match notification: the room is reset
// or closed, then the result goes to the history ledger. A room with no match
// running refuses the notification and nothing is recorded.
func (h *Hub) Finished(ctx context.Context, msg types.GameFinished) error {
	lb, err := h.Lobby(ctx, msg.RoomID)
	if err != nil {
		return err
	}
	v, err := lb.State(ctx)
	if err != nil {
		return fmt.Errorf("%w: %s", ErrRoomNotFound, msg.RoomID)
	}
	if v.Room.Status != room.StatusInGame {
		return room.ErrNotInGame
	}

	res, err := lb.Do(ctx, room.Command{Type: room.CmdFinished, KickAll: msg.KickAll})
	if errors.Is(err, lobby.ErrClosed) {
		return fmt.Errorf("%w: %s", ErrRoomNotFound, msg.RoomID)
	}
	if err != nil {
		return err
	}
	if res.Err != nil {
		return res.Err
	}

	players := msg.Players
	if len(players) == 0 {
		players = v.Room.Players
	}
	rec := history.Result{
		RoomID:     msg.RoomID,
		Game:       v.Room.Game,
		Reason:     msg.Reason,
		Players:    players,
		FinishedAt: time.Now(),
	}
	if msg.WinnerRole != nil {
		rec.WinnerRole = *msg.WinnerRole
	}
	if msg.WinnerIdentity != nil {
		rec.WinnerIdentity = *msg.WinnerIdentity
	}
	if err := h.cfg.History.RecordResult(ctx, rec); err != nil {
		h.log.Warn("record result", zap.String("room", msg.RoomID), zap.Error(err))
	}
	h.log.Info("match finished",
		zap.String("room", msg.RoomID),
		zap.String("reason", msg.Reason),
		zap.Bool("kickAll", msg.KickAll))
	return nil
}

func (h *Hub) History() history.Store { return h.cfg.History }

func (h *Hub) Catalog() *catalog.Catalog { return h.cfg.Catalog }

// Shutdown stops every room and waits for their actors to exit.
func (h *Hub) Shutdown() {
	reply := make(chan []*lobby.Lobby, 1)
	select {
	case h.inbox <- ShutdownHub{Reply: reply}:
	case <-h.ctx.Done():
		return
	}
	var lbs []*lobby.Lobby
	select {
	case lbs = <-reply:
	case <-h.ctx.Done():
		select {
		case lbs = <-reply:
		default:
		}
	}
	for _, lb := range lbs {
		<-lb.Done()
	}
}

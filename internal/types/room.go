package types

import (
	"encoding/json"
	"fmt"
)

// Kind discriminates room control requests on the wire ("kind" field).
type Kind string

const (
	KindCreateRoom    Kind = "create_room"
	KindJoinRoom      Kind = "join_room"
	KindLeaveRoom     Kind = "leave_room"
	KindPlayerReady   Kind = "player_ready"
	KindPlayerUnready Kind = "player_unready"
	KindProposeStart  Kind = "propose_start"
	KindRespondStart  Kind = "respond_start"
	KindSubscribeRoom Kind = "subscribe_room"
	KindListRooms     Kind = "list_rooms"
	KindGameFinished  Kind = "game_finished"
)

// Request is the closed set of room control requests.
type Request interface{ requestKind() Kind }

type CreateRoom struct {
	Identity string `json:"identity"`
	Game     string `json:"game"`
	Version  string `json:"version,omitempty"`
}

// RoomAction covers every member action that names a room and nothing else.
type RoomAction struct {
	Identity string `json:"identity"`
	RoomID   string `json:"room_id"`
}

type JoinRoom RoomAction
type LeaveRoom RoomAction
type PlayerReady RoomAction
type PlayerUnready RoomAction
type ProposeStart RoomAction

type RespondStart struct {
	Identity string `json:"identity"`
	RoomID   string `json:"room_id"`
	Accept   bool   `json:"accept"`
}

type SubscribeRoom struct {
	Identity string `json:"identity,omitempty"`
	RoomID   string `json:"room_id"`
}

type ListRooms struct{}

// GameFinished is sent by a session engine when its match is over.
type GameFinished struct {
	RoomID         string       `json:"room_id"`
	KickAll        bool         `json:"kickAll"`
	Reason         string       `json:"reason,omitempty"`
	WinnerRole     *string      `json:"winnerRole"`
	WinnerIdentity *string      `json:"winnerIdentity"`
	Results        []RoleResult `json:"results,omitempty"`
	Players        []string     `json:"players,omitempty"`
}

// UnknownRequest is kept so callers can answer with an error naming the kind.
type UnknownRequest struct {
	Kind string `json:"-"`
}

func (CreateRoom) requestKind() Kind     { return KindCreateRoom }
func (JoinRoom) requestKind() Kind       { return KindJoinRoom }
func (LeaveRoom) requestKind() Kind      { return KindLeaveRoom }
func (PlayerReady) requestKind() Kind    { return KindPlayerReady }
func (PlayerUnready) requestKind() Kind  { return KindPlayerUnready }
func (ProposeStart) requestKind() Kind   { return KindProposeStart }
func (RespondStart) requestKind() Kind   { return KindRespondStart }
func (SubscribeRoom) requestKind() Kind  { return KindSubscribeRoom }
func (ListRooms) requestKind() Kind      { return KindListRooms }
func (GameFinished) requestKind() Kind   { return KindGameFinished }
func (UnknownRequest) requestKind() Kind { return "" }

// DecodeRequest parses one control frame. Identities are normalized here so
// nothing downstream compares raw user input.
func DecodeRequest(frame []byte) (Request, error) {
	kind, err := peek(frame, "kind")
	if err != nil {
		return nil, err
	}
	switch Kind(kind) {
	case KindCreateRoom:
		var r CreateRoom
		if err := json.Unmarshal(frame, &r); err != nil {
			return nil, err
		}
		r.Identity = CleanName(r.Identity)
		r.Game = CleanName(r.Game)
		return r, nil
	case KindJoinRoom:
		a, err := decodeAction(frame)
		return JoinRoom(a), err
	case KindLeaveRoom:
		a, err := decodeAction(frame)
		return LeaveRoom(a), err
	case KindPlayerReady:
		a, err := decodeAction(frame)
		return PlayerReady(a), err
	case KindPlayerUnready:
		a, err := decodeAction(frame)
		return PlayerUnready(a), err
	case KindProposeStart:
		a, err := decodeAction(frame)
		return ProposeStart(a), err
	case KindRespondStart:
		var r RespondStart
		if err := json.Unmarshal(frame, &r); err != nil {
			return nil, err
		}
		r.Identity = CleanName(r.Identity)
		return r, nil
	case KindSubscribeRoom:
		var r SubscribeRoom
		if err := json.Unmarshal(frame, &r); err != nil {
			return nil, err
		}
		r.Identity = CleanName(r.Identity)
		return r, nil
	case KindListRooms:
		return ListRooms{}, nil
	case KindGameFinished:
		var r struct {
			GameFinished
			LegacyKickAll bool `json:"kick_all"`
		}
		if err := json.Unmarshal(frame, &r); err != nil {
			return nil, err
		}
		r.GameFinished.KickAll = r.GameFinished.KickAll || r.LegacyKickAll
		return r.GameFinished, nil
	default:
		return UnknownRequest{Kind: kind}, nil
	}
}

func decodeAction(frame []byte) (RoomAction, error) {
	var a RoomAction
	if err := json.Unmarshal(frame, &a); err != nil {
		return RoomAction{}, err
	}
	a.Identity = CleanName(a.Identity)
	return a, nil
}

func EncodeRequest(r Request) ([]byte, error) {
	if u, ok := r.(UnknownRequest); ok {
		return tagged("kind", u.Kind, struct{}{})
	}
	return tagged("kind", string(r.requestKind()), r)
}

// Reply answers exactly one request. Room is any JSON-encodable room record.
type Reply struct {
	OK     bool            `json:"ok"`
	Code   string          `json:"code,omitempty"`
	Error  string          `json:"error,omitempty"`
	Msg    string          `json:"msg,omitempty"`
	RoomID string          `json:"room_id,omitempty"`
	Room   json.RawMessage `json:"room,omitempty"`
	Rooms  json.RawMessage `json:"rooms,omitempty"`
}

func OKReply(msg string) Reply { return Reply{OK: true, Msg: msg} }

func ErrorReply(code string, err error) Reply {
	return Reply{OK: false, Code: code, Error: err.Error()}
}

// WithRoom attaches a room record to the reply.
func (r Reply) WithRoom(id string, room any) (Reply, error) {
	raw, err := json.Marshal(room)
	if err != nil {
		return r, fmt.Errorf("encode room: %w", err)
	}
	r.RoomID = id
	r.Room = raw
	return r, nil
}

func (r Reply) WithRooms(rooms any) (Reply, error) {
	raw, err := json.Marshal(rooms)
	if err != nil {
		return r, fmt.Errorf("encode rooms: %w", err)
	}
	r.Rooms = raw
	return r, nil
}

const EventRoomUpdate = "room_update"

// RoomUpdate is pushed to subscribers after every room mutation.
type RoomUpdate struct {
	Event string          `json:"event"`
	Room  json.RawMessage `json:"room"`
}

func NewRoomUpdate(room any) (RoomUpdate, error) {
	raw, err := json.Marshal(room)
	if err != nil {
		return RoomUpdate{}, err
	}
	return RoomUpdate{Event: EventRoomUpdate, Room: raw}, nil
}

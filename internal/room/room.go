// Package room is the room lifecycle and start-negotiation state machine.
// Apply is pure: it never mutates its input and has no side effects; the
// owning lobby actor performs launches and notifications.
package room

import (
	"errors"
	"slices"
	"time"
)

var (
	ErrRoomFull            = errors.New("room full")
	ErrAlreadyClosed       = errors.New("room already closed")
	ErrNotMember           = errors.New("not a member of this room")
	ErrNotOwner            = errors.New("only the owner may do that")
	ErrInsufficientPlayers = errors.New("not enough players to start")
	ErrNoActiveProposal    = errors.New("no active start proposal")
	ErrOwnerCannotRespond  = errors.New("owner cannot respond to own proposal")
	ErrAlreadyInGame       = errors.New("match already in progress")
	ErrNotInGame           = errors.New("no match in progress")
	ErrUnsupportedCommand  = errors.New("unsupported command")
)

type Status string

const (
	StatusWaiting Status = "waiting"
	StatusReady   Status = "ready"
	StatusInGame  Status = "in_game"
	StatusClosed  Status = "closed"
)

type NegotiationState string

const (
	StartIdle     NegotiationState = "idle"
	StartProposed NegotiationState = "proposed"
	StartAgreed   NegotiationState = "agreed"
	StartRejected NegotiationState = "rejected"
)

type Negotiation struct {
	State      NegotiationState `json:"state"`
	By         string           `json:"by,omitempty"`
	Responses  map[string]bool  `json:"responses,omitempty"`
	RejectedBy string           `json:"rejected_by,omitempty"`
	TS         int64            `json:"ts,omitempty"`
}

type Room struct {
	ID           string      `json:"id"`
	Game         string      `json:"game"`
	Version      string      `json:"version"`
	Owner        string      `json:"owner"`
	Players      []string    `json:"players"`
	ReadyPlayers []string    `json:"ready_players"`
	MaxPlayers   int         `json:"max_players"`
	Status       Status      `json:"status"`
	Start        Negotiation `json:"start"`
	Host         string      `json:"host,omitempty"`
	Port         int         `json:"port,omitempty"`
	StartedAt    int64       `json:"started_at,omitempty"`
}

func New(id, owner, game, version string, capacity int) Room {
	return Room{
		ID:           id,
		Game:         game,
		Version:      version,
		Owner:        owner,
		Players:      []string{owner},
		ReadyPlayers: []string{},
		MaxPlayers:   capacity,
		Status:       StatusWaiting,
		Start:        Negotiation{State: StartIdle},
	}
}

// Clone returns a deep copy safe to hand to other goroutines.
func (r Room) Clone() Room {
	r.Players = slices.Clone(r.Players)
	r.ReadyPlayers = slices.Clone(r.ReadyPlayers)
	if r.Start.Responses != nil {
		resp := make(map[string]bool, len(r.Start.Responses))
		for k, v := range r.Start.Responses {
			resp[k] = v
		}
		r.Start.Responses = resp
	}
	return r
}

func (r Room) IsMember(identity string) bool { return slices.Contains(r.Players, identity) }

func (r Room) IsReady(identity string) bool { return slices.Contains(r.ReadyPlayers, identity) }

// Guests are all members except the owner, in join order.
func (r Room) Guests() []string {
	out := make([]string, 0, len(r.Players))
	for _, p := range r.Players {
		if p != r.Owner {
			out = append(out, p)
		}
	}
	return out
}

type CommandType string

const (
	CmdJoin         CommandType = "Join"
	CmdLeave        CommandType = "Leave"
	CmdReady        CommandType = "Ready"
	CmdUnready      CommandType = "Unready"
	CmdPropose      CommandType = "ProposeStart"
	CmdRespond      CommandType = "RespondStart"
	CmdLaunched     CommandType = "Launched"
	CmdLaunchFailed CommandType = "LaunchFailed"
	CmdFinished     CommandType = "Finished"
	CmdForceClose   CommandType = "ForceClose"
)

type Command struct {
	Type     CommandType
	Identity string
	Accept   bool
	KickAll  bool
	Host     string
	Port     int
	At       time.Time
}

type EventType string

const (
	EvtJoined        EventType = "Joined"
	EvtLeft          EventType = "Left"
	EvtOwnerChanged  EventType = "OwnerChanged"
	EvtReadyChanged  EventType = "ReadyChanged"
	EvtProposed      EventType = "Proposed"
	EvtAccepted      EventType = "Accepted"
	EvtRejected      EventType = "Rejected"
	EvtAgreed        EventType = "Agreed"
	EvtLaunched      EventType = "Launched"
	EvtLaunchAborted EventType = "LaunchAborted"
	EvtAbandoned     EventType = "Abandoned"
	EvtReset         EventType = "Reset"
	EvtClosed        EventType = "Closed"
	EvtDestroyed     EventType = "Destroyed"
)

type Event struct {
	Type     EventType
	Identity string
}

func ContainsEvent(evs []Event, t EventType) bool {
	for _, ev := range evs {
		if ev.Type == t {
			return true
		}
	}
	return false
}

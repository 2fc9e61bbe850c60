package types

import (
	"encoding/json"
	"fmt"

	"github.com/DoyleJ11/matchroom/internal/engine"
)

// MsgType discriminates match protocol messages on the wire ("type" field).
type MsgType string

const (
	// Client -> Server
	MsgHello MsgType = "HELLO"
	MsgInput MsgType = "INPUT"
	MsgPing  MsgType = "PING"
	MsgBye   MsgType = "BYE"

	// Server -> Client
	MsgWelcome         MsgType = "WELCOME"
	MsgPong            MsgType = "PONG"
	MsgSnapshot        MsgType = "SNAPSHOT"
	MsgSpeedUpdate     MsgType = "SPEED_UPDATE"
	MsgRound           MsgType = "ROUND"
	MsgMatchEnd        MsgType = "MATCH_END"
	MsgSpectatorKicked MsgType = "SPECTATOR_KICKED"
	MsgError           MsgType = "ERROR"
)

// Error codes carried by ERROR messages.
const (
	CodeBadRequest    = "BadRequest"
	CodeGameEnded     = "GameEnded"
	CodeInvalidChoice = "InvalidChoice"
)

// ClientMessage is the closed set of messages a match client may send.
type ClientMessage interface{ clientKind() MsgType }

type Hello struct {
	Identity    string `json:"identity"`
	DisplayName string `json:"displayName,omitempty"`
}

// Input carries one player action. Choice is only meaningful for
// simultaneous-choice games where Action is CHOICE.
type Input struct {
	Seq    int64         `json:"seq"`
	Action engine.Action `json:"action"`
	Choice int           `json:"choice,omitempty"`
}

type Ping struct {
	T json.RawMessage `json:"t,omitempty"`
}

type Bye struct{}

// Unknown is any message whose type this server does not understand.
type Unknown struct {
	Type string
}

func (Hello) clientKind() MsgType   { return MsgHello }
func (Input) clientKind() MsgType   { return MsgInput }
func (Ping) clientKind() MsgType    { return MsgPing }
func (Bye) clientKind() MsgType     { return MsgBye }

func (u Unknown) clientKind() MsgType { return MsgType(u.Type) }

// DecodeClient decodes a frame once at the connection boundary.
func DecodeClient(frame []byte) (ClientMessage, error) {
	kind, err := peek(frame, "type")
	if err != nil {
		return nil, err
	}
	switch MsgType(kind) {
	case MsgHello:
		var m Hello
		if err := json.Unmarshal(frame, &m); err != nil {
			return nil, err
		}
		m.Identity = CleanName(m.Identity)
		m.DisplayName = CleanName(m.DisplayName)
		if m.DisplayName == "" {
			m.DisplayName = m.Identity
		}
		return m, nil
	case MsgInput:
		var m Input
		if err := json.Unmarshal(frame, &m); err != nil {
			return nil, err
		}
		return m, nil
	case MsgPing:
		var m Ping
		if err := json.Unmarshal(frame, &m); err != nil {
			return nil, err
		}
		return m, nil
	case MsgBye:
		return Bye{}, nil
	default:
		return Unknown{Type: kind}, nil
	}
}

func EncodeClient(m ClientMessage) ([]byte, error) {
	if u, ok := m.(Unknown); ok {
		return tagged("type", u.Type, struct{}{})
	}
	return tagged("type", string(m.clientKind()), m)
}

// ServerMessage is the closed set of messages a match server sends.
type ServerMessage interface{ serverKind() MsgType }

type Rules struct {
	Mode        string `json:"mode"`
	DurationSec int    `json:"durationSec,omitempty"`
	MaxPlayers  int    `json:"maxPlayers,omitempty"`
	Choices     []int  `json:"choices,omitempty"`
}

type Welcome struct {
	Role         string            `json:"role"`
	Seed         int64             `json:"seed"`
	BagRule      string            `json:"bagRule,omitempty"`
	RulesSummary Rules             `json:"rulesSummary"`
	SpeedPlan    *engine.SpeedPlan `json:"speedPlan,omitempty"`
	IsSpectator  bool              `json:"isSpectator"`
}

type Pong struct {
	T json.RawMessage `json:"t,omitempty"`
}

// RoleState is one primary role's visible state inside a SNAPSHOT.
type RoleState struct {
	Role          string             `json:"role"`
	Name          string             `json:"name"`
	Connected     bool               `json:"connected"`
	Board         [][]int            `json:"board,omitempty"`
	Active        *engine.ActiveView `json:"active,omitempty"`
	Hold          string             `json:"hold,omitempty"`
	Next          []string           `json:"next,omitempty"`
	Score         int                `json:"score"`
	Lines         int                `json:"lines"`
	Level         int                `json:"level,omitempty"`
	BlocksCleared int                `json:"blocksCleared,omitempty"`
	Eliminated    bool               `json:"eliminated,omitempty"`
	Submitted     bool               `json:"submitted,omitempty"`
}

type Snapshot struct {
	At            int64       `json:"at"`
	RemainingMs   int64       `json:"remainingMs"`
	CurrentDropMs int64       `json:"currentDropMs,omitempty"`
	Players       []RoleState `json:"players"`
}

type SpeedUpdate struct {
	NewIntervalMs int64  `json:"newIntervalMs"`
	Reason        string `json:"reason"`
	At            int64  `json:"at"`
}

// Round reports the resolution of one simultaneous-choice round.
type Round struct {
	Round      int            `json:"round"`
	Result     string         `json:"result"`
	Choices    map[string]int `json:"choices"`
	Eliminated []string       `json:"eliminated,omitempty"`
	Reason     string         `json:"reason,omitempty"`
}

type RoleResult struct {
	Role          string `json:"role"`
	Identity      string `json:"identity,omitempty"`
	Name          string `json:"name"`
	Score         int    `json:"score"`
	Lines         int    `json:"lines"`
	BlocksCleared int    `json:"blocksCleared"`
	MaxCombo      int    `json:"maxCombo"`
	Eliminated    bool   `json:"eliminated,omitempty"`
}

// MatchEnd is broadcast exactly once per match. A nil WinnerRole is a draw.
type MatchEnd struct {
	Reason         string       `json:"reason"`
	Results        []RoleResult `json:"results"`
	WinnerRole     *string      `json:"winnerRole"`
	WinnerIdentity *string      `json:"winnerIdentity"`
	WinnerReason   string       `json:"winnerReason"`
}

type SpectatorKicked struct {
	Reason string `json:"reason"`
}

type ErrorMsg struct {
	Code string `json:"code"`
	Msg  string `json:"msg"`
}

func (Welcome) serverKind() MsgType         { return MsgWelcome }
func (Pong) serverKind() MsgType            { return MsgPong }
func (Snapshot) serverKind() MsgType        { return MsgSnapshot }
func (SpeedUpdate) serverKind() MsgType     { return MsgSpeedUpdate }
func (Round) serverKind() MsgType           { return MsgRound }
func (MatchEnd) serverKind() MsgType        { return MsgMatchEnd }
func (SpectatorKicked) serverKind() MsgType { return MsgSpectatorKicked }
func (ErrorMsg) serverKind() MsgType        { return MsgError }

func EncodeServer(m ServerMessage) ([]byte, error) {
	return tagged("type", string(m.serverKind()), m)
}

// DecodeServer is the client-side mirror of DecodeClient.
func DecodeServer(frame []byte) (ServerMessage, error) {
	kind, err := peek(frame, "type")
	if err != nil {
		return nil, err
	}
	var m ServerMessage
	switch MsgType(kind) {
	case MsgWelcome:
		m = &Welcome{}
	case MsgPong:
		m = &Pong{}
	case MsgSnapshot:
		m = &Snapshot{}
	case MsgSpeedUpdate:
		m = &SpeedUpdate{}
	case MsgRound:
		m = &Round{}
	case MsgMatchEnd:
		m = &MatchEnd{}
	case MsgSpectatorKicked:
		m = &SpectatorKicked{}
	case MsgError:
		m = &ErrorMsg{}
	default:
		return nil, fmt.Errorf("unknown server message %q", kind)
	}
	if err := json.Unmarshal(frame, m); err != nil {
		return nil, err
	}
	return deref(m), nil
}

func deref(m ServerMessage) ServerMessage {
	switch v := m.(type) {
	case *Welcome:
		return *v
	case *Pong:
		return *v
	case *Snapshot:
		return *v
	case *SpeedUpdate:
		return *v
	case *Round:
		return *v
	case *MatchEnd:
		return *v
	case *SpectatorKicked:
		return *v
	case *ErrorMsg:
		return *v
	}
	return m
}

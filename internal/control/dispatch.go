// Package control serves the room control protocol: one JSON request per
// newline-delimited frame, answered by exactly one reply, plus the
// subscribe_room push channel.
package control

import (
	"context"
	"errors"
	"fmt"

	"github.com/DoyleJ11/matchroom/internal/catalog"
	"github.com/DoyleJ11/matchroom/internal/hub"
	"github.com/DoyleJ11/matchroom/internal/lobby"
	"github.com/DoyleJ11/matchroom/internal/room"
	"github.com/DoyleJ11/matchroom/internal/types"
)

// Error codes carried in {ok:false, code} replies.
const (
	CodeBadRequest          = types.CodeBadRequest
	CodeRoomFull            = "RoomFull"
	CodeAlreadyClosed       = "AlreadyClosed"
	CodeRoomNotFound        = "RoomNotFound"
	CodeNotAuthorized       = "NotAuthorized"
	CodeInsufficientPlayers = "InsufficientPlayers"
	CodeNoActiveProposal    = "NoActiveProposal"
	CodeOwnerCannotRespond  = "OwnerCannotRespond"
	CodeAlreadyInGame       = "AlreadyInGame"
	CodeNotInGame           = "NotInGame"
	CodeLaunchFailed        = "LaunchFailed"
	CodeVersionMismatch     = "VersionMismatch"
	CodeUnknownGame         = "UnknownGame"
	CodeInternal            = "Internal"
)

var errMissingField = errors.New("identity and room_id are required")

// CodeFor maps a room or transport error to its wire code.
func CodeFor(err error) string {
	switch {
	case errors.Is(err, room.ErrRoomFull):
		return CodeRoomFull
	case errors.Is(err, room.ErrAlreadyClosed):
		return CodeAlreadyClosed
	case errors.Is(err, hub.ErrRoomNotFound):
		return CodeRoomNotFound
	case errors.Is(err, room.ErrNotMember), errors.Is(err, room.ErrNotOwner):
		return CodeNotAuthorized
	case errors.Is(err, room.ErrInsufficientPlayers):
		return CodeInsufficientPlayers
	case errors.Is(err, room.ErrNoActiveProposal):
		return CodeNoActiveProposal
	case errors.Is(err, room.ErrOwnerCannotRespond):
		return CodeOwnerCannotRespond
	case errors.Is(err, room.ErrAlreadyInGame):
		return CodeAlreadyInGame
	case errors.Is(err, room.ErrNotInGame):
		return CodeNotInGame
	case errors.Is(err, lobby.ErrLaunchFailed):
		return CodeLaunchFailed
	case errors.Is(err, catalog.ErrVersionMismatch):
		return CodeVersionMismatch
	case errors.Is(err, catalog.ErrUnknownGame):
		return CodeUnknownGame
	case errors.Is(err, hub.ErrBadIdentity), errors.Is(err, errMissingField), errors.Is(err, room.ErrUnsupportedCommand):
		return CodeBadRequest
	default:
		return CodeInternal
	}
}

// Dispatcher executes decoded requests against the hub. It is shared by the
// TCP control endpoint and the websocket surface.
type Dispatcher struct {
	Hub *hub.Hub
}

func fail(err error) types.Reply { return types.ErrorReply(CodeFor(err), err) }

func withRoom(rep types.Reply, r room.Room) types.Reply {
	out, err := rep.WithRoom(r.ID, r)
	if err != nil {
		return types.ErrorReply(CodeInternal, err)
	}
	return out
}

// Handle answers every request kind except subscribe_room, which needs the
// transport to stream updates.
func (d Dispatcher) Handle(ctx context.Context, req types.Request) types.Reply {
	switch r := req.(type) {
	case types.CreateRoom:
		rm, err := d.Hub.Create(ctx, r.Identity, r.Game, r.Version)
		if err != nil {
			return fail(err)
		}
		return withRoom(types.OKReply("room created"), rm)

	case types.JoinRoom:
		return d.act(ctx, types.RoomAction(r), room.Command{Type: room.CmdJoin}, "joined")
	case types.LeaveRoom:
		return d.act(ctx, types.RoomAction(r), room.Command{Type: room.CmdLeave}, "left")
	case types.PlayerReady:
		return d.act(ctx, types.RoomAction(r), room.Command{Type: room.CmdReady}, "ready")
	case types.PlayerUnready:
		return d.act(ctx, types.RoomAction(r), room.Command{Type: room.CmdUnready}, "not ready")
	case types.ProposeStart:
		return d.act(ctx, types.RoomAction(r), room.Command{Type: room.CmdPropose}, "start proposed")
	case types.RespondStart:
		msg := "start rejected"
		if r.Accept {
			msg = "start accepted"
		}
		return d.act(ctx, types.RoomAction{Identity: r.Identity, RoomID: r.RoomID},
			room.Command{Type: room.CmdRespond, Accept: r.Accept}, msg)

	case types.ListRooms:
		rooms, err := d.Hub.List(ctx)
		if err != nil {
			return fail(err)
		}
		rep, err := types.OKReply("").WithRooms(rooms)
		if err != nil {
			return types.ErrorReply(CodeInternal, err)
		}
		return rep

	case types.GameFinished:
		if r.RoomID == "" {
			return types.ErrorReply(CodeBadRequest, errors.New("room_id is required"))
		}
		if err := d.Hub.Finished(ctx, r); err != nil {
			return fail(err)
		}
		return types.OKReply("finished")

	case types.SubscribeRoom:
		return types.ErrorReply(CodeBadRequest, errors.New("subscribe_room is not supported here"))

	case types.UnknownRequest:
		return types.ErrorReply(CodeBadRequest, fmt.Errorf("unknown kind %q", r.Kind))

	default:
		return types.ErrorReply(CodeBadRequest, errors.New("unsupported request"))
	}
}

func (d Dispatcher) act(ctx context.Context, a types.RoomAction, cmd room.Command, okMsg string) types.Reply {
	if a.Identity == "" || a.RoomID == "" {
		return fail(errMissingField)
	}
	cmd.Identity = a.Identity
	res, err := d.Hub.Do(ctx, a.RoomID, cmd)
	if err != nil {
		return fail(err)
	}
	if res.Err != nil {
		return withRoom(fail(res.Err), res.Room)
	}
	return withRoom(types.OKReply(okMsg), res.Room)
}

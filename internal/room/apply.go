package room

import "slices"

// Apply validates cmd against r and returns the resulting events and room.
// On error the original room is returned unchanged.
func Apply(r Room, cmd Command) ([]Event, Room, error) {
	if r.Status == StatusClosed && cmd.Type != CmdLeave {
		return nil, r, ErrAlreadyClosed
	}
	next := r.Clone()

	switch cmd.Type {
	case CmdJoin:
		if r.IsMember(cmd.Identity) {
			// rejoin after a dropped connection
			return nil, r, nil
		}
		if len(r.Players) >= r.MaxPlayers {
			return nil, r, ErrRoomFull
		}
		next.Players = append(next.Players, cmd.Identity)
		next.resetNegotiation()
		next.recomputeStatus()
		return []Event{{Type: EvtJoined, Identity: cmd.Identity}}, next, nil

	case CmdLeave:
		return applyLeave(r, next, cmd.Identity)

	case CmdReady, CmdUnready:
		if !r.IsMember(cmd.Identity) {
			return nil, r, ErrNotMember
		}
		ready := cmd.Type == CmdReady
		if ready == r.IsReady(cmd.Identity) {
			return nil, r, nil
		}
		if ready {
			next.ReadyPlayers = append(next.ReadyPlayers, cmd.Identity)
		} else {
			next.ReadyPlayers = slices.DeleteFunc(next.ReadyPlayers, func(p string) bool { return p == cmd.Identity })
		}
		next.recomputeStatus()
		return []Event{{Type: EvtReadyChanged, Identity: cmd.Identity}}, next, nil

	case CmdPropose:
		if !r.IsMember(cmd.Identity) {
			return nil, r, ErrNotMember
		}
		if r.Owner != cmd.Identity {
			return nil, r, ErrNotOwner
		}
		if r.Status == StatusInGame || r.Start.State == StartAgreed {
			return nil, r, ErrAlreadyInGame
		}
		if len(r.Players) < r.MaxPlayers {
			return nil, r, ErrInsufficientPlayers
		}
		next.Start = Negotiation{
			State:     StartProposed,
			By:        cmd.Identity,
			Responses: map[string]bool{},
			TS:        cmd.At.Unix(),
		}
		return []Event{{Type: EvtProposed, Identity: cmd.Identity}}, next, nil

	case CmdRespond:
		if !r.IsMember(cmd.Identity) {
			return nil, r, ErrNotMember
		}
		if r.Start.State != StartProposed {
			return nil, r, ErrNoActiveProposal
		}
		if r.Owner == cmd.Identity {
			return nil, r, ErrOwnerCannotRespond
		}
		if !cmd.Accept {
			next.Start = Negotiation{
				State:      StartRejected,
				By:         r.Start.By,
				RejectedBy: cmd.Identity,
				TS:         cmd.At.Unix(),
			}
			return []Event{{Type: EvtRejected, Identity: cmd.Identity}}, next, nil
		}
		next.Start.Responses[cmd.Identity] = true
		evs := []Event{{Type: EvtAccepted, Identity: cmd.Identity}}
		for _, g := range next.Guests() {
			if !next.Start.Responses[g] {
				return evs, next, nil
			}
		}
		next.Start = Negotiation{State: StartAgreed, By: r.Owner, TS: cmd.At.Unix()}
		return append(evs, Event{Type: EvtAgreed}), next, nil

	case CmdLaunched:
		if r.Start.State != StartAgreed {
			return nil, r, ErrNoActiveProposal
		}
		next.Status = StatusInGame
		next.ReadyPlayers = []string{}
		next.Host = cmd.Host
		next.Port = cmd.Port
		next.StartedAt = cmd.At.Unix()
		return []Event{{Type: EvtLaunched}}, next, nil

	case CmdLaunchFailed:
		next.Start = Negotiation{State: StartIdle}
		next.Status = StatusWaiting
		next.clearEndpoint()
		next.recomputeStatus()
		return []Event{{Type: EvtLaunchAborted}}, next, nil

	case CmdFinished, CmdForceClose:
		if cmd.Type == CmdFinished && r.Status != StatusInGame {
			// late notification from a stopped or superseded session
			return nil, r, ErrNotInGame
		}
		if cmd.KickAll || cmd.Type == CmdForceClose {
			next.Players = []string{}
			next.ReadyPlayers = []string{}
			next.Status = StatusClosed
			next.Start = Negotiation{State: StartIdle}
			next.clearEndpoint()
			return []Event{{Type: EvtClosed}}, next, nil
		}
		next.Status = StatusWaiting
		next.Start = Negotiation{State: StartIdle}
		next.ReadyPlayers = []string{}
		next.clearEndpoint()
		return []Event{{Type: EvtReset}}, next, nil

	default:
		return nil, r, ErrUnsupportedCommand
	}
}

func applyLeave(r, next Room, identity string) ([]Event, Room, error) {
	if !r.IsMember(identity) {
		return nil, r, nil
	}
	drop := func(p string) bool { return p == identity }
	next.Players = slices.DeleteFunc(next.Players, drop)
	next.ReadyPlayers = slices.DeleteFunc(next.ReadyPlayers, drop)
	evs := []Event{{Type: EvtLeft, Identity: identity}}

	if len(next.Players) == 0 {
		next.Status = StatusClosed
		next.Owner = ""
		next.Start = Negotiation{State: StartIdle}
		next.clearEndpoint()
		return append(evs, Event{Type: EvtDestroyed}), next, nil
	}
	if r.Owner == identity {
		next.Owner = next.Players[0]
		evs = append(evs, Event{Type: EvtOwnerChanged, Identity: next.Owner})
	}
	if r.Status == StatusInGame {
		next.Status = StatusWaiting
		next.clearEndpoint()
		evs = append(evs, Event{Type: EvtAbandoned})
	}
	next.resetNegotiation()
	next.recomputeStatus()
	return evs, next, nil
}

func (r *Room) resetNegotiation() {
	r.Start = Negotiation{State: StartIdle}
}

func (r *Room) clearEndpoint() {
	r.Host = ""
	r.Port = 0
	r.StartedAt = 0
}

// recomputeStatus derives waiting/ready from the ready set. In-game and
// closed rooms are left alone.
func (r *Room) recomputeStatus() {
	if r.Status == StatusInGame || r.Status == StatusClosed {
		return
	}
	if len(r.Players) > 0 && len(r.ReadyPlayers) == len(r.Players) {
		r.Status = StatusReady
		return
	}
	r.Status = StatusWaiting
}

package session

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/DoyleJ11/matchroom/internal/types"
	"github.com/DoyleJ11/matchroom/internal/wire"
)

// Notifier tells the room lifecycle that a match is over.
type Notifier interface {
	Finished(ctx context.Context, msg types.GameFinished) error
}

type NotifierFunc func(ctx context.Context, msg types.GameFinished) error

func (f NotifierFunc) Finished(ctx context.Context, msg types.GameFinished) error { return f(ctx, msg) }

// LobbyNotifier sends game_finished to the lobby control endpoint over
// newline-delimited framing and waits for its reply.
type LobbyNotifier struct {
	Addr string
}

func (n LobbyNotifier) Finished(ctx context.Context, msg types.GameFinished) error {
	var d net.Dialer
	c, err := d.DialContext(ctx, "tcp", n.Addr)
	if err != nil {
		return fmt.Errorf("dial lobby %s: %w", n.Addr, err)
	}
	defer c.Close()
	if dl, ok := ctx.Deadline(); ok {
		_ = c.SetDeadline(dl)
	} else {
		_ = c.SetDeadline(time.Now().Add(5 * time.Second))
	}

	frame, err := types.EncodeRequest(msg)
	if err != nil {
		return err
	}
	wc := wire.NewConn(c, wire.NewlineDelimited)
	if err := wc.WriteFrame(frame); err != nil {
		return fmt.Errorf("send game_finished: %w", err)
	}
	var reply types.Reply
	if err := wire.ReadJSON(wc, &reply); err != nil {
		return fmt.Errorf("read lobby reply: %w", err)
	}
	if !reply.OK {
		return errors.New("lobby rejected game_finished: " + reply.Error)
	}
	return nil
}

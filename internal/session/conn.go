package session

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/DoyleJ11/matchroom/internal/types"
	"github.com/DoyleJ11/matchroom/internal/wire"
)

// conn is one client connection. Role fields are written by the tick
// goroutine before the join reply is sent and are read-only afterwards.
type conn struct {
	nc  *wire.Conn
	log *zap.Logger

	role      string
	spectator bool
	identity  string
	name      string

	// lastAck is owned by the reader goroutine.
	lastAck int64

	mu     sync.Mutex
	out    chan []byte
	closed bool

	// flushed is closed when writeLoop has exited.
	flushed chan struct{}
}

func newConn(nc *wire.Conn, queue int, log *zap.Logger) *conn {
	return &conn{
		nc:      nc,
		log:     log.With(zap.Stringer("remote", nc.RemoteAddr())),
		out:     make(chan []byte, queue),
		flushed: make(chan struct{}),
	}
}

// send queues an encoded frame. A client that cannot keep up is cut off and
// may reconnect.
func (c *conn) send(frame []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.out <- frame:
		return true
	default:
		c.log.Info("dropping slow connection", zap.String("role", c.role))
		c.closed = true
		close(c.out)
		_ = c.nc.Close()
		return false
	}
}

func (c *conn) sendMsg(m types.ServerMessage) bool {
	frame, err := types.EncodeServer(m)
	if err != nil {
		c.log.Error("encode", zap.Error(err))
		return false
	}
	return c.send(frame)
}

// close flushes queued frames, then the writer closes the socket.
func (c *conn) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.out)
	}
}

// kill closes the socket immediately, discarding queued frames.
func (c *conn) kill() error {
	c.close()
	return c.nc.Close()
}

// closeAndFlush closes the connection after its queued frames are written,
// waiting at most d or until stop is closed.
func (c *conn) closeAndFlush(d time.Duration, stop <-chan struct{}) {
	c.close()
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-c.flushed:
	case <-t.C:
	case <-stop:
	}
}

func (c *conn) writeLoop(timeout time.Duration) {
	defer close(c.flushed)
	defer c.nc.Close()
	for frame := range c.out {
		_ = c.nc.SetWriteDeadline(time.Now().Add(timeout))
		if err := c.nc.WriteFrame(frame); err != nil {
			c.log.Debug("write failed", zap.Error(err))
			_ = c.nc.Close()
			for range c.out {
			}
			return
		}
	}
}

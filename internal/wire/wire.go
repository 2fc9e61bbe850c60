// Package wire implements the two JSON message framings used on TCP streams:
// 4-byte big-endian length prefixed frames and newline-terminated frames.
// A connection uses exactly one framing for its whole lifetime.
package wire

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
)

// MaxFrame bounds the payload size of a single frame in either framing.
const MaxFrame = 64 * 1024

var (
	ErrFrameTooLarge   = errors.New("frame exceeds 64 KiB")
	ErrEmptyFrame      = errors.New("empty frame")
	ErrEmbeddedNewline = errors.New("payload contains a newline")
)

type Framing int

const (
	LengthPrefixed Framing = iota
	NewlineDelimited
)

func (f Framing) String() string {
	switch f {
	case LengthPrefixed:
		return "length-prefixed"
	case NewlineDelimited:
		return "newline-delimited"
	default:
		return fmt.Sprintf("framing(%d)", int(f))
	}
}

type Reader interface {
	ReadFrame() ([]byte, error)
}

type Writer interface {
	WriteFrame(payload []byte) error
}

func NewReader(r io.Reader, f Framing) Reader {
	if f == NewlineDelimited {
		return &lineReader{br: bufio.NewReaderSize(r, MaxFrame+1)}
	}
	return &lengthReader{r: r}
}

func NewWriter(w io.Writer, f Framing) Writer {
	if f == NewlineDelimited {
		return &lineWriter{w: w}
	}
	return &lengthWriter{w: w}
}

type lengthReader struct {
	r   io.Reader
	hdr [4]byte
}

func (l *lengthReader) ReadFrame() ([]byte, error) {
	if _, err := io.ReadFull(l.r, l.hdr[:]); err != nil {
		return nil, err
	}
	n := binary.BigEndian.Uint32(l.hdr[:])
	if n == 0 {
		return nil, ErrEmptyFrame
	}
	if n > MaxFrame {
		return nil, ErrFrameTooLarge
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(l.r, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

type lengthWriter struct {
	w io.Writer
}

func (l *lengthWriter) WriteFrame(payload []byte) error {
	if len(payload) == 0 {
		return ErrEmptyFrame
	}
	if len(payload) > MaxFrame {
		return ErrFrameTooLarge
	}
	buf := make([]byte, 4+len(payload))
	binary.BigEndian.PutUint32(buf, uint32(len(payload)))
	copy(buf[4:], payload)
	_, err := l.w.Write(buf)
	return err
}

type lineReader struct {
	br *bufio.Reader
}

// ReadFrame skips blank lines; a line longer than MaxFrame poisons the stream.
func (l *lineReader) ReadFrame() ([]byte, error) {
	for {
		line, err := l.br.ReadSlice('\n')
		if errors.Is(err, bufio.ErrBufferFull) {
			return nil, ErrFrameTooLarge
		}
		if err != nil {
			if err == io.EOF && len(bytes.TrimSpace(line)) > 0 {
				return nil, io.ErrUnexpectedEOF
			}
			return nil, err
		}
		line = bytes.TrimRight(line, "\r\n")
		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}
		if len(line) > MaxFrame {
			return nil, ErrFrameTooLarge
		}
		out := make([]byte, len(line))
		copy(out, line)
		return out, nil
	}
}

type lineWriter struct {
	w io.Writer
}

func (l *lineWriter) WriteFrame(payload []byte) error {
	if len(payload) == 0 {
		return ErrEmptyFrame
	}
	if len(payload) > MaxFrame {
		return ErrFrameTooLarge
	}
	if bytes.IndexByte(payload, '\n') >= 0 {
		return ErrEmbeddedNewline
	}
	buf := make([]byte, 0, len(payload)+1)
	buf = append(buf, payload...)
	buf = append(buf, '\n')
	_, err := l.w.Write(buf)
	return err
}

// ReadJSON reads one frame and decodes it into v.
func ReadJSON(r Reader, v any) error {
	frame, err := r.ReadFrame()
	if err != nil {
		return err
	}
	if err := json.Unmarshal(frame, v); err != nil {
		return fmt.Errorf("bad json: %w", err)
	}
	return nil
}

func WriteJSON(w Writer, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode: %w", err)
	}
	return w.WriteFrame(payload)
}

// Conn pairs a network connection with a framing. Reads and writes may run
// on separate goroutines, but each side is not safe for concurrent use.
type Conn struct {
	net.Conn
	Reader
	Writer
	Framing Framing
}

func NewConn(c net.Conn, f Framing) *Conn {
	return &Conn{
		Conn:    c,
		Reader:  NewReader(c, f),
		Writer:  NewWriter(c, f),
		Framing: f,
	}
}

// IsProtocolError reports whether err came from a malformed frame or payload
// rather than from the transport.
func IsProtocolError(err error) bool {
	var syn *json.SyntaxError
	var typ *json.UnmarshalTypeError
	return errors.Is(err, ErrFrameTooLarge) ||
		errors.Is(err, ErrEmptyFrame) ||
		errors.Is(err, ErrEmbeddedNewline) ||
		errors.As(err, &syn) ||
		errors.As(err, &typ)
}

// Package ipc implements the length-prefixed command protocol spoken between
// the supervisor and its worker processes.
//
// A frame is a one byte opcode, a four byte big-endian payload length and the
// payload itself.
package ipc

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"sync"
	"time"

	qferrors "github.com/drblury/queueflow/internal/runtime/errors"
	"github.com/drblury/queueflow/internal/runtime/jsoncodec"
)

// MaxPayload bounds a single frame payload.
const MaxPayload = 1 << 20

const headerSize = 5

// Op identifies a frame.
type Op byte

const (
	OpWork Op = iota + 1
	OpPing
	OpPong
	OpExit
	OpStats
)

func (o Op) String() string {
	switch o {
	case OpWork:
		return "work"
	case OpPing:
		return "ping"
	case OpPong:
		return "pong"
	case OpExit:
		return "exit"
	case OpStats:
		return "stats"
	default:
		return fmt.Sprintf("op(%d)", byte(o))
	}
}

// Frame is one decoded protocol unit.
type Frame struct {
	Op      Op
	Payload []byte
}

// WorkPayload is carried by OpWork.
type WorkPayload struct {
	Receipt      string `json:"receipt"`
	Body         string `json:"body"`
	ReceiveCount int    `json:"receive_count"`
}

// PongPayload is carried by OpPong so a reply can be attributed to a process.
type PongPayload struct {
	PID int `json:"pid"`
}

// StatsPayload is carried by OpStats on the liveness stream. A record with an
// Outcome counts a settled message; one without carries a handler duration.
type StatsPayload struct {
	Event      string `json:"event"`
	Outcome    string `json:"outcome,omitempty"`
	DurationNS int64  `json:"duration_ns,omitempty"`
}

type deadlineWriter interface {
	SetWriteDeadline(t time.Time) error
}

// Encoder writes frames. It is safe for concurrent use.
type Encoder struct {
	mu sync.Mutex
	w  io.Writer
}

func NewEncoder(w io.Writer) *Encoder {
	return &Encoder{w: w}
}

// Write sends a single frame. A positive timeout sets a write deadline when the
// underlying writer supports one (os.File pipes do).
func (e *Encoder) Write(op Op, payload []byte, timeout time.Duration) error {
	if len(payload) > MaxPayload {
		return fmt.Errorf("%s frame of %d bytes: %w", op, len(payload), qferrors.ErrFrameTooLarge)
	}

	buf := make([]byte, headerSize+len(payload))
	buf[0] = byte(op)
	binary.BigEndian.PutUint32(buf[1:headerSize], uint32(len(payload)))
	copy(buf[headerSize:], payload)

	e.mu.Lock()
	defer e.mu.Unlock()

	if dw, ok := e.w.(deadlineWriter); ok && timeout > 0 {
		if err := dw.SetWriteDeadline(time.Now().Add(timeout)); err == nil {
			defer func() { _ = dw.SetWriteDeadline(time.Time{}) }()
		}
	}
	if _, err := e.w.Write(buf); err != nil {
		return fmt.Errorf("write %s frame: %w", op, err)
	}
	return nil
}

// WriteJSON encodes v and sends it as the payload of op.
func (e *Encoder) WriteJSON(op Op, v any, timeout time.Duration) error {
	payload, err := jsoncodec.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s payload: %w", op, err)
	}
	return e.Write(op, payload, timeout)
}

// Decoder reads frames. It is not safe for concurrent use.
type Decoder struct {
	r      *bufio.Reader
	header [headerSize]byte
}

func NewDecoder(r io.Reader) *Decoder {
	return &Decoder{r: bufio.NewReader(r)}
}

// Read blocks for the next frame. A clean end of stream returns io.EOF.
func (d *Decoder) Read() (Frame, error) {
	if _, err := io.ReadFull(d.r, d.header[:]); err != nil {
		return Frame{}, err
	}
	op := Op(d.header[0])
	size := binary.BigEndian.Uint32(d.header[1:])
	if size > MaxPayload {
		return Frame{}, fmt.Errorf("%s frame of %d bytes: %w", op, size, qferrors.ErrFrameTooLarge)
	}

	var payload []byte
	if size > 0 {
		payload = make([]byte, size)
		if _, err := io.ReadFull(d.r, payload); err != nil {
			if err == io.EOF {
				err = io.ErrUnexpectedEOF
			}
			return Frame{}, fmt.Errorf("read %s payload: %w", op, err)
		}
	}
	return Frame{Op: op, Payload: payload}, nil
}

// DecodeJSON unmarshals the payload of f into v.
func (f Frame) DecodeJSON(v any) error {
	if err := jsoncodec.Unmarshal(f.Payload, v); err != nil {
		return fmt.Errorf("decode %s payload: %w", f.Op, err)
	}
	return nil
}

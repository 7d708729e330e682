package uart

import (
	"errors"
	"fmt"
	"io"
	"log"
	"sync"
	"time"

	"go.bug.st/serial"

	"github.com/crownstone/bluenet-sub000/internal/power"
)

// OpenPort opens a serial port at 8N1.
func OpenPort(name string, baud int) (serial.Port, error) {
	port, err := serial.Open(name, &serial.Mode{
		BaudRate: baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	})
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", name, err)
	}
	return port, nil
}

// Writer frames power logs onto w. It implements power.LogWriter and is
// safe for concurrent use.
type Writer struct {
	mu     sync.Mutex
	w      io.Writer
	frames uint64
}

// NewWriter creates a Writer on w.
func NewWriter(w io.Writer) *Writer {
	return &Writer{w: w}
}

// WriteLog encodes and writes one log message.
func (w *Writer) WriteLog(kind power.LogKind, ts time.Time, values []int32) error {
	op, ok := OpcodeFor(kind)
	if !ok {
		return fmt.Errorf("no opcode for log %s", kind)
	}
	payload, err := Message{Opcode: op, Timestamp: ts, Values: values}.Encode()
	if err != nil {
		return err
	}
	frame, err := Frame(payload)
	if err != nil {
		return err
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if _, err := w.w.Write(frame); err != nil {
		return fmt.Errorf("write %s: %w", kind, err)
	}
	w.frames++
	return nil
}

// Frames returns the number of frames written.
func (w *Writer) Frames() uint64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.frames
}

// ReadMessages decodes frames from r and hands every message to fn until r
// returns an error. io.EOF ends the stream cleanly. Corrupt frames are
// logged and skipped.
func ReadMessages(r io.Reader, fn func(Message)) error {
	dec := NewDecoder()
	buf := make([]byte, 256)
	for {
		n, err := r.Read(buf)
		for i := 0; i < n; i++ {
			payload, derr := dec.DecodeByte(buf[i])
			if derr != nil {
				log.Printf("uart: %v", derr)
				continue
			}
			if payload == nil {
				continue
			}
			m, perr := ParseMessage(payload)
			if perr != nil {
				log.Printf("uart: %v", perr)
				continue
			}
			fn(m)
		}
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
	}
}

// Package uart streams power logs over a serial line. Each frame is
//
//	START | stuffed(length, payload, crc) | END
//
// where length is a big-endian uint16, payload is a CBOR message and crc is
// CRC-16-CCITT over length and payload, big-endian.
package uart

import (
	"errors"
	"fmt"
)

// Framing bytes.
const (
	StartByte = 0x7E
	EndByte   = 0x7F
	EscByte   = 0x7D
	EscXor    = 0x20
)

// MaxPayloadSize bounds one CBOR payload.
const MaxPayloadSize = 1024

const (
	crcPolynomial = 0x1021
	crcInitial    = 0xFFFF
)

// Decoder errors. The decoder resets after each of them and waits for the
// next START byte.
var (
	ErrCRC         = errors.New("uart: crc mismatch")
	ErrLength      = errors.New("uart: bad length")
	ErrUnexpectEnd = errors.New("uart: unexpected end byte")
)

// CRC computes CRC-16-CCITT of data.
func CRC(data []byte) uint16 {
	crc := uint16(crcInitial)
	for _, b := range data {
		crc ^= uint16(b) << 8
		for i := 0; i < 8; i++ {
			if crc&0x8000 != 0 {
				crc = crc<<1 ^ crcPolynomial
			} else {
				crc <<= 1
			}
		}
	}
	return crc
}

// Frame wraps payload for the wire.
func Frame(payload []byte) ([]byte, error) {
	if len(payload) > MaxPayloadSize {
		return nil, fmt.Errorf("%w: %d bytes (max %d)", ErrLength, len(payload), MaxPayloadSize)
	}
	data := make([]byte, 0, 2+len(payload)+2)
	data = append(data, byte(len(payload)>>8), byte(len(payload)))
	data = append(data, payload...)
	crc := CRC(data)
	data = append(data, byte(crc>>8), byte(crc))

	out := make([]byte, 0, 2*len(data)+2)
	out = append(out, StartByte)
	for _, b := range data {
		if b == StartByte || b == EndByte || b == EscByte {
			out = append(out, EscByte, b^EscXor)
		} else {
			out = append(out, b)
		}
	}
	return append(out, EndByte), nil
}

const (
	stateIdle = iota
	stateLength
	statePayload
	stateCRC
	stateDone
)

// Decoder reassembles frames from a byte stream.
type Decoder struct {
	state  int
	escape bool
	need   int
	buf    []byte
}

// NewDecoder creates an idle decoder.
func NewDecoder() *Decoder {
	return &Decoder{buf: make([]byte, 0, 2+MaxPayloadSize+2)}
}

// Reset drops any partial frame.
func (d *Decoder) Reset() {
	d.state = stateIdle
	d.escape = false
	d.need = 0
	d.buf = d.buf[:0]
}

// DecodeByte feeds one byte. It returns the payload once a frame with a
// valid CRC completes. The returned slice is only valid until the next
// call.
func (d *Decoder) DecodeByte(b byte) ([]byte, error) {
	switch {
	case b == StartByte:
		d.Reset()
		d.state = stateLength
		return nil, nil
	case b == EndByte:
		if d.state != stateDone {
			st := d.state
			d.Reset()
			if st == stateIdle {
				return nil, nil
			}
			return nil, fmt.Errorf("%w in state %d", ErrUnexpectEnd, st)
		}
		n := len(d.buf) - 2
		got := uint16(d.buf[n])<<8 | uint16(d.buf[n+1])
		want := CRC(d.buf[:n])
		payload := d.buf[2:n]
		d.state = stateIdle
		if got != want {
			d.Reset()
			return nil, fmt.Errorf("%w: got 0x%04X, want 0x%04X", ErrCRC, got, want)
		}
		return payload, nil
	case d.state == stateIdle:
		return nil, nil
	case b == EscByte && !d.escape:
		d.escape = true
		return nil, nil
	}
	if d.escape {
		b ^= EscXor
		d.escape = false
	}

	switch d.state {
	case stateLength:
		d.buf = append(d.buf, b)
		if len(d.buf) < 2 {
			return nil, nil
		}
		n := int(d.buf[0])<<8 | int(d.buf[1])
		if n > MaxPayloadSize {
			d.Reset()
			return nil, fmt.Errorf("%w: %d", ErrLength, n)
		}
		d.need = n
		d.state = statePayload
		if n == 0 {
			d.state = stateCRC
		}
	case statePayload:
		d.buf = append(d.buf, b)
		if len(d.buf) == 2+d.need {
			d.state = stateCRC
		}
	case stateCRC:
		d.buf = append(d.buf, b)
		if len(d.buf) == 2+d.need+2 {
			d.state = stateDone
		}
	case stateDone:
		d.Reset()
		return nil, fmt.Errorf("%w: data after crc", ErrLength)
	}
	return nil, nil
}

package uart

import (
	"fmt"
	"time"

	"github.com/fxamacker/cbor/v2"

	"github.com/crownstone/bluenet-sub000/internal/power"
)

// Opcode tags the kind of log carried by a message.
type Opcode uint8

const (
	OpPowerLog           Opcode = 0x70
	OpCurrentLog         Opcode = 0x71
	OpVoltageLog         Opcode = 0x72
	OpFilteredCurrentLog Opcode = 0x73
)

var opcodes = map[power.LogKind]Opcode{
	power.LogPower:           OpPowerLog,
	power.LogCurrent:         OpCurrentLog,
	power.LogVoltage:         OpVoltageLog,
	power.LogFilteredCurrent: OpFilteredCurrentLog,
}

// OpcodeFor returns the opcode of a log kind.
func OpcodeFor(k power.LogKind) (Opcode, bool) {
	op, ok := opcodes[k]
	return op, ok
}

func (op Opcode) String() string {
	for k, o := range opcodes {
		if o == op {
			return k.String()
		}
	}
	return fmt.Sprintf("op(0x%02X)", uint8(op))
}

// Payload map keys.
const (
	keyTimestamp = 1 // microseconds since the Unix epoch
	keyValues    = 2
)

// Message is one decoded log.
type Message struct {
	Opcode    Opcode
	Timestamp time.Time
	Values    []int32
}

// Encode builds the CBOR payload [opcode, {1: timestamp, 2: values}].
func (m Message) Encode() ([]byte, error) {
	body := map[int]interface{}{
		keyTimestamp: m.Timestamp.UnixMicro(),
		keyValues:    m.Values,
	}
	data, err := cbor.Marshal([]interface{}{uint64(m.Opcode), body})
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", m.Opcode, err)
	}
	return data, nil
}

// ParseMessage decodes a CBOR payload produced by Encode.
func ParseMessage(data []byte) (Message, error) {
	var raw []interface{}
	if err := cbor.Unmarshal(data, &raw); err != nil {
		return Message{}, fmt.Errorf("decode cbor: %w", err)
	}
	if len(raw) != 2 {
		return Message{}, fmt.Errorf("expected 2-element array, got %d", len(raw))
	}
	op, ok := raw[0].(uint64)
	if !ok || op > 0xFF {
		return Message{}, fmt.Errorf("bad opcode %v", raw[0])
	}
	body, ok := raw[1].(map[interface{}]interface{})
	if !ok {
		return Message{}, fmt.Errorf("expected map payload, got %T", raw[1])
	}

	m := Message{Opcode: Opcode(op)}
	for k, v := range body {
		key, ok := asInt(k)
		if !ok {
			return Message{}, fmt.Errorf("expected integer key, got %T", k)
		}
		switch key {
		case keyTimestamp:
			us, ok := asInt(v)
			if !ok {
				return Message{}, fmt.Errorf("bad timestamp %v", v)
			}
			m.Timestamp = time.UnixMicro(us)
		case keyValues:
			list, ok := v.([]interface{})
			if !ok {
				return Message{}, fmt.Errorf("expected value list, got %T", v)
			}
			m.Values = make([]int32, len(list))
			for i, x := range list {
				n, ok := asInt(x)
				if !ok {
					return Message{}, fmt.Errorf("bad value %v at %d", x, i)
				}
				m.Values[i] = int32(n)
			}
		}
	}
	return m, nil
}

// asInt accepts both CBOR integer encodings.
func asInt(v interface{}) (int64, bool) {
	switch n := v.(type) {
	case uint64:
		return int64(n), true
	case int64:
		return n, true
	}
	return 0, false
}

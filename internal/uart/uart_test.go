package uart

import (
	"bytes"
	"errors"
	"testing"
	"time"

	"github.com/crownstone/bluenet-sub000/internal/power"
)

func decodeAll(t *testing.T, d *Decoder, data []byte) ([][]byte, []error) {
	t.Helper()
	var payloads [][]byte
	var errs []error
	for _, b := range data {
		p, err := d.DecodeByte(b)
		if err != nil {
			errs = append(errs, err)
		}
		if p != nil {
			payloads = append(payloads, append([]byte(nil), p...))
		}
	}
	return payloads, errs
}

func TestCRCKnownValue(t *testing.T) {
	// CRC-16/CCITT-FALSE check value.
	if got := CRC([]byte("123456789")); got != 0x29B1 {
		t.Errorf("CRC = 0x%04X, want 0x29B1", got)
	}
}

func TestFrameStuffsSpecialBytes(t *testing.T) {
	payload := []byte{0x01, StartByte, EndByte, EscByte, 0x02}
	frame, err := Frame(payload)
	if err != nil {
		t.Fatal(err)
	}
	if frame[0] != StartByte || frame[len(frame)-1] != EndByte {
		t.Fatalf("frame not delimited: % X", frame)
	}
	for i, b := range frame[1 : len(frame)-1] {
		if b == StartByte || b == EndByte {
			t.Fatalf("unescaped framing byte at %d: % X", i+1, frame)
		}
	}

	payloads, errs := decodeAll(t, NewDecoder(), frame)
	if len(errs) != 0 || len(payloads) != 1 || !bytes.Equal(payloads[0], payload) {
		t.Fatalf("decoded %v errs %v", payloads, errs)
	}
}

func TestDecoderRejectsCorruption(t *testing.T) {
	frame, _ := Frame([]byte{1, 2, 3, 4})
	bad := append([]byte(nil), frame...)
	bad[4] ^= 0x01

	payloads, errs := decodeAll(t, NewDecoder(), bad)
	if len(payloads) != 0 || len(errs) != 1 || !errors.Is(errs[0], ErrCRC) {
		t.Fatalf("payloads %v errs %v", payloads, errs)
	}
}

func TestDecoderResyncs(t *testing.T) {
	good, _ := Frame([]byte("ok"))
	truncated := good[:4]

	var stream []byte
	stream = append(stream, 0x00, 0x11) // noise before any frame
	stream = append(stream, truncated...)
	stream = append(stream, good...)
	stream = append(stream, EndByte) // stray end while idle

	payloads, errs := decodeAll(t, NewDecoder(), stream)
	if len(errs) != 0 {
		t.Errorf("errs %v", errs)
	}
	if len(payloads) != 1 || string(payloads[0]) != "ok" {
		t.Fatalf("payloads %q", payloads)
	}
}

func TestDecoderEarlyEnd(t *testing.T) {
	_, errs := decodeAll(t, NewDecoder(), []byte{StartByte, 0x00, EndByte})
	if len(errs) != 1 || !errors.Is(errs[0], ErrUnexpectEnd) {
		t.Fatalf("errs %v", errs)
	}
}

func TestFrameTooLarge(t *testing.T) {
	if _, err := Frame(make([]byte, MaxPayloadSize+1)); !errors.Is(err, ErrLength) {
		t.Fatalf("err = %v", err)
	}
}

func TestMessageDecodesNegativeValues(t *testing.T) {
	ts := time.Date(2024, 1, 15, 10, 0, 0, 123000, time.UTC)
	m := Message{Opcode: OpPowerLog, Timestamp: ts, Values: []int32{-5, 0, 230000, -2147483648}}
	data, err := m.Encode()
	if err != nil {
		t.Fatal(err)
	}
	got, err := ParseMessage(data)
	if err != nil {
		t.Fatal(err)
	}
	if got.Opcode != OpPowerLog || !got.Timestamp.Equal(ts) {
		t.Errorf("header %v %v", got.Opcode, got.Timestamp)
	}
	if len(got.Values) != 4 || got.Values[0] != -5 || got.Values[3] != -2147483648 {
		t.Errorf("values %v", got.Values)
	}
}

func TestParseMessageRejectsGarbage(t *testing.T) {
	for _, data := range [][]byte{{}, {0xff}, {0x80}, {0x82, 0x01, 0x02}} {
		if _, err := ParseMessage(data); err == nil {
			t.Errorf("ParseMessage(% X) accepted", data)
		}
	}
}

type failWriter struct{}

func (failWriter) Write([]byte) (int, error) { return 0, errors.New("line down") }

func TestWriterStreamsLogs(t *testing.T) {
	var line bytes.Buffer
	w := NewWriter(&line)
	ts := time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC)

	if err := w.WriteLog(power.LogPower, ts, []int32{1, 2, 3}); err != nil {
		t.Fatal(err)
	}
	if err := w.WriteLog(power.LogVoltage, ts, make([]int32, 100)); err != nil {
		t.Fatal(err)
	}
	if w.Frames() != 2 {
		t.Errorf("frames = %d", w.Frames())
	}

	// Corrupt bytes between frames are skipped.
	stream := append([]byte{StartByte, 0x00, 0x05, 0x01, EndByte}, line.Bytes()...)
	var msgs []Message
	if err := ReadMessages(bytes.NewReader(stream), func(m Message) { msgs = append(msgs, m) }); err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 2 {
		t.Fatalf("read %d messages", len(msgs))
	}
	if msgs[0].Opcode != OpPowerLog || len(msgs[0].Values) != 3 || msgs[0].Values[2] != 3 {
		t.Errorf("first message %+v", msgs[0])
	}
	if msgs[1].Opcode != OpVoltageLog || len(msgs[1].Values) != 100 {
		t.Errorf("second message %v with %d values", msgs[1].Opcode, len(msgs[1].Values))
	}
}

func TestWriterReportsErrors(t *testing.T) {
	w := NewWriter(failWriter{})
	if err := w.WriteLog(power.LogCurrent, time.Now(), []int32{1}); err == nil {
		t.Error("write error swallowed")
	}
	if err := w.WriteLog(power.LogKind(99), time.Now(), nil); err == nil {
		t.Error("unknown log kind accepted")
	}
}

func TestOpcodeNames(t *testing.T) {
	if OpFilteredCurrentLog.String() != "filtered_current" {
		t.Errorf("String = %q", OpFilteredCurrentLog.String())
	}
	if Opcode(0x10).String() != "op(0x10)" {
		t.Errorf("unknown opcode = %q", Opcode(0x10).String())
	}
}

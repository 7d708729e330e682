package adc

import (
	"math"
)

// Waveform describes the mains signal a Generator produces.
type Waveform struct {
	FrequencyHz float64
	VoltageRms  float64 // volts
	CurrentRms  float64 // amps
	PhaseDeg    float64 // current lags voltage by this angle

	// Converter front end: DC offset in raw units and scale per raw unit.
	VoltageZero       int16
	CurrentZero       int16
	VoltageMultiplier float64 // volts per raw unit
	CurrentMultiplier float64 // amps per raw unit
}

// Front end scale used by the default board configuration.
const (
	DefaultVoltageMultiplier = 0.2
	DefaultCurrentMultiplier = 0.0045
)

// DefaultWaveform returns 230 V at 50 Hz with no load.
func DefaultWaveform() Waveform {
	return Waveform{
		FrequencyHz:       50,
		VoltageRms:        230,
		VoltageZero:       12,
		CurrentZero:       -7,
		VoltageMultiplier: DefaultVoltageMultiplier,
		CurrentMultiplier: DefaultCurrentMultiplier,
	}
}

// Generator fills Store buffers with a synthetic waveform in place of a
// converter driver. Each filled buffer gets the next sequence number and
// the sample clock runs on across buffers, so consecutive buffers are
// phase continuous.
type Generator struct {
	store *Store
	wave  Waveform
	seq   uint32
	clock int64 // microseconds
}

// NewGenerator creates a generator producing into store.
func NewGenerator(store *Store, w Waveform) *Generator {
	return &Generator{store: store, wave: w}
}

// Waveform returns the waveform currently produced.
func (g *Generator) Waveform() Waveform {
	return g.wave
}

// SetWaveform changes the waveform from the next buffer on.
func (g *Generator) SetWaveform(w Waveform) {
	g.wave = w
}

// Fill produces the next valid buffer. It returns false when no buffer is
// free; the period is lost and the sequence number still advances, as it
// would on a converter overrun.
func (g *Generator) Fill() (BufferID, bool) {
	return g.produce(true)
}

// FillInvalid produces the next buffer flagged as corrupted.
func (g *Generator) FillInvalid() (BufferID, bool) {
	return g.produce(false)
}

// Skip drops one buffer period without producing anything.
func (g *Generator) Skip() {
	g.seq++
	b := g.store.Buffer(0)
	g.clock += int64(b.Len()) * int64(b.SampleInterval(VoltageChannel))
}

func (g *Generator) produce(valid bool) (BufferID, bool) {
	id, ok := g.store.Acquire()
	if !ok {
		g.Skip()
		return 0, false
	}
	buf := g.store.Buffer(id)
	buf.Seq = g.seq
	buf.Valid = valid
	g.seq++

	stride := buf.NumChannels()
	interval := int64(buf.SampleInterval(VoltageChannel))
	w := g.wave
	omega := 2 * math.Pi * w.FrequencyHz
	phase := w.PhaseDeg * math.Pi / 180
	vPeak := w.VoltageRms * math.Sqrt2
	iPeak := w.CurrentRms * math.Sqrt2

	for i := 0; i < buf.Len(); i++ {
		t := float64(g.clock) / 1e6
		v := vPeak*math.Sin(omega*t)/w.VoltageMultiplier + float64(w.VoltageZero)
		c := iPeak*math.Sin(omega*t-phase)/w.CurrentMultiplier + float64(w.CurrentZero)
		buf.Samples[i*stride+VoltageChannel] = toSample(v)
		if stride > CurrentChannel {
			buf.Samples[i*stride+CurrentChannel] = toSample(c)
		}
		g.clock += interval
	}
	return id, true
}

func toSample(v float64) int16 {
	v = math.Round(v)
	if v > math.MaxInt16 {
		return math.MaxInt16
	}
	if v < math.MinInt16 {
		return math.MinInt16
	}
	return int16(v)
}

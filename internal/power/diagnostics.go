package power

import (
	"time"

	"github.com/crownstone/bluenet-sub000/internal/adc"
)

// Switch snapshot layout: slot = buffer*2 + channel.
const (
	switchPre    = 0
	switchPost   = 1
	switchSettle = 2
	switchSlots  = 6
)

// Diagnostics retains raw samples around softfuse trips and switch
// transitions. Each capture overwrites the previous one of its kind.
type Diagnostics struct {
	softfuse      slot
	switches      [switchSlots]slot
	settlePending bool
}

func newDiagnostics(n int) *Diagnostics {
	d := &Diagnostics{softfuse: slot{values: make([]int16, n)}}
	for i := range d.switches {
		d.switches[i].values = make([]int16, n)
	}
	return d
}

// channelMeta is the offset and multiplier of each channel at capture time.
type channelMeta [adc.NumChannels]struct {
	offset     int32
	multiplier float64
}

func (d *Diagnostics) captureSoftfuse(now time.Time, raw *adc.SampleBuffer, meta channelMeta) {
	s := &d.softfuse
	raw.CopyChannel(s.values, adc.CurrentChannel)
	s.timestamp = now
	s.offset = meta[adc.CurrentChannel].offset
	s.multiplier = meta[adc.CurrentChannel].multiplier
	s.valid = true
}

// captureTransition stores the previous and current raw buffers, and arms
// the settle capture for the next cycle. prev may be nil when the pipeline
// restarted right before the transition.
func (d *Diagnostics) captureTransition(now time.Time, prev [adc.NumChannels][]int16, raw *adc.SampleBuffer, meta channelMeta) {
	for i := range d.switches {
		d.switches[i].valid = false
	}
	for ch := 0; ch < adc.NumChannels; ch++ {
		if prev[ch] != nil {
			s := &d.switches[switchPre*adc.NumChannels+ch]
			copy(s.values, prev[ch])
			d.fill(s, now, meta, ch)
		}
		s := &d.switches[switchPost*adc.NumChannels+ch]
		raw.CopyChannel(s.values, ch)
		d.fill(s, now, meta, ch)
	}
	d.settlePending = true
}

func (d *Diagnostics) captureSettle(now time.Time, raw *adc.SampleBuffer, meta channelMeta) {
	if !d.settlePending {
		return
	}
	for ch := 0; ch < adc.NumChannels; ch++ {
		s := &d.switches[switchSettle*adc.NumChannels+ch]
		raw.CopyChannel(s.values, ch)
		d.fill(s, now, meta, ch)
	}
	d.settlePending = false
}

func (d *Diagnostics) fill(s *slot, now time.Time, meta channelMeta, ch int) {
	s.timestamp = now
	s.offset = meta[ch].offset
	s.multiplier = meta[ch].multiplier
	s.valid = true
}

// GetSamples answers a sample query. It fails with ErrNotAvailable for an
// index that was never captured and ErrUnknownKind for unknown kinds.
func (e *Engine) GetSamples(kind SamplesKind, index int) (Samples, error) {
	switch kind {
	case SamplesSwitchcraft, SamplesSwitchcraftNonTriggered:
		if e.recognizer == nil {
			return Samples{}, ErrNotAvailable
		}
		s, err := e.recognizer.Samples(kind, index)
		if err != nil {
			return Samples{}, err
		}
		m := e.meta()[adc.VoltageChannel]
		s.SampleIntervalUs = e.intervalUs
		s.Offset, s.Multiplier = m.offset, m.multiplier
		return s, nil

	case SamplesNowFiltered, SamplesNowUnfiltered:
		if index < 0 || index >= adc.NumChannels || e.queue.len() == 0 {
			return Samples{}, ErrNotAvailable
		}
		pos := e.queue.newestIndex()
		if kind == SamplesNowFiltered {
			pos = e.queue.filteredIndex()
		}
		buf := e.pool.Buffer(e.queue.at(pos))
		meta := e.meta()
		vals := make([]int16, buf.Len())
		buf.CopyChannel(vals, index)
		return Samples{
			Kind:             kind,
			Index:            index,
			Timestamp:        e.lastCycle,
			SampleIntervalUs: e.intervalUs,
			Offset:           meta[index].offset,
			Multiplier:       meta[index].multiplier,
			Values:           vals,
		}, nil

	case SamplesSoftfuse:
		if index != 0 {
			return Samples{}, ErrNotAvailable
		}
		return e.diag.softfuse.samples(kind, index, e.intervalUs)

	case SamplesSwitch:
		if index < 0 || index >= switchSlots {
			return Samples{}, ErrNotAvailable
		}
		return e.diag.switches[index].samples(kind, index, e.intervalUs)
	}
	return Samples{}, ErrUnknownKind
}

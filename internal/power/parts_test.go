package power

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/crownstone/bluenet-sub000/internal/adc"
)

func TestZeroLevelFold(t *testing.T) {
	z := NewZeroLevel(50, 20)
	if z.Offset() != 50 || z.Count() != 0 {
		t.Fatalf("seed: offset %d count %d", z.Offset(), z.Count())
	}

	z.Fold(1000 * fixedScale)
	if z.Fixed() != 1000*fixedScale {
		t.Fatalf("first fold should replace the seed, got %d", z.Fixed())
	}

	steps := []struct {
		level int64
		want  int64
	}{
		{0, 512000}, // discount 1000/2
		{0, 341504}, // discount 1000/3, truncated
	}
	for i, s := range steps {
		z.Fold(s.level)
		if z.Fixed() != s.want {
			t.Fatalf("fold %d: got %d, want %d", i, z.Fixed(), s.want)
		}
	}
	if z.Count() != 3 {
		t.Errorf("count = %d, want 3", z.Count())
	}
}

func TestZeroLevelSteadyDiscountAndSaturation(t *testing.T) {
	z := NewZeroLevel(0, 20)
	z.count = 100
	if d := z.discount(); d != 20 {
		t.Errorf("discount at count 100 = %d, want 20", d)
	}
	z.count = math.MaxUint16
	z.Fold(0)
	if z.Count() != math.MaxUint16 {
		t.Errorf("count wrapped to %d", z.Count())
	}

	z.Reseed(-3)
	if z.Offset() != -3 || z.Count() != math.MaxUint16 {
		t.Errorf("reseed: offset %d count %d", z.Offset(), z.Count())
	}
}

func TestZeroLevelReseedIsBlended(t *testing.T) {
	z := NewZeroLevel(0, 100)
	z.Fold(0)
	z.count = 500
	z.Reseed(10)
	z.Fold(0)
	// 900/1000 of the seed survives one update.
	if got, want := z.Fixed(), int64(9*fixedScale); got != want {
		t.Errorf("after reseed and fold: %d, want %d", got, want)
	}
}

func TestZeroLevelUpdateUsesOnePeriod(t *testing.T) {
	buf := &adc.SampleBuffer{
		Channels: make([]adc.ChannelConfig, 2),
		// voltage 10,20,30,1000; current 1,2,3,4
		Samples: []int16{10, 1, 20, 2, 30, 3, 1000, 4},
	}
	z := NewZeroLevel(0, 20)
	z.Update(buf, adc.VoltageChannel, 3)
	if z.Offset() != 20 {
		t.Errorf("voltage zero = %d, want 20", z.Offset())
	}
	c := NewZeroLevel(0, 100)
	c.Update(buf, adc.CurrentChannel, 4)
	if c.Fixed() != 2560 { // 2.5 in fixed point
		t.Errorf("current zero = %d, want 2560", c.Fixed())
	}
}

func TestMetricHistory(t *testing.T) {
	h, err := NewMetricHistory(5)
	if err != nil {
		t.Fatal(err)
	}
	if h.Value() != 0 {
		t.Errorf("empty value = %d", h.Value())
	}
	h.Push(10)
	h.Push(20)
	if got := h.Value(); got != 15 {
		t.Errorf("partial value = %d, want mean 15", got)
	}
	for _, v := range []int32{30, 40, 1000} {
		h.Push(v)
	}
	if !h.Full() || h.Value() != 30 {
		t.Errorf("full value = %d, want median 30", h.Value())
	}
	h.Push(5) // drops 10
	if got := h.Value(); got != 30 {
		t.Errorf("after wrap value = %d, want 30", got)
	}
	h.Reset()
	if h.Len() != 0 || h.Value() != 0 {
		t.Error("reset left values")
	}

	if _, err := NewMetricHistory(4); err == nil {
		t.Error("even history size accepted")
	}
}

func TestPowerAverageRamp(t *testing.T) {
	a := NewPowerAverage(DefaultParams())
	a.Update(1000)
	if a.Fast() != 200 || a.Slow() != 200 {
		t.Fatalf("after first update fast %d slow %d, want 200", a.Fast(), a.Slow())
	}

	a.ResetSlow(0)
	a.slowCount = 25
	if d := a.slowDiscount(); math.Abs(d-0.11) > 1e-9 {
		t.Errorf("discount halfway through ramp = %v, want 0.11", d)
	}
	a.slowCount = 50
	if d := a.slowDiscount(); d != 0.02 {
		t.Errorf("discount after ramp = %v", d)
	}
}

func TestPowerAverageDivergenceReset(t *testing.T) {
	a := NewPowerAverage(DefaultParams())
	for i := 0; i < 100; i++ {
		if a.Update(1000) {
			t.Fatalf("steady input reset at update %d", i)
		}
	}
	if math.Abs(float64(a.Slow()-1000)) > 10 {
		t.Fatalf("slow = %d, want ~1000", a.Slow())
	}

	if !a.Update(100000) {
		t.Fatal("large step did not reset slow average")
	}
	if a.Slow() != a.Fast() || a.SlowCount() != 0 {
		t.Errorf("after reset slow %d fast %d count %d", a.Slow(), a.Fast(), a.SlowCount())
	}
}

func TestPowerAverageNoResetDuringRamp(t *testing.T) {
	a := NewPowerAverage(DefaultParams())
	if a.Update(500000) {
		t.Error("reset during ramp")
	}
}

func TestEnergy(t *testing.T) {
	e := NewEnergy(-10000)
	now := t0

	e.Add(1000, now)
	if e.MicroJoule() != 0 {
		t.Fatal("first call accumulated")
	}
	steps := []struct {
		mw   int32
		want int64
	}{
		{1000, 1000000},  // 1 W for 1 s
		{-5000, 1000000}, // noise band
		{0, 1000000},     // idle
		{-20000, -19000000},
		{500, -18500000},
	}
	for i, s := range steps {
		now = now.Add(time.Second)
		e.Add(s.mw, now)
		if e.MicroJoule() != s.want {
			t.Fatalf("step %d: %d uJ, want %d", i, e.MicroJoule(), s.want)
		}
	}

	e.Add(1000, now) // no time passed
	if e.MicroJoule() != -18500000 {
		t.Error("accumulated without elapsed time")
	}
}

func TestPipelineQueue(t *testing.T) {
	q := newPipelineQueue(4)
	if q.filteredIndex() != -1 {
		t.Errorf("empty filtered index = %d", q.filteredIndex())
	}
	q.push(3)
	if q.filteredIndex() != 0 || q.newestIndex() != 0 {
		t.Errorf("fresh start: filtered %d newest %d", q.filteredIndex(), q.newestIndex())
	}
	q.push(4)
	q.push(5)
	if q.filteredIndex() != 1 || q.at(q.newestIndex()) != 5 {
		t.Errorf("filtered %d newest %d", q.filteredIndex(), q.at(q.newestIndex()))
	}
	if id, ok := q.popOldest(); !ok || id != 3 {
		t.Errorf("popOldest = %d, %v", id, ok)
	}

	var released []adc.BufferID
	q.clear(func(id adc.BufferID) { released = append(released, id) })
	if q.len() != 0 || len(released) != 2 || released[0] != 4 || released[1] != 5 {
		t.Errorf("clear released %v, %d left", released, q.len())
	}
	if _, ok := q.popOldest(); ok {
		t.Error("popOldest on empty queue")
	}
}

func TestSwapSuspected(t *testing.T) {
	const n = 100
	mk := func(v, i func(k int) int16) *adc.SampleBuffer {
		b := &adc.SampleBuffer{Channels: make([]adc.ChannelConfig, 2), Samples: make([]int16, 2*n)}
		for k := 0; k < n; k++ {
			b.Samples[2*k] = v(k)
			b.Samples[2*k+1] = i(k)
		}
		return b
	}
	sine := func(k int) int16 { return int16(1600 * math.Sin(2*math.Pi*float64(k)/n)) }
	small := func(k int) int16 { return int16(200 * math.Sin(2*math.Pi*float64(k)/n)) }

	prev := mk(sine, small)
	if swapSuspected(prev, mk(sine, small), n) {
		t.Error("identical buffers flagged")
	}
	if !swapSuspected(prev, mk(small, sine), n) {
		t.Error("swapped channels not flagged")
	}
}

func TestSwitchState(t *testing.T) {
	s := NewSwitchState(true, 150)
	if !s.Relay() || s.Dimmer() != 100 || s.Off() {
		t.Errorf("state %s", s)
	}
	if !NewSwitchState(false, 0).Off() {
		t.Error("zero state not off")
	}
	if got := NewSwitchState(false, 40).String(); got != "relay=off dimmer=40" {
		t.Errorf("String = %q", got)
	}
}

func TestFaults(t *testing.T) {
	var fs Faults
	if fs.String() != "NONE" {
		t.Errorf("empty = %q", fs.String())
	}
	if !fs.Set(FaultOvercurrent) || fs.Set(FaultOvercurrent) {
		t.Error("Set did not report newly raised")
	}
	fs.Set(FaultDimmerOnFailure)
	if fs.String() != "OVERCURRENT|DIMMER_ON_FAILURE" {
		t.Errorf("String = %q", fs.String())
	}
	f, err := ParseFault("overcurrent_dimmer")
	if err != nil || f != FaultOvercurrentDimmer {
		t.Errorf("ParseFault = %v, %v", f, err)
	}
	if _, err := ParseFault("bogus"); err == nil {
		t.Error("ParseFault accepted bogus")
	}
}

func TestParseKinds(t *testing.T) {
	for _, in := range []string{"switch", "5", "SWITCH"} {
		k, err := ParseSamplesKind(in)
		if err != nil || k != SamplesSwitch {
			t.Errorf("ParseSamplesKind(%q) = %v, %v", in, k, err)
		}
	}
	if _, err := ParseSamplesKind("nope"); !errors.Is(err, ErrUnknownKind) {
		t.Errorf("unknown kind error = %v", err)
	}
	if k, err := ParseLogKind("filtered_current"); err != nil || k != LogFilteredCurrent {
		t.Errorf("ParseLogKind = %v, %v", k, err)
	}
}

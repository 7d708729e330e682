package power

import (
	"errors"
	"fmt"
	"log"
	"math"
	"time"

	"github.com/crownstone/bluenet-sub000/internal/adc"
	"github.com/crownstone/bluenet-sub000/internal/median"
	"github.com/crownstone/bluenet-sub000/internal/settings"
)

// ErrPeriodTooLong is returned by New when one AC period needs more
// samples than a buffer holds.
var ErrPeriodTooLong = errors.New("power: AC period longer than a buffer")

// Deps are the collaborators of the engine. Recognizer, Logs and Now are
// optional.
type Deps struct {
	Pool       BufferPool
	Settings   Settings
	State      SharedState
	Dispatcher Dispatcher
	Recognizer Recognizer
	Logs       LogWriter
	Now        func() time.Time
}

// Engine runs the per buffer pipeline: filter, calibration, power and RMS,
// energy, softfuse and diagnostics. All state is allocated in New.
type Engine struct {
	p          Params
	pool       BufferPool
	settings   Settings
	state      SharedState
	dispatcher Dispatcher
	recognizer Recognizer
	logWriter  LogWriter
	now        func() time.Time

	n          int // samples per AC period
	intervalUs uint32
	filter     *median.Filter[int16]
	queue      *pipelineQueue
	lastSeq    uint32
	skipSwap   int

	zeroV, zeroI ZeroLevel
	vMult, iMult float64
	powerZero    int32

	rawCurrentHist *MetricHistory
	currentHist    *MetricHistory
	voltageHist    *MetricHistory
	avg            *PowerAverage
	energy         *Energy
	softfuse       *Softfuse

	switches     switchHistory
	offSince     time.Time
	diag         *Diagnostics
	prevRaw      [adc.NumChannels][]int16
	prevRawValid bool

	switchcraft    bool
	voltageScratch []int16

	logs       [numLogKinds]bool
	logScratch []int32

	counters  Counters
	telemetry Telemetry
	lastCycle time.Time
}

// New validates the configuration and allocates the engine.
func New(p Params, d Deps) (*Engine, error) {
	if err := p.validate(); err != nil {
		return nil, err
	}
	if d.Pool == nil || d.Settings == nil || d.State == nil {
		return nil, fmt.Errorf("power: pool, settings and state are required")
	}
	buf := d.Pool.Buffer(0)
	if buf == nil || buf.NumChannels() < adc.NumChannels {
		return nil, fmt.Errorf("power: need a buffer with %d channels", adc.NumChannels)
	}
	interval := buf.SampleInterval(adc.VoltageChannel)
	if interval == 0 {
		return nil, fmt.Errorf("power: zero sample interval")
	}
	n := int(p.ACPeriodUs / interval)
	if n == 0 || n > buf.Len() {
		return nil, fmt.Errorf("%w: %d samples per period, %d per buffer", ErrPeriodTooLong, n, buf.Len())
	}

	filter, err := median.NewFilter[int16](p.FilterHalfWindow, buf.Len())
	if err != nil {
		return nil, fmt.Errorf("power: filter: %w", err)
	}
	hists := make([]*MetricHistory, 3)
	for i := range hists {
		if hists[i], err = NewMetricHistory(p.HistorySize); err != nil {
			return nil, fmt.Errorf("power: history: %w", err)
		}
	}

	now := d.Now
	if now == nil {
		now = time.Now
	}
	cfg := d.Settings.Config()

	e := &Engine{
		p:              p,
		pool:           d.Pool,
		settings:       d.Settings,
		state:          d.State,
		dispatcher:     d.Dispatcher,
		recognizer:     d.Recognizer,
		logWriter:      d.Logs,
		now:            now,
		n:              n,
		intervalUs:     interval,
		filter:         filter,
		queue:          newPipelineQueue(p.QueueDepth),
		zeroV:          NewZeroLevel(cfg.VoltageZero, p.ZeroDiscountVoltage),
		zeroI:          NewZeroLevel(cfg.CurrentZero, p.ZeroDiscountCurrent),
		vMult:          cfg.VoltageMultiplier,
		iMult:          cfg.CurrentMultiplier,
		powerZero:      cfg.PowerZero,
		rawCurrentHist: hists[0],
		currentHist:    hists[1],
		voltageHist:    hists[2],
		avg:            NewPowerAverage(p),
		energy:         NewEnergy(p.NegativePowerMW),
		softfuse:       NewSoftfuse(p, cfg.CurrentThreshold, cfg.CurrentThresholdDimmer, now()),
		diag:           newDiagnostics(buf.Len()),
		switchcraft:    cfg.SwitchcraftEnabled,
		voltageScratch: make([]int16, n),
		logScratch:     make([]int32, max(n, powerLogLen)),
	}
	for ch := range e.prevRaw {
		e.prevRaw[ch] = make([]int16, buf.Len())
	}
	if e.recognizer != nil {
		e.recognizer.Configure(cfg.SwitchcraftThreshold)
	}
	return e, nil
}

// OnBufferFilled processes one completed buffer. It always runs to
// completion; a sequence gap or an invalid buffer restarts the pipeline.
func (e *Engine) OnBufferFilled(id adc.BufferID) {
	now := e.now()
	buf := e.pool.Buffer(id)
	if buf == nil {
		log.Printf("power: unknown buffer %d", id)
		return
	}

	if e.queue.len() > 0 && buf.Seq != e.lastSeq+1 {
		e.counters.Discontinuities++
		log.Printf("power: sequence gap %d -> %d, restarting pipeline", e.lastSeq, buf.Seq)
		e.clearQueue()
	}
	if !buf.Valid {
		e.counters.InvalidBuffers++
		log.Printf("power: buffer %d (seq %d) invalid, restarting pipeline", id, buf.Seq)
		e.clearQueue()
		e.pool.Release(id)
		return
	}
	e.lastSeq = buf.Seq
	e.queue.push(id)
	e.counters.Buffers++

	// The newest buffer stays raw. Its filtered copy goes into the slot
	// one behind it; on a fresh start the raw buffer is used as is.
	filtered := buf
	if e.queue.len() > 1 {
		filtered = e.pool.Buffer(e.queue.at(e.queue.filteredIndex()))
		stride := buf.NumChannels()
		for ch := 0; ch < stride; ch++ {
			if err := e.filter.Strided(filtered.Samples, buf.Samples, ch, stride, buf.Len()); err != nil {
				log.Printf("power: filter channel %d: %v", ch, err)
			}
		}
		e.checkSwap(now, filtered)
	}

	e.process(now, filtered, buf)

	for e.queue.len() > e.p.QueueDepth {
		old, _ := e.queue.popOldest()
		e.pool.Release(old)
	}
	for ch := range e.prevRaw {
		buf.CopyChannel(e.prevRaw[ch], ch)
	}
	e.prevRawValid = true
}

// cycle holds the figures of one AC period.
type cycle struct {
	real     int32 // after power zero correction
	apparent int32

	rawCurrent       int32
	rawCurrentMedian int32
	current          int32 // filtered
	currentMedian    int32
	voltage          int32
	voltageMedian    int32
}

func (e *Engine) process(now time.Time, filtered, raw *adc.SampleBuffer) {
	e.lastCycle = now
	// Read once, before anything this cycle dispatches can change it.
	state := e.state.SwitchState()

	e.zeroV.Update(filtered, adc.VoltageChannel, e.n)
	e.zeroI.Update(filtered, adc.CurrentChannel, e.n)

	c := e.measure(filtered, raw)
	e.rawCurrentHist.Push(c.rawCurrent)
	e.currentHist.Push(c.current)
	e.voltageHist.Push(c.voltage)
	c.rawCurrentMedian = e.rawCurrentHist.Value()
	c.currentMedian = e.currentHist.Value()
	c.voltageMedian = e.voltageHist.Value()
	c.apparent = int32(int64(c.rawCurrentMedian) * int64(c.voltageMedian) / 1000)

	if e.powerZero != settings.PowerZeroInvalid {
		c.real -= e.powerZero
	}
	if e.avg.Update(c.real) {
		log.Printf("power: averages diverged, slow average reset to %d mW", e.avg.Fast())
	}

	meta := e.meta()
	if prev, changed := e.switches.observe(state); changed {
		if state.Off() {
			e.avg.ResetSlow(0)
		} else {
			e.avg.ResetSlow(float64(e.avg.Fast()))
		}
		log.Printf("power: switch %s -> %s", prev, state)
		var pre [adc.NumChannels][]int16
		if e.prevRawValid {
			pre = e.prevRaw
		}
		e.diag.captureTransition(now, pre, raw, meta)
	} else {
		e.diag.captureSettle(now, raw, meta)
	}
	if !state.Off() {
		e.offSince = time.Time{}
	} else if e.offSince.IsZero() {
		e.offSince = now
	}

	e.calibratePowerZero(now, state)
	e.energy.Add(e.avg.Slow(), now)

	events := e.softfuse.Evaluate(SoftfuseInput{
		Time:                  now,
		State:                 state,
		Ready:                 e.zeroV.Count() > e.p.SoftfuseWarmup && e.zeroI.Count() > e.p.SoftfuseWarmup,
		CurrentMilliAmp:       c.currentMedian,
		DimmerCurrentMilliAmp: c.current,
		VoltageMilliVolt:      c.voltageMedian,
	})
	for _, ev := range events {
		if ev.Type != EventChannelSwapSuspected {
			e.diag.captureSoftfuse(now, raw, meta)
			break
		}
	}
	for _, ev := range events {
		e.dispatch(ev)
	}

	if e.switchcraft && e.recognizer != nil {
		filtered.CopyChannel(e.voltageScratch, adc.VoltageChannel)
		if e.recognizer.Detect(e.voltageScratch) {
			log.Printf("power: switch actuation recognized")
			e.dispatch(Event{Timestamp: now, Type: CommandSwitchToggle, Faults: e.softfuse.Faults()})
		}
	}

	e.writeLogs(now, &c, filtered, raw)

	e.telemetry = Telemetry{
		Timestamp:             now,
		PowerMilliWatt:        e.avg.Slow(),
		PowerFastMilliWatt:    e.avg.Fast(),
		ApparentPowerMilliVA:  c.apparent,
		EnergyMicroJoule:      e.energy.MicroJoule(),
		CurrentRmsMilliAmp:    c.rawCurrentMedian,
		FilteredCurrentMilliA: c.currentMedian,
		VoltageRmsMilliVolt:   c.voltageMedian,
		PowerZeroMilliWatt:    e.powerZero,
		Faults:                e.softfuse.Faults(),
		Counters:              e.counters,
	}
	e.state.SetTelemetry(e.telemetry)
}

// measure computes real power and RMS over one AC period, de-biased by the
// current zero levels. Sums are int64 in raw units squared.
func (e *Engine) measure(filtered, raw *adc.SampleBuffer) cycle {
	stride := filtered.NumChannels()
	zv, zi := e.zeroV.Fixed(), e.zeroI.Fixed()
	var pSum, vSum, iSum, rawSum int64
	for k := 0; k < e.n; k++ {
		v := toFixed(filtered.Samples[k*stride+adc.VoltageChannel]) - zv
		i := toFixed(filtered.Samples[k*stride+adc.CurrentChannel]) - zi
		r := toFixed(raw.Samples[k*stride+adc.CurrentChannel]) - zi
		pSum += fixedProduct(v, i)
		vSum += fixedProduct(v, v)
		iSum += fixedProduct(i, i)
		rawSum += fixedProduct(r, r)
	}
	n := float64(e.n)
	return cycle{
		real:       int32(float64(pSum) * e.iMult * e.vMult * 1000 / n),
		current:    rms(iSum, e.iMult, n),
		voltage:    rms(vSum, e.vMult, n),
		rawCurrent: rms(rawSum, e.iMult, n),
	}
}

// rms returns the RMS in milli units.
func rms(sumSq int64, mult, n float64) int32 {
	return int32(math.Sqrt(float64(sumSq)*mult*mult/n) * 1000)
}

// calibratePowerZero adopts the idle power as power zero once the switch
// has been off for PowerZeroSettle and the slow average converged. A value
// far from the board default is rejected: it is more likely a dimmer stuck
// on than idle draw.
func (e *Engine) calibratePowerZero(now time.Time, state SwitchState) {
	if e.powerZero != settings.PowerZeroInvalid || !state.Off() || e.offSince.IsZero() {
		return
	}
	if now.Sub(e.offSince) < e.p.PowerZeroSettle || e.avg.SlowCount() < e.p.SlowConvergedCount {
		return
	}
	mw := e.avg.Slow()
	board := e.p.BoardPowerZeroMW
	if mw < board-e.p.PowerZeroBandMW || mw > board+e.p.PowerZeroBandMW {
		return
	}
	e.powerZero = mw
	log.Printf("power: power zero calibrated to %d mW", mw)
	if err := e.settings.Set(settings.KeyPowerZero, mw); err != nil {
		log.Printf("power: store power zero: %v", err)
	}
}

func (e *Engine) checkSwap(now time.Time, filtered *adc.SampleBuffer) {
	if !e.p.SwapDetection || e.queue.len() < 3 {
		return
	}
	if e.skipSwap > 0 {
		e.skipSwap--
		return
	}
	prev := e.pool.Buffer(e.queue.at(e.queue.len() - 3))
	if swapSuspected(prev, filtered, e.n) {
		log.Printf("power: channels look swapped")
		e.dispatch(Event{Timestamp: now, Type: EventChannelSwapSuspected, Faults: e.softfuse.Faults()})
	}
}

func (e *Engine) clearQueue() {
	e.queue.clear(e.pool.Release)
	e.prevRawValid = false
	e.skipSwap = 1
}

func (e *Engine) dispatch(ev Event) {
	if ev.Type == EventChannelSwapSuspected {
		e.counters.ChannelSwaps++
		e.counters.LastChannelSwap = ev.Timestamp
	}
	if e.dispatcher != nil {
		e.dispatcher.Dispatch(ev)
	}
}

func (e *Engine) meta() channelMeta {
	var m channelMeta
	m[adc.VoltageChannel].offset = e.zeroV.Offset()
	m[adc.VoltageChannel].multiplier = e.vMult
	m[adc.CurrentChannel].offset = e.zeroI.Offset()
	m[adc.CurrentChannel].multiplier = e.iMult
	return m
}

// ApplySetting rereads one changed value from the settings store.
func (e *Engine) ApplySetting(key settings.Key) {
	cfg := e.settings.Config()
	switch key {
	case settings.KeyVoltageMultiplier:
		e.vMult = cfg.VoltageMultiplier
	case settings.KeyCurrentMultiplier:
		e.iMult = cfg.CurrentMultiplier
	case settings.KeyVoltageZero:
		e.zeroV.Reseed(cfg.VoltageZero)
	case settings.KeyCurrentZero:
		e.zeroI.Reseed(cfg.CurrentZero)
	case settings.KeyPowerZero:
		e.powerZero = cfg.PowerZero
	case settings.KeyCurrentThreshold, settings.KeyCurrentThresholdDimmer:
		e.softfuse.Configure(cfg.CurrentThreshold, cfg.CurrentThresholdDimmer)
	case settings.KeySwitchcraftEnabled:
		e.switchcraft = cfg.SwitchcraftEnabled
	case settings.KeySwitchcraftThreshold:
		if e.recognizer != nil {
			e.recognizer.Configure(cfg.SwitchcraftThreshold)
		}
	default:
		return
	}
	log.Printf("power: applied setting %s", key)
}

// ClearFaults lowers the given faults. Only an actor outside the engine
// does this. It returns the faults still raised.
func (e *Engine) ClearFaults(fs Faults) Faults {
	changed := false
	for _, n := range faultNames {
		if fs.Has(n.f) && e.softfuse.Clear(n.f) {
			changed = true
		}
	}
	left := e.softfuse.Faults()
	if changed {
		log.Printf("power: faults cleared, remaining %s", left)
		e.telemetry.Faults = left
		e.state.SetTelemetry(e.telemetry)
		e.dispatch(Event{Timestamp: e.now(), Type: EventErrorStateChanged, Faults: left})
	}
	return left
}

// Faults returns the raised softfuse faults.
func (e *Engine) Faults() Faults { return e.softfuse.Faults() }

// Counters returns the pipeline counters.
func (e *Engine) Counters() Counters { return e.counters }

// Telemetry returns the figures published after the last buffer.
func (e *Engine) Telemetry() Telemetry { return e.telemetry }

// PeriodSamples returns the number of samples in one AC period.
func (e *Engine) PeriodSamples() int { return e.n }

// Pipeline returns the ids in flight, oldest first, and the position of
// the filtered buffer (-1 when empty).
func (e *Engine) Pipeline() ([]adc.BufferID, int) {
	ids := make([]adc.BufferID, e.queue.len())
	for i := range ids {
		ids[i] = e.queue.at(i)
	}
	return ids, e.queue.filteredIndex()
}

// switchHistory keeps the last few distinct switch states.
type switchHistory struct {
	states [3]SwitchState
	head   int
	n      int
}

// observe records s and reports the previous state when s differs from
// it. The first observation is never a transition.
func (h *switchHistory) observe(s SwitchState) (SwitchState, bool) {
	if h.n == 0 {
		h.push(s)
		return 0, false
	}
	prev := h.states[(h.head-1+len(h.states))%len(h.states)]
	if prev == s {
		return prev, false
	}
	h.push(s)
	return prev, true
}

func (h *switchHistory) push(s SwitchState) {
	h.states[h.head] = s
	h.head = (h.head + 1) % len(h.states)
	if h.n < len(h.states) {
		h.n++
	}
}

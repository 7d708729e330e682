package power

import (
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/crownstone/bluenet-sub000/internal/adc"
)

// LogKind selects a verbose log stream.
type LogKind uint8

const (
	LogPower LogKind = iota
	LogCurrent
	LogVoltage
	LogFilteredCurrent
	numLogKinds
)

var logNames = [numLogKinds]string{"power", "current", "voltage", "filtered_current"}

func (k LogKind) String() string {
	if k < numLogKinds {
		return logNames[k]
	}
	return fmt.Sprintf("log(%d)", uint8(k))
}

// ParseLogKind returns the log kind with the given name.
func ParseLogKind(name string) (LogKind, error) {
	for i, n := range logNames {
		if strings.EqualFold(n, name) {
			return LogKind(i), nil
		}
	}
	return 0, fmt.Errorf("unknown log kind %q", name)
}

// Power log layout, one value each.
const (
	PowerLogCurrentRms = iota
	PowerLogCurrentRmsMedian
	PowerLogFilteredCurrentRms
	PowerLogFilteredCurrentRmsMedian
	PowerLogZeroVoltage // fixed point
	PowerLogZeroCurrent // fixed point
	PowerLogApparent
	PowerLogReal
	PowerLogAverage
	powerLogLen
)

// SetLogEnabled switches one verbose log stream.
func (e *Engine) SetLogEnabled(k LogKind, on bool) {
	if k >= numLogKinds {
		return
	}
	e.logs[k] = on
}

// LogEnabled reports whether a verbose log stream is on.
func (e *Engine) LogEnabled(k LogKind) bool {
	return k < numLogKinds && e.logs[k]
}

func (e *Engine) writeLogs(now time.Time, c *cycle, filtered, raw *adc.SampleBuffer) {
	if e.logWriter == nil {
		return
	}
	if e.logs[LogPower] {
		v := e.logScratch[:powerLogLen]
		v[PowerLogCurrentRms] = c.rawCurrent
		v[PowerLogCurrentRmsMedian] = c.rawCurrentMedian
		v[PowerLogFilteredCurrentRms] = c.current
		v[PowerLogFilteredCurrentRmsMedian] = c.currentMedian
		v[PowerLogZeroVoltage] = int32(e.zeroV.Fixed())
		v[PowerLogZeroCurrent] = int32(e.zeroI.Fixed())
		v[PowerLogApparent] = c.apparent
		v[PowerLogReal] = c.real
		v[PowerLogAverage] = e.avg.Slow()
		e.emit(LogPower, now, v)
	}
	if e.logs[LogCurrent] {
		e.emit(LogCurrent, now, e.channelValues(raw, adc.CurrentChannel))
	}
	if e.logs[LogFilteredCurrent] {
		e.emit(LogFilteredCurrent, now, e.channelValues(filtered, adc.CurrentChannel))
	}
	if e.logs[LogVoltage] {
		e.emit(LogVoltage, now, e.channelValues(raw, adc.VoltageChannel))
	}
}

// channelValues widens one AC period of a channel into the log scratch.
func (e *Engine) channelValues(buf *adc.SampleBuffer, ch int) []int32 {
	stride := buf.NumChannels()
	v := e.logScratch[:e.n]
	for i := range v {
		v[i] = int32(buf.Samples[i*stride+ch])
	}
	return v
}

func (e *Engine) emit(k LogKind, now time.Time, values []int32) {
	if err := e.logWriter.WriteLog(k, now, values); err != nil {
		log.Printf("power: write %s log: %v", k, err)
	}
}

package main

import (
	"context"
	"log"
	"os"
	"syscall"
	"time"

	"github.com/crownstone/bluenet-sub000/internal/adc"
	"github.com/crownstone/bluenet-sub000/internal/control"
	"github.com/crownstone/bluenet-sub000/internal/mqtt"
	"github.com/crownstone/bluenet-sub000/internal/power"
	"github.com/crownstone/bluenet-sub000/internal/settings"
	"github.com/crownstone/bluenet-sub000/internal/status"
)

// broadcaster receives telemetry for live clients.
type broadcaster interface {
	Broadcast(power.Telemetry)
}

// sampleQuery carries a sample request from an HTTP handler to the loop,
// which owns the engine.
type sampleQuery struct {
	kind  power.SamplesKind
	index int
	reply chan sampleReply
}

type sampleReply struct {
	samples power.Samples
	err     error
}

// querySource implements web.SampleSource over the loop's query channel.
type querySource chan sampleQuery

func (q querySource) Samples(ctx context.Context, kind power.SamplesKind, index int) (power.Samples, error) {
	reply := make(chan sampleReply, 1)
	select {
	case q <- sampleQuery{kind: kind, index: index, reply: reply}:
	case <-ctx.Done():
		return power.Samples{}, ctx.Err()
	}
	select {
	case r := <-reply:
		return r.samples, r.err
	case <-ctx.Done():
		return power.Samples{}, ctx.Err()
	}
}

// loop owns the engine. Every engine call happens on its goroutine.
type loop struct {
	engine  *power.Engine
	gen     *adc.Generator
	load    adc.Waveform // produced while the relay is closed
	tracker *status.Tracker
	ctrl    *control.Controller

	// publisher sends SHUTDOWN; everything else is queued on ctrl.
	publisher  mqtt.Publisher
	mqttStatus mqtt.ConnectionStatus // may be nil
	settings   settings.Store
	commands   <-chan mqtt.Command
	queries    <-chan sampleQuery
	live       broadcaster // may be nil

	heartbeat      time.Duration
	telemetryEvery time.Duration
}

// run processes one buffer per tick until a signal arrives.
func (l *loop) run(now func() time.Time, tick <-chan time.Time, sig <-chan os.Signal) error {
	start := now()
	lastHeartbeat, lastTelemetry := start, start

	for {
		select {
		case s := <-sig:
			log.Printf("received %v, shutting down", s)
			l.shutdown(now(), s)
			return nil

		case <-tick:
			t := now()
			l.sample()

			if l.mqttStatus != nil {
				l.tracker.SetMQTTConnected(l.mqttStatus.IsConnected())
			}
			if l.telemetryEvery > 0 && t.Sub(lastTelemetry) >= l.telemetryEvery {
				lastTelemetry = t
				l.publishTelemetry()
			}
			if l.heartbeat > 0 && t.Sub(lastHeartbeat) >= l.heartbeat {
				lastHeartbeat = t
				l.publishHeartbeat(t)
			}

		case key := <-l.settings.Changes():
			l.engine.ApplySetting(key)

		case c := <-l.commands:
			l.handleCommand(c)

		case q := <-l.queries:
			s, err := l.engine.GetSamples(q.kind, q.index)
			q.reply <- sampleReply{samples: s, err: err}
		}
	}
}

// sample produces the next buffer for the current switch state and hands
// it to the engine.
func (l *loop) sample() {
	l.gen.SetWaveform(l.waveform(l.tracker.SwitchState()))
	id, ok := l.gen.Fill()
	if !ok {
		log.Printf("sampler: no free buffer, period lost")
		return
	}
	l.engine.OnBufferFilled(id)
}

func (l *loop) waveform(s power.SwitchState) adc.Waveform {
	w := l.load
	switch {
	case s.Relay():
	case s.Dimmer() > 0:
		w.CurrentRms *= float64(s.Dimmer()) / 100
	default:
		w.CurrentRms = 0
	}
	return w
}

func (l *loop) publishTelemetry() {
	tel := l.engine.Telemetry()
	l.ctrl.QueueTelemetry(tel)
	if l.live != nil {
		l.live.Broadcast(tel)
	}
}

func (l *loop) publishHeartbeat(t time.Time) {
	snap := l.tracker.Snapshot()
	tel := snap.Telemetry
	log.Printf("heartbeat: uptime=%v power=%dmW energy=%duJ faults=%s buffers=%d",
		snap.Uptime().Truncate(time.Second), tel.PowerMilliWatt, tel.EnergyMicroJoule, tel.Faults, tel.Counters.Buffers)

	if net := readNetworkInfo(); net != nil {
		l.tracker.SetNetwork(net)
		snap = l.tracker.Snapshot()
	}
	hb := mqtt.SystemEvent{
		Timestamp:  t,
		Event:      "HEARTBEAT",
		RawPayload: status.FormatStatusEvent(snap, "HEARTBEAT", ""),
	}
	l.ctrl.QueueSystem(hb)
}

func (l *loop) handleCommand(c mqtt.Command) {
	switch c.Action {
	case mqtt.ActionClearFaults:
		var fs power.Faults
		for _, name := range c.Faults {
			f, err := power.ParseFault(name)
			if err != nil {
				log.Printf("command: %v", err)
				continue
			}
			fs.Set(f)
		}
		left := l.engine.ClearFaults(fs)
		log.Printf("command: clear %s, remaining %s", fs, left)

	case mqtt.ActionSetLog:
		k, err := power.ParseLogKind(c.Log)
		if err != nil {
			log.Printf("command: %v", err)
			return
		}
		l.engine.SetLogEnabled(k, c.Enabled)
		log.Printf("command: log %s enabled=%v", k, c.Enabled)

	case mqtt.ActionSet:
		key, err := settings.ParseKey(c.Key)
		if err != nil {
			log.Printf("command: %v", err)
			return
		}
		// Applied when the change notification arrives.
		if err := l.settings.Set(key, c.Value); err != nil {
			log.Printf("command: set %s: %v", key, err)
		}

	case mqtt.ActionSwitch:
		if c.Relay == nil {
			return
		}
		if err := l.ctrl.SetSwitch(*c.Relay, c.Dimmer); err != nil {
			log.Printf("command: switch: %v", err)
		}
	}
}

func (l *loop) shutdown(t time.Time, s os.Signal) {
	l.ctrl.Drain()

	signalName := "UNKNOWN"
	if s == syscall.SIGINT {
		signalName = "SIGINT"
	} else if s == syscall.SIGTERM {
		signalName = "SIGTERM"
	}
	event := mqtt.SystemEvent{
		Timestamp: t,
		Event:     "SHUTDOWN",
		Reason:    signalName,
		Retained:  true,
	}
	if l.mqttStatus != nil {
		l.tracker.SetMQTTConnected(l.mqttStatus.IsConnected())
	}
	event.RawPayload = status.FormatStatusEvent(l.tracker.Snapshot(), "SHUTDOWN", signalName)
	if err := l.publisher.PublishSystem(event); err != nil {
		log.Printf("failed to publish shutdown event: %v", err)
	} else {
		log.Printf("published shutdown event")
	}
}

// Package control carries out engine commands on the switch outputs and
// forwards engine events, telemetry and system events to MQTT without
// blocking the engine.
package control

import (
	"context"
	"fmt"
	"log"
	"sync/atomic"

	"github.com/crownstone/bluenet-sub000/internal/gpio"
	"github.com/crownstone/bluenet-sub000/internal/mqtt"
	"github.com/crownstone/bluenet-sub000/internal/power"
)

// State is the shared switch state the controller keeps current.
type State interface {
	SwitchState() power.SwitchState
	SetSwitchState(power.SwitchState)
	CountEvent(power.EventType)
}

// DefaultQueueSize bounds messages waiting to be published.
const DefaultQueueSize = 32

// outbound is one queued message. Exactly one field is set.
type outbound struct {
	event     *power.Event
	telemetry *power.Telemetry
	system    *mqtt.SystemEvent
}

func (o outbound) String() string {
	switch {
	case o.event != nil:
		return string(o.event.Type)
	case o.telemetry != nil:
		return "telemetry"
	case o.system != nil:
		return o.system.Event
	}
	return "empty"
}

// Controller implements power.Dispatcher. Outputs and state change
// synchronously in Dispatch; publishing happens in Run.
type Controller struct {
	sw      gpio.Switch
	state   State
	pub     mqtt.Publisher
	queue   chan outbound
	dropped atomic.Uint64
}

// New creates a Controller. queueSize <= 0 selects DefaultQueueSize.
func New(sw gpio.Switch, state State, pub mqtt.Publisher, queueSize int) *Controller {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	return &Controller{
		sw:    sw,
		state: state,
		pub:   pub,
		queue: make(chan outbound, queueSize),
	}
}

// Dispatch actuates commands and queues the event for publishing. When
// the queue is full the oldest queued event is dropped.
func (c *Controller) Dispatch(ev power.Event) {
	log.Printf("event: %s faults=%s current=%dmA voltage=%dmV",
		ev.Type, ev.Faults, ev.CurrentMilliAmp, ev.VoltageMilliVolt)

	switch ev.Type {
	case power.CommandSwitchOff:
		c.apply(0)
	case power.CommandDimmerOff:
		c.apply(power.NewSwitchState(c.state.SwitchState().Relay(), 0))
	case power.CommandSwitchToggle:
		if c.state.SwitchState().Off() {
			c.apply(power.NewSwitchState(true, 0))
		} else {
			c.apply(0)
		}
	}
	c.state.CountEvent(ev.Type)
	c.enqueue(outbound{event: &ev})
}

// SetSwitch applies a user request for the outputs.
func (c *Controller) SetSwitch(relay bool, dimmer uint8) error {
	return c.apply(power.NewSwitchState(relay, dimmer))
}

// apply drives the outputs and records the new state. The state is
// recorded even when an output fails so the engine sees the intent.
func (c *Controller) apply(s power.SwitchState) error {
	var firstErr error
	if err := c.sw.SetRelay(s.Relay()); err != nil {
		log.Printf("control: set relay: %v", err)
		firstErr = fmt.Errorf("set relay: %w", err)
	}
	if err := c.sw.SetDimmer(s.Dimmer()); err != nil {
		log.Printf("control: set dimmer: %v", err)
		if firstErr == nil {
			firstErr = fmt.Errorf("set dimmer: %w", err)
		}
	}
	c.state.SetSwitchState(s)
	return firstErr
}

// QueueTelemetry queues a telemetry report for publishing.
func (c *Controller) QueueTelemetry(t power.Telemetry) {
	c.enqueue(outbound{telemetry: &t})
}

// QueueSystem queues a system event for publishing.
func (c *Controller) QueueSystem(ev mqtt.SystemEvent) {
	c.enqueue(outbound{system: &ev})
}

func (c *Controller) enqueue(m outbound) {
	for {
		select {
		case c.queue <- m:
			return
		default:
		}
		select {
		case old := <-c.queue:
			c.dropped.Add(1)
			log.Printf("control: publish queue full, dropping %s", old)
		default:
		}
	}
}

// Dropped returns the number of messages dropped from a full queue.
func (c *Controller) Dropped() uint64 {
	return c.dropped.Load()
}

// Run publishes queued messages until ctx is done, then publishes what is
// still queued.
func (c *Controller) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			c.Drain()
			return
		case m := <-c.queue:
			c.publish(m)
		}
	}
}

// Drain publishes every queued message and returns.
func (c *Controller) Drain() {
	for {
		select {
		case m := <-c.queue:
			c.publish(m)
		default:
			return
		}
	}
}

func (c *Controller) publish(m outbound) {
	var err error
	switch {
	case m.event != nil:
		err = c.pub.Publish(*m.event)
	case m.telemetry != nil:
		err = c.pub.PublishTelemetry(*m.telemetry)
	case m.system != nil:
		err = c.pub.PublishSystem(*m.system)
	}
	if err != nil {
		log.Printf("%s publish error: %v", m, err)
	}
}

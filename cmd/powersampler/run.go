package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/crownstone/bluenet-sub000/internal/adc"
	"github.com/crownstone/bluenet-sub000/internal/control"
	"github.com/crownstone/bluenet-sub000/internal/gpio"
	"github.com/crownstone/bluenet-sub000/internal/mqtt"
	"github.com/crownstone/bluenet-sub000/internal/power"
	"github.com/crownstone/bluenet-sub000/internal/settings"
	"github.com/crownstone/bluenet-sub000/internal/status"
	"github.com/crownstone/bluenet-sub000/internal/switchcraft"
	"github.com/crownstone/bluenet-sub000/internal/uart"
	"github.com/crownstone/bluenet-sub000/internal/web"
)

func runSampler(cmd *cobra.Command, args []string) error {
	store, err := settings.OpenFile(settingsPath)
	if err != nil {
		return err
	}

	var sw gpio.Switch
	if flags.simulate {
		sw = gpio.NewFakeSwitch()
	} else {
		rs, err := gpio.NewRealSwitch(flags.pinRelay, flags.pinDimmer)
		if err != nil {
			return fmt.Errorf("init gpio: %w", err)
		}
		sw = rs
	}
	defer sw.Close()

	var logs power.LogWriter
	if portName != "" {
		port, err := uart.OpenPort(portName, baudRate)
		if err != nil {
			return err
		}
		defer port.Close()
		logs = uart.NewWriter(port)
		log.Printf("streaming logs on %s at %d baud", portName, baudRate)
	}

	buffers, err := adc.NewStore(adc.DefaultConfig())
	if err != nil {
		return fmt.Errorf("init buffers: %w", err)
	}
	gen := adc.NewGenerator(buffers, adc.DefaultWaveform())

	p := power.DefaultParams()
	p.SwapDetection = flags.swapDetection
	period := time.Duration(p.ACPeriodUs) * time.Microsecond

	tracker := status.NewTracker(time.Now(), status.Config{
		SampleIntervalUs: adc.DefaultSampleIntervalUs,
		HeartbeatMs:      flags.heartbeat.Milliseconds(),
		Broker:           flags.broker,
		HTTPPort:         flags.httpAddr,
		SerialPort:       portName,
	})
	if net := readNetworkInfo(); net != nil {
		tracker.SetNetwork(net)
	}

	commands := make(chan mqtt.Command, 8)
	publisher, err := mqtt.NewRealPublisher(flags.broker, flags.clientID, func(c mqtt.Command) {
		select {
		case commands <- c:
		default:
			log.Printf("command queue full, dropping %s", c.Action)
		}
	})
	if err != nil {
		return fmt.Errorf("init mqtt: %w", err)
	}
	defer publisher.Close()

	ctrl := control.New(sw, tracker, publisher, control.DefaultQueueSize)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go ctrl.Run(ctx)

	n := int(p.ACPeriodUs / adc.DefaultSampleIntervalUs)
	engine, err := power.New(p, power.Deps{
		Pool:       buffers,
		Settings:   store,
		State:      tracker,
		Dispatcher: ctrl,
		Recognizer: switchcraft.New(switchcraft.DefaultConfig(), n, time.Now),
		Logs:       logs,
	})
	if err != nil {
		return fmt.Errorf("init engine: %w", err)
	}
	for _, name := range flags.logs {
		k, err := power.ParseLogKind(name)
		if err != nil {
			return err
		}
		engine.SetLogEnabled(k, true)
	}

	// Publish startup event with full status snapshot
	snap := tracker.Snapshot()
	startupEvent := mqtt.SystemEvent{
		Timestamp:  snap.Now,
		Event:      "STARTUP",
		Retained:   true,
		RawPayload: status.FormatStatusEvent(snap, "STARTUP", ""),
	}
	if err := publisher.PublishSystem(startupEvent); err != nil {
		log.Printf("failed to publish startup event: %v", err)
	} else {
		log.Printf("published startup event")
	}

	queries := make(chan sampleQuery)
	var live broadcaster
	if flags.httpAddr != "" {
		srv := web.New(flags.httpAddr, tracker, querySource(queries))
		go func() {
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Printf("http server error: %v", err)
			}
		}()
		defer srv.Shutdown(context.Background())
		live = srv
		log.Printf("http status server listening on %s", flags.httpAddr)
	}

	wave := adc.DefaultWaveform()
	wave.CurrentRms = flags.loadAmps
	wave.PhaseDeg = flags.phaseDeg

	l := &loop{
		engine:         engine,
		gen:            gen,
		load:           wave,
		tracker:        tracker,
		ctrl:           ctrl,
		publisher:      publisher,
		mqttStatus:     publisher,
		settings:       store,
		commands:       commands,
		queries:        queries,
		live:           live,
		heartbeat:      flags.heartbeat,
		telemetryEvery: flags.telemetryEvery,
	}

	log.Printf("started: period=%v broker=%s heartbeat=%v settings=%s", period, flags.broker, flags.heartbeat, store.Path())

	ticker := time.NewTicker(period)
	defer ticker.Stop()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	return l.run(time.Now, ticker.C, sigCh)
}

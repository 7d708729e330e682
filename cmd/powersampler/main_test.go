package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/crownstone/bluenet-sub000/internal/adc"
	"github.com/crownstone/bluenet-sub000/internal/control"
	"github.com/crownstone/bluenet-sub000/internal/gpio"
	"github.com/crownstone/bluenet-sub000/internal/mqtt"
	"github.com/crownstone/bluenet-sub000/internal/power"
	"github.com/crownstone/bluenet-sub000/internal/settings"
	"github.com/crownstone/bluenet-sub000/internal/status"
	"github.com/crownstone/bluenet-sub000/internal/uart"
)

// TestEnvVarNames verifies the env var constants match what pi-helper writes
// to /run/pi-helper.env.
func TestEnvVarNames(t *testing.T) {
	want := map[string]string{
		"NETWORK_TYPE":        envNetworkType,
		"NETWORK_IP":          envNetworkIP,
		"NETWORK_STATUS":      envNetworkStatus,
		"NETWORK_GATEWAY":     envNetworkGateway,
		"NETWORK_WIFI_STATUS": envNetworkWifiStatus,
		"NETWORK_WIFI_SSID":   envNetworkWifiSSID,
	}
	for canonical, got := range want {
		if got != canonical {
			t.Errorf("env var constant: got %q, want %q", got, canonical)
		}
	}
}

func TestReadNetworkInfoAllSet(t *testing.T) {
	t.Setenv(envNetworkType, "wifi")
	t.Setenv(envNetworkIP, "192.168.1.100")
	t.Setenv(envNetworkStatus, "connected")
	t.Setenv(envNetworkGateway, "192.168.1.1")
	t.Setenv(envNetworkWifiStatus, "connected")
	t.Setenv(envNetworkWifiSSID, "MyNetwork")

	info := readNetworkInfo()
	if info == nil {
		t.Fatal("expected non-nil NetworkInfo")
	}
	want := status.NetworkInfo{
		Type:       "wifi",
		IP:         "192.168.1.100",
		Status:     "connected",
		Gateway:    "192.168.1.1",
		WifiStatus: "connected",
		SSID:       "MyNetwork",
	}
	if *info != want {
		t.Errorf("got %+v, want %+v", *info, want)
	}
}

func TestReadNetworkInfoNoneSet(t *testing.T) {
	t.Setenv(envNetworkStatus, "")
	if info := readNetworkInfo(); info != nil {
		t.Errorf("expected nil when NETWORK_STATUS is unset, got %+v", info)
	}
}

// --- loop tests ---

var t0 = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

// fakeClock returns a function that yields start, start+step, start+2*step, ...
// on successive calls. Not safe for concurrent use.
func fakeClock(start time.Time, step time.Duration) func() time.Time {
	n := 0
	return func() time.Time {
		t := start.Add(time.Duration(n) * step)
		n++
		return t
	}
}

type fakeLive struct {
	sent []power.Telemetry
}

func (f *fakeLive) Broadcast(tel power.Telemetry) { f.sent = append(f.sent, tel) }

type testRig struct {
	loop     *loop
	ctrl     *control.Controller
	pub      *mqtt.FakePublisher
	sw       *gpio.FakeSwitch
	tracker  *status.Tracker
	settings *settings.MemoryStore
	live     *fakeLive

	tick     chan time.Time
	sig      chan os.Signal
	commands chan mqtt.Command
	queries  chan sampleQuery
	errCh    chan error
}

func newTestRig(t *testing.T, loadAmps float64) *testRig {
	t.Helper()
	return newTestRigWith(t, loadAmps, nil)
}

// newTestRigWith publishes through out instead of the rig's FakePublisher
// when out is non-nil.
func newTestRigWith(t *testing.T, loadAmps float64, out mqtt.Publisher) *testRig {
	t.Helper()
	buffers, err := adc.NewStore(adc.DefaultConfig())
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	r := &testRig{
		pub:      mqtt.NewFakePublisher(),
		sw:       gpio.NewFakeSwitch(),
		tracker:  status.NewTracker(t0, status.Config{}),
		settings: settings.NewMemoryStore(settings.Defaults()),
		live:     &fakeLive{},
		tick:     make(chan time.Time),
		sig:      make(chan os.Signal, 1),
		commands: make(chan mqtt.Command),
		queries:  make(chan sampleQuery),
		errCh:    make(chan error, 1),
	}
	if out == nil {
		out = r.pub
	}
	ctrl := control.New(r.sw, r.tracker, out, 64)
	r.ctrl = ctrl

	p := power.DefaultParams()
	p.SoftfuseWarmup = 0
	engine, err := power.New(p, power.Deps{
		Pool:       buffers,
		Settings:   r.settings,
		State:      r.tracker,
		Dispatcher: ctrl,
		Now:        fakeClock(t0, 20*time.Millisecond),
	})
	if err != nil {
		t.Fatalf("power.New: %v", err)
	}

	wave := adc.DefaultWaveform()
	wave.CurrentRms = loadAmps
	r.loop = &loop{
		engine:     engine,
		gen:        adc.NewGenerator(buffers, adc.DefaultWaveform()),
		load:       wave,
		tracker:    r.tracker,
		ctrl:       ctrl,
		publisher:  out,
		mqttStatus: r.pub,
		settings:   r.settings,
		commands:   r.commands,
		queries:    r.queries,
		live:       r.live,
	}
	return r
}

func (r *testRig) start() {
	go func() {
		r.errCh <- r.loop.run(fakeClock(t0, 20*time.Millisecond), r.tick, r.sig)
	}()
}

func (r *testRig) ticks(n int) {
	for i := 0; i < n; i++ {
		r.tick <- time.Time{}
	}
}

func (r *testRig) stop(t *testing.T, s os.Signal) {
	t.Helper()
	r.sig <- s
	if err := <-r.errCh; err != nil {
		t.Fatalf("run returned error: %v", err)
	}
}

func relay(on bool) mqtt.Command {
	return mqtt.Command{Action: mqtt.ActionSwitch, Relay: &on}
}

func systemEvents(pub *mqtt.FakePublisher, name string) []mqtt.SystemEvent {
	var out []mqtt.SystemEvent
	for _, se := range pub.SystemEvents {
		if se.Event == name {
			out = append(out, se)
		}
	}
	return out
}

func TestRunLoopShutdown(t *testing.T) {
	tests := []struct {
		sig    os.Signal
		reason string
	}{
		{syscall.SIGTERM, "SIGTERM"},
		{syscall.SIGINT, "SIGINT"},
	}
	for _, tt := range tests {
		t.Run(tt.reason, func(t *testing.T) {
			r := newTestRig(t, 1)
			r.start()
			r.ticks(3)
			r.stop(t, tt.sig)

			if len(r.pub.SystemEvents) != 1 {
				t.Fatalf("expected 1 system event, got %d", len(r.pub.SystemEvents))
			}
			se := r.pub.SystemEvents[0]
			if se.Event != "SHUTDOWN" || se.Reason != tt.reason || !se.Retained {
				t.Errorf("shutdown event: %+v", se)
			}
			var sj status.StatusJSON
			if err := json.Unmarshal(se.RawPayload, &sj); err != nil {
				t.Fatalf("invalid payload: %v", err)
			}
			if sj.Status.Event != "SHUTDOWN" || sj.Status.Reason != tt.reason {
				t.Errorf("payload: %+v", sj.Status)
			}
			if sj.Status.Pipeline.Buffers != 3 {
				t.Errorf("buffers: got %d, want 3", sj.Status.Pipeline.Buffers)
			}
		})
	}
}

func TestRunLoopNoEventsWhileOff(t *testing.T) {
	r := newTestRig(t, 20)
	r.start()
	r.ticks(20)
	r.stop(t, syscall.SIGTERM)

	if len(r.pub.Events) != 0 {
		t.Errorf("unexpected events with the switch off: %v", r.pub.EventTypes())
	}
}

func TestRunLoopOvercurrentTrip(t *testing.T) {
	r := newTestRig(t, 20)
	r.start()
	r.commands <- relay(true)
	r.ticks(10)
	r.stop(t, syscall.SIGTERM)

	got := r.pub.EventTypes()
	if len(got) != 2 || got[0] != power.CommandSwitchOff || got[1] != power.EventErrorStateChanged {
		t.Fatalf("events: %v", got)
	}
	if relay, dimmer := r.sw.State(); relay || dimmer != 0 {
		t.Errorf("outputs after trip: relay=%v dimmer=%d", relay, dimmer)
	}
	if !r.tracker.Snapshot().Telemetry.Faults.Has(power.FaultOvercurrent) {
		t.Error("fault missing from telemetry")
	}
}

func TestRunLoopClearFaultsAndRetrip(t *testing.T) {
	r := newTestRig(t, 20)
	r.start()
	r.commands <- relay(true)
	r.ticks(10)
	r.commands <- mqtt.Command{Action: mqtt.ActionClearFaults, Faults: []string{"OVERCURRENT", "BOGUS"}}
	r.ticks(2)
	r.commands <- relay(true)
	r.ticks(20) // the median history still holds the off period at first
	r.stop(t, syscall.SIGTERM)

	want := []power.EventType{
		power.CommandSwitchOff, power.EventErrorStateChanged, // trip
		power.EventErrorStateChanged,                         // clear
		power.CommandSwitchOff, power.EventErrorStateChanged, // trip again
	}
	got := r.pub.EventTypes()
	if len(got) != len(want) {
		t.Fatalf("events: got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("event %d: got %s, want %s", i, got[i], want[i])
		}
	}
	if c := r.tracker.Snapshot().Counts; c.SwitchOff != 2 || c.ErrorChanges != 3 {
		t.Errorf("counts: %+v", c)
	}
}

func TestRunLoopTelemetryAndHeartbeat(t *testing.T) {
	r := newTestRig(t, 1)
	r.loop.telemetryEvery = 100 * time.Millisecond
	r.loop.heartbeat = 200 * time.Millisecond
	r.start()
	r.commands <- relay(true)
	r.ticks(20) // 400 ms
	r.stop(t, syscall.SIGTERM)

	if len(r.pub.Telemetry) != 4 {
		t.Errorf("telemetry: got %d, want 4", len(r.pub.Telemetry))
	}
	if len(r.live.sent) != len(r.pub.Telemetry) {
		t.Errorf("live: got %d, want %d", len(r.live.sent), len(r.pub.Telemetry))
	}
	last := r.pub.Telemetry[len(r.pub.Telemetry)-1]
	if last.VoltageRmsMilliVolt < 220000 || last.VoltageRmsMilliVolt > 240000 {
		t.Errorf("voltage: %d mV", last.VoltageRmsMilliVolt)
	}
	if last.CurrentRmsMilliAmp < 900 || last.CurrentRmsMilliAmp > 1100 {
		t.Errorf("current: %d mA", last.CurrentRmsMilliAmp)
	}

	hbs := systemEvents(r.pub, "HEARTBEAT")
	if len(hbs) != 2 {
		t.Fatalf("heartbeats: got %d, want 2", len(hbs))
	}
	var sj status.StatusJSON
	if err := json.Unmarshal(hbs[1].RawPayload, &sj); err != nil {
		t.Fatalf("invalid heartbeat payload: %v", err)
	}
	if sj.Status.Event != "HEARTBEAT" || !sj.Status.Relay || !sj.Status.Ready {
		t.Errorf("heartbeat status: %+v", sj.Status)
	}
}

func TestRunLoopHeartbeatIncludesNetworkInfo(t *testing.T) {
	t.Setenv(envNetworkStatus, "connected")
	t.Setenv(envNetworkType, "wifi")
	t.Setenv(envNetworkIP, "192.168.1.42")
	t.Setenv(envNetworkWifiSSID, "HomeNet")

	r := newTestRig(t, 1)
	r.loop.heartbeat = 100 * time.Millisecond
	r.start()
	r.ticks(5)
	r.stop(t, syscall.SIGTERM)

	hbs := systemEvents(r.pub, "HEARTBEAT")
	if len(hbs) != 1 {
		t.Fatalf("heartbeats: got %d, want 1", len(hbs))
	}
	var sj status.StatusJSON
	if err := json.Unmarshal(hbs[0].RawPayload, &sj); err != nil {
		t.Fatalf("invalid payload: %v", err)
	}
	if sj.Status.Network == nil || sj.Status.Network.IP != "192.168.1.42" || sj.Status.Network.SSID != "HomeNet" {
		t.Errorf("network: %+v", sj.Status.Network)
	}
}

func TestRunLoopPublishError(t *testing.T) {
	r := newTestRig(t, 20)
	r.pub.PublishError = errors.New("broker unavailable")
	r.start()
	r.commands <- relay(true)
	r.ticks(10)
	r.stop(t, syscall.SIGTERM)

	if len(r.pub.Events) != 0 {
		t.Errorf("expected no recorded events, got %d", len(r.pub.Events))
	}
	if relay, _ := r.sw.State(); relay {
		t.Error("relay still closed: trip must not depend on publishing")
	}
	if len(systemEvents(r.pub, "SHUTDOWN")) != 1 {
		t.Error("expected SHUTDOWN despite publish errors")
	}
}

// stalledPublisher blocks periodic publishes until release is closed.
type stalledPublisher struct {
	*mqtt.FakePublisher
	release chan struct{}
	stalled chan struct{}
	once    sync.Once
}

func (s *stalledPublisher) wait() {
	s.once.Do(func() { close(s.stalled) })
	<-s.release
}

func (s *stalledPublisher) PublishTelemetry(tel power.Telemetry) error {
	s.wait()
	return s.FakePublisher.PublishTelemetry(tel)
}

func (s *stalledPublisher) PublishSystem(ev mqtt.SystemEvent) error {
	if ev.Event != "SHUTDOWN" {
		s.wait()
	}
	return s.FakePublisher.PublishSystem(ev)
}

func TestRunLoopKeepsSamplingWhileBrokerStalls(t *testing.T) {
	stall := &stalledPublisher{
		FakePublisher: mqtt.NewFakePublisher(),
		release:       make(chan struct{}),
		stalled:       make(chan struct{}),
	}
	r := newTestRigWith(t, 1, stall)
	r.loop.telemetryEvery = 20 * time.Millisecond
	r.loop.heartbeat = 20 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	runDone := make(chan struct{})
	go func() {
		r.ctrl.Run(ctx)
		close(runDone)
	}()

	r.start()
	r.ticks(1)
	select {
	case <-stall.stalled:
	case <-time.After(2 * time.Second):
		t.Fatal("publisher never called")
	}
	// Every tick is accepted while the publisher is stuck.
	r.ticks(99)

	close(stall.release)
	r.stop(t, syscall.SIGTERM)
	cancel()
	<-runDone

	if got := r.tracker.Snapshot().Telemetry.Counters.Buffers; got != 100 {
		t.Errorf("buffers processed: got %d, want 100", got)
	}
	if r.ctrl.Dropped() == 0 {
		t.Error("expected the full queue to drop old messages")
	}
	if len(systemEvents(stall.FakePublisher, "SHUTDOWN")) != 1 {
		t.Error("SHUTDOWN not published")
	}
}

func TestRunLoopSampleQueries(t *testing.T) {
	r := newTestRig(t, 1)
	r.start()
	src := querySource(r.queries)
	ctx := context.Background()

	if _, err := src.Samples(ctx, power.SamplesNowFiltered, 0); err != power.ErrNotAvailable {
		t.Errorf("before sampling: %v", err)
	}
	r.ticks(3)
	s, err := src.Samples(ctx, power.SamplesNowUnfiltered, int(adc.VoltageChannel))
	if err != nil {
		t.Fatalf("samples: %v", err)
	}
	if len(s.Values) != adc.DefaultSamplesPerChannel || s.SampleIntervalUs != adc.DefaultSampleIntervalUs {
		t.Errorf("samples: %d values at %d us", len(s.Values), s.SampleIntervalUs)
	}
	if _, err := src.Samples(ctx, power.SamplesSoftfuse, 0); err != power.ErrNotAvailable {
		t.Errorf("softfuse before trip: %v", err)
	}
	r.stop(t, syscall.SIGTERM)
}

func TestQuerySourceHonoursContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := querySource(make(chan sampleQuery)).Samples(ctx, power.SamplesSwitch, 0); !errors.Is(err, context.Canceled) {
		t.Errorf("err: %v", err)
	}
}

func TestRunLoopSetCommands(t *testing.T) {
	r := newTestRig(t, 1)
	r.start()
	r.commands <- mqtt.Command{Action: mqtt.ActionSet, Key: "current_threshold", Value: 12000.0}
	r.commands <- mqtt.Command{Action: mqtt.ActionSet, Key: "no_such_key", Value: 1.0}
	r.commands <- mqtt.Command{Action: mqtt.ActionSetLog, Log: "power", Enabled: true}
	r.ticks(2)
	r.stop(t, syscall.SIGTERM)

	if got := r.settings.Config().CurrentThreshold; got != 12000 {
		t.Errorf("CurrentThreshold: got %d, want 12000", got)
	}
	if !r.loop.engine.LogEnabled(power.LogPower) {
		t.Error("power log not enabled")
	}
}

func TestWaveformFollowsSwitch(t *testing.T) {
	l := &loop{load: adc.Waveform{CurrentRms: 10}}
	tests := []struct {
		state power.SwitchState
		want  float64
	}{
		{power.NewSwitchState(false, 0), 0},
		{power.NewSwitchState(true, 0), 10},
		{power.NewSwitchState(true, 30), 10},
		{power.NewSwitchState(false, 50), 5},
	}
	for _, tt := range tests {
		if got := l.waveform(tt.state).CurrentRms; got != tt.want {
			t.Errorf("%v: current %v, want %v", tt.state, got, tt.want)
		}
	}
}

// --- decode and settings commands ---

func TestFormatMessage(t *testing.T) {
	m := uart.Message{
		Opcode:    uart.OpPowerLog,
		Timestamp: time.Date(2026, 1, 1, 10, 0, 0, 5000, time.UTC),
		Values:    []int32{1, -2, 3},
	}
	got := formatMessage(m)
	if !strings.HasPrefix(got, "[10:00:00.000005] power") || !strings.HasSuffix(got, " 1 -2 3\n") {
		t.Errorf("formatMessage = %q", got)
	}

	m.Values = make([]int32, 100)
	if got := formatMessage(m); !strings.Contains(got, "n=100") || !strings.HasSuffix(got, " ...\n") {
		t.Errorf("long message = %q", got)
	}
}

func TestDecodeCommandReadsFile(t *testing.T) {
	var stream bytes.Buffer
	w := uart.NewWriter(&stream)
	w.WriteLog(power.LogPower, t0, []int32{230000, 1000})
	w.WriteLog(power.LogCurrent, t0, make([]int32, 100))

	path := filepath.Join(t.TempDir(), "stream.bin")
	if err := os.WriteFile(path, stream.Bytes(), 0o644); err != nil {
		t.Fatal(err)
	}

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs([]string{"decode", path})
	t.Cleanup(func() { rootCmd.SetOut(nil); rootCmd.SetArgs(nil) })
	if err := rootCmd.Execute(); err != nil {
		t.Fatalf("decode: %v", err)
	}

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("lines: %q", lines)
	}
	if !strings.Contains(lines[0], "power") || !strings.Contains(lines[0], "230000") {
		t.Errorf("first line: %q", lines[0])
	}
	if !strings.Contains(lines[1], "current") || !strings.Contains(lines[1], "n=100") {
		t.Errorf("second line: %q", lines[1])
	}
}

func TestSettingsCommand(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.cbor")

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	t.Cleanup(func() { rootCmd.SetOut(nil); rootCmd.SetArgs(nil) })

	rootCmd.SetArgs([]string{"settings", "--settings", path, "current_threshold", "10000"})
	if err := rootCmd.Execute(); err != nil {
		t.Fatalf("settings set: %v", err)
	}
	rootCmd.SetArgs([]string{"settings", "--settings", path, "switchcraft_enabled", "true"})
	if err := rootCmd.Execute(); err != nil {
		t.Fatalf("settings set bool: %v", err)
	}

	store, err := settings.OpenFile(path)
	if err != nil {
		t.Fatalf("OpenFile: %v", err)
	}
	cfg := store.Config()
	if cfg.CurrentThreshold != 10000 || !cfg.SwitchcraftEnabled {
		t.Errorf("persisted config: %+v", cfg)
	}
	if !strings.Contains(out.String(), `"current_threshold": 10000`) {
		t.Errorf("output: %s", out.String())
	}

	rootCmd.SetArgs([]string{"settings", "--settings", path, "bogus", "1"})
	if err := rootCmd.Execute(); err == nil {
		t.Error("expected error for unknown key")
	}
}

func TestParseValue(t *testing.T) {
	if v := parseValue("true"); v != true {
		t.Errorf("true: %v", v)
	}
	if v := parseValue("1"); v != 1.0 {
		t.Errorf("1: %v", v)
	}
	if v := parseValue("0.0045"); v != 0.0045 {
		t.Errorf("0.0045: %v", v)
	}
	if v := parseValue("abc"); v != "abc" {
		t.Errorf("abc: %v", v)
	}
}

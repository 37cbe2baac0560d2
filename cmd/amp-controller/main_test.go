package main

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"syscall"
	"testing"
	"time"

	"github.com/sweeney/amp-controller/internal/config"
	"github.com/sweeney/amp-controller/internal/control"
	"github.com/sweeney/amp-controller/internal/gpio"
	"github.com/sweeney/amp-controller/internal/ir"
	"github.com/sweeney/amp-controller/internal/logic"
	"github.com/sweeney/amp-controller/internal/metrics"
	"github.com/sweeney/amp-controller/internal/mqtt"
	"github.com/sweeney/amp-controller/internal/sensor"
	"github.com/sweeney/amp-controller/internal/status"
)

// Raw ADC counts for the default 10k divider.
const (
	coolRaw = 512 // 25 °C
	hotRaw  = 110 // about 76 °C
)

var t0 = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

var powerCmd = logic.RemoteCommand{Address: 0x00, Command: logic.ProfileAmplifier.Power}

// TestEnvVarNames verifies the env var constants match what pi-helper writes
// to /run/pi-helper.env. If pi-helper changes its var names, this test fails
// and we update the constants, not the other way around.
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

// --- runLoop tests ---

// fakeClock returns a function that yields start, start+step, start+2*step, ...
// on successive calls. Only called from runLoop's goroutine.
func fakeClock(start time.Time, step time.Duration) func() time.Time {
	n := 0
	return func() time.Time {
		t := start.Add(time.Duration(n) * step)
		n++
		return t
	}
}

type memoryStore struct {
	events []logic.Event
	err    error
}

func (m *memoryStore) Append(ev logic.Event) error {
	if m.err != nil {
		return m.err
	}
	m.events = append(m.events, ev)
	return nil
}

type fixture struct {
	loop    *loop
	reader  *sensor.FakeReader
	mailbox *ir.Mailbox
	out     *gpio.FakeActuator
	pub     *mqtt.FakePublisher
	store   *memoryStore
	tracker *status.Tracker
}

func newFixture(t *testing.T, samples ...int) *fixture {
	t.Helper()
	f := &fixture{
		reader:  sensor.NewFakeReader(samples...),
		mailbox: ir.NewMailbox(),
		out:     gpio.NewFakeActuator(),
		pub:     mqtt.NewFakePublisher(),
		store:   &memoryStore{},
		tracker: status.NewTracker(t0, status.Config{}),
	}
	driver, err := control.New(config.Default().Control(), f.reader, f.mailbox, f.out)
	if err != nil {
		t.Fatalf("control.New: %v", err)
	}
	f.loop = &loop{
		driver:     driver,
		publisher:  f.pub,
		mqttStatus: f.pub,
		tracker:    f.tracker,
		history:    f.store,
		metrics:    metrics.New(),
	}
	return f
}

// run drives runLoop for nTicks ticks, putting cmds[i] in the mailbox
// before tick i, then delivers sig and waits for the loop to return.
func (f *fixture) run(t *testing.T, clock func() time.Time, nTicks int, cmds map[int]logic.RemoteCommand, sig os.Signal) {
	t.Helper()
	tick := make(chan time.Time)
	sigCh := make(chan os.Signal, 1)

	errCh := make(chan error, 1)
	go func() {
		errCh <- runLoop(f.loop, clock, tick, nil, sigCh)
	}()

	for i := 0; i < nTicks; i++ {
		if cmd, ok := cmds[i]; ok {
			f.mailbox.Put(cmd)
		}
		tick <- time.Time{}
	}
	sigCh <- sig

	if err := <-errCh; err != nil {
		t.Fatalf("runLoop returned error: %v", err)
	}
}

func assertTypes(t *testing.T, got []logic.EventType, want ...logic.EventType) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("events: got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("event %d: got %s, want %s", i, got[i], want[i])
		}
	}
}

func TestRunLoopQuietCycles(t *testing.T) {
	f := newFixture(t, coolRaw)

	f.run(t, fakeClock(t0, 100*time.Millisecond), 4, nil, syscall.SIGTERM)

	if len(f.pub.Events) != 0 {
		t.Errorf("expected 0 amplifier events, got %v", f.pub.EventTypes())
	}
	if len(f.pub.SystemEvents) != 1 {
		t.Fatalf("expected 1 system event, got %d", len(f.pub.SystemEvents))
	}
	se := f.pub.SystemEvents[0]
	if se.Event != "SHUTDOWN" || se.Reason != "SIGTERM" || !se.Retained {
		t.Errorf("unexpected shutdown event: %+v", se)
	}
	if snap := f.tracker.Snapshot(); snap.Cycles != 4 || snap.Thermal != logic.StateNormal {
		t.Errorf("tracker: cycles=%d thermal=%s", snap.Cycles, snap.Thermal)
	}
}

func TestRunLoopPowerOnThenThermalTrip(t *testing.T) {
	f := newFixture(t, coolRaw, hotRaw)

	f.run(t, fakeClock(t0, 100*time.Millisecond), 2, map[int]logic.RemoteCommand{0: powerCmd}, syscall.SIGTERM)

	want := []logic.EventType{
		logic.EventPowerOn,
		logic.EventOverheatPending,
		logic.EventThermalShutdown,
		logic.EventPowerOff,
	}
	assertTypes(t, f.pub.EventTypes(), want...)

	stored := make([]logic.EventType, len(f.store.events))
	for i, ev := range f.store.events {
		stored[i] = ev.Type
	}
	assertTypes(t, stored, want...)

	if f.out.Relay {
		t.Error("relay must be off after thermal shutdown")
	}
	if !f.out.Closed {
		t.Error("outputs must be released on shutdown")
	}
	counts := f.tracker.Counts()
	if counts.Trips != 1 || counts.PowerOns != 1 || counts.PowerOffs != 1 {
		t.Errorf("counts: got %+v", counts)
	}
}

func TestRunLoopShutdownSwitchesAmplifierOff(t *testing.T) {
	f := newFixture(t, coolRaw)

	f.run(t, fakeClock(t0, 100*time.Millisecond), 1, map[int]logic.RemoteCommand{0: powerCmd}, syscall.SIGINT)

	assertTypes(t, f.pub.EventTypes(), logic.EventPowerOn, logic.EventPowerOff)
	if f.out.Relay || f.out.LED {
		t.Error("relay and LED must be off after shutdown")
	}

	if len(f.pub.SystemEvents) != 1 {
		t.Fatalf("expected 1 system event, got %d", len(f.pub.SystemEvents))
	}
	se := f.pub.SystemEvents[0]
	if se.Reason != "SIGINT" {
		t.Errorf("reason: got %q, want SIGINT", se.Reason)
	}
	if !strings.Contains(string(f.pub.SystemPayloads[0]), `"power":"OFF"`) {
		t.Errorf("shutdown payload should report power OFF: %s", f.pub.SystemPayloads[0])
	}
}

func TestRunLoopSensorFault(t *testing.T) {
	f := newFixture(t, coolRaw)
	f.reader.ReadError = errors.New("serial timeout")

	f.run(t, fakeClock(t0, 100*time.Millisecond), 2, nil, syscall.SIGTERM)

	assertTypes(t, f.pub.EventTypes(), logic.EventThermalShutdown, logic.EventSensorFault)
	snap := f.tracker.Snapshot()
	if snap.Thermal != logic.StateShutdown || snap.SensorOK {
		t.Errorf("tracker: thermal=%s sensorOK=%v", snap.Thermal, snap.SensorOK)
	}
}

func TestRunLoopPublishErrorDoesNotStopControl(t *testing.T) {
	f := newFixture(t, coolRaw, hotRaw)
	f.pub.PublishError = errors.New("broker down")

	f.run(t, fakeClock(t0, 100*time.Millisecond), 2, map[int]logic.RemoteCommand{0: powerCmd}, syscall.SIGTERM)

	if len(f.pub.Events) != 0 {
		t.Errorf("expected no recorded publishes, got %d", len(f.pub.Events))
	}
	if len(f.store.events) != 4 {
		t.Errorf("history should still record events, got %d", len(f.store.events))
	}
	if f.out.Relay {
		t.Error("relay must be off after thermal shutdown")
	}
}

func TestRunLoopHistoryErrorDoesNotStopControl(t *testing.T) {
	f := newFixture(t, coolRaw, hotRaw)
	f.store.err = errors.New("disk full")

	f.run(t, fakeClock(t0, 100*time.Millisecond), 2, map[int]logic.RemoteCommand{0: powerCmd}, syscall.SIGTERM)

	if len(f.pub.Events) != 4 {
		t.Errorf("expected 4 published events, got %v", f.pub.EventTypes())
	}
}

func TestRunLoopHeartbeat(t *testing.T) {
	// Clock calls: t0 (heartbeat start), then one per tick at 5 min steps.
	// The tick at +15m fires the only heartbeat within 4 ticks.
	f := newFixture(t, coolRaw)
	f.loop.heartbeat = 15 * time.Minute

	f.run(t, fakeClock(t0, 5*time.Minute), 4, nil, syscall.SIGTERM)

	var heartbeats, shutdowns int
	for i, se := range f.pub.SystemEvents {
		switch se.Event {
		case "HEARTBEAT":
			heartbeats++
			payload := string(f.pub.SystemPayloads[i])
			if !strings.Contains(payload, `"event":"HEARTBEAT"`) {
				t.Errorf("unexpected heartbeat payload: %s", payload)
			}
		case "SHUTDOWN":
			shutdowns++
		}
	}
	if heartbeats != 1 {
		t.Errorf("expected 1 HEARTBEAT event, got %d", heartbeats)
	}
	if shutdowns != 1 {
		t.Errorf("expected 1 SHUTDOWN event, got %d", shutdowns)
	}
}

func TestRunLoopHeartbeatIncludesNetworkInfo(t *testing.T) {
	t.Setenv(envNetworkStatus, "connected")
	t.Setenv(envNetworkIP, "10.0.0.7")

	f := newFixture(t, coolRaw)
	f.loop.heartbeat = time.Minute

	f.run(t, fakeClock(t0, time.Minute), 1, nil, syscall.SIGTERM)

	if len(f.pub.SystemEvents) != 2 || f.pub.SystemEvents[0].Event != "HEARTBEAT" {
		t.Fatalf("expected HEARTBEAT then SHUTDOWN, got %+v", f.pub.SystemEvents)
	}
	if !strings.Contains(string(f.pub.SystemPayloads[0]), `"ip":"10.0.0.7"`) {
		t.Errorf("heartbeat payload missing network info: %s", f.pub.SystemPayloads[0])
	}
}

// notifyPublisher signals each published event so tests can wait for a
// cycle triggered by the mailbox rather than by a tick.
type notifyPublisher struct {
	*mqtt.FakePublisher
	published chan logic.EventType
}

func (p *notifyPublisher) Publish(ev logic.Event) error {
	err := p.FakePublisher.Publish(ev)
	p.published <- ev.Type
	return err
}

func TestRunLoopWakesOnRemoteCommand(t *testing.T) {
	f := newFixture(t, coolRaw)
	pub := &notifyPublisher{FakePublisher: f.pub, published: make(chan logic.EventType, 8)}
	f.loop.publisher = pub

	sigCh := make(chan os.Signal, 1)
	errCh := make(chan error, 1)
	go func() {
		// No ticks at all: only the mailbox can trigger a cycle.
		errCh <- runLoop(f.loop, fakeClock(t0, time.Second), nil, f.mailbox.Ready(), sigCh)
	}()

	f.mailbox.Put(powerCmd)

	select {
	case et := <-pub.published:
		if et != logic.EventPowerOn {
			t.Errorf("expected POWER_ON, got %s", et)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("remote command did not trigger a cycle")
	}

	sigCh <- syscall.SIGTERM
	if err := <-errCh; err != nil {
		t.Fatalf("runLoop returned error: %v", err)
	}
	if f.out.Relay {
		t.Error("relay must be off after shutdown")
	}
}

// stalledPublisher blocks every amplifier event until release is closed,
// like a broker that stopped acknowledging.
type stalledPublisher struct {
	*mqtt.FakePublisher
	release chan struct{}
}

func (p *stalledPublisher) Publish(ev logic.Event) error {
	<-p.release
	return p.FakePublisher.Publish(ev)
}

func TestRunLoopKeepsCyclingWhilePublishStalls(t *testing.T) {
	f := newFixture(t, coolRaw, hotRaw)
	pub := &stalledPublisher{FakePublisher: f.pub, release: make(chan struct{})}
	f.loop.publisher = pub

	tick := make(chan time.Time)
	sigCh := make(chan os.Signal, 1)
	errCh := make(chan error, 1)
	go func() {
		errCh <- runLoop(f.loop, fakeClock(t0, 100*time.Millisecond), tick, nil, sigCh)
	}()

	// POWER_ON stalls in the publisher; the hot sample on the next tick
	// must still trip, and later ticks move on to cooldown.
	f.mailbox.Put(powerCmd)
	for i := 0; i < 5; i++ {
		select {
		case tick <- time.Time{}:
		case <-time.After(2 * time.Second):
			t.Fatalf("tick %d not taken: control loop is blocked on the publisher", i)
		}
	}

	deadline := time.Now().Add(2 * time.Second)
	for f.tracker.Snapshot().Cycles < 5 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	snap := f.tracker.Snapshot()
	if snap.Cycles != 5 {
		t.Fatalf("cycles: got %d, want 5", snap.Cycles)
	}
	if snap.Thermal != logic.StateCooldown || snap.Power != logic.PowerOff {
		t.Errorf("trip not applied while publish stalled: thermal=%s power=%s", snap.Thermal, snap.Power)
	}

	close(pub.release)
	sigCh <- syscall.SIGTERM
	if err := <-errCh; err != nil {
		t.Fatalf("runLoop returned error: %v", err)
	}

	assertTypes(t, f.pub.EventTypes(),
		logic.EventPowerOn,
		logic.EventOverheatPending,
		logic.EventThermalShutdown,
		logic.EventPowerOff,
		logic.EventCooldown,
	)
	if len(f.pub.SystemEvents) != 1 || f.pub.SystemEvents[0].Event != "SHUTDOWN" {
		t.Errorf("expected SHUTDOWN after drain, got %+v", f.pub.SystemEvents)
	}
}

func TestOutboxDropsWhenFull(t *testing.T) {
	pub := &stalledPublisher{FakePublisher: mqtt.NewFakePublisher(), release: make(chan struct{})}
	o := newOutbox(pub, nil, 2)

	done := make(chan struct{})
	go func() {
		// One item is held by the stalled publisher, two fill the queue,
		// the rest are dropped without blocking.
		for i := 0; i < 10; i++ {
			o.send(outboxItem{event: &logic.Event{Type: logic.EventPowerOn}})
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("send blocked on a full outbox")
	}

	close(pub.release)
	if !o.drain(2 * time.Second) {
		t.Fatal("outbox did not drain")
	}
	if n := len(pub.Events); n < 1 || n > 3 {
		t.Errorf("published %d events, want between 1 and 3", n)
	}
}

// --- flags and print-state ---

func TestParseFlagsDefaults(t *testing.T) {
	cfg, printState, err := parseFlags([]string{"-config", filepath.Join(t.TempDir(), "missing.yaml")})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if printState {
		t.Error("print-state should default to false")
	}
	if cfg.Thermal.ShutdownC != 74 || cfg.Thermistor.Wiring != 1 {
		t.Errorf("expected defaults, got shutdown=%v wiring=%d", cfg.Thermal.ShutdownC, cfg.Thermistor.Wiring)
	}
}

func TestParseFlagsOverrideConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := "mqtt:\n  broker: tcp://file:1883\nserial:\n  port: /dev/ttyFILE\n"
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, printState, err := parseFlags([]string{"-config", path, "-serial", "/dev/ttyFLAG", "-wiring", "2", "-print-state"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !printState {
		t.Error("expected print-state")
	}
	if cfg.MQTT.Broker != "tcp://file:1883" {
		t.Errorf("broker from file: got %q", cfg.MQTT.Broker)
	}
	if cfg.Serial.Port != "/dev/ttyFLAG" {
		t.Errorf("serial from flag: got %q", cfg.Serial.Port)
	}
	if cfg.Thermistor.Wiring != 2 {
		t.Errorf("wiring from flag: got %d", cfg.Thermistor.Wiring)
	}
}

func TestParseFlagsRejectsInvalidConfig(t *testing.T) {
	_, _, err := parseFlags([]string{"-config", filepath.Join(t.TempDir(), "missing.yaml"), "-wiring", "5"})

	var cfgErr *logic.ConfigError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("expected ConfigError, got %v", err)
	}
}

func TestPrintReadings(t *testing.T) {
	reader := sensor.NewFakeReader(coolRaw)

	var buf bytes.Buffer
	printReadings(&buf, reader, logic.DefaultThermistorModel())

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 lines, got %q", buf.String())
	}
	if lines[0] != "THERMISTOR1: raw=512 25.0°C" {
		t.Errorf("line 1: got %q", lines[0])
	}
	if !strings.HasPrefix(lines[1], "THERMISTOR2: fault") {
		t.Errorf("line 2: got %q", lines[1])
	}
}

func TestSignalName(t *testing.T) {
	if signalName(syscall.SIGINT) != "SIGINT" || signalName(syscall.SIGTERM) != "SIGTERM" {
		t.Error("unexpected signal names")
	}
	if signalName(syscall.SIGHUP) != "UNKNOWN" {
		t.Error("expected UNKNOWN for other signals")
	}
}

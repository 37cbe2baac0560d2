// Command amp-controller drives the amplifier power relay from an IR remote
// while enforcing thermal protection, and publishes its events to MQTT.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/sweeney/amp-controller/internal/bridge"
	"github.com/sweeney/amp-controller/internal/config"
	"github.com/sweeney/amp-controller/internal/control"
	"github.com/sweeney/amp-controller/internal/gpio"
	"github.com/sweeney/amp-controller/internal/history"
	"github.com/sweeney/amp-controller/internal/ir"
	"github.com/sweeney/amp-controller/internal/logic"
	"github.com/sweeney/amp-controller/internal/metrics"
	"github.com/sweeney/amp-controller/internal/mqtt"
	"github.com/sweeney/amp-controller/internal/sensor"
	"github.com/sweeney/amp-controller/internal/status"
	"github.com/sweeney/amp-controller/internal/web"
)

const defaultConfigPath = "/etc/amp-controller/config.yaml"

func main() {
	cfg, printState, err := parseFlags(os.Args[1:])
	if err != nil {
		if err == flag.ErrHelp {
			return
		}
		log.Fatalf("fatal: %v", err)
	}

	if err := run(cfg, printState); err != nil {
		log.Fatalf("fatal: %v", err)
	}
}

// parseFlags loads the config file and applies any flags given explicitly
// on top of it.
func parseFlags(args []string) (*config.Config, bool, error) {
	def := config.Default()

	fs := flag.NewFlagSet("amp-controller", flag.ContinueOnError)
	configPath := fs.String("config", defaultConfigPath, "YAML configuration file (missing file uses defaults)")
	poll := fs.Duration("poll", def.Timing.Poll, "Control cycle interval")
	broker := fs.String("broker", def.MQTT.Broker, "MQTT broker address")
	heartbeat := fs.Duration("heartbeat", def.MQTT.Heartbeat, "Heartbeat interval (0 to disable)")
	httpAddr := fs.String("http", def.HTTP.Addr, "HTTP status address (empty to disable)")
	serialPort := fs.String("serial", def.Serial.Port, "Serial port of the sensor MCU")
	wiring := fs.Int("wiring", def.Thermistor.Wiring, "Active thermistor (1 or 2)")
	profile := fs.String("profile", def.IR.Profile, "Remote command profile (amplifier, amplifier-legacy)")
	historyPath := fs.String("history", def.History.Path, "Event history database (empty to disable)")
	printState := fs.Bool("print-state", false, "Print both thermistor readings and exit")

	if err := fs.Parse(args); err != nil {
		return nil, false, err
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		return nil, false, err
	}

	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "poll":
			cfg.Timing.Poll = *poll
		case "broker":
			cfg.MQTT.Broker = *broker
		case "heartbeat":
			cfg.MQTT.Heartbeat = *heartbeat
		case "http":
			cfg.HTTP.Addr = *httpAddr
		case "serial":
			cfg.Serial.Port = *serialPort
		case "wiring":
			cfg.Thermistor.Wiring = *wiring
		case "profile":
			cfg.IR.Profile = *profile
		case "history":
			cfg.History.Path = *historyPath
		}
	})

	if err := cfg.Validate(); err != nil {
		return nil, false, err
	}
	return cfg, *printState, nil
}

func run(cfg *config.Config, printState bool) error {
	mailbox := ir.NewMailbox()

	// Sensor MCU link: thermistor samples and decoded IR frames
	link := bridge.New(cfg.Serial.Port, cfg.Serial.BaudRate, cfg.Serial.StaleAfter, mailbox)
	if err := link.Connect(); err != nil {
		return fmt.Errorf("init sensor link: %w", err)
	}
	defer link.Close()

	// Print state mode
	if printState {
		waitForSample(link, 3*time.Second)
		printReadings(os.Stdout, link, cfg.Model())
		return nil
	}

	// Initialize outputs; the driver switches the relay off before the first cycle
	out, err := gpio.NewRealActuator(cfg.Pins.Chip, cfg.GPIOPins())
	if err != nil {
		return fmt.Errorf("init gpio: %w", err)
	}

	driver, err := control.New(cfg.Control(), link, mailbox, out)
	if err != nil {
		out.Close()
		return err
	}

	// Initialize MQTT
	publisher, err := mqtt.NewRealPublisher(cfg.MQTT.Broker, cfg.MQTT.ClientID, cfg.MQTT.Buffer)
	if err != nil {
		driver.Close()
		return fmt.Errorf("init mqtt: %w", err)
	}
	defer publisher.Close()

	var events *history.Store
	if cfg.History.Path != "" {
		events, err = history.Open(cfg.History.Path, history.DefaultLimit)
		if err != nil {
			log.Printf("history disabled: %v", err)
			events = nil
		} else {
			defer events.Close()
		}
	}

	m := metrics.New()
	m.GaugeFunc("mqtt_buffered_messages", "Messages held until the broker connection returns.", func() float64 {
		return float64(publisher.Buffered())
	})
	m.CounterFunc("commands_overwritten_total", "Remote commands replaced before the control loop took them.", func() float64 {
		return float64(mailbox.Overwritten())
	})
	if events != nil {
		m.GaugeFunc("history_events", "Events kept in the history store.", func() float64 {
			n, err := events.Len()
			if err != nil {
				log.Printf("history length: %v", err)
			}
			return float64(n)
		})
	}

	// Initialize status tracker (before STARTUP so snapshot is available)
	tracker := status.NewTracker(time.Now(), status.Config{
		PollMs:      cfg.Timing.Poll.Milliseconds(),
		HeartbeatMs: cfg.MQTT.Heartbeat.Milliseconds(),
		Broker:      cfg.MQTT.Broker,
		HTTPPort:    cfg.HTTP.Addr,
		SerialPort:  cfg.Serial.Port,
		Wiring:      cfg.Thermistor.Wiring,
		ShutdownC:   cfg.Thermal.ShutdownC,
		RestartC:    cfg.Thermal.RestartC,
		Profile:     cfg.IR.Profile,
	})
	if net := readNetworkInfo(); net != nil {
		tracker.SetNetwork(net)
	}
	tracker.SetMQTTConnected(publisher.IsConnected())
	tracker.SetBridgeOnline(link.IsConnected())

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

	// Start HTTP status server
	if cfg.HTTP.Addr != "" {
		var eventLog web.EventLog
		if events != nil {
			eventLog = events
		}
		srv := web.New(cfg.HTTP.Addr, tracker, eventLog, m.Handler())
		go func() {
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Printf("http server error: %v", err)
			}
		}()
		defer srv.Shutdown(context.Background())
		log.Printf("http status server listening on %s", cfg.HTTP.Addr)
	}

	log.Printf("started: poll=%v wiring=%d profile=%s shutdown=%.1f restart=%.1f broker=%s heartbeat=%v",
		cfg.Timing.Poll, cfg.Thermistor.Wiring, cfg.IR.Profile, cfg.Thermal.ShutdownC, cfg.Thermal.RestartC, cfg.MQTT.Broker, cfg.MQTT.Heartbeat)

	ticker := time.NewTicker(cfg.Timing.Poll)
	defer ticker.Stop()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	l := &loop{
		driver:     driver,
		publisher:  publisher,
		mqttStatus: publisher,
		link:       link,
		tracker:    tracker,
		metrics:    m,
		heartbeat:  cfg.MQTT.Heartbeat,
	}
	if events != nil {
		l.history = events
	}
	return runLoop(l, time.Now, ticker.C, mailbox.Ready(), sigCh)
}

// eventStore is the subset of the history store the loop writes to.
type eventStore interface {
	Append(ev logic.Event) error
}

// linkStatus reports whether the sensor MCU is streaming.
type linkStatus interface {
	IsConnected() bool
}

// loop holds the collaborators of runLoop. history, metrics, tracker and
// the status interfaces are optional.
type loop struct {
	driver     *control.Driver
	publisher  mqtt.Publisher
	mqttStatus mqtt.ConnectionStatus
	link       linkStatus
	tracker    *status.Tracker
	history    eventStore
	metrics    *metrics.Metrics
	heartbeat  time.Duration

	outbox *outbox
}

const (
	outboxSize   = 256
	drainTimeout = 10 * time.Second
)

// outbox publishes and stores events on its own goroutine so a slow broker
// or disk never holds up a control cycle.
type outbox struct {
	publisher mqtt.Publisher
	history   eventStore
	queue     chan outboxItem
	done      chan struct{}
}

type outboxItem struct {
	event  *logic.Event
	system *mqtt.SystemEvent
}

func newOutbox(publisher mqtt.Publisher, history eventStore, size int) *outbox {
	o := &outbox{
		publisher: publisher,
		history:   history,
		queue:     make(chan outboxItem, size),
		done:      make(chan struct{}),
	}
	go o.run()
	return o
}

func (o *outbox) run() {
	defer close(o.done)
	for item := range o.queue {
		if item.system != nil {
			if err := o.publisher.PublishSystem(*item.system); err != nil {
				log.Printf("%s publish error: %v", strings.ToLower(item.system.Event), err)
			}
			continue
		}
		// Publish and store failures are logged; they never interrupt control.
		if err := o.publisher.Publish(*item.event); err != nil {
			log.Printf("publish error: %v", err)
		}
		if o.history != nil {
			if err := o.history.Append(*item.event); err != nil {
				log.Printf("history error: %v", err)
			}
		}
	}
}

// send queues item without blocking. A full queue drops the item.
func (o *outbox) send(item outboxItem) {
	select {
	case o.queue <- item:
	default:
		if item.event != nil {
			log.Printf("outbox full, dropping event %s", item.event.Type)
		} else {
			log.Printf("outbox full, dropping %s", item.system.Event)
		}
	}
}

// drain stops accepting items and waits up to timeout for the queue to empty.
func (o *outbox) drain(timeout time.Duration) bool {
	close(o.queue)
	select {
	case <-o.done:
		return true
	case <-time.After(timeout):
		return false
	}
}

func runLoop(l *loop, now func() time.Time, tick <-chan time.Time, wake <-chan struct{}, sig <-chan os.Signal) error {
	hb := logic.NewHeartbeat(now())
	l.outbox = newOutbox(l.publisher, l.history, outboxSize)

	for {
		select {
		case s := <-sig:
			log.Printf("received %v, shutting down", s)
			l.shutdown(now(), signalName(s))
			return nil

		case <-tick:
			l.cycle(now(), hb)

		case <-wake:
			// A remote command arrived; don't wait for the next tick.
			l.cycle(now(), hb)
		}
	}
}

func (l *loop) cycle(t time.Time, hb *logic.Heartbeat) {
	rep := l.driver.Step(t)

	for _, event := range rep.Events {
		log.Printf("event: %s (state=%s power=%s temp=%.1f)", event.Type, event.State, event.Power, event.Temperature)
		l.record(event)
	}

	if l.metrics != nil {
		l.metrics.Observe(rep)
	}
	if l.tracker == nil {
		return
	}

	// Update status tracker for HTTP consumers
	l.tracker.Update(rep)
	l.refreshLinks()

	if hbData := hb.Check(t, l.heartbeat, l.tracker.Counts()); hbData != nil {
		log.Printf("heartbeat: uptime=%v state=%s power=%s trips=%d faults=%d",
			hbData.Uptime, rep.State, rep.Power, hbData.Counts.Trips, hbData.Counts.Faults)

		// Refresh network info for heartbeat
		if net := readNetworkInfo(); net != nil {
			l.tracker.SetNetwork(net)
		}
		snap := l.tracker.Snapshot()
		l.outbox.send(outboxItem{system: &mqtt.SystemEvent{
			Timestamp:  hbData.Timestamp,
			Event:      "HEARTBEAT",
			RawPayload: status.FormatStatusEvent(snap, "HEARTBEAT", ""),
		}})
	}
}

// record hands an event to the outbox for publishing and storage.
func (l *loop) record(event logic.Event) {
	l.outbox.send(outboxItem{event: &event})
}

func (l *loop) refreshLinks() {
	if l.mqttStatus != nil {
		l.tracker.SetMQTTConnected(l.mqttStatus.IsConnected())
	}
	if l.link != nil {
		l.tracker.SetBridgeOnline(l.link.IsConnected())
	}
}

// shutdown drives the amplifier off before anything else, then reports.
func (l *loop) shutdown(t time.Time, reason string) {
	wasOn := l.driver.Powered()
	if err := l.driver.Close(); err != nil {
		log.Printf("release outputs: %v", err)
	}
	if wasOn {
		l.record(logic.Event{
			Timestamp: t,
			Type:      logic.EventPowerOff,
			State:     l.driver.State(),
			Power:     logic.PowerOff,
		})
	}
	if !l.outbox.drain(drainTimeout) {
		log.Printf("outbox not drained after %v, skipping shutdown event", drainTimeout)
		return
	}

	event := mqtt.SystemEvent{
		Timestamp: t,
		Event:     "SHUTDOWN",
		Reason:    reason,
		Retained:  true,
	}
	if l.tracker != nil {
		l.refreshLinks()
		snap := l.tracker.Snapshot()
		snap.Power = logic.PowerOff
		event.RawPayload = status.FormatStatusEvent(snap, "SHUTDOWN", reason)
	}
	if err := l.publisher.PublishSystem(event); err != nil {
		log.Printf("failed to publish shutdown event: %v", err)
	} else {
		log.Printf("published shutdown event")
	}
}

func signalName(s os.Signal) string {
	switch s {
	case syscall.SIGINT:
		return "SIGINT"
	case syscall.SIGTERM:
		return "SIGTERM"
	}
	return "UNKNOWN"
}

// waitForSample blocks until the link has delivered a reading or timeout.
func waitForSample(r sensor.Reader, timeout time.Duration) {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if _, err := r.ReadRaw(sensor.Thermistor1); err == nil {
			return
		}
		time.Sleep(100 * time.Millisecond)
	}
}

func printReadings(w io.Writer, r sensor.Reader, model logic.ThermistorModel) {
	for _, ch := range []sensor.Channel{sensor.Thermistor1, sensor.Thermistor2} {
		raw, err := r.ReadRaw(ch)
		if err != nil {
			fmt.Fprintf(w, "%s: fault (%v)\n", ch, err)
			continue
		}
		temp, err := logic.Convert(raw, model)
		if err != nil {
			fmt.Fprintf(w, "%s: raw=%d fault (%v)\n", ch, raw, err)
			continue
		}
		fmt.Fprintf(w, "%s: raw=%d %.1f°C\n", ch, raw, temp)
	}
}

// pi-helper env var names (written to /run/pi-helper.env).
const (
	envNetworkType       = "NETWORK_TYPE"
	envNetworkIP         = "NETWORK_IP"
	envNetworkStatus     = "NETWORK_STATUS"
	envNetworkGateway    = "NETWORK_GATEWAY"
	envNetworkWifiStatus = "NETWORK_WIFI_STATUS"
	envNetworkWifiSSID   = "NETWORK_WIFI_SSID"
)

func readNetworkInfo() *status.NetworkInfo {
	s := os.Getenv(envNetworkStatus)
	if s == "" {
		return nil
	}
	return &status.NetworkInfo{
		Type:       os.Getenv(envNetworkType),
		IP:         os.Getenv(envNetworkIP),
		Status:     s,
		Gateway:    os.Getenv(envNetworkGateway),
		WifiStatus: os.Getenv(envNetworkWifiStatus),
		SSID:       os.Getenv(envNetworkWifiSSID),
	}
}

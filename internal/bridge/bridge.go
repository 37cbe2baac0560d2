// Package bridge talks to the sensor microcontroller over a serial port.
// The MCU samples the thermistor channels and decodes the IR remote, and
// streams both as text lines:
//
//	T,<raw1>,<raw2>         thermistor ADC counts for THERMISTOR1 and THERMISTOR2
//	IR,<address>,<command>  decoded remote frame, hex (0x46) or decimal
package bridge

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.bug.st/serial"

	"github.com/sweeney/amp-controller/internal/ir"
	"github.com/sweeney/amp-controller/internal/logic"
	"github.com/sweeney/amp-controller/internal/sensor"
)

const (
	// DefaultBaudRate matches the MCU firmware.
	DefaultBaudRate = 115200
	// DefaultStaleAfter is how old a thermistor sample may be before it is
	// treated as a sensor fault.
	DefaultStaleAfter = 2 * time.Second

	// Reconnect backoff after the serial stream ends.
	retryMin = time.Second
	retryMax = 30 * time.Second
)

// Ensure Serial implements sensor.SampleReader.
var _ sensor.SampleReader = (*Serial)(nil)

type sample struct {
	raw int
	seq uint64
	at  time.Time
	ok  bool
}

// Serial is a connection to the sensor MCU. It keeps the latest thermistor
// sample per channel and forwards remote commands to a mailbox.
type Serial struct {
	port       string
	baudRate   int
	staleAfter time.Duration
	mailbox    *ir.Mailbox
	now        func() time.Time
	open       func() (io.ReadWriteCloser, error)
	retryMin   time.Duration
	retryMax   time.Duration

	conn      io.ReadWriteCloser
	mu        sync.RWMutex
	samples   [2]sample
	seq       uint64
	ctx       context.Context
	cancel    context.CancelFunc
	started   bool
	connected bool
	done      chan struct{}
}

// New creates a bridge for the given port. Remote commands are put into mailbox.
func New(port string, baudRate int, staleAfter time.Duration, mailbox *ir.Mailbox) *Serial {
	if baudRate == 0 {
		baudRate = DefaultBaudRate
	}
	if staleAfter == 0 {
		staleAfter = DefaultStaleAfter
	}

	ctx, cancel := context.WithCancel(context.Background())

	s := &Serial{
		port:       port,
		baudRate:   baudRate,
		staleAfter: staleAfter,
		mailbox:    mailbox,
		now:        time.Now,
		retryMin:   retryMin,
		retryMax:   retryMax,
		ctx:        ctx,
		cancel:     cancel,
		done:       make(chan struct{}),
	}
	s.open = s.openPort
	return s
}

func (s *Serial) openPort() (io.ReadWriteCloser, error) {
	mode := &serial.Mode{
		BaudRate: s.baudRate,
	}

	port, err := serial.Open(s.port, mode)
	if err != nil {
		return nil, fmt.Errorf("failed to open serial port %s: %w", s.port, err)
	}
	return port, nil
}

// Connect opens the serial port and starts reading lines. If the stream
// later ends, the port is reopened with backoff until Close.
func (s *Serial) Connect() error {
	conn, err := s.open()
	if err != nil {
		return err
	}
	return s.attach(conn)
}

// attach starts reading from an already open stream.
func (s *Serial) attach(conn io.ReadWriteCloser) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return fmt.Errorf("already connected")
	}
	s.conn = conn
	s.started = true
	s.connected = true

	go s.supervise(conn)

	return nil
}

// supervise reads conn until it ends, then reopens the port.
func (s *Serial) supervise(conn io.ReadWriteCloser) {
	defer close(s.done)

	for {
		s.readLines(conn)

		s.mu.Lock()
		owned := s.conn == conn
		if owned {
			s.conn = nil
		}
		s.connected = false
		s.mu.Unlock()
		if owned {
			conn.Close()
		}

		if s.ctx.Err() != nil {
			return
		}
		log.Printf("bridge: serial stream on %s ended, reconnecting", s.port)

		conn = s.reconnect()
		if conn == nil {
			return
		}
		log.Printf("bridge: reconnected to %s", s.port)
	}
}

// reconnect retries open with exponential backoff. It returns nil once the
// bridge is closed.
func (s *Serial) reconnect() io.ReadWriteCloser {
	backoff := s.retryMin
	for {
		timer := time.NewTimer(backoff)
		select {
		case <-s.ctx.Done():
			timer.Stop()
			return nil
		case <-timer.C:
		}

		conn, err := s.open()
		if err != nil {
			log.Printf("bridge: reconnect failed, retrying in %v: %v", backoff, err)
			backoff = min(backoff*2, s.retryMax)
			continue
		}

		s.mu.Lock()
		if s.ctx.Err() != nil {
			s.mu.Unlock()
			conn.Close()
			return nil
		}
		s.conn = conn
		s.connected = true
		s.mu.Unlock()
		return conn
	}
}

// Close stops reading and closes the port.
func (s *Serial) Close() error {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return nil
	}
	s.cancel()
	conn := s.conn
	s.conn = nil
	s.connected = false
	s.mu.Unlock()

	var err error
	if conn != nil {
		err = conn.Close()
	}
	<-s.done
	return err
}

// IsConnected returns whether the port is open and being read.
func (s *Serial) IsConnected() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.connected
}

// ReadRaw returns the latest raw count for ch.
func (s *Serial) ReadRaw(ch sensor.Channel) (int, error) {
	raw, _, err := s.ReadSample(ch)
	return raw, err
}

// ReadSample returns the latest raw count for ch and the sequence number of
// the MCU line it came from.
func (s *Serial) ReadSample(ch sensor.Channel) (int, uint64, error) {
	if ch < 0 || int(ch) >= len(s.samples) {
		return 0, 0, fmt.Errorf("%w: no such channel %d", logic.ErrSensorFault, ch)
	}

	s.mu.RLock()
	smp := s.samples[ch]
	s.mu.RUnlock()

	if !smp.ok {
		return 0, 0, fmt.Errorf("%w: no reading yet on %s", logic.ErrSensorFault, ch)
	}
	if age := s.now().Sub(smp.at); age > s.staleAfter {
		return 0, 0, fmt.Errorf("%w: %s reading is %v old", logic.ErrSensorFault, ch, age.Truncate(time.Millisecond))
	}
	return smp.raw, smp.seq, nil
}

func (s *Serial) readLines(r io.Reader) {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		select {
		case <-s.ctx.Done():
			return
		default:
		}

		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if err := s.handleLine(line); err != nil {
			log.Printf("bridge: failed to parse line %q: %v", line, err)
		}
	}
	if err := scanner.Err(); err != nil && s.ctx.Err() == nil {
		log.Printf("bridge: error reading from serial port: %v", err)
	}
}

func (s *Serial) handleLine(line string) error {
	msg, err := parseLine(line)
	if err != nil {
		return err
	}

	switch msg.kind {
	case kindSample:
		now := s.now()
		s.mu.Lock()
		s.seq++
		for i, raw := range msg.raw[:msg.channels] {
			s.samples[i] = sample{raw: raw, seq: s.seq, at: now, ok: true}
		}
		s.mu.Unlock()
	case kindCommand:
		if s.mailbox != nil {
			s.mailbox.Put(msg.cmd)
		}
	}
	return nil
}

type kind int

const (
	kindSample kind = iota
	kindCommand
)

type message struct {
	kind     kind
	raw      [2]int
	channels int
	cmd      logic.RemoteCommand
}

// parseLine parses a single line from the MCU.
func parseLine(line string) (message, error) {
	parts := strings.Split(line, ",")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}

	switch parts[0] {
	case "T":
		if len(parts) < 2 || len(parts) > 3 {
			return message{}, fmt.Errorf("invalid sample: expected 1 or 2 readings, got %d", len(parts)-1)
		}
		msg := message{kind: kindSample, channels: len(parts) - 1}
		for i, p := range parts[1:] {
			v, err := strconv.ParseUint(p, 10, 16)
			if err != nil {
				return message{}, fmt.Errorf("invalid reading %d: %w", i+1, err)
			}
			msg.raw[i] = int(v)
		}
		return msg, nil

	case "IR":
		if len(parts) != 3 {
			return message{}, fmt.Errorf("invalid remote frame: expected 2 values, got %d", len(parts)-1)
		}
		addr, err := strconv.ParseUint(parts[1], 0, 8)
		if err != nil {
			return message{}, fmt.Errorf("invalid address: %w", err)
		}
		cmd, err := strconv.ParseUint(parts[2], 0, 8)
		if err != nil {
			return message{}, fmt.Errorf("invalid command: %w", err)
		}
		return message{kind: kindCommand, cmd: logic.RemoteCommand{Address: byte(addr), Command: byte(cmd)}}, nil
	}

	return message{}, fmt.Errorf("unknown message type %q", parts[0])
}

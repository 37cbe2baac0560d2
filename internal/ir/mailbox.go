// Package ir holds decoded remote commands until the control loop takes them.
// Decoding the IR protocol itself happens on the sensor microcontroller.
package ir

import (
	"sync"

	"github.com/sweeney/amp-controller/internal/logic"
)

// Source yields at most one pending remote command per call. Poll never blocks.
type Source interface {
	Poll() (logic.RemoteCommand, bool)
}

// Mailbox is a single-slot, latest-wins command holder.
// Put may be called from any goroutine; Poll is called by the control loop.
type Mailbox struct {
	mu      sync.Mutex
	cmd     logic.RemoteCommand
	full    bool
	dropped int
	ready   chan struct{}
}

// NewMailbox creates an empty mailbox.
func NewMailbox() *Mailbox {
	return &Mailbox{ready: make(chan struct{}, 1)}
}

// Put stores cmd, replacing any command not yet taken.
func (m *Mailbox) Put(cmd logic.RemoteCommand) {
	m.mu.Lock()
	if m.full {
		m.dropped++
	}
	m.cmd = cmd
	m.full = true
	m.mu.Unlock()

	select {
	case m.ready <- struct{}{}:
	default:
	}
}

// Poll takes the pending command, if any.
func (m *Mailbox) Poll() (logic.RemoteCommand, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.full {
		return logic.RemoteCommand{}, false
	}
	m.full = false
	return m.cmd, true
}

// Ready is signalled when a command is put. It may fire for a command that
// has already been taken; callers must still Poll.
func (m *Mailbox) Ready() <-chan struct{} {
	return m.ready
}

// Overwritten returns how many commands were replaced before being taken.
func (m *Mailbox) Overwritten() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.dropped
}

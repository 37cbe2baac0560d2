package gpio

import (
	"sync"
	"time"
)

// flasher plays feedback patterns on a background goroutine, one at a time.
// A pattern requested while another is still playing is dropped.
type flasher struct {
	set   func(on bool)
	width time.Duration

	mu       sync.Mutex
	flashing bool
	closed   bool
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

func newFlasher(set func(on bool), width time.Duration) *flasher {
	return &flasher{set: set, width: width, stopCh: make(chan struct{})}
}

func (f *flasher) flash(fb Feedback) {
	f.mu.Lock()
	if f.flashing || f.closed {
		f.mu.Unlock()
		return
	}
	f.flashing = true
	f.wg.Add(1)
	f.mu.Unlock()

	go func() {
		defer f.wg.Done()
		defer func() {
			f.mu.Lock()
			f.flashing = false
			f.mu.Unlock()
		}()
		for i := 0; i < fb.Pulses(); i++ {
			f.set(true)
			if !f.sleep() {
				f.set(false)
				return
			}
			f.set(false)
			if !f.sleep() {
				return
			}
		}
	}()
}

func (f *flasher) sleep() bool {
	t := time.NewTimer(f.width)
	defer t.Stop()
	select {
	case <-f.stopCh:
		return false
	case <-t.C:
		return true
	}
}

// stop cuts a running pattern short and waits until its goroutine has
// finished touching the line. Later flash calls do nothing.
func (f *flasher) stop() {
	f.mu.Lock()
	if !f.closed {
		f.closed = true
		close(f.stopCh)
	}
	f.mu.Unlock()
	f.wg.Wait()
}

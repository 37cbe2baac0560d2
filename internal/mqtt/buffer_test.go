package mqtt

import (
	"testing"
)

func pushN(rb *ringBuffer, from, to int) {
	for i := from; i < to; i++ {
		rb.push(bufferedMsg{topic: Topic, payload: []byte{byte(i)}})
	}
}

func TestRingBufferEmptyDrain(t *testing.T) {
	rb := newRingBuffer(10)
	if got := rb.drainAll(); got != nil {
		t.Errorf("expected nil from empty drain, got %d items", len(got))
	}
}

func TestRingBufferReplaysOldestFirst(t *testing.T) {
	rb := newRingBuffer(10)
	pushN(rb, 0, 5)

	got := rb.drainAll()
	if len(got) != 5 {
		t.Fatalf("expected 5 items, got %d", len(got))
	}
	for i, msg := range got {
		if msg.payload[0] != byte(i) {
			t.Errorf("item %d: expected payload %d, got %d", i, i, msg.payload[0])
		}
	}

	if got := rb.drainAll(); got != nil {
		t.Errorf("expected nil from second drain, got %d items", len(got))
	}
}

func TestRingBufferOverflowKeepsNewest(t *testing.T) {
	rb := newRingBuffer(5)
	pushN(rb, 0, 8)

	if rb.dropped != 3 {
		t.Errorf("dropped: got %d, want 3", rb.dropped)
	}

	got := rb.drainAll()
	if len(got) != 5 {
		t.Fatalf("expected 5 items, got %d", len(got))
	}
	for i, msg := range got {
		want := byte(i + 3)
		if msg.payload[0] != want {
			t.Errorf("item %d: expected payload %d, got %d", i, want, msg.payload[0])
		}
	}
	if rb.dropped != 0 {
		t.Errorf("dropped not reset by drain: %d", rb.dropped)
	}
}

func TestRingBufferWrapsAcrossDrains(t *testing.T) {
	rb := newRingBuffer(4)
	pushN(rb, 0, 3)
	rb.drainAll()

	pushN(rb, 10, 16)
	got := rb.drainAll()
	if len(got) != 4 {
		t.Fatalf("expected 4 items, got %d", len(got))
	}
	for i, msg := range got {
		want := byte(12 + i)
		if msg.payload[0] != want {
			t.Errorf("item %d: expected %d, got %d", i, want, msg.payload[0])
		}
	}
}

func TestRingBufferLen(t *testing.T) {
	rb := newRingBuffer(3)
	if rb.len() != 0 {
		t.Errorf("expected len 0, got %d", rb.len())
	}

	pushN(rb, 0, 5)
	if rb.len() != 3 {
		t.Errorf("expected len capped at 3, got %d", rb.len())
	}

	rb.drainAll()
	if rb.len() != 0 {
		t.Errorf("expected len 0 after drain, got %d", rb.len())
	}
}

func TestRingBufferMinimumCapacity(t *testing.T) {
	rb := newRingBuffer(0)
	pushN(rb, 0, 2)

	got := rb.drainAll()
	if len(got) != 1 || got[0].payload[0] != 1 {
		t.Errorf("expected only the newest message, got %v", got)
	}
}

func TestRingBufferPreservesFields(t *testing.T) {
	rb := newRingBuffer(10)
	rb.push(bufferedMsg{
		topic:    TopicSystem,
		payload:  []byte(`{"test":true}`),
		qos:      1,
		retained: true,
	})

	got := rb.drainAll()
	if len(got) != 1 {
		t.Fatalf("expected 1 item, got %d", len(got))
	}
	if got[0].topic != TopicSystem {
		t.Errorf("topic: got %s, want %s", got[0].topic, TopicSystem)
	}
	if string(got[0].payload) != `{"test":true}` {
		t.Errorf("payload: got %s", got[0].payload)
	}
	if got[0].qos != 1 {
		t.Errorf("qos: got %d, want 1", got[0].qos)
	}
	if !got[0].retained {
		t.Error("retained: got false, want true")
	}
}

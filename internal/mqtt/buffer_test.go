package mqtt

import (
	"fmt"
	"testing"
)

func TestRingBufferPushAndDrain(t *testing.T) {
	r := newRingBuffer(4)

	r.push(bufferedMsg{topic: "a", payload: []byte("1")})
	r.push(bufferedMsg{topic: "b", payload: []byte("2")})

	if r.len() != 2 {
		t.Errorf("len = %d, want 2", r.len())
	}

	msgs := r.drainAll()
	if len(msgs) != 2 {
		t.Fatalf("drained %d, want 2", len(msgs))
	}
	if msgs[0].topic != "a" || msgs[1].topic != "b" {
		t.Errorf("drain order wrong: %s, %s", msgs[0].topic, msgs[1].topic)
	}
	if r.len() != 0 {
		t.Errorf("len after drain = %d, want 0", r.len())
	}
}

func TestRingBufferDrainEmpty(t *testing.T) {
	r := newRingBuffer(4)
	if msgs := r.drainAll(); msgs != nil {
		t.Errorf("expected nil from empty drain, got %v", msgs)
	}
}

func TestRingBufferOverflowDropsOldest(t *testing.T) {
	r := newRingBuffer(3)

	for i := 0; i < 5; i++ {
		r.push(bufferedMsg{payload: []byte(fmt.Sprintf("%d", i))})
	}

	if r.len() != 3 {
		t.Errorf("len = %d, want 3", r.len())
	}

	msgs := r.drainAll()
	if len(msgs) != 3 {
		t.Fatalf("drained %d, want 3", len(msgs))
	}
	// Messages 0 and 1 were dropped; 2, 3, 4 survive in order.
	for i, want := range []string{"2", "3", "4"} {
		if string(msgs[i].payload) != want {
			t.Errorf("msgs[%d] = %s, want %s", i, msgs[i].payload, want)
		}
	}
}

func TestRingBufferReusableAfterDrain(t *testing.T) {
	r := newRingBuffer(2)
	r.push(bufferedMsg{payload: []byte("x")})
	r.drainAll()

	r.push(bufferedMsg{payload: []byte("y")})
	msgs := r.drainAll()
	if len(msgs) != 1 || string(msgs[0].payload) != "y" {
		t.Errorf("after reuse: %v", msgs)
	}
}

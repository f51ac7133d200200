package game

import (
	"testing"
)

func TestHub_BroadcastNeverBlocks(t *testing.T) {
	hub := NewHub() // Run() intentionally not started

	// With no consumer the buffer fills; further broadcasts must drop rather
	// than stall the caller.
	for i := 0; i < HUB_BUFFER+10; i++ {
		hub.Broadcast(MultiplierTickEvent{Type: "multiplier_tick", Multiplier: float64(i)})
	}

	if len(hub.broadcast) != HUB_BUFFER {
		t.Errorf("buffered messages = %d, want %d", len(hub.broadcast), HUB_BUFFER)
	}
}

func TestHub_ClientCountEmpty(t *testing.T) {
	hub := NewHub()
	if got := hub.ClientCount(); got != 0 {
		t.Errorf("ClientCount() = %d, want 0", got)
	}
}

package reql

import "testing"

func TestConnMetricsUnknownTokenDrops(t *testing.T) {
	var m connMetrics
	if m.UnknownTokenDrops() != 0 {
		t.Fatalf("initial UnknownTokenDrops() = %d, want 0", m.UnknownTokenDrops())
	}
	m.recordUnknownToken()
	m.recordUnknownToken()
	if m.UnknownTokenDrops() != 2 {
		t.Fatalf("UnknownTokenDrops() = %d, want 2", m.UnknownTokenDrops())
	}
}

// TestConnectionNeverDropsKnownTokens exercises the property that a
// connection whose reader loop only ever sees tokens it registered itself
// records zero unknown-token drops, and that a frame for an unregistered
// token is counted as one drop.
func TestConnectionNeverDropsKnownTokens(t *testing.T) {
	conn := &Connection{
		pending: make(map[uint64]*waiter),
		cursors: make(map[uint64]*Cursor),
	}
	w := conn.registerWaiter(5)
	conn.deliver(5, waiterResult{response: &response{Type: respSuccessAtom, Result: []any{float64(1)}}})
	select {
	case <-w.resp:
	default:
		t.Fatal("expected the waiter to receive a result")
	}
	if conn.metrics.UnknownTokenDrops() != 0 {
		t.Fatalf("UnknownTokenDrops() = %d, want 0", conn.metrics.UnknownTokenDrops())
	}

	conn.deliver(999, waiterResult{response: &response{Type: respSuccessAtom}})
	if conn.metrics.UnknownTokenDrops() != 1 {
		t.Fatalf("UnknownTokenDrops() = %d, want 1", conn.metrics.UnknownTokenDrops())
	}
}

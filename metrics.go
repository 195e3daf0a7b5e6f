package reql

import "sync/atomic"

// connMetrics tracks per-connection counters the reader loop updates as it
// demultiplexes frames. unknownToken counts frames whose token matched
// neither pending nor cursors — tolerated (a STOP can race the server's
// last SUCCESS_SEQUENCE), but expected to stay at zero in practice, so
// tests assert on it directly rather than just on behavior.
type connMetrics struct {
	unknownToken  uint64
	framesRead    uint64
	framesWritten uint64
}

func (m *connMetrics) recordUnknownToken() {
	atomic.AddUint64(&m.unknownToken, 1)
}

func (m *connMetrics) recordFrameRead() {
	atomic.AddUint64(&m.framesRead, 1)
}

func (m *connMetrics) recordFrameWritten() {
	atomic.AddUint64(&m.framesWritten, 1)
}

// UnknownTokenDrops reports how many frames this connection has discarded
// because their token matched no waiter or cursor.
func (m *connMetrics) UnknownTokenDrops() uint64 {
	return atomic.LoadUint64(&m.unknownToken)
}

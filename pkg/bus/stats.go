package bus

// Stats is a point-in-time snapshot of the bus layer's counters. It is
// returned by value so callers (pkg/z1metrics in particular) can
// sample it without holding a lock open.
type Stats struct {
	FramesSent      uint64
	FramesReceived  uint64
	BytesSent       uint64
	TxTimeouts      uint64
	CRCErrors       uint64
	RxDesyncs       uint64
	DmaRecoveries   uint64
	AutoAcksSent    uint64
	PingRepliesSent uint64

	MinTxLatencyMicros uint64
	MaxTxLatencyMicros uint64
	AvgTxLatencyMicros uint64
}

func (s *Stats) observeTxLatency(micros uint64) {
	if s.FramesSent == 0 {
		s.MinTxLatencyMicros = micros
		s.MaxTxLatencyMicros = micros
		s.AvgTxLatencyMicros = micros
		return
	}
	if micros < s.MinTxLatencyMicros {
		s.MinTxLatencyMicros = micros
	}
	if micros > s.MaxTxLatencyMicros {
		s.MaxTxLatencyMicros = micros
	}
	// Running average, avoids keeping a full sample history.
	if micros >= s.AvgTxLatencyMicros {
		s.AvgTxLatencyMicros += (micros - s.AvgTxLatencyMicros) / (s.FramesSent + 1)
	} else {
		s.AvgTxLatencyMicros -= (s.AvgTxLatencyMicros - micros) / (s.FramesSent + 1)
	}
}

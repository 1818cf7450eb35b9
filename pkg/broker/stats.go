package broker

// Stats is a point-in-time snapshot of broker counters, mirroring the
// "aggregated statistics" spec.md section 4.2 requires for
// introspection: sent, dropped, busy/idle counters, retry histogram,
// and min/max/avg latency.
type Stats struct {
	SpikesSent      uint64
	SpikesDropped   uint64
	CommandsSent    uint64
	CommandsDropped uint64

	BusBusySamples uint64
	BusIdleSamples uint64
	BurstLockouts  uint64

	// RetryHistogram[n] counts failed transmit attempts that left a
	// request at retry count n, including the attempt that exhausts it;
	// a request that fails three times adds one to each of [1], [2] and
	// [3]. Index 0 never increments.
	// clampHistogramIndex folds any retry count beyond the bucket
	// count into the last bucket instead of overflowing it.
	RetryHistogram [retryHistogramBuckets]uint64

	MinLatencyMicros uint64
	MaxLatencyMicros uint64
	AvgLatencyMicros uint64

	sentTotal uint64
}

// TotalRetries sums the histogram into the single scalar introspection
// surfaces (prometheus, logs) generally want.
func (s Stats) TotalRetries() uint64 {
	var total uint64
	for _, n := range s.RetryHistogram {
		total += n
	}
	return total
}

func (s *Stats) observeLatency(micros uint64) {
	if s.sentTotal == 0 {
		s.MinLatencyMicros = micros
		s.MaxLatencyMicros = micros
		s.AvgLatencyMicros = micros
	} else {
		if micros < s.MinLatencyMicros {
			s.MinLatencyMicros = micros
		}
		if micros > s.MaxLatencyMicros {
			s.MaxLatencyMicros = micros
		}
		if micros >= s.AvgLatencyMicros {
			s.AvgLatencyMicros += (micros - s.AvgLatencyMicros) / (s.sentTotal + 1)
		} else {
			s.AvgLatencyMicros -= (s.AvgLatencyMicros - micros) / (s.sentTotal + 1)
		}
	}
	s.sentTotal++
}

// QueueDepths reports current occupancy of both queues, the other half
// of the required introspection surface.
type QueueDepths struct {
	Spikes          int
	SpikeCapacity   int
	Commands        int
	CommandCapacity int
}

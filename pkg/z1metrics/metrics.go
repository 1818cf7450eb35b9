// Package z1metrics exposes the bus/broker/OTA introspection counters
// spec.md section 4.2 requires as prometheus metrics, grounded on
// runZeroInc-sockstats/pkg/exporter's use of a dedicated collector
// type registered against a *prometheus.Registry the caller owns. The
// core never starts an HTTP server itself; a REST collaborator mounts
// the registry's handler.
package z1metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/texelec/z1core/pkg/broker"
	"github.com/texelec/z1core/pkg/bus"
)

// Recorder owns one prometheus.Registry and the gauges/counters
// sampled from it. It has no polling loop of its own; a caller invokes
// Observe on whatever cadence it wants (the controller's main loop,
// a test).
type Recorder struct {
	registry *prometheus.Registry

	busFramesSent     prometheus.Gauge
	busFramesReceived prometheus.Gauge
	busCRCErrors      prometheus.Gauge
	busRxDesyncs      prometheus.Gauge
	busDmaRecoveries  prometheus.Gauge
	busTxTimeouts     prometheus.Gauge
	busAvgTxLatency   prometheus.Gauge

	brokerSpikesSent      prometheus.Gauge
	brokerSpikesDropped   prometheus.Gauge
	brokerCommandsSent    prometheus.Gauge
	brokerCommandsDropped prometheus.Gauge
	brokerRetries         prometheus.Gauge
	brokerBurstLockouts   prometheus.Gauge
	brokerBusBusySamples  prometheus.Gauge
	brokerBusIdleSamples  prometheus.Gauge
	brokerAvgLatency      prometheus.Gauge
	brokerSpikeDepth      prometheus.Gauge
	brokerCommandDepth    prometheus.Gauge

	otaChunksReceived prometheus.Gauge
	otaBytesReceived  prometheus.Gauge
	otaSessionState   prometheus.Gauge
}

// NewRecorder builds and registers every metric under the given
// namespace (e.g. "z1_worker", "z1_controller") so multiple node
// processes scraped by the same collector do not collide.
func NewRecorder(namespace string) *Recorder {
	reg := prometheus.NewRegistry()
	gauge := func(name, help string) prometheus.Gauge {
		g := prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      name,
			Help:      help,
		})
		reg.MustRegister(g)
		return g
	}

	r := &Recorder{
		registry: reg,

		busFramesSent:     gauge("bus_frames_sent_total", "frames transmitted on the backplane bus"),
		busFramesReceived: gauge("bus_frames_received_total", "frames received on the backplane bus"),
		busCRCErrors:      gauge("bus_crc_errors_total", "frames received with a CRC16 mismatch"),
		busRxDesyncs:      gauge("bus_rx_desyncs_total", "RX state machine desync recoveries"),
		busDmaRecoveries:  gauge("bus_dma_recoveries_total", "DMA write pointer out-of-range recoveries"),
		busTxTimeouts:     gauge("bus_tx_timeouts_total", "bus transmit attempts that timed out"),
		busAvgTxLatency:   gauge("bus_tx_latency_avg_micros", "running average transmit latency"),

		brokerSpikesSent:      gauge("broker_spikes_sent_total", "spike frames transmitted"),
		brokerSpikesDropped:   gauge("broker_spikes_dropped_total", "spikes dropped: queue full, stale or retry-exhausted"),
		brokerCommandsSent:    gauge("broker_commands_sent_total", "command frames transmitted"),
		brokerCommandsDropped: gauge("broker_commands_dropped_total", "commands dropped: queue full or retry-exhausted"),
		brokerRetries:         gauge("broker_retries_total", "retransmit attempts due to collision or timeout"),
		brokerBurstLockouts:   gauge("broker_burst_lockouts_total", "burst fairness lockouts entered"),
		brokerBusBusySamples:  gauge("broker_bus_busy_samples_total", "carrier-busy samples observed while waiting to transmit"),
		brokerBusIdleSamples:  gauge("broker_bus_idle_samples_total", "carrier-idle samples observed immediately before a transmit"),
		brokerAvgLatency:      gauge("broker_latency_avg_micros", "running average queue-to-wire latency"),
		brokerSpikeDepth:      gauge("broker_spike_queue_depth", "current spike queue occupancy"),
		brokerCommandDepth:    gauge("broker_command_queue_depth", "current command queue occupancy"),

		otaChunksReceived: gauge("ota_chunks_received_total", "OTA data chunks accepted in the current session"),
		otaBytesReceived:  gauge("ota_bytes_received_total", "OTA payload bytes accepted in the current session"),
		otaSessionState:   gauge("ota_session_state", "current OTA session state enum value"),
	}
	return r
}

// Registry exposes the underlying registry for a REST collaborator to
// mount behind a /metrics handler.
func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}

// ObserveBus samples one bus.Stats snapshot into the gauges.
func (r *Recorder) ObserveBus(s bus.Stats) {
	r.busFramesSent.Set(float64(s.FramesSent))
	r.busFramesReceived.Set(float64(s.FramesReceived))
	r.busCRCErrors.Set(float64(s.CRCErrors))
	r.busRxDesyncs.Set(float64(s.RxDesyncs))
	r.busDmaRecoveries.Set(float64(s.DmaRecoveries))
	r.busTxTimeouts.Set(float64(s.TxTimeouts))
	r.busAvgTxLatency.Set(float64(s.AvgTxLatencyMicros))
}

// ObserveBroker samples one broker.Stats + QueueDepths snapshot.
func (r *Recorder) ObserveBroker(s broker.Stats, depths broker.QueueDepths) {
	r.brokerSpikesSent.Set(float64(s.SpikesSent))
	r.brokerSpikesDropped.Set(float64(s.SpikesDropped))
	r.brokerCommandsSent.Set(float64(s.CommandsSent))
	r.brokerCommandsDropped.Set(float64(s.CommandsDropped))
	r.brokerRetries.Set(float64(s.TotalRetries()))
	r.brokerBurstLockouts.Set(float64(s.BurstLockouts))
	r.brokerBusBusySamples.Set(float64(s.BusBusySamples))
	r.brokerBusIdleSamples.Set(float64(s.BusIdleSamples))
	r.brokerAvgLatency.Set(float64(s.AvgLatencyMicros))
	r.brokerSpikeDepth.Set(float64(depths.Spikes))
	r.brokerCommandDepth.Set(float64(depths.Commands))
}

// ObserveOTA sets the OTA gauges to the given session state, chunk
// count and byte count.
func (r *Recorder) ObserveOTA(state uint8, chunksReceived int, bytesReceived int) {
	r.otaSessionState.Set(float64(state))
	r.otaChunksReceived.Set(float64(chunksReceived))
	r.otaBytesReceived.Set(float64(bytesReceived))
}

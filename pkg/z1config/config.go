// Package z1config loads the bus/broker/OTA tunables spec.md section
// 4.2 calls "build-configured" from an INI file at runtime, grounded
// on the teacher's od_parser.go use of gopkg.in/ini.v1 to parse .eds
// text into typed fields.
package z1config

import (
	"fmt"

	"gopkg.in/ini.v1"
)

// BusConfig holds the backplane bus tunables. They are loaded and
// returned here only; pkg/bus.Context has no option that takes them and
// keeps its own fixed 100 ms RX recovery rate limit.
type BusConfig struct {
	RecoveryRateLimitMicros uint32
}

// BrokerConfig mirrors pkg/broker.Config field for field (queue depths
// and CSMA timing), so a simulator build can tune them without
// recompiling.
type BrokerConfig struct {
	SpikeDepth          int
	CommandDepth        int
	BackoffSlotMicros   uint32
	BurstLimit          int
	BurstLockoutMicros  uint32
	MaxRetries          int
	StaleSpikeAgeMicros uint32
}

// OTAConfig mirrors the flash layout pkg/ota.Session needs; it does
// not duplicate z1core.AppPartitionBase/Size, which stay fixed
// hardware constants, but lets a build choose the staging area size.
type OTAConfig struct {
	StagingAreaSize uint32
	ChunkSizeBytes  int
}

// Config is the full set of runtime-loadable parameters for one node.
type Config struct {
	NodeID  uint8
	Bus     BusConfig
	Broker  BrokerConfig
	OTA     OTAConfig
}

// Default returns the values spec.md's defaults describe: the
// application build's queue depths (64 spikes / 16 commands), a
// 30us backoff slot, burst limit 10 with a 500us lockout, 3 retries,
// and 5 second spike staleness.
func Default() Config {
	return Config{
		Bus: BusConfig{
			RecoveryRateLimitMicros: 100_000,
		},
		Broker: BrokerConfig{
			SpikeDepth:          64,
			CommandDepth:        16,
			BackoffSlotMicros:   30,
			BurstLimit:          10,
			BurstLockoutMicros:  500,
			MaxRetries:          3,
			StaleSpikeAgeMicros: 5_000_000,
		},
		OTA: OTAConfig{
			StagingAreaSize: 8 * 1024 * 1024,
			ChunkSizeBytes:  512,
		},
	}
}

// BootloaderDefaults returns the bootloader build's variant: no spike
// queue, an 8-deep command queue carrying only OTA chunks.
func BootloaderDefaults() Config {
	c := Default()
	c.Broker.SpikeDepth = 0
	c.Broker.CommandDepth = 8
	return c
}

// Load reads an INI file at path and overlays it onto Default(). Any
// key absent from the file keeps its default value, so a minimal file
// overriding only node_id is valid.
func Load(path string) (Config, error) {
	cfg := Default()

	f, err := ini.Load(path)
	if err != nil {
		return cfg, fmt.Errorf("z1config: loading %s: %w", path, err)
	}

	node := f.Section("node")
	cfg.NodeID = uint8(node.Key("node_id").MustUint(uint(cfg.NodeID)))

	bus := f.Section("bus")
	cfg.Bus.RecoveryRateLimitMicros = uint32(bus.Key("recovery_rate_limit_us").MustUint(uint(cfg.Bus.RecoveryRateLimitMicros)))

	broker := f.Section("broker")
	cfg.Broker.SpikeDepth = broker.Key("spike_depth").MustInt(cfg.Broker.SpikeDepth)
	cfg.Broker.CommandDepth = broker.Key("command_depth").MustInt(cfg.Broker.CommandDepth)
	cfg.Broker.BackoffSlotMicros = uint32(broker.Key("backoff_slot_us").MustUint(uint(cfg.Broker.BackoffSlotMicros)))
	cfg.Broker.BurstLimit = broker.Key("burst_limit").MustInt(cfg.Broker.BurstLimit)
	cfg.Broker.BurstLockoutMicros = uint32(broker.Key("burst_lockout_us").MustUint(uint(cfg.Broker.BurstLockoutMicros)))
	cfg.Broker.MaxRetries = broker.Key("max_retries").MustInt(cfg.Broker.MaxRetries)
	cfg.Broker.StaleSpikeAgeMicros = uint32(broker.Key("stale_spike_age_us").MustUint(uint(cfg.Broker.StaleSpikeAgeMicros)))

	ota := f.Section("ota")
	cfg.OTA.StagingAreaSize = uint32(ota.Key("staging_area_size").MustUint(uint(cfg.OTA.StagingAreaSize)))
	cfg.OTA.ChunkSizeBytes = ota.Key("chunk_size_bytes").MustInt(cfg.OTA.ChunkSizeBytes)

	return cfg, nil
}

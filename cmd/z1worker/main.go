// Command z1worker is the worker node firmware composition root: it
// wires the bus, broker, topology, and OTA packages to one node id and
// runs the core service loop. It takes no subcommands and exposes no
// operator UX; this is a firmware entry point, not a CLI.
package main

import (
	"flag"
	"os"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/texelec/z1core"
	"github.com/texelec/z1core/pkg/broker"
	"github.com/texelec/z1core/pkg/bus"
	"github.com/texelec/z1core/pkg/bus/simbus"
	"github.com/texelec/z1core/pkg/bus/vcanbus"
	"github.com/texelec/z1core/pkg/ota"
	"github.com/texelec/z1core/pkg/ota/simflash"
	"github.com/texelec/z1core/pkg/topology"
	"github.com/texelec/z1core/pkg/z1config"
	"github.com/texelec/z1core/pkg/z1metrics"
)

const (
	INIT = iota
	RUNNING
)

func main() {
	log.SetLevel(log.InfoLevel)

	transport := flag.String("transport", "sim", "bus transport: sim or vcan")
	iface := flag.String("iface", "vcan0", "SocketCAN interface name, used when -transport=vcan")
	nodeID := flag.Uint("id", 1, "node id (0..30)")
	configPath := flag.String("config", "", "optional INI config file, overlaid onto defaults")
	flag.Parse()

	cfg := z1config.Default()
	if *configPath != "" {
		loaded, err := z1config.Load(*configPath)
		if err != nil {
			log.WithError(err).Fatal("loading config")
		}
		cfg = loaded
	}
	if *nodeID != 0 {
		cfg.NodeID = uint8(*nodeID)
	}

	var engine bus.SerialEngine
	var carrier bus.CarrierSense
	var ring bus.DMARing
	var timer z1core.Timer

	switch *transport {
	case "vcan":
		link, err := vcanbus.Dial(*iface, cfg.NodeID, 4096)
		if err != nil {
			log.WithError(err).Fatal("dialing vcan interface")
		}
		engine, carrier, ring = link, vcanbus.NullCarrierSense{}, link
		timer = simbus.Timer{}
	default:
		bp := simbus.NewBackplane()
		e, c, r, t := bp.Attach(cfg.NodeID, 4096)
		engine, carrier, ring, timer = e, c, r, t
	}

	view := topology.NewView(30 * time.Second)
	busCtx := bus.NewContext(cfg.NodeID, engine, carrier, ring, timer, bus.WithTopologyUpdater(view))
	brokerCtx := broker.NewContext(busCtx, timer, broker.Config{
		SpikeDepth:          cfg.Broker.SpikeDepth,
		CommandDepth:        cfg.Broker.CommandDepth,
		BackoffSlotMicros:   cfg.Broker.BackoffSlotMicros,
		BurstLimit:          cfg.Broker.BurstLimit,
		BurstLockoutMicros:  cfg.Broker.BurstLockoutMicros,
		MaxRetries:          cfg.Broker.MaxRetries,
		StaleSpikeAgeMicros: cfg.Broker.StaleSpikeAgeMicros,
	})

	flash := simflash.New(z1core.AppPartitionBase, z1core.AppPartitionSize, 256)
	session := ota.NewSession(flash, int(cfg.OTA.StagingAreaSize))
	otaHandler := ota.NewHandler(session, brokerCtx, func() {
		log.Info("OTA commit complete, rebooting")
		os.Exit(0)
	})

	metrics := z1metrics.NewRecorder("z1_worker")

	log.WithFields(log.Fields{"node_id": cfg.NodeID, "transport": *transport}).Info("worker starting")

	state := INIT
	lastMetricsSample := time.Now()

	for {
		switch state {
		case INIT:
			state = RUNNING

		case RUNNING:
			brokerCtx.Task()

			if frame, ok := brokerCtx.TryReceive(); ok {
				if frame.CRCValid {
					view.MarkSeen(frame.Src, uint32(time.Now().UnixMilli()))
				}
				if !otaHandler.HandleFrame(frame) {
					handleNodeManagement(brokerCtx, frame)
				}
			}

			if time.Since(lastMetricsSample) > time.Second {
				metrics.ObserveBus(busCtx.Stats())
				metrics.ObserveBroker(brokerCtx.Stats(), brokerCtx.QueueDepths())
				metrics.ObserveOTA(uint8(session.State()), 0, session.BytesReceived())
				lastMetricsSample = time.Now()
			}

			time.Sleep(100 * time.Microsecond)
		}
	}
}

// handleNodeManagement answers the node-management opcodes (stream 0)
// the OTA handler doesn't own, mirroring pkg/bootloader/safemode.go's
// handling of the same opcodes while the application core is running
// rather than parked in safe mode.
func handleNodeManagement(sender *broker.Context, f z1core.Frame) {
	if f.Type != z1core.FrameCtrl || !f.CRCValid || len(f.Payload) == 0 {
		return
	}
	switch z1core.AppOpcode(f.Payload[0]) {
	case z1core.OpPing:
		sender.SendCommand([]uint16{uint16(z1core.OpPong)}, f.Src, uint8(z1core.StreamNodeMgmt))
	case z1core.OpReadStatus:
		sender.SendCommand([]uint16{uint16(z1core.OpStatusResponse), 0}, f.Src, uint8(z1core.StreamNodeMgmt))
	}
}

// Command z1controller is the controller node firmware composition
// root (node id 16 by default, spec.md's lowest-priority backoff
// slot): it runs the same bus/broker stack as z1worker but additionally
// owns the cluster-wide topology view, periodically broadcasting a
// TOPOLOGY frame built from PING replies and ordinary traffic.
package main

import (
	"flag"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/texelec/z1core"
	"github.com/texelec/z1core/pkg/broker"
	"github.com/texelec/z1core/pkg/bus"
	"github.com/texelec/z1core/pkg/bus/simbus"
	"github.com/texelec/z1core/pkg/bus/vcanbus"
	"github.com/texelec/z1core/pkg/topology"
	"github.com/texelec/z1core/pkg/z1config"
	"github.com/texelec/z1core/pkg/z1metrics"
)

const pingSweepInterval = 2 * time.Second
const topologyBroadcastInterval = 5 * time.Second

func main() {
	log.SetLevel(log.InfoLevel)

	transport := flag.String("transport", "sim", "bus transport: sim or vcan")
	iface := flag.String("iface", "vcan0", "SocketCAN interface name, used when -transport=vcan")
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
	cfg.NodeID = z1core.ControllerID

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
	metrics := z1metrics.NewRecorder("z1_controller")

	log.WithFields(log.Fields{"node_id": cfg.NodeID, "transport": *transport}).Info("controller starting")

	lastPingSweep := time.Now()
	lastTopologyBroadcast := time.Now()
	lastMetricsSample := time.Now()
	nextPingNode := uint8(0)

	for {
		brokerCtx.Task()

		if frame, ok := brokerCtx.TryReceive(); ok && frame.CRCValid {
			view.MarkSeen(frame.Src, uint32(time.Now().UnixMilli()))
		}

		if time.Since(lastPingSweep) > pingSweepInterval {
			pingOneNode(brokerCtx, nextPingNode)
			nextPingNode = (nextPingNode + 1) % z1core.BroadcastID
			lastPingSweep = time.Now()
		}

		if time.Since(lastTopologyBroadcast) > topologyBroadcastInterval {
			view.Prune(uint32(time.Now().UnixMilli()))
			payload := append([]uint16{uint16(z1core.BusOpcodeTopology)}, view.EncodeTopologyFrame()...)
			brokerCtx.SendCommand(payload, z1core.BroadcastID, uint8(z1core.StreamNodeMgmt))
			lastTopologyBroadcast = time.Now()
		}

		if time.Since(lastMetricsSample) > time.Second {
			metrics.ObserveBus(busCtx.Stats())
			metrics.ObserveBroker(brokerCtx.Stats(), brokerCtx.QueueDepths())
			lastMetricsSample = time.Now()
		}

		time.Sleep(100 * time.Microsecond)
	}
}

// pingOneNode issues a node-management PING at the given destination,
// one at a time round-robin, rather than flooding all 31 slots at
// once.
func pingOneNode(b *broker.Context, dest uint8) {
	if dest == z1core.ControllerID {
		return
	}
	b.SendCommand([]uint16{uint16(z1core.OpPing)}, dest, uint8(z1core.StreamNodeMgmt))
}

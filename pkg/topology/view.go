// Package topology maintains the local view of which nodes are online,
// fed by the bus layer's automatic TOPOLOGY frame handling (the
// pkg/bus.TopologyUpdater hook) and by ordinary traffic the caller
// chooses to mark as liveness evidence. It is grounded on the
// teacher's HBConsumer/HBConsumerNode pattern in heartbeat_consumer.go:
// a fixed-size per-node table of last-seen state plus a monitored/
// active/timeout classification, generalized from CANopen's NMT
// heartbeat protocol to this bus's node id space (0..31).
package topology

import (
	"sync"
	"time"
)

// MaxNodes is the number of slots in the table, one per 5-bit address
// (0..31). Index 31 is BroadcastID, never a real node: MarkSeen ignores
// it, so the largest id MarkSeen records is 30.
const MaxNodes = 32

// wireWordsPerNode is the number of uint16 words the TOPOLOGY control
// frame payload spends on each node's entry. spec.md names the
// TOPOLOGY opcode but leaves its payload encoding unspecified; this
// package defines it: word0 bit15 is the online flag, the low 15 bits
// of word0 are the high bits of last_seen_ms, word1 is the low 16 bits
// of last_seen_ms. 31 bits is enough range for on-device uptime in
// milliseconds (~24 days) before wraparound, which an OnlineCount
// refresh cycle comfortably outruns.
const wireWordsPerNode = 2

// NodeState is one node's entry in the view.
type NodeState struct {
	Online     bool
	LastSeenMs uint32
}

// View is the topology table: online/last-seen per node id, an
// online count, and a last-refresh timestamp.
type View struct {
	mu           sync.Mutex
	nodes        [MaxNodes]NodeState
	lastRefresh  time.Time
	onlineCount  int
	timeoutAfter time.Duration
}

// NewView constructs an empty view. timeoutAfter is how long a node
// may go unseen before Prune marks it offline.
func NewView(timeoutAfter time.Duration) *View {
	return &View{timeoutAfter: timeoutAfter}
}

// MarkSeen records liveness evidence for nodeID at nowMs (e.g. after
// receiving any valid frame from it, not only a TOPOLOGY frame).
func (v *View) MarkSeen(nodeID uint8, nowMs uint32) {
	if int(nodeID) >= MaxNodes-1 { // 31 is BroadcastID, not a node
		return
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	if !v.nodes[nodeID].Online {
		v.onlineCount++
	}
	v.nodes[nodeID] = NodeState{Online: true, LastSeenMs: nowMs}
}

// ApplyTopologyFrame implements pkg/bus.TopologyUpdater: payload is the
// TOPOLOGY control frame's payload with the opcode word already
// stripped by the caller, wireWordsPerNode words per node id in order.
func (v *View) ApplyTopologyFrame(payload []uint16) {
	v.mu.Lock()
	defer v.mu.Unlock()

	count := len(payload) / wireWordsPerNode
	if count > MaxNodes {
		count = MaxNodes
	}
	v.onlineCount = 0
	for id := 0; id < count; id++ {
		w0 := payload[id*wireWordsPerNode]
		w1 := payload[id*wireWordsPerNode+1]
		online := w0&0x8000 != 0
		lastSeen := uint32(w0&0x7FFF)<<16 | uint32(w1)
		v.nodes[id] = NodeState{Online: online, LastSeenMs: lastSeen}
		if online {
			v.onlineCount++
		}
	}
	v.lastRefresh = time.Now()
}

// EncodeTopologyFrame is the inverse of ApplyTopologyFrame, used by
// whichever node (the controller) produces the TOPOLOGY frame the bus
// layer broadcasts.
func (v *View) EncodeTopologyFrame() []uint16 {
	v.mu.Lock()
	defer v.mu.Unlock()

	payload := make([]uint16, MaxNodes*wireWordsPerNode)
	for id, n := range v.nodes {
		w0 := uint16((n.LastSeenMs >> 16) & 0x7FFF)
		if n.Online {
			w0 |= 0x8000
		}
		payload[id*wireWordsPerNode] = w0
		payload[id*wireWordsPerNode+1] = uint16(n.LastSeenMs)
	}
	return payload
}

// Snapshot returns a copy of one node's state.
func (v *View) Snapshot(nodeID uint8) NodeState {
	v.mu.Lock()
	defer v.mu.Unlock()
	if int(nodeID) >= MaxNodes {
		return NodeState{}
	}
	return v.nodes[nodeID]
}

// OnlineCount returns how many nodes are currently marked online.
func (v *View) OnlineCount() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.onlineCount
}

// LastRefresh returns when ApplyTopologyFrame last ran.
func (v *View) LastRefresh() time.Time {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.lastRefresh
}

// Prune marks any node not seen within timeoutAfter as offline,
// mirroring the teacher's HB_TIMEOUT transition.
func (v *View) Prune(nowMs uint32) {
	v.mu.Lock()
	defer v.mu.Unlock()
	timeoutMs := uint32(v.timeoutAfter.Milliseconds())
	for id := range v.nodes {
		if !v.nodes[id].Online {
			continue
		}
		if nowMs-v.nodes[id].LastSeenMs > timeoutMs {
			v.nodes[id].Online = false
			v.onlineCount--
		}
	}
}

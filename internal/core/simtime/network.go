package simtime

import (
	"sync"

	"simkernel/internal/core/ecs"
)

// MasterNodeID is the conventional node id of the time master.
const MasterNodeID int32 = 0

// Network is the in-process message fabric shared by master and slave
// controllers. It stands in for whatever transport carries the wire
// messages in a distributed deployment; the controllers only ever see
// the Endpoint surface.
type Network struct {
	mu    sync.Mutex
	nodes map[int32]*Endpoint
}

// NewNetwork creates an empty fabric.
func NewNetwork() *Network {
	return &Network{nodes: make(map[int32]*Endpoint)}
}

// Join registers a node and returns its endpoint. Joining an id twice
// returns the existing endpoint.
func (n *Network) Join(nodeID int32) *Endpoint {
	n.mu.Lock()
	defer n.mu.Unlock()
	if ep, ok := n.nodes[nodeID]; ok {
		return ep
	}
	ep := &Endpoint{net: n, nodeID: nodeID}
	n.nodes[nodeID] = ep
	return ep
}

// NodeIDs returns the joined node ids.
func (n *Network) NodeIDs() []int32 {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]int32, 0, len(n.nodes))
	for id := range n.nodes {
		out = append(out, id)
	}
	return out
}

func (n *Network) peersOf(sender int32) []*Endpoint {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]*Endpoint, 0, len(n.nodes)-1)
	for id, ep := range n.nodes {
		if id != sender {
			out = append(out, ep)
		}
	}
	return out
}

func (n *Network) endpoint(nodeID int32) (*Endpoint, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	ep, ok := n.nodes[nodeID]
	if !ok {
		return nil, ecs.Errorf(ecs.CodePeerUnreachable, "node %d is not joined to the network", nodeID)
	}
	return ep, nil
}

// Endpoint is one node's mailbox on the fabric. Sends enqueue into the
// peers' inboxes; drains empty the local inbox. All methods are safe
// for concurrent use.
type Endpoint struct {
	net    *Network
	nodeID int32

	mu       sync.Mutex
	pulses   []TimePulse
	orders   []FrameOrder
	acks     []FrameAck
	switches []SwitchTimeMode
}

// NodeID returns the endpoint's node id.
func (e *Endpoint) NodeID() int32 {
	return e.nodeID
}

// BroadcastPulse delivers a pulse to every other node.
func (e *Endpoint) BroadcastPulse(p TimePulse) {
	for _, peer := range e.net.peersOf(e.nodeID) {
		peer.mu.Lock()
		peer.pulses = append(peer.pulses, p)
		peer.mu.Unlock()
	}
}

// BroadcastOrder delivers a frame order to every other node.
func (e *Endpoint) BroadcastOrder(o FrameOrder) {
	for _, peer := range e.net.peersOf(e.nodeID) {
		peer.mu.Lock()
		peer.orders = append(peer.orders, o)
		peer.mu.Unlock()
	}
}

// BroadcastSwitch delivers a mode-switch message to every other node.
func (e *Endpoint) BroadcastSwitch(s SwitchTimeMode) {
	for _, peer := range e.net.peersOf(e.nodeID) {
		peer.mu.Lock()
		peer.switches = append(peer.switches, s)
		peer.mu.Unlock()
	}
}

// SendAck delivers an ack to one node, normally the master.
func (e *Endpoint) SendAck(to int32, a FrameAck) error {
	peer, err := e.net.endpoint(to)
	if err != nil {
		return err
	}
	peer.mu.Lock()
	peer.acks = append(peer.acks, a)
	peer.mu.Unlock()
	return nil
}

// DrainPulses empties and returns the pulse inbox.
func (e *Endpoint) DrainPulses() []TimePulse {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := e.pulses
	e.pulses = nil
	return out
}

// DrainOrders empties and returns the order inbox.
func (e *Endpoint) DrainOrders() []FrameOrder {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := e.orders
	e.orders = nil
	return out
}

// DrainAcks empties and returns the ack inbox.
func (e *Endpoint) DrainAcks() []FrameAck {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := e.acks
	e.acks = nil
	return out
}

// DrainSwitches empties and returns the mode-switch inbox.
func (e *Endpoint) DrainSwitches() []SwitchTimeMode {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := e.switches
	e.switches = nil
	return out
}

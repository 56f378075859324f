// Package transport defines the narrow capability interfaces the Protocol
// Engine uses to reach the outside world: the APS datagram transport and
// the node directory. Both are external collaborators per spec.md §1; this
// package only carries their shapes plus a loopback fake for tests and for
// cmd/otauserver's default no-radio configuration.
package transport

import "context"

// AddrMode distinguishes unicast from broadcast APS sends.
type AddrMode uint8

const (
	AddrModeShort AddrMode = iota
	AddrModeBroadcast
)

// SendRequest is one outbound APS datagram.
type SendRequest struct {
	DstAddrMode AddrMode
	DstAddr     uint16
	DstEndpoint uint8
	SrcEndpoint uint8
	ProfileID   uint16
	ClusterID   uint16
	Radius      uint8
	TxAckReq    bool
	Asdu        []byte
}

// Indication is an inbound APS datagram delivered to the engine.
type Indication struct {
	SrcExtAddr uint64
	SrcAddr    uint16
	SrcEP      uint8
	ProfileID  uint16
	ClusterID  uint16
	Asdu       []byte
}

// Confirm reports the delivery outcome of a previously sent request.
type Confirm struct {
	DstAddr   uint16
	RequestID int32
	Status    uint8
}

// Transport is the APS adapter the core is driven by and sends through.
// SendAPS must be non-blocking: it enqueues and returns a request id, or an
// error if the transport itself rejected the send outright (queue full,
// link down). It never blocks waiting for a confirm.
type Transport interface {
	SendAPS(ctx context.Context, req SendRequest) (requestID int32, err error)
}

// EndpointDescriptor is what the node directory knows about a node.
type EndpointDescriptor struct {
	NwkAddr      uint16
	Endpoint     uint8
	ProfileID    uint16
	RxOnWhenIdle bool
}

// NodeDirectory resolves a node's current network address/endpoint. Not
// owned by the core; consumed read-only.
type NodeDirectory interface {
	ResolveEndpoint(extAddr uint64) (EndpointDescriptor, bool)
}

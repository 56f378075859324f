// Package client holds the table of known OTA clients and their per-client
// protocol state, keyed by 64-bit extended address. Grounded on
// pkg/device/network_group.go's ConfiguredNetworkGroup: a struct mutated by
// one lifecycle driver (there, Activate/Deactivate; here, the protocol
// Engine) but safely queryable from elsewhere via a guarding mutex.
package client

import (
	"sync"
	"time"

	"github.com/anthropics/purple-otau/pkg/catalog"
)

// NoRequest marks Pending.RequestID as having no outstanding APS request.
const NoRequest int32 = -1

// BlockCursor tracks progress through a transfer.
type BlockCursor struct {
	Offset          uint32
	PageStart       uint32
	PageSize        uint16
	PageBytesDone   uint32
	MaxDataSize     uint8
	ResponseSpacing uint16

	// LastSentDataSize is the dataSize of the most recently sent, still
	// unconfirmed, block response — the APS confirm callback advances
	// Offset/PageBytesDone by this amount.
	LastSentDataSize uint8
}

// Mono is a monotonic-clock reading (see pkg/pacer.MonotonicClock),
// comparable only to another Mono value from the same process. Client
// timers are logical — derived from these readings on each pacer tick,
// never OS timers — per spec.md §5.
type Mono = time.Duration

// PendingRequest is the single in-flight APS request slot for a client.
// Spec.md §3/§9 is explicit that only one slot exists per client; there is
// deliberately no array here (see DESIGN.md's Open Question decision on
// MAX_ACTIVE_BLOCK_REQUESTS).
type PendingRequest struct {
	RequestID int32
	SentAt    Mono
}

// UpgradeEndEcho records the final UpgradeEndRequest fields for diagnostics.
type UpgradeEndEcho struct {
	Status       uint8
	Manufacturer uint16
	ImageType    uint16
	FileVersion  uint32
}

// Client is one row of the registry.
type Client struct {
	ExtAddr uint64

	NwkAddr      uint16
	Endpoint     uint8
	ProfileID    uint16
	RxOnWhenIdle bool

	NextSequence uint8

	ReportedManufacturer uint16
	ReportedImageType    uint16
	ReportedSoftwareVer  uint32
	ReportedHardwareVer  uint16

	State State

	Selected     *catalog.Entry
	PermitUpdate bool

	Cursor  BlockCursor
	Pending PendingRequest

	PageRetry  int
	BlockRetry int
	NoAckCount int

	StartedAt      Mono
	LastActivity   Mono
	LastResponseAt Mono

	LastEnd UpgradeEndEcho
}

func newClient(addr uint64, now Mono) *Client {
	return &Client{
		ExtAddr:      addr,
		State:        Idle,
		Pending:      PendingRequest{RequestID: NoRequest},
		StartedAt:    now,
		LastActivity: now,
	}
}

// Registry is the table of known clients. Access from the Engine (the
// single mutator, per spec.md §5) does not need the lock for correctness;
// it exists so cmd/otauctl and pkg/store can safely read a consistent
// snapshot from another goroutine.
type Registry struct {
	mu      sync.RWMutex
	clients map[uint64]*Client
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{clients: make(map[uint64]*Client)}
}

// GetOrCreate returns the client record for addr, creating one in Idle
// state (stamped with now) if this is the first observed message from it.
func (r *Registry) GetOrCreate(addr uint64, now Mono) *Client {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.clients[addr]
	if !ok {
		c = newClient(addr, now)
		r.clients[addr] = c
	}
	return c
}

// Get returns the client record for addr, if known.
func (r *Registry) Get(addr uint64) (*Client, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.clients[addr]
	return c, ok
}

// Delete removes a client record (used by the cleanup sweep).
func (r *Registry) Delete(addr uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.clients, addr)
}

// All returns a snapshot slice of all known clients.
func (r *Registry) All() []*Client {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Client, 0, len(r.clients))
	for _, c := range r.clients {
		out = append(out, c)
	}
	return out
}

// CleanupDormant removes any client whose LastActivity is older than
// olderThan (spec.md §4.7/§5: CLEANUP_DELAY, 4h). Returns the removed
// addresses.
func (r *Registry) CleanupDormant(olderThan time.Duration, now Mono) []uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	var removed []uint64
	for addr, c := range r.clients {
		if now-c.LastActivity > olderThan {
			removed = append(removed, addr)
			delete(r.clients, addr)
		}
	}
	return removed
}

// Len returns the number of known clients.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.clients)
}

package pacer

import (
	"sync"
	"time"
)

// DefaultMaxActive is OTAU_MAX_ACTIVE from spec.md §4.3.
const DefaultMaxActive = 4

// StaleAfter is how long an activity-table entry survives without a
// refresh before MarkActivity's own sweep (and the eviction ticker) drop
// it.
const StaleAfter = 10 * time.Second

// EvictionTick is how often the self-stopping eviction ticker runs.
const EvictionTick = 3 * time.Second

// ActivityGate bounds how many clients may have an active transfer at
// once and evicts stale entries so a dormant client doesn't permanently
// occupy a slot. Grounded on pkg/infer/async.go's AsyncSession: a
// mutex-guarded map plus a bounded-concurrency admission check.
type ActivityGate struct {
	mu           sync.Mutex
	lastActivity map[uint64]time.Time
	maxActive    int
	staleAfter   time.Duration
	clock        func() time.Time

	tickerRunning bool
	stop          chan struct{}
}

// NewActivityGate returns a gate bounding admission to maxActive
// simultaneous clients, evicting entries idle past staleAfter.
func NewActivityGate(maxActive int, staleAfter time.Duration) *ActivityGate {
	return &ActivityGate{
		lastActivity: make(map[uint64]time.Time),
		maxActive:    maxActive,
		staleAfter:   staleAfter,
		clock:        time.Now,
	}
}

// MarkActivity drops stale entries, inserts or refreshes addr's entry and,
// if no eviction ticker is currently running, starts one (it stops itself
// once the table empties).
func (g *ActivityGate) MarkActivity(addr uint64) {
	g.mu.Lock()
	now := g.clock()
	g.evictStaleLocked(now)
	g.lastActivity[addr] = now
	needStart := !g.tickerRunning
	if needStart {
		g.tickerRunning = true
		g.stop = make(chan struct{})
	}
	stop := g.stop
	g.mu.Unlock()

	if needStart {
		go g.runEvictionLoop(stop)
	}
}

// MayStart reports whether addr may begin or continue an active transfer:
// true if it already holds a slot, or if the table has room for a new
// entry.
func (g *ActivityGate) MayStart(addr uint64) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.evictStaleLocked(g.clock())
	if _, ok := g.lastActivity[addr]; ok {
		return true
	}
	return len(g.lastActivity) < g.maxActive
}

// Active returns the number of addresses currently holding a slot.
func (g *ActivityGate) Active() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.evictStaleLocked(g.clock())
	return len(g.lastActivity)
}

func (g *ActivityGate) evictStaleLocked(now time.Time) {
	for addr, last := range g.lastActivity {
		if now.Sub(last) > g.staleAfter {
			delete(g.lastActivity, addr)
		}
	}
}

func (g *ActivityGate) runEvictionLoop(stop chan struct{}) {
	ticker := time.NewTicker(EvictionTick)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			g.mu.Lock()
			g.evictStaleLocked(g.clock())
			empty := len(g.lastActivity) == 0
			if empty {
				g.tickerRunning = false
			}
			g.mu.Unlock()
			if empty {
				return
			}
		}
	}
}

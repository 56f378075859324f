// Command otauserver runs the OTAU daemon: it scans an image directory
// into the Image Catalog, wires the Protocol Engine/Pacer/Concurrency Gate
// together, and drives the single-goroutine event loop spec.md §5
// requires. With no radio binding configured it runs against
// transport.LoopbackTransport, useful for bench-testing a catalog and
// config before wiring a real ZigBee coordinator's APS layer.
//
// Grounded on cmd/hailort/main.go's flat command dispatch for the top-level
// shape, generalized into a long-running daemon loop.
package main

import (
	"fmt"
	"log"
	"os"
	"time"

	"github.com/anthropics/purple-otau/internal/config"
	"github.com/anthropics/purple-otau/pkg/catalog"
	"github.com/anthropics/purple-otau/pkg/client"
	"github.com/anthropics/purple-otau/pkg/pacer"
	"github.com/anthropics/purple-otau/pkg/protocol"
	"github.com/anthropics/purple-otau/pkg/store"
	"github.com/anthropics/purple-otau/pkg/transport"
)

// noRadioDirectory is the NodeDirectory used when no real coordinator
// binding is wired in: every lookup misses, and the Engine simply leaves
// a client's ProfileID/RxOnWhenIdle at their zero values.
type noRadioDirectory struct{}

func (noRadioDirectory) ResolveEndpoint(uint64) (transport.EndpointDescriptor, bool) {
	return transport.EndpointDescriptor{}, false
}

const (
	cleanupInterval     = time.Minute
	persistInterval     = 30 * time.Second
	catalogScanInterval = 5 * time.Minute
)

func main() {
	cfg := config.Load()

	cat := catalog.New()
	if _, err := cat.ScanDir(cfg.ImageDir); err != nil {
		log.Printf("otauserver: initial catalog scan of %s: %v", cfg.ImageDir, err)
	}
	log.Printf("otauserver: indexed %d image(s) from %s", len(cat.Entries()), cfg.ImageDir)

	db, err := store.Open(cfg.StoreDB)
	if err != nil {
		fmt.Fprintf(os.Stderr, "otauserver: %v\n", err)
		os.Exit(1)
	}
	defer db.Close()

	reg := client.NewRegistry()
	gate := pacer.NewActivityGate(cfg.MaxActive, pacer.StaleAfter)
	tr := transport.NewLoopbackTransport()
	engine := protocol.NewEngine(reg, cat, gate, tr, noRadioDirectory{}, cfg.ToProtocolConfig())
	engine.Logger = log.Default()
	p := pacer.NewPacer(reg, engine)

	run(engine, p, cat, db, cfg)
}

// run is the single-goroutine event loop per spec.md §5: the pacer tick,
// the cleanup sweep, the persistence snapshot, and the periodic catalog
// rescan all interleave on one ticker-driven select, so none of them ever
// races the Engine's OnIndication/OnConfirm handlers. A real coordinator
// binding would feed its indication/confirm channels into this same
// select alongside these tickers.
func run(engine *protocol.Engine, p *pacer.Pacer, cat *catalog.Catalog, db *store.Store, cfg *config.Config) {
	pacerTick := time.NewTicker(pacer.TickInterval)
	defer pacerTick.Stop()
	cleanupTick := time.NewTicker(cleanupInterval)
	defer cleanupTick.Stop()
	persistTick := time.NewTicker(persistInterval)
	defer persistTick.Stop()
	scanTick := time.NewTicker(catalogScanInterval)
	defer scanTick.Stop()

	clock := pacer.MonotonicClock{}
	for {
		select {
		case <-pacerTick.C:
			p.Tick()
		case <-cleanupTick.C:
			removed := engine.Cleanup(clock.Now())
			if len(removed) > 0 {
				log.Printf("otauserver: cleaned up %d dormant client(s)", len(removed))
			}
		case <-persistTick.C:
			if err := db.SaveAll(engine.Registry, time.Now()); err != nil {
				log.Printf("otauserver: persist clients: %v", err)
			}
		case <-scanTick.C:
			if _, err := cat.ScanDir(cfg.ImageDir); err != nil {
				log.Printf("otauserver: catalog rescan: %v", err)
				continue
			}
			if err := db.SaveCatalogIndex(cat.Entries()); err != nil {
				log.Printf("otauserver: persist catalog index: %v", err)
			}
		}
	}
}

// Command otauctl is the operator CLI for an otauserver instance: list
// upgrade candidates, inspect known clients, force an image-notify nudge,
// and (re)scan an image directory with a progress bar.
//
// Grounded on cmd/hailort/main.go's flat os.Args dispatch.
package main

import (
	"fmt"
	"os"
	"time"

	"github.com/vbauerster/mpb/v8"
	"github.com/vbauerster/mpb/v8/decor"

	"github.com/anthropics/purple-otau/pkg/catalog"
	"github.com/anthropics/purple-otau/pkg/client"
	"github.com/anthropics/purple-otau/pkg/pacer"
	"github.com/anthropics/purple-otau/pkg/protocol"
	"github.com/anthropics/purple-otau/pkg/store"
	"github.com/anthropics/purple-otau/pkg/transport"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		return
	}

	cmd := os.Args[1]
	args := os.Args[2:]

	switch cmd {
	case "scan":
		if len(args) < 1 {
			fmt.Println("Usage: otauctl scan <image-dir>")
			os.Exit(1)
		}
		scanImages(args[0])
	case "list":
		if len(args) < 1 {
			fmt.Println("Usage: otauctl list <store-db>")
			os.Exit(1)
		}
		listCatalog(args[0])
	case "clients":
		if len(args) < 1 {
			fmt.Println("Usage: otauctl clients <store-db>")
			os.Exit(1)
		}
		listClients(args[0])
	case "notify":
		if len(args) < 2 {
			fmt.Println("Usage: otauctl notify <store-db> <ext-addr-hex>")
			os.Exit(1)
		}
		forceNotify(args[0], args[1])
	case "help", "--help", "-h":
		printUsage()
	default:
		fmt.Printf("Unknown command: %s\n", cmd)
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println("OTAU operator CLI")
	fmt.Println()
	fmt.Println("Usage: otauctl <command> [options]")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  scan <dir>             Scan a directory and index upgrade candidates")
	fmt.Println("  list <db>              List the persisted catalog index")
	fmt.Println("  clients <db>           List known clients and their state")
	fmt.Println("  notify <db> <addr>     Force an unsolicited ImageNotify to a client")
	fmt.Println("  help                   Show this help")
}

// scanImages walks dir and reports a progress bar over the files found,
// then indexes each one, mirroring the teacher's PDF-ingest progress-bar
// shape (one bar, one decorator pair, AddBar before the work starts).
func scanImages(dir string) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		fmt.Printf("Error reading %s: %v\n", dir, err)
		os.Exit(1)
	}

	p := mpb.New(mpb.WithWidth(80))
	bar := p.AddBar(int64(len(entries)),
		mpb.PrependDecorators(
			decor.Name("Scanning images: "),
			decor.Percentage(decor.WCSyncSpace),
		),
		mpb.AppendDecorators(
			decor.OnComplete(decor.AverageETA(decor.ET_STYLE_GO), "done!"),
		),
	)

	cat := catalog.New()
	indexed := 0
	for _, ent := range entries {
		if !ent.IsDir() {
			data, readErr := os.ReadFile(dirJoin(dir, ent.Name()))
			if readErr == nil {
				if _, idxErr := cat.IndexBytes(ent.Name(), data); idxErr == nil {
					indexed++
				}
			}
		}
		bar.Increment()
		time.Sleep(time.Millisecond)
	}
	p.Wait()

	fmt.Printf("Indexed %d of %d file(s) in %s\n", indexed, len(entries), dir)
	for _, e := range cat.Entries() {
		fmt.Printf("  %s  (%s)\n", catalog.CanonicalName(e.Manufacturer, e.ImageType, e.FileVersion), e.Path)
	}
}

func dirJoin(dir, name string) string {
	if dir == "" || dir[len(dir)-1] == '/' {
		return dir + name
	}
	return dir + "/" + name
}

func listCatalog(dbPath string) {
	db, err := store.Open(dbPath)
	if err != nil {
		fmt.Printf("Error opening %s: %v\n", dbPath, err)
		os.Exit(1)
	}
	defer db.Close()

	recs, err := db.LoadCatalogIndex()
	if err != nil {
		fmt.Printf("Error loading catalog index: %v\n", err)
		os.Exit(1)
	}
	if len(recs) == 0 {
		fmt.Println("No indexed images.")
		return
	}
	fmt.Printf("%d indexed image(s):\n", len(recs))
	for _, r := range recs {
		fmt.Printf("  %s  %s\n", catalog.CanonicalName(r.Manufacturer, r.ImageType, r.FileVersion), r.Path)
	}
}

func listClients(dbPath string) {
	db, err := store.Open(dbPath)
	if err != nil {
		fmt.Printf("Error opening %s: %v\n", dbPath, err)
		os.Exit(1)
	}
	defer db.Close()

	snaps, err := db.LoadClients()
	if err != nil {
		fmt.Printf("Error loading clients: %v\n", err)
		os.Exit(1)
	}
	if len(snaps) == 0 {
		fmt.Println("No known clients.")
		return
	}
	fmt.Printf("%d known client(s):\n", len(snaps))
	for _, s := range snaps {
		fmt.Printf("  %016X  state=%s  mfc=0x%04X  imageType=0x%04X  swVer=%d  savedAt=%s\n",
			s.ExtAddr, client.State(s.State), s.ReportedManufacturer, s.ReportedImageType, s.ReportedSoftwareVer, s.SavedAt.Format(time.RFC3339))
	}
}

// forceNotify sends an unsolicited ImageNotify for the given extended
// address over a loopback transport (no live coordinator binding from the
// CLI) so the operator can confirm framing without otauserver running. The
// store is opened but the address is not looked up in it.
func forceNotify(dbPath, addrHex string) {
	var addr uint64
	if _, err := fmt.Sscanf(addrHex, "%X", &addr); err != nil {
		fmt.Printf("Error parsing address %q: %v\n", addrHex, err)
		os.Exit(1)
	}

	db, err := store.Open(dbPath)
	if err != nil {
		fmt.Printf("Error opening %s: %v\n", dbPath, err)
		os.Exit(1)
	}
	defer db.Close()

	reg := client.NewRegistry()
	c := reg.GetOrCreate(addr, 0)

	gate := pacer.NewActivityGate(pacer.DefaultMaxActive, pacer.StaleAfter)
	tr := transport.NewLoopbackTransport()
	engine := protocol.NewEngine(reg, catalog.New(), gate, tr, stubDirectory{}, protocol.DefaultConfig())
	engine.UnicastImageNotify(c)

	fmt.Printf("Sent ImageNotify to %016X (%d frame(s) in the loopback log)\n", addr, len(tr.Sent()))
}

type stubDirectory struct{}

func (stubDirectory) ResolveEndpoint(uint64) (transport.EndpointDescriptor, bool) {
	return transport.EndpointDescriptor{}, false
}

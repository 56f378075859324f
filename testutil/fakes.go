// Package testutil holds fixtures shared by more than one package's test
// suite: a sample OTA image builder and a fake NodeDirectory with
// failure-injection switches, in the same mutex-guarded-fake shape as the
// teacher's FakeDevice.
package testutil

import (
	"sync"

	"github.com/anthropics/purple-otau/pkg/image"
	"github.com/anthropics/purple-otau/pkg/transport"
)

// SampleImage builds a well-formed OTA container for the given identity
// wrapping payload as its upgrade-image sub-element, for tests that need a
// catalog-indexable image without hand-rolling the container each time.
func SampleImage(mfc, imageType uint16, fileVersion uint32, payload []byte) *image.Image {
	return image.NewBuilder().
		Manufacturer(mfc).
		ImageType(imageType).
		FileVersion(fileVersion).
		HeaderString("testutil fixture").
		UpgradeImagePayload(payload).
		Build()
}

// FakeNodeDirectory is a mutex-guarded transport.NodeDirectory with a
// failure-injection switch, mirroring FakeDevice's
// open/fail-on-open/mutex shape.
type FakeNodeDirectory struct {
	mu       sync.Mutex
	desc     transport.EndpointDescriptor
	ok       bool
	failNext bool
	lookups  int
}

// NewFakeNodeDirectory returns a directory that resolves every address to
// desc until SetFail is used to flip it to a miss.
func NewFakeNodeDirectory(desc transport.EndpointDescriptor) *FakeNodeDirectory {
	return &FakeNodeDirectory{desc: desc, ok: true}
}

// ResolveEndpoint implements transport.NodeDirectory.
func (d *FakeNodeDirectory) ResolveEndpoint(addr uint64) (transport.EndpointDescriptor, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.lookups++
	if d.failNext {
		return transport.EndpointDescriptor{}, false
	}
	return d.desc, d.ok
}

// SetFail flips whether future lookups miss, for tests that need a
// directory to start resolving and then go dark mid-transfer.
func (d *FakeNodeDirectory) SetFail(fail bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.failNext = fail
}

// Lookups reports how many times ResolveEndpoint has been called.
func (d *FakeNodeDirectory) Lookups() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.lookups
}

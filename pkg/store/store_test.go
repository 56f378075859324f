//go:build unit

package store

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anthropics/purple-otau/pkg/catalog"
	"github.com/anthropics/purple-otau/pkg/client"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "otau.db")
	s, err := Open(path)
	require.NoError(t, err, "Open")
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSaveAndLoadClients(t *testing.T) {
	s := openTestStore(t)
	reg := client.NewRegistry()
	c := reg.GetOrCreate(0xAABBCCDD, 0)
	c.ReportedManufacturer = 0x1001
	c.ReportedImageType = 0x02
	c.ReportedSoftwareVer = 3
	c.State = client.WaitConfirm

	require.NoError(t, s.SaveAll(reg, time.Unix(100, 0)))

	snaps, err := s.LoadClients()
	require.NoError(t, err)
	require.Len(t, snaps, 1)
	assert.Equal(t, uint64(0xAABBCCDD), snaps[0].ExtAddr)
	assert.Equal(t, uint32(3), snaps[0].ReportedSoftwareVer)
}

func TestSaveAndLoadCatalogIndex(t *testing.T) {
	s := openTestStore(t)
	entries := []catalog.Entry{
		{Manufacturer: 0x1001, ImageType: 0x02, FileVersion: 5, Path: "a.zigbee"},
		{Manufacturer: 0x1002, ImageType: 0x03, FileVersion: 7, Path: "b.zigbee"},
	}
	require.NoError(t, s.SaveCatalogIndex(entries))

	recs, err := s.LoadCatalogIndex()
	require.NoError(t, err)
	assert.Len(t, recs, 2)

	// Re-saving with fewer entries must drop the stale one.
	require.NoError(t, s.SaveCatalogIndex(entries[:1]))
	recs, err = s.LoadCatalogIndex()
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "a.zigbee", recs[0].Path)
}

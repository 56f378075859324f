// Package store persists Client Registry activity snapshots and the
// catalog's short-name index across otauserver restarts, via bbolt.
// Grounded on guiperry-HASHER/pipeline/1_DATA_MINER/internal/checkpoint's
// Checkpointer: a bucket-per-concern database opened once at startup,
// mutated through db.Update/db.View closures.
package store

import (
	"encoding/json"
	"fmt"
	"time"

	"go.etcd.io/bbolt"

	"github.com/anthropics/purple-otau/pkg/catalog"
	"github.com/anthropics/purple-otau/pkg/client"
)

var (
	bucketClients = []byte("Clients")
	bucketCatalog = []byte("CatalogIndex")
)

// ClientSnapshot is the persisted subset of client.Client: state, reported
// identity and last UpgradeEnd status, stamped with the save time. It holds
// no transfer cursor, retry counters or activity timestamps, and nothing in
// this module loads it back into a Registry; cmd/otauctl reads it for
// display.
type ClientSnapshot struct {
	ExtAddr              uint64    `json:"ext_addr"`
	State                int       `json:"state"`
	ReportedManufacturer uint16    `json:"reported_manufacturer"`
	ReportedImageType    uint16    `json:"reported_image_type"`
	ReportedSoftwareVer  uint32    `json:"reported_software_ver"`
	LastUpgradeStatus    uint8     `json:"last_upgrade_status"`
	SavedAt              time.Time `json:"saved_at"`
}

// CatalogEntryRecord is the persisted short-name -> path mapping.
type CatalogEntryRecord struct {
	Manufacturer uint16 `json:"manufacturer"`
	ImageType    uint16 `json:"image_type"`
	FileVersion  uint32 `json:"file_version"`
	Path         string `json:"path"`
}

// Store wraps a bbolt database holding both buckets.
type Store struct {
	db *bbolt.DB
}

// Open opens (creating if absent) the database at path and ensures both
// buckets exist.
func Open(path string) (*Store, error) {
	db, err := bbolt.Open(path, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", path, err)
	}
	err = db.Update(func(tx *bbolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(bucketClients); err != nil {
			return err
		}
		_, err := tx.CreateBucketIfNotExists(bucketCatalog)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("store: create buckets: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// SaveClient persists one client's snapshot, keyed by its extended
// address (big-endian hex, so lexicographic iteration matches numeric
// order for cmd/otauctl).
func (s *Store) SaveClient(c *client.Client, at time.Time) error {
	snap := ClientSnapshot{
		ExtAddr:              c.ExtAddr,
		State:                int(c.State),
		ReportedManufacturer: c.ReportedManufacturer,
		ReportedImageType:    c.ReportedImageType,
		ReportedSoftwareVer:  c.ReportedSoftwareVer,
		LastUpgradeStatus:    c.LastEnd.Status,
		SavedAt:              at,
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		data, err := json.Marshal(snap)
		if err != nil {
			return fmt.Errorf("store: marshal client snapshot: %w", err)
		}
		return tx.Bucket(bucketClients).Put(extAddrKey(c.ExtAddr), data)
	})
}

// SaveAll persists every client currently in reg. Intended to run
// periodically from cmd/otauserver's event loop, not on every mutation.
func (s *Store) SaveAll(reg *client.Registry, at time.Time) error {
	for _, c := range reg.All() {
		if err := s.SaveClient(c, at); err != nil {
			return err
		}
	}
	return nil
}

// LoadClients returns every persisted client snapshot.
func (s *Store) LoadClients() ([]ClientSnapshot, error) {
	var out []ClientSnapshot
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketClients).ForEach(func(k, v []byte) error {
			var snap ClientSnapshot
			if err := json.Unmarshal(v, &snap); err != nil {
				return fmt.Errorf("store: unmarshal client snapshot %x: %w", k, err)
			}
			out = append(out, snap)
			return nil
		})
	})
	return out, err
}

// SaveCatalogIndex replaces the persisted short-name index wholesale with
// the catalog's current entries.
func (s *Store) SaveCatalogIndex(entries []catalog.Entry) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketCatalog)
		// Clear existing keys before rewriting, since an entry may have
		// been removed from the on-disk directory since the last save.
		c := b.Cursor()
		for k, _ := c.First(); k != nil; k, _ = c.Next() {
			if err := b.Delete(k); err != nil {
				return err
			}
		}
		for _, e := range entries {
			rec := CatalogEntryRecord{Manufacturer: e.Manufacturer, ImageType: e.ImageType, FileVersion: e.FileVersion, Path: e.Path}
			data, err := json.Marshal(rec)
			if err != nil {
				return fmt.Errorf("store: marshal catalog entry: %w", err)
			}
			if err := b.Put([]byte(catalog.CanonicalName(e.Manufacturer, e.ImageType, e.FileVersion)), data); err != nil {
				return err
			}
		}
		return nil
	})
}

// LoadCatalogIndex returns the persisted short-name index.
func (s *Store) LoadCatalogIndex() ([]CatalogEntryRecord, error) {
	var out []CatalogEntryRecord
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketCatalog).ForEach(func(k, v []byte) error {
			var rec CatalogEntryRecord
			if err := json.Unmarshal(v, &rec); err != nil {
				return fmt.Errorf("store: unmarshal catalog entry %s: %w", k, err)
			}
			out = append(out, rec)
			return nil
		})
	})
	return out, err
}

func extAddrKey(addr uint64) []byte {
	return []byte(fmt.Sprintf("%016X", addr))
}

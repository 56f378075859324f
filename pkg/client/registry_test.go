//go:build unit

package client

import (
	"testing"
	"time"
)

func TestGetOrCreateIsIdempotent(t *testing.T) {
	r := NewRegistry()
	a := r.GetOrCreate(1, 0)
	b := r.GetOrCreate(1, 100)
	if a != b {
		t.Error("expected GetOrCreate to return the same record for a known address")
	}
	if a.State != Idle {
		t.Errorf("State = %v, expected Idle", a.State)
	}
	if a.Pending.RequestID != NoRequest {
		t.Errorf("Pending.RequestID = %d, expected NoRequest", a.Pending.RequestID)
	}
}

func TestGetMissing(t *testing.T) {
	r := NewRegistry()
	if _, ok := r.Get(42); ok {
		t.Error("expected no record for unknown address")
	}
}

func TestCleanupDormant(t *testing.T) {
	r := NewRegistry()
	c := r.GetOrCreate(7, 0)
	c.LastActivity = 0
	r.GetOrCreate(8, 4*time.Hour+time.Second) // fresh relative to "now" below

	removed := r.CleanupDormant(4*time.Hour, 5*time.Hour)
	if len(removed) != 1 || removed[0] != 7 {
		t.Errorf("removed = %v, expected [7]", removed)
	}
	if r.Len() != 1 {
		t.Errorf("Len() = %d, expected 1", r.Len())
	}
}

func TestAllSnapshot(t *testing.T) {
	r := NewRegistry()
	r.GetOrCreate(1, 0)
	r.GetOrCreate(2, 0)
	if len(r.All()) != 2 {
		t.Errorf("All() len = %d, expected 2", len(r.All()))
	}
}

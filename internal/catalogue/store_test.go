package catalogue

import (
	"testing"
	"time"
)

func TestInsertOrUpdate_FieldMergeAndAdditiveProviders(t *testing.T) {
	s := New()

	s.InsertOrUpdate(ServiceRecord{
		ID:        "s",
		OwnerPeer: "peerA",
		Name:      "n1",
		Providers: []Provider{{ID: "p", BaseURL: "u1"}},
	})

	s.InsertOrUpdate(ServiceRecord{
		ID:        "s",
		Providers: []Provider{{ID: "p", BaseURL: "u2"}, {ID: "q", BaseURL: "uq"}},
	})

	rec, ok := s.Get("s")
	if !ok {
		t.Fatal("expected record to exist")
	}
	if rec.Name != "n1" {
		t.Errorf("name = %q, want n1 (last-writer-wins should not clear with empty incoming)", rec.Name)
	}
	if rec.OwnerPeer != "peerA" {
		t.Errorf("owner_peer = %q, want peerA (must not be mutated by non-owner)", rec.OwnerPeer)
	}
	if len(rec.Providers) != 2 {
		t.Fatalf("providers = %v, want 2 entries", rec.Providers)
	}
	byID := map[string]Provider{}
	for _, p := range rec.Providers {
		byID[p.ID] = p
	}
	if byID["p"].BaseURL != "u2" {
		t.Errorf("provider p base_url = %q, want u2", byID["p"].BaseURL)
	}
	if byID["q"].BaseURL != "uq" {
		t.Errorf("provider q base_url = %q, want uq", byID["q"].BaseURL)
	}
}

func TestDelete_RemovesRecordImmediately(t *testing.T) {
	s := New()
	s.InsertOrUpdate(ServiceRecord{ID: "s", OwnerPeer: "p1"})
	s.Delete("s")
	if _, ok := s.Get("s"); ok {
		t.Fatal("expected record to be absent after delete")
	}
	if _, ok := s.Snapshot()["s"]; ok {
		t.Fatal("expected tombstoned record absent from snapshot")
	}
}

func TestTombstone_BlocksStaleResurrectionForGracePeriod(t *testing.T) {
	s := New()
	tick := time.Unix(1_700_000_000, 0)
	s.now = func() time.Time { return tick }

	s.InsertOrUpdate(ServiceRecord{ID: "s", OwnerPeer: "p1", UpdatedAt: tick})
	s.Delete("s")

	// Stale re-publish (no updated_at, or older) during the grace window
	// must not resurrect the record.
	tick = tick.Add(5 * time.Second)
	s.InsertOrUpdate(ServiceRecord{ID: "s", OwnerPeer: "p2"})
	if _, ok := s.Get("s"); ok {
		t.Fatal("stale re-publish resurrected a tombstoned record")
	}

	// A re-publish carrying a newer updated_at than the tombstone
	// resurrects it immediately, even within the grace window.
	newer := tick.Add(time.Second)
	s.InsertOrUpdate(ServiceRecord{ID: "s", OwnerPeer: "p2", UpdatedAt: newer})
	rec, ok := s.Get("s")
	if !ok {
		t.Fatal("expected newer-timestamped re-publish to resurrect the record")
	}
	if rec.OwnerPeer != "p2" {
		t.Errorf("owner_peer = %q, want p2 after resurrection", rec.OwnerPeer)
	}
}

func TestTombstone_ExpiresAfterGraceAllowingUnconditionalRecreate(t *testing.T) {
	s := New()
	tick := time.Unix(1_700_000_000, 0)
	s.now = func() time.Time { return tick }

	s.InsertOrUpdate(ServiceRecord{ID: "s", OwnerPeer: "p1"})
	s.Delete("s")

	tick = tick.Add(TombstoneGrace + time.Second)
	s.InsertOrUpdate(ServiceRecord{ID: "s", OwnerPeer: "p2"})

	rec, ok := s.Get("s")
	if !ok {
		t.Fatal("expected record to be recreated once the tombstone expired")
	}
	if rec.OwnerPeer != "p2" {
		t.Errorf("owner_peer = %q, want p2", rec.OwnerPeer)
	}
}

func TestFilterByOwnerAndOthers(t *testing.T) {
	s := New()
	s.InsertOrUpdate(ServiceRecord{ID: "a", OwnerPeer: "p1"})
	s.InsertOrUpdate(ServiceRecord{ID: "b", OwnerPeer: "p2"})

	mine := s.FilterByOwner("p1")
	if _, ok := mine["a"]; !ok || len(mine) != 1 {
		t.Errorf("FilterByOwner(p1) = %v", mine)
	}
	others := s.FilterOthers("p1")
	if _, ok := others["b"]; !ok || len(others) != 1 {
		t.Errorf("FilterOthers(p1) = %v", others)
	}
}

func TestPeers(t *testing.T) {
	s := New()
	s.InsertOrUpdate(ServiceRecord{ID: "a", OwnerPeer: "p1"})
	s.InsertOrUpdate(ServiceRecord{ID: "b", OwnerPeer: "p2"})
	s.InsertOrUpdate(ServiceRecord{ID: "c", OwnerPeer: "p1"})

	peers := s.Peers()
	if len(peers) != 2 {
		t.Fatalf("Peers() = %v, want 2 distinct owners", peers)
	}
}

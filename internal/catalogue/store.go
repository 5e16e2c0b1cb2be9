// internal/catalogue/store.go
// Package catalogue implements the Catalogue Store (spec.md §3, §4.3): an
// in-memory, mutex-guarded map from service-id to ServiceRecord, shared
// read-write by the management API and the event loop.
//
// Tombstones: a record with deleted=true immediately hides the service
// (Get/Snapshot/etc. no longer return it) but the tombstone itself is kept
// for a 30s grace period so that a late-arriving non-deleted update with an
// older updated_at than the tombstone cannot resurrect stale data (spec.md
// §4.4). After the grace period the tombstone is evicted and the id is
// free to be recreated unconditionally by any future gossip message.
package catalogue

import (
	"container/list"
	"sync"
	"time"

	"github.com/apron-network/apron-gateway-go/internal/metrics"
)

// TombstoneGrace is the window (spec.md §4.4) during which a delete
// tombstone suppresses resurrection by an older or unstamped update.
const TombstoneGrace = 30 * time.Second

type entry struct {
	record       ServiceRecord
	tombstone    bool
	tombstonedAt time.Time // zero unless tombstone
	lruElem      *list.Element
}

// Store is the Catalogue Store. The zero value is not usable; construct
// via New().
type Store struct {
	mu  sync.Mutex
	m   map[string]*entry
	lru *list.List // tombstoned ids, oldest (front) to newest (back)

	now func() time.Time // injection point for tests
}

// New returns an empty Store.
func New() *Store {
	return &Store{
		m:   make(map[string]*entry),
		lru: list.New(),
		now: time.Now,
	}
}

// InsertOrUpdate performs the field-wise merge described in spec.md §4.3. If
// record.Deleted is true this is equivalent to Delete(record.ID) followed by
// recording record's timestamp as the tombstone's own (for the 30s/newer-
// updated_at resurrection rule); otherwise non-zero fields of record
// overwrite the stored record and Providers merge additively.
func (s *Store) InsertOrUpdate(record ServiceRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.evictExpiredLocked()

	id := record.ID
	existing, ok := s.m[id]

	if record.Deleted {
		s.tombstoneLocked(id, record)
		return
	}

	if ok && existing.tombstone {
		tsBaseline := existing.record.UpdatedAt
		if tsBaseline.IsZero() {
			tsBaseline = existing.tombstonedAt
		}
		if record.UpdatedAt.IsZero() || !record.UpdatedAt.After(tsBaseline) {
			// Tombstone still wins within its grace window.
			return
		}
		// Newer timestamp: the record is recreated fresh (tombstoned
		// records carry no prior field state to merge against).
		s.removeFromLRULocked(existing)
		s.m[id] = &entry{record: record.Clone()}
		metrics.CatalogueSize.Set(float64(s.visibleCountLocked()))
		return
	}

	if !ok {
		s.m[id] = &entry{record: record.Clone()}
		metrics.CatalogueSize.Set(float64(s.visibleCountLocked()))
		return
	}

	merged := merge(existing.record, record)
	s.m[id] = &entry{record: merged}
	metrics.CatalogueSize.Set(float64(s.visibleCountLocked()))
}

// Delete tombstones id by its own id; used both for local owner-initiated
// deletes (management API) and for gossip messages whose decoded record
// carries deleted=true.
func (s *Store) Delete(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.evictExpiredLocked()
	s.tombstoneLocked(id, ServiceRecord{ID: id, Deleted: true, UpdatedAt: s.now()})
}

func (s *Store) tombstoneLocked(id string, record ServiceRecord) {
	if existing, ok := s.m[id]; ok {
		s.removeFromLRULocked(existing)
	}
	ts := record.UpdatedAt
	if ts.IsZero() {
		ts = s.now()
	}
	e := &entry{
		record:       ServiceRecord{ID: id, Deleted: true, UpdatedAt: ts},
		tombstone:    true,
		tombstonedAt: s.now(),
	}
	e.lruElem = s.lru.PushBack(id)
	s.m[id] = e
	metrics.CatalogueSize.Set(float64(s.visibleCountLocked()))
}

func (s *Store) removeFromLRULocked(e *entry) {
	if e.lruElem != nil {
		s.lru.Remove(e.lruElem)
		e.lruElem = nil
	}
}

// evictExpiredLocked drops tombstones older than TombstoneGrace from the
// front of the LRU (insertion-ordered, so the front is always oldest).
func (s *Store) evictExpiredLocked() {
	cutoff := s.now().Add(-TombstoneGrace)
	for {
		front := s.lru.Front()
		if front == nil {
			return
		}
		id := front.Value.(string)
		e, ok := s.m[id]
		if !ok || !e.tombstone {
			s.lru.Remove(front)
			continue
		}
		if e.tombstonedAt.After(cutoff) {
			return
		}
		s.lru.Remove(front)
		delete(s.m, id)
	}
}

// visibleCountLocked counts non-tombstoned records; callers must hold mu.
func (s *Store) visibleCountLocked() int {
	n := 0
	for _, e := range s.m {
		if !e.tombstone {
			n++
		}
	}
	return n
}

// Get returns the record for id, or ok=false if absent or tombstoned.
func (s *Store) Get(id string) (ServiceRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.evictExpiredLocked()
	e, ok := s.m[id]
	if !ok || e.tombstone {
		return ServiceRecord{}, false
	}
	return e.record.Clone(), true
}

// Snapshot returns every non-tombstoned record, keyed by id.
func (s *Store) Snapshot() map[string]ServiceRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.evictExpiredLocked()
	out := make(map[string]ServiceRecord, len(s.m))
	for id, e := range s.m {
		if !e.tombstone {
			out[id] = e.record.Clone()
		}
	}
	return out
}

// FilterByOwner returns records owned by peer.
func (s *Store) FilterByOwner(peer string) map[string]ServiceRecord {
	return s.filter(func(r ServiceRecord) bool { return r.OwnerPeer == peer })
}

// FilterOthers returns records NOT owned by peer.
func (s *Store) FilterOthers(peer string) map[string]ServiceRecord {
	return s.filter(func(r ServiceRecord) bool { return r.OwnerPeer != peer })
}

func (s *Store) filter(pred func(ServiceRecord) bool) map[string]ServiceRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.evictExpiredLocked()
	out := make(map[string]ServiceRecord)
	for id, e := range s.m {
		if !e.tombstone && pred(e.record) {
			out[id] = e.record.Clone()
		}
	}
	return out
}

// Peers returns the distinct set of owner_peer values across all
// non-tombstoned records.
func (s *Store) Peers() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.evictExpiredLocked()
	seen := make(map[string]struct{})
	for _, e := range s.m {
		if !e.tombstone && e.record.OwnerPeer != "" {
			seen[e.record.OwnerPeer] = struct{}{}
		}
	}
	out := make([]string, 0, len(seen))
	for p := range seen {
		out = append(out, p)
	}
	return out
}

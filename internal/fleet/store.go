// Package fleet holds the latest known state of every monitored plant.
//
// The store has a single writer (the poll loop). Writers mutate a working set;
// Commit publishes an immutable, versioned copy that readers observe through
// All, Get and Snapshot. A published snapshot is never modified afterwards.
package fleet

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/joshp123/plantcare/internal/classify"
	"github.com/joshp123/plantcare/internal/core"
)

// Entry describes a plant known at startup.
type Entry struct {
	ID       string
	Name     string
	Species  string
	DeviceID string
	Origin   core.Origin
	Reading  *core.Reading
}

// Snapshot is a committed, read-only view of the fleet.
type Snapshot struct {
	Version uint64             `json:"version"`
	TakenAt time.Time          `json:"taken_at"`
	Plants  []core.PlantRecord `json:"plants"`
}

// Store is the single source of truth for plant records.
type Store struct {
	thresholds core.Thresholds
	now        func() time.Time

	mu      sync.Mutex
	order   []string
	records map[string]*core.PlantRecord
	version uint64

	published atomic.Pointer[Snapshot]
}

// Option configures a Store.
type Option func(*Store)

// WithClock overrides the store clock.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// NewStore creates a store seeded with entries in the given order and commits
// the initial snapshot.
func NewStore(th core.Thresholds, entries []Entry, opts ...Option) (*Store, error) {
	s := &Store{
		thresholds: th,
		now:        time.Now,
		records:    make(map[string]*core.PlantRecord, len(entries)),
	}
	for _, opt := range opts {
		opt(s)
	}

	for _, e := range entries {
		if err := core.ValidateID(e.ID); err != nil {
			return nil, fmt.Errorf("fleet entry: %w", err)
		}
		if _, ok := s.records[e.ID]; ok {
			return nil, fmt.Errorf("fleet entry: duplicate id %s", e.ID)
		}
		origin := e.Origin
		if origin == "" {
			origin = core.OriginSeed
			if e.DeviceID != "" {
				origin = core.OriginLive
			}
		}
		rec := &core.PlantRecord{
			ID:       e.ID,
			Name:     e.Name,
			Species:  e.Species,
			DeviceID: e.DeviceID,
			Origin:   origin,
		}
		if e.Reading != nil {
			reading := *e.Reading
			rec.Reading = &reading
		}
		s.records[e.ID] = rec
		s.order = append(s.order, e.ID)
	}

	s.Recompute()
	s.Commit()
	return s, nil
}

// Thresholds returns the thresholds used for classification.
func (s *Store) Thresholds() core.Thresholds {
	return s.thresholds
}

// Upsert replaces the current reading of a plant and clears its degraded flag.
func (s *Store) Upsert(id string, r core.Reading) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[id]
	if !ok {
		return fmt.Errorf("%w: %s", core.ErrUnknownPlant, id)
	}
	now := s.now()
	reading := r
	rec.Reading = &reading
	rec.Degraded = false
	rec.LastError = ""
	rec.LastFetchAt = now
	if r.WaterDetected {
		rec.WaterMissingSince = time.Time{}
	} else if rec.WaterMissingSince.IsZero() {
		rec.WaterMissingSince = now
	}
	s.recomputeLocked(rec, now)
	return nil
}

// MarkDegraded keeps the prior reading and flags it as stale.
func (s *Store) MarkDegraded(id string, cause error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[id]
	if !ok {
		return fmt.Errorf("%w: %s", core.ErrUnknownPlant, id)
	}
	now := s.now()
	rec.Degraded = true
	rec.LastFetchAt = now
	if cause != nil {
		rec.LastError = cause.Error()
	}
	s.recomputeLocked(rec, now)
	return nil
}

// Restore loads a reading recovered from history. It is marked degraded until
// the device answers again.
func (s *Store) Restore(id string, r core.Reading) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[id]
	if !ok {
		return fmt.Errorf("%w: %s", core.ErrUnknownPlant, id)
	}
	reading := r
	rec.Reading = &reading
	rec.Degraded = true
	rec.LastError = "restored from history"
	s.recomputeLocked(rec, s.now())
	return nil
}

// MarkWatered records a successful watering.
func (s *Store) MarkWatered(id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[id]
	if !ok {
		return fmt.Errorf("%w: %s", core.ErrUnknownPlant, id)
	}
	watered := at
	rec.LastWatered = &watered
	return nil
}

// Recompute derives the status of every record from its current reading.
func (s *Store) Recompute() {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	for _, id := range s.order {
		s.recomputeLocked(s.records[id], now)
	}
}

func (s *Store) recomputeLocked(rec *core.PlantRecord, now time.Time) {
	rec.Status = classify.Record(*rec, s.thresholds, now)
	rec.Advisories = classify.Advisories(*rec, s.thresholds)
}

// Working returns a copy of a record from the uncommitted working set. Only the
// writer should need this.
func (s *Store) Working(id string) (core.PlantRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[id]
	if !ok {
		return core.PlantRecord{}, false
	}
	return clone(*rec), true
}

// Commit publishes the working set as a new snapshot.
func (s *Store) Commit() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.version++
	snap := &Snapshot{
		Version: s.version,
		TakenAt: s.now(),
		Plants:  make([]core.PlantRecord, 0, len(s.order)),
	}
	for _, id := range s.order {
		snap.Plants = append(snap.Plants, clone(*s.records[id]))
	}
	s.published.Store(snap)
	return *snap
}

// Snapshot returns the last committed snapshot.
func (s *Store) Snapshot() Snapshot {
	snap := s.published.Load()
	if snap == nil {
		return Snapshot{}
	}
	return *snap
}

// All returns the committed records in insertion order.
func (s *Store) All() []core.PlantRecord {
	snap := s.published.Load()
	if snap == nil {
		return nil
	}
	out := make([]core.PlantRecord, len(snap.Plants))
	for i, p := range snap.Plants {
		out[i] = clone(p)
	}
	return out
}

// Get returns a committed record by plant id.
func (s *Store) Get(id string) (core.PlantRecord, bool) {
	snap := s.published.Load()
	if snap == nil {
		return core.PlantRecord{}, false
	}
	for _, p := range snap.Plants {
		if p.ID == id {
			return clone(p), true
		}
	}
	return core.PlantRecord{}, false
}

// ByDevice returns the committed record polled from a device.
func (s *Store) ByDevice(deviceID string) (core.PlantRecord, bool) {
	snap := s.published.Load()
	if snap == nil {
		return core.PlantRecord{}, false
	}
	for _, p := range snap.Plants {
		if p.DeviceID == deviceID {
			return clone(p), true
		}
	}
	return core.PlantRecord{}, false
}

// Live returns the plants backed by a device, in insertion order.
func (s *Store) Live() []core.PlantRecord {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []core.PlantRecord
	for _, id := range s.order {
		rec := s.records[id]
		if rec.Live() {
			out = append(out, clone(*rec))
		}
	}
	return out
}

func clone(p core.PlantRecord) core.PlantRecord {
	if p.Reading != nil {
		reading := *p.Reading
		p.Reading = &reading
	}
	if p.LastWatered != nil {
		watered := *p.LastWatered
		p.LastWatered = &watered
	}
	if p.Advisories != nil {
		p.Advisories = append([]string(nil), p.Advisories...)
	}
	return p
}

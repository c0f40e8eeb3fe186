package devices

import (
	"context"
	"hash/fnv"
	"sort"
	"strings"
	"sync"

	"bluewatch/internal/classify"
	"bluewatch/internal/model"
)

const shardCount = 16

// Persister is the slice of the storage layer the identity store writes
// through to. A nil Persister keeps everything in memory.
type Persister interface {
	SaveDevice(ctx context.Context, d model.Device) error
	DeleteDevice(ctx context.Context, address string) error
}

// record is the in-arena state for one address: the public device aggregate
// plus the evidence bookkeeping that drives classification refresh.
type record struct {
	dev     model.Device
	seenIDs map[string]struct{}
	manual  bool // user pinned the type label; auto-classification stands down
}

type shard struct {
	mu      sync.RWMutex
	records map[string]*record
}

// Store is the arena of per-device records. Addresses are spread over fixed
// shards so concurrent traffic for unrelated devices never contends; writes
// for one address are expected to arrive pre-serialized (the engine pins each
// address to one worker), the shard lock protects cross-device reads.
type Store struct {
	shards [shardCount]*shard
	db     Persister
}

func NewStore(db Persister) *Store {
	s := &Store{db: db}
	for i := range s.shards {
		s.shards[i] = &shard{records: make(map[string]*record)}
	}
	return s
}

// ShardIndex maps an address to its shard; the engine uses the same function
// to pin addresses to workers.
func ShardIndex(address string, n int) int {
	h := fnv.New32a()
	h.Write([]byte(address))
	return int(h.Sum32() % uint32(n))
}

func (s *Store) shardFor(address string) *shard {
	return s.shards[ShardIndex(address, shardCount)]
}

// Observe applies one sighting to the identity record, creating it on first
// contact. New service identifiers, or a first advertised name, re-run the
// fusion classifier over the accumulated evidence; identical evidence is a
// no-op for classification, only the counters move. The returned flag reports
// whether the device was created by this call.
func (s *Store) Observe(ctx context.Context, sg model.Sighting) (model.Device, bool, error) {
	sh := s.shardFor(sg.Address)
	sh.mu.Lock()

	rec, ok := sh.records[sg.Address]
	created := false
	if !ok {
		rec = &record{
			dev: model.Device{
				Address:   sg.Address,
				TypeLabel: model.TypeUnknown,
				FirstSeen: sg.Timestamp,
			},
			seenIDs: make(map[string]struct{}),
		}
		sh.records[sg.Address] = rec
		created = true
	}

	rec.dev.SightingCount++
	if sg.Timestamp.After(rec.dev.LastSeen) {
		rec.dev.LastSeen = sg.Timestamp
	}

	fresh := false
	for _, id := range sg.ServiceIDs {
		key := strings.ToLower(id)
		if _, seen := rec.seenIDs[key]; !seen {
			rec.seenIDs[key] = struct{}{}
			rec.dev.ServiceIDs = append(rec.dev.ServiceIDs, key)
			fresh = true
		}
	}
	if sg.Name != "" && rec.dev.LastName == "" {
		rec.dev.LastName = sg.Name
		fresh = true
	}
	if fresh {
		rec.reclassify()
	}

	dev := rec.dev
	sh.mu.Unlock()

	// The in-memory record is updated either way; a persist failure is
	// reported but the returned snapshot stays usable.
	return dev, created, s.persist(ctx, dev)
}

// ApplyVendor folds in a vendor lookup result that completed outside the
// ingestion critical section. Empty results are remembered as absent evidence
// and do not retrigger classification.
func (s *Store) ApplyVendor(ctx context.Context, address, vendor string) (model.Device, error) {
	sh := s.shardFor(address)
	sh.mu.Lock()
	rec, ok := sh.records[address]
	if !ok || vendor == "" || rec.dev.Vendor == vendor {
		var dev model.Device
		if ok {
			dev = rec.dev
		}
		sh.mu.Unlock()
		return dev, nil
	}
	rec.dev.Vendor = vendor
	rec.reclassify()
	dev := rec.dev
	sh.mu.Unlock()
	return dev, s.persist(ctx, dev)
}

// reclassify re-runs the fusion classifier over accumulated evidence. The
// priority order inside the classifier guarantees the label never regresses:
// service-derived labels keep winning once service evidence exists. A manual
// label always stands.
func (r *record) reclassify() {
	if r.manual {
		return
	}
	label, source := classify.Classify(classify.Evidence{
		ServiceIDs: r.dev.ServiceIDs,
		Name:       firstNonEmpty(r.dev.FriendlyName, r.dev.LastName),
		Vendor:     r.dev.Vendor,
	})
	if source >= r.dev.TypeSource && label != model.TypeUnknown {
		r.dev.TypeLabel = label
		r.dev.TypeSource = source
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func (s *Store) persist(ctx context.Context, dev model.Device) error {
	if s.db == nil {
		return nil
	}
	return s.db.SaveDevice(ctx, dev)
}

// Get returns a copy of the device record.
func (s *Store) Get(address string) (model.Device, bool) {
	sh := s.shardFor(address)
	sh.mu.RLock()
	defer sh.mu.RUnlock()
	if rec, ok := sh.records[address]; ok {
		return rec.dev, true
	}
	return model.Device{}, false
}

// Filter narrows List results. Zero values match everything.
type Filter struct {
	Type           model.DeviceType
	WatchedOnly    bool
	GroupID        int64
	Query          string
	IncludeIgnored bool
}

// List returns matching devices ordered by most recently seen.
func (s *Store) List(f Filter) []model.Device {
	var out []model.Device
	q := strings.ToLower(f.Query)
	for _, sh := range s.shards {
		sh.mu.RLock()
		for _, rec := range sh.records {
			d := rec.dev
			if d.Ignored && !f.IncludeIgnored {
				continue
			}
			if f.Type != "" && d.TypeLabel != f.Type {
				continue
			}
			if f.WatchedOnly && !d.Watched {
				continue
			}
			if f.GroupID != 0 && d.GroupID != f.GroupID {
				continue
			}
			if q != "" && !matchQuery(d, q) {
				continue
			}
			out = append(out, d)
		}
		sh.mu.RUnlock()
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].LastSeen.After(out[j].LastSeen)
	})
	return out
}

func matchQuery(d model.Device, q string) bool {
	return strings.Contains(strings.ToLower(d.Address), q) ||
		strings.Contains(strings.ToLower(d.FriendlyName), q) ||
		strings.Contains(strings.ToLower(d.Vendor), q) ||
		strings.Contains(strings.ToLower(d.LastName), q)
}

// Count returns the number of tracked devices, ignored included.
func (s *Store) Count() int {
	n := 0
	for _, sh := range s.shards {
		sh.mu.RLock()
		n += len(sh.records)
		sh.mu.RUnlock()
	}
	return n
}

// WatchedAddresses lists addresses currently flagged for presence
// notifications; the presence sweep reads this on every tick.
func (s *Store) WatchedAddresses() []string {
	var out []string
	for _, sh := range s.shards {
		sh.mu.RLock()
		for addr, rec := range sh.records {
			if rec.dev.Watched {
				out = append(out, addr)
			}
		}
		sh.mu.RUnlock()
	}
	sort.Strings(out)
	return out
}

func (s *Store) mutate(ctx context.Context, address string, fn func(*record)) (model.Device, bool, error) {
	sh := s.shardFor(address)
	sh.mu.Lock()
	rec, ok := sh.records[address]
	if !ok {
		sh.mu.Unlock()
		return model.Device{}, false, nil
	}
	fn(rec)
	dev := rec.dev
	sh.mu.Unlock()
	return dev, true, s.persist(ctx, dev)
}

func (s *Store) SetFriendlyName(ctx context.Context, address, name string) (model.Device, bool, error) {
	return s.mutate(ctx, address, func(r *record) {
		r.dev.FriendlyName = name
		r.reclassify()
	})
}

func (s *Store) SetGroup(ctx context.Context, address string, groupID int64) (model.Device, bool, error) {
	return s.mutate(ctx, address, func(r *record) { r.dev.GroupID = groupID })
}

func (s *Store) SetWatched(ctx context.Context, address string, watched bool) (model.Device, bool, error) {
	return s.mutate(ctx, address, func(r *record) { r.dev.Watched = watched })
}

// ToggleWatched flips the watch flag and returns the new state.
func (s *Store) ToggleWatched(ctx context.Context, address string) (model.Device, bool, error) {
	return s.mutate(ctx, address, func(r *record) { r.dev.Watched = !r.dev.Watched })
}

func (s *Store) SetIgnored(ctx context.Context, address string, ignored bool) (model.Device, bool, error) {
	return s.mutate(ctx, address, func(r *record) { r.dev.Ignored = ignored })
}

func (s *Store) SetNotes(ctx context.Context, address, notes string) (model.Device, bool, error) {
	return s.mutate(ctx, address, func(r *record) { r.dev.Notes = notes })
}

// SetTypeLabel pins the type label manually; automatic classification will
// not touch it afterwards.
func (s *Store) SetTypeLabel(ctx context.Context, address string, label model.DeviceType) (model.Device, bool, error) {
	return s.mutate(ctx, address, func(r *record) {
		r.dev.TypeLabel = label
		r.dev.TypeSource = model.SourceManual
		r.manual = true
	})
}

// Delete removes a device record entirely. Administrative action; sightings
// already persisted are left to the retention policy.
func (s *Store) Delete(ctx context.Context, address string) (bool, error) {
	sh := s.shardFor(address)
	sh.mu.Lock()
	_, ok := sh.records[address]
	delete(sh.records, address)
	sh.mu.Unlock()
	if !ok {
		return false, nil
	}
	if s.db == nil {
		return true, nil
	}
	return true, s.db.DeleteDevice(ctx, address)
}

// Restore seeds the arena from persisted rows at startup.
func (s *Store) Restore(devs []model.Device) {
	for _, d := range devs {
		sh := s.shardFor(d.Address)
		sh.mu.Lock()
		rec := &record{dev: d, seenIDs: make(map[string]struct{}, len(d.ServiceIDs))}
		for _, id := range d.ServiceIDs {
			rec.seenIDs[strings.ToLower(id)] = struct{}{}
		}
		if d.TypeSource == model.SourceManual {
			rec.manual = true
		}
		sh.records[d.Address] = rec
		sh.mu.Unlock()
	}
}

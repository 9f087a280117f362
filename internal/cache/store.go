// Package cache implements the read-through response cache: an in-memory
// layer with age bookkeeping, written through to a persistent key-value
// store so cached data survives process restarts.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/maypok86/otter/v2"
	"github.com/maypok86/otter/v2/stats"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Persistent store keys. Entries are stored individually; the index lists
// every live cache key so prefix invalidation works across restarts.
const (
	entryKeyPrefix = "cache.entry:"
	indexKey       = "cache.index"
)

// Freshness partitions a cache entry by age.
type Freshness int

const (
	// Miss: no entry, or the entry's age exceeds its stale threshold.
	Miss Freshness = iota
	// Fresh: age is within the fresh threshold; no network call needed.
	Fresh
	// Stale: past fresh but within stale; servable while a background
	// refresh runs.
	Stale
)

func (f Freshness) String() string {
	switch f {
	case Fresh:
		return "fresh"
	case Stale:
		return "stale"
	}
	return "miss"
}

// Entry is a cached response payload with its age metadata. Thresholds are
// captured at write time so a policy change never reinterprets an existing
// entry.
type Entry struct {
	Payload  json.RawMessage `json:"payload"`
	StoredAt time.Time       `json:"storedAt"`
	TTLFresh time.Duration   `json:"ttlFresh"`
	TTLStale time.Duration   `json:"ttlStale"`
}

// Lookup is the result of a cache read.
type Lookup struct {
	Payload   json.RawMessage
	Freshness Freshness
	Age       time.Duration
}

// PersistentStore is the slice of the durable key-value store the cache
// needs. A nil store yields a memory-only cache.
type PersistentStore interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key string, value string) error
	Delete(ctx context.Context, key string) error
	DeleteMany(ctx context.Context, keys []string) error
}

// Store is the response cache. Entries are always written whole, so
// concurrent writes to the same key are last-writer-wins with no
// read-modify-write races.
type Store struct {
	mem     *otter.Cache[string, Entry]
	counter *stats.Counter
	persist PersistentStore
	policy  *Policy
	logger  zerolog.Logger
	now     func() time.Time

	mu   sync.Mutex
	keys map[string]struct{}
	gens map[string]uint64
}

// NewStore creates a Store bounded at maxEntries. When persist is non-nil,
// the previously persisted key index is loaded so earlier entries remain
// reachable.
func NewStore(ctx context.Context, persist PersistentStore, policy *Policy, maxEntries int) (*Store, error) {
	counter := stats.NewCounter()
	mem := otter.Must(&otter.Options[string, Entry]{
		MaximumSize:      maxEntries,
		StatsRecorder:    counter,
		ExpiryCalculator: otter.ExpiryCreating[string, Entry](policy.MaxStale()),
	})

	s := &Store{
		mem:     mem,
		counter: counter,
		persist: persist,
		policy:  policy,
		logger:  log.Logger,
		now:     time.Now,
		keys:    make(map[string]struct{}),
		gens:    make(map[string]uint64),
	}

	if persist != nil {
		if err := s.loadIndex(ctx); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// SetLogger replaces the store's logger.
func (s *Store) SetLogger(logger zerolog.Logger) {
	s.logger = logger
}

// Get looks up a key and classifies the entry's freshness. Expired and
// absent entries are both a Miss; neither is an error.
func (s *Store) Get(ctx context.Context, key string) Lookup {
	if entry, ok := s.mem.GetEntry(key); ok {
		return s.classify(entry.Value)
	}

	entry, ok := s.loadPersisted(ctx, key)
	if !ok {
		return Lookup{Freshness: Miss}
	}

	lookup := s.classify(entry)
	if lookup.Freshness != Miss {
		s.mem.Set(key, entry)
	}
	return lookup
}

// GetAny returns a cached payload regardless of age. Used for the 429
// fallback, where even an expired entry beats surfacing a rate limit.
func (s *Store) GetAny(ctx context.Context, key string) (json.RawMessage, bool) {
	if entry, ok := s.mem.GetEntry(key); ok {
		return entry.Value.Payload, true
	}
	if entry, ok := s.loadPersisted(ctx, key); ok {
		return entry.Payload, true
	}
	return nil, false
}

// Set overwrites the entry for key with thresholds from the policy for the
// key's resource, and writes it through to the persistent store.
func (s *Store) Set(ctx context.Context, key string, payload json.RawMessage) error {
	entry := s.newEntry(key, payload)

	s.mu.Lock()
	s.mem.Set(key, entry)
	s.keys[key] = struct{}{}
	index := s.indexSnapshot()
	s.mu.Unlock()

	return s.persistEntry(ctx, key, entry, index)
}

// Generation returns the invalidation generation for the key's resource.
// A writer captures it before fetching and passes it to SetIfGeneration.
func (s *Store) Generation(key string) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gens[Resource(key)]
}

// SetIfGeneration writes an entry only when the key's resource has not
// been invalidated since gen was observed. A fetch that started before a
// mutation can therefore never resurrect pre-mutation data. The lock is
// held through persistence so the write cannot interleave with an
// invalidation's deletes.
func (s *Store) SetIfGeneration(ctx context.Context, key string, payload json.RawMessage, gen uint64) error {
	entry := s.newEntry(key, payload)

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.gens[Resource(key)] != gen {
		s.logger.Debug().Str("key", key).Msg("discarding cache write superseded by invalidation")
		return nil
	}
	s.mem.Set(key, entry)
	s.keys[key] = struct{}{}

	return s.persistEntry(ctx, key, entry, s.indexSnapshot())
}

func (s *Store) newEntry(key string, payload json.RawMessage) Entry {
	fresh, stale := s.policy.TTLFor(Resource(key))
	return Entry{
		Payload:  payload,
		StoredAt: s.now(),
		TTLFresh: fresh,
		TTLStale: stale,
	}
}

func (s *Store) persistEntry(ctx context.Context, key string, entry Entry, index []string) error {
	if s.persist == nil {
		return nil
	}

	raw, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("encoding cache entry: %w", err)
	}
	if err := s.persist.Set(ctx, entryKeyPrefix+key, string(raw)); err != nil {
		return fmt.Errorf("persisting cache entry: %w", err)
	}
	return s.writeIndex(ctx, index)
}

// Invalidate deletes every entry whose key starts with prefix and bumps
// the resource's generation. The generation moves even when no key
// matched: an in-flight fetch for the resource may still try to write
// after this call returns.
func (s *Store) Invalidate(ctx context.Context, prefix string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.gens[Resource(prefix)]++
	var matched []string
	for key := range s.keys {
		if len(key) >= len(prefix) && key[:len(prefix)] == prefix {
			matched = append(matched, key)
			delete(s.keys, key)
		}
	}
	for _, key := range matched {
		s.mem.Invalidate(key)
	}

	if s.persist == nil || len(matched) == 0 {
		return nil
	}

	persisted := make([]string, len(matched))
	for i, key := range matched {
		persisted[i] = entryKeyPrefix + key
	}
	if err := s.persist.DeleteMany(ctx, persisted); err != nil {
		return fmt.Errorf("deleting cache entries: %w", err)
	}
	return s.writeIndex(ctx, s.indexSnapshot())
}

// InvalidateResource drops every prefix the policy maps to a mutated
// resource.
func (s *Store) InvalidateResource(ctx context.Context, resource string) error {
	for _, target := range s.policy.InvalidationTargets(resource) {
		if err := s.Invalidate(ctx, KeyPrefix(target)); err != nil {
			return err
		}
	}
	return nil
}

// classify applies the freshness partition at the entry's own thresholds.
// The partition holds at exact boundary values: age == fresh is Fresh,
// age == stale is Stale.
func (s *Store) classify(entry Entry) Lookup {
	age := s.now().Sub(entry.StoredAt)
	switch {
	case age <= entry.TTLFresh:
		return Lookup{Payload: entry.Payload, Freshness: Fresh, Age: age}
	case age <= entry.TTLStale:
		return Lookup{Payload: entry.Payload, Freshness: Stale, Age: age}
	}
	return Lookup{Freshness: Miss, Age: age}
}

func (s *Store) loadPersisted(ctx context.Context, key string) (Entry, bool) {
	if s.persist == nil {
		return Entry{}, false
	}

	s.mu.Lock()
	_, known := s.keys[key]
	s.mu.Unlock()
	if !known {
		return Entry{}, false
	}

	entry, ok, err := s.readPersisted(ctx, key)
	if err != nil {
		s.logger.Warn().Err(err).Str("key", key).Msg("reading persisted cache entry")
		return Entry{}, false
	}
	return entry, ok
}

func (s *Store) readPersisted(ctx context.Context, key string) (Entry, bool, error) {
	raw, ok, err := s.persist.Get(ctx, entryKeyPrefix+key)
	if err != nil {
		return Entry{}, false, err
	}
	if !ok {
		return Entry{}, false, nil
	}

	var entry Entry
	if err := json.Unmarshal([]byte(raw), &entry); err != nil {
		s.logger.Warn().Err(err).Str("key", key).Msg("corrupt persisted cache entry")
		return Entry{}, false, nil
	}
	return entry, true, nil
}

// loadIndex restores the persisted key index, pruning entries past their
// stale threshold so the persisted footprint stays bounded across
// restarts.
func (s *Store) loadIndex(ctx context.Context) error {
	raw, ok, err := s.persist.Get(ctx, indexKey)
	if err != nil {
		return fmt.Errorf("loading cache index: %w", err)
	}
	if !ok {
		return nil
	}

	var keys []string
	if err := json.Unmarshal([]byte(raw), &keys); err != nil {
		// A corrupt index orphans persisted entries; they are simply
		// refetched from the network.
		s.logger.Warn().Err(err).Msg("corrupt cache index, starting empty")
		return nil
	}

	live := make([]string, 0, len(keys))
	var dead []string
	for _, key := range keys {
		entry, ok, err := s.readPersisted(ctx, key)
		if err != nil {
			// Keep the key: the entry may still be live behind a
			// transient read failure.
			live = append(live, key)
			continue
		}
		if ok && s.classify(entry).Freshness != Miss {
			live = append(live, key)
			continue
		}
		dead = append(dead, key)
	}

	s.mu.Lock()
	for _, key := range live {
		s.keys[key] = struct{}{}
	}
	s.mu.Unlock()

	if len(dead) == 0 {
		return nil
	}

	s.logger.Debug().Int("pruned", len(dead)).Msg("pruned expired cache entries")
	deleted := make([]string, len(dead))
	for i, key := range dead {
		deleted[i] = entryKeyPrefix + key
	}
	if err := s.persist.DeleteMany(ctx, deleted); err != nil {
		return fmt.Errorf("pruning expired cache entries: %w", err)
	}
	return s.writeIndex(ctx, live)
}

func (s *Store) indexSnapshot() []string {
	index := make([]string, 0, len(s.keys))
	for key := range s.keys {
		index = append(index, key)
	}
	return index
}

func (s *Store) writeIndex(ctx context.Context, index []string) error {
	raw, err := json.Marshal(index)
	if err != nil {
		return fmt.Errorf("encoding cache index: %w", err)
	}
	if err := s.persist.Set(ctx, indexKey, string(raw)); err != nil {
		return fmt.Errorf("persisting cache index: %w", err)
	}
	return nil
}

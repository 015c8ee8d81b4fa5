// Package storage persists slab snapshots to Pebble (spec.md §4.9's
// "single fixed-size binary region" durability story, carried across
// restarts the way cmd/node's host process needs). Grounded on
// pkg/app/core/account's Pebble Store: same tuned pebble.Options, same
// key-prefix-per-entity-kind scheme — but storing one fixed-size
// slab.Slab.Marshal() blob per key rather than JSON-per-entity, since a
// slab is one POD region rather than a variable collection of documents.
package storage

import (
	"fmt"

	"github.com/cockroachdb/pebble"
	"github.com/ethereum/go-ethereum/common"

	"github.com/hyperslab/percolator/pkg/identity"
	"github.com/hyperslab/percolator/pkg/slab"
)

const slabKeyPrefix = "slab:"

func slabKey(id identity.ID) []byte {
	return []byte(fmt.Sprintf("%s%s", slabKeyPrefix, id.Hex()))
}

func keyUpperBound(prefix []byte) []byte {
	bound := make([]byte, len(prefix))
	copy(bound, prefix)
	for i := len(bound) - 1; i >= 0; i-- {
		bound[i]++
		if bound[i] != 0 {
			return bound[:i+1]
		}
	}
	return nil
}

// SlabStore persists slab.Slab snapshots keyed by a caller-chosen market
// identity, so one Pebble instance can back several markets' slabs at
// once. Not safe for concurrent writers against the same id; callers
// serialize mutation through pkg/engine's own locking, if any.
type SlabStore struct {
	db *pebble.DB
}

// Open opens (creating if absent) a Pebble database at dbPath, tuned the
// same way the account store is: a slab snapshot is written whole on every
// Save, so the options favor write throughput over read amplification.
func Open(dbPath string) (*SlabStore, error) {
	opts := &pebble.Options{
		Cache:                       pebble.NewCache(128 << 20),
		MemTableSize:                64 << 20,
		MaxConcurrentCompactions:    func() int { return 3 },
		L0CompactionThreshold:       2,
		L0StopWritesThreshold:       12,
		LBaseMaxBytes:               64 << 20,
		MaxOpenFiles:                1000,
		BytesPerSync:                512 << 10,
		DisableAutomaticCompactions: false,
	}

	db, err := pebble.Open(dbPath, opts)
	if err != nil {
		return nil, fmt.Errorf("storage: open pebble db at %s: %w", dbPath, err)
	}
	return &SlabStore{db: db}, nil
}

// Close closes the underlying database.
func (s *SlabStore) Close() error {
	return s.db.Close()
}

// Save writes sl's full Len-byte wire image under id, fsyncing before
// returning: a slab snapshot is the entire state of a market, so a torn
// or lost write here is a worse outcome than the extra fsync latency.
func (s *SlabStore) Save(id identity.ID, sl *slab.Slab) error {
	if err := s.db.Set(slabKey(id), sl.Marshal(), pebble.Sync); err != nil {
		return fmt.Errorf("storage: save slab %s: %w", id.Hex(), err)
	}
	return nil
}

// Load reads back the slab last saved under id. Returns (nil, nil) if no
// snapshot has ever been saved for id, mirroring the account store's
// not-found convention of a nil value over a sentinel error.
func (s *SlabStore) Load(id identity.ID) (*slab.Slab, error) {
	data, closer, err := s.db.Get(slabKey(id))
	if err == pebble.ErrNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("storage: load slab %s: %w", id.Hex(), err)
	}
	defer closer.Close()

	sl, err := slab.Unmarshal(data)
	if err != nil {
		return nil, fmt.Errorf("storage: decode slab %s: %w", id.Hex(), err)
	}
	return sl, nil
}

// ListIDs returns every market identity with a saved slab snapshot.
func (s *SlabStore) ListIDs() ([]identity.ID, error) {
	prefix := []byte(slabKeyPrefix)
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: keyUpperBound(prefix),
	})
	if err != nil {
		return nil, fmt.Errorf("storage: list slabs: %w", err)
	}
	defer iter.Close()

	var ids []identity.ID
	for iter.First(); iter.Valid(); iter.Next() {
		hexStr := string(iter.Key()[len(slabKeyPrefix):])
		ids = append(ids, identity.ID(common.HexToHash(hexStr)))
	}
	return ids, nil
}

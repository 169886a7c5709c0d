// Package availability maintains the {(node, artifact) -> bitfield} set and
// answers "who has which chunks of X". Updates are serialized
// per (node, artifact); readers observe snapshot-consistent rows.
package availability

import (
	"context"
	"sync"

	"github.com/artifactkeeper/borgcore/internal/apierr"
	"github.com/artifactkeeper/borgcore/internal/bitfield"
	"github.com/artifactkeeper/borgcore/internal/domain"
)

// Store is the persistence contract the registry drives. A concrete
// implementation lives in internal/store.
type Store interface {
	GetAvailability(ctx context.Context, edgeID, artifactID string) (*domain.ChunkAvailability, error)
	PutAvailability(ctx context.Context, row domain.ChunkAvailability) error
	SeedersOf(ctx context.Context, artifactID string) ([]domain.ChunkAvailability, error)
}

// LivenessSource joins seeder liveness in from the peer catalog.
type LivenessSource interface {
	IsLive(ctx context.Context, edgeID string) (bool, error)
}

// Registry is the availability service. All mutation goes through
// key-scoped locks so record_chunk's "bit-set + counter-increment" step is
// atomic and never torn.
type Registry struct {
	store     Store
	liveness  LivenessSource
	locksMu   sync.Mutex
	rowLocks  map[string]*sync.Mutex
}

// New builds a Registry over store, optionally joining liveness from src
// (nil disables the liveness join in SeedersOf).
func New(store Store, src LivenessSource) *Registry {
	return &Registry{
		store:    store,
		liveness: src,
		rowLocks: make(map[string]*sync.Mutex),
	}
}

func rowKey(edgeID, artifactID string) string { return edgeID + "\x00" + artifactID }

func (r *Registry) lockFor(key string) *sync.Mutex {
	r.locksMu.Lock()
	defer r.locksMu.Unlock()
	l, ok := r.rowLocks[key]
	if !ok {
		l = &sync.Mutex{}
		r.rowLocks[key] = l
	}
	return l
}

// Get returns the (node, artifact) bitfield. Unknown rows return an empty
// bitfield, not an error.
func (r *Registry) Get(ctx context.Context, edgeID, artifactID string) (*bitfield.Bitfield, uint32, error) {
	row, err := r.store.GetAvailability(ctx, edgeID, artifactID)
	if err != nil && !apierr.Is(err, apierr.NotFound) {
		return nil, 0, err
	}
	if row == nil {
		return bitfield.New(0), 0, nil
	}
	decoded, err := decodeRow(row)
	if err != nil {
		return nil, 0, err
	}
	return decoded, row.AvailableCount, nil
}

func decodeRow(row *domain.ChunkAvailability) (*bitfield.Bitfield, error) {
	decoded, err := bitfield.FromBytes(row.Bitfield, row.TotalChunks)
	if err != nil {
		return nil, apierr.Wrap(apierr.IntegrityError, "stored bitfield is malformed", err)
	}
	return decoded, nil
}

// Put replaces the (node, artifact) row atomically, per PUT
// /edge-nodes/:id/chunks/:artifact_id.
func (r *Registry) Put(ctx context.Context, edgeID, artifactID string, bf *bitfield.Bitfield) error {
	key := rowKey(edgeID, artifactID)
	lock := r.lockFor(key)
	lock.Lock()
	defer lock.Unlock()

	row := domain.ChunkAvailability{
		EdgeID:         edgeID,
		ArtifactID:     artifactID,
		Bitfield:       bf.Bytes(),
		TotalChunks:    bf.TotalChunks(),
		AvailableCount: bf.Popcount(),
	}
	return r.store.PutAvailability(ctx, row)
}

// RecordChunk atomically sets bit index and increments available_count,
// creating the row on first verified chunk. This is the sole mutation path
// the transfer session engine uses on a verified chunk.
func (r *Registry) RecordChunk(ctx context.Context, edgeID, artifactID string, totalChunks uint32, index uint32) error {
	key := rowKey(edgeID, artifactID)
	lock := r.lockFor(key)
	lock.Lock()
	defer lock.Unlock()

	row, err := r.store.GetAvailability(ctx, edgeID, artifactID)
	if err != nil && !apierr.Is(err, apierr.NotFound) {
		return err
	}

	var bf *bitfield.Bitfield
	if row == nil {
		bf = bitfield.New(totalChunks)
	} else {
		bf, err = decodeRow(row)
		if err != nil {
			return err
		}
	}
	bf.Set(index)

	return r.store.PutAvailability(ctx, domain.ChunkAvailability{
		EdgeID:         edgeID,
		ArtifactID:     artifactID,
		Bitfield:       bf.Bytes(),
		TotalChunks:    bf.TotalChunks(),
		AvailableCount: bf.Popcount(),
	})
}

// Seeder pairs an availability row with its edge's liveness.
type Seeder struct {
	EdgeID         string
	Bitfield       *bitfield.Bitfield
	AvailableCount uint32
	Live           bool
}

// SeedersOf returns every (node, bitfield) with available_count > 0, joined
// with liveness from the peer catalog.
func (r *Registry) SeedersOf(ctx context.Context, artifactID string) ([]Seeder, error) {
	rows, err := r.store.SeedersOf(ctx, artifactID)
	if err != nil {
		return nil, err
	}
	out := make([]Seeder, 0, len(rows))
	for _, row := range rows {
		if row.AvailableCount == 0 {
			continue
		}
		bf, err := decodeRow(&row)
		if err != nil {
			return nil, err
		}
		live := true
		if r.liveness != nil {
			live, err = r.liveness.IsLive(ctx, row.EdgeID)
			if err != nil {
				return nil, err
			}
		}
		out = append(out, Seeder{
			EdgeID:         row.EdgeID,
			Bitfield:       bf,
			AvailableCount: row.AvailableCount,
			Live:           live,
		})
	}
	return out, nil
}

// Package assign implements the peer scorer and chunk assigner: given a target's own bitfield, candidate peers' bitfields, and
// peer metrics, it produces a deterministic {peer -> [chunk_index]}
// assignment, honoring a sequential-to-rarest-first transition at a
// configured completion threshold.
package assign

import (
	"sort"

	"github.com/artifactkeeper/borgcore/internal/bitfield"
)

// DefaultMaxConcurrentChunkDownloads matches MAX_CONCURRENT_CHUNK_DOWNLOADS.
const DefaultMaxConcurrentChunkDownloads = 8

// DefaultRarestFirstThreshold matches RAREST_FIRST_THRESHOLD.
const DefaultRarestFirstThreshold = 0.8

// Peer is one assignment candidate.
type Peer struct {
	ID           string
	Bitfield     *bitfield.Bitfield
	LatencyMS    float64
	BandwidthBPS float64
}

// Options configures an assignment cycle.
type Options struct {
	MaxConcurrentChunkDownloads int
	RarestFirstThreshold        float64
	// Blacklisted holds peer IDs excluded for this session only.
	Blacklisted map[string]bool
	// AvoidForChunk, if set for a chunk index, forces the assigner to
	// avoid that peer if any alternative holds the chunk — used after a
	// retry to satisfy "the next assignment MUST pick a different peer
	// when any alternative holds the chunk".
	AvoidForChunk map[uint32]string
}

func (o Options) maxSlots() int {
	if o.MaxConcurrentChunkDownloads <= 0 {
		return DefaultMaxConcurrentChunkDownloads
	}
	return o.MaxConcurrentChunkDownloads
}

func (o Options) threshold() float64 {
	if o.RarestFirstThreshold <= 0 {
		return DefaultRarestFirstThreshold
	}
	return o.RarestFirstThreshold
}

// score computes score(peer) = needed(peer)*bandwidth/max(latency,1),
// where needed(peer) = popcount(peer_bitfield AND NOT own_bitfield).
func score(ownBF *bitfield.Bitfield, p Peer) (float64, uint32) {
	needed := p.Bitfield.AndNot(ownBF).Popcount()
	if needed == 0 {
		return 0, 0
	}
	latency := p.LatencyMS
	if latency < 1 {
		latency = 1
	}
	return float64(needed) * p.BandwidthBPS / latency, needed
}

// scoredPeer is an internal ranking record.
type scoredPeer struct {
	peer  Peer
	score float64
}

// rankPeers scores and orders peers descending by score, excluding peers
// with needed == 0, with ties broken by peer id for determinism.
func rankPeers(ownBF *bitfield.Bitfield, peers []Peer) []scoredPeer {
	ranked := make([]scoredPeer, 0, len(peers))
	for _, p := range peers {
		s, needed := score(ownBF, p)
		if needed == 0 {
			continue
		}
		ranked = append(ranked, scoredPeer{peer: p, score: s})
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		if ranked[i].score != ranked[j].score {
			return ranked[i].score > ranked[j].score
		}
		return ranked[i].peer.ID < ranked[j].peer.ID
	})
	return ranked
}

// slotsFor computes the proportional slot count per peer: max(1,
// round(score_i/Σscore * maxSlots)), then clamps the total to maxSlots by
// trimming the lowest-ranked peers' slots first.
func slotsFor(ranked []scoredPeer, maxSlots int) map[string]int {
	slots := make(map[string]int, len(ranked))
	if len(ranked) == 0 {
		return slots
	}
	var total float64
	for _, r := range ranked {
		total += r.score
	}
	if total == 0 {
		return slots
	}

	assigned := 0
	for _, r := range ranked {
		s := int(roundHalfAwayFromZero(r.score / total * float64(maxSlots)))
		if s < 1 {
			s = 1
		}
		slots[r.peer.ID] = s
		assigned += s
	}

	// Clamp total to maxSlots, trimming lowest-ranked peers first (ranked
	// is already sorted descending by score).
	for i := len(ranked) - 1; i >= 0 && assigned > maxSlots; i-- {
		id := ranked[i].peer.ID
		for slots[id] > 0 && assigned > maxSlots {
			slots[id]--
			assigned--
		}
		if slots[id] == 0 {
			delete(slots, id)
		}
	}
	return slots
}

func roundHalfAwayFromZero(f float64) float64 {
	if f >= 0 {
		return float64(int64(f + 0.5))
	}
	return float64(int64(f - 0.5))
}

// orderChunks returns the "needed chunks" list in the chunk ordering policy
// order: strictly sequential (ascending index) below threshold, else
// ascending rarity (ties by index)
func orderChunks(ownBF *bitfield.Bitfield, peers []Peer, threshold float64) []uint32 {
	total := ownBF.TotalChunks()
	completion := 0.0
	if total > 0 {
		completion = float64(ownBF.Popcount()) / float64(total)
	}

	var needed []uint32
	for i := uint32(0); i < total; i++ {
		if !ownBF.Has(i) {
			needed = append(needed, i)
		}
	}

	if completion < threshold {
		return needed // already ascending index
	}

	rarity := make(map[uint32]int, len(needed))
	for _, i := range needed {
		count := 0
		for _, p := range peers {
			if p.Bitfield.Has(i) {
				count++
			}
		}
		rarity[i] = count
	}
	sort.SliceStable(needed, func(a, b int) bool {
		ia, ib := needed[a], needed[b]
		if rarity[ia] != rarity[ib] {
			return rarity[ia] < rarity[ib]
		}
		return ia < ib
	})
	return needed
}

// Assignment maps a peer id to the chunk indices it must serve.
type Assignment map[string][]uint32

// Assign runs one assignment cycle. Given identical inputs it always
// produces the identical result.
func Assign(ownBF *bitfield.Bitfield, peers []Peer, opts Options) Assignment {
	eligible := make([]Peer, 0, len(peers))
	for _, p := range peers {
		if opts.Blacklisted != nil && opts.Blacklisted[p.ID] {
			continue
		}
		eligible = append(eligible, p)
	}

	ranked := rankPeers(ownBF, eligible)
	if len(ranked) == 0 {
		return Assignment{}
	}
	slots := slotsFor(ranked, opts.maxSlots())
	used := make(map[string]int, len(ranked))

	byID := make(map[string]Peer, len(ranked))
	for _, r := range ranked {
		byID[r.peer.ID] = r.peer
	}

	chunkOrder := orderChunks(ownBF, eligible, opts.threshold())

	assignment := Assignment{}
	totalAssigned := 0
	for _, chunkIdx := range chunkOrder {
		if totalAssigned >= opts.maxSlots() {
			break
		}
		avoid := ""
		if opts.AvoidForChunk != nil {
			avoid = opts.AvoidForChunk[chunkIdx]
		}
		chosen := pickPeerForChunk(ranked, byID, slots, used, chunkIdx, avoid)
		if chosen == "" {
			continue
		}
		assignment[chosen] = append(assignment[chosen], chunkIdx)
		used[chosen]++
		totalAssigned++
	}
	return assignment
}

// pickPeerForChunk walks ranked peers in score order and returns the
// highest-scored peer that (a) holds chunkIdx, (b) has not exceeded its
// proportional slot count. If avoid is set and an alternative holding the
// chunk exists, avoid is skipped.
func pickPeerForChunk(ranked []scoredPeer, byID map[string]Peer, slots map[string]int, used map[string]int, chunkIdx uint32, avoid string) string {
	var fallback string
	for _, r := range ranked {
		id := r.peer.ID
		if !byID[id].Bitfield.Has(chunkIdx) {
			continue
		}
		if used[id] >= slots[id] {
			continue
		}
		if id == avoid {
			if fallback == "" {
				fallback = id
			}
			continue
		}
		return id
	}
	return fallback
}

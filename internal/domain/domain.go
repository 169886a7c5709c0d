// Package domain holds the entities and value types of the Borg
// Replication core, shared by every other internal package. Types here
// carry no persistence or transport concerns; internal/store maps them to
// rows, internal/api maps them to wire JSON.
package domain

import "time"

// Priority is the effective replication policy resolved per (edge, repo).
type Priority int

const (
	PriorityImmediate Priority = 0 // P0
	PriorityScheduled Priority = 1 // P1
	PriorityOnDemand  Priority = 2 // P2
	PriorityLocalOnly Priority = 3 // P3
)

func (p Priority) Valid() bool {
	return p >= PriorityImmediate && p <= PriorityLocalOnly
}

func (p Priority) String() string {
	switch p {
	case PriorityImmediate:
		return "P0"
	case PriorityScheduled:
		return "P1"
	case PriorityOnDemand:
		return "P2"
	case PriorityLocalOnly:
		return "P3"
	default:
		return "unknown"
	}
}

// Artifact is an immutable, content-addressed blob. The replication core
// reads Artifact rows written by the registry; it never mutates them.
type Artifact struct {
	ID           string
	ByteSize     uint64
	WholeDigest  string // hex sha256
	ChunkSize    uint64 // fixed at publish
	TotalChunks  uint32
	CreatedAt    time.Time
}

// TotalChunksFor computes ceil(byteSize/chunkSize).
func TotalChunksFor(byteSize, chunkSize uint64) uint32 {
	if chunkSize == 0 {
		return 0
	}
	return uint32((byteSize + chunkSize - 1) / chunkSize)
}

// ChunkDescriptor is one entry of a chunk manifest.
type ChunkDescriptor struct {
	ArtifactID string
	Index      uint32
	ByteOffset uint64
	ByteLength uint64
	Digest     string // hex sha256
}

// EdgeStatus is the liveness status reported via heartbeat.
type EdgeStatus string

const (
	EdgeOnline   EdgeStatus = "online"
	EdgeSyncing  EdgeStatus = "syncing"
	EdgeDegraded EdgeStatus = "degraded"
	EdgeOffline  EdgeStatus = "offline"
)

// SyncWindow is a daily replication window in the edge's own timezone.
type SyncWindow struct {
	Start    time.Duration // offset from local midnight
	End      time.Duration
	Location *time.Location
}

// Contains reports whether the instant t, interpreted in the window's
// timezone, falls within [Start, End). A window with Start == End == 0 is
// treated as "always open" (no window configured).
func (w SyncWindow) Contains(t time.Time) bool {
	if w.Start == 0 && w.End == 0 {
		return true
	}
	loc := w.Location
	if loc == nil {
		loc = time.UTC
	}
	local := t.In(loc)
	midnight := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)
	offset := local.Sub(midnight)
	if w.Start <= w.End {
		return offset >= w.Start && offset < w.End
	}
	// window wraps past midnight
	return offset >= w.Start || offset < w.End
}

// EdgeNode is a replication target/source registered externally.
type EdgeNode struct {
	ID                 string
	Endpoint           string
	Region             string
	Status             EdgeStatus
	MaxUploadBPS       uint64
	MaxDownloadBPS     uint64
	SyncWindow         SyncWindow
	MaxConcurrency     int
	BytesTransferred   uint64
	ConsecutiveFailures int
	BackoffUntil       time.Time
	LastSeen           time.Time
	CacheUsedBytes     uint64
}

// IsLive reports whether last_heartbeat is within staleAfter and status
// is online or syncing.
func (e EdgeNode) IsLive(now time.Time, staleAfter time.Duration) bool {
	if now.Sub(e.LastSeen) > staleAfter {
		return false
	}
	return e.Status == EdgeOnline || e.Status == EdgeSyncing
}

// RepoAssignment binds an edge to a repository's replication policy.
type RepoAssignment struct {
	EdgeID            string
	RepoID            string
	SyncEnabled       bool
	PriorityOverride  *Priority
	Schedule          string // cron expression, used when effective == P1
	LastReplicatedAt  time.Time
}

// EffectivePriority resolves override ?? repoDefault.
func EffectivePriority(override *Priority, repoDefault Priority) Priority {
	if override != nil {
		return *override
	}
	return repoDefault
}

// SessionStatus is a TransferSession's lifecycle state.
type SessionStatus string

const (
	SessionPending   SessionStatus = "pending"
	SessionActive    SessionStatus = "active"
	SessionCompleted SessionStatus = "completed"
	SessionFailed    SessionStatus = "failed"
	SessionCancelled SessionStatus = "cancelled"
)

// TransferSession drives one (target, artifact) download to completion.
type TransferSession struct {
	ID             string
	ArtifactID     string
	TargetNode     string
	TotalChunks    uint32
	ChunkSize      uint64
	Status         SessionStatus
	ErrorMessage   string
	Attempts       int
	CreatedAt      time.Time
	CompletedAt    *time.Time
	ArtifactDigest string
}

// ChunkStatus is a TransferChunk's lifecycle state, matching the tagged
// variant in the design notes: Pending / Downloading / Verified / Failed.
type ChunkStatus string

const (
	ChunkPending     ChunkStatus = "pending"
	ChunkDownloading ChunkStatus = "downloading"
	ChunkVerified    ChunkStatus = "verified"
	ChunkFailed      ChunkStatus = "failed"
)

// TransferChunk is one chunk's progress within a session.
type TransferChunk struct {
	SessionID   string
	ChunkIndex  uint32
	Status      ChunkStatus
	SourcePeer  string
	Attempts    int
	LastError   string
	StartedAt   *time.Time
}

// ChunkAvailability is the authoritative (edge, artifact) -> bitfield row.
type ChunkAvailability struct {
	EdgeID         string
	ArtifactID     string
	Bitfield       []byte
	TotalChunks    uint32
	AvailableCount uint32
}

// PeerConnStatus is a PeerConnection's liveness state.
type PeerConnStatus string

const (
	PeerProbing     PeerConnStatus = "probing"
	PeerActive      PeerConnStatus = "active"
	PeerUnreachable PeerConnStatus = "unreachable"
	PeerDisabled    PeerConnStatus = "disabled"
)

// PeerConnection is a unidirectional (source, target) network metrics row.
type PeerConnection struct {
	Source       string
	Target       string
	LatencyMS    *float64
	BandwidthBPS *float64
	Status       PeerConnStatus
	LastProbedAt time.Time
	SuccessCount uint64
	FailureCount uint64
}

// SyncTask is a durable scheduler queue entry, keyed by (priority, enqueued
// order).
type SyncTask struct {
	ID                 string
	EdgeID             string
	ArtifactID         string
	SchedulingPriority int
	EnqueuedAt         time.Time
}

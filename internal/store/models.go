package store

import "time"

// Tables below mirror internal/domain's entities one-for-one
// plus the sync_tasks queue. Kept separate from internal/domain so
// the domain package stays free of gorm tags, matching its own doc
// comment ("no persistence or transport concerns").

type edgeNodeRow struct {
	ID                  string `gorm:"primaryKey"`
	Endpoint            string
	Region              string
	Status              string
	MaxUploadBPS        uint64
	MaxDownloadBPS      uint64
	SyncWindowStartSecs int64
	SyncWindowEndSecs   int64
	SyncWindowTZ        string
	MaxConcurrency      int
	BytesTransferred    uint64
	ConsecutiveFailures int
	BackoffUntil        time.Time
	LastSeen            time.Time
	CacheUsedBytes      uint64
}

func (edgeNodeRow) TableName() string { return "edge_nodes" }

type repoRow struct {
	ID                string `gorm:"primaryKey"`
	DefaultPriority   int
}

func (repoRow) TableName() string { return "repositories" }

type repoAssignmentRow struct {
	EdgeID           string `gorm:"primaryKey"`
	RepoID           string `gorm:"primaryKey"`
	SyncEnabled      bool
	PriorityOverride *int
	Schedule         string
	LastReplicatedAt time.Time
}

func (repoAssignmentRow) TableName() string { return "repo_assignments" }

type artifactRow struct {
	ID          string `gorm:"primaryKey"`
	ByteSize    uint64
	WholeDigest string
	ChunkSize   uint64
	TotalChunks uint32
	RepoID      string
	CreatedAt   time.Time
}

func (artifactRow) TableName() string { return "artifacts" }

type transferSessionRow struct {
	ID             string `gorm:"primaryKey"`
	ArtifactID     string `gorm:"index"`
	TargetNode     string `gorm:"index"`
	TotalChunks    uint32
	ChunkSize      uint64
	Status         string
	ErrorMessage   string
	Attempts       int
	CreatedAt      time.Time
	CompletedAt    *time.Time
	ArtifactDigest string
}

func (transferSessionRow) TableName() string { return "transfer_sessions" }

type transferChunkRow struct {
	SessionID  string `gorm:"primaryKey"`
	ChunkIndex uint32 `gorm:"primaryKey"`
	Status     string
	SourcePeer string
	Attempts   int
	LastError  string
	StartedAt  *time.Time
}

func (transferChunkRow) TableName() string { return "transfer_chunks" }

type chunkAvailabilityRow struct {
	EdgeID         string `gorm:"primaryKey"`
	ArtifactID     string `gorm:"primaryKey"`
	Bitfield       []byte
	TotalChunks    uint32
	AvailableCount uint32
}

func (chunkAvailabilityRow) TableName() string { return "chunk_availability" }

type peerConnectionRow struct {
	Source       string `gorm:"primaryKey"`
	Target       string `gorm:"primaryKey"`
	LatencyMS    *float64
	BandwidthBPS *float64
	Status       string
	LastProbedAt time.Time
	SuccessCount uint64
	FailureCount uint64
}

func (peerConnectionRow) TableName() string { return "peer_connections" }

type syncTaskRow struct {
	ID                 string `gorm:"primaryKey"`
	EdgeID             string `gorm:"index"`
	ArtifactID         string
	SchedulingPriority int `gorm:"index"`
	EnqueuedAt         time.Time
}

func (syncTaskRow) TableName() string { return "sync_tasks" }

// chunkBlobRow holds a session's verified chunk bytes, keyed the same way
// as transferChunkRow, so ChunkSink and Assembler can round-trip data
// without leaking a filesystem-cache concern into internal/transfer.
type chunkBlobRow struct {
	ArtifactID string `gorm:"primaryKey"`
	ChunkIndex uint32 `gorm:"primaryKey"`
	Data       []byte
}

func (chunkBlobRow) TableName() string { return "chunk_blobs" }

// chunkDescriptorRow persists one manifest.Manifest chunk entry so
// ManifestFor can reconstruct the full manifest without recomputing
// digests from the artifact bytes.
type chunkDescriptorRow struct {
	ArtifactID string `gorm:"primaryKey"`
	ChunkIndex uint32 `gorm:"primaryKey"`
	ByteOffset uint64
	ByteLength uint64
	Digest     string
}

func (chunkDescriptorRow) TableName() string { return "chunk_descriptors" }

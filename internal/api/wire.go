package api

// Wire request/response bodies for the REST surface. Field
// names use snake_case JSON tags to match the wire manifest form in
// internal/manifest.

type setPriorityRequest struct {
	Priority int `json:"priority"`
}

type assignRepoRequest struct {
	RepoID           string `json:"repo_id"`
	SyncEnabled      bool   `json:"sync_enabled"`
	PriorityOverride *int   `json:"priority_override"`
	Schedule         string `json:"schedule"`
}

type transferInitRequest struct {
	ArtifactID string `json:"artifact_id"`
}

type transferInitResponse struct {
	SessionID string `json:"session_id"`
	Status    string `json:"status"`
}

type sessionView struct {
	SessionID      string `json:"session_id"`
	ArtifactID     string `json:"artifact_id"`
	Status         string `json:"status"`
	TotalChunks    uint32 `json:"total_chunks"`
	ArtifactDigest string `json:"artifact_digest"`
	ErrorMessage   string `json:"error_message,omitempty"`
}

type verifyChunkRequest struct {
	SHA256   string `json:"sha256"`
	Verified bool   `json:"verified"`
}

type verifyChunkResponse struct {
	Verified bool `json:"verified"`
}

type completeTransferRequest struct {
	ArtifactSHA256 string `json:"artifact_sha256"`
}

type peerView struct {
	Target       string   `json:"target"`
	LatencyMS    *float64 `json:"latency_ms,omitempty"`
	BandwidthBPS *float64 `json:"bandwidth_bps,omitempty"`
	Status       string   `json:"status"`
}

type probeResultRequest struct {
	Target       string  `json:"target"`
	Success      bool    `json:"success"`
	LatencyMS    float64 `json:"latency_ms"`
	BandwidthBPS float64 `json:"bandwidth_bps"`
}

type availabilityView struct {
	Bitfield       string `json:"bitfield"`
	TotalChunks    uint32 `json:"total_chunks"`
	AvailableCount uint32 `json:"available_count"`
}

type putAvailabilityRequest struct {
	Bitfield    string `json:"bitfield"`
	TotalChunks uint32 `json:"total_chunks"`
}

type networkProfileRequest struct {
	MaxUploadBPS        uint64 `json:"max_upload_bps"`
	MaxDownloadBPS      uint64 `json:"max_download_bps"`
	MaxConcurrency      int    `json:"max_concurrency"`
	SyncWindowStartSecs int64  `json:"sync_window_start_secs"`
	SyncWindowEndSecs   int64  `json:"sync_window_end_secs"`
	SyncWindowTZ        string `json:"sync_window_tz"`
}

type heartbeatRequest struct {
	CacheUsedBytes uint64 `json:"cache_used_bytes"`
}

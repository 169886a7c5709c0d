package edgeclient

// DefaultChunkedTransferThreshold is the artifact size, in bytes, at or
// above which an edge should use the swarm chunked transfer engine instead
// of a single whole-artifact GET.
const DefaultChunkedTransferThreshold = 64 << 20 // 64 MiB

// ShouldUseChunkedTransfer decides, for one artifact, whether to route
// through the swarm engine (POST /transfer/init) or fall back to a simple
// whole-artifact download. chunkedEnabled lets an operator disable the
// swarm path entirely (e.g. an edge with no known edge id yet, which
// cannot be a chunk-serving peer for anyone else either).
func ShouldUseChunkedTransfer(artifactSize uint64, threshold uint64, chunkedEnabled bool) bool {
	if !chunkedEnabled {
		return false
	}
	if threshold == 0 {
		threshold = DefaultChunkedTransferThreshold
	}
	return artifactSize >= threshold
}

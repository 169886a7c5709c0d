package api

import "github.com/artifactkeeper/borgcore/internal/apierr"

func badPriority() error {
	return apierr.New(apierr.MalformedInput, "priority must be one of P0..P3 (0..3)")
}

func badChunkIndex() error {
	return apierr.New(apierr.MalformedInput, "chunk index must be a non-negative integer")
}

func missingArtifactID() error {
	return apierr.New(apierr.MalformedInput, "artifact_id query parameter is required")
}

func missingDigest() error {
	return apierr.New(apierr.MalformedInput, "sha256 query parameter is required")
}

func badByteSize() error {
	return apierr.New(apierr.MalformedInput, "byte_size query parameter must be a non-negative integer")
}

func badChunkSize() error {
	return apierr.New(apierr.MalformedInput, "chunk_size query parameter must be a non-negative integer")
}

package artifacts

import (
	"context"
	"io"
)

// Store persists model artifacts. Artifacts are content-immutable once
// written; a ref returned by Put never resolves to different bytes.
type Store interface {
	// Put stores an artifact and returns its opaque reference.
	Put(ctx context.Context, modelID, version string, artifact io.Reader) (string, error)
	// Fetch returns the artifact bytes for a reference.
	Fetch(ctx context.Context, ref string) ([]byte, error)
	// Delete removes a stored artifact.
	Delete(ctx context.Context, ref string) error
	// Exists reports whether a reference resolves to a stored artifact.
	Exists(ctx context.Context, ref string) (bool, error)
	// Ping verifies the backing storage is reachable.
	Ping(ctx context.Context) error
}

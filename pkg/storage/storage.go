// Package storage holds synthesized audio artifacts and serves them back to
// clients. Artifacts are flat files named by the pipeline ("resp_xxx.mp3",
// "stream_xxx_1.mp3"); backends cover local disk and S3-compatible object
// stores.
package storage

import (
	"context"
	"errors"
	"io"
	"path"
	"strings"
)

// ErrBadName rejects artifact names that are empty or contain path
// separators. Artifact names are flat by construction; anything else is a
// caller error, not a missing file.
var ErrBadName = errors.New("storage: invalid artifact name")

// ArtifactStore reads and writes named audio artifacts.
// Implementations must be safe for concurrent use.
type ArtifactStore interface {
	// Open returns the named artifact for reading. The caller closes the
	// returned reader. A missing artifact yields an error wrapping
	// os.ErrNotExist.
	Open(ctx context.Context, name string) (io.ReadCloser, error)

	// Put stores the artifact, replacing any previous content.
	Put(ctx context.Context, name string, r io.Reader) error

	// Delete removes the artifact. Deleting a missing artifact is a no-op.
	Delete(ctx context.Context, name string) error

	// Exists reports whether the artifact is present.
	Exists(ctx context.Context, name string) (bool, error)
}

// checkName validates a flat artifact name.
func checkName(name string) error {
	if name == "" || name == "." || name == ".." ||
		strings.ContainsAny(name, `/\`) {
		return ErrBadName
	}
	return nil
}

// ContentType maps an artifact name to its MIME type for serving.
func ContentType(name string) string {
	switch strings.ToLower(path.Ext(name)) {
	case ".mp3":
		return "audio/mpeg"
	case ".wav":
		return "audio/wav"
	case ".ogg":
		return "audio/ogg"
	case ".webm":
		return "audio/webm"
	default:
		return "application/octet-stream"
	}
}

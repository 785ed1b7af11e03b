// Package backend abstracts the storage providers that hold partition
// files. A backend exposes the capability set {Open, List, Exists, Health};
// concrete implementations exist for local filesystems, object stores and
// in-memory maps. Every read from the query pipeline goes through the
// Registry, which layers retries and cross-backend fallback on top.
package backend

import (
	"context"
	"io"
)

// Blob is an open, readable partition object. Random access and a known
// size are required by the columnar decoder.
type Blob interface {
	io.ReaderAt
	io.Closer

	// Size returns the object size in bytes.
	Size() int64
}

// Health describes the current condition of a backend.
type Health struct {
	Backend string   `json:"backend"`
	OK      bool     `json:"ok"`
	Issues  []string `json:"issues,omitempty"`
}

// Backend is a named provider of partition objects. Paths are POSIX-style
// forward-slashed and relative to the backend root. Implementations must be
// safe for concurrent use.
type Backend interface {
	// Name identifies the backend in logs and health reports.
	Name() string

	// Open opens the object at path. Missing objects yield
	// errors.ErrNotFound.
	Open(ctx context.Context, path string) (Blob, error)

	// List returns all object paths under prefix. A prefix with no objects
	// yields an empty slice, not an error.
	List(ctx context.Context, prefix string) ([]string, error)

	// Exists reports whether the object at path exists.
	Exists(ctx context.Context, path string) (bool, error)

	// Health probes the backend.
	Health(ctx context.Context) Health
}

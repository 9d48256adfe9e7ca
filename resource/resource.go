// Package resource manages array shard files that may live on a remote
// store. A Resource resolves to a local path through EnsureLocal, which
// downloads the file at most once per Store no matter how many callers ask
// for it concurrently.
package resource

import (
	"context"
	"errors"
	"os"
)

// ErrResourceUnavailable is returned when a resource is missing locally and
// cannot be fetched, either because it has no remote locator or because every
// fetch attempt failed.
var ErrResourceUnavailable = errors.New("resource unavailable")

// ErrNotFound is returned by fetchers when the remote object does not exist.
// It is not retried.
var ErrNotFound = errors.New("remote object not found")

// Descriptor names a shard file and, optionally, where to download it from.
type Descriptor struct {
	// Path is the local file. Relative paths resolve against the Store root.
	Path string `mapstructure:"path" validate:"required"`

	// Remote is a locator understood by one of the Store's fetchers, such as
	// https://host/file.npy, gs://bucket/object or file:///abs/path.
	Remote string `mapstructure:"remote"`

	// Checksum is an optional xxhash64 digest of the file contents. A fetched
	// file with a different digest is discarded.
	Checksum uint64 `mapstructure:"checksum"`

	// Unzip extracts a downloaded .zip archive next to Path.
	Unzip bool `mapstructure:"unzip"`
}

// Resource is a lazy handle to one shard file.
type Resource struct {
	desc  Descriptor
	path  string
	store *Store
}

// Path is the resolved local path, whether or not the file exists yet.
func (r *Resource) Path() string { return r.path }

// Descriptor returns the descriptor the resource was created from.
func (r *Resource) Descriptor() Descriptor { return r.desc }

// IsDownloaded reports whether the local file exists. It has no side effects.
func (r *Resource) IsDownloaded() bool {
	info, err := os.Stat(r.path)
	return err == nil && !info.IsDir()
}

// EnsureLocal returns the local path, fetching the file first if needed.
func (r *Resource) EnsureLocal(ctx context.Context) (string, error) {
	return r.store.ensureLocal(ctx, r)
}

// Local returns a resource for a file that is expected to exist already. It
// belongs to the package default store, which has no data root.
func Local(path string) *Resource {
	return defaultStore.Resource(Descriptor{Path: path})
}

var defaultStore = NewStore(Options{})

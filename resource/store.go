package resource

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/cespare/xxhash/v2"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"
)

// Options configure a Store.
type Options struct {
	// Root is the directory relative descriptor paths resolve against.
	Root string `mapstructure:"root"`

	// MaxTries bounds fetch attempts per EnsureLocal call. Zero means 3.
	MaxTries uint `mapstructure:"max_tries" validate:"lte=20"`

	// InitialBackoff is the first retry delay. Zero means 200ms.
	InitialBackoff time.Duration `mapstructure:"initial_backoff"`

	// MaxBackoff caps the retry delay. Zero means 5s.
	MaxBackoff time.Duration `mapstructure:"max_backoff"`
}

// Store resolves resources to local files. A single Store should be shared by
// every dataset and oracle that may reference the same files, since the
// at-most-one-fetch guarantee is per Store.
type Store struct {
	opts Options

	mu       sync.RWMutex
	fetchers map[string]Fetcher

	flight singleflight.Group
}

// NewStore creates a store with the file and http(s) fetchers registered.
func NewStore(opts Options) *Store {
	if opts.MaxTries == 0 {
		opts.MaxTries = 3
	}
	if opts.InitialBackoff == 0 {
		opts.InitialBackoff = 200 * time.Millisecond
	}
	if opts.MaxBackoff == 0 {
		opts.MaxBackoff = 5 * time.Second
	}
	s := &Store{
		opts:     opts,
		fetchers: make(map[string]Fetcher),
	}
	s.Register("file", FileFetcher{})
	web := NewHTTPFetcher(nil)
	s.Register("http", web)
	s.Register("https", web)
	return s
}

// Validate checks the options with their struct tags.
func (o Options) Validate() error {
	return validator.New().Struct(o)
}

// Register installs f for remote locators with the given URL scheme.
func (s *Store) Register(scheme string, f Fetcher) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fetchers[strings.ToLower(scheme)] = f
}

// Root is the directory relative paths resolve against.
func (s *Store) Root() string { return s.opts.Root }

// Resource returns a handle for d. Creating a handle performs no I/O.
func (s *Store) Resource(d Descriptor) *Resource {
	path := d.Path
	if !filepath.IsAbs(path) && s.opts.Root != "" {
		path = filepath.Join(s.opts.Root, path)
	}
	return &Resource{desc: d, path: filepath.Clean(path), store: s}
}

// Resources returns handles for every descriptor, preserving order.
func (s *Store) Resources(ds []Descriptor) []*Resource {
	out := make([]*Resource, len(ds))
	for i, d := range ds {
		out[i] = s.Resource(d)
	}
	return out
}

func (s *Store) fetcherFor(remote string) (Fetcher, error) {
	scheme := "file"
	if u, err := url.Parse(remote); err == nil && u.Scheme != "" && len(u.Scheme) > 1 {
		scheme = strings.ToLower(u.Scheme)
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	f, ok := s.fetchers[scheme]
	if !ok {
		return nil, fmt.Errorf("no fetcher registered for scheme %q", scheme)
	}
	return f, nil
}

func (s *Store) ensureLocal(ctx context.Context, r *Resource) (string, error) {
	if r.IsDownloaded() {
		return r.path, nil
	}
	if r.desc.Remote == "" {
		fetchTotal.WithLabelValues(outcomeMissing).Inc()
		return "", fmt.Errorf("%w: %s does not exist and has no remote locator", ErrResourceUnavailable, r.path)
	}

	// Callers asking for the same file share one fetch and its outcome. The
	// fetch outlives any single caller; each caller waits on its own ctx.
	shared := context.WithoutCancel(ctx)
	ch := s.flight.DoChan(r.path, func() (any, error) {
		if r.IsDownloaded() {
			return nil, nil
		}
		return nil, s.fetch(shared, r)
	})
	select {
	case <-ctx.Done():
		return "", fmt.Errorf("%w: waiting for %s: %v", ErrResourceUnavailable, r.path, ctx.Err())
	case res := <-ch:
		if res.Err != nil {
			return "", res.Err
		}
		if res.Shared {
			log.Debug().Str("path", r.path).Msg("joined in-flight fetch")
		}
		return r.path, nil
	}
}

func (s *Store) fetch(ctx context.Context, r *Resource) error {
	f, err := s.fetcherFor(r.desc.Remote)
	if err != nil {
		fetchTotal.WithLabelValues(outcomeFailure).Inc()
		return fmt.Errorf("%w: %v", ErrResourceUnavailable, err)
	}
	if err := os.MkdirAll(filepath.Dir(r.path), 0o755); err != nil {
		return fmt.Errorf("%w: failed to create directory for %s: %v", ErrResourceUnavailable, r.path, err)
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = s.opts.InitialBackoff
	b.MaxInterval = s.opts.MaxBackoff

	attempt := 0
	n, err := backoff.Retry(ctx, func() (int64, error) {
		attempt++
		n, err := s.fetchOnce(ctx, f, r)
		if err == nil {
			return n, nil
		}
		log.Warn().Err(err).Str("remote", r.desc.Remote).Int("attempt", attempt).Msg("fetch attempt failed")
		if errors.Is(err, ErrNotFound) || errors.Is(err, errChecksum) {
			return 0, backoff.Permanent(err)
		}
		return 0, err
	}, backoff.WithBackOff(b), backoff.WithMaxTries(s.opts.MaxTries))
	if err != nil {
		fetchTotal.WithLabelValues(outcomeFailure).Inc()
		return fmt.Errorf("%w: fetching %s: %v", ErrResourceUnavailable, r.desc.Remote, err)
	}

	fetchTotal.WithLabelValues(outcomeSuccess).Inc()
	fetchBytes.Add(float64(n))
	log.Info().Str("remote", r.desc.Remote).Str("path", r.path).Int64("bytes", n).Msg("fetched resource")

	if r.desc.Unzip && strings.HasSuffix(strings.ToLower(r.path), ".zip") {
		if err := unzip(r.path, filepath.Dir(r.path)); err != nil {
			// Without the archive the resource reads as missing and the next
			// call fetches and extracts again.
			os.Remove(r.path)
			return fmt.Errorf("%w: failed to unzip %s: %v", ErrResourceUnavailable, r.path, err)
		}
	}
	return nil
}

var errChecksum = errors.New("checksum mismatch")

// fetchOnce downloads into a temporary sibling of the target and renames it
// into place only after the copy and checksum succeed.
func (s *Store) fetchOnce(ctx context.Context, f Fetcher, r *Resource) (n int64, err error) {
	tmp, err := os.CreateTemp(filepath.Dir(r.path), filepath.Base(r.path)+".part-*")
	if err != nil {
		return 0, err
	}
	defer func() {
		if err != nil {
			tmp.Close()
			os.Remove(tmp.Name())
		}
	}()

	digest := xxhash.New()
	n, err = f.Fetch(ctx, r.desc.Remote, io.MultiWriter(tmp, digest))
	if err != nil {
		return 0, err
	}
	if r.desc.Checksum != 0 && digest.Sum64() != r.desc.Checksum {
		return 0, fmt.Errorf("%w: got %016x want %016x", errChecksum, digest.Sum64(), r.desc.Checksum)
	}
	if err = tmp.Sync(); err != nil {
		return 0, err
	}
	if err = tmp.Close(); err != nil {
		return 0, err
	}
	if err = os.Rename(tmp.Name(), r.path); err != nil {
		return 0, err
	}
	return n, nil
}

// Checksum returns the xxhash64 digest of a local file, suitable for
// Descriptor.Checksum.
func Checksum(path string) (uint64, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()
	d := xxhash.New()
	if _, err := io.Copy(d, f); err != nil {
		return 0, err
	}
	return d.Sum64(), nil
}

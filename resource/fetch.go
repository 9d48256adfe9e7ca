package resource

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"sync"

	"cloud.google.com/go/storage"
)

// Fetcher copies a remote object into w and returns the number of bytes
// written. Fetchers should wrap ErrNotFound when the object does not exist so
// the store stops retrying.
type Fetcher interface {
	Fetch(ctx context.Context, remote string, w io.Writer) (int64, error)
}

// FetcherFunc adapts a function to the Fetcher interface.
type FetcherFunc func(ctx context.Context, remote string, w io.Writer) (int64, error)

// Fetch calls f.
func (f FetcherFunc) Fetch(ctx context.Context, remote string, w io.Writer) (int64, error) {
	return f(ctx, remote, w)
}

// FileFetcher copies from the local filesystem. It accepts bare paths and
// file:// URLs.
type FileFetcher struct{}

// Fetch implements Fetcher.
func (FileFetcher) Fetch(_ context.Context, remote string, w io.Writer) (int64, error) {
	path := remote
	if strings.HasPrefix(remote, "file://") {
		u, err := url.Parse(remote)
		if err != nil {
			return 0, fmt.Errorf("invalid file locator %q: %w", remote, err)
		}
		path = u.Path
	}
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return 0, fmt.Errorf("%w: %s", ErrNotFound, path)
	}
	if err != nil {
		return 0, err
	}
	defer f.Close()
	return io.Copy(w, f)
}

// HTTPFetcher downloads with GET. 404 and 410 are reported as ErrNotFound;
// other non-2xx statuses are retryable.
type HTTPFetcher struct {
	Client *http.Client
}

// NewHTTPFetcher returns a fetcher using client, or http.DefaultClient when nil.
func NewHTTPFetcher(client *http.Client) *HTTPFetcher {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPFetcher{Client: client}
}

// Fetch implements Fetcher.
func (h *HTTPFetcher) Fetch(ctx context.Context, remote string, w io.Writer) (int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, remote, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to build request for %s: %w", remote, err)
	}
	resp, err := h.Client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone:
		return 0, fmt.Errorf("%w: %s returned %s", ErrNotFound, remote, resp.Status)
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return 0, fmt.Errorf("%s returned %s", remote, resp.Status)
	}
	return io.Copy(w, resp.Body)
}

// GCSFetcher reads gs://bucket/object locators from Google Cloud Storage.
// The client is created on first use with application default credentials
// unless one is supplied.
type GCSFetcher struct {
	mu     sync.Mutex
	client *storage.Client
}

// NewGCSFetcher wraps an existing client. Pass nil to create one lazily.
func NewGCSFetcher(client *storage.Client) *GCSFetcher {
	return &GCSFetcher{client: client}
}

func (g *GCSFetcher) storageClient(ctx context.Context) (*storage.Client, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.client != nil {
		return g.client, nil
	}
	c, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCS storage client: %w", err)
	}
	g.client = c
	return c, nil
}

// Fetch implements Fetcher.
func (g *GCSFetcher) Fetch(ctx context.Context, remote string, w io.Writer) (int64, error) {
	bucket, object, err := parseGCSLocator(remote)
	if err != nil {
		return 0, err
	}
	client, err := g.storageClient(ctx)
	if err != nil {
		return 0, err
	}
	r, err := client.Bucket(bucket).Object(object).NewReader(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) || errors.Is(err, storage.ErrBucketNotExist) {
		return 0, fmt.Errorf("%w: %s", ErrNotFound, remote)
	}
	if err != nil {
		return 0, fmt.Errorf("failed to open %s: %w", remote, err)
	}
	defer r.Close()
	return io.Copy(w, r)
}

// Close releases the underlying client if one was created.
func (g *GCSFetcher) Close() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.client == nil {
		return nil
	}
	err := g.client.Close()
	g.client = nil
	return err
}

func parseGCSLocator(remote string) (bucket, object string, err error) {
	u, err := url.Parse(remote)
	if err != nil {
		return "", "", fmt.Errorf("invalid gcs locator %q: %w", remote, err)
	}
	if u.Scheme != "gs" || u.Host == "" || len(u.Path) < 2 {
		return "", "", fmt.Errorf("%w: invalid gcs locator %q", ErrNotFound, remote)
	}
	return u.Host, strings.TrimPrefix(u.Path, "/"), nil
}

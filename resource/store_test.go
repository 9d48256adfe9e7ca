package resource

import (
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	return NewStore(Options{
		Root:           t.TempDir(),
		MaxTries:       3,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     5 * time.Millisecond,
	})
}

func TestEnsureLocalExistingFile(t *testing.T) {
	s := newTestStore(t)
	path := filepath.Join(s.Root(), "x-0.arr")
	require.NoError(t, os.WriteFile(path, []byte("data"), 0o644))

	r := s.Resource(Descriptor{Path: "x-0.arr"})
	assert.Equal(t, path, r.Path())
	assert.True(t, r.IsDownloaded())

	got, err := r.EnsureLocal(context.Background())
	require.NoError(t, err)
	assert.Equal(t, path, got)
}

func TestEnsureLocalWithoutRemoteIsUnavailable(t *testing.T) {
	s := newTestStore(t)
	r := s.Resource(Descriptor{Path: "missing.arr"})
	assert.False(t, r.IsDownloaded())

	before := testutil.ToFloat64(fetchTotal.WithLabelValues(outcomeMissing))
	_, err := r.EnsureLocal(context.Background())
	require.ErrorIs(t, err, ErrResourceUnavailable)
	assert.Equal(t, before+1, testutil.ToFloat64(fetchTotal.WithLabelValues(outcomeMissing)))
	assert.False(t, r.IsDownloaded())
}

// TestEnsureLocalFetchesOnceUnderConcurrency starts many callers for the same
// resource and checks that the fetcher runs exactly once.
func TestEnsureLocalFetchesOnceUnderConcurrency(t *testing.T) {
	s := newTestStore(t)
	var calls int32
	s.Register("mem", FetcherFunc(func(_ context.Context, remote string, w io.Writer) (int64, error) {
		atomic.AddInt32(&calls, 1)
		time.Sleep(50 * time.Millisecond)
		n, err := io.WriteString(w, "payload:"+remote)
		return int64(n), err
	}))

	desc := Descriptor{Path: "shards/y-3.arr", Remote: "mem://bucket/y-3.arr"}
	const callers = 16
	var wg sync.WaitGroup
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			// separate handles for the same logical resource
			_, errs[i] = s.Resource(desc).EnsureLocal(context.Background())
		}(i)
	}
	wg.Wait()

	for _, err := range errs {
		require.NoError(t, err)
	}
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))

	data, err := os.ReadFile(filepath.Join(s.Root(), "shards/y-3.arr"))
	require.NoError(t, err)
	assert.Equal(t, "payload:mem://bucket/y-3.arr", string(data))

	// later calls find the file and never fetch again
	_, err = s.Resource(desc).EnsureLocal(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestEnsureLocalRetriesTransientFailures(t *testing.T) {
	s := newTestStore(t)
	var calls int32
	s.Register("flaky", FetcherFunc(func(_ context.Context, _ string, w io.Writer) (int64, error) {
		if atomic.AddInt32(&calls, 1) < 3 {
			io.WriteString(w, "partial")
			return 0, errors.New("connection reset")
		}
		n, err := io.WriteString(w, "complete")
		return int64(n), err
	}))

	r := s.Resource(Descriptor{Path: "x.arr", Remote: "flaky://x"})
	path, err := r.EnsureLocal(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int32(3), calls)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "complete", string(data))
	assertNoPartFiles(t, s.Root())
}

// TestFailedFetchLeavesNoFile exhausts the retry budget and verifies neither
// the target nor a temporary file remains.
func TestFailedFetchLeavesNoFile(t *testing.T) {
	s := newTestStore(t)
	var calls int32
	s.Register("down", FetcherFunc(func(_ context.Context, _ string, w io.Writer) (int64, error) {
		atomic.AddInt32(&calls, 1)
		io.WriteString(w, "half a shard")
		return 0, errors.New("503 service unavailable")
	}))

	r := s.Resource(Descriptor{Path: "x.arr", Remote: "down://x"})
	_, err := r.EnsureLocal(context.Background())
	require.ErrorIs(t, err, ErrResourceUnavailable)
	assert.Equal(t, int32(3), calls)
	assert.False(t, r.IsDownloaded())
	assertNoPartFiles(t, s.Root())

	// the failure is retryable by a later call
	_, err = r.EnsureLocal(context.Background())
	require.ErrorIs(t, err, ErrResourceUnavailable)
	assert.Equal(t, int32(6), calls)
}

func TestNotFoundIsNotRetried(t *testing.T) {
	s := newTestStore(t)
	src := filepath.Join(t.TempDir(), "nope.arr")
	r := s.Resource(Descriptor{Path: "x.arr", Remote: "file://" + src})
	_, err := r.EnsureLocal(context.Background())
	require.ErrorIs(t, err, ErrResourceUnavailable)
	assert.Contains(t, err.Error(), ErrNotFound.Error())
}

func TestChecksumMismatchRejectsDownload(t *testing.T) {
	s := newTestStore(t)
	src := filepath.Join(t.TempDir(), "src.arr")
	require.NoError(t, os.WriteFile(src, []byte("shard bytes"), 0o644))

	bad := s.Resource(Descriptor{Path: "bad.arr", Remote: src, Checksum: 42})
	_, err := bad.EnsureLocal(context.Background())
	require.ErrorIs(t, err, ErrResourceUnavailable)
	assert.False(t, bad.IsDownloaded())

	sum, err := Checksum(src)
	require.NoError(t, err)
	assert.Equal(t, xxhash.Sum64String("shard bytes"), sum)

	good := s.Resource(Descriptor{Path: "good.arr", Remote: src, Checksum: sum})
	_, err = good.EnsureLocal(context.Background())
	require.NoError(t, err)
	assert.True(t, good.IsDownloaded())
}

func TestHTTPFetcher(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/utr/utr-x-0.arr" {
			io.WriteString(w, "remote shard")
			return
		}
		http.NotFound(w, r)
	}))
	defer srv.Close()

	s := newTestStore(t)
	r := s.Resource(Descriptor{Path: "utr/utr-x-0.arr", Remote: srv.URL + "/utr/utr-x-0.arr"})
	path, err := r.EnsureLocal(context.Background())
	require.NoError(t, err)
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "remote shard", string(data))

	missing := s.Resource(Descriptor{Path: "utr/utr-y-0.arr", Remote: srv.URL + "/utr/utr-y-0.arr"})
	_, err = missing.EnsureLocal(context.Background())
	require.ErrorIs(t, err, ErrResourceUnavailable)
}

func TestUnzipAfterFetch(t *testing.T) {
	src := filepath.Join(t.TempDir(), "bundle.zip")
	f, err := os.Create(src)
	require.NoError(t, err)
	zw := zip.NewWriter(f)
	for i := 0; i < 2; i++ {
		w, err := zw.Create(fmt.Sprintf("bundle/x-%d.csv", i))
		require.NoError(t, err)
		io.WriteString(w, "a\n1\n")
	}
	require.NoError(t, zw.Close())
	require.NoError(t, f.Close())

	s := newTestStore(t)
	r := s.Resource(Descriptor{Path: "bundle.zip", Remote: src, Unzip: true})
	_, err = r.EnsureLocal(context.Background())
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		_, err := os.Stat(filepath.Join(s.Root(), "bundle", fmt.Sprintf("x-%d.csv", i)))
		assert.NoError(t, err)
	}
}

// TestFailedUnzipIsRetried serves a corrupt archive first and checks that the
// archive is dropped so the next call fetches and extracts again.
func TestFailedUnzipIsRetried(t *testing.T) {
	var good bytes.Buffer
	zw := zip.NewWriter(&good)
	w, err := zw.Create("bundle/y-0.csv")
	require.NoError(t, err)
	io.WriteString(w, "score\n1\n")
	require.NoError(t, zw.Close())

	s := newTestStore(t)
	var calls int32
	s.Register("mem", FetcherFunc(func(_ context.Context, _ string, w io.Writer) (int64, error) {
		body := []byte("truncated archive")
		if atomic.AddInt32(&calls, 1) > 1 {
			body = good.Bytes()
		}
		n, err := w.Write(body)
		return int64(n), err
	}))

	r := s.Resource(Descriptor{Path: "bundle.zip", Remote: "mem://bundle.zip", Unzip: true})
	_, err = r.EnsureLocal(context.Background())
	require.ErrorIs(t, err, ErrResourceUnavailable)
	assert.False(t, r.IsDownloaded())

	_, err = r.EnsureLocal(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
	_, err = os.Stat(filepath.Join(s.Root(), "bundle", "y-0.csv"))
	assert.NoError(t, err)
}

// TestCancelledCallerDoesNotFailOthers cancels the caller that started a fetch
// while a second caller waits on it; only the cancelled caller gives up.
func TestCancelledCallerDoesNotFailOthers(t *testing.T) {
	s := newTestStore(t)
	started := make(chan struct{})
	release := make(chan struct{})
	var calls int32
	s.Register("slow", FetcherFunc(func(ctx context.Context, _ string, w io.Writer) (int64, error) {
		if atomic.AddInt32(&calls, 1) == 1 {
			close(started)
		}
		select {
		case <-release:
		case <-ctx.Done():
			return 0, ctx.Err()
		}
		n, err := io.WriteString(w, "shard")
		return int64(n), err
	}))
	desc := Descriptor{Path: "x.arr", Remote: "slow://x"}

	ctx, cancel := context.WithCancel(context.Background())
	firstErr := make(chan error, 1)
	go func() {
		_, err := s.Resource(desc).EnsureLocal(ctx)
		firstErr <- err
	}()
	<-started

	secondErr := make(chan error, 1)
	go func() {
		_, err := s.Resource(desc).EnsureLocal(context.Background())
		secondErr <- err
	}()
	time.Sleep(20 * time.Millisecond)

	cancel()
	require.ErrorIs(t, <-firstErr, ErrResourceUnavailable)
	close(release)
	require.NoError(t, <-secondErr)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
	assert.True(t, s.Resource(desc).IsDownloaded())
}

func TestParseGCSLocator(t *testing.T) {
	bucket, object, err := parseGCSLocator("gs://design-bench/utr/utr-x-0.npy")
	require.NoError(t, err)
	assert.Equal(t, "design-bench", bucket)
	assert.Equal(t, "utr/utr-x-0.npy", object)

	_, _, err = parseGCSLocator("gs://bucket-only")
	require.Error(t, err)
}

func assertNoPartFiles(t *testing.T, dir string) {
	t.Helper()
	filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err == nil && strings.Contains(filepath.Base(path), ".part-") {
			t.Errorf("temporary file left behind: %s", path)
		}
		return nil
	})
}

package source

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/heimdex/heimdex-matting/internal/pathpolicy"
)

func newTestResolver(opts Options) *Resolver {
	if opts.MaxAttempts == 0 {
		opts.MaxAttempts = 3
	}
	if opts.Timeout == 0 {
		opts.Timeout = 5 * time.Second
	}
	opts.RetryInterval = time.Millisecond
	return NewResolver(opts)
}

func TestResolve_HTTPDownload(t *testing.T) {
	t.Parallel()

	payload := []byte("fake mp4 bytes")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(payload)
	}))
	defer srv.Close()

	scratch := t.TempDir()
	res, err := newTestResolver(Options{}).Resolve(context.Background(), srv.URL+"/clip.mp4", scratch)
	require.NoError(t, err)

	assert.True(t, res.Owned)
	assert.Equal(t, filepath.Join(scratch, InputFilename), res.Path)
	got, err := os.ReadFile(res.Path)
	require.NoError(t, err)
	assert.Equal(t, payload, got)
}

func TestResolve_HTTPClientErrorIsNotRetried(t *testing.T) {
	t.Parallel()

	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		http.NotFound(w, r)
	}))
	defer srv.Close()

	scratch := t.TempDir()
	_, err := newTestResolver(Options{}).Resolve(context.Background(), srv.URL+"/missing.mp4", scratch)

	var fe *FetchError
	require.True(t, errors.As(err, &fe), "want *FetchError, got %v", err)
	assert.Equal(t, http.StatusNotFound, fe.StatusCode)
	assert.Equal(t, int32(1), hits.Load())

	entries, err := os.ReadDir(scratch)
	require.NoError(t, err)
	assert.Empty(t, entries, "no partial file may remain")
}

func TestResolve_HTTPServerErrorIsRetried(t *testing.T) {
	t.Parallel()

	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte("ok"))
	}))
	defer srv.Close()

	res, err := newTestResolver(Options{MaxAttempts: 3}).Resolve(context.Background(), srv.URL, t.TempDir())
	require.NoError(t, err)
	assert.True(t, res.Owned)
	assert.Equal(t, int32(3), hits.Load())
}

func TestResolve_HTTPRetriesExhausted(t *testing.T) {
	t.Parallel()

	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	_, err := newTestResolver(Options{MaxAttempts: 2}).Resolve(context.Background(), srv.URL, t.TempDir())

	var fe *FetchError
	require.True(t, errors.As(err, &fe))
	assert.Equal(t, http.StatusBadGateway, fe.StatusCode)
	assert.Equal(t, int32(2), hits.Load())
}

func TestResolve_HTTPTooLarge(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// No Content-Length: force the streaming limit to trip.
		w.(http.Flusher).Flush()
		_, _ = w.Write([]byte(strings.Repeat("x", 64)))
	}))
	defer srv.Close()

	scratch := t.TempDir()
	_, err := newTestResolver(Options{MaxBytes: 16}).Resolve(context.Background(), srv.URL, scratch)

	var fe *FetchError
	require.True(t, errors.As(err, &fe))
	assert.False(t, fe.IsRetryable())
	_, statErr := os.Stat(filepath.Join(scratch, InputFilename))
	assert.True(t, os.IsNotExist(statErr), "partial download must be removed")
}

func TestResolve_HTTPUnreachable(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	_, err := newTestResolver(Options{MaxAttempts: 1}).Resolve(context.Background(), url, t.TempDir())
	var fe *FetchError
	require.True(t, errors.As(err, &fe))
	assert.Zero(t, fe.StatusCode)
}

func TestResolve_LocalPath(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	input := filepath.Join(dir, "clip.mp4")
	require.NoError(t, os.WriteFile(input, []byte("x"), 0o644))

	res, err := newTestResolver(Options{}).Resolve(context.Background(), input, t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, input, res.Path)
	assert.False(t, res.Owned)

	// Caller-owned files are never touched.
	_, err = os.Stat(input)
	assert.NoError(t, err)
}

func TestResolve_LocalMissing(t *testing.T) {
	t.Parallel()

	tests := []string{
		"/nonexistent/x.mp4",
		"",
	}
	for _, input := range tests {
		_, err := newTestResolver(Options{}).Resolve(context.Background(), input, t.TempDir())
		assert.ErrorIs(t, err, ErrNotFound, "input %q", input)
	}
}

func TestResolve_LocalOutsideAllowList(t *testing.T) {
	t.Parallel()

	allowed := t.TempDir()
	other := t.TempDir()
	input := filepath.Join(other, "clip.mp4")
	require.NoError(t, os.WriteFile(input, []byte("x"), 0o644))

	policy, err := pathpolicy.New([]string{allowed})
	require.NoError(t, err)

	_, err = newTestResolver(Options{Policy: policy}).Resolve(context.Background(), input, t.TempDir())
	assert.ErrorIs(t, err, ErrForbidden)
}

type fakeObjectStore struct {
	objects map[string][]byte
	calls   atomic.Int32
}

func (f *fakeObjectStore) Download(ctx context.Context, bucket, key, dst string) error {
	f.calls.Add(1)
	data, ok := f.objects[bucket+"/"+key]
	if !ok {
		return errObjectMissing
	}
	return os.WriteFile(dst, data, 0o644)
}

func TestResolve_ObjectStorage(t *testing.T) {
	t.Parallel()

	store := &fakeObjectStore{objects: map[string][]byte{"media/in/clip.mp4": []byte("s3 bytes")}}
	r := newTestResolver(Options{Objects: store})

	scratch := t.TempDir()
	res, err := r.Resolve(context.Background(), "s3://media/in/clip.mp4", scratch)
	require.NoError(t, err)
	assert.True(t, res.Owned)
	assert.Equal(t, filepath.Join(scratch, InputFilename), res.Path)

	_, err = r.Resolve(context.Background(), "s3://media/missing.mp4", t.TempDir())
	var fe *FetchError
	require.True(t, errors.As(err, &fe))
	assert.False(t, fe.IsRetryable())
}

func TestResolve_ObjectStorageErrorHidesQuery(t *testing.T) {
	t.Parallel()

	store := &fakeObjectStore{objects: map[string][]byte{}}
	r := newTestResolver(Options{Objects: store})

	_, err := r.Resolve(context.Background(), "s3://media/clip.mp4?X-Amz-Signature=topsecret", t.TempDir())
	var fe *FetchError
	require.True(t, errors.As(err, &fe))
	assert.Equal(t, "s3://media/clip.mp4", fe.Source)
	assert.NotContains(t, err.Error(), "topsecret")
}

func TestResolve_SchemeIsCaseSensitive(t *testing.T) {
	t.Parallel()

	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
	}))
	defer srv.Close()

	upper := "HTTP://" + strings.TrimPrefix(srv.URL, "http://") + "/clip.mp4"
	_, err := newTestResolver(Options{}).Resolve(context.Background(), upper, t.TempDir())
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Zero(t, hits.Load(), "uppercase scheme is treated as a local path")
}

func TestResolve_ObjectStorageDisabledFallsBackToLocal(t *testing.T) {
	t.Parallel()

	_, err := newTestResolver(Options{}).Resolve(context.Background(), "s3://media/clip.mp4", t.TempDir())
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestParseObjectURL(t *testing.T) {
	t.Parallel()

	bucket, key, err := parseObjectURL("s3://media/a/b.mp4")
	require.NoError(t, err)
	assert.Equal(t, "media", bucket)
	assert.Equal(t, "a/b.mp4", key)

	_, _, err = parseObjectURL("s3://media")
	assert.Error(t, err)
}

func TestFetchError_IsRetryable(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  *FetchError
		want bool
	}{
		{"500", &FetchError{StatusCode: 500}, true},
		{"503", &FetchError{StatusCode: 503}, true},
		{"404", &FetchError{StatusCode: 404}, false},
		{"transport", &FetchError{Err: errors.New("connection reset")}, true},
		{"too large", &FetchError{Err: errTooLarge}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.err.IsRetryable())
		})
	}
}

package delivery

import (
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeArtifact(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "composition.mp4")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestStream_FullBody(t *testing.T) {
	path := writeArtifact(t, "0123456789")

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/matting", nil)
	require.NoError(t, NewStreamer(nil).Stream(rec, req, path, "video/mp4", "composition.mp4"))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "video/mp4", rec.Header().Get("Content-Type"))
	assert.Equal(t, `attachment; filename="composition.mp4"`, rec.Header().Get("Content-Disposition"))
	assert.Equal(t, "10", rec.Header().Get("Content-Length"))
	assert.Equal(t, "0123456789", rec.Body.String())
}

func TestStream_Range(t *testing.T) {
	path := writeArtifact(t, "0123456789")

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Range", "bytes=2-4")
	require.NoError(t, NewStreamer(nil).Stream(rec, req, path, "video/mp4", "composition.mp4"))

	assert.Equal(t, http.StatusPartialContent, rec.Code)
	assert.Equal(t, "bytes 2-4/10", rec.Header().Get("Content-Range"))
	assert.Equal(t, "234", rec.Body.String())
}

func TestStream_RangeIgnoredOnPost(t *testing.T) {
	path := writeArtifact(t, "0123456789")

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/matting", nil)
	req.Header.Set("Range", "bytes=2-4")
	require.NoError(t, NewStreamer(nil).Stream(rec, req, path, "video/mp4", "composition.mp4"))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, rec.Header().Get("Content-Range"))
	assert.Equal(t, "0123456789", rec.Body.String())
}

func TestStream_UnsatisfiableRangeIgnoredOnPost(t *testing.T) {
	path := writeArtifact(t, "0123456789")

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/matting", nil)
	req.Header.Set("Range", "bytes=50-")
	require.NoError(t, NewStreamer(nil).Stream(rec, req, path, "video/mp4", "composition.mp4"))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "0123456789", rec.Body.String())
}

func TestContentDisposition_EscapesQuotes(t *testing.T) {
	assert.Equal(t, `attachment; filename="composition.zip"`, contentDisposition("composition.zip"))
	assert.Equal(t, `attachment; filename="a\"b.zip"`, contentDisposition(`a"b.zip`))
}

func TestStream_Unsatisfiable(t *testing.T) {
	path := writeArtifact(t, "0123456789")

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Range", "bytes=50-")
	require.NoError(t, NewStreamer(nil).Stream(rec, req, path, "video/mp4", "composition.mp4"))

	assert.Equal(t, http.StatusRequestedRangeNotSatisfiable, rec.Code)
	assert.Equal(t, "bytes */10", rec.Header().Get("Content-Range"))
}

func TestStream_MissingFile(t *testing.T) {
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	err := NewStreamer(nil).Stream(rec, req, filepath.Join(t.TempDir(), "nope"), "video/mp4", "composition.mp4")
	assert.Error(t, err)
	assert.Empty(t, rec.Header().Get("Content-Type"), "no headers before a failed open")
}

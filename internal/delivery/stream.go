// Package delivery streams packaged artifacts to HTTP clients as
// attachments, with single-range support for resumable downloads.
package delivery

import (
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"strings"
)

// Streamer writes artifact files to HTTP responses.
type Streamer struct {
	logger *slog.Logger
}

func NewStreamer(logger *slog.Logger) *Streamer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Streamer{logger: logger}
}

// Stream sends the file at path with the given content type, offered for
// download as filename. Errors before any byte is written are returned so
// the caller can still send an error response; errors mid-body are logged.
func (s *Streamer) Stream(w http.ResponseWriter, r *http.Request, path, contentType, filename string) error {
	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open artifact: %w", err)
	}
	defer file.Close()

	stat, err := file.Stat()
	if err != nil {
		return fmt.Errorf("failed to stat artifact: %w", err)
	}
	size := stat.Size()

	h := w.Header()
	h.Set("Content-Type", contentType)
	h.Set("Content-Disposition", contentDisposition(filename))
	h.Set("Accept-Ranges", "bytes")

	// Range only applies to GET; any other method gets the whole artifact.
	var parsed *Range
	if r.Method == http.MethodGet {
		parsed, err = ParseRange(r.Header.Get("Range"), size)
	}
	if err == ErrUnsatisfiable {
		h.Set("Content-Range", fmt.Sprintf("bytes */%d", size))
		w.WriteHeader(http.StatusRequestedRangeNotSatisfiable)
		return nil
	}
	// A malformed Range header is ignored and the full body sent.
	if parsed == nil {
		h.Set("Content-Length", strconv.FormatInt(size, 10))
		w.WriteHeader(http.StatusOK)
		if r.Method != http.MethodHead {
			s.copy(w, file, size)
		}
		return nil
	}

	h.Set("Content-Length", strconv.FormatInt(parsed.ContentLength(), 10))
	h.Set("Content-Range", parsed.ContentRange(size))
	w.WriteHeader(http.StatusPartialContent)

	if _, err := file.Seek(parsed.Start, io.SeekStart); err != nil {
		s.logger.Warn("failed to seek artifact", "error", err)
		return nil
	}
	if r.Method != http.MethodHead {
		s.copy(w, file, parsed.ContentLength())
	}
	return nil
}

// contentDisposition always quotes the filename parameter.
func contentDisposition(filename string) string {
	quoted := strings.NewReplacer(`\`, `\\`, `"`, `\"`).Replace(filename)
	return `attachment; filename="` + quoted + `"`
}

func (s *Streamer) copy(w io.Writer, src io.Reader, n int64) {
	if written, err := io.CopyN(w, src, n); err != nil {
		s.logger.Warn("artifact stream interrupted", "written", written, "want", n, "error", err)
	}
}

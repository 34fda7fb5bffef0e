// Package packager turns the engine's composition output into a single
// servable artifact: the video file itself, or a zip of a frame directory.
package packager

import (
	"archive/zip"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/heimdex/heimdex-matting/internal/logging"
)

const (
	ContentTypeVideo = "video/mp4"
	ContentTypeZip   = "application/zip"

	VideoFilename = "composition.mp4"
	ZipFilename   = "composition.zip"
)

// ErrMissingOutput means the engine did not leave a composition output.
var ErrMissingOutput = errors.New("composition output missing")

// Artifact is a file ready to be streamed to the caller.
type Artifact struct {
	Path        string
	ContentType string
	Filename    string
	Size        int64

	// Generated is set when the packager wrote Path itself rather than
	// passing the engine output through.
	Generated bool
}

// Packager packages composition outputs.
type Packager struct {
	logger *slog.Logger
}

func New(logger *slog.Logger) *Packager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Packager{logger: logging.WithComponent(logger, "packager")}
}

// Package returns the artifact for compositionPath. Video outputs are
// served as is; any other output type must be a directory and is zipped to
// <compositionPath>.zip with entries sorted by relative path.
func (p *Packager) Package(compositionPath, outputType string) (Artifact, error) {
	info, err := os.Stat(compositionPath)
	if err != nil {
		return Artifact{}, fmt.Errorf("%w: %v", ErrMissingOutput, err)
	}

	if outputType == "video" {
		if !info.Mode().IsRegular() {
			return Artifact{}, fmt.Errorf("%w: video output is not a file", ErrMissingOutput)
		}
		return Artifact{
			Path:        compositionPath,
			ContentType: ContentTypeVideo,
			Filename:    VideoFilename,
			Size:        info.Size(),
		}, nil
	}

	if !info.IsDir() {
		return Artifact{}, fmt.Errorf("%w: %s output is not a directory", ErrMissingOutput, outputType)
	}

	zipPath := compositionPath + ".zip"
	n, err := ZipDir(compositionPath, zipPath)
	if err != nil {
		return Artifact{}, err
	}
	zi, err := os.Stat(zipPath)
	if err != nil {
		return Artifact{}, fmt.Errorf("stat archive: %w", err)
	}

	p.logger.Info("packaged frame sequence", "entries", n, "bytes", zi.Size())
	return Artifact{
		Path:        zipPath,
		ContentType: ContentTypeZip,
		Filename:    ZipFilename,
		Size:        zi.Size(),
		Generated:   true,
	}, nil
}

// storedExts are already compressed; deflating them again wastes CPU.
var storedExts = map[string]bool{
	".png": true, ".jpg": true, ".jpeg": true, ".webp": true, ".mp4": true,
}

// ZipDir writes every regular file under dir into a zip at dst, named by
// slash-separated path relative to dir, in sorted order. It returns the
// number of entries. dst is written via a temporary file and renamed.
func ZipDir(dir, dst string) (int, error) {
	var files []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.Type().IsRegular() {
			rel, err := filepath.Rel(dir, path)
			if err != nil {
				return err
			}
			files = append(files, filepath.ToSlash(rel))
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("walk %s: %w", filepath.Base(dir), err)
	}
	sort.Strings(files)

	tmp := dst + ".tmp"
	out, err := os.Create(tmp)
	if err != nil {
		return 0, fmt.Errorf("create archive: %w", err)
	}

	zw := zip.NewWriter(out)
	for _, name := range files {
		if err := addFile(zw, dir, name); err != nil {
			zw.Close()
			out.Close()
			os.Remove(tmp)
			return 0, err
		}
	}
	if err := zw.Close(); err != nil {
		out.Close()
		os.Remove(tmp)
		return 0, fmt.Errorf("finalise archive: %w", err)
	}
	if err := out.Close(); err != nil {
		os.Remove(tmp)
		return 0, fmt.Errorf("close archive: %w", err)
	}
	if err := os.Rename(tmp, dst); err != nil {
		os.Remove(tmp)
		return 0, fmt.Errorf("rename archive: %w", err)
	}
	return len(files), nil
}

func addFile(zw *zip.Writer, dir, name string) error {
	f, err := os.Open(filepath.Join(dir, filepath.FromSlash(name)))
	if err != nil {
		return fmt.Errorf("open %s: %w", name, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("stat %s: %w", name, err)
	}

	hdr, err := zip.FileInfoHeader(info)
	if err != nil {
		return fmt.Errorf("header %s: %w", name, err)
	}
	hdr.Name = name
	hdr.Method = zip.Deflate
	if storedExts[strings.ToLower(filepath.Ext(name))] {
		hdr.Method = zip.Store
	}

	w, err := zw.CreateHeader(hdr)
	if err != nil {
		return fmt.Errorf("add %s: %w", name, err)
	}
	if _, err := io.Copy(w, f); err != nil {
		return fmt.Errorf("write %s: %w", name, err)
	}
	return nil
}

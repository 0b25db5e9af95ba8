// Package compress turns one staged input file into an archive in the format
// the job asked for.
package compress

import (
	"archive/tar"
	"archive/zip"
	"compress/flate"
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/cuongbtq/compression-service/internal/domain"
)

// Extension returns the result file extension for algorithm, including the dot
func Extension(algorithm string, params domain.Params) (string, error) {
	switch algorithm {
	case "zip":
		return ".zip", nil
	case "gzip":
		return ".gz", nil
	case "tar":
		if params.Bool("gzip", false) {
			return ".tar.gz", nil
		}
		return ".tar", nil
	}
	return "", domain.NewValidationError("algorithm", fmt.Sprintf("unsupported algorithm %q", algorithm))
}

// File compresses src into dst. entryName is the name the input gets inside
// the archive. dst is written through a temporary file and renamed, so a
// reader never sees a partial result.
func File(ctx context.Context, algorithm string, params domain.Params, src, dst, entryName string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("failed to open input: %w", err)
	}
	defer in.Close()

	info, err := in.Stat()
	if err != nil {
		return fmt.Errorf("failed to stat input: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(dst), ".partial-*")
	if err != nil {
		return fmt.Errorf("failed to create output: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	r := &contextReader{ctx: ctx, r: in}

	switch algorithm {
	case "zip":
		err = writeZip(tmp, r, entryName, info.ModTime(), params.Int("level", flate.DefaultCompression))
	case "gzip":
		err = writeGzip(tmp, r, entryName, info.ModTime(), params.Int("level", gzip.DefaultCompression))
	case "tar":
		err = writeTar(tmp, r, entryName, info, params.Bool("gzip", false), params.Int("level", gzip.DefaultCompression))
	default:
		err = domain.NewValidationError("algorithm", fmt.Sprintf("unsupported algorithm %q", algorithm))
	}
	if err != nil {
		tmp.Close()
		return err
	}

	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to flush output: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close output: %w", err)
	}
	if err := os.Rename(tmpName, dst); err != nil {
		return fmt.Errorf("failed to publish output: %w", err)
	}
	return nil
}

func writeZip(w io.Writer, r io.Reader, name string, modified time.Time, level int) error {
	zw := zip.NewWriter(w)

	method := zip.Deflate
	if level == 0 {
		method = zip.Store
	} else {
		zw.RegisterCompressor(zip.Deflate, func(out io.Writer) (io.WriteCloser, error) {
			return flate.NewWriter(out, level)
		})
	}

	entry, err := zw.CreateHeader(&zip.FileHeader{
		Name:     name,
		Method:   method,
		Modified: modified,
	})
	if err != nil {
		return fmt.Errorf("failed to create zip entry: %w", err)
	}
	if _, err := io.Copy(entry, r); err != nil {
		return fmt.Errorf("failed to write zip entry: %w", err)
	}
	if err := zw.Close(); err != nil {
		return fmt.Errorf("failed to finish zip: %w", err)
	}
	return nil
}

func writeGzip(w io.Writer, r io.Reader, name string, modified time.Time, level int) error {
	gw, err := gzip.NewWriterLevel(w, level)
	if err != nil {
		return fmt.Errorf("invalid gzip level %d: %w", level, err)
	}
	gw.Name = name
	gw.ModTime = modified

	if _, err := io.Copy(gw, r); err != nil {
		return fmt.Errorf("failed to write gzip stream: %w", err)
	}
	if err := gw.Close(); err != nil {
		return fmt.Errorf("failed to finish gzip stream: %w", err)
	}
	return nil
}

func writeTar(w io.Writer, r io.Reader, name string, info os.FileInfo, gz bool, level int) error {
	if gz {
		gw, err := gzip.NewWriterLevel(w, level)
		if err != nil {
			return fmt.Errorf("invalid gzip level %d: %w", level, err)
		}
		if err := writeTar(gw, r, name, info, false, 0); err != nil {
			return err
		}
		if err := gw.Close(); err != nil {
			return fmt.Errorf("failed to finish gzip stream: %w", err)
		}
		return nil
	}

	tw := tar.NewWriter(w)
	hdr, err := tar.FileInfoHeader(info, "")
	if err != nil {
		return fmt.Errorf("failed to build tar header: %w", err)
	}
	hdr.Name = name

	if err := tw.WriteHeader(hdr); err != nil {
		return fmt.Errorf("failed to write tar header: %w", err)
	}
	if _, err := io.Copy(tw, r); err != nil {
		return fmt.Errorf("failed to write tar entry: %w", err)
	}
	if err := tw.Close(); err != nil {
		return fmt.Errorf("failed to finish tar: %w", err)
	}
	return nil
}

// contextReader stops a long copy once ctx is canceled
type contextReader struct {
	ctx context.Context
	r   io.Reader
}

func (c *contextReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}

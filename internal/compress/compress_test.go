package compress

import (
	"archive/tar"
	"archive/zip"
	"compress/gzip"
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuongbtq/compression-service/internal/domain"
)

const content = "the quick brown fox jumps over the lazy dog\n"

func writeInput(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "input.txt")
	require.NoError(t, os.WriteFile(path, []byte(strings.Repeat(content, 100)), 0o644))
	return path
}

func TestExtension(t *testing.T) {
	tests := []struct {
		algorithm string
		params    domain.Params
		want      string
		wantErr   bool
	}{
		{algorithm: "zip", want: ".zip"},
		{algorithm: "gzip", want: ".gz"},
		{algorithm: "tar", params: domain.Params{"gzip": false}, want: ".tar"},
		{algorithm: "tar", params: domain.Params{"gzip": true}, want: ".tar.gz"},
		{algorithm: "rar", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.algorithm+tt.want, func(t *testing.T) {
			got, err := Extension(tt.algorithm, tt.params)
			if tt.wantErr {
				assert.ErrorIs(t, err, domain.ErrValidation)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestFile_Zip(t *testing.T) {
	for _, level := range []float64{0, 9} {
		src := writeInput(t)
		dst := filepath.Join(t.TempDir(), "out.zip")

		require.NoError(t, File(context.Background(), "zip", domain.Params{"level": level}, src, dst, "notes.txt"))

		zr, err := zip.OpenReader(dst)
		require.NoError(t, err)
		require.Len(t, zr.File, 1)
		assert.Equal(t, "notes.txt", zr.File[0].Name)

		rc, err := zr.File[0].Open()
		require.NoError(t, err)
		data, err := io.ReadAll(rc)
		require.NoError(t, err)
		rc.Close()
		zr.Close()

		assert.Equal(t, strings.Repeat(content, 100), string(data))
	}
}

func TestFile_Gzip(t *testing.T) {
	src := writeInput(t)
	dst := filepath.Join(t.TempDir(), "out.gz")

	require.NoError(t, File(context.Background(), "gzip", domain.Params{"level": float64(1)}, src, dst, "notes.txt"))

	f, err := os.Open(dst)
	require.NoError(t, err)
	defer f.Close()

	gr, err := gzip.NewReader(f)
	require.NoError(t, err)
	assert.Equal(t, "notes.txt", gr.Name)

	data, err := io.ReadAll(gr)
	require.NoError(t, err)
	assert.Equal(t, strings.Repeat(content, 100), string(data))
}

func TestFile_Tar(t *testing.T) {
	tests := []struct {
		name string
		gzip bool
	}{
		{name: "plain", gzip: false},
		{name: "gzipped", gzip: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src := writeInput(t)
			dst := filepath.Join(t.TempDir(), "out.tar")

			params := domain.Params{"gzip": tt.gzip, "level": float64(6)}
			require.NoError(t, File(context.Background(), "tar", params, src, dst, "notes.txt"))

			f, err := os.Open(dst)
			require.NoError(t, err)
			defer f.Close()

			var r io.Reader = f
			if tt.gzip {
				gr, err := gzip.NewReader(f)
				require.NoError(t, err)
				r = gr
			}

			tr := tar.NewReader(r)
			hdr, err := tr.Next()
			require.NoError(t, err)
			assert.Equal(t, "notes.txt", hdr.Name)

			data, err := io.ReadAll(tr)
			require.NoError(t, err)
			assert.Equal(t, strings.Repeat(content, 100), string(data))

			_, err = tr.Next()
			assert.ErrorIs(t, err, io.EOF)
		})
	}
}

func TestFile_Errors(t *testing.T) {
	dir := t.TempDir()

	t.Run("missing input", func(t *testing.T) {
		err := File(context.Background(), "zip", nil, filepath.Join(dir, "missing"), filepath.Join(dir, "out.zip"), "x")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to open input")
	})

	t.Run("unsupported algorithm leaves no output", func(t *testing.T) {
		dst := filepath.Join(dir, "out.rar")
		err := File(context.Background(), "rar", nil, writeInput(t), dst, "x")
		assert.ErrorIs(t, err, domain.ErrValidation)
		assert.NoFileExists(t, dst)
	})

	t.Run("canceled context", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		dst := filepath.Join(dir, "out.gz")
		err := File(ctx, "gzip", nil, writeInput(t), dst, "x")
		assert.ErrorIs(t, err, context.Canceled)
		assert.NoFileExists(t, dst)
	})
}

package session

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// Downloader fetches a saved result file.
type Downloader interface {
	Download(ctx context.Context, filename string, w io.Writer) (string, int64, error)
}

// DownloadTo saves filename into dir under the name the server suggests and
// returns the local path. Nothing is left behind on failure.
func DownloadTo(ctx context.Context, d Downloader, dir, filename string) (string, int64, error) {
	if dir == "" {
		dir = "."
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", 0, fmt.Errorf("creating download dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".myles-download-*")
	if err != nil {
		return "", 0, fmt.Errorf("creating temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	name, n, err := d.Download(ctx, filename, tmp)
	if cerr := tmp.Close(); err == nil && cerr != nil {
		err = cerr
	}
	if err != nil {
		return "", 0, err
	}

	name = filepath.Base(name)
	if name == "." || name == string(filepath.Separator) || name == "" {
		name = filepath.Base(filename)
	}
	dest := filepath.Join(dir, name)
	if err := os.Chmod(tmp.Name(), 0o644); err != nil {
		return "", 0, err
	}
	if err := os.Rename(tmp.Name(), dest); err != nil {
		return "", 0, fmt.Errorf("saving %s: %w", dest, err)
	}
	return dest, n, nil
}

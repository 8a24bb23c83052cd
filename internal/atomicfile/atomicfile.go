// Package atomicfile writes files so that readers see either the old content
// or the complete new content, never a partial write.
package atomicfile

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"syscall"

	"go.uber.org/multierr"
)

// Write stores data at path with the given permissions. The data goes to a
// temporary file in the same directory, is flushed to disk and then renamed
// over path. On failure the temporary file is removed and path is untouched.
// Once the rename succeeds Write reports success.
func Write(path string, data []byte, perm os.FileMode) (err error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("create dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer func() {
		if err != nil {
			err = multierr.Append(err, ignoreMissing(os.Remove(tmpName)))
		}
	}()

	if _, err = tmp.Write(data); err != nil {
		return multierr.Append(fmt.Errorf("write temp file: %w", err), tmp.Close())
	}
	if err = tmp.Chmod(perm); err != nil {
		return multierr.Append(fmt.Errorf("chmod temp file: %w", err), tmp.Close())
	}
	if err = tmp.Sync(); err != nil {
		return multierr.Append(fmt.Errorf("sync temp file: %w", err), tmp.Close())
	}
	if err = tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err = os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("rename: %w", err)
	}
	// path holds the new content from here on; the directory sync is best
	// effort and its failure is not reported.
	_ = syncDir(dir)
	return nil
}

// syncDir flushes the directory entry so the rename survives a crash.
// Platforms that cannot open or sync directories are tolerated.
var syncDir = func(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		return nil
	}
	return multierr.Combine(ignoreUnsupported(d.Sync()), d.Close())
}

func ignoreMissing(err error) error {
	if os.IsNotExist(err) {
		return nil
	}
	return err
}

func ignoreUnsupported(err error) error {
	if errors.Is(err, os.ErrPermission) || errors.Is(err, syscall.EINVAL) {
		return nil
	}
	return err
}

package util

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"syscall"
)

// MovePath moves a file or directory tree to dst. It renames when possible and
// falls back to copy-then-remove when src and dst live on different devices.
// dst must not exist.
func MovePath(src, dst string) error {
	if _, err := os.Lstat(dst); err == nil {
		return fmt.Errorf("%w: %s", ErrConflict, dst)
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return fmt.Errorf("failed to create parent of %s: %w", dst, err)
	}

	err := os.Rename(src, dst)
	if err == nil {
		return nil
	}
	var linkErr *os.LinkError
	if !errors.As(err, &linkErr) || !errors.Is(linkErr.Err, syscall.EXDEV) {
		return fmt.Errorf("failed to move %s: %w", src, err)
	}

	if err := copyTree(src, dst); err != nil {
		os.RemoveAll(dst)
		return fmt.Errorf("failed to copy %s across devices: %w", src, err)
	}
	return os.RemoveAll(src)
}

// MoveChildren moves every entry of src into dst. Entries whose name already
// exists in dst are left in place and returned as collisions.
func MoveChildren(src, dst string) (collisions []string, err error) {
	entries, err := os.ReadDir(src)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", src, err)
	}

	for _, entry := range entries {
		target := filepath.Join(dst, entry.Name())
		if _, statErr := os.Lstat(target); statErr == nil {
			collisions = append(collisions, entry.Name())
			continue
		}
		if err := MovePath(filepath.Join(src, entry.Name()), target); err != nil {
			return collisions, err
		}
	}
	return collisions, nil
}

// RemoveAllQuiet removes a tree and logs instead of failing
func RemoveAllQuiet(path string) {
	if path == "" {
		return
	}
	if err := Retry(DefaultRetryConfig(), func() error {
		return os.RemoveAll(path)
	}, fmt.Sprintf("remove(%s)", path)); err != nil {
		WarnLog("Cleanup failed for %s: %v", path, err)
	}
}

// CopyFile copies a single regular file, creating parent directories
func CopyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	info, err := in.Stat()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return err
	}

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, info.Mode().Perm())
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

func copyTree(src, dst string) error {
	return filepath.WalkDir(src, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)
		if d.IsDir() {
			return os.MkdirAll(target, 0755)
		}
		return CopyFile(path, target)
	})
}

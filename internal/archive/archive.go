// Package archive extracts uploaded ZIP packages and builds export bundles.
package archive

import (
	"archive/zip"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/Bridgeconn/obt-workflow/internal/util"
)

// DefaultProjectName is used when metadata.json carries no English name
const DefaultProjectName = "Unknown Project"

// maxEntrySize bounds a single decompressed entry
const maxEntrySize = 4 << 30

// Stats summarizes an extraction
type Stats struct {
	Files int
	Bytes int64
}

// Extract unpacks zipPath into dest. Entries escaping dest are rejected.
func Extract(zipPath, dest string) (*Stats, error) {
	r, err := zip.OpenReader(zipPath)
	if errors.Is(err, zip.ErrInsecurePath) {
		r.Close()
		return nil, fmt.Errorf("%w: %s contains entries escaping the extraction root", util.ErrStructure, zipPath)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: cannot open zip %s: %v", util.ErrUnsupported, zipPath, err)
	}
	defer r.Close()

	if err := os.MkdirAll(dest, 0755); err != nil {
		return nil, fmt.Errorf("failed to create %s: %w", dest, err)
	}
	cleanDest, err := filepath.Abs(dest)
	if err != nil {
		return nil, err
	}

	stats := &Stats{}
	for _, f := range r.File {
		target := filepath.Join(cleanDest, filepath.FromSlash(f.Name))
		if target != cleanDest && !strings.HasPrefix(target, cleanDest+string(os.PathSeparator)) {
			return nil, fmt.Errorf("%w: zip entry %q escapes the extraction root", util.ErrStructure, f.Name)
		}

		if f.FileInfo().IsDir() {
			if err := os.MkdirAll(target, 0755); err != nil {
				return nil, err
			}
			continue
		}

		n, err := extractFile(f, target)
		if err != nil {
			return nil, fmt.Errorf("failed to extract %s: %w", f.Name, err)
		}
		stats.Files++
		stats.Bytes += n
	}

	util.DebugLog("Extracted %d files from %s", stats.Files, filepath.Base(zipPath))
	return stats, nil
}

func extractFile(f *zip.File, target string) (int64, error) {
	if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
		return 0, err
	}
	rc, err := f.Open()
	if err != nil {
		return 0, err
	}
	defer rc.Close()

	out, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return 0, err
	}
	n, err := io.Copy(out, io.LimitReader(rc, maxEntrySize))
	if closeErr := out.Close(); err == nil {
		err = closeErr
	}
	return n, err
}

type burritoMetadata struct {
	Identification struct {
		Name map[string]string `json:"name"`
	} `json:"identification"`
}

// FindMetadata returns the shallowest metadata.json under root
func FindMetadata(root string) (string, error) {
	var found string
	depth := -1
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || d.Name() != "metadata.json" {
			return nil
		}
		rel, _ := filepath.Rel(root, path)
		if dp := strings.Count(rel, string(os.PathSeparator)); depth < 0 || dp < depth {
			found, depth = path, dp
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	if found == "" {
		return "", fmt.Errorf("%w: metadata.json not found in %s", util.ErrStructure, root)
	}
	return found, nil
}

// ReadProjectName reads identification.name.en from the package metadata
func ReadProjectName(root string) (string, error) {
	path, err := FindMetadata(root)
	if err != nil {
		return "", err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}

	var meta burritoMetadata
	if err := json.Unmarshal(data, &meta); err != nil {
		return "", fmt.Errorf("%w: invalid metadata.json: %v", util.ErrStructure, err)
	}
	name := strings.TrimSpace(meta.Identification.Name["en"])
	if name == "" {
		return DefaultProjectName, nil
	}
	return name, nil
}

// Pack writes every file under srcDir into a new zip at zipPath, with paths
// relative to srcDir
func Pack(srcDir, zipPath string) (int64, error) {
	tmp := zipPath + ".partial"
	out, err := os.Create(tmp)
	if err != nil {
		return 0, fmt.Errorf("failed to create %s: %w", tmp, err)
	}

	zw := zip.NewWriter(out)
	walkErr := filepath.WalkDir(srcDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		rel, err := filepath.Rel(srcDir, path)
		if err != nil {
			return err
		}
		w, err := zw.Create(filepath.ToSlash(rel))
		if err != nil {
			return err
		}
		in, err := os.Open(path)
		if err != nil {
			return err
		}
		defer in.Close()
		_, err = io.Copy(w, in)
		return err
	})

	closeErr := errors.Join(zw.Close(), out.Close())
	if err := errors.Join(walkErr, closeErr); err != nil {
		os.Remove(tmp)
		return 0, fmt.Errorf("failed to write %s: %w", zipPath, err)
	}

	if err := util.RetryableRename(tmp, zipPath, nil); err != nil {
		os.Remove(tmp)
		return 0, err
	}
	info, err := os.Stat(zipPath)
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}

// Package layout resolves the content root and ingredients folder of an
// extracted Scripture Burrito archive.
package layout

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"

	"github.com/Bridgeconn/obt-workflow/internal/util"
)

// StructureError reports an archive shape that is not recognized
type StructureError struct {
	Path   string
	Reason string
}

func (e *StructureError) Error() string {
	return fmt.Sprintf("%s: %s (%s)", util.ErrStructure, e.Reason, e.Path)
}

func (e *StructureError) Unwrap() error { return util.ErrStructure }

var countedWrapperPattern = regexp.MustCompile(`.+\(\d+\)$`)

// markers at the top of a content root
var rootMarkers = []string{"audio", "text-1", "metadata.json"}

// ignoredEntry filters archive noise left by desktop zip tools
func ignoredEntry(name string) bool {
	return name == "__MACOSX" || strings.HasPrefix(name, ".")
}

func listEntries(dir string) ([]os.DirEntry, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", dir, err)
	}
	kept := entries[:0]
	for _, e := range entries {
		if !ignoredEntry(e.Name()) {
			kept = append(kept, e)
		}
	}
	return kept, nil
}

func sameName(a, b string) bool {
	return norm.NFC.String(a) == norm.NFC.String(b)
}

func hasLetter(s string) bool {
	for _, r := range s {
		if unicode.IsLetter(r) {
			return true
		}
	}
	return false
}

func hasMarker(dir string) bool {
	for _, m := range rootMarkers {
		if _, err := os.Stat(filepath.Join(dir, m)); err == nil {
			return true
		}
	}
	return false
}

func isMarkerName(name string) bool {
	for _, m := range rootMarkers {
		if name == m {
			return true
		}
	}
	return name == "ingredients"
}

// Normalize resolves the project content root under an extraction root,
// flattening wrapper folders in place. Running it on its own output is a no-op.
func Normalize(root string) (string, error) {
	entries, err := listEntries(root)
	if err != nil {
		return "", err
	}

	if len(entries) == 1 && entries[0].IsDir() && !isMarkerName(entries[0].Name()) {
		name := entries[0].Name()
		switch {
		case sameName(name, filepath.Base(root)):
			util.DebugLog("Merging duplicate wrapper folder %s", name)
			if err := flatten(root, name); err != nil {
				return "", err
			}
			return root, nil

		case countedWrapperPattern.MatchString(name) || hasLetter(name):
			util.DebugLog("Flattening wrapper folder %s", name)
			if err := flatten(root, name); err != nil {
				return "", err
			}
			return root, nil

		default:
			return filepath.Join(root, name), nil
		}
	}

	if hasMarker(root) {
		return root, nil
	}

	return "", &StructureError{Path: root, Reason: "no audio/, text-1/ or metadata.json at the archive root"}
}

// flatten moves the children of root/name into root and removes the wrapper.
// The wrapper is renamed first so a child with the wrapper's own name can move up.
// Children that collide stay in the wrapper, which keeps its name when possible.
func flatten(root, name string) error {
	wrapper := filepath.Join(root, name)
	staged := filepath.Join(root, ".flatten-"+strconv.Itoa(os.Getpid())+"-"+name)
	if err := os.Rename(wrapper, staged); err != nil {
		return fmt.Errorf("failed to stage wrapper %s: %w", wrapper, err)
	}

	collisions, err := util.MoveChildren(staged, root)
	if err != nil {
		return fmt.Errorf("failed to flatten %s: %w", wrapper, err)
	}
	for _, c := range collisions {
		util.WarnLog("Skipping %s from wrapper %s: name already exists", c, name)
	}

	if len(collisions) > 0 {
		if err := os.Rename(staged, wrapper); err != nil {
			util.WarnLog("Skipped entries of %s left in %s", name, staged)
		}
		return nil
	}
	if err := os.Remove(staged); err != nil {
		return fmt.Errorf("failed to remove wrapper %s: %w", wrapper, err)
	}
	return nil
}

// ingredientParents are checked at each level, in order of preference
var ingredientParents = []string{"audio", "text", "text-1"}

// FindIngredients searches breadth-first under root for an ingredients folder,
// preferring one nested under audio/ or text/ at each level.
func FindIngredients(root string) (string, error) {
	queue := []string{root}
	for len(queue) > 0 {
		dir := queue[0]
		queue = queue[1:]

		for _, parent := range ingredientParents {
			candidate := filepath.Join(dir, parent, "ingredients")
			if isDir(candidate) {
				return candidate, nil
			}
		}
		if candidate := filepath.Join(dir, "ingredients"); isDir(candidate) {
			return candidate, nil
		}

		entries, err := listEntries(dir)
		if err != nil {
			return "", err
		}
		for _, e := range entries {
			if e.IsDir() {
				queue = append(queue, filepath.Join(dir, e.Name()))
			}
		}
	}
	return "", &StructureError{Path: root, Reason: "no ingredients folder found"}
}

func isDir(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}

// ChapterDirs lists numeric-named subdirectories of dir, sorted by number
func ChapterDirs(dir string) ([]ChapterDir, error) {
	entries, err := listEntries(dir)
	if err != nil {
		return nil, err
	}
	var chapters []ChapterDir
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		n, err := strconv.Atoi(e.Name())
		if err != nil {
			continue
		}
		chapters = append(chapters, ChapterDir{Number: n, Path: filepath.Join(dir, e.Name())})
	}
	sort.Slice(chapters, func(i, j int) bool { return chapters[i].Number < chapters[j].Number })
	return chapters, nil
}

// ChapterDir is a numeric chapter folder
type ChapterDir struct {
	Number int
	Path   string
}

func isNumeric(name string) bool {
	_, err := strconv.Atoi(name)
	return err == nil
}

// NormalizeBook resolves the folder holding chapter directories in an
// extracted single-book archive. Accepted shapes: numeric chapter folders at
// the root, or one wrapper folder containing only numeric chapter folders.
func NormalizeBook(root string) (string, error) {
	entries, err := listEntries(root)
	if err != nil {
		return "", err
	}
	if len(entries) == 0 {
		return "", &StructureError{Path: root, Reason: "book archive is empty"}
	}

	if allNumericDirs(entries) {
		return root, nil
	}

	if len(entries) == 1 && entries[0].IsDir() {
		wrapper := filepath.Join(root, entries[0].Name())
		inner, err := listEntries(wrapper)
		if err != nil {
			return "", err
		}
		if len(inner) > 0 && allNumericDirs(inner) {
			return wrapper, nil
		}
	}

	return "", &StructureError{Path: root, Reason: "invalid book folder structure; expected numeric chapter folders"}
}

func allNumericDirs(entries []os.DirEntry) bool {
	for _, e := range entries {
		if !e.IsDir() || !isNumeric(e.Name()) {
			return false
		}
	}
	return true
}

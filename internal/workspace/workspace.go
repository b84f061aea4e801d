// Package workspace owns the on-disk layout of every project:
//
//	{base}/{project_id}/input/{name}/...
//	{base}/{project_id}/output/{name}/audio/ingredients/{book}/{chapter}/...
//	{base}/{project_id}/output/{name}/text-1/ingredients/{BOOK}.usfm
package workspace

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
)

var suffixPattern = regexp.MustCompile(`^(.*?)\s*\(\d+\)$`)

// BaseName strips a trailing "(n)" disambiguation suffix from a display name
func BaseName(name string) string {
	if m := suffixPattern.FindStringSubmatch(name); m != nil {
		return strings.TrimSpace(m[1])
	}
	return strings.TrimSpace(name)
}

// DisambiguateName returns name, or name(n) with the smallest free n >= 1
func DisambiguateName(name string, taken []string) string {
	used := make(map[string]bool, len(taken))
	for _, t := range taken {
		used[t] = true
	}
	if !used[name] {
		return name
	}
	for n := 1; ; n++ {
		candidate := fmt.Sprintf("%s(%d)", name, n)
		if !used[candidate] {
			return candidate
		}
	}
}

// Layout resolves project paths under a base directory
type Layout struct {
	Base string
}

// New returns a layout rooted at base
func New(base string) Layout {
	return Layout{Base: base}
}

// ProjectDir is {base}/{id}
func (l Layout) ProjectDir(projectID int64) string {
	return filepath.Join(l.Base, strconv.FormatInt(projectID, 10))
}

// InputDir is {base}/{id}/input/{baseName}
func (l Layout) InputDir(projectID int64, name string) string {
	return filepath.Join(l.ProjectDir(projectID), "input", BaseName(name))
}

// OutputDir is {base}/{id}/output/{baseName}
func (l Layout) OutputDir(projectID int64, name string) string {
	return filepath.Join(l.ProjectDir(projectID), "output", BaseName(name))
}

// OutputChapterDir is where synthesized audio for a chapter lives
func (l Layout) OutputChapterDir(projectID int64, name, book string, chapter int) string {
	return filepath.Join(l.OutputDir(projectID, name), "audio", "ingredients", book, strconv.Itoa(chapter))
}

// USFMPath is the generated text export for a book
func (l Layout) USFMPath(projectID int64, name, book string) string {
	return filepath.Join(l.OutputDir(projectID, name), "text-1", "ingredients", book+".usfm")
}

// PackagePath is the export bundle for a project
func (l Layout) PackagePath(projectID int64, name string) string {
	return filepath.Join(l.ProjectDir(projectID), name+".zip")
}

// StagingDir is scratch space for extraction and downloads
func (l Layout) StagingDir() string {
	return filepath.Join(l.Base, ".staging")
}

// LockPath guards ingestion of one project across processes
func (l Layout) LockPath(projectID int64) string {
	return filepath.Join(l.ProjectDir(projectID), ".lock")
}

// IngredientsDir returns the existing ingredients folder of a project input
// tree, preferring audio/ingredients, or the path where one should be created
func (l Layout) IngredientsDir(projectID int64, name string) (string, bool) {
	input := l.InputDir(projectID, name)
	for _, candidate := range []string{
		filepath.Join(input, "audio", "ingredients"),
		filepath.Join(input, "ingredients"),
	} {
		if info, err := os.Stat(candidate); err == nil && info.IsDir() {
			return candidate, true
		}
	}
	return filepath.Join(input, "audio", "ingredients"), false
}

// Package selector picks one file per verse out of a chapter folder.
package selector

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/Bridgeconn/obt-workflow/internal/report"
	"github.com/Bridgeconn/obt-workflow/internal/util"
)

// verseNamePattern matches chapter_verse, chapter_verse_take and chapter_verse_default stems
var verseNamePattern = regexp.MustCompile(`^\d+_\d+(_\d+)?(_default)?$`)

// Priority orders competing files for the same verse
type Priority int

const (
	PriorityTake    Priority = 0 // 1_1_2
	PriorityDefault Priority = 1 // 1_1_default
	PriorityBasic   Priority = 2 // 1_1
)

func (p Priority) String() string {
	switch p {
	case PriorityBasic:
		return "basic"
	case PriorityDefault:
		return "default"
	default:
		return "take"
	}
}

// Candidate is a verse-shaped file in a chapter folder
type Candidate struct {
	Path     string
	Name     string // base name with extension
	Chapter  int
	Verse    int
	Priority Priority
	Size     int64
	Format   string // extension without the dot
}

// DiagnosticKind classifies a file that did not become a verse
type DiagnosticKind string

const (
	DiagIncompatible    DiagnosticKind = "incompatible"
	DiagSuperseded      DiagnosticKind = "superseded"
	DiagChapterMismatch DiagnosticKind = "chapter-mismatch"
	DiagIO              DiagnosticKind = "io"
)

// Diagnostic is an informational note about a single file. It is never
// returned as an error.
type Diagnostic struct {
	Kind    DiagnosticKind
	Path    string
	Message string
}

// Result is the outcome of selecting one chapter
type Result struct {
	Chapter      int
	Selected     map[int]Candidate
	Incompatible []string // file names not matching the verse pattern
	Diagnostics  []Diagnostic
}

// VerseNumbers returns the selected verse numbers, ascending
func (r *Result) VerseNumbers() []int {
	nums := make([]int, 0, len(r.Selected))
	for v := range r.Selected {
		nums = append(nums, v)
	}
	sort.Ints(nums)
	return nums
}

// Observed returns the selected verse numbers as a set
func (r *Result) Observed() map[int]bool {
	set := make(map[int]bool, len(r.Selected))
	for v := range r.Selected {
		set[v] = true
	}
	return set
}

// ParseName parses a file name (extension ignored) into chapter, verse and
// priority. ok is false when the stem is not verse-shaped.
func ParseName(name string) (chapter, verse int, priority Priority, ok bool) {
	stem := strings.TrimSuffix(name, filepath.Ext(name))
	if !verseNamePattern.MatchString(stem) {
		return 0, 0, 0, false
	}

	parts := strings.Split(stem, "_")
	chapter, err := strconv.Atoi(parts[0])
	if err != nil {
		return 0, 0, 0, false
	}
	verse, err = strconv.Atoi(parts[1])
	if err != nil {
		return 0, 0, 0, false
	}

	switch {
	case len(parts) == 2:
		priority = PriorityBasic
	case parts[len(parts)-1] == "default":
		priority = PriorityDefault
	default:
		priority = PriorityTake
	}
	return chapter, verse, priority, true
}

// Selector resolves competing verse files
type Selector struct {
	logger *report.EventLogger
	retry  *util.RetryConfig
}

// New creates a selector. A nil logger disables event output.
func New(logger *report.EventLogger) *Selector {
	return &Selector{logger: logger, retry: util.DefaultRetryConfig()}
}

// Select processes one chapter folder. Losing files are deleted from disk.
// The only error returned is failure to list the folder itself.
func (s *Selector) Select(dir string, chapter int) (*Result, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read chapter folder %s: %w", dir, err)
	}

	result := &Result{
		Chapter:  chapter,
		Selected: make(map[int]Candidate),
	}

	// os.ReadDir sorts by name, so "earliest seen" is deterministic
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		path := filepath.Join(dir, entry.Name())

		ch, verse, priority, ok := ParseName(entry.Name())
		if !ok {
			result.Incompatible = append(result.Incompatible, entry.Name())
			result.Diagnostics = append(result.Diagnostics, Diagnostic{
				Kind:    DiagIncompatible,
				Path:    path,
				Message: "file name does not match chapter_verse[_take|_default]",
			})
			s.logger.LogIncompatible(path)
			continue
		}
		if ch != chapter {
			result.Diagnostics = append(result.Diagnostics, Diagnostic{
				Kind:    DiagChapterMismatch,
				Path:    path,
				Message: fmt.Sprintf("chapter %d does not belong in folder %d", ch, chapter),
			})
			continue
		}

		info, err := entry.Info()
		if err != nil {
			util.WarnLog("Cannot stat %s: %v", path, err)
			result.Diagnostics = append(result.Diagnostics, Diagnostic{Kind: DiagIO, Path: path, Message: err.Error()})
			continue
		}

		candidate := Candidate{
			Path:     path,
			Name:     entry.Name(),
			Chapter:  ch,
			Verse:    verse,
			Priority: priority,
			Size:     info.Size(),
			Format:   strings.TrimPrefix(filepath.Ext(entry.Name()), "."),
		}

		held, exists := result.Selected[verse]
		if !exists {
			result.Selected[verse] = candidate
			continue
		}

		winner, loser := held, candidate
		if candidate.Priority > held.Priority {
			winner, loser = candidate, held
		}
		result.Selected[verse] = winner
		s.discard(result, loser, winner)
	}

	return result, nil
}

func (s *Selector) discard(result *Result, loser, winner Candidate) {
	if err := util.RetryableRemove(loser.Path, s.retry); err != nil {
		util.WarnLog("Failed to delete superseded file %s: %v", loser.Path, err)
		result.Diagnostics = append(result.Diagnostics, Diagnostic{Kind: DiagIO, Path: loser.Path, Message: err.Error()})
		return
	}
	util.DebugLog("Verse %d:%d: kept %s (%s), deleted %s (%s)",
		winner.Chapter, winner.Verse, winner.Name, winner.Priority, loser.Name, loser.Priority)
	result.Diagnostics = append(result.Diagnostics, Diagnostic{
		Kind:    DiagSuperseded,
		Path:    loser.Path,
		Message: fmt.Sprintf("superseded by %s", winner.Name),
	})
	s.logger.LogDuplicate(loser.Path, winner.Path, loser.Priority.String())
}

// ChapterVerses returns the distinct verse numbers Select would consider for
// chapter, ascending. Incompatible names and files of other chapters are
// ignored and nothing is deleted.
func ChapterVerses(dir string, chapter int) ([]int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	seen := make(map[int]bool)
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		ch, verse, _, ok := ParseName(entry.Name())
		if ok && ch == chapter {
			seen[verse] = true
		}
	}

	verses := make([]int, 0, len(seen))
	for v := range seen {
		verses = append(verses, v)
	}
	sort.Ints(verses)
	return verses, nil
}

// PreScan returns verse numbers found in verse-shaped file names without
// resolving duplicates or touching the disk. A file counts when its stem has
// an underscore and the second component starts with digits.
func PreScan(dir string) ([]int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	seen := make(map[int]bool)
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		stem := strings.TrimSuffix(entry.Name(), filepath.Ext(entry.Name()))
		parts := strings.Split(stem, "_")
		if len(parts) < 2 {
			continue
		}
		digits := leadingDigits(parts[1])
		if digits == "" {
			continue
		}
		if n, err := strconv.Atoi(digits); err == nil {
			seen[n] = true
		}
	}

	verses := make([]int, 0, len(seen))
	for v := range seen {
		verses = append(verses, v)
	}
	sort.Ints(verses)
	return verses, nil
}

func leadingDigits(s string) string {
	end := 0
	for end < len(s) && s[end] >= '0' && s[end] <= '9' {
		end++
	}
	return s[:end]
}

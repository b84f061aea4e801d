// Package versification holds the canonical book -> per-chapter maximum verse
// table that ingestion validates against.
package versification

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/Bridgeconn/obt-workflow/internal/util"
)

// Index is an immutable lookup of maximum verse counts per chapter.
// Chapters are 1-based; the slice for a book holds one entry per chapter.
type Index struct {
	maxVerses map[string][]int
}

// verseCount accepts both "31" and 31, since versification files in the wild use either
type verseCount int

func (c *verseCount) UnmarshalJSON(data []byte) error {
	var n int
	if err := json.Unmarshal(data, &n); err == nil {
		*c = verseCount(n)
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("verse count must be a number or numeric string: %s", data)
	}
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return fmt.Errorf("invalid verse count %q: %w", s, err)
	}
	*c = verseCount(n)
	return nil
}

type versificationFile struct {
	MaxVerses map[string][]verseCount `json:"maxVerses"`
}

// Load reads a versification JSON file (Scripture Burrito versification.json shape)
func Load(path string) (*Index, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read versification %s: %v", util.ErrInvalidConfig, path, err)
	}
	idx, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return idx, nil
}

// Parse decodes versification JSON
func Parse(data []byte) (*Index, error) {
	var f versificationFile
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("%w: malformed versification: %v", util.ErrInvalidConfig, err)
	}
	if len(f.MaxVerses) == 0 {
		return nil, fmt.Errorf("%w: versification has no maxVerses", util.ErrInvalidConfig)
	}

	m := make(map[string][]int, len(f.MaxVerses))
	for book, counts := range f.MaxVerses {
		chapters := make([]int, len(counts))
		for i, c := range counts {
			if c < 0 {
				return nil, fmt.Errorf("%w: negative verse count for %s %d", util.ErrInvalidConfig, book, i+1)
			}
			chapters[i] = int(c)
		}
		m[book] = chapters
	}
	return &Index{maxVerses: m}, nil
}

// New builds an index from an in-memory table. The table is copied.
func New(table map[string][]int) *Index {
	m := make(map[string][]int, len(table))
	for book, counts := range table {
		m[book] = append([]int(nil), counts...)
	}
	return &Index{maxVerses: m}
}

// Has reports whether the book code is a versification key
func (i *Index) Has(book string) bool {
	_, ok := i.maxVerses[book]
	return ok
}

// Book returns a copy of the per-chapter maximum verse list for a book
func (i *Index) Book(book string) ([]int, bool) {
	counts, ok := i.maxVerses[book]
	if !ok {
		return nil, false
	}
	return append([]int(nil), counts...), true
}

// ChapterCount returns the number of chapters in a book, 0 when unknown
func (i *Index) ChapterCount(book string) int {
	return len(i.maxVerses[book])
}

// MaxVerses returns the expected verse count of a chapter, 0 when the book
// or chapter is outside the table
func (i *Index) MaxVerses(book string, chapter int) int {
	counts := i.maxVerses[book]
	if chapter < 1 || chapter > len(counts) {
		return 0
	}
	return counts[chapter-1]
}

// Books returns all book codes, sorted
func (i *Index) Books() []string {
	books := make([]string, 0, len(i.maxVerses))
	for b := range i.maxVerses {
		books = append(books, b)
	}
	sort.Strings(books)
	return books
}

// Missing returns {1..max} minus observed, ascending
func Missing(max int, observed map[int]bool) []int {
	var missing []int
	for v := 1; v <= max; v++ {
		if !observed[v] {
			missing = append(missing, v)
		}
	}
	return missing
}

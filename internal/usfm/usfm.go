// Package usfm renders verse text as USFM book documents.
package usfm

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/Bridgeconn/obt-workflow/internal/util"
)

// Placeholder stands in for verses without text
const Placeholder = "..."

// BookInfo holds the display titles of a book
type BookInfo struct {
	Short string
	Abbr  string
	Long  string
}

// Metadata maps book codes to titles
type Metadata map[string]BookInfo

type localized struct {
	En string `json:"en"`
}

type bookEntry struct {
	Short localized `json:"short"`
	Abbr  localized `json:"abbr"`
	Long  localized `json:"long"`
}

// LoadMetadata reads a {BOOK: {short: {en}, abbr: {en}, long: {en}}} file.
// An empty path yields empty metadata.
func LoadMetadata(path string) (Metadata, error) {
	if path == "" {
		return Metadata{}, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read book metadata %s: %v", util.ErrInvalidConfig, path, err)
	}
	return ParseMetadata(data)
}

// ParseMetadata decodes book metadata JSON
func ParseMetadata(data []byte) (Metadata, error) {
	var raw map[string]bookEntry
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("%w: malformed book metadata: %v", util.ErrInvalidConfig, err)
	}
	m := make(Metadata, len(raw))
	for code, e := range raw {
		m[code] = BookInfo{Short: e.Short.En, Abbr: e.Abbr.En, Long: e.Long.En}
	}
	return m, nil
}

// Info returns titles for book; missing fields fall back to the code
func (m Metadata) Info(book string) BookInfo {
	info := m[book]
	if info.Short == "" {
		info.Short = book
	}
	if info.Abbr == "" {
		info.Abbr = book
	}
	if info.Long == "" {
		info.Long = info.Short
	}
	return info
}

// Book is the input for one USFM document
type Book struct {
	Code      string
	Info      BookInfo
	MaxVerses []int                  // per chapter, from versification
	Text      map[int]map[int]string // chapter -> verse -> text
}

// Render writes every chapter and verse the versification expects, using
// Placeholder where no text exists
func Render(b *Book) []byte {
	var buf bytes.Buffer

	fmt.Fprintf(&buf, "\\id %s\n\\usfm 3.0\n\\ide UTF-8\n", b.Code)
	fmt.Fprintf(&buf, "\\h %s\n\\toc1 %s\n\\toc2 %s\n\\toc3 %s\n\\mt %s\n",
		b.Info.Short, b.Info.Abbr, b.Info.Short, b.Info.Long, b.Info.Abbr)

	for i, count := range b.MaxVerses {
		chapter := i + 1
		fmt.Fprintf(&buf, "\\c %d\n\\p\n", chapter)
		verses := b.Text[chapter]
		for verse := 1; verse <= count; verse++ {
			fmt.Fprintf(&buf, "\\v %d %s\n", verse, verseText(verses[verse]))
		}
	}
	return buf.Bytes()
}

// verseText keeps a verse on one line
func verseText(s string) string {
	s = strings.Join(strings.Fields(s), " ")
	if s == "" {
		return Placeholder
	}
	return s
}

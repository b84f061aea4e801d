// Package reconcile turns a normalized ingredients tree into persisted
// books, chapters and verses.
package reconcile

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/sourcegraph/conc/iter"

	"github.com/Bridgeconn/obt-workflow/internal/layout"
	"github.com/Bridgeconn/obt-workflow/internal/report"
	"github.com/Bridgeconn/obt-workflow/internal/selector"
	"github.com/Bridgeconn/obt-workflow/internal/store"
	"github.com/Bridgeconn/obt-workflow/internal/util"
	"github.com/Bridgeconn/obt-workflow/internal/versification"
)

// Config holds reconciler configuration
type Config struct {
	Store  *store.Store
	Index  *versification.Index
	Logger *report.EventLogger // nil disables event output
}

// Reconciler persists reconciled ingestion results
type Reconciler struct {
	store    *store.Store
	index    *versification.Index
	selector *selector.Selector
	logger   *report.EventLogger
}

// New creates a reconciler
func New(cfg *Config) *Reconciler {
	return &Reconciler{
		store:    cfg.Store,
		index:    cfg.Index,
		selector: selector.New(cfg.Logger),
		logger:   cfg.Logger,
	}
}

// ChapterResult describes one persisted chapter
type ChapterResult struct {
	Number    int
	ChapterID int64
	Verses    int
	Missing   []int
}

// BookResult describes one book's ingestion
type BookResult struct {
	Code            string
	BookID          int64
	Created         bool
	Chapters        []ChapterResult
	SkippedChapters []int // already present (add-book) or empty after selection
	Incompatible    []string
}

// VerseCount sums verses across chapters
func (b *BookResult) VerseCount() int {
	n := 0
	for _, ch := range b.Chapters {
		n += ch.Verses
	}
	return n
}

// Result is the outcome of a full-project ingestion
type Result struct {
	Books        []*BookResult
	SkippedBooks []string
}

// ChapterCount sums chapters across books
func (r *Result) ChapterCount() int {
	n := 0
	for _, b := range r.Books {
		n += len(b.Chapters)
	}
	return n
}

// VerseCount sums verses across books
func (r *Result) VerseCount() int {
	n := 0
	for _, b := range r.Books {
		n += b.VerseCount()
	}
	return n
}

// Incompatible collects incompatible file names across books
func (r *Result) Incompatible() []string {
	var names []string
	for _, b := range r.Books {
		names = append(names, b.Incompatible...)
	}
	return names
}

// IngestProject reconciles every book folder under ingredients. Unknown book
// codes are skipped. If no book survives, the project row and projectDir are
// removed and a ValidationError is returned.
func (r *Reconciler) IngestProject(ctx context.Context, project *store.Project, ingredients, projectDir string) (*Result, error) {
	entries, err := os.ReadDir(ingredients)
	if err != nil {
		return nil, fmt.Errorf("failed to read ingredients %s: %w", ingredients, err)
	}

	result := &Result{}
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		code := entry.Name()
		bookDir := filepath.Join(ingredients, code)
		if !r.index.Has(code) {
			util.DebugLog("Skipping %s: not a versification book", code)
			result.SkippedBooks = append(result.SkippedBooks, code)
			r.logger.LogSkip(project.ID, code, 0, "unknown book code")
			continue
		}

		book, err := r.ingestBook(project, code, bookDir)
		if err != nil {
			return nil, err
		}
		if book == nil {
			result.SkippedBooks = append(result.SkippedBooks, code)
			continue
		}
		result.Books = append(result.Books, book)
		r.logger.LogIngest(project.ID, code, len(book.Chapters), book.VerseCount())
		util.InfoLog("Ingested %s: %d chapters, %d verses", code, len(book.Chapters), book.VerseCount())
	}

	if len(result.Books) == 0 {
		cause := &ValidationError{Reason: "no valid books or chapters found"}
		r.rollbackProject(project, projectDir, cause)
		return nil, cause
	}
	return result, nil
}

// ingestBook returns nil when the book has no usable content
func (r *Reconciler) ingestBook(project *store.Project, code, bookDir string) (*BookResult, error) {
	chapters, err := layout.ChapterDirs(bookDir)
	if err != nil {
		return nil, err
	}
	if !anyVerseShaped(chapters) {
		util.DebugLog("Skipping %s: no verse-shaped files", code)
		r.logger.LogSkip(project.ID, code, 0, "no verse files")
		return nil, nil
	}

	book := &store.Book{ProjectID: project.ID, Code: code}
	if err := r.store.CreateBook(book); err != nil {
		return nil, err
	}
	result := &BookResult{Code: code, BookID: book.ID, Created: true}

	for _, ch := range chapters {
		persisted, incompatible, err := r.reconcileChapter(project.ID, book, ch)
		result.Incompatible = append(result.Incompatible, incompatible...)
		if err != nil {
			return nil, err
		}
		if persisted == nil {
			result.SkippedChapters = append(result.SkippedChapters, ch.Number)
			continue
		}
		result.Chapters = append(result.Chapters, *persisted)
	}

	if len(result.Chapters) == 0 {
		if err := r.store.DeleteBook(book.ID); err != nil {
			return nil, err
		}
		util.RemoveAllQuiet(bookDir)
		r.logger.LogRollback(project.ID, code, bookDir, nil)
		return nil, nil
	}
	return result, nil
}

// reconcileChapter selects, computes missing verses and persists one chapter.
// A nil result means nothing survived selection and the folder was removed.
func (r *Reconciler) reconcileChapter(projectID int64, book *store.Book, ch layout.ChapterDir) (*ChapterResult, []string, error) {
	sel, err := r.selector.Select(ch.Path, ch.Number)
	if err != nil {
		util.WarnLog("Skipping %s %d: %v", book.Code, ch.Number, err)
		return nil, nil, nil
	}

	if len(sel.Selected) == 0 {
		util.RemoveAllQuiet(ch.Path)
		r.logger.LogSkip(projectID, book.Code, ch.Number, "no verses after selection")
		return nil, sel.Incompatible, nil
	}

	missing := versification.Missing(r.index.MaxVerses(book.Code, ch.Number), sel.Observed())
	chapter := &store.Chapter{BookID: book.ID, Number: ch.Number, MissingVerses: missing}

	verses := make([]*store.Verse, 0, len(sel.Selected))
	for _, num := range sel.VerseNumbers() {
		c := sel.Selected[num]
		verses = append(verses, &store.Verse{
			Number:    num,
			Name:      c.Name,
			Path:      c.Path,
			SizeBytes: c.Size,
			Format:    c.Format,
		})
	}

	if err := r.store.InsertChapter(chapter, verses); err != nil {
		return nil, sel.Incompatible, err
	}
	r.logger.LogChapter(projectID, book.Code, ch.Number, len(verses), missing)

	return &ChapterResult{
		Number:    ch.Number,
		ChapterID: chapter.ID,
		Verses:    len(verses),
		Missing:   missing,
	}, sel.Incompatible, nil
}

// anyVerseShaped pre-scans chapter folders concurrently
func anyVerseShaped(chapters []layout.ChapterDir) bool {
	found := iter.Map(chapters, func(ch *layout.ChapterDir) bool {
		verses, err := selector.PreScan(ch.Path)
		return err == nil && len(verses) > 0
	})
	for _, ok := range found {
		if ok {
			return true
		}
	}
	return false
}

func (r *Reconciler) rollbackProject(project *store.Project, projectDir string, cause error) {
	util.WarnLog("Rolling back project %d (%s): %v", project.ID, project.Name, cause)
	if err := r.store.DeleteProject(project.ID); err != nil {
		util.ErrorLog("Failed to delete project %d: %v", project.ID, err)
	}
	util.RemoveAllQuiet(projectDir)
	r.logger.LogRollback(project.ID, "", projectDir, cause)
}

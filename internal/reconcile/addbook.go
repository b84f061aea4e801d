package reconcile

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/Bridgeconn/obt-workflow/internal/layout"
	"github.com/Bridgeconn/obt-workflow/internal/selector"
	"github.com/Bridgeconn/obt-workflow/internal/store"
	"github.com/Bridgeconn/obt-workflow/internal/util"
)

// AddBook merges a single normalized book folder into an existing project.
// Every chapter is validated before anything is moved or deduplicated;
// chapters the book already has are skipped and left untouched. On failure
// only the rows and folders created by this call are removed.
func (r *Reconciler) AddBook(ctx context.Context, project *store.Project, code, sourceDir, ingredients string) (*BookResult, error) {
	if !r.index.Has(code) {
		return nil, &ValidationError{Book: code, Reason: "book code not in versification"}
	}

	chapters, err := layout.ChapterDirs(sourceDir)
	if err != nil {
		return nil, err
	}
	if len(chapters) == 0 {
		return nil, &ValidationError{Book: code, Reason: "no chapter folders found"}
	}

	existing, err := r.store.GetBookByCode(project.ID, code)
	if err != nil {
		return nil, err
	}
	present := make(map[int]bool)
	if existing != nil {
		rows, err := r.store.ListChapters(existing.ID)
		if err != nil {
			return nil, err
		}
		for _, ch := range rows {
			present[ch.Number] = true
		}
	}

	result := &BookResult{Code: code}
	var pending []layout.ChapterDir
	maxChapter := r.index.ChapterCount(code)
	for _, ch := range chapters {
		if ch.Number < 1 || ch.Number > maxChapter {
			return nil, &ValidationError{Book: code, Chapter: ch.Number,
				Reason: fmt.Sprintf("exceeds %d chapters", maxChapter)}
		}
		if present[ch.Number] {
			result.SkippedChapters = append(result.SkippedChapters, ch.Number)
			r.logger.LogSkip(project.ID, code, ch.Number, "chapter already present")
			continue
		}
		verses, err := selector.ChapterVerses(ch.Path, ch.Number)
		if err != nil {
			return nil, fmt.Errorf("failed to scan %s: %w", ch.Path, err)
		}
		if len(verses) == 0 {
			continue
		}
		limit := r.index.MaxVerses(code, ch.Number)
		if last := verses[len(verses)-1]; last > limit {
			return nil, &ValidationError{Book: code, Chapter: ch.Number,
				Reason: fmt.Sprintf("verse %d exceeds %d verses", last, limit)}
		}
		pending = append(pending, ch)
	}

	if len(pending) == 0 {
		if len(result.SkippedChapters) == 0 {
			return nil, &ValidationError{Book: code, Reason: "no verse data found"}
		}
		if existing != nil {
			result.BookID = existing.ID
		}
		util.InfoLog("%s: all %d chapters already present", code, len(result.SkippedChapters))
		return result, nil
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	book := existing
	if book == nil {
		book = &store.Book{ProjectID: project.ID, Code: code}
		if err := r.store.CreateBook(book); err != nil {
			return nil, err
		}
		result.Created = true
	}
	result.BookID = book.ID

	bookDir := filepath.Join(ingredients, code)
	var moved []string
	undo := func(cause error) {
		util.WarnLog("Rolling back %s: %v", code, cause)
		if result.Created {
			if err := r.store.DeleteBook(book.ID); err != nil {
				util.ErrorLog("Failed to delete book %s: %v", code, err)
			}
			util.RemoveAllQuiet(bookDir)
		} else {
			for _, ch := range result.Chapters {
				if err := r.store.DeleteChapter(ch.ChapterID); err != nil {
					util.ErrorLog("Failed to delete %s %d: %v", code, ch.Number, err)
				}
			}
			for _, dir := range moved {
				util.RemoveAllQuiet(dir)
			}
		}
		r.logger.LogRollback(project.ID, code, bookDir, cause)
	}

	if err := os.MkdirAll(bookDir, 0755); err != nil {
		undo(err)
		return nil, fmt.Errorf("failed to create %s: %w", bookDir, err)
	}

	for _, ch := range pending {
		dst := filepath.Join(bookDir, strconv.Itoa(ch.Number))
		// a folder without a chapter row is leftover from an earlier failure
		util.RemoveAllQuiet(dst)
		if err := util.MovePath(ch.Path, dst); err != nil {
			undo(err)
			return nil, err
		}
		moved = append(moved, dst)

		persisted, incompatible, err := r.reconcileChapter(project.ID, book, layout.ChapterDir{Number: ch.Number, Path: dst})
		result.Incompatible = append(result.Incompatible, incompatible...)
		if err != nil {
			undo(err)
			return nil, err
		}
		if persisted == nil {
			result.SkippedChapters = append(result.SkippedChapters, ch.Number)
			continue
		}
		result.Chapters = append(result.Chapters, *persisted)
	}

	if len(result.Chapters) == 0 {
		cause := &ValidationError{Book: code, Reason: "no valid verses after selection"}
		undo(cause)
		return nil, cause
	}

	r.logger.LogIngest(project.ID, code, len(result.Chapters), result.VerseCount())
	util.InfoLog("Added %s: %d chapters, %d verses", code, len(result.Chapters), result.VerseCount())
	return result, nil
}

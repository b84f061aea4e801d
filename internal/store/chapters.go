package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/Bridgeconn/obt-workflow/internal/util"
)

// InsertChapter creates a chapter and its verses atomically, setting IDs
func (s *Store) InsertChapter(ch *Chapter, verses []*Verse) error {
	missing, err := encodeMissing(ch.MissingVerses)
	if err != nil {
		return err
	}

	return s.Transaction(func(tx *sql.Tx) error {
		result, err := tx.Exec(`
			INSERT INTO chapters (book_id, number, approved, missing_verses)
			VALUES (?, ?, ?, ?)
		`, ch.BookID, ch.Number, ch.Approved, missing)
		if err != nil {
			return fmt.Errorf("failed to insert chapter %d: %w", ch.Number, err)
		}
		if ch.ID, err = result.LastInsertId(); err != nil {
			return err
		}

		stmt, err := tx.Prepare(`
			INSERT INTO verses (chapter_id, number, name, path, size_bytes, format)
			VALUES (?, ?, ?, ?, ?, ?)
		`)
		if err != nil {
			return fmt.Errorf("failed to prepare verse insert: %w", err)
		}
		defer stmt.Close()

		for _, v := range verses {
			v.ChapterID = ch.ID
			result, err := stmt.Exec(v.ChapterID, v.Number, v.Name, v.Path, v.SizeBytes, v.Format)
			if err != nil {
				return fmt.Errorf("failed to insert verse %d:%d: %w", ch.Number, v.Number, err)
			}
			if v.ID, err = result.LastInsertId(); err != nil {
				return err
			}
			v.Version = 1
		}
		return nil
	})
}

const chapterColumns = `id, book_id, number, approved, missing_verses`

func scanChapter(row interface{ Scan(...any) error }) (*Chapter, error) {
	ch := &Chapter{}
	var missing sql.NullString
	if err := row.Scan(&ch.ID, &ch.BookID, &ch.Number, &ch.Approved, &missing); err != nil {
		return nil, err
	}
	if missing.Valid && missing.String != "" {
		if err := json.Unmarshal([]byte(missing.String), &ch.MissingVerses); err != nil {
			return nil, fmt.Errorf("corrupt missing_verses for chapter %d: %w", ch.ID, err)
		}
	}
	return ch, nil
}

func encodeMissing(missing []int) (any, error) {
	if len(missing) == 0 {
		return nil, nil
	}
	data, err := json.Marshal(missing)
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

// GetChapter retrieves a chapter by ID
func (s *Store) GetChapter(id int64) (*Chapter, error) {
	ch, err := scanChapter(s.db.QueryRow("SELECT "+chapterColumns+" FROM chapters WHERE id = ?", id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get chapter: %w", err)
	}
	return ch, nil
}

// ListChapters returns a book's chapters ordered by number
func (s *Store) ListChapters(bookID int64) ([]*Chapter, error) {
	rows, err := s.db.Query("SELECT "+chapterColumns+" FROM chapters WHERE book_id = ? ORDER BY number", bookID)
	if err != nil {
		return nil, fmt.Errorf("failed to list chapters: %w", err)
	}
	defer rows.Close()

	var chapters []*Chapter
	for rows.Next() {
		ch, err := scanChapter(rows)
		if err != nil {
			return nil, err
		}
		chapters = append(chapters, ch)
	}
	return chapters, rows.Err()
}

// SetChapterApproved records or revokes human sign-off
func (s *Store) SetChapterApproved(id int64, approved bool) error {
	return s.execOne("UPDATE chapters SET approved = ? WHERE id = ?", "chapter", approved, id)
}

// DeleteChapter removes a chapter with its verses and jobs
func (s *Store) DeleteChapter(id int64) error {
	return s.Transaction(func(tx *sql.Tx) error {
		stmts := []string{
			`DELETE FROM jobs WHERE verse_id IN (SELECT id FROM verses WHERE chapter_id = ?)`,
			`DELETE FROM verses WHERE chapter_id = ?`,
			`DELETE FROM chapters WHERE id = ?`,
		}
		for _, stmt := range stmts {
			if _, err := tx.Exec(stmt, id); err != nil {
				return fmt.Errorf("failed to delete chapter %d: %w", id, err)
			}
		}
		return nil
	})
}

// ChapterContext loads a chapter together with its book and project
func (s *Store) ChapterContext(chapterID int64) (*Chapter, *Book, *Project, error) {
	ch, err := s.GetChapter(chapterID)
	if err != nil {
		return nil, nil, nil, err
	}
	if ch == nil {
		return nil, nil, nil, fmt.Errorf("chapter %d: %w", chapterID, util.ErrNotFound)
	}
	book, err := s.GetBook(ch.BookID)
	if err != nil {
		return nil, nil, nil, err
	}
	if book == nil {
		return nil, nil, nil, fmt.Errorf("book %d: %w", ch.BookID, util.ErrNotFound)
	}
	project, err := s.GetProject(book.ProjectID)
	if err != nil {
		return nil, nil, nil, err
	}
	if project == nil {
		return nil, nil, nil, fmt.Errorf("project %d: %w", book.ProjectID, util.ErrNotFound)
	}
	return ch, book, project, nil
}

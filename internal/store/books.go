package store

import (
	"database/sql"
	"fmt"

	"github.com/Bridgeconn/obt-workflow/internal/util"
)

// ErrNoRow is returned by updates that matched nothing
var ErrNoRow = fmt.Errorf("%w: no such row", util.ErrNotFound)

// CreateBook inserts a book and sets its ID
func (s *Store) CreateBook(b *Book) error {
	result, err := s.db.Exec("INSERT INTO books (project_id, code) VALUES (?, ?)", b.ProjectID, b.Code)
	if err != nil {
		return fmt.Errorf("failed to insert book %s: %w", b.Code, err)
	}
	b.ID, err = result.LastInsertId()
	return err
}

// GetBook retrieves a book by ID
func (s *Store) GetBook(id int64) (*Book, error) {
	b := &Book{}
	err := s.db.QueryRow("SELECT id, project_id, code FROM books WHERE id = ?", id).
		Scan(&b.ID, &b.ProjectID, &b.Code)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get book: %w", err)
	}
	return b, nil
}

// GetBookByCode retrieves a project's book by code
func (s *Store) GetBookByCode(projectID int64, code string) (*Book, error) {
	b := &Book{}
	err := s.db.QueryRow("SELECT id, project_id, code FROM books WHERE project_id = ? AND code = ?", projectID, code).
		Scan(&b.ID, &b.ProjectID, &b.Code)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get book: %w", err)
	}
	return b, nil
}

// ListBooks returns a project's books ordered by ID (ingestion order)
func (s *Store) ListBooks(projectID int64) ([]*Book, error) {
	rows, err := s.db.Query("SELECT id, project_id, code FROM books WHERE project_id = ? ORDER BY id", projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to list books: %w", err)
	}
	defer rows.Close()

	var books []*Book
	for rows.Next() {
		b := &Book{}
		if err := rows.Scan(&b.ID, &b.ProjectID, &b.Code); err != nil {
			return nil, err
		}
		books = append(books, b)
	}
	return books, rows.Err()
}

// DeleteBook removes a book and its chapters, verses and jobs
func (s *Store) DeleteBook(id int64) error {
	return s.Transaction(func(tx *sql.Tx) error {
		stmts := []string{
			`DELETE FROM jobs WHERE verse_id IN (
				SELECT v.id FROM verses v JOIN chapters c ON v.chapter_id = c.id WHERE c.book_id = ?)`,
			`DELETE FROM verses WHERE chapter_id IN (SELECT id FROM chapters WHERE book_id = ?)`,
			`DELETE FROM chapters WHERE book_id = ?`,
			`DELETE FROM books WHERE id = ?`,
		}
		for _, stmt := range stmts {
			if _, err := tx.Exec(stmt, id); err != nil {
				return fmt.Errorf("failed to delete book %d: %w", id, err)
			}
		}
		return nil
	})
}

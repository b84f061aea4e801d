package store

import (
	"database/sql"
	"fmt"
	"strings"
)

// CreateProject inserts a project and sets its ID
func (s *Store) CreateProject(p *Project) error {
	result, err := s.db.Exec(`
		INSERT INTO projects (name, owner, script_lang, audio_lang, archived)
		VALUES (?, ?, ?, ?, ?)
	`, p.Name, p.Owner, p.ScriptLang, p.AudioLang, p.Archived)
	if err != nil {
		return fmt.Errorf("failed to insert project: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get project ID: %w", err)
	}
	p.ID = id
	return s.db.QueryRow("SELECT created_at FROM projects WHERE id = ?", id).Scan(&p.CreatedAt)
}

const projectColumns = `id, name, owner, script_lang, audio_lang, archived, created_at`

func scanProject(row interface{ Scan(...any) error }) (*Project, error) {
	p := &Project{}
	err := row.Scan(&p.ID, &p.Name, &p.Owner, &p.ScriptLang, &p.AudioLang, &p.Archived, &p.CreatedAt)
	return p, err
}

// GetProject retrieves a project by ID
func (s *Store) GetProject(id int64) (*Project, error) {
	p, err := scanProject(s.db.QueryRow("SELECT "+projectColumns+" FROM projects WHERE id = ?", id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get project: %w", err)
	}
	return p, nil
}

// ListProjects returns projects ordered by ID
func (s *Store) ListProjects(includeArchived bool) ([]*Project, error) {
	query := "SELECT " + projectColumns + " FROM projects"
	if !includeArchived {
		query += " WHERE archived = 0"
	}
	rows, err := s.db.Query(query + " ORDER BY id")
	if err != nil {
		return nil, fmt.Errorf("failed to list projects: %w", err)
	}
	defer rows.Close()

	var projects []*Project
	for rows.Next() {
		p, err := scanProject(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan project: %w", err)
		}
		projects = append(projects, p)
	}
	return projects, rows.Err()
}

// ProjectNamesLike returns existing names equal to base or shaped like base(n)
func (s *Store) ProjectNamesLike(base string) ([]string, error) {
	escaped := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(base)
	rows, err := s.db.Query(`
		SELECT name FROM projects
		WHERE name = ? OR name LIKE ? ESCAPE '\'
		ORDER BY id
	`, base, escaped+"(%)")
	if err != nil {
		return nil, fmt.Errorf("failed to query project names: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

// SetProjectLanguages updates the script and audio languages
func (s *Store) SetProjectLanguages(id int64, scriptLang, audioLang string) error {
	return s.execOne("UPDATE projects SET script_lang = ?, audio_lang = ? WHERE id = ?",
		"project", scriptLang, audioLang, id)
}

// SetProjectArchived flags a project archived or active
func (s *Store) SetProjectArchived(id int64, archived bool) error {
	return s.execOne("UPDATE projects SET archived = ? WHERE id = ?", "project", archived, id)
}

// DeleteProject removes a project and every row beneath it
func (s *Store) DeleteProject(id int64) error {
	return s.Transaction(func(tx *sql.Tx) error {
		stmts := []string{
			`DELETE FROM jobs WHERE verse_id IN (
				SELECT v.id FROM verses v JOIN chapters c ON v.chapter_id = c.id
				JOIN books b ON c.book_id = b.id WHERE b.project_id = ?)`,
			`DELETE FROM verses WHERE chapter_id IN (
				SELECT c.id FROM chapters c JOIN books b ON c.book_id = b.id WHERE b.project_id = ?)`,
			`DELETE FROM chapters WHERE book_id IN (SELECT id FROM books WHERE project_id = ?)`,
			`DELETE FROM books WHERE project_id = ?`,
			`DELETE FROM projects WHERE id = ?`,
		}
		for _, stmt := range stmts {
			if _, err := tx.Exec(stmt, id); err != nil {
				return fmt.Errorf("failed to delete project %d: %w", id, err)
			}
		}
		return nil
	})
}

// execOne runs an update that must touch exactly one row
func (s *Store) execOne(query, what string, args ...any) error {
	result, err := s.db.Exec(query, args...)
	if err != nil {
		return fmt.Errorf("failed to update %s: %w", what, err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%s %v: %w", what, args[len(args)-1], ErrNoRow)
	}
	return nil
}

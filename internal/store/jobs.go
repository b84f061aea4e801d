package store

import (
	"database/sql"
	"fmt"
	"time"
)

// CreateJob appends a job row; Status defaults to pending
func (s *Store) CreateJob(j *Job) error {
	if j.Status == "" {
		j.Status = JobPending
	}
	now := time.Now().UTC()
	result, err := s.db.Exec(`
		INSERT INTO jobs (verse_id, kind, external_id, status, message, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, j.VerseID, string(j.Kind), nullString(j.ExternalID), string(j.Status), j.Message, now, now)
	if err != nil {
		return fmt.Errorf("failed to insert job: %w", err)
	}
	j.ID, err = result.LastInsertId()
	j.CreatedAt, j.UpdatedAt = now, now
	return err
}

// UpdateJob moves a job to a new status, optionally recording the external ID
func (s *Store) UpdateJob(j *Job, status JobStatus, externalID, message string) error {
	if externalID == "" {
		externalID = j.ExternalID
	}
	now := time.Now().UTC()
	if err := s.execOne(`
		UPDATE jobs SET status = ?, external_id = ?, message = ?, updated_at = ?
		WHERE id = ?
	`, "job", string(status), nullString(externalID), message, now, j.ID); err != nil {
		return err
	}
	j.Status, j.ExternalID, j.Message, j.UpdatedAt = status, externalID, message, now
	return nil
}

const jobColumns = `id, verse_id, kind, COALESCE(external_id, ''), status, message, created_at, updated_at`

func scanJob(row interface{ Scan(...any) error }) (*Job, error) {
	j := &Job{}
	var kind, status string
	err := row.Scan(&j.ID, &j.VerseID, &kind, &j.ExternalID, &status, &j.Message, &j.CreatedAt, &j.UpdatedAt)
	j.Kind, j.Status = JobKind(kind), JobStatus(status)
	return j, err
}

// ListJobsForVerse returns a verse's job history, oldest first
func (s *Store) ListJobsForVerse(verseID int64) ([]*Job, error) {
	return s.queryJobs("SELECT "+jobColumns+" FROM jobs WHERE verse_id = ? ORDER BY id", verseID)
}

// LatestJobs returns the most recent job per verse of a chapter
func (s *Store) LatestJobs(chapterID int64) (map[int64]*Job, error) {
	jobs, err := s.queryJobs(`
		SELECT `+jobColumns+` FROM jobs WHERE id IN (
			SELECT MAX(j.id) FROM jobs j JOIN verses v ON j.verse_id = v.id
			WHERE v.chapter_id = ? GROUP BY j.verse_id)
	`, chapterID)
	if err != nil {
		return nil, err
	}
	latest := make(map[int64]*Job, len(jobs))
	for _, j := range jobs {
		latest[j.VerseID] = j
	}
	return latest, nil
}

// CountJobsByStatus counts jobs in a given status
func (s *Store) CountJobsByStatus(status JobStatus) (int, error) {
	var n int
	err := s.db.QueryRow("SELECT COUNT(*) FROM jobs WHERE status = ?", string(status)).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count jobs: %w", err)
	}
	return n, nil
}

func (s *Store) queryJobs(query string, args ...any) ([]*Job, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan job: %w", err)
		}
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

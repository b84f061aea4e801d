package store

import (
	"database/sql"
	"fmt"

	"github.com/Bridgeconn/obt-workflow/internal/util"
)

// ErrStaleVerse means the verse was written by someone else since it was read
var ErrStaleVerse = fmt.Errorf("%w: verse changed since it was read", util.ErrStale)

const verseColumns = `id, chapter_id, number, name, path, size_bytes, format,
	stt, stt_msg, text, modified, tts, tts_path, tts_msg, version`

func scanVerse(row interface{ Scan(...any) error }) (*Verse, error) {
	v := &Verse{}
	err := row.Scan(&v.ID, &v.ChapterID, &v.Number, &v.Name, &v.Path, &v.SizeBytes, &v.Format,
		&v.STT, &v.STTMsg, &v.Text, &v.Modified, &v.TTS, &v.TTSPath, &v.TTSMsg, &v.Version)
	return v, err
}

// GetVerse retrieves a verse by ID
func (s *Store) GetVerse(id int64) (*Verse, error) {
	v, err := scanVerse(s.db.QueryRow("SELECT "+verseColumns+" FROM verses WHERE id = ?", id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get verse: %w", err)
	}
	return v, nil
}

// ListVerses returns a chapter's verses ordered by number
func (s *Store) ListVerses(chapterID int64) ([]*Verse, error) {
	rows, err := s.db.Query("SELECT "+verseColumns+" FROM verses WHERE chapter_id = ? ORDER BY number", chapterID)
	if err != nil {
		return nil, fmt.Errorf("failed to list verses: %w", err)
	}
	defer rows.Close()

	var verses []*Verse
	for rows.Next() {
		v, err := scanVerse(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan verse: %w", err)
		}
		verses = append(verses, v)
	}
	return verses, rows.Err()
}

// updateVerse applies set to the row only if its version still matches v.Version
func updateVerse(exec interface {
	Exec(string, ...any) (sql.Result, error)
}, v *Verse, set string, args ...any) error {
	args = append(args, v.ID, v.Version)
	result, err := exec.Exec("UPDATE verses SET "+set+", version = version + 1 WHERE id = ? AND version = ?", args...)
	if err != nil {
		return fmt.Errorf("failed to update verse %d: %w", v.ID, err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("verse %d (version %d): %w", v.ID, v.Version, ErrStaleVerse)
	}
	v.Version++
	return nil
}

// ResetSTT clears transcription status ahead of a new run
func (s *Store) ResetSTT(v *Verse) error {
	if err := updateVerse(s.db, v, "stt = 0, stt_msg = ''"); err != nil {
		return err
	}
	v.STT, v.STTMsg = false, ""
	return nil
}

// CompleteSTT stores a transcript
func (s *Store) CompleteSTT(v *Verse, text, msg string) error {
	if err := updateVerse(s.db, v, "text = ?, stt = 1, stt_msg = ?", text, msg); err != nil {
		return err
	}
	v.Text, v.STT, v.STTMsg = text, true, msg
	return nil
}

// FailSTT records a transcription failure
func (s *Store) FailSTT(v *Verse, msg string) error {
	if err := updateVerse(s.db, v, "stt = 0, stt_msg = ?", msg); err != nil {
		return err
	}
	v.STT, v.STTMsg = false, msg
	return nil
}

// ResetTTS clears synthesis status ahead of a new run
func (s *Store) ResetTTS(v *Verse) error {
	if err := updateVerse(s.db, v, "tts = 0, tts_msg = ''"); err != nil {
		return err
	}
	v.TTS, v.TTSMsg = false, ""
	return nil
}

// CompleteTTS records the canonical synthesized audio for a verse
func (s *Store) CompleteTTS(v *Verse, path, msg string) error {
	if err := updateVerse(s.db, v, "tts = 1, tts_path = ?, tts_msg = ?", path, msg); err != nil {
		return err
	}
	v.TTS, v.TTSPath, v.TTSMsg = true, path, msg
	return nil
}

// FailTTS records a synthesis failure
func (s *Store) FailTTS(v *Verse, msg string) error {
	if err := updateVerse(s.db, v, "tts = 0, tts_msg = ?", msg); err != nil {
		return err
	}
	v.TTS, v.TTSMsg = false, msg
	return nil
}

// EditVerseText stores a human edit: the verse becomes modified, its
// synthesized audio is invalidated and the chapter loses its approval, in one
// transaction. Deleting the audio file is the caller's job.
func (s *Store) EditVerseText(v *Verse, text string) error {
	err := s.Transaction(func(tx *sql.Tx) error {
		if err := updateVerse(tx, v,
			"text = ?, modified = 1, tts = 0, tts_path = '', tts_msg = ''", text); err != nil {
			return err
		}
		if _, err := tx.Exec("UPDATE chapters SET approved = 0 WHERE id = ?", v.ChapterID); err != nil {
			return fmt.Errorf("failed to revoke chapter approval: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}
	v.Text, v.Modified = text, true
	v.TTS, v.TTSPath, v.TTSMsg = false, "", ""
	return nil
}

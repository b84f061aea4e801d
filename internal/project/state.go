package project

import (
	"fmt"

	"golang.org/x/text/unicode/norm"

	"github.com/Bridgeconn/obt-workflow/internal/store"
	"github.com/Bridgeconn/obt-workflow/internal/util"
)

// EditVerse stores a human correction. The verse becomes modified, its
// synthesized audio is deleted and the chapter loses its approval.
func (s *Service) EditVerse(verseID int64, text string) (*store.Verse, error) {
	v, err := s.store.GetVerse(verseID)
	if err != nil {
		return nil, err
	}
	if v == nil {
		return nil, fmt.Errorf("verse %d: %w", verseID, util.ErrNotFound)
	}

	stale := v.TTSPath
	if err := s.store.EditVerseText(v, norm.NFC.String(text)); err != nil {
		return nil, err
	}
	if stale != "" {
		if err := util.RetryableRemove(stale, nil); err != nil {
			util.WarnLog("Failed to remove stale audio %s: %v", stale, err)
		}
	}
	s.logger.LogEdit(v.ID, stale)
	return v, nil
}

// ApproveChapter sets or revokes a chapter's approval
func (s *Service) ApproveChapter(chapterID int64, approved bool) error {
	ch, err := s.store.GetChapter(chapterID)
	if err != nil {
		return err
	}
	if ch == nil {
		return fmt.Errorf("chapter %d: %w", chapterID, util.ErrNotFound)
	}
	return s.store.SetChapterApproved(ch.ID, approved)
}

// SetLanguages sets the script language (transcription) and audio language
// (synthesis) of a project. Empty values clear the setting.
func (s *Service) SetLanguages(projectID int64, script, audio string) error {
	for _, lang := range []string{script, audio} {
		if lang != "" && !s.catalog.IsKnown(lang) {
			return fmt.Errorf("%w: language %q", util.ErrUnsupported, lang)
		}
	}
	if _, err := s.getProject(projectID); err != nil {
		return err
	}
	return s.store.SetProjectLanguages(projectID, script, audio)
}

// SetArchived archives or restores a project
func (s *Service) SetArchived(projectID int64, archived bool) error {
	return s.store.SetProjectArchived(projectID, archived)
}

// Projects lists projects, newest last
func (s *Service) Projects(includeArchived bool) ([]*store.Project, error) {
	return s.store.ListProjects(includeArchived)
}

// ChapterStatus is a chapter with every verse and its latest job
type ChapterStatus struct {
	Project *store.Project
	Book    *store.Book
	Chapter *store.Chapter
	Verses  []*store.Verse
	Jobs    map[int64]*store.Job // by verse ID; absent when never submitted
}

// Transcribed counts verses with text from transcription or editing
func (c *ChapterStatus) Transcribed() int {
	n := 0
	for _, v := range c.Verses {
		if v.STT || v.Modified {
			n++
		}
	}
	return n
}

// Synthesized counts verses with generated audio
func (c *ChapterStatus) Synthesized() int {
	n := 0
	for _, v := range c.Verses {
		if v.TTS {
			n++
		}
	}
	return n
}

// Modified counts human-edited verses
func (c *ChapterStatus) Modified() int {
	n := 0
	for _, v := range c.Verses {
		if v.Modified {
			n++
		}
	}
	return n
}

// ChapterStatus loads a chapter with its verses and latest jobs
func (s *Service) ChapterStatus(chapterID int64) (*ChapterStatus, error) {
	ch, book, project, err := s.store.ChapterContext(chapterID)
	if err != nil {
		return nil, err
	}
	return s.chapterStatus(project, book, ch)
}

func (s *Service) chapterStatus(project *store.Project, book *store.Book, ch *store.Chapter) (*ChapterStatus, error) {
	verses, err := s.store.ListVerses(ch.ID)
	if err != nil {
		return nil, err
	}
	jobs, err := s.store.LatestJobs(ch.ID)
	if err != nil {
		return nil, err
	}
	return &ChapterStatus{Project: project, Book: book, Chapter: ch, Verses: verses, Jobs: jobs}, nil
}

// BookStatus groups the chapter states of one book
type BookStatus struct {
	Book     *store.Book
	Chapters []*ChapterStatus
}

// Overview is a project with the state of every chapter
type Overview struct {
	Project *store.Project
	Books   []*BookStatus
}

// Overview loads the full state of a project
func (s *Service) Overview(projectID int64) (*Overview, error) {
	project, err := s.getProject(projectID)
	if err != nil {
		return nil, err
	}
	books, err := s.store.ListBooks(project.ID)
	if err != nil {
		return nil, err
	}

	out := &Overview{Project: project}
	for _, b := range books {
		chapters, err := s.store.ListChapters(b.ID)
		if err != nil {
			return nil, err
		}
		bs := &BookStatus{Book: b}
		for _, ch := range chapters {
			cs, err := s.chapterStatus(project, b, ch)
			if err != nil {
				return nil, err
			}
			bs.Chapters = append(bs.Chapters, cs)
		}
		out.Books = append(out.Books, bs)
	}
	return out, nil
}

// VerseJobs returns the job history of a verse, oldest first
func (s *Service) VerseJobs(verseID int64) (*store.Verse, []*store.Job, error) {
	v, err := s.store.GetVerse(verseID)
	if err != nil {
		return nil, nil, err
	}
	if v == nil {
		return nil, nil, fmt.Errorf("verse %d: %w", verseID, util.ErrNotFound)
	}
	jobs, err := s.store.ListJobsForVerse(v.ID)
	if err != nil {
		return nil, nil, err
	}
	return v, jobs, nil
}

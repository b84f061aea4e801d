package project

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/Bridgeconn/obt-workflow/internal/archive"
	"github.com/Bridgeconn/obt-workflow/internal/layout"
	"github.com/Bridgeconn/obt-workflow/internal/store"
	"github.com/Bridgeconn/obt-workflow/internal/usfm"
	"github.com/Bridgeconn/obt-workflow/internal/util"
)

// ExportUSFM regenerates the USFM document of one book and returns its path.
// Every chapter and verse the versification expects is present.
func (s *Service) ExportUSFM(projectID int64, code string) (string, error) {
	project, err := s.getProject(projectID)
	if err != nil {
		return "", err
	}
	return s.exportUSFM(project, code)
}

func (s *Service) exportUSFM(project *store.Project, code string) (string, error) {
	book, err := s.store.GetBookByCode(project.ID, code)
	if err != nil {
		return "", err
	}
	if book == nil {
		return "", fmt.Errorf("book %s in project %d: %w", code, project.ID, util.ErrNotFound)
	}
	maxVerses, ok := s.index.Book(code)
	if !ok {
		return "", fmt.Errorf("%w: %s is not in the versification", util.ErrValidation, code)
	}

	chapters, err := s.store.ListChapters(book.ID)
	if err != nil {
		return "", err
	}
	text := make(map[int]map[int]string, len(chapters))
	for _, ch := range chapters {
		verses, err := s.store.ListVerses(ch.ID)
		if err != nil {
			return "", err
		}
		byNumber := make(map[int]string, len(verses))
		for _, v := range verses {
			byNumber[v.Number] = v.Text
		}
		text[ch.Number] = byNumber
	}

	data := usfm.Render(&usfm.Book{
		Code:      code,
		Info:      s.books.Info(code),
		MaxVerses: maxVerses,
		Text:      text,
	})

	path := s.layout.USFMPath(project.ID, project.Name, code)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return "", fmt.Errorf("failed to create text folder: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return "", fmt.Errorf("failed to write %s: %w", path, err)
	}
	util.DebugLog("Wrote %s (%d chapters)", path, len(maxVerses))
	return path, nil
}

// ExportResult summarizes a project package
type ExportResult struct {
	Path        string
	Size        int64
	AudioFiles  int
	Synthesized int // audio files taken from the output tree
	USFM        []string // book codes packed under text-1
	USFMErrors  map[string]error // by book code
}

// ExportProject regenerates USFM for every book and packs the project into
// {base}/{id}/{name}.zip. Synthesized audio replaces the input file with the
// same stem. USFM failures for a book are reported, not fatal.
func (s *Service) ExportProject(ctx context.Context, projectID int64) (*ExportResult, error) {
	project, err := s.getProject(projectID)
	if err != nil {
		return nil, err
	}
	books, err := s.store.ListBooks(project.ID)
	if err != nil {
		return nil, err
	}

	result := &ExportResult{USFMErrors: make(map[string]error)}
	for _, b := range books {
		if _, err := s.exportUSFM(project, b.Code); err != nil {
			util.WarnLog("USFM export failed for %s: %v", b.Code, err)
			result.USFMErrors[b.Code] = err
		}
	}

	input := s.layout.InputDir(project.ID, project.Name)
	ingredients, err := layout.FindIngredients(input)
	if err != nil {
		return nil, err
	}

	tmp, err := s.newStagingDir("export")
	if err != nil {
		return nil, err
	}
	defer util.RemoveAllQuiet(tmp)

	audioDst := filepath.Join(tmp, "audio", "ingredients")
	textDst := filepath.Join(tmp, "text-1", "ingredients")

	for _, b := range books {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if err := s.packBookAudio(project, b.Code, ingredients, audioDst, result); err != nil {
			return nil, err
		}
	}

	if err := copyMatching(ingredients, []string{".json", ".md"}, nil, audioDst, textDst); err != nil {
		return nil, err
	}

	outputText := filepath.Join(s.layout.OutputDir(project.ID, project.Name), "text-1", "ingredients")
	seen := make(map[string]bool)
	if err := copyMatching(outputText, []string{".usfm"}, seen, textDst); err != nil {
		return nil, err
	}
	if err := copyMatching(filepath.Join(contentRoot(ingredients), "text-1", "ingredients"), []string{".usfm"}, seen, textDst); err != nil {
		return nil, err
	}
	for name := range seen {
		result.USFM = append(result.USFM, name)
	}
	sort.Strings(result.USFM)

	if meta, err := archive.FindMetadata(input); err == nil {
		for _, dst := range []string{filepath.Join(tmp, "metadata.json"), filepath.Join(tmp, "text-1", "metadata.json")} {
			if err := util.CopyFile(meta, dst); err != nil {
				return nil, fmt.Errorf("failed to copy metadata.json: %w", err)
			}
		}
	} else {
		util.WarnLog("Exporting project %d without metadata.json: %v", project.ID, err)
	}

	result.Path = s.layout.PackagePath(project.ID, project.Name)
	if err := util.RetryableRemove(result.Path, nil); err != nil {
		return nil, err
	}
	result.Size, err = archive.Pack(tmp, result.Path)
	if err != nil {
		return nil, err
	}
	s.logger.LogExport(project.ID, result.Path, result.Size)
	return result, nil
}

// packBookAudio copies one book's chapter folders, preferring output files
func (s *Service) packBookAudio(project *store.Project, code, ingredients, dst string, result *ExportResult) error {
	chapters, err := layout.ChapterDirs(filepath.Join(ingredients, code))
	if err != nil {
		return err
	}
	for _, ch := range chapters {
		synthesized, err := filesByStem(s.layout.OutputChapterDir(project.ID, project.Name, code, ch.Number))
		if err != nil {
			return err
		}
		entries, err := os.ReadDir(ch.Path)
		if err != nil {
			return fmt.Errorf("failed to read %s: %w", ch.Path, err)
		}
		target := filepath.Join(dst, code, filepath.Base(ch.Path))
		for _, e := range entries {
			if e.IsDir() || strings.HasPrefix(e.Name(), ".") {
				continue
			}
			src := filepath.Join(ch.Path, e.Name())
			if out, ok := synthesized[stem(e.Name())]; ok {
				src = out
				result.Synthesized++
			}
			if err := util.CopyFile(src, filepath.Join(target, filepath.Base(src))); err != nil {
				return fmt.Errorf("failed to copy %s: %w", src, err)
			}
			result.AudioFiles++
		}
	}
	return nil
}

func stem(name string) string {
	return strings.TrimSuffix(name, filepath.Ext(name))
}

// filesByStem maps file stems to paths; a missing dir is empty
func filesByStem(dir string) (map[string]string, error) {
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", dir, err)
	}
	files := make(map[string]string, len(entries))
	for _, e := range entries {
		if !e.IsDir() {
			files[stem(e.Name())] = filepath.Join(dir, e.Name())
		}
	}
	return files, nil
}

// copyMatching copies the files of dir with one of exts into every dst.
// When seen is non-nil, names already in it are skipped and copied names added.
func copyMatching(dir string, exts []string, seen map[string]bool, dsts ...string) error {
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", dir, err)
	}
	for _, e := range entries {
		if e.IsDir() || !hasExt(e.Name(), exts) {
			continue
		}
		if seen != nil {
			if seen[stem(e.Name())] {
				continue
			}
			seen[stem(e.Name())] = true
		}
		for _, dst := range dsts {
			if err := util.CopyFile(filepath.Join(dir, e.Name()), filepath.Join(dst, e.Name())); err != nil {
				return fmt.Errorf("failed to copy %s: %w", e.Name(), err)
			}
		}
	}
	return nil
}

func hasExt(name string, exts []string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	for _, e := range exts {
		if ext == e {
			return true
		}
	}
	return false
}

// contentRoot is the package root holding an ingredients folder
func contentRoot(ingredients string) string {
	parent := filepath.Dir(ingredients)
	switch filepath.Base(parent) {
	case "audio", "text", "text-1":
		return filepath.Dir(parent)
	}
	return parent
}

package reconcile

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/Bridgeconn/obt-workflow/internal/store"
	"github.com/Bridgeconn/obt-workflow/internal/util"
	"github.com/Bridgeconn/obt-workflow/internal/versification"
)

type fixture struct {
	store   *store.Store
	rec     *Reconciler
	project *store.Project
	root    string // project dir
	ingr    string // ingredients dir
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "obt.db"))
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	p := &store.Project{Name: "Demo", Owner: "tester"}
	if err := s.CreateProject(p); err != nil {
		t.Fatalf("CreateProject: %v", err)
	}

	root := filepath.Join(t.TempDir(), "1")
	ingr := filepath.Join(root, "input", "Demo", "audio", "ingredients")
	if err := os.MkdirAll(ingr, 0755); err != nil {
		t.Fatal(err)
	}

	index := versification.New(map[string][]int{
		"GEN": {5, 4},
		"EXO": {3},
	})
	return &fixture{
		store:   s,
		rec:     New(&Config{Store: s, Index: index}),
		project: p,
		root:    root,
		ingr:    ingr,
	}
}

// writeVerses creates dir and one file per name
func writeVerses(t *testing.T, dir string, names ...string) {
	t.Helper()
	if err := os.MkdirAll(dir, 0755); err != nil {
		t.Fatal(err)
	}
	for _, name := range names {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("RIFF"), 0644); err != nil {
			t.Fatal(err)
		}
	}
}

func TestIngestProject(t *testing.T) {
	f := newFixture(t)
	writeVerses(t, filepath.Join(f.ingr, "GEN", "1"), "1_1.wav", "1_1_default.wav", "1_2.wav", "1_4.wav", "readme.txt")
	writeVerses(t, filepath.Join(f.ingr, "GEN", "2"), "2_1.mp3")
	writeVerses(t, filepath.Join(f.ingr, "XYZ", "1"), "1_1.wav")
	writeVerses(t, filepath.Join(f.ingr, "EXO", "1"), "notes.txt")

	result, err := f.rec.IngestProject(context.Background(), f.project, f.ingr, f.root)
	if err != nil {
		t.Fatalf("IngestProject: %v", err)
	}

	if len(result.Books) != 1 || result.Books[0].Code != "GEN" {
		t.Fatalf("expected only GEN accepted, got %+v", result.Books)
	}
	if !reflect.DeepEqual(result.SkippedBooks, []string{"EXO", "XYZ"}) {
		t.Errorf("skipped books = %v", result.SkippedBooks)
	}
	if result.ChapterCount() != 2 || result.VerseCount() != 4 {
		t.Errorf("chapters=%d verses=%d, want 2 and 4", result.ChapterCount(), result.VerseCount())
	}

	ch1 := result.Books[0].Chapters[0]
	if !reflect.DeepEqual(ch1.Missing, []int{3, 5}) {
		t.Errorf("chapter 1 missing = %v, want [3 5]", ch1.Missing)
	}
	if !reflect.DeepEqual(result.Incompatible(), []string{"readme.txt"}) {
		t.Errorf("incompatible = %v", result.Incompatible())
	}

	verses, err := f.store.ListVerses(ch1.ChapterID)
	if err != nil {
		t.Fatal(err)
	}
	if verses[0].Name != "1_1.wav" {
		t.Errorf("verse 1 winner = %s, want 1_1.wav", verses[0].Name)
	}
	if _, err := os.Stat(filepath.Join(f.ingr, "GEN", "1", "1_1_default.wav")); !os.IsNotExist(err) {
		t.Error("losing duplicate should be deleted")
	}
}

func TestIngestProjectRollsBackWhenEmpty(t *testing.T) {
	f := newFixture(t)
	writeVerses(t, filepath.Join(f.ingr, "XYZ", "1"), "1_1.wav")
	writeVerses(t, filepath.Join(f.ingr, "GEN", "1"), "cover.jpg")

	_, err := f.rec.IngestProject(context.Background(), f.project, f.ingr, f.root)
	if !errors.Is(err, util.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}

	p, err := f.store.GetProject(f.project.ID)
	if err != nil {
		t.Fatal(err)
	}
	if p != nil {
		t.Error("project row should be deleted")
	}
	if _, err := os.Stat(f.root); !os.IsNotExist(err) {
		t.Error("project directory should be removed")
	}
}

func TestIngestProjectDropsBookWithMismatchedChapters(t *testing.T) {
	f := newFixture(t)
	// verse-shaped but every file names the wrong chapter
	writeVerses(t, filepath.Join(f.ingr, "EXO", "1"), "2_1.wav")
	writeVerses(t, filepath.Join(f.ingr, "GEN", "1"), "1_1.wav")

	result, err := f.rec.IngestProject(context.Background(), f.project, f.ingr, f.root)
	if err != nil {
		t.Fatalf("IngestProject: %v", err)
	}
	if len(result.Books) != 1 || result.Books[0].Code != "GEN" {
		t.Fatalf("books = %+v", result.Books)
	}
	b, err := f.store.GetBookByCode(f.project.ID, "EXO")
	if err != nil {
		t.Fatal(err)
	}
	if b != nil {
		t.Error("EXO book row should be removed")
	}
	if _, err := os.Stat(filepath.Join(f.ingr, "EXO")); !os.IsNotExist(err) {
		t.Error("EXO folder should be removed")
	}
}

func TestIngestProjectCancelled(t *testing.T) {
	f := newFixture(t)
	writeVerses(t, filepath.Join(f.ingr, "GEN", "1"), "1_1.wav")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := f.rec.IngestProject(ctx, f.project, f.ingr, f.root); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestAddBookNewBook(t *testing.T) {
	f := newFixture(t)
	src := t.TempDir()
	writeVerses(t, filepath.Join(src, "1"), "1_1.wav", "1_2.wav", "1_2_default.wav")
	writeVerses(t, filepath.Join(src, "2"), "2_4.wav")

	result, err := f.rec.AddBook(context.Background(), f.project, "GEN", src, f.ingr)
	if err != nil {
		t.Fatalf("AddBook: %v", err)
	}
	if !result.Created || len(result.Chapters) != 2 || result.VerseCount() != 3 {
		t.Fatalf("unexpected result %+v", result)
	}
	if _, err := os.Stat(filepath.Join(f.ingr, "GEN", "2", "2_4.wav")); err != nil {
		t.Errorf("chapter not moved into ingredients: %v", err)
	}
	if _, err := os.Stat(filepath.Join(f.ingr, "GEN", "1", "1_2_default.wav")); !os.IsNotExist(err) {
		t.Error("duplicate should be resolved after move")
	}
}

func TestAddBookSkipsExistingChapters(t *testing.T) {
	f := newFixture(t)
	writeVerses(t, filepath.Join(f.ingr, "GEN", "1"), "1_1.wav")
	if _, err := f.rec.IngestProject(context.Background(), f.project, f.ingr, f.root); err != nil {
		t.Fatal(err)
	}

	src := t.TempDir()
	writeVerses(t, filepath.Join(src, "1"), "1_1_default.wav", "1_2.wav")
	writeVerses(t, filepath.Join(src, "2"), "2_1.wav")

	result, err := f.rec.AddBook(context.Background(), f.project, "GEN", src, f.ingr)
	if err != nil {
		t.Fatalf("AddBook: %v", err)
	}
	if result.Created {
		t.Error("book should not be recreated")
	}
	if !reflect.DeepEqual(result.SkippedChapters, []int{1}) {
		t.Errorf("skipped = %v, want [1]", result.SkippedChapters)
	}
	if len(result.Chapters) != 1 || result.Chapters[0].Number != 2 {
		t.Errorf("added = %+v", result.Chapters)
	}
	if _, err := os.Stat(filepath.Join(f.ingr, "GEN", "1", "1_2.wav")); !os.IsNotExist(err) {
		t.Error("existing chapter must not be touched")
	}
}

func TestAddBookValidation(t *testing.T) {
	tests := []struct {
		name  string
		code  string
		setup func(t *testing.T, src string)
	}{
		{"unknown book", "XYZ", func(t *testing.T, src string) {
			writeVerses(t, filepath.Join(src, "1"), "1_1.wav")
		}},
		{"chapter beyond versification", "GEN", func(t *testing.T, src string) {
			writeVerses(t, filepath.Join(src, "1"), "1_1.wav")
			writeVerses(t, filepath.Join(src, "3"), "3_1.wav")
		}},
		{"verse beyond versification", "GEN", func(t *testing.T, src string) {
			writeVerses(t, filepath.Join(src, "2"), "2_1.wav", "2_5.wav")
		}},
		{"no verse data", "GEN", func(t *testing.T, src string) {
			writeVerses(t, filepath.Join(src, "1"), "notes.txt")
		}},
		{"no chapters", "GEN", func(t *testing.T, src string) {}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			src := t.TempDir()
			tt.setup(t, src)

			_, err := f.rec.AddBook(context.Background(), f.project, tt.code, src, f.ingr)
			var verr *ValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("expected ValidationError, got %v", err)
			}
			books, err := f.store.ListBooks(f.project.ID)
			if err != nil {
				t.Fatal(err)
			}
			if len(books) != 0 {
				t.Errorf("no book should be created, got %d", len(books))
			}
			if _, err := os.Stat(filepath.Join(f.ingr, tt.code)); !os.IsNotExist(err) {
				t.Error("no book folder should be created")
			}
		})
	}
}

func TestAddBookIgnoresStrayFiles(t *testing.T) {
	tests := []struct {
		name  string
		stray string
	}{
		{"incompatible name past the last verse", "1_40_notes.txt"},
		{"file from another chapter", "2_9.wav"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			src := t.TempDir()
			writeVerses(t, filepath.Join(src, "1"), "1_1.wav", "1_2.wav", tt.stray)

			res, err := f.rec.AddBook(context.Background(), f.project, "GEN", src, f.ingr)
			if err != nil {
				t.Fatalf("AddBook failed: %v", err)
			}
			if len(res.Chapters) != 1 || res.Chapters[0].Verses != 2 {
				t.Fatalf("expected chapter 1 with 2 verses, got %+v", res.Chapters)
			}
			if !reflect.DeepEqual(res.Chapters[0].Missing, []int{3, 4, 5}) {
				t.Errorf("missing = %v, want [3 4 5]", res.Chapters[0].Missing)
			}
		})
	}
}

func TestAddBookRollsBackWhenNothingSurvives(t *testing.T) {
	f := newFixture(t)
	src := t.TempDir()
	// every file names the wrong chapter
	writeVerses(t, filepath.Join(src, "1"), "2_1.wav")

	_, err := f.rec.AddBook(context.Background(), f.project, "GEN", src, f.ingr)
	if !errors.Is(err, util.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	b, err := f.store.GetBookByCode(f.project.ID, "GEN")
	if err != nil {
		t.Fatal(err)
	}
	if b != nil {
		t.Error("created book should be rolled back")
	}
	if _, err := os.Stat(filepath.Join(f.ingr, "GEN")); !os.IsNotExist(err) {
		t.Error("book folder should be removed")
	}
}

func TestValidationErrorMessage(t *testing.T) {
	err := &ValidationError{Book: "GEN", Chapter: 51, Reason: "exceeds 50 chapters"}
	want := "validation failed: GEN chapter 51: exceeds 50 chapters"
	if err.Error() != want {
		t.Errorf("got %q, want %q", err.Error(), want)
	}
}

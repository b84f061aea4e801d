package layout

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/Bridgeconn/obt-workflow/internal/util"
)

func mkfile(t *testing.T, path string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, []byte("x"), 0644); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func mkdir(t *testing.T, path string) {
	t.Helper()
	if err := os.MkdirAll(path, 0755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
}

func TestNormalizeDuplicateWrapper(t *testing.T) {
	root := filepath.Join(t.TempDir(), "Proj")
	mkfile(t, filepath.Join(root, "Proj", "metadata.json"))
	mkfile(t, filepath.Join(root, "Proj", "audio", "ingredients", "GEN", "1", "1_1.wav"))

	got, err := Normalize(root)
	if err != nil {
		t.Fatalf("Normalize failed: %v", err)
	}
	if got != root {
		t.Errorf("content root = %s, want %s", got, root)
	}
	if _, err := os.Stat(filepath.Join(root, "metadata.json")); err != nil {
		t.Error("metadata.json not merged up")
	}
	if _, err := os.Stat(filepath.Join(root, "Proj")); !os.IsNotExist(err) {
		t.Error("wrapper folder should be removed")
	}

	// idempotent
	again, err := Normalize(root)
	if err != nil || again != root {
		t.Fatalf("second Normalize = %s, %v", again, err)
	}
	if _, err := os.Stat(filepath.Join(root, "audio", "ingredients", "GEN", "1", "1_1.wav")); err != nil {
		t.Error("second pass changed the tree")
	}
}

func TestNormalizeWrapperContainingItsOwnName(t *testing.T) {
	root := filepath.Join(t.TempDir(), "Proj")
	mkfile(t, filepath.Join(root, "Proj", "Proj", "notes.md"))
	mkfile(t, filepath.Join(root, "Proj", "metadata.json"))

	if _, err := Normalize(root); err != nil {
		t.Fatalf("Normalize failed: %v", err)
	}
	if _, err := os.Stat(filepath.Join(root, "Proj", "notes.md")); err != nil {
		t.Errorf("nested same-name folder should survive the merge: %v", err)
	}
}

func TestNormalizeKeepsCollidingEntries(t *testing.T) {
	root := filepath.Join(t.TempDir(), "Upload")
	mkfile(t, filepath.Join(root, ".DS_Store"))
	mkfile(t, filepath.Join(root, "Proj(1)", "metadata.json"))
	if err := os.WriteFile(filepath.Join(root, "Proj(1)", ".DS_Store"), []byte("wrapper"), 0644); err != nil {
		t.Fatal(err)
	}

	got, err := Normalize(root)
	if err != nil {
		t.Fatalf("Normalize failed: %v", err)
	}
	if got != root {
		t.Errorf("content root = %s, want %s", got, root)
	}
	if _, err := os.Stat(filepath.Join(root, "metadata.json")); err != nil {
		t.Errorf("metadata.json should move up: %v", err)
	}
	data, err := os.ReadFile(filepath.Join(root, "Proj(1)", ".DS_Store"))
	if err != nil || string(data) != "wrapper" {
		t.Errorf("colliding entry should stay in the wrapper, got %q, %v", data, err)
	}
}

func TestNormalizeCountedWrapper(t *testing.T) {
	tests := []string{"My Project(2)", "Upload", "2024(1)"}
	for _, name := range tests {
		t.Run(name, func(t *testing.T) {
			root := filepath.Join(t.TempDir(), "extract")
			mkfile(t, filepath.Join(root, name, "metadata.json"))

			got, err := Normalize(root)
			if err != nil {
				t.Fatalf("Normalize failed: %v", err)
			}
			if got != root {
				t.Errorf("content root = %s, want %s", got, root)
			}
			if _, err := os.Stat(filepath.Join(root, "metadata.json")); err != nil {
				t.Error("children not flattened")
			}
		})
	}
}

func TestNormalizeNumericWrapperIsContentRoot(t *testing.T) {
	root := filepath.Join(t.TempDir(), "extract")
	mkfile(t, filepath.Join(root, "2024", "metadata.json"))

	got, err := Normalize(root)
	if err != nil {
		t.Fatalf("Normalize failed: %v", err)
	}
	if got != filepath.Join(root, "2024") {
		t.Errorf("content root = %s", got)
	}
}

func TestNormalizeMarkers(t *testing.T) {
	root := t.TempDir()
	mkdir(t, filepath.Join(root, "audio", "ingredients"))
	mkdir(t, filepath.Join(root, "__MACOSX"))

	got, err := Normalize(root)
	if err != nil {
		t.Fatalf("Normalize failed: %v", err)
	}
	if got != root {
		t.Errorf("content root = %s, want %s", got, root)
	}
}

func TestNormalizeRejectsUnknownShape(t *testing.T) {
	root := t.TempDir()
	mkfile(t, filepath.Join(root, "a.txt"))
	mkfile(t, filepath.Join(root, "b.txt"))

	_, err := Normalize(root)
	var se *StructureError
	if !errors.As(err, &se) {
		t.Fatalf("expected StructureError, got %v", err)
	}
	if !errors.Is(err, util.ErrStructure) {
		t.Error("StructureError should unwrap to ErrStructure")
	}
}

func TestFindIngredientsPrefersAudio(t *testing.T) {
	root := t.TempDir()
	mkdir(t, filepath.Join(root, "ingredients"))
	mkdir(t, filepath.Join(root, "audio", "ingredients"))

	got, err := FindIngredients(root)
	if err != nil {
		t.Fatalf("FindIngredients failed: %v", err)
	}
	if got != filepath.Join(root, "audio", "ingredients") {
		t.Errorf("got %s", got)
	}
}

func TestFindIngredientsBreadthFirst(t *testing.T) {
	root := t.TempDir()
	mkdir(t, filepath.Join(root, "a", "b", "c", "ingredients"))
	mkdir(t, filepath.Join(root, "z", "ingredients"))

	got, err := FindIngredients(root)
	if err != nil {
		t.Fatalf("FindIngredients failed: %v", err)
	}
	if got != filepath.Join(root, "z", "ingredients") {
		t.Errorf("got %s, want the shallower match", got)
	}

	if _, err := FindIngredients(t.TempDir()); !errors.Is(err, util.ErrStructure) {
		t.Errorf("empty tree error = %v", err)
	}
}

func TestNormalizeBook(t *testing.T) {
	t.Run("single chapter", func(t *testing.T) {
		root := t.TempDir()
		mkdir(t, filepath.Join(root, "3"))
		if got, err := NormalizeBook(root); err != nil || got != root {
			t.Errorf("got %s, %v", got, err)
		}
	})

	t.Run("multiple chapters", func(t *testing.T) {
		root := t.TempDir()
		mkdir(t, filepath.Join(root, "1"))
		mkdir(t, filepath.Join(root, "2"))
		if got, err := NormalizeBook(root); err != nil || got != root {
			t.Errorf("got %s, %v", got, err)
		}
	})

	t.Run("wrapper", func(t *testing.T) {
		root := t.TempDir()
		mkdir(t, filepath.Join(root, "GEN", "1"))
		mkdir(t, filepath.Join(root, "GEN", "2"))
		want := filepath.Join(root, "GEN")
		if got, err := NormalizeBook(root); err != nil || got != want {
			t.Errorf("got %s, %v", got, err)
		}
	})

	t.Run("wrapper with stray file", func(t *testing.T) {
		root := t.TempDir()
		mkdir(t, filepath.Join(root, "GEN", "1"))
		mkfile(t, filepath.Join(root, "GEN", "readme.txt"))
		if _, err := NormalizeBook(root); !errors.Is(err, util.ErrStructure) {
			t.Errorf("expected structure error, got %v", err)
		}
	})

	t.Run("mixed root", func(t *testing.T) {
		root := t.TempDir()
		mkdir(t, filepath.Join(root, "1"))
		mkdir(t, filepath.Join(root, "extra"))
		if _, err := NormalizeBook(root); !errors.Is(err, util.ErrStructure) {
			t.Errorf("expected structure error, got %v", err)
		}
	})
}

func TestChapterDirs(t *testing.T) {
	root := t.TempDir()
	mkdir(t, filepath.Join(root, "10"))
	mkdir(t, filepath.Join(root, "2"))
	mkdir(t, filepath.Join(root, "intro"))
	mkfile(t, filepath.Join(root, "5"))

	chapters, err := ChapterDirs(root)
	if err != nil {
		t.Fatalf("ChapterDirs failed: %v", err)
	}
	if len(chapters) != 2 || chapters[0].Number != 2 || chapters[1].Number != 10 {
		t.Errorf("ChapterDirs = %+v", chapters)
	}
}

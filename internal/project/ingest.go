package project

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/Bridgeconn/obt-workflow/internal/archive"
	"github.com/Bridgeconn/obt-workflow/internal/layout"
	"github.com/Bridgeconn/obt-workflow/internal/reconcile"
	"github.com/Bridgeconn/obt-workflow/internal/store"
	"github.com/Bridgeconn/obt-workflow/internal/util"
	"github.com/Bridgeconn/obt-workflow/internal/workspace"
)

// UploadResult is the outcome of a successful upload
type UploadResult struct {
	Project *store.Project
	Archive *archive.Stats
	*reconcile.Result
}

func checkZip(path string) error {
	if !strings.EqualFold(filepath.Ext(path), ".zip") {
		return fmt.Errorf("%w: %s is not a .zip archive", util.ErrUnsupported, filepath.Base(path))
	}
	return nil
}

// Upload creates a project from a Scripture Burrito zip. Once the project
// row exists, any failure removes the row and the project directory.
func (s *Service) Upload(ctx context.Context, zipPath, owner string) (*UploadResult, error) {
	if err := checkZip(zipPath); err != nil {
		return nil, err
	}

	staging, err := s.newStagingDir("upload")
	if err != nil {
		return nil, err
	}
	defer util.RemoveAllQuiet(staging)

	stats, err := archive.Extract(zipPath, staging)
	if err != nil {
		return nil, err
	}
	util.DebugLog("Extracted %d files from %s", stats.Files, zipPath)

	name, err := archive.ReadProjectName(staging)
	if err != nil {
		return nil, err
	}
	taken, err := s.store.ProjectNamesLike(workspace.BaseName(name))
	if err != nil {
		return nil, err
	}

	project := &store.Project{Name: workspace.DisambiguateName(name, taken), Owner: owner}
	if err := s.store.CreateProject(project); err != nil {
		return nil, err
	}
	util.InfoLog("Created project %d (%s)", project.ID, project.Name)

	result, err := s.populate(ctx, project, staging)
	if err != nil {
		var verr *reconcile.ValidationError
		if !errors.As(err, &verr) {
			s.rollback(project, err)
		}
		return nil, err
	}

	return &UploadResult{Project: project, Archive: stats, Result: result}, nil
}

// populate moves the extracted tree into the project input and reconciles it.
// The reconciler rolls the project back itself when nothing survives.
func (s *Service) populate(ctx context.Context, project *store.Project, staging string) (*reconcile.Result, error) {
	lock, err := s.lockProject(ctx, project.ID)
	if err != nil {
		return nil, err
	}
	defer unlock(lock)

	input := s.layout.InputDir(project.ID, project.Name)
	if err := os.MkdirAll(filepath.Dir(input), 0755); err != nil {
		return nil, fmt.Errorf("failed to create input directory: %w", err)
	}
	if err := util.MovePath(staging, input); err != nil {
		return nil, fmt.Errorf("failed to move upload into place: %w", err)
	}
	if err := os.MkdirAll(s.layout.OutputDir(project.ID, project.Name), 0755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}

	root, err := layout.Normalize(input)
	if err != nil {
		return nil, err
	}
	ingredients, err := layout.FindIngredients(root)
	if err != nil {
		return nil, err
	}
	util.DebugLog("Ingredients folder: %s", ingredients)

	return s.reconciler.IngestProject(ctx, project, ingredients, s.layout.ProjectDir(project.ID))
}

func (s *Service) rollback(project *store.Project, cause error) {
	dir := s.layout.ProjectDir(project.ID)
	util.WarnLog("Rolling back project %d (%s): %v", project.ID, project.Name, cause)
	if err := s.store.DeleteProject(project.ID); err != nil {
		util.ErrorLog("Failed to delete project %d: %v", project.ID, err)
	}
	util.RemoveAllQuiet(dir)
	s.logger.LogRollback(project.ID, "", dir, cause)
}

// BookCode derives a book code from an add-book archive name (GEN.zip -> GEN)
func BookCode(zipPath string) string {
	base := filepath.Base(zipPath)
	return strings.ToUpper(strings.TrimSuffix(base, filepath.Ext(base)))
}

// AddBook merges a single-book zip into an existing project. The book code
// comes from the archive name and is checked before anything is extracted.
func (s *Service) AddBook(ctx context.Context, projectID int64, zipPath string) (*reconcile.BookResult, error) {
	if err := checkZip(zipPath); err != nil {
		return nil, err
	}
	project, err := s.getProject(projectID)
	if err != nil {
		return nil, err
	}

	code := BookCode(zipPath)
	if !s.index.Has(code) {
		return nil, &reconcile.ValidationError{Book: code, Reason: "book code not in versification"}
	}

	lock, err := s.lockProject(ctx, project.ID)
	if err != nil {
		return nil, err
	}
	defer unlock(lock)

	staging, err := s.newStagingDir("book")
	if err != nil {
		return nil, err
	}
	defer util.RemoveAllQuiet(staging)

	if _, err := archive.Extract(zipPath, staging); err != nil {
		return nil, err
	}
	source, err := layout.NormalizeBook(staging)
	if err != nil {
		return nil, err
	}

	ingredients, ok := s.layout.IngredientsDir(project.ID, project.Name)
	if !ok {
		if err := os.MkdirAll(ingredients, 0755); err != nil {
			return nil, fmt.Errorf("failed to create ingredients folder: %w", err)
		}
	}

	return s.reconciler.AddBook(ctx, project, code, source, ingredients)
}

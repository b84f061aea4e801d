// Package project is the application layer over ingestion, verse editing
// and export. It owns the project workspace on disk and the rows beneath it.
package project

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"
	"github.com/google/uuid"

	"github.com/Bridgeconn/obt-workflow/internal/language"
	"github.com/Bridgeconn/obt-workflow/internal/reconcile"
	"github.com/Bridgeconn/obt-workflow/internal/report"
	"github.com/Bridgeconn/obt-workflow/internal/store"
	"github.com/Bridgeconn/obt-workflow/internal/usfm"
	"github.com/Bridgeconn/obt-workflow/internal/util"
	"github.com/Bridgeconn/obt-workflow/internal/versification"
	"github.com/Bridgeconn/obt-workflow/internal/workspace"
)

// lockRetryDelay is the wait between attempts on a held project lock
const lockRetryDelay = 250 * time.Millisecond

// Config holds service configuration
type Config struct {
	Store   *store.Store
	Index   *versification.Index
	Catalog *language.Catalog
	Layout  workspace.Layout
	Books   usfm.Metadata       // USFM header titles; nil falls back to book codes
	Logger  *report.EventLogger // nil disables event output
}

// Service implements the project operations
type Service struct {
	store      *store.Store
	index      *versification.Index
	catalog    *language.Catalog
	layout     workspace.Layout
	books      usfm.Metadata
	logger     *report.EventLogger
	reconciler *reconcile.Reconciler
}

// New creates a project service
func New(cfg *Config) *Service {
	catalog := cfg.Catalog
	if catalog == nil {
		catalog = language.Default()
	}
	return &Service{
		store:   cfg.Store,
		index:   cfg.Index,
		catalog: catalog,
		layout:  cfg.Layout,
		books:   cfg.Books,
		logger:  cfg.Logger,
		reconciler: reconcile.New(&reconcile.Config{
			Store:  cfg.Store,
			Index:  cfg.Index,
			Logger: cfg.Logger,
		}),
	}
}

// Layout returns the workspace layout the service writes to
func (s *Service) Layout() workspace.Layout {
	return s.layout
}

// lockProject takes the cross-process ingestion lock of a project, waiting
// until ctx is done
func (s *Service) lockProject(ctx context.Context, projectID int64) (*flock.Flock, error) {
	if err := os.MkdirAll(s.layout.ProjectDir(projectID), 0755); err != nil {
		return nil, fmt.Errorf("failed to create project directory: %w", err)
	}
	lock := flock.New(s.layout.LockPath(projectID))
	ok, err := lock.TryLockContext(ctx, lockRetryDelay)
	if err != nil && ctx.Err() == nil {
		return nil, fmt.Errorf("failed to lock project %d: %w", projectID, err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: project %d is being modified by another process", util.ErrConflict, projectID)
	}
	return lock, nil
}

func unlock(lock *flock.Flock) {
	if err := lock.Unlock(); err != nil {
		util.WarnLog("Failed to release %s: %v", lock.Path(), err)
	}
}

// newStagingDir creates a unique scratch directory under the staging root
func (s *Service) newStagingDir(prefix string) (string, error) {
	dir := filepath.Join(s.layout.StagingDir(), prefix+"-"+uuid.NewString())
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create staging directory: %w", err)
	}
	return dir, nil
}

// getProject loads a project or returns ErrNotFound
func (s *Service) getProject(id int64) (*store.Project, error) {
	p, err := s.store.GetProject(id)
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, fmt.Errorf("project %d: %w", id, util.ErrNotFound)
	}
	return p, nil
}

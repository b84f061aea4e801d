package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/Bridgeconn/obt-workflow/internal/aiclient"
	"github.com/Bridgeconn/obt-workflow/internal/audio"
	"github.com/Bridgeconn/obt-workflow/internal/jobs"
	"github.com/Bridgeconn/obt-workflow/internal/language"
	"github.com/Bridgeconn/obt-workflow/internal/project"
	"github.com/Bridgeconn/obt-workflow/internal/report"
	"github.com/Bridgeconn/obt-workflow/internal/store"
	"github.com/Bridgeconn/obt-workflow/internal/usfm"
	"github.com/Bridgeconn/obt-workflow/internal/util"
	"github.com/Bridgeconn/obt-workflow/internal/versification"
	"github.com/Bridgeconn/obt-workflow/internal/workspace"
	"github.com/spf13/viper"
)

// app holds the collaborators shared by every command
type app struct {
	dbPath  string
	store   *store.Store
	logger  *report.EventLogger
	index   *versification.Index
	catalog *language.Catalog
	layout  workspace.Layout
	project *project.Service
}

// eventLevel picks the event log threshold from the output flags
func eventLevel() report.EventLevel {
	switch {
	case viper.GetBool("quiet"):
		return report.LevelWarning
	case viper.GetBool("verbose"):
		return report.LevelDebug
	}
	return report.ParseLevel(viper.GetString("log-level"))
}

// openApp opens the database and event log and loads the static tables.
// Versification is loaded when configured and required when needIndex is set.
func openApp(needIndex bool) (*app, error) {
	a := &app{
		dbPath: GetConfigString("db", "./data/obt.db"),
		layout: workspace.New(GetConfigString("base-dir", "./data/projects")),
	}

	var err error
	if path := viper.GetString("versification"); path != "" {
		if a.index, err = versification.Load(path); err != nil {
			return nil, err
		}
	} else if needIndex {
		return nil, fmt.Errorf("%w: --versification (or OBT_VERSIFICATION) is required", util.ErrInvalidConfig)
	}

	if a.catalog, err = language.Load(viper.GetString("languages")); err != nil {
		return nil, err
	}

	books, err := usfm.LoadMetadata(viper.GetString("book-metadata"))
	if err != nil {
		return nil, err
	}

	if err := os.MkdirAll(filepath.Dir(a.dbPath), 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}
	util.DebugLog("Opening database: %s", a.dbPath)
	if a.store, err = store.Open(a.dbPath); err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	a.logger, err = report.NewEventLogger(GetConfigString("artifacts", "artifacts"), eventLevel())
	if err != nil {
		util.WarnLog("Failed to create event logger: %v", err)
		a.logger = report.NullLogger()
	}
	if a.logger.Path() != "" {
		util.DebugLog("Event log: %s", a.logger.Path())
	}

	a.project = project.New(&project.Config{
		Store:   a.store,
		Index:   a.index,
		Catalog: a.catalog,
		Layout:  a.layout,
		Books:   books,
		Logger:  a.logger,
	})
	return a, nil
}

// orchestrator connects to the speech service
func (a *app) orchestrator() (*jobs.Orchestrator, error) {
	client, err := aiclient.New(&aiclient.Config{
		BaseURL: viper.GetString("ai.base-url"),
		Token:   viper.GetString("ai.token"),
		Timeout: GetConfigDuration("ai.timeout", aiclient.DefaultTimeout),
		Retry:   util.ServiceRetryConfig(),
	})
	if err != nil {
		return nil, err
	}
	return jobs.New(&jobs.Config{
		Store:             a.store,
		Service:           client,
		Catalog:           a.catalog,
		Layout:            a.layout,
		Audio:             audio.NewProcessor(a.logger),
		PollInterval:      GetConfigDuration("ai.poll-interval", jobs.DefaultPollInterval),
		SubmitConcurrency: GetConfigInt("ai.submit-concurrency", jobs.DefaultSubmitConcurrency),
		Logger:            a.logger,
	}), nil
}

func (a *app) close() {
	a.logger.Close()
	a.store.Close()
}

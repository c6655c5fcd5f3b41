package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"depot/internal/config"
	"depot/internal/job"
	"depot/internal/jobrunner"
	"depot/internal/naturallanguage"
	"depot/internal/store/catalog"
	"depot/internal/store/postgres"

	"github.com/jmoiron/sqlx"
)

// stores holds the persistence backends selected by configuration.
type stores struct {
	db         *sqlx.DB // nil without DATABASE_URL_FILE
	languages  naturallanguage.Repository
	data       job.DataStore
	icons      jobrunner.IconStore
	categories jobrunner.CategoryStore
}

// openStores connects to Postgres when a database is configured, otherwise it
// reads the YAML language catalog and keeps job data and package records in memory.
func openStores(ctx context.Context, svcCfg *config.ServiceConfig, locCfg config.LocalizationConfig) (*stores, error) {
	if svcCfg.DatabaseURL != "" {
		db, err := postgres.Open(ctx, svcCfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		slog.Info("Connected to database")
		pkgs := postgres.NewPkgCatalog(db)
		return &stores{
			db:         db,
			languages:  postgres.NewLanguageRepository(db),
			data:       postgres.NewJobDataStore(db),
			icons:      pkgs,
			categories: pkgs,
		}, nil
	}

	repo, err := catalog.Load(locCfg.LanguagesFile)
	if err != nil {
		return nil, err
	}
	slog.Warn("No database configured, job data is held in memory", "languagesFile", locCfg.LanguagesFile)
	pkgs := jobrunner.NewMemoryCatalog()
	return &stores{
		languages:  repo,
		data:       job.NewMemoryDataStore(),
		icons:      pkgs,
		categories: pkgs,
	}, nil
}

func (s *stores) Close() {
	if s.db != nil {
		if err := s.db.Close(); err != nil {
			slog.Warn("Database close error", "error", err)
		}
	}
}

// newLanguageService builds the natural language service over the configured
// message resources and runs its startup consistency check.
func newLanguageService(ctx context.Context, repo naturallanguage.Repository, locCfg config.LocalizationConfig, metrics naturallanguage.CacheRecorder) (*naturallanguage.Service, error) {
	svc, err := naturallanguage.NewService(naturallanguage.Config{
		Repository: repo,
		Resources:  naturallanguage.NewFSResourceLoader(os.DirFS(locCfg.MessagesDir)),
		BaseNames:  locCfg.BaseNames,
		Metrics:    metrics,
	})
	if err != nil {
		return nil, err
	}
	if err := svc.Verify(ctx); err != nil {
		return nil, fmt.Errorf("natural language check: %w", err)
	}
	return svc, nil
}

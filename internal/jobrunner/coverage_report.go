package jobrunner

import (
	"context"
	"encoding/csv"
	"fmt"
	"strconv"

	"depot/internal/job"
	"depot/internal/naturallanguage"
)

// LanguageCatalog is the part of the natural language service the report reads.
type LanguageCatalog interface {
	GetAllNaturalLanguages(ctx context.Context) ([]naturallanguage.NaturalLanguage, error)
	FindNaturalLanguagesWithLocalizationMessages(ctx context.Context) (naturallanguage.Set, error)
	FindNaturalLanguagesWithData(ctx context.Context) (naturallanguage.Set, error)
	GetAllLocalizationMessages(ctx context.Context, coords naturallanguage.Coordinates) (naturallanguage.Bundle, error)
}

var coverageReportHeader = []string{"code", "name", "popular", "has-messages", "has-data", "message-count"}

// LocalizationCoverageReportRunner writes one CSV row per natural language.
type LocalizationCoverageReportRunner struct {
	Languages LanguageCatalog
}

// Run implements job.Runner.
func (r *LocalizationCoverageReportRunner) Run(ctx context.Context, rc *job.RunContext) error {
	languages, err := r.Languages.GetAllNaturalLanguages(ctx)
	if err != nil {
		return fmt.Errorf("list natural languages: %w", err)
	}
	withMessages, err := r.Languages.FindNaturalLanguagesWithLocalizationMessages(ctx)
	if err != nil {
		return fmt.Errorf("find languages with messages: %w", err)
	}
	withData, err := r.Languages.FindNaturalLanguagesWithData(ctx)
	if err != nil {
		return fmt.Errorf("find languages with data: %w", err)
	}

	w := csv.NewWriter(rc.CreateOutput("localizationcoveragereport.csv", "text/csv"))
	if err := w.Write(coverageReportHeader); err != nil {
		return err
	}

	for i, nl := range languages {
		bundle, err := r.Languages.GetAllLocalizationMessages(ctx, nl.Coordinates)
		if err != nil {
			return fmt.Errorf("messages for %s: %w", nl.Code(), err)
		}
		row := []string{
			nl.Code(),
			nl.Name,
			strconv.FormatBool(nl.IsPopular),
			strconv.FormatBool(withMessages.Contains(nl.Coordinates)),
			strconv.FormatBool(withData.Contains(nl.Coordinates)),
			strconv.Itoa(bundle.Len()),
		}
		if err := w.Write(row); err != nil {
			return err
		}
		rc.SetProgress((i + 1) * 100 / len(languages))
	}

	w.Flush()
	if err := w.Error(); err != nil {
		return err
	}
	rc.Logger().Info("Localization coverage report written", "languages", len(languages))
	return nil
}

package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"depot/internal/naturallanguage"

	"github.com/jmoiron/sqlx"
)

// usageQueries projects the distinct coordinates referenced by each usage table.
var usageQueries = map[naturallanguage.UsageTable]string{
	naturallanguage.UsageUserRating: `
		SELECT DISTINCT nl.language_code, nl.script_code, nl.country_code
		FROM haikudepot.natural_language nl
		JOIN haikudepot.user_rating ur ON ur.natural_language_id = nl.id`,
	naturallanguage.UsagePkgLocalization: `
		SELECT DISTINCT nl.language_code, nl.script_code, nl.country_code
		FROM haikudepot.natural_language nl
		JOIN haikudepot.pkg_localization pl ON pl.natural_language_id = nl.id`,
	naturallanguage.UsagePkgVersionLocalization: `
		SELECT DISTINCT nl.language_code, nl.script_code, nl.country_code
		FROM haikudepot.natural_language nl
		JOIN haikudepot.pkg_version_localization pvl ON pvl.natural_language_id = nl.id`,
}

type coordinatesRow struct {
	LanguageCode string         `db:"language_code"`
	ScriptCode   sql.NullString `db:"script_code"`
	CountryCode  sql.NullString `db:"country_code"`
}

func (r coordinatesRow) coordinates() naturallanguage.Coordinates {
	return naturallanguage.NewCoordinates(r.LanguageCode, r.ScriptCode.String, r.CountryCode.String)
}

type naturalLanguageRow struct {
	coordinatesRow
	Name      string `db:"name"`
	IsPopular bool   `db:"is_popular"`
}

// LanguageRepository reads natural languages and their usage.
type LanguageRepository struct {
	db *sqlx.DB
}

// NewLanguageRepository creates a repository over db.
func NewLanguageRepository(db *sqlx.DB) *LanguageRepository {
	return &LanguageRepository{db: db}
}

// AllNaturalLanguages implements naturallanguage.Repository.
func (r *LanguageRepository) AllNaturalLanguages(ctx context.Context) ([]naturallanguage.NaturalLanguage, error) {
	var rows []naturalLanguageRow
	err := r.db.SelectContext(ctx, &rows, `
		SELECT nl.language_code, nl.script_code, nl.country_code, nl.name, nl.is_popular
		FROM haikudepot.natural_language nl
		ORDER BY nl.code`)
	if err != nil {
		return nil, fmt.Errorf("select natural languages: %w", err)
	}

	result := make([]naturallanguage.NaturalLanguage, 0, len(rows))
	for _, row := range rows {
		result = append(result, naturallanguage.NaturalLanguage{
			Coordinates: row.coordinates(),
			Name:        row.Name,
			IsPopular:   row.IsPopular,
		})
	}
	return result, nil
}

// UsedCoordinates implements naturallanguage.Repository.
func (r *LanguageRepository) UsedCoordinates(ctx context.Context, table naturallanguage.UsageTable) ([]naturallanguage.Coordinates, error) {
	query, ok := usageQueries[table]
	if !ok {
		return nil, fmt.Errorf("unknown usage table %q", table)
	}

	var rows []coordinatesRow
	if err := r.db.SelectContext(ctx, &rows, query); err != nil {
		return nil, fmt.Errorf("select %s usage: %w", table, err)
	}

	result := make([]naturallanguage.Coordinates, 0, len(rows))
	for _, row := range rows {
		result = append(result, row.coordinates())
	}
	return result, nil
}

var _ naturallanguage.Repository = (*LanguageRepository)(nil)

package jobrunner

import (
	"context"
	"encoding/csv"
	"fmt"
	"slices"
	"strings"

	"depot/internal/apperrors"
	"depot/internal/job"
)

const pkgNameColumn = "pkg-name"

// PkgCategoryCoverageImportSpreadsheetRunner applies the categories marked
// with an X in each row of a CSV and echoes the CSV with an action column.
type PkgCategoryCoverageImportSpreadsheetRunner struct {
	Categories CategoryStore
}

// Run implements job.Runner.
func (r *PkgCategoryCoverageImportSpreadsheetRunner) Run(ctx context.Context, rc *job.RunContext) error {
	spec, ok := rc.Specification().(*PkgCategoryCoverageImportSpreadsheetSpec)
	if !ok {
		return fmt.Errorf("unexpected specification %T", rc.Specification())
	}

	_, in, err := rc.OpenSoleInput(ctx)
	if err != nil {
		return err
	}
	defer in.Close()

	cr := csv.NewReader(in)
	cr.FieldsPerRecord = -1
	records, err := cr.ReadAll()
	if err != nil {
		return apperrors.Validation("inputDataGuid", fmt.Sprintf("malformed csv: %v", err))
	}
	if len(records) == 0 {
		return apperrors.Validation("inputDataGuid", "csv has no header row")
	}

	header := records[0]
	codes, err := r.headerCategories(ctx, header)
	if err != nil {
		return err
	}

	w := csv.NewWriter(rc.CreateOutput("pkgcategorycoverageimportspreadsheet.csv", "text/csv"))
	if err := w.Write(append(slices.Clone(header), "action")); err != nil {
		return err
	}

	rows := records[1:]
	for i, row := range rows {
		action, err := r.importRow(ctx, row, codes, spec.OwnerUserNickname())
		if err != nil {
			return err
		}
		if err := w.Write(append(slices.Clone(row), action)); err != nil {
			return err
		}
		rc.SetProgress((i + 1) * 100 / len(rows))
	}

	w.Flush()
	if err := w.Error(); err != nil {
		return err
	}
	rc.Logger().Info("Category coverage imported", "rows", len(rows))
	return nil
}

// headerCategories checks the header names the package column followed by
// known category codes.
func (r *PkgCategoryCoverageImportSpreadsheetRunner) headerCategories(ctx context.Context, header []string) ([]string, error) {
	if len(header) < 2 || header[0] != pkgNameColumn {
		return nil, apperrors.Validation("inputDataGuid", fmt.Sprintf("header must start with %q followed by category codes", pkgNameColumn))
	}
	known, err := r.Categories.CategoryCodes(ctx)
	if err != nil {
		return nil, apperrors.Storage("list categories", err)
	}
	codes := header[1:]
	for _, code := range codes {
		if !slices.Contains(known, code) {
			return nil, apperrors.Validation("inputDataGuid", fmt.Sprintf("unknown category %q in header", code))
		}
	}
	return codes, nil
}

func (r *PkgCategoryCoverageImportSpreadsheetRunner) importRow(ctx context.Context, row, codes []string, owner string) (string, error) {
	if len(row) != len(codes)+1 || strings.TrimSpace(row[0]) == "" {
		return ActionInvalid, nil
	}

	var wanted []string
	for i, cell := range row[1:] {
		switch strings.TrimSpace(cell) {
		case "X", "x":
			wanted = append(wanted, codes[i])
		case "":
		default:
			return ActionInvalid, nil
		}
	}
	if len(wanted) == 0 {
		return ActionInvalid, nil
	}

	pkgName := strings.TrimSpace(row[0])
	current, ok, err := r.Categories.PkgCategories(ctx, pkgName)
	if err != nil {
		return "", apperrors.Storage("lookup pkg categories", err)
	}
	if !ok {
		return ActionNotFound, nil
	}

	slices.Sort(wanted)
	current = slices.Clone(current)
	slices.Sort(current)
	if slices.Equal(current, wanted) {
		return ActionNone, nil
	}
	if err := r.Categories.SetPkgCategories(ctx, pkgName, wanted, owner); err != nil {
		return "", apperrors.Storage("set pkg categories", err)
	}
	return ActionUpdated, nil
}

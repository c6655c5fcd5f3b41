// Package jobrunner holds the job kinds the depot runs and their runners.
package jobrunner

import (
	"depot/internal/apperrors"
	"depot/internal/job"
)

// Job kinds
const (
	KindLocalizationCoverageReport           = "localizationcoveragereport"
	KindPkgIconImportArchive                 = "pkgiconimportarchive"
	KindPkgCategoryCoverageImportSpreadsheet = "pkgcategorycoverageimportspreadsheet"
)

// LocalizationCoverageReportSpec requests a CSV describing which natural
// languages have localization messages and which are in use.
type LocalizationCoverageReportSpec struct {
	job.OwnedSpecification
}

func (s *LocalizationCoverageReportSpec) Kind() string                { return KindLocalizationCoverageReport }
func (s *LocalizationCoverageReportSpec) SuppliedDataGUIDs() []string { return nil }
func (s *LocalizationCoverageReportSpec) Validate() error             { return s.ValidateOwner() }

// CoalesceKey treats reports for the same owner as equivalent.
func (s *LocalizationCoverageReportSpec) CoalesceKey() (string, error) {
	return job.JSONCoalesceKey(s)
}

// importSpec is shared by the kinds that consume one supplied payload.
type importSpec struct {
	job.OwnedSpecification
	InputDataGUID string `json:"inputDataGuid"`
}

func (s *importSpec) SuppliedDataGUIDs() []string {
	if s.InputDataGUID == "" {
		return nil
	}
	return []string{s.InputDataGUID}
}

func (s *importSpec) Validate() error {
	if s.InputDataGUID == "" {
		return apperrors.Validation("inputDataGuid", "input data guid is required")
	}
	return s.ValidateOwner()
}

// PkgIconImportArchiveSpec imports package icons from a tar archive.
type PkgIconImportArchiveSpec struct {
	importSpec
}

func (s *PkgIconImportArchiveSpec) Kind() string { return KindPkgIconImportArchive }

// CoalesceKey treats imports of the same payload by the same owner as equivalent.
func (s *PkgIconImportArchiveSpec) CoalesceKey() (string, error) {
	return job.JSONCoalesceKey(s)
}

// PkgCategoryCoverageImportSpreadsheetSpec applies package categories from a CSV.
type PkgCategoryCoverageImportSpreadsheetSpec struct {
	importSpec
}

func (s *PkgCategoryCoverageImportSpreadsheetSpec) Kind() string {
	return KindPkgCategoryCoverageImportSpreadsheet
}

// CoalesceKey treats imports of the same payload by the same owner as equivalent.
func (s *PkgCategoryCoverageImportSpreadsheetSpec) CoalesceKey() (string, error) {
	return job.JSONCoalesceKey(s)
}

// NewPkgIconImportArchiveSpec creates an icon import for the supplied archive.
func NewPkgIconImportArchiveSpec(owner, inputDataGUID string) *PkgIconImportArchiveSpec {
	return &PkgIconImportArchiveSpec{importSpec{
		OwnedSpecification: job.OwnedSpecification{OwnerNickname: owner},
		InputDataGUID:      inputDataGUID,
	}}
}

// NewPkgCategoryCoverageImportSpreadsheetSpec creates a category import for the supplied CSV.
func NewPkgCategoryCoverageImportSpreadsheetSpec(owner, inputDataGUID string) *PkgCategoryCoverageImportSpreadsheetSpec {
	return &PkgCategoryCoverageImportSpreadsheetSpec{importSpec{
		OwnedSpecification: job.OwnedSpecification{OwnerNickname: owner},
		InputDataGUID:      inputDataGUID,
	}}
}

var (
	_ job.Specification = (*LocalizationCoverageReportSpec)(nil)
	_ job.Specification = (*PkgIconImportArchiveSpec)(nil)
	_ job.Specification = (*PkgCategoryCoverageImportSpreadsheetSpec)(nil)
)

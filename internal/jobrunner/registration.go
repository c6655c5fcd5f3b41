package jobrunner

import "depot/internal/job"

// Dependencies are the collaborators the runners need.
type Dependencies struct {
	Languages  LanguageCatalog
	Icons      IconStore
	Categories CategoryStore
}

// Registrations pairs every job kind with its runner.
func Registrations(deps Dependencies) []job.Registration {
	return []job.Registration{
		{
			Kind:   KindLocalizationCoverageReport,
			New:    func() job.Specification { return &LocalizationCoverageReportSpec{} },
			Runner: &LocalizationCoverageReportRunner{Languages: deps.Languages},
		},
		{
			Kind:   KindPkgIconImportArchive,
			New:    func() job.Specification { return &PkgIconImportArchiveSpec{} },
			Runner: &PkgIconImportArchiveRunner{Icons: deps.Icons},
		},
		{
			Kind:   KindPkgCategoryCoverageImportSpreadsheet,
			New:    func() job.Specification { return &PkgCategoryCoverageImportSpreadsheetSpec{} },
			Runner: &PkgCategoryCoverageImportSpreadsheetRunner{Categories: deps.Categories},
		},
	}
}

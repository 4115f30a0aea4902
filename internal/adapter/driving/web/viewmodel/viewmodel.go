// Package viewmodel defines presentation-ready structs for the HTML status
// pages. View models decouple component rendering from domain model types.
package viewmodel

// CheckListItemViewModel is one row of the recent checks index.
type CheckListItemViewModel struct {
	PRCheckID  int64
	Repository string
	DetailPath string
}

// IndexViewModel holds the data of the index page.
type IndexViewModel struct {
	Checks []CheckListItemViewModel
}

// RunRowViewModel holds presentation-ready data for one pipeline run.
type RunRowViewModel struct {
	Name            string
	PipelineRunName string
	Status          string
	Conclusion      string // Empty until the run completed.
	StatusClass     string // CSS modifier: success, failure, pending, errored.
	RunURL          string
	Error           string
	UpdatedAt       string
}

// CheckPageViewModel holds presentation-ready data for an aggregate check.
type CheckPageViewModel struct {
	PRCheckID   int64
	Repository  string
	PRNumber    int
	PRURL       string
	HookType    string
	HeadSHA     string // Shortened for display.
	Status      string
	Conclusion  string
	StatusClass string
	Finalized   bool
	SummaryHTML string // Sanitized rendering of the check summary.
	Runs        []RunRowViewModel
	CSRFToken   string
	SyncPath    string
}

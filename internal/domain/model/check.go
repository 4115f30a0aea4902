package model

// CheckName is the externally visible name of an aggregate check.
type CheckName string

const (
	CheckNameMerge        CheckName = "merge-check"
	CheckNameStatus       CheckName = "status-check"
	CheckNameClose        CheckName = "close-check"
	CheckNameSlashCommand CheckName = "slash-command-check"
)

// CheckNameFor returns the aggregate check name used for a hook type.
func CheckNameFor(t HookType) CheckName {
	switch t {
	case HookTypeOnBranchMerge:
		return CheckNameMerge
	case HookTypeOnPullRequestClose:
		return CheckNameClose
	case HookTypeOnSlashCommand:
		return CheckNameSlashCommand
	default:
		return CheckNameStatus
	}
}

// Requested action identifiers exposed on checks.
const (
	ActionReRun       = "re-run"
	ActionReRunFailed = "re-run-failed"
	ActionSyncStatus  = "sync-status"
)

// CheckAction is a button offered on a check run.
type CheckAction struct {
	Identifier  string
	Label       string // At most 20 characters.
	Description string // At most 40 characters.
}

var (
	SyncStatusAction  = CheckAction{Identifier: ActionSyncStatus, Label: "Sync status", Description: "Reconcile with current run state"}
	ReRunAction       = CheckAction{Identifier: ActionReRun, Label: "Re-run all", Description: "Re-run every pipeline of this check"}
	ReRunFailedAction = CheckAction{Identifier: ActionReRunFailed, Label: "Re-run failed", Description: "Re-run failed pipelines only"}
)

// AnnotationLevel is the severity of a check annotation.
type AnnotationLevel string

const (
	AnnotationNotice  AnnotationLevel = "notice"
	AnnotationWarning AnnotationLevel = "warning"
	AnnotationFailure AnnotationLevel = "failure"
)

// Annotation points at a location in a configuration file.
type Annotation struct {
	Path        string
	Level       AnnotationLevel
	Message     string
	StartLine   int
	EndLine     int
	StartColumn int
	EndColumn   int
}

// CheckRunRequest describes a check run create or update.
type CheckRunRequest struct {
	Name        string
	HeadSHA     string
	DetailsURL  string
	ExternalID  string
	Status      RunStatus
	Conclusion  Conclusion // Only sent when Status is completed.
	Title       string
	Summary     string
	Text        string
	Annotations []Annotation
	Actions     []CheckAction
}

// CheckRunRef identifies a check run on GitHub.
type CheckRunRef struct {
	ID  int64
	URL string
}

// PRCheck is an aggregate check. It has no storage row of its own: its ID is
// carried as PRCheckID on every ledger row it owns.
type PRCheck struct {
	ID           int64
	Name         CheckName
	URL          string
	HookType     HookType
	RepoFullName string
	HeadSHA      string
	PRNumber     int
}

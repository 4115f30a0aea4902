package model

// WorkflowInput is one declared workflow_dispatch input.
type WorkflowInput struct {
	Name     string
	Required bool
	Default  *string
}

// WorkflowDefinition is the subset of a workflow file the dispatcher validates.
type WorkflowDefinition struct {
	ID     int64
	Path   string
	Inputs []WorkflowInput
}

// WorkflowJob is the current platform state of a single workflow job.
type WorkflowJob struct {
	ID         int64
	RunID      int64
	RunAttempt int64 // 1 for the first run; re-runs keep RunID and increment it.
	Name       string
	Status     RunStatus
	Conclusion Conclusion
	HTMLURL    string
	RunURL     string
}

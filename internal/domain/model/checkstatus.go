package model

import "time"

// CheckRun represents a check run listed from the GitHub Checks API. Jobs of
// dispatched workflows surface here under their job name.
type CheckRun struct {
	ID         int64     // GitHub check run ID; equals the Actions job ID for workflow jobs.
	Name       string    // Check run name.
	Status     string    // queued, in_progress, completed, waiting, requested, pending.
	Conclusion string    // success, failure, neutral, cancelled, skipped, timed_out, action_required, stale.
	DetailsURL string    // URL to the check run details page.
	HeadSHA    string    // Commit the check run is attached to.
	StartedAt  time.Time // Zero when the check run has not started.
}

package model

import "errors"

// ErrWorkflowNotFound is returned when a workflow file cannot be resolved.
var ErrWorkflowNotFound = errors.New("workflow not found")

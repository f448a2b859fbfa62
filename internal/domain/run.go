package domain

import (
	"strings"
	"time"
)

// Run statuses reported by the CI system. Other values pass through untouched.
const (
	RunStatusQueued     = "queued"
	RunStatusInProgress = "in_progress"
	RunStatusCompleted  = "completed"
)

// EventWorkflowDispatch is the trigger event of runs created by a dispatch call.
const EventWorkflowDispatch = "workflow_dispatch"

// RemoteRun is one execution of the generation workflow, owned by the CI system.
type RemoteRun struct {
	ID        int64
	Name      string
	Status    string
	Event     string
	CreatedAt time.Time
}

// RunStatus is a remote run as shown to clients, with the attribution label
// substituted for the run name when one was recorded.
type RunStatus struct {
	ID        int64     `json:"id"`
	CreatedAt time.Time `json:"created_at"`
	Name      string    `json:"name"`
	Status    string    `json:"status"`
}

// TriggeredLabel is the attribution recorded for a run started on behalf of email.
func TriggeredLabel(email string) string {
	return strings.TrimSpace(email) + " triggered event"
}

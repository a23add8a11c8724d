// Package engine runs queued workflow executions to completion, one
// node per step, with the filesystem as both queue and crash-recovery
// journal. A queue item is claimed by renaming its file into the
// in-progress directory; rename is the sole concurrency-control
// primitive, no lock file or database is involved.
package engine

import (
	"time"

	"github.com/wirebird/wirebird/internal/dispatch"
	"github.com/wirebird/wirebird/internal/workflow"
)

// Status is a queue item's lifecycle state.
type Status string

const (
	StatusQueued    Status = "queued"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusError     Status = "error"
)

// Item is one workflow execution: a snapshot of the workflow at queue
// time plus the accumulated execution state. It lives as a single JSON
// file that moves between the queue, in-progress and archive
// directories.
type Item struct {
	ID           string                  `json:"id"`
	WorkflowPath string                  `json:"workflow_path"`
	Workflow     *workflow.Workflow      `json:"workflow"`
	Execution    workflow.ExecutionState `json:"execution"`
	QueuedAt     float64                 `json:"queued_at"`
	StartedAt    *float64                `json:"started_at"`
	CompletedAt  *float64                `json:"completed_at"`
	Status       Status                  `json:"status"`
	CurrentStep  int                     `json:"current_step"`
	Error        string                  `json:"error,omitempty"`
	ErrorNodeID  string                  `json:"error_node_id,omitempty"`
	ErrorAgent   string                  `json:"error_agent,omitempty"`
	ErrorDetails string                  `json:"error_details,omitempty"`
	ArchiveFile  string                  `json:"archive_file,omitempty"`
	Logs         []dispatch.LogLine      `json:"logs"`

	// file is the item's current on-disk location, not serialized.
	file string
}

// File returns the item's current on-disk path.
func (it *Item) File() string { return it.file }

func (it *Item) markCompleted() {
	now := unixNow()
	it.Status = StatusCompleted
	it.CompletedAt = &now
}

func (it *Item) markError(nodeID, msg, details, agentName string) {
	now := unixNow()
	it.Status = StatusError
	it.Error = msg
	it.ErrorNodeID = nodeID
	it.ErrorDetails = details
	it.ErrorAgent = agentName
	it.CompletedAt = &now
}

// IndexEntry is one line of a workflow's append-only JSONL index.
type IndexEntry struct {
	ID           string   `json:"id"`
	File         string   `json:"file"`
	WorkflowPath string   `json:"workflow_path"`
	Status       Status   `json:"status"`
	QueuedAt     float64  `json:"queued_at"`
	StartedAt    *float64 `json:"started_at"`
	CompletedAt  *float64 `json:"completed_at"`
	DurationMS   int64    `json:"duration_ms"`
	Error        string   `json:"error,omitempty"`
}

// Stats is the aggregate per-workflow record, updated only on
// completed executions.
type Stats struct {
	ExecutionCount       int64  `json:"execution_count"`
	TotalExecutionTimeMS int64  `json:"total_execution_time_ms"`
	LastExecution        string `json:"last_execution"`
}

func unixNow() float64 {
	return float64(time.Now().UnixNano()) / float64(time.Second)
}

// Package dispatch holds the in-memory task queue that hands
// agent-affine node work to the fleet. Admission is predicate-based:
// an agent sees a pending task only when it satisfies every matching
// rule the task's node declares.
package dispatch

import (
	"crypto/rand"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/wirebird/wirebird/internal/workflow"
)

// Snapshot is the execution context shipped with a task so the agent
// can run the node without calling back to the server.
type Snapshot struct {
	Workflow  *workflow.Workflow      `json:"workflow"`
	Execution workflow.ExecutionState `json:"execution"`
}

// LogLine is one streamed output line from a running task.
type LogLine struct {
	Line      string `json:"line"`
	Timestamp string `json:"timestamp"`
}

// Task is one unit of delegated node work.
type Task struct {
	ID           string   `json:"id"`
	ExecutionID  string   `json:"execution_id"`
	WorkflowName string   `json:"workflow_name"`
	NodeID       string   `json:"node_id"`
	Snapshot     Snapshot `json:"execution_snapshot"`
	QueuedAt     string   `json:"queued_at"`
	ClaimedBy    string   `json:"claimed_by,omitempty"`
	ClaimedAt    string   `json:"claimed_at,omitempty"`

	logs []LogLine
}

// NewTask builds a task with a fresh ulid id.
func NewTask(executionID, workflowName, nodeID string, snapshot Snapshot) *Task {
	return &Task{
		ID:           ulid.MustNew(ulid.Now(), rand.Reader).String(),
		ExecutionID:  executionID,
		WorkflowName: workflowName,
		NodeID:       nodeID,
		Snapshot:     snapshot,
		QueuedAt:     time.Now().UTC().Format(time.RFC3339),
	}
}

// Node returns the node this task executes, resolved from the snapshot.
func (t *Task) Node() *workflow.Node {
	if t.Snapshot.Workflow == nil {
		return nil
	}
	return t.Snapshot.Workflow.NodeByID(t.NodeID)
}

// ConcurrencyGroup returns the node's concurrency group, or "".
func (t *Task) ConcurrencyGroup() string {
	n := t.Node()
	if n == nil {
		return ""
	}
	return n.AgentConfig().ConcurrencyGroup
}

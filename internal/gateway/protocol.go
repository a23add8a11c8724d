// Package gateway owns the persistent agent connections: the
// websocket endpoint, per-agent connection handlers and the hub that
// routes server-initiated messages to the fleet.
package gateway

import (
	"github.com/wirebird/wirebird/internal/dispatch"
	"github.com/wirebird/wirebird/internal/workflow"
)

// Message is the wire envelope. Type selects the variant; payloads are
// flat, so one struct with omitempty fields covers the whole protocol.
type Message struct {
	Type string `json:"type"`

	// version / upgrade_required
	Version         string `json:"version,omitempty"`
	CurrentVersion  string `json:"current_version,omitempty"`
	RequiredVersion string `json:"required_version,omitempty"`

	// task messages
	TaskID            string             `json:"task_id,omitempty"`
	WorkflowName      string             `json:"workflow_name,omitempty"`
	NodeID            string             `json:"node_id,omitempty"`
	ExecutionSnapshot *dispatch.Snapshot `json:"execution_snapshot,omitempty"`
	Reason            string             `json:"reason,omitempty"`
	Logs              []dispatch.LogLine `json:"logs,omitempty"`
	Result            workflow.Data      `json:"result,omitempty"`
	Error             string             `json:"error,omitempty"`

	// credential messages
	Name        string         `json:"name,omitempty"`
	Credential  map[string]any `json:"credential,omitempty"`
	Credentials []string       `json:"credentials,omitempty"`
	Status      string         `json:"status,omitempty"`
}

// Message types. Unknown types are logged and ignored, not a protocol
// error.
const (
	TypeConnectOK         = "connect_ok"
	TypeHeartbeat         = "heartbeat"
	TypeHeartbeatAck      = "heartbeat_ack"
	TypeVersion           = "version"
	TypeUpgradeRequired   = "upgrade_required"
	TypeTaskAvailable     = "task_available"
	TypeTaskClaim         = "task_claim"
	TypeTaskClaimedOK     = "task_claimed_ok"
	TypeTaskClaimedFail   = "task_claimed_fail"
	TypeTaskProgress      = "task_progress"
	TypeTaskComplete      = "task_complete"
	TypeTaskFailed        = "task_failed"
	TypeCredentialsReport = "credentials_report"
	TypeCredentialPush    = "credential_push"
	TypeCredentialAck     = "credential_ack"
	TypeConfigUpdate      = "config_update"
	TypeKillTask          = "kill_task"
)

// Close codes distinguish authentication failures so the agent can
// tell a bad secret from a disabled account.
const (
	CloseInvalidCredentials = 4001
	CloseAgentDisabled      = 4002
)

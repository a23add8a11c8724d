package workflow

import (
	"encoding/json"
	"fmt"
	"os"
)

// Data is the free-form configuration block carried by a node.
type Data = map[string]any

// Item is one unit of data flowing along a connection.
type Item = map[string]any

// Node is one unit of work in a workflow graph.
type Node struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	TypeID string `json:"typeId"`
	Data   Data   `json:"data,omitempty"`
}

// Connection is a directed edge from one node's output to another's input.
type Connection struct {
	SourceNodeID string `json:"sourceNodeId"`
	TargetNodeID string `json:"targetNodeId"`
}

// Workflow is a directed acyclic graph of nodes. Definitions are stored
// as JSON files; executions operate on a snapshot taken at queue time.
type Workflow struct {
	Name        string        `json:"name,omitempty"`
	Nodes       []*Node       `json:"nodes"`
	Connections []*Connection `json:"connections"`
}

// LoadFile reads a workflow definition from a JSON file.
func LoadFile(path string) (*Workflow, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read workflow %s: %w", path, err)
	}
	var wf Workflow
	if err := json.Unmarshal(data, &wf); err != nil {
		return nil, fmt.Errorf("parse workflow %s: %w", path, err)
	}
	return &wf, nil
}

// DisplayName returns the node's name, falling back to its id.
func (n *Node) DisplayName() string {
	if n.Name != "" {
		return n.Name
	}
	return n.ID
}

// AgentConfig is a node's agent-affinity declaration, read from the
// node data's agentConfig block. A zero value means "run anywhere".
type AgentConfig struct {
	Agents           []string
	RequiredTags     []string
	ConcurrencyGroup string
}

// IsZero reports whether the node declared no agent affinity at all.
func (c AgentConfig) IsZero() bool {
	return len(c.Agents) == 0 && len(c.RequiredTags) == 0 && c.ConcurrencyGroup == ""
}

// AgentConfig extracts the node's agent-affinity declaration.
func (n *Node) AgentConfig() AgentConfig {
	raw, ok := n.Data["agentConfig"].(map[string]any)
	if !ok {
		return AgentConfig{}
	}
	cfg := AgentConfig{
		Agents:       stringSlice(raw["agents"]),
		RequiredTags: stringSlice(raw["requiredTags"]),
	}
	if group, ok := raw["concurrencyGroup"].(string); ok {
		cfg.ConcurrencyGroup = group
	}
	return cfg
}

// HasAgentConfig reports whether the node carries an agentConfig block,
// even an empty one. Such nodes are dispatched to the agent fleet.
func (n *Node) HasAgentConfig() bool {
	_, ok := n.Data["agentConfig"].(map[string]any)
	return ok
}

// RequiredCredential returns the credential bundle the node needs, or "".
func (n *Node) RequiredCredential() string {
	cred, _ := n.Data["credentials"].(string)
	return cred
}

// TimeoutSeconds returns the node's configured execution timeout, or 0.
func (n *Node) TimeoutSeconds() int {
	switch v := n.Data["timeout"].(type) {
	case float64:
		return int(v)
	case int:
		return v
	case string:
		var secs int
		if _, err := fmt.Sscanf(v, "%d", &secs); err == nil {
			return secs
		}
	}
	return 0
}

func stringSlice(v any) []string {
	items, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

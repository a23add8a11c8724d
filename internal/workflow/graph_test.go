package workflow

import (
	"context"
	"testing"
)

// chain builds A -> B -> C.
func chain() *Workflow {
	return &Workflow{
		Nodes: []*Node{
			{ID: "a", Name: "A", TypeID: "start"},
			{ID: "b", Name: "B", TypeID: "set"},
			{ID: "c", Name: "C", TypeID: "set"},
		},
		Connections: []*Connection{
			{SourceNodeID: "a", TargetNodeID: "b"},
			{SourceNodeID: "b", TargetNodeID: "c"},
		},
	}
}

func executed(ids ...string) ExecutionState {
	e := ExecutionState{}
	for _, id := range ids {
		e[id] = &NodeExecution{}
	}
	return e
}

func TestFindReadyNodeLinear(t *testing.T) {
	wf := chain()

	if got := wf.FindReadyNode(executed(), ""); got != "a" {
		t.Errorf("first ready node = %q, want a", got)
	}
	if got := wf.FindReadyNode(executed("a"), ""); got != "b" {
		t.Errorf("after a, ready node = %q, want b", got)
	}
	if got := wf.FindReadyNode(executed("a", "b"), ""); got != "c" {
		t.Errorf("after a,b, ready node = %q, want c", got)
	}
	if got := wf.FindReadyNode(executed("a", "b", "c"), ""); got != "" {
		t.Errorf("complete graph returned ready node %q", got)
	}
}

func TestFindReadyNodeDeclarationOrder(t *testing.T) {
	// Two independent source nodes: the first declared wins.
	wf := &Workflow{
		Nodes: []*Node{
			{ID: "second", TypeID: "set"},
			{ID: "first", TypeID: "set"},
		},
	}
	// Both are ready; declaration order decides.
	if got := wf.FindReadyNode(executed(), ""); got != "second" {
		t.Errorf("ready node = %q, want the first-declared node", got)
	}
}

func TestFindReadyNodeCycle(t *testing.T) {
	wf := &Workflow{
		Nodes: []*Node{
			{ID: "a", TypeID: "set"},
			{ID: "b", TypeID: "set"},
		},
		Connections: []*Connection{
			{SourceNodeID: "a", TargetNodeID: "b"},
			{SourceNodeID: "b", TargetNodeID: "a"},
		},
	}
	if got := wf.FindReadyNode(executed(), ""); got != "" {
		t.Errorf("cyclic graph returned ready node %q, want none", got)
	}
	if wf.IsComplete(executed()) {
		t.Error("cyclic graph with nothing executed reported complete")
	}
}

func TestFindReadyNodeRestrictedToSubgraph(t *testing.T) {
	// a -> b, plus an unrelated branch x -> y. Targeting b must never
	// schedule x or y.
	wf := &Workflow{
		Nodes: []*Node{
			{ID: "x", TypeID: "set"},
			{ID: "a", TypeID: "set"},
			{ID: "b", TypeID: "set"},
			{ID: "y", TypeID: "set"},
		},
		Connections: []*Connection{
			{SourceNodeID: "a", TargetNodeID: "b"},
			{SourceNodeID: "x", TargetNodeID: "y"},
		},
	}

	if got := wf.FindReadyNode(executed(), "b"); got != "a" {
		t.Errorf("ready node for target b = %q, want a", got)
	}
	if got := wf.FindReadyNode(executed("a"), "b"); got != "b" {
		t.Errorf("ready node for target b after a = %q, want b", got)
	}
	if got := wf.FindReadyNode(executed("a", "b"), "b"); got != "" {
		t.Errorf("target subgraph done but got ready node %q", got)
	}
}

func TestUpstreamSubgraph(t *testing.T) {
	// diamond: a -> b, a -> c, b -> d, c -> d
	wf := &Workflow{
		Nodes: []*Node{
			{ID: "a"}, {ID: "b"}, {ID: "c"}, {ID: "d"}, {ID: "orphan"},
		},
		Connections: []*Connection{
			{SourceNodeID: "a", TargetNodeID: "b"},
			{SourceNodeID: "a", TargetNodeID: "c"},
			{SourceNodeID: "b", TargetNodeID: "d"},
			{SourceNodeID: "c", TargetNodeID: "d"},
		},
	}

	sub := wf.UpstreamSubgraph("d")
	for _, id := range []string{"a", "b", "c", "d"} {
		if !sub[id] {
			t.Errorf("upstream subgraph of d missing %q", id)
		}
	}
	if sub["orphan"] {
		t.Error("upstream subgraph of d includes unrelated node")
	}
}

func TestIsTriggerNode(t *testing.T) {
	types := NewTypeRegistry()
	types.Register(&NodeType{ID: "scheduled", Register: func(context.Context, *Node, int64) Registration {
		return Registration{Type: RegistrationTimed}
	}})
	types.Register(&NodeType{ID: "set"})

	wf := &Workflow{
		Nodes: []*Node{
			{ID: "sched", TypeID: "scheduled"},
			{ID: "mid", TypeID: "scheduled"},
			{ID: "plain", TypeID: "set"},
		},
		Connections: []*Connection{
			{SourceNodeID: "sched", TargetNodeID: "mid"},
		},
	}

	if !wf.IsTriggerNode("sched", types) {
		t.Error("source node with a registering type is not a trigger")
	}
	if wf.IsTriggerNode("mid", types) {
		t.Error("node with an incoming connection counted as trigger")
	}
	if wf.IsTriggerNode("plain", types) {
		t.Error("node of a non-registering type counted as trigger")
	}

	triggers := wf.TriggerNodes(types)
	if len(triggers) != 1 || triggers[0].ID != "sched" {
		t.Errorf("TriggerNodes = %v, want [sched]", triggers)
	}
}

func TestNodeAgentConfig(t *testing.T) {
	n := &Node{Data: Data{
		"agentConfig": map[string]any{
			"agents":           []any{"worker-1"},
			"requiredTags":     []any{"gpu", "linux"},
			"concurrencyGroup": "deploy",
		},
		"credentials": "aws-keys",
		"timeout":     float64(120),
	}}

	if !n.HasAgentConfig() {
		t.Fatal("HasAgentConfig = false for node with agentConfig block")
	}
	cfg := n.AgentConfig()
	if len(cfg.Agents) != 1 || cfg.Agents[0] != "worker-1" {
		t.Errorf("Agents = %v", cfg.Agents)
	}
	if len(cfg.RequiredTags) != 2 {
		t.Errorf("RequiredTags = %v", cfg.RequiredTags)
	}
	if cfg.ConcurrencyGroup != "deploy" {
		t.Errorf("ConcurrencyGroup = %q", cfg.ConcurrencyGroup)
	}
	if n.RequiredCredential() != "aws-keys" {
		t.Errorf("RequiredCredential = %q", n.RequiredCredential())
	}
	if n.TimeoutSeconds() != 120 {
		t.Errorf("TimeoutSeconds = %d", n.TimeoutSeconds())
	}

	empty := &Node{Data: Data{"agentConfig": map[string]any{}}}
	if !empty.HasAgentConfig() {
		t.Error("empty agentConfig block not detected")
	}
	if !empty.AgentConfig().IsZero() {
		t.Error("empty agentConfig block should be zero affinity")
	}

	local := &Node{Data: Data{}}
	if local.HasAgentConfig() {
		t.Error("node without agentConfig reported as dispatchable")
	}
}

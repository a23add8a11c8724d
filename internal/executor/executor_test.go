package executor

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wirebird/wirebird/internal/workflow"
)

// constType returns a type that always emits the given output.
func constType(id string, kind workflow.Kind, out any) *workflow.NodeType {
	return &workflow.NodeType{
		ID:   id,
		Kind: kind,
		Execute: func(context.Context, *workflow.Node, []workflow.Item, map[string]any) (any, error) {
			return out, nil
		},
	}
}

func TestExecuteNode_NamespacesOutput(t *testing.T) {
	types := workflow.NewTypeRegistry()
	types.Register(constType("emit", workflow.KindArray, []workflow.Item{{"v": 1}}))

	wf := &workflow.Workflow{
		Nodes: []*workflow.Node{{ID: "n1", Name: "Fetch", TypeID: "emit"}},
	}

	exec := New(types, nil, nil)
	state, failure := exec.ExecuteNode(context.Background(), "n1", wf, workflow.ExecutionState{})
	require.Nil(t, failure)

	entry := state["n1"]
	require.NotNil(t, entry)
	require.Len(t, entry.Output, 1)
	assert.Equal(t, workflow.Item{"v": 1}, entry.Output[0]["Fetch"])
	assert.NotEmpty(t, entry.ExecutedAt)
}

func TestExecuteNode_ExecutesUpstreamOnDemand(t *testing.T) {
	types := workflow.NewTypeRegistry()
	types.Register(constType("up", workflow.KindArray, []workflow.Item{{"seed": true}}))
	types.Register(&workflow.NodeType{
		ID:   "down",
		Kind: workflow.KindArray,
		Execute: func(_ context.Context, _ *workflow.Node, input []workflow.Item, _ map[string]any) (any, error) {
			return input, nil
		},
	})

	wf := &workflow.Workflow{
		Nodes: []*workflow.Node{
			{ID: "a", Name: "Up", TypeID: "up"},
			{ID: "b", Name: "Down", TypeID: "down"},
		},
		Connections: []*workflow.Connection{{SourceNodeID: "a", TargetNodeID: "b"}},
	}

	exec := New(types, nil, nil)
	state, failure := exec.ExecuteNode(context.Background(), "b", wf, workflow.ExecutionState{})
	require.Nil(t, failure)

	// Both nodes are now recorded; b's input is a's namespaced output.
	require.NotNil(t, state["a"])
	require.NotNil(t, state["b"])
	require.Len(t, state["b"].Input, 1)
	assert.Contains(t, state["b"].Input[0], "Up")
}

func TestExecuteNode_MapKindRunsPerItem(t *testing.T) {
	var calls int
	types := workflow.NewTypeRegistry()
	types.Register(constType("src", workflow.KindArray, []workflow.Item{{"i": 1}, {"i": 2}, {"i": 3}}))
	types.Register(&workflow.NodeType{
		ID:   "each",
		Kind: workflow.KindMap,
		Execute: func(_ context.Context, _ *workflow.Node, input []workflow.Item, _ map[string]any) (any, error) {
			calls++
			require.Len(t, input, 1)
			return workflow.Data{"n": calls}, nil
		},
	})

	wf := &workflow.Workflow{
		Nodes: []*workflow.Node{
			{ID: "s", Name: "S", TypeID: "src"},
			{ID: "m", Name: "M", TypeID: "each"},
		},
		Connections: []*workflow.Connection{{SourceNodeID: "s", TargetNodeID: "m"}},
	}

	exec := New(types, nil, nil)
	state, failure := exec.ExecuteNode(context.Background(), "m", wf, workflow.ExecutionState{})
	require.Nil(t, failure)
	assert.Equal(t, 3, calls)
	require.Len(t, state["m"].Output, 3)
	// Input item fields are preserved alongside the namespaced output.
	assert.Contains(t, state["m"].Output[0], "S")
	assert.Contains(t, state["m"].Output[0], "M")
}

func TestExecuteNode_ArrayKindRunsOnce(t *testing.T) {
	var calls int
	types := workflow.NewTypeRegistry()
	types.Register(constType("src", workflow.KindArray, []workflow.Item{{"i": 1}, {"i": 2}}))
	types.Register(&workflow.NodeType{
		ID:   "batch",
		Kind: workflow.KindArray,
		Execute: func(_ context.Context, _ *workflow.Node, input []workflow.Item, _ map[string]any) (any, error) {
			calls++
			return workflow.Data{"count": len(input)}, nil
		},
	})

	wf := &workflow.Workflow{
		Nodes: []*workflow.Node{
			{ID: "s", TypeID: "src"},
			{ID: "b", TypeID: "batch"},
		},
		Connections: []*workflow.Connection{{SourceNodeID: "s", TargetNodeID: "b"}},
	}

	exec := New(types, nil, nil)
	_, failure := exec.ExecuteNode(context.Background(), "b", wf, workflow.ExecutionState{})
	require.Nil(t, failure)
	assert.Equal(t, 1, calls)
}

func TestExecuteNode_PinnedReplaysWithoutExecuting(t *testing.T) {
	types := workflow.NewTypeRegistry()
	types.Register(&workflow.NodeType{
		ID:   "boom",
		Kind: workflow.KindArray,
		Execute: func(context.Context, *workflow.Node, []workflow.Item, map[string]any) (any, error) {
			t.Fatal("pinned node must not execute")
			return nil, nil
		},
	})

	wf := &workflow.Workflow{
		Nodes: []*workflow.Node{{ID: "p", TypeID: "boom", Data: workflow.Data{
			"pinned":       true,
			"pinnedOutput": []any{map[string]any{"cached": true}},
		}}},
	}

	exec := New(types, nil, nil)
	state, failure := exec.ExecuteNode(context.Background(), "p", wf, workflow.ExecutionState{})
	require.Nil(t, failure)
	require.NotNil(t, state["p"])
	assert.True(t, state["p"].Pinned)
	assert.Equal(t, workflow.Item{"cached": true}, state["p"].Output[0])
}

func TestExecuteNode_FailureRecorded(t *testing.T) {
	types := workflow.NewTypeRegistry()
	types.Register(&workflow.NodeType{
		ID:   "fail",
		Kind: workflow.KindArray,
		Execute: func(context.Context, *workflow.Node, []workflow.Item, map[string]any) (any, error) {
			return nil, errors.New("upstream api returned 500")
		},
	})

	wf := &workflow.Workflow{Nodes: []*workflow.Node{{ID: "f", TypeID: "fail"}}}

	exec := New(types, nil, nil)
	state, failure := exec.ExecuteNode(context.Background(), "f", wf, workflow.ExecutionState{})
	require.NotNil(t, failure)
	assert.Equal(t, "f", failure.NodeID)
	assert.Equal(t, "upstream api returned 500", failure.Message)

	// The failed attempt is recorded in the state.
	require.NotNil(t, state["f"])
	assert.Equal(t, "upstream api returned 500", state["f"].Error)
}

func TestExecuteNode_PanicBecomesFailure(t *testing.T) {
	types := workflow.NewTypeRegistry()
	types.Register(&workflow.NodeType{
		ID:   "panics",
		Kind: workflow.KindArray,
		Execute: func(context.Context, *workflow.Node, []workflow.Item, map[string]any) (any, error) {
			panic("nil map write")
		},
	})

	wf := &workflow.Workflow{Nodes: []*workflow.Node{{ID: "p", TypeID: "panics"}}}

	exec := New(types, nil, nil)
	state, failure := exec.ExecuteNode(context.Background(), "p", wf, workflow.ExecutionState{})
	require.NotNil(t, failure)
	assert.Contains(t, failure.Message, "nil map write")
	require.NotNil(t, state["p"])
}

func TestExecuteNode_UnknownNodeOrTypeIsNoop(t *testing.T) {
	types := workflow.NewTypeRegistry()
	wf := &workflow.Workflow{Nodes: []*workflow.Node{{ID: "n", TypeID: "unregistered"}}}

	exec := New(types, nil, nil)
	initial := workflow.ExecutionState{}

	state, failure := exec.ExecuteNode(context.Background(), "ghost", wf, initial)
	require.Nil(t, failure)
	assert.Empty(t, state)

	state, failure = exec.ExecuteNode(context.Background(), "n", wf, initial)
	require.Nil(t, failure)
	assert.Empty(t, state)
}

type mapCredentials map[string]map[string]any

func (m mapCredentials) Credential(_ context.Context, name string) (map[string]any, error) {
	c, ok := m[name]
	if !ok {
		return nil, fmt.Errorf("credential %s not stored on this agent", name)
	}
	return c, nil
}

func TestExecuteNode_CredentialResolution(t *testing.T) {
	var seen map[string]any
	types := workflow.NewTypeRegistry()
	types.Register(&workflow.NodeType{
		ID:                 "api",
		Kind:               workflow.KindArray,
		RequiresCredential: true,
		Execute: func(_ context.Context, _ *workflow.Node, _ []workflow.Item, credential map[string]any) (any, error) {
			seen = credential
			return workflow.Data{}, nil
		},
	})

	creds := mapCredentials{"aws-keys": {"access_key": "AKIA..."}}
	exec := New(types, nil, creds)

	wf := &workflow.Workflow{Nodes: []*workflow.Node{
		{ID: "n", TypeID: "api", Data: workflow.Data{"credentialName": "aws-keys"}},
	}}
	_, failure := exec.ExecuteNode(context.Background(), "n", wf, workflow.ExecutionState{})
	require.Nil(t, failure)
	assert.Equal(t, "AKIA...", seen["access_key"])

	// A missing credential fails the step.
	wf.Nodes[0].Data["credentialName"] = "gh-token"
	_, failure = exec.ExecuteNode(context.Background(), "n", wf, workflow.ExecutionState{})
	require.NotNil(t, failure)
	assert.Contains(t, failure.Message, "gh-token")
}

func TestExecuteNode_DoesNotMutateCallerState(t *testing.T) {
	types := workflow.NewTypeRegistry()
	types.Register(constType("emit", workflow.KindArray, []workflow.Item{{}}))

	wf := &workflow.Workflow{Nodes: []*workflow.Node{{ID: "n", TypeID: "emit"}}}

	exec := New(types, nil, nil)
	original := workflow.ExecutionState{}
	updated, failure := exec.ExecuteNode(context.Background(), "n", wf, original)
	require.Nil(t, failure)

	assert.Empty(t, original)
	assert.NotEmpty(t, updated)
}

// Package executor runs individual workflow nodes: it resolves input
// from upstream outputs, evaluates expressions in node data, invokes
// the node type and merges the result back into the execution state.
package executor

import (
	"context"
	"fmt"
	"time"

	"github.com/wirebird/wirebird/internal/workflow"
	"github.com/wirebird/wirebird/pkg/panicerr"
)

// Evaluator resolves template placeholders in node data against the
// current item before the node executes. Implementations that cannot
// evaluate an expression should return the data unchanged rather than
// fail the step.
type Evaluator interface {
	EvaluateData(data workflow.Data, item workflow.Item) workflow.Data
}

// PassthroughEvaluator performs no evaluation. It stands in wherever a
// real expression engine is not wired.
type PassthroughEvaluator struct{}

func (PassthroughEvaluator) EvaluateData(data workflow.Data, _ workflow.Item) workflow.Data {
	return data
}

// CredentialSource resolves a named credential bundle for node
// execution.
type CredentialSource interface {
	Credential(ctx context.Context, name string) (map[string]any, error)
}

// StepFailure is the structured outcome of a failed node execution.
// Failures stay inside the step boundary; nothing panics across it.
type StepFailure struct {
	NodeID  string
	Message string
	Details string
}

func (f *StepFailure) Error() string {
	return fmt.Sprintf("node %s: %s", f.NodeID, f.Message)
}

// Executor executes nodes against a type registry.
type Executor struct {
	types *workflow.TypeRegistry
	eval  Evaluator
	creds CredentialSource
}

func New(types *workflow.TypeRegistry, eval Evaluator, creds CredentialSource) *Executor {
	if eval == nil {
		eval = PassthroughEvaluator{}
	}
	return &Executor{types: types, eval: eval, creds: creds}
}

// ExecuteNode executes the node and returns the updated execution
// state. Upstream nodes that have not executed yet are executed first.
// On failure the state still records the attempt, with the error and
// details on the node's entry, and a StepFailure is returned.
func (e *Executor) ExecuteNode(ctx context.Context, nodeID string, wf *workflow.Workflow, execution workflow.ExecutionState) (workflow.ExecutionState, *StepFailure) {
	node := wf.NodeByID(nodeID)
	if node == nil {
		return execution, nil
	}
	nodeType, ok := e.types.Lookup(node.TypeID)
	if !ok || nodeType.Execute == nil {
		return execution, nil
	}

	// Pinned nodes replay their stored output without executing.
	if pinned, ok := pinnedOutput(node); ok {
		execution = execution.Clone()
		execution[nodeID] = &workflow.NodeExecution{
			NodeOutput: pinned,
			Output:     toItems(pinned),
			ExecutedAt: timestamp(),
			Pinned:     true,
		}
		return execution, nil
	}

	input, execution, failure := e.resolveInput(ctx, node, wf, execution)
	if failure != nil {
		return execution, failure
	}

	credential, err := e.resolveCredential(ctx, node, nodeType)
	if err != nil {
		return e.recordFailure(execution, node, input, err)
	}

	var nodeOutput []any
	switch nodeType.Kind {
	case workflow.KindMap:
		for _, item := range input {
			out, err := e.invoke(ctx, nodeType, node, item, []workflow.Item{item}, credential)
			if err != nil {
				return e.recordFailure(execution, node, input, err)
			}
			nodeOutput = append(nodeOutput, out)
		}
	default:
		evalContext := workflow.Item{}
		if len(input) > 0 {
			evalContext = input[0]
		}
		out, err := e.invoke(ctx, nodeType, node, evalContext, input, credential)
		if err != nil {
			return e.recordFailure(execution, node, input, err)
		}
		nodeOutput = toAnySlice(out)
	}

	// Namespace the node's output under its name, preserving the
	// matching input item's fields for downstream nodes.
	name := node.DisplayName()
	combined := make([]workflow.Item, 0, len(nodeOutput))
	for i, out := range nodeOutput {
		item := workflow.Item{}
		if i < len(input) {
			for k, v := range input[i] {
				item[k] = v
			}
		}
		item[name] = out
		combined = append(combined, item)
	}

	execution = execution.Clone()
	execution[nodeID] = &workflow.NodeExecution{
		Input:      input,
		NodeOutput: nodeOutput,
		Output:     combined,
		ExecutedAt: timestamp(),
	}
	return execution, nil
}

// resolveInput collects input from the node's upstream outputs,
// executing unexecuted upstream nodes on demand, then normalizes it so
// every node sees at least one item.
func (e *Executor) resolveInput(ctx context.Context, node *workflow.Node, wf *workflow.Workflow, execution workflow.ExecutionState) ([]workflow.Item, workflow.ExecutionState, *StepFailure) {
	var input []workflow.Item
	for _, c := range wf.Connections {
		if c.TargetNodeID != node.ID {
			continue
		}
		source := execution[c.SourceNodeID]
		if source == nil || len(source.Output) == 0 {
			var failure *StepFailure
			execution, failure = e.ExecuteNode(ctx, c.SourceNodeID, wf, execution)
			if failure != nil {
				return nil, execution, failure
			}
			source = execution[c.SourceNodeID]
		}
		if source != nil && len(source.Output) > 0 {
			input = source.Output
			break
		}
	}
	if len(input) == 0 {
		input = []workflow.Item{{}}
	}
	return input, execution, nil
}

func (e *Executor) resolveCredential(ctx context.Context, node *workflow.Node, nodeType *workflow.NodeType) (map[string]any, error) {
	if !nodeType.RequiresCredential || e.creds == nil {
		return nil, nil
	}
	name, _ := node.Data["credentialName"].(string)
	if name == "" {
		return nil, nil
	}
	credential, err := e.creds.Credential(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("resolve credential %s: %w", name, err)
	}
	return credential, nil
}

// invoke evaluates the node data against the context item and runs the
// type's Execute with a panic guard.
func (e *Executor) invoke(ctx context.Context, nodeType *workflow.NodeType, node *workflow.Node, evalContext workflow.Item, input []workflow.Item, credential map[string]any) (out any, err error) {
	evaluated := *node
	evaluated.Data = e.eval.EvaluateData(node.Data, evalContext)
	guarded := panicerr.Safe(func() error {
		var execErr error
		out, execErr = nodeType.Execute(ctx, &evaluated, input, credential)
		return execErr
	})
	return out, guarded()
}

func (e *Executor) recordFailure(execution workflow.ExecutionState, node *workflow.Node, input []workflow.Item, err error) (workflow.ExecutionState, *StepFailure) {
	failure := &StepFailure{
		NodeID:  node.ID,
		Message: err.Error(),
		Details: fmt.Sprintf("%+v", err),
	}
	execution = execution.Clone()
	execution[node.ID] = &workflow.NodeExecution{
		Input:        input,
		ExecutedAt:   timestamp(),
		Error:        failure.Message,
		ErrorDetails: failure.Details,
	}
	return execution, failure
}

func pinnedOutput(node *workflow.Node) ([]any, bool) {
	pinned, _ := node.Data["pinned"].(bool)
	if !pinned {
		return nil, false
	}
	raw, ok := node.Data["pinnedOutput"]
	if !ok {
		return nil, false
	}
	if list, ok := raw.([]any); ok {
		return list, true
	}
	return []any{raw}, true
}

func toAnySlice(v any) []any {
	switch t := v.(type) {
	case nil:
		return nil
	case []any:
		return t
	case []workflow.Item:
		out := make([]any, len(t))
		for i, item := range t {
			out[i] = item
		}
		return out
	default:
		return []any{t}
	}
}

func toItems(values []any) []workflow.Item {
	items := make([]workflow.Item, 0, len(values))
	for _, v := range values {
		if m, ok := v.(map[string]any); ok {
			items = append(items, m)
			continue
		}
		items = append(items, workflow.Item{"value": v})
	}
	return items
}

func timestamp() string {
	return time.Now().UTC().Format(time.RFC3339)
}

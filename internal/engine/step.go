package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/wirebird/wirebird/internal/dispatch"
	"github.com/wirebird/wirebird/internal/workflow"
)

const (
	defaultNodeTimeout = 300 * time.Second
	// dispatchBuffer lets the node's own timeout fire first with a
	// cleaner error than the engine-side deadline.
	dispatchBuffer = 30 * time.Second
)

// ExecuteOneStep advances the item by exactly one node and returns it.
// Trigger nodes auto-complete with a timestamp output, agent-affine
// nodes are delegated to the dispatch queue, everything else executes
// locally. A graph with unexecuted nodes but nothing ready is a cycle
// and transitions to error rather than spinning.
func (e *Engine) ExecuteOneStep(ctx context.Context, item *Item) *Item {
	readyID := item.Workflow.FindReadyNode(item.Execution, "")
	if readyID == "" {
		if item.Workflow.IsComplete(item.Execution) {
			item.markCompleted()
		} else {
			item.markError("", "No executable nodes found - possible circular dependency", "", "")
		}
		return item
	}

	node := item.Workflow.NodeByID(readyID)

	if item.Workflow.IsTriggerNode(readyID, e.types) {
		e.autoCompleteTrigger(item, node)
		return item
	}

	if node.HasAgentConfig() {
		return e.dispatchStep(ctx, item, node)
	}

	execution, failure := e.executor.ExecuteNode(ctx, readyID, item.Workflow, item.Execution)
	item.Execution = execution
	if failure != nil {
		item.markError(failure.NodeID, failure.Message, failure.Details, "")
		return item
	}
	item.CurrentStep++
	if item.Workflow.IsComplete(item.Execution) {
		item.markCompleted()
	}
	return item
}

// autoCompleteTrigger records a trigger node as executed with a
// timestamp output. Trigger nodes run no code during a DAG step; their
// real work happened when the trigger fired.
func (e *Engine) autoCompleteTrigger(item *Item, node *workflow.Node) {
	now := time.Now().UTC().Format(time.RFC3339)
	output := []workflow.Item{{node.DisplayName(): map[string]any{"time": now}}}
	nodeOutput := make([]any, len(output))
	for i, out := range output {
		nodeOutput[i] = out
	}
	item.Execution = item.Execution.Clone()
	item.Execution[node.ID] = &workflow.NodeExecution{
		Input:      []workflow.Item{},
		NodeOutput: nodeOutput,
		Output:     output,
		ExecutedAt: now,
	}
	item.CurrentStep++
	if item.Workflow.IsComplete(item.Execution) {
		item.markCompleted()
	}
}

// dispatchStep hands the node to the agent fleet and blocks until the
// task reaches a terminal state or the engine-side deadline passes.
func (e *Engine) dispatchStep(ctx context.Context, item *Item, node *workflow.Node) *Item {
	task := dispatch.NewTask(item.ID, item.WorkflowPath, node.ID, dispatch.Snapshot{
		Workflow:  item.Workflow,
		Execution: item.Execution,
	})

	resultCh := make(chan dispatch.Result, 1)
	e.queue.Enqueue(ctx, task, func(res dispatch.Result) {
		resultCh <- res
	})

	timeout := defaultNodeTimeout
	if secs := node.TimeoutSeconds(); secs > 0 {
		timeout = time.Duration(secs)*time.Second + dispatchBuffer
		if timeout < defaultNodeTimeout {
			timeout = defaultNodeTimeout
		}
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case res := <-resultCh:
		item.Logs = append(item.Logs, res.Logs...)
		if res.Error != "" {
			msg := res.Error
			if res.Agent != "" {
				msg = fmt.Sprintf("[agent: %s] %s", res.Agent, msg)
			}
			item.markError(node.ID, msg, "", res.Agent)
			return item
		}
		execution, err := executionFromResult(res.Output)
		if err != nil {
			item.markError(node.ID, "agent returned an unusable result: "+err.Error(), "", res.Agent)
			return item
		}
		item.Execution = execution
		item.CurrentStep++
		if item.Workflow.IsComplete(item.Execution) {
			item.markCompleted()
		}
		return item

	case <-timer.C:
		item.markError(node.ID, fmt.Sprintf("Task timeout: node %s took too long", node.ID), "", "")
		e.logger.WarnContext(ctx, "dispatched node timed out",
			slog.String("execution_id", item.ID),
			slog.String("node_id", node.ID),
			slog.Duration("timeout", timeout),
		)
		return item

	case <-ctx.Done():
		item.markError(node.ID, "execution canceled: "+ctx.Err().Error(), "", "")
		return item
	}
}

// executionFromResult extracts the updated execution state an agent
// sent back in its task_complete result.
func executionFromResult(result workflow.Data) (workflow.ExecutionState, error) {
	raw, ok := result["execution"]
	if !ok {
		return nil, fmt.Errorf("result has no execution state")
	}
	data, err := json.Marshal(raw)
	if err != nil {
		return nil, err
	}
	var execution workflow.ExecutionState
	if err := json.Unmarshal(data, &execution); err != nil {
		return nil, err
	}
	return execution, nil
}

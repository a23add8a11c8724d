package dispatch

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/wirebird/wirebird/internal/agent"
	"github.com/wirebird/wirebird/internal/concurrency"
	"github.com/wirebird/wirebird/internal/workflow"
)

// Result is what a finished task reports back to the enqueuer. Failed
// carries the error string when the agent reported failure; Logs are
// the lines streamed while the task ran.
type Result struct {
	Output workflow.Data
	Error  string
	Agent  string
	Logs   []LogLine
}

// CompleteFunc receives a task's terminal result. Called at most once.
type CompleteFunc func(Result)

// Notifier is told about fresh pending work so connected agents can be
// offered a task. Implementations must not block.
type Notifier interface {
	NotifyTaskAvailable(ctx context.Context)
}

// Queue distributes agent-affine node work. Pending order is insertion
// order, but dispatch is first-eligible rather than strict FIFO: a
// task no agent can admit does not block tasks behind it.
type Queue struct {
	agents  *agent.Registry
	tracker *concurrency.Tracker
	logger  *slog.Logger

	mu         sync.Mutex
	pending    []*Task
	inProgress map[string]*Task
	callbacks  map[string]CompleteFunc
	notifier   Notifier
}

func NewQueue(agents *agent.Registry, tracker *concurrency.Tracker, logger *slog.Logger) *Queue {
	return &Queue{
		agents:     agents,
		tracker:    tracker,
		logger:     logger,
		inProgress: map[string]*Task{},
		callbacks:  map[string]CompleteFunc{},
	}
}

// SetNotifier wires the gateway hub in after construction; the hub
// needs the queue first, so the dependency cycle is broken here.
func (q *Queue) SetNotifier(n Notifier) {
	q.mu.Lock()
	q.notifier = n
	q.mu.Unlock()
}

// Enqueue adds a task to the pending list and notifies connected
// agents. onComplete, when non-nil, fires once on the task's terminal
// transition. Notification is best-effort and never blocks enqueue.
func (q *Queue) Enqueue(ctx context.Context, task *Task, onComplete CompleteFunc) {
	q.mu.Lock()
	q.pending = append(q.pending, task)
	if onComplete != nil {
		q.callbacks[task.ID] = onComplete
	}
	notifier := q.notifier
	q.mu.Unlock()

	q.logger.InfoContext(ctx, "task enqueued",
		slog.String("task_id", task.ID),
		slog.String("workflow", task.WorkflowName),
		slog.String("node_id", task.NodeID),
	)
	if notifier != nil {
		notifier.NotifyTaskAvailable(ctx)
	}
}

// GetAvailableTask returns the first pending task the agent is
// admitted to run, or nil.
func (q *Queue) GetAvailableTask(agentName string) *Task {
	a, ok := q.agents.Get(agentName)
	if !ok || !a.Enabled {
		return nil
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, task := range q.pending {
		if q.admits(a, task) {
			return task
		}
	}
	return nil
}

// Claim moves a pending task to in-progress on behalf of the agent.
// It returns false, with no side effects, when the id is unknown or
// the task is already claimed.
func (q *Queue) Claim(ctx context.Context, taskID, agentName string) bool {
	q.mu.Lock()
	var task *Task
	for i, t := range q.pending {
		if t.ID == taskID {
			task = t
			q.pending = append(q.pending[:i], q.pending[i+1:]...)
			break
		}
	}
	if task == nil {
		q.mu.Unlock()
		return false
	}
	task.ClaimedBy = agentName
	task.ClaimedAt = time.Now().UTC().Format(time.RFC3339)
	q.inProgress[taskID] = task
	q.mu.Unlock()

	if group := task.ConcurrencyGroup(); group != "" {
		q.tracker.Increment(group)
	}
	current := task.ExecutionID
	if _, err := q.agents.Update(ctx, agentName, agent.Update{CurrentTask: &current}); err != nil {
		q.logger.WarnContext(ctx, "failed to record agent current task",
			slog.String("agent", agentName), slog.String("error", err.Error()))
	}
	q.logger.InfoContext(ctx, "task claimed",
		slog.String("task_id", taskID), slog.String("agent", agentName))
	return true
}

// Complete finishes a task successfully and fires its callback with
// the result plus any streamed logs. Unknown ids are ignored.
func (q *Queue) Complete(ctx context.Context, taskID string, output workflow.Data) {
	task, callback := q.remove(taskID)
	if task == nil {
		return
	}
	if task.ClaimedBy != "" {
		q.creditAgent(ctx, task.ClaimedBy)
	}
	if callback != nil {
		callback(Result{Output: output, Agent: task.ClaimedBy, Logs: task.logs})
	}
	q.logger.InfoContext(ctx, "task completed",
		slog.String("task_id", taskID), slog.String("agent", task.ClaimedBy))
}

// Fail finishes a task with an error. The callback receives the error
// string and the agent name for diagnosis.
func (q *Queue) Fail(ctx context.Context, taskID, errMsg string) {
	task, callback := q.remove(taskID)
	if task == nil {
		return
	}
	if task.ClaimedBy != "" {
		q.clearCurrentTask(ctx, task.ClaimedBy)
	}
	if callback != nil {
		callback(Result{Error: errMsg, Agent: task.ClaimedBy, Logs: task.logs})
	}
	q.logger.WarnContext(ctx, "task failed",
		slog.String("task_id", taskID),
		slog.String("agent", task.ClaimedBy),
		slog.String("error", errMsg),
	)
}

// RequeueAgentTasks returns every task the agent holds to the front of
// the pending list, clearing claim fields and releasing concurrency
// slots. A no-op for agents with nothing claimed.
func (q *Queue) RequeueAgentTasks(ctx context.Context, agentName string) {
	q.mu.Lock()
	var requeued []*Task
	for id, task := range q.inProgress {
		if task.ClaimedBy != agentName {
			continue
		}
		delete(q.inProgress, id)
		task.ClaimedBy = ""
		task.ClaimedAt = ""
		requeued = append(requeued, task)
	}
	if len(requeued) > 0 {
		q.pending = append(requeued, q.pending...)
	}
	q.mu.Unlock()

	for _, task := range requeued {
		if group := task.ConcurrencyGroup(); group != "" {
			q.tracker.Decrement(group)
		}
		q.logger.InfoContext(ctx, "task requeued",
			slog.String("task_id", task.ID), slog.String("agent", agentName))
	}
}

// AddTaskLogs appends streamed log lines to an in-progress task.
func (q *Queue) AddTaskLogs(taskID string, logs []LogLine) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if task, ok := q.inProgress[taskID]; ok {
		task.logs = append(task.logs, logs...)
	}
}

func (q *Queue) PendingCount() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

func (q *Queue) InProgressCount() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.inProgress)
}

// admits evaluates the admission predicate: the agent must be enabled
// and online, in the task's agent list when one is set, carry every
// required tag, hold the required credential, and the task's
// concurrency group must have a free slot.
func (q *Queue) admits(a *agent.Agent, task *Task) bool {
	if !a.Enabled || a.Status != agent.StatusOnline {
		return false
	}
	node := task.Node()
	if node == nil {
		return false
	}
	cfg := node.AgentConfig()
	if len(cfg.Agents) > 0 {
		listed := false
		for _, name := range cfg.Agents {
			if name == a.Name {
				listed = true
				break
			}
		}
		if !listed {
			return false
		}
	}
	for _, tag := range cfg.RequiredTags {
		if !a.HasTag(tag) {
			return false
		}
	}
	if cred := node.RequiredCredential(); cred != "" && !a.HasCredential(cred) {
		return false
	}
	if cfg.ConcurrencyGroup != "" && !q.tracker.CanStart(cfg.ConcurrencyGroup) {
		return false
	}
	return true
}

// remove pops a task and its callback out of in-progress and releases
// the concurrency slot.
func (q *Queue) remove(taskID string) (*Task, CompleteFunc) {
	q.mu.Lock()
	task, ok := q.inProgress[taskID]
	if !ok {
		q.mu.Unlock()
		return nil, nil
	}
	delete(q.inProgress, taskID)
	callback := q.callbacks[taskID]
	delete(q.callbacks, taskID)
	q.mu.Unlock()

	if group := task.ConcurrencyGroup(); group != "" {
		q.tracker.Decrement(group)
	}
	return task, callback
}

func (q *Queue) creditAgent(ctx context.Context, agentName string) {
	q.clearCurrentTask(ctx, agentName)
	if a, ok := q.agents.Get(agentName); ok {
		total := a.TotalTasks + 1
		if _, err := q.agents.Update(ctx, agentName, agent.Update{TotalTasks: &total}); err != nil {
			q.logger.WarnContext(ctx, "failed to increment agent task count",
				slog.String("agent", agentName), slog.String("error", err.Error()))
		}
	}
}

func (q *Queue) clearCurrentTask(ctx context.Context, agentName string) {
	empty := ""
	if _, err := q.agents.Update(ctx, agentName, agent.Update{CurrentTask: &empty}); err != nil {
		q.logger.WarnContext(ctx, "failed to clear agent current task",
			slog.String("agent", agentName), slog.String("error", err.Error()))
	}
}

package trigger

import (
	"context"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/wirebird/wirebird/internal/engine"
	"github.com/wirebird/wirebird/internal/workflow"
	"github.com/wirebird/wirebird/pkg/panicerr"
)

const (
	maxListenerRestarts = 10
	initialBackoff      = time.Second
	maxBackoff          = 60 * time.Second
)

// Scheduler owns one goroutine per active trigger. A trigger's
// identity is "{workflowPath}:{nodeID}", so trigger nodes within one
// workflow have independent lifecycles.
type Scheduler struct {
	engine       *engine.Engine
	types        *workflow.TypeRegistry
	enabled      *EnabledStore
	workflowsDir string
	logger       *slog.Logger

	mu       sync.Mutex
	triggers map[string]*triggerTask
	baseCtx  context.Context
	cancel   context.CancelFunc
}

type triggerTask struct {
	cancel context.CancelFunc
	done   chan struct{}
}

func NewScheduler(eng *engine.Engine, types *workflow.TypeRegistry, enabled *EnabledStore, workflowsDir string, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		engine:       eng,
		types:        types,
		enabled:      enabled,
		workflowsDir: workflowsDir,
		logger:       logger,
		triggers:     map[string]*triggerTask{},
	}
}

// Start registers triggers for every currently enabled workflow.
func (s *Scheduler) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	s.mu.Lock()
	s.baseCtx = ctx
	s.cancel = cancel
	s.mu.Unlock()

	for _, path := range s.enabled.Enabled() {
		wf, err := workflow.LoadFile(filepath.Join(s.workflowsDir, path))
		if err != nil {
			s.logger.WarnContext(ctx, "skipping unloadable workflow",
				slog.String("workflow", path), slog.String("error", err.Error()))
			continue
		}
		s.RegisterWorkflowTriggers(ctx, path, wf)
	}
	s.logger.InfoContext(ctx, "trigger scheduler started")
}

// Stop cancels every trigger and waits for their goroutines to finish
// cleanup.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	cancel := s.cancel
	tasks := make([]*triggerTask, 0, len(s.triggers))
	for id, task := range s.triggers {
		tasks = append(tasks, task)
		delete(s.triggers, id)
	}
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	for _, task := range tasks {
		<-task.done
	}
	s.logger.Info("trigger scheduler stopped")
}

// RegisterWorkflowTriggers starts a timer or listener for each trigger
// node of the workflow. Already-registered trigger ids are replaced.
func (s *Scheduler) RegisterWorkflowTriggers(ctx context.Context, workflowPath string, wf *workflow.Workflow) {
	lastExecution := s.engine.LastExecutionTime(workflowPath)

	for _, node := range wf.TriggerNodes(s.types) {
		nodeType, ok := s.types.Lookup(node.TypeID)
		if !ok || nodeType.Register == nil {
			continue
		}
		triggerID := workflowPath + ":" + node.ID
		reg := nodeType.Register(ctx, node, lastExecution)
		if reg.Err != "" {
			s.logger.WarnContext(ctx, "trigger registered with a problem",
				slog.String("trigger_id", triggerID), slog.String("error", reg.Err))
		}

		fire := s.makeCallback(workflowPath, node)

		switch reg.Type {
		case workflow.RegistrationTimed:
			s.launch(triggerID, func(taskCtx context.Context) {
				s.timedLoop(taskCtx, triggerID, node, nodeType, reg, fire)
			})
		case workflow.RegistrationPush:
			if reg.Listener == nil {
				s.logger.WarnContext(ctx, "push trigger without listener",
					slog.String("trigger_id", triggerID))
				continue
			}
			s.launch(triggerID, func(taskCtx context.Context) {
				s.superviseListener(taskCtx, triggerID, reg.Listener, fire)
			})
		default:
			s.logger.WarnContext(ctx, "trigger registration with unknown type",
				slog.String("trigger_id", triggerID), slog.String("type", string(reg.Type)))
		}
	}
}

// Unregister cancels exactly the triggers whose id starts with the
// workflow's path and waits for their goroutines to exit.
func (s *Scheduler) Unregister(workflowPath string) {
	prefix := workflowPath + ":"
	s.mu.Lock()
	var tasks []*triggerTask
	for id, task := range s.triggers {
		if strings.HasPrefix(id, prefix) {
			tasks = append(tasks, task)
			delete(s.triggers, id)
		}
	}
	s.mu.Unlock()

	for _, task := range tasks {
		task.cancel()
		<-task.done
	}
}

// launch starts a trigger goroutine, displacing any previous task with
// the same id.
func (s *Scheduler) launch(triggerID string, run func(context.Context)) {
	s.mu.Lock()
	base := s.baseCtx
	if base == nil {
		base = context.Background()
	}
	taskCtx, cancel := context.WithCancel(base)
	task := &triggerTask{cancel: cancel, done: make(chan struct{})}
	old := s.triggers[triggerID]
	s.triggers[triggerID] = task
	s.mu.Unlock()

	if old != nil {
		old.cancel()
		<-old.done
	}

	go func() {
		defer close(task.done)
		run(taskCtx)
	}()
}

// makeCallback builds the fire function: load the workflow fresh from
// disk, queue an execution with the trigger's namespaced output and
// wake the worker pool.
func (s *Scheduler) makeCallback(workflowPath string, node *workflow.Node) workflow.TriggerCallback {
	nodeName := node.DisplayName()
	nodeID := node.ID
	return func(ctx context.Context, payload workflow.Data) error {
		wf, err := workflow.LoadFile(filepath.Join(s.workflowsDir, workflowPath))
		if err != nil {
			return err
		}
		output := []workflow.Item{{nodeName: payload}}
		if _, err := s.engine.QueueWorkflow(ctx, workflowPath, wf, nodeID, output); err != nil {
			return err
		}
		s.engine.Wake()
		return nil
	}
}

// timedLoop waits for the registered fire time, fires, then
// re-registers with the fire time as the new last-execution baseline.
// Interval and cron recurrence share this one mechanism. The loop ends
// when re-registration stops returning a timed result.
func (s *Scheduler) timedLoop(ctx context.Context, triggerID string, node *workflow.Node, nodeType *workflow.NodeType, reg workflow.Registration, fire workflow.TriggerCallback) {
	triggerAt := reg.TriggerAt
	for {
		delay := time.Duration(triggerAt-time.Now().Unix()) * time.Second
		if delay > 0 {
			timer := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return
			case <-timer.C:
			}
		}
		if ctx.Err() != nil {
			return
		}

		fireTime := time.Now().Unix()
		payload := workflow.Data{"time": time.Now().Format(time.RFC3339)}
		if err := fire(ctx, payload); err != nil {
			s.logger.WarnContext(ctx, "trigger fire failed",
				slog.String("trigger_id", triggerID), slog.String("error", err.Error()))
		}

		next := nodeType.Register(ctx, node, fireTime)
		if next.Type != workflow.RegistrationTimed {
			s.logger.InfoContext(ctx, "timed trigger ended",
				slog.String("trigger_id", triggerID), slog.String("type", string(next.Type)))
			return
		}
		if next.Err != "" {
			s.logger.WarnContext(ctx, "trigger re-registration problem",
				slog.String("trigger_id", triggerID), slog.String("error", next.Err))
		}
		triggerAt = next.TriggerAt
	}
}

// superviseListener runs a push listener, restarting it with
// exponential backoff after crashes. After the restart budget is spent
// the trigger is abandoned; the rest of the system keeps running.
func (s *Scheduler) superviseListener(ctx context.Context, triggerID string, listener workflow.ListenerFunc, fire workflow.TriggerCallback) {
	backoff := initialBackoff
	s.logger.Info("push listener starting", slog.String("trigger_id", triggerID))

	for restarts := 0; restarts < maxListenerRestarts; restarts++ {
		if ctx.Err() != nil {
			return
		}
		run := panicerr.SafeContext(func(ctx context.Context) error {
			return listener(ctx, fire)
		})
		err := run(ctx)
		if err == nil {
			s.logger.Info("push listener exited normally", slog.String("trigger_id", triggerID))
			return
		}
		if ctx.Err() != nil {
			return
		}
		s.logger.Warn("push listener crashed",
			slog.String("trigger_id", triggerID),
			slog.Int("attempt", restarts+1),
			slog.Int("max", maxListenerRestarts),
			slog.String("error", err.Error()),
		)
		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
		backoff *= 2
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
	}

	s.logger.Error("push listener abandoned after repeated crashes",
		slog.String("trigger_id", triggerID), slog.Int("restarts", maxListenerRestarts))
}

package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/wirebird/wirebird/internal/dispatch"
	"github.com/wirebird/wirebird/internal/executor"
	"github.com/wirebird/wirebird/internal/workflow"
	"github.com/wirebird/wirebird/pkg/cerr"
)

// Engine owns the execution work directories and the worker pool.
type Engine struct {
	workDir       string
	queueDir      string
	inProgressDir string
	executionsDir string
	indexesDir    string
	statsDir      string

	queue    *dispatch.Queue
	executor *executor.Executor
	types    *workflow.TypeRegistry
	logger   *slog.Logger

	workers      int
	pollInterval time.Duration

	wake   chan struct{}
	cancel context.CancelFunc
	done   chan struct{}
}

// New builds the engine and creates the work directories under
// workDir: queue/, inprogress/, executions/, indexes/, stats/.
func New(workDir string, queue *dispatch.Queue, exec *executor.Executor, types *workflow.TypeRegistry, workers int, pollInterval time.Duration, logger *slog.Logger) (*Engine, error) {
	e := &Engine{
		workDir:       workDir,
		queueDir:      filepath.Join(workDir, "queue"),
		inProgressDir: filepath.Join(workDir, "inprogress"),
		executionsDir: filepath.Join(workDir, "executions"),
		indexesDir:    filepath.Join(workDir, "indexes"),
		statsDir:      filepath.Join(workDir, "stats"),
		queue:         queue,
		executor:      exec,
		types:         types,
		logger:        logger,
		workers:       workers,
		pollInterval:  pollInterval,
		wake:          make(chan struct{}, 1),
	}
	for _, dir := range []string{e.queueDir, e.inProgressDir, e.executionsDir, e.indexesDir, e.statsDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, cerr.New(cerr.Internal, "failed to create work directory "+dir, err)
		}
	}
	return e, nil
}

// slug turns a workflow path into a flat file-name-safe identifier.
func slug(workflowPath string) string {
	s := strings.ReplaceAll(workflowPath, "/", "-")
	return strings.TrimSuffix(s, ".json")
}

// QueueWorkflow writes a new execution item to the queue directory and
// returns its id. When a trigger already produced output, the
// execution map is pre-populated for that node so downstream nodes see
// it as executed.
func (e *Engine) QueueWorkflow(ctx context.Context, workflowPath string, wf *workflow.Workflow, triggerNodeID string, triggerOutput []workflow.Item) (string, error) {
	now := time.Now()
	id := fmt.Sprintf("%s-%s", now.Format("20060102-150405"), slug(workflowPath))

	execution := workflow.ExecutionState{}
	if triggerNodeID != "" && len(triggerOutput) > 0 {
		nodeOutput := make([]any, len(triggerOutput))
		for i, out := range triggerOutput {
			nodeOutput[i] = out
		}
		execution[triggerNodeID] = &workflow.NodeExecution{
			Input:      []workflow.Item{},
			NodeOutput: nodeOutput,
			Output:     triggerOutput,
			ExecutedAt: now.UTC().Format(time.RFC3339),
		}
	}

	item := &Item{
		ID:           id,
		WorkflowPath: workflowPath,
		Workflow:     wf,
		Execution:    execution,
		QueuedAt:     unixNow(),
		Status:       StatusQueued,
		Logs:         []dispatch.LogLine{},
		file:         filepath.Join(e.queueDir, id+".json"),
	}
	if err := e.writeItem(item); err != nil {
		return "", err
	}
	e.logger.InfoContext(ctx, "workflow queued",
		slog.String("execution_id", id), slog.String("workflow", workflowPath))
	return id, nil
}

// ClaimQueueItem atomically claims the oldest claimable queue item by
// renaming it into the in-progress directory, or returns nil when none
// is available. A failed rename means another worker won the race or
// the file vanished; both are expected and skipped.
func (e *Engine) ClaimQueueItem(ctx context.Context) *Item {
	names, err := e.listQueue()
	if err != nil {
		e.logger.WarnContext(ctx, "failed to list queue", slog.String("error", err.Error()))
		return nil
	}
	for _, name := range names {
		src := filepath.Join(e.queueDir, name)
		dst := filepath.Join(e.inProgressDir, name)
		if err := os.Rename(src, dst); err != nil {
			continue
		}
		item, err := e.readItem(dst)
		if err != nil {
			e.logger.WarnContext(ctx, "claimed unreadable queue item",
				slog.String("file", dst), slog.String("error", err.Error()))
			continue
		}
		started := unixNow()
		item.Status = StatusRunning
		item.StartedAt = &started
		if err := e.writeItem(item); err != nil {
			e.logger.WarnContext(ctx, "failed to persist claimed item",
				slog.String("file", dst), slog.String("error", err.Error()))
		}
		return item
	}
	return nil
}

// UpdateInProgress persists the item at its in-progress location.
func (e *Engine) UpdateInProgress(item *Item) error {
	return e.writeItem(item)
}

// ReleaseToQueue moves an in-progress item back to the queue,
// clearing started_at so it can be claimed again.
func (e *Engine) ReleaseToQueue(item *Item) error {
	item.Status = StatusQueued
	item.StartedAt = nil
	if err := e.writeItem(item); err != nil {
		return err
	}
	dst := filepath.Join(e.queueDir, filepath.Base(item.file))
	if err := os.Rename(item.file, dst); err != nil {
		// Already moved or deleted.
		return nil
	}
	item.file = dst
	return nil
}

// RecoverInProgress moves every orphaned in-progress item back to the
// queue with a fully reset execution. Run at startup: anything still
// in-progress means the process died mid-execution. Returns the number
// of items recovered.
func (e *Engine) RecoverInProgress(ctx context.Context) int {
	entries, err := os.ReadDir(e.inProgressDir)
	if err != nil {
		return 0
	}
	recovered := 0
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		src := filepath.Join(e.inProgressDir, entry.Name())
		item, err := e.readItem(src)
		if err != nil {
			e.logger.WarnContext(ctx, "failed to recover item",
				slog.String("file", src), slog.String("error", err.Error()))
			continue
		}
		item.Status = StatusQueued
		item.StartedAt = nil
		item.CurrentStep = 0
		item.Execution = workflow.ExecutionState{}
		item.Error = ""
		item.ErrorNodeID = ""
		item.ErrorDetails = ""
		item.ErrorAgent = ""
		item.file = filepath.Join(e.queueDir, entry.Name())
		if err := e.writeItem(item); err != nil {
			e.logger.WarnContext(ctx, "failed to requeue recovered item",
				slog.String("file", src), slog.String("error", err.Error()))
			continue
		}
		_ = os.Remove(src)
		recovered++
	}
	if recovered > 0 {
		e.logger.InfoContext(ctx, "recovered orphaned executions", slog.Int("count", recovered))
	}
	return recovered
}

// CompleteExecution archives a terminal item under a YYYY/MM/DD
// directory, appends it to the workflow's index and, for completed
// runs, updates the aggregate stats record.
func (e *Engine) CompleteExecution(ctx context.Context, item *Item) error {
	now := time.Now()
	dateDir := filepath.Join(e.executionsDir,
		fmt.Sprintf("%04d", now.Year()), fmt.Sprintf("%02d", now.Month()), fmt.Sprintf("%02d", now.Day()))
	if err := os.MkdirAll(dateDir, 0o755); err != nil {
		return cerr.New(cerr.Internal, "failed to create archive directory", err)
	}

	name := fmt.Sprintf("%s-%s.json", now.Format("20060102-150405"), slug(item.WorkflowPath))
	archive := filepath.Join(dateDir, name)
	if _, err := os.Stat(archive); err == nil {
		name = fmt.Sprintf("%s-%s.json", now.Format("20060102-150405.000000"), slug(item.WorkflowPath))
		archive = filepath.Join(dateDir, name)
	}

	rel, err := filepath.Rel(e.workDir, archive)
	if err != nil {
		rel = archive
	}
	item.ArchiveFile = rel

	inProgress := item.file
	item.file = archive
	if err := e.writeItem(item); err != nil {
		item.file = inProgress
		return err
	}
	_ = os.Remove(inProgress)

	var durationMS int64
	if item.StartedAt != nil && item.CompletedAt != nil {
		durationMS = int64((*item.CompletedAt - *item.StartedAt) * 1000)
	}
	if err := e.appendToIndex(item.WorkflowPath, IndexEntry{
		ID:           item.ID,
		File:         rel,
		WorkflowPath: item.WorkflowPath,
		Status:       item.Status,
		QueuedAt:     item.QueuedAt,
		StartedAt:    item.StartedAt,
		CompletedAt:  item.CompletedAt,
		DurationMS:   durationMS,
		Error:        item.Error,
	}); err != nil {
		e.logger.WarnContext(ctx, "failed to append index entry",
			slog.String("workflow", item.WorkflowPath), slog.String("error", err.Error()))
	}

	if item.Status == StatusCompleted {
		if err := e.updateStats(item.WorkflowPath, durationMS); err != nil {
			e.logger.WarnContext(ctx, "failed to update workflow stats",
				slog.String("workflow", item.WorkflowPath), slog.String("error", err.Error()))
		}
	}

	e.logger.InfoContext(ctx, "execution archived",
		slog.String("execution_id", item.ID),
		slog.String("status", string(item.Status)),
		slog.String("archive", rel),
	)
	return nil
}

// LastExecutionTime returns the completion time of the workflow's most
// recent completed execution, or 0 when none completed yet. Read from
// the index; the trigger scheduler uses it as the recurrence baseline.
func (e *Engine) LastExecutionTime(workflowPath string) int64 {
	data, err := os.ReadFile(e.indexPath(workflowPath))
	if err != nil {
		return 0
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		if lines[i] == "" {
			continue
		}
		var entry IndexEntry
		if err := json.Unmarshal([]byte(lines[i]), &entry); err != nil {
			continue
		}
		if entry.Status != StatusCompleted || entry.CompletedAt == nil {
			continue
		}
		return int64(*entry.CompletedAt)
	}
	return 0
}

func (e *Engine) listQueue() ([]string, error) {
	entries, err := os.ReadDir(e.queueDir)
	if err != nil {
		return nil, err
	}
	var names []string
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		names = append(names, entry.Name())
	}
	sort.Strings(names)
	return names, nil
}

func (e *Engine) readItem(path string) (*Item, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, cerr.New(cerr.Internal, "failed to read queue item "+path, err)
	}
	var item Item
	if err := json.Unmarshal(data, &item); err != nil {
		return nil, cerr.New(cerr.Internal, "failed to parse queue item "+path, err)
	}
	item.file = path
	return &item, nil
}

func (e *Engine) writeItem(item *Item) error {
	data, err := json.MarshalIndent(item, "", "  ")
	if err != nil {
		return cerr.New(cerr.Internal, "failed to marshal queue item "+item.ID, err)
	}
	if err := os.WriteFile(item.file, data, 0o644); err != nil {
		return cerr.New(cerr.Internal, "failed to write queue item "+item.file, err)
	}
	return nil
}

func (e *Engine) indexPath(workflowPath string) string {
	return filepath.Join(e.indexesDir, slug(workflowPath)+".jsonl")
}

func (e *Engine) appendToIndex(workflowPath string, entry IndexEntry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	f, err := os.OpenFile(e.indexPath(workflowPath), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = f.Write(append(data, '\n'))
	return err
}

func (e *Engine) updateStats(workflowPath string, durationMS int64) error {
	path := filepath.Join(e.statsDir, strings.TrimSuffix(workflowPath, ".json")+".stats.json")
	var stats Stats
	if data, err := os.ReadFile(path); err == nil {
		_ = json.Unmarshal(data, &stats)
	}
	stats.ExecutionCount++
	stats.TotalExecutionTimeMS += durationMS
	stats.LastExecution = time.Now().UTC().Format(time.RFC3339)

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := json.Marshal(&stats)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

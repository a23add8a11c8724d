package trigger

import (
	"context"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/wirebird/wirebird/internal/workflow"
)

// watchDebounce lets rapid edit events settle (editors often write a
// temp file and rename) before triggers are re-registered.
const watchDebounce = 500 * time.Millisecond

// Watch observes the workflows directory and re-registers triggers for
// an enabled workflow whose definition changed on disk. It blocks
// until ctx is canceled.
func (s *Scheduler) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	if err := watcher.Add(s.workflowsDir); err != nil {
		return err
	}
	s.logger.InfoContext(ctx, "watching workflows directory", slog.String("dir", s.workflowsDir))

	timers := map[string]*time.Timer{}
	defer func() {
		for _, t := range timers {
			t.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !strings.HasSuffix(event.Name, ".json") {
				continue
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename|fsnotify.Remove) == 0 {
				continue
			}
			rel, err := filepath.Rel(s.workflowsDir, event.Name)
			if err != nil {
				continue
			}
			if t, ok := timers[rel]; ok {
				t.Stop()
			}
			path := rel
			timers[rel] = time.AfterFunc(watchDebounce, func() {
				s.reloadWorkflow(ctx, path)
			})

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			s.logger.WarnContext(ctx, "workflow watcher error", slog.String("error", err.Error()))
		}
	}
}

// reloadWorkflow drops the workflow's current triggers and, when it is
// still enabled and loadable, registers the fresh definition.
func (s *Scheduler) reloadWorkflow(ctx context.Context, workflowPath string) {
	if ctx.Err() != nil {
		return
	}
	s.Unregister(workflowPath)
	if !s.enabled.IsEnabled(workflowPath) {
		return
	}
	wf, err := workflow.LoadFile(filepath.Join(s.workflowsDir, workflowPath))
	if err != nil {
		s.logger.WarnContext(ctx, "edited workflow no longer loadable",
			slog.String("workflow", workflowPath), slog.String("error", err.Error()))
		return
	}
	s.logger.InfoContext(ctx, "re-registering triggers for edited workflow",
		slog.String("workflow", workflowPath))
	s.RegisterWorkflowTriggers(ctx, workflowPath, wf)
}

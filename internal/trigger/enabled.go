// Package trigger turns each enabled workflow's source nodes into
// recurring timers or long-lived push listeners and feeds fired output
// into the engine.
package trigger

import (
	"context"
	"errors"
	"sort"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/wirebird/wirebird/pkg/cerr"
	"github.com/wirebird/wirebird/pkg/storage"
)

const enabledFile = "enabled.yaml"

// EnabledStore is the durable workflow path → enabled map. Like the
// other registry documents it is rewritten wholesale on every change;
// only one process may own it.
type EnabledStore struct {
	store storage.Storage

	mu      sync.Mutex
	enabled map[string]bool
}

func NewEnabledStore(ctx context.Context, store storage.Storage) (*EnabledStore, error) {
	s := &EnabledStore{store: store, enabled: map[string]bool{}}
	data, err := store.Read(ctx, enabledFile)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return s, nil
		}
		return nil, cerr.WrapStorageReadError(enabledFile, err)
	}
	if err := yaml.Unmarshal(data, &s.enabled); err != nil {
		return nil, cerr.New(cerr.Internal, "failed to parse "+enabledFile, err)
	}
	return s, nil
}

// Enabled returns the sorted paths of currently enabled workflows.
func (s *EnabledStore) Enabled() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var paths []string
	for path, on := range s.enabled {
		if on {
			paths = append(paths, path)
		}
	}
	sort.Strings(paths)
	return paths
}

// IsEnabled reports whether the workflow's triggers should be active.
func (s *EnabledStore) IsEnabled(workflowPath string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.enabled[workflowPath]
}

// SetEnabled flips a workflow's enabled flag and persists the map.
// Disabling removes the entry rather than storing false.
func (s *EnabledStore) SetEnabled(ctx context.Context, workflowPath string, enabled bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if enabled {
		s.enabled[workflowPath] = true
	} else {
		delete(s.enabled, workflowPath)
	}
	data, err := yaml.Marshal(s.enabled)
	if err != nil {
		return cerr.New(cerr.Internal, "failed to marshal "+enabledFile, err)
	}
	if err := s.store.Write(ctx, enabledFile, data); err != nil {
		return cerr.WrapStorageWriteError(enabledFile, err)
	}
	return nil
}

package concurrency

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/wirebird/wirebird/pkg/cerr"
	"github.com/wirebird/wirebird/pkg/storage"
)

const groupsDocument = "concurrency_groups.yaml"

// Group is a named capacity limit shared across tasks that opt into it.
type Group struct {
	Name  string `yaml:"name"`
	Limit int    `yaml:"limit"`
}

// GroupRegistry is the durable catalog of concurrency groups, persisted
// as one wholesale-rewritten document. Live counts are tracked
// separately by Tracker and reset on restart.
type GroupRegistry struct {
	store  storage.Storage
	mu     sync.RWMutex
	groups map[string]*Group
}

func NewGroupRegistry(ctx context.Context, store storage.Storage) (*GroupRegistry, error) {
	r := &GroupRegistry{
		store:  store,
		groups: make(map[string]*Group),
	}
	data, err := store.Read(ctx, groupsDocument)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return r, nil
		}
		return nil, cerr.WrapStorageReadError("concurrency group catalog", err)
	}
	var groups map[string]*Group
	if err := yaml.Unmarshal(data, &groups); err != nil {
		return nil, cerr.New(cerr.Internal, "server error", fmt.Errorf("failed to unmarshal concurrency groups: %w", err))
	}
	for name, g := range groups {
		g.Name = name
		r.groups[name] = g
	}
	return r, nil
}

func (r *GroupRegistry) save(ctx context.Context) error {
	data, err := yaml.Marshal(r.groups)
	if err != nil {
		return cerr.New(cerr.Internal, "server error", fmt.Errorf("failed to marshal concurrency groups: %w", err))
	}
	if err := r.store.Write(ctx, groupsDocument, data); err != nil {
		return cerr.WrapStorageWriteError("concurrency group catalog", err)
	}
	return nil
}

func (r *GroupRegistry) List() []*Group {
	r.mu.RLock()
	defer r.mu.RUnlock()
	groups := make([]*Group, 0, len(r.groups))
	for _, g := range r.groups {
		copied := *g
		groups = append(groups, &copied)
	}
	sort.Slice(groups, func(i, j int) bool { return groups[i].Name < groups[j].Name })
	return groups
}

func (r *GroupRegistry) Get(name string) (*Group, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	g, ok := r.groups[name]
	if !ok {
		return nil, false
	}
	copied := *g
	return &copied, true
}

func (r *GroupRegistry) Create(ctx context.Context, name string, limit int) (*Group, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.groups[name]; exists {
		return nil, cerr.New(cerr.AlreadyExists, fmt.Sprintf("concurrency group %q already exists", name), nil)
	}
	g := &Group{Name: name, Limit: limit}
	r.groups[name] = g
	if err := r.save(ctx); err != nil {
		delete(r.groups, name)
		return nil, err
	}
	copied := *g
	return &copied, nil
}

func (r *GroupRegistry) Update(ctx context.Context, name string, limit int) (*Group, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	g, ok := r.groups[name]
	if !ok {
		return nil, cerr.New(cerr.NotFound, fmt.Sprintf("concurrency group %q not found", name), nil)
	}
	prev := g.Limit
	g.Limit = limit
	if err := r.save(ctx); err != nil {
		g.Limit = prev
		return nil, err
	}
	copied := *g
	return &copied, nil
}

func (r *GroupRegistry) Delete(ctx context.Context, name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	g, ok := r.groups[name]
	if !ok {
		return cerr.New(cerr.NotFound, fmt.Sprintf("concurrency group %q not found", name), nil)
	}
	delete(r.groups, name)
	if err := r.save(ctx); err != nil {
		r.groups[name] = g
		return err
	}
	return nil
}

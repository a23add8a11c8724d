package agent

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/wirebird/wirebird/pkg/cerr"
	"github.com/wirebird/wirebird/pkg/storage"
)

const tagsDocument = "tags.yaml"

// TagCatalog is the flat list of capability labels offered to admin
// tooling when assigning agent tags or node requirements.
type TagCatalog struct {
	store storage.Storage
	mu    sync.Mutex
}

func NewTagCatalog(store storage.Storage) *TagCatalog {
	return &TagCatalog{store: store}
}

func (c *TagCatalog) List(ctx context.Context) ([]string, error) {
	data, err := c.store.Read(ctx, tagsDocument)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, nil
		}
		return nil, cerr.WrapStorageReadError("tag catalog", err)
	}
	var tags []string
	if err := yaml.Unmarshal(data, &tags); err != nil {
		return nil, cerr.New(cerr.Internal, "server error", fmt.Errorf("failed to unmarshal tag catalog: %w", err))
	}
	return tags, nil
}

func (c *TagCatalog) save(ctx context.Context, tags []string) error {
	data, err := yaml.Marshal(tags)
	if err != nil {
		return cerr.New(cerr.Internal, "server error", fmt.Errorf("failed to marshal tag catalog: %w", err))
	}
	if err := c.store.Write(ctx, tagsDocument, data); err != nil {
		return cerr.WrapStorageWriteError("tag catalog", err)
	}
	return nil
}

// Create adds the tag. It is a no-op returning false when the tag
// already exists.
func (c *TagCatalog) Create(ctx context.Context, name string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	tags, err := c.List(ctx)
	if err != nil {
		return false, err
	}
	for _, t := range tags {
		if t == name {
			return false, nil
		}
	}
	if err := c.save(ctx, append(tags, name)); err != nil {
		return false, err
	}
	return true, nil
}

// Delete removes the tag, returning false when it was absent.
func (c *TagCatalog) Delete(ctx context.Context, name string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	tags, err := c.List(ctx)
	if err != nil {
		return false, err
	}
	kept := tags[:0]
	found := false
	for _, t := range tags {
		if t == name {
			found = true
			continue
		}
		kept = append(kept, t)
	}
	if !found {
		return false, nil
	}
	if err := c.save(ctx, kept); err != nil {
		return false, err
	}
	return true, nil
}

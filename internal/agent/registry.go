package agent

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"sort"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/wirebird/wirebird/pkg/cerr"
	"github.com/wirebird/wirebird/pkg/storage"
)

const agentsDocument = "agents.yaml"

// Registry is the durable catalog of known agents. The whole catalog is
// one document, loaded once at construction and rewritten on every
// mutation. A single coordinator process is assumed; multi-process
// coordinators are unsupported.
type Registry struct {
	store  storage.Storage
	mu     sync.RWMutex
	agents map[string]*Agent
}

func NewRegistry(ctx context.Context, store storage.Storage) (*Registry, error) {
	r := &Registry{
		store:  store,
		agents: make(map[string]*Agent),
	}
	data, err := store.Read(ctx, agentsDocument)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return r, nil
		}
		return nil, cerr.WrapStorageReadError("agent catalog", err)
	}
	var agents map[string]*Agent
	if err := yaml.Unmarshal(data, &agents); err != nil {
		return nil, cerr.New(cerr.Internal, "server error", fmt.Errorf("failed to unmarshal agent catalog: %w", err))
	}
	for name, a := range agents {
		a.Name = name
		r.agents[name] = a
	}
	return r, nil
}

// save persists the catalog. Callers must hold r.mu.
func (r *Registry) save(ctx context.Context) error {
	data, err := yaml.Marshal(r.agents)
	if err != nil {
		return cerr.New(cerr.Internal, "server error", fmt.Errorf("failed to marshal agent catalog: %w", err))
	}
	if err := r.store.Write(ctx, agentsDocument, data); err != nil {
		return cerr.WrapStorageWriteError("agent catalog", err)
	}
	return nil
}

func (r *Registry) List() []*Agent {
	r.mu.RLock()
	defer r.mu.RUnlock()
	agents := make([]*Agent, 0, len(r.agents))
	for _, a := range r.agents {
		agents = append(agents, a.clone())
	}
	sort.Slice(agents, func(i, j int) bool { return agents[i].Name < agents[j].Name })
	return agents
}

func (r *Registry) Get(name string) (*Agent, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.agents[name]
	if !ok {
		return nil, false
	}
	return a.clone(), true
}

// Create registers a new agent and returns it together with the
// generated plaintext secret. The plaintext is never stored and never
// retrievable again.
func (r *Registry) Create(ctx context.Context, name string) (*Agent, string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.agents[name]; exists {
		return nil, "", cerr.New(cerr.AlreadyExists, fmt.Sprintf("agent %q already exists", name), nil)
	}

	secret, err := generateSecret()
	if err != nil {
		return nil, "", cerr.New(cerr.Internal, "server error", fmt.Errorf("failed to generate agent secret: %w", err))
	}

	a := &Agent{
		Name:       name,
		Enabled:    true,
		Status:     StatusOffline,
		SecretHash: hashSecret(secret),
	}
	r.agents[name] = a
	if err := r.save(ctx); err != nil {
		delete(r.agents, name)
		return nil, "", err
	}
	return a.clone(), secret, nil
}

// Apply mutates only the fields present in the update; everything else,
// including the secret hash, is untouched.
func (r *Registry) Update(ctx context.Context, name string, update Update) (*Agent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	a, ok := r.agents[name]
	if !ok {
		return nil, cerr.New(cerr.NotFound, fmt.Sprintf("agent %q not found", name), nil)
	}

	if update.Enabled != nil {
		a.Enabled = *update.Enabled
	}
	if update.Priority != nil {
		a.Priority = *update.Priority
	}
	if update.Tags != nil {
		a.Tags = append([]string(nil), (*update.Tags)...)
	}
	if update.Status != nil {
		a.Status = *update.Status
	}
	if update.LastSeen != nil {
		ts := *update.LastSeen
		a.LastSeen = &ts
	}
	if update.IPAddress != nil {
		a.IPAddress = *update.IPAddress
	}
	if update.Version != nil {
		a.Version = *update.Version
	}
	if update.TotalTasks != nil {
		a.TotalTasks = *update.TotalTasks
	}
	if update.CurrentTask != nil {
		a.CurrentTask = *update.CurrentTask
	}
	if update.Credentials != nil {
		a.Credentials = append([]string(nil), (*update.Credentials)...)
	}

	if err := r.save(ctx); err != nil {
		return nil, err
	}
	return a.clone(), nil
}

func (r *Registry) Delete(ctx context.Context, name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	a, ok := r.agents[name]
	if !ok {
		return cerr.New(cerr.NotFound, fmt.Sprintf("agent %q not found", name), nil)
	}
	delete(r.agents, name)
	if err := r.save(ctx); err != nil {
		r.agents[name] = a
		return err
	}
	return nil
}

// VerifySecret reports whether secret is the agent's secret. Unknown
// agents always fail. The comparison is constant-time over the hashes.
func (r *Registry) VerifySecret(name, secret string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	a, ok := r.agents[name]
	if !ok {
		return false
	}
	supplied := hashSecret(secret)
	return subtle.ConstantTimeCompare([]byte(a.SecretHash), []byte(supplied)) == 1
}

func generateSecret() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

func hashSecret(secret string) string {
	sum := sha256.Sum256([]byte(secret))
	return hex.EncodeToString(sum[:])
}

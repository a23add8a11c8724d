package workflow

import (
	"context"
	"sort"
	"sync"
)

// Kind describes the shape of a node's Execute result.
type Kind string

const (
	// KindMap executes once per input item, with node data evaluated
	// against that item, and returns a single Data map per call.
	KindMap Kind = "map"
	// KindArray executes once with the whole input batch and returns
	// the new item list.
	KindArray Kind = "array"
)

// ExecuteFunc runs a node against its prepared input items. The node's
// Data has already been evaluated by the expression evaluator; for
// KindMap types the executor calls Execute once per item and the
// result must be a Data map, for KindArray it calls once with the
// whole batch and the result is the new item list. credential carries
// resolved secret material for types that declare RequiresCredential,
// nil otherwise.
type ExecuteFunc func(ctx context.Context, node *Node, input []Item, credential map[string]any) (any, error)

// TriggerCallback starts a workflow execution on behalf of a trigger
// node. The payload becomes the trigger node's pre-populated output.
type TriggerCallback func(ctx context.Context, payload Data) error

// ListenerFunc blocks watching an external source and invokes fire for
// each event. It returns when ctx is canceled or the source fails.
type ListenerFunc func(ctx context.Context, fire TriggerCallback) error

// RegistrationType distinguishes scheduled from push triggers.
type RegistrationType string

const (
	RegistrationTimed RegistrationType = "timed"
	RegistrationPush  RegistrationType = "push"
)

// Registration is a trigger node's answer to Register: either a timed
// schedule (TriggerAt plus Interval or Cron) or a push listener.
type Registration struct {
	Type RegistrationType

	// Timed fields.
	TriggerAt int64 // unix seconds of the next fire
	Interval  int64 // seconds between fires
	Cron      string
	Err       string // non-fatal registration problem, logged by the scheduler

	// Push field.
	Listener ListenerFunc
}

// RegisterFunc computes a trigger node's registration. lastExecution
// is the unix time of the workflow's most recent completed execution,
// or zero when it has never run.
type RegisterFunc func(ctx context.Context, node *Node, lastExecution int64) Registration

// NodeType describes a node implementation.
type NodeType struct {
	ID      string
	Kind    Kind
	Execute ExecuteFunc
	// Register, when set, makes source nodes of this type triggers.
	Register RegisterFunc
	// RequiresCredential marks types whose Data["credentials"] entry
	// must resolve before execution.
	RequiresCredential bool
}

// TypeRegistry holds the known node types.
type TypeRegistry struct {
	mu    sync.RWMutex
	types map[string]*NodeType
}

func NewTypeRegistry() *TypeRegistry {
	return &TypeRegistry{types: map[string]*NodeType{}}
}

// Register adds or replaces a node type.
func (r *TypeRegistry) Register(nt *NodeType) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.types[nt.ID] = nt
}

// Lookup returns the type for an id.
func (r *TypeRegistry) Lookup(id string) (*NodeType, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	nt, ok := r.types[id]
	return nt, ok
}

// IDs returns the registered type ids, sorted.
func (r *TypeRegistry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.types))
	for id := range r.types {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

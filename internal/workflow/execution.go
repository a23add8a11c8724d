package workflow

// NodeExecution records one node's inputs and outputs within an
// execution. Output is the namespaced merge handed to downstream nodes;
// NodeOutput is what the node itself returned.
type NodeExecution struct {
	Input        []Item `json:"input"`
	NodeOutput   []any  `json:"nodeOutput"`
	Output       []Item `json:"output"`
	ExecutedAt   string `json:"executedAt"`
	Pinned       bool   `json:"pinned,omitempty"`
	Error        string `json:"error,omitempty"`
	ErrorDetails string `json:"errorDetails,omitempty"`
}

// ExecutionState maps node id to that node's execution record. A node
// is considered executed once its id is present.
type ExecutionState map[string]*NodeExecution

// Clone returns a shallow per-node copy, enough to mutate the map
// without aliasing the original.
func (e ExecutionState) Clone() ExecutionState {
	copied := make(ExecutionState, len(e))
	for id, ne := range e {
		copied[id] = ne
	}
	return copied
}

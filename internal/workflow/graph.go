package workflow

// NodeByID returns the node with the given id, or nil.
func (w *Workflow) NodeByID(id string) *Node {
	for _, n := range w.Nodes {
		if n.ID == id {
			return n
		}
	}
	return nil
}

// Dependencies builds the map from node id to its upstream node ids,
// derived from incoming connections.
func (w *Workflow) Dependencies() map[string][]string {
	deps := make(map[string][]string, len(w.Nodes))
	for _, n := range w.Nodes {
		deps[n.ID] = nil
	}
	for _, c := range w.Connections {
		if c.SourceNodeID == "" || c.TargetNodeID == "" {
			continue
		}
		if _, ok := deps[c.TargetNodeID]; ok {
			deps[c.TargetNodeID] = append(deps[c.TargetNodeID], c.SourceNodeID)
		}
	}
	return deps
}

// HasIncoming reports whether any connection targets the node.
func (w *Workflow) HasIncoming(nodeID string) bool {
	for _, c := range w.Connections {
		if c.TargetNodeID == nodeID {
			return true
		}
	}
	return false
}

// UpstreamSubgraph returns the ids of the target node and all its
// transitive dependencies, for single-node runs that only need the
// path leading to the target.
func (w *Workflow) UpstreamSubgraph(targetNodeID string) map[string]bool {
	upstream := make(map[string][]string)
	for _, c := range w.Connections {
		if c.SourceNodeID == "" || c.TargetNodeID == "" {
			continue
		}
		upstream[c.TargetNodeID] = append(upstream[c.TargetNodeID], c.SourceNodeID)
	}

	result := map[string]bool{targetNodeID: true}
	stack := []string{targetNodeID}
	for len(stack) > 0 {
		id := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		for _, up := range upstream[id] {
			if !result[up] {
				result[up] = true
				stack = append(stack, up)
			}
		}
	}
	return result
}

// FindReadyNode returns the first node in declaration order that has
// not executed and whose upstream nodes all have. targetNodeID, when
// non-empty, restricts the search to the subgraph leading to that node.
// Returns "" when no node is ready.
func (w *Workflow) FindReadyNode(execution ExecutionState, targetNodeID string) string {
	var allowed map[string]bool
	if targetNodeID != "" {
		allowed = w.UpstreamSubgraph(targetNodeID)
	}

	deps := w.Dependencies()
	for _, n := range w.Nodes {
		if _, executed := execution[n.ID]; executed {
			continue
		}
		if allowed != nil && !allowed[n.ID] {
			continue
		}
		ready := true
		for _, up := range deps[n.ID] {
			if _, executed := execution[up]; !executed {
				ready = false
				break
			}
		}
		if ready {
			return n.ID
		}
	}
	return ""
}

// IsComplete reports whether every declared node has executed.
func (w *Workflow) IsComplete(execution ExecutionState) bool {
	for _, n := range w.Nodes {
		if _, ok := execution[n.ID]; !ok {
			return false
		}
	}
	return true
}

// IsTriggerNode reports whether the node can autonomously start an
// execution: it has no incoming connection and its type registers a
// trigger. Source nodes without a Register func are ordinary nodes.
func (w *Workflow) IsTriggerNode(nodeID string, types *TypeRegistry) bool {
	if w.HasIncoming(nodeID) {
		return false
	}
	n := w.NodeByID(nodeID)
	if n == nil {
		return false
	}
	nt, ok := types.Lookup(n.TypeID)
	return ok && nt.Register != nil
}

// TriggerNodes returns the nodes with no incoming connections whose
// type registers a trigger.
func (w *Workflow) TriggerNodes(types *TypeRegistry) []*Node {
	var triggers []*Node
	for _, n := range w.Nodes {
		if w.IsTriggerNode(n.ID, types) {
			triggers = append(triggers, n)
		}
	}
	return triggers
}

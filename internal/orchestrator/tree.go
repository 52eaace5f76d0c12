package orchestrator

import "sync"

// ExecutionTree tracks live parent/child relationships between agents.
// It mirrors the durable store's parent links for the in-memory spawn
// path, so cascades and fan-out checks do not need a database round trip.
type ExecutionTree struct {
	// mu protects both maps
	mu sync.RWMutex

	// children maps a parent ID to its live child IDs in spawn order
	children map[string][]string
	// parent maps a child ID to its parent ID
	parent map[string]string
}

// NewExecutionTree creates an empty ExecutionTree.
func NewExecutionTree() *ExecutionTree {
	return &ExecutionTree{
		children: make(map[string][]string),
		parent:   make(map[string]string),
	}
}

// Add records a task under its parent. Root tasks pass an empty parentID.
func (t *ExecutionTree) Add(id, parentID string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if parentID != "" {
		t.children[parentID] = append(t.children[parentID], id)
		t.parent[id] = parentID
	}
}

// Remove detaches a task from the tree. Its own children stay linked to
// it until each is removed in turn.
func (t *ExecutionTree) Remove(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	parentID, ok := t.parent[id]
	if !ok {
		return
	}
	delete(t.parent, id)

	siblings := t.children[parentID]
	for i, sibling := range siblings {
		if sibling == id {
			t.children[parentID] = append(siblings[:i], siblings[i+1:]...)
			break
		}
	}
	if len(t.children[parentID]) == 0 {
		delete(t.children, parentID)
	}
}

// Children returns the live child IDs of a parent, in spawn order.
func (t *ExecutionTree) Children(parentID string) []string {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make([]string, len(t.children[parentID]))
	copy(out, t.children[parentID])
	return out
}

// Parent returns the parent ID of a task, or empty for a root.
func (t *ExecutionTree) Parent(id string) string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.parent[id]
}

// Descendants returns all live descendants of a task, parents before
// children.
func (t *ExecutionTree) Descendants(id string) []string {
	t.mu.RLock()
	defer t.mu.RUnlock()

	var out []string
	queue := append([]string(nil), t.children[id]...)
	for len(queue) > 0 {
		next := queue[0]
		queue = queue[1:]
		out = append(out, next)
		queue = append(queue, t.children[next]...)
	}
	return out
}

package orchestrator

import (
	"sync"

	"github.com/ShayCichocki/warden/pkg/models"
)

// DeadlockDetector maintains the wait-for graph between agents and
// rejects any edge insertion that would close a cycle. Multi-edge
// insertions are all-or-nothing: if any edge would deadlock, none are
// added.
type DeadlockDetector struct {
	// mu protects the adjacency maps
	mu sync.RWMutex

	// out maps an agent to the set of agents it waits on
	out map[string]map[string]bool
	// in maps an agent to the set of agents waiting on it
	in map[string]map[string]bool
}

// NewDeadlockDetector creates an empty DeadlockDetector.
func NewDeadlockDetector() *DeadlockDetector {
	return &DeadlockDetector{
		out: make(map[string]map[string]bool),
		in:  make(map[string]map[string]bool),
	}
}

// AddWaitEdges inserts wait-for edges from one agent to each target.
// If any edge would create a cycle, no edges are inserted and a
// DEADLOCK_DETECTED error carrying the cycle path is returned.
func (d *DeadlockDetector) AddWaitEdges(from string, targets []string) error {
	if len(targets) == 0 {
		return nil
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	var added []string
	for _, to := range targets {
		if to == from {
			d.rollbackLocked(from, added)
			return models.NewDeadlockDetected([]string{from, from})
		}
		if cycle := d.findPathLocked(to, from); cycle != nil {
			d.rollbackLocked(from, added)
			return models.NewDeadlockDetected(append(cycle, to))
		}
		d.addEdgeLocked(from, to)
		added = append(added, to)
	}
	return nil
}

// RemoveEdge removes a single wait-for edge, if present.
func (d *DeadlockDetector) RemoveEdge(from, to string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.removeEdgeLocked(from, to)
}

// RemoveAgent removes an agent and all edges touching it, in both
// directions. Called when a task reaches a terminal state.
func (d *DeadlockDetector) RemoveAgent(id string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	for to := range d.out[id] {
		delete(d.in[to], id)
		if len(d.in[to]) == 0 {
			delete(d.in, to)
		}
	}
	delete(d.out, id)

	for from := range d.in[id] {
		delete(d.out[from], id)
		if len(d.out[from]) == 0 {
			delete(d.out, from)
		}
	}
	delete(d.in, id)
}

// Snapshot returns a copy of the current wait-for graph.
func (d *DeadlockDetector) Snapshot() map[string][]string {
	d.mu.RLock()
	defer d.mu.RUnlock()

	snap := make(map[string][]string, len(d.out))
	for from, tos := range d.out {
		edges := make([]string, 0, len(tos))
		for to := range tos {
			edges = append(edges, to)
		}
		snap[from] = edges
	}
	return snap
}

// findPathLocked searches for a path from start to goal along existing
// wait edges. It returns the path [start ... goal] if one exists, nil
// otherwise. Caller must hold mu.
func (d *DeadlockDetector) findPathLocked(start, goal string) []string {
	if start == goal {
		return []string{start}
	}
	visited := map[string]bool{start: true}
	var dfs func(node string, path []string) []string
	dfs = func(node string, path []string) []string {
		for next := range d.out[node] {
			if next == goal {
				return append(path, next)
			}
			if visited[next] {
				continue
			}
			visited[next] = true
			if found := dfs(next, append(path, next)); found != nil {
				return found
			}
		}
		return nil
	}
	return dfs(start, []string{start})
}

// addEdgeLocked inserts an edge. Caller must hold mu.
func (d *DeadlockDetector) addEdgeLocked(from, to string) {
	if d.out[from] == nil {
		d.out[from] = make(map[string]bool)
	}
	d.out[from][to] = true
	if d.in[to] == nil {
		d.in[to] = make(map[string]bool)
	}
	d.in[to][from] = true
}

// removeEdgeLocked removes an edge. Caller must hold mu.
func (d *DeadlockDetector) removeEdgeLocked(from, to string) {
	delete(d.out[from], to)
	if len(d.out[from]) == 0 {
		delete(d.out, from)
	}
	delete(d.in[to], from)
	if len(d.in[to]) == 0 {
		delete(d.in, to)
	}
}

// rollbackLocked removes edges added earlier in a failed batch. Caller
// must hold mu.
func (d *DeadlockDetector) rollbackLocked(from string, added []string) {
	for _, to := range added {
		d.removeEdgeLocked(from, to)
	}
}

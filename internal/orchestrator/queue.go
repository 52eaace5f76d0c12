package orchestrator

import (
	"container/heap"
	"sync"
)

// PriorityScheduler holds spawn requests that could not be admitted
// immediately and releases them highest-priority-first when capacity
// frees up. Requests at the same priority are released in FIFO order.
type PriorityScheduler struct {
	// mu protects the heap and counters
	mu sync.Mutex

	heap    ticketHeap
	tickets map[string]*Ticket
	nextSeq uint64
}

// Ticket represents one queued spawn request.
type Ticket struct {
	// TaskID is the pending task the ticket belongs to.
	TaskID string
	// Priority orders admission; higher runs first.
	Priority int

	seq   uint64
	index int

	// admit is closed when the scheduler releases the ticket
	admit chan struct{}
}

// Admitted returns a channel that is closed when the ticket is released.
func (t *Ticket) Admitted() <-chan struct{} {
	return t.admit
}

// NewPriorityScheduler creates an empty PriorityScheduler.
func NewPriorityScheduler() *PriorityScheduler {
	return &PriorityScheduler{
		tickets: make(map[string]*Ticket),
	}
}

// Enqueue adds a spawn request to the queue and returns its ticket.
func (s *PriorityScheduler) Enqueue(taskID string, priority int) *Ticket {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextSeq++
	t := &Ticket{
		TaskID:   taskID,
		Priority: priority,
		seq:      s.nextSeq,
		admit:    make(chan struct{}),
	}
	heap.Push(&s.heap, t)
	s.tickets[taskID] = t
	return t
}

// AdmitNext releases the highest-priority ticket. It returns the
// released ticket, or nil if the queue is empty.
func (s *PriorityScheduler) AdmitNext() *Ticket {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.heap.Len() == 0 {
		return nil
	}
	t := heap.Pop(&s.heap).(*Ticket)
	delete(s.tickets, t.TaskID)
	close(t.admit)
	return t
}

// BumpPriority changes a queued ticket's priority in place. It reports
// whether the ticket was still queued.
func (s *PriorityScheduler) BumpPriority(taskID string, priority int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tickets[taskID]
	if !ok {
		return false
	}
	t.Priority = priority
	heap.Fix(&s.heap, t.index)
	return true
}

// Remove withdraws a queued ticket without admitting it. It reports
// whether the ticket was still queued.
func (s *PriorityScheduler) Remove(taskID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tickets[taskID]
	if !ok {
		return false
	}
	heap.Remove(&s.heap, t.index)
	delete(s.tickets, taskID)
	return true
}

// Len returns the number of queued tickets.
func (s *PriorityScheduler) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.heap.Len()
}

// ticketHeap orders tickets by priority descending, then seq ascending.
type ticketHeap []*Ticket

func (h ticketHeap) Len() int { return len(h) }

func (h ticketHeap) Less(i, j int) bool {
	if h[i].Priority != h[j].Priority {
		return h[i].Priority > h[j].Priority
	}
	return h[i].seq < h[j].seq
}

func (h ticketHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *ticketHeap) Push(x any) {
	t := x.(*Ticket)
	t.index = len(*h)
	*h = append(*h, t)
}

func (h *ticketHeap) Pop() any {
	old := *h
	n := len(old)
	t := old[n-1]
	old[n-1] = nil
	t.index = -1
	*h = old[:n-1]
	return t
}

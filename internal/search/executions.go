package search

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Execution is the state of one asynchronous search.
type Execution struct {
	Status      string          `json:"status"`
	ExecutionID string          `json:"execution_id"`
	Result      json.RawMessage `json:"result"`
	Error       *string         `json:"error"`

	finishedAt time.Time
}

// Executions tracks asynchronous searches. Finished executions are
// forgotten after ttl.
type Executions struct {
	items map[string]*Execution
	ttl   time.Duration
	now   func() time.Time
	mu    sync.Mutex
}

// NewExecutions creates an empty store.
func NewExecutions(ttl time.Duration) *Executions {
	return &Executions{items: make(map[string]*Execution), ttl: ttl, now: time.Now}
}

// Start records a new in-progress execution and returns its id.
func (e *Executions) Start() string {
	id := uuid.New().String()
	e.mu.Lock()
	e.items[id] = &Execution{Status: StatusInProgress, ExecutionID: id}
	e.mu.Unlock()
	return id
}

// Finish stores the outcome of an execution.
func (e *Executions) Finish(id string, result json.RawMessage, err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	ex, ok := e.items[id]
	if !ok {
		return
	}
	ex.finishedAt = e.now()
	if err != nil {
		msg := err.Error()
		ex.Status, ex.Error = StatusError, &msg
		return
	}
	ex.Status, ex.Result = StatusSuccess, result
}

// Get returns a copy of an execution.
func (e *Executions) Get(id string) (Execution, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	ex, ok := e.items[id]
	if !ok {
		return Execution{}, false
	}
	return *ex, true
}

// Len reports how many executions are tracked.
func (e *Executions) Len() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.items)
}

// Sweep drops finished executions older than the ttl and returns how
// many were removed.
func (e *Executions) Sweep() int {
	if e.ttl <= 0 {
		return 0
	}
	cutoff := e.now().Add(-e.ttl)
	e.mu.Lock()
	defer e.mu.Unlock()
	n := 0
	for id, ex := range e.items {
		if !ex.finishedAt.IsZero() && ex.finishedAt.Before(cutoff) {
			delete(e.items, id)
			n++
		}
	}
	return n
}

// RunSweeper sweeps every interval until ctx is done.
func (e *Executions) RunSweeper(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.Sweep()
		}
	}
}

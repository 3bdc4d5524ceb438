package api

import "sync"

const defaultRegistryLimit = 256

// registry remembers submitted operations so they can be polled and streamed.
// Beyond limit, the oldest settled operations are forgotten first.
type registry struct {
	mu    sync.Mutex
	limit int
	ops   map[string]Operation
	order []string
}

func newRegistry(limit int) *registry {
	return &registry{limit: limit, ops: make(map[string]Operation)}
}

func (r *registry) add(op Operation) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ops[op.ID()] = op
	r.order = append(r.order, op.ID())
	for len(r.order) > r.limit {
		if !r.evictOldestSettled() {
			return
		}
	}
}

func (r *registry) evictOldestSettled() bool {
	for i, id := range r.order {
		select {
		case <-r.ops[id].Done():
		default:
			continue
		}
		delete(r.ops, id)
		r.order = append(r.order[:i], r.order[i+1:]...)
		return true
	}
	return false
}

func (r *registry) get(id string) (Operation, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	op, ok := r.ops[id]
	return op, ok
}

func (r *registry) len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.ops)
}

package bridge

import "sync"

// feed is the append-only update log of one operation. Readers follow it at
// their own pace; publishing never blocks on them.
type feed struct {
	mu      sync.Mutex
	updates []Update
	changed chan struct{}
}

func newFeed() *feed {
	return &feed{changed: make(chan struct{})}
}

func (f *feed) push(u Update) {
	f.mu.Lock()
	f.updates = append(f.updates, u)
	close(f.changed)
	f.changed = make(chan struct{})
	f.mu.Unlock()
}

// since returns the updates published from index next on, and a channel that
// is closed when more arrive.
func (f *feed) since(next int) ([]Update, <-chan struct{}) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if next >= len(f.updates) {
		return nil, f.changed
	}
	return f.updates[next:len(f.updates):len(f.updates)], f.changed
}

func (f *feed) last() (Update, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.updates) == 0 {
		return Update{}, false
	}
	return f.updates[len(f.updates)-1], true
}

package docstore

import "sync"

// Feed fans change notices out to listeners of a collection.
// The zero value is ready to use.
type Feed struct {
	mu     sync.Mutex
	next   uint64
	subs   map[string]map[uint64]chan struct{}
	closed bool
}

// Listen registers a listener. After Close the channel is returned closed.
func (f *Feed) Listen(collection string) (<-chan struct{}, func()) {
	ch := make(chan struct{}, 1)

	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		close(ch)
		return ch, func() {}
	}
	if f.subs == nil {
		f.subs = make(map[string]map[uint64]chan struct{})
	}
	if f.subs[collection] == nil {
		f.subs[collection] = make(map[uint64]chan struct{})
	}
	id := f.next
	f.next++
	f.subs[collection][id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			f.mu.Lock()
			defer f.mu.Unlock()
			if set, ok := f.subs[collection]; ok {
				if c, ok := set[id]; ok {
					delete(set, id)
					close(c)
				}
				if len(set) == 0 {
					delete(f.subs, collection)
				}
			}
		})
	}
}

// Notify wakes every listener of collection. Pending notices coalesce.
func (f *Feed) Notify(collection string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, ch := range f.subs[collection] {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

// Listeners returns the number of registered listeners across collections.
func (f *Feed) Listeners() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, set := range f.subs {
		n += len(set)
	}
	return n
}

// Close closes every listener channel.
func (f *Feed) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return
	}
	f.closed = true
	for _, set := range f.subs {
		for _, ch := range set {
			close(ch)
		}
	}
	f.subs = nil
}

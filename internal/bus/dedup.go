package bus

import "sync"

// dedupWindow remembers the last N event ids so a reused id can be told apart
// from a new publication. The window is bounded; ids older than the window
// are forgotten, which is acceptable for at-least-once delivery.
type dedupWindow struct {
	mtx  sync.Mutex
	ids  map[string]struct{}
	ring []string
	next int
}

func newDedupWindow(size int) *dedupWindow {
	return &dedupWindow{
		ids:  make(map[string]struct{}, size),
		ring: make([]string, size),
	}
}

// seen records the id and reports whether it was already in the window.
func (d *dedupWindow) seen(id string) bool {
	d.mtx.Lock()
	defer d.mtx.Unlock()
	if _, ok := d.ids[id]; ok {
		return true
	}
	if evicted := d.ring[d.next]; evicted != "" {
		delete(d.ids, evicted)
	}
	d.ring[d.next] = id
	d.ids[id] = struct{}{}
	d.next = (d.next + 1) % len(d.ring)
	return false
}

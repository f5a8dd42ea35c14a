package crawl

import "sync"

// visitedSet records every normalized URL admitted in one run with the
// depth it was first discovered at.
type visitedSet struct {
	mu   sync.Mutex
	urls map[string]int
}

func newVisitedSet() *visitedSet {
	return &visitedSet{urls: make(map[string]int)}
}

// Add inserts url and reports whether it was new.
func (v *visitedSet) Add(url string, depth int) bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	if _, ok := v.urls[url]; ok {
		return false
	}
	v.urls[url] = depth
	return true
}

func (v *visitedSet) Has(url string) bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	_, ok := v.urls[url]
	return ok
}

func (v *visitedSet) Len() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return len(v.urls)
}

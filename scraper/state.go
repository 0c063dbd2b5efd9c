package scraper

import "sync"

// RunState is the run-wide visited set and emitted-record counter shared by
// every category traversal. A URL is dispatched at most once per run.
type RunState struct {
	mu          sync.Mutex
	visited     map[string]struct{}
	count       int
	limit       int
	stopOnLimit bool
}

// NewRunState creates state for one run. A limit of 0 means unbounded; the
// limit only stops traversal when stopOnLimit is set.
func NewRunState(limit int, stopOnLimit bool) *RunState {
	return &RunState{
		visited:     make(map[string]struct{}),
		limit:       limit,
		stopOnLimit: stopOnLimit,
	}
}

// MarkVisited records url and reports whether it was new.
func (s *RunState) MarkVisited(url string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.visited[url]; ok {
		return false
	}
	s.visited[url] = struct{}{}
	return true
}

// Visited reports whether url has already been dispatched.
func (s *RunState) Visited(url string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.visited[url]
	return ok
}

// LimitReached reports whether traversal must stop.
func (s *RunState) LimitReached() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopOnLimit && s.limit > 0 && s.count >= s.limit
}

// Inc counts one emitted record and returns the new total.
func (s *RunState) Inc() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.count++
	return s.count
}

// Count returns the number of records emitted so far.
func (s *RunState) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.count
}

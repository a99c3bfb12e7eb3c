// internal/checkpoint/scope.go
package checkpoint

import "sync"

// Scope is the per-turn handle handed to file-writing capabilities. It
// opens the real checkpoint lazily on the first snapshot, so a turn whose
// tools never write a file leaves the journal completely untouched.
type Scope struct {
	journal     *Journal
	projectKey  string
	description string

	mu     sync.Mutex
	id     string
	opened bool
}

// NewScope creates an unopened scope for one turn.
func NewScope(journal *Journal, projectKey, description string) *Scope {
	return &Scope{
		journal:     journal,
		projectKey:  projectKey,
		description: description,
	}
}

// Snapshot records the pre-edit state of path, opening the underlying
// checkpoint first if this is the turn's first file touch.
func (s *Scope) Snapshot(path string) {
	s.mu.Lock()
	if !s.opened {
		cp := s.journal.Open(s.projectKey, s.description)
		s.id = cp.ID
		s.opened = true
	}
	id := s.id
	s.mu.Unlock()

	s.journal.Snapshot(id, path)
}

// CheckpointID returns the underlying checkpoint id, or "" if no file has
// been touched yet.
func (s *Scope) CheckpointID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.id
}

// Finalize closes out the turn. If nothing was snapshotted the journal was
// never touched; an opened-but-empty checkpoint is elided by Finalize.
func (s *Scope) Finalize() {
	s.mu.Lock()
	opened, id := s.opened, s.id
	s.mu.Unlock()

	if opened {
		s.journal.Finalize(id)
	}
}

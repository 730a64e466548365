package previews

import (
	"sync"

	"github.com/google/uuid"
)

// Store hands out transient preview handles for uploaded evidence. Handles are
// grouped by scope (the subtask whose view produced them) so a whole view's
// handles can be released at once when it closes. Handles never survive a
// process restart.
type Store struct {
	mu     sync.Mutex
	scopes map[string]map[string]bool
}

func NewStore() *Store {
	return &Store{scopes: map[string]map[string]bool{}}
}

// Acquire mints a handle URL under the scope.
func (s *Store) Acquire(scope string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	handle := "preview://" + uuid.New().String()
	if s.scopes[scope] == nil {
		s.scopes[scope] = map[string]bool{}
	}
	s.scopes[scope][handle] = true
	return handle
}

// Release revokes a single handle. Unknown handles are ignored.
func (s *Store) Release(scope, handle string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.scopes[scope], handle)
	if len(s.scopes[scope]) == 0 {
		delete(s.scopes, scope)
	}
}

// ReleaseScope revokes every handle in the scope and returns how many were
// released.
func (s *Store) ReleaseScope(scope string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := len(s.scopes[scope])
	delete(s.scopes, scope)
	return n
}

// Active reports how many handles the scope currently holds.
func (s *Store) Active(scope string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.scopes[scope])
}

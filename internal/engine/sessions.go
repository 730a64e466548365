package engine

import (
	"sync"

	"siteline/internal/domain"
)

// SessionStore holds per-actor selection and pending-confirmation state for
// assignment flows. State is in-memory only; a restart drops every open
// selection, which just sends the actor back to idle.
type SessionStore struct {
	mu       sync.Mutex
	sessions map[string]*session
}

type session struct {
	Selection []string
	Pending   *domain.PendingConfirmation
}

func NewSessionStore() *SessionStore {
	return &SessionStore{sessions: map[string]*session{}}
}

func sessionKey(actorID, projectID string) string {
	return actorID + "|" + projectID
}

func (s *SessionStore) get(actorID, projectID string) *session {
	key := sessionKey(actorID, projectID)
	if s.sessions[key] == nil {
		s.sessions[key] = &session{}
	}
	return s.sessions[key]
}

// SetSelection replaces the actor's candidate selection for the project.
func (s *SessionStore) SetSelection(actorID, projectID string, ids []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess := s.get(actorID, projectID)
	sess.Selection = append([]string(nil), ids...)
}

// Selection returns a copy of the actor's current selection.
func (s *SessionStore) Selection(actorID, projectID string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess := s.sessions[sessionKey(actorID, projectID)]
	if sess == nil {
		return nil
	}
	return append([]string(nil), sess.Selection...)
}

// SetPending stores the assignment awaiting the permanent/temporary decision.
func (s *SessionStore) SetPending(actorID string, pending domain.PendingConfirmation) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess := s.get(actorID, pending.ProjectID)
	sess.Pending = &pending
}

// Pending returns the actor's pending confirmation, if any.
func (s *SessionStore) Pending(actorID, projectID string) *domain.PendingConfirmation {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess := s.sessions[sessionKey(actorID, projectID)]
	if sess == nil || sess.Pending == nil {
		return nil
	}
	copied := *sess.Pending
	copied.PersonIDs = append([]string(nil), sess.Pending.PersonIDs...)
	return &copied
}

// Clear drops both selection and pending state, returning the actor to idle.
func (s *SessionStore) Clear(actorID, projectID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, sessionKey(actorID, projectID))
}

package session

import (
	"sync"
	"time"
)

// Registry maps call ids to live sessions. It is safe for concurrent use.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*CallSession
	pending  map[string]*time.Timer
}

func NewRegistry() *Registry {
	return &Registry{
		sessions: make(map[string]*CallSession),
		pending:  make(map[string]*time.Timer),
	}
}

// Set registers s under its call id, replacing any previous session and
// cancelling a scheduled deletion for that id.
func (r *Registry) Set(s *CallSession) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if t, ok := r.pending[s.CallSid]; ok {
		t.Stop()
		delete(r.pending, s.CallSid)
	}
	r.sessions[s.CallSid] = s
}

// Get looks up the session for callSid.
func (r *Registry) Get(callSid string) (*CallSession, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[callSid]
	if !ok {
		return nil, ErrNotFound
	}
	return s, nil
}

// Delete removes the session immediately.
func (r *Registry) Delete(callSid string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if t, ok := r.pending[callSid]; ok {
		t.Stop()
		delete(r.pending, callSid)
	}
	delete(r.sessions, callSid)
}

// DeleteAfter schedules removal of callSid after d. The removal only happens if the
// same session is still registered at that point.
func (r *Registry) DeleteAfter(callSid string, d time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[callSid]
	if !ok {
		return
	}
	if t, ok := r.pending[callSid]; ok {
		t.Stop()
	}
	var timer *time.Timer
	timer = time.AfterFunc(d, func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		if r.pending[callSid] != timer {
			return
		}
		delete(r.pending, callSid)
		if r.sessions[callSid] == s {
			delete(r.sessions, callSid)
		}
	})
	r.pending[callSid] = timer
}

// Len reports the number of registered sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

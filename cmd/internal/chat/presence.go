package chat

import "sync"

// Presence tracks which users currently hold at least one live session.
//
// A user may hold multiple concurrent sessions (multi-device). MarkOnline and
// MarkOffline report whether the call crossed the 0->1 or 1->0 boundary, so
// callers broadcast presence-change notifications only on real transitions.
type Presence struct {
	mu       sync.Mutex
	sessions map[string]map[string]struct{} // userID -> set of sessionIDs
}

// NewPresence constructs an empty presence registry.
func NewPresence() *Presence {
	return &Presence{sessions: make(map[string]map[string]struct{})}
}

// MarkOnline registers a session for the user. It reports true iff this was
// the user's first live session (the 0->1 transition).
func (p *Presence) MarkOnline(userID, sessionID string) bool {
	if userID == "" || sessionID == "" {
		return false
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	set := p.sessions[userID]
	if set == nil {
		set = make(map[string]struct{})
		p.sessions[userID] = set
	}
	first := len(set) == 0
	set[sessionID] = struct{}{}
	return first
}

// MarkOffline deregisters a session. It reports true iff this was the user's
// last live session (the 1->0 transition). Unknown sessions are a no-op.
func (p *Presence) MarkOffline(userID, sessionID string) bool {
	if userID == "" || sessionID == "" {
		return false
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	set := p.sessions[userID]
	if set == nil {
		return false
	}
	if _, ok := set[sessionID]; !ok {
		return false
	}
	delete(set, sessionID)
	if len(set) == 0 {
		delete(p.sessions, userID)
		return true
	}
	return false
}

// IsOnline reports whether the user holds at least one live session.
func (p *Presence) IsOnline(userID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.sessions[userID]) > 0
}

// OnlineCount reports how many users are currently online (metrics).
func (p *Presence) OnlineCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.sessions)
}

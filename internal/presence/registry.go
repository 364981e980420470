package presence

import "sync"

// Registry tracks which users currently have open realtime connections.
// A user may hold several handles at once (multiple tabs or devices);
// the user counts as online while at least one handle remains.
//
// The registry is purely in-memory. It is rebuilt from scratch on process
// restart: every surviving client re-registers when it reconnects.
// Construct one per process and inject it; never reach for a global.
type Registry struct {
	mu      sync.RWMutex
	handles map[string]map[string]struct{} // userID -> set of handle IDs
}

func NewRegistry() *Registry {
	return &Registry{handles: make(map[string]map[string]struct{})}
}

// Register adds a connection handle for a user. Idempotent if the handle
// is already present.
func (r *Registry) Register(userID, handleID string) {
	if userID == "" || handleID == "" {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	set, ok := r.handles[userID]
	if !ok {
		set = make(map[string]struct{})
		r.handles[userID] = set
	}
	set[handleID] = struct{}{}
}

// Unregister removes a connection handle. When the last handle for a user
// goes away the whole entry is dropped. No-op on unknown user or handle.
func (r *Registry) Unregister(userID, handleID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	set, ok := r.handles[userID]
	if !ok {
		return
	}
	delete(set, handleID)
	if len(set) == 0 {
		delete(r.handles, userID)
	}
}

// IsOnline reports whether the user has at least one registered handle.
func (r *Registry) IsOnline(userID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.handles[userID]) > 0
}

// HandlesFor returns a copy of the user's handle set, used to deliver a
// notification to every one of their active connections.
func (r *Registry) HandlesFor(userID string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	set := r.handles[userID]
	if len(set) == 0 {
		return nil
	}
	out := make([]string, 0, len(set))
	for h := range set {
		out = append(out, h)
	}
	return out
}

// OnlineCount returns the number of distinct online users.
func (r *Registry) OnlineCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.handles)
}

package ftp

import "sync"

// sessionRegistry is the concurrent collection of live sessions. A session
// is registered from the moment its control loop starts accepting commands
// until it deregisters itself on close, or until shutdownAll sweeps it.
type sessionRegistry struct {
	mu       sync.Mutex
	sessions map[int]*session
}

func newSessionRegistry() *sessionRegistry {
	return &sessionRegistry{sessions: make(map[int]*session)}
}

func (r *sessionRegistry) add(s *session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[s.id] = s
}

func (r *sessionRegistry) remove(s *session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, s.id)
}

func (r *sessionRegistry) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// shutdownAll aborts every registered session and waits for each of their
// goroutines to exit before returning.
//
// The snapshot is taken under the lock but the waiting happens outside it,
// so a session racing to a normal exit (which deregisters itself) can never
// deadlock against the sweep. Aborted sessions do not deregister themselves;
// the sweep clears them once their goroutine is gone.
func (r *sessionRegistry) shutdownAll() {
	r.mu.Lock()
	snapshot := make([]*session, 0, len(r.sessions))
	for _, s := range r.sessions {
		snapshot = append(snapshot, s)
	}
	r.mu.Unlock()

	for _, s := range snapshot {
		s.abort()
		<-s.done
	}

	r.mu.Lock()
	for _, s := range snapshot {
		delete(r.sessions, s.id)
	}
	r.mu.Unlock()
}

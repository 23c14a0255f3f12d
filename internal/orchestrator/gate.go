package orchestrator

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// sessionGate guarantees at most one in-flight turn per session_id
// (spec.md §5) and fails fast rather than queuing: a second request for a
// session already mid-turn is rejected immediately instead of blocking,
// mirroring the teacher's session busy/ready states.
type sessionGate struct {
	mu       sync.Mutex
	inFlight map[string]bool
	limiters map[string]*rate.Limiter
}

func newSessionGate() *sessionGate {
	return &sessionGate{
		inFlight: make(map[string]bool),
		limiters: make(map[string]*rate.Limiter),
	}
}

// errSessionBusy is returned by acquire when sessionID already has an
// in-flight turn.
type errSessionBusy struct{ sessionID string }

func (e *errSessionBusy) Error() string {
	return "session " + e.sessionID + " has an in-flight turn"
}

// acquire reserves sessionID for the duration of one turn. The returned
// release func must be called exactly once. Empty sessionID (a brand new
// session with no id yet) is never contended and always succeeds.
func (g *sessionGate) acquire(sessionID string) (func(), error) {
	if sessionID == "" {
		return func() {}, nil
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	limiter, ok := g.limiters[sessionID]
	if !ok {
		limiter = rate.NewLimiter(rate.Every(50*time.Millisecond), 1)
		g.limiters[sessionID] = limiter
	}
	if g.inFlight[sessionID] || !limiter.Allow() {
		return nil, &errSessionBusy{sessionID: sessionID}
	}

	g.inFlight[sessionID] = true
	return func() {
		g.mu.Lock()
		delete(g.inFlight, sessionID)
		g.mu.Unlock()
	}, nil
}

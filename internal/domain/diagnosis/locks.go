package diagnosis

import (
	"sync"

	"github.com/google/uuid"
)

// lockArena tracks which visits have a pipeline running in this process.
// It backs the fast-path mutual exclusion check; the database status flip in
// BeginPipeline is what excludes pipelines across processes.
type lockArena struct {
	mu   sync.Mutex
	held map[uuid.UUID]struct{}
}

func newLockArena() *lockArena {
	return &lockArena{held: make(map[uuid.UUID]struct{})}
}

// tryAcquire claims the visit, returning false when it is already held.
func (a *lockArena) tryAcquire(id uuid.UUID) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, ok := a.held[id]; ok {
		return false
	}
	a.held[id] = struct{}{}
	return true
}

func (a *lockArena) release(id uuid.UUID) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.held, id)
}

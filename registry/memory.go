package registry

import (
	"context"
	"sort"
	"sync"

	"github.com/ruteri/tee-signing-gateway/interfaces"
)

// MemoryStore keeps the worker registry and allowlist in process memory.
// It is safe for concurrent use. Each instance is isolated, which makes it
// the default for tests and single-process development setups.
type MemoryStore struct {
	mu       sync.RWMutex
	workers  map[interfaces.Identity]interfaces.Worker
	approved map[interfaces.CodeIdentity]struct{}
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		workers:  make(map[interfaces.Identity]interfaces.Worker),
		approved: make(map[interfaces.CodeIdentity]struct{}),
	}
}

func (s *MemoryStore) GetWorker(ctx context.Context, identity interfaces.Identity) (*interfaces.Worker, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	w, ok := s.workers[identity]
	if !ok {
		return nil, interfaces.ErrWorkerNotFound
	}
	return &w, nil
}

func (s *MemoryStore) PutWorker(ctx context.Context, identity interfaces.Identity, worker interfaces.Worker) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.workers[identity] = worker
	return nil
}

func (s *MemoryStore) Approve(ctx context.Context, code interfaces.CodeIdentity) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.approved[code] = struct{}{}
	return nil
}

func (s *MemoryStore) Revoke(ctx context.Context, code interfaces.CodeIdentity) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.approved, code)
	return nil
}

func (s *MemoryStore) IsApproved(ctx context.Context, code interfaces.CodeIdentity) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	_, ok := s.approved[code]
	return ok, nil
}

func (s *MemoryStore) List(ctx context.Context) ([]interfaces.CodeIdentity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]interfaces.CodeIdentity, 0, len(s.approved))
	for code := range s.approved {
		out = append(out, code)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}

// WorkerCount returns the number of stored worker records.
func (s *MemoryStore) WorkerCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.workers)
}

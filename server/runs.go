package server

import (
	"context"
	"sync"
	"time"

	"github.com/wudi/pdfredact/pipeline"
)

type storedRun struct {
	manifest *pipeline.Manifest
	stored   time.Time
}

// RunStore keeps manifests of finished runs for a limited time.
type RunStore struct {
	mu   sync.Mutex
	runs map[string]storedRun
	ttl  time.Duration
	now  func() time.Time
}

func NewRunStore(ttl time.Duration) *RunStore {
	return &RunStore{runs: make(map[string]storedRun), ttl: ttl, now: time.Now}
}

func (s *RunStore) Put(m *pipeline.Manifest) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runs[m.RunID] = storedRun{manifest: m, stored: s.now()}
}

// Get returns the manifest, or nil if it is unknown or expired.
func (s *RunStore) Get(id string) *pipeline.Manifest {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[id]
	if !ok || s.expired(run) {
		return nil
	}
	return run.manifest
}

func (s *RunStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.runs)
}

// Cleanup removes expired runs.
func (s *RunStore) Cleanup() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, run := range s.runs {
		if s.expired(run) {
			delete(s.runs, id)
		}
	}
}

func (s *RunStore) expired(run storedRun) bool {
	return s.ttl > 0 && s.now().Sub(run.stored) > s.ttl
}

// StartCleanup runs Cleanup every interval until ctx is done.
func (s *RunStore) StartCleanup(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.Cleanup()
			}
		}
	}()
}

// Package limiter bounds the number of simultaneously executing flow
// instances with a non-blocking counting semaphore.
package limiter

import (
	"errors"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/flowgrid/flowgrid/internal/clock"
)

// ErrNoSlot is returned when every slot is taken; callers decide whether to
// queue, reject or retry.
var ErrNoSlot = errors.New("limiter: no execution slot available")

// Snapshot is a point-in-time view of slot usage.
type Snapshot struct {
	MaxSlots   int                  `json:"maxSlots"`
	Active     int                  `json:"active"`
	AcquiredAt map[string]time.Time `json:"acquiredAt"`
}

// Service is a counting semaphore over flow executions. Acquisition never
// blocks; release is idempotent per acquisition through the returned
// release function.
type Service struct {
	max  int64
	sem  *semaphore.Weighted
	mux  sync.Mutex
	held map[string]time.Time
}

// New creates a limiter with the given maximum concurrent flows.
func New(maxConcurrent int) *Service {
	if maxConcurrent <= 0 {
		maxConcurrent = 1
	}
	return &Service{
		max:  int64(maxConcurrent),
		sem:  semaphore.NewWeighted(int64(maxConcurrent)),
		held: map[string]time.Time{},
	}
}

// Acquire claims a slot for the flow, failing immediately when none is
// free. The returned release function must be called exactly once on every
// exit path; extra calls are no-ops so the available count can never exceed
// the configured maximum.
func (s *Service) Acquire(flowID string) (release func(), err error) {
	if !s.sem.TryAcquire(1) {
		return nil, ErrNoSlot
	}
	s.mux.Lock()
	s.held[flowID] = clock.Now()
	s.mux.Unlock()

	var once sync.Once
	release = func() {
		once.Do(func() {
			s.mux.Lock()
			delete(s.held, flowID)
			s.mux.Unlock()
			s.sem.Release(1)
		})
	}
	return release, nil
}

// Status returns a snapshot of the current slot usage.
func (s *Service) Status() Snapshot {
	s.mux.Lock()
	defer s.mux.Unlock()
	acquired := make(map[string]time.Time, len(s.held))
	for id, at := range s.held {
		acquired[id] = at
	}
	return Snapshot{
		MaxSlots:   int(s.max),
		Active:     len(acquired),
		AcquiredAt: acquired,
	}
}

package server

import (
	"sync"
	"time"

	"github.com/benbjohnson/clock"
)

// Scheduler runs keyed one-shot tasks after a delay. At most one task per
// key is pending at a time.
type Scheduler struct {
	clock clock.Clock

	mu      sync.Mutex
	tasks   map[string]*clock.Timer
	stopped bool
	running sync.WaitGroup
}

// NewScheduler returns a scheduler driven by c.
func NewScheduler(c clock.Clock) *Scheduler {
	if c == nil {
		c = clock.New()
	}
	return &Scheduler{
		clock: c,
		tasks: make(map[string]*clock.Timer),
	}
}

// Schedule arranges for fn to run once after delay. It returns false when a
// task with the same key is already pending or the scheduler is stopped.
func (s *Scheduler) Schedule(key string, delay time.Duration, fn func()) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return false
	}
	if _, exists := s.tasks[key]; exists {
		return false
	}

	var timer *clock.Timer
	timer = s.clock.AfterFunc(delay, func() {
		s.mu.Lock()
		if cur, ok := s.tasks[key]; !ok || cur != timer {
			s.mu.Unlock()
			return
		}
		delete(s.tasks, key)
		s.running.Add(1)
		s.mu.Unlock()

		defer s.running.Done()
		fn()
	})
	s.tasks[key] = timer
	return true
}

// Cancel drops a pending task and reports whether one was pending.
func (s *Scheduler) Cancel(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	timer, ok := s.tasks[key]
	if !ok {
		return false
	}
	delete(s.tasks, key)
	timer.Stop()
	return true
}

// Pending returns the number of tasks waiting to fire.
func (s *Scheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tasks)
}

// Stop cancels every pending task, refuses new ones and waits for tasks
// that already started.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	s.stopped = true
	for key, timer := range s.tasks {
		timer.Stop()
		delete(s.tasks, key)
	}
	s.mu.Unlock()

	s.running.Wait()
}

package httpd

import (
	"sync"
	"sync/atomic"
)

// scheduler multiplexes connection tasks over a bounded pool. Each
// connection runs as straight-line sequential code on its own goroutine;
// the pool bounds how many run at once, so one slow client costs one
// slot, never the accept loop's liveness beyond that slot.
//
// Shared state is limited to the counters below and the slot semaphore;
// nothing else crosses connection boundaries.
type scheduler struct {
	slots chan struct{}
	wg    sync.WaitGroup

	active       atomic.Int64
	exchanges    atomic.Int64
	bytesWritten atomic.Int64

	initOnce sync.Once
}

func (s *scheduler) init(workers int) {
	s.initOnce.Do(func() {
		if workers <= 0 {
			workers = 1
		}
		s.slots = make(chan struct{}, workers)
	})
}

// acquire blocks until a worker slot is free. Called from the accept
// loop, which gives natural backpressure: a full pool pauses accepting
// instead of piling up connections.
func (s *scheduler) acquire() { s.slots <- struct{}{} }

func (s *scheduler) release() { <-s.slots }

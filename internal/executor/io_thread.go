// Package executor provides the fixed pool of serial I/O threads the proxy
// pins its workers to. Every task submitted to a thread runs on that
// thread's single goroutine, so per-node callbacks never race each other.
package executor

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/mir00r/cluster-proxy/internal/domain"
	"github.com/mir00r/cluster-proxy/pkg/logger"
)

// IOThread is a single serial execution loop implementing domain.Executor
type IOThread struct {
	name  string
	clock clockwork.Clock
	tasks chan func()
	quit  chan struct{}
	done  chan struct{}
	log   *logger.Logger
}

// NewIOThread creates and starts a named thread
func NewIOThread(name string, clock clockwork.Clock, log *logger.Logger) *IOThread {
	t := &IOThread{
		name:  name,
		clock: clock,
		tasks: make(chan func(), 128),
		quit:  make(chan struct{}),
		done:  make(chan struct{}),
		log:   log.WithField("io_thread", name),
	}
	go t.loop()
	return t
}

// Name returns the thread name
func (t *IOThread) Name() string {
	return t.name
}

func (t *IOThread) loop() {
	defer close(t.done)
	for {
		select {
		case task := <-t.tasks:
			task()
		case <-t.quit:
			return
		}
	}
}

// Execute submits the task to the thread. Submissions after shutdown are
// dropped.
func (t *IOThread) Execute(task func()) {
	select {
	case t.tasks <- task:
	case <-t.quit:
	}
}

// intervalKey implements domain.CancelKey for a periodic task
type intervalKey struct {
	cancelled int32
	stop      chan struct{}
	once      sync.Once
}

// Cancel stops the periodic task. After Cancel returns no further tick will
// start; a tick already executing is allowed to finish.
func (k *intervalKey) Cancel() {
	k.once.Do(func() {
		atomic.StoreInt32(&k.cancelled, 1)
		close(k.stop)
	})
}

// ExecuteAtInterval schedules the task on this thread every period. Ticks
// for the same task never overlap: the timer goroutine waits for each run to
// finish on the thread before arming the next one.
func (t *IOThread) ExecuteAtInterval(task func(), period time.Duration) domain.CancelKey {
	key := &intervalKey{stop: make(chan struct{})}
	go func() {
		ticker := t.clock.NewTicker(period)
		defer ticker.Stop()
		for {
			select {
			case <-key.stop:
				return
			case <-t.quit:
				return
			case <-ticker.Chan():
				ran := make(chan struct{})
				t.Execute(func() {
					defer close(ran)
					if atomic.LoadInt32(&key.cancelled) == 0 {
						task()
					}
				})
				select {
				case <-ran:
				case <-t.quit:
					return
				}
			}
		}
	}()
	return key
}

// Shutdown stops the loop and waits for it to exit
func (t *IOThread) Shutdown() {
	close(t.quit)
	<-t.done
}

// Pool is a fixed set of I/O threads. Nodes are assigned round-robin at
// registration time and stay pinned for their lifetime.
type Pool struct {
	threads []*IOThread
	next    uint64
}

// NewPool creates size threads. Size is clamped to at least one.
func NewPool(size int, clock clockwork.Clock, log *logger.Logger) *Pool {
	if size < 1 {
		size = 1
	}
	threads := make([]*IOThread, size)
	for i := range threads {
		threads[i] = NewIOThread(fmt.Sprintf("io-%d", i), clock, log)
	}
	return &Pool{threads: threads}
}

// Next returns the next thread in round-robin order
func (p *Pool) Next() *IOThread {
	n := atomic.AddUint64(&p.next, 1)
	return p.threads[(n-1)%uint64(len(p.threads))]
}

// Threads returns all threads in the pool
func (p *Pool) Threads() []*IOThread {
	return p.threads
}

// Shutdown stops every thread in the pool
func (p *Pool) Shutdown() {
	for _, t := range p.threads {
		t.Shutdown()
	}
}

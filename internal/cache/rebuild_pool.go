package cache

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"
)

// RebuildPool runs cache rebuild tasks on a fixed set of workers fed by a
// bounded queue. Submit never blocks; a full queue rejects the task.
type RebuildPool struct {
	tasks   chan func()
	workers int
	log     *logrus.Logger

	mu      sync.RWMutex
	stopped bool
	wg      sync.WaitGroup
	started atomic.Bool

	completed atomic.Uint64
	panicked  atomic.Uint64
	rejected  atomic.Uint64
}

func NewRebuildPool(workers, queueSize int, log *logrus.Logger) *RebuildPool {
	if workers <= 0 {
		workers = 10
	}
	if queueSize <= 0 {
		queueSize = workers * 100
	}
	return &RebuildPool{
		tasks:   make(chan func(), queueSize),
		workers: workers,
		log:     log,
	}
}

func (p *RebuildPool) Start() {
	if !p.started.CompareAndSwap(false, true) {
		return
	}
	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go func(id int) {
			defer p.wg.Done()
			p.workerLoop(id)
		}(i)
	}
	p.log.Infof("[RebuildPool] started %d workers", p.workers)
}

func (p *RebuildPool) workerLoop(id int) {
	for task := range p.tasks {
		p.run(id, task)
	}
}

func (p *RebuildPool) run(id int, task func()) {
	defer func() {
		if r := recover(); r != nil {
			p.panicked.Add(1)
			p.log.Errorf("[RebuildPool] worker %d: task panicked: %v", id, r)
		}
	}()
	task()
	p.completed.Add(1)
}

// Submit enqueues task and reports whether it was accepted.
func (p *RebuildPool) Submit(task func()) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.stopped {
		p.rejected.Add(1)
		return false
	}
	select {
	case p.tasks <- task:
		return true
	default:
		p.rejected.Add(1)
		return false
	}
}

// Stop rejects new tasks, lets workers drain the queue and waits for them or ctx.
func (p *RebuildPool) Stop(ctx context.Context) error {
	p.mu.Lock()
	if !p.stopped {
		p.stopped = true
		close(p.tasks)
	}
	p.mu.Unlock()

	if !p.started.Load() {
		return nil
	}

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.log.Info("[RebuildPool] workers stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

package handler

import (
	"runtime/debug"
	"sync"

	"github.com/google/uuid"

	"github.com/qingyh6/ai/log"
)

// WorkerPool runs review tasks on a fixed number of goroutines. The
// queue is unbounded so a webhook burst never blocks the HTTP handler;
// tasks execute in submission order.
type WorkerPool struct {
	mu       sync.Mutex
	cond     *sync.Cond
	queue    []poolTask
	closed   bool
	workerWG sync.WaitGroup
}

type poolTask struct {
	id   string
	name string
	fn   func()
}

// NewWorkerPool starts count workers. A count below one falls back to
// a single worker.
func NewWorkerPool(count int) *WorkerPool {
	if count < 1 {
		count = 1
	}
	p := &WorkerPool{}
	p.cond = sync.NewCond(&p.mu)

	p.workerWG.Add(count)
	for i := 0; i < count; i++ {
		go p.worker(i)
	}
	log.Infof("Started worker pool with %d workers", count)
	return p
}

// Submit queues one task and returns its id. Submitting after
// Shutdown drops the task.
func (p *WorkerPool) Submit(name string, fn func()) string {
	id := uuid.NewString()

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		log.Warnf("Worker pool is shut down, dropping task %s (%s)", id, name)
		return id
	}
	p.queue = append(p.queue, poolTask{id: id, name: name, fn: fn})
	log.Debugf("Queued task %s (%s), queue depth %d", id, name, len(p.queue))
	p.cond.Signal()
	return id
}

// Shutdown stops accepting tasks and waits for queued work to drain.
func (p *WorkerPool) Shutdown() {
	p.mu.Lock()
	p.closed = true
	p.cond.Broadcast()
	p.mu.Unlock()

	p.workerWG.Wait()
	log.Info("Worker pool shut down")
}

func (p *WorkerPool) worker(n int) {
	defer p.workerWG.Done()
	for {
		p.mu.Lock()
		for len(p.queue) == 0 && !p.closed {
			p.cond.Wait()
		}
		if len(p.queue) == 0 && p.closed {
			p.mu.Unlock()
			return
		}
		task := p.queue[0]
		p.queue = p.queue[1:]
		p.mu.Unlock()

		p.run(n, task)
	}
}

func (p *WorkerPool) run(n int, task poolTask) {
	defer func() {
		if r := recover(); r != nil {
			log.Errorf("Worker %d recovered from panic in task %s (%s): %v\n%s", n, task.id, task.name, r, debug.Stack())
		}
	}()
	log.Debugf("Worker %d picked up task %s (%s)", n, task.id, task.name)
	task.fn()
}

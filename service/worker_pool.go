package service

import (
	"errors"
	"runtime"
	"sync"
)

// ErrPoolClosed is returned by Submit after Shutdown.
var ErrPoolClosed = errors.New("worker pool is shut down")

// WorkerPool is a bounded pool of CPU workers shared by every document job
// in the process. Submit blocks while all workers are busy, which is the
// process-wide backpressure level; per-document semaphores bound how much of
// a single job is in flight on top of it.
type WorkerPool struct {
	size  int
	tasks chan func()
	done  chan struct{}
	once  sync.Once
	wg    sync.WaitGroup
}

// NewWorkerPool starts size workers. size <= 0 selects DefaultPoolSize.
func NewWorkerPool(size int) *WorkerPool {
	if size <= 0 {
		size = DefaultPoolSize()
	}
	p := &WorkerPool{
		size:  size,
		tasks: make(chan func()),
		done:  make(chan struct{}),
	}
	p.wg.Add(size)
	for i := 0; i < size; i++ {
		go p.worker()
	}
	return p
}

// DefaultPoolSize is twice the logical core count with a floor of 4.
func DefaultPoolSize() int {
	n := runtime.NumCPU() * 2
	if n < 4 {
		n = 4
	}
	return n
}

func (p *WorkerPool) worker() {
	defer p.wg.Done()
	for {
		select {
		case task := <-p.tasks:
			task()
		case <-p.done:
			// drain submissions accepted before shutdown
			for {
				select {
				case task := <-p.tasks:
					task()
				default:
					return
				}
			}
		}
	}
}

// Submit hands a task to the pool, blocking until a worker picks it up.
func (p *WorkerPool) Submit(task func()) error {
	select {
	case <-p.done:
		return ErrPoolClosed
	default:
	}
	select {
	case p.tasks <- task:
		return nil
	case <-p.done:
		return ErrPoolClosed
	}
}

// Size returns the worker count.
func (p *WorkerPool) Size() int { return p.size }

// Shutdown drains in-flight work and rejects new submissions. Safe to call
// more than once.
func (p *WorkerPool) Shutdown() {
	p.once.Do(func() { close(p.done) })
	p.wg.Wait()
}

var (
	sharedPoolMu   sync.Mutex
	sharedPool     *WorkerPool
	sharedPoolSize int
)

// SetSharedPoolSize configures the size used when the shared pool is first
// created. It has no effect once the pool exists.
func SetSharedPoolSize(size int) {
	sharedPoolMu.Lock()
	defer sharedPoolMu.Unlock()
	sharedPoolSize = size
}

// SharedPool returns the process-wide pool, creating it on first access.
// Services should take the pool as a dependency and pass SharedPool() at
// wiring time so tests can inject a small pool instead.
func SharedPool() *WorkerPool {
	sharedPoolMu.Lock()
	defer sharedPoolMu.Unlock()
	if sharedPool == nil {
		sharedPool = NewWorkerPool(sharedPoolSize)
	}
	return sharedPool
}

// ShutdownSharedPool drains the shared pool. Subsequent SharedPool calls
// return the shut-down pool, whose Submit reports ErrPoolClosed.
func ShutdownSharedPool() {
	sharedPoolMu.Lock()
	p := sharedPool
	sharedPoolMu.Unlock()
	if p != nil {
		p.Shutdown()
	}
}

package queue

import (
	"sync"
	"time"

	"github.com/CrisisTextLine/lightq/internal/config"
	"github.com/CrisisTextLine/lightq/internal/telemetry"
)

// workerPool is a bounded channel-backed pool running write-behind
// persistence tasks: "max" goroutines are started up front, of which the
// first "core" run for the pool's lifetime and the rest exit after 5s
// without a task; exited goroutines are not restarted, so after an idle
// spell only the core ones remain. Tasks wait in a queue of fixed depth,
// and close runs every task still queued before returning. A full queue drops the
// task and counts it as backpressure rather than blocking the caller,
// since write-behind already accepts weakened durability.
type workerPool struct {
	tasks   chan func()
	logger  telemetry.Logger
	metrics *telemetry.Metrics

	wg      sync.WaitGroup
	closeCh chan struct{}
	once    sync.Once
}

func newWorkerPool(cfg config.WorkerPoolConfig, logger telemetry.Logger, metrics *telemetry.Metrics) *workerPool {
	p := &workerPool{
		tasks:   make(chan func(), cfg.Queue),
		logger:  logger,
		metrics: metrics,
		closeCh: make(chan struct{}),
	}
	for i := 0; i < cfg.Max; i++ {
		core := i < cfg.Core
		p.wg.Add(1)
		go p.run(core)
	}
	return p
}

// run is a single pool goroutine. Non-core workers exit once the task
// channel stays empty for idleTimeout and are not replaced; core workers
// run for the pool's lifetime. On close, every worker still running first
// drains the tasks left in the queue.
func (p *workerPool) run(core bool) {
	defer p.wg.Done()
	idleTimeout := 5 * time.Second
	for {
		if core {
			select {
			case task, ok := <-p.tasks:
				if !ok {
					return
				}
				task()
			case <-p.closeCh:
				p.drain()
				return
			}
			continue
		}
		select {
		case task, ok := <-p.tasks:
			if !ok {
				return
			}
			task()
		case <-time.After(idleTimeout):
			return
		case <-p.closeCh:
			p.drain()
			return
		}
	}
}

// drain runs queued tasks until the queue is empty.
func (p *workerPool) drain() {
	for {
		select {
		case task := <-p.tasks:
			task()
		default:
			return
		}
	}
}

// submit enqueues task, returning false (and counting backpressure) if the
// queue is full.
func (p *workerPool) submit(task func()) bool {
	select {
	case p.tasks <- task:
		return true
	default:
		p.metrics.WorkerPoolBackpressure.Inc()
		p.logger.Warn("write-behind worker pool queue full, dropping task")
		return false
	}
}

func (p *workerPool) close() {
	p.once.Do(func() {
		close(p.closeCh)
	})
	p.wg.Wait()
	p.drain()
}

// Package worker provides the fixed-size FIFO worker pool that executes
// scheduled graph computations. Submit is non-blocking: a full queue is
// reported to the caller instead of blocking, which lets the scheduler run
// dependency work inline rather than deadlocking on recursive submission.
package worker

import (
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/polyglot-support/flowgraph/metric"
)

// Pool is a fixed-size worker pool consuming a shared FIFO queue. Workers
// start when the pool is created; Stop drains all queued work before the
// workers exit.
type Pool struct {
	workers   int
	queueSize int

	tasks chan func()
	wg    sync.WaitGroup

	mu      sync.Mutex
	stopped bool

	// Statistics (atomic).
	submitted int64
	completed int64
	dropped   int64

	metrics *poolMetrics
}

type poolMetrics struct {
	queueDepth prometheus.Gauge
	submitted  prometheus.Counter
	completed  prometheus.Counter
	dropped    prometheus.Counter
}

// Option configures a Pool.
type Option func(*Pool)

// WithWorkers sets the number of workers. Values below 1 keep the default
// (hardware concurrency).
func WithWorkers(n int) Option {
	return func(p *Pool) {
		if n > 0 {
			p.workers = n
		}
	}
}

// WithQueueSize sets the work queue capacity. Values below 1 keep the default.
func WithQueueSize(n int) Option {
	return func(p *Pool) {
		if n > 0 {
			p.queueSize = n
		}
	}
}

// WithMetrics exposes pool statistics as Prometheus metrics under the given
// component prefix. If any registration fails, the pool runs without
// Prometheus metrics; New does not report the failure.
func WithMetrics(reg *metric.Registry, prefix string) Option {
	return func(p *Pool) {
		if reg == nil || prefix == "" {
			return
		}
		m := &poolMetrics{
			queueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
				Name:        "flowgraph_worker_queue_depth",
				ConstLabels: prometheus.Labels{"component": prefix},
				Help:        "Current worker pool queue depth",
			}),
			submitted: prometheus.NewCounter(prometheus.CounterOpts{
				Name:        "flowgraph_worker_submitted_total",
				ConstLabels: prometheus.Labels{"component": prefix},
				Help:        "Total work items submitted",
			}),
			completed: prometheus.NewCounter(prometheus.CounterOpts{
				Name:        "flowgraph_worker_completed_total",
				ConstLabels: prometheus.Labels{"component": prefix},
				Help:        "Total work items completed",
			}),
			dropped: prometheus.NewCounter(prometheus.CounterOpts{
				Name:        "flowgraph_worker_dropped_total",
				ConstLabels: prometheus.Labels{"component": prefix},
				Help:        "Total work items rejected due to a full queue",
			}),
		}
		if reg.Register(prefix, "worker_queue_depth", m.queueDepth) != nil ||
			reg.Register(prefix, "worker_submitted_total", m.submitted) != nil ||
			reg.Register(prefix, "worker_completed_total", m.completed) != nil ||
			reg.Register(prefix, "worker_dropped_total", m.dropped) != nil {
			return
		}
		p.metrics = m
	}
}

// New creates a pool and starts its workers immediately.
func New(opts ...Option) *Pool {
	p := &Pool{
		workers:   runtime.NumCPU(),
		queueSize: 256,
	}
	for _, opt := range opts {
		opt(p)
	}

	p.tasks = make(chan func(), p.queueSize)
	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.worker()
	}
	return p
}

// worker is the processing loop for a single worker goroutine. It exits when
// the queue is closed and fully drained.
func (p *Pool) worker() {
	defer p.wg.Done()
	for fn := range p.tasks {
		fn()
		atomic.AddInt64(&p.completed, 1)
		if p.metrics != nil {
			p.metrics.completed.Inc()
			p.metrics.queueDepth.Set(float64(len(p.tasks)))
		}
	}
}

// Submit enqueues fn for execution. It never blocks: a full queue returns
// ErrQueueFull and a stopped pool returns ErrPoolStopped.
func (p *Pool) Submit(fn func()) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.stopped {
		atomic.AddInt64(&p.dropped, 1)
		return ErrPoolStopped
	}

	select {
	case p.tasks <- fn:
		atomic.AddInt64(&p.submitted, 1)
		if p.metrics != nil {
			p.metrics.submitted.Inc()
			p.metrics.queueDepth.Set(float64(len(p.tasks)))
		}
		return nil
	default:
		atomic.AddInt64(&p.dropped, 1)
		if p.metrics != nil {
			p.metrics.dropped.Inc()
		}
		return ErrQueueFull
	}
}

// Stop closes the queue and waits for workers to drain all queued work.
// It returns ErrStopTimeout if the drain does not finish in time; the
// workers keep draining in the background in that case.
func (p *Pool) Stop(timeout time.Duration) error {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return nil
	}
	p.stopped = true
	close(p.tasks)
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-done:
		return nil
	case <-timer.C:
		return ErrStopTimeout
	}
}

// Workers returns the number of worker goroutines.
func (p *Pool) Workers() int {
	return p.workers
}

// Stats returns a snapshot of pool statistics.
func (p *Pool) Stats() Stats {
	return Stats{
		Workers:    p.workers,
		QueueSize:  p.queueSize,
		QueueDepth: len(p.tasks),
		Submitted:  atomic.LoadInt64(&p.submitted),
		Completed:  atomic.LoadInt64(&p.completed),
		Dropped:    atomic.LoadInt64(&p.dropped),
	}
}

// Stats is a point-in-time snapshot of pool activity.
type Stats struct {
	Workers    int
	QueueSize  int
	QueueDepth int
	Submitted  int64
	Completed  int64
	Dropped    int64
}

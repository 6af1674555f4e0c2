package api

import (
	"context"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/molly1022/TMS-Dashboard/domain"
)

// DispatcherConfig sizes the side-effect worker pool.
type DispatcherConfig struct {
	Workers        int
	Buffer         int
	Timeout        time.Duration // per job
	HandoffTimeout time.Duration // wait for buffer space before running inline
}

func DefaultDispatcherConfig() DispatcherConfig {
	return DispatcherConfig{Workers: 8, Buffer: 1024, Timeout: 30 * time.Second, HandoffTimeout: 15 * time.Millisecond}
}

type job struct {
	name string
	run  func(ctx context.Context) error
}

// Dispatcher runs side effects (activity publishing, email) off the request
// path. When the buffer stays full for HandoffTimeout the job runs inline.
type Dispatcher struct {
	cfg  DispatcherConfig
	jobs chan job
	wg   sync.WaitGroup

	mu     sync.RWMutex
	closed bool
}

func NewDispatcher(cfg DispatcherConfig) *Dispatcher {
	def := DefaultDispatcherConfig()
	if cfg.Workers <= 0 {
		cfg.Workers = def.Workers
	}
	if cfg.Buffer < 0 {
		cfg.Buffer = 0
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	d := &Dispatcher{cfg: cfg, jobs: make(chan job, cfg.Buffer)}
	for i := 0; i < cfg.Workers; i++ {
		d.wg.Add(1)
		go d.worker(i)
	}
	log.Infof("dispatcher started, workers: %d, buffer: %d, timeout: %v, handoff: %v", cfg.Workers, cfg.Buffer, cfg.Timeout, cfg.HandoffTimeout)
	return d
}

func (d *Dispatcher) worker(id int) {
	defer d.wg.Done()
	for j := range d.jobs {
		if err := d.run(j); err != nil {
			log.WithError(err).WithFields(log.Fields{"job": j.name, "worker": id}).Error("dispatch failed")
		}
	}
}

func (d *Dispatcher) run(j job) error {
	ctx, cancel := context.WithTimeout(context.Background(), d.cfg.Timeout)
	defer cancel()
	return j.run(ctx)
}

// Submit hands fn to the pool. It reports an error only when fn had to run
// inline and failed.
func (d *Dispatcher) Submit(name string, fn func(ctx context.Context) error) error {
	j := job{name: name, run: fn}
	if d.handoff(j) {
		return nil
	}
	log.WithField("job", name).Warn("dispatch buffer saturated; processing inline")
	return d.run(j)
}

func (d *Dispatcher) handoff(j job) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return false
	}
	select {
	case d.jobs <- j:
		return true
	default:
	}
	if d.cfg.HandoffTimeout <= 0 {
		return false
	}
	timer := time.NewTimer(d.cfg.HandoffTimeout)
	defer timer.Stop()
	select {
	case d.jobs <- j:
		return true
	case <-timer.C:
		return false
	}
}

// Close stops accepting jobs and waits for queued ones to finish.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		close(d.jobs)
	}
	d.mu.Unlock()
	d.wg.Wait()
}

type activityQueue interface {
	EnqueueActivity(ctx context.Context, a domain.Activity) error
}

// QueueRecorder publishes activities to the activity queue through a Dispatcher.
type QueueRecorder struct {
	d *Dispatcher
	q activityQueue
}

func NewQueueRecorder(d *Dispatcher, q activityQueue) *QueueRecorder {
	return &QueueRecorder{d: d, q: q}
}

func (r *QueueRecorder) Record(_ context.Context, a domain.Activity) error {
	return r.d.Submit("activity:"+string(a.Type), func(ctx context.Context) error {
		return r.q.EnqueueActivity(ctx, a)
	})
}

// AsyncMailer sends invitation emails through a Dispatcher.
type AsyncMailer struct {
	d    *Dispatcher
	next domain.InvitationMailer
}

func NewAsyncMailer(d *Dispatcher, next domain.InvitationMailer) *AsyncMailer {
	return &AsyncMailer{d: d, next: next}
}

func (m *AsyncMailer) SendInvitation(_ context.Context, inv domain.Invitation) error {
	return m.d.Submit("invitation", func(ctx context.Context) error {
		return m.next.SendInvitation(ctx, inv)
	})
}

package core

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/oceanbase/vectormem/pkg/errs"
)

type ingestJob struct {
	id      int64
	content string
	attempt int
}

// ingester embeds pending memories on a fixed pool of workers. A job whose
// embedding is unavailable goes back on the queue after a delay, up to
// maxRequeues times. Memories whose job is dropped stay pending in the store
// and can be queued again with ReingestPending.
type ingester struct {
	embed  func(ctx context.Context, text string) ([]float64, error)
	attach func(ctx context.Context, id int64, vec []float64) (bool, error)

	queue       chan ingestJob
	maxRequeues int
	delay       time.Duration
	logger      logrus.FieldLogger

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.RWMutex
	closed  bool
	workers sync.WaitGroup
	timers  sync.WaitGroup

	// inflight counts queued, running and requeued jobs.
	countMu  sync.Mutex
	idle     *sync.Cond
	inflight int
}

func newIngester(cfg IngestionConfig, embed func(context.Context, string) ([]float64, error),
	attach func(context.Context, int64, []float64) (bool, error), logger logrus.FieldLogger) *ingester {
	ctx, cancel := context.WithCancel(context.Background())
	i := &ingester{
		embed:       embed,
		attach:      attach,
		queue:       make(chan ingestJob, cfg.QueueSize),
		maxRequeues: cfg.MaxRequeues,
		delay:       millis(cfg.RequeueDelayMs),
		logger:      logger.WithField("component", "ingest"),
		ctx:         ctx,
		cancel:      cancel,
	}
	i.idle = sync.NewCond(&i.countMu)
	for w := 0; w < cfg.Workers; w++ {
		i.workers.Add(1)
		go i.work()
	}
	return i
}

// enqueue queues id for embedding. It never blocks; false means the queue
// was full or the ingester is closed.
func (i *ingester) enqueue(id int64, content string) bool {
	i.mu.RLock()
	defer i.mu.RUnlock()
	if i.closed {
		return false
	}
	i.add()
	select {
	case i.queue <- ingestJob{id: id, content: content}:
		return true
	default:
		i.done()
		i.logger.WithField("memory_id", id).Warn("ingestion queue full, memory stays pending")
		return false
	}
}

// wait blocks until every queued job has finished or been dropped.
func (i *ingester) wait() {
	i.countMu.Lock()
	for i.inflight > 0 {
		i.idle.Wait()
	}
	i.countMu.Unlock()
}

func (i *ingester) add() {
	i.countMu.Lock()
	i.inflight++
	i.countMu.Unlock()
}

func (i *ingester) done() {
	i.countMu.Lock()
	i.inflight--
	if i.inflight == 0 {
		i.idle.Broadcast()
	}
	i.countMu.Unlock()
}

// close stops the workers. Queued jobs are dropped.
func (i *ingester) close() {
	i.mu.Lock()
	if i.closed {
		i.mu.Unlock()
		return
	}
	i.closed = true
	i.mu.Unlock()

	i.cancel()
	i.workers.Wait()
	i.timers.Wait()
	for {
		select {
		case <-i.queue:
			i.done()
		default:
			return
		}
	}
}

func (i *ingester) work() {
	defer i.workers.Done()
	for {
		select {
		case <-i.ctx.Done():
			return
		case job := <-i.queue:
			i.process(job)
		}
	}
}

func (i *ingester) process(job ingestJob) {
	log := i.logger.WithFields(logrus.Fields{"memory_id": job.id, "attempt": job.attempt + 1})

	vec, err := i.embed(i.ctx, job.content)
	if err == nil {
		_, err = i.attach(i.ctx, job.id, vec)
	}

	switch {
	case err == nil:
		log.Debug("memory vectored")
	case errors.Is(err, errs.ErrGone) || errors.Is(err, errs.ErrNotFound):
		log.Debug("memory deleted before its vector arrived")
	case i.ctx.Err() != nil || errs.IsCanceled(err):
		log.Debug("ingestion stopped")
	case errors.Is(err, errs.ErrEmbeddingUnavailable) && job.attempt < i.maxRequeues:
		log.WithError(err).Warn("embedding unavailable, requeueing")
		job.attempt++
		i.requeue(job)
		return
	default:
		log.WithError(err).Error("ingestion failed, memory stays pending")
	}
	i.done()
}

// requeue puts job back on the queue after the requeue delay. The job keeps
// its inflight count until it is finally processed or dropped.
func (i *ingester) requeue(job ingestJob) {
	i.timers.Add(1)
	go func() {
		defer i.timers.Done()
		t := time.NewTimer(i.delay)
		defer t.Stop()
		select {
		case <-i.ctx.Done():
			i.done()
			return
		case <-t.C:
		}
		select {
		case i.queue <- job:
		case <-i.ctx.Done():
			i.done()
		}
	}()
}

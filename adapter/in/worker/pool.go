package worker

import (
	"context"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-pkgz/pool"
	"github.com/rs/zerolog"

	"github.com/creamytech/Castra-site-sub000/internal/queue"
	"github.com/creamytech/Castra-site-sub000/pkg/apperr"
	"github.com/creamytech/Castra-site-sub000/pkg/ratelimit"
)

// =============================================================================
// go-pkgz/pool based Worker Pool
// =============================================================================

// PoolConfig holds worker pool configuration.
type PoolConfig struct {
	Workers          int
	BatchSize        int
	WorkerChanSize   int
	PollInterval     time.Duration
	PullBatchSize    int
	JobTimeout       time.Duration
	JobTimeoutByType map[JobType]time.Duration

	MaxAttempts    int
	RetryBaseDelay time.Duration
	RetryMaxDelay  time.Duration
}

// DefaultPoolConfig returns default pool configuration.
func DefaultPoolConfig() *PoolConfig {
	return &PoolConfig{
		Workers:        8,
		BatchSize:      10,
		WorkerChanSize: 100,
		PollInterval:   500 * time.Millisecond,
		PullBatchSize:  32,
		JobTimeout:     30 * time.Second,
		JobTimeoutByType: map[JobType]time.Duration{
			JobFetchUpdates:    2 * time.Minute,  // may page through history
			JobIngestMessage:   45 * time.Second, // up to two provider fetches
			JobClassifyLead:    60 * time.Second, // model response latency
			JobNotify:          15 * time.Second,
			JobPrepareDraft:    45 * time.Second,
			JobPrepareSchedule: 30 * time.Second,
			JobSendDraft:       30 * time.Second,
		},
		MaxAttempts:    5,
		RetryBaseDelay: 5 * time.Second,
		RetryMaxDelay:  15 * time.Minute,
	}
}

// Pool pulls due jobs from the queue and processes them on a go-pkgz/pool
// worker group. Failed jobs are re-enqueued through the queue with exponential
// backoff so the delay survives a process restart; permanent failures and
// exhausted retries go to the DLQ.
type Pool struct {
	handler *Handler
	queue   queue.Queue
	config  *PoolConfig

	workers *pool.WorkerGroup[*queue.Job]

	ctx    context.Context
	cancel context.CancelFunc

	metrics *PoolMetrics
	log     zerolog.Logger

	submitLimiter *ratelimit.Limiter

	dlq   chan *queue.Job
	dlqWg sync.WaitGroup

	pollWg sync.WaitGroup

	started bool
	mu      sync.Mutex
}

// PoolMetrics holds pool metrics.
type PoolMetrics struct {
	JobsProcessed  int64
	JobsFailed     int64
	JobsRetried    int64
	JobsDropped    int64
	AvgProcessTime int64 // milliseconds
	InFlight       int32
}

// jobWorker implements pool.Worker for queue jobs.
type jobWorker struct {
	pool *Pool
}

// Do implements pool.Worker.
func (w *jobWorker) Do(ctx context.Context, job *queue.Job) error {
	return w.pool.processJob(ctx, job)
}

// NewPool creates a worker pool.
func NewPool(handler *Handler, q queue.Queue, config *PoolConfig, log zerolog.Logger) *Pool {
	if config == nil {
		config = DefaultPoolConfig()
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Pool{
		handler:       handler,
		queue:         q,
		config:        config,
		ctx:           ctx,
		cancel:        cancel,
		metrics:       &PoolMetrics{},
		log:           log.With().Str("component", "worker_pool").Logger(),
		submitLimiter: ratelimit.NewLimiter(100, time.Second),
		dlq:           make(chan *queue.Job, 100),
	}
}

// Start starts the worker group, the queue poller, the DLQ processor, and the
// metrics reporter.
func (p *Pool) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.started {
		return
	}

	p.workers = pool.New[*queue.Job](p.config.Workers, &jobWorker{pool: p}).
		WithBatchSize(p.config.BatchSize).
		WithWorkerChanSize(p.config.WorkerChanSize).
		WithContinueOnError()

	if err := p.workers.Go(p.ctx); err != nil {
		p.log.Error().Err(err).Msg("failed to start worker group")
		return
	}

	p.started = true

	p.pollWg.Add(1)
	go p.poller()

	p.dlqWg.Add(1)
	go p.dlqProcessor()

	go p.metricsReporter()

	p.log.Info().
		Int("workers", p.config.Workers).
		Dur("poll_interval", p.config.PollInterval).
		Int("pull_batch", p.config.PullBatchSize).
		Msg("worker pool started")
}

// Stop drains the pool gracefully.
func (p *Pool) Stop() {
	p.log.Info().Msg("stopping worker pool...")

	p.mu.Lock()
	if !p.started {
		p.mu.Unlock()
		return
	}
	p.started = false
	p.mu.Unlock()

	// Stop pulling new work before draining in-flight jobs.
	p.cancel()
	p.pollWg.Wait()

	closeCtx, closeCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer closeCancel()

	if p.workers != nil {
		if err := p.workers.Close(closeCtx); err != nil {
			p.log.Warn().Err(err).Msg("error closing worker group")
		}
	}

	close(p.dlq)
	p.dlqWg.Wait()

	p.log.Info().
		Int64("processed", atomic.LoadInt64(&p.metrics.JobsProcessed)).
		Int64("failed", atomic.LoadInt64(&p.metrics.JobsFailed)).
		Msg("worker pool stopped")
}

// poller pulls due jobs and submits them to the worker group.
func (p *Pool) poller() {
	defer p.pollWg.Done()

	ticker := time.NewTicker(p.config.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-p.ctx.Done():
			return
		case <-ticker.C:
			jobs, err := p.queue.PullDue(p.ctx, time.Now(), p.config.PullBatchSize)
			if err != nil {
				if p.ctx.Err() == nil {
					p.log.Error().Err(err).Msg("queue pull failed")
				}
				continue
			}
			for _, job := range jobs {
				p.submit(job)
			}
		}
	}
}

// submit hands one pulled job to the worker group. Delivery is at-most-once
// once a job is pulled, so a job the limiter rejects is re-enqueued with a
// short delay rather than dropped.
func (p *Pool) submit(job *queue.Job) {
	if !p.submitLimiter.Allow() {
		job.RunAt = time.Now().Add(time.Second)
		if err := p.queue.Enqueue(p.ctx, job); err != nil {
			atomic.AddInt64(&p.metrics.JobsDropped, 1)
			p.log.Error().Err(err).Str("job_id", job.ID).Msg("rate-limited job lost")
		}
		return
	}
	atomic.AddInt32(&p.metrics.InFlight, 1)
	p.workers.Submit(job)
}

// getJobTimeout returns the timeout for a job type.
func (p *Pool) getJobTimeout(jobType JobType) time.Duration {
	if timeout, ok := p.config.JobTimeoutByType[jobType]; ok {
		return timeout
	}
	return p.config.JobTimeout
}

// processJob processes a single job with a per-type timeout.
func (p *Pool) processJob(ctx context.Context, job *queue.Job) error {
	start := time.Now()
	defer atomic.AddInt32(&p.metrics.InFlight, -1)

	timeout := p.getJobTimeout(job.Type)
	jobCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	errCh := make(chan error, 1)
	go func() {
		errCh <- p.handler.Process(jobCtx, job)
	}()

	var err error
	select {
	case err = <-errCh:
	case <-jobCtx.Done():
		err = jobCtx.Err()
		if err == context.DeadlineExceeded {
			p.log.Warn().
				Str("job_id", job.ID).
				Str("job_type", job.Type).
				Dur("timeout", timeout).
				Msg("job timed out")
		}
	}

	p.updateAvgProcessTime(time.Since(start).Milliseconds())

	if err != nil {
		p.log.Error().
			Err(err).
			Str("job_id", job.ID).
			Str("job_type", job.Type).
			Int("attempt", job.Attempt).
			Msg("job processing failed")
		p.retryOrBury(job, err)
		return err
	}

	atomic.AddInt64(&p.metrics.JobsProcessed, 1)
	return nil
}

// retryOrBury re-enqueues a failed job with backoff, or moves it to the DLQ
// when the failure is permanent or attempts are exhausted.
func (p *Pool) retryOrBury(job *queue.Job, err error) {
	if !apperr.IsPermanent(err) && job.Attempt+1 < p.config.MaxAttempts {
		job.Attempt++
		job.RunAt = time.Now().Add(p.backoff(job.Attempt))
		atomic.AddInt64(&p.metrics.JobsRetried, 1)

		if enqErr := p.queue.Enqueue(p.ctx, job); enqErr != nil {
			p.log.Error().Err(enqErr).Str("job_id", job.ID).Msg("retry enqueue failed")
			p.bury(job)
		}
		return
	}
	p.bury(job)
}

// backoff computes exponential backoff with jitter: base * 2^(attempt-1),
// capped, plus random(0, 500ms).
func (p *Pool) backoff(attempt int) time.Duration {
	delay := p.config.RetryBaseDelay << uint(attempt-1)
	if delay > p.config.RetryMaxDelay || delay <= 0 {
		delay = p.config.RetryMaxDelay
	}
	return delay + time.Duration(rand.Intn(500))*time.Millisecond
}

func (p *Pool) bury(job *queue.Job) {
	atomic.AddInt64(&p.metrics.JobsFailed, 1)
	select {
	case p.dlq <- job:
	default:
		p.log.Error().Str("job_id", job.ID).Msg("DLQ full, job lost")
	}
}

// dlqProcessor logs permanently failed jobs for manual reprocessing.
func (p *Pool) dlqProcessor() {
	defer p.dlqWg.Done()

	for job := range p.dlq {
		p.log.Error().
			Str("job_id", job.ID).
			Str("job_type", job.Type).
			Int("attempt", job.Attempt).
			RawJSON("payload", job.Payload).
			Msg("DLQ: job permanently failed")
	}
}

// metricsReporter periodically logs metrics.
func (p *Pool) metricsReporter() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-p.ctx.Done():
			return
		case <-ticker.C:
			depth, err := p.queue.Len(p.ctx)
			if err != nil {
				depth = -1
			}
			p.log.Info().
				Int64("processed", atomic.LoadInt64(&p.metrics.JobsProcessed)).
				Int64("failed", atomic.LoadInt64(&p.metrics.JobsFailed)).
				Int64("retried", atomic.LoadInt64(&p.metrics.JobsRetried)).
				Int64("dropped", atomic.LoadInt64(&p.metrics.JobsDropped)).
				Int64("avg_process_ms", atomic.LoadInt64(&p.metrics.AvgProcessTime)).
				Int32("in_flight", atomic.LoadInt32(&p.metrics.InFlight)).
				Int("queue_depth", depth).
				Msg("worker pool metrics")
		}
	}
}

func (p *Pool) updateAvgProcessTime(elapsed int64) {
	current := atomic.LoadInt64(&p.metrics.AvgProcessTime)
	if current == 0 {
		atomic.StoreInt64(&p.metrics.AvgProcessTime, elapsed)
	} else {
		atomic.StoreInt64(&p.metrics.AvgProcessTime, (current*9+elapsed)/10)
	}
}

// GetMetrics returns a snapshot of pool metrics.
func (p *Pool) GetMetrics() PoolMetrics {
	return PoolMetrics{
		JobsProcessed:  atomic.LoadInt64(&p.metrics.JobsProcessed),
		JobsFailed:     atomic.LoadInt64(&p.metrics.JobsFailed),
		JobsRetried:    atomic.LoadInt64(&p.metrics.JobsRetried),
		JobsDropped:    atomic.LoadInt64(&p.metrics.JobsDropped),
		AvgProcessTime: atomic.LoadInt64(&p.metrics.AvgProcessTime),
		InFlight:       atomic.LoadInt32(&p.metrics.InFlight),
	}
}

// PoolConfigFromSettings builds a PoolConfig from loaded application settings.
func PoolConfigFromSettings(workers, batchSize, pullBatch int, pollInterval time.Duration, maxAttempts int, retryBase, retryMax time.Duration) *PoolConfig {
	cfg := DefaultPoolConfig()
	if workers > 0 {
		cfg.Workers = workers
	}
	if batchSize > 0 {
		cfg.BatchSize = batchSize
	}
	if pullBatch > 0 {
		cfg.PullBatchSize = pullBatch
	}
	if pollInterval > 0 {
		cfg.PollInterval = pollInterval
	}
	if maxAttempts > 0 {
		cfg.MaxAttempts = maxAttempts
	}
	if retryBase > 0 {
		cfg.RetryBaseDelay = retryBase
	}
	if retryMax > 0 {
		cfg.RetryMaxDelay = retryMax
	}
	return cfg
}

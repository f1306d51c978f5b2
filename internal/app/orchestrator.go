package app

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/yourusername/episode-offline-go/internal/domain"
	"github.com/yourusername/episode-offline-go/internal/infrastructure"
	"github.com/yourusername/episode-offline-go/pkg/logger"
	"github.com/yourusername/episode-offline-go/pkg/playlist"
)

// runningJob is the in-memory handle of one executing job
type runningJob struct {
	id     string
	cancel context.CancelCauseFunc
	done   chan struct{}

	// Guarded by Orchestrator.mu
	cancelling bool
	purge      bool
}

// Orchestrator owns the download queue: which jobs exist, which run, and in what order they start
type Orchestrator struct {
	repo     domain.JobRepository
	fetcher  domain.Fetcher
	cache    domain.CacheCoordinator
	bus      domain.ProgressBus
	rewriter *playlist.Rewriter
	config   *domain.DownloadConfig
	logger   *zap.Logger

	notifier    *infrastructure.NotificationService
	metrics     *infrastructure.Metrics
	multiLogger *logger.MultiLogger

	mu                sync.Mutex
	active            map[string]*runningJob
	queue             []string
	closed            bool
	running           bool
	unsubscribeErrors func()
	wg                sync.WaitGroup
}

// NewOrchestrator creates an orchestrator. cache and rewriter may be nil.
func NewOrchestrator(
	repo domain.JobRepository,
	fetcher domain.Fetcher,
	cache domain.CacheCoordinator,
	bus domain.ProgressBus,
	rewriter *playlist.Rewriter,
	config *domain.DownloadConfig,
	log *zap.Logger,
) *Orchestrator {
	if log == nil {
		log = zap.NewNop()
	}
	if bus == nil {
		bus = NewProgressBus()
	}
	if config == nil {
		config = &domain.DefaultConfig().Download
	}
	return &Orchestrator{
		repo:     repo,
		fetcher:  fetcher,
		cache:    cache,
		bus:      bus,
		rewriter: rewriter,
		config:   config,
		logger:   log,
		active:   make(map[string]*runningJob),
	}
}

// SetNotifier sets the desktop notification service
func (o *Orchestrator) SetNotifier(n *infrastructure.NotificationService) {
	o.notifier = n
}

// SetMetrics sets the Prometheus collectors
func (o *Orchestrator) SetMetrics(m *infrastructure.Metrics) {
	o.metrics = m
}

// SetEventLogger sets the categorised queue/error logger
func (o *Orchestrator) SetEventLogger(ml *logger.MultiLogger) {
	o.multiLogger = ml
}

func (o *Orchestrator) limit() int {
	if o.config.ConcurrentLimit < 1 {
		return 1
	}
	return o.config.ConcurrentLimit
}

func (o *Orchestrator) logQueueEvent(event string, fields ...zap.Field) {
	if o.multiLogger != nil {
		o.multiLogger.LogQueueEvent(event, fields...)
	}
}

func (o *Orchestrator) logAppError(msg string, fields ...zap.Field) {
	o.logger.Error(msg, fields...)
	if o.multiLogger != nil {
		o.multiLogger.LogAppError(msg, fields...)
	}
}

// Start installs the segment cache and re-admits jobs a previous process left unfinished
func (o *Orchestrator) Start(ctx context.Context) error {
	o.mu.Lock()
	o.closed = false
	o.running = true
	o.mu.Unlock()

	if o.cache != nil && o.cache.IsAvailable() {
		if o.cache.Install(ctx) {
			unsubscribe := o.cache.OnMessage(domain.EventDownloadError, func(e domain.WorkerEvent) {
				o.logger.Warn("Segment cache write failed",
					zap.String("id", e.ID),
					zap.Any("data", e.Data))
			})
			o.mu.Lock()
			if o.unsubscribeErrors != nil {
				o.unsubscribeErrors()
			}
			o.unsubscribeErrors = unsubscribe
			o.mu.Unlock()
		} else {
			o.logger.Warn("Segment cache could not be installed; downloads will not be cached")
		}
	}

	o.logQueueEvent("queue_started")

	if !o.config.ResumeOnStart {
		return nil
	}

	unfinished, err := o.repo.ListByStatus(domain.StatusPending, domain.StatusRunning)
	if err != nil {
		return fmt.Errorf("failed to list unfinished downloads: %w", err)
	}

	o.mu.Lock()
	defer o.mu.Unlock()

	for _, job := range unfinished {
		if o.isKnownLocked(job.ID) {
			continue
		}
		o.queue = append(o.queue, job.ID)
		o.logQueueEvent("download_resumed", zap.String("id", job.ID))
	}
	if len(unfinished) > 0 {
		o.logger.Info("Resuming unfinished downloads", zap.Int("count", len(unfinished)))
	}
	o.drainLocked()
	return nil
}

// Shutdown stops admission, interrupts running jobs and waits for them.
// Interrupted jobs go back to pending so the next Start resumes them.
func (o *Orchestrator) Shutdown(ctx context.Context) error {
	o.mu.Lock()
	o.closed = true
	o.running = false
	o.queue = nil
	running := make([]*runningJob, 0, len(o.active))
	for _, rj := range o.active {
		running = append(running, rj)
	}
	if o.unsubscribeErrors != nil {
		o.unsubscribeErrors()
		o.unsubscribeErrors = nil
	}
	o.mu.Unlock()

	for _, rj := range running {
		rj.cancel(domain.ErrShuttingDown)
	}

	done := make(chan struct{})
	go func() {
		o.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		o.logQueueEvent("queue_stopped")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("shutdown interrupted with %d running downloads: %w", len(running), ctx.Err())
	}
}

// RequestDownload admits a job unless it is already running, queued or completed.
// It returns the stored record of the job.
func (o *Orchestrator) RequestDownload(ctx context.Context, req domain.JobRequest) (*domain.Job, error) {
	if req.ID == "" {
		return nil, fmt.Errorf("download id is required")
	}
	if req.SourceURL == "" {
		return nil, fmt.Errorf("source url is required")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	o.mu.Lock()
	defer o.mu.Unlock()

	if o.closed {
		return nil, domain.ErrShuttingDown
	}

	if o.isKnownLocked(req.ID) {
		o.logger.Debug("Ignoring duplicate download request", zap.String("id", req.ID))
		job, err := o.repo.Get(req.ID)
		if err == nil && job == nil {
			return nil, domain.ErrJobUnwinding
		}
		return job, err
	}

	existing, err := o.repo.Get(req.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to look up download: %w", err)
	}
	if existing != nil && existing.Status == domain.StatusCompleted {
		o.logger.Debug("Download already completed", zap.String("id", req.ID))
		return existing, nil
	}

	job := domain.NewJob(req)
	if err := o.repo.Upsert(job); err != nil {
		return nil, fmt.Errorf("failed to save download: %w", err)
	}

	o.queue = append(o.queue, job.ID)
	o.logQueueEvent("download_added",
		zap.String("id", job.ID),
		zap.String("parent_id", job.ParentID),
		zap.String("source_url", job.SourceURL))
	o.notifier.NotifyQueued(job)

	o.drainLocked()
	return job, nil
}

// isKnownLocked reports whether id is running, unwinding after a cancel or waiting in the queue
func (o *Orchestrator) isKnownLocked(id string) bool {
	if _, ok := o.active[id]; ok {
		return true
	}
	for _, queued := range o.queue {
		if queued == id {
			return true
		}
	}
	return false
}

// drainLocked starts queued jobs in FIFO order until the ceiling is reached
func (o *Orchestrator) drainLocked() {
	defer func() { o.metrics.SetQueueDepth(len(o.active), len(o.queue)) }()

	for !o.closed && len(o.active) < o.limit() && len(o.queue) > 0 {
		id := o.queue[0]
		o.queue = o.queue[1:]

		job, err := o.repo.Get(id)
		if err != nil {
			o.logAppError("Failed to load queued download", zap.String("id", id), zap.Error(err))
			continue
		}
		if job == nil {
			o.logger.Warn("Queued download has no stored record", zap.String("id", id))
			continue
		}

		if err := o.repo.SetStatus(id, domain.StatusRunning, ""); err != nil {
			o.logAppError("Failed to mark download running", zap.String("id", id), zap.Error(err))
			if serr := o.repo.SetStatus(id, domain.StatusFailed, err.Error()); serr != nil {
				o.logAppError("Failed to mark download failed", zap.String("id", id), zap.Error(serr))
			}
			continue
		}
		job.MarkRunning()

		ctx, cancel := context.WithCancelCause(context.Background())
		rj := &runningJob{id: id, cancel: cancel, done: make(chan struct{})}
		o.active[id] = rj

		o.wg.Add(1)
		go o.execute(ctx, rj, job)
	}
}

// finish releases the slot held by rj and backfills it.
// It reports whether the job was deleted while it ran.
func (o *Orchestrator) finish(rj *runningJob) bool {
	o.mu.Lock()
	defer o.mu.Unlock()

	if current, ok := o.active[rj.id]; ok && current == rj {
		delete(o.active, rj.id)
	}
	o.drainLocked()
	return rj.purge
}

func (o *Orchestrator) execute(ctx context.Context, rj *runningJob, job *domain.Job) {
	defer o.wg.Done()
	defer close(rj.done)
	defer func() {
		if o.finish(rj) {
			// Segments cached after DeleteDownload evicted the job
			o.evict(context.Background(), rj.id)
		}
	}()
	defer rj.cancel(nil)

	o.metrics.JobStarted()
	o.notifier.NotifyStarted(job)
	o.logQueueEvent("download_started", zap.String("id", job.ID), zap.String("source_url", job.SourceURL))
	o.logger.Info("Download started", zap.String("id", job.ID), zap.String("source_url", job.SourceURL))

	err := o.run(ctx, job)
	cause := context.Cause(ctx)

	switch {
	case err == nil:
		o.metrics.JobFinished(domain.StatusCompleted)
		o.notifier.NotifyCompleted(job)
		o.logQueueEvent("download_completed", zap.String("id", job.ID), zap.Int("segments_failed", job.SegmentsFailed))
		o.logger.Info("Download completed",
			zap.String("id", job.ID),
			zap.Int("segments", job.SegmentTotal),
			zap.Int("segments_failed", job.SegmentsFailed))

	case errors.Is(cause, domain.ErrShuttingDown):
		if serr := o.repo.SetStatus(job.ID, domain.StatusPending, ""); serr != nil {
			o.logAppError("Failed to return interrupted download to pending", zap.String("id", job.ID), zap.Error(serr))
		}
		o.logQueueEvent("download_interrupted", zap.String("id", job.ID))

	case errors.Is(cause, domain.ErrJobCancelled):
		if serr := o.repo.SetStatus(job.ID, domain.StatusCancelled, ""); serr != nil {
			o.logAppError("Failed to mark download cancelled", zap.String("id", job.ID), zap.Error(serr))
		}
		o.metrics.JobFinished(domain.StatusCancelled)
		o.logQueueEvent("download_cancelled", zap.String("id", job.ID))
		o.logger.Info("Download cancelled", zap.String("id", job.ID))

	default:
		if serr := o.repo.SetStatus(job.ID, domain.StatusFailed, err.Error()); serr != nil {
			o.logAppError("Failed to mark download failed", zap.String("id", job.ID), zap.Error(serr))
		}
		job.MarkFailed(err)
		o.metrics.JobFinished(domain.StatusFailed)
		o.notifier.NotifyFailed(job, err)
		o.logQueueEvent("download_failed", zap.String("id", job.ID), zap.Error(err))
		o.logAppError("Download failed", zap.String("id", job.ID), zap.Error(err))
	}
}

// run fetches the manifest and then every segment in order.
// A nil return means the job was persisted as completed.
func (o *Orchestrator) run(ctx context.Context, job *domain.Job) error {
	o.bus.Publish(domain.ProgressEvent{ID: job.ID})

	var manifest bytes.Buffer
	if _, err := o.fetch(ctx, job.ID, job.SourceURL, &manifest); err != nil {
		return fmt.Errorf("failed to fetch manifest: %w", err)
	}

	segments, err := playlist.Parse(manifest.String(), job.SourceURL, o.rewriter)
	if err != nil {
		return fmt.Errorf("failed to parse manifest: %w", err)
	}

	total := len(segments)
	if err := o.repo.SetSegmentTotal(job.ID, total); err != nil {
		return fmt.Errorf("failed to save segment total: %w", err)
	}
	job.SegmentTotal = total

	breaker := o.newSegmentBreaker(job.ID)

	var bytesDone int64
	done, failed := 0, 0

	for i, segmentURL := range segments {
		if err := context.Cause(ctx); err != nil {
			return err
		}

		n, err := o.fetchSegment(ctx, breaker, job.ID, segmentURL)
		if err != nil {
			if cause := context.Cause(ctx); cause != nil {
				return cause
			}
			failed++
			o.metrics.SegmentFailed()
			o.logger.Warn("Skipping segment",
				zap.String("id", job.ID),
				zap.Int("index", i),
				zap.String("url", segmentURL),
				zap.Error(err))
			if breaker != nil && breaker.State() == gobreaker.StateOpen {
				return fmt.Errorf("%w: %d in a row", domain.ErrTooManySegmentFailures, o.config.MaxConsecutiveFailures)
			}
		} else {
			bytesDone += n
			done++
			o.metrics.SegmentFetched(n)

			percent := domain.Percent(done, total)
			if err := o.repo.SetProgress(job.ID, percent, done); err != nil {
				return fmt.Errorf("failed to save progress: %w", err)
			}
			estimate := domain.ExtrapolateBytes(bytesDone, done, total)
			if err := o.repo.SetTransfer(job.ID, domain.TransferStats{BytesDone: bytesDone, BytesTotal: estimate, SegmentsFailed: failed}); err != nil {
				return fmt.Errorf("failed to save transfer stats: %w", err)
			}
			o.bus.Publish(domain.ProgressEvent{
				ID:              job.ID,
				ProgressPercent: percent,
				SegmentsDone:    done,
				SegmentTotal:    total,
				BytesDone:       bytesDone,
				BytesTotal:      estimate,
			})
		}

		if i < total-1 {
			if err := o.pause(ctx); err != nil {
				return err
			}
		}
	}

	if err := context.Cause(ctx); err != nil {
		return err
	}

	// The loop ran to the end: skipped segments are reported through SegmentsFailed
	final := bytesDone
	if err := o.repo.SetTransfer(job.ID, domain.TransferStats{BytesDone: bytesDone, BytesTotal: &final, SegmentsFailed: failed}); err != nil {
		return fmt.Errorf("failed to save transfer stats: %w", err)
	}
	if err := o.repo.SetProgress(job.ID, 100, done); err != nil {
		return fmt.Errorf("failed to save progress: %w", err)
	}
	if err := o.repo.SetStatus(job.ID, domain.StatusCompleted, ""); err != nil {
		return fmt.Errorf("failed to mark download completed: %w", err)
	}

	job.SegmentsDone = done
	job.SegmentsFailed = failed
	job.MarkCompleted()

	o.bus.Publish(domain.ProgressEvent{
		ID:              job.ID,
		ProgressPercent: 100,
		SegmentsDone:    total,
		SegmentTotal:    total,
		BytesDone:       bytesDone,
		BytesTotal:      &final,
	})
	return nil
}

// newSegmentBreaker returns nil when any number of consecutive failures is tolerated
func (o *Orchestrator) newSegmentBreaker(id string) *gobreaker.CircuitBreaker {
	limit := o.config.MaxConsecutiveFailures
	if limit <= 0 {
		return nil
	}
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "segments:" + id,
		MaxRequests: 1,
		// Open stays open for the rest of the job
		Timeout: 24 * time.Hour,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= uint32(limit)
		},
	})
}

func (o *Orchestrator) fetchSegment(ctx context.Context, breaker *gobreaker.CircuitBreaker, id, url string) (int64, error) {
	if breaker == nil {
		return o.fetch(ctx, id, url, nil)
	}
	n, err := breaker.Execute(func() (interface{}, error) {
		return o.fetch(ctx, id, url, nil)
	})
	if err != nil {
		return 0, err
	}
	return n.(int64), nil
}

// fetch applies the optional per-fetch timeout
func (o *Orchestrator) fetch(ctx context.Context, id, url string, w io.Writer) (int64, error) {
	if o.config.FetchTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.config.FetchTimeout)
		defer cancel()
	}
	return o.fetcher.Fetch(ctx, id, url, w)
}

// pause waits segment_delay unless the job is cancelled first
func (o *Orchestrator) pause(ctx context.Context) error {
	if o.config.SegmentDelay <= 0 {
		return nil
	}
	timer := time.NewTimer(o.config.SegmentDelay)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return context.Cause(ctx)
	}
}

// Cancel stops a running or queued job and records it as cancelled.
// Jobs that already finished are left untouched.
//
// A running job keeps its slot until its goroutine unwinds and persists
// the cancelled status itself. Cancel does not wait for that, since it
// may be called from one of the job's own progress handlers.
func (o *Orchestrator) Cancel(id string) error {
	o.mu.Lock()
	rj, running := o.active[id]
	repeated := running && rj.cancelling
	if running {
		rj.cancelling = true
	}
	queued := o.dequeueLocked(id)
	o.metrics.SetQueueDepth(len(o.active), len(o.queue))
	o.mu.Unlock()

	if running {
		rj.cancel(domain.ErrJobCancelled)
		if !repeated {
			o.logger.Info("Download cancel requested", zap.String("id", id), zap.Bool("was_running", true))
		}
		return nil
	}

	if !queued {
		job, err := o.repo.Get(id)
		if err != nil {
			return fmt.Errorf("failed to look up download: %w", err)
		}
		if job == nil {
			return domain.ErrJobNotFound
		}
		if job.IsTerminal() {
			return nil
		}
	}

	if err := o.repo.SetStatus(id, domain.StatusCancelled, ""); err != nil {
		return fmt.Errorf("failed to mark download cancelled: %w", err)
	}
	if queued {
		o.logQueueEvent("download_cancelled", zap.String("id", id))
	}
	o.logger.Info("Download cancel requested", zap.String("id", id), zap.Bool("was_running", false))
	return nil
}

// dequeueLocked removes id from the wait queue
func (o *Orchestrator) dequeueLocked(id string) bool {
	for i, queuedID := range o.queue {
		if queuedID == id {
			o.queue = append(o.queue[:i], o.queue[i+1:]...)
			return true
		}
	}
	return false
}

// DeleteDownload cancels the job, removes its record and evicts its cached segments.
// Eviction is best effort and never restores the record. A job still unwinding
// is evicted again once it releases its slot.
func (o *Orchestrator) DeleteDownload(ctx context.Context, id string) error {
	o.mu.Lock()
	if rj, ok := o.active[id]; ok {
		rj.purge = true
	}
	o.mu.Unlock()

	if err := o.Cancel(id); err != nil && !errors.Is(err, domain.ErrJobNotFound) {
		return err
	}

	if err := o.repo.Delete(id); err != nil {
		return fmt.Errorf("failed to delete download: %w", err)
	}
	o.logQueueEvent("download_deleted", zap.String("id", id))

	o.evict(ctx, id)
	return nil
}

func (o *Orchestrator) evict(ctx context.Context, id string) {
	if o.cache == nil {
		return
	}
	if !o.cache.Evict(ctx, id) {
		o.logger.Warn("Cached segments not evicted", zap.String("id", id))
	}
}

// OnProgress subscribes fn to future progress events of id
func (o *Orchestrator) OnProgress(id string, fn func(domain.ProgressEvent)) func() {
	sub := o.bus.Subscribe(id, fn)
	var once sync.Once
	return func() {
		once.Do(func() { o.bus.Unsubscribe(id, sub) })
	}
}

// GetStatus returns the last persisted state of id, or nil
func (o *Orchestrator) GetStatus(id string) (*domain.Job, error) {
	return o.repo.Get(id)
}

// GetAll returns every stored job
func (o *Orchestrator) GetAll() ([]*domain.Job, error) {
	return o.repo.ListAll()
}

// ListByParent returns the jobs of one collection
func (o *Orchestrator) ListByParent(parentID string) ([]*domain.Job, error) {
	return o.repo.ListByParent(parentID)
}

// ListByStatus returns jobs in the given statuses
func (o *Orchestrator) ListByStatus(statuses ...domain.JobStatus) ([]*domain.Job, error) {
	return o.repo.ListByStatus(statuses...)
}

// GetStats returns aggregate counts by status
func (o *Orchestrator) GetStats() (*domain.JobStats, error) {
	return o.repo.GetStats()
}

// Rewriter returns the segment URL rewriter, nil when none was configured
func (o *Orchestrator) Rewriter() *playlist.Rewriter {
	return o.rewriter
}

// IsRunning reports whether Start has been called and Shutdown has not
func (o *Orchestrator) IsRunning() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.running
}

// IsActive reports whether id holds an execution slot right now.
// A cancelled job holds it until its goroutine has unwound.
func (o *Orchestrator) IsActive(id string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	_, ok := o.active[id]
	return ok
}

// ActiveCount returns how many jobs hold a slot
func (o *Orchestrator) ActiveCount() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.active)
}

// QueueLength returns how many jobs wait for a slot
func (o *Orchestrator) QueueLength() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.queue)
}

// CacheSize returns the cached bytes of id, zero without a cache
func (o *Orchestrator) CacheSize(ctx context.Context, id string) int64 {
	if o.cache == nil {
		return 0
	}
	return o.cache.CacheSize(ctx, id)
}

// ClearCache drops every cached segment
func (o *Orchestrator) ClearCache(ctx context.Context) bool {
	if o.cache == nil {
		return false
	}
	return o.cache.ClearAll(ctx)
}

package watcher

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/certiva/docpipe/internal/config"
	"github.com/certiva/docpipe/internal/models"
	"github.com/certiva/docpipe/internal/pipeline"
	"github.com/certiva/docpipe/internal/repository"
)

// Batch trigger reasons recorded on the batch run
const (
	TriggerSizeReached    = "SIZE_REACHED"
	TriggerTimeoutReached = "TIMEOUT_REACHED"
	TriggerStabilized     = "STABILIZED"
)

// Submitter is the pipeline surface the watcher drives
type Submitter interface {
	Submit(ctx context.Context, data []byte, filename, tenant string) (*pipeline.Result, error)
}

// HealthChecker reports whether the extraction provider is usable.
// A degraded provider aborts the batch before any file is consumed.
type HealthChecker interface {
	Healthy() bool
}

// SummarySink writes the per-batch summary workbook
type SummarySink interface {
	Write(run *models.BatchRun, docs []*models.Document) (string, error)
}

// fileState tracks one inbox file across scans for stabilization.
// A file is only eligible once its size and mtime have stopped
// changing for the quiet period.
type fileState struct {
	size      int64
	modTime   time.Time
	firstSeen time.Time
	lastGrow  time.Time
}

// BatchWatcher scans per-tenant inbox folders, groups stable files into
// batches and pushes them through the pipeline under an advisory lock.
type BatchWatcher struct {
	cfg       config.WatcherConfig
	pipe      Submitter
	docs      *repository.DocumentRepository
	locks     *repository.LockRepository
	batches   *repository.BatchRepository
	summary   SummarySink
	health    HealthChecker
	logger    *zap.Logger
	holder    string
	now       func() time.Time

	// State
	mu        sync.RWMutex
	isRunning bool
	ctx       context.Context
	cancel    context.CancelFunc
	pending   map[string]*fileState
	lastRun   *models.BatchRun
}

// NewBatchWatcher creates a batch watcher over the configured inbox root
func NewBatchWatcher(
	cfg config.WatcherConfig,
	pipe Submitter,
	docs *repository.DocumentRepository,
	locks *repository.LockRepository,
	batches *repository.BatchRepository,
	summary SummarySink,
	health HealthChecker,
	logger *zap.Logger,
) *BatchWatcher {
	hostname, _ := os.Hostname()
	return &BatchWatcher{
		cfg:     cfg,
		pipe:    pipe,
		docs:    docs,
		locks:   locks,
		batches: batches,
		summary: summary,
		health:  health,
		logger:  logger,
		holder:  fmt.Sprintf("%s:%d", hostname, os.Getpid()),
		now:     time.Now,
		pending: make(map[string]*fileState),
	}
}

// SetClock overrides the time source, used by tests
func (w *BatchWatcher) SetClock(now func() time.Time) {
	w.now = now
}

// Start starts the inbox scanning loop
func (w *BatchWatcher) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.isRunning {
		return fmt.Errorf("batch watcher is already running")
	}
	if err := os.MkdirAll(w.cfg.Root, 0o755); err != nil {
		return fmt.Errorf("failed to create inbox root: %w", err)
	}

	w.ctx, w.cancel = context.WithCancel(ctx)
	w.isRunning = true

	w.logInterrupted()

	w.logger.Info("BatchWatcher started",
		zap.String("root", w.cfg.Root),
		zap.String("pattern", w.cfg.Pattern),
		zap.Int("batch_size", w.cfg.BatchSize),
		zap.Duration("poll_interval", w.cfg.PollInterval))

	go w.scanLoop()

	return nil
}

// Stop stops the scanning loop
func (w *BatchWatcher) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.isRunning {
		return
	}

	w.isRunning = false
	if w.cancel != nil {
		w.cancel()
	}

	w.logger.Info("BatchWatcher stopped")
}

// Name returns the worker name for identification
func (w *BatchWatcher) Name() string {
	return "BatchWatcher"
}

// Status describes the watcher for the health endpoint
type Status struct {
	Running      bool             `json:"running"`
	PendingFiles int              `json:"pending_files"`
	Holder       string           `json:"holder"`
	LastRun      *models.BatchRun `json:"last_run,omitempty"`
}

// GetStatus returns a snapshot of the watcher state
func (w *BatchWatcher) GetStatus() Status {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return Status{
		Running:      w.isRunning,
		PendingFiles: len(w.pending),
		Holder:       w.holder,
		LastRun:      w.lastRun,
	}
}

// logInterrupted surfaces documents a previous run left mid-flight.
// Their files are still in the inbox (archival happens only after a
// terminal outcome), so the next scan picks them up and the content
// digest resumes them where they stopped.
func (w *BatchWatcher) logInterrupted() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	docs, err := w.docs.ListNonTerminal(ctx)
	if err != nil {
		w.logger.Warn("Failed to list interrupted documents", zap.Error(err))
		return
	}
	for _, doc := range docs {
		w.logger.Info("Resuming interrupted document on next scan",
			zap.String("doc_id", doc.ID.String()),
			zap.String("status", doc.Status),
			zap.String("filename", doc.Filename))
	}
}

// scanLoop runs the main polling loop
func (w *BatchWatcher) scanLoop() {
	ticker := time.NewTicker(w.cfg.PollInterval)
	defer ticker.Stop()

	// Scan immediately on start
	w.scan()

	for {
		select {
		case <-w.ctx.Done():
			w.logger.Debug("Scan loop context cancelled")
			return

		case <-ticker.C:
			w.scan()
		}
	}
}

// scan observes each tenant source, updates stabilization state and
// dispatches a batch when a trigger fires
func (w *BatchWatcher) scan() {
	sources, err := w.listSources()
	if err != nil {
		w.logger.Error("Failed to list inbox sources", zap.Error(err))
		return
	}

	for _, source := range sources {
		files, reason := w.observeSource(source)
		if reason == "" {
			continue
		}
		w.runBatch(source, files, reason)
	}
}

// listSources returns the per-tenant inbox folders. Each immediate
// subdirectory of the root is one tenant; a root with no subdirectories
// is a single default source.
func (w *BatchWatcher) listSources() ([]string, error) {
	entries, err := os.ReadDir(w.cfg.Root)
	if err != nil {
		return nil, fmt.Errorf("failed to read inbox root: %w", err)
	}

	var sources []string
	for _, e := range entries {
		if e.IsDir() {
			sources = append(sources, filepath.Join(w.cfg.Root, e.Name()))
		}
	}
	if len(sources) == 0 {
		sources = []string{w.cfg.Root}
	}
	return sources, nil
}

// observeSource refreshes file state for one source and decides whether
// a batch is due. Returns the eligible files and the trigger reason, or
// an empty reason when the batch is not due yet.
func (w *BatchWatcher) observeSource(source string) ([]string, string) {
	now := w.now()

	matches, err := filepath.Glob(filepath.Join(source, w.cfg.Pattern))
	if err != nil {
		w.logger.Error("Bad watch pattern", zap.String("pattern", w.cfg.Pattern), zap.Error(err))
		return nil, ""
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	seen := make(map[string]bool, len(matches))
	var stable []string
	var oldestSeen time.Time
	growing := false

	for _, path := range matches {
		info, err := os.Stat(path)
		if err != nil {
			continue // removed between glob and stat
		}
		seen[path] = true

		st, ok := w.pending[path]
		if !ok {
			st = &fileState{firstSeen: now, lastGrow: now}
			w.pending[path] = st
		}
		if info.Size() != st.size || !info.ModTime().Equal(st.modTime) {
			st.size = info.Size()
			st.modTime = info.ModTime()
			st.lastGrow = now
		}

		if oldestSeen.IsZero() || st.firstSeen.Before(oldestSeen) {
			oldestSeen = st.firstSeen
		}
		if now.Sub(st.lastGrow) >= w.cfg.StabilizeFor {
			stable = append(stable, path)
		} else {
			growing = true
		}
	}

	// Forget files that disappeared
	for path := range w.pending {
		if filepath.Dir(path) == source && !seen[path] {
			delete(w.pending, path)
		}
	}

	switch {
	case len(stable) >= w.cfg.BatchSize:
		return stable[:w.cfg.BatchSize], TriggerSizeReached
	case len(stable) > 0 && now.Sub(oldestSeen) >= w.cfg.BatchTimeout:
		return stable, TriggerTimeoutReached
	case len(stable) > 0 && !growing:
		return stable, TriggerStabilized
	default:
		return nil, ""
	}
}

// runBatch processes one batch of stable files under the source lock
func (w *BatchWatcher) runBatch(source string, files []string, reason string) {
	log := w.logger.With(zap.String("source", source), zap.String("trigger", reason))

	if !w.health.Healthy() {
		log.Warn("Extraction provider degraded, deferring batch",
			zap.Int("files", len(files)))
		return
	}

	ctx := w.ctx
	if err := w.locks.Acquire(ctx, source, w.holder, w.cfg.LockWindow); err != nil {
		if errors.Is(err, repository.ErrLockHeld) {
			log.Info("Source locked by another instance, skipping")
		} else {
			log.Error("Failed to acquire source lock", zap.Error(err))
		}
		return
	}
	defer func() {
		if err := w.locks.Release(context.Background(), source, w.holder); err != nil {
			log.Warn("Failed to release source lock", zap.Error(err))
		}
	}()

	run := &models.BatchRun{
		Source:        source,
		TriggerReason: reason,
		DocCount:      len(files),
		StartedAt:     w.now().UTC(),
	}
	if err := w.batches.Start(ctx, run); err != nil {
		log.Error("Failed to record batch start", zap.Error(err))
		return
	}
	log.Info("Batch started", zap.String("batch_id", run.ID), zap.Int("files", len(files)))

	heartbeatDone := w.startHeartbeat(ctx, source)
	defer heartbeatDone()

	results := w.processFiles(ctx, source, files, log)

	var docs []*models.Document
	for _, res := range results {
		switch res.Status {
		case models.StatusPosted:
			run.PostedCount++
		case models.StatusReviewPending:
			run.ReviewCount++
		default:
			run.ErrorCount++
		}
		if doc, err := w.docs.GetByID(ctx, res.DocID); err == nil {
			docs = append(docs, doc)
		}
	}
	// Files that never produced a result still count as errors
	run.ErrorCount += len(files) - len(results)

	if err := w.batches.Finish(ctx, run); err != nil {
		log.Error("Failed to record batch finish", zap.Error(err))
	}

	if w.summary != nil {
		if path, err := w.summary.Write(run, docs); err != nil {
			log.Warn("Failed to write batch summary", zap.Error(err))
		} else {
			log.Info("Batch summary written", zap.String("path", path))
		}
	}

	w.mu.Lock()
	w.lastRun = run
	w.mu.Unlock()

	log.Info("Batch finished",
		zap.String("batch_id", run.ID),
		zap.Int("posted", run.PostedCount),
		zap.Int("review", run.ReviewCount),
		zap.Int("errors", run.ErrorCount))
}

// processFiles submits the batch with bounded concurrency. One file
// failing never aborts its siblings.
func (w *BatchWatcher) processFiles(ctx context.Context, source string, files []string, log *zap.Logger) []*pipeline.Result {
	tenant := filepath.Base(source)

	concurrency := w.cfg.Concurrency
	if concurrency < 1 {
		concurrency = 1
	}

	var mu sync.Mutex
	results := make([]*pipeline.Result, 0, len(files))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)

	for _, path := range files {
		path := path
		g.Go(func() error {
			res := w.processFile(gctx, path, tenant, log)
			if res != nil {
				mu.Lock()
				results = append(results, res)
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()

	w.mu.Lock()
	for _, path := range files {
		delete(w.pending, path)
	}
	w.mu.Unlock()

	return results
}

// processFile pushes one file through the pipeline and archives it once
// the outcome is terminal. An infrastructure failure leaves the file in
// the inbox for the next batch.
func (w *BatchWatcher) processFile(ctx context.Context, path, tenant string, log *zap.Logger) *pipeline.Result {
	data, err := os.ReadFile(path)
	if err != nil {
		log.Error("Failed to read inbox file", zap.String("path", path), zap.Error(err))
		return nil
	}

	res, err := w.pipe.Submit(ctx, data, filepath.Base(path), tenant)
	if err != nil {
		log.Error("Failed to process inbox file", zap.String("path", path), zap.Error(err))
		return nil
	}

	w.archive(path, tenant, res.Status, log)
	return res
}

// archive moves a handled file out of the inbox. Errored documents land
// in a separate folder so a corrupt file cannot loop through batches.
func (w *BatchWatcher) archive(path, tenant, status string, log *zap.Logger) {
	if w.cfg.SkipArchive {
		return
	}

	dir := filepath.Join(w.cfg.ArchiveDir, tenant)
	if status == models.StatusError {
		dir = filepath.Join(dir, "errors")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		log.Warn("Failed to create archive dir", zap.String("dir", dir), zap.Error(err))
		return
	}

	dest := filepath.Join(dir, filepath.Base(path))
	if err := os.Rename(path, dest); err != nil {
		log.Warn("Failed to archive file", zap.String("path", path), zap.Error(err))
	}
}

// startHeartbeat refreshes the source lock while the batch runs.
// The returned func stops the heartbeat.
func (w *BatchWatcher) startHeartbeat(ctx context.Context, source string) func() {
	interval := w.cfg.LockWindow / 3
	if interval <= 0 {
		interval = time.Minute
	}

	hctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})

	go func() {
		defer close(done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-hctx.Done():
				return
			case <-ticker.C:
				if err := w.locks.Heartbeat(hctx, source, w.holder); err != nil {
					w.logger.Warn("Lock heartbeat failed",
						zap.String("source", source), zap.Error(err))
				}
			}
		}
	}()

	return func() {
		cancel()
		<-done
	}
}

package infrastructure

import (
	"bytes"
	"context"
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/yourusername/episode-offline-go/internal/domain"
	"go.uber.org/zap"
)

const (
	partSuffix        = ".part"
	progressEvery     = 256 * 1024
	workerEventBuffer = 64
)

// cacheEnvelope pairs a request with the private channel its reply goes to
type cacheEnvelope struct {
	request domain.CacheRequest
	reply   chan<- domain.CacheReply
}

// SegmentCacheWorker owns the on-disk segment cache.
// Requests reach it through Deliver; segment bodies are written through Transport.
type SegmentCacheWorker struct {
	dir      string
	upstream http.RoundTripper
	logger   *zap.Logger

	inbox  chan cacheEnvelope
	events chan domain.WorkerEvent

	mu      sync.Mutex
	running bool
	done    chan struct{}
}

// NewSegmentCacheWorker creates a stopped worker rooted at dir
func NewSegmentCacheWorker(dir string, upstream http.RoundTripper, logger *zap.Logger) *SegmentCacheWorker {
	if upstream == nil {
		upstream = http.DefaultTransport
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SegmentCacheWorker{
		dir:      dir,
		upstream: upstream,
		logger:   logger,
		inbox:    make(chan cacheEnvelope),
		events:   make(chan domain.WorkerEvent, workerEventBuffer),
	}
}

// Dir returns the cache root
func (w *SegmentCacheWorker) Dir() string {
	return w.dir
}

// Start launches the worker loop. Calling it on a running worker is a no-op.
func (w *SegmentCacheWorker) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.running {
		return nil
	}
	if err := os.MkdirAll(w.dir, 0755); err != nil {
		return fmt.Errorf("failed to create cache directory: %w", err)
	}

	w.running = true
	w.done = make(chan struct{})
	go w.loop(ctx, w.done)

	w.logger.Info("Segment cache worker started", zap.String("dir", w.dir))
	return nil
}

// Stop halts the loop; pending Deliver calls fail with ErrNoActiveWorker
func (w *SegmentCacheWorker) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.running {
		return
	}
	w.running = false
	close(w.done)
	w.logger.Info("Segment cache worker stopped")
}

// Active reports whether the worker is controlling the cache
func (w *SegmentCacheWorker) Active() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.running
}

// Events returns the stream of unsolicited notifications
func (w *SegmentCacheWorker) Events() <-chan domain.WorkerEvent {
	return w.events
}

// Deliver hands a request to the running loop
func (w *SegmentCacheWorker) Deliver(ctx context.Context, req domain.CacheRequest, reply chan<- domain.CacheReply) error {
	w.mu.Lock()
	running, done := w.running, w.done
	w.mu.Unlock()

	if !running {
		return domain.ErrNoActiveWorker
	}

	select {
	case w.inbox <- cacheEnvelope{request: req, reply: reply}:
		return nil
	case <-done:
		return domain.ErrNoActiveWorker
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (w *SegmentCacheWorker) loop(ctx context.Context, done <-chan struct{}) {
	for {
		select {
		case env := <-w.inbox:
			reply := w.handle(env.request)
			reply.RequestID = env.request.RequestID
			select {
			case env.reply <- reply:
			default:
				w.logger.Debug("Dropped cache reply without receiver",
					zap.String("type", string(env.request.Type)))
			}
		case <-done:
			return
		case <-ctx.Done():
			w.Stop()
			return
		}
	}
}

func (w *SegmentCacheWorker) handle(req domain.CacheRequest) domain.CacheReply {
	switch req.Type {
	case domain.CacheClear:
		if err := os.RemoveAll(w.jobDir(req.ID)); err != nil {
			return domain.CacheReply{Error: err.Error()}
		}
		return domain.CacheReply{Success: true}
	case domain.CacheGetSize:
		size, err := dirSize(w.jobDir(req.ID))
		if err != nil {
			return domain.CacheReply{Error: err.Error()}
		}
		return domain.CacheReply{Size: size}
	case domain.CacheClearAll:
		entries, err := os.ReadDir(w.dir)
		if err != nil && !errors.Is(err, fs.ErrNotExist) {
			return domain.CacheReply{Error: err.Error()}
		}
		for _, e := range entries {
			if err := os.RemoveAll(filepath.Join(w.dir, e.Name())); err != nil {
				return domain.CacheReply{Error: err.Error()}
			}
		}
		return domain.CacheReply{Success: true}
	default:
		return domain.CacheReply{Error: fmt.Sprintf("unknown request type: %s", req.Type)}
	}
}

func (w *SegmentCacheWorker) jobDir(jobID string) string {
	return filepath.Join(w.dir, hashKey(jobID))
}

func (w *SegmentCacheWorker) entryPath(jobID, url string) string {
	return filepath.Join(w.jobDir(jobID), hashKey(url))
}

func (w *SegmentCacheWorker) emit(event domain.WorkerEvent) {
	select {
	case w.events <- event:
	default:
		w.logger.Debug("Dropped cache worker event", zap.String("type", string(event.Type)), zap.String("id", event.ID))
	}
}

// Transport returns a RoundTripper that serves and fills the cache.
// Only GET requests tagged with the job header are cached, and only while the worker runs.
func (w *SegmentCacheWorker) Transport() http.RoundTripper {
	return &cachingTransport{worker: w}
}

type cachingTransport struct {
	worker *SegmentCacheWorker
}

func (t *cachingTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	w := t.worker
	jobID := req.Header.Get(domain.JobHeader)

	outbound := req
	if jobID != "" {
		outbound = req.Clone(req.Context())
		outbound.Header.Del(domain.JobHeader)
	}

	if jobID == "" || req.Method != http.MethodGet || !w.Active() {
		return w.upstream.RoundTrip(outbound)
	}

	url := req.URL.String()
	path := w.entryPath(jobID, url)

	if data, err := os.ReadFile(path); err == nil {
		w.logger.Debug("Segment cache hit", zap.String("job_id", jobID), zap.String("url", url))
		return cachedResponse(req, data), nil
	}

	resp, err := w.upstream.RoundTrip(outbound)
	if err != nil || resp.StatusCode != http.StatusOK {
		return resp, err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		w.logger.Warn("Failed to create job cache directory", zap.String("job_id", jobID), zap.Error(err))
		return resp, nil
	}
	part, err := os.CreateTemp(filepath.Dir(path), "seg-*"+partSuffix)
	if err != nil {
		w.logger.Warn("Failed to create cache entry", zap.String("job_id", jobID), zap.Error(err))
		return resp, nil
	}

	resp.Body = &teeBody{
		src:    resp.Body,
		part:   part,
		final:  path,
		jobID:  jobID,
		url:    url,
		worker: w,
	}
	resp.Header.Set("X-Cache", "MISS")
	return resp, nil
}

func cachedResponse(req *http.Request, data []byte) *http.Response {
	header := make(http.Header)
	header.Set("X-Cache", "HIT")
	header.Set("Content-Length", strconv.Itoa(len(data)))
	return &http.Response{
		Status:        "200 OK",
		StatusCode:    http.StatusOK,
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        header,
		Body:          io.NopCloser(bytes.NewReader(data)),
		ContentLength: int64(len(data)),
		Request:       req,
	}
}

// teeBody copies the upstream body into a .part file and promotes it on EOF
type teeBody struct {
	src    io.ReadCloser
	part   *os.File
	final  string
	jobID  string
	url    string
	worker *SegmentCacheWorker

	written    int64
	lastReport int64
	failed     bool
	finished   bool
}

func (b *teeBody) Read(p []byte) (int, error) {
	n, err := b.src.Read(p)
	if n > 0 && !b.failed {
		if _, werr := b.part.Write(p[:n]); werr != nil {
			b.fail(werr)
		} else {
			b.written += int64(n)
			if b.written-b.lastReport >= progressEvery {
				b.lastReport = b.written
				b.worker.emit(domain.WorkerEvent{Type: domain.EventDownloadProgress, ID: b.jobID, Data: b.written})
			}
		}
	}
	if errors.Is(err, io.EOF) {
		b.commit()
	}
	return n, err
}

func (b *teeBody) fail(err error) {
	b.failed = true
	b.part.Close()
	os.Remove(b.part.Name())
	b.worker.logger.Warn("Failed to write cache entry", zap.String("job_id", b.jobID), zap.Error(err))
	b.worker.emit(domain.WorkerEvent{Type: domain.EventDownloadError, ID: b.jobID, Data: err.Error()})
}

func (b *teeBody) commit() {
	if b.finished || b.failed {
		return
	}
	b.finished = true
	if err := b.part.Close(); err != nil {
		os.Remove(b.part.Name())
		b.worker.emit(domain.WorkerEvent{Type: domain.EventDownloadError, ID: b.jobID, Data: err.Error()})
		return
	}
	if err := os.Rename(b.part.Name(), b.final); err != nil {
		os.Remove(b.part.Name())
		b.worker.emit(domain.WorkerEvent{Type: domain.EventDownloadError, ID: b.jobID, Data: err.Error()})
		return
	}
	b.worker.emit(domain.WorkerEvent{Type: domain.EventDownloadComplete, ID: b.jobID, Data: b.url})
}

func (b *teeBody) Close() error {
	if !b.finished && !b.failed {
		// Partial bodies never become entries
		b.failed = true
		b.part.Close()
		os.Remove(b.part.Name())
	}
	return b.src.Close()
}

func hashKey(s string) string {
	sum := sha1.Sum([]byte(s))
	return hex.EncodeToString(sum[:])
}

// dirSize sums regular files under dir, ignoring in-flight .part files.
// A missing directory has size zero.
func dirSize(dir string) (int64, error) {
	var total int64
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		if d.IsDir() || strings.HasSuffix(d.Name(), partSuffix) {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		total += info.Size()
		return nil
	})
	return total, err
}

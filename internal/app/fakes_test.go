package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/yourusername/episode-offline-go/internal/domain"
)

// memoryRepo implements domain.JobRepository in memory
type memoryRepo struct {
	mu     sync.Mutex
	jobs   map[string]*domain.Job
	starts []string

	// SetStatus to one of these statuses returns the mapped error
	statusErrs map[domain.JobStatus]error
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{jobs: make(map[string]*domain.Job)}
}

func copyJob(j *domain.Job) *domain.Job {
	cp := *j
	if j.BytesTotal != nil {
		v := *j.BytesTotal
		cp.BytesTotal = &v
	}
	if j.CompletedAt != nil {
		v := *j.CompletedAt
		cp.CompletedAt = &v
	}
	return &cp
}

func (m *memoryRepo) Upsert(job *domain.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.jobs[job.ID] = copyJob(job)
	return nil
}

func (m *memoryRepo) Get(id string) (*domain.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if j, ok := m.jobs[id]; ok {
		return copyJob(j), nil
	}
	return nil, nil
}

func (m *memoryRepo) list(keep func(*domain.Job) bool) []*domain.Job {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*domain.Job
	for _, j := range m.jobs {
		if keep(j) {
			out = append(out, copyJob(j))
		}
	}
	sort.Slice(out, func(a, b int) bool { return out[a].StartedAt.Before(out[b].StartedAt) })
	return out
}

func (m *memoryRepo) ListAll() ([]*domain.Job, error) {
	return m.list(func(*domain.Job) bool { return true }), nil
}

func (m *memoryRepo) ListByParent(parentID string) ([]*domain.Job, error) {
	out := m.list(func(j *domain.Job) bool { return j.ParentID == parentID })
	sort.Slice(out, func(a, b int) bool { return out[a].Ordinal < out[b].Ordinal })
	return out, nil
}

func (m *memoryRepo) ListByStatus(statuses ...domain.JobStatus) ([]*domain.Job, error) {
	return m.list(func(j *domain.Job) bool {
		for _, s := range statuses {
			if j.Status == s {
				return true
			}
		}
		return false
	}), nil
}

func (m *memoryRepo) Delete(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.jobs, id)
	return nil
}

func (m *memoryRepo) SetProgress(id string, percent float64, segmentsDone int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok {
		return nil
	}
	j.ProgressPercent = percent
	j.SegmentsDone = segmentsDone
	if percent >= 100 {
		now := time.Now()
		j.ProgressPercent = 100
		j.Status = domain.StatusCompleted
		j.CompletedAt = &now
	}
	return nil
}

func (m *memoryRepo) SetStatus(id string, status domain.JobStatus, errMsg string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.statusErrs[status]; err != nil {
		return err
	}
	j, ok := m.jobs[id]
	if !ok {
		return nil
	}
	j.Status = status
	j.Error = errMsg
	if status == domain.StatusRunning {
		m.starts = append(m.starts, id)
	}
	if status == domain.StatusCompleted && j.CompletedAt == nil {
		now := time.Now()
		j.CompletedAt = &now
	}
	return nil
}

func (m *memoryRepo) SetSegmentTotal(id string, total int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if j, ok := m.jobs[id]; ok {
		j.SegmentTotal = total
	}
	return nil
}

func (m *memoryRepo) SetTransfer(id string, stats domain.TransferStats) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if j, ok := m.jobs[id]; ok {
		j.BytesDone = stats.BytesDone
		j.BytesTotal = stats.BytesTotal
		j.SegmentsFailed = stats.SegmentsFailed
	}
	return nil
}

func (m *memoryRepo) GetStats() (*domain.JobStats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	stats := &domain.JobStats{Total: int64(len(m.jobs))}
	for _, j := range m.jobs {
		switch j.Status {
		case domain.StatusPending:
			stats.Pending++
		case domain.StatusRunning:
			stats.Running++
		case domain.StatusCompleted:
			stats.Completed++
		case domain.StatusFailed:
			stats.Failed++
		case domain.StatusCancelled:
			stats.Cancelled++
		}
	}
	return stats, nil
}

func (m *memoryRepo) startOrder() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.starts...)
}

func (m *memoryRepo) status(id string) domain.JobStatus {
	j, _ := m.Get(id)
	if j == nil {
		return ""
	}
	return j.Status
}

// scriptedFetcher serves manifests by URL and a fixed body for anything else
type scriptedFetcher struct {
	mu           sync.Mutex
	manifests    map[string]string
	failing      map[string]bool
	gates        map[string]chan struct{}
	calls        []string
	inflight     int
	maxInflight  int
	segmentBytes int
}

func newScriptedFetcher() *scriptedFetcher {
	return &scriptedFetcher{
		manifests:    make(map[string]string),
		failing:      make(map[string]bool),
		gates:        make(map[string]chan struct{}),
		segmentBytes: 100,
	}
}

func manifestURL(id string) string {
	return "https://cdn.example/" + id + "/index.m3u8"
}

func segmentURL(id string, i int) string {
	return fmt.Sprintf("https://cdn.example/%s/seg%d.ts", id, i)
}

// addEpisode registers a manifest listing n relative segments
func (f *scriptedFetcher) addEpisode(id string, n int) {
	var b strings.Builder
	b.WriteString("#EXTM3U\n")
	for i := 0; i < n; i++ {
		fmt.Fprintf(&b, "#EXTINF:4.0,\nseg%d.ts\n", i)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.manifests[manifestURL(id)] = b.String()
}

func (f *scriptedFetcher) setManifest(id, text string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.manifests[manifestURL(id)] = text
}

func (f *scriptedFetcher) fail(url string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failing[url] = true
}

// gate blocks fetches of url until the returned func is called
func (f *scriptedFetcher) gate(url string) func() {
	ch := make(chan struct{})
	f.mu.Lock()
	f.gates[url] = ch
	f.mu.Unlock()
	var once sync.Once
	return func() { once.Do(func() { close(ch) }) }
}

func (f *scriptedFetcher) Fetch(ctx context.Context, jobID, url string, w io.Writer) (int64, error) {
	f.mu.Lock()
	f.calls = append(f.calls, url)
	f.inflight++
	if f.inflight > f.maxInflight {
		f.maxInflight = f.inflight
	}
	gate := f.gates[url]
	failing := f.failing[url]
	manifest, isManifest := f.manifests[url]
	f.mu.Unlock()

	defer func() {
		f.mu.Lock()
		f.inflight--
		f.mu.Unlock()
	}()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return 0, ctx.Err()
		}
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if failing {
		return 0, errors.New("bad status: 404 Not Found")
	}

	body := manifest
	if !isManifest {
		body = strings.Repeat("x", f.segmentBytes)
	}
	if w == nil {
		w = io.Discard
	}
	n, err := io.WriteString(w, body)
	return int64(n), err
}

func (f *scriptedFetcher) callsFor(prefix string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, c := range f.calls {
		if strings.HasPrefix(c, prefix) {
			out = append(out, c)
		}
	}
	return out
}

func (f *scriptedFetcher) peakInflight() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.maxInflight
}

// recordingCache implements domain.CacheCoordinator
type recordingCache struct {
	mu          sync.Mutex
	available   bool
	evictResult bool
	installs    int
	evicted     []string
}

func (c *recordingCache) IsAvailable() bool { return c.available }

func (c *recordingCache) Install(ctx context.Context) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.installs++
	return c.available
}

func (c *recordingCache) Evict(ctx context.Context, id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.evicted = append(c.evicted, id)
	return c.evictResult
}

func (c *recordingCache) CacheSize(ctx context.Context, id string) int64 { return 0 }

func (c *recordingCache) ClearAll(ctx context.Context) bool { return c.evictResult }

func (c *recordingCache) OnMessage(domain.WorkerEventType, func(domain.WorkerEvent)) func() {
	return func() {}
}

func (c *recordingCache) evictions() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.evicted...)
}

// progressLog collects events for one job
type progressLog struct {
	mu     sync.Mutex
	events []domain.ProgressEvent
}

func (p *progressLog) add(e domain.ProgressEvent) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
}

func (p *progressLog) segmentsDone() []int {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]int, len(p.events))
	for i, e := range p.events {
		out[i] = e.SegmentsDone
	}
	return out
}

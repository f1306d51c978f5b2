package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/yourusername/episode-offline-go/api/handlers"
	"github.com/yourusername/episode-offline-go/internal/app"
	"github.com/yourusername/episode-offline-go/internal/domain"
	"github.com/yourusername/episode-offline-go/internal/infrastructure"
	"github.com/yourusername/episode-offline-go/pkg/logger"
)

const (
	waitFor      = 5 * time.Second
	tick         = 10 * time.Millisecond
	segmentBytes = 100
)

// upstream serves <id>/index.m3u8 with three segments and fixed-size segment bodies.
// Segments of gated episodes block until released.
type upstream struct {
	server *httptest.Server

	mu    sync.Mutex
	gates map[string]chan struct{}
}

func newUpstream(t *testing.T) *upstream {
	t.Helper()
	u := &upstream{gates: make(map[string]chan struct{})}
	u.server = httptest.NewServer(http.HandlerFunc(u.serve))
	t.Cleanup(u.server.Close)
	return u
}

func (u *upstream) serve(w http.ResponseWriter, r *http.Request) {
	parts := strings.Split(strings.Trim(r.URL.Path, "/"), "/")
	if len(parts) != 2 {
		http.NotFound(w, r)
		return
	}
	id, name := parts[0], parts[1]

	if name == "index.m3u8" {
		w.Header().Set("Content-Type", "application/vnd.apple.mpegurl")
		fmt.Fprint(w, "#EXTM3U\n#EXT-X-TARGETDURATION:4\n")
		for i := 0; i < 3; i++ {
			fmt.Fprintf(w, "#EXTINF:4.0,\nseg%d.ts\n", i)
		}
		fmt.Fprint(w, "#EXT-X-ENDLIST\n")
		return
	}

	u.mu.Lock()
	gate := u.gates[id]
	u.mu.Unlock()
	if gate != nil {
		select {
		case <-gate:
		case <-r.Context().Done():
			return
		}
	}

	w.Header().Set("Content-Type", "video/mp2t")
	w.Write(bytes.Repeat([]byte("x"), segmentBytes))
}

// gate holds segment responses of id until the returned func is called
func (u *upstream) gate(t *testing.T, id string) func() {
	ch := make(chan struct{})
	u.mu.Lock()
	u.gates[id] = ch
	u.mu.Unlock()
	var once sync.Once
	release := func() { once.Do(func() { close(ch) }) }
	t.Cleanup(release)
	return release
}

func (u *upstream) manifestURL(id string) string {
	return u.server.URL + "/" + id + "/index.m3u8"
}

type apiFixture struct {
	upstream     *upstream
	server       *httptest.Server
	orchestrator *app.Orchestrator
}

func setupTestServer(t *testing.T) *apiFixture {
	t.Helper()
	tmpDir := t.TempDir()

	config := domain.DefaultConfig()
	config.Download.SegmentDelay = 0
	config.Download.LogsDir = filepath.Join(tmpDir, "logs")
	config.Store.DatabasePath = filepath.Join(tmpDir, "downloads.db")
	config.Cache.Dir = filepath.Join(tmpDir, "segments")
	config.Proxy.AllowedHosts = []string{"127.0.0.1"}

	up := newUpstream(t)
	log := zap.NewNop()

	repo := infrastructure.NewSQLiteJobRepository(config.Store.DatabasePath)
	worker := infrastructure.NewSegmentCacheWorker(config.Cache.Dir, http.DefaultTransport, log)
	cache := infrastructure.NewCacheCoordinator(&config.Cache, worker, log)
	fetcher := infrastructure.NewHTTPFetcher(&http.Client{Transport: worker.Transport()}, log)
	metrics := infrastructure.NewMetrics()

	multiLogger, err := logger.NewMultiLogger(logger.MultiLoggerConfig{Level: "info", LogsDir: config.Download.LogsDir})
	require.NoError(t, err)

	orch := app.NewOrchestrator(repo, fetcher, cache, app.NewProgressBus(), nil, &config.Download, log)
	orch.SetMetrics(metrics)
	orch.SetEventLogger(multiLogger)
	require.NoError(t, orch.Start(context.Background()))

	router := SetupRouter(orch, logger.NewLoggerAdapter(log, multiLogger), metrics, config, nil)
	server := httptest.NewServer(router)

	t.Cleanup(func() {
		server.Close()
		ctx, cancel := context.WithTimeout(context.Background(), waitFor)
		defer cancel()
		orch.Shutdown(ctx)
		cache.Uninstall()
		repo.Close()
		multiLogger.Close()
	})

	return &apiFixture{upstream: up, server: server, orchestrator: orch}
}

func (f *apiFixture) add(t *testing.T, id string) *http.Response {
	t.Helper()
	payload, err := json.Marshal(handlers.AddDownloadRequest{
		ID:        id,
		ParentID:  "series-1",
		Label:     "Episode " + id,
		SourceURL: f.upstream.manifestURL(id),
	})
	require.NoError(t, err)

	resp, err := http.Post(f.server.URL+"/api/v1/downloads", "application/json", bytes.NewReader(payload))
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func (f *apiFixture) get(t *testing.T, path string) (int, []byte) {
	t.Helper()
	resp, err := http.Get(f.server.URL + path)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, body
}

func (f *apiFixture) do(t *testing.T, method, path string) int {
	t.Helper()
	req, err := http.NewRequest(method, f.server.URL+path, nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	return resp.StatusCode
}

func (f *apiFixture) waitStatus(t *testing.T, id string, status domain.JobStatus) {
	t.Helper()
	require.Eventually(t, func() bool {
		job, err := f.orchestrator.GetStatus(id)
		return err == nil && job != nil && job.Status == status
	}, waitFor, tick)
}

func TestAPI_Health(t *testing.T) {
	f := setupTestServer(t)

	code, body := f.get(t, "/health")
	assert.Equal(t, http.StatusOK, code)

	var health handlers.HealthResponse
	require.NoError(t, json.Unmarshal(body, &health))
	assert.Equal(t, "ok", health.Status)
	assert.True(t, health.Queue.Running)

	code, _ = f.get(t, "/ready")
	assert.Equal(t, http.StatusOK, code)
}

func TestAPI_NotReadyAfterShutdown(t *testing.T) {
	f := setupTestServer(t)
	require.NoError(t, f.orchestrator.Shutdown(context.Background()))

	code, _ := f.get(t, "/ready")
	assert.Equal(t, http.StatusServiceUnavailable, code)

	resp := f.add(t, "ep1")
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestAPI_AddDownloadCompletes(t *testing.T) {
	f := setupTestServer(t)

	resp := f.add(t, "ep1")
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)

	var job domain.Job
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&job))
	assert.Equal(t, "ep1", job.ID)
	assert.Equal(t, "series-1", job.ParentID)

	f.waitStatus(t, "ep1", domain.StatusCompleted)

	code, body := f.get(t, "/api/v1/downloads/ep1")
	require.Equal(t, http.StatusOK, code)

	var result struct {
		Download domain.Job `json:"download"`
		Active   bool       `json:"active"`
	}
	require.NoError(t, json.Unmarshal(body, &result))
	assert.Equal(t, domain.StatusCompleted, result.Download.Status)
	assert.Equal(t, 3, result.Download.SegmentTotal)
	assert.Equal(t, int64(3*segmentBytes), result.Download.BytesDone)
}

func TestAPI_AddDownloadValidation(t *testing.T) {
	f := setupTestServer(t)

	resp, err := http.Post(f.server.URL+"/api/v1/downloads", "application/json", strings.NewReader(`{"id":"ep1"}`))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp2, err := http.Post(f.server.URL+"/api/v1/downloads", "application/json", strings.NewReader(`not json`))
	require.NoError(t, err)
	defer resp2.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp2.StatusCode)
}

func TestAPI_GetUnknownDownload(t *testing.T) {
	f := setupTestServer(t)

	code, _ := f.get(t, "/api/v1/downloads/missing")
	assert.Equal(t, http.StatusNotFound, code)

	code, _ = f.get(t, "/api/v1/downloads/missing/progress")
	assert.Equal(t, http.StatusNotFound, code)
}

func TestAPI_ListAndStats(t *testing.T) {
	f := setupTestServer(t)

	f.add(t, "ep1")
	f.add(t, "ep2")
	f.waitStatus(t, "ep1", domain.StatusCompleted)
	f.waitStatus(t, "ep2", domain.StatusCompleted)

	code, body := f.get(t, "/api/v1/downloads?parent_id=series-1")
	require.Equal(t, http.StatusOK, code)
	var jobs []domain.Job
	require.NoError(t, json.Unmarshal(body, &jobs))
	assert.Len(t, jobs, 2)

	code, body = f.get(t, "/api/v1/downloads?status=failed,cancelled")
	require.Equal(t, http.StatusOK, code)
	assert.JSONEq(t, `[]`, string(body))

	code, _ = f.get(t, "/api/v1/downloads?status=bogus")
	assert.Equal(t, http.StatusBadRequest, code)

	code, body = f.get(t, "/api/v1/downloads/stats")
	require.Equal(t, http.StatusOK, code)
	var stats struct {
		Stats domain.JobStats `json:"stats"`
	}
	require.NoError(t, json.Unmarshal(body, &stats))
	assert.Equal(t, int64(2), stats.Stats.Total)
	assert.Equal(t, int64(2), stats.Stats.Completed)
}

func TestAPI_CancelRunningDownload(t *testing.T) {
	f := setupTestServer(t)
	f.upstream.gate(t, "ep1")

	f.add(t, "ep1")
	f.waitStatus(t, "ep1", domain.StatusRunning)

	assert.Equal(t, http.StatusOK, f.do(t, http.MethodPost, "/api/v1/downloads/ep1/cancel"))
	f.waitStatus(t, "ep1", domain.StatusCancelled)

	assert.Equal(t, http.StatusNotFound, f.do(t, http.MethodPost, "/api/v1/downloads/ghost/cancel"))
}

func TestAPI_DeleteDownload(t *testing.T) {
	f := setupTestServer(t)

	f.add(t, "ep1")
	f.waitStatus(t, "ep1", domain.StatusCompleted)

	assert.Equal(t, http.StatusOK, f.do(t, http.MethodDelete, "/api/v1/downloads/ep1"))

	code, _ := f.get(t, "/api/v1/downloads/ep1")
	assert.Equal(t, http.StatusNotFound, code)
}

func TestAPI_CacheEndpoints(t *testing.T) {
	f := setupTestServer(t)

	f.add(t, "ep1")
	f.waitStatus(t, "ep1", domain.StatusCompleted)

	var size struct {
		Bytes int64 `json:"bytes"`
	}
	code, body := f.get(t, "/api/v1/cache/ep1/size")
	require.Equal(t, http.StatusOK, code)
	require.NoError(t, json.Unmarshal(body, &size))
	assert.GreaterOrEqual(t, size.Bytes, int64(3*segmentBytes))

	assert.Equal(t, http.StatusOK, f.do(t, http.MethodDelete, "/api/v1/cache"))

	code, body = f.get(t, "/api/v1/cache/ep1/size")
	require.Equal(t, http.StatusOK, code)
	require.NoError(t, json.Unmarshal(body, &size))
	assert.Equal(t, int64(0), size.Bytes)
}

func TestAPI_History(t *testing.T) {
	f := setupTestServer(t)

	f.add(t, "ep1")
	f.waitStatus(t, "ep1", domain.StatusCompleted)

	require.Eventually(t, func() bool {
		code, body := f.get(t, "/api/v1/downloads/ep1/history")
		return code == http.StatusOK && strings.Contains(string(body), "download_completed")
	}, waitFor, tick)
}

func TestAPI_Logs(t *testing.T) {
	f := setupTestServer(t)

	code, body := f.get(t, "/api/v1/logs/categories")
	require.Equal(t, http.StatusOK, code)
	assert.JSONEq(t, `{"categories":["queue","error","access"]}`, string(body))

	code, _ = f.get(t, "/api/v1/logs/bogus")
	assert.Equal(t, http.StatusBadRequest, code)

	code, _ = f.get(t, "/api/v1/logs/queue?date=yesterday")
	assert.Equal(t, http.StatusBadRequest, code)

	code, body = f.get(t, "/api/v1/logs/queue")
	require.Equal(t, http.StatusOK, code)
	assert.Contains(t, string(body), "queue_started")
}

func TestAPI_Metrics(t *testing.T) {
	f := setupTestServer(t)

	f.add(t, "ep1")
	f.waitStatus(t, "ep1", domain.StatusCompleted)

	code, body := f.get(t, "/metrics")
	require.Equal(t, http.StatusOK, code)
	assert.Contains(t, string(body), "episode_offline_jobs_started_total 1")
	assert.Contains(t, string(body), "episode_offline_segments_fetched_total 3")
}

func TestAPI_Proxy(t *testing.T) {
	f := setupTestServer(t)
	target := f.upstream.server.URL + "/ep1/seg0.ts"

	resp, err := http.Get(f.server.URL + "/proxy?url=" + target)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "video/mp2t", resp.Header.Get("Content-Type"))
	assert.Len(t, body, segmentBytes)

	code, _ := f.get(t, "/proxy")
	assert.Equal(t, http.StatusBadRequest, code)

	code, _ = f.get(t, "/proxy?url=ftp://127.0.0.1/seg.ts")
	assert.Equal(t, http.StatusBadRequest, code)

	code, _ = f.get(t, "/proxy?url=/relative/seg.ts")
	assert.Equal(t, http.StatusBadRequest, code)

	code, _ = f.get(t, "/proxy?url=https://elsewhere.example/seg.ts")
	assert.Equal(t, http.StatusForbidden, code)
}

func TestAPI_ProgressStream(t *testing.T) {
	f := setupTestServer(t)
	release := f.upstream.gate(t, "ep1")

	f.add(t, "ep1")
	f.waitStatus(t, "ep1", domain.StatusRunning)

	wsURL := "ws" + strings.TrimPrefix(f.server.URL, "http") + "/api/v1/downloads/ep1/progress"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	var first handlers.ProgressMessage
	require.NoError(t, conn.ReadJSON(&first))
	assert.Equal(t, "snapshot", first.Type)
	require.NotNil(t, first.Download)
	assert.Equal(t, "ep1", first.Download.ID)

	release()

	conn.SetReadDeadline(time.Now().Add(waitFor))
	var last handlers.ProgressMessage
	for {
		var msg handlers.ProgressMessage
		require.NoError(t, conn.ReadJSON(&msg))
		if msg.Type == "status" {
			last = msg
			break
		}
		assert.Equal(t, "progress", msg.Type)
	}

	require.NotNil(t, last.Download)
	assert.Equal(t, domain.StatusCompleted, last.Download.Status)
}

func TestAPI_ProgressStreamOfFinishedDownload(t *testing.T) {
	f := setupTestServer(t)

	f.add(t, "ep1")
	f.waitStatus(t, "ep1", domain.StatusCompleted)

	wsURL := "ws" + strings.TrimPrefix(f.server.URL, "http") + "/api/v1/downloads/ep1/progress"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	var msg handlers.ProgressMessage
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, "snapshot", msg.Type)
	assert.Equal(t, domain.StatusCompleted, msg.Download.Status)

	_, _, err = conn.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure))
}

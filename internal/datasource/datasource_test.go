package datasource

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hlscacheproxy/internal/cachestore"
	"hlscacheproxy/internal/logger"
	"hlscacheproxy/internal/manifest"
	"hlscacheproxy/internal/scheduler"
)

// recordingWriter is a test double for ResponseWriter, capturing the
// sequence of calls a ConnectionHandler would translate onto the wire.
type recordingWriter struct {
	mu      sync.Mutex
	status  int
	headers map[string]string
	body    []byte
	closed  bool
}

func newRecordingWriter() *recordingWriter {
	return &recordingWriter{headers: map[string]string{}}
}

func (w *recordingWriter) WriteStatus(code int) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.status = code
}

func (w *recordingWriter) WriteHeader(key, value string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.headers[key] = value
}

func (w *recordingWriter) WriteBody(chunk []byte) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.body = append(w.body, chunk...)
}

func (w *recordingWriter) Close() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.closed = true
}

func newTestDataSource(t *testing.T) (*DataSource, *cachestore.Store, *scheduler.Scheduler) {
	t.Helper()
	store, err := cachestore.New(&cachestore.Config{Root: t.TempDir(), MaxCacheByte: 1 << 30}, logger.Default)
	require.NoError(t, err)
	sched := scheduler.New(scheduler.NewDefaultConfig(), logger.Default)
	t.Cleanup(sched.Stop)
	ds := New(store, sched, manifest.New(9099), NewHeadOnlyTracker(false, 0), logger.Default)
	return ds, store, sched
}

func TestServeSegmentColdFetch(t *testing.T) {
	origin := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("AAAAAAAAAA"))
	}))
	defer origin.Close()

	ds, _, _ := newTestDataSource(t)
	w := newRecordingWriter()
	ds.Serve(context.Background(), origin.URL+"/seg1.ts", "", w)

	assert.Equal(t, http.StatusOK, w.status)
	assert.Equal(t, "AAAAAAAAAA", string(w.body))
	assert.True(t, w.closed)
	assert.Equal(t, "10", w.headers["Content-Length"])
}

func TestServeSegmentWarmHitAfterColdFetch(t *testing.T) {
	origin := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("BBBBBBBBBB"))
	}))
	defer origin.Close()

	ds, _, _ := newTestDataSource(t)
	first := newRecordingWriter()
	ds.Serve(context.Background(), origin.URL+"/seg2.ts", "", first)
	require.True(t, first.closed)

	second := newRecordingWriter()
	ds.Serve(context.Background(), origin.URL+"/seg2.ts", "", second)

	assert.Equal(t, http.StatusOK, second.status)
	assert.Equal(t, "BBBBBBBBBB", string(second.body))
}

func TestServeSegmentRangeOnWarmHit(t *testing.T) {
	origin := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("0123456789"))
	}))
	defer origin.Close()

	ds, _, _ := newTestDataSource(t)
	warm := newRecordingWriter()
	ds.Serve(context.Background(), origin.URL+"/seg3.ts", "", warm)
	require.True(t, warm.closed)

	ranged := newRecordingWriter()
	ds.Serve(context.Background(), origin.URL+"/seg3.ts", "bytes=2-4", ranged)

	assert.Equal(t, http.StatusPartialContent, ranged.status)
	assert.Equal(t, "234", string(ranged.body))
	assert.Equal(t, "bytes 2-4/10", ranged.headers["Content-Range"])
	assert.Equal(t, "3", ranged.headers["Content-Length"])
}

func TestServeManifestRewrite(t *testing.T) {
	origin := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("#EXTM3U\nseg1.ts\n"))
	}))
	defer origin.Close()

	ds, _, _ := newTestDataSource(t)
	w := newRecordingWriter()
	ds.Serve(context.Background(), origin.URL+"/m.m3u8", "", w)

	assert.Equal(t, http.StatusOK, w.status)
	assert.Equal(t, "application/vnd.apple.mpegurl", w.headers["Content-Type"])
	assert.Contains(t, string(w.body), "/proxy?url=")
	assert.Contains(t, string(w.body), "seg1.ts")
}

func TestServeManifestOriginErrorReturns404(t *testing.T) {
	origin := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer origin.Close()

	ds, _, _ := newTestDataSource(t)
	w := newRecordingWriter()
	ds.Serve(context.Background(), origin.URL+"/broken.m3u8", "", w)

	assert.Equal(t, http.StatusNotFound, w.status)
	assert.True(t, w.closed)
}

func TestServeSegmentOriginErrorDeletesPartial(t *testing.T) {
	origin := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer origin.Close()

	ds, store, _ := newTestDataSource(t)
	w := newRecordingWriter()
	ds.Serve(context.Background(), origin.URL+"/fail.ts", "", w)

	assert.Equal(t, http.StatusNotFound, w.status)
	assert.False(t, store.Exists(cachestore.NewKey(origin.URL+"/fail.ts")))
}

func TestHeadOnlyTrackerStopsPersistingPastLimit(t *testing.T) {
	h := NewHeadOnlyTracker(true, 2)
	assert.True(t, h.ShouldPersist("http://o/seg1.ts"))
	assert.True(t, h.ShouldPersist("http://o/seg2.ts"))
	assert.False(t, h.ShouldPersist("http://o/seg3.ts"))
	// A different origin gets its own counter.
	assert.True(t, h.ShouldPersist("http://other/seg1.ts"))
}

func TestParseRangeClampsAndRejects(t *testing.T) {
	pr, ok := ParseRange("bytes=100-199", 500)
	require.True(t, ok)
	assert.Equal(t, int64(100), pr.Lo)
	assert.Equal(t, int64(199), pr.Hi)

	pr, ok = ParseRange("bytes=400-", 500)
	require.True(t, ok)
	assert.Equal(t, int64(499), pr.Hi)

	pr, ok = ParseRange("bytes=0-9999", 500)
	require.True(t, ok)
	assert.Equal(t, int64(499), pr.Hi)

	_, ok = ParseRange("bytes=300-100", 500)
	assert.False(t, ok)

	_, ok = ParseRange("nonsense", 500)
	assert.False(t, ok)
}

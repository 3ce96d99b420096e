package server

import (
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hlscacheproxy/internal/logger"
)

func newTestConfig(t *testing.T) *Config {
	t.Helper()
	return &Config{
		CacheRoot:                t.TempDir(),
		PruneCron:                "@every 1h",
		StatsLogCron:             "@every 1h",
		InitialPruneDelaySeconds: 3600,
	}
}

func freePort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()
	return ln.Addr().(*net.TCPAddr).Port
}

func TestStartStopIdempotent(t *testing.T) {
	s := New(newTestConfig(t), logger.Default)
	port := freePort(t)

	require.Nil(t, s.Start(port, 1<<20, false, 3))
	assert.True(t, s.IsRunning())

	// restarting on the same port is a no-op
	require.Nil(t, s.Start(port, 1<<20, false, 3))

	s.Stop()
	assert.False(t, s.IsRunning())

	// stop; stop is a no-op
	s.Stop()
	assert.False(t, s.IsRunning())
}

func TestStartPortChangeWhileRunningRejected(t *testing.T) {
	s := New(newTestConfig(t), logger.Default)
	port := freePort(t)
	other := freePort(t)

	require.Nil(t, s.Start(port, 1<<20, false, 3))
	defer s.Stop()

	err := s.Start(other, 1<<20, false, 3)
	require.NotNil(t, err)
	assert.Equal(t, ErrPortChangeWhileRunning, err.Code)
}

func TestStartBindFailureSurfacesPortInUse(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()
	busyPort := ln.Addr().(*net.TCPAddr).Port

	s := New(newTestConfig(t), logger.Default)
	startErr := s.Start(busyPort, 1<<20, false, 3)
	require.NotNil(t, startErr)
	assert.Equal(t, ErrPortInUse, startErr.Code)
}

func TestActivePortDefaultsBeforeStart(t *testing.T) {
	s := New(newTestConfig(t), logger.Default)
	assert.Equal(t, 9000, s.ActivePort())
}

func TestEndToEndColdAndWarmFetch(t *testing.T) {
	origin := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ABCDEFGHIJ"))
	}))
	defer origin.Close()

	s := New(newTestConfig(t), logger.Default)
	port := freePort(t)
	require.Nil(t, s.Start(port, 1<<20, false, 3))
	defer s.Stop()

	proxyURL := fmt.Sprintf("http://127.0.0.1:%d/proxy?url=%s", port, url.QueryEscape(origin.URL+"/seg.ts"))

	resp, err := http.Get(proxyURL)
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ABCDEFGHIJ", string(body))

	resp2, err := http.Get(proxyURL)
	require.NoError(t, err)
	body2, _ := io.ReadAll(resp2.Body)
	resp2.Body.Close()
	assert.Equal(t, "ABCDEFGHIJ", string(body2))
}

func TestClearCacheWithoutRunningServer(t *testing.T) {
	s := New(newTestConfig(t), logger.Default)
	err := s.ClearCache(1 << 20)
	assert.NoError(t, err)
}

// TestStopDoesNotHangOnIdleConnection guards against a shutdown hang: a
// connection accepted but still blocked reading its request line has no
// data source to cancel, so Stop must close the socket directly rather
// than waiting for a request that will never arrive.
func TestStopDoesNotHangOnIdleConnection(t *testing.T) {
	s := New(newTestConfig(t), logger.Default)
	port := freePort(t)
	require.Nil(t, s.Start(port, 1<<20, false, 3))

	conn, err := net.Dial("tcp", fmt.Sprintf("127.0.0.1:%d", port))
	require.NoError(t, err)
	defer conn.Close()

	stopped := make(chan struct{})
	go func() {
		s.Stop()
		close(stopped)
	}()

	select {
	case <-stopped:
	case <-time.After(5 * time.Second):
		t.Fatal("Stop hung on an idle connection")
	}
}


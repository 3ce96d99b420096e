package datasource

import (
	"net/http"
	"sync"

	"github.com/valyala/bytebufferpool"

	"hlscacheproxy/internal/cachestore"
	"hlscacheproxy/internal/logger"
)

// bodyCollector is a scheduler.Delegate that buffers a whole response body
// in memory, used for the manifest fetch path (spec.md §4.D manifest
// cache-miss): manifests are small text files, never range-streamed. The
// accumulation buffer comes from a shared pool since manifest refetches
// happen on every cache miss across every active playback session.
type bodyCollector struct {
	mu     sync.Mutex
	status int
	buf    *bytebufferpool.ByteBuffer
	err    error
	done   chan struct{}
}

func newBodyCollector() *bodyCollector {
	return &bodyCollector{buf: bytebufferpool.Get(), done: make(chan struct{})}
}

func (c *bodyCollector) OnResponse(status int, _ http.Header) {
	c.mu.Lock()
	c.status = status
	c.mu.Unlock()
}

func (c *bodyCollector) OnData(chunk []byte) {
	c.mu.Lock()
	c.buf.Write(chunk)
	c.mu.Unlock()
}

func (c *bodyCollector) OnComplete(err error) {
	c.mu.Lock()
	c.err = err
	c.mu.Unlock()
	close(c.done)
}

// body copies the accumulated bytes out and returns the buffer to the pool,
// since bodyCollector is used exactly once per manifest fetch.
func (c *bodyCollector) body() []byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]byte, c.buf.Len())
	copy(out, c.buf.Bytes())
	bytebufferpool.Put(c.buf)
	return out
}

// teeDelegate forwards every chunk to the client's ResponseWriter and, when
// persist is true, simultaneously appends it to a cachestore write handle
// (spec.md §4.D "streaming-while-downloading"). On completion it closes the
// write handle with the outcome so a failed or cancelled download never
// leaves a partial file behind.
type teeDelegate struct {
	store   *cachestore.Store
	key     cachestore.Key
	rawURL  string
	w       ResponseWriter
	persist bool
	log     logger.Logger

	handle    *cachestore.WriteHandle
	responded bool
	ok        bool
	done      chan struct{}
}

func newTeeDelegate(store *cachestore.Store, key cachestore.Key, rawURL string, w ResponseWriter, persist bool, log logger.Logger) *teeDelegate {
	return &teeDelegate{store: store, key: key, rawURL: rawURL, w: w, persist: persist, log: log, done: make(chan struct{})}
}

// OnResponse mirrors the origin's response line onto the client: the
// cache-miss path still owes the player the same mandatory headers as a
// cache hit (spec.md §8 scenario 1, §4.E), just sourced from the origin's
// own headers instead of a stat() on a cached file.
func (t *teeDelegate) OnResponse(status int, header http.Header) {
	t.responded = true
	t.ok = status >= 200 && status < 300
	if !t.ok {
		t.w.WriteStatus(http.StatusNotFound)
		return
	}
	t.w.WriteStatus(status)

	contentType := header.Get("Content-Type")
	if contentType == "" {
		contentType = MIMEFor(t.rawURL)
	}
	t.w.WriteHeader("Content-Type", contentType)
	if cl := header.Get("Content-Length"); cl != "" {
		t.w.WriteHeader("Content-Length", cl)
	}
	if cr := header.Get("Content-Range"); cr != "" {
		t.w.WriteHeader("Content-Range", cr)
	}
	t.w.WriteHeader("Accept-Ranges", "bytes")

	if t.persist {
		h, err := t.store.OpenStream(t.key)
		if err != nil {
			t.log.Debugf("datasource: open stream for %s: %v", t.key.Filename(), err)
		} else {
			t.handle = h
		}
	}
}

func (t *teeDelegate) OnData(chunk []byte) {
	if !t.ok {
		return
	}
	t.w.WriteBody(chunk)
	if t.handle != nil {
		t.handle.Write(chunk)
	}
}

func (t *teeDelegate) OnComplete(err error) {
	if t.handle != nil {
		t.handle.Close(err)
	}
	if !t.responded {
		// The download failed or was cancelled before the origin answered.
		t.w.WriteStatus(http.StatusNotFound)
	}
	t.w.Close()
	close(t.done)
}

// Package datasource implements the per-request resolver (spec.md §4.D,
// component D): it decides whether to serve a request from disk, stream it
// from origin while teeing to disk, or fetch-then-rewrite a manifest, and
// drives a ResponseWriter through exactly the sequence the connection
// handler expects (status, headers, body chunks, close).
package datasource

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"hlscacheproxy/internal/cachestore"
	"hlscacheproxy/internal/logger"
	"hlscacheproxy/internal/manifest"
	"hlscacheproxy/internal/scheduler"
)

// ResponseWriter is what a ConnectionHandler gives a DataSource to drive.
// Calls always arrive in the order WriteStatus, WriteHeader*, WriteBody*,
// Close — the same ordering §4.E requires on the wire.
type ResponseWriter interface {
	WriteStatus(code int)
	WriteHeader(key, value string)
	WriteBody(chunk []byte)
	Close()
}

// DataSource is constructed fresh for every request (spec.md §4.D "one
// instance per HTTP request").
type DataSource struct {
	store    *cachestore.Store
	sched    *scheduler.Scheduler
	rewriter *manifest.Rewriter
	headOnly *HeadOnlyTracker
	log      logger.Logger

	task *scheduler.TaskHandle // non-nil only while a BULK/Fast download is outstanding
}

func New(store *cachestore.Store, sched *scheduler.Scheduler, rewriter *manifest.Rewriter, headOnly *HeadOnlyTracker, log logger.Logger) *DataSource {
	return &DataSource{store: store, sched: sched, rewriter: rewriter, headOnly: headOnly, log: log}
}

// Serve resolves one request. rangeHeader is the raw Range: header value,
// or "" if absent.
func (d *DataSource) Serve(ctx context.Context, rawURL string, rangeHeader string, w ResponseWriter) {
	if manifest.IsManifestURL(rawURL) {
		d.serveManifest(ctx, rawURL, w)
		return
	}
	d.serveSegment(ctx, rawURL, rangeHeader, w)
}

// Cancel aborts any outstanding download this data source started. Safe to
// call even if no download is outstanding, or more than once.
func (d *DataSource) Cancel() {
	if d.task != nil {
		d.task.Cancel()
	}
}

func (d *DataSource) serveManifest(ctx context.Context, rawURL string, w ResponseWriter) {
	originURL, err := url.Parse(rawURL)
	if err != nil {
		w.WriteStatus(http.StatusNotFound)
		w.Close()
		return
	}
	key := cachestore.NewKey(rawURL)

	if data, ok := d.store.ReadAll(key); ok {
		d.emitManifest(w, data, originURL)
		return
	}

	body, ok := d.fetchManifestBody(ctx, rawURL)
	if !ok {
		// spec.md §7: origin error on manifest miss surfaces 404 so the
		// player falls back rather than playing a stale rewrite.
		w.WriteStatus(http.StatusNotFound)
		w.Close()
		return
	}
	d.store.SaveAtomic(key, body)
	d.emitManifest(w, body, originURL)
}

func (d *DataSource) emitManifest(w ResponseWriter, body []byte, originURL *url.URL) {
	rewritten := d.rewriter.Rewrite(string(body), originURL)
	out := []byte(rewritten)

	w.WriteStatus(http.StatusOK)
	w.WriteHeader("Content-Type", MIMEFor(originURL.String()))
	w.WriteHeader("Content-Length", fmt.Sprintf("%d", len(out)))
	w.WriteHeader("Accept-Ranges", "bytes")
	w.WriteBody(out)
	w.Close()
}

// fetchManifestBody fetches the whole manifest body through the Fast lane
// (manifests always classify as Fast) and blocks until on_complete fires or
// the scheduler's own ManifestTimeout elapses.
func (d *DataSource) fetchManifestBody(ctx context.Context, rawURL string) ([]byte, bool) {
	collector := newBodyCollector()
	task := d.sched.Download(ctx, rawURL, scheduler.ByteRange{}, collector)
	d.task = task

	<-collector.done
	d.task = nil

	if collector.status < 200 || collector.status >= 300 || collector.err != nil {
		return nil, false
	}
	return collector.body(), true
}

func (d *DataSource) serveSegment(ctx context.Context, rawURL string, rangeHeader string, w ResponseWriter) {
	key := cachestore.NewKey(rawURL)

	if reader, size, ok := d.store.OpenRange(key); ok {
		defer reader.Close()
		d.emitSegmentFromReader(w, reader, size, rangeHeader, rawURL)
		return
	}

	d.fetchSegment(ctx, rawURL, rangeHeader, w)
}

func (d *DataSource) emitSegmentFromReader(w ResponseWriter, reader *cachestore.RangeReader, size int64, rangeHeader string, rawURL string) {
	if rangeHeader == "" {
		data, err := reader.Slice(0, size-1)
		if err != nil {
			w.WriteStatus(http.StatusNotFound)
			w.Close()
			return
		}
		w.WriteStatus(http.StatusOK)
		d.writeCommonHeaders(w, rawURL, size)
		w.WriteBody(data)
		w.Close()
		return
	}

	pr, ok := ParseRange(rangeHeader, size)
	if !ok {
		w.WriteStatus(http.StatusNotFound)
		w.Close()
		return
	}
	data, err := reader.Slice(pr.Lo, pr.Hi)
	if err != nil {
		w.WriteStatus(http.StatusNotFound)
		w.Close()
		return
	}

	w.WriteStatus(http.StatusPartialContent)
	w.WriteHeader("Content-Range", fmt.Sprintf("bytes %d-%d/%d", pr.Lo, pr.Hi, size))
	w.WriteHeader("Content-Length", fmt.Sprintf("%d", pr.Hi-pr.Lo+1))
	w.WriteHeader("Content-Type", MIMEFor(rawURL))
	w.WriteHeader("Accept-Ranges", "bytes")
	w.WriteBody(data)
	w.Close()
}

func (d *DataSource) writeCommonHeaders(w ResponseWriter, rawURL string, size int64) {
	w.WriteHeader("Content-Type", MIMEFor(rawURL))
	w.WriteHeader("Content-Length", fmt.Sprintf("%d", size))
	w.WriteHeader("Accept-Ranges", "bytes")
}

// fetchSegment streams a BULK download straight to the client while
// simultaneously teeing every chunk to a disk write handle (spec.md §4.D
// "streaming-while-downloading").
func (d *DataSource) fetchSegment(ctx context.Context, rawURL string, rangeHeader string, w ResponseWriter) {
	rng := scheduler.ByteRange{}
	if rangeHeader != "" {
		// The caller (segment cache-miss path) doesn't yet know the
		// origin's size, so it can't clamp hi. Pass the parsed bounds
		// through unclamped; the scheduler sends a Range header to the
		// origin only when Valid is set, so an unparseable header is simply
		// dropped (the origin then returns the whole object).
		if pr, ok := parseUnclampedRange(rangeHeader); ok {
			rng = scheduler.ByteRange{Lo: pr.lo, Hi: pr.hi, Valid: true}
		}
	}

	var key cachestore.Key
	if rng.Valid {
		key = cachestore.NewRangeKey(rawURL, rng.Lo, rng.Hi)
	} else {
		key = cachestore.NewKey(rawURL)
	}

	persist := true
	if d.headOnly != nil {
		persist = d.headOnly.ShouldPersist(rawURL)
	}

	tee := newTeeDelegate(d.store, key, rawURL, w, persist, d.log)
	task := d.sched.Download(ctx, rawURL, rng, tee)
	d.task = task

	<-tee.done
	d.task = nil
}

// parseUnclampedRange forwards a client Range to the origin on a cache
// miss, where this proxy doesn't yet know the object's size to clamp
// against. Only the fully-specified "bytes=lo-hi" form is supported; an
// open-ended "bytes=lo-" falls back to fetching the whole object, since
// the scheduler has no way to express an open upper bound.
type unclampedRange struct{ lo, hi int64 }

func parseUnclampedRange(header string) (unclampedRange, bool) {
	const prefix = "bytes="
	if !strings.HasPrefix(header, prefix) {
		return unclampedRange{}, false
	}
	parts := strings.SplitN(strings.TrimPrefix(header, prefix), "-", 2)
	if len(parts) != 2 || strings.TrimSpace(parts[1]) == "" {
		return unclampedRange{}, false
	}
	lo, err := strconv.ParseInt(strings.TrimSpace(parts[0]), 10, 64)
	if err != nil || lo < 0 {
		return unclampedRange{}, false
	}
	hi, err := strconv.ParseInt(strings.TrimSpace(parts[1]), 10, 64)
	if err != nil || hi < lo {
		return unclampedRange{}, false
	}
	return unclampedRange{lo: lo, hi: hi}, true
}

// Package scheduler implements the bounded-concurrency download scheduler
// (spec.md §4.B, component B): a process-wide singleton that caps
// concurrent BULK segment downloads behind a weighted semaphore while
// giving manifests and small probe requests a Fast lane that bypasses it
// entirely.
package scheduler

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/puzpuzpuz/xsync/v3"
	"golang.org/x/sync/semaphore"

	"hlscacheproxy/internal/logger"
)

type Scheduler struct {
	cfg    *Config
	log    logger.Logger
	client *http.Client
	sem    *semaphore.Weighted

	// tasks is the session router: task id -> handle, guarded by a
	// lock-free map so lookups from completion callbacks never contend
	// with new submissions (spec.md §4.B "session routing").
	tasks *xsync.MapOf[string, *TaskHandle]

	queue    chan *TaskHandle // serial permit-acquisition queue for Bulk tasks
	inFlight atomic.Int64     // held Bulk permits, for Stats()/tests

	stopOnce sync.Once
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

func New(cfg *Config, log logger.Logger) *Scheduler {
	transport := &http.Transport{
		MaxConnsPerHost:     cfg.PerHostConns + 4, // headroom for the Fast lane, spec.md §4.B
		MaxIdleConnsPerHost: cfg.PerHostConns,
	}
	s := &Scheduler{
		cfg:    cfg,
		log:    log,
		client: &http.Client{Transport: transport},
		sem:    semaphore.NewWeighted(int64(cfg.MaxConcurrentBulk)),
		tasks:  xsync.NewMapOf[string, *TaskHandle](),
		queue:  make(chan *TaskHandle, 4096),
		stopCh: make(chan struct{}),
	}
	s.wg.Add(1)
	go s.runQueue()
	return s
}

// Stop cancels every outstanding task and stops accepting new ones. Safe
// to call multiple times.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() {
		close(s.stopCh)
		s.tasks.Range(func(id string, h *TaskHandle) bool {
			h.Cancel()
			return true
		})
		s.wg.Wait()
	})
}

// Download submits url[range] to be fetched, classifying its priority at
// submission time.
func (s *Scheduler) Download(ctx context.Context, rawURL string, rng ByteRange, delegate Delegate) *TaskHandle {
	pri := Classify(rawURL, rng.Len(), s.cfg.PrioritySmallByte)

	var sem *semaphore.Weighted
	if pri == Bulk {
		sem = s.sem
	}
	h := newTask(rawURL, rng, delegate, pri, sem, ctx)
	s.tasks.Store(h.ID, h)

	if pri == Fast {
		s.wg.Add(1)
		go s.dispatch(h)
		return h
	}

	select {
	case s.queue <- h:
	case <-s.stopCh:
		h.Cancel()
		s.finishTask(h, context.Canceled)
		s.tasks.Delete(h.ID)
	}
	return h
}

// runQueue is the serial dispatch queue: only one goroutine ever blocks on
// permit-acquisition at a time, exactly as spec.md §4.B requires.
func (s *Scheduler) runQueue() {
	defer s.wg.Done()
	for {
		select {
		case h := <-s.queue:
			s.acquireAndDispatch(h)
		case <-s.stopCh:
			s.drainQueue()
			return
		}
	}
}

// drainQueue discards whatever is left in the serial queue on shutdown.
// No task still sitting there ever held a permit, so each one only needs
// its completion delivered and removing from the session router.
func (s *Scheduler) drainQueue() {
	for {
		select {
		case h := <-s.queue:
			s.finishTask(h, context.Canceled)
			s.tasks.Delete(h.ID)
		default:
			return
		}
	}
}

func (s *Scheduler) acquireAndDispatch(h *TaskHandle) {
	if h.isCancelled() {
		s.finishTask(h, context.Canceled)
		s.tasks.Delete(h.ID)
		return
	}

	if err := h.sem.Acquire(h.ctx, 1); err != nil {
		// Cancelled (or scheduler stopping) while still waiting: Acquire's
		// own return value says no permit was ever granted, so there is
		// nothing to release. dispatch (and therefore releaseAndUntrack)
		// never runs for this task.
		s.finishTask(h, err)
		s.tasks.Delete(h.ID)
		return
	}
	// Acquire returned nil: this goroutine now holds the permit, and is the
	// only place that knows it. dispatch is about to run unconditionally,
	// so releaseAndUntrack (deferred inside it) is guaranteed to release
	// exactly the permit acquired here.
	s.inFlight.Add(1)

	s.wg.Add(1)
	go s.dispatch(h)
}

func (s *Scheduler) dispatch(h *TaskHandle) {
	defer s.wg.Done()
	defer s.releaseAndUntrack(h)

	if h.isCancelled() {
		h.finishOnce(func() { h.delegate.OnComplete(h.ctx.Err()) })
		return
	}

	timeout := s.cfg.SegmentTimeout
	if h.Priority == Fast {
		timeout = s.cfg.ManifestTimeout
	}
	reqCtx, cancel := context.WithTimeout(h.ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, h.URL, nil)
	if err != nil {
		s.finishTask(h, err)
		return
	}
	if h.Range.Valid {
		req.Header.Set("Range", fmt.Sprintf("bytes=%d-%d", h.Range.Lo, h.Range.Hi))
	}

	resp, err := s.client.Do(req)
	if err != nil {
		s.finishTask(h, err)
		return
	}
	defer resp.Body.Close()

	h.reportResponseOnce(func() {
		h.delegate.OnResponse(resp.StatusCode, resp.Header)
	})

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		_, _ = io.Copy(io.Discard, resp.Body)
		s.finishTask(h, fmt.Errorf("scheduler: origin responded with status %d", resp.StatusCode))
		return
	}

	s.streamBody(h, resp.Body)
}

func (s *Scheduler) streamBody(h *TaskHandle, body io.ReadCloser) {
	buf := make([]byte, 64*1024)
	for {
		n, err := body.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			h.delegate.OnData(chunk)
		}
		if err != nil {
			if err == io.EOF {
				err = nil
			}
			h.finishOnce(func() { h.delegate.OnComplete(err) })
			return
		}
	}
}

func (s *Scheduler) finishTask(h *TaskHandle, err error) {
	h.finishOnce(func() { h.delegate.OnComplete(err) })
}

// releaseAndUntrack runs at the end of dispatch regardless of outcome and
// removes the task from the session router. dispatch runs exactly once per
// task, so this runs exactly once: no latch is needed to guard the release
// itself. A non-nil h.sem means this is a Bulk task, which only ever
// reaches dispatch by way of acquireAndDispatch's successful Acquire, so
// the permit is always held here.
func (s *Scheduler) releaseAndUntrack(h *TaskHandle) {
	if h.sem != nil {
		s.inFlight.Add(-1)
		h.sem.Release(1)
	}
	s.tasks.Delete(h.ID)
}

// Stats is a debug snapshot of scheduler load.
type Stats struct {
	InFlightBulk int `json:"in_flight_bulk"`
	MaxBulk      int `json:"max_bulk"`
}

func (s *Scheduler) Stats() Stats {
	return Stats{InFlightBulk: int(s.inFlight.Load()), MaxBulk: s.cfg.MaxConcurrentBulk}
}

package scheduler

import (
	"context"
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"
)

// ByteRange is an optional inclusive byte range requested on a download.
type ByteRange struct {
	Lo, Hi int64
	Valid  bool
}

func (r ByteRange) Len() int64 {
	if !r.Valid {
		return 0
	}
	return r.Hi - r.Lo + 1
}

// Delegate receives the three callbacks a download can produce (spec.md
// §4.B). OnData may be called many times; OnComplete fires exactly once,
// after the last OnData (if any).
type Delegate interface {
	OnResponse(status int, header http.Header)
	OnData(chunk []byte)
	OnComplete(err error)
}

// TaskHandle is the caller-visible handle for one outstanding download.
// Cancel is idempotent and safe to call from any goroutine, including
// concurrently with the task's own completion.
type TaskHandle struct {
	ID       string
	URL      string
	Range    ByteRange
	Priority Priority

	delegate Delegate
	sem      *semaphore.Weighted // nil for Fast-priority tasks: no permit involved

	ctx    context.Context
	cancel context.CancelFunc

	cancelled    atomic.Bool
	responseOnce sync.Once
	completeOnce sync.Once
}

func newTask(rawURL string, rng ByteRange, delegate Delegate, pri Priority, sem *semaphore.Weighted, parent context.Context) *TaskHandle {
	ctx, cancel := context.WithCancel(parent)
	return &TaskHandle{
		ID:       uuid.New().String(),
		URL:      rawURL,
		Range:    rng,
		Priority: pri,
		delegate: delegate,
		sem:      sem,
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Cancel aborts the task. If it is still waiting for a semaphore permit,
// cancelling its context makes the blocked Acquire return an error without
// ever granting the permit, so acquireAndDispatch's own error branch
// handles cleanup with nothing to release. If it is already in flight,
// cancelling the context aborts the underlying HTTP request, which drives
// the task to its normal completion path, where releaseAndUntrack releases
// the permit it acquired.
//
// Cancel deliberately never touches the semaphore itself: whether a permit
// was ever granted is known only to the goroutine that called Acquire, from
// Acquire's own return value, at the moment it returned. Mirroring that
// state in a separately-stored flag for Cancel to read back would leave a
// window where Acquire has returned successfully but the flag isn't set
// yet, under which Cancel would (wrongly) conclude no permit was granted
// and never release it (spec.md §4.B completion-signal correctness).
func (h *TaskHandle) Cancel() {
	if h.cancelled.CompareAndSwap(false, true) {
		h.cancel()
	}
}

func (h *TaskHandle) isCancelled() bool {
	return h.cancelled.Load()
}

// finishOnce runs fn exactly once even if both the HTTP completion path
// and a racing Cancel try to finalize the task.
func (h *TaskHandle) finishOnce(fn func()) {
	h.completeOnce.Do(fn)
}

// reportResponseOnce delivers OnResponse exactly once. It guards a
// separate latch from finishOnce: OnResponse and OnComplete are distinct
// callbacks that can both legitimately fire for the same task, and must
// not share one sync.Once or the second caller's call would be dropped.
func (h *TaskHandle) reportResponseOnce(fn func()) {
	h.responseOnce.Do(fn)
}

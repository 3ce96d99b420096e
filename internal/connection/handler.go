// Package connection implements the per-socket HTTP/1.1 state machine
// (spec.md §4.E, component E): parse one request, dispatch it to a
// DataSource, and stream the response back, never supporting keep-alive.
package connection

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"net/http"
	"sync"
	"sync/atomic"

	"hlscacheproxy/internal/datasource"
	"hlscacheproxy/internal/logger"
)

type state int32

const (
	stateReading state = iota
	stateDispatching
	stateResponding
	stateClosed
)

// DataSourceFactory builds a fresh DataSource for one request, wired to the
// shared store/scheduler/rewriter (spec.md §4.D "one instance per request").
type DataSourceFactory func() *datasource.DataSource

// Handler owns one accepted connection end to end. It is used once and
// discarded; ProxyServer creates a new Handler per accept.
type Handler struct {
	ID string

	conn      net.Conn
	reader    *bufio.Reader
	writer    *bufio.Writer
	log       logger.Logger
	dsFactory DataSourceFactory
	onClose   func(id string)

	state atomic.Int32

	mu             sync.Mutex
	statusWritten  bool
	headersFlushed bool
	pendingHeaders []string

	ds *datasource.DataSource
}

func New(conn net.Conn, dsFactory DataSourceFactory, log logger.Logger, onClose func(id string)) *Handler {
	var remote string
	if conn.RemoteAddr() != nil {
		remote = conn.RemoteAddr().String()
	}
	return &Handler{
		ID:        newTraceID(remote),
		conn:      conn,
		reader:    bufio.NewReaderSize(conn, 64*1024),
		writer:    bufio.NewWriterSize(conn, 64*1024),
		log:       log,
		dsFactory: dsFactory,
		onClose:   onClose,
	}
}

// Serve drives the handler through Reading -> Dispatching -> Responding ->
// Closed. It blocks until the response is fully written (or the request
// was invalid), then closes the socket and deregisters itself.
func (h *Handler) Serve(ctx context.Context) {
	defer h.finish()

	h.state.Store(int32(stateReading))
	req, err := readRequest(h.reader)
	if err != nil {
		h.log.Debugf("connection[%s]: read request: %v", h.ID, err)
		return
	}

	h.state.Store(int32(stateDispatching))
	if req.method != http.MethodGet || requestPathOnly(req.path) != "/proxy" || req.rawURL == "" {
		h.writeSimpleStatus(http.StatusNotFound)
		return
	}

	h.state.Store(int32(stateResponding))
	h.ds = h.dsFactory()
	h.ds.Serve(ctx, req.rawURL, req.rng, h)
}

// Cancel aborts whatever data source is currently serving this connection,
// and always closes the underlying socket. Called by the server registry
// on shutdown (spec.md §5 "cancellation propagates top-down"). A connection
// still blocked reading its request line (h.ds is nil because dispatch
// never started) has nothing for ds.Cancel to abort; closing conn directly
// is what actually unblocks it, so Stop's inFlight.Wait can't hang on an
// idle socket.
func (h *Handler) Cancel() {
	if h.ds != nil {
		h.ds.Cancel()
	}
	_ = h.conn.Close()
}

func (h *Handler) finish() {
	h.state.Store(int32(stateClosed))
	_ = h.writer.Flush()
	_ = h.conn.Close()
	if h.onClose != nil {
		h.onClose(h.ID)
	}
}

func (h *Handler) writeSimpleStatus(code int) {
	h.WriteStatus(code)
	h.Close()
}

// --- datasource.ResponseWriter ---

func (h *Handler) WriteStatus(code int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.statusWritten {
		return
	}
	h.statusWritten = true
	fmt.Fprintf(h.writer, "HTTP/1.1 %d %s\r\n", code, http.StatusText(code))
	// Mandatory headers this layer owns for every response regardless of
	// how it was resolved (spec.md §4.E); everything else comes from the
	// data source. Owning Access-Control-Allow-Origin here, rather than
	// leaving it to each data source path, means a path that forgets to set
	// it (or returns an error status before reaching its own header logic)
	// still can't drop it.
	h.pendingHeaders = append(h.pendingHeaders, "Connection: close", "Access-Control-Allow-Origin: *")
}

func (h *Handler) WriteHeader(key, value string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.pendingHeaders = append(h.pendingHeaders, fmt.Sprintf("%s: %s", key, value))
}

func (h *Handler) flushHeaders() {
	if h.headersFlushed {
		return
	}
	h.headersFlushed = true
	for _, line := range h.pendingHeaders {
		h.writer.WriteString(line)
		h.writer.WriteString("\r\n")
	}
	h.writer.WriteString("\r\n")
}

func (h *Handler) WriteBody(chunk []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.flushHeaders()
	h.writer.Write(chunk)
}

func (h *Handler) Close() {
	h.mu.Lock()
	h.flushHeaders()
	_ = h.writer.Flush()
	h.mu.Unlock()
}

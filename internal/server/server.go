// Package server implements the TCP listener and lifecycle (spec.md §4.F,
// component F): bind, accept loop, handler registry, idempotent start/stop,
// and the scheduled prune passes.
package server

import (
	"context"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"
	goccyjson "github.com/goccy/go-json"
	"github.com/puzpuzpuz/xsync/v3"
	"github.com/robfig/cron/v3"

	"hlscacheproxy/internal/cachestore"
	"hlscacheproxy/internal/connection"
	"hlscacheproxy/internal/datasource"
	"hlscacheproxy/internal/logger"
	"hlscacheproxy/internal/manifest"
	"hlscacheproxy/internal/scheduler"
)

type Server struct {
	cfg *Config
	log logger.Logger

	mu       sync.Mutex
	running  bool
	port     int
	listener net.Listener
	cron     *cron.Cron

	store    *cachestore.Store
	sched    *scheduler.Scheduler
	rewriter *manifest.Rewriter
	headOnly *datasource.HeadOnlyTracker

	handlers   *xsync.MapOf[string, *connection.Handler]
	inFlight   sync.WaitGroup
	stopCh     chan struct{}
	activePort atomic.Int64
}

func New(cfg *Config, log logger.Logger) *Server {
	s := &Server{cfg: cfg, log: log, handlers: xsync.NewMapOf[string, *connection.Handler]()}
	// spec.md §4.G: active_port defaults to 9000 even before start_server
	// completes, so early convert_url calls remain valid.
	s.activePort.Store(9000)
	return s
}

// ActivePort is read by PublicFacade.convert_url even before Start returns.
func (s *Server) ActivePort() int {
	return int(s.activePort.Load())
}

func (s *Server) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// Start binds the listener and launches the accept loop. Restarting on the
// same port while already running is a no-op; requesting a different port
// while running is rejected (spec.md §4.F).
func (s *Server) Start(port int, maxCacheBytes int64, headOnly bool, headOnlySegments int) *Error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		if port == s.port {
			return nil
		}
		return errPortChangeWhileRunning(s.port, port)
	}

	store, err := cachestore.New(&cachestore.Config{Root: s.cfg.CacheRoot, MaxCacheByte: maxCacheBytes}, s.log)
	if err != nil {
		return &Error{Code: "STORE_INIT_FAILED", Message: err.Error()}
	}

	ln, err := net.Listen("tcp4", fmt.Sprintf("127.0.0.1:%d", port))
	if err != nil {
		return errPortInUse(port, err)
	}

	s.store = store
	s.sched = scheduler.New(scheduler.NewDefaultConfig(), s.log)
	s.rewriter = manifest.New(port)
	s.headOnly = datasource.NewHeadOnlyTracker(headOnly, headOnlySegments)
	s.listener = ln
	s.port = port
	s.running = true
	s.stopCh = make(chan struct{})
	s.activePort.Store(int64(port))

	s.inFlight.Add(1)
	go s.acceptLoop()

	s.scheduleInitialPrune()
	s.startCron()

	s.log.Logf("server: listening on 127.0.0.1:%d (cache root %s)", port, s.cfg.CacheRoot)
	return nil
}

func (s *Server) dsFactory() *datasource.DataSource {
	return datasource.New(s.store, s.sched, s.rewriter, s.headOnly, s.log)
}

func (s *Server) acceptLoop() {
	defer s.inFlight.Done()
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.stopCh:
				return
			default:
				s.log.Debugf("server: accept: %v", err)
				return
			}
		}

		h := connection.New(conn, s.dsFactory, s.log, s.deregister)
		s.handlers.Store(h.ID, h)

		s.inFlight.Add(1)
		go func() {
			defer s.inFlight.Done()
			h.Serve(context.Background())
		}()
	}
}

func (s *Server) deregister(id string) {
	s.handlers.Delete(id)
}

// scheduleInitialPrune runs one prune pass 5-10s after start, off the
// playback-serving path (spec.md §4.A).
func (s *Server) scheduleInitialPrune() {
	delay := time.Duration(s.cfg.InitialPruneDelaySeconds) * time.Second
	store := s.store
	time.AfterFunc(delay, func() {
		store.Prune()
	})
}

// startCron wires the recurring background prune plus a periodic debug
// stats log, beyond the spec's one-shot post-start prune, so a long-lived
// app session keeps the cache under budget without a restart.
func (s *Server) startCron() {
	c := cron.New()
	store, sched := s.store, s.sched
	log := s.log

	if _, err := c.AddFunc(s.cfg.PruneCron, func() { store.Prune() }); err != nil {
		s.log.Errorf("server: schedule prune cron %q: %v", s.cfg.PruneCron, err)
	}
	if _, err := c.AddFunc(s.cfg.StatsLogCron, func() { logStats(log, store, sched) }); err != nil {
		s.log.Errorf("server: schedule stats cron %q: %v", s.cfg.StatsLogCron, err)
	}
	c.Start()
	s.cron = c
}

// debugStats is a snapshot logged periodically; never exposed over HTTP
// (the only served path remains "/proxy", spec.md §6).
type debugStats struct {
	Cache     cachestore.Stats `json:"cache"`
	Scheduler scheduler.Stats  `json:"scheduler"`
}

func logStats(log logger.Logger, store *cachestore.Store, sched *scheduler.Scheduler) {
	snap := debugStats{Cache: store.Stats(), Scheduler: sched.Stats()}
	b, err := goccyjson.Marshal(snap)
	if err != nil {
		log.Debugf("server: marshal stats: %v", err)
		return
	}
	log.Debugf("server: stats %s (cache %s)", string(b), humanize.Bytes(uint64(snap.Cache.TotalBytes)))
}

// Stop cancels the listener and every in-flight handler. Idempotent.
func (s *Server) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	close(s.stopCh)
	_ = s.listener.Close()
	if s.cron != nil {
		s.cron.Stop()
	}

	var toCancel []*connection.Handler
	s.handlers.Range(func(id string, h *connection.Handler) bool {
		toCancel = append(toCancel, h)
		return true
	})
	s.running = false
	sched := s.sched
	s.mu.Unlock()

	for _, h := range toCancel {
		h.Cancel()
	}
	if sched != nil {
		sched.Stop()
	}
	s.inFlight.Wait()
}

// ClearCache delegates to the store; if the server isn't running, a
// transient store is opened just to purge the directory (spec.md §4.F).
func (s *Server) ClearCache(maxCacheBytes int64) error {
	s.mu.Lock()
	running, store := s.running, s.store
	s.mu.Unlock()

	if running {
		store.ClearAll()
		return nil
	}

	transient, err := cachestore.New(&cachestore.Config{Root: s.cfg.CacheRoot, MaxCacheByte: maxCacheBytes}, s.log)
	if err != nil {
		return err
	}
	transient.ClearAll()
	return nil
}

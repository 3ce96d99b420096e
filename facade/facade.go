// Package facade implements the three host-bound entry points (spec.md
// §4.G, component G): start_server, convert_url, clear_cache. This is the
// only package a host binding layer (out of scope per spec.md §1) would
// call into.
package facade

import (
	"fmt"
	"net/url"

	"hlscacheproxy/internal/logger"
	"hlscacheproxy/internal/server"
)

// Error is the typed failure every entry point surfaces (spec.md §6).
type Error = server.Error

const (
	ErrPortInUse              = server.ErrPortInUse
	ErrPortChangeWhileRunning = server.ErrPortChangeWhileRunning
)

const (
	DefaultPort             = 9000
	DefaultMaxCacheBytes    = 1 << 30 // 1 GiB
	DefaultHeadOnlySegments = 3
)

// StartOptions carries start_server's optional parameters. A zero value in
// any field means "use the documented default" (spec.md §4.G).
type StartOptions struct {
	Port             int
	MaxCacheBytes    int64
	HeadOnly         bool
	HeadOnlySegments int
}

type PublicFacade struct {
	log logger.Logger
	srv *server.Server
}

func New(log logger.Logger) *PublicFacade {
	return &PublicFacade{
		log: log,
		srv: server.New(server.NewDefaultConfig(), log),
	}
}

// StartServer defaults port=9000, max_cache_bytes=1 GiB, head_only=false.
func (f *PublicFacade) StartServer(opts StartOptions) *Error {
	if opts.Port == 0 {
		opts.Port = DefaultPort
	}
	if opts.MaxCacheBytes == 0 {
		opts.MaxCacheBytes = DefaultMaxCacheBytes
	}
	if opts.HeadOnlySegments == 0 {
		opts.HeadOnlySegments = DefaultHeadOnlySegments
	}
	return f.srv.Start(opts.Port, opts.MaxCacheBytes, opts.HeadOnly, opts.HeadOnlySegments)
}

func (f *PublicFacade) Stop() {
	f.srv.Stop()
}

// ConvertURL returns remoteURL unchanged when isCacheable is false or the
// server isn't running (a safe fallback so playback never breaks because
// the proxy wasn't started) — otherwise a proxied URL on the active port.
func (f *PublicFacade) ConvertURL(remoteURL string, isCacheable bool) string {
	if !isCacheable {
		return remoteURL
	}
	if !f.srv.IsRunning() {
		return remoteURL
	}
	return fmt.Sprintf("http://127.0.0.1:%d/proxy?url=%s", f.srv.ActivePort(), url.QueryEscape(remoteURL))
}

func (f *PublicFacade) ClearCache() error {
	return f.srv.ClearCache(DefaultMaxCacheBytes)
}

package datasource

import (
	"net/url"

	gocache "github.com/patrickmn/go-cache"
)

// HeadOnlyTracker implements spec.md §4.D's optional head-only caching: only
// the first N segments per origin are persisted to disk, the rest stream
// straight through. The counter lives for the process's lifetime only
// (spec.md §9 open question, decided: no persistence across restarts).
type HeadOnlyTracker struct {
	enabled bool
	limit   int
	counts  *gocache.Cache
}

func NewHeadOnlyTracker(enabled bool, limit int) *HeadOnlyTracker {
	return &HeadOnlyTracker{
		enabled: enabled,
		limit:   limit,
		counts:  gocache.New(gocache.NoExpiration, gocache.NoExpiration),
	}
}

// ShouldPersist reports whether the next segment for rawURL's origin
// should be written to disk, and records the attempt either way.
func (h *HeadOnlyTracker) ShouldPersist(rawURL string) bool {
	if !h.enabled {
		return true
	}

	origin := originOf(rawURL)
	n, err := h.counts.IncrementInt(origin, 1)
	if err != nil {
		// First time seeing this origin: IncrementInt fails because the
		// key doesn't exist yet.
		h.counts.Set(origin, 1, gocache.NoExpiration)
		n = 1
	}
	return n <= h.limit
}

func originOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}
	return u.Scheme + "://" + u.Host
}

package scheduler

import (
	"net/url"
	"path"
	"strings"
)

type Priority int

const (
	Bulk Priority = iota
	Fast
)

// Classify implements spec.md §4.B's priority rule, evaluated at
// submission time: small, playback-blocking requests bypass the bounded
// semaphore entirely so they never queue behind a scroll storm of segment
// downloads.
func Classify(rawURL string, rangeLen int64, prioritySmallByte int64) Priority {
	if isManifestURL(rawURL) {
		return Fast
	}
	if strings.Contains(rawURL, "init.mp4") {
		return Fast
	}
	if rangeLen > 0 && rangeLen < prioritySmallByte {
		return Fast
	}
	return Bulk
}

func isManifestURL(rawURL string) bool {
	if strings.Contains(rawURL, ".m3u8") {
		return true
	}
	if u, err := url.Parse(rawURL); err == nil {
		return strings.EqualFold(path.Ext(u.Path), ".m3u8")
	}
	return false
}

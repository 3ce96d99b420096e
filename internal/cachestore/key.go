package cachestore

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/url"
	"path"
	"strings"
)

// Key identifies one cache entry: the remote URL plus an optional byte
// range. Byte ranges are folded into the key so that fMP4 initialization
// segments and media segments sharing one URL never collide on disk
// (spec.md §3, CacheKey).
type Key struct {
	URL      string
	HasRange bool
	Lo, Hi   int64
}

func NewKey(remoteURL string) Key {
	return Key{URL: remoteURL}
}

func NewRangeKey(remoteURL string, lo, hi int64) Key {
	return Key{URL: remoteURL, HasRange: true, Lo: lo, Hi: hi}
}

// raw is the string that gets hashed. Ranged keys append the bounds so
// "<url>-<lo>-<hi>" never collides with the bare URL key.
func (k Key) raw() string {
	if !k.HasRange {
		return k.URL
	}
	return fmt.Sprintf("%s-%d-%d", k.URL, k.Lo, k.Hi)
}

// extension mirrors the teacher's GetFileExtensionFromUrl, falling back to
// "bin" when the URL has no path extension.
func (k Key) extension() string {
	u, err := url.Parse(k.URL)
	if err != nil {
		return "bin"
	}
	ext := strings.TrimPrefix(path.Ext(u.Path), ".")
	if ext == "" {
		return "bin"
	}
	return ext
}

// Filename is deterministic across process restarts so a warm disk cache
// survives an app relaunch: sha256_hex(raw) + "." + extension.
func (k Key) Filename() string {
	sum := sha256.Sum256([]byte(k.raw()))
	return hex.EncodeToString(sum[:]) + "." + k.extension()
}

// Hash is the bare hex digest, used as the in-memory index's primary key.
func (k Key) Hash() string {
	sum := sha256.Sum256([]byte(k.raw()))
	return hex.EncodeToString(sum[:])
}

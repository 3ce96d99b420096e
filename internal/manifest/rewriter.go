// Package manifest implements the line-oriented HLS rewrite (spec.md §4.C,
// component C), grounded on the teacher's M3U8Processor: resolve relative
// URIs against the manifest's own URL, then re-emit everything through the
// local proxy.
package manifest

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
)

// Rewriter has no state beyond the listening port, which can change across
// server restarts — manifests are always rewritten fresh at serve time
// (spec.md §4.C "rewrite-every-serve invariant"), never cached rewritten.
type Rewriter struct {
	Port int
}

func New(port int) *Rewriter {
	return &Rewriter{Port: port}
}

var attrURIRegexp = regexp.MustCompile(`URI="([^"]*)"`)

// Rewrite transforms manifest text fetched from originURL, preserving
// every line ending and every non-URI byte.
func (rw *Rewriter) Rewrite(text string, originURL *url.URL) string {
	var out strings.Builder
	for _, line := range strings.SplitAfter(text, "\n") {
		content := strings.TrimRight(line, "\r\n")
		out.WriteString(rw.rewriteLine(content, originURL))
		out.WriteString(line[len(content):])
	}
	return out.String()
}

func (rw *Rewriter) rewriteLine(line string, originURL *url.URL) string {
	trimmed := strings.TrimSpace(line)
	if trimmed == "" {
		return line
	}

	if strings.HasPrefix(line, "#") {
		if !strings.Contains(line, `URI="`) {
			return line
		}
		return attrURIRegexp.ReplaceAllStringFunc(line, func(m string) string {
			sub := attrURIRegexp.FindStringSubmatch(m)
			if len(sub) != 2 {
				return m
			}
			return fmt.Sprintf(`URI="%s"`, rw.resolveAndProxy(sub[1], originURL))
		})
	}

	return rw.resolveAndProxy(line, originURL)
}

// resolveAndProxy implements the URI rewrite rule of spec.md §4.C.
func (rw *Rewriter) resolveAndProxy(raw string, originURL *url.URL) string {
	if rw.isAlreadyProxied(raw) {
		// spec.md §9 open question, decided: never double-wrap a URI that
		// already targets this proxy.
		return raw
	}

	abs := raw
	if !hasHTTPScheme(raw) {
		if u, err := url.Parse(raw); err == nil {
			abs = originURL.ResolveReference(u).String()
		}
	}

	return fmt.Sprintf("http://127.0.0.1:%d/proxy?url=%s", rw.Port, url.QueryEscape(abs))
}

func hasHTTPScheme(raw string) bool {
	lower := strings.ToLower(raw)
	return strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://")
}

func (rw *Rewriter) isAlreadyProxied(raw string) bool {
	return strings.Contains(raw, "127.0.0.1") && strings.Contains(raw, "/proxy?url=")
}

// IsManifestURL reports whether rawURL should be treated as an HLS
// playlist (spec.md §3 ManifestFlag): the path ends in .m3u8, or the URL
// contains ".m3u8" anywhere (some CDNs carry it in the query string) —
// the latter already subsumes the former.
func IsManifestURL(rawURL string) bool {
	return strings.Contains(rawURL, ".m3u8")
}

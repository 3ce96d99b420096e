package datasource

import (
	"net/url"
	"path"
	"strings"
)

// MIMEFor implements spec.md §4.D's extension table.
func MIMEFor(rawURL string) string {
	ext := strings.ToLower(strings.TrimPrefix(extensionOf(rawURL), "."))
	switch ext {
	case "m3u8":
		return "application/vnd.apple.mpegurl"
	case "ts":
		return "video/mp2t"
	case "mp4":
		return "video/mp4"
	case "m4s":
		return "video/iso.segment"
	case "m4a":
		return "audio/mp4"
	default:
		return "application/octet-stream"
	}
}

func extensionOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return path.Ext(u.Path)
}

package connection

import (
	"bufio"
	"fmt"
	"net/url"
	"strings"
)

const maxRequestBytes = 64 * 1024

// parsedRequest is the handful of fields the proxy actually needs out of an
// HTTP/1.1 request line and headers (spec.md §4.E): no cookies, no
// conditional headers, no request body — the client is always a known
// local media player issuing simple GETs.
type parsedRequest struct {
	method string
	path   string
	rawURL string // decoded ?url= query value
	rng    string // raw Range header, "" if absent
}

// readRequest reads one HTTP/1.1 request off r, stopping at the blank line
// terminating the headers. It never reads a body: GET requests from a
// media player never carry one.
func readRequest(r *bufio.Reader) (parsedRequest, error) {
	var req parsedRequest
	var total int

	line, err := readCRLFLine(r, &total)
	if err != nil {
		return req, err
	}
	method, path, ok := parseRequestLine(line)
	if !ok {
		return req, fmt.Errorf("connection: malformed request line %q", line)
	}
	req.method = method
	req.path = path

	for {
		line, err := readCRLFLine(r, &total)
		if err != nil {
			return req, err
		}
		if line == "" {
			break
		}
		key, value, ok := parseHeaderLine(line)
		if !ok {
			continue
		}
		if strings.EqualFold(key, "Range") {
			req.rng = value
		}
	}

	req.rawURL = extractURLParam(path)
	return req, nil
}

func readCRLFLine(r *bufio.Reader, total *int) (string, error) {
	line, err := r.ReadString('\n')
	if err != nil {
		return "", err
	}
	*total += len(line)
	if *total > maxRequestBytes {
		return "", fmt.Errorf("connection: request exceeds %d bytes", maxRequestBytes)
	}
	return strings.TrimRight(line, "\r\n"), nil
}

func parseRequestLine(line string) (method, path string, ok bool) {
	parts := strings.Fields(line)
	if len(parts) != 3 {
		return "", "", false
	}
	if !strings.HasPrefix(parts[2], "HTTP/1.") {
		return "", "", false
	}
	return parts[0], parts[1], true
}

func parseHeaderLine(line string) (key, value string, ok bool) {
	idx := strings.IndexByte(line, ':')
	if idx < 0 {
		return "", "", false
	}
	return strings.TrimSpace(line[:idx]), strings.TrimSpace(line[idx+1:]), true
}

// extractURLParam pulls the value of the first "url=" query parameter out
// of a request path, stopping at the first "&" (spec.md §4.E). Returns ""
// if the path carries no such parameter or it fails to percent-decode.
func extractURLParam(path string) string {
	q := strings.SplitN(path, "?", 2)
	if len(q) != 2 {
		return ""
	}
	for _, kv := range strings.Split(q[1], "&") {
		parts := strings.SplitN(kv, "=", 2)
		if len(parts) != 2 || parts[0] != "url" {
			continue
		}
		decoded, err := url.QueryUnescape(parts[1])
		if err != nil {
			return ""
		}
		return decoded
	}
	return ""
}

func requestPathOnly(path string) string {
	if idx := strings.IndexByte(path, '?'); idx >= 0 {
		return path[:idx]
	}
	return path
}

package datasource

import (
	"strconv"
	"strings"
)

// ParsedRange is a client Range: header, already clamped to a known size.
type ParsedRange struct {
	Lo, Hi int64
	Valid  bool
}

// ParseRange accepts "bytes=<lo>-<hi?>" (spec.md §4.D). A missing <hi>
// means to end of file; hi is clamped to size-1; lo > hi is rejected.
func ParseRange(header string, size int64) (ParsedRange, bool) {
	const prefix = "bytes="
	if !strings.HasPrefix(header, prefix) {
		return ParsedRange{}, false
	}
	spec := strings.TrimPrefix(header, prefix)
	parts := strings.SplitN(spec, "-", 2)
	if len(parts) != 2 {
		return ParsedRange{}, false
	}

	lo, err := strconv.ParseInt(strings.TrimSpace(parts[0]), 10, 64)
	if err != nil || lo < 0 {
		return ParsedRange{}, false
	}

	hi := size - 1
	if strings.TrimSpace(parts[1]) != "" {
		parsedHi, err := strconv.ParseInt(strings.TrimSpace(parts[1]), 10, 64)
		if err != nil {
			return ParsedRange{}, false
		}
		hi = parsedHi
	}
	if hi > size-1 {
		hi = size - 1
	}
	if lo > hi {
		return ParsedRange{}, false
	}

	return ParsedRange{Lo: lo, Hi: hi, Valid: true}, true
}

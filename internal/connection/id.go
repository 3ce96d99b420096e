package connection

import (
	"fmt"
	"sync/atomic"

	"github.com/cespare/xxhash/v2"
	"github.com/google/uuid"
)

// seq gives every connection on this process a distinct ordinal even when
// two connections share a remote address (e.g. a local test harness
// dialing 127.0.0.1 repeatedly from the same ephemeral port pool).
var seq atomic.Uint64

// newTraceID produces a short, cheap-to-compute id for log lines on the
// per-request hot path. xxhash is non-cryptographic but that's fine here:
// the id only needs to be stable and collision-unlikely within one
// process's lifetime, not secure.
func newTraceID(remoteAddr string) string {
	if remoteAddr == "" {
		// No remote address to hash against (seen in some test doubles and
		// unusual transports): fall back to a real UUID instead of hashing
		// an empty string into a degenerate, easily-colliding id.
		return uuid.New().String()[:8]
	}
	n := seq.Add(1)
	h := xxhash.Sum64String(fmt.Sprintf("%s-%d", remoteAddr, n))
	return fmt.Sprintf("%08x", h&0xffffffff)
}

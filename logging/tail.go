package logging

import (
	"io"
	"sync"

	"github.com/armon/circbuf"
)

// defaultTailSize bounds the in-memory log tail surfaced by the exporter's
// /debug/log route. Writes beyond this size silently discard the oldest
// bytes, exactly like armon/circbuf's own behavior.
const defaultTailSize = 64 * 1024

// Tail is a bounded ring buffer of recent log output. It is safe to use as
// an io.Writer fan-out target alongside the primary log sink (e.g. stderr);
// a write here never blocks and never fails the caller.
type Tail struct {
	mu  sync.Mutex
	buf *circbuf.Buffer
}

// NewTail creates a Tail with the default capacity.
func NewTail() *Tail {
	buf, _ := circbuf.NewBuffer(defaultTailSize)
	return &Tail{buf: buf}
}

// Write implements io.Writer. Errors are swallowed: a logging sink must
// never cause the caller to fail.
func (t *Tail) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, _ = t.buf.Write(p)
	return len(p), nil
}

// Bytes returns a copy of the current tail contents.
func (t *Tail) Bytes() []byte {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]byte(nil), t.buf.Bytes()...)
}

var _ io.Writer = (*Tail)(nil)

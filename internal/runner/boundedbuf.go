package runner

import "strings"

// truncationMarker is prepended to output that lost its oldest lines.
const truncationMarker = "[output truncated, oldest lines dropped]"

// boundedBuffer keeps the newest lines within a byte budget. Runaway
// tool output (duplicacy lists every chunk at -debug) must not grow the
// orchestrator's memory without bound; the newest lines carry the
// failure reason, so the oldest are dropped first.
//
// Not safe for concurrent use: the capture goroutine is its only writer
// and readers wait for it to finish.
type boundedBuffer struct {
	limit     int
	size      int
	lines     []string
	truncated bool
}

func newBoundedBuffer(limit int) *boundedBuffer {
	return &boundedBuffer{limit: limit}
}

func (b *boundedBuffer) WriteLine(line string) {
	b.lines = append(b.lines, line)
	b.size += len(line) + 1
	for b.size > b.limit && len(b.lines) > 1 {
		b.size -= len(b.lines[0]) + 1
		b.lines = b.lines[1:]
		b.truncated = true
	}
}

func (b *boundedBuffer) Truncated() bool {
	return b.truncated
}

func (b *boundedBuffer) String() string {
	joined := strings.Join(b.lines, "\n")
	if b.truncated {
		return truncationMarker + "\n" + joined
	}
	return joined
}

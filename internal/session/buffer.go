package session

import (
	"strings"

	"github.com/charmbracelet/x/ansi"
)

// maxPartial bounds the unterminated tail carried between chunks. Terminal
// UIs that redraw with cursor movement may never emit a newline.
const maxPartial = 4096

// lineBuffer is a fixed-capacity ring of the most recent non-blank lines.
// Escape sequences are stripped before a line is stored.
type lineBuffer struct {
	lines   []string
	start   int
	size    int
	partial string
}

func newLineBuffer(capacity int) *lineBuffer {
	if capacity <= 0 {
		capacity = 50
	}
	return &lineBuffer{lines: make([]string, capacity)}
}

// Write splits chunk on line terminators. A trailing fragment without a
// terminator is held until the next chunk completes it.
func (b *lineBuffer) Write(chunk []byte) {
	text := b.partial + string(chunk)
	b.partial = ""

	idx := strings.LastIndexAny(text, "\r\n")
	if idx < 0 {
		b.hold(text)
		return
	}
	b.hold(text[idx+1:])

	for _, raw := range strings.FieldsFunc(text[:idx], isLineBreak) {
		b.push(raw)
	}
}

func (b *lineBuffer) hold(fragment string) {
	if len(fragment) > maxPartial {
		b.push(fragment)
		return
	}
	b.partial = fragment
}

func (b *lineBuffer) push(raw string) {
	line := strings.TrimRight(ansi.Strip(raw), " \t")
	if strings.TrimSpace(line) == "" {
		return
	}
	capacity := len(b.lines)
	if b.size < capacity {
		b.lines[(b.start+b.size)%capacity] = line
		b.size++
		return
	}
	b.lines[b.start] = line
	b.start = (b.start + 1) % capacity
}

// Lines returns the buffered lines oldest first, followed by the pending
// fragment when it has visible content. The result never exceeds capacity.
func (b *lineBuffer) Lines() []string {
	tail := strings.TrimRight(ansi.Strip(b.partial), " \t")
	hasTail := strings.TrimSpace(tail) != ""

	first := 0
	if hasTail && b.size == len(b.lines) {
		first = 1
	}
	out := make([]string, 0, b.size+1)
	for i := first; i < b.size; i++ {
		out = append(out, b.lines[(b.start+i)%len(b.lines)])
	}
	if hasTail {
		out = append(out, tail)
	}
	return out
}

func isLineBreak(r rune) bool { return r == '\n' || r == '\r' }

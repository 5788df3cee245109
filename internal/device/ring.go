package device

import (
	"strings"
	"unicode/utf8"
)

// ring is a fixed-capacity buffer of lines that overwrites its oldest entry.
type ring struct {
	lines []string
	next  int
	full  bool
}

func newRing(capacity int) *ring {
	return &ring{lines: make([]string, capacity)}
}

func (r *ring) Append(line string) {
	r.lines[r.next] = line
	r.next = (r.next + 1) % len(r.lines)
	if r.next == 0 {
		r.full = true
	}
}

func (r *ring) Len() int {
	if r.full {
		return len(r.lines)
	}
	return r.next
}

// Lines returns the stored lines oldest first.
func (r *ring) Lines() []string {
	if !r.full {
		return append([]string(nil), r.lines[:r.next]...)
	}
	out := make([]string, 0, len(r.lines))
	out = append(out, r.lines[r.next:]...)
	return append(out, r.lines[:r.next]...)
}

// Join renders the lines oldest first, newline separated, cut to at most
// max bytes. max <= 0 means no limit.
func (r *ring) Join(max int) string {
	return truncate(strings.Join(r.Lines(), "\n"), max)
}

// truncate cuts s to at most n bytes without splitting a UTF-8 sequence.
// n <= 0 returns s unchanged.
func truncate(s string, n int) string {
	if n <= 0 || len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

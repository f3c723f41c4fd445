package ftp

import (
	"fmt"
	"sync"
	"time"
)

// Origin tells where a status line came from.
type Origin int

const (
	// OriginServer marks a verbatim server reply.
	OriginServer Origin = iota
	// OriginSystem marks a diagnostic generated by the engine itself.
	OriginSystem
)

// Prefix returns the tag that starts every rendered line of this origin.
func (o Origin) Prefix() string {
	if o == OriginSystem {
		return "system: "
	}
	return "server: "
}

func (o Origin) String() string {
	if o == OriginSystem {
		return "system"
	}
	return "server"
}

// StatusLine is one entry of the session transcript.
type StatusLine struct {
	Origin Origin
	// Code is the reply code for server lines and empty for system lines.
	Code string
	Text string
	Time time.Time
}

// String renders the line with its origin tag, e.g. "server: 550 Exists".
func (l StatusLine) String() string {
	return l.Origin.Prefix() + l.Text
}

// transcript is the append-only log of everything shown to the caller.
type transcript struct {
	mu    sync.Mutex
	lines []StatusLine
	hook  func(StatusLine)
}

func (t *transcript) add(line StatusLine) {
	t.mu.Lock()
	t.lines = append(t.lines, line)
	hook := t.hook
	t.mu.Unlock()

	if hook != nil {
		hook(line)
	}
}

func (t *transcript) server(resp *Response) {
	t.add(StatusLine{
		Origin: OriginServer,
		Code:   resp.Code,
		Text:   resp.String(),
		Time:   time.Now(),
	})
}

func (t *transcript) system(format string, args ...any) {
	t.add(StatusLine{
		Origin: OriginSystem,
		Text:   fmt.Sprintf(format, args...),
		Time:   time.Now(),
	})
}

func (t *transcript) snapshot() []StatusLine {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]StatusLine, len(t.lines))
	copy(out, t.lines)
	return out
}

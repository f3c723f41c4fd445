package cli

import (
	"fmt"
	"io"
	"sync"

	"github.com/fatih/color"
	ftp "github.com/ftpdesk/ftpdesk"
)

// Theme colors status lines by origin and reply class.
type Theme struct {
	mu  sync.Mutex
	out io.Writer

	positive *color.Color
	negative *color.Color
	pending  *color.Color
	system   *color.Color
	heading  *color.Color
}

// NewTheme writes to out. With noColor set every line is plain text.
func NewTheme(out io.Writer, noColor bool) *Theme {
	t := &Theme{
		out:      out,
		positive: color.New(color.FgGreen),
		negative: color.New(color.FgRed, color.Bold),
		pending:  color.New(color.FgCyan),
		system:   color.New(color.FgYellow),
		heading:  color.New(color.FgGreen, color.Bold),
	}
	if noColor {
		for _, c := range []*color.Color{t.positive, t.negative, t.pending, t.system, t.heading} {
			c.DisableColor()
		}
	}
	return t
}

// colorFor picks the color of a status line.
func (t *Theme) colorFor(line ftp.StatusLine) *color.Color {
	if line.Origin == ftp.OriginSystem {
		return t.system
	}
	if line.Code == "" {
		return t.pending
	}
	switch line.Code[0] {
	case '1', '3':
		return t.pending
	case '4', '5':
		return t.negative
	default:
		return t.positive
	}
}

// Status prints one transcript line. It is safe to use as a transcript hook.
func (t *Theme) Status(line ftp.StatusLine) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.colorFor(line).Fprintln(t.out, line.String())
}

// Error prints err as a local diagnostic.
func (t *Theme) Error(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.negative.Fprintf(t.out, "error: %v\n", err)
}

// Heading prints a highlighted message.
func (t *Theme) Heading(format string, args ...any) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.heading.Fprintln(t.out, fmt.Sprintf(format, args...))
}

package cli

import (
	"io"
	"os"

	"github.com/fatih/color"
)

var (
	taskName   = color.New(color.FgCyan, color.Bold).SprintFunc()
	groupName  = color.New(color.FgMagenta, color.Bold).SprintFunc()
	dimText    = color.New(color.Faint).SprintFunc()
	statusOK   = color.New(color.FgGreen).SprintFunc()
	statusFail = color.New(color.FgRed).SprintFunc()
	statusRun  = color.New(color.FgYellow).SprintFunc()
)

// painter applies color only when writing to a terminal.
type painter struct {
	enabled bool
}

func newPainter(w io.Writer) painter {
	f, ok := w.(*os.File)
	return painter{enabled: ok && f == os.Stdout && !color.NoColor}
}

func (p painter) paint(fn func(...any) string, s string) string {
	if !p.enabled || s == "" {
		return s
	}
	return fn(s)
}

package compaction

import (
	"strings"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// frameLog accumulates the human-readable diagnostics returned by Pipeline.Log. Numbers are printed
// with digit grouping.
type frameLog struct {
	printer *message.Printer
	builder strings.Builder
}

func newFrameLog() *frameLog {
	return &frameLog{
		printer: message.NewPrinter(language.English),
	}
}

func (l *frameLog) Reset() {
	l.builder.Reset()
}

func (l *frameLog) Printf(format string, args ...any) {
	_, _ = l.printer.Fprintf(&l.builder, format, args...)
	l.builder.WriteByte('\n')
}

func (l *frameLog) String() string {
	return l.builder.String()
}

// frameCounters counts the events of one frame, for the summary written by NextFrame
type frameCounters struct {
	builds            int
	compactableBuilds int
	buildBytes        uint64
	ready             int
	started           int
	deferred          int
	demoted           int
	completed         int
	removed           int
	released          int
}

package logging

import (
	"bytes"
	"context"
	"log/slog"
	"sync"
)

// Writer is an io.Writer that forwards remote command output to slog, one record per line.
// Partial lines are buffered until a newline arrives or Flush is called.
type Writer struct {
	logger *slog.Logger
	stream string
	host   string

	mu  sync.Mutex
	buf bytes.Buffer
}

// NewWriter constructs a Writer bound to the provided logger.
// stream is "stdout" or "stderr"; host names the machine producing the output.
func NewWriter(logger *slog.Logger, host, stream string) *Writer {
	return &Writer{logger: logger, host: host, stream: stream}
}

// Write logs every complete line at debug level.
func (w *Writer) Write(p []byte) (int, error) {
	if w.logger == nil {
		return len(p), nil
	}
	w.mu.Lock()
	defer w.mu.Unlock()

	w.buf.Write(p)
	for {
		line, err := w.buf.ReadBytes('\n')
		if err != nil {
			// incomplete line: put it back for the next write
			rest := append([]byte(nil), line...)
			w.buf.Reset()
			w.buf.Write(rest)
			break
		}
		w.emit(bytes.TrimRight(line, "\r\n"))
	}
	return len(p), nil
}

// Flush logs any buffered partial line.
func (w *Writer) Flush() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.buf.Len() > 0 {
		w.emit(w.buf.Bytes())
		w.buf.Reset()
	}
}

func (w *Writer) emit(line []byte) {
	if len(line) == 0 || w.logger == nil {
		return
	}
	w.logger.Log(context.Background(), slog.LevelDebug, "command output", "host", w.host, "stream", w.stream, "line", string(line))
}

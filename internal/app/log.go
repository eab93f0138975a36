package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"bowtie-go/internal/bowtie"
)

// lineHandler writes one tab-separated line per record:
//
//	<timestamp>\t<level>\t<command>\t<message>\t<key=value ...>
type lineHandler struct {
	mu      *sync.Mutex
	w       io.Writer
	command string
	attrs   []slog.Attr
}

func newLineHandler(w io.Writer, command string) *lineHandler {
	return &lineHandler{mu: &sync.Mutex{}, w: w, command: command}
}

func (h *lineHandler) Enabled(_ context.Context, _ slog.Level) bool { return true }

func (h *lineHandler) Handle(_ context.Context, r slog.Record) error {
	buf := fmt.Appendf(nil, "%s\t%s\t%s\t%s",
		r.Time.UTC().Format("2006-01-02T15:04:05Z"), r.Level, h.command, r.Message)
	for _, a := range h.attrs {
		buf = fmt.Appendf(buf, "\t%s=%v", a.Key, a.Value)
	}
	r.Attrs(func(a slog.Attr) bool {
		buf = fmt.Appendf(buf, "\t%s=%v", a.Key, a.Value)
		return true
	})
	buf = append(buf, '\n')

	// Services log from several goroutines.
	h.mu.Lock()
	defer h.mu.Unlock()
	_, err := h.w.Write(buf)
	return err
}

func (h *lineHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &lineHandler{
		mu:      h.mu,
		w:       h.w,
		command: h.command,
		attrs:   append(append([]slog.Attr{}, h.attrs...), attrs...),
	}
}

func (h *lineHandler) WithGroup(string) slog.Handler { return h }

// newLogger opens logDir/bowtie.log and returns a logger writing to it and
// to stderr. The caller closes the returned file.
func newLogger(logDir, command string) (*slog.Logger, *os.File, error) {
	if err := os.MkdirAll(logDir, 0755); err != nil {
		return nil, nil, fmt.Errorf("creating log directory: %w", err)
	}

	f, err := os.OpenFile(filepath.Join(logDir, "bowtie.log"), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, nil, fmt.Errorf("opening log file: %w", err)
	}
	return slog.New(newLineHandler(io.MultiWriter(f, os.Stderr), command)), f, nil
}

// slogAdapter lets the services log through *slog.Logger.
type slogAdapter struct {
	l *slog.Logger
}

var _ bowtie.Logger = (*slogAdapter)(nil)

func (a *slogAdapter) Debug(msg string, args ...any) { a.l.Debug(msg, args...) }
func (a *slogAdapter) Info(msg string, args ...any)  { a.l.Info(msg, args...) }
func (a *slogAdapter) Warn(msg string, args ...any)  { a.l.Warn(msg, args...) }
func (a *slogAdapter) Error(msg string, args ...any) { a.l.Error(msg, args...) }

func (a *slogAdapter) With(args ...any) bowtie.Logger {
	return &slogAdapter{l: a.l.With(args...)}
}

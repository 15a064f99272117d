package logger

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"sync"
)

var levelColors = map[slog.Level]string{
	slog.LevelDebug: "\033[36m", // cyan
	slog.LevelInfo:  "\033[32m", // green
	slog.LevelWarn:  "\033[33m", // yellow
	slog.LevelError: "\033[31m", // red
}

// ColorTextHandler writes a colored level tag in front of each slog.TextHandler
// line. The tag goes straight to the writer since TextHandler quotes messages
// holding escape codes.
type ColorTextHandler struct {
	*slog.TextHandler
	out io.Writer
	mu  *sync.Mutex
	buf *bytes.Buffer
}

func NewColorTextHandler(w io.Writer, opts *slog.HandlerOptions) *ColorTextHandler {
	buf := &bytes.Buffer{}
	return &ColorTextHandler{
		TextHandler: slog.NewTextHandler(buf, opts),
		out:         w,
		mu:          &sync.Mutex{},
		buf:         buf,
	}
}

func (h *ColorTextHandler) Handle(ctx context.Context, r slog.Record) error {
	code, ok := levelColors[r.Level]
	if !ok {
		code = "\033[0m"
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.buf.Reset()
	h.buf.WriteString(code + r.Level.String() + "\033[0m ")
	if err := h.TextHandler.Handle(ctx, r); err != nil {
		return err
	}
	_, err := h.out.Write(h.buf.Bytes())
	return err
}

func (h *ColorTextHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return h.derive(h.TextHandler.WithAttrs(attrs).(*slog.TextHandler))
}

func (h *ColorTextHandler) WithGroup(name string) slog.Handler {
	return h.derive(h.TextHandler.WithGroup(name).(*slog.TextHandler))
}

// derived handlers write into the same buffer, so they share its lock.
func (h *ColorTextHandler) derive(th *slog.TextHandler) *ColorTextHandler {
	return &ColorTextHandler{TextHandler: th, out: h.out, mu: h.mu, buf: h.buf}
}

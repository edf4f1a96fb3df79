// Package rpclog provides the structured logger every core package logs
// through. It wraps log/slog with the same two ideas as teacher's
// internal/logger.FileLogger — a bounded in-memory ring of recent
// entries retrievable without tailing a file, and a discard logger for
// tests — but emits structured slog.Record attributes instead of
// printf-formatted strings, and a real slog.Handler rather than a
// bespoke interface.
package rpclog

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// defaultMaxFileSize mirrors teacher's 1MB rotation threshold.
const defaultMaxFileSize = 1024 * 1024

// defaultRingSize mirrors teacher's 10000-entry in-memory cap.
const defaultRingSize = 10000

// Entry is one captured log record, independent of slog.Record's
// single-pass Attrs iterator so RingHandler can replay it later.
type Entry struct {
	Time    time.Time
	Level   slog.Level
	Message string
	Attrs   []slog.Attr
}

// RingHandler is an slog.Handler that keeps the last N records in
// memory (overwriting the oldest once full, same discipline as
// teacher's memoryLogs slice) at every level, and forwards to a
// delegate handler, typically one writing NDJSON to a file, each
// record whose level the delegate has enabled.
type RingHandler struct {
	delegate slog.Handler

	mu      sync.Mutex
	entries []Entry
	max     int
	next    int
	full    bool
}

// NewRingHandler wraps delegate with a ring buffer of size max. A
// max <= 0 uses defaultRingSize.
func NewRingHandler(delegate slog.Handler, max int) *RingHandler {
	if max <= 0 {
		max = defaultRingSize
	}
	return &RingHandler{delegate: delegate, entries: make([]Entry, max), max: max}
}

func (h *RingHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return true
}

func (h *RingHandler) Handle(ctx context.Context, r slog.Record) error {
	entry := Entry{Time: r.Time, Level: r.Level, Message: r.Message}
	r.Attrs(func(a slog.Attr) bool {
		entry.Attrs = append(entry.Attrs, a)
		return true
	})

	h.mu.Lock()
	h.entries[h.next] = entry
	h.next = (h.next + 1) % h.max
	if h.next == 0 {
		h.full = true
	}
	h.mu.Unlock()

	if !h.delegate.Enabled(ctx, r.Level) {
		return nil
	}
	return h.delegate.Handle(ctx, r)
}

func (h *RingHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &RingHandler{delegate: h.delegate.WithAttrs(attrs), entries: h.entries, max: h.max}
}

func (h *RingHandler) WithGroup(name string) slog.Handler {
	return &RingHandler{delegate: h.delegate.WithGroup(name), entries: h.entries, max: h.max}
}

// Entries returns every buffered entry at or above minLevel, oldest
// first.
func (h *RingHandler) Entries(minLevel slog.Level) []Entry {
	h.mu.Lock()
	defer h.mu.Unlock()

	var ordered []Entry
	if h.full {
		ordered = append(ordered, h.entries[h.next:]...)
	}
	ordered = append(ordered, h.entries[:h.next]...)

	out := make([]Entry, 0, len(ordered))
	for _, e := range ordered {
		if e.Level >= minLevel {
			out = append(out, e)
		}
	}
	return out
}

// New opens (creating parent directories as needed) an NDJSON log file
// at path, rotating (truncating) it first if it has grown past
// defaultMaxFileSize, and returns an *slog.Logger writing through a
// RingHandler: the file receives records at fileLevel and above, the
// ring every record. The returned close func must be called to
// release the file handle.
func New(path string, fileLevel slog.Level) (logger *slog.Logger, ring *RingHandler, close func() error, err error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, nil, nil, fmt.Errorf("rpclog: create log directory: %w", err)
	}

	if info, statErr := os.Stat(path); statErr == nil && info.Size() > defaultMaxFileSize {
		os.Remove(path)
	}

	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("rpclog: open log file: %w", err)
	}

	jsonHandler := slog.NewJSONHandler(file, &slog.HandlerOptions{Level: fileLevel})
	ring = NewRingHandler(jsonHandler, defaultRingSize)
	return slog.New(ring), ring, file.Close, nil
}

// Discard returns a logger that writes nowhere, mirroring teacher's
// NullLogger for tests and disabled-logging configurations.
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(discardWriter{}, &slog.HandlerOptions{Level: slog.LevelError + 100}))
}

type discardWriter struct{}

func (discardWriter) Write(p []byte) (int, error) { return len(p), nil }

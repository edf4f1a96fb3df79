package rpclog

import (
	"context"
	"log/slog"
	"path/filepath"
	"testing"
)

func assertEqual(t *testing.T, got, want interface{}, field string) {
	t.Helper()
	if got != want {
		t.Errorf("%s mismatch: want %v, got %v", field, want, got)
	}
}

func TestNewWritesLogFileAndRing(t *testing.T) {
	path := filepath.Join(t.TempDir(), "lspwired.log")
	logger, ring, closeFn, err := New(path, slog.LevelInfo)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer closeFn()

	logger.Info("hello", "method", "initialize")
	logger.Debug("suppressed below file level") // below fileLevel, still ring-buffered

	entries := ring.Entries(slog.LevelDebug)
	if len(entries) != 2 {
		t.Fatalf("expected 2 ring entries, got %d", len(entries))
	}
	assertEqual(t, entries[0].Message, "hello", "entries[0].Message")
	assertEqual(t, entries[1].Message, "suppressed below file level", "entries[1].Message")
}

func TestRingHandlerEntriesFiltersByLevel(t *testing.T) {
	ring := NewRingHandler(slog.NewJSONHandler(discardWriter{}, nil), 10)
	logger := slog.New(ring)

	logger.Error("err one")
	logger.Info("info one")

	onlyErrors := ring.Entries(slog.LevelError)
	if len(onlyErrors) != 1 || onlyErrors[0].Message != "err one" {
		t.Fatalf("expected only the error entry, got %+v", onlyErrors)
	}

	all := ring.Entries(slog.LevelDebug)
	if len(all) != 2 {
		t.Fatalf("expected both entries, got %d", len(all))
	}
}

func TestRingHandlerWrapsAroundWhenFull(t *testing.T) {
	ring := NewRingHandler(slog.NewJSONHandler(discardWriter{}, nil), 3)
	logger := slog.New(ring)

	for i := 0; i < 5; i++ {
		logger.Info("msg", "n", i)
	}

	entries := ring.Entries(slog.LevelDebug)
	if len(entries) != 3 {
		t.Fatalf("expected ring capped at 3 entries, got %d", len(entries))
	}

	wantNs := []int64{2, 3, 4}
	for i, e := range entries {
		var n int64 = -1
		for _, a := range e.Attrs {
			if a.Key == "n" {
				n = a.Value.Int64()
			}
		}
		if n != wantNs[i] {
			t.Fatalf("entry %d: want n=%d, got %d", i, wantNs[i], n)
		}
	}
}

func TestDiscardLoggerSuppressesOutput(t *testing.T) {
	logger := Discard()
	logger.Log(context.Background(), slog.LevelError, "should not panic or write anywhere")
}

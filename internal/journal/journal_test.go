package journal

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/timbrelabs/timbre/internal/config"
)

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestOpenEphemeral(t *testing.T) {
	ctx := context.Background()
	cfg := config.JournalConfig{Mode: "ephemeral"}
	js, err := Open(ctx, cfg, newLogger())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	t.Cleanup(func() { _ = js.Close() })

	if err := js.Append(ctx, Record{RequestID: "req-1", Persona: "caspar"}); err != nil {
		t.Fatalf("append: %v", err)
	}
	records, err := js.Recent(ctx, 10)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(records) != 0 {
		t.Fatalf("ephemeral journal must not retain records, got %d", len(records))
	}
}

func TestAppendAndRecent(t *testing.T) {
	tmp := t.TempDir()
	cfg := config.JournalConfig{Path: filepath.Join(tmp, "journal.db"), Mode: "persistent"}
	js, err := Open(context.Background(), cfg, newLogger())
	if err != nil {
		t.Fatalf("open journal: %v", err)
	}
	t.Cleanup(func() { _ = js.Close() })

	rec := Record{
		RequestID:    "req-42",
		Persona:      "melchior",
		Identity:     "q7MEl4H_Kp2sXv9Z",
		ModelVersion: "v2",
		Strategy:     "vad",
		CacheHit:     true,
		SegmentCount: 3,
		DurationMS:   125,
		Status:       "ok",
	}
	if err := js.Append(context.Background(), rec); err != nil {
		t.Fatalf("append: %v", err)
	}

	records, err := js.Recent(context.Background(), 10)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("expected 1 record, got %d", len(records))
	}
	got := records[0]
	if got.RequestID != "req-42" || got.Persona != "melchior" || !got.CacheHit || got.SegmentCount != 3 {
		t.Fatalf("unexpected record: %+v", got)
	}

	byIdentity, err := js.ForIdentity(context.Background(), "q7MEl4H_Kp2sXv9Z", 10)
	if err != nil {
		t.Fatalf("for identity: %v", err)
	}
	if len(byIdentity) != 1 {
		t.Fatalf("expected 1 record for identity, got %d", len(byIdentity))
	}
	if byIdentity[0].ModelVersion != "v2" {
		t.Fatalf("unexpected model version %q", byIdentity[0].ModelVersion)
	}
}

func TestPruneByDaysAndMax(t *testing.T) {
	tmp := t.TempDir()
	cfg := config.JournalConfig{Path: filepath.Join(tmp, "journal.db"), Mode: "persistent", RetentionDays: 1, MaxRequests: 1}
	js, err := Open(context.Background(), cfg, newLogger())
	if err != nil {
		t.Fatalf("open journal: %v", err)
	}
	t.Cleanup(func() { _ = js.Close() })

	js.clock = func() time.Time { return time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC) }
	if err := js.Append(context.Background(), Record{RequestID: "old", Identity: "aaaa"}); err != nil {
		t.Fatalf("append old: %v", err)
	}

	js.clock = func() time.Time { return time.Date(2025, 1, 3, 0, 0, 0, 0, time.UTC) }
	if err := js.Append(context.Background(), Record{RequestID: "new", Identity: "bbbb"}); err != nil {
		t.Fatalf("append new: %v", err)
	}
	if err := js.Prune(context.Background()); err != nil {
		t.Fatalf("prune: %v", err)
	}

	records, err := js.Recent(context.Background(), 10)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("expected prune to keep 1 record, got %d", len(records))
	}
	if records[0].RequestID != "new" {
		t.Fatalf("expected newest record to survive, got %q", records[0].RequestID)
	}
}

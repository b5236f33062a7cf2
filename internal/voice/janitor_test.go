package voice

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/timbrelabs/timbre/internal/config"
)

func TestJanitorSweepEvictsStaleEntries(t *testing.T) {
	c := newTestCache(t)
	oldKey := CacheKey{Identity: "stale", ModelVersion: "v2"}
	newKey := CacheKey{Identity: "active", ModelVersion: "v2"}
	if err := c.Store(oldKey, testArtifact("v2")); err != nil {
		t.Fatalf("store old: %v", err)
	}
	if err := c.Store(newKey, testArtifact("v2")); err != nil {
		t.Fatalf("store new: %v", err)
	}
	past := time.Now().Add(-72 * time.Hour)
	if err := os.Chtimes(c.ArtifactPath(oldKey), past, past); err != nil {
		t.Fatalf("chtimes: %v", err)
	}

	cfg := config.VoiceConfig{RetentionDays: 1, JanitorIntervalMS: int(time.Hour / time.Millisecond)}
	j := NewJanitor(context.Background(), cfg, c, newTestLogger())
	defer j.Close()

	j.sweep()

	if _, err := os.Stat(filepath.Join(c.Root(), oldKey.Identity)); !errors.Is(err, fs.ErrNotExist) {
		t.Fatalf("stale entry must be gone: %v", err)
	}
	if _, err := c.Load(newKey); err != nil {
		t.Fatalf("recent entry must survive: %v", err)
	}
}

func TestJanitorZeroRetentionNeverSweeps(t *testing.T) {
	c := newTestCache(t)
	key := CacheKey{Identity: "kept-forever", ModelVersion: "v2"}
	if err := c.Store(key, testArtifact("v2")); err != nil {
		t.Fatalf("store: %v", err)
	}
	past := time.Now().Add(-1000 * time.Hour)
	if err := os.Chtimes(c.ArtifactPath(key), past, past); err != nil {
		t.Fatalf("chtimes: %v", err)
	}

	cfg := config.VoiceConfig{RetentionDays: 0, JanitorIntervalMS: 1}
	j := NewJanitor(context.Background(), cfg, c, newTestLogger())
	time.Sleep(20 * time.Millisecond)
	j.Close()

	if _, err := c.Load(key); err != nil {
		t.Fatalf("zero retention must disable eviction: %v", err)
	}
}

func TestJanitorCloseStopsLoop(t *testing.T) {
	c := newTestCache(t)
	cfg := config.VoiceConfig{RetentionDays: 1, JanitorIntervalMS: 1}
	j := NewJanitor(context.Background(), cfg, c, newTestLogger())

	done := make(chan struct{})
	go func() {
		j.Close()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("janitor did not shut down")
	}
}

func TestJanitorSweepUsesInjectedClock(t *testing.T) {
	c := newTestCache(t)
	key := CacheKey{Identity: "borderline", ModelVersion: "v2"}
	if err := c.Store(key, testArtifact("v2")); err != nil {
		t.Fatalf("store: %v", err)
	}

	cfg := config.VoiceConfig{RetentionDays: 1, JanitorIntervalMS: int(time.Hour / time.Millisecond)}
	j := NewJanitor(context.Background(), cfg, c, newTestLogger())
	defer j.Close()

	// With the clock pushed two days ahead the just-written entry falls
	// outside the retention window.
	j.clock = func() time.Time { return time.Now().Add(48 * time.Hour) }
	j.sweep()

	if _, err := c.Load(key); !errors.Is(err, fs.ErrNotExist) {
		t.Fatalf("entry should have been evicted under the advanced clock: %v", err)
	}
}

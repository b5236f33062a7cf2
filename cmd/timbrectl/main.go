package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/timbrelabs/timbre/internal/audio"
	"github.com/timbrelabs/timbre/internal/config"
	"github.com/timbrelabs/timbre/internal/journal"
	"github.com/timbrelabs/timbre/internal/voice"
)

var version = "0.1.0-dev"

func main() {
	var (
		hashFile string
		hashRate int

		evictRoot string
		evictDays int

		journalPath  string
		journalLimit int
	)

	hashCmd := flag.NewFlagSet("hash", flag.ExitOnError)
	hashCmd.StringVar(&hashFile, "file", "", "Path to a reference audio file")
	hashCmd.IntVar(&hashRate, "rate", 16000, "Analysis sample rate used for hashing")

	evictCmd := flag.NewFlagSet("evict", flag.ExitOnError)
	evictCmd.StringVar(&evictRoot, "cache", "./data/voices", "Path to the embedding cache root")
	evictCmd.IntVar(&evictDays, "older-than", 30, "Evict entries older than this many days")

	journalCmd := flag.NewFlagSet("journal", flag.ExitOnError)
	journalCmd.StringVar(&journalPath, "db", "./data/timbre-journal.db", "Path to the request journal")
	journalCmd.IntVar(&journalLimit, "limit", 20, "Number of recent requests to show")

	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, "expected 'hash', 'evict', 'journal' or 'version'")
		os.Exit(2)
	}

	switch os.Args[1] {
	case "hash":
		hashCmd.Parse(os.Args[2:])
		if err := runHash(hashFile, hashRate); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
	case "evict":
		evictCmd.Parse(os.Args[2:])
		if err := runEvict(evictRoot, evictDays); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
	case "journal":
		journalCmd.Parse(os.Args[2:])
		if err := runJournal(journalPath, journalLimit); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
	case "version":
		fmt.Println(version)
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n", os.Args[1])
		os.Exit(2)
	}
}

func runHash(path string, rate int) error {
	if path == "" {
		return fmt.Errorf("hash: -file is required")
	}
	clip, err := audio.LoadClip(path)
	if err != nil {
		return err
	}
	identity, err := voice.NewHasher(rate).Identity(clip)
	if err != nil {
		return err
	}
	fmt.Println(identity)
	return nil
}

func runEvict(root string, days int) error {
	if days <= 0 {
		return fmt.Errorf("evict: -older-than must be positive")
	}
	cache, err := voice.NewCache(root, cliLogger())
	if err != nil {
		return err
	}
	removed, err := cache.EvictOlderThan(time.Now().AddDate(0, 0, -days))
	if err != nil {
		return err
	}
	fmt.Printf("evicted %d cache entries\n", removed)
	return nil
}

func runJournal(path string, limit int) error {
	ctx := context.Background()
	store, err := journal.Open(ctx, config.JournalConfig{Path: path, Mode: "persistent"}, cliLogger())
	if err != nil {
		return err
	}
	defer store.Close()

	records, err := store.Recent(ctx, limit)
	if err != nil {
		return err
	}
	for _, rec := range records {
		fmt.Printf("%s\t%s\t%s\t%s\t%s\thit=%t\t%dms\n",
			rec.CreatedAt.Format(time.RFC3339),
			rec.RequestID, rec.Persona, rec.Status, rec.Identity,
			rec.CacheHit, rec.DurationMS)
	}
	return nil
}

func cliLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
}

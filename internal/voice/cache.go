package voice

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	"golang.org/x/sync/singleflight"
)

// artifactFile is the embedding file name inside a key's work directory.
const artifactFile = "embedding.bin"

// CacheKey identifies one embedding artifact: the audio identity plus the
// model version that produced it.
type CacheKey struct {
	Identity     string
	ModelVersion string
}

func (k CacheKey) String() string {
	return k.Identity + "/" + k.ModelVersion
}

// ComputeFunc produces the artifact for a key on a cache miss. The work
// directory is the key's deterministic location under the cache root;
// segment files written there are owned by the cache afterwards.
type ComputeFunc func(ctx context.Context, workDir string) (*Artifact, error)

// Stats is a point-in-time snapshot of cache effectiveness.
type Stats struct {
	Hits   int64
	Misses int64
}

// Cache maps cache keys to embedding artifacts on durable storage. Lookups
// go to the filesystem every time, so artifacts survive restarts and
// tolerate external eviction; the only in-memory state is the in-flight
// compute group and counters.
type Cache struct {
	root  string
	log   *slog.Logger
	codec *artifactCodec
	group singleflight.Group
	meter metric.Meter

	hits   atomic.Int64
	misses atomic.Int64
}

// NewCache opens (and creates if needed) the cache root directory.
func NewCache(root string, log *slog.Logger) (*Cache, error) {
	if root == "" {
		return nil, fmt.Errorf("cache root is empty")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, &CacheIOError{Op: "mkdir", Path: root, Err: err}
	}
	codec, err := newArtifactCodec()
	if err != nil {
		return nil, err
	}
	c := &Cache{
		root:  root,
		log:   log.With(slog.String("component", "embedding-cache")),
		codec: codec,
		meter: otel.Meter("github.com/timbrelabs/timbre/runtime"),
	}
	if err := c.initMetrics(); err != nil {
		c.log.Warn("failed to initialize metrics", slog.String("error", err.Error()))
	}
	return c, nil
}

// Root returns the cache root directory.
func (c *Cache) Root() string { return c.root }

// WorkDir returns the deterministic working directory for a key. Segment
// files and the artifact for the key live inside it.
func (c *Cache) WorkDir(key CacheKey) string {
	return filepath.Join(c.root, key.Identity, key.ModelVersion)
}

// ArtifactPath returns where the embedding for a key is persisted.
func (c *Cache) ArtifactPath(key CacheKey) string {
	return filepath.Join(c.WorkDir(key), artifactFile)
}

// Load reads and validates the artifact for a key. A missing file surfaces
// as fs.ErrNotExist; a damaged one as ErrArtifactCorrupt.
func (c *Cache) Load(key CacheKey) (*Artifact, error) {
	data, err := os.ReadFile(c.ArtifactPath(key))
	if err != nil {
		return nil, err
	}
	a, err := c.codec.decode(data)
	if err != nil {
		return nil, err
	}
	if a.ModelVersion != key.ModelVersion {
		return nil, fmt.Errorf("%w: artifact version %q, want %q", ErrArtifactCorrupt, a.ModelVersion, key.ModelVersion)
	}
	return a, nil
}

// Store persists an artifact atomically: encode to a temp file in the target
// directory, then rename over the final path so concurrent readers never see
// a partial write.
func (c *Cache) Store(key CacheKey, a *Artifact) error {
	dir := c.WorkDir(key)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return &CacheIOError{Op: "mkdir", Path: dir, Err: err}
	}
	data, err := c.codec.encode(a)
	if err != nil {
		return &CacheIOError{Op: "encode", Path: c.ArtifactPath(key), Err: err}
	}

	tmp, err := os.CreateTemp(dir, artifactFile+".tmp-*")
	if err != nil {
		return &CacheIOError{Op: "create", Path: dir, Err: err}
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return &CacheIOError{Op: "write", Path: tmpName, Err: err}
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return &CacheIOError{Op: "close", Path: tmpName, Err: err}
	}
	if err := os.Rename(tmpName, c.ArtifactPath(key)); err != nil {
		os.Remove(tmpName)
		return &CacheIOError{Op: "rename", Path: c.ArtifactPath(key), Err: err}
	}
	return nil
}

type flightResult struct {
	artifact *Artifact
	computed bool
}

// GetOrCompute returns the cached artifact for a key, computing and
// persisting it when absent. Concurrent callers for the same key share one
// computation: late callers wait for the leader and receive its result or
// its failure, then the failure leaves nothing behind so the next request
// recomputes. The computation itself is detached from the leader's
// cancellation because its artifact is reusable by every other caller.
//
// The returned bool reports whether the artifact came from the cache rather
// than a computation.
func (c *Cache) GetOrCompute(ctx context.Context, key CacheKey, compute ComputeFunc) (*Artifact, bool, error) {
	if a, err := c.Load(key); err == nil {
		c.hits.Add(1)
		return a, true, nil
	} else if errors.Is(err, ErrArtifactCorrupt) {
		c.log.Warn("cached artifact unusable, recomputing",
			slog.String("key", key.String()),
			slog.String("error", err.Error()))
	}

	v, err, _ := c.group.Do(key.String(), func() (interface{}, error) {
		// Re-check after winning the flight: another caller may have
		// finished while this one queued.
		if a, err := c.Load(key); err == nil {
			return flightResult{artifact: a}, nil
		}

		a, err := compute(context.WithoutCancel(ctx), c.WorkDir(key))
		if err != nil {
			return nil, err
		}
		if a == nil || len(a.Vector) == 0 {
			return nil, fmt.Errorf("compute returned an empty artifact for %s", key)
		}
		if err := c.Store(key, a); err != nil {
			return nil, err
		}
		return flightResult{artifact: a, computed: true}, nil
	})
	if err != nil {
		c.misses.Add(1)
		return nil, false, err
	}

	res := v.(flightResult)
	if res.computed {
		c.misses.Add(1)
	} else {
		c.hits.Add(1)
	}
	return res.artifact, !res.computed, nil
}

// EvictOlderThan removes identity subtrees whose newest artifact predates
// the cutoff. Identity directories holding no artifact at all (left over
// from failed runs) are aged by their own modification time. Returns the
// number of identities removed.
func (c *Cache) EvictOlderThan(cutoff time.Time) (int, error) {
	entries, err := os.ReadDir(c.root)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return 0, nil
		}
		return 0, &CacheIOError{Op: "read", Path: c.root, Err: err}
	}

	removed := 0
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		dir := filepath.Join(c.root, entry.Name())
		newest := newestArtifactTime(dir)
		if newest.IsZero() {
			info, err := entry.Info()
			if err != nil {
				continue
			}
			newest = info.ModTime()
		}
		if !newest.Before(cutoff) {
			continue
		}
		if err := os.RemoveAll(dir); err != nil {
			c.log.Warn("failed to evict cache entry",
				slog.String("path", dir),
				slog.String("error", err.Error()))
			continue
		}
		removed++
	}
	return removed, nil
}

// Stats reports hit and miss counts since the cache was opened.
func (c *Cache) Stats() Stats {
	return Stats{Hits: c.hits.Load(), Misses: c.misses.Load()}
}

func (c *Cache) initMetrics() error {
	if c.meter == nil {
		return nil
	}
	hits, err := c.meter.Int64ObservableCounter("timbre.voice.cache.hits",
		metric.WithDescription("Embedding cache lookups served from disk"))
	if err != nil {
		return err
	}
	misses, err := c.meter.Int64ObservableCounter("timbre.voice.cache.misses",
		metric.WithDescription("Embedding cache lookups that required computation"))
	if err != nil {
		return err
	}
	_, err = c.meter.RegisterCallback(func(_ context.Context, obs metric.Observer) error {
		obs.ObserveInt64(hits, c.hits.Load())
		obs.ObserveInt64(misses, c.misses.Load())
		return nil
	}, hits, misses)
	return err
}

func newestArtifactTime(identityDir string) time.Time {
	var newest time.Time
	_ = filepath.WalkDir(identityDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() || d.Name() != artifactFile {
			return nil
		}
		if info, err := d.Info(); err == nil && info.ModTime().After(newest) {
			newest = info.ModTime()
		}
		return nil
	})
	return newest
}

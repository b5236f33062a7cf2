package voice

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/timbrelabs/timbre/internal/audio"
	"github.com/timbrelabs/timbre/internal/config"
	"github.com/timbrelabs/timbre/internal/persona"
)

// Result is the outcome of preparing one reference clip.
type Result struct {
	Identity string
	WorkName string
	WorkDir  string
	Artifact *Artifact
	CacheHit bool
	Elapsed  time.Duration
}

// Pipeline composes hashing, segmentation, extraction, and the cache into a
// single operation: get or compute the embedding for a reference clip.
//
// Per request the flow is identify, cache lookup, and on a miss segment,
// extract, and store. Identify and segment failures are terminal for the
// request and never leave an artifact behind.
type Pipeline struct {
	cfg       config.VoiceConfig
	hasher    *Hasher
	segmenter Segmenter
	extractor Extractor
	cache     *Cache
	registry  *persona.Registry
	log       *slog.Logger

	// sem bounds the concurrent CPU-heavy stages (decode+hash and
	// segment+extract) across all requests.
	sem *semaphore.Weighted

	// personaRefs marks reference paths registered at startup; only those
	// identities are memoized, so ad-hoc paths cannot grow the map.
	personaRefs map[string]struct{}

	mu       sync.RWMutex
	memoized map[string]string
}

// NewPipeline wires the pipeline from its injected collaborators.
func NewPipeline(cfg config.VoiceConfig, registry *persona.Registry, segmenter Segmenter, extractor Extractor, cache *Cache, log *slog.Logger) *Pipeline {
	maxInflight := cfg.MaxInflight
	if maxInflight <= 0 {
		maxInflight = 2
	}
	p := &Pipeline{
		cfg:         cfg,
		hasher:      NewHasher(cfg.AnalysisSampleRate),
		segmenter:   segmenter,
		extractor:   extractor,
		cache:       cache,
		registry:    registry,
		log:         log.With(slog.String("component", "voice-pipeline")),
		sem:         semaphore.NewWeighted(int64(maxInflight)),
		personaRefs: make(map[string]struct{}),
		memoized:    make(map[string]string),
	}
	if registry != nil {
		for _, per := range registry.All() {
			p.personaRefs[per.Reference] = struct{}{}
		}
	}
	return p
}

// Prepare returns the embedding artifact for the reference clip at path,
// computing it on first sight and serving the cache afterwards.
func (p *Pipeline) Prepare(ctx context.Context, path string) (*Result, error) {
	start := time.Now()

	identity, clip, err := p.resolveIdentity(ctx, path)
	if err != nil {
		return nil, err
	}
	key := CacheKey{Identity: identity, ModelVersion: p.cfg.ModelVersion}

	artifact, hit, err := p.cache.GetOrCompute(ctx, key, func(ctx context.Context, workDir string) (*Artifact, error) {
		return p.compute(ctx, path, clip, workDir)
	})
	if err != nil {
		return nil, err
	}

	res := &Result{
		Identity: identity,
		WorkName: WorkName(path, p.cfg.ModelVersion, identity),
		WorkDir:  p.cache.WorkDir(key),
		Artifact: artifact,
		CacheHit: hit,
		Elapsed:  time.Since(start),
	}
	p.log.Debug("prepared voice embedding",
		slog.String("identity", identity),
		slog.Bool("cache_hit", hit),
		slog.Int("segments", artifact.SegmentCount),
		slog.Duration("elapsed", res.Elapsed))
	return res, nil
}

// WarmIdentities decodes and hashes every registered persona reference so
// their identities are memoized up front. No model runs and nothing is
// written to the cache; after this, a persona whose artifact is already
// persisted stays servable even if its reference file disappears.
func (p *Pipeline) WarmIdentities(ctx context.Context) error {
	if p.registry == nil {
		return nil
	}
	var g errgroup.Group
	for _, per := range p.registry.All() {
		g.Go(func() error {
			if _, _, err := p.resolveIdentity(ctx, per.Reference); err != nil {
				return fmt.Errorf("identify persona %s: %w", per.Name, err)
			}
			return nil
		})
	}
	return g.Wait()
}

// WarmUp precomputes embeddings for every registered persona so first
// requests are cache hits. Personas warm independently; the first failure is
// returned after all finish.
func (p *Pipeline) WarmUp(ctx context.Context) error {
	if p.registry == nil {
		return nil
	}
	var g errgroup.Group
	for _, per := range p.registry.All() {
		g.Go(func() error {
			if _, err := p.Prepare(ctx, per.Reference); err != nil {
				return fmt.Errorf("warm persona %s: %w", per.Name, err)
			}
			return nil
		})
	}
	return g.Wait()
}

// CacheStats exposes the underlying cache counters.
func (p *Pipeline) CacheStats() Stats {
	return p.cache.Stats()
}

// resolveIdentity returns the clip's identity, decoding and hashing unless a
// memoized identity for a registered persona reference short-circuits the
// work. The decoded clip is returned when decoding happened, so a following
// compute can reuse it.
func (p *Pipeline) resolveIdentity(ctx context.Context, path string) (string, *audio.Clip, error) {
	if id, ok := p.memoizedIdentity(path); ok {
		return id, nil, nil
	}

	if err := p.sem.Acquire(ctx, 1); err != nil {
		return "", nil, err
	}
	defer p.sem.Release(1)

	clip, err := audio.LoadClip(path)
	if err != nil {
		return "", nil, &DecodeError{Path: path, Err: err}
	}
	id, err := p.hasher.Identity(clip)
	if err != nil {
		return "", nil, err
	}
	p.memoize(path, id)
	return id, clip, nil
}

// compute is the cache-miss path: segment the clip and extract the
// embedding. clip may be nil when identity resolution was memoized; then the
// clip is decoded here.
func (p *Pipeline) compute(ctx context.Context, path string, clip *audio.Clip, workDir string) (*Artifact, error) {
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer p.sem.Release(1)

	if clip == nil {
		loaded, err := audio.LoadClip(path)
		if err != nil {
			return nil, &DecodeError{Path: path, Err: err}
		}
		clip = loaded
	}

	corpus, err := p.segmenter.Segment(ctx, clip, workDir)
	if err != nil {
		return nil, err
	}
	if len(corpus.Segments) == 0 {
		return nil, ErrEmptyCorpus
	}

	vec, err := p.extractor.Extract(ctx, corpus)
	if err != nil {
		return nil, &ModelError{Backend: p.cfg.Extractor.Mode, Err: err}
	}

	return &Artifact{
		ModelVersion: p.cfg.ModelVersion,
		Dim:          len(vec),
		Vector:       vec,
		SegmentCount: len(corpus.Segments),
		CreatedAt:    time.Now().UTC(),
	}, nil
}

func (p *Pipeline) memoize(path, identity string) {
	if _, ok := p.personaRefs[path]; !ok {
		return
	}
	p.mu.Lock()
	p.memoized[path] = identity
	p.mu.Unlock()
}

func (p *Pipeline) memoizedIdentity(path string) (string, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	id, ok := p.memoized[path]
	return id, ok
}

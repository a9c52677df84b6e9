package streamer

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/sourcegraph/conc"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/javi11/httpmount/internal/origin"
)

// Config holds the read-path settings.
type Config struct {
	ChunkSize         int64
	CacheSlots        int
	PrefetchWindow    int64
	PrefetchBatchSize int
	OpenWarmupBytes   int64
}

// Streamer is the core read path: it translates arbitrary byte-range
// reads into chunk-aligned cache lookups, coalesces concurrent misses
// through a single-flight table, and drives speculative read-ahead.
// It holds all process-wide mutable read-path state; tests instantiate
// fresh Streamers rather than sharing a singleton.
type Streamer struct {
	config  Config
	pool    *origin.Pool
	fetcher *origin.Fetcher
	cache   *BlockCache
	logger  *slog.Logger

	// flight deduplicates concurrent fetches per chunk key. Followers
	// wait on the leader's result and may abandon the wait on context
	// cancellation without aborting the leader.
	flight singleflight.Group

	prefetchMu     sync.Mutex
	prefetchActive map[string]struct{}

	ctx     context.Context
	cancel  context.CancelFunc
	workers conc.WaitGroup
	stopped atomic.Bool
}

// New creates a streamer. Call Stop to terminate background prefetch
// workers before discarding it.
func New(cfg Config, pool *origin.Pool, fetcher *origin.Fetcher, logger *slog.Logger) (*Streamer, error) {
	if cfg.ChunkSize <= 0 {
		return nil, fmt.Errorf("chunk size must be positive")
	}
	if cfg.CacheSlots <= 0 {
		return nil, fmt.Errorf("cache must hold at least one chunk")
	}
	if cfg.PrefetchBatchSize <= 0 {
		cfg.PrefetchBatchSize = 8
	}

	cache, err := NewBlockCache(cfg.CacheSlots)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Streamer{
		config:         cfg,
		pool:           pool,
		fetcher:        fetcher,
		cache:          cache,
		logger:         logger,
		prefetchActive: make(map[string]struct{}),
		ctx:            ctx,
		cancel:         cancel,
	}, nil
}

// Stop cancels background prefetch workers and waits for them.
func (s *Streamer) Stop() {
	if !s.stopped.CompareAndSwap(false, true) {
		return
	}
	s.cancel()
	s.workers.Wait()
}

// Cache exposes the block cache for stats reporting.
func (s *Streamer) Cache() *BlockCache {
	return s.cache
}

// ContentLength reports the size of url, probing the origin via HEAD on
// first call and caching the answer for the process lifetime. Probe
// failures report zero and are retried on the next call.
func (s *Streamer) ContentLength(ctx context.Context, url string) int64 {
	return s.pool.ContentLength(ctx, url)
}

// ReadAt reads len(p) bytes at off of the file behind url, fetching and
// caching any chunks not yet resident. A read starting at or past
// end-of-file (or on a file whose size probe reports zero) returns 0 and
// io.EOF. A read extending past end-of-file is trimmed to the file size
// and returns the available bytes with a nil error; io.EOF with fewer
// bytes is returned only when the origin delivers a chunk shorter than
// the probed size implies. Reads within the file return exactly the
// origin's bytes at that range.
func (s *Streamer) ReadAt(ctx context.Context, url string, p []byte, off int64) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	if off < 0 {
		return 0, fmt.Errorf("negative offset %d", off)
	}

	size := s.pool.ContentLength(ctx, url)
	if size <= 0 || off >= size {
		return 0, io.EOF
	}
	if off+int64(len(p)) > size {
		p = p[:size-off]
	}

	resolved, err := s.pool.Resolve(ctx, url)
	if err != nil {
		return 0, fmt.Errorf("%w: %s", origin.ErrFetch, err)
	}

	aligned := off - off%s.config.ChunkSize
	end := off + int64(len(p))
	offsets := make([]int64, 0, (end-aligned+s.config.ChunkSize-1)/s.config.ChunkSize)
	for o := aligned; o < end; o += s.config.ChunkSize {
		offsets = append(offsets, o)
	}

	chunks, err := s.fetchBatch(ctx, url, resolved, offsets)
	if err != nil {
		return 0, err
	}

	// Splice the covering chunks into p: skip the head of the first
	// chunk, take intermediates whole, trim the tail.
	n := 0
	for i, chunk := range chunks {
		skip := int64(0)
		if i == 0 {
			skip = off - aligned
		}
		if skip >= int64(len(chunk)) {
			break
		}
		n += copy(p[n:], chunk[skip:])
		if n == len(p) {
			break
		}
		if int64(len(chunk)) < s.config.ChunkSize {
			// Short chunk before the last requested one: end-of-file.
			break
		}
	}

	s.advise(url, resolved, off+int64(n), size)

	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

// fetchBatch resolves the given chunk offsets through the single-flight
// coordinator, fetching misses concurrently. Results are returned in
// offset order; the first failure aborts the batch and names the
// offending offset.
func (s *Streamer) fetchBatch(ctx context.Context, url, resolved string, offsets []int64) ([][]byte, error) {
	if len(offsets) == 1 {
		data, err := s.getOrFetch(ctx, url, chunkKey{url: resolved, offset: offsets[0]})
		if err != nil {
			return nil, fmt.Errorf("chunk at offset %d: %w", offsets[0], err)
		}
		return [][]byte{data}, nil
	}

	chunks := make([][]byte, len(offsets))
	g, gctx := errgroup.WithContext(ctx)
	for i, offset := range offsets {
		g.Go(func() error {
			data, err := s.getOrFetch(gctx, url, chunkKey{url: resolved, offset: offset})
			if err != nil {
				return fmt.Errorf("chunk at offset %d: %w", offset, err)
			}
			chunks[i] = data
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return chunks, nil
}

// getOrFetch returns the chunk for key, consulting the cache first and
// collapsing concurrent misses into a single origin fetch. The leader
// fetches on a context detached from its caller so that an abandoned
// wait never cancels a fetch other readers are waiting on.
func (s *Streamer) getOrFetch(ctx context.Context, sessionKey string, key chunkKey) ([]byte, error) {
	if data, ok := s.cache.Get(key); ok {
		mCacheHitsTotal.Inc()
		return data, nil
	}
	mCacheMissesTotal.Inc()

	ch := s.flight.DoChan(key.String(), func() (any, error) {
		// A previous leader may have completed between our miss and
		// winning the flight; the cache is authoritative.
		if data, ok := s.cache.Get(key); ok {
			return data, nil
		}
		data, err := s.fetcher.Fetch(context.WithoutCancel(ctx), sessionKey, key.url, key.offset, s.config.ChunkSize)
		if err != nil {
			// Failures are not cached; a later read is free to retry.
			return nil, err
		}
		s.cache.Put(key, data)
		return data, nil
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.([]byte), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

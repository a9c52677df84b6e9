package streamer

import (
	"context"
	"time"
)

const prefetchFetchTimeout = 60 * time.Second

// Open warms the cache on first open of a file: when the file's first
// chunk is not resident and no prefetch worker is active for its URL, a
// worker fetches the opening window (clamped by cache capacity and file
// size). The caller never blocks on the warmup.
func (s *Streamer) Open(ctx context.Context, url string) {
	if s.config.OpenWarmupBytes <= 0 {
		return
	}

	resolved, err := s.pool.Resolve(ctx, url)
	if err != nil {
		s.logger.Debug("Open warmup skipped, resolve failed", "url", url, "error", err)
		return
	}
	if s.cache.Contains(chunkKey{url: resolved, offset: 0}) {
		return
	}

	warm := s.config.OpenWarmupBytes
	if cacheCap := int64(s.config.CacheSlots) * s.config.ChunkSize; warm > cacheCap {
		warm = cacheCap
	}
	if size := s.pool.ContentLength(ctx, url); size > 0 && warm > size {
		warm = size
	}

	s.startPrefetch(url, resolved, 0, warm)
}

// advise is called after each read with the position the reader reached.
// When the highest cached offset trails readEnd plus the prefetch
// window, a background worker fills the gap. At most one worker per URL
// runs at a time.
func (s *Streamer) advise(url, resolved string, readEnd, size int64) {
	if s.config.PrefetchWindow <= 0 {
		return
	}

	start, ok := s.cache.HighestOffset(resolved)
	if !ok {
		start = readEnd - readEnd%s.config.ChunkSize
	}

	target := readEnd + s.config.PrefetchWindow
	if size > 0 && target > size {
		target = size
	}
	if start >= target {
		return
	}

	s.startPrefetch(url, resolved, start, target-start)
}

// startPrefetch launches a background worker covering [start,
// start+length) unless one is already active for the URL. Workers go
// through the single-flight coordinator, so speculative fetches never
// duplicate a foreground miss.
func (s *Streamer) startPrefetch(url, resolved string, start, length int64) {
	if length <= 0 || s.stopped.Load() {
		return
	}

	s.prefetchMu.Lock()
	if _, active := s.prefetchActive[url]; active {
		s.prefetchMu.Unlock()
		return
	}
	s.prefetchActive[url] = struct{}{}
	s.prefetchMu.Unlock()

	mPrefetchWorkers.Inc()
	s.workers.Go(func() {
		defer func() {
			s.prefetchMu.Lock()
			delete(s.prefetchActive, url)
			s.prefetchMu.Unlock()
			mPrefetchWorkers.Dec()
		}()
		s.prefetchRange(url, resolved, start, length)
	})
}

// prefetchRange is the worker loop: accumulate up to the batch size of
// not-yet-cached chunk offsets within the target range, resolve them
// through the coordinator, repeat. Failures only degrade read latency,
// so they are logged and swallowed.
func (s *Streamer) prefetchRange(url, resolved string, start, length int64) {
	cur := start - start%s.config.ChunkSize
	end := start + length

	for cur < end {
		if s.ctx.Err() != nil {
			return
		}

		offsets := make([]int64, 0, s.config.PrefetchBatchSize)
		for len(offsets) < s.config.PrefetchBatchSize && cur < end {
			key := chunkKey{url: resolved, offset: cur}
			if !s.cache.Contains(key) {
				offsets = append(offsets, cur)
			}
			cur += s.config.ChunkSize
		}
		if len(offsets) == 0 {
			return
		}

		ctx, cancel := context.WithTimeout(s.ctx, prefetchFetchTimeout)
		_, err := s.fetchBatch(ctx, url, resolved, offsets)
		cancel()
		if err != nil {
			s.logger.Debug("Prefetch batch failed", "url", url, "offset", offsets[0], "error", err)
			return
		}
		mPrefetchBatchesTotal.Inc()
	}
}

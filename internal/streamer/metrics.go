package streamer

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	mCacheHitsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "httpmount_cache_hits_total",
		Help: "The total number of chunk lookups served from the cache.",
	})
	mCacheMissesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "httpmount_cache_misses_total",
		Help: "The total number of chunk lookups that missed the cache.",
	})
	mCacheEvictions = promauto.NewCounter(prometheus.CounterOpts{
		Name: "httpmount_cache_evictions_total",
		Help: "The total number of chunks evicted from the cache.",
	})
	mPrefetchBatchesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "httpmount_prefetch_batches_total",
		Help: "The total number of prefetch batches issued.",
	})
	mPrefetchWorkers = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "httpmount_prefetch_workers",
		Help: "The number of prefetch workers currently running.",
	})
)

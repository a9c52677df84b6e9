package origin

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	mFetchesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "httpmount_origin_fetches_total",
		Help: "The total number of successful chunk fetches.",
	})
	mFetchErrorsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "httpmount_origin_fetch_errors_total",
		Help: "The total number of failed chunk fetches.",
	})
	mFetchedBytes = promauto.NewCounter(prometheus.CounterOpts{
		Name: "httpmount_origin_fetched_bytes",
		Help: "Amount of data fetched from origins.",
	})
	mSessionResolves = promauto.NewCounter(prometheus.CounterOpts{
		Name: "httpmount_origin_resolves_total",
		Help: "The total number of redirect resolutions performed.",
	})
	mSessionEvictions = promauto.NewCounter(prometheus.CounterOpts{
		Name: "httpmount_origin_session_evictions_total",
		Help: "The total number of idle sessions closed by the sweeper.",
	})
)

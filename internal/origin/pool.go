// Package origin manages HTTP sessions against remote origins and
// performs the ranged chunk fetches the streamer is built on.
package origin

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"golang.org/x/net/http2"
)

// PoolConfig holds session pool settings.
type PoolConfig struct {
	IdleTimeout time.Duration // evict sessions untouched for this long
	SweepPeriod time.Duration // how often the sweeper runs
}

// session is one persistent HTTP client bound to a canonical URL.
// refs counts in-flight requests so the sweeper never closes a session
// under an active fetch.
type session struct {
	client    *http.Client
	transport *http.Transport
	lastUsed  time.Time
	refs      int
}

// Pool maintains persistent HTTP sessions keyed by canonical URL, the
// memoized post-redirect URLs, and the forever-cached content lengths.
// A background sweeper closes sessions idle past the configured timeout
// and drops the resolved-URL entry together with the session.
type Pool struct {
	config PoolConfig
	logger *slog.Logger

	mu       sync.Mutex
	sessions map[string]*session

	resolvedMu sync.Mutex
	resolved   map[string]string

	sizesMu sync.Mutex
	sizes   map[string]int64

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewPool creates a session pool. Zero config fields fall back to the
// process defaults (300s idle timeout, 60s sweep period).
func NewPool(cfg PoolConfig, logger *slog.Logger) *Pool {
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = 300 * time.Second
	}
	if cfg.SweepPeriod <= 0 {
		cfg.SweepPeriod = 60 * time.Second
	}
	return &Pool{
		config:   cfg,
		logger:   logger,
		sessions: make(map[string]*session),
		resolved: make(map[string]string),
		sizes:    make(map[string]int64),
	}
}

// Start launches the idle session sweeper. Call Stop to shut it down.
func (p *Pool) Start(ctx context.Context) {
	ctx, p.cancel = context.WithCancel(ctx)

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		ticker := time.NewTicker(p.config.SweepPeriod)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				p.sweep()
			}
		}
	}()
}

// Stop terminates the sweeper and closes all sessions.
func (p *Pool) Stop() {
	if p.cancel != nil {
		p.cancel()
	}
	p.wg.Wait()

	p.mu.Lock()
	defer p.mu.Unlock()
	for url, s := range p.sessions {
		s.transport.CloseIdleConnections()
		delete(p.sessions, url)
	}
}

// Acquire returns the persistent HTTP client for the origin of url,
// creating it on first use and refreshing its last-used timestamp. The
// returned release function must be called once the request completes;
// it makes the session eligible for idle eviction again.
func (p *Pool) Acquire(url string) (*http.Client, func()) {
	p.mu.Lock()
	defer p.mu.Unlock()

	s, ok := p.sessions[url]
	if !ok {
		s = newSession()
		p.sessions[url] = s
		p.logger.Debug("Created origin session", "url", url)
	}
	s.lastUsed = time.Now()
	s.refs++

	var once sync.Once
	release := func() {
		once.Do(func() {
			p.mu.Lock()
			defer p.mu.Unlock()
			s.refs--
			s.lastUsed = time.Now()
		})
	}
	return s.client, release
}

// Resolve returns the post-redirect authoritative URL for the canonical
// url, performing a HEAD with redirect following on first call and
// memoizing the result. The entry is dropped together with the session
// when the sweeper evicts it.
func (p *Pool) Resolve(ctx context.Context, url string) (string, error) {
	p.resolvedMu.Lock()
	if final, ok := p.resolved[url]; ok {
		p.resolvedMu.Unlock()
		return final, nil
	}
	p.resolvedMu.Unlock()

	resp, err := p.head(ctx, url)
	if err != nil {
		return "", fmt.Errorf("resolve %s: %w", url, err)
	}
	defer resp.Body.Close()

	final := resp.Request.URL.String()

	p.resolvedMu.Lock()
	p.resolved[url] = final
	p.resolvedMu.Unlock()

	mSessionResolves.Inc()
	return final, nil
}

// ContentLength probes the size of url via HEAD and caches it forever.
// A failed probe reports zero and is retried on the next call; there is
// no negative caching.
func (p *Pool) ContentLength(ctx context.Context, url string) int64 {
	p.sizesMu.Lock()
	if size, ok := p.sizes[url]; ok {
		p.sizesMu.Unlock()
		return size
	}
	p.sizesMu.Unlock()

	resp, err := p.head(ctx, url)
	if err != nil {
		p.logger.Warn("Content length probe failed", "url", url, "error", err)
		return 0
	}
	defer resp.Body.Close()

	if resp.ContentLength < 0 {
		p.logger.Warn("Origin did not report a content length", "url", url, "status", resp.StatusCode)
		return 0
	}

	final := resp.Request.URL.String()

	p.sizesMu.Lock()
	p.sizes[url] = resp.ContentLength
	p.sizesMu.Unlock()

	// The probe already followed redirects; memoize the final URL too.
	p.resolvedMu.Lock()
	if _, ok := p.resolved[url]; !ok {
		p.resolved[url] = final
	}
	p.resolvedMu.Unlock()

	return resp.ContentLength
}

// SessionCount returns the number of live sessions.
func (p *Pool) SessionCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.sessions)
}

func (p *Pool) head(ctx context.Context, url string) (*http.Response, error) {
	client, release := p.Acquire(url)
	defer release()

	req, err := http.NewRequestWithContext(ctx, http.MethodHead, url, nil)
	if err != nil {
		return nil, err
	}
	return client.Do(req)
}

// sweep evicts sessions untouched past the idle timeout, dropping the
// associated resolved-URL entry. Sessions with in-flight requests are
// skipped.
func (p *Pool) sweep() {
	deadline := time.Now().Add(-p.config.IdleTimeout)

	p.mu.Lock()
	var evicted []string
	for url, s := range p.sessions {
		if s.refs > 0 || s.lastUsed.After(deadline) {
			continue
		}
		s.transport.CloseIdleConnections()
		delete(p.sessions, url)
		evicted = append(evicted, url)
	}
	p.mu.Unlock()

	if len(evicted) == 0 {
		return
	}

	p.resolvedMu.Lock()
	for _, url := range evicted {
		delete(p.resolved, url)
	}
	p.resolvedMu.Unlock()

	mSessionEvictions.Add(float64(len(evicted)))
	p.logger.Debug("Evicted idle origin sessions", "count", len(evicted))
}

func newSession() *session {
	tr := &http.Transport{
		MaxIdleConnsPerHost: 16,
		IdleConnTimeout:     90 * time.Second,
	}
	// Range fetches for one file multiplex well over a single h2 stream.
	if err := http2.ConfigureTransport(tr); err != nil {
		// HTTP/1.1 keep-alive still gives per-origin connection reuse.
		slog.Debug("HTTP/2 not available for origin transport", "error", err)
	}
	return &session{
		client:    &http.Client{Transport: tr},
		transport: tr,
		lastUsed:  time.Now(),
	}
}

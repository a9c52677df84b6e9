package origin

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strconv"
	"time"

	"github.com/avast/retry-go/v4"
)

// ErrFetch marks any failure to obtain bytes from the origin: transport
// error, unexpected status, timeout, or a short body not explained by
// end-of-file.
var ErrFetch = errors.New("origin fetch failed")

var contentRangeRegexp = regexp.MustCompile(`bytes ([0-9]+)-([0-9]+)/([0-9]+|\*)`)

const (
	fetchAttempts   = 2
	fetchRetryDelay = 100 * time.Millisecond
)

// FetcherConfig holds chunk fetcher settings.
type FetcherConfig struct {
	Timeout time.Duration // per-request ceiling applied on top of the caller's context
}

// Fetcher performs single-chunk range requests against resolved URLs,
// using the pool's persistent per-origin sessions.
type Fetcher struct {
	pool   *Pool
	config FetcherConfig
}

// NewFetcher creates a chunk fetcher on top of the session pool.
func NewFetcher(pool *Pool, cfg FetcherConfig) *Fetcher {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	return &Fetcher{pool: pool, config: cfg}
}

// Fetch issues a range GET for [offset, offset+size) of url and returns
// the body. sessionKey selects the persistent session (the canonical
// URL); url is the resolved URL the request is sent to. A 206 body
// shorter than requested is accepted when the Content-Range total puts
// end-of-file inside the range, or when the origin reports no total.
// Transient failures are retried once with a fixed short delay.
func (f *Fetcher) Fetch(ctx context.Context, sessionKey, url string, offset, size int64) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, f.config.Timeout)
	defer cancel()

	data, err := retry.DoWithData(
		func() ([]byte, error) {
			return f.fetchOnce(ctx, sessionKey, url, offset, size)
		},
		retry.Attempts(fetchAttempts),
		retry.Delay(fetchRetryDelay),
		retry.DelayType(retry.FixedDelay),
		retry.LastErrorOnly(true),
		retry.RetryIf(func(err error) bool {
			return ctx.Err() == nil
		}),
		retry.Context(ctx),
	)
	if err != nil {
		mFetchErrorsTotal.Inc()
		return nil, err
	}

	mFetchesTotal.Inc()
	mFetchedBytes.Add(float64(len(data)))
	return data, nil
}

func (f *Fetcher) fetchOnce(ctx context.Context, sessionKey, url string, offset, size int64) ([]byte, error) {
	client, release := f.pool.Acquire(sessionKey)
	defer release()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrFetch, err)
	}
	req.Header.Set("Range", fmt.Sprintf("bytes=%d-%d", offset, offset+size-1))

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %s offset %d: %s", ErrFetch, url, offset, err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusPartialContent:
		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("%w: read body at offset %d: %s", ErrFetch, offset, err)
		}
		if err := checkShortBody(resp, offset, size, int64(len(body))); err != nil {
			return nil, err
		}
		return body, nil

	case http.StatusOK:
		// The origin ignored the range header and served the whole
		// object. That only covers the request when it started at 0.
		if offset != 0 {
			return nil, fmt.Errorf("%w: %s ignored range request at offset %d", ErrFetch, url, offset)
		}
		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("%w: read body: %s", ErrFetch, err)
		}
		if int64(len(body)) > size {
			body = body[:size]
		}
		return body, nil

	default:
		return nil, fmt.Errorf("%w: %s offset %d: unexpected status %d", ErrFetch, url, offset, resp.StatusCode)
	}
}

// checkShortBody rejects bodies shorter than the requested range unless
// the shortfall is explained by end-of-file, as reported by the
// Content-Range total.
func checkShortBody(resp *http.Response, offset, size, got int64) error {
	if got >= size {
		return nil
	}

	total, ok := parseContentRangeTotal(resp.Header.Get("Content-Range"))
	if !ok {
		// Total unknown; trust the origin's short answer as EOF.
		return nil
	}
	want := min(size, total-offset)
	if want < 0 {
		want = 0
	}
	if got < want {
		return fmt.Errorf("%w: short body at offset %d: got %d of %d bytes", ErrFetch, offset, got, want)
	}
	return nil
}

func parseContentRangeTotal(header string) (int64, bool) {
	m := contentRangeRegexp.FindStringSubmatch(header)
	if m == nil || m[3] == "*" {
		return 0, false
	}
	total, err := strconv.ParseInt(m[3], 10, 64)
	if err != nil {
		return 0, false
	}
	return total, true
}

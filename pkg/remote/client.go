// Package remote fetches station data from the station backend over HTTP.
package remote

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/elSilveira/gaser/pkg/config"
	"github.com/elSilveira/gaser/pkg/model"
	"github.com/elSilveira/gaser/pkg/regionkey"
	"github.com/elSilveira/gaser/pkg/version"
)

var defaultUserAgent = fmt.Sprintf("gaser/%s", version.Version)

// maxBody caps how much of a response is read.
const maxBody = 16 << 20

// Client fetches snapshots from the backend. It retries transient failures
// with exponential backoff and never caches anything itself.
type Client struct {
	baseURL    *url.URL
	httpClient *http.Client
	retries    int
	backoff    *Backoff
	now        func() time.Time
	logger     *slog.Logger
}

// New creates a Client from the remote settings.
func New(cfg *config.RemoteConfig) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid remote base_url %q", cfg.BaseURL)
	}
	timeout := cfg.Timeout.Std()
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	retries := cfg.Retries
	if retries <= 0 {
		retries = 1
	}
	base, max := cfg.Backoff.BaseDelay.Std(), cfg.Backoff.MaxDelay.Std()
	if base <= 0 {
		base = 500 * time.Millisecond
	}
	if max < base {
		max = base
	}
	return &Client{
		baseURL:    u,
		httpClient: &http.Client{Timeout: timeout},
		retries:    retries,
		backoff:    NewBackoff(base, max),
		now:        time.Now,
		logger:     slog.With("component", "remote"),
	}, nil
}

// Fetch retrieves the stations answering q.
func (c *Client) Fetch(ctx context.Context, q regionkey.Query) (model.Snapshot, error) {
	if err := q.Validate(); err != nil {
		return model.Snapshot{}, err
	}

	u := *c.baseURL
	params := url.Values{}
	switch q.Type {
	case regionkey.TypeCoord:
		u.Path += "/api/postos/proximos"
		params.Set("lat", strconv.FormatFloat(q.Lat, 'f', -1, 64))
		params.Set("lon", strconv.FormatFloat(q.Lon, 'f', -1, 64))
		params.Set("raio", strconv.FormatFloat(q.Radius, 'f', -1, 64))
		params.Set("combustivel", "todas")
	case regionkey.TypeText:
		u.Path += "/api/postos/busca"
		params.Set("q", strings.TrimSpace(q.Text))
		params.Set("combustivel", "todas")
	case regionkey.TypeID:
		u.Path += "/api/postos/" + url.PathEscape(strings.TrimSpace(q.ID))
	}
	u.RawQuery = params.Encode()

	body, status, err := c.get(ctx, u.String())
	if err != nil {
		return model.Snapshot{}, err
	}
	if status == http.StatusNotFound {
		if q.Type != regionkey.TypeID {
			return model.Snapshot{}, fmt.Errorf("%w: %w %d", ErrFetch, ErrStatus, status)
		}
		// Unknown station: an empty, cacheable answer
		return model.Snapshot{FetchedAt: c.now(), Metadata: map[string]string{"source": "remote"}}, nil
	}

	stations, err := decode(q.Type, body)
	if err != nil {
		return model.Snapshot{}, fmt.Errorf("%w: decode %s: %w", ErrFetch, u.Path, err)
	}
	return model.Snapshot{
		Stations:  stations,
		Metadata:  map[string]string{"source": "remote"},
		FetchedAt: c.now(),
	}, nil
}

// get performs the request, waiting out the backoff before every attempt.
// 429 and 5xx are retried. A 404 is returned to the caller with a nil error;
// other client errors wrap ErrStatus.
func (c *Client) get(ctx context.Context, u string) ([]byte, int, error) {
	var lastErr error
	for attempt := 0; attempt < c.retries; attempt++ {
		if d := c.backoff.Delay(); d > 0 {
			if err := sleep(ctx, d); err != nil {
				return nil, 0, fmt.Errorf("%w: %w", ErrFetch, err)
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, http.NoBody)
		if err != nil {
			return nil, 0, fmt.Errorf("%w: create request: %w", ErrFetch, err)
		}
		req.Header.Set("User-Agent", defaultUserAgent)
		req.Header.Set("Accept", "application/json")

		c.logger.Debug("Network Request", "url", u, "attempt", attempt+1)
		resp, err := c.httpClient.Do(req)
		if err != nil {
			// Our own cancellation is not retried
			if ctx.Err() != nil {
				return nil, 0, fmt.Errorf("%w: %w", ErrFetch, ctx.Err())
			}
			c.logger.Warn("Request failed, retrying", "url", u, "attempt", attempt+1, "error", err)
			c.backoff.RecordFailure()
			lastErr = err
			continue
		}

		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			resp.Body.Close()
			c.logger.Warn("API Backoff", "status", resp.StatusCode, "url", u, "attempt", attempt+1)
			c.backoff.RecordFailure()
			lastErr = fmt.Errorf("%w %d", ErrStatus, resp.StatusCode)
			continue
		}

		if resp.StatusCode == http.StatusNotFound {
			resp.Body.Close()
			c.backoff.RecordSuccess()
			return nil, resp.StatusCode, nil
		}
		if resp.StatusCode >= 400 {
			resp.Body.Close()
			return nil, resp.StatusCode, fmt.Errorf("%w: %w %d", ErrFetch, ErrStatus, resp.StatusCode)
		}

		body, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
		resp.Body.Close()
		if err != nil {
			return nil, resp.StatusCode, fmt.Errorf("%w: read body: %w", ErrFetch, err)
		}
		c.backoff.RecordSuccess()
		return body, resp.StatusCode, nil
	}
	return nil, 0, fmt.Errorf("%w: max retries exceeded: %w", ErrFetch, lastErr)
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

package wholecell

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"wholecell-mirror-api/internal/model"

	"golang.org/x/time/rate"
)

// Fetch errors. Callers distinguish an unreachable upstream (retry
// later, serve cache) from a malformed page (skip, log).
var (
	// ErrServiceUnavailable means the upstream could not be reached at
	// all, or the first page failed after all retries.
	ErrServiceUnavailable = errors.New("wholecell: service unreachable")

	// ErrRateLimited is returned for HTTP 429 inside the retry loop.
	ErrRateLimited = errors.New("wholecell: rate limited")

	// ErrMalformedResponse means the page envelope could not be decoded.
	ErrMalformedResponse = errors.New("wholecell: malformed response")
)

// Config holds client settings.
type Config struct {
	AppID     string
	AppSecret string
	APIBase   string

	// RequestDelay spaces consecutive page requests. WholeCell enforces
	// a hard 2 req/s limit; the default 500ms stays under it.
	RequestDelay time.Duration

	// Timeout bounds a single page request.
	Timeout time.Duration

	// MaxRetries is the per-page retry budget for 429s and transient
	// failures.
	MaxRetries int

	// RetryCooldown is the pause before retrying a failed page.
	RetryCooldown time.Duration
}

// FetchOptions selects what a paged fetch covers.
type FetchOptions struct {
	// Status filters the listing upstream when non-empty.
	Status string

	// MaxPages caps how many pages are fetched (0 = all). The
	// incremental check uses this to re-scan only the front window.
	MaxPages int

	// OnProgress, if set, is invoked after every fetched page.
	OnProgress func(current, total int)
}

// FetchResult is the outcome of a paged fetch.
type FetchResult struct {
	Items        []model.InventoryItem
	TotalPages   int
	PagesFetched int
	FailedPages  []int
}

// pageEnvelope is the WholeCell listing response shape.
type pageEnvelope struct {
	Data  []wireItem `json:"data"`
	Pages int        `json:"pages"`
	Page  int        `json:"page"`
}

// Client fetches paginated inventory listings from the WholeCell API,
// honoring its fixed rate limit. Safe for concurrent use; the shared
// limiter serializes request pacing across callers.
type Client struct {
	http          *http.Client
	apiBase       string
	authHeader    string
	appID         string
	limiter       *rate.Limiter
	maxRetries    int
	retryCooldown time.Duration
}

// NewClient creates a WholeCell API client.
func NewClient(cfg Config) *Client {
	if cfg.RequestDelay <= 0 {
		cfg.RequestDelay = 500 * time.Millisecond
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 20 * time.Second
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.RetryCooldown <= 0 {
		cfg.RetryCooldown = 2 * time.Second
	}

	auth := base64.StdEncoding.EncodeToString([]byte(cfg.AppID + ":" + cfg.AppSecret))

	return &Client{
		http:          &http.Client{Timeout: cfg.Timeout},
		apiBase:       cfg.APIBase,
		authHeader:    "Basic " + auth,
		appID:         cfg.AppID,
		limiter:       rate.NewLimiter(rate.Every(cfg.RequestDelay), 1),
		maxRetries:    cfg.MaxRetries,
		retryCooldown: cfg.RetryCooldown,
	}
}

// FetchAll fetches pages in ascending order until the listing is
// exhausted or opts.MaxPages is reached. Page 1 is fetched first to
// learn the total page count; a later page that still fails after
// retries is skipped and recorded in FailedPages rather than aborting
// the whole fetch. If page 1 fails the fetch fails: without it no
// total count is knowable.
func (c *Client) FetchAll(ctx context.Context, opts FetchOptions) (*FetchResult, error) {
	env, err := c.fetchPageWithRetry(ctx, 1, opts.Status)
	if err != nil {
		return nil, fmt.Errorf("page 1: %w", err)
	}

	totalPages := env.Pages
	if totalPages < 1 {
		totalPages = 1
	}
	pages := totalPages
	if opts.MaxPages > 0 && opts.MaxPages < pages {
		pages = opts.MaxPages
	}

	result := &FetchResult{
		Items:        transformPage(env.Data),
		TotalPages:   totalPages,
		PagesFetched: 1,
	}
	if opts.OnProgress != nil {
		opts.OnProgress(1, pages)
	}

	for page := 2; page <= pages; page++ {
		env, err := c.fetchPageWithRetry(ctx, page, opts.Status)
		if err != nil {
			// Best effort: partial data beats total failure on a
			// multi-thousand-page fetch.
			log.Printf("[WholeCell] Page %d/%d failed, skipping: %v", page, pages, err)
			result.FailedPages = append(result.FailedPages, page)
		} else {
			result.Items = append(result.Items, transformPage(env.Data)...)
			result.PagesFetched++
		}

		if opts.OnProgress != nil {
			opts.OnProgress(page, pages)
		}
	}

	return result, nil
}

// FetchByESN looks up a single item by serial/IMEI.
func (c *Client) FetchByESN(ctx context.Context, esn string) (*model.InventoryItem, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	env, err := c.doRequest(ctx, url.Values{"esn": {esn}})
	if err != nil {
		return nil, err
	}
	if len(env.Data) == 0 {
		return nil, nil
	}

	item := transformItem(env.Data[0])
	return &item, nil
}

// fetchPageWithRetry fetches one page, retrying 429s and transient
// failures up to the configured budget with a cooldown between
// attempts.
func (c *Client) fetchPageWithRetry(ctx context.Context, page int, status string) (*pageEnvelope, error) {
	params := url.Values{"page": {strconv.Itoa(page)}}
	if status != "" {
		params.Set("status", status)
	}

	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			log.Printf("[WholeCell] Retrying page %d (attempt %d/%d) after %v: %v",
				page, attempt, c.maxRetries, c.retryCooldown, lastErr)
			if err := sleepCtx(ctx, c.retryCooldown); err != nil {
				return nil, err
			}
		}

		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}

		env, err := c.doRequest(ctx, params)
		if err == nil {
			return env, nil
		}
		lastErr = err

		// Malformed pages won't improve on retry.
		if errors.Is(err, ErrMalformedResponse) {
			return nil, err
		}
	}

	return nil, lastErr
}

// doRequest performs one GET against the listing endpoint and decodes
// the page envelope.
func (c *Client) doRequest(ctx context.Context, params url.Values) (*pageEnvelope, error) {
	u := c.apiBase
	if len(params) > 0 {
		u += "?" + params.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", c.authHeader)
	req.Header.Set("X-App-Id", c.appID)
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrServiceUnavailable, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, ErrRateLimited
	case resp.StatusCode >= 500:
		return nil, fmt.Errorf("%w: status %d", ErrServiceUnavailable, resp.StatusCode)
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("wholecell: unexpected status %d", resp.StatusCode)
	}

	var env pageEnvelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}

	return &env, nil
}

// sleepCtx waits for d or until ctx is done.
func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

package wholecell

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeUpstream simulates the WholeCell listing endpoint: fixed pages,
// with optional per-page failure scripts.
type fakeUpstream struct {
	mu       sync.Mutex
	pages    map[int][]map[string]any
	failures map[int][]int // page -> status codes for successive hits
	hits     map[int]int
	lastAuth string
}

func newFakeUpstream(pageSizes ...int) *fakeUpstream {
	u := &fakeUpstream{
		pages:    make(map[int][]map[string]any),
		failures: make(map[int][]int),
		hits:     make(map[int]int),
	}
	for p, size := range pageSizes {
		page := p + 1
		items := make([]map[string]any, size)
		for i := range items {
			items[i] = map[string]any{
				"esn":    fmt.Sprintf("ESN-%03d-%03d", page, i),
				"status": "Available",
				"product": map[string]any{
					"model":        "iPhone 13",
					"manufacturer": "Apple",
				},
				"product_variation": map[string]any{
					"grade": "A",
				},
				"purchase_price_cents": 25000,
				"updated_at":           "2025-11-20T10:00:00Z",
			}
		}
		u.pages[page] = items
	}
	return u
}

func (u *fakeUpstream) handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		u.mu.Lock()
		defer u.mu.Unlock()

		u.lastAuth = r.Header.Get("Authorization")

		page, _ := strconv.Atoi(r.URL.Query().Get("page"))
		if page == 0 {
			page = 1
		}
		u.hits[page]++

		if codes := u.failures[page]; len(codes) > 0 {
			code := codes[0]
			u.failures[page] = codes[1:]
			w.WriteHeader(code)
			return
		}

		_ = json.NewEncoder(w).Encode(map[string]any{
			"data":  u.pages[page],
			"pages": len(u.pages),
			"page":  page,
		})
	}
}

func newTestClient(serverURL string) *Client {
	return NewClient(Config{
		AppID:         "test-app",
		AppSecret:     "test-secret",
		APIBase:       serverURL,
		RequestDelay:  time.Millisecond,
		Timeout:       2 * time.Second,
		MaxRetries:    2,
		RetryCooldown: 50 * time.Millisecond,
	})
}

func TestFetchAllPaginates(t *testing.T) {
	upstream := newFakeUpstream(100, 100, 50)
	srv := httptest.NewServer(upstream.handler())
	defer srv.Close()

	client := newTestClient(srv.URL)
	res, err := client.FetchAll(context.Background(), FetchOptions{})
	require.NoError(t, err)

	assert.Len(t, res.Items, 250)
	assert.Equal(t, 3, res.TotalPages)
	assert.Equal(t, 3, res.PagesFetched)
	assert.Empty(t, res.FailedPages)

	// Wire records land in the local model fully transformed.
	first := res.Items[0]
	assert.Equal(t, "ESN-001-000", first.ESN)
	assert.Equal(t, "Available", string(first.Status))
	assert.Equal(t, "iPhone 13", first.Product.Model)
	assert.Equal(t, "A", first.Grade)
	assert.Equal(t, int64(25000), first.CostCents)
	assert.Equal(t, 2025, first.UpdatedAt.Year())

	upstream.mu.Lock()
	defer upstream.mu.Unlock()
	assert.Contains(t, upstream.lastAuth, "Basic ")
}

func TestFetchAllReportsProgress(t *testing.T) {
	upstream := newFakeUpstream(5, 5, 5)
	srv := httptest.NewServer(upstream.handler())
	defer srv.Close()

	var progress [][2]int
	client := newTestClient(srv.URL)
	_, err := client.FetchAll(context.Background(), FetchOptions{
		OnProgress: func(current, total int) {
			progress = append(progress, [2]int{current, total})
		},
	})
	require.NoError(t, err)
	assert.Equal(t, [][2]int{{1, 3}, {2, 3}, {3, 3}}, progress)
}

func TestFetchAllHonorsMaxPages(t *testing.T) {
	upstream := newFakeUpstream(10, 10, 10, 10)
	srv := httptest.NewServer(upstream.handler())
	defer srv.Close()

	client := newTestClient(srv.URL)
	res, err := client.FetchAll(context.Background(), FetchOptions{MaxPages: 2})
	require.NoError(t, err)

	assert.Len(t, res.Items, 20)
	assert.Equal(t, 4, res.TotalPages)
	assert.Equal(t, 2, res.PagesFetched)
	upstream.mu.Lock()
	defer upstream.mu.Unlock()
	assert.Zero(t, upstream.hits[3])
	assert.Zero(t, upstream.hits[4])
}

func TestFetchAllRetriesRateLimit(t *testing.T) {
	upstream := newFakeUpstream(10, 10, 10)
	upstream.failures[2] = []int{http.StatusTooManyRequests}
	srv := httptest.NewServer(upstream.handler())
	defer srv.Close()

	client := newTestClient(srv.URL)
	start := time.Now()
	res, err := client.FetchAll(context.Background(), FetchOptions{})
	elapsed := time.Since(start)
	require.NoError(t, err)

	// The 429'd page is retried after a cooldown, not lost.
	assert.Len(t, res.Items, 30)
	assert.Empty(t, res.FailedPages)
	assert.GreaterOrEqual(t, elapsed, 50*time.Millisecond, "retry must wait out the cooldown")

	upstream.mu.Lock()
	defer upstream.mu.Unlock()
	assert.Equal(t, 2, upstream.hits[2])
}

func TestFetchAllSkipsPersistentlyFailingPage(t *testing.T) {
	upstream := newFakeUpstream(10, 10, 10)
	upstream.failures[2] = []int{500, 500, 500, 500, 500}
	srv := httptest.NewServer(upstream.handler())
	defer srv.Close()

	client := newTestClient(srv.URL)
	res, err := client.FetchAll(context.Background(), FetchOptions{})
	require.NoError(t, err)

	// Partial data beats total failure: pages 1 and 3 survive.
	assert.Len(t, res.Items, 20)
	assert.Equal(t, []int{2}, res.FailedPages)
	assert.Equal(t, 2, res.PagesFetched)
}

func TestFetchAllFirstPageFailureIsFatal(t *testing.T) {
	upstream := newFakeUpstream(10)
	upstream.failures[1] = []int{500, 500, 500, 500, 500}
	srv := httptest.NewServer(upstream.handler())
	defer srv.Close()

	client := newTestClient(srv.URL)
	_, err := client.FetchAll(context.Background(), FetchOptions{})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrServiceUnavailable)
}

func TestFetchAllUnreachableUpstream(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	srv.Close() // nothing listening anymore

	client := newTestClient(srv.URL)
	_, err := client.FetchAll(context.Background(), FetchOptions{})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrServiceUnavailable)
}

func TestFetchAllMalformedPageNotRetried(t *testing.T) {
	upstream := newFakeUpstream(10, 10)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("page") == "2" {
			upstream.mu.Lock()
			upstream.hits[2]++
			upstream.mu.Unlock()
			w.Write([]byte("<html>not json</html>"))
			return
		}
		upstream.handler()(w, r)
	}))
	defer srv.Close()

	client := newTestClient(srv.URL)
	res, err := client.FetchAll(context.Background(), FetchOptions{})
	require.NoError(t, err)

	assert.Equal(t, []int{2}, res.FailedPages)
	upstream.mu.Lock()
	defer upstream.mu.Unlock()
	assert.Equal(t, 1, upstream.hits[2], "a malformed page won't improve on retry")
}

func TestFetchAllStatusFilterForwarded(t *testing.T) {
	var gotStatus string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotStatus = r.URL.Query().Get("status")
		_ = json.NewEncoder(w).Encode(map[string]any{"data": []any{}, "pages": 1, "page": 1})
	}))
	defer srv.Close()

	client := newTestClient(srv.URL)
	_, err := client.FetchAll(context.Background(), FetchOptions{Status: "Available"})
	require.NoError(t, err)
	assert.Equal(t, "Available", gotStatus)
}

func TestFetchByESN(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("esn") == "H95DHMF9Q1GC" {
			_ = json.NewEncoder(w).Encode(map[string]any{
				"data": []map[string]any{{
					"esn":    "H95DHMF9Q1GC",
					"status": "Sold",
				}},
				"pages": 1,
				"page":  1,
			})
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"data": []any{}, "pages": 1, "page": 1})
	}))
	defer srv.Close()

	client := newTestClient(srv.URL)

	item, err := client.FetchByESN(context.Background(), "H95DHMF9Q1GC")
	require.NoError(t, err)
	require.NotNil(t, item)
	assert.Equal(t, "Sold", string(item.Status))

	missing, err := client.FetchByESN(context.Background(), "UNKNOWN")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestFetchAllPacesRequests(t *testing.T) {
	upstream := newFakeUpstream(2, 2, 2)
	srv := httptest.NewServer(upstream.handler())
	defer srv.Close()

	delay := 60 * time.Millisecond
	client := NewClient(Config{
		AppID:        "test-app",
		AppSecret:    "test-secret",
		APIBase:      srv.URL,
		RequestDelay: delay,
		Timeout:      2 * time.Second,
	})

	start := time.Now()
	_, err := client.FetchAll(context.Background(), FetchOptions{})
	require.NoError(t, err)

	// Three pages with a fixed inter-request delay: wall-clock time is
	// bounded below by (N-1) spacings.
	assert.GreaterOrEqual(t, time.Since(start), 2*delay)
}

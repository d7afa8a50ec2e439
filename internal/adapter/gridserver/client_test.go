package gridserver

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/storm-phase-correct/internal/domain"
	"github.com/couchcryptid/storm-phase-correct/internal/grid"
	"github.com/couchcryptid/storm-phase-correct/internal/observability"
)

const (
	contentTypeJSON   = "application/json"
	headerContentType = "Content-Type"
)

var testKey = domain.GridKey{
	GenTime:     time.Date(2024, time.April, 26, 12, 0, 0, 0, time.UTC),
	LeadSeconds: 3600,
	Field:       "precip",
	Kind:        domain.KindForecast,
}

func testClient(baseURL string, metrics *observability.Metrics) *Client {
	return &Client{
		httpClient: &http.Client{Timeout: 5 * time.Second},
		baseURL:    baseURL,
		metrics:    metrics,
		logger:     slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
}

// --- Client tests ---

func TestClient_FetchGrid_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/grids/2024-04-26T12:00:00Z/3600/precip/forecast", r.URL.Path)
		w.Header().Set(headerContentType, contentTypeJSON)
		require.NoError(t, json.NewEncoder(w).Encode(domain.GridPayload{
			Nx: 2, Ny: 2, DxKm: 3, DyKm: 3, Missing: -9, Data: []float64{1, 2, -9, 4},
		}))
	}))
	defer srv.Close()

	m := observability.NewMetricsForTesting()
	g, err := testClient(srv.URL, m).FetchGrid(context.Background(), testKey)
	require.NoError(t, err)

	nx, ny := g.Dims()
	assert.Equal(t, 2, nx)
	assert.Equal(t, 2, ny)
	assert.True(t, g.IsMissing(0, 1))
	assert.InDelta(t, 3.0, g.DxKm, 0)
	assert.InDelta(t, 1.0, testutil.ToFloat64(m.GridRequests.WithLabelValues("forecast", "success")), 0)
}

func TestClient_FetchGrid_NotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.NotFound(w, nil)
	}))
	defer srv.Close()

	m := observability.NewMetricsForTesting()
	_, err := testClient(srv.URL, m).FetchGrid(context.Background(), testKey)
	require.ErrorIs(t, err, domain.ErrGridNotFound)
	assert.InDelta(t, 1.0, testutil.ToFloat64(m.GridRequests.WithLabelValues("forecast", "not_found")), 0)
}

func TestClient_FetchGrid_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte(`upstream down`))
	}))
	defer srv.Close()

	m := observability.NewMetricsForTesting()
	_, err := testClient(srv.URL, m).FetchGrid(context.Background(), testKey)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "502")
	assert.InDelta(t, 1.0, testutil.ToFloat64(m.GridRequests.WithLabelValues("forecast", "error")), 0)
}

func TestClient_FetchGrid_BadPayload(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set(headerContentType, contentTypeJSON)
		_, _ = w.Write([]byte(`{"nx":3,"ny":3,"data":[1,2]}`))
	}))
	defer srv.Close()

	_, err := testClient(srv.URL, observability.NewMetricsForTesting()).FetchGrid(context.Background(), testKey)
	require.Error(t, err)
}

func TestClient_FetchGrid_Timeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		time.Sleep(200 * time.Millisecond)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := NewClient(srv.URL+"/", 50*time.Millisecond, observability.NewMetricsForTesting(),
		slog.New(slog.NewTextHandler(io.Discard, nil)))
	_, err := c.FetchGrid(context.Background(), testKey)
	require.Error(t, err)
}

// --- CachedSource tests ---

type countingSource struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (s *countingSource) FetchGrid(_ context.Context, _ domain.GridKey) (*grid.Grid, error) {
	s.mu.Lock()
	s.calls++
	s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	return grid.New(2, 2, grid.DefaultMissing)
}

func TestCachedSource_Hit(t *testing.T) {
	inner := &countingSource{}
	m := observability.NewMetricsForTesting()
	cached := NewCachedSource(inner, 4, m)

	g1, err := cached.FetchGrid(context.Background(), testKey)
	require.NoError(t, err)
	g2, err := cached.FetchGrid(context.Background(), testKey)
	require.NoError(t, err)

	assert.Same(t, g1, g2)
	assert.Equal(t, 1, inner.calls, "should only call inner once")
	assert.InDelta(t, 1.0, testutil.ToFloat64(m.GridCache.WithLabelValues("hit")), 0)
	assert.InDelta(t, 1.0, testutil.ToFloat64(m.GridCache.WithLabelValues("miss")), 0)
}

func TestCachedSource_DifferentKindsMiss(t *testing.T) {
	inner := &countingSource{}
	cached := NewCachedSource(inner, 4, observability.NewMetricsForTesting())

	verif := testKey
	verif.Kind = domain.KindVerification
	_, _ = cached.FetchGrid(context.Background(), testKey)
	_, _ = cached.FetchGrid(context.Background(), verif)

	assert.Equal(t, 2, inner.calls)
	assert.Equal(t, 2, cached.Len())
}

func TestCachedSource_ErrorsNotCached(t *testing.T) {
	inner := &countingSource{err: errors.New("boom")}
	cached := NewCachedSource(inner, 4, observability.NewMetricsForTesting())

	_, err := cached.FetchGrid(context.Background(), testKey)
	require.Error(t, err)
	_, err = cached.FetchGrid(context.Background(), testKey)
	require.Error(t, err)

	assert.Equal(t, 2, inner.calls)
	assert.Zero(t, cached.Len())
}

func TestCachedSource_Evicts(t *testing.T) {
	inner := &countingSource{}
	cached := NewCachedSource(inner, 2, observability.NewMetricsForTesting())

	for lead := 0; lead < 3; lead++ {
		k := testKey
		k.LeadSeconds = lead * 3600
		_, err := cached.FetchGrid(context.Background(), k)
		require.NoError(t, err)
	}
	assert.Equal(t, 2, cached.Len())

	first := testKey
	first.LeadSeconds = 0
	_, err := cached.FetchGrid(context.Background(), first)
	require.NoError(t, err)
	assert.Equal(t, 4, inner.calls, "oldest key was evicted")
}

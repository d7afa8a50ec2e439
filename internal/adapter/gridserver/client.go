package gridserver

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/couchcryptid/storm-phase-correct/internal/domain"
	"github.com/couchcryptid/storm-phase-correct/internal/grid"
	"github.com/couchcryptid/storm-phase-correct/internal/observability"
)

// Client implements domain.GridSource against the grid server HTTP API:
//
//	GET {base}/v1/grids/{gen_time}/{lead_seconds}/{field}/{kind}
//
// The response body is a domain.GridPayload.
type Client struct {
	httpClient *http.Client
	baseURL    string
	metrics    *observability.Metrics
	logger     *slog.Logger
}

// NewClient creates a grid server client.
func NewClient(baseURL string, timeout time.Duration, metrics *observability.Metrics, logger *slog.Logger) *Client {
	return &Client{
		httpClient: &http.Client{
			Timeout: timeout,
		},
		baseURL: strings.TrimRight(baseURL, "/"),
		metrics: metrics,
		logger:  logger,
	}
}

// FetchGrid downloads the grid addressed by key.
func (c *Client) FetchGrid(ctx context.Context, key domain.GridKey) (*grid.Grid, error) {
	u := fmt.Sprintf("%s/v1/grids/%s/%s/%s/%s",
		c.baseURL,
		url.PathEscape(key.GenTime.UTC().Format(time.RFC3339)),
		strconv.Itoa(key.LeadSeconds),
		url.PathEscape(key.Field),
		url.PathEscape(string(key.Kind)),
	)

	start := time.Now()
	g, err := c.doRequest(ctx, u, key)
	c.metrics.GridFetchDuration.WithLabelValues(string(key.Kind)).Observe(time.Since(start).Seconds())

	switch {
	case err == nil:
		c.metrics.GridRequests.WithLabelValues(string(key.Kind), "success").Inc()
	case isNotFound(err):
		c.metrics.GridRequests.WithLabelValues(string(key.Kind), "not_found").Inc()
	default:
		c.metrics.GridRequests.WithLabelValues(string(key.Kind), "error").Inc()
		c.logger.Warn("grid fetch failed", "key", key.String(), "error", err)
	}
	return g, err
}

func (c *Client) doRequest(ctx context.Context, fullURL string, key domain.GridKey) (*grid.Grid, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fullURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("grid request %s: %w", key, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("%s: %w", key, domain.ErrGridNotFound)
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("grid server error: status %d: %s", resp.StatusCode, body)
	}

	var payload domain.GridPayload
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("decode grid %s: %w", key, err)
	}
	g, err := payload.ToGrid()
	if err != nil {
		return nil, fmt.Errorf("grid %s: %w", key, err)
	}
	return g, nil
}

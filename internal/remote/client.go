package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/punchamoorthee/stakeops/internal/domain"
	"github.com/punchamoorthee/stakeops/internal/models"
)

var (
	remoteRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "stakeops_remote_requests_total",
		Help: "Remote service calls, labeled by endpoint and status code",
	}, []string{"endpoint", "status"})

	remoteRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "stakeops_remote_request_duration_seconds",
		Help:    "Latency distribution of remote service calls",
		Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
	}, []string{"endpoint"})
)

// maxErrorBody bounds how much of an error response is kept as detail text.
const maxErrorBody = 4 << 10

type Config struct {
	BaseURL string
	Timeout time.Duration
}

// Client speaks the remote investment service's HTTP contract.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

func NewClient(cfg Config) *Client {
	if cfg.Timeout == 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		httpClient: &http.Client{Timeout: cfg.Timeout},
	}
}

// Notifications returns a fresh snapshot of userID's notification list.
func (c *Client) Notifications(ctx context.Context, userID string) ([]models.NotificationDTO, error) {
	var out []models.NotificationDTO
	path := "/notifications?username=" + url.QueryEscape(userID)
	if err := c.do(ctx, "notifications", http.MethodGet, path, nil, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// InvestRequest files a new investment request. Each call carries a fresh Idempotency-Key.
func (c *Client) InvestRequest(ctx context.Context, req models.InvestRequest) (*models.InvestRequestResponse, error) {
	var out models.InvestRequestResponse
	headers := map[string]string{"Idempotency-Key": uuid.NewString()}
	if err := c.do(ctx, "invest_request", http.MethodPost, "/invest/request", headers, req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) InvestDecision(ctx context.Context, req models.DecisionRequest) (*models.DecisionResponse, error) {
	var out models.DecisionResponse
	if err := c.do(ctx, "invest_decision", http.MethodPost, "/invest/decision", nil, req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// TokenizedAsset reports the asset id of userID's tokenized profile, or ok=false
// when the profile has not been tokenized yet.
func (c *Client) TokenizedAsset(ctx context.Context, userID string) (assetID uint64, ok bool, err error) {
	var out models.AccountResponse
	if err := c.do(ctx, "account", http.MethodGet, "/account/"+url.PathEscape(userID), nil, nil, &out); err != nil {
		return 0, false, err
	}
	if out.AssetID == nil || *out.AssetID == 0 {
		return 0, false, nil
	}
	return *out.AssetID, true, nil
}

func (c *Client) do(ctx context.Context, endpoint, method, path string, headers map[string]string, body, out any) error {
	timer := prometheus.NewTimer(remoteRequestDuration.WithLabelValues(endpoint))
	defer timer.ObserveDuration()

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("%s: marshal request: %w", endpoint, err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("%s: build request: %w", endpoint, err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		remoteRequestsTotal.WithLabelValues(endpoint, "transport_error").Inc()
		return &domain.RemoteError{Op: endpoint, Err: err}
	}
	defer resp.Body.Close()
	remoteRequestsTotal.WithLabelValues(endpoint, strconv.Itoa(resp.StatusCode)).Inc()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &domain.RemoteError{Op: endpoint, Status: resp.StatusCode, Detail: errorDetail(resp)}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &domain.RemoteError{Op: endpoint, Status: resp.StatusCode, Err: fmt.Errorf("decode response: %w", err)}
	}
	return nil
}

func errorDetail(resp *http.Response) string {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	var e models.ErrorResponse
	if err := json.Unmarshal(raw, &e); err == nil {
		if msg := e.Message(); msg != "" {
			return msg
		}
	}
	if text := strings.TrimSpace(string(raw)); text != "" {
		return text
	}
	return http.StatusText(resp.StatusCode)
}

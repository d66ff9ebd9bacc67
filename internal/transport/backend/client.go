package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/sethvargo/go-retry"
	"go.uber.org/zap"

	"github.com/kailas-cloud/entitled/internal/domain"
	"github.com/kailas-cloud/entitled/internal/domain/usage"
	"github.com/kailas-cloud/entitled/internal/usecase/trial"
)

const (
	trialUsePath    = "/subscription/trial/use"
	creditStatusFmt = "/credits/status/%s"
	healthPath      = "/health"

	maxBodyBytes = 1 << 20
	retryBase    = 100 * time.Millisecond
)

// Config holds the upstream backend settings.
type Config struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
	Retries uint64
	Logger  *zap.Logger
}

// Client talks to the upstream entitlement backend. It is the trial action
// and the status source when a backend is configured.
type Client struct {
	http    *http.Client
	baseURL string
	apiKey  string
	retries uint64
	logger  *zap.Logger
}

// New creates a backend client.
func New(cfg Config) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		http:    &http.Client{Timeout: timeout},
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
		retries: cfg.Retries,
		logger:  logger,
	}
}

type trialUseRequest struct {
	UserID  string `json:"user_id"`
	Feature string `json:"feature"`
}

type trialUseResponse struct {
	Success         bool            `json:"success"`
	Message         string          `json:"message"`
	Remaining       json.RawMessage `json:"trial_sessions_remaining"`
	UpgradeRequired bool            `json:"upgrade_required"`
}

// ConsumeTrial spends one trial unit upstream. Not retried.
func (c *Client) ConsumeTrial(ctx context.Context, userID, featureID string) (trial.ActionResult, error) {
	var resp trialUseResponse
	err := c.do(ctx, http.MethodPost, trialUsePath, trialUseRequest{UserID: userID, Feature: featureID}, &resp)
	if err != nil {
		return trial.ActionResult{}, err
	}
	return trial.ActionResult{
		Success:         resp.Success,
		Message:         resp.Message,
		Remaining:       parseRemaining(resp.Remaining),
		UpgradeRequired: resp.UpgradeRequired,
	}, nil
}

// Do implements trial.Action.
func (c *Client) Do(ctx context.Context, userID, featureID string) (trial.ActionResult, error) {
	return c.ConsumeTrial(ctx, userID, featureID)
}

type creditStatusResponse struct {
	UserID       string `json:"user_id"`
	CreditsUsed  int    `json:"credits_used"`
	CreditsLimit int    `json:"credits_limit"`
	IsProUser    bool   `json:"is_pro_user"`
}

// FetchStatus reads the user's counters. Transient failures are retried.
// Trial counters are not reported by the backend: TrialUsed is nil.
func (c *Client) FetchStatus(ctx context.Context, userID string) (*usage.Record, error) {
	path := fmt.Sprintf(creditStatusFmt, url.PathEscape(userID))
	backoff := retry.WithMaxRetries(c.retries, retry.NewExponential(retryBase))

	var resp creditStatusResponse
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		resp = creditStatusResponse{}
		if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
			if transient(err) {
				c.logger.Debug("Retrying credit status", zap.String("user_id", userID), zap.Error(err))
				return retry.RetryableError(err)
			}
			return err
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return &usage.Record{
		UserID:     userID,
		UsageCount: resp.CreditsUsed,
		UsageLimit: resp.CreditsLimit,
		Premium:    resp.IsProUser,
	}, nil
}

// HealthCheck pings the backend.
func (c *Client) HealthCheck(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, healthPath, nil, nil)
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %s %s: %w", domain.ErrRemoteAction, method, path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return fmt.Errorf("%w: read response: %w", domain.ErrRemoteAction, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return parseError(resp.StatusCode, data)
	}
	if out == nil || len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("%w: decode response: %w", domain.ErrRemoteAction, err)
	}
	return nil
}

// transient reports whether a failure is worth retrying: network errors and 5xx.
func transient(err error) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Status >= http.StatusInternalServerError
	}
	return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
}

// parseRemaining accepts a number or a string such as "unlimited" (-1).
func parseRemaining(raw json.RawMessage) int {
	if len(raw) == 0 {
		return 0
	}
	var n int
	if json.Unmarshal(raw, &n) == nil {
		return n
	}
	var s string
	if json.Unmarshal(raw, &s) == nil {
		if v, err := strconv.Atoi(s); err == nil {
			return v
		}
		return -1
	}
	return 0
}

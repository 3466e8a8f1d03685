package indexer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"rafflebot/config"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	json "github.com/goccy/go-json"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// ErrRateLimited is returned when the indexer rejects a request with 429.
// Callers count it toward failover like any other transport error, but it
// is never retried within the same call.
var ErrRateLimited = errors.New("indexer: rate limited")

const maxAttempts = 3

// Client talks to the third-party Sui indexer API. Trade records come back
// as loose maps because the indexer's response schema has changed shape
// more than once; the normalizer owns field extraction.
type Client struct {
	logger     *zap.Logger
	httpClient *http.Client
	baseURL    string
	apiKey     string
	limiter    *rate.Limiter
}

func NewClient(logger *zap.Logger, cfg *config.Config) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	rps := cfg.Indexer.RequestsPerSecond
	if rps <= 0 {
		rps = 1
	}
	return &Client{
		logger: logger,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		baseURL: strings.TrimRight(cfg.Indexer.BaseURL, "/"),
		apiKey:  cfg.Indexer.APIKey,
		limiter: rate.NewLimiter(rate.Limit(rps), 1),
	}
}

// tradesPage covers both response envelopes the indexer has used.
type tradesPage struct {
	Data       []map[string]any `json:"data"`
	Content    []map[string]any `json:"content"`
	NextCursor string           `json:"nextCursor"`
}

// GetTokenTrades fetches one page of trade records for the given coin type,
// newest first. cursor is the opaque nextCursor from a previous call, or
// empty to start from the latest trades. An empty page is not an error.
func (c *Client) GetTokenTrades(ctx context.Context, coinType, cursor string, limit int) ([]map[string]any, string, error) {
	if limit <= 0 {
		limit = 50
	}

	u, err := url.Parse(c.baseURL + "/coins/" + url.PathEscape(coinType) + "/trades")
	if err != nil {
		return nil, "", fmt.Errorf("invalid indexer base url: %w", err)
	}
	q := u.Query()
	q.Set("size", strconv.Itoa(limit))
	q.Set("orderBy", "DESC")
	if cursor != "" {
		q.Set("nextCursor", cursor)
	}
	u.RawQuery = q.Encode()

	var page tradesPage
	if err := c.doGet(ctx, u.String(), &page); err != nil {
		return nil, "", err
	}

	records := page.Data
	if len(records) == 0 {
		records = page.Content
	}
	return records, page.NextCursor, nil
}

// doGet performs a rate-limited GET with retry on server errors.
func (c *Client) doGet(ctx context.Context, rawURL string, dest any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 250 * time.Millisecond
	bo.MaxInterval = 2 * time.Second

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		err := c.getOnce(ctx, rawURL, dest)
		if err == nil {
			return nil
		}
		lastErr = err
		if errors.Is(err, ErrRateLimited) || ctx.Err() != nil {
			return err
		}
		var re *retryableError
		if !errors.As(err, &re) {
			return err
		}
		if attempt == maxAttempts {
			break
		}

		wait := bo.NextBackOff()
		if wait == backoff.Stop {
			break
		}
		c.logger.Debug("indexer request retrying",
			zap.Int("attempt", attempt),
			zap.Duration("wait", wait),
			zap.Error(err),
		)
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
	return lastErr
}

// retryableError marks transient server-side failures.
type retryableError struct{ err error }

func (e *retryableError) Error() string { return e.err.Error() }
func (e *retryableError) Unwrap() error { return e.err }

func (c *Client) getOnce(ctx context.Context, rawURL string, dest any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("x-api-key", c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &retryableError{fmt.Errorf("indexer request: %w", err)}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		io.Copy(io.Discard, resp.Body)
		return ErrRateLimited
	case resp.StatusCode >= 500:
		io.Copy(io.Discard, resp.Body)
		return &retryableError{fmt.Errorf("indexer status %d", resp.StatusCode)}
	case resp.StatusCode != http.StatusOK:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("indexer status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return &retryableError{fmt.Errorf("read indexer response: %w", err)}
	}
	if err := json.Unmarshal(body, dest); err != nil {
		return fmt.Errorf("decode indexer response: %w", err)
	}
	return nil
}

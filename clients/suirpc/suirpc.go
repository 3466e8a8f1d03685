package suirpc

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"rafflebot/config"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	json "github.com/goccy/go-json"
	"go.uber.org/zap"
)

// ErrNotFound is returned when the node has no data for the request
// (unknown digest, coin type without metadata).
var ErrNotFound = errors.New("suirpc: not found")

const maxAttempts = 3

// Client is a minimal JSON-RPC client against a Sui fullnode. It covers
// the three calls the detectors need: token event queries, transaction
// lookups with balance changes, and coin metadata.
type Client struct {
	logger     *zap.Logger
	httpClient *http.Client
	rpcURL     string
}

func NewClient(logger *zap.Logger, cfg *config.Config) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		logger: logger,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		rpcURL: cfg.Sui.RPCURL,
	}
}

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int    `json:"id"`
	Method  string `json:"method"`
	Params  []any  `json:"params"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *rpcError       `json:"error"`
}

type eventPage struct {
	Data       []map[string]any `json:"data"`
	NextCursor json.RawMessage  `json:"nextCursor"`
	HasNext    bool             `json:"hasNextPage"`
}

// QueryTokenEvents fetches one page of Move events for the package/module
// of the given coin type, newest first. cursor is the serialized
// nextCursor of a previous page, or empty for the latest events.
func (c *Client) QueryTokenEvents(ctx context.Context, coinType, cursor string, limit int) ([]map[string]any, string, error) {
	pkg, module, err := splitCoinType(coinType)
	if err != nil {
		return nil, "", err
	}
	if limit <= 0 {
		limit = 50
	}

	filter := map[string]any{
		"MoveEventModule": map[string]any{
			"package": pkg,
			"module":  module,
		},
	}
	var cursorParam any
	if cursor != "" {
		var decoded any
		if err := json.Unmarshal([]byte(cursor), &decoded); err == nil {
			cursorParam = decoded
		}
	}

	var page eventPage
	if err := c.call(ctx, "suix_queryEvents", []any{filter, cursorParam, limit, true}, &page); err != nil {
		return nil, "", err
	}

	next := ""
	if len(page.NextCursor) > 0 && string(page.NextCursor) != "null" {
		next = string(page.NextCursor)
	}
	return page.Data, next, nil
}

// BalanceChange is one entry of a transaction's balance change set.
type BalanceChange struct {
	CoinType string
	Amount   string // signed base-unit integer
	Owner    string // address, empty for shared/object owners
}

// TransactionBlock is the subset of a transaction response the detectors
// use for sender resolution and manual sell verification.
type TransactionBlock struct {
	Digest         string
	TimestampMs    string
	Sender         string
	BalanceChanges []BalanceChange
}

type rawOwner struct {
	AddressOwner string `json:"AddressOwner"`
	ObjectOwner  string `json:"ObjectOwner"`
}

type rawBalanceChange struct {
	Owner    json.RawMessage `json:"owner"`
	CoinType string          `json:"coinType"`
	Amount   string          `json:"amount"`
}

type rawTransactionBlock struct {
	Digest         string             `json:"digest"`
	TimestampMs    string             `json:"timestampMs"`
	BalanceChanges []rawBalanceChange `json:"balanceChanges"`
	Transaction    struct {
		Data struct {
			Sender string `json:"sender"`
		} `json:"data"`
	} `json:"transaction"`
}

// GetTransactionBlock fetches a transaction with its balance changes and
// sender.
func (c *Client) GetTransactionBlock(ctx context.Context, digest string) (*TransactionBlock, error) {
	digest = strings.TrimSpace(digest)
	if digest == "" {
		return nil, fmt.Errorf("digest is empty")
	}

	options := map[string]any{
		"showBalanceChanges": true,
		"showInput":          true,
	}
	var raw rawTransactionBlock
	if err := c.call(ctx, "sui_getTransactionBlock", []any{digest, options}, &raw); err != nil {
		return nil, err
	}
	if raw.Digest == "" {
		return nil, fmt.Errorf("%w: transaction %s", ErrNotFound, digest)
	}

	tb := &TransactionBlock{
		Digest:      raw.Digest,
		TimestampMs: raw.TimestampMs,
		Sender:      raw.Transaction.Data.Sender,
	}
	for _, bc := range raw.BalanceChanges {
		owner := ""
		// Owner is either an {"AddressOwner": ...} object or the literal
		// string "Immutable".
		var o rawOwner
		if err := json.Unmarshal(bc.Owner, &o); err == nil && o.AddressOwner != "" {
			owner = o.AddressOwner
		}
		tb.BalanceChanges = append(tb.BalanceChanges, BalanceChange{
			CoinType: bc.CoinType,
			Amount:   bc.Amount,
			Owner:    owner,
		})
	}
	return tb, nil
}

type coinMetadata struct {
	Decimals int    `json:"decimals"`
	Symbol   string `json:"symbol"`
}

// GetCoinDecimals resolves the decimal precision of a coin type.
func (c *Client) GetCoinDecimals(ctx context.Context, coinType string) (int, error) {
	var meta *coinMetadata
	if err := c.call(ctx, "suix_getCoinMetadata", []any{coinType}, &meta); err != nil {
		return 0, err
	}
	if meta == nil {
		return 0, fmt.Errorf("%w: coin metadata for %s", ErrNotFound, coinType)
	}
	return meta.Decimals, nil
}

func (c *Client) call(ctx context.Context, method string, params []any, result any) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 250 * time.Millisecond
	bo.MaxInterval = 2 * time.Second

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		retryable, err := c.callOnce(ctx, method, params, result)
		if err == nil {
			return nil
		}
		lastErr = err
		if !retryable || ctx.Err() != nil {
			return err
		}
		if attempt == maxAttempts {
			break
		}

		wait := bo.NextBackOff()
		if wait == backoff.Stop {
			break
		}
		c.logger.Debug("sui rpc retrying",
			zap.String("method", method),
			zap.Int("attempt", attempt),
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

func (c *Client) callOnce(ctx context.Context, method string, params []any, result any) (retryable bool, err error) {
	payload, err := json.Marshal(rpcRequest{
		JSONRPC: "2.0",
		ID:      1,
		Method:  method,
		Params:  params,
	})
	if err != nil {
		return false, fmt.Errorf("marshal rpc request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.rpcURL, bytes.NewReader(payload))
	if err != nil {
		return false, fmt.Errorf("build rpc request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return true, fmt.Errorf("sui rpc %s: %w", method, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
		io.Copy(io.Discard, resp.Body)
		return true, fmt.Errorf("sui rpc %s: status %d", method, resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return false, fmt.Errorf("sui rpc %s: status %d: %s", method, resp.StatusCode, strings.TrimSpace(string(body)))
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return true, fmt.Errorf("read rpc response: %w", err)
	}

	var rpcResp rpcResponse
	if err := json.Unmarshal(body, &rpcResp); err != nil {
		return false, fmt.Errorf("decode rpc response: %w", err)
	}
	if rpcResp.Error != nil {
		return false, fmt.Errorf("sui rpc %s: %d %s", method, rpcResp.Error.Code, rpcResp.Error.Message)
	}
	if result != nil && len(rpcResp.Result) > 0 {
		if err := json.Unmarshal(rpcResp.Result, result); err != nil {
			return false, fmt.Errorf("decode rpc result: %w", err)
		}
	}
	return false, nil
}

func splitCoinType(coinType string) (pkg, module string, err error) {
	parts := strings.SplitN(coinType, "::", 3)
	if len(parts) < 3 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("malformed coin type %q", coinType)
	}
	return parts[0], parts[1], nil
}

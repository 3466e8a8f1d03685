package app

import (
	"context"

	"rafflebot/clients/indexer"
	"rafflebot/clients/suirpc"
)

// TradeSource fetches pages of raw trade records for a coin type. The
// cursor is opaque to callers; a source that does not paginate ignores
// it and returns an empty next cursor.
type TradeSource interface {
	Name() string
	FetchSince(ctx context.Context, coinType, cursor string, limit int) (records []RawRecord, nextCursor string, err error)
}

// SenderResolver recovers the wallet behind a transaction when the raw
// record carries none, which happens for some sell-shaped events.
type SenderResolver interface {
	ResolveTransactionSender(ctx context.Context, digest string) (string, error)
}

// DecimalsResolver looks up the base-unit precision of a coin type.
type DecimalsResolver interface {
	ResolveDecimals(ctx context.Context, coinType string) (int, error)
}

// IndexerSource adapts the third-party indexer API.
type IndexerSource struct {
	client *indexer.Client
}

func NewIndexerSource(client *indexer.Client) *IndexerSource {
	return &IndexerSource{client: client}
}

func (s *IndexerSource) Name() string { return "indexer" }

func (s *IndexerSource) FetchSince(ctx context.Context, coinType, cursor string, limit int) ([]RawRecord, string, error) {
	page, next, err := s.client.GetTokenTrades(ctx, coinType, cursor, limit)
	if err != nil {
		return nil, "", err
	}
	records := make([]RawRecord, 0, len(page))
	for _, item := range page {
		records = append(records, RawRecord(item))
	}
	return records, next, nil
}

// ChainSource adapts the native fullnode RPC. It always queries the
// newest events and leans on the watermark for dedup, so the cursor is
// unused.
type ChainSource struct {
	client *suirpc.Client
}

func NewChainSource(client *suirpc.Client) *ChainSource {
	return &ChainSource{client: client}
}

func (s *ChainSource) Name() string { return "chain" }

func (s *ChainSource) FetchSince(ctx context.Context, coinType, _ string, limit int) ([]RawRecord, string, error) {
	page, _, err := s.client.QueryTokenEvents(ctx, coinType, "", limit)
	if err != nil {
		return nil, "", err
	}
	records := make([]RawRecord, 0, len(page))
	for _, item := range page {
		records = append(records, RawRecord(item))
	}
	return records, "", nil
}

// ResolveTransactionSender implements SenderResolver on top of the
// transaction lookup.
func (s *ChainSource) ResolveTransactionSender(ctx context.Context, digest string) (string, error) {
	tb, err := s.client.GetTransactionBlock(ctx, digest)
	if err != nil {
		return "", err
	}
	return tb.Sender, nil
}

// ResolveDecimals implements DecimalsResolver via coin metadata.
func (s *ChainSource) ResolveDecimals(ctx context.Context, coinType string) (int, error) {
	return s.client.GetCoinDecimals(ctx, coinType)
}

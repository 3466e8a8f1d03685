package app

// RawRecord is one trade-shaped record as returned by an upstream source.
// There is no fixed schema; the normalizer extracts fields through ordered
// candidate key paths.
type RawRecord map[string]any

// Side classifies a trade relative to the monitored token.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// Trade is the canonical unit of work produced by the normalizer.
type Trade struct {
	TxDigest        string
	EventKey        string // dedup identity, stable across sources
	TimestampMillis int64
	Wallet          string // empty until sender resolution for some sell records
	AmountRaw       string // base-unit integer, arbitrary precision
	CoinType        string
	Decimals        int // -1 when not yet resolved
	Side            Side
}

// TicketDelta is the signed ticket adjustment derived from one trade.
type TicketDelta struct {
	RaffleID       int64
	Wallet         string
	Tickets        int64
	SourceEventKey string
}

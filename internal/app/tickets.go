package app

import (
	"math"
	"math/big"
	"strings"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// ratioScale is the fixed-point scale applied to the tickets-per-token
// ratio so fractional ratios stay in integer arithmetic.
const ratioScale = 1_000_000

var (
	bigRatioScale = big.NewInt(ratioScale)
	bigMaxInt64   = big.NewInt(math.MaxInt64)
	bigTen        = big.NewInt(10)
)

// TicketMath converts raw base-unit amounts into whole ticket counts.
// All arithmetic is integral; the result is floored and never negative,
// and a malformed input yields zero tickets rather than an error.
type TicketMath struct {
	logger *zap.Logger
}

func NewTicketMath(logger *zap.Logger) *TicketMath {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TicketMath{logger: logger}
}

// Tickets computes floor(rawAmount * ratio / 10^decimals) without ever
// materializing a fractional token amount. ratio is the human
// tickets-per-token string, e.g. "100" or "2.5".
func (tm *TicketMath) Tickets(rawAmount string, decimals int, ratio string) int64 {
	amount, ok := parseBigInt(rawAmount)
	if !ok || amount.Sign() <= 0 {
		return 0
	}
	if decimals < 0 {
		decimals = 0
	}

	ratioNum, ok := scaledRatio(ratio)
	if !ok {
		tm.logger.Warn("unparseable ticket ratio, using approximate math", zap.String("ratio", ratio))
		return tm.approximateTickets(rawAmount, decimals, ratio)
	}

	// floor(amount * ratioNum / (10^decimals * ratioScale))
	numerator := new(big.Int).Mul(amount, ratioNum)
	denominator := new(big.Int).Exp(bigTen, big.NewInt(int64(decimals)), nil)
	denominator.Mul(denominator, bigRatioScale)

	tickets := new(big.Int).Quo(numerator, denominator)
	if tickets.Sign() <= 0 {
		return 0
	}
	if tickets.Cmp(bigMaxInt64) > 0 {
		tm.logger.Warn("ticket count clamped", zap.String("rawAmount", rawAmount))
		return math.MaxInt64
	}
	return tickets.Int64()
}

// MeetsMinimum reports whether a raw amount is at least the configured
// minimum purchase, expressed in whole tokens (e.g. "0.5").
func (tm *TicketMath) MeetsMinimum(rawAmount string, decimals int, minPurchase string) bool {
	minPurchase = strings.TrimSpace(minPurchase)
	if minPurchase == "" || minPurchase == "0" {
		return true
	}
	min, err := decimal.NewFromString(minPurchase)
	if err != nil {
		tm.logger.Warn("unparseable minimum purchase, not enforcing", zap.String("min", minPurchase))
		return true
	}
	amount, ok := parseBigInt(rawAmount)
	if !ok {
		return false
	}
	if decimals < 0 {
		decimals = 0
	}
	tokens := decimal.NewFromBigInt(amount, -int32(decimals))
	return tokens.GreaterThanOrEqual(min)
}

// scaledRatio converts a decimal ratio string to an integer numerator at
// ratioScale precision. Excess fractional digits are truncated.
func scaledRatio(ratio string) (*big.Int, bool) {
	d, err := decimal.NewFromString(strings.TrimSpace(ratio))
	if err != nil || d.Sign() <= 0 {
		return nil, false
	}
	scaled := d.Mul(decimal.NewFromInt(ratioScale)).BigInt()
	if scaled.Sign() <= 0 {
		return nil, false
	}
	return scaled, true
}

// approximateTickets is the lossy fallback for ratios the exact path could
// not parse after trimming common junk (thousands separators, whitespace).
func (tm *TicketMath) approximateTickets(rawAmount string, decimals int, ratio string) int64 {
	cleaned := strings.Map(func(r rune) rune {
		switch r {
		case ',', '_', ' ':
			return -1
		}
		return r
	}, ratio)
	r, err := decimal.NewFromString(cleaned)
	if err != nil || r.Sign() <= 0 {
		return 0
	}
	amount, ok := parseBigInt(rawAmount)
	if !ok {
		return 0
	}
	tokens := decimal.NewFromBigInt(amount, -int32(decimals))
	tickets := tokens.Mul(r).Floor()
	if tickets.Sign() <= 0 {
		return 0
	}
	v := tickets.BigInt()
	if v.Cmp(bigMaxInt64) > 0 {
		return math.MaxInt64
	}
	return v.Int64()
}

// FormatBaseUnits renders a raw base-unit amount as a human token string,
// trimming trailing zeros. Used for logs and ops notifications only.
func FormatBaseUnits(rawAmount string, decimals int) string {
	amount, ok := parseBigInt(rawAmount)
	if !ok {
		return rawAmount
	}
	if decimals <= 0 {
		return amount.String()
	}
	d := decimal.NewFromBigInt(amount, -int32(decimals))
	return d.String()
}

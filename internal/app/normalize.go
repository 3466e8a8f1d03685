package app

import (
	"fmt"
	"hash/fnv"
	"math/big"
	"sort"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Candidate key paths per semantic field, tried in order. Dot-separated
// segments descend into nested objects; numeric segments index arrays.
// The indexer has renamed and re-nested fields across API versions, and
// the native event shape differs again, so extraction is table-driven
// instead of tied to a single schema.
var (
	digestPaths = []string{
		"digest", "txDigest", "id.txDigest", "transactionDigest",
		"txHash", "transactionHash", "tx_hash",
	}
	timestampPaths = []string{
		"timestampMs", "timestamp", "timestampMillis",
		"checkpointTimestampMs", "time", "blockTime", "createdAt",
	}
	walletPaths = []string{
		"wallet", "walletAddress", "sender", "trader", "account",
		"owner", "owner.AddressOwner", "user",
	}
	recipientPaths = []string{
		"recipient", "receiver", "to", "toAddress",
	}
	amountPaths = []string{
		"amountRaw", "amount", "coinAmount", "parsedJson.amount",
		"quantity", "value",
	}
	sidePaths = []string{
		"side", "direction", "activityType", "type", "kind",
	}
	coinInPaths = []string{
		"coinIn", "coinTypeIn", "inCoinType", "coinA.coinType", "fromCoinType",
	}
	coinOutPaths = []string{
		"coinOut", "coinTypeOut", "outCoinType", "coinB.coinType", "toCoinType",
	}
	coinTypePaths = []string{
		"coinType", "coin_type", "parsedJson.coinType", "token",
	}
	decimalsPaths = []string{
		"decimals", "coinDecimals",
	}
	balanceChangesPaths = []string{
		"balanceChanges", "balance_changes",
	}
)

// Normalizer maps heterogeneous raw records onto canonical trades for one
// monitored coin type.
type Normalizer struct {
	logger   *zap.Logger
	coinType string
	now      func() time.Time
}

func NewNormalizer(logger *zap.Logger, coinType string) *Normalizer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Normalizer{
		logger:   logger,
		coinType: coinType,
		now:      time.Now,
	}
}

// Normalize converts a page of raw records into trades, oldest first.
// Records that cannot be classified are dropped, never treated as errors.
func (n *Normalizer) Normalize(records []RawRecord) []Trade {
	var trades []Trade
	keyOrdinals := make(map[string]int)

	for _, rec := range records {
		trades = append(trades, n.normalizeOne(rec, keyOrdinals)...)
	}

	sort.SliceStable(trades, func(i, j int) bool {
		return trades[i].TimestampMillis < trades[j].TimestampMillis
	})
	return trades
}

func (n *Normalizer) normalizeOne(rec RawRecord, keyOrdinals map[string]int) []Trade {
	digest := firstString(rec, digestPaths)
	if digest == "" {
		n.logger.Debug("record dropped: no transaction digest")
		return nil
	}

	tsVal, _ := firstValue(rec, timestampPaths)
	ts := n.normalizeTimestamp(tsVal)

	if changes, ok := firstValue(rec, balanceChangesPaths); ok {
		return n.tradesFromBalanceChanges(digest, ts, changes, keyOrdinals)
	}

	amount := normalizeAmountString(firstString(rec, amountPaths))
	if amount.sign == 0 {
		n.logger.Debug("record dropped: no amount", zap.String("digest", shortID(digest)))
		return nil
	}

	side := n.classify(rec, amount)
	if side == "" {
		n.logger.Debug("record dropped: unclassifiable", zap.String("digest", shortID(digest)))
		return nil
	}

	wallet := firstString(rec, walletPaths)
	if side == SideSell {
		if recipient := firstString(rec, recipientPaths); recipient != "" && wallet != "" &&
			strings.EqualFold(recipient, wallet) {
			// coin consolidation, not a sale
			n.logger.Debug("record dropped: self transfer", zap.String("digest", shortID(digest)))
			return nil
		}
	}

	coinType := firstString(rec, coinTypePaths)
	if coinType == "" {
		coinType = n.coinType
	}

	decimals := -1
	if d, ok := firstValue(rec, decimalsPaths); ok {
		if i, ok := asInt64(d); ok {
			decimals = int(i)
		}
	}

	return []Trade{{
		TxDigest:        digest,
		EventKey:        eventKey(digest, wallet, amount.abs, coinType, keyOrdinals),
		TimestampMillis: ts,
		Wallet:          wallet,
		AmountRaw:       amount.abs,
		CoinType:        coinType,
		Decimals:        decimals,
		Side:            side,
	}}
}

// tradesFromBalanceChanges derives trades from a transaction's balance
// change set: the monitored coin leaving a wallet is a sell, arriving is a
// buy. Per-wallet netting means a self-transfer (both signs for the same
// owner) cancels out and yields nothing.
func (n *Normalizer) tradesFromBalanceChanges(digest string, ts int64, changes any, keyOrdinals map[string]int) []Trade {
	list, ok := changes.([]any)
	if !ok {
		return nil
	}

	net := make(map[string]*big.Int)
	var owners []string

	for _, item := range list {
		entry, ok := item.(map[string]any)
		if !ok {
			continue
		}
		coin := firstString(RawRecord(entry), coinTypePaths)
		if !n.matchesTargetCoin(coin) {
			continue
		}
		owner := firstString(RawRecord(entry), walletPaths)
		if owner == "" {
			continue
		}
		amt, ok := parseBigInt(firstString(RawRecord(entry), amountPaths))
		if !ok {
			continue
		}
		if _, seen := net[owner]; !seen {
			net[owner] = new(big.Int)
			owners = append(owners, owner)
		}
		net[owner].Add(net[owner], amt)
	}

	var trades []Trade
	for _, owner := range owners {
		total := net[owner]
		sign := total.Sign()
		if sign == 0 {
			continue
		}
		side := SideBuy
		if sign < 0 {
			side = SideSell
		}
		abs := new(big.Int).Abs(total).String()
		trades = append(trades, Trade{
			TxDigest:        digest,
			EventKey:        eventKey(digest, owner, abs, n.coinType, keyOrdinals),
			TimestampMillis: ts,
			Wallet:          owner,
			AmountRaw:       abs,
			CoinType:        n.coinType,
			Decimals:        -1,
			Side:            side,
		})
	}
	return trades
}

// classify applies the direction precedence: explicit side field, then
// input/output coin type matching, then partial package match, then the
// sign of an explicitly negative amount.
func (n *Normalizer) classify(rec RawRecord, amount normalizedAmount) Side {
	if word := firstString(rec, sidePaths); word != "" {
		if side := sideFromWord(word); side != "" {
			return side
		}
	}

	coinIn := firstString(rec, coinInPaths)
	coinOut := firstString(rec, coinOutPaths)
	if equalCoin(coinOut, n.coinType) {
		return SideBuy
	}
	if equalCoin(coinIn, n.coinType) {
		return SideSell
	}

	if pkg := packageOf(n.coinType); pkg != "" {
		if coinOut != "" && strings.Contains(strings.ToLower(coinOut), strings.ToLower(pkg)) {
			return SideBuy
		}
		if coinIn != "" && strings.Contains(strings.ToLower(coinIn), strings.ToLower(pkg)) {
			return SideSell
		}
	}

	if amount.sign < 0 {
		return SideSell
	}
	return ""
}

func (n *Normalizer) matchesTargetCoin(coin string) bool {
	if coin == "" {
		return false
	}
	if equalCoin(coin, n.coinType) {
		return true
	}
	pkg := packageOf(n.coinType)
	return pkg != "" && strings.Contains(strings.ToLower(coin), strings.ToLower(pkg))
}

// normalizeTimestamp converts heterogeneous encodings to epoch millis.
// Values at or above 1e12 are taken as milliseconds already, smaller
// positive numbers as seconds. Unparseable values resolve to "now" so a
// bad timestamp never blocks processing.
func (n *Normalizer) normalizeTimestamp(v any) int64 {
	if v == nil {
		return n.now().UnixMilli()
	}

	if num, ok := asInt64(v); ok && num > 0 {
		if num >= 1_000_000_000_000 {
			return num
		}
		return num * 1000
	}

	if s, ok := v.(string); ok {
		s = strings.TrimSpace(s)
		for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02T15:04:05", "2006-01-02 15:04:05"} {
			if t, err := time.Parse(layout, s); err == nil {
				return t.UnixMilli()
			}
		}
	}

	return n.now().UnixMilli()
}

type normalizedAmount struct {
	abs  string // digits only
	sign int    // -1, 0, +1; 0 means absent/unparseable
}

func normalizeAmountString(s string) normalizedAmount {
	s = strings.TrimSpace(s)
	if s == "" {
		return normalizedAmount{}
	}
	v, ok := parseBigInt(s)
	if !ok {
		return normalizedAmount{}
	}
	sign := v.Sign()
	if sign == 0 {
		return normalizedAmount{}
	}
	return normalizedAmount{abs: new(big.Int).Abs(v).String(), sign: sign}
}

func parseBigInt(s string) (*big.Int, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, false
	}
	v, ok := new(big.Int).SetString(s, 10)
	return v, ok
}

// eventKey derives the dedup identity of a trade. It is content-addressed
// (digest plus a hash of wallet, amount, and coin type) so both sources
// compute the same key for the same chain event, which keeps dedup intact
// across a failover. Identical transfers inside one transaction get an
// ordinal suffix.
func eventKey(digest, wallet, amountRaw, coinType string, ordinals map[string]int) string {
	h := fnv.New32a()
	fmt.Fprintf(h, "%s|%s|%s", strings.ToLower(wallet), amountRaw, strings.ToLower(coinType))
	base := fmt.Sprintf("%s:%08x", digest, h.Sum32())

	ord := ordinals[base]
	ordinals[base] = ord + 1
	if ord == 0 {
		return base
	}
	return fmt.Sprintf("%s-%d", base, ord)
}

func sideFromWord(word string) Side {
	w := strings.ToLower(word)
	switch {
	case strings.Contains(w, "buy") || strings.Contains(w, "purchase"):
		return SideBuy
	case strings.Contains(w, "sell"):
		return SideSell
	}
	return ""
}

func equalCoin(a, b string) bool {
	if a == "" || b == "" {
		return false
	}
	return strings.EqualFold(strings.TrimSpace(a), strings.TrimSpace(b))
}

func packageOf(coinType string) string {
	if idx := strings.Index(coinType, "::"); idx > 0 {
		return coinType[:idx]
	}
	return ""
}

// firstValue walks the candidate paths in order and returns the first
// present, non-nil value.
func firstValue(rec RawRecord, paths []string) (any, bool) {
	for _, path := range paths {
		if v, ok := lookupPath(rec, path); ok {
			return v, true
		}
	}
	return nil, false
}

// firstString is firstValue restricted to non-empty string renderings.
func firstString(rec RawRecord, paths []string) string {
	for _, path := range paths {
		v, ok := lookupPath(rec, path)
		if !ok {
			continue
		}
		if s := asString(v); s != "" {
			return s
		}
	}
	return ""
}

func lookupPath(rec RawRecord, path string) (any, bool) {
	var current any = map[string]any(rec)
	for _, seg := range strings.Split(path, ".") {
		switch node := current.(type) {
		case map[string]any:
			v, ok := node[seg]
			if !ok {
				return nil, false
			}
			current = v
		case []any:
			idx, err := strconv.Atoi(seg)
			if err != nil || idx < 0 || idx >= len(node) {
				return nil, false
			}
			current = node[idx]
		default:
			return nil, false
		}
	}
	if current == nil {
		return nil, false
	}
	return current, true
}

func asString(v any) string {
	switch s := v.(type) {
	case string:
		return strings.TrimSpace(s)
	case float64:
		// JSON numbers decode as float64; render integers without exponent
		if s == float64(int64(s)) {
			return strconv.FormatInt(int64(s), 10)
		}
		return strconv.FormatFloat(s, 'f', -1, 64)
	case int:
		return strconv.Itoa(s)
	case int64:
		return strconv.FormatInt(s, 10)
	case uint64:
		return strconv.FormatUint(s, 10)
	}
	return ""
}

func asInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case float64:
		return int64(n), true
	case int:
		return int64(n), true
	case int64:
		return n, true
	case uint64:
		return int64(n), true
	case string:
		s := strings.TrimSpace(n)
		if s == "" {
			return 0, false
		}
		if i, err := strconv.ParseInt(s, 10, 64); err == nil {
			return i, true
		}
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return int64(f), true
		}
	}
	return 0, false
}

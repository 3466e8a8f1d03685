package app

import (
	"math"
	"testing"

	"go.uber.org/zap"
)

func TestTickets_ExactConversion(t *testing.T) {
	tm := NewTicketMath(zap.NewNop())

	// 1.5 tokens at 9 decimals, 100 tickets per token
	if got := tm.Tickets("1500000000", 9, "100"); got != 150 {
		t.Errorf("expected 150 tickets, got %d", got)
	}

	// just under 1 token floors down
	if got := tm.Tickets("999999999", 9, "100"); got != 99 {
		t.Errorf("expected 99 tickets, got %d", got)
	}

	// exactly 1 token
	if got := tm.Tickets("1000000000", 9, "100"); got != 100 {
		t.Errorf("expected 100 tickets, got %d", got)
	}
}

func TestTickets_FractionalRatio(t *testing.T) {
	tm := NewTicketMath(zap.NewNop())

	// 2 tokens at 2.5 tickets per token
	if got := tm.Tickets("2000000000", 9, "2.5"); got != 5 {
		t.Errorf("expected 5 tickets, got %d", got)
	}

	// 0.3 tokens at 2.5 per token is 0.75, floors to 0
	if got := tm.Tickets("300000000", 9, "2.5"); got != 0 {
		t.Errorf("expected 0 tickets, got %d", got)
	}
}

func TestTickets_ZeroDecimals(t *testing.T) {
	tm := NewTicketMath(zap.NewNop())

	if got := tm.Tickets("7", 0, "10"); got != 70 {
		t.Errorf("expected 70 tickets, got %d", got)
	}
}

func TestTickets_LargeAmountsDoNotOverflow(t *testing.T) {
	tm := NewTicketMath(zap.NewNop())

	// an amount far beyond int64 must clamp, not wrap or panic
	huge := "999999999999999999999999999999999999"
	if got := tm.Tickets(huge, 9, "100"); got != math.MaxInt64 {
		t.Errorf("expected clamp to MaxInt64, got %d", got)
	}
}

func TestTickets_BadInputsYieldZero(t *testing.T) {
	tm := NewTicketMath(zap.NewNop())

	cases := []struct {
		name   string
		amount string
		ratio  string
	}{
		{"empty amount", "", "100"},
		{"garbage amount", "not-a-number", "100"},
		{"zero amount", "0", "100"},
		{"negative amount", "-500", "100"},
		{"zero ratio", "1000000000", "0"},
		{"negative ratio", "1000000000", "-2"},
		{"garbage ratio", "1000000000", "lots"},
	}
	for _, tc := range cases {
		if got := tm.Tickets(tc.amount, 9, tc.ratio); got != 0 {
			t.Errorf("%s: expected 0 tickets, got %d", tc.name, got)
		}
	}
}

func TestTickets_ApproximateFallbackOnFormattedRatio(t *testing.T) {
	tm := NewTicketMath(zap.NewNop())

	// thousands separators fail exact parsing but survive the fallback
	if got := tm.Tickets("1000000000", 9, "1,000"); got != 1000 {
		t.Errorf("expected 1000 tickets via fallback, got %d", got)
	}
}

func TestMeetsMinimum(t *testing.T) {
	tm := NewTicketMath(zap.NewNop())

	// 0.5 tokens against a 1 token minimum
	if tm.MeetsMinimum("500000000", 9, "1") {
		t.Error("0.5 tokens should not meet a 1 token minimum")
	}
	// exactly at the minimum
	if !tm.MeetsMinimum("1000000000", 9, "1") {
		t.Error("1 token should meet a 1 token minimum")
	}
	// fractional minimum
	if !tm.MeetsMinimum("500000000", 9, "0.5") {
		t.Error("0.5 tokens should meet a 0.5 token minimum")
	}
	// no minimum configured
	if !tm.MeetsMinimum("1", 9, "") {
		t.Error("empty minimum should always pass")
	}
	// unparseable minimum is not enforced
	if !tm.MeetsMinimum("1", 9, "whatever") {
		t.Error("unparseable minimum should not block trades")
	}
}

func TestFormatBaseUnits(t *testing.T) {
	if got := FormatBaseUnits("1500000000", 9); got != "1.5" {
		t.Errorf("expected 1.5, got %s", got)
	}
	if got := FormatBaseUnits("42", 0); got != "42" {
		t.Errorf("expected 42, got %s", got)
	}
	if got := FormatBaseUnits("junk", 9); got != "junk" {
		t.Errorf("expected passthrough for junk, got %s", got)
	}
}

package notifier

import (
	"time"
)

// EventKind indicates what operational event is being reported.
type EventKind string

const (
	EventFailoverEngaged   EventKind = "failover_engaged"
	EventFailoverRecovered EventKind = "failover_recovered"
	EventRaffleActivated   EventKind = "raffle_activated"
	EventRaffleSwitched    EventKind = "raffle_switched"
	EventSellReconciled    EventKind = "sell_reconciled"
)

// OpsEvent contains the data for an operator notification. These are
// engine-level events (source health, raffle lifecycle, manual
// reconciliations), not per-trade chatter.
type OpsEvent struct {
	Kind EventKind

	// Detector context
	Detector string // "buy" or "sell", empty for raffle events

	// Source health
	FailedSource string
	ActiveSource string
	Failures     int

	// Raffle context
	RaffleID int64
	CoinType string

	// Reconciliation context
	TxDigest    string
	Wallet      string
	TicketDelta int64

	Timestamp time.Time
}

// Notifier is the interface for sending ops events to various channels.
type Notifier interface {
	// SendOpsEvent sends an operator notification.
	SendOpsEvent(event OpsEvent)

	// Close cleans up any resources.
	Close() error
}

// MultiNotifier broadcasts events to multiple notifiers.
type MultiNotifier struct {
	notifiers []Notifier
}

// NewMultiNotifier creates a new MultiNotifier with the given notifiers.
func NewMultiNotifier(notifiers ...Notifier) *MultiNotifier {
	// Filter out nil notifiers
	var active []Notifier
	for _, n := range notifiers {
		if n != nil {
			active = append(active, n)
		}
	}
	return &MultiNotifier{notifiers: active}
}

// SendOpsEvent sends the event to all registered notifiers.
func (m *MultiNotifier) SendOpsEvent(event OpsEvent) {
	for _, n := range m.notifiers {
		n.SendOpsEvent(event)
	}
}

// Close closes all registered notifiers.
func (m *MultiNotifier) Close() error {
	var lastErr error
	for _, n := range m.notifiers {
		if err := n.Close(); err != nil {
			lastErr = err
		}
	}
	return lastErr
}

// Count returns the number of active notifiers.
func (m *MultiNotifier) Count() int {
	return len(m.notifiers)
}

package app

import (
	"context"
	"errors"
	"sync"

	"rafflebot/clients/notifier"
)

// MockTradeSource is a scriptable TradeSource for detector tests.
type MockTradeSource struct {
	mu      sync.Mutex
	name    string
	records []RawRecord
	cursor  string
	err     error
	fetches int
}

func NewMockTradeSource(name string) *MockTradeSource {
	return &MockTradeSource{name: name}
}

func (m *MockTradeSource) Name() string { return m.name }

func (m *MockTradeSource) FetchSince(_ context.Context, _, _ string, _ int) ([]RawRecord, string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fetches++
	if m.err != nil {
		return nil, "", m.err
	}
	return m.records, m.cursor, nil
}

func (m *MockTradeSource) SetRecords(records []RawRecord) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = records
}

func (m *MockTradeSource) SetError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

func (m *MockTradeSource) Fetches() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.fetches
}

// MockRecordStore is an in-memory RecordStore keyed by event key.
type MockRecordStore struct {
	mu        sync.Mutex
	records   map[string]*TradeRecord
	findErr   error
	createErr error
}

func NewMockRecordStore() *MockRecordStore {
	return &MockRecordStore{records: make(map[string]*TradeRecord)}
}

func (m *MockRecordStore) FindByEventKey(_ context.Context, eventKey string) (*TradeRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.findErr != nil {
		return nil, m.findErr
	}
	if rec, ok := m.records[eventKey]; ok {
		copied := *rec
		return &copied, nil
	}
	return nil, nil
}

func (m *MockRecordStore) CreateTradeRecord(_ context.Context, rec *TradeRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.createErr != nil {
		return m.createErr
	}
	copied := *rec
	m.records[rec.EventKey] = &copied
	return nil
}

func (m *MockRecordStore) SetCreateError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.createErr = err
}

func (m *MockRecordStore) UpdateTradeTickets(_ context.Context, id string, tickets int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, rec := range m.records {
		if rec.ID == id {
			rec.Tickets = tickets
			return nil
		}
	}
	return errors.New("record not found")
}

func (m *MockRecordStore) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.records)
}

func (m *MockRecordStore) Record(eventKey string) *TradeRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.records[eventKey]
}

// MockQueue collects enqueued jobs.
type MockQueue struct {
	mu   sync.Mutex
	jobs []TicketJob
	err  error
}

func NewMockQueue() *MockQueue {
	return &MockQueue{}
}

func (m *MockQueue) Enqueue(_ context.Context, job TicketJob) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.jobs = append(m.jobs, job)
	return nil
}

func (m *MockQueue) Jobs() []TicketJob {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]TicketJob, len(m.jobs))
	copy(out, m.jobs)
	return out
}

// MockRaffleSource returns a fixed raffle.
type MockRaffleSource struct {
	mu     sync.Mutex
	raffle *ActiveRaffle
	err    error
}

func NewMockRaffleSource(raffle *ActiveRaffle) *MockRaffleSource {
	return &MockRaffleSource{raffle: raffle}
}

func (m *MockRaffleSource) ActiveRaffle(context.Context) (*ActiveRaffle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	return m.raffle, nil
}

func (m *MockRaffleSource) SetRaffle(raffle *ActiveRaffle) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.raffle = raffle
}

func (m *MockRaffleSource) SetError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

// MockSenderResolver resolves digests to wallets from a fixed table.
type MockSenderResolver struct {
	senders map[string]string
}

func (m *MockSenderResolver) ResolveTransactionSender(_ context.Context, digest string) (string, error) {
	if wallet, ok := m.senders[digest]; ok {
		return wallet, nil
	}
	return "", errors.New("unknown digest")
}

// MockDecimalsResolver returns fixed decimals, or an error.
type MockDecimalsResolver struct {
	decimals int
	err      error
	calls    int
}

func (m *MockDecimalsResolver) ResolveDecimals(context.Context, string) (int, error) {
	m.calls++
	if m.err != nil {
		return 0, m.err
	}
	return m.decimals, nil
}

// MockNotifier records ops events.
type MockNotifier struct {
	mu     sync.Mutex
	events []notifier.OpsEvent
}

func NewMockNotifier() *MockNotifier {
	return &MockNotifier{}
}

func (m *MockNotifier) SendOpsEvent(event notifier.OpsEvent) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, event)
}

func (m *MockNotifier) Close() error { return nil }

func (m *MockNotifier) Events() []notifier.OpsEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]notifier.OpsEvent, len(m.events))
	copy(out, m.events)
	return out
}

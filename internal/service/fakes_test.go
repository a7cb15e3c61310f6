package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"sync"

	"github.com/alanyoungcy/polyclaw/internal/domain"
	"github.com/alanyoungcy/polyclaw/internal/notify"
	"github.com/alanyoungcy/polyclaw/internal/platform/polymarket"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// memStore is an in-memory domain.PositionStore that counts writes.
type memStore struct {
	mu      sync.Mutex
	recs    []domain.PositionRecord
	writes  int
	addErr  error
	loadErr error
}

func (m *memStore) LoadAll(ctx context.Context) ([]domain.PositionRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.loadErr != nil {
		return nil, m.loadErr
	}
	return append([]domain.PositionRecord(nil), m.recs...), nil
}

func (m *memStore) Add(ctx context.Context, rec domain.PositionRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return err
	}
	if m.addErr != nil {
		return m.addErr
	}
	if err := rec.Validate(); err != nil {
		return err
	}
	m.recs = append(m.recs, rec)
	m.writes++
	return nil
}

func (m *memStore) index(id string) int {
	for i, r := range m.recs {
		if r.PositionID == id {
			return i
		}
	}
	return -1
}

func (m *memStore) Get(ctx context.Context, id string) (domain.PositionRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	i := m.index(id)
	if i < 0 {
		return domain.PositionRecord{}, domain.ErrNotFound
	}
	return m.recs[i], nil
}

func (m *memStore) GetByMarket(ctx context.Context, marketID string) ([]domain.PositionRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.PositionRecord
	for _, r := range m.recs {
		if r.MarketID == marketID {
			out = append(out, r)
		}
	}
	return out, nil
}

func (m *memStore) GetOpen(ctx context.Context) ([]domain.PositionRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.loadErr != nil {
		return nil, m.loadErr
	}
	var out []domain.PositionRecord
	for _, r := range m.recs {
		if r.Status == domain.PositionStatusOpen {
			out = append(out, r)
		}
	}
	return out, nil
}

func (m *memStore) UpdateStatus(ctx context.Context, id string, status domain.PositionStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	i := m.index(id)
	if i < 0 {
		return domain.ErrNotFound
	}
	if !domain.CanTransition(m.recs[i].Status, status) {
		return domain.ErrInvalidTransition
	}
	m.recs[i].Status = status
	m.writes++
	return nil
}

func (m *memStore) UpdateNotes(ctx context.Context, id, notes string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	i := m.index(id)
	if i < 0 {
		return domain.ErrNotFound
	}
	m.recs[i].Notes = domain.StringPtr(notes)
	m.writes++
	return nil
}

func (m *memStore) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	i := m.index(id)
	if i < 0 {
		return domain.ErrNotFound
	}
	m.recs = append(m.recs[:i], m.recs[i+1:]...)
	m.writes++
	return nil
}

func (m *memStore) Count(ctx context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.recs), nil
}

func (m *memStore) byID(id string) domain.PositionRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.recs[m.index(id)]
}

type fakeMarkets struct {
	markets map[string]domain.MarketInfo
	errs    map[string]error
	calls   int
}

func (f *fakeMarkets) GetMarket(ctx context.Context, id string) (domain.MarketInfo, error) {
	f.calls++
	if err := f.errs[id]; err != nil {
		return domain.MarketInfo{}, err
	}
	m, ok := f.markets[id]
	if !ok {
		return domain.MarketInfo{}, fmt.Errorf("market %s: %w", id, domain.ErrNotFound)
	}
	return m, nil
}

type fakeSplitter struct {
	tx    string
	err   error
	calls []string
}

func (f *fakeSplitter) Split(ctx context.Context, conditionID string, amountUSD float64) (string, error) {
	f.calls = append(f.calls, fmt.Sprintf("%s:%.2f", conditionID, amountUSD))
	if f.err != nil {
		return "", f.err
	}
	return f.tx, nil
}

type fakeBalances struct {
	bal domain.Balances
	err error
}

func (f *fakeBalances) Balances(ctx context.Context) (domain.Balances, error) {
	return f.bal, f.err
}

type sellCall struct {
	tokenID string
	amount  float64
	ref     float64
}

type fakeSeller struct {
	orderID string
	filled  bool
	err     error
	calls   []sellCall
}

func (f *fakeSeller) SellFillOrKill(ctx context.Context, tokenID string, amount, ref float64) (string, bool, error) {
	f.calls = append(f.calls, sellCall{tokenID, amount, ref})
	return f.orderID, f.filled, f.err
}

type sentEvent struct {
	event   notify.Event
	message string
}

type fakeNotifier struct {
	mu     sync.Mutex
	events []sentEvent
}

func (f *fakeNotifier) Notify(ctx context.Context, event notify.Event, title, message string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, sentEvent{event, message})
	return nil
}

func (f *fakeNotifier) count(event notify.Event) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, e := range f.events {
		if e.event == event {
			n++
		}
	}
	return n
}

// fakeChain serves token balances and resolution flags and records
// redemptions.
type fakeChain struct {
	mu         sync.Mutex
	balances   map[string]*big.Int
	balanceErr map[string]error
	resolved   map[string]bool
	redeemErr  map[string]error
	redeems    []string
	onRedeem   func()
}

func (f *fakeChain) TokenBalance(ctx context.Context, tokenID string) (*big.Int, error) {
	if err := f.balanceErr[tokenID]; err != nil {
		return nil, err
	}
	if b, ok := f.balances[tokenID]; ok {
		return new(big.Int).Set(b), nil
	}
	return new(big.Int), nil
}

func (f *fakeChain) IsResolved(ctx context.Context, conditionID string) (bool, error) {
	return f.resolved[conditionID], nil
}

func (f *fakeChain) Redeem(ctx context.Context, conditionID string, sets []int64) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(sets) != 2 || sets[0] != 1 || sets[1] != 2 {
		return "", errors.New("unexpected index sets")
	}
	f.redeems = append(f.redeems, conditionID)
	if f.onRedeem != nil {
		f.onRedeem()
	}
	if err := f.redeemErr[conditionID]; err != nil {
		return "", err
	}
	return "0xredeem-" + conditionID, nil
}

type fakeFeed struct {
	redeemable []polymarket.APIPosition
	mergeable  []polymarket.APIPosition
	err        error
}

func (f *fakeFeed) AllPositions(ctx context.Context, user string, filter polymarket.PositionFilter) ([]polymarket.APIPosition, error) {
	if f.err != nil {
		return nil, f.err
	}
	if filter.Mergeable {
		return f.mergeable, nil
	}
	return f.redeemable, nil
}

type putCall struct {
	path        string
	body        []byte
	contentType string
}

type fakeBlob struct {
	puts []putCall
	err  error
}

func (f *fakeBlob) Put(ctx context.Context, path string, data io.Reader, contentType string) error {
	if f.err != nil {
		return f.err
	}
	var buf bytes.Buffer
	if _, err := buf.ReadFrom(data); err != nil {
		return err
	}
	f.puts = append(f.puts, putCall{path, buf.Bytes(), contentType})
	return nil
}

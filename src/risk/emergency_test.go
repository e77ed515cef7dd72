package risk

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"fundingarb/src/model"
)

type stubCloser struct {
	mu        sync.Mutex
	positions []model.Position
	failUntil map[string]int // position ID -> number of attempts that fail
	attempts  map[string]int
}

func newStubCloser(positions ...model.Position) *stubCloser {
	return &stubCloser{
		positions: positions,
		failUntil: map[string]int{},
		attempts:  map[string]int{},
	}
}

func (s *stubCloser) OpenPositions() []model.Position {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.Position, len(s.positions))
	copy(out, s.positions)
	return out
}

func (s *stubCloser) Close(ctx context.Context, positionID string) (*model.OrderResult, *model.OrderResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.attempts[positionID]++
	if s.attempts[positionID] <= s.failUntil[positionID] {
		return nil, nil, errors.New("close rejected")
	}
	fill := &model.OrderResult{
		FilledPrice: decimal.NewFromInt(50000),
		Fee:         decimal.NewFromFloat(0.5),
	}
	return fill, fill, nil
}

func (s *stubCloser) attemptCount(positionID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.attempts[positionID]
}

type recordingLedger struct {
	mu     sync.Mutex
	closed []string
}

func (r *recordingLedger) RecordClose(positionID string, spotExitPrice, perpExitPrice, exitFee decimal.Decimal) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = append(r.closed, positionID)
}

func TestTriggerClosesAllPositions(t *testing.T) {
	closer := newStubCloser(
		model.Position{ID: "p1", PerpSymbol: "BTCUSDT", Quantity: decimal.NewFromFloat(0.02)},
		model.Position{ID: "p2", PerpSymbol: "ETHUSDT", Quantity: decimal.NewFromFloat(0.5)},
	)
	ledger := &recordingLedger{}
	var shutdowns int32
	ec := NewEmergencyController(closer, ledger, func() { atomic.AddInt32(&shutdowns, 1) }, 3, time.Millisecond)

	closedIDs, failedIDs := ec.Trigger(context.Background(), "margin critical")

	assert.ElementsMatch(t, []string{"p1", "p2"}, closedIDs)
	assert.Empty(t, failedIDs)
	assert.ElementsMatch(t, []string{"p1", "p2"}, ledger.closed)
	assert.Equal(t, int32(1), atomic.LoadInt32(&shutdowns))
	assert.True(t, ec.Triggered())
}

func TestTriggerSecondCallIsNoOp(t *testing.T) {
	closer := newStubCloser(model.Position{ID: "p1", PerpSymbol: "BTCUSDT", Quantity: decimal.NewFromFloat(0.02)})
	var shutdowns int32
	ec := NewEmergencyController(closer, nil, func() { atomic.AddInt32(&shutdowns, 1) }, 3, time.Millisecond)

	ec.Trigger(context.Background(), "first")
	attemptsAfterFirst := closer.attemptCount("p1")
	closedIDs, failedIDs := ec.Trigger(context.Background(), "second")

	assert.Empty(t, closedIDs)
	assert.Empty(t, failedIDs)
	assert.Equal(t, attemptsAfterFirst, closer.attemptCount("p1"))
	assert.Equal(t, int32(1), atomic.LoadInt32(&shutdowns))
}

func TestTriggerNoPositionsStillShutsDown(t *testing.T) {
	closer := newStubCloser()
	var shutdowns int32
	ec := NewEmergencyController(closer, nil, func() { atomic.AddInt32(&shutdowns, 1) }, 3, time.Millisecond)

	closedIDs, failedIDs := ec.Trigger(context.Background(), "manual")

	assert.Empty(t, closedIDs)
	assert.Empty(t, failedIDs)
	assert.Equal(t, int32(1), atomic.LoadInt32(&shutdowns))
}

func TestTriggerRetriesUntilSuccess(t *testing.T) {
	closer := newStubCloser(model.Position{ID: "p1", PerpSymbol: "BTCUSDT", Quantity: decimal.NewFromFloat(0.02)})
	closer.failUntil["p1"] = 2
	ledger := &recordingLedger{}
	ec := NewEmergencyController(closer, ledger, func() {}, 3, time.Millisecond)

	closedIDs, failedIDs := ec.Trigger(context.Background(), "margin critical")

	assert.Equal(t, []string{"p1"}, closedIDs)
	assert.Empty(t, failedIDs)
	assert.Equal(t, 3, closer.attemptCount("p1"))
	assert.Equal(t, []string{"p1"}, ledger.closed)
}

func TestTriggerReportsExhaustedRetries(t *testing.T) {
	closer := newStubCloser(
		model.Position{ID: "p1", PerpSymbol: "BTCUSDT", Quantity: decimal.NewFromFloat(0.02)},
		model.Position{ID: "p2", PerpSymbol: "ETHUSDT", Quantity: decimal.NewFromFloat(0.5)},
	)
	closer.failUntil["p2"] = 10
	var shutdowns int32
	ec := NewEmergencyController(closer, nil, func() { atomic.AddInt32(&shutdowns, 1) }, 3, time.Millisecond)

	closedIDs, failedIDs := ec.Trigger(context.Background(), "margin critical")

	assert.Equal(t, []string{"p1"}, closedIDs)
	assert.Equal(t, []string{"p2"}, failedIDs)
	assert.Equal(t, 3, closer.attemptCount("p2"))
	assert.Equal(t, int32(1), atomic.LoadInt32(&shutdowns))
}

func TestResetClearsTriggered(t *testing.T) {
	closer := newStubCloser()
	ec := NewEmergencyController(closer, nil, func() {}, 3, time.Millisecond)

	ec.Trigger(context.Background(), "manual")
	assert.True(t, ec.Triggered())

	ec.Reset()
	assert.False(t, ec.Triggered())
}

package pnl

import (
	"sync"
	"time"

	"github.com/shopspring/decimal"
	logger "github.com/sirupsen/logrus"

	"fundingarb/src/model"
)

// PositionRecord is the per-position ledger entry kept from open to close.
type PositionRecord struct {
	PositionID     string          `json:"position_id"`
	PerpSymbol     string          `json:"perp_symbol"`
	Side           string          `json:"side"`
	Quantity       decimal.Decimal `json:"quantity"`
	SpotEntryPrice decimal.Decimal `json:"spot_entry_price"`
	PerpEntryPrice decimal.Decimal `json:"perp_entry_price"`
	EntryFee       decimal.Decimal `json:"entry_fee"`
	FundingTotal   decimal.Decimal `json:"funding_total"`
	OpenedAt       time.Time       `json:"opened_at"`
}

// ClosedPosition is the realized outcome of one round trip.
type ClosedPosition struct {
	PositionID   string          `json:"position_id"`
	PerpSymbol   string          `json:"perp_symbol"`
	SpreadPnL    decimal.Decimal `json:"spread_pnl"`
	FundingTotal decimal.Decimal `json:"funding_total"`
	FeesTotal    decimal.Decimal `json:"fees_total"`
	NetPnL       decimal.Decimal `json:"net_pnl"`
	ClosedAt     time.Time       `json:"closed_at"`
}

// Summary is the aggregate portfolio view served to the operator API.
type Summary struct {
	OpenPositions    int             `json:"open_positions"`
	ClosedPositions  int             `json:"closed_positions"`
	FundingCollected decimal.Decimal `json:"funding_collected"`
	FeesPaid         decimal.Decimal `json:"fees_paid"`
	RealizedPnL      decimal.Decimal `json:"realized_pnl"`
	LastSettlement   time.Time       `json:"last_settlement"`
}

// Tracker owns all profit-and-loss bookkeeping: entry fees at open,
// realized spread and fees at close, and funding flows in between. All
// state is in memory; persistence of raw market history lives elsewhere.
type Tracker struct {
	calc *FeeCalculator

	mu             sync.Mutex
	open           map[string]*PositionRecord
	closed         []ClosedPosition
	lastSettlement time.Time

	now func() time.Time
}

func NewTracker(calc *FeeCalculator) *Tracker {
	return &Tracker{
		calc: calc,
		open: map[string]*PositionRecord{},
		now:  time.Now,
	}
}

// RecordOpen registers a freshly committed position with its total entry fee.
func (t *Tracker) RecordOpen(pos model.Position) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.open[pos.ID] = &PositionRecord{
		PositionID:     pos.ID,
		PerpSymbol:     pos.PerpSymbol,
		Side:           pos.Side,
		Quantity:       pos.Quantity,
		SpotEntryPrice: pos.SpotEntryPrice,
		PerpEntryPrice: pos.PerpEntryPrice,
		EntryFee:       pos.EntryFeeTotal,
		FundingTotal:   decimal.Zero,
		OpenedAt:       pos.OpenedAt,
	}
}

// RecordClose realizes a position: spread P&L from both legs plus
// accumulated funding minus entry and exit fees. The spot leg is long and
// the perp leg short, so the spot leg gains when price rises and the perp
// leg gains when it falls. An unknown position ID is logged and ignored.
func (t *Tracker) RecordClose(positionID string, spotExitPrice, perpExitPrice, exitFee decimal.Decimal) {
	t.mu.Lock()
	defer t.mu.Unlock()

	rec, ok := t.open[positionID]
	if !ok {
		logger.WithField("position_id", positionID).Warn("close recorded for unknown position")
		return
	}
	delete(t.open, positionID)

	spotPnL := rec.Quantity.Mul(spotExitPrice.Sub(rec.SpotEntryPrice))
	perpPnL := rec.Quantity.Mul(rec.PerpEntryPrice.Sub(perpExitPrice))
	spread := spotPnL.Add(perpPnL)
	fees := rec.EntryFee.Add(exitFee)
	net := spread.Add(rec.FundingTotal).Sub(fees)

	t.closed = append(t.closed, ClosedPosition{
		PositionID:   positionID,
		PerpSymbol:   rec.PerpSymbol,
		SpreadPnL:    spread,
		FundingTotal: rec.FundingTotal,
		FeesTotal:    fees,
		NetPnL:       net,
		ClosedAt:     t.now(),
	})

	logger.WithFields(logger.Fields{
		"position_id": positionID,
		"spread_pnl":  spread.String(),
		"funding":     rec.FundingTotal.String(),
		"fees":        fees.String(),
		"net_pnl":     net.String(),
	}).Info("position realized")
}

// RecordFundingPayment credits or debits one funding flow against an open
// position.
func (t *Tracker) RecordFundingPayment(positionID string, amount decimal.Decimal) {
	t.mu.Lock()
	defer t.mu.Unlock()

	rec, ok := t.open[positionID]
	if !ok {
		logger.WithField("position_id", positionID).Warn("funding recorded for unknown position")
		return
	}
	rec.FundingTotal = rec.FundingTotal.Add(amount)
}

// SimulateFundingSettlement applies one settlement across the given open
// positions using current funding data, returning the total flow. Positions
// whose symbol has no rate are skipped.
func (t *Tracker) SimulateFundingSettlement(positions []model.Position, rates map[string]model.FundingRate) decimal.Decimal {
	total := decimal.Zero
	for _, pos := range positions {
		rate, ok := rates[pos.PerpSymbol]
		if !ok {
			logger.WithField("symbol", pos.PerpSymbol).Warn("no funding rate for settlement")
			continue
		}
		payment := t.calc.FundingPayment(pos.Quantity, rate.MarkPrice, rate.Rate, pos.Side)
		t.RecordFundingPayment(pos.ID, payment)
		total = total.Add(payment)

		logger.WithFields(logger.Fields{
			"position_id": pos.ID,
			"symbol":      pos.PerpSymbol,
			"rate":        rate.Rate.String(),
			"payment":     payment.String(),
		}).Info("funding settled")
	}

	t.mu.Lock()
	t.lastSettlement = t.now()
	t.mu.Unlock()

	return total
}

// LastSettlement returns when funding was last settled; zero time if never.
func (t *Tracker) LastSettlement() time.Time {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.lastSettlement
}

// OpenRecord returns a copy of the ledger entry for an open position.
func (t *Tracker) OpenRecord(positionID string) (PositionRecord, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	rec, ok := t.open[positionID]
	if !ok {
		return PositionRecord{}, false
	}
	return *rec, true
}

// ClosedPositions returns the realized round trips, oldest first.
func (t *Tracker) ClosedPositions() []ClosedPosition {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]ClosedPosition, len(t.closed))
	copy(out, t.closed)
	return out
}

// PortfolioSummary aggregates the ledger into the operator-facing view.
func (t *Tracker) PortfolioSummary() Summary {
	t.mu.Lock()
	defer t.mu.Unlock()

	summary := Summary{
		OpenPositions:    len(t.open),
		ClosedPositions:  len(t.closed),
		FundingCollected: decimal.Zero,
		FeesPaid:         decimal.Zero,
		RealizedPnL:      decimal.Zero,
		LastSettlement:   t.lastSettlement,
	}

	for _, rec := range t.open {
		summary.FundingCollected = summary.FundingCollected.Add(rec.FundingTotal)
		summary.FeesPaid = summary.FeesPaid.Add(rec.EntryFee)
	}
	for _, closed := range t.closed {
		summary.FundingCollected = summary.FundingCollected.Add(closed.FundingTotal)
		summary.FeesPaid = summary.FeesPaid.Add(closed.FeesTotal)
		summary.RealizedPnL = summary.RealizedPnL.Add(closed.NetPnL)
	}

	return summary
}

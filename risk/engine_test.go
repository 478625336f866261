package risk

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rustyeddy/zonetrader/broker"
	"github.com/rustyeddy/zonetrader/market"
)

type fakeAccount struct {
	equity    float64
	positions []broker.PositionSnapshot
	err       error
}

func (f *fakeAccount) AccountEquity(context.Context) (float64, error)  { return f.equity, f.err }
func (f *fakeAccount) AccountBalance(context.Context) (float64, error) { return f.equity, f.err }
func (f *fakeAccount) OpenPositions(context.Context, string) ([]broker.PositionSnapshot, error) {
	return f.positions, f.err
}

type clock struct{ t time.Time }

func (c *clock) now() time.Time { return c.t }

var start = time.Date(2024, 3, 4, 10, 0, 0, 0, time.UTC)

func newTestEngine(t *testing.T, acct *fakeAccount) (*Engine, *clock) {
	t.Helper()
	c := &clock{t: start}
	e, err := NewEngine(context.Background(), acct, "EUR_USD", DefaultPolicy(), c.now, nil)
	require.NoError(t, err)
	return e, c
}

func TestNewEngineInitialState(t *testing.T) {
	e, _ := newTestEngine(t, &fakeAccount{equity: 100000})

	s := e.State()
	assert.Equal(t, 100000.0, s.InitialEquity)
	assert.Equal(t, 100000.0, s.PeakEquity)
	assert.InDelta(t, 2000.0, s.VaRLimit, 1e-9)
	assert.Equal(t, 500.0, e.BaseRiskAmount(100000))

	_, err := NewEngine(context.Background(), &fakeAccount{equity: 1}, "EUR_USD", Policy{}, nil, nil)
	assert.Error(t, err)
	_, err = NewEngine(context.Background(), &fakeAccount{equity: 1}, "NOPE", DefaultPolicy(), nil, nil)
	assert.Error(t, err)
}

func TestCanOpenNewTradesDailyLossScenario(t *testing.T) {
	acct := &fakeAccount{equity: 100000}
	e, _ := newTestEngine(t, acct)
	ctx := context.Background()

	d, err := e.CanOpenNewTrades(ctx)
	require.NoError(t, err)
	assert.True(t, d.Allowed)

	// 2 × 0.5% × 100,000
	require.NoError(t, e.RegisterClosedTrade(ctx, -1000))

	d, err = e.CanOpenNewTrades(ctx)
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Equal(t, []string{CodeDailyLoss}, d.Codes())
}

func TestDailyLossResetsOnNewDate(t *testing.T) {
	acct := &fakeAccount{equity: 100000}
	e, c := newTestEngine(t, acct)
	ctx := context.Background()

	require.NoError(t, e.RegisterClosedTrade(ctx, -1000))

	// Same day-of-month, next month: still a new date.
	c.t = start.AddDate(0, 1, 0)
	d, err := e.CanOpenNewTrades(ctx)
	require.NoError(t, err)
	assert.True(t, d.Allowed)
	assert.Zero(t, e.State().DailyLoss)
}

func TestCanOpenNewTradesMaxDrawdown(t *testing.T) {
	acct := &fakeAccount{equity: 100000}
	e, _ := newTestEngine(t, acct)
	ctx := context.Background()

	acct.equity = 90000
	d, err := e.CanOpenNewTrades(ctx)
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Contains(t, d.Codes(), CodeMaxDrawdown)
	assert.InDelta(t, 10.0, e.State().CurrentDrawdownPct, 1e-9)

	acct.equity = 90001
	d, err = e.CanOpenNewTrades(ctx)
	require.NoError(t, err)
	assert.NotContains(t, d.Codes(), CodeMaxDrawdown)
}

func TestCanOpenNewTradesVaR(t *testing.T) {
	acct := &fakeAccount{equity: 100000}
	e, _ := newTestEngine(t, acct)
	ctx := context.Background()

	require.NoError(t, e.UpdateRiskStatus(ctx))
	e.RegisterNewTrade(1500)
	e.RegisterNewTrade(600)

	d, err := e.CanOpenNewTrades(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{CodeVaR}, d.Codes())
}

func TestCanOpenNewTradesDataError(t *testing.T) {
	acct := &fakeAccount{equity: 100000}
	e, _ := newTestEngine(t, acct)

	acct.err = errors.New("boom")
	_, err := e.CanOpenNewTrades(context.Background())
	assert.Error(t, err)
}

func TestUpdateRiskStatusIdempotent(t *testing.T) {
	acct := &fakeAccount{equity: 99000}
	e, c := newTestEngine(t, acct)
	ctx := context.Background()

	c.t = start.Add(26 * time.Hour)
	require.NoError(t, e.UpdateRiskStatus(ctx))
	require.NoError(t, e.RegisterClosedTrade(ctx, -300))

	require.NoError(t, e.UpdateRiskStatus(ctx))
	first := e.State()

	require.NoError(t, e.UpdateRiskStatus(ctx))
	second := e.State()

	assert.Equal(t, 300.0, first.DailyLoss)
	assert.Equal(t, first.DailyLoss, second.DailyLoss)
	assert.Equal(t, first.VaRLimit, second.VaRLimit)
	assert.Equal(t, first, second)
}

func TestReconcilePullsOpenRiskDown(t *testing.T) {
	acct := &fakeAccount{equity: 100000}
	e, c := newTestEngine(t, acct)
	ctx := context.Background()

	require.NoError(t, e.UpdateRiskStatus(ctx))
	e.RegisterNewTrade(900)

	acct.positions = []broker.PositionSnapshot{{
		Ticket: "a", Direction: market.Long, Lots: 0.5, EntryPrice: 1.1000, StopLoss: 1.0950,
	}}
	// actual = 0.5 × 0.005 × 100000 = 250

	c.t = start.Add(time.Hour)
	require.NoError(t, e.UpdateRiskStatus(ctx))
	assert.Equal(t, 900.0, e.State().OpenRisk, "not yet due")

	c.t = start.Add(ReconcileInterval)
	require.NoError(t, e.UpdateRiskStatus(ctx))
	assert.InDelta(t, 250.0, e.State().OpenRisk, 1e-6)
}

func TestReconcileNeverRaisesOpenRisk(t *testing.T) {
	acct := &fakeAccount{equity: 100000}
	e, c := newTestEngine(t, acct)
	ctx := context.Background()

	require.NoError(t, e.UpdateRiskStatus(ctx))
	e.RegisterNewTrade(100)
	acct.positions = []broker.PositionSnapshot{{Direction: market.Long, Lots: 1, EntryPrice: 1.1, StopLoss: 1.09}}

	c.t = start.Add(ReconcileInterval)
	require.NoError(t, e.UpdateRiskStatus(ctx))
	assert.Equal(t, 100.0, e.State().OpenRisk)
}

func TestReconcileKeepsPendingReservations(t *testing.T) {
	acct := &fakeAccount{equity: 100000}
	e, c := newTestEngine(t, acct)
	ctx := context.Background()

	require.NoError(t, e.UpdateRiskStatus(ctx))
	e.RegisterPendingOrder("o1", 400)
	e.RegisterPendingOrder("o2", 200)

	// no open positions, only resting orders
	c.t = start.Add(ReconcileInterval)
	require.NoError(t, e.UpdateRiskStatus(ctx))
	assert.InDelta(t, 300.0, e.State().OpenRisk, 1e-9)

	require.True(t, e.PromotePendingOrder("o1"))
	assert.InDelta(t, 500.0, e.State().OpenRisk, 1e-9)

	// stale tracking above the reservations is still pulled down
	e.RegisterNewTrade(1000)
	c.t = start.Add(2 * ReconcileInterval)
	require.NoError(t, e.UpdateRiskStatus(ctx))
	assert.InDelta(t, 100.0, e.State().OpenRisk, 1e-9)
}

func TestCalculateVaRStretchesInLongDrawdown(t *testing.T) {
	acct := &fakeAccount{equity: 100000}
	e, c := newTestEngine(t, acct)
	ctx := context.Background()

	acct.equity = 95000
	require.NoError(t, e.UpdateRiskStatus(ctx))
	assert.Equal(t, start, e.State().DrawdownSince)
	assert.InDelta(t, 1900.0, e.CalculateVaR(95000, c.t), 1e-9)

	// 5 days in: 1 + 0.5 × 0.5
	assert.InDelta(t, 1900.0*1.25, e.CalculateVaR(95000, start.Add(5*24*time.Hour)), 1e-9)
	// capped after 10 days
	assert.InDelta(t, 1900.0*1.5, e.CalculateVaR(95000, start.Add(30*24*time.Hour)), 1e-9)

	acct.equity = 99000
	require.NoError(t, e.UpdateRiskStatus(ctx))
	assert.True(t, e.State().DrawdownSince.IsZero())
}

func TestCheckCorrelationRisk(t *testing.T) {
	acct := &fakeAccount{equity: 100000}
	e, _ := newTestEngine(t, acct)
	ctx := context.Background()

	// 0.5 lots with a 0.0100 stop risks 500, the base risk amount.
	ok, err := e.CheckCorrelationRisk(ctx, market.Long, 0.5, 0.0100, 1.1)
	require.NoError(t, err)
	assert.True(t, ok, "a lone trade at base risk fits")

	acct.positions = []broker.PositionSnapshot{
		{Direction: market.Long, Lots: 0.1, EntryPrice: 1.1, StopLoss: 1.09},
		{Direction: market.Short, Lots: 5, EntryPrice: 1.1, StopLoss: 1.2},
	}
	// sqrt(100² + 500² + 2·0.75·100·500) = 579 > 500
	ok, err = e.CheckCorrelationRisk(ctx, market.Long, 0.5, 0.0100, 1.1)
	require.NoError(t, err)
	assert.False(t, ok)

	// halved: sqrt(100² + 250² + 2·0.75·100·250) = 332
	ok, err = e.CheckCorrelationRisk(ctx, market.Long, 0.25, 0.0100, 1.1)
	require.NoError(t, err)
	assert.True(t, ok)

	acct.positions[0].Lots = 0.5
	// sqrt(500² + 500² + 2·0.75·500·500) = 935 is over one base risk
	ok, err = e.CheckCorrelationRisk(ctx, market.Long, 0.5, 0.0100, 1.1)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = e.CheckCorrelationRisk(ctx, market.Short, 0.5, 0.0100, 1.1)
	require.NoError(t, err)
	assert.False(t, ok, "5 lots short with a 0.1 stop is far over the cap")
}

func TestCheckCorrelationRiskMultiplier(t *testing.T) {
	acct := &fakeAccount{equity: 100000, positions: []broker.PositionSnapshot{
		{Direction: market.Long, Lots: 0.5, EntryPrice: 1.1, StopLoss: 1.09},
	}}
	pol := DefaultPolicy()
	pol.MaxCorrelatedRiskMult = 2
	e, err := NewEngine(context.Background(), acct, "EUR_USD", pol, func() time.Time { return start }, nil)
	require.NoError(t, err)

	// 935 fits under 2 × 500
	ok, err := e.CheckCorrelationRisk(context.Background(), market.Long, 0.5, 0.0100, 1.1)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestPendingOrderLifecycle(t *testing.T) {
	e, _ := newTestEngine(t, &fakeAccount{equity: 100000})

	e.RegisterPendingOrder("o1", 400)
	assert.Equal(t, 200.0, e.State().OpenRisk)
	assert.Equal(t, []string{"o1"}, e.PendingTickets())

	assert.True(t, e.PromotePendingOrder("o1"))
	assert.Equal(t, 400.0, e.State().OpenRisk)
	assert.False(t, e.PromotePendingOrder("o1"))

	e.RegisterPendingOrder("o2", 300)
	assert.True(t, e.ReleasePendingOrder("o2"))
	assert.Equal(t, 400.0, e.State().OpenRisk)
	assert.False(t, e.ReleasePendingOrder("o2"))
	assert.Empty(t, e.PendingTickets())
}

func TestRegisterClosedTrade(t *testing.T) {
	acct := &fakeAccount{equity: 100000}
	e, _ := newTestEngine(t, acct)
	ctx := context.Background()

	e.RegisterNewTrade(1000)
	acct.positions = []broker.PositionSnapshot{{Direction: market.Long, Lots: 1, EntryPrice: 1.1, StopLoss: 1.09}}
	require.NoError(t, e.UpdateRiskStatus(ctx))
	require.Equal(t, 1000.0, e.State().OpenRiskAtVaR)

	acct.equity = 100200
	require.NoError(t, e.RegisterClosedTrade(ctx, 200))
	s := e.State()
	assert.Equal(t, 700.0, s.OpenRisk)
	assert.Zero(t, s.DailyLoss)
	assert.Equal(t, 100200.0, s.PeakEquity)
	assert.Equal(t, 1000.0, s.OpenRiskAtVaR, "not halved yet")

	acct.equity = 100000
	require.NoError(t, e.RegisterClosedTrade(ctx, -200))
	s = e.State()
	assert.Equal(t, 400.0, s.OpenRisk)
	assert.Equal(t, 200.0, s.DailyLoss)
	assert.Equal(t, 400.0, s.OpenRiskAtVaR, "VaR refreshed after open risk halved")

	require.NoError(t, e.RegisterClosedTrade(ctx, -5000))
	assert.Zero(t, e.State().OpenRisk, "floored at zero")
}

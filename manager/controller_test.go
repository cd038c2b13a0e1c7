package manager

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gridflow/exchange"
	"gridflow/market"
	"gridflow/risk"
	"gridflow/trader"
)

func btcParams() trader.GridParams {
	return trader.GridParams{
		Symbol: "BTCUSDT", LowerPrice: 95500, UpperPrice: 99000,
		GridCount: 12, TotalInvestment: 25000, StopLoss: 94800,
	}
}

func dogeParams() trader.GridParams {
	return trader.GridParams{
		Symbol: "DOGEUSDT", LowerPrice: 0.129, UpperPrice: 0.145,
		GridCount: 18, TotalInvestment: 1500, StopLoss: 0.120,
	}
}

func newTestController(t *testing.T) (*Controller, *exchange.Mock, *risk.Supervisor) {
	t.Helper()
	mock := exchange.NewMock()
	sup := risk.NewSupervisor(risk.DefaultThresholds())
	feed := market.NewFeed(mock, []string{"BTCUSDT", "DOGEUSDT"})
	ctrl := NewController(Config{Exchange: mock, Risk: sup, Feed: feed})
	t.Cleanup(ctrl.Shutdown)
	return ctrl, mock, sup
}

func TestDeployValidatesParams(t *testing.T) {
	ctrl, _, _ := newTestController(t)

	bad := btcParams()
	bad.GridCount = 1
	assert.Error(t, ctrl.Deploy(bad))

	require.NoError(t, ctrl.Deploy(btcParams()))
	assert.ElementsMatch(t, []string{"BTCUSDT"}, ctrl.Symbols())
}

func TestUnknownSymbolOperations(t *testing.T) {
	ctrl, _, _ := newTestController(t)

	_, err := ctrl.Start("XRPUSDT")
	assert.ErrorIs(t, err, ErrUnknownSymbol)
	_, err = ctrl.Pause("XRPUSDT")
	assert.ErrorIs(t, err, ErrUnknownSymbol)
	assert.ErrorIs(t, ctrl.Undeploy("XRPUSDT"), ErrUnknownSymbol)
}

func TestStartAndSnapshot(t *testing.T) {
	ctrl, mock, _ := newTestController(t)
	require.NoError(t, ctrl.Deploy(btcParams()))
	mock.SetPrice("BTCUSDT", 97250)

	res, err := ctrl.Start("BTCUSDT")
	require.NoError(t, err)
	assert.Equal(t, 6, res.OrdersPlaced)

	snaps := ctrl.Snapshot()
	require.Contains(t, snaps, "BTCUSDT")
	assert.Equal(t, trader.StatusRunning, snaps["BTCUSDT"].Status)
	assert.Equal(t, 6, snaps["BTCUSDT"].PendingBuys)

	detail, err := ctrl.GridSnapshot("BTCUSDT")
	require.NoError(t, err)
	assert.Len(t, detail.Levels, 12)
}

func TestBroadcastAggregatesPerSymbol(t *testing.T) {
	ctrl, mock, _ := newTestController(t)
	require.NoError(t, ctrl.Deploy(btcParams()))
	require.NoError(t, ctrl.Deploy(dogeParams()))
	mock.SetPrice("BTCUSDT", 97250)
	mock.SetPrice("DOGEUSDT", 0.137)

	results := ctrl.StartAll()
	require.Len(t, results, 2)
	assert.Empty(t, results["BTCUSDT"].Error)
	assert.Empty(t, results["DOGEUSDT"].Error)
	assert.Greater(t, results["BTCUSDT"].Result.OrdersPlaced, 0)

	paused := ctrl.PauseAll()
	assert.Empty(t, paused["BTCUSDT"].Error)
	for sym, snap := range ctrl.Snapshot() {
		assert.Equal(t, trader.StatusPaused, snap.Status, sym)
	}
}

func TestKillFanoutStopsEverything(t *testing.T) {
	ctrl, mock, sup := newTestController(t)
	require.NoError(t, ctrl.Deploy(btcParams()))
	require.NoError(t, ctrl.Deploy(dogeParams()))
	mock.SetPrice("BTCUSDT", 97250)
	mock.SetPrice("DOGEUSDT", 0.137)
	ctrl.StartAll()

	results := ctrl.Kill("Manual kill switch activated")
	require.Len(t, results, 2)

	killed, reason := ctrl.Killed()
	assert.True(t, killed)
	assert.Equal(t, "Manual kill switch activated", reason)

	for sym, snap := range ctrl.Snapshot() {
		assert.Equal(t, trader.StatusKilled, snap.Status, sym)
	}
	for _, sym := range []string{"BTCUSDT", "DOGEUSDT"} {
		open, err := mock.OpenOrders(context.Background(), sym)
		require.NoError(t, err)
		assert.Empty(t, open, sym)
	}

	// no starts while latched
	_, err := ctrl.Start("BTCUSDT")
	assert.ErrorIs(t, err, trader.ErrKilledByRisk)

	// reset returns workers to STOPPED and re-enables starts
	require.NoError(t, ctrl.ResetKill())
	killed, _ = sup.KillSwitch()
	assert.False(t, killed)
	assert.Equal(t, trader.StatusStopped, ctrl.Snapshot()["BTCUSDT"].Status)

	_, err = ctrl.Start("BTCUSDT")
	assert.NoError(t, err)
}

func TestAutomaticKillFansOut(t *testing.T) {
	ctrl, mock, sup := newTestController(t)
	require.NoError(t, ctrl.Deploy(btcParams()))
	mock.SetPrice("BTCUSDT", 97250)
	_, err := ctrl.Start("BTCUSDT")
	require.NoError(t, err)

	// drawdown past the threshold trips the latch via the supervisor,
	// whose callback fans the forced stop out asynchronously
	sup.UpdateEquity(34000)
	sup.UpdateEquity(20000)

	require.Eventually(t, func() bool {
		return ctrl.Snapshot()["BTCUSDT"].Status == trader.StatusKilled
	}, 2*time.Second, 20*time.Millisecond)

	open, err := mock.OpenOrders(context.Background(), "BTCUSDT")
	require.NoError(t, err)
	assert.Empty(t, open)
}

func TestTickDispatchRoutesBySymbol(t *testing.T) {
	ctrl, mock, sup := newTestController(t)
	require.NoError(t, ctrl.Deploy(btcParams()))
	mock.SetPrice("BTCUSDT", 97250)
	_, err := ctrl.Start("BTCUSDT")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, ctrl.feed.Start())
	defer ctrl.feed.Stop()
	go ctrl.Run(ctx)

	// price drop through the grid fills lower buys; enough ticks to
	// fill the risk estimator's sample window
	for i := 0; i < 12; i++ {
		mock.SetPrice("BTCUSDT", 96100+float64(i))
		time.Sleep(5 * time.Millisecond)
	}

	require.Eventually(t, func() bool {
		return ctrl.Snapshot()["BTCUSDT"].TotalBuys >= 1
	}, 2*time.Second, 20*time.Millisecond)

	// the dispatcher also feeds the risk estimator
	require.Eventually(t, func() bool {
		return sup.VolatilityPct("BTCUSDT") > 0
	}, 2*time.Second, 20*time.Millisecond)
}

func TestRebalanceAll(t *testing.T) {
	ctrl, mock, _ := newTestController(t)
	require.NoError(t, ctrl.Deploy(btcParams()))
	mock.SetPrice("BTCUSDT", 97250)
	ctrl.StartAll()

	results := ctrl.RebalanceAll()
	assert.Empty(t, results["BTCUSDT"].Error)
	assert.Equal(t, 6, results["BTCUSDT"].Result.Cancelled)
	assert.Equal(t, 6, results["BTCUSDT"].Result.OrdersPlaced)
}

func TestUndeployStopsWorker(t *testing.T) {
	ctrl, mock, _ := newTestController(t)
	require.NoError(t, ctrl.Deploy(btcParams()))
	mock.SetPrice("BTCUSDT", 97250)
	_, err := ctrl.Start("BTCUSDT")
	require.NoError(t, err)

	require.NoError(t, ctrl.Undeploy("BTCUSDT"))
	assert.Empty(t, ctrl.Symbols())

	open, err := mock.OpenOrders(context.Background(), "BTCUSDT")
	require.NoError(t, err)
	assert.Empty(t, open)
}

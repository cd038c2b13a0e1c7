package risk

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func feedWindow(s *Supervisor, symbol string, prices []float64) {
	base := time.Now()
	for i, p := range prices {
		s.RecordPrice(symbol, p, base.Add(time.Duration(i)*time.Second))
	}
}

func calmWindow(center float64) []float64 {
	out := make([]float64, 10)
	for i := range out {
		out[i] = center
	}
	return out
}

func spikyWindow(center float64) []float64 {
	out := calmWindow(center)
	out[9] = center * 1.10 // 10% step blows past the 5% threshold
	return out
}

func TestVolatilityBreakerNeedsFullSample(t *testing.T) {
	s := NewSupervisor(DefaultThresholds())

	// fewer than 10 points never arms the breaker
	feedWindow(s, "BTCUSDT", spikyWindow(97000)[:9])
	assert.False(t, s.BreakerActive("BTCUSDT"))
	assert.Zero(t, s.VolatilityPct("BTCUSDT"))

	s.RecordPrice("BTCUSDT", 107000, time.Now().Add(time.Minute))
	assert.True(t, s.BreakerActive("BTCUSDT"))
	assert.Greater(t, s.VolatilityPct("BTCUSDT"), 5.0)
}

func TestCalmWindowStaysQuiet(t *testing.T) {
	s := NewSupervisor(DefaultThresholds())
	feedWindow(s, "BTCUSDT", calmWindow(97000))
	assert.False(t, s.BreakerActive("BTCUSDT"))
	killed, _ := s.KillSwitch()
	assert.False(t, killed)
}

func TestTwoBreakersTripKill(t *testing.T) {
	s := NewSupervisor(DefaultThresholds())
	var gotReason string
	s.OnKill(func(reason string) { gotReason = reason })

	feedWindow(s, "BTCUSDT", spikyWindow(97000))
	killed, _ := s.KillSwitch()
	assert.False(t, killed, "one breaker must not kill")

	feedWindow(s, "DOGEUSDT", spikyWindow(0.137))
	killed, reason := s.KillSwitch()
	require.True(t, killed)
	assert.Contains(t, reason, "volatility")
	assert.Equal(t, reason, gotReason)

	snap := s.Snapshot()
	assert.True(t, snap.KillSwitchTriggered)
	assert.Equal(t, 2, snap.VolatilityBreakers)
}

func TestAPIErrorRateWarmupGuard(t *testing.T) {
	s := NewSupervisor(DefaultThresholds())

	// every call fails, but the warm-up guard holds below 50 calls
	for i := 0; i < 49; i++ {
		s.RecordCall(false)
	}
	killed, _ := s.KillSwitch()
	assert.False(t, killed)

	s.RecordCall(false)
	killed, reason := s.KillSwitch()
	require.True(t, killed)
	assert.Contains(t, reason, "API error rate")
}

func TestAPIErrorRateRollingWindow(t *testing.T) {
	s := NewSupervisor(DefaultThresholds())

	for i := 0; i < 10; i++ {
		s.RecordCall(false)
	}
	for i := 0; i < 990; i++ {
		s.RecordCall(true)
	}
	assert.InDelta(t, 1.0, s.APIErrorRate(), 0.001)

	// the failures age out of the 1000-call window
	for i := 0; i < 1000; i++ {
		s.RecordCall(true)
	}
	assert.Zero(t, s.APIErrorRate())
}

func TestDrawdownKill(t *testing.T) {
	s := NewSupervisor(DefaultThresholds())

	s.UpdateEquity(34000) // baseline
	s.UpdateEquity(30000) // -11.8%, fine
	killed, _ := s.KillSwitch()
	assert.False(t, killed)

	snap := s.Snapshot()
	assert.InDelta(t, -11.76, snap.DrawdownPercent, 0.01)
	assert.Equal(t, 34000.0, snap.InitialEquity)

	s.UpdateEquity(23000) // -32.4%
	killed, reason := s.KillSwitch()
	require.True(t, killed)
	assert.Contains(t, reason, "drawdown")
}

func TestResetKillRefusedWhileConditionHolds(t *testing.T) {
	s := NewSupervisor(DefaultThresholds())
	s.UpdateEquity(34000)
	s.UpdateEquity(20000)
	killed, _ := s.KillSwitch()
	require.True(t, killed)

	err := s.ResetKill()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "still holds")

	s.UpdateEquity(33000)
	require.NoError(t, s.ResetKill())
	killed, _ = s.KillSwitch()
	assert.False(t, killed)
}

func TestManualKillResets(t *testing.T) {
	s := NewSupervisor(DefaultThresholds())
	s.Kill("Manual kill switch activated")
	killed, reason := s.KillSwitch()
	require.True(t, killed)
	assert.Equal(t, "Manual kill switch activated", reason)

	// no live condition, so reset succeeds
	require.NoError(t, s.ResetKill())
}

func TestKillCallbackFiresOnce(t *testing.T) {
	s := NewSupervisor(DefaultThresholds())
	fired := 0
	s.OnKill(func(string) { fired++ })

	s.Kill("first")
	s.Kill("second")
	assert.Equal(t, 1, fired)

	_, reason := s.KillSwitch()
	assert.Equal(t, "first", reason)
}

func TestAllowStartGates(t *testing.T) {
	s := NewSupervisor(DefaultThresholds())
	s.RegisterSymbol("PEPEUSDT", 0.00000395, true, 1500)
	s.RegisterSymbol("BTCUSDT", 94800, false, 25000)

	assert.True(t, s.AllowStart("BTCUSDT").OK)

	t.Run("kill latch", func(t *testing.T) {
		s.Kill("manual")
		gate := s.AllowStart("BTCUSDT")
		assert.False(t, gate.OK)
		assert.Contains(t, gate.Reason, "kill switch")
		require.NoError(t, s.ResetKill())
	})

	t.Run("stop loss", func(t *testing.T) {
		s.RecordPrice("BTCUSDT", 94000, time.Now())
		gate := s.AllowStart("BTCUSDT")
		assert.False(t, gate.OK)
		assert.Contains(t, gate.Reason, "Stop-loss tripped for BTCUSDT")
		s.RecordPrice("BTCUSDT", 97000, time.Now().Add(time.Second))
	})

	t.Run("btc filter", func(t *testing.T) {
		feedWindow(s, BTCSymbol, spikyWindow(97000))
		gate := s.AllowStart("PEPEUSDT")
		assert.False(t, gate.OK)
		assert.Contains(t, gate.Reason, "BTC volatility")
		// the unfiltered symbol is unaffected
		assert.True(t, s.AllowStart("BTCUSDT").OK)
	})

	t.Run("exposure cap", func(t *testing.T) {
		s2 := NewSupervisor(DefaultThresholds())
		s2.RegisterSymbol("BTCUSDT", 0, false, 25000)
		s2.UpdateEquity(34000)
		gate := s2.AllowStart("BTCUSDT")
		assert.False(t, gate.OK, "25000 exceeds 50%% of 34000")
		assert.Contains(t, gate.Reason, "exposure")

		s2.UpdateEquity(60000)
		assert.True(t, s2.AllowStart("BTCUSDT").OK)
	})
}

func TestUnregisterSymbolClearsWindow(t *testing.T) {
	s := NewSupervisor(DefaultThresholds())
	feedWindow(s, "BTCUSDT", spikyWindow(97000))
	require.True(t, s.BreakerActive("BTCUSDT"))

	s.UnregisterSymbol("BTCUSDT")
	assert.False(t, s.BreakerActive("BTCUSDT"))
	assert.Zero(t, s.Snapshot().VolatilityBreakers)
}

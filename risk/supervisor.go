// Package risk implements the supervision subsystem: per-symbol
// volatility breakers over rolling price windows, the API error
// budget, equity drawdown tracking, the kill-switch latch and the
// pre-trade gate.
package risk

import (
	"context"
	"fmt"
	"sync"
	"time"

	"gridflow/logger"
)

// Thresholds are the kill-condition knobs
type Thresholds struct {
	MaxDrawdownPct     float64 // kill when drawdown reaches -X%
	MaxAPIErrorRatePct float64
	VolThresholdPct    float64
	BreakerKillCount   int
	APIWarmupCalls     int
	MaxPositionPct     float64 // single-symbol exposure cap vs equity
}

// DefaultThresholds mirrors the deployment defaults
func DefaultThresholds() Thresholds {
	return Thresholds{
		MaxDrawdownPct:     30.0,
		MaxAPIErrorRatePct: 2.0,
		VolThresholdPct:    5.0,
		BreakerKillCount:   2,
		APIWarmupCalls:     50,
		MaxPositionPct:     50.0,
	}
}

const (
	priceWindowSize = 100
	volSampleSize   = 10
	// The API error rate is estimated over the trailing 1000 calls.
	// A call-count window keeps the estimator O(1) and immune to
	// burst-duration skew; the warm-up guard suppresses spurious
	// kills right after startup.
	errorWindowSize = 1000

	equityPollInterval = 60 * time.Second
	checkInterval      = 30 * time.Second
)

// BTCSymbol is the reference symbol for the BTC filter
const BTCSymbol = "BTCUSDT"

type pricePoint struct {
	price float64
	ts    time.Time
}

type priceWindow struct {
	points []pricePoint // ring, oldest evicted beyond priceWindowSize
}

func (w *priceWindow) add(p float64, ts time.Time) {
	w.points = append(w.points, pricePoint{p, ts})
	if len(w.points) > priceWindowSize {
		w.points = w.points[len(w.points)-priceWindowSize:]
	}
}

// volatilityPct is the max deviation from the mean over the last
// volSampleSize points, as a percentage of the mean.
func (w *priceWindow) volatilityPct() float64 {
	n := len(w.points)
	if n < volSampleSize {
		return 0
	}
	recent := w.points[n-volSampleSize:]
	mean := 0.0
	for _, p := range recent {
		mean += p.price
	}
	mean /= float64(len(recent))
	if mean == 0 {
		return 0
	}
	maxDev := 0.0
	for _, p := range recent {
		dev := p.price - mean
		if dev < 0 {
			dev = -dev
		}
		if pct := dev / mean * 100; pct > maxDev {
			maxDev = pct
		}
	}
	return maxDev
}

// symbolInfo carries per-deployment gate inputs registered by the controller
type symbolInfo struct {
	stopLoss   float64 // 0 = unset
	btcFilter  bool
	investment float64
}

// EquitySource is the slice of the exchange the supervisor polls
type EquitySource interface {
	WalletEquity(ctx context.Context) (float64, error)
}

// Gate is the pre-trade gate verdict
type Gate struct {
	OK     bool
	Reason string
}

// Supervisor tracks risk state for the whole process. All methods are
// safe for concurrent use; the mutex is held for O(1) or O(window)
// work only.
type Supervisor struct {
	mu sync.Mutex
	th Thresholds

	windows   map[string]*priceWindow
	lastPrice map[string]float64
	symbols   map[string]symbolInfo

	callRing  []bool // outcome ring, true = success
	callHead  int
	callCount int // valid entries in ring
	failedWin int // failures currently inside the ring
	callTotal int64

	initialEquity float64
	currentEquity float64

	killed     bool
	killReason string
	killedAt   time.Time
	lastCheck  time.Time

	onKill func(reason string)
}

// NewSupervisor creates a supervisor with the given thresholds
func NewSupervisor(th Thresholds) *Supervisor {
	return &Supervisor{
		th:        th,
		windows:   make(map[string]*priceWindow),
		lastPrice: make(map[string]float64),
		symbols:   make(map[string]symbolInfo),
		callRing:  make([]bool, errorWindowSize),
	}
}

// OnKill registers the controller callback invoked exactly once per
// latch transition.
func (s *Supervisor) OnKill(fn func(reason string)) {
	s.mu.Lock()
	s.onKill = fn
	s.mu.Unlock()
}

// RegisterSymbol installs the gate inputs for a deployed symbol
func (s *Supervisor) RegisterSymbol(symbol string, stopLoss float64, btcFilter bool, investment float64) {
	s.mu.Lock()
	s.symbols[symbol] = symbolInfo{stopLoss: stopLoss, btcFilter: btcFilter, investment: investment}
	s.mu.Unlock()
}

// UnregisterSymbol removes a symbol's gate inputs and price window
func (s *Supervisor) UnregisterSymbol(symbol string) {
	s.mu.Lock()
	delete(s.symbols, symbol)
	delete(s.windows, symbol)
	delete(s.lastPrice, symbol)
	s.mu.Unlock()
}

// RecordCall feeds the API error budget (implements exchange.Recorder)
func (s *Supervisor) RecordCall(success bool) {
	s.mu.Lock()
	if s.callCount == errorWindowSize {
		// evicting the oldest outcome
		if !s.callRing[s.callHead] {
			s.failedWin--
		}
	} else {
		s.callCount++
	}
	s.callRing[s.callHead] = success
	if !success {
		s.failedWin++
	}
	s.callHead = (s.callHead + 1) % errorWindowSize
	s.callTotal++
	fired := s.evaluateLocked()
	s.mu.Unlock()
	s.notifyKill(fired)
}

// RecordPrice feeds a symbol's rolling window and re-evaluates the
// kill conditions.
func (s *Supervisor) RecordPrice(symbol string, price float64, ts time.Time) {
	s.mu.Lock()
	w, ok := s.windows[symbol]
	if !ok {
		w = &priceWindow{}
		s.windows[symbol] = w
	}
	w.add(price, ts)
	s.lastPrice[symbol] = price
	fired := s.evaluateLocked()
	s.mu.Unlock()
	s.notifyKill(fired)
}

// VolatilityPct returns the current estimator value for symbol
func (s *Supervisor) VolatilityPct(symbol string) float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if w, ok := s.windows[symbol]; ok {
		return w.volatilityPct()
	}
	return 0
}

// BreakerActive reports whether symbol's volatility breaker is high
func (s *Supervisor) BreakerActive(symbol string) bool {
	return s.VolatilityPct(symbol) > s.th.VolThresholdPct
}

func (s *Supervisor) breakersActiveLocked() int {
	n := 0
	for _, w := range s.windows {
		if w.volatilityPct() > s.th.VolThresholdPct {
			n++
		}
	}
	return n
}

// APIErrorRate returns the failure percentage over the rolling window
func (s *Supervisor) APIErrorRate() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.apiErrorRateLocked()
}

func (s *Supervisor) apiErrorRateLocked() float64 {
	if s.callCount == 0 {
		return 0
	}
	return float64(s.failedWin) / float64(s.callCount) * 100
}

// UpdateEquity records an equity observation; the first observation
// becomes the drawdown baseline.
func (s *Supervisor) UpdateEquity(eq float64) {
	s.mu.Lock()
	if s.initialEquity == 0 && eq > 0 {
		s.initialEquity = eq
		logger.Infof("📊 Equity baseline captured: %.2f", eq)
	}
	s.currentEquity = eq
	s.lastCheck = time.Now()
	fired := s.evaluateLocked()
	s.mu.Unlock()
	s.notifyKill(fired)
}

func (s *Supervisor) drawdownPctLocked() float64 {
	if s.initialEquity == 0 {
		return 0
	}
	return (s.currentEquity - s.initialEquity) / s.initialEquity * 100
}

// evaluateLocked checks the kill conditions and latches on the first
// hit. Returns the reason when this call flipped the latch.
func (s *Supervisor) evaluateLocked() string {
	if s.killed {
		return ""
	}
	reason := s.pendingKillReasonLocked()
	if reason == "" {
		return ""
	}
	s.killed = true
	s.killReason = reason
	s.killedAt = time.Now()
	return reason
}

// pendingKillReasonLocked reports the condition that would (or did)
// trip the latch, without latching.
func (s *Supervisor) pendingKillReasonLocked() string {
	if dd := s.drawdownPctLocked(); dd <= -s.th.MaxDrawdownPct {
		return fmt.Sprintf("max drawdown exceeded: %.1f%%", dd)
	}
	if s.callTotal >= int64(s.th.APIWarmupCalls) {
		if rate := s.apiErrorRateLocked(); rate >= s.th.MaxAPIErrorRatePct {
			return fmt.Sprintf("API error rate too high: %.1f%%", rate)
		}
	}
	if n := s.breakersActiveLocked(); n >= s.th.BreakerKillCount {
		return fmt.Sprintf("volatility breakers triggered: %d", n)
	}
	return ""
}

func (s *Supervisor) notifyKill(reason string) {
	if reason == "" {
		return
	}
	logger.Errorf("🛑 KILL SWITCH TRIGGERED: %s", reason)
	s.mu.Lock()
	fn := s.onKill
	s.mu.Unlock()
	if fn != nil {
		fn(reason)
	}
}

// Kill latches the switch manually (operator or controller escalation)
func (s *Supervisor) Kill(reason string) {
	s.mu.Lock()
	if s.killed {
		s.mu.Unlock()
		return
	}
	s.killed = true
	s.killReason = reason
	s.killedAt = time.Now()
	s.mu.Unlock()
	s.notifyKill(reason)
}

// KillSwitch returns the latch state and reason
func (s *Supervisor) KillSwitch() (bool, string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.killed, s.killReason
}

// ResetKill clears the latch; refused while any kill condition holds
func (s *Supervisor) ResetKill() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.killed {
		return nil
	}
	if reason := s.pendingKillReasonLocked(); reason != "" {
		return fmt.Errorf("kill condition still holds: %s", reason)
	}
	s.killed = false
	s.killReason = ""
	logger.Info("Kill switch reset")
	return nil
}

// AllowStart is the pre-trade gate for transitioning a worker into
// RUNNING.
func (s *Supervisor) AllowStart(symbol string) Gate {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.killed {
		return Gate{Reason: "kill switch active: " + s.killReason}
	}

	info := s.symbols[symbol]
	price := s.lastPrice[symbol]

	if info.stopLoss > 0 && price > 0 && price <= info.stopLoss {
		return Gate{Reason: fmt.Sprintf("Stop-loss tripped for %s", symbol)}
	}
	if info.btcFilter {
		if w, ok := s.windows[BTCSymbol]; ok && w.volatilityPct() > s.th.VolThresholdPct {
			return Gate{Reason: "BTC volatility breaker active"}
		}
	}
	if s.currentEquity > 0 && info.investment > 0 {
		if info.investment > s.currentEquity*s.th.MaxPositionPct/100 {
			return Gate{Reason: fmt.Sprintf("exposure %.0f exceeds %.0f%% of equity", info.investment, s.th.MaxPositionPct)}
		}
	}
	return Gate{OK: true}
}

// Run polls equity and re-evaluates kill conditions until ctx ends
func (s *Supervisor) Run(ctx context.Context, src EquitySource) {
	if eq, err := src.WalletEquity(ctx); err == nil {
		s.UpdateEquity(eq)
	}

	equityTicker := time.NewTicker(equityPollInterval)
	checkTicker := time.NewTicker(checkInterval)
	defer equityTicker.Stop()
	defer checkTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-equityTicker.C:
			eq, err := src.WalletEquity(ctx)
			if err != nil {
				logger.Warnf("Equity poll failed: %v", err)
				continue
			}
			s.UpdateEquity(eq)
		case <-checkTicker.C:
			s.mu.Lock()
			s.lastCheck = time.Now()
			fired := s.evaluateLocked()
			s.mu.Unlock()
			s.notifyKill(fired)
		}
	}
}

// Snapshot is the read-only risk view served over the API
type Snapshot struct {
	TotalEquity         float64 `json:"total_equity"`
	InitialEquity       float64 `json:"initial_equity"`
	DrawdownPercent     float64 `json:"drawdown_percent"`
	APIErrorRate        float64 `json:"api_error_rate"`
	VolatilityBreakers  int     `json:"volatility_breakers"`
	KillSwitchTriggered bool    `json:"kill_switch_triggered"`
	KillSwitchReason    string  `json:"kill_switch_reason,omitempty"`
	PotentialKillReason string  `json:"potential_kill_reason,omitempty"`
	LastCheck           string  `json:"last_check"`
}

// Snapshot returns the current risk view
func (s *Supervisor) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	potential := s.killReason
	if !s.killed {
		potential = s.pendingKillReasonLocked()
	}

	return Snapshot{
		TotalEquity:         s.currentEquity,
		InitialEquity:       s.initialEquity,
		DrawdownPercent:     s.drawdownPctLocked(),
		APIErrorRate:        s.apiErrorRateLocked(),
		VolatilityBreakers:  s.breakersActiveLocked(),
		KillSwitchTriggered: s.killed,
		KillSwitchReason:    s.killReason,
		PotentialKillReason: potential,
		LastCheck:           s.lastCheck.UTC().Format(time.RFC3339),
	}
}

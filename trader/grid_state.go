package trader

import (
	"fmt"
	"math"
	"time"

	"gridflow/exchange"
)

// GridParams is the immutable per-deployment configuration
type GridParams struct {
	Symbol           string  `json:"symbol"`
	LowerPrice       float64 `json:"lower_price"`
	UpperPrice       float64 `json:"upper_price"`
	GridCount        int     `json:"grid_count"`
	TotalInvestment  float64 `json:"total_investment"`
	StopLoss         float64 `json:"stop_loss,omitempty"`
	TakeProfit       float64 `json:"take_profit,omitempty"`
	FeeBps           float64 `json:"fee_bps,omitempty"`
	BTCFilterEnabled bool    `json:"btc_filter_enabled"`
}

// Validate checks the parameter constraints
func (p GridParams) Validate() error {
	if p.Symbol == "" {
		return fmt.Errorf("symbol is required")
	}
	if p.LowerPrice <= 0 || p.UpperPrice <= p.LowerPrice {
		return fmt.Errorf("price range requires upper > lower > 0")
	}
	if p.GridCount < 2 {
		return fmt.Errorf("grid_count must be at least 2")
	}
	if p.TotalInvestment <= 0 {
		return fmt.Errorf("total_investment must be positive")
	}
	if p.StopLoss != 0 && p.StopLoss >= p.LowerPrice {
		return fmt.Errorf("stop_loss must be below lower_price")
	}
	if p.TakeProfit != 0 && p.TakeProfit <= p.UpperPrice {
		return fmt.Errorf("take_profit must be above upper_price")
	}
	return nil
}

// Spacing is the price distance between adjacent levels
func (p GridParams) Spacing() float64 {
	return (p.UpperPrice - p.LowerPrice) / float64(p.GridCount)
}

// InvestPerLevel is the quote-currency budget per level
func (p GridParams) InvestPerLevel() float64 {
	return p.TotalInvestment / float64(p.GridCount)
}

// LevelPrice is the center-aligned price of level i
func (p GridParams) LevelPrice(i int) float64 {
	return p.LowerPrice + (float64(i)+0.5)*p.Spacing()
}

// SellPrice is the replacement sell price for level i: one spacing
// above the level, clamped to the upper bound.
func (p GridParams) SellPrice(i int) float64 {
	return math.Min(p.LevelPrice(i)+p.Spacing(), p.UpperPrice)
}

// Level is one grid rung. At most one of BuyOrderID / SellOrderID is
// ever populated; Holding marks a filled buy awaiting its sell.
type Level struct {
	Index          int       `json:"index"`
	Price          float64   `json:"price"`
	Quantity       float64   `json:"quantity"`
	BuyOrderID     string    `json:"buy_order_id,omitempty"`
	SellOrderID    string    `json:"sell_order_id,omitempty"`
	Holding        bool      `json:"holding"`
	FilledQty      float64   `json:"filled_qty,omitempty"`
	Faulted        bool      `json:"faulted,omitempty"`
	LastTransition time.Time `json:"last_transition"`
}

// Status is the worker lifecycle state
type Status string

const (
	StatusStopped Status = "STOPPED"
	StatusRunning Status = "RUNNING"
	StatusPaused  Status = "PAUSED"
	StatusKilled  Status = "KILLED"
)

// GridState is the full mutable state of one symbol's grid. It is
// owned by a single worker goroutine and never shared; observers get
// deep-copied snapshots.
type GridState struct {
	Params       GridParams
	Levels       []Level
	CurrentPrice float64
	Status       Status
	TotalBuys    int
	TotalSells   int
	RealizedPnL  float64
	LastTickTs   time.Time
	// Epoch increments on every stop/rebalance/kill; venue responses
	// issued under an older epoch are discarded without state change.
	Epoch           uint64
	StopLossTripped bool
}

// NewGridState creates a STOPPED state without levels
func NewGridState(params GridParams) *GridState {
	return &GridState{Params: params, Status: StatusStopped}
}

// BuildLevels regenerates the level array from the parameters,
// rounding quantities to the venue lot step.
func (gs *GridState) BuildLevels(filters exchange.Filters) {
	levels := make([]Level, gs.Params.GridCount)
	for i := range levels {
		price := gs.Params.LevelPrice(i)
		qty := exchange.RoundToLot(gs.Params.InvestPerLevel()/price, filters.LotStep)
		levels[i] = Level{Index: i, Price: price, Quantity: qty}
	}
	gs.Levels = levels
}

// LevelIndexAt returns the level index bracketing price p, clamped to
// the grid bounds.
func (gs *GridState) LevelIndexAt(p float64) int {
	k := int(math.Floor((p - gs.Params.LowerPrice) / gs.Params.Spacing()))
	if k < 0 {
		k = 0
	}
	if k > gs.Params.GridCount-1 {
		k = gs.Params.GridCount - 1
	}
	return k
}

// Snapshot is the read-only view served over the API
type Snapshot struct {
	Symbol          string  `json:"symbol"`
	Status          Status  `json:"status"`
	CurrentPrice    float64 `json:"current_price"`
	LowerPrice      float64 `json:"lower_price"`
	UpperPrice      float64 `json:"upper_price"`
	GridCount       int     `json:"grid_count"`
	FilledLevels    int     `json:"filled_levels"`
	PendingBuys     int     `json:"pending_buys"`
	PendingSells    int     `json:"pending_sells"`
	TotalBuys       int     `json:"total_buys"`
	TotalSells      int     `json:"total_sells"`
	RealizedPnL     float64 `json:"realized_pnl"`
	LastUpdate      string  `json:"last_update"`
	StopLossTripped bool    `json:"stop_loss_tripped,omitempty"`
	Levels          []Level `json:"levels,omitempty"`
}

// snapshot deep-copies the state into the API view
func (gs *GridState) snapshot(withLevels bool) Snapshot {
	snap := Snapshot{
		Symbol:          gs.Params.Symbol,
		Status:          gs.Status,
		CurrentPrice:    gs.CurrentPrice,
		LowerPrice:      gs.Params.LowerPrice,
		UpperPrice:      gs.Params.UpperPrice,
		GridCount:       gs.Params.GridCount,
		TotalBuys:       gs.TotalBuys,
		TotalSells:      gs.TotalSells,
		RealizedPnL:     gs.RealizedPnL,
		LastUpdate:      gs.LastTickTs.UTC().Format(time.RFC3339),
		StopLossTripped: gs.StopLossTripped,
	}
	for _, l := range gs.Levels {
		if l.Holding {
			snap.FilledLevels++
		}
		if l.BuyOrderID != "" {
			snap.PendingBuys++
		}
		if l.SellOrderID != "" {
			snap.PendingSells++
		}
	}
	if withLevels {
		snap.Levels = append([]Level(nil), gs.Levels...)
	}
	return snap
}

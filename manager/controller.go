// Package manager owns the set of grid workers and the risk
// supervisor. It serializes control operations per worker through the
// worker mailboxes and is the only component allowed to fan out the
// kill switch.
package manager

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"gridflow/exchange"
	"gridflow/logger"
	"gridflow/market"
	"gridflow/risk"
	"gridflow/trader"
)

// ErrUnknownSymbol is returned for operations on undeployed symbols
var ErrUnknownSymbol = errors.New("unknown symbol")

// Outcome is the per-symbol result of a broadcast operation
type Outcome struct {
	Result trader.Result `json:"result"`
	Error  string        `json:"error,omitempty"`
}

// Controller multiplexes control operations over the workers
type Controller struct {
	mu      sync.RWMutex
	workers map[string]*trader.Worker

	ex     exchange.Exchange
	risk   *risk.Supervisor
	feed   *market.Feed
	sink   trader.TradeSink
	notify trader.Notifier

	killSink func(reason string)
}

// Config wires the controller's collaborators
type Config struct {
	Exchange exchange.Exchange
	Risk     *risk.Supervisor
	Feed     *market.Feed
	Sink     trader.TradeSink // optional
	Notify   trader.Notifier  // optional
	KillSink func(reason string)
}

// NewController creates the controller and registers the risk kill
// callback so an automatic kill fans out to every worker.
func NewController(cfg Config) *Controller {
	c := &Controller{
		workers:  make(map[string]*trader.Worker),
		ex:       cfg.Exchange,
		risk:     cfg.Risk,
		feed:     cfg.Feed,
		sink:     cfg.Sink,
		notify:   cfg.Notify,
		killSink: cfg.KillSink,
	}
	c.risk.OnKill(func(reason string) {
		if c.killSink != nil {
			c.killSink(reason)
		}
		if c.notify != nil {
			c.notify.Eventf("🛑 KILL SWITCH: %s", reason)
		}
		go c.killWorkers()
	})
	return c
}

// Deploy installs (or replaces) a grid configuration and spawns its
// worker. A replaced worker is stopped first.
func (c *Controller) Deploy(params trader.GridParams) error {
	if err := params.Validate(); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if old, ok := c.workers[params.Symbol]; ok {
		old.Stop()
		old.Close()
	}

	w := trader.NewWorker(trader.WorkerConfig{
		Params:   params,
		Exchange: c.ex,
		Risk:     c.risk,
		Sink:     c.sink,
		Notify:   c.notify,
		OnEscalate: func(symbol string, err error) {
			logger.Errorf("[%s] Escalation: %v", symbol, err)
			if exchange.KindOf(err) == exchange.KindAuth {
				c.risk.Kill("exchange auth failure on " + symbol)
			}
		},
	})
	c.risk.RegisterSymbol(params.Symbol, params.StopLoss, params.BTCFilterEnabled, params.TotalInvestment)
	go w.Run()
	c.workers[params.Symbol] = w

	logger.Infof("✅ Deployed grid for %s: %.8g - %.8g, %d levels, %.2f invested",
		params.Symbol, params.LowerPrice, params.UpperPrice, params.GridCount, params.TotalInvestment)
	return nil
}

// Undeploy stops and removes a symbol's worker
func (c *Controller) Undeploy(symbol string) error {
	c.mu.Lock()
	w, ok := c.workers[symbol]
	if ok {
		delete(c.workers, symbol)
	}
	c.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownSymbol, symbol)
	}
	w.Stop()
	w.Close()
	c.risk.UnregisterSymbol(symbol)
	return nil
}

func (c *Controller) worker(symbol string) (*trader.Worker, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	w, ok := c.workers[symbol]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownSymbol, symbol)
	}
	return w, nil
}

// Symbols lists deployed symbols
func (c *Controller) Symbols() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	syms := make([]string, 0, len(c.workers))
	for sym := range c.workers {
		syms = append(syms, sym)
	}
	return syms
}

// Start starts one symbol's grid
func (c *Controller) Start(symbol string) (trader.Result, error) {
	w, err := c.worker(symbol)
	if err != nil {
		return trader.Result{}, err
	}
	return w.Start()
}

// Pause pauses one symbol's grid
func (c *Controller) Pause(symbol string) (trader.Result, error) {
	w, err := c.worker(symbol)
	if err != nil {
		return trader.Result{}, err
	}
	return w.Pause()
}

// Resume resumes one symbol's grid from PAUSED
func (c *Controller) Resume(symbol string) (trader.Result, error) {
	w, err := c.worker(symbol)
	if err != nil {
		return trader.Result{}, err
	}
	return w.Resume()
}

// Stop stops one symbol's grid
func (c *Controller) Stop(symbol string) (trader.Result, error) {
	w, err := c.worker(symbol)
	if err != nil {
		return trader.Result{}, err
	}
	return w.Stop()
}

// Rebalance stops and restarts one symbol's grid atomically
func (c *Controller) Rebalance(symbol string) (trader.Result, error) {
	w, err := c.worker(symbol)
	if err != nil {
		return trader.Result{}, err
	}
	return w.Rebalance()
}

// AckStopLoss acknowledges a tripped stop-loss so start can succeed
func (c *Controller) AckStopLoss(symbol string) error {
	w, err := c.worker(symbol)
	if err != nil {
		return err
	}
	return w.AckStopLoss()
}

// broadcast runs op against every worker concurrently and aggregates
func (c *Controller) broadcast(op func(*trader.Worker) (trader.Result, error)) map[string]Outcome {
	c.mu.RLock()
	workers := make(map[string]*trader.Worker, len(c.workers))
	for sym, w := range c.workers {
		workers[sym] = w
	}
	c.mu.RUnlock()

	results := make(map[string]Outcome, len(workers))
	var wg sync.WaitGroup
	var rmu sync.Mutex
	for sym, w := range workers {
		wg.Add(1)
		go func(sym string, w *trader.Worker) {
			defer wg.Done()
			res, err := op(w)
			out := Outcome{Result: res}
			if err != nil {
				out.Error = err.Error()
			}
			rmu.Lock()
			results[sym] = out
			rmu.Unlock()
		}(sym, w)
	}
	wg.Wait()
	return results
}

// StartAll starts every deployed grid
func (c *Controller) StartAll() map[string]Outcome {
	return c.broadcast(func(w *trader.Worker) (trader.Result, error) { return w.Start() })
}

// PauseAll pauses every deployed grid
func (c *Controller) PauseAll() map[string]Outcome {
	return c.broadcast(func(w *trader.Worker) (trader.Result, error) { return w.Pause() })
}

// ResumeAll resumes every deployed grid
func (c *Controller) ResumeAll() map[string]Outcome {
	return c.broadcast(func(w *trader.Worker) (trader.Result, error) { return w.Resume() })
}

// RebalanceAll rebalances every deployed grid
func (c *Controller) RebalanceAll() map[string]Outcome {
	return c.broadcast(func(w *trader.Worker) (trader.Result, error) { return w.Rebalance() })
}

// Kill latches the kill switch and force-stops every worker,
// aggregating per-symbol cancellation results. Safe to call while an
// automatic kill is already fanning out; worker kills are idempotent.
func (c *Controller) Kill(reason string) map[string]Outcome {
	c.risk.Kill(reason)
	return c.killWorkers()
}

func (c *Controller) killWorkers() map[string]Outcome {
	return c.broadcast(func(w *trader.Worker) (trader.Result, error) { return w.Kill(), nil })
}

// ResetKill clears the latch (refused while a kill condition holds)
// and returns KILLED workers to STOPPED.
func (c *Controller) ResetKill() error {
	if err := c.risk.ResetKill(); err != nil {
		return err
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, w := range c.workers {
		if err := w.ResetKilled(); err != nil {
			logger.Warnf("Reset of %s failed: %v", w.Symbol(), err)
		}
	}
	return nil
}

// Killed reports the kill latch state
func (c *Controller) Killed() (bool, string) {
	return c.risk.KillSwitch()
}

// Snapshot returns every grid's view keyed by symbol
func (c *Controller) Snapshot() map[string]trader.Snapshot {
	c.mu.RLock()
	workers := make([]*trader.Worker, 0, len(c.workers))
	for _, w := range c.workers {
		workers = append(workers, w)
	}
	c.mu.RUnlock()

	snaps := make(map[string]trader.Snapshot, len(workers))
	for _, w := range workers {
		s := w.Snapshot()
		snaps[s.Symbol] = s
	}
	return snaps
}

// GridSnapshot returns one grid's view with level detail
func (c *Controller) GridSnapshot(symbol string) (trader.Snapshot, error) {
	w, err := c.worker(symbol)
	if err != nil {
		return trader.Snapshot{}, err
	}
	return w.SnapshotLevels(), nil
}

// RiskSnapshot returns the risk supervisor view
func (c *Controller) RiskSnapshot() risk.Snapshot {
	return c.risk.Snapshot()
}

// Run dispatches feed ticks to workers and the risk supervisor until
// ctx is cancelled.
func (c *Controller) Run(ctx context.Context) {
	ticks := c.feed.Subscribe(256)
	for {
		select {
		case <-ctx.Done():
			return
		case t := <-ticks:
			c.risk.RecordPrice(t.Symbol, t.Price, t.Ts)
			c.mu.RLock()
			w := c.workers[t.Symbol]
			c.mu.RUnlock()
			if w != nil {
				w.Tick(t)
			}
		}
	}
}

// Shutdown stops every worker (full cancellation) and closes them
func (c *Controller) Shutdown() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for sym, w := range c.workers {
		if _, err := w.Stop(); err != nil {
			logger.Warnf("Stop of %s during shutdown: %v", sym, err)
		}
		w.Close()
		delete(c.workers, sym)
	}
}

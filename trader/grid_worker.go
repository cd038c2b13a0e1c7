// Package trader implements the per-symbol grid worker: a single
// goroutine owning a GridState, fed by a command mailbox and a tick
// channel, placing and replacing limit orders against the exchange.
package trader

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"gridflow/exchange"
	"gridflow/logger"
	"gridflow/risk"
)

// Sentinel errors surfaced to the controller / API layer
var (
	ErrStopLossTripped     = errors.New("stop-loss tripped")
	ErrKilledByRisk        = errors.New("killed by risk")
	ErrBlocked             = errors.New("blocked by pre-trade gate")
	ErrInvalidTransition   = errors.New("invalid status transition")
	ErrWorkerClosed        = errors.New("worker closed")
	ErrCancelIncomplete    = errors.New("cancellation incomplete")
	ErrExchangeUnavailable = errors.New("exchange unavailable")
)

const (
	placeRetries  = 3
	cancelRetries = 3
	retryBackoff  = 100 * time.Millisecond
	mailboxSize   = 16
	tickBuffer    = 64
)

// TradeSink receives completed trade and order lifecycle events.
// Implementations must never block; the store queues asynchronously.
type TradeSink interface {
	Trade(symbol, side string, price, qty, pnl float64, ts time.Time)
	OrderEvent(symbol, orderID, event string, price, qty float64, ts time.Time)
}

// Notifier pushes operator-facing event messages
type Notifier interface {
	Eventf(format string, args ...interface{})
}

// Result reports the outcome of a worker command
type Result struct {
	OrdersPlaced int      `json:"orders_placed,omitempty"`
	Cancelled    int      `json:"cancelled,omitempty"`
	Adopted      int      `json:"adopted,omitempty"`
	Remaining    []string `json:"remaining_order_ids,omitempty"`
}

type cmdKind int

const (
	cmdStart cmdKind = iota
	cmdPause
	cmdResume
	cmdStop
	cmdRebalance
	cmdAckStopLoss
	cmdResetKilled
	cmdSnapshot
	cmdSnapshotLevels
)

type reply struct {
	res  Result
	snap Snapshot
	err  error
}

type request struct {
	kind  cmdKind
	reply chan reply
}

// WorkerConfig wires a worker's collaborators
type WorkerConfig struct {
	Params     GridParams
	Exchange   exchange.Exchange
	Risk       *risk.Supervisor
	Sink       TradeSink                      // optional
	Notify     Notifier                       // optional
	OnEscalate func(symbol string, err error) // auth/terminal escalation, optional
}

// Worker runs one symbol's grid. All state mutation happens on the
// Run goroutine; public methods communicate over the mailbox, so no
// lock guards GridState.
type Worker struct {
	ex     exchange.Exchange
	risk   *risk.Supervisor
	sink   TradeSink
	notify Notifier
	onEsc  func(string, error)
	log    *logrus.Entry

	st *GridState

	cmds  chan request
	killc chan chan reply
	ticks chan exchange.Tick
	quit  chan struct{}
	done  chan struct{}
}

// NewWorker creates a worker in STOPPED state; call Run to start the
// mailbox loop.
func NewWorker(cfg WorkerConfig) *Worker {
	return &Worker{
		ex:     cfg.Exchange,
		risk:   cfg.Risk,
		sink:   cfg.Sink,
		notify: cfg.Notify,
		onEsc:  cfg.OnEscalate,
		log:    logger.WithSymbol(cfg.Params.Symbol),
		st:     NewGridState(cfg.Params),
		cmds:   make(chan request, mailboxSize),
		killc:  make(chan chan reply, 1),
		ticks:  make(chan exchange.Tick, tickBuffer),
		quit:   make(chan struct{}),
		done:   make(chan struct{}),
	}
}

// Symbol returns the worker's symbol
func (w *Worker) Symbol() string { return w.st.Params.Symbol }

// Run is the worker body. The kill channel preempts queued commands;
// ordinary commands and ticks are processed strictly in order.
func (w *Worker) Run() {
	defer close(w.done)
	for {
		// kill jumps the queue
		select {
		case kr := <-w.killc:
			kr <- reply{res: w.forceStop(StatusKilled)}
			continue
		default:
		}

		select {
		case kr := <-w.killc:
			kr <- reply{res: w.forceStop(StatusKilled)}
		case req := <-w.cmds:
			req.reply <- w.handle(req.kind)
		case t := <-w.ticks:
			w.onTick(t)
		case <-w.quit:
			return
		}
	}
}

// Close terminates the worker loop. The grid is not stopped first;
// callers stop or kill before closing.
func (w *Worker) Close() {
	close(w.quit)
	<-w.done
}

func (w *Worker) send(kind cmdKind) (reply, error) {
	req := request{kind: kind, reply: make(chan reply, 1)}
	select {
	case w.cmds <- req:
	case <-w.done:
		return reply{}, ErrWorkerClosed
	}
	select {
	case r := <-req.reply:
		return r, nil
	case <-w.done:
		return reply{}, ErrWorkerClosed
	}
}

// Start builds levels and places the initial orders
func (w *Worker) Start() (Result, error) {
	r, err := w.send(cmdStart)
	if err != nil {
		return Result{}, err
	}
	return r.res, r.err
}

// Pause cancels all open orders and suspends placement
func (w *Worker) Pause() (Result, error) {
	r, err := w.send(cmdPause)
	if err != nil {
		return Result{}, err
	}
	return r.res, r.err
}

// Resume re-enters RUNNING from PAUSED, reconstructing orders
func (w *Worker) Resume() (Result, error) {
	r, err := w.send(cmdResume)
	if err != nil {
		return Result{}, err
	}
	return r.res, r.err
}

// Stop cancels everything and clears the grid
func (w *Worker) Stop() (Result, error) {
	r, err := w.send(cmdStop)
	if err != nil {
		return Result{}, err
	}
	return r.res, r.err
}

// Rebalance atomically stops and restarts under the same parameters
func (w *Worker) Rebalance() (Result, error) {
	r, err := w.send(cmdRebalance)
	if err != nil {
		return Result{}, err
	}
	return r.res, r.err
}

// AckStopLoss clears the sticky stop-loss flag
func (w *Worker) AckStopLoss() error {
	r, err := w.send(cmdAckStopLoss)
	if err != nil {
		return err
	}
	return r.err
}

// ResetKilled returns a KILLED worker to STOPPED. Only the controller
// calls this, after the kill latch has been cleared.
func (w *Worker) ResetKilled() error {
	r, err := w.send(cmdResetKilled)
	if err != nil {
		return err
	}
	return r.err
}

// Kill preempts the mailbox: cancels best-effort and latches KILLED
func (w *Worker) Kill() Result {
	kr := make(chan reply, 1)
	select {
	case w.killc <- kr:
	case <-w.done:
		return Result{}
	}
	select {
	case r := <-kr:
		return r.res
	case <-w.done:
		return Result{}
	}
}

// Snapshot returns a deep-copied read-only view
func (w *Worker) Snapshot() Snapshot {
	r, err := w.send(cmdSnapshot)
	if err != nil {
		return Snapshot{Symbol: w.st.Params.Symbol, Status: StatusStopped}
	}
	return r.snap
}

// SnapshotLevels returns the view including per-level detail
func (w *Worker) SnapshotLevels() Snapshot {
	r, err := w.send(cmdSnapshotLevels)
	if err != nil {
		return Snapshot{Symbol: w.st.Params.Symbol, Status: StatusStopped}
	}
	return r.snap
}

// Tick delivers a price observation; never blocks the feed
func (w *Worker) Tick(t exchange.Tick) {
	select {
	case w.ticks <- t:
	default:
	}
}

// ============================================================================
// Command handling (worker goroutine only below this point)
// ============================================================================

func (w *Worker) handle(kind cmdKind) reply {
	switch kind {
	case cmdStart:
		res, err := w.start(true)
		return reply{res: res, err: err}
	case cmdResume:
		res, err := w.start(false)
		return reply{res: res, err: err}
	case cmdPause:
		res, err := w.pause()
		return reply{res: res, err: err}
	case cmdStop:
		return reply{res: w.forceStop(StatusStopped)}
	case cmdRebalance:
		res := w.forceStop(StatusStopped)
		startRes, err := w.start(true)
		res.OrdersPlaced = startRes.OrdersPlaced
		res.Adopted = startRes.Adopted
		return reply{res: res, err: err}
	case cmdAckStopLoss:
		w.st.StopLossTripped = false
		w.log.Info("Stop-loss acknowledged")
		return reply{}
	case cmdResetKilled:
		if w.st.Status != StatusKilled {
			return reply{}
		}
		w.st.Status = StatusStopped
		return reply{}
	case cmdSnapshot:
		return reply{snap: w.st.snapshot(false)}
	case cmdSnapshotLevels:
		return reply{snap: w.st.snapshot(true)}
	default:
		return reply{err: fmt.Errorf("unknown command %d", kind)}
	}
}

// start handles both cold start (rebuild=true) and resume. On resume
// the existing levels and holdings are kept so inventory sells can be
// reconstructed; resume is only valid from PAUSED.
func (w *Worker) start(rebuild bool) (Result, error) {
	if !rebuild && w.st.Status == StatusStopped {
		return Result{}, fmt.Errorf("%w: cannot resume from %s", ErrInvalidTransition, w.st.Status)
	}
	switch w.st.Status {
	case StatusStopped, StatusPaused:
	case StatusRunning:
		return Result{}, nil // idempotent
	default: // KILLED
		if killed, reason := w.risk.KillSwitch(); killed {
			return Result{}, fmt.Errorf("%w: %s", ErrKilledByRisk, reason)
		}
		return Result{}, fmt.Errorf("%w: cannot start from %s", ErrInvalidTransition, w.st.Status)
	}

	if w.st.StopLossTripped {
		return Result{}, fmt.Errorf("%w: Stop-loss tripped for %s", ErrStopLossTripped, w.Symbol())
	}
	if gate := w.risk.AllowStart(w.Symbol()); !gate.OK {
		if killed, _ := w.risk.KillSwitch(); killed {
			return Result{}, fmt.Errorf("%w: %s", ErrKilledByRisk, gate.Reason)
		}
		return Result{}, fmt.Errorf("%w: %s", ErrBlocked, gate.Reason)
	}

	if w.st.CurrentPrice == 0 {
		price, err := w.ex.LastPrice(context.Background(), w.Symbol())
		if err != nil {
			return Result{}, fmt.Errorf("%w: %v", ErrExchangeUnavailable, err)
		}
		w.st.CurrentPrice = price
	}

	if rebuild || len(w.st.Levels) == 0 {
		w.st.BuildLevels(w.ex.Filters(w.Symbol()))
	}

	res := Result{}
	adopted, cancelled := w.reconcile()
	res.Adopted = adopted
	res.Cancelled = cancelled

	placed := w.placeGridOrders()
	res.OrdersPlaced = placed

	w.st.Status = StatusRunning
	w.log.Infof("📊 Grid running: %d levels, %d orders placed, %d adopted",
		len(w.st.Levels), placed, adopted)
	return res, nil
}

// pause cancels every open order with bounded retries. If any cancel
// keeps failing the worker stays in its current status and the caller
// escalates; it never half-transitions.
func (w *Worker) pause() (Result, error) {
	if w.st.Status == StatusPaused {
		return Result{}, nil
	}
	if w.st.Status != StatusRunning {
		return Result{}, fmt.Errorf("%w: cannot pause from %s", ErrInvalidTransition, w.st.Status)
	}

	res := w.cancelAll(cancelRetries)
	if len(res.Remaining) > 0 {
		err := fmt.Errorf("%w: %d orders still open", ErrCancelIncomplete, len(res.Remaining))
		w.escalate(err)
		return res, err
	}
	w.st.Status = StatusPaused
	w.log.Infof("Grid paused, %d orders cancelled", res.Cancelled)
	return res, nil
}

// forceStop is shared by stop and kill: bump the epoch so in-flight
// responses become stale, cancel best-effort, clear order slots.
func (w *Worker) forceStop(final Status) Result {
	// a KILLED worker only leaves KILLED via ResetKilled
	if w.st.Status == StatusKilled {
		final = StatusKilled
	}
	w.st.Epoch++
	res := w.cancelAll(1)

	for i := range w.st.Levels {
		w.st.Levels[i].BuyOrderID = ""
		w.st.Levels[i].SellOrderID = ""
	}
	if final == StatusStopped {
		w.st.Levels = nil
	}
	w.st.Status = final

	if len(res.Remaining) > 0 {
		w.log.Warnf("%d orders could not be confirmed cancelled", len(res.Remaining))
	}
	w.log.Infof("Grid %s, %d orders cancelled", final, res.Cancelled)
	return res
}

// cancelAll cancels every recorded order id, retrying each up to
// attempts times. Remaining collects ids that could not be cancelled.
func (w *Worker) cancelAll(attempts int) Result {
	res := Result{}
	for i := range w.st.Levels {
		lvl := &w.st.Levels[i]
		for _, id := range []string{lvl.BuyOrderID, lvl.SellOrderID} {
			if id == "" {
				continue
			}
			if w.cancelOrder(id, attempts) {
				res.Cancelled++
			} else {
				res.Remaining = append(res.Remaining, id)
			}
		}
		lvl.BuyOrderID = ""
		lvl.SellOrderID = ""
	}
	return res
}

func (w *Worker) cancelOrder(id string, attempts int) bool {
	for n := 0; n < attempts; n++ {
		err := w.ex.Cancel(context.Background(), w.Symbol(), id)
		if err == nil {
			w.record("cancel", id, 0, 0)
			return true
		}
		if !exchange.Retryable(err) {
			w.escalate(err)
			return false
		}
		time.Sleep(retryBackoff << n)
	}
	return false
}

// placeGridOrders walks the level array and places whatever the
// current price demands: buys below, inventory sells for holding
// levels. Re-running it is the retry path for failed placements.
func (w *Worker) placeGridOrders() int {
	if w.btcFilterBlocked() {
		w.log.Info("BTC filter active, placements suspended")
		return 0
	}

	k := w.st.LevelIndexAt(w.st.CurrentPrice)
	placed := 0
	for i := range w.st.Levels {
		lvl := &w.st.Levels[i]
		if lvl.Faulted || lvl.Quantity <= 0 {
			continue
		}
		switch {
		case lvl.Holding && lvl.SellOrderID == "":
			if w.placeOrder(lvl, exchange.SideSell) {
				placed++
			}
		case i < k && !lvl.Holding && lvl.BuyOrderID == "":
			if w.placeOrder(lvl, exchange.SideBuy) {
				placed++
			}
		}
	}
	return placed
}

// placeOrder places one side for a level with bounded retries. The
// client tag is fixed across retries so a duplicate send after a
// timeout dedupes at the venue.
func (w *Worker) placeOrder(lvl *Level, side exchange.Side) bool {
	price := lvl.Price
	if side == exchange.SideSell {
		price = w.st.Params.SellPrice(lvl.Index)
	}
	tag := fmt.Sprintf("g%s-%d-%d-%s", uuid.New().String()[:8], w.st.Epoch, lvl.Index, side)
	epoch := w.st.Epoch

	var id string
	var err error
	for n := 0; n < placeRetries; n++ {
		id, err = w.ex.PlaceLimit(context.Background(), w.Symbol(), side, price, lvl.Quantity, tag)
		if err == nil {
			break
		}
		if !exchange.Retryable(err) {
			break
		}
		time.Sleep(retryBackoff << n)
	}
	if err != nil {
		switch exchange.KindOf(err) {
		case exchange.KindAuth:
			w.escalate(err)
		case exchange.KindInvalid, exchange.KindTerminal:
			lvl.Faulted = true
			lvl.LastTransition = time.Now()
			w.log.Errorf("Level %d faulted: %v", lvl.Index, err)
			w.escalate(err)
		default:
			// transient budget exhausted; next tick retries
			w.log.Warnf("Placement failed at level %d, will retry: %v", lvl.Index, err)
		}
		return false
	}

	if epoch != w.st.Epoch {
		// stop/rebalance happened while the call was in flight:
		// discard the id and fire a best-effort cancel
		go w.ex.Cancel(context.Background(), w.Symbol(), id)
		return false
	}

	if side == exchange.SideBuy {
		lvl.BuyOrderID = id
	} else {
		lvl.SellOrderID = id
	}
	lvl.FilledQty = 0
	lvl.LastTransition = time.Now()
	w.record("place_"+string(side), id, price, lvl.Quantity)
	logger.WithOrder(w.Symbol(), id).Debugf("Placed %s at %.8g qty %.8g (level %d)", side, price, lvl.Quantity, lvl.Index)
	return true
}

// ============================================================================
// Tick path
// ============================================================================

func (w *Worker) onTick(t exchange.Tick) {
	// ticks must be monotonic per symbol
	if !w.st.LastTickTs.IsZero() && !t.Ts.After(w.st.LastTickTs) {
		return
	}
	w.st.LastTickTs = t.Ts
	w.st.CurrentPrice = t.Price

	if w.checkStops(t.Price) {
		return
	}
	if w.st.Status != StatusRunning {
		return
	}

	w.checkFills()
	w.placeGridOrders()
}

// checkStops handles stop-loss and take-profit. Stop-loss is sticky:
// the worker pauses itself and refuses to start until acknowledged.
func (w *Worker) checkStops(price float64) bool {
	p := w.st.Params
	if p.StopLoss > 0 && price <= p.StopLoss && w.st.Status == StatusRunning {
		w.log.Warnf("⚠️ Stop-loss hit: %.8g <= %.8g", price, p.StopLoss)
		w.st.StopLossTripped = true
		res := w.cancelAll(cancelRetries)
		if len(res.Remaining) > 0 {
			w.escalate(fmt.Errorf("%w after stop-loss: %d orders open", ErrCancelIncomplete, len(res.Remaining)))
		}
		w.st.Status = StatusPaused
		w.eventf("🛑 %s stop-loss tripped at %.8g", w.Symbol(), price)
		return true
	}
	if p.TakeProfit > 0 && price >= p.TakeProfit && w.st.Status == StatusRunning {
		w.log.Infof("Take-profit reached: %.8g >= %.8g", price, p.TakeProfit)
		w.cancelAll(cancelRetries)
		w.st.Status = StatusPaused
		w.eventf("💰 %s take-profit reached at %.8g", w.Symbol(), price)
		return true
	}
	return false
}

// checkFills polls status for every resting order and applies
// terminal transitions. Responses are applied under the epoch they
// were issued in; a stale response is discarded.
func (w *Worker) checkFills() {
	for i := range w.st.Levels {
		lvl := &w.st.Levels[i]
		if id := lvl.BuyOrderID; id != "" {
			epoch := w.st.Epoch
			o, err := w.ex.OrderStatus(context.Background(), w.Symbol(), id)
			if err != nil {
				w.log.Debugf("Status check failed for %s: %v", id, err)
				continue
			}
			w.applyOrderUpdate(epoch, i, exchange.SideBuy, o)
		}
		if id := lvl.SellOrderID; id != "" {
			epoch := w.st.Epoch
			o, err := w.ex.OrderStatus(context.Background(), w.Symbol(), id)
			if err != nil {
				continue
			}
			w.applyOrderUpdate(epoch, i, exchange.SideSell, o)
		}
	}
}

// applyOrderUpdate applies one status response. The epoch argument is
// the epoch under which the request was issued; mismatch means the
// grid was reset while the call was in flight and the response must
// not mutate state.
func (w *Worker) applyOrderUpdate(epoch uint64, idx int, side exchange.Side, o exchange.Order) {
	if epoch != w.st.Epoch {
		return
	}
	if idx < 0 || idx >= len(w.st.Levels) {
		return
	}
	lvl := &w.st.Levels[idx]

	// partial fills consolidate on the level until the remainder is
	// below one lot step
	lot := w.ex.Filters(w.Symbol()).LotStep
	filled := o.State == exchange.OrderStateFilled ||
		(o.State == exchange.OrderStatePartial && o.Quantity-o.FilledQty <= lot)

	switch {
	case filled:
		if side == exchange.SideBuy {
			w.onBuyFilled(lvl, o)
		} else {
			w.onSellFilled(lvl, o)
		}
	case o.State == exchange.OrderStatePartial:
		lvl.FilledQty = o.FilledQty
	case o.State == exchange.OrderStateCancelled:
		// externally dropped; clear the slot, next tick re-places
		if side == exchange.SideBuy {
			lvl.BuyOrderID = ""
		} else {
			lvl.SellOrderID = ""
		}
		lvl.FilledQty = 0
		w.log.Infof("Order %s cancelled externally at level %d", o.ID, idx)
	case o.State == exchange.OrderStateRejected:
		if side == exchange.SideBuy {
			lvl.BuyOrderID = ""
		} else {
			lvl.SellOrderID = ""
		}
		lvl.Faulted = true
		w.escalate(fmt.Errorf("order %s rejected at level %d", o.ID, idx))
	}
}

func (w *Worker) onBuyFilled(lvl *Level, o exchange.Order) {
	lvl.BuyOrderID = ""
	lvl.FilledQty = 0
	lvl.Holding = true
	lvl.LastTransition = time.Now()
	w.st.TotalBuys++
	w.trade("BUY", lvl.Price, lvl.Quantity, 0)
	w.log.Infof("✅ Buy filled at level %d (%.8g)", lvl.Index, lvl.Price)

	// place the matching sell one spacing up; suspended placements
	// (BTC filter) are picked up by the next tick instead
	if w.st.Status == StatusRunning && !w.btcFilterBlocked() {
		w.placeOrder(lvl, exchange.SideSell)
	}
}

func (w *Worker) onSellFilled(lvl *Level, o exchange.Order) {
	lvl.SellOrderID = ""
	lvl.FilledQty = 0
	lvl.Holding = false
	lvl.LastTransition = time.Now()
	w.st.TotalSells++

	p := w.st.Params
	sellPrice := p.SellPrice(lvl.Index)
	// realized profit is one full spacing per completed cycle, even
	// where the placed sell was clamped to the upper bound; fees
	// accrue on the actual traded notional
	profit := lvl.Quantity * p.Spacing()
	if p.FeeBps > 0 {
		profit -= lvl.Quantity * (lvl.Price + sellPrice) * p.FeeBps / 10000
	}
	w.st.RealizedPnL += profit
	w.trade("SELL", sellPrice, lvl.Quantity, profit)
	w.log.Infof("💰 Sell filled at level %d, profit %.4f (total %.4f)",
		lvl.Index, profit, w.st.RealizedPnL)

	// re-arm the buy at the original grid price
	if w.st.Status == StatusRunning && !w.btcFilterBlocked() {
		w.placeOrder(lvl, exchange.SideBuy)
	}
}

// btcFilterBlocked reports whether new placements are suspended by the
// BTC volatility breaker. Fill processing and cancellation continue.
func (w *Worker) btcFilterBlocked() bool {
	return w.st.Params.BTCFilterEnabled && w.risk.BreakerActive(risk.BTCSymbol)
}

// ============================================================================
// Reconciliation
// ============================================================================

// reconcile adopts open venue orders left by a previous process into
// matching levels and cancels the rest. A buy matches a level when it
// sits within half a spacing of the level price; a sell matches the
// level's replacement sell price and implies held inventory.
func (w *Worker) reconcile() (adopted, cancelled int) {
	open, err := w.ex.OpenOrders(context.Background(), w.Symbol())
	if err != nil {
		w.log.Warnf("Reconciliation skipped, open_orders failed: %v", err)
		return 0, 0
	}
	if len(open) == 0 {
		return 0, 0
	}

	half := w.st.Params.Spacing() / 2
	for _, o := range open {
		matched := false
		for i := range w.st.Levels {
			lvl := &w.st.Levels[i]
			if o.Side == exchange.SideBuy && !lvl.Holding && lvl.BuyOrderID == "" &&
				abs(o.Price-lvl.Price) <= half {
				lvl.BuyOrderID = o.ID
				lvl.FilledQty = o.FilledQty
				matched = true
			} else if o.Side == exchange.SideSell && lvl.SellOrderID == "" && !lvl.Holding &&
				abs(o.Price-w.st.Params.SellPrice(lvl.Index)) <= half {
				lvl.SellOrderID = o.ID
				lvl.Holding = true
				lvl.FilledQty = o.FilledQty
				matched = true
			}
			if matched {
				adopted++
				logger.WithOrder(w.Symbol(), o.ID).Infof("Adopted %s order into level %d", o.Side, i)
				break
			}
		}
		if !matched {
			if w.cancelOrder(o.ID, cancelRetries) {
				cancelled++
				w.log.Infof("Cancelled stray order %s at %.8g", o.ID, o.Price)
			}
		}
	}
	return adopted, cancelled
}

// ============================================================================
// Helpers
// ============================================================================

func (w *Worker) escalate(err error) {
	if w.onEsc != nil {
		w.onEsc(w.Symbol(), err)
	}
}

func (w *Worker) eventf(format string, args ...interface{}) {
	if w.notify != nil {
		w.notify.Eventf(format, args...)
	}
}

func (w *Worker) trade(side string, price, qty, pnl float64) {
	if w.sink != nil {
		w.sink.Trade(w.Symbol(), side, price, qty, pnl, time.Now())
	}
}

func (w *Worker) record(event, orderID string, price, qty float64) {
	if w.sink != nil {
		w.sink.OrderEvent(w.Symbol(), orderID, event, price, qty, time.Now())
	}
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}

package exchange

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"
)

// Default simulated prices, one per supported pair. Used when a Mock
// is created without explicit seeds.
var defaultMockPrices = map[string]float64{
	"BTCUSDT":  97250.0,
	"MNTUSDT":  1.08,
	"DOGEUSDT": 0.137,
	"PEPEUSDT": 0.00000445,
}

// Mock is an in-memory Exchange used when no API keys are configured
// and throughout the test suite. Price movement is a deterministic
// seeded walk; resting limit orders fill when the price crosses them.
type Mock struct {
	mu sync.Mutex

	prices  map[string]float64
	orders  map[string]*Order
	byTag   map[string]string // clientTag -> orderID
	equity  float64
	nextID  int
	rng     uint64
	calls   int
	failOps map[string]error // op -> injected error, consumed on use

	subs     []chan Tick
	stopWalk chan struct{}
	walkTick time.Duration
}

// NewMock creates a mock seeded with the default price set
func NewMock() *Mock {
	m := &Mock{
		prices:   make(map[string]float64),
		orders:   make(map[string]*Order),
		byTag:    make(map[string]string),
		failOps:  make(map[string]error),
		equity:   34000.0,
		rng:      0x9E3779B97F4A7C15,
		walkTick: 500 * time.Millisecond,
	}
	for sym, p := range defaultMockPrices {
		m.prices[sym] = p
	}
	return m
}

// SetPrice moves the simulated price, fills crossed orders and
// publishes a tick to subscribers. Test hook and walk step share it.
// Sends stay under the lock (non-blocking, buffered channels) so an
// unsubscribe can never close a channel mid-send.
func (m *Mock) SetPrice(symbol string, price float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.prices[symbol] = price
	m.fillCrossedLocked(symbol, price)

	t := Tick{Symbol: symbol, Price: price, Ts: time.Now()}
	for _, ch := range m.subs {
		select {
		case ch <- t:
		default:
		}
	}
}

// SetEquity overrides the reported wallet equity
func (m *Mock) SetEquity(eq float64) {
	m.mu.Lock()
	m.equity = eq
	m.mu.Unlock()
}

// FailNext injects err for the next call of op
// (place_limit, cancel, order_status, open_orders, wallet_equity, last_price)
func (m *Mock) FailNext(op string, err error) {
	m.mu.Lock()
	m.failOps[op] = err
	m.mu.Unlock()
}

// CallCount returns the number of venue calls served
func (m *Mock) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// Preload registers an already-open order, as left behind by a crashed
// process. Used by reconciliation tests.
func (m *Mock) Preload(symbol string, side Side, price, qty float64) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	id := fmt.Sprintf("mock-%d", m.nextID)
	m.orders[id] = &Order{
		ID: id, Symbol: symbol, Side: side,
		Price: price, Quantity: qty, State: OrderStateNew,
	}
	return id
}

// FillPartial marks qty of the order as executed without completing it
func (m *Mock) FillPartial(orderID string, qty float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if o, ok := m.orders[orderID]; ok && !o.State.Terminal() {
		o.FilledQty = math.Min(o.Quantity, o.FilledQty+qty)
		o.AvgPrice = o.Price
		if o.Quantity-o.FilledQty < 1e-12 {
			o.State = OrderStateFilled
		} else {
			o.State = OrderStatePartial
		}
	}
}

// CancelExternally drops an order as if the venue expired it
func (m *Mock) CancelExternally(orderID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if o, ok := m.orders[orderID]; ok && !o.State.Terminal() {
		o.State = OrderStateCancelled
	}
}

func (m *Mock) takeFailure(op string) error {
	if err, ok := m.failOps[op]; ok {
		delete(m.failOps, op)
		return err
	}
	return nil
}

func (m *Mock) fillCrossedLocked(symbol string, price float64) {
	for _, o := range m.orders {
		if o.Symbol != symbol || o.State.Terminal() {
			continue
		}
		if (o.Side == SideBuy && price <= o.Price) || (o.Side == SideSell && price >= o.Price) {
			o.FilledQty = o.Quantity
			o.AvgPrice = o.Price
			o.State = OrderStateFilled
		}
	}
}

func (m *Mock) PlaceLimit(ctx context.Context, symbol string, side Side, price, qty float64, clientTag string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if err := m.takeFailure("place_limit"); err != nil {
		return "", err
	}
	if _, ok := m.prices[symbol]; !ok {
		return "", NewError(KindInvalid, "place_limit", "unknown symbol "+symbol)
	}
	if id, ok := m.byTag[clientTag]; ok && clientTag != "" {
		return id, nil
	}
	m.nextID++
	id := fmt.Sprintf("mock-%d", m.nextID)
	m.orders[id] = &Order{
		ID: id, ClientTag: clientTag, Symbol: symbol, Side: side,
		Price: price, Quantity: qty, State: OrderStateNew,
	}
	if clientTag != "" {
		m.byTag[clientTag] = id
	}
	return id, nil
}

func (m *Mock) Cancel(ctx context.Context, symbol, orderID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if err := m.takeFailure("cancel"); err != nil {
		return err
	}
	o, ok := m.orders[orderID]
	if !ok || o.State.Terminal() {
		return nil // NotFound is success by contract
	}
	o.State = OrderStateCancelled
	return nil
}

func (m *Mock) OrderStatus(ctx context.Context, symbol, orderID string) (Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if err := m.takeFailure("order_status"); err != nil {
		return Order{}, err
	}
	o, ok := m.orders[orderID]
	if !ok {
		return Order{}, NewError(KindNotFound, "order_status", "unknown order "+orderID)
	}
	cp := *o
	return cp, nil
}

func (m *Mock) OpenOrders(ctx context.Context, symbol string) ([]Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if err := m.takeFailure("open_orders"); err != nil {
		return nil, err
	}
	var open []Order
	for _, o := range m.orders {
		if o.Symbol == symbol && !o.State.Terminal() {
			open = append(open, *o)
		}
	}
	return open, nil
}

func (m *Mock) WalletEquity(ctx context.Context) (float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if err := m.takeFailure("wallet_equity"); err != nil {
		return 0, err
	}
	return m.equity, nil
}

func (m *Mock) LastPrice(ctx context.Context, symbol string) (float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if err := m.takeFailure("last_price"); err != nil {
		return 0, err
	}
	p, ok := m.prices[symbol]
	if !ok {
		return 0, NewError(KindInvalid, "last_price", "unknown symbol "+symbol)
	}
	return p, nil
}

func (m *Mock) Filters(symbol string) Filters {
	// Mid-range defaults; fine-grained enough that lot rounding is
	// visible without dominating test arithmetic.
	return Filters{TickSize: 0, LotStep: 1e-6, MinQty: 1e-6}
}

// Subscribe returns a tick channel fed by SetPrice and, once Walk is
// started, by the deterministic price walk.
func (m *Mock) Subscribe(symbols []string) (<-chan Tick, func(), error) {
	ch := make(chan Tick, 256)
	m.mu.Lock()
	m.subs = append(m.subs, ch)
	m.mu.Unlock()

	var once sync.Once
	stop := func() {
		once.Do(func() {
			m.mu.Lock()
			for i, c := range m.subs {
				if c == ch {
					m.subs = append(m.subs[:i], m.subs[i+1:]...)
					break
				}
			}
			m.mu.Unlock()
			close(ch)
		})
	}
	return ch, stop, nil
}

// StartWalk begins advancing all prices on a fixed cadence. Each step
// is a deterministic pseudo-random move within ±0.2%.
func (m *Mock) StartWalk() {
	m.mu.Lock()
	if m.stopWalk != nil {
		m.mu.Unlock()
		return
	}
	m.stopWalk = make(chan struct{})
	stop := m.stopWalk
	interval := m.walkTick
	m.mu.Unlock()

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				m.step()
			}
		}
	}()
}

// StopWalk halts the price walk
func (m *Mock) StopWalk() {
	m.mu.Lock()
	if m.stopWalk != nil {
		close(m.stopWalk)
		m.stopWalk = nil
	}
	m.mu.Unlock()
}

func (m *Mock) step() {
	m.mu.Lock()
	syms := make([]string, 0, len(m.prices))
	for sym := range m.prices {
		syms = append(syms, sym)
	}
	sort.Strings(syms)
	moves := make(map[string]float64, len(syms))
	for _, sym := range syms {
		p := m.prices[sym]
		// xorshift64 over a fixed symbol order keeps the walk
		// reproducible across runs
		m.rng ^= m.rng << 13
		m.rng ^= m.rng >> 7
		m.rng ^= m.rng << 17
		frac := float64(m.rng%4001)/1000.0 - 2.0 // [-2.0, +2.0]
		moves[sym] = p * (1 + frac/1000.0)       // ±0.2%
	}
	m.mu.Unlock()

	for _, sym := range syms {
		m.SetPrice(sym, moves[sym])
	}
}

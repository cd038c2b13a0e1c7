package exchange

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"sync"
	"time"

	"github.com/adshao/go-binance/v2"

	"gridflow/logger"
)

// Binance is the production Exchange over the Binance spot API
type Binance struct {
	client *binance.Client

	mu      sync.RWMutex
	filters map[string]Filters
}

// NewBinance creates the spot client. Testnet routing is process-wide
// in the SDK, so it is set here once at construction.
func NewBinance(apiKey, apiSecret string, testnet bool) *Binance {
	binance.UseTestnet = testnet
	return &Binance{
		client:  binance.NewClient(apiKey, apiSecret),
		filters: make(map[string]Filters),
	}
}

// LoadFilters fetches and caches lot/tick filters for the symbols
func (b *Binance) LoadFilters(ctx context.Context, symbols []string) error {
	info, err := b.client.NewExchangeInfoService().Symbols(symbols...).Do(ctx)
	if err != nil {
		return b.wrap("exchange_info", err)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	for _, s := range info.Symbols {
		f := Filters{}
		if lot := s.LotSizeFilter(); lot != nil {
			f.LotStep, _ = strconv.ParseFloat(lot.StepSize, 64)
			f.MinQty, _ = strconv.ParseFloat(lot.MinQuantity, 64)
		}
		if pf := s.PriceFilter(); pf != nil {
			f.TickSize, _ = strconv.ParseFloat(pf.TickSize, 64)
		}
		b.filters[s.Symbol] = f
		logger.Infof("Loaded filters for %s: tick=%g lot=%g", s.Symbol, f.TickSize, f.LotStep)
	}
	return nil
}

// Filters returns cached filters; zero filters disable rounding
func (b *Binance) Filters(symbol string) Filters {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.filters[symbol]
}

func (b *Binance) PlaceLimit(ctx context.Context, symbol string, side Side, price, qty float64, clientTag string) (string, error) {
	f := b.Filters(symbol)
	res, err := b.client.NewCreateOrderService().
		Symbol(symbol).
		Side(binance.SideType(side)).
		Type(binance.OrderTypeLimit).
		TimeInForce(binance.TimeInForceTypeGTC).
		Price(formatStep(price, f.TickSize)).
		Quantity(formatStep(qty, f.LotStep)).
		NewClientOrderID(clientTag).
		Do(ctx)
	if err != nil {
		return "", b.wrap("place_limit", err)
	}
	return strconv.FormatInt(res.OrderID, 10), nil
}

func (b *Binance) Cancel(ctx context.Context, symbol, orderID string) error {
	id, err := strconv.ParseInt(orderID, 10, 64)
	if err != nil {
		return NewError(KindInvalid, "cancel", "malformed order id "+orderID)
	}
	if _, err := b.client.NewCancelOrderService().Symbol(symbol).OrderID(id).Do(ctx); err != nil {
		werr := b.wrap("cancel", err)
		if KindOf(werr) == KindNotFound {
			return nil
		}
		return werr
	}
	return nil
}

func (b *Binance) OrderStatus(ctx context.Context, symbol, orderID string) (Order, error) {
	id, err := strconv.ParseInt(orderID, 10, 64)
	if err != nil {
		return Order{}, NewError(KindInvalid, "order_status", "malformed order id "+orderID)
	}
	o, err := b.client.NewGetOrderService().Symbol(symbol).OrderID(id).Do(ctx)
	if err != nil {
		return Order{}, b.wrap("order_status", err)
	}
	return convertOrder(o), nil
}

func (b *Binance) OpenOrders(ctx context.Context, symbol string) ([]Order, error) {
	list, err := b.client.NewListOpenOrdersService().Symbol(symbol).Do(ctx)
	if err != nil {
		return nil, b.wrap("open_orders", err)
	}
	orders := make([]Order, 0, len(list))
	for _, o := range list {
		orders = append(orders, convertOrder(o))
	}
	return orders, nil
}

// WalletEquity values every non-dust balance in USDT terms
func (b *Binance) WalletEquity(ctx context.Context) (float64, error) {
	acct, err := b.client.NewGetAccountService().Do(ctx)
	if err != nil {
		return 0, b.wrap("wallet_equity", err)
	}

	equity := 0.0
	for _, bal := range acct.Balances {
		free, _ := strconv.ParseFloat(bal.Free, 64)
		locked, _ := strconv.ParseFloat(bal.Locked, 64)
		total := free + locked
		if total <= 0 {
			continue
		}
		if bal.Asset == "USDT" {
			equity += total
			continue
		}
		price, err := b.LastPrice(ctx, bal.Asset+"USDT")
		if err != nil {
			continue // unquoted dust assets don't move the needle
		}
		equity += total * price
	}
	return equity, nil
}

func (b *Binance) LastPrice(ctx context.Context, symbol string) (float64, error) {
	prices, err := b.client.NewListPricesService().Symbol(symbol).Do(ctx)
	if err != nil {
		return 0, b.wrap("last_price", err)
	}
	if len(prices) == 0 {
		return 0, NewError(KindInvalid, "last_price", "no price for "+symbol)
	}
	p, err := strconv.ParseFloat(prices[0].Price, 64)
	if err != nil {
		return 0, WrapError(KindTerminal, "last_price", err)
	}
	return p, nil
}

// Subscribe streams aggregated trades for the symbols over one
// combined websocket. The stop function closes the SDK connection and
// the returned channel.
func (b *Binance) Subscribe(symbols []string) (<-chan Tick, func(), error) {
	out := make(chan Tick, 256)

	handler := func(event *binance.WsAggTradeEvent) {
		price, err := strconv.ParseFloat(event.Price, 64)
		if err != nil {
			return
		}
		select {
		case out <- Tick{Symbol: event.Symbol, Price: price, Ts: time.UnixMilli(event.TradeTime)}:
		default: // slow consumer sheds ticks, never blocks the ws reader
		}
	}
	errHandler := func(err error) {
		logger.Warnf("Price stream error: %v", err)
	}

	doneC, stopC, err := binance.WsCombinedAggTradeServe(symbols, handler, errHandler)
	if err != nil {
		return nil, nil, b.wrap("subscribe", err)
	}

	var once sync.Once
	stop := func() {
		once.Do(func() {
			close(stopC)
			<-doneC
			close(out)
		})
	}
	return out, stop, nil
}

func (b *Binance) wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	return WrapError(classifyMessage(err.Error()), op, err)
}

func convertOrder(o *binance.Order) Order {
	price, _ := strconv.ParseFloat(o.Price, 64)
	qty, _ := strconv.ParseFloat(o.OrigQuantity, 64)
	filled, _ := strconv.ParseFloat(o.ExecutedQuantity, 64)
	quote, _ := strconv.ParseFloat(o.CummulativeQuoteQuantity, 64)

	avg := 0.0
	if filled > 0 {
		avg = quote / filled
	}

	state := OrderStateNew
	switch o.Status {
	case binance.OrderStatusTypePartiallyFilled:
		state = OrderStatePartial
	case binance.OrderStatusTypeFilled:
		state = OrderStateFilled
	case binance.OrderStatusTypeCanceled, binance.OrderStatusTypeExpired:
		state = OrderStateCancelled
	case binance.OrderStatusTypeRejected:
		state = OrderStateRejected
	}

	return Order{
		ID:        strconv.FormatInt(o.OrderID, 10),
		ClientTag: o.ClientOrderID,
		Symbol:    o.Symbol,
		Side:      Side(o.Side),
		Price:     price,
		Quantity:  qty,
		FilledQty: filled,
		AvgPrice:  avg,
		State:     state,
	}
}

// formatStep renders v with the decimal places implied by step
func formatStep(v, step float64) string {
	if step <= 0 {
		return strconv.FormatFloat(v, 'f', -1, 64)
	}
	decimals := 0
	for s := step; s < 1 && decimals < 10; s *= 10 {
		decimals++
	}
	return fmt.Sprintf("%.*f", decimals, math.Round(v/step)*step)
}

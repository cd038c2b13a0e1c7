package exchange

import (
	"context"
	"time"

	"golang.org/x/time/rate"
)

// Recorder receives the outcome of every venue call. The risk
// supervisor implements it to feed the API error-budget estimator.
type Recorder interface {
	RecordCall(success bool)
}

// nopRecorder is used when no supervisor is wired (tests, tools)
type nopRecorder struct{}

func (nopRecorder) RecordCall(bool) {}

// Limited wraps an Exchange with the global provider token bucket, a
// per-call deadline, and call-outcome accounting. All workers share
// one Limited instance so the bucket bounds total request rate.
type Limited struct {
	inner   Exchange
	limiter *rate.Limiter
	rec     Recorder
	timeout time.Duration
}

// NewLimited wraps ex at ratePerSec with a per-call deadline
func NewLimited(ex Exchange, ratePerSec float64, timeout time.Duration, rec Recorder) *Limited {
	if rec == nil {
		rec = nopRecorder{}
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Limited{
		inner:   ex,
		limiter: rate.NewLimiter(rate.Limit(ratePerSec), int(ratePerSec)),
		rec:     rec,
		timeout: timeout,
	}
}

func (l *Limited) call(ctx context.Context, fn func(ctx context.Context) error) error {
	ctx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()

	if err := l.limiter.Wait(ctx); err != nil {
		l.rec.RecordCall(false)
		return WrapError(KindTransient, "rate_wait", err)
	}

	err := fn(ctx)
	// NotFound on cancel is success by contract, not an error budget hit
	l.rec.RecordCall(err == nil || KindOf(err) == KindNotFound)
	return err
}

func (l *Limited) PlaceLimit(ctx context.Context, symbol string, side Side, price, qty float64, clientTag string) (string, error) {
	var id string
	err := l.call(ctx, func(ctx context.Context) error {
		var err error
		id, err = l.inner.PlaceLimit(ctx, symbol, side, price, qty, clientTag)
		return err
	})
	return id, err
}

func (l *Limited) Cancel(ctx context.Context, symbol, orderID string) error {
	return l.call(ctx, func(ctx context.Context) error {
		err := l.inner.Cancel(ctx, symbol, orderID)
		if KindOf(err) == KindNotFound {
			return nil
		}
		return err
	})
}

func (l *Limited) OrderStatus(ctx context.Context, symbol, orderID string) (Order, error) {
	var o Order
	err := l.call(ctx, func(ctx context.Context) error {
		var err error
		o, err = l.inner.OrderStatus(ctx, symbol, orderID)
		return err
	})
	return o, err
}

func (l *Limited) OpenOrders(ctx context.Context, symbol string) ([]Order, error) {
	var orders []Order
	err := l.call(ctx, func(ctx context.Context) error {
		var err error
		orders, err = l.inner.OpenOrders(ctx, symbol)
		return err
	})
	return orders, err
}

func (l *Limited) WalletEquity(ctx context.Context) (float64, error) {
	var eq float64
	err := l.call(ctx, func(ctx context.Context) error {
		var err error
		eq, err = l.inner.WalletEquity(ctx)
		return err
	})
	return eq, err
}

func (l *Limited) LastPrice(ctx context.Context, symbol string) (float64, error) {
	var p float64
	err := l.call(ctx, func(ctx context.Context) error {
		var err error
		p, err = l.inner.LastPrice(ctx, symbol)
		return err
	})
	return p, err
}

func (l *Limited) Filters(symbol string) Filters {
	return l.inner.Filters(symbol)
}

func (l *Limited) Subscribe(symbols []string) (<-chan Tick, func(), error) {
	return l.inner.Subscribe(symbols)
}

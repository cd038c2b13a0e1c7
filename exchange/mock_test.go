package exchange

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMockPlaceAndFillOnCross(t *testing.T) {
	m := NewMock()
	ctx := context.Background()

	id, err := m.PlaceLimit(ctx, "BTCUSDT", SideBuy, 96000, 0.1, "tag-1")
	require.NoError(t, err)

	o, err := m.OrderStatus(ctx, "BTCUSDT", id)
	require.NoError(t, err)
	assert.Equal(t, OrderStateNew, o.State)

	m.SetPrice("BTCUSDT", 96500) // above the buy, no fill
	o, _ = m.OrderStatus(ctx, "BTCUSDT", id)
	assert.Equal(t, OrderStateNew, o.State)

	m.SetPrice("BTCUSDT", 95900) // crossed
	o, _ = m.OrderStatus(ctx, "BTCUSDT", id)
	assert.Equal(t, OrderStateFilled, o.State)
	assert.Equal(t, 0.1, o.FilledQty)

	// sell side mirrors
	sid, err := m.PlaceLimit(ctx, "BTCUSDT", SideSell, 97000, 0.1, "tag-2")
	require.NoError(t, err)
	m.SetPrice("BTCUSDT", 97100)
	o, _ = m.OrderStatus(ctx, "BTCUSDT", sid)
	assert.Equal(t, OrderStateFilled, o.State)
}

func TestMockIdempotentByClientTag(t *testing.T) {
	m := NewMock()
	ctx := context.Background()

	id1, err := m.PlaceLimit(ctx, "BTCUSDT", SideBuy, 96000, 0.1, "same-tag")
	require.NoError(t, err)
	id2, err := m.PlaceLimit(ctx, "BTCUSDT", SideBuy, 96000, 0.1, "same-tag")
	require.NoError(t, err)
	assert.Equal(t, id1, id2)

	open, err := m.OpenOrders(ctx, "BTCUSDT")
	require.NoError(t, err)
	assert.Len(t, open, 1)
}

func TestMockCancelNotFoundIsSuccess(t *testing.T) {
	m := NewMock()
	assert.NoError(t, m.Cancel(context.Background(), "BTCUSDT", "no-such-order"))
}

func TestMockUnknownSymbolRejected(t *testing.T) {
	m := NewMock()
	_, err := m.PlaceLimit(context.Background(), "NOPEUSDT", SideBuy, 1, 1, "")
	require.Error(t, err)
	assert.Equal(t, KindInvalid, KindOf(err))
}

func TestMockSubscribeDeliversSetPrice(t *testing.T) {
	m := NewMock()
	ch, stop, err := m.Subscribe([]string{"BTCUSDT"})
	require.NoError(t, err)
	defer stop()

	m.SetPrice("BTCUSDT", 97000)
	select {
	case tick := <-ch:
		assert.Equal(t, "BTCUSDT", tick.Symbol)
		assert.Equal(t, 97000.0, tick.Price)
	case <-time.After(time.Second):
		t.Fatal("no tick delivered")
	}
}

func TestErrorClassification(t *testing.T) {
	tests := []struct {
		msg  string
		want Kind
	}{
		{"<APIError> code=-1003, msg=Too many requests", KindRateLimited},
		{"<APIError> code=-2014, msg=API-key format invalid", KindAuth},
		{"<APIError> code=-2013, msg=Order does not exist. Unknown order sent.", KindNotFound},
		{"<APIError> code=-1121, msg=Invalid symbol", KindInvalid},
		{"<APIError> code=-2010, msg=Account has insufficient balance", KindInvalid},
		{"dial tcp: connection refused", KindTransient},
		{"read: timeout awaiting response", KindTransient},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, classifyMessage(tt.msg), tt.msg)
	}
}

func TestRetryablePolicy(t *testing.T) {
	assert.True(t, Retryable(NewError(KindTransient, "op", "x")))
	assert.True(t, Retryable(NewError(KindRateLimited, "op", "x")))
	assert.False(t, Retryable(NewError(KindAuth, "op", "x")))
	assert.False(t, Retryable(NewError(KindInvalid, "op", "x")))
	assert.False(t, Retryable(NewError(KindTerminal, "op", "x")))
}

func TestRounding(t *testing.T) {
	assert.InDelta(t, 0.123, RoundToLot(0.12345, 0.001), 1e-12)
	assert.InDelta(t, 0.12345, RoundToLot(0.12345, 0), 1e-12)
	assert.InDelta(t, 96000.5, RoundToTick(96000.49, 0.1), 1e-9)
}

type countingRecorder struct {
	success, failure int
}

func (c *countingRecorder) RecordCall(ok bool) {
	if ok {
		c.success++
	} else {
		c.failure++
	}
}

func TestLimitedReportsOutcomes(t *testing.T) {
	m := NewMock()
	rec := &countingRecorder{}
	lim := NewLimited(m, 100, time.Second, rec)
	ctx := context.Background()

	_, err := lim.PlaceLimit(ctx, "BTCUSDT", SideBuy, 96000, 0.1, "t1")
	require.NoError(t, err)

	m.FailNext("place_limit", NewError(KindTransient, "place_limit", "boom"))
	_, err = lim.PlaceLimit(ctx, "BTCUSDT", SideBuy, 96000, 0.1, "t2")
	require.Error(t, err)

	// NotFound cancels count as success by contract
	require.NoError(t, lim.Cancel(ctx, "BTCUSDT", "missing"))

	assert.Equal(t, 2, rec.success)
	assert.Equal(t, 1, rec.failure)
}

// Rate-limit adherence: the bucket refills at the configured rate, so
// a burst beyond capacity must take measurably longer than one window.
func TestLimitedEnforcesTokenBucket(t *testing.T) {
	m := NewMock()
	lim := NewLimited(m, 10, time.Second, nil)
	ctx := context.Background()

	start := time.Now()
	for i := 0; i < 20; i++ {
		_, err := lim.LastPrice(ctx, "BTCUSDT")
		require.NoError(t, err)
	}
	elapsed := time.Since(start)

	// 20 calls at 10/s with a burst of 10 needs at least ~1s
	assert.GreaterOrEqual(t, elapsed, 900*time.Millisecond)
}

func TestLimitedRejectedWaitCountsFailure(t *testing.T) {
	m := NewMock()
	rec := &countingRecorder{}
	// a rate below 1/s leaves a burst of zero, so the limiter refuses
	// the wait outright and the call is counted as a failure
	lim := NewLimited(m, 0.001, 50*time.Millisecond, rec)

	_, err := lim.LastPrice(context.Background(), "BTCUSDT")
	require.Error(t, err)
	assert.Equal(t, 1, rec.failure)
}

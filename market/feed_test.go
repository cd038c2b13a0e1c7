package market

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gridflow/exchange"
)

func drain(ch <-chan exchange.Tick, wait time.Duration) []exchange.Tick {
	var out []exchange.Tick
	deadline := time.After(wait)
	for {
		select {
		case t := <-ch:
			out = append(out, t)
		case <-deadline:
			return out
		}
	}
}

func TestFeedFansOutToAllSubscribers(t *testing.T) {
	mock := exchange.NewMock()
	feed := NewFeed(mock, []string{"BTCUSDT"})

	a := feed.Subscribe(16)
	b := feed.Subscribe(16)

	require.NoError(t, feed.Start())
	defer feed.Stop()
	assert.Equal(t, "streaming", feed.State())

	mock.SetPrice("BTCUSDT", 97000)
	mock.SetPrice("BTCUSDT", 97100)

	ticksA := drain(a, 200*time.Millisecond)
	ticksB := drain(b, 200*time.Millisecond)
	assert.Len(t, ticksA, 2)
	assert.Len(t, ticksB, 2)
	assert.Equal(t, 97100.0, ticksA[1].Price)
}

func TestFeedDropsOutOfOrderTicks(t *testing.T) {
	mock := exchange.NewMock()
	feed := NewFeed(mock, []string{"BTCUSDT"})
	sub := feed.Subscribe(16)

	now := time.Now()
	feed.publish(exchange.Tick{Symbol: "BTCUSDT", Price: 97000, Ts: now})
	feed.publish(exchange.Tick{Symbol: "BTCUSDT", Price: 96000, Ts: now.Add(-time.Second)})
	feed.publish(exchange.Tick{Symbol: "BTCUSDT", Price: 97000, Ts: now}) // duplicate ts
	feed.publish(exchange.Tick{Symbol: "BTCUSDT", Price: 97200, Ts: now.Add(time.Second)})

	ticks := drain(sub, 100*time.Millisecond)
	require.Len(t, ticks, 2)
	assert.Equal(t, 97000.0, ticks[0].Price)
	assert.Equal(t, 97200.0, ticks[1].Price)
}

func TestFeedLastTicks(t *testing.T) {
	mock := exchange.NewMock()
	feed := NewFeed(mock, []string{"BTCUSDT", "DOGEUSDT"})

	now := time.Now()
	feed.publish(exchange.Tick{Symbol: "BTCUSDT", Price: 97000, Ts: now})
	feed.publish(exchange.Tick{Symbol: "DOGEUSDT", Price: 0.137, Ts: now})
	feed.publish(exchange.Tick{Symbol: "BTCUSDT", Price: 97500, Ts: now.Add(time.Second)})

	last := feed.LastTicks()
	require.Len(t, last, 2)
	assert.Equal(t, 97500.0, last["BTCUSDT"].Price)
	assert.Equal(t, 0.137, last["DOGEUSDT"].Price)
}

func TestFeedSlowSubscriberShedsInsteadOfBlocking(t *testing.T) {
	mock := exchange.NewMock()
	feed := NewFeed(mock, []string{"BTCUSDT"})
	sub := feed.Subscribe(2) // tiny buffer

	now := time.Now()
	for i := 0; i < 10; i++ {
		feed.publish(exchange.Tick{Symbol: "BTCUSDT", Price: 97000 + float64(i), Ts: now.Add(time.Duration(i) * time.Second)})
	}

	ticks := drain(sub, 100*time.Millisecond)
	assert.Len(t, ticks, 2, "overflow sheds, publish never blocks")
	// the feed itself still tracked the newest tick
	assert.Equal(t, 97009.0, feed.LastTicks()["BTCUSDT"].Price)
}

// Package market delivers price ticks from the exchange stream to the
// grid workers and the risk supervisor. One feed serves the whole
// process; consumers get their own buffered fanout channel.
package market

import (
	"context"
	"sync"
	"time"

	"gridflow/exchange"
	"gridflow/logger"
)

const pollInterval = time.Second

// Feed fans exchange ticks out to subscribers, dropping out-of-order
// ticks per symbol so consumers always observe monotonic timestamps.
type Feed struct {
	ex      exchange.Exchange
	symbols []string

	mu    sync.RWMutex
	last  map[string]exchange.Tick
	subs  []chan exchange.Tick
	state string

	stopStream func()
	cancelPoll context.CancelFunc
	done       chan struct{}
}

// NewFeed creates a feed for the given symbols
func NewFeed(ex exchange.Exchange, symbols []string) *Feed {
	return &Feed{
		ex:      ex,
		symbols: append([]string(nil), symbols...),
		last:    make(map[string]exchange.Tick),
	}
}

// Subscribe returns a fanout channel. Slow consumers shed ticks rather
// than stalling the feed.
func (f *Feed) Subscribe(buf int) <-chan exchange.Tick {
	if buf <= 0 {
		buf = 64
	}
	ch := make(chan exchange.Tick, buf)
	f.mu.Lock()
	f.subs = append(f.subs, ch)
	f.mu.Unlock()
	return ch
}

// Start opens the price stream; if the stream cannot be established it
// falls back to REST polling at a 1 s cadence.
func (f *Feed) Start() error {
	f.done = make(chan struct{})

	stream, stop, err := f.ex.Subscribe(f.symbols)
	if err != nil {
		logger.Warnf("Price stream unavailable (%v), falling back to polling", err)
		ctx, cancel := context.WithCancel(context.Background())
		f.cancelPoll = cancel
		f.setState("polling")
		go f.pollLoop(ctx)
		return nil
	}

	f.stopStream = stop
	f.setState("streaming")
	go f.streamLoop(stream)
	return nil
}

// Stop terminates the stream or poll loop and waits for it to drain
func (f *Feed) Stop() {
	if f.stopStream != nil {
		f.stopStream()
	}
	if f.cancelPoll != nil {
		f.cancelPoll()
	}
	if f.done != nil {
		<-f.done
	}
}

// State reports "streaming" or "polling"
func (f *Feed) State() string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.state
}

// LastTicks returns the most recent tick per symbol
func (f *Feed) LastTicks() map[string]exchange.Tick {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := make(map[string]exchange.Tick, len(f.last))
	for sym, t := range f.last {
		out[sym] = t
	}
	return out
}

func (f *Feed) setState(s string) {
	f.mu.Lock()
	f.state = s
	f.mu.Unlock()
}

func (f *Feed) streamLoop(stream <-chan exchange.Tick) {
	defer close(f.done)
	for t := range stream {
		f.publish(t)
	}
}

func (f *Feed) pollLoop(ctx context.Context) {
	defer close(f.done)
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, sym := range f.symbols {
				price, err := f.ex.LastPrice(ctx, sym)
				if err != nil {
					logger.Debugf("Poll %s failed: %v", sym, err)
					continue
				}
				f.publish(exchange.Tick{Symbol: sym, Price: price, Ts: time.Now()})
			}
		}
	}
}

// publish delivers a tick to all subscribers, enforcing per-symbol
// monotonic timestamps.
func (f *Feed) publish(t exchange.Tick) {
	f.mu.Lock()
	if prev, ok := f.last[t.Symbol]; ok && !t.Ts.After(prev.Ts) {
		f.mu.Unlock()
		return
	}
	f.last[t.Symbol] = t
	subs := append([]chan exchange.Tick(nil), f.subs...)
	f.mu.Unlock()

	for _, ch := range subs {
		select {
		case ch <- t:
		default:
		}
	}
}

package store

import (
	"database/sql"
	"sync/atomic"
	"time"

	"gridflow/logger"
)

const (
	criticalQueueSize = 1024
	tickQueueSize     = 1024
)

type event struct {
	query string
	args  []interface{}
}

// writer drains the bounded queues onto sqlite. Critical events
// (trades, configs, order events, kills, alerts) are never dropped in
// favor of ticks: on overflow the oldest critical event is evicted to
// make room, while an overflowing tick queue simply sheds the new
// tick.
type writer struct {
	db       *sql.DB
	critical chan event
	ticks    chan event
	quit     chan struct{}
	done     chan struct{}
	dropped  atomic.Int64
}

func newWriter(db *sql.DB) *writer {
	w := &writer{
		db:       db,
		critical: make(chan event, criticalQueueSize),
		ticks:    make(chan event, tickQueueSize),
		quit:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	go w.run()
	return w
}

func (w *writer) run() {
	defer close(w.done)
	for {
		// drain critical first
		select {
		case ev := <-w.critical:
			w.exec(ev)
			continue
		default:
		}
		select {
		case ev := <-w.critical:
			w.exec(ev)
		case ev := <-w.ticks:
			w.exec(ev)
		case <-w.quit:
			w.drain()
			return
		}
	}
}

func (w *writer) drain() {
	for {
		select {
		case ev := <-w.critical:
			w.exec(ev)
		default:
			return
		}
	}
}

func (w *writer) exec(ev event) {
	if _, err := w.db.Exec(ev.query, ev.args...); err != nil {
		logger.Warnf("Store write failed: %v", err)
	}
}

func (w *writer) close() {
	close(w.quit)
	<-w.done
}

func (w *writer) enqueueCritical(ev event) {
	for {
		select {
		case w.critical <- ev:
			return
		default:
			// evict the oldest to keep the newest
			select {
			case <-w.critical:
				w.dropped.Add(1)
			default:
			}
		}
	}
}

func (w *writer) enqueueTick(ev event) {
	select {
	case w.ticks <- ev:
	default:
		w.dropped.Add(1)
	}
}

// ============================================================================
// Recording API (all nil-safe, all fire-and-forget)
// ============================================================================

// Trade records a fill (implements trader.TradeSink)
func (s *Store) Trade(symbol, side string, price, qty, pnl float64, ts time.Time) {
	if s == nil {
		return
	}
	s.wr.enqueueCritical(event{
		query: `INSERT INTO trades (symbol, side, price, quantity, pnl, ts) VALUES (?, ?, ?, ?, ?, ?)`,
		args:  []interface{}{symbol, side, price, qty, pnl, ts.UTC().Format(time.RFC3339Nano)},
	})
}

// OrderEvent records an order lifecycle transition (trader.TradeSink)
func (s *Store) OrderEvent(symbol, orderID, ev string, price, qty float64, ts time.Time) {
	if s == nil {
		return
	}
	s.wr.enqueueCritical(event{
		query: `INSERT INTO order_events (symbol, order_id, event, price, quantity, ts) VALUES (?, ?, ?, ?, ?, ?)`,
		args:  []interface{}{symbol, orderID, ev, price, qty, ts.UTC().Format(time.RFC3339Nano)},
	})
}

// GridConfig records a deployment
func (s *Store) GridConfig(symbol, configJSON string) {
	if s == nil {
		return
	}
	s.wr.enqueueCritical(event{
		query: `INSERT INTO grid_configs (symbol, config_json, deployed_at) VALUES (?, ?, ?)`,
		args:  []interface{}{symbol, configJSON, time.Now().UTC().Format(time.RFC3339)},
	})
}

// KillEvent records a kill-switch latch
func (s *Store) KillEvent(reason string) {
	if s == nil {
		return
	}
	s.wr.enqueueCritical(event{
		query: `INSERT INTO kill_events (reason, ts) VALUES (?, ?)`,
		args:  []interface{}{reason, time.Now().UTC().Format(time.RFC3339)},
	})
}

// Alert records a webhook alert
func (s *Store) Alert(symbol, action, gridOp string, price float64, zone string, accepted bool) {
	if s == nil {
		return
	}
	acc := 0
	if accepted {
		acc = 1
	}
	s.wr.enqueueCritical(event{
		query: `INSERT INTO alerts (symbol, action, grid_op, price, zone, accepted, ts) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		args:  []interface{}{symbol, action, gridOp, price, zone, acc, time.Now().UTC().Format(time.RFC3339)},
	})
}

// Tick records a price observation; sheds on overflow
func (s *Store) Tick(symbol string, price float64, ts time.Time) {
	if s == nil {
		return
	}
	s.wr.enqueueTick(event{
		query: `INSERT INTO ticks (symbol, price, ts) VALUES (?, ?, ?)`,
		args:  []interface{}{symbol, price, ts.UTC().Format(time.RFC3339Nano)},
	})
}

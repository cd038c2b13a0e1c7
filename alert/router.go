// Package alert validates signed TradingView-style webhook payloads
// and maps them onto controller operations.
package alert

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"gridflow/logger"
	"gridflow/manager"
	"gridflow/trader"
)

const defaultHistorySize = 500

// Validation / routing errors, mapped to HTTP statuses by the API layer
var (
	ErrBadSignature = errors.New("invalid webhook signature")
	ErrBadPayload   = errors.New("malformed alert payload")
	ErrKillActive   = errors.New("kill switch active")
)

// Payload is the webhook envelope body
type Payload struct {
	Symbol string  `json:"symbol"`
	Action string  `json:"action"`
	Price  float64 `json:"price,omitempty"`
	Zone   string  `json:"zone,omitempty"`
}

// Record is one received alert kept in the history ring
type Record struct {
	Symbol    string  `json:"symbol"`
	Action    string  `json:"action"`
	GridOp    string  `json:"grid_op"`
	Price     float64 `json:"price,omitempty"`
	Zone      string  `json:"zone,omitempty"`
	Timestamp string  `json:"timestamp"`
	Accepted  bool    `json:"accepted"`
}

// Stats are aggregate counts over the retained history
type Stats struct {
	Total    int            `json:"total"`
	BySymbol map[string]int `json:"by_symbol"`
	ByAction map[string]int `json:"by_action"`
	Last     string         `json:"last_alert,omitempty"`
}

// Response is what the webhook endpoint returns on success
type Response struct {
	Alert      string         `json:"alert"`
	Action     string         `json:"action"`
	GridResult *trader.Result `json:"grid_result,omitempty"`
	Error      string         `json:"error,omitempty"`
}

// Router validates, records and executes webhook alerts
type Router struct {
	secret []byte
	ctrl   *manager.Controller

	mu      sync.Mutex
	history []Record // ring, newest appended, oldest evicted
	max     int
}

// NewRouter creates a router. An empty secret disables signature
// checking (development only; logged loudly).
func NewRouter(secret string, ctrl *manager.Controller) *Router {
	if secret == "" {
		logger.Warn("⚠️ Webhook secret not configured, signature checks disabled")
	}
	return &Router{
		secret: []byte(secret),
		ctrl:   ctrl,
		max:    defaultHistorySize,
	}
}

// ValidateSignature checks the lowercase hex HMAC-SHA256 of the exact
// received body bytes. Constant-time comparison.
func (r *Router) ValidateSignature(body []byte, signature string) bool {
	if len(r.secret) == 0 {
		return true
	}
	mac := hmac.New(sha256.New, r.secret)
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(strings.ToLower(signature)))
}

// Parse decodes and normalizes the alert body
func (r *Router) Parse(body []byte) (Payload, error) {
	var p Payload
	if err := json.Unmarshal(body, &p); err != nil {
		return Payload{}, fmt.Errorf("%w: %v", ErrBadPayload, err)
	}
	p.Symbol = strings.ToUpper(strings.TrimSpace(p.Symbol))
	if p.Symbol == "" {
		return Payload{}, fmt.Errorf("%w: symbol missing", ErrBadPayload)
	}
	if !strings.HasSuffix(p.Symbol, "USDT") {
		p.Symbol += "USDT"
	}
	p.Action = strings.ToLower(strings.TrimSpace(p.Action))
	return p, nil
}

// gridOp maps an alert action onto a controller operation name
func gridOp(action string) string {
	switch action {
	case "buy", "long":
		return "resume"
	case "sell", "short":
		return "pause"
	case "close":
		return "stop"
	default:
		return ""
	}
}

// Handle executes a validated payload. Rejected while the kill latch
// is set.
func (r *Router) Handle(p Payload) (Response, error) {
	op := gridOp(p.Action)
	if op == "" {
		return Response{}, fmt.Errorf("%w: unknown action %q", ErrBadPayload, p.Action)
	}

	if killed, reason := r.ctrl.Killed(); killed {
		r.remember(p, op, false)
		return Response{}, fmt.Errorf("%w: %s", ErrKillActive, reason)
	}

	resp := Response{Alert: p.Symbol, Action: op}
	var res trader.Result
	var err error
	switch op {
	case "resume":
		res, err = r.ctrl.Resume(p.Symbol)
		if errors.Is(err, trader.ErrInvalidTransition) {
			// a stopped grid resumes via a full start
			res, err = r.ctrl.Start(p.Symbol)
		}
	case "pause":
		res, err = r.ctrl.Pause(p.Symbol)
	case "stop":
		res, err = r.ctrl.Stop(p.Symbol)
	}

	r.remember(p, op, err == nil)
	if err != nil {
		resp.Error = err.Error()
		logger.Warnf("Alert %s %s failed: %v", p.Symbol, op, err)
		return resp, nil // routing errors surface in the body, not as HTTP failures
	}
	resp.GridResult = &res
	logger.Infof("📣 Alert routed: %s %s -> %s", p.Symbol, p.Action, op)
	return resp, nil
}

func (r *Router) remember(p Payload, op string, accepted bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.history = append(r.history, Record{
		Symbol:    p.Symbol,
		Action:    p.Action,
		GridOp:    op,
		Price:     p.Price,
		Zone:      p.Zone,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Accepted:  accepted,
	})
	if len(r.history) > r.max {
		r.history = r.history[len(r.history)-r.max:]
	}
}

// Recent returns up to limit alerts, newest first, optionally
// filtered by symbol.
func (r *Router) Recent(symbol string, limit int) []Record {
	if limit <= 0 || limit > defaultHistorySize {
		limit = 50
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]Record, 0, limit)
	for i := len(r.history) - 1; i >= 0 && len(out) < limit; i-- {
		if symbol != "" && r.history[i].Symbol != symbol {
			continue
		}
		out = append(out, r.history[i])
	}
	return out
}

// Counts returns aggregate stats over the retained history
func (r *Router) Counts() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()

	s := Stats{
		Total:    len(r.history),
		BySymbol: make(map[string]int),
		ByAction: make(map[string]int),
	}
	for _, rec := range r.history {
		s.BySymbol[rec.Symbol]++
		s.ByAction[rec.Action]++
	}
	if n := len(r.history); n > 0 {
		s.Last = r.history[n-1].Timestamp
	}
	return s
}

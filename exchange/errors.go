package exchange

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Kind classifies venue errors for the retry/escalation policy
type Kind int

const (
	KindUnknown Kind = iota
	KindTransient
	KindRateLimited
	KindAuth
	KindInvalid
	KindTerminal
	KindNotFound
)

func (k Kind) String() string {
	switch k {
	case KindTransient:
		return "transient"
	case KindRateLimited:
		return "rate_limited"
	case KindAuth:
		return "auth"
	case KindInvalid:
		return "invalid"
	case KindTerminal:
		return "terminal"
	case KindNotFound:
		return "not_found"
	default:
		return "unknown"
	}
}

// Error is a classified venue error
type Error struct {
	Kind Kind
	Op   string
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %s: %s", e.Op, e.Kind, e.Msg)
}

func (e *Error) Unwrap() error { return e.Err }

// NewError builds a classified error
func NewError(kind Kind, op, msg string) *Error {
	return &Error{Kind: kind, Op: op, Msg: msg}
}

// WrapError classifies an underlying SDK/transport error
func WrapError(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// KindOf extracts the classification of err, defaulting to transient
// for plain network-looking failures and unknown otherwise.
func KindOf(err error) Kind {
	if err == nil {
		return KindUnknown
	}
	var ee *Error
	if errors.As(err, &ee) {
		return ee.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return KindTransient
	}
	return KindUnknown
}

// Retryable reports whether the worker should retry under backoff
func Retryable(err error) bool {
	k := KindOf(err)
	return k == KindTransient || k == KindRateLimited || k == KindUnknown
}

// classifyMessage maps a raw venue error string to a Kind. Binance
// error codes surface in the message text; the buckets here follow the
// venue docs (-1003 rate limit, -2014/-2015 auth, -1121/-2010 invalid,
// -2013 unknown order).
func classifyMessage(msg string) Kind {
	switch {
	case strings.Contains(msg, "-1003"), strings.Contains(msg, "429"), strings.Contains(msg, "Too many requests"):
		return KindRateLimited
	case strings.Contains(msg, "-2014"), strings.Contains(msg, "-2015"), strings.Contains(msg, "-1022"),
		strings.Contains(msg, "Signature"), strings.Contains(msg, "API-key"):
		return KindAuth
	case strings.Contains(msg, "-2013"), strings.Contains(msg, "Unknown order"):
		return KindNotFound
	case strings.Contains(msg, "-1121"), strings.Contains(msg, "-1013"), strings.Contains(msg, "-2010"),
		strings.Contains(msg, "Invalid symbol"), strings.Contains(msg, "insufficient balance"):
		return KindInvalid
	case strings.Contains(msg, "-1001"), strings.Contains(msg, "timeout"), strings.Contains(msg, "connection"),
		strings.Contains(msg, "5xx"), strings.Contains(msg, "502"), strings.Contains(msg, "503"):
		return KindTransient
	default:
		return KindTransient
	}
}

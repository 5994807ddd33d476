package common

import (
	"bytes"
	"encoding/json"
	"net/http"
	"time"
)

// Direction denotes order side as the venue spells it.
type Direction string

const (
	DirectionBuy  Direction = "buy"
	DirectionSell Direction = "sell"
)

// OrderType is the venue's order type string, forwarded as sent.
type OrderType string

const OrderTypeLimit OrderType = "limit"

// RequiresPrice reports whether the venue rejects the type without a price.
func (t OrderType) RequiresPrice() bool {
	return t == OrderTypeLimit
}

// Kind is the instrument kind used by instrument, position and order queries.
type Kind string

const (
	KindFuture      Kind = "future"
	KindOption      Kind = "option"
	KindSpot        Kind = "spot"
	KindFutureCombo Kind = "future_combo"
	KindOptionCombo Kind = "option_combo"
)

// Valid reports whether the venue knows the kind.
func (k Kind) Valid() bool {
	switch k {
	case KindFuture, KindOption, KindSpot, KindFutureCombo, KindOptionCombo:
		return true
	}
	return false
}

// Params is a JSON-RPC params object. Values are marshalled as-is, so callers
// can forward client-supplied json.RawMessage values untouched.
type Params map[string]any

// Response is a raw venue reply. Callers that relay bodies to clients use
// Body directly; the helpers below are for callers that need to look inside.
type Response struct {
	StatusCode int
	Body       []byte
	Duration   time.Duration
}

// OK reports an HTTP 200 reply.
func (r *Response) OK() bool {
	return r != nil && r.StatusCode == http.StatusOK
}

type rpcEnvelope struct {
	Result json.RawMessage `json:"result"`
	Error  json.RawMessage `json:"error"`
}

// Result returns the raw "result" member of a JSON-RPC body.
func (r *Response) Result() (json.RawMessage, bool) {
	if r == nil || len(r.Body) == 0 || r.Body[0] != '{' {
		return nil, false
	}
	var env rpcEnvelope
	if err := json.Unmarshal(r.Body, &env); err != nil {
		return nil, false
	}
	if len(env.Result) == 0 || bytes.Equal(env.Result, []byte("null")) {
		return nil, false
	}
	return env.Result, true
}

// HasError reports an error-tagged JSON-RPC body.
func (r *Response) HasError() bool {
	if r == nil || len(r.Body) == 0 || r.Body[0] != '{' {
		return false
	}
	var env rpcEnvelope
	if err := json.Unmarshal(r.Body, &env); err != nil {
		return false
	}
	return len(env.Error) > 0 && !bytes.Equal(env.Error, []byte("null"))
}

// ErrorMessage extracts error.message from a JSON-RPC error body, if any.
func (r *Response) ErrorMessage() string {
	if !r.HasError() {
		return ""
	}
	var env struct {
		Error struct {
			Message string `json:"message"`
			Code    int    `json:"code"`
		} `json:"error"`
	}
	if err := json.Unmarshal(r.Body, &env); err != nil {
		return ""
	}
	return env.Error.Message
}

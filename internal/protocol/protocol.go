// Package protocol defines the JSON messages exchanged with websocket
// clients. Every outbound message carries a "type" so clients can
// demultiplex without correlation ids.
package protocol

import (
	"bytes"
	"encoding/json"

	"trading-gateway/pkg/exchanges/common"
)

// Inbound command types.
const (
	TypeEcho           = "echo"
	TypeGetInstruments = "get_instruments"
	TypePlaceOrder     = "place_order"
	TypeModifyOrder    = "modify_order"
	TypeCancelOrder    = "cancel_order"
)

// Outbound message types.
const (
	TypeOrderBookUpdate  = "orderbook_update"
	TypePositionsUpdate  = "positions_update"
	TypeOpenOrdersUpdate = "open_orders_update"
	TypeInstruments      = "instruments"
	TypeOrderResponse    = "order_response"
	TypeModifyResponse   = "modify_response"
	TypeCancelResponse   = "cancel_response"
	TypeError            = "error"
)

// InternalError is sent as plain text, not JSON, when a message cannot be
// parsed or handling panics.
const InternalError = "Internal server error"

// Error kinds are shared with the venue client.
type (
	Error     = common.Error
	ErrorKind = common.ErrorKind
)

const (
	KindTransport  = common.KindTransport
	KindUpstream   = common.KindUpstream
	KindValidation = common.KindValidation
	KindParse      = common.KindParse
	KindAuth       = common.KindAuth
)

// Inbound is a decoded client message. Fields holds every top-level member
// undecoded so values can be forwarded upstream byte for byte.
type Inbound struct {
	Type   string
	Raw    []byte
	Fields map[string]json.RawMessage
}

// ParseInbound decodes a client message. The message must be a JSON object
// with a string "type".
func ParseInbound(raw []byte) (*Inbound, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, &Error{Kind: KindParse, Op: "inbound", Err: err}
	}
	if fields == nil {
		return nil, &Error{Kind: KindParse, Op: "inbound", Msg: "message is not an object"}
	}
	rawType, ok := fields["type"]
	if !ok {
		return nil, &Error{Kind: KindParse, Op: "inbound", Msg: "missing type"}
	}
	var typ string
	if err := json.Unmarshal(rawType, &typ); err != nil {
		return nil, &Error{Kind: KindParse, Op: "inbound", Msg: "type is not a string"}
	}
	return &Inbound{Type: typ, Raw: raw, Fields: fields}, nil
}

// Object decodes a nested object member. ok is false when the member is
// absent, null or not an object.
func (in *Inbound) Object(name string) (map[string]json.RawMessage, bool) {
	return Object(in.Fields[name])
}

// String decodes a string member.
func (in *Inbound) String(name string) (string, bool) {
	return String(in.Fields[name])
}

// Object decodes raw as a JSON object.
func Object(raw json.RawMessage) (map[string]json.RawMessage, bool) {
	if !Present(raw) {
		return nil, false
	}
	var out map[string]json.RawMessage
	if err := json.Unmarshal(raw, &out); err != nil || out == nil {
		return nil, false
	}
	return out, true
}

// String decodes raw as a JSON string.
func String(raw json.RawMessage) (string, bool) {
	if !Present(raw) {
		return "", false
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", false
	}
	return s, true
}

// Present reports a member that exists and is not null.
func Present(raw json.RawMessage) bool {
	return len(raw) > 0 && !bytes.Equal(bytes.TrimSpace(raw), []byte("null"))
}

// Retag sets "type" on an upstream JSON object and re-encodes it. Other
// members are carried through unchanged.
func Retag(body []byte, tag string) ([]byte, error) {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(body, &obj); err != nil {
		return nil, &Error{Kind: KindParse, Op: "retag", Err: err}
	}
	if obj == nil {
		return nil, &Error{Kind: KindParse, Op: "retag", Msg: "body is not an object"}
	}
	t, _ := json.Marshal(tag)
	obj["type"] = t
	return encode(obj)
}

// encode marshals without HTML escaping so relayed text is not rewritten.
func encode(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

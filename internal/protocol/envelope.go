package protocol

import "encoding/json"

type OrderBookUpdate struct {
	Type       string          `json:"type"`
	Instrument string          `json:"instrument"`
	Timestamp  int64           `json:"timestamp"`
	Data       json.RawMessage `json:"data"`
}

type PositionsUpdate struct {
	Type     string          `json:"type"`
	Currency string          `json:"currency"`
	Kind     string          `json:"kind"`
	Data     json.RawMessage `json:"data,omitempty"`
	Error    string          `json:"error,omitempty"`
}

// OpenOrdersUpdate carries the whole upstream reply in Data, so clients
// read data.result.
type OpenOrdersUpdate struct {
	Type  string          `json:"type"`
	Data  json.RawMessage `json:"data,omitempty"`
	Error string          `json:"error,omitempty"`
}

// ErrorReply is any tagged reply that failed.
type ErrorReply struct {
	Type  string `json:"type"`
	Error string `json:"error"`
}

func NewOrderBookUpdate(instrument string, timestamp int64, data json.RawMessage) ([]byte, error) {
	return encode(OrderBookUpdate{Type: TypeOrderBookUpdate, Instrument: instrument, Timestamp: timestamp, Data: data})
}

func NewPositionsUpdate(currency, kind string, data json.RawMessage) ([]byte, error) {
	return encode(PositionsUpdate{Type: TypePositionsUpdate, Currency: currency, Kind: kind, Data: data})
}

func NewPositionsError(currency, kind, msg string) []byte {
	b, _ := encode(PositionsUpdate{Type: TypePositionsUpdate, Currency: currency, Kind: kind, Error: msg})
	return b
}

func NewOpenOrdersUpdate(data json.RawMessage) ([]byte, error) {
	return encode(OpenOrdersUpdate{Type: TypeOpenOrdersUpdate, Data: data})
}

func NewOpenOrdersError(msg string) []byte {
	b, _ := encode(OpenOrdersUpdate{Type: TypeOpenOrdersUpdate, Error: msg})
	return b
}

// NewErrorReply builds {type, error}; tag is the reply type of the command.
func NewErrorReply(tag, msg string) []byte {
	b, _ := encode(ErrorReply{Type: tag, Error: msg})
	return b
}

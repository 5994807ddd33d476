package dispatch

import (
	"encoding/json"

	"trading-gateway/internal/protocol"
	"trading-gateway/pkg/exchanges/common"
)

// Required fields per command, in the order they are reported.
var requiredFields = map[string][]string{
	protocol.TypePlaceOrder:  {"instrument_name", "amount", "type", "direction"},
	protocol.TypeModifyOrder: {"order_id", "amount"},
	protocol.TypeCancelOrder: {"order_id"},
}

// Optional fields forwarded by modify_order when present.
var modifyOptional = []string{"price", "post_only", "reduce_only"}

// Validate returns the required fields of cmd missing from data, in
// declaration order. A null value counts as missing.
func Validate(cmd string, data map[string]json.RawMessage) []string {
	var missing []string
	for _, f := range requiredFields[cmd] {
		if !protocol.Present(data[f]) {
			missing = append(missing, f)
		}
	}
	return missing
}

func validationError(op, msg string) *common.Error {
	return &common.Error{Kind: common.KindValidation, Op: op, Msg: msg}
}

// placeRequest is a validated place_order.
type placeRequest struct {
	direction common.Direction
	params    common.Params
}

func buildPlace(in *protocol.Inbound) (*placeRequest, error) {
	data, ok := in.Object("data")
	if !ok {
		return nil, validationError(in.Type, "Invalid order format: 'data' field missing")
	}
	if missing := Validate(in.Type, data); len(missing) > 0 {
		return nil, validationError(in.Type, "Missing required field: "+missing[0])
	}

	params := common.Params{
		"instrument_name": data["instrument_name"],
		"amount":          data["amount"],
		"type":            data["type"],
	}
	orderType, _ := protocol.String(data["type"])
	if common.OrderType(orderType).RequiresPrice() {
		if !protocol.Present(data["price"]) {
			return nil, validationError(in.Type, "Price is required for limit orders")
		}
		params["price"] = data["price"]
	}

	dir := common.DirectionSell
	if d, _ := protocol.String(data["direction"]); common.Direction(d) == common.DirectionBuy {
		dir = common.DirectionBuy
	}
	return &placeRequest{direction: dir, params: params}, nil
}

func buildModify(in *protocol.Inbound) (common.Params, error) {
	data, ok := in.Object("data")
	if !ok {
		return nil, validationError(in.Type, "Invalid request format: 'data' field missing")
	}
	if missing := Validate(in.Type, data); len(missing) > 0 {
		return nil, validationError(in.Type, "Missing required field: "+missing[0])
	}
	params := common.Params{
		"order_id": data["order_id"],
		"amount":   data["amount"],
	}
	for _, f := range modifyOptional {
		if protocol.Present(data[f]) {
			params[f] = data[f]
		}
	}
	return params, nil
}

func buildCancel(in *protocol.Inbound) (string, error) {
	data, _ := in.Object("data")
	if missing := Validate(in.Type, data); len(missing) > 0 {
		return "", validationError(in.Type, "Invalid request format: 'order_id' field missing")
	}
	id, ok := protocol.String(data["order_id"])
	if !ok || id == "" {
		return "", validationError(in.Type, "Invalid request format: 'order_id' must be a string")
	}
	return id, nil
}

func buildInstruments(in *protocol.Inbound) (currency, kind string, err error) {
	currency, ok := in.String("currency")
	if !ok {
		return "", "", validationError(in.Type, "Missing required field: currency")
	}
	kind, ok = in.String("kind")
	if !ok {
		return "", "", validationError(in.Type, "Missing required field: kind")
	}
	return currency, kind, nil
}

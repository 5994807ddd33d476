package common

import "context"

// Venue is the upstream surface the gateway needs. Every method returns the
// raw reply when one was received, even on non-2xx status, alongside a
// classified *Error.
type Venue interface {
	Authenticate(ctx context.Context) (string, error)
	GetInstruments(ctx context.Context, currency, kind string) (*Response, error)
	GetOrderBook(ctx context.Context, instrument string, depth int) (*Response, error)
	PlaceOrder(ctx context.Context, token string, dir Direction, params Params) (*Response, error)
	EditOrder(ctx context.Context, token string, params Params) (*Response, error)
	CancelOrder(ctx context.Context, token, orderID string) (*Response, error)
	GetPositions(ctx context.Context, token, currency, kind string) (*Response, error)
	GetOpenOrders(ctx context.Context, token, currency string) (*Response, error)
}

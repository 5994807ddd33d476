package deribit

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/go-resty/resty/v2"

	"trading-gateway/pkg/exchanges/common"
	"trading-gateway/pkg/logger"
)

const (
	DefaultBaseURL = "https://test.deribit.com"
	apiPrefix      = "/api/v2/"

	// OrderLabel tags every order placed through the gateway.
	OrderLabel = "ui_order"
)

// Config holds connectivity settings for the Deribit REST API.
type Config struct {
	BaseURL      string
	ClientID     string
	ClientSecret string

	// Timeout bounds auth, instrument, position and open-order calls.
	Timeout time.Duration
	// OrderBookTimeout bounds the hot order book poll.
	OrderBookTimeout time.Duration
	// OrderTimeout bounds place/edit/cancel.
	OrderTimeout time.Duration

	// RateLimit is requests per second; 0 disables pacing.
	RateLimit float64
	RateBurst int
}

// Observer is told about every completed upstream call.
type Observer func(method string, status int, d time.Duration, err error)

// Option customises a Client.
type Option func(*Client)

// WithObserver installs a per-call observer, typically a metrics recorder.
func WithObserver(o Observer) Option {
	return func(c *Client) { c.observer = o }
}

// WithHTTPClient swaps the underlying transport client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = resty.NewWithClient(hc).SetBaseURL(c.cfg.BaseURL) }
}

// Client is a thin JSON-RPC-over-HTTP client. It never retries: order
// placement is not idempotent and the polling loops retry on their own cadence.
type Client struct {
	cfg         Config
	http        *resty.Client
	rateLimiter *common.RateLimiter
	observer    Observer
	nextID      atomic.Int64
	log         *logger.Entry
}

var _ common.Venue = (*Client)(nil)

// NewClient builds a Deribit client with defaults for unset fields.
func NewClient(cfg Config, opts ...Option) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	if cfg.OrderBookTimeout <= 0 {
		cfg.OrderBookTimeout = 2 * time.Second
	}
	if cfg.OrderTimeout <= 0 {
		cfg.OrderTimeout = 20 * time.Second
	}

	c := &Client{
		cfg:         cfg,
		http:        resty.New().SetBaseURL(cfg.BaseURL),
		rateLimiter: common.NewRateLimiter(cfg.RateLimit, cfg.RateBurst),
		log:         logger.GetLogger().WithComponent("deribit"),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.http.SetHeader("Accept", "application/json").
		SetHeader("User-Agent", "trading-gateway")
	return c
}

type rpcRequest struct {
	JSONRPC string        `json:"jsonrpc"`
	ID      int64         `json:"id"`
	Method  string        `json:"method"`
	Params  common.Params `json:"params"`
}

// call issues one request. query is used for public GETs, params for
// JSON-RPC POSTs. A reply is returned whenever one was received.
func (c *Client) call(ctx context.Context, timeout time.Duration, method, token string, query url.Values, params common.Params) (*common.Response, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if err := c.rateLimiter.Wait(ctx); err != nil {
		err = &common.Error{Kind: common.KindTransport, Op: method, Msg: "rate limiter", Err: err}
		c.observe(method, 0, 0, err)
		return nil, err
	}

	req := c.http.R().SetContext(ctx)
	if token != "" {
		req.SetAuthToken(token)
	}

	start := time.Now()
	var (
		resp *resty.Response
		err  error
	)
	if params == nil {
		resp, err = req.SetQueryParamsFromValues(query).Get(apiPrefix + method)
	} else {
		body := rpcRequest{JSONRPC: "2.0", ID: c.nextID.Add(1), Method: method, Params: params}
		resp, err = req.SetHeader("Content-Type", "application/json").SetBody(body).Post(apiPrefix + method)
	}
	elapsed := time.Since(start)

	if err != nil {
		err = &common.Error{Kind: common.KindTransport, Op: method, Err: err}
		c.observe(method, 0, elapsed, err)
		return nil, err
	}

	out := &common.Response{StatusCode: resp.StatusCode(), Body: resp.Body(), Duration: elapsed}
	if !resp.IsSuccess() {
		err = &common.Error{
			Kind:   common.KindUpstream,
			Op:     method,
			Status: out.StatusCode,
			Msg:    upstreamMessage(out),
		}
	}
	c.observe(method, out.StatusCode, elapsed, err)
	return out, err
}

func (c *Client) observe(method string, status int, d time.Duration, err error) {
	if c.observer != nil {
		c.observer(method, status, d, err)
	}
}

func upstreamMessage(r *common.Response) string {
	if msg := r.ErrorMessage(); msg != "" {
		return msg
	}
	return http.StatusText(r.StatusCode)
}

type authResult struct {
	Result struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int64  `json:"expires_in"`
	} `json:"result"`
}

// Authenticate exchanges the client credentials for an access token.
func (c *Client) Authenticate(ctx context.Context) (string, error) {
	if c.cfg.ClientID == "" || c.cfg.ClientSecret == "" {
		return "", &common.Error{Kind: common.KindAuth, Op: "public/auth", Msg: "client credentials not configured"}
	}
	resp, err := c.call(ctx, c.cfg.Timeout, "public/auth", "", nil, common.Params{
		"grant_type":    "client_credentials",
		"client_id":     c.cfg.ClientID,
		"client_secret": c.cfg.ClientSecret,
	})
	if err != nil {
		return "", &common.Error{Kind: common.KindAuth, Op: "public/auth", Err: err}
	}
	var ar authResult
	if err := json.Unmarshal(resp.Body, &ar); err != nil {
		return "", &common.Error{Kind: common.KindParse, Op: "public/auth", Err: err}
	}
	if ar.Result.AccessToken == "" {
		return "", &common.Error{Kind: common.KindAuth, Op: "public/auth", Msg: "response carries no access_token"}
	}
	c.log.WithField("expires_in", ar.Result.ExpiresIn).Debug("obtained access token")
	return ar.Result.AccessToken, nil
}

// GetInstruments lists instruments for a currency and kind.
func (c *Client) GetInstruments(ctx context.Context, currency, kind string) (*common.Response, error) {
	q := url.Values{}
	q.Set("currency", currency)
	q.Set("kind", kind)
	return c.call(ctx, c.cfg.Timeout, "public/get_instruments", "", q, nil)
}

// GetOrderBook fetches a snapshot at the nearest supported depth.
func (c *Client) GetOrderBook(ctx context.Context, instrument string, depth int) (*common.Response, error) {
	q := url.Values{}
	q.Set("instrument_name", instrument)
	q.Set("depth", strconv.Itoa(SnapDepth(depth)))
	return c.call(ctx, c.cfg.OrderBookTimeout, "public/get_order_book", "", q, nil)
}

// PlaceOrder submits a buy or sell. params are forwarded verbatim; the
// gateway label is added.
func (c *Client) PlaceOrder(ctx context.Context, token string, dir common.Direction, params common.Params) (*common.Response, error) {
	var method string
	switch dir {
	case common.DirectionBuy:
		method = "private/buy"
	case common.DirectionSell:
		method = "private/sell"
	default:
		return nil, &common.Error{Kind: common.KindValidation, Op: "place_order", Msg: fmt.Sprintf("unknown direction %q", dir)}
	}
	p := make(common.Params, len(params)+1)
	for k, v := range params {
		p[k] = v
	}
	p["label"] = OrderLabel
	return c.call(ctx, c.cfg.OrderTimeout, method, token, nil, p)
}

// EditOrder amends an open order.
func (c *Client) EditOrder(ctx context.Context, token string, params common.Params) (*common.Response, error) {
	if params == nil {
		params = common.Params{}
	}
	return c.call(ctx, c.cfg.OrderTimeout, "private/edit", token, nil, params)
}

// CancelOrder cancels a single order by id.
func (c *Client) CancelOrder(ctx context.Context, token, orderID string) (*common.Response, error) {
	return c.call(ctx, c.cfg.OrderTimeout, "private/cancel", token, nil, common.Params{"order_id": orderID})
}

// GetPositions lists positions for one currency and kind.
func (c *Client) GetPositions(ctx context.Context, token, currency, kind string) (*common.Response, error) {
	return c.call(ctx, c.cfg.Timeout, "private/get_positions", token, nil, common.Params{
		"currency": currency,
		"kind":     kind,
	})
}

// GetOpenOrders lists open orders for a currency.
func (c *Client) GetOpenOrders(ctx context.Context, token, currency string) (*common.Response, error) {
	return c.call(ctx, c.cfg.Timeout, "private/get_open_orders_by_currency", token, nil, common.Params{
		"currency": currency,
	})
}

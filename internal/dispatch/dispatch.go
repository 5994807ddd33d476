// Package dispatch handles commands sent by websocket clients.
package dispatch

import (
	"context"
	"errors"
	"fmt"

	"trading-gateway/internal/monitor"
	"trading-gateway/internal/protocol"
	"trading-gateway/pkg/exchanges/common"
	"trading-gateway/pkg/logger"
)

// Venue is the part of the upstream client commands use.
type Venue interface {
	GetInstruments(ctx context.Context, currency, kind string) (*common.Response, error)
	PlaceOrder(ctx context.Context, token string, dir common.Direction, params common.Params) (*common.Response, error)
	EditOrder(ctx context.Context, token string, params common.Params) (*common.Response, error)
	CancelOrder(ctx context.Context, token, orderID string) (*common.Response, error)
}

// TokenSource yields the shared upstream access token.
type TokenSource interface {
	Get(ctx context.Context) (string, error)
	Invalidate(token string)
}

// OpenOrdersPublisher pushes a fresh open-order list to every client.
type OpenOrdersPublisher interface {
	Publish(ctx context.Context) error
}

// Replier is the connection a command arrived on.
type Replier interface {
	Send(msg []byte) error
}

// Result is the outcome of one inbound message.
type Result struct {
	Type  string
	Reply []byte
	// Broadcast requests an out-of-band open-orders publish after the reply.
	Broadcast bool
	// Err is the classified failure, if any; the reply already describes it.
	Err error
}

type Config struct {
	Metrics *monitor.Metrics
	Latency *monitor.LatencyHistogram
}

// Dispatcher routes commands to the venue. It holds no per-connection
// state and runs on the caller's goroutine.
type Dispatcher struct {
	venue     Venue
	tokens    TokenSource
	publisher OpenOrdersPublisher
	cfg       Config
	log       *logger.Entry
}

func New(venue Venue, tokens TokenSource, publisher OpenOrdersPublisher, cfg Config) *Dispatcher {
	return &Dispatcher{
		venue:     venue,
		tokens:    tokens,
		publisher: publisher,
		cfg:       cfg,
		log:       logger.GetLogger().WithComponent("dispatch"),
	}
}

// Handle processes one message from conn: it sends the reply, then runs the
// open-orders publish when the command asks for one. A panic is answered
// with the plain-text internal error. Upstream calls outlive the
// connection; a client that disconnects mid-order does not abort it.
func (d *Dispatcher) Handle(ctx context.Context, conn Replier, raw []byte) {
	ctx = context.WithoutCancel(ctx)
	timer := monitor.NewTimer(d.cfg.Latency)
	res := d.safeDispatch(ctx, raw)

	if res.Reply != nil {
		if err := conn.Send(res.Reply); err != nil {
			d.log.WithField("type", res.Type).WithError(err).Warn("failed to queue reply")
		}
	}
	if res.Broadcast && d.publisher != nil {
		_ = d.publisher.Publish(ctx)
	}

	elapsed := timer.Stop()
	outcome := "ok"
	if kind := common.KindOf(res.Err); kind != "" {
		outcome = string(kind)
	}
	d.cfg.Metrics.ObserveMessage(res.Type, outcome, elapsed)
	logger.LogDuration(d.log, res.Type, elapsed, logger.Fields{"outcome": outcome})
}

func (d *Dispatcher) safeDispatch(ctx context.Context, raw []byte) (res Result) {
	defer func() {
		if p := recover(); p != nil {
			d.log.WithField("panic", fmt.Sprint(p)).Error("recovered panic while handling message")
			res = Result{
				Type:  "panic",
				Reply: []byte(protocol.InternalError),
				Err:   &common.Error{Kind: common.KindParse, Op: "dispatch", Msg: fmt.Sprint(p)},
			}
		}
	}()
	return d.Dispatch(ctx, raw)
}

// Dispatch computes the reply for raw without sending anything.
func (d *Dispatcher) Dispatch(ctx context.Context, raw []byte) Result {
	in, err := protocol.ParseInbound(raw)
	if err != nil {
		d.log.WithError(err).Debug("rejecting malformed message")
		return Result{Type: "invalid", Reply: []byte(protocol.InternalError), Err: err}
	}

	switch in.Type {
	case protocol.TypeEcho:
		return Result{Type: in.Type, Reply: in.Raw}
	case protocol.TypeGetInstruments:
		return d.getInstruments(ctx, in)
	case protocol.TypePlaceOrder:
		return d.placeOrder(ctx, in)
	case protocol.TypeModifyOrder:
		return d.modifyOrder(ctx, in)
	case protocol.TypeCancelOrder:
		return d.cancelOrder(ctx, in)
	default:
		err := validationError(in.Type, "Unsupported message type: "+in.Type)
		return Result{Type: "unsupported", Reply: protocol.NewErrorReply(protocol.TypeError, err.Msg), Err: err}
	}
}

func failed(cmd, tag string, err error) Result {
	msg := err.Error()
	var e *common.Error
	if errors.As(err, &e) && e.Msg != "" && e.Kind == common.KindValidation {
		msg = e.Msg
	}
	return Result{Type: cmd, Reply: protocol.NewErrorReply(tag, msg), Err: err}
}

func (d *Dispatcher) getInstruments(ctx context.Context, in *protocol.Inbound) Result {
	currency, kind, err := buildInstruments(in)
	if err != nil {
		return failed(in.Type, protocol.TypeInstruments, err)
	}
	resp, err := d.venue.GetInstruments(ctx, currency, kind)
	if err != nil || !resp.OK() {
		d.log.WithFields(logger.Fields{"currency": currency, "kind": kind}).WithError(err).Warn("instrument request failed")
		return Result{Type: in.Type, Reply: protocol.NewErrorReply(protocol.TypeInstruments, "Failed to fetch instruments"), Err: err}
	}
	reply, err := protocol.Retag(resp.Body, protocol.TypeInstruments)
	if err != nil {
		return Result{Type: in.Type, Reply: protocol.NewErrorReply(protocol.TypeInstruments, "Failed to fetch instruments"), Err: err}
	}
	return Result{Type: in.Type, Reply: reply}
}

// token fetches the access token; the returned Result is set on failure.
func (d *Dispatcher) token(ctx context.Context, cmd, tag string) (string, *Result) {
	tok, err := d.tokens.Get(ctx)
	if err != nil {
		d.log.WithField("type", cmd).WithError(err).Warn("no access token for command")
		return "", &Result{Type: cmd, Reply: protocol.NewErrorReply(tag, "Failed to obtain access token: "+err.Error()), Err: err}
	}
	return tok, nil
}

// upstreamReply turns a venue reply into the tagged client reply. httpText
// and noRespText render non-200 and missing replies.
func (d *Dispatcher) upstreamReply(cmd, tag, token string, resp *common.Response, err error, httpText func(*common.Response) string, noRespText string) Result {
	if common.IsUnauthorized(err) {
		d.tokens.Invalidate(token)
	}
	if resp == nil {
		if err == nil {
			err = &common.Error{Kind: common.KindTransport, Op: cmd, Msg: "no response"}
		}
		d.log.WithField("type", cmd).WithError(err).Warn("upstream request failed")
		return Result{Type: cmd, Reply: protocol.NewErrorReply(tag, noRespText), Err: err}
	}
	if !resp.OK() {
		if err == nil {
			err = &common.Error{Kind: common.KindUpstream, Op: cmd, Status: resp.StatusCode}
		}
		d.log.WithFields(logger.Fields{"type": cmd, "status": resp.StatusCode}).Warn("upstream rejected command")
		return Result{Type: cmd, Reply: protocol.NewErrorReply(tag, httpText(resp)), Err: err}
	}
	reply, rerr := protocol.Retag(resp.Body, tag)
	if rerr != nil {
		return Result{Type: cmd, Reply: protocol.NewErrorReply(tag, "Malformed upstream response"), Err: rerr}
	}
	return Result{Type: cmd, Reply: reply}
}

func httpStatusText(resp *common.Response) string {
	return fmt.Sprintf("HTTP Error: %d", resp.StatusCode)
}

func orderFailureText(resp *common.Response) string {
	return "Failed to process order: " + string(resp.Body)
}

func (d *Dispatcher) placeOrder(ctx context.Context, in *protocol.Inbound) Result {
	req, err := buildPlace(in)
	if err != nil {
		return failed(in.Type, protocol.TypeOrderResponse, err)
	}
	tok, fail := d.token(ctx, in.Type, protocol.TypeOrderResponse)
	if fail != nil {
		return *fail
	}
	resp, err := d.venue.PlaceOrder(ctx, tok, req.direction, req.params)
	res := d.upstreamReply(in.Type, protocol.TypeOrderResponse, tok, resp, err, orderFailureText, "No response from upstream API")
	// the venue accepted the order even when its reply cannot be re-tagged
	res.Broadcast = resp.OK()
	return res
}

func (d *Dispatcher) modifyOrder(ctx context.Context, in *protocol.Inbound) Result {
	params, err := buildModify(in)
	if err != nil {
		return failed(in.Type, protocol.TypeModifyResponse, err)
	}
	tok, fail := d.token(ctx, in.Type, protocol.TypeModifyResponse)
	if fail != nil {
		return *fail
	}
	resp, err := d.venue.EditOrder(ctx, tok, params)
	res := d.upstreamReply(in.Type, protocol.TypeModifyResponse, tok, resp, err, httpStatusText, "Failed to send request")
	res.Broadcast = true
	return res
}

func (d *Dispatcher) cancelOrder(ctx context.Context, in *protocol.Inbound) Result {
	orderID, err := buildCancel(in)
	if err != nil {
		return failed(in.Type, protocol.TypeCancelResponse, err)
	}
	tok, fail := d.token(ctx, in.Type, protocol.TypeCancelResponse)
	if fail != nil {
		return *fail
	}
	resp, err := d.venue.CancelOrder(ctx, tok, orderID)
	res := d.upstreamReply(in.Type, protocol.TypeCancelResponse, tok, resp, err, httpStatusText, "Failed to send request")
	res.Broadcast = true
	return res
}

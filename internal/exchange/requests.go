package exchange

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/predx/exchange/internal/market"
	"github.com/predx/exchange/internal/models"
)

// ErrWorkerUnavailable means the worker has stopped or the submitter's
// context ended before a reply arrived. It is an infrastructure fault, not
// a domain error, and boundary layers must map it to a server-side failure.
var ErrWorkerUnavailable = errors.New("exchange worker unavailable")

// request is one operation plus its single-use reply channel. Exactly one
// reply is sent per request.
type request interface {
	execute(s *State)
}

type result[T any] struct {
	value T
	err   error
}

// reply records the outcome and delivers it. Reply channels are buffered,
// so a submitter that gave up never blocks the worker.
func reply[T any](s *State, op string, ch chan<- result[T], value T, err error) {
	operationsTotal.WithLabelValues(op, outcomeLabel(err)).Inc()
	if err != nil {
		s.log.Debug("operation rejected", zap.String("op", op), zap.Error(err))
	}
	ch <- result[T]{value: value, err: err}
}

// submit enqueues a request and waits for its reply. Once the worker is
// gone every path returns ErrWorkerUnavailable, even if the request was
// accepted into the queue but never processed.
func submit[T any](ctx context.Context, s *State, req request, resp chan result[T]) (T, error) {
	var zero T
	select {
	case s.requests <- req:
	case <-s.done:
		return zero, ErrWorkerUnavailable
	case <-ctx.Done():
		return zero, ErrWorkerUnavailable
	}
	select {
	case r := <-resp:
		return r.value, r.err
	case <-s.done:
		// The worker may have replied just before stopping.
		select {
		case r := <-resp:
			return r.value, r.err
		default:
			return zero, ErrWorkerUnavailable
		}
	case <-ctx.Done():
		return zero, ErrWorkerUnavailable
	}
}

type signupRequest struct {
	username     string
	passwordHash string
	resp         chan result[string]
}

func (r *signupRequest) execute(s *State) {
	v, err := s.signup(r.username, r.passwordHash)
	reply(s, "signup", r.resp, v, err)
}

// Signup registers a username with an already-hashed credential and returns
// the username. Hashing happens at the boundary; the state never sees a
// plaintext password at signup.
func (s *State) Signup(ctx context.Context, username, passwordHash string) (string, error) {
	resp := make(chan result[string], 1)
	return submit(ctx, s, &signupRequest{username: username, passwordHash: passwordHash, resp: resp}, resp)
}

type signinRequest struct {
	username string
	password string
	resp     chan result[string]
}

func (r *signinRequest) execute(s *State) {
	v, err := s.signin(r.username, r.password)
	reply(s, "signin", r.resp, v, err)
}

// Signin verifies credentials and returns the username.
func (s *State) Signin(ctx context.Context, username, password string) (string, error) {
	resp := make(chan result[string], 1)
	return submit(ctx, s, &signinRequest{username: username, password: password, resp: resp}, resp)
}

type createMarketRequest struct {
	username   string
	marketName string
	resp       chan result[string]
}

func (r *createMarketRequest) execute(s *State) {
	v, err := s.createMarket(r.username, r.marketName)
	reply(s, "create_market", r.resp, v, err)
}

// CreateMarket allocates a fresh market and returns its identifier.
func (s *State) CreateMarket(ctx context.Context, username, marketName string) (string, error) {
	resp := make(chan result[string], 1)
	return submit(ctx, s, &createMarketRequest{username: username, marketName: marketName, resp: resp}, resp)
}

type limitOrderRequest struct {
	username string
	stock    models.StockType
	price    uint64
	quantity uint64
	side     models.Side
	marketID string
	resp     chan result[string]
}

func (r *limitOrderRequest) execute(s *State) {
	v, err := s.createLimitOrder(r.username, r.stock, r.price, r.quantity, r.side, r.marketID)
	reply(s, "limit_order", r.resp, v, err)
}

// CreateLimitOrder places a limit order and returns a human-readable
// result: either a resting notice or a summary of the executed trades.
func (s *State) CreateLimitOrder(ctx context.Context, username string, stock models.StockType, price, quantity uint64, side models.Side, marketID string) (string, error) {
	resp := make(chan result[string], 1)
	return submit(ctx, s, &limitOrderRequest{
		username: username,
		stock:    stock,
		price:    price,
		quantity: quantity,
		side:     side,
		marketID: marketID,
		resp:     resp,
	}, resp)
}

type marketOrderRequest struct {
	username string
	stock    models.StockType
	quantity uint64
	side     models.Side
	marketID string
	resp     chan result[string]
}

func (r *marketOrderRequest) execute(s *State) {
	v, err := s.createMarketOrder(r.username, r.stock, r.quantity, r.side, r.marketID)
	reply(s, "market_order", r.resp, v, err)
}

// CreateMarketOrder executes a market order against resting liquidity.
func (s *State) CreateMarketOrder(ctx context.Context, username string, stock models.StockType, quantity uint64, side models.Side, marketID string) (string, error) {
	resp := make(chan result[string], 1)
	return submit(ctx, s, &marketOrderRequest{
		username: username,
		stock:    stock,
		quantity: quantity,
		side:     side,
		marketID: marketID,
		resp:     resp,
	}, resp)
}

type splitRequest struct {
	username string
	marketID string
	amount   uint64
	resp     chan result[string]
}

func (r *splitRequest) execute(s *State) {
	v, err := s.splitStocks(r.username, r.marketID, r.amount)
	reply(s, "split", r.resp, v, err)
}

// SplitStocks mints amount of both stocks from amount of collateral.
func (s *State) SplitStocks(ctx context.Context, username, marketID string, amount uint64) (string, error) {
	resp := make(chan result[string], 1)
	return submit(ctx, s, &splitRequest{username: username, marketID: marketID, amount: amount, resp: resp}, resp)
}

type mergeRequest struct {
	username string
	marketID string
	amount   uint64
	resp     chan result[string]
}

func (r *mergeRequest) execute(s *State) {
	v, err := s.mergeStocks(r.username, r.marketID, r.amount)
	reply(s, "merge", r.resp, v, err)
}

// MergeStocks redeems amount of complete A+B pairs back into collateral.
func (s *State) MergeStocks(ctx context.Context, username, marketID string, amount uint64) (string, error) {
	resp := make(chan result[string], 1)
	return submit(ctx, s, &mergeRequest{username: username, marketID: marketID, amount: amount, resp: resp}, resp)
}

type userDetailsRequest struct {
	username string
	resp     chan result[UserDetails]
}

func (r *userDetailsRequest) execute(s *State) {
	v, err := s.userDetails(r.username)
	reply(s, "user_details", r.resp, v, err)
}

// UserDetails returns a copy of the user's balance and holdings.
func (s *State) UserDetails(ctx context.Context, username string) (UserDetails, error) {
	resp := make(chan result[UserDetails], 1)
	return submit(ctx, s, &userDetailsRequest{username: username, resp: resp}, resp)
}

type orderbookRequest struct {
	marketID string
	resp     chan result[market.Orderbooks]
}

func (r *orderbookRequest) execute(s *State) {
	v, err := s.getOrderbook(r.marketID)
	reply(s, "get_orderbook", r.resp, v, err)
}

// GetOrderbook returns a snapshot of both stock books for a market.
func (s *State) GetOrderbook(ctx context.Context, marketID string) (market.Orderbooks, error) {
	resp := make(chan result[market.Orderbooks], 1)
	return submit(ctx, s, &orderbookRequest{marketID: marketID, resp: resp}, resp)
}

type settleMarketRequest struct {
	username string
	marketID string
	outcome  models.WinningOutcome
	resp     chan result[string]
}

func (r *settleMarketRequest) execute(s *State) {
	v, err := s.settleMarket(r.username, r.marketID, r.outcome)
	reply(s, "settle_market", r.resp, v, err)
}

// SettleMarket records the winning outcome and closes the market to new
// orders. Only the market creator may settle. No payout is applied.
func (s *State) SettleMarket(ctx context.Context, username, marketID string, outcome models.WinningOutcome) (string, error) {
	resp := make(chan result[string], 1)
	return submit(ctx, s, &settleMarketRequest{username: username, marketID: marketID, outcome: outcome, resp: resp}, resp)
}

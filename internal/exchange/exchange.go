package exchange

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/predx/exchange/internal/market"
	"github.com/predx/exchange/internal/models"
)

const (
	DefaultStartingBalance = 5000
	DefaultQueueDepth      = 64
)

// CredentialVerifier reports whether a plaintext password matches a stored
// hash. Verification lives at the boundary (bcrypt in internal/auth); the
// state only stores opaque hashes and never re-derives them.
type CredentialVerifier func(password, hash string) bool

// Config for a State. Zero fields fall back to defaults; Verify must be set
// for Signin to succeed.
type Config struct {
	StartingBalance uint64
	QueueDepth      int
	Verify          CredentialVerifier
	Logger          *zap.Logger
}

// State owns every user and market for the lifetime of the process. All
// mutation happens on the Run goroutine, one request at a time, in arrival
// order; that total order is the system's only concurrency control and
// makes each multi-party trade settlement atomic relative to every other
// operation.
type State struct {
	users   map[string]*models.User
	markets map[string]*market.Market

	startingBalance uint64
	verify          CredentialVerifier
	log             *zap.Logger

	requests chan request
	done     chan struct{}
}

func New(cfg Config) *State {
	if cfg.StartingBalance == 0 {
		cfg.StartingBalance = DefaultStartingBalance
	}
	if cfg.QueueDepth == 0 {
		cfg.QueueDepth = DefaultQueueDepth
	}
	if cfg.Verify == nil {
		cfg.Verify = func(string, string) bool { return false }
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &State{
		users:           make(map[string]*models.User),
		markets:         make(map[string]*market.Market),
		startingBalance: cfg.StartingBalance,
		verify:          cfg.Verify,
		log:             cfg.Logger,
		requests:        make(chan request, cfg.QueueDepth),
		done:            make(chan struct{}),
	}
}

// Run consumes requests until ctx is cancelled. It must be the only
// goroutine that touches users and markets. After Run returns, every
// pending and future submitter observes ErrWorkerUnavailable.
func (s *State) Run(ctx context.Context) {
	defer close(s.done)
	s.log.Info("exchange worker started")
	for {
		select {
		case req := <-s.requests:
			req.execute(s)
		case <-ctx.Done():
			s.log.Info("exchange worker stopped")
			return
		}
	}
}

// Done is closed once the worker has stopped.
func (s *State) Done() <-chan struct{} {
	return s.done
}

func (s *State) signup(username, passwordHash string) (string, error) {
	if _, ok := s.users[username]; ok {
		return "", models.ErrUsernameTaken
	}
	s.users[username] = models.NewUser(username, passwordHash, s.startingBalance)
	return username, nil
}

func (s *State) signin(username, password string) (string, error) {
	user, ok := s.users[username]
	if !ok {
		return "", models.ErrUserNotFound
	}
	if !s.verify(password, user.PasswordHash) {
		return "", models.ErrInvalidCredentials
	}
	return username, nil
}

func (s *State) createMarket(username, name string) (string, error) {
	if _, ok := s.users[username]; !ok {
		return "", models.ErrUserNotFound
	}
	m := market.New(name, username)
	if _, ok := s.markets[m.ID]; ok {
		// UUID collision; practically unreachable but cheaper to refuse
		// than to clobber a live market.
		return "", models.ErrMarketExists
	}
	s.markets[m.ID] = m
	return m.ID, nil
}

func (s *State) createLimitOrder(username string, stock models.StockType, price, quantity uint64, side models.Side, marketID string) (string, error) {
	user, ok := s.users[username]
	if !ok {
		return "", models.ErrUserNotFound
	}
	m, ok := s.markets[marketID]
	if !ok {
		return "", models.ErrMarketNotFound
	}
	if m.IsSettled {
		return "", models.ErrMarketSettled
	}

	order := &models.Order{
		Price:     price,
		Quantity:  quantity,
		Stock:     stock,
		Username:  username,
		Timestamp: time.Now(),
		Side:      side,
		MarketID:  marketID,
	}
	trades, err := m.AddLimitOrder(order, user)
	if err != nil {
		return "", err
	}

	for _, t := range trades {
		s.settleTrade(t, marketID)
		if t.To == username && t.Price < price {
			// Price improvement: the buyer locked funds at their own limit
			// but filled cheaper; refund the difference.
			user.Balance += (price - t.Price) * t.Quantity
		}
	}
	tradesTotal.Add(float64(len(trades)))

	if len(trades) == 0 {
		return "Order placed, waiting to be matched.", nil
	}
	return formatTrades(trades), nil
}

func (s *State) createMarketOrder(username string, stock models.StockType, quantity uint64, side models.Side, marketID string) (string, error) {
	user, ok := s.users[username]
	if !ok {
		return "", models.ErrUserNotFound
	}
	m, ok := s.markets[marketID]
	if !ok {
		return "", models.ErrMarketNotFound
	}
	if m.IsSettled {
		return "", models.ErrMarketSettled
	}

	trades, err := m.ExecuteMarketOrder(username, side, quantity, stock, user)
	if err != nil {
		return "", err
	}

	for _, t := range trades {
		if t.From == t.To {
			// Self-trade: the user's own resting order was hit. No value
			// moves between parties, so settlement is skipped.
			continue
		}
		s.settleTrade(t, marketID)
	}
	tradesTotal.Add(float64(len(trades)))

	if len(trades) == 0 {
		return "No liquidity available, no trades executed.", nil
	}
	return formatTrades(trades), nil
}

// settleTrade applies one trade's two-sided update: the seller receives the
// proceeds, the buyer receives the stock. The buyer's funds and the
// seller's stock were already locked when their orders entered the book.
func (s *State) settleTrade(t models.Trade, marketID string) {
	s.users[t.From].Balance += t.Price * t.Quantity
	*s.users[t.To].HoldingsFor(marketID).Stock(t.Stock) += t.Quantity
}

func (s *State) splitStocks(username, marketID string, amount uint64) (string, error) {
	user, ok := s.users[username]
	if !ok {
		return "", models.ErrUserNotFound
	}
	if user.Balance < amount {
		return "", &models.InsufficientFundsError{Required: amount, Available: user.Balance}
	}
	if _, ok := s.markets[marketID]; !ok {
		return "", models.ErrMarketNotFound
	}

	user.Balance -= amount
	h := user.HoldingsFor(marketID)
	h.StockA += amount
	h.StockB += amount
	return fmt.Sprintf("Minted %d of Stock A and B", amount), nil
}

func (s *State) mergeStocks(username, marketID string, amount uint64) (string, error) {
	user, ok := s.users[username]
	if !ok {
		return "", models.ErrUserNotFound
	}
	if _, ok := s.markets[marketID]; !ok {
		return "", models.ErrMarketNotFound
	}
	h := user.HoldingsFor(marketID)
	if h.StockA < amount || h.StockB < amount {
		return "", &models.InsufficientHoldingsError{Required: amount, StockA: h.StockA, StockB: h.StockB}
	}

	h.StockA -= amount
	h.StockB -= amount
	user.Balance += amount
	return fmt.Sprintf("Merged %d of Stock A and B", amount), nil
}

// UserDetails is a copy of a user's balance and holdings; it shares nothing
// with live state.
type UserDetails struct {
	Balance  uint64                         `json:"balance"`
	Holdings map[string]models.UserHoldings `json:"holdings"`
}

func (s *State) userDetails(username string) (UserDetails, error) {
	user, ok := s.users[username]
	if !ok {
		return UserDetails{}, models.ErrUserNotFound
	}
	holdings := make(map[string]models.UserHoldings, len(user.Holdings))
	for id, h := range user.Holdings {
		holdings[id] = *h
	}
	return UserDetails{Balance: user.Balance, Holdings: holdings}, nil
}

func (s *State) getOrderbook(marketID string) (market.Orderbooks, error) {
	m, ok := s.markets[marketID]
	if !ok {
		return market.Orderbooks{}, models.ErrMarketNotFound
	}
	return m.Snapshot(), nil
}

func (s *State) settleMarket(username, marketID string, outcome models.WinningOutcome) (string, error) {
	if _, ok := s.users[username]; !ok {
		return "", models.ErrUserNotFound
	}
	m, ok := s.markets[marketID]
	if !ok {
		return "", models.ErrMarketNotFound
	}
	if m.CreatedBy != username {
		return "", models.ErrNotMarketCreator
	}
	if m.IsSettled {
		return "", models.ErrMarketSettled
	}

	m.Outcome = &outcome
	m.IsSettled = true
	return fmt.Sprintf("Market settled with outcome %s", outcome), nil
}

func formatTrades(trades []models.Trade) string {
	parts := make([]string, len(trades))
	for i, t := range trades {
		parts[i] = t.String()
	}
	return "[" + strings.Join(parts, ", ") + "]"
}

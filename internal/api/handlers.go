package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/predx/exchange/internal/auth"
	"github.com/predx/exchange/internal/exchange"
	"github.com/predx/exchange/internal/models"
)

type ctxKey string

const usernameKey ctxKey = "username"

// Handler contains dependencies for HTTP handlers.
type Handler struct {
	State *exchange.State
	Auth  *auth.Service
	Log   *zap.Logger
}

func NewHandler(state *exchange.State, authService *auth.Service, log *zap.Logger) *Handler {
	return &Handler{State: state, Auth: authService, Log: log}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	writeJSON(w, statusFor(err), map[string]string{"error": err.Error()})
}

func badRequest(w http.ResponseWriter, msg string) {
	writeJSON(w, http.StatusBadRequest, map[string]string{"error": msg})
}

// statusFor maps domain errors to client statuses. A vanished worker is a
// server-side fault, never a client-input error.
func statusFor(err error) int {
	var funds *models.InsufficientFundsError
	var stock *models.InsufficientStockError
	var holdings *models.InsufficientHoldingsError
	switch {
	case errors.Is(err, exchange.ErrWorkerUnavailable):
		return http.StatusBadGateway
	case errors.Is(err, models.ErrUserNotFound), errors.Is(err, models.ErrMarketNotFound):
		return http.StatusNotFound
	case errors.Is(err, models.ErrUsernameTaken), errors.Is(err, models.ErrMarketExists):
		return http.StatusConflict
	case errors.Is(err, models.ErrInvalidCredentials), errors.Is(err, models.ErrNotMarketCreator):
		return http.StatusUnauthorized
	case errors.As(err, &funds), errors.As(err, &stock), errors.As(err, &holdings),
		errors.Is(err, models.ErrMarketSettled):
		return http.StatusBadRequest
	default:
		return http.StatusBadRequest
	}
}

func parseStock(s string) (models.StockType, bool) {
	switch models.StockType(s) {
	case models.StockA, models.StockB:
		return models.StockType(s), true
	}
	return "", false
}

func parseSide(s string) (models.Side, bool) {
	switch models.Side(s) {
	case models.SideBuy, models.SideSell:
		return models.Side(s), true
	}
	return "", false
}

// Signup registers a user. The password is hashed here, before the request
// reaches the exchange worker.
func (h *Handler) Signup(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, "invalid request body")
		return
	}
	if req.Username == "" || req.Password == "" {
		badRequest(w, "username and password required")
		return
	}

	hashed, err := h.Auth.HashPassword(req.Password)
	if err != nil {
		h.Log.Error("failed to hash password", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to hash password"})
		return
	}

	username, err := h.State.Signup(r.Context(), req.Username, hashed)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"username": username})
}

// Signin verifies credentials and returns a JWT.
func (h *Handler) Signin(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, "invalid request body")
		return
	}

	username, err := h.State.Signin(r.Context(), req.Username, req.Password)
	if err != nil {
		writeError(w, err)
		return
	}

	token, err := h.Auth.GenerateToken(username)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to generate token"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"username": username, "token": token})
}

// JWTAuthMiddleware verifies bearer tokens and stores the username in the
// request context.
func (h *Handler) JWTAuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tokenString := r.Header.Get("Authorization")
		if tokenString == "" {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "authorization header required"})
			return
		}
		if len(tokenString) > 7 && tokenString[:7] == "Bearer " {
			tokenString = tokenString[7:]
		}

		username, err := h.Auth.ParseToken(tokenString)
		if err != nil {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "invalid or expired token"})
			return
		}

		ctx := context.WithValue(r.Context(), usernameKey, username)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func usernameFrom(r *http.Request) (string, bool) {
	username, ok := r.Context().Value(usernameKey).(string)
	return username, ok && username != ""
}

// CreateMarket creates a new market owned by the authenticated user.
func (h *Handler) CreateMarket(w http.ResponseWriter, r *http.Request) {
	username, ok := usernameFrom(r)
	if !ok {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
		return
	}

	var req struct {
		Name string `json:"name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Name == "" {
		badRequest(w, "market name required")
		return
	}

	marketID, err := h.State.CreateMarket(r.Context(), username, req.Name)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"market_id": marketID})
}

// PlaceLimitOrder places a limit order for the authenticated user.
func (h *Handler) PlaceLimitOrder(w http.ResponseWriter, r *http.Request) {
	username, ok := usernameFrom(r)
	if !ok {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
		return
	}

	var req struct {
		Stock    string `json:"stock"`
		Price    uint64 `json:"price"`
		Quantity uint64 `json:"quantity"`
		Side     string `json:"side"`
		MarketID string `json:"market_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, "invalid request body")
		return
	}
	stock, ok := parseStock(req.Stock)
	if !ok {
		badRequest(w, "stock must be 'stock_a' or 'stock_b'")
		return
	}
	side, ok := parseSide(req.Side)
	if !ok {
		badRequest(w, "side must be 'buy' or 'sell'")
		return
	}
	if req.Price == 0 || req.Quantity == 0 {
		badRequest(w, "price and quantity must be positive")
		return
	}
	if req.MarketID == "" {
		badRequest(w, "market_id required")
		return
	}

	msg, err := h.State.CreateLimitOrder(r.Context(), username, stock, req.Price, req.Quantity, side, req.MarketID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"result": msg})
}

// PlaceMarketOrder executes a market order for the authenticated user.
func (h *Handler) PlaceMarketOrder(w http.ResponseWriter, r *http.Request) {
	username, ok := usernameFrom(r)
	if !ok {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
		return
	}

	var req struct {
		Stock    string `json:"stock"`
		Quantity uint64 `json:"quantity"`
		Side     string `json:"side"`
		MarketID string `json:"market_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, "invalid request body")
		return
	}
	stock, ok := parseStock(req.Stock)
	if !ok {
		badRequest(w, "stock must be 'stock_a' or 'stock_b'")
		return
	}
	side, ok := parseSide(req.Side)
	if !ok {
		badRequest(w, "side must be 'buy' or 'sell'")
		return
	}
	if req.Quantity == 0 {
		badRequest(w, "quantity must be positive")
		return
	}
	if req.MarketID == "" {
		badRequest(w, "market_id required")
		return
	}

	msg, err := h.State.CreateMarketOrder(r.Context(), username, stock, req.Quantity, side, req.MarketID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"result": msg})
}

// SplitStocks mints complementary stock pairs from the user's balance.
func (h *Handler) SplitStocks(w http.ResponseWriter, r *http.Request) {
	h.splitOrMerge(w, r, h.State.SplitStocks)
}

// MergeStocks redeems complementary stock pairs back into balance.
func (h *Handler) MergeStocks(w http.ResponseWriter, r *http.Request) {
	h.splitOrMerge(w, r, h.State.MergeStocks)
}

func (h *Handler) splitOrMerge(w http.ResponseWriter, r *http.Request, op func(context.Context, string, string, uint64) (string, error)) {
	username, ok := usernameFrom(r)
	if !ok {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
		return
	}

	var req struct {
		MarketID string `json:"market_id"`
		Amount   uint64 `json:"amount"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, "invalid request body")
		return
	}
	if req.MarketID == "" {
		badRequest(w, "market_id required")
		return
	}
	if req.Amount == 0 {
		badRequest(w, "amount must be positive")
		return
	}

	msg, err := op(r.Context(), username, req.MarketID, req.Amount)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"result": msg})
}

// UserDetails returns the authenticated user's balance and holdings.
func (h *Handler) UserDetails(w http.ResponseWriter, r *http.Request) {
	username, ok := usernameFrom(r)
	if !ok {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
		return
	}

	details, err := h.State.UserDetails(r.Context(), username)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, details)
}

// GetOrderbook returns a snapshot of both stock books for a market.
func (h *Handler) GetOrderbook(w http.ResponseWriter, r *http.Request) {
	marketID := chi.URLParam(r, "marketID")

	books, err := h.State.GetOrderbook(r.Context(), marketID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, books)
}

// SettleMarket records a market's winning outcome. Creator only.
func (h *Handler) SettleMarket(w http.ResponseWriter, r *http.Request) {
	username, ok := usernameFrom(r)
	if !ok {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
		return
	}
	marketID := chi.URLParam(r, "marketID")

	var req struct {
		Outcome string `json:"outcome"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, "invalid request body")
		return
	}
	var outcome models.WinningOutcome
	switch models.WinningOutcome(req.Outcome) {
	case models.OutcomeA, models.OutcomeB, models.OutcomeNeither:
		outcome = models.WinningOutcome(req.Outcome)
	default:
		badRequest(w, "outcome must be 'a', 'b' or 'neither'")
		return
	}

	msg, err := h.State.SettleMarket(r.Context(), username, marketID, outcome)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"result": msg})
}

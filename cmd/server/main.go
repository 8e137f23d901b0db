package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/gorilla/websocket"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/predx/exchange/internal/api"
	"github.com/predx/exchange/internal/auth"
	"github.com/predx/exchange/internal/exchange"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // allow all origins in development
	},
}

func newLogger() *zap.Logger {
	cfg := zap.NewProductionConfig()
	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	logger, err := cfg.Build()
	if err != nil {
		panic(err)
	}
	return logger
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envUint(key string, fallback uint64) uint64 {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseUint(v, 10, 64); err == nil {
			return n
		}
	}
	return fallback
}

// handleWebSocket streams periodic order book snapshots for one market.
func handleWebSocket(state *exchange.State, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		marketID := chi.URLParam(r, "marketID")
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			logger.Warn("websocket upgrade failed", zap.Error(err))
			return
		}
		defer conn.Close()

		ticker := time.NewTicker(2 * time.Second)
		defer ticker.Stop()
		for range ticker.C {
			books, err := state.GetOrderbook(r.Context(), marketID)
			if err != nil {
				conn.WriteJSON(map[string]string{"error": err.Error()})
				return
			}
			if err := conn.WriteJSON(books); err != nil {
				return
			}
		}
	}
}

func main() {
	_ = godotenv.Load()

	logger := newLogger()
	defer logger.Sync()

	addr := envOr("EXCHANGE_ADDR", ":8080")
	secret := envOr("EXCHANGE_JWT_SECRET", "dev-secret")
	startingBalance := envUint("EXCHANGE_STARTING_BALANCE", exchange.DefaultStartingBalance)

	authService := auth.NewService(secret)

	state := exchange.New(exchange.Config{
		StartingBalance: startingBalance,
		Verify:          authService.VerifyPassword,
		Logger:          logger,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go state.Run(ctx)

	handler := api.NewHandler(state, authService, logger)

	r := chi.NewRouter()
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))
	r.Use(api.MetricsMiddleware)

	r.Handle("/metrics", promhttp.Handler())
	r.Get("/ws/{marketID}", handleWebSocket(state, logger))

	// Public endpoints
	r.Post("/auth/signup", handler.Signup)
	r.Post("/auth/signin", handler.Signin)

	// Protected endpoints (require JWT)
	r.Group(func(r chi.Router) {
		r.Use(handler.JWTAuthMiddleware)
		r.Post("/markets", handler.CreateMarket)
		r.Post("/markets/{marketID}/settle", handler.SettleMarket)
		r.Post("/orders/limit", handler.PlaceLimitOrder)
		r.Post("/orders/market", handler.PlaceMarketOrder)
		r.Post("/split", handler.SplitStocks)
		r.Post("/merge", handler.MergeStocks)
		r.Get("/me", handler.UserDetails)
		r.Get("/orderbook/{marketID}", handler.GetOrderbook)
	})

	srv := &http.Server{Addr: addr, Handler: r}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	logger.Info("starting server", zap.String("addr", addr))
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Fatal("server failed", zap.Error(err))
	}
}

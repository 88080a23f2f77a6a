package main

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/spf13/viper"
	httpSwagger "github.com/swaggo/http-swagger"
	"github.com/web3lancer/backend/docs"
	"github.com/web3lancer/backend/internal/database"
	"github.com/web3lancer/backend/internal/handlers"
	mW "github.com/web3lancer/backend/internal/middleware"
	"github.com/web3lancer/backend/internal/services"
)

// @title Web3Lancer Escrow API
// @version 1.0
// @description API for the freelance marketplace escrow and wallet platform
// @host localhost:8080
// @BasePath /api/v1
// @schemes http https

func main() {
	// Initialize config
	viper.SetConfigFile(".env")
	viper.AutomaticEnv()

	viper.BindEnv("database.host", "DATABASE_HOST")
	viper.BindEnv("database.port", "DATABASE_PORT")
	viper.BindEnv("database.user", "DATABASE_USER")
	viper.BindEnv("database.password", "DATABASE_PASSWORD")
	viper.BindEnv("database.name", "DATABASE_NAME")
	viper.BindEnv("database.ssl_mode", "DATABASE_SSL_MODE")

	viper.BindEnv("redis.host", "REDIS_HOST")
	viper.BindEnv("redis.port", "REDIS_PORT")
	viper.BindEnv("redis.password", "REDIS_PASSWORD")
	viper.BindEnv("redis.db", "REDIS_DB")

	viper.BindEnv("jwt.secret_key", "JWT_SECRET_KEY")
	viper.BindEnv("jwt.expiry_hours", "JWT_EXPIRY_HOURS")
	viper.BindEnv("argon2.time", "ARGON2_TIME")
	viper.BindEnv("argon2.memory", "ARGON2_MEMORY")
	viper.BindEnv("argon2.threads", "ARGON2_THREADS")
	viper.BindEnv("argon2.key_length", "ARGON2_KEY_LENGTH")
	viper.BindEnv("argon2.salt_length", "ARGON2_SALT_LENGTH")
	viper.BindEnv("escrow.fee_percentage", "ESCROW_FEE_PERCENTAGE")
	viper.BindEnv("escrow.platform_wallet_id", "ESCROW_PLATFORM_WALLET_ID")

	if err := viper.ReadInConfig(); err != nil {
		log.Printf("Config file not found, using defaults: %v", err)
	}

	// Initialize Swagger docs
	docs.SwaggerInfo.Title = "Web3Lancer Escrow API"
	docs.SwaggerInfo.Description = "API for the freelance marketplace escrow and wallet platform"
	docs.SwaggerInfo.Version = "1.0"
	docs.SwaggerInfo.Host = "localhost:8080"
	docs.SwaggerInfo.BasePath = "/api/v1"
	docs.SwaggerInfo.Schemes = []string{"http", "https"}

	// Initialize services
	db := database.InitDatabase()
	defer db.Close()

	redisClient := database.InitRedis()
	if redisClient != nil {
		defer redisClient.Close()
	}

	authService := services.NewAuthService(db, redisClient)
	escrowService := services.NewEscrowService(db, redisClient)
	contractService := services.NewContractService(db)
	walletService := services.NewWalletService(db, redisClient)
	bankService := services.NewBankService()
	paymentRequestService := services.NewPaymentRequestService(db, redisClient)
	paymentRequestHandler := handlers.NewPaymentRequestHandler(paymentRequestService)

	// Initialize auth middleware with Redis
	mW.InitAuthMiddleware(redisClient)

	// Setup router
	r := chi.NewRouter()

	// Middleware
	r.Use(mW.SecurityHeaders)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)
	r.Use(middleware.Timeout(60 * time.Second))

	// CORS
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"https://*", "http://*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "Idempotency-Key"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           86400,
	}))

	// Health check
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"status": "healthy"})
	})

	// Swagger documentation
	r.Get("/swagger/*", httpSwagger.Handler(
		httpSwagger.URL("http://localhost:8080/swagger/doc.json"),
	))

	// Static file server for bank logos
	r.Handle("/static/bank-logos/*", http.StripPrefix("/static/bank-logos/",
		mW.StaticFileServer("./static/bank-logos")))

	// API routes
	r.Route("/api/v1", func(r chi.Router) {
		// Public endpoints (no auth required)
		r.Post("/auth/register", authService.Register)
		r.Post("/auth/login", authService.Login)
		r.Post("/auth/logout", authService.Logout)
		r.Get("/banks", bankService.GetAllBanks)

		// Protected endpoints (auth required)
		r.Group(func(r chi.Router) {
			r.Use(mW.AuthMiddleware)

			r.Get("/auth/account", authService.GetUserAccount)

			// Escrow workflow
			r.Get("/escrow", escrowService.GetEscrows)
			r.Post("/escrow", escrowService.CreateEscrow)
			r.Put("/escrow", escrowService.UpdateEscrow)

			// Contracts and milestones
			r.Post("/contracts", contractService.CreateContract)
			r.Get("/contracts", contractService.ListContracts)
			r.Get("/contracts/{contractId}", contractService.GetContract)
			r.Put("/contracts/{contractId}/status", contractService.UpdateContractStatus)
			r.Put("/milestones/{milestoneId}/submit", contractService.SubmitMilestone)
			r.Put("/milestones/{milestoneId}/approve", contractService.ApproveMilestone)

			// Wallets
			r.Get("/wallets", walletService.ListWallets)
			r.Post("/wallets", walletService.CreateWallet)
			r.Get("/wallets/balance", walletService.BalanceEnquiry)
			r.Post("/wallets/deposit", walletService.Deposit)
			r.Post("/wallets/withdraw", walletService.Withdraw)

			// Ledger history
			r.Get("/transactions", walletService.ListTransactions)
			r.Get("/transactions/{txId}", walletService.GetTransaction)

			// Payment requests
			r.Post("/payment-requests", paymentRequestHandler.CreateRequest)
			r.Get("/payment-requests/{code}", paymentRequestHandler.ResolveRequest)
			r.Post("/payment-requests/pay", paymentRequestHandler.PayRequest)
		})
	})

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	// Start server
	server := &http.Server{
		Addr:         ":" + port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Graceful shutdown
	go func() {
		log.Printf("Server starting on :%s", port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Server shutting down...")
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Fatal("Server forced to shutdown:", err)
	}

	log.Println("Server stopped")
}

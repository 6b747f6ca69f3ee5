// Drugs.ng WhatsApp Bot Server
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"

	"github.com/drugsng/whatsapp-bot/internal/api"
	"github.com/drugsng/whatsapp-bot/internal/bot"
	"github.com/drugsng/whatsapp-bot/internal/channel"
	"github.com/drugsng/whatsapp-bot/internal/config"
	"github.com/drugsng/whatsapp-bot/internal/drugsng"
	"github.com/drugsng/whatsapp-bot/internal/mailer"
	"github.com/drugsng/whatsapp-bot/internal/nlp"
	"github.com/drugsng/whatsapp-bot/internal/notify"
	"github.com/drugsng/whatsapp-bot/internal/otp"
	"github.com/drugsng/whatsapp-bot/internal/payment"
	"github.com/drugsng/whatsapp-bot/internal/prescription"
	"github.com/drugsng/whatsapp-bot/internal/shared"
	"github.com/drugsng/whatsapp-bot/internal/store"
	"github.com/drugsng/whatsapp-bot/internal/support"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	slog.Info("Starting server", "port", cfg.Port, "dev", cfg.IsDevelopment())

	// Initialize dependencies.
	repo, err := store.NewSQLite(cfg.DBPath)
	if err != nil {
		slog.Error("Failed to initialize database", "error", err)
		os.Exit(1)
	}
	defer func() {
		if closeErr := repo.Close(); closeErr != nil {
			slog.Error("Failed to close repository", "error", closeErr)
		}
	}()

	if err := repo.Ping(context.Background()); err != nil {
		slog.Error("Database health check failed", "error", err)
		os.Exit(1)
	}
	slog.Info("Database connected")

	// Outbound channels.
	whatsapp := notify.NewWhatsAppClient(cfg.WhatsApp)
	sandbox := channel.NewSandbox(cfg.IsDevelopment())
	notifier := channel.NewRouter(sandbox, whatsapp)

	// Intent resolution: optional NLU provider, deterministic matcher behind it.
	var primary nlp.Resolver
	if cfg.NLUProvider.URL != "" {
		primary = nlp.NewHTTPProvider(cfg.NLUProvider.URL, cfg.NLUProvider.Timeout)
		slog.Info("NLU provider enabled", "url", cfg.NLUProvider.URL)
	} else {
		slog.Info("NLU provider disabled (NLU_PROVIDER_URL not set), matcher serves all requests")
	}
	resolver := nlp.NewResolver(primary, cfg.NLUProvider.Timeout)

	// Services. The relay and the dispatcher share one per-sender lock set
	// so agent-side chat actions serialize with the customer's own turns.
	locks := &shared.KeyedMutex{}
	relay := support.NewRelay(repo, notifier, locks)
	backend := drugsng.NewHTTPClient(cfg.Marketplace)
	otps := otp.NewService(repo)
	mail := mailer.NewBrevoClient(cfg.Mailer)
	callbackURL := cfg.PublicURL + "/payment/callback"
	payments := payment.NewHTTPLinkGenerator(cfg.Payment, callbackURL)
	prescriptions := prescription.NewService(repo)

	dispatcher := bot.NewDispatcher(bot.Deps{
		Repo:          repo,
		Resolver:      resolver,
		Relay:         relay,
		Backend:       backend,
		OTPs:          otps,
		Mail:          mail,
		Payments:      payments,
		Prescriptions: prescriptions,
		Notifier:      notifier,
		Locks:         locks,
	}, cfg.RateLimit)
	sandbox.SetDispatcher(dispatcher)

	// Handlers.
	webhookHandler := api.NewWebhookHandler(cfg.WhatsApp.VerifyToken, dispatcher, relay, whatsapp)
	healthHandler := api.NewHealthHandler(repo)
	paymentWebhooks := payment.NewWebhookHandler(cfg.Payment, repo, notifier)

	// Setup router.
	r := chi.NewRouter()

	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)

	healthHandler.RegisterRoutes(r)
	webhookHandler.RegisterRoutes(r)
	paymentWebhooks.RegisterRoutes(r)

	// WebSocket chat sandbox (development only).
	r.Get("/ws/chat", sandbox.ServeHTTP)

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store.StartTTLWorker(ctx, repo, cfg.SessionTTL)

	go func() {
		slog.Info("Server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Server failed", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	stop()

	slog.Info("Shutting down gracefully...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
		os.Exit(1)
	}

	slog.Info("Server stopped successfully")
}

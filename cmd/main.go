// cmd/main.go is the application entry point.
// It wires together all layers and starts the HTTP server.
package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/radkollektiv/ridesignup/internal/config"
	"github.com/radkollektiv/ridesignup/internal/database"
	"github.com/radkollektiv/ridesignup/internal/eventmeta"
	"github.com/radkollektiv/ridesignup/internal/handler"
	"github.com/radkollektiv/ridesignup/internal/identity"
	"github.com/radkollektiv/ridesignup/internal/notify"
	"github.com/radkollektiv/ridesignup/internal/policy"
	"github.com/radkollektiv/ridesignup/internal/repository"
	"github.com/radkollektiv/ridesignup/internal/service"
)

func main() {
	log := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	ctx := context.Background()

	cfg, err := config.Load()
	if err != nil {
		log.Error("config", "error", err)
		os.Exit(1)
	}

	pool, err := database.NewPool(ctx, cfg)
	if err != nil {
		log.Error("database", "error", err)
		os.Exit(1)
	}
	defer pool.Close()
	log.Info("connected to postgres")

	ledger := repository.NewLedger(pool)
	events := eventmeta.NewClient(cfg.EventMetaURL)
	ids := identity.NewClient(cfg.JWTSecret, cfg.ProfileURL)
	notifier := notify.NewSender(cfg.NotifyURL)
	pol := policy.NewEvaluator(cfg.MemberEarlyDays, cfg.FlintaEarlyDays)
	svc := service.NewRegistrationService(ledger, events, ids, notifier, pol, log)
	regHandler := handler.NewRegistrationHandler(svc, ids, log)

	r := chi.NewRouter()
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(handler.Logger(log))
	r.Use(handler.CORS)

	r.Get("/health", handler.HealthCheck)

	r.Route("/api", func(r chi.Router) {
		r.Use(regHandler.Authenticate)
		r.Post("/registrations", regHandler.Signup)
		r.Post("/registrations/cancel-by-token", regHandler.CancelByToken)
		r.Group(func(r chi.Router) {
			r.Use(handler.RequireAuth)
			r.Post("/registrations/cancel", regHandler.CancelOwn)
			r.Post("/levels/cancel", regHandler.BulkCancel)
		})
	})

	srv := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info("server listening", "addr", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("server", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("graceful shutdown failed", "error", err)
		os.Exit(1)
	}
	log.Info("server stopped")
}

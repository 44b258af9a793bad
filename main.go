package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gluk-w/claworc/terminal-server/internal/auth"
	"github.com/gluk-w/claworc/terminal-server/internal/config"
	"github.com/gluk-w/claworc/terminal-server/internal/database"
	"github.com/gluk-w/claworc/terminal-server/internal/handlers"
	"github.com/gluk-w/claworc/terminal-server/internal/logging"
	"github.com/gluk-w/claworc/terminal-server/internal/metrics"
	"github.com/gluk-w/claworc/terminal-server/internal/middleware"
	"github.com/gluk-w/claworc/terminal-server/internal/orchestrator"
	"github.com/gluk-w/claworc/terminal-server/internal/stats"
	"github.com/gluk-w/claworc/terminal-server/internal/terminals"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
)

func main() {
	// Handle CLI commands before starting the server
	if len(os.Args) > 1 && os.Args[1] == "--hash-password" {
		runHashPassword()
		return
	}

	config.Load()
	logging.Init()
	defer logging.Close()

	if err := database.Init(); err != nil {
		log.Fatalf("Database init: %v", err)
	}
	defer database.Close()

	log.Printf("Config: platform=%s, max_containers=%d, ttl=%s, idle_timeout=%s, sweep_interval=%s",
		config.Cfg.ContainerPlatform, config.Cfg.MaxContainers, config.Cfg.TTL,
		config.Cfg.IdleTimeout(), config.Cfg.SweepInterval)

	ctx := context.Background()
	if err := orchestrator.InitOrchestrator(ctx); err != nil {
		log.Printf("WARNING: %v", err)
	}

	svc := terminals.NewService(
		database.NewTerminalStore(database.DB),
		orchestrator.Get(),
		stats.NewCache(config.Cfg.StatsCacheMaxAge),
		terminals.OptionsFromConfig(config.Cfg),
	)
	handlers.Terminals = svc

	sweeper := terminals.NewReconciler(svc)
	handlers.Sweeper = sweeper
	if err := sweeper.Start(config.Cfg.SweepInterval); err != nil {
		log.Fatalf("Reconciler start: %v", err)
	}

	// Graceful shutdown
	srv := &http.Server{
		Addr:    config.Cfg.ListenAddr,
		Handler: newRouter(config.Cfg.SecretKey),
	}

	sigCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		log.Printf("Server starting on %s", config.Cfg.ListenAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	<-sigCtx.Done()
	log.Println("Shutting down...")

	sweeper.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("Shutdown error: %v", err)
	}
	if err := svc.Shutdown(shutdownCtx); err != nil {
		log.Printf("Background work did not finish: %v", err)
	}
	log.Println("Server stopped")
}

func newRouter(secret string) chi.Router {
	r := chi.NewRouter()
	r.Use(chimw.Logger)
	r.Use(chimw.Recoverer)
	r.Use(middleware.PeerAddr)
	r.Use(chimw.RealIP)
	r.Use(middleware.Metrics)

	// Health and metrics (no auth)
	r.Get("/health", handlers.HealthCheck)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		// Client-facing terminal API
		r.Post("/terminals", handlers.CreateTerminal)
		r.Get("/terminals", handlers.ListTerminals)
		r.Get("/terminals/{id}", handlers.GetTerminal)
		r.Delete("/terminals/{id}", handlers.DeleteTerminal)
		r.Post("/terminals/{id}/start", handlers.StartTerminal)
		r.Get("/terminals/{id}/status", handlers.GetTerminalStatus)
		r.Get("/terminals/{id}/events", handlers.TerminalEvents)

		// Container callbacks (per-terminal bearer token, checked in the handlers)
		r.Post("/callbacks/tunnel", handlers.ReportTunnel)
		r.Post("/callbacks/status", handlers.ReportStatus)
		r.Post("/callbacks/health", handlers.ReportHealth)
		r.Post("/callbacks/stats", handlers.ReportStats)
		r.Post("/callbacks/idle", handlers.ReportIdle)

		// Admin
		r.Post("/admin/login", handlers.AdminLogin)
		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireAdmin(secret))

			r.Get("/admin/terminals", handlers.AdminListTerminals)
			r.Delete("/admin/terminals/{id}", handlers.AdminDeleteTerminal)
			r.Get("/admin/stats", handlers.AdminStats)
			r.Get("/admin/logs", handlers.GetServerLogs)
			r.Delete("/admin/logs", handlers.ClearServerLogs)
			r.Post("/admin/sweep", handlers.RunSweep)
		})
	})
	return r
}

func runHashPassword() {
	fs := flag.NewFlagSet("hash-password", flag.ExitOnError)
	password := fs.String("password", "", "Password to hash")
	fs.Parse(os.Args[2:])

	if *password == "" {
		fmt.Fprintln(os.Stderr, "Usage: terminal-server --hash-password --password <pass>")
		os.Exit(1)
	}

	hash, err := auth.HashPassword(*password)
	if err != nil {
		log.Fatalf("Failed to hash password: %v", err)
	}
	fmt.Println(hash)
	fmt.Fprintln(os.Stderr, "Set TERMINALS_ADMIN_PASSWORD_HASH to the value above.")
}

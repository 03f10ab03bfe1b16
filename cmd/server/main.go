package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dgallion1/pageedit/internal/api"
	"github.com/dgallion1/pageedit/internal/audit"
	"github.com/dgallion1/pageedit/internal/backup"
	"github.com/dgallion1/pageedit/internal/config"
	"github.com/dgallion1/pageedit/internal/pagestore"
	"github.com/dgallion1/pageedit/internal/session"
)

func main() {
	log := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		log.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize clients and stores.
	pages := pagestore.NewClient(cfg.PagestoreURL, cfg.PagestoreAPIKey)
	backups := backup.NewStore(cfg.BackupDir, cfg.BackupRetention)

	auditLog, err := audit.Open(cfg.AuditDBPath)
	if err != nil {
		log.Error("open audit log", "error", err)
		os.Exit(1)
	}

	// Initialize session controller.
	ctrl := session.NewController(pages, backups, auditLog, cfg.SessionTTL, cfg.WriteMessage, log)
	ctrl.Start(ctx)

	// Initialize HTTP server.
	srv := api.NewServer(ctrl, pages, auditLog, log, cfg)

	httpServer := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      srv,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 120 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Graceful shutdown.
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		log.Info("shutting down...")

		ctrl.Stop()

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		httpServer.Shutdown(shutdownCtx)

		pages.Close()
		auditLog.Close()
	}()

	log.Info("starting pageedit", "port", cfg.Port)
	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Error("server error", "error", err)
		os.Exit(1)
	}
}

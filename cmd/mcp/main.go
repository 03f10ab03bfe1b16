// Command mcp exposes the edit roundtrip as MCP tools over stdio, for use by
// agent hosts. Logs go to stderr; stdout carries the protocol.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/dgallion1/pageedit/internal/audit"
	"github.com/dgallion1/pageedit/internal/backup"
	"github.com/dgallion1/pageedit/internal/config"
	"github.com/dgallion1/pageedit/internal/pagestore"
	"github.com/dgallion1/pageedit/internal/session"
)

const version = "0.1.0"

func main() {
	log := slog.New(slog.NewJSONHandler(os.Stderr, nil))

	cfg := config.Load()
	if cfg.PagestoreAPIKey == "" {
		log.Error("PAGESTORE_API_KEY is required")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	pages := pagestore.NewClient(cfg.PagestoreURL, cfg.PagestoreAPIKey)
	defer pages.Close()
	backups := backup.NewStore(cfg.BackupDir, cfg.BackupRetention)

	auditLog, err := audit.Open(cfg.AuditDBPath)
	if err != nil {
		log.Error("open audit log", "error", err)
		os.Exit(1)
	}
	defer auditLog.Close()

	ctrl := session.NewController(pages, backups, auditLog, cfg.SessionTTL, cfg.WriteMessage, log)
	ctrl.Start(ctx)
	defer ctrl.Stop()

	srv := mcp.NewServer(&mcp.Implementation{Name: "pageedit", Version: version}, nil)
	ctrl.RegisterMCP(srv)

	log.Info("starting pageedit mcp server")
	if err := srv.Run(ctx, &mcp.StdioTransport{}); err != nil {
		log.Error("mcp server error", "error", err)
		os.Exit(1)
	}
}

package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/rentdesk/mailorder/internal/credential"
	"github.com/rentdesk/mailorder/internal/ingest"
	"github.com/rentdesk/mailorder/internal/mailbox"
	"github.com/rentdesk/mailorder/internal/model"
	"github.com/rentdesk/mailorder/internal/store"
)

func main() {
	configPath := flag.String("config", model.DefaultConfigPath(), "path to configuration file")
	checkNow := flag.Bool("check-now", false, "run a single poll cycle on startup")
	flag.Parse()

	cfg, err := model.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	logger := setupLogger(cfg.LogLevel)

	// Fall back to the OS keyring when the config omits the secret.
	if cfg.Mailbox.Password == "" {
		if secret, err := credential.Get(credential.KeyMailboxPassword); err == nil {
			cfg.Mailbox.Password = secret
		} else {
			logger.Debug("no mailbox password in keyring", "error", err)
		}
	}

	st, err := store.NewSQLiteStore(cfg.Database.Path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	defer st.Close()

	conn := mailbox.NewConnector(cfg.Mailbox, logger)
	fetcher := mailbox.NewFetcher(conn, logger)
	svc := ingest.NewService(*cfg, st, conn, fetcher, logger)
	defer svc.Close()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if ok, reason := cfg.Validate(); !ok {
		// Not fatal: the pipeline stays off and the process idles so
		// the control surface can still report status.
		logger.Warn("order ingestion disabled", "reason", reason)
	} else if cfg.Monitor.AutoStart {
		svc.StartMonitoring(cfg.Monitor.PollIntervalMin)
	} else {
		logger.Info("auto-start disabled, waiting for manual start")
	}

	if *checkNow {
		svc.CheckNow()
	}

	logger.Info("mailorder running",
		"host", cfg.Mailbox.Host, "user", cfg.Mailbox.Username)

	<-ctx.Done()
	logger.Info("shutting down")
}

func setupLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}

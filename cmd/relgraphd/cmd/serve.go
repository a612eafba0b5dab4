package cmd

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/relgraph/relgraph/internal/api"
	"github.com/relgraph/relgraph/internal/blacklist"
	"github.com/relgraph/relgraph/internal/coordinator"
	"github.com/relgraph/relgraph/internal/ingest"
	"github.com/relgraph/relgraph/internal/oauth"
	"github.com/relgraph/relgraph/internal/provider/gmail"
	"github.com/relgraph/relgraph/internal/scheduler"
	"github.com/relgraph/relgraph/internal/store"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run relgraphd as a daemon with scheduled sync",
	Long: `Run relgraphd as a long-running daemon that syncs accounts on schedule.

The daemon runs in the foreground and performs:
  - An HTTP query API on the configured port (default: 8080)
  - Scheduled ingestion runs based on account config

Configure schedules in config.toml:
  [[accounts]]
  email = "you@gmail.com"
  schedule = "0 2 * * *"   # 2am daily (cron format)
  enabled = true

Cron format: minute hour day-of-month month day-of-week
  Examples:
    0 2 * * *     = 2:00 AM daily
    */15 * * * *  = Every 15 minutes
    0 0 * * 0     = Midnight on Sundays

Use Ctrl+C to stop the daemon gracefully.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	if err := cfg.Server.ValidateSecure(); err != nil {
		return err
	}

	if cfg.OAuth.ClientSecrets == "" {
		return errOAuthNotConfigured()
	}

	scheduled := cfg.ScheduledAccounts()
	if len(scheduled) == 0 {
		return fmt.Errorf("no scheduled accounts configured\n\nAdd accounts to config.toml:\n\n  [[accounts]]\n  email = \"you@gmail.com\"\n  schedule = \"0 2 * * *\"\n  enabled = true")
	}

	s, err := store.Open(cfg.DatabasePath())
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer s.Close()

	if err := s.InitSchema(); err != nil {
		return fmt.Errorf("init schema: %w", err)
	}

	oauthMgr, err := oauth.NewManager(cfg.OAuth.ClientSecrets, cfg.TokensDir(), logger)
	if err != nil {
		return wrapOAuthError(fmt.Errorf("create oauth manager: %w", err))
	}

	bl := blacklist.New(s)
	if err := bl.LoadCache(); err != nil {
		return fmt.Errorf("load blacklist cache: %w", err)
	}
	proc := ingest.New(s, bl)
	adapter := gmail.NewAdapter(oauthMgr.TokenSource,
		gmail.WithAdapterLogger(logger),
		gmail.WithAdapterRateLimitQPS(cfg.Ingest.RateLimitQPS),
		gmail.WithAdapterConcurrency(cfg.Ingest.Concurrency),
	)
	budget := time.Duration(cfg.Ingest.RunBudgetSecs) * time.Second
	coord := coordinator.New(s, adapter, proc, budget)

	runFunc := func(ctx context.Context, email string) error {
		_, err := coord.RunOnce(ctx, email)
		return err
	}

	sched := scheduler.New(runFunc).WithLogger(logger)

	count, errs := sched.AddAccountsFromConfig(cfg)
	if len(errs) > 0 {
		for _, e := range errs {
			logger.Error("failed to schedule account", "error", e)
		}
	}
	if count == 0 {
		return fmt.Errorf("no accounts could be scheduled")
	}

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	sched.Start()

	apiServer := api.NewServer(cfg, s, sched, logger)

	serverErr := make(chan error, 1)
	go func() {
		if err := apiServer.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	bindAddr := cfg.Server.BindAddr
	if bindAddr == "" {
		bindAddr = "127.0.0.1"
	}
	fmt.Printf("relgraphd daemon started\n")
	fmt.Printf("  API server: http://%s\n", net.JoinHostPort(bindAddr, strconv.Itoa(cfg.Server.APIPort)))
	fmt.Printf("  Scheduled accounts: %d\n", count)
	fmt.Printf("  Data directory: %s\n", cfg.Data.DataDir)
	fmt.Println()
	fmt.Println("Press Ctrl+C to stop.")
	fmt.Println()

	for _, status := range sched.Status() {
		fmt.Printf("  %s: next sync at %s\n", status.Email, status.NextRun.Local().Format("2006-01-02 15:04:05"))
	}
	fmt.Println()

	select {
	case sig := <-sigChan:
		logger.Info("received shutdown signal", "signal", sig)
		fmt.Printf("\nReceived %s, shutting down...\n", sig)
	case err := <-serverErr:
		logger.Error("API server error", "error", err)
		fmt.Printf("\nAPI server error: %v\n", err)
	case <-ctx.Done():
		logger.Info("context cancelled")
	}

	fmt.Println("Shutting down API server...")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := apiServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("API server shutdown error", "error", err)
	}

	fmt.Println("Waiting for running syncs to complete...")
	schedCtx := sched.Stop()

	select {
	case <-schedCtx.Done():
		fmt.Println("Shutdown complete.")
	case <-time.After(30 * time.Second):
		fmt.Println("Shutdown timed out after 30 seconds.")
	}

	return nil
}

package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/relgraph/relgraph/internal/blacklist"
	"github.com/relgraph/relgraph/internal/coordinator"
	"github.com/relgraph/relgraph/internal/ingest"
	"github.com/relgraph/relgraph/internal/oauth"
	"github.com/relgraph/relgraph/internal/provider/gmail"
	"github.com/relgraph/relgraph/internal/store"
)

var syncCmd = &cobra.Command{
	Use:   "sync [email...]",
	Short: "Run one ingestion pass for one or more accounts",
	Long: `Fetch and process new messages for the given accounts and exit.

If no email is given, syncs every account configured under [[accounts]] in
config.toml, whether or not it has a schedule.

Examples:
  relgraphd sync                    # sync every configured account
  relgraphd sync you@gmail.com      # sync one account`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if cfg.OAuth.ClientSecrets == "" {
			return errOAuthNotConfigured()
		}

		emails := args
		if len(emails) == 0 {
			for _, acc := range cfg.Accounts {
				emails = append(emails, acc.Email)
			}
		}
		if len(emails) == 0 {
			return fmt.Errorf("no accounts given and none configured\n\nAdd accounts to config.toml:\n\n  [[accounts]]\n  email = \"you@gmail.com\"\n  enabled = true\n\nor run: relgraphd sync you@gmail.com")
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

		budget := time.Duration(cfg.Ingest.RunBudgetSecs) * time.Second

		ctx, cancel := context.WithCancel(cmd.Context())
		defer cancel()

		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		go func() {
			<-sigChan
			fmt.Println("\nInterrupted. Progress up to the last completed page is saved.")
			cancel()
		}()

		var failed []string
		for _, email := range emails {
			if ctx.Err() != nil {
				break
			}
			if err := runOneSync(ctx, s, oauthMgr, proc, budget, email); err != nil {
				failed = append(failed, fmt.Sprintf("%s: %v", email, err))
			}
		}

		if len(failed) > 0 {
			fmt.Println()
			fmt.Println("Errors:")
			for _, f := range failed {
				fmt.Printf("  %s\n", f)
			}
			return fmt.Errorf("%d account(s) failed to sync", len(failed))
		}
		return nil
	},
}

func runOneSync(ctx context.Context, s *store.Store, oauthMgr *oauth.Manager, proc *ingest.Processor, budget time.Duration, email string) error {
	if !oauthMgr.HasToken(email) {
		return fmt.Errorf("no OAuth token - run 'relgraphd add-account %s' first", email)
	}

	adapter := gmail.NewAdapter(oauthMgr.TokenSource,
		gmail.WithAdapterLogger(logger),
		gmail.WithAdapterRateLimitQPS(cfg.Ingest.RateLimitQPS),
		gmail.WithAdapterConcurrency(cfg.Ingest.Concurrency),
	)

	coord := coordinator.New(s, adapter, proc, budget)

	fmt.Printf("Starting sync for %s\n", email)
	start := time.Now()

	summary, err := coord.RunOnce(ctx, email)
	if err != nil {
		if ctx.Err() != nil {
			fmt.Println("Sync interrupted. Run again to resume.")
			return nil
		}
		return fmt.Errorf("sync failed: %w", err)
	}

	fmt.Printf("  Mode:       %s\n", summary.Mode)
	fmt.Printf("  Pages:      %d\n", summary.PagesFetched)
	fmt.Printf("  Messages:   %d seen, %d processed, %d skipped\n",
		summary.MessagesSeen, summary.MessagesProcessed, summary.MessagesSkipped)
	fmt.Printf("  Duration:   %s\n", summary.Duration.Round(time.Second))
	if len(summary.Errors) > 0 {
		fmt.Printf("  Errors:     %d message(s) failed and were skipped; see log for detail\n", len(summary.Errors))
	}
	if !summary.Completed {
		fmt.Println("  Stopped on the run budget; the next sync resumes from here.")
	}

	logger.Info("sync completed",
		"email", email,
		"mode", summary.Mode,
		"messages_processed", summary.MessagesProcessed,
		"errors", len(summary.Errors),
		"elapsed", time.Since(start),
	)
	return nil
}

func init() {
	rootCmd.AddCommand(syncCmd)
}

package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/relgraph/relgraph/internal/oauth"
)

func newAddAccountCmd() *cobra.Command {
	var headless bool
	var forceReauth bool

	cmd := &cobra.Command{
		Use:   "add-account <email>",
		Short: "Authorize a Gmail account",
		Long: `Add a Gmail account by completing the OAuth2 authorization flow.

By default, opens a browser for authorization. Use --headless on servers
without a display; it prints a verification URL and code instead.

If a token already exists, the command skips authorization. Use --force to
delete the existing token and re-authorize (useful when a token has expired
or been revoked).

Examples:
  relgraphd add-account you@gmail.com
  relgraphd add-account you@gmail.com --headless
  relgraphd add-account you@gmail.com --force`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			email := args[0]

			if headless && forceReauth {
				return fmt.Errorf("--headless and --force cannot be used together: --force requires browser-based OAuth which is not available in headless mode")
			}

			if cfg.OAuth.ClientSecrets == "" {
				return errOAuthNotConfigured()
			}

			oauthMgr, err := oauth.NewManager(cfg.OAuth.ClientSecrets, cfg.TokensDir(), logger)
			if err != nil {
				return wrapOAuthError(fmt.Errorf("create oauth manager: %w", err))
			}

			if forceReauth {
				if oauthMgr.HasToken(email) {
					fmt.Printf("Removing existing token for %s...\n", email)
					if err := oauthMgr.DeleteToken(email); err != nil {
						return fmt.Errorf("delete existing token: %w", err)
					}
				} else {
					fmt.Printf("No existing token found for %s, proceeding with authorization.\n", email)
				}
			}

			if oauthMgr.HasToken(email) {
				fmt.Printf("Account %s is already authorized.\n", email)
				fmt.Println("Next step: relgraphd sync", email)
				fmt.Println("To re-authorize (e.g. expired token), run: relgraphd add-account", email, "--force")
				return nil
			}

			if headless {
				fmt.Println("Starting device authorization...")
			} else {
				fmt.Println("Starting browser authorization...")
			}

			if err := oauthMgr.Authorize(cmd.Context(), email, headless); err != nil {
				return fmt.Errorf("authorization failed: %w", err)
			}

			fmt.Printf("\nAccount %s authorized successfully!\n", email)
			fmt.Println("You can now run: relgraphd sync", email)

			return nil
		},
	}

	cmd.Flags().BoolVar(&headless, "headless", false, "Use the device authorization flow instead of opening a browser")
	cmd.Flags().BoolVar(&forceReauth, "force", false, "Delete existing token and re-authorize (use when token is expired or revoked)")
	return cmd
}

func init() {
	rootCmd.AddCommand(newAddAccountCmd())
}

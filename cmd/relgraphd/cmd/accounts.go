package cmd

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/relgraph/relgraph/internal/oauth"
)

var accountsCmd = &cobra.Command{
	Use:   "accounts",
	Short: "List configured accounts and their authorization status",
	RunE: func(cmd *cobra.Command, args []string) error {
		if len(cfg.Accounts) == 0 {
			fmt.Println("No accounts configured. Add one under [[accounts]] in config.toml, then run 'relgraphd add-account <email>'.")
			return nil
		}

		var oauthMgr *oauth.Manager
		if cfg.OAuth.ClientSecrets != "" {
			oauthMgr, _ = oauth.NewManager(cfg.OAuth.ClientSecrets, cfg.TokensDir(), logger)
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "EMAIL\tSCHEDULE\tENABLED\tAUTHORIZED")
		for _, acc := range cfg.Accounts {
			schedule := acc.Schedule
			if schedule == "" {
				schedule = "-"
			}
			authorized := "no"
			if oauthMgr != nil && oauthMgr.HasToken(acc.Email) {
				authorized = "yes"
			}
			fmt.Fprintf(w, "%s\t%s\t%t\t%s\n", acc.Email, schedule, acc.Enabled, authorized)
		}
		w.Flush()
		return nil
	},
}

func init() {
	rootCmd.AddCommand(accountsCmd)
}

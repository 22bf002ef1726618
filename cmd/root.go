package cmd

import (
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "hookbot",
	Short: "Hookbot links a GitHub repository with its GitLab CI mirror",
	Long: `Hookbot is a webhook-driven bot that keeps a project hosted on GitHub in sync
with the GitLab project running its CI. It mirrors pull requests into GitLab,
labels pull requests that need a rebase, reports pipeline and job results back
to GitHub and retries CI failures that look transient.`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	// Add persistent flags that will be available to all commands
	rootCmd.PersistentFlags().StringP("config", "c", "", "Path to the TOML configuration file (default: ./hookbot.toml if present)")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(classifyCmd)
}

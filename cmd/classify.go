package cmd

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/danielolaszy/hookbot/internal/config"
	"github.com/danielolaszy/hookbot/internal/trace"
)

var classifyCmd = &cobra.Command{
	Use:   "classify [trace-file]",
	Short: "Classify a CI job failure",
	Long: `Classify a CI job failure the way the server would.

The failure reason is classified first. When the reason requires it, the job
trace is read from the given file, or from stdin when no file is given, and
run through the trace rules. The decision (retry, ignore or warn) is printed
together with the rule that produced it.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		reason, err := cmd.Flags().GetString("reason")
		if err != nil {
			return err
		}
		project, err := cmd.Flags().GetString("project")
		if err != nil {
			return err
		}

		ignoreProject, err := ignoreMissingImageProject(cmd)
		if err != nil {
			return err
		}
		classifier := trace.NewClassifier(ignoreProject)

		decision := classifier.ClassifyReason(reason)
		if decision != trace.Inspect {
			fmt.Fprintf(cmd.OutOrStdout(), "%s (reason %s)\n", decision, reason)
			return nil
		}

		text, err := readTrace(cmd, args)
		if err != nil {
			return err
		}
		classification := classifier.ClassifyTrace(project, text)
		rule := classification.Rule
		if rule == "" {
			rule = "no rule matched"
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s (%s)\n", classification.Decision, rule)
		return nil
	},
}

// ignoreMissingImageProject reads the scoped project from the configuration
// when one is available. A missing configuration file is not an error here.
func ignoreMissingImageProject(cmd *cobra.Command) (string, error) {
	path, err := cmd.Flags().GetString("config")
	if err != nil {
		return "", err
	}
	cfg, err := config.LoadConfig(path)
	if err != nil {
		if path == "" {
			return "", nil
		}
		return "", err
	}
	return cfg.Trace.IgnoreMissingImageProject, nil
}

func readTrace(cmd *cobra.Command, args []string) (string, error) {
	var reader io.Reader = cmd.InOrStdin()
	if len(args) == 1 {
		file, err := os.Open(args[0])
		if err != nil {
			return "", fmt.Errorf("failed to open trace: %w", err)
		}
		defer file.Close()
		reader = file
	}
	text, err := io.ReadAll(reader)
	if err != nil {
		return "", fmt.Errorf("failed to read trace: %w", err)
	}
	return string(text), nil
}

func init() {
	classifyCmd.Flags().String("reason", trace.ReasonScriptFailure, "GitLab failure reason of the job")
	classifyCmd.Flags().String("project", "", "GitLab project path of the job")
}

package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/user/sploitprobe/pkg/reporter"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run one pass over the current trending advisories",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := validOutput(); err != nil {
			return err
		}
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		skip, _ := cmd.Flags().GetBool("skip-completed")
		a, err := newApp(ctx, cfg, skip)
		if err != nil {
			return err
		}
		defer a.Close()

		res, err := a.pipeline.Run(ctx)
		if err != nil && !errors.Is(err, context.Canceled) {
			return fmt.Errorf("run pipeline: %w", err)
		}
		if rerr := reporter.New(outputFormat, cmd.OutOrStdout()).Report(res); rerr != nil {
			return fmt.Errorf("write report: %w", rerr)
		}
		return err
	},
}

// addPipelineFlags registers the flags shared by run and cron.
func addPipelineFlags(cmd *cobra.Command) {
	cmd.Flags().Bool("skip-completed", false, "Skip advisories whose probe was already invoked in an earlier run")
	cmd.Flags().String("targets", "", "Comma separated IPs or domains to probe")
	cmd.Flags().String("lambda-role", "", "IAM role ARN assumed by deployed probes")
	cmd.Flags().String("region", "", "AWS region for probe functions")
	cmd.Flags().String("github-repo", "", "File issues for vulnerable verdicts in owner/repo")
}

// bindPipelineFlags points the shared viper keys at cmd's flags. Called from
// PreRun so that run and cron do not overwrite each other's bindings.
func bindPipelineFlags(cmd *cobra.Command) {
	_ = vp.BindPFlag("targets", cmd.Flags().Lookup("targets"))
	_ = vp.BindPFlag("lambda.role", cmd.Flags().Lookup("lambda-role"))
	_ = vp.BindPFlag("lambda.region", cmd.Flags().Lookup("region"))
	_ = vp.BindPFlag("github.repo", cmd.Flags().Lookup("github-repo"))
}

func init() {
	addPipelineFlags(runCmd)
	runCmd.PreRun = func(cmd *cobra.Command, args []string) { bindPipelineFlags(cmd) }
	rootCmd.AddCommand(runCmd)
}

package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/user/sploitprobe/pkg/reporter"
)

var cronCmd = &cobra.Command{
	Use:   "cron",
	Short: "Run the pipeline repeatedly on a fixed interval",
	Long: `cron runs one pass immediately and then one every --every interval until
interrupted. A pass never overlaps the next one; a slow pass delays the
following tick.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := validOutput(); err != nil {
			return err
		}
		every, _ := cmd.Flags().GetDuration("every")
		if every <= 0 {
			return fmt.Errorf("--every must be positive, got %s", every)
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

		rep := reporter.New(outputFormat, cmd.OutOrStdout())
		ticker := time.NewTicker(every)
		defer ticker.Stop()

		for pass := 1; ; pass++ {
			a.log.Info("pass started", "pass", pass)
			res, err := a.pipeline.Run(ctx)
			if rerr := rep.Report(res); rerr != nil {
				a.log.Error("write report", "error", rerr)
			}
			if err != nil {
				if errors.Is(err, context.Canceled) {
					return nil
				}
				return fmt.Errorf("run pipeline: %w", err)
			}

			select {
			case <-ctx.Done():
				a.log.Info("stopping", "passes", pass)
				return nil
			case <-ticker.C:
			}
		}
	},
}

func init() {
	addPipelineFlags(cronCmd)
	cronCmd.Flags().Duration("every", 6*time.Hour, "Interval between passes")
	cronCmd.PreRun = func(cmd *cobra.Command, args []string) { bindPipelineFlags(cmd) }
	rootCmd.AddCommand(cronCmd)
}

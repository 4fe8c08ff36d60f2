package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/user/sploitprobe/pkg/probe"
)

var invokeCmd = &cobra.Command{
	Use:   "invoke <probe-name>",
	Short: "Invoke an already deployed probe once and print its verdict",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		newLogger(cfg.Log, cmd.ErrOrStderr())

		exploitID, _ := cmd.Flags().GetString("exploit-id")
		ip, _ := cmd.Flags().GetString("ip")
		domain, _ := cmd.Flags().GetString("domain")

		var target *probe.Target
		if ip != "" || domain != "" {
			target = &probe.Target{IP: ip, Domain: domain}
		}
		payload, err := probe.NewPayload(exploitID, target)
		if err != nil {
			return err
		}

		client, err := probe.NewLambdaClient(cmd.Context(), cfg.Lambda.Region)
		if err != nil {
			return err
		}
		res, err := probe.NewInvoker(client).Invoke(cmd.Context(), args[0], payload)
		if err != nil {
			return err
		}

		v, err := probe.ParseVerdict(res.Payload)
		if err != nil {
			fmt.Fprintf(cmd.ErrOrStderr(), "Warning: %v\n", err)
			v = probe.Verdict{Verdict: probe.Inconclusive, Description: string(res.Payload)}
		}

		out := cmd.OutOrStdout()
		if outputFormat == "json" {
			enc := json.NewEncoder(out)
			enc.SetIndent("", "  ")
			return enc.Encode(v)
		}
		fmt.Fprintf(out, "Probe:       %s\n", args[0])
		if target != nil {
			fmt.Fprintf(out, "Target:      %s\n", target)
		}
		fmt.Fprintf(out, "Verdict:     %s\n", v.Verdict)
		fmt.Fprintf(out, "Description: %s\n", v.Description)
		return nil
	},
}

func init() {
	invokeCmd.Flags().String("exploit-id", "", "Advisory id passed to the probe")
	invokeCmd.Flags().String("ip", "", "Target IP address")
	invokeCmd.Flags().String("domain", "", "Target domain")
	invokeCmd.Flags().String("region", "", "AWS region of the probe function")
	invokeCmd.PreRun = func(cmd *cobra.Command, args []string) {
		_ = vp.BindPFlag("lambda.region", cmd.Flags().Lookup("region"))
	}
	rootCmd.AddCommand(invokeCmd)
}

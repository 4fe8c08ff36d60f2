package cmd

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/user/sploitprobe/pkg/store"
)

var advisoriesCmd = &cobra.Command{
	Use:   "advisories",
	Short: "List stored advisories with their latest probe state",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		limit, _ := cmd.Flags().GetInt("limit")

		st, err := store.Open(cfg.Store.DSN)
		if err != nil {
			return err
		}
		defer st.Close()

		ctx := cmd.Context()
		advs, err := st.ListAdvisories(ctx, limit)
		if err != nil {
			return err
		}
		total, err := st.CountAdvisories(ctx)
		if err != nil {
			return err
		}

		type row struct {
			ID    string  `json:"id"`
			Title string  `json:"title"`
			Score float64 `json:"score"`
			State string  `json:"state"`
		}
		rows := make([]row, 0, len(advs))
		for _, adv := range advs {
			state, ok, err := st.LatestState(ctx, adv.ID)
			if err != nil {
				return err
			}
			if !ok {
				state = "-"
			}
			rows = append(rows, row{ID: adv.ID, Title: adv.Title, Score: adv.Score, State: state})
		}

		out := cmd.OutOrStdout()
		if outputFormat == "json" {
			enc := json.NewEncoder(out)
			enc.SetIndent("", "  ")
			return enc.Encode(rows)
		}

		tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
		fmt.Fprintln(tw, "ID\tSCORE\tSTATE\tTITLE")
		for _, r := range rows {
			fmt.Fprintf(tw, "%s\t%.1f\t%s\t%s\n", r.ID, r.Score, r.State, r.Title)
		}
		if err := tw.Flush(); err != nil {
			return err
		}
		fmt.Fprintf(out, "\n%d of %d stored advisories\n", len(rows), total)
		return nil
	},
}

func init() {
	advisoriesCmd.Flags().IntP("limit", "n", 20, "Maximum number of advisories to list")
	rootCmd.AddCommand(advisoriesCmd)
}

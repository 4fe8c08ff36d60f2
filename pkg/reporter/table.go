package reporter

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/user/sploitprobe/pkg/engine"
)

type TableReporter struct {
	w io.Writer
}

func (r *TableReporter) Report(res engine.RunResult) error {
	fmt.Fprintf(r.w, "Run %s: %d trending, %d dropped, %d skipped, %d processed\n\n",
		res.RunID, res.Trending, len(res.Dropped), len(res.Skipped), len(res.Outcomes))

	if len(res.Outcomes) == 0 {
		fmt.Fprintln(r.w, "No advisories processed.")
		return nil
	}

	w := tabwriter.NewWriter(r.w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ADVISORY\tSCORE\tSTATE\tPROBE\tVERDICTS\tDETAIL")
	fmt.Fprintln(w, "--------\t-----\t-----\t-----\t--------\t------")
	for _, o := range res.Outcomes {
		probe := o.ProbeName
		if probe == "" {
			probe = "-"
		} else if o.Mode != "" {
			probe += " (" + o.Mode + ")"
		}
		detail := o.Reason
		if o.ErrorKind != "" {
			detail = fmt.Sprintf("%s at %s: %s", o.ErrorKind, o.Stage, o.Reason)
		}
		fmt.Fprintf(w, "%s\t%.1f\t%s\t%s\t%s\t%s\n",
			o.AdvisoryID,
			o.Score,
			o.State,
			probe,
			verdictSummary(o.Invocations),
			oneLine(detail, 80),
		)
	}
	if err := w.Flush(); err != nil {
		return err
	}

	if len(res.Technologies) > 0 {
		fmt.Fprintln(r.w, "\nAffected technologies:")
		for _, t := range res.Technologies {
			fmt.Fprintf(r.w, "  %s: %s\n", t.Title, strings.Join(t.Technologies, ", "))
		}
	} else if res.TechnologiesErr != "" {
		fmt.Fprintf(r.w, "\nAffected technologies unavailable: %s\n", oneLine(res.TechnologiesErr, 120))
	}
	return nil
}

// verdictSummary renders counts like "vulnerable=1 not vulnerable=2".
func verdictSummary(invs []engine.Invocation) string {
	if len(invs) == 0 {
		return "-"
	}
	counts := make(map[string]int)
	for _, inv := range invs {
		v := inv.Verdict
		if inv.Error != "" {
			v = "error"
		}
		counts[v]++
	}
	keys := make([]string, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%d", k, counts[k]))
	}
	return strings.Join(parts, " ")
}

func oneLine(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	if len(s) > n {
		return s[:n-3] + "..."
	}
	return s
}

package main

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"cronkeeper/internal/crontab"
)

func newCheckCmd() *cobra.Command {
	var (
		from  string
		count int
	)
	cmd := &cobra.Command{
		Use:   "check <expr>",
		Short: "Compile an expression and preview its ticks (UTC)",
		Example: `  cronkeeper check "*/15 9-17 * * 1-5"
  cronkeeper check "0 0 29 2 *" --from 2024-03-01T00:00:00Z --count 3`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			spec, err := crontab.Compile(args[0])
			if err != nil {
				return err
			}
			at, err := parseInstant(from)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "canonical: %s\n", spec)
			parts := strings.Fields(spec.String())
			for f := crontab.Minute; f <= crontab.DayOfWeek; f++ {
				fmt.Fprintf(out, "  %-13s %s\n", f.String()+":", parts[int(f)])
			}
			if p, err := spec.Prev(at); err == nil {
				fmt.Fprintf(out, "prev: %s\n", formatUnix(p))
			}
			for i := 0; i < count; i++ {
				n, err := spec.Next(at)
				if err != nil {
					if i == 0 {
						return err
					}
					break
				}
				fmt.Fprintf(out, "next: %s\n", formatUnix(n))
				at = n
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&from, "from", "", "start instant (RFC3339 or unix seconds; default now)")
	cmd.Flags().IntVarP(&count, "count", "n", 5, "number of upcoming ticks")
	return cmd
}

func parseInstant(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Now().Unix(), nil
	}
	if v, err := strconv.ParseInt(s, 10, 64); err == nil {
		return v, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return 0, fmt.Errorf("--from: want RFC3339 or unix seconds, got %q", s)
	}
	return t.Unix(), nil
}

func formatUnix(v int64) string {
	return time.Unix(v, 0).UTC().Format("2006-01-02 15:04 Mon") + " (" + strconv.FormatInt(v, 10) + ")"
}

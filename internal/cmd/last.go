package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/lnagent/lnagent/internal/output"
	"github.com/lnagent/lnagent/internal/queue"
)

var (
	lastCount     int
	lastRequestID uint64
)

var lastCmd = &cobra.Command{
	Use:   "last",
	Short: "Show the most recent results",
	Long: `Show the most recent entries of the outbound results log.

By default only the newest result is printed. Use -n for more, or --request to
show every result published for one request id.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if lastCount < 1 {
			return invalidConfig(fmt.Errorf("-n must be at least 1, got %d", lastCount))
		}

		cfg, err := loadConfig()
		if err != nil {
			return invalidConfig(err)
		}
		q, err := queue.Open(cfg.Queue.Dir)
		if err != nil {
			return err
		}

		results, err := selectResults(q, lastCount, lastRequestID)
		if err != nil {
			return err
		}
		if len(results) == 0 {
			_, err := fmt.Fprintln(cmd.ErrOrStderr(), "no results yet")
			return err
		}
		return emit(cmd, func(format output.Format) (string, error) {
			return output.Results(format, results)
		})
	},
}

// selectResults returns the newest results, oldest first. A non-zero
// requestID keeps only that request's results.
func selectResults(q *queue.Queue, count int, requestID uint64) ([]*queue.Result, error) {
	if count == 1 && requestID == 0 {
		last, err := q.LastResult()
		if err != nil || last == nil {
			return nil, err
		}
		return []*queue.Result{last}, nil
	}

	all, err := q.Results()
	if err != nil {
		return nil, err
	}
	if requestID != 0 {
		matched := all[:0]
		for _, r := range all {
			if r.RequestID == requestID {
				matched = append(matched, r)
			}
		}
		return matched, nil
	}
	if len(all) > count {
		all = all[len(all)-count:]
	}
	return all, nil
}

func init() {
	rootCmd.AddCommand(lastCmd)

	lastCmd.Flags().IntVarP(&lastCount, "count", "n", 1, "number of results to show")
	lastCmd.Flags().Uint64Var(&lastRequestID, "request", 0, "show every result for this request id")
	addOutputFlags(lastCmd)
}

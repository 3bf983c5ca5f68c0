package cmd

import (
	"errors"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/lnagent/lnagent/internal/observability"
	"github.com/lnagent/lnagent/internal/output"
	"github.com/lnagent/lnagent/internal/queue"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Report queue, backoff and ledger state",
	Long: `Report the state of a queue directory without touching it: file sizes, the
committed cursor, pending requests, whether an agent holds the instance lock,
the persisted backoff state and a summary of the execution ledger.

For the live state of a running agent query its status server instead.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return invalidConfig(err)
		}
		q, err := queue.Open(canonicalQueueDir(cfg.Queue.Dir))
		if err != nil {
			return err
		}

		report, err := queueStatus(q)
		if err != nil {
			return err
		}

		db, err := openStore(cmd.Context(), cfg)
		switch {
		case errors.Is(err, errStoreDisabled):
		case err != nil:
			observability.CLILogger.Warn("Execution ledger unavailable", zap.Error(err))
		default:
			defer db.Close() // nolint:errcheck // best-effort cleanup
			if report.Backoff, err = db.LoadBackoff(cmd.Context(), q.Dir()); err != nil {
				return err
			}
			if report.Ledger, err = db.ExecutionStats(cmd.Context()); err != nil {
				return err
			}
		}

		now := time.Now()
		return emit(cmd, func(format output.Format) (string, error) {
			return output.Status(format, report, now)
		})
	},
}

// queueStatus gathers the file-level view of q. Peek never moves the cursor.
func queueStatus(q *queue.Queue) (*output.QueueStatus, error) {
	report := &output.QueueStatus{Dir: q.Dir()}

	var err error
	if report.Size, err = q.Size(); err != nil {
		return nil, err
	}
	if report.Cursor, err = q.Cursor(); err != nil {
		return nil, err
	}
	if report.Backlog, err = q.Backlog(); err != nil {
		return nil, err
	}

	pending, _, err := q.Peek(0)
	if err != nil {
		return nil, err
	}
	report.Pending = len(pending)
	report.Malformed = q.Malformed()

	results, err := q.Results()
	if err != nil {
		return nil, err
	}
	report.Results = len(results)

	holder, held, err := queue.LockHolder(q.Dir())
	if err != nil {
		return nil, err
	}
	if held {
		report.Locked = holder
		if holder == "" {
			report.Locked = "running"
		}
	}
	return report, nil
}

func init() {
	rootCmd.AddCommand(statusCmd)
	addOutputFlags(statusCmd)
}

package cmd

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/lnagent/lnagent/internal/core"
	"github.com/lnagent/lnagent/internal/core/store"
	"github.com/lnagent/lnagent/internal/output"
)

var (
	historyLimit     int
	historyKind      string
	historyStatus    string
	historyRequestID uint64
	historySince     time.Duration
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List processed requests from the execution ledger",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		status := strings.TrimSpace(historyStatus)
		switch core.ExecutionStatus(status) {
		case "", core.ExecutionOK, core.ExecutionError, core.ExecutionRejected, core.ExecutionUnknown:
		default:
			return invalidConfig(fmt.Errorf("--status must be one of ok, error, rejected, unknown; got %q", status))
		}

		cfg, err := loadConfig()
		if err != nil {
			return invalidConfig(err)
		}
		db, err := openStore(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer db.Close() // nolint:errcheck // best-effort cleanup

		query := store.ExecutionQuery{
			Limit:     historyLimit,
			Kind:      historyKind,
			Status:    status,
			RequestID: historyRequestID,
		}
		if historySince > 0 {
			query.Since = time.Now().Add(-historySince)
		}

		execs, err := db.ListExecutions(cmd.Context(), query)
		if err != nil {
			return err
		}
		return emit(cmd, func(format output.Format) (string, error) {
			return output.Executions(format, execs)
		})
	},
}

func init() {
	rootCmd.AddCommand(historyCmd)

	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", 20, "maximum rows (0 for all)")
	historyCmd.Flags().StringVar(&historyKind, "kind", "", "only this operation kind")
	historyCmd.Flags().StringVar(&historyStatus, "status", "", "only this status: ok|error|rejected|unknown")
	historyCmd.Flags().Uint64Var(&historyRequestID, "request", 0, "only this request id")
	historyCmd.Flags().DurationVar(&historySince, "since", 0, "only rows started within this window (e.g. 1h)")
	addOutputFlags(historyCmd)
}

package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/lnagent/lnagent/internal/output"
	"github.com/lnagent/lnagent/internal/queue"
)

var (
	backoffResetAll    bool
	backoffResetYes    bool
	backoffResetDryRun bool
)

var backoffCmd = &cobra.Command{
	Use:   "backoff",
	Short: "Inspect or clear persisted backoff state",
	Long: `The running agent persists its backoff and circuit breaker state so a restart
keeps honouring an open circuit. These commands show or clear that state.`,
}

var backoffShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show persisted backoff state for the queue",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return invalidConfig(err)
		}
		db, err := openStore(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer db.Close() // nolint:errcheck // best-effort cleanup

		dir := canonicalQueueDir(cfg.Queue.Dir)
		state, err := db.LoadBackoff(cmd.Context(), dir)
		if err != nil {
			return err
		}
		now := time.Now()
		return emit(cmd, func(format output.Format) (string, error) {
			return output.Backoff(format, dir, state, now)
		})
	},
}

var backoffResetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Clear persisted backoff state",
	Long: `Clear persisted backoff state for the configured queue, or for every queue with
--all. A running agent keeps its in-memory state until it restarts, so reset
refuses while the queue's instance lock is held.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		format, err := resolveOutputFormat(cmd)
		if err != nil {
			return invalidConfig(err)
		}
		if format != output.FormatJSON && format != output.FormatTable {
			return invalidConfig(fmt.Errorf("unsupported output format: %s", format))
		}
		if backoffResetAll && !backoffResetYes && !backoffResetDryRun {
			return invalidConfig(errors.New("--all requires --yes (or use --dry-run)"))
		}

		cfg, err := loadConfig()
		if err != nil {
			return invalidConfig(err)
		}
		dir := canonicalQueueDir(cfg.Queue.Dir)
		if !backoffResetAll {
			if holder, held, err := queue.LockHolder(dir); err != nil {
				return err
			} else if held {
				return fmt.Errorf("%w: stop the agent before resetting (%s)", queue.ErrLocked, holder)
			}
		}

		db, err := openStore(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer db.Close() // nolint:errcheck // best-effort cleanup

		target := dir
		if backoffResetAll {
			target = ""
		}

		if backoffResetDryRun {
			matched := 0
			if !backoffResetAll {
				state, err := db.LoadBackoff(cmd.Context(), dir)
				if err != nil {
					return err
				}
				if state != nil {
					matched = 1
				}
			}
			return writeBackoffResetResult(format, cmd.OutOrStdout(), target, int64(matched), true)
		}

		deleted, err := db.ResetBackoff(cmd.Context(), target)
		if err != nil {
			return err
		}
		return writeBackoffResetResult(format, cmd.OutOrStdout(), target, deleted, false)
	},
}

// canonicalQueueDir is the key backoff state is stored under.
func canonicalQueueDir(dir string) string {
	dir = strings.TrimSpace(dir)
	if abs, err := filepath.Abs(dir); err == nil {
		return abs
	}
	return filepath.Clean(dir)
}

func writeBackoffResetResult(format output.Format, w io.Writer, queueDir string, count int64, dryRun bool) error {
	scope := queueDir
	if scope == "" {
		scope = "all queues"
	}

	if format == output.FormatJSON {
		payload, err := json.MarshalIndent(map[string]any{
			"scope":   scope,
			"deleted": count,
			"dry_run": dryRun,
		}, "", "  ")
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(w, string(payload))
		return err
	}

	if dryRun {
		if queueDir == "" {
			_, err := fmt.Fprintf(w, "Would clear backoff state for %s\n", scope)
			return err
		}
		_, err := fmt.Fprintf(w, "Would clear %d backoff entr(ies) for %s\n", count, scope)
		return err
	}
	_, err := fmt.Fprintf(w, "Cleared %d backoff entr(ies) for %s\n", count, scope)
	return err
}

func init() {
	rootCmd.AddCommand(backoffCmd)
	backoffCmd.AddCommand(backoffShowCmd, backoffResetCmd)

	addOutputFlags(backoffShowCmd)

	backoffResetCmd.Flags().BoolVar(&backoffResetAll, "all", false, "reset every queue")
	backoffResetCmd.Flags().BoolVar(&backoffResetYes, "yes", false, "confirm a reset of every queue")
	backoffResetCmd.Flags().BoolVar(&backoffResetDryRun, "dry-run", false, "show what would be cleared")
	backoffResetCmd.Flags().StringP("output-format", "o", string(output.FormatTable), "Output format: table|json")
}

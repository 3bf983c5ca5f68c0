package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/lnagent/lnagent/internal/dispatch"
	"github.com/lnagent/lnagent/internal/observability"
	"github.com/lnagent/lnagent/internal/output"
	"github.com/lnagent/lnagent/internal/queue"
)

var (
	enqueueArgs        []string
	enqueueArgsJSON    string
	enqueuePayload     string
	enqueuePayloadFile string
	enqueueForce       bool
	enqueueWait        time.Duration
)

var enqueueCmd = &cobra.Command{
	Use:   "enqueue <kind>",
	Short: "Append a request to the inbound queue",
	Long: `Append a request to the inbound queue and print its id.

Arguments are given as repeated --arg key=value pairs or as one JSON object
with --args-json. Unless --force is set, the request is checked against the
operation registry first so typos fail here instead of in the results log.

With --wait the command polls the results log and prints the first result
published for the new request.`,
	Example: `  lnagent enqueue ping
  lnagent enqueue ln_invoice --arg node=1 --arg amount_msat=21000 --arg description=coffee
  lnagent enqueue ln_pay --arg from_node=2 --arg bolt11=lnbcrt1... --wait 30s`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		kind := strings.TrimSpace(args[0])

		values, err := parseArgs(enqueueArgs, enqueueArgsJSON)
		if err != nil {
			return invalidConfig(err)
		}
		if !enqueueForce {
			if _, _, err := dispatch.DefaultRegistry().Validate(kind, values); err != nil {
				return err
			}
		}

		payload, err := readPayload(cmd, enqueuePayload, enqueuePayloadFile)
		if err != nil {
			return invalidConfig(err)
		}

		cfg, err := loadConfig()
		if err != nil {
			return invalidConfig(err)
		}
		q, err := queue.Open(cfg.Queue.Dir)
		if err != nil {
			return err
		}

		entry, err := q.Enqueue(payload, kind, values)
		if err != nil {
			return err
		}
		observability.CLILogger.Debug("Request enqueued",
			zap.Uint64("request_id", entry.ID),
			zap.String("kind", entry.Kind),
			zap.String("queue", q.Dir()))

		if enqueueWait <= 0 {
			_, err = fmt.Fprintln(cmd.OutOrStdout(), entry.ID)
			return err
		}

		result, err := waitForResult(cmd, q, entry.ID, enqueueWait)
		if err != nil {
			return err
		}
		return emit(cmd, func(format output.Format) (string, error) {
			return output.Results(format, []*queue.Result{result})
		})
	},
}

// parseArgs merges --args-json with repeated key=value pairs; pairs win.
// Values stay strings and are coerced by the operation registry.
func parseArgs(pairs []string, rawJSON string) (map[string]any, error) {
	values := map[string]any{}
	if raw := strings.TrimSpace(rawJSON); raw != "" {
		dec := json.NewDecoder(strings.NewReader(raw))
		dec.UseNumber()
		if err := dec.Decode(&values); err != nil {
			return nil, fmt.Errorf("--args-json must be a JSON object: %w", err)
		}
		if values == nil {
			values = map[string]any{}
		}
	}

	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, fmt.Errorf("--arg must be key=value, got %q", pair)
		}
		values[key] = value
	}
	return values, nil
}

func readPayload(cmd *cobra.Command, inline, path string) ([]byte, error) {
	path = strings.TrimSpace(path)
	switch {
	case inline != "" && path != "":
		return nil, fmt.Errorf("--payload and --payload-file are mutually exclusive")
	case path == "-":
		return io.ReadAll(cmd.InOrStdin())
	case path != "":
		// #nosec G304 -- the operator names the payload file
		return os.ReadFile(path)
	case inline != "":
		return []byte(inline), nil
	}
	return nil, nil
}

// waitForResult polls the results log until the request has an answer.
func waitForResult(cmd *cobra.Command, q *queue.Queue, requestID uint64, timeout time.Duration) (*queue.Result, error) {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	poll := time.NewTicker(200 * time.Millisecond)
	defer poll.Stop()

	for {
		results, err := q.Results()
		if err != nil {
			return nil, err
		}
		for i := len(results) - 1; i >= 0; i-- {
			if results[i].RequestID == requestID {
				return results[i], nil
			}
		}

		select {
		case <-cmd.Context().Done():
			return nil, cmd.Context().Err()
		case <-deadline.C:
			return nil, fmt.Errorf("no result for request %d after %s", requestID, timeout)
		case <-poll.C:
		}
	}
}

func init() {
	rootCmd.AddCommand(enqueueCmd)

	enqueueCmd.Flags().StringArrayVarP(&enqueueArgs, "arg", "a", nil, "operation argument as key=value (repeatable)")
	enqueueCmd.Flags().StringVar(&enqueueArgsJSON, "args-json", "", "operation arguments as a JSON object")
	enqueueCmd.Flags().StringVar(&enqueuePayload, "payload", "", "free-form payload stored with the request")
	enqueueCmd.Flags().StringVar(&enqueuePayloadFile, "payload-file", "", "read the payload from a file (- for stdin)")
	enqueueCmd.Flags().BoolVar(&enqueueForce, "force", false, "skip the operation registry check")
	enqueueCmd.Flags().DurationVar(&enqueueWait, "wait", 0, "wait up to this long for the request's result")
	addOutputFlags(enqueueCmd)
}

package cmd

import (
	"github.com/spf13/cobra"

	"github.com/lnagent/lnagent/internal/dispatch"
	"github.com/lnagent/lnagent/internal/output"
)

var opsCmd = &cobra.Command{
	Use:     "ops",
	Aliases: []string{"operations"},
	Short:   "List the operation kinds the agent dispatches",
	Long: `List every registered operation kind with the worker method it maps to, its
parameters (name:type, ? marks optional) and whether failed calls may be retried.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ops := dispatch.DefaultRegistry().Operations()
		return emit(cmd, func(format output.Format) (string, error) {
			return output.Operations(format, ops)
		})
	},
}

func init() {
	rootCmd.AddCommand(opsCmd)
	addOutputFlags(opsCmd)
}

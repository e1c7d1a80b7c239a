package main

import (
	"fmt"

	"github.com/aretw0/idem/internal/cli"
	"github.com/aretw0/idem/internal/presentation/tui"
	"github.com/spf13/cobra"
)

var inspectCmd = &cobra.Command{
	Use:   "inspect <identity> <path>",
	Short: "Show the marker and lock stored for a call",
	Long: `Reads the idempotency marker and admission lock for the given caller and path.
When --prefix is omitted the prefix configured for the path is used.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, err := loadRuntime(cmd)
		if err != nil {
			return err
		}
		defer rt.Close()

		q := cli.KeyQuery{Identity: args[0], Path: args[1]}
		q.Token, _ = cmd.Flags().GetString("token")
		if cmd.Flags().Changed("prefix") {
			q.Prefix, _ = cmd.Flags().GetString("prefix")
		} else if op, ok := rt.Config.Operations[q.Path]; ok {
			q.Prefix = op.KeyPrefix
		}

		report, err := cli.Inspect(cmd.Context(), rt.Store, q)
		if err != nil {
			return err
		}

		md := report.Markdown()
		if raw, _ := cmd.Flags().GetBool("raw"); !raw {
			md = tui.NewRenderer(100).Render(md)
		}
		fmt.Fprint(cmd.OutOrStdout(), md)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(inspectCmd)
	inspectCmd.Flags().StringP("prefix", "p", "", "Key prefix of the operation")
	inspectCmd.Flags().StringP("token", "t", "", "Request token (Idempotency-Key)")
	inspectCmd.Flags().Bool("raw", false, "Print markdown without rendering")
}

package main

import (
	"fmt"

	"github.com/aretw0/idem/pkg/keys"
	"github.com/spf13/cobra"
)

var keyCmd = &cobra.Command{
	Use:   "key <identity> <path>",
	Short: "Print the idempotency and lock keys for a call",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		prefix, _ := cmd.Flags().GetString("prefix")
		token, _ := cmd.Flags().GetString("token")

		key, err := keys.BuildWithToken(prefix, args[0], args[1], token)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "key:  %s\n", key)
		fmt.Fprintf(out, "lock: %s\n", keys.LockKey(key))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(keyCmd)
	keyCmd.Flags().StringP("prefix", "p", "", "Key prefix of the operation")
	keyCmd.Flags().StringP("token", "t", "", "Request token (Idempotency-Key)")
}

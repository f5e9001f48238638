package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"stonetify/utils"
)

var keygenCmd = &cobra.Command{
	Use:   "keygen",
	Short: "Print a new ENCRYPTION_KEY",
	Long: `Prints a random 32-byte key, hex encoded, suitable for ENCRYPTION_KEY.
Tokens stored under one key cannot be read with another.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		key, err := utils.GenerateEncryptionKey()
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), key)
		return nil
	},
}

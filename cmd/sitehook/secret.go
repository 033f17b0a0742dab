package main

import (
	"fmt"

	"sitehook/internal/config"
	"sitehook/internal/security"

	"github.com/spf13/cobra"
)

var secretCmd = &cobra.Command{
	Use:   "secret",
	Short: "Generate a webhook secret",
	Long: fmt.Sprintf(`Print a random secret suitable for %s and the GitHub webhook settings.`,
		config.EnvSecret),
	Args: cobra.NoArgs,
	RunE: runSecret,
}

func runSecret(cmd *cobra.Command, args []string) error {
	secret, err := security.GenerateSecret()
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), secret)
	return nil
}

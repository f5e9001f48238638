package cmd

import (
	"os"

	"github.com/spf13/cobra"

	"stonetify/oautherr"
)

// Exit codes for CLI commands.
const (
	ExitCodeSuccess = 0
	ExitCodeError   = 1
	// ExitCodeConfig means required configuration is missing or invalid.
	ExitCodeConfig = 2
	// ExitCodeNotFound means the record the command targets does not exist.
	ExitCodeNotFound = 3
)

// rootCmd is the stonetify entry point. Without a subcommand it serves the API.
var rootCmd = &cobra.Command{
	Use:   "stonetify",
	Short: "OAuth state and token service for the Stonetify app",
	Long: `stonetify runs the HTTP API that links Kakao, Naver and Spotify accounts,
keeps their tokens encrypted at rest, and refreshes them on demand.

Subcommands cover the maintenance jobs that run outside the server: key
generation, revoking or deleting a user's stored tokens, and sweeping
expired state and old audit entries.`,
	SilenceUsage: true,
	RunE:         runServe,
}

// SetVersion sets the version reported by --version.
func SetVersion(v string) {
	rootCmd.Version = v
}

// Execute runs the root command and exits with a code derived from the error.
func Execute() {
	rootCmd.SetVersionTemplate(`{{printf "stonetify version %s\n" .Version}}`)
	if err := rootCmd.Execute(); err != nil {
		os.Exit(getExitCode(err))
	}
}

func getExitCode(err error) int {
	if err == nil {
		return ExitCodeSuccess
	}
	switch oautherr.KindOf(err) {
	case oautherr.KindMissingConfig:
		return ExitCodeConfig
	case oautherr.KindNotFound:
		return ExitCodeNotFound
	}
	return ExitCodeError
}

func init() {
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(keygenCmd)
	rootCmd.AddCommand(newTokensCmd())
	rootCmd.AddCommand(sweepCmd)
	rootCmd.AddCommand(newAuditCmd())
}

package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"stonetify/utils"
)

var sweepRetentionDays int

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Delete old audit entries and expired shared state",
	Long: `Deletes audit log entries older than the retention window and sweeps
expired OAuth state and one-time codes from the shared store. Redis expires
keys itself, so the sweep there only reports.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		a, err := openApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.close()

		days := a.cfg.Security.AuditRetentionDays
		if sweepRetentionDays > 0 {
			days = sweepRetentionDays
		}
		deleted, err := utils.CleanupOldAuditLogs(days)
		if err != nil {
			return fmt.Errorf("failed to clean up audit logs: %w", err)
		}
		removed, err := a.kv.sweep(cmd.Context())
		if err != nil {
			return fmt.Errorf("failed to sweep expired state: %w", err)
		}

		a.logger.Info("sweep complete",
			zap.Int("retention_days", days),
			zap.Int64("audit_deleted", deleted),
			zap.Int("state_removed", removed),
		)
		fmt.Fprintf(cmd.OutOrStdout(), "deleted %d audit entries older than %d days, removed %d expired entries\n", deleted, days, removed)
		return nil
	},
}

func init() {
	sweepCmd.Flags().IntVar(&sweepRetentionDays, "days", 0, "audit retention in days (overrides AUDIT_RETENTION_DAYS)")
}

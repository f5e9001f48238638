package cmd

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"stonetify/utils"
)

func newAuditCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Read the audit log",
	}
	cmd.AddCommand(newAuditListCmd())
	return cmd
}

func newAuditListCmd() *cobra.Command {
	var (
		eventType string
		limit     int
		offset    int
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List recent audit entries, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if limit <= 0 || limit > 500 {
				limit = 50
			}
			a, err := openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.close()

			logs, total, err := utils.GetAuditLogs(eventType, limit, offset)
			if err != nil {
				return fmt.Errorf("failed to read audit logs: %w", err)
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "TIME\tTYPE\tACTION\tPROVIDER\tUSER\tSTATUS\tERROR")
			for _, l := range logs {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
					l.CreatedAt.Format("2006-01-02 15:04:05"),
					l.EventType, l.EventAction, l.Provider, l.UserID, l.Status, l.ErrorMsg)
			}
			if err := w.Flush(); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%d of %d entries\n", len(logs), total)
			return nil
		},
	}
	cmd.Flags().StringVar(&eventType, "type", "", "filter by event type (oauth, auth, playback, security)")
	cmd.Flags().IntVar(&limit, "limit", 50, "maximum entries to show")
	cmd.Flags().IntVar(&offset, "offset", 0, "entries to skip")
	return cmd
}

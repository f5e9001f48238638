package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"stonetify/models"
	"stonetify/oautherr"
	"stonetify/utils"
)

type tokenTarget struct {
	userID   string
	provider string
}

func (t *tokenTarget) bind(cmd *cobra.Command) {
	cmd.Flags().StringVar(&t.userID, "user", "", "user id (required)")
	cmd.Flags().StringVar(&t.provider, "provider", "", "kakao, naver or spotify (required)")
	_ = cmd.MarkFlagRequired("user")
	_ = cmd.MarkFlagRequired("provider")
}

func (t *tokenTarget) parse(op string) (models.Provider, error) {
	if t.userID == "" {
		return "", oautherr.Validation(op, "--user is required")
	}
	p, err := models.ParseProvider(t.provider)
	if err != nil {
		return "", oautherr.Validation(op, "%s", err.Error())
	}
	return p, nil
}

func newTokensCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tokens",
		Short: "Inspect and manage stored provider tokens",
	}
	cmd.AddCommand(newTokensStatusCmd(), newTokensRevokeCmd(), newTokensDeleteCmd())
	return cmd
}

func newTokensStatusCmd() *cobra.Command {
	var target tokenTarget
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the link status of a user's provider tokens",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			provider, err := target.parse("tokens.status")
			if err != nil {
				return err
			}
			a, err := openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.close()

			st, err := a.tokens.Status(cmd.Context(), target.userID, provider)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "provider:        %s\n", st.Provider)
			fmt.Fprintf(out, "connected:       %t\n", st.Connected)
			fmt.Fprintf(out, "revoked:         %t\n", st.Revoked)
			fmt.Fprintf(out, "requires reauth: %t\n", st.RequiresReauth)
			fmt.Fprintf(out, "version:         %d\n", st.Version)
			if st.ExpiresAt != nil {
				fmt.Fprintf(out, "expires at:      %s\n", st.ExpiresAt.Format("2006-01-02 15:04:05 MST"))
			}
			return nil
		},
	}
	target.bind(cmd)
	return cmd
}

func newTokensRevokeCmd() *cobra.Command {
	var target tokenTarget
	var unlink bool
	cmd := &cobra.Command{
		Use:   "revoke",
		Short: "Revoke a user's provider link",
		Long: `Clears the stored tokens and marks the link revoked, so the user must
authorize again. With --unlink the provider is asked to drop the link too;
that call is best-effort.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			provider, err := target.parse("tokens.revoke")
			if err != nil {
				return err
			}
			a, err := openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.close()

			err = a.tokens.Revoke(cmd.Context(), target.userID, provider, unlink)
			_ = utils.LogOAuthEvent(models.AuditActionTokenRevoke, target.userID, provider, "", "stonetify-cli", err, map[string]interface{}{"initiator": "operator"})
			if err != nil {
				return err
			}
			a.logger.Info("token revoked", zap.String("user_id", target.userID), zap.String("provider", provider.String()))
			fmt.Fprintf(cmd.OutOrStdout(), "revoked %s link for user %s\n", provider, target.userID)
			return nil
		},
	}
	target.bind(cmd)
	cmd.Flags().BoolVar(&unlink, "unlink", false, "also ask the provider to unlink the account")
	return cmd
}

func newTokensDeleteCmd() *cobra.Command {
	var target tokenTarget
	cmd := &cobra.Command{
		Use:   "delete",
		Short: "Delete every stored token record for a user and provider",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			provider, err := target.parse("tokens.delete")
			if err != nil {
				return err
			}
			a, err := openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.close()

			n, err := a.tokens.Delete(cmd.Context(), target.userID, provider)
			_ = utils.LogOAuthEvent(models.AuditActionTokenDelete, target.userID, provider, "", "stonetify-cli", err, map[string]interface{}{"deleted": n})
			if err != nil {
				return err
			}
			if n == 0 {
				return oautherr.New(oautherr.KindNotFound, "tokens.delete", "no token record found")
			}
			fmt.Fprintf(cmd.OutOrStdout(), "deleted %d record(s)\n", n)
			return nil
		},
	}
	target.bind(cmd)
	return cmd
}

package cmd

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"go.pilab.hu/ledger/api"
)

func newAuthURLCmd(opts *rootOptions) *cobra.Command {
	var state string
	cmd := &cobra.Command{
		Use:   "auth-url",
		Short: "Print the provider's authorization URL",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if state == "" {
				state = uuid.NewString()
			}
			fmt.Fprintln(cmd.OutOrStdout(), opts.app.Client.AuthorizationURL(state))
			return nil
		},
	}
	cmd.Flags().StringVar(&state, "state", "", "state value to embed (random when empty)")
	return cmd
}

func newExchangeCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "exchange CODE",
		Short: "Exchange an authorization code and store the tenant's tokens",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			token, err := opts.app.Client.ExchangeCode(ctxOf(cmd), opts.tenant, args[0])
			if err != nil {
				return fmt.Errorf("exchange failed: %w", err)
			}
			return printJSON(cmd.OutOrStdout(), status(opts, true, token.ExpiresAt))
		},
	}
}

func newRefreshCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "refresh",
		Short: "Refresh the tenant's access token",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			token, err := opts.app.Client.RefreshToken(ctxOf(cmd), opts.tenant)
			if err != nil {
				return fmt.Errorf("refresh failed: %w", err)
			}
			return printJSON(cmd.OutOrStdout(), status(opts, true, token.ExpiresAt))
		},
	}
}

func newStatusCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show whether the tenant is connected",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			connected, expiresAt := opts.app.Client.Connected(ctxOf(cmd), opts.tenant)
			return printJSON(cmd.OutOrStdout(), status(opts, connected, expiresAt))
		},
	}
}

func newDisconnectCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "disconnect",
		Short: "Forget the tenant's tokens",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := opts.app.Client.Disconnect(ctxOf(cmd), opts.tenant); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Tenant %q disconnected.\n", opts.tenant)
			return nil
		},
	}
}

func status(opts *rootOptions, connected bool, expiresAt time.Time) api.ConnectionStatus {
	s := api.ConnectionStatus{
		TenantID:  opts.tenant,
		Connected: connected,
		Mode:      string(opts.app.Client.Mode()),
	}
	if connected && !expiresAt.IsZero() {
		s.ExpiresAt = &expiresAt
	}
	return s
}

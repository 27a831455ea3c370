// Package cmd implements the ledgerctl commands.
package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"go.pilab.hu/ledger/config"
	"go.pilab.hu/ledger/internal/app"
	"go.pilab.hu/ledger/log"
)

// AppName is the binary name.
const AppName = "ledgerctl"

type rootOptions struct {
	configFile string
	envFile    string
	tenant     string
	verbose    bool

	app *app.App
}

// Execute runs ledgerctl with the process arguments.
func Execute() error {
	root, opts := newRootCmd()
	if err := execute(root, opts); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		return err
	}
	return nil
}

// execute runs root and releases the token backend even when the command
// failed.
func execute(root *cobra.Command, opts *rootOptions) error {
	err := root.Execute()
	if opts.app != nil {
		if closeErr := opts.app.Close(context.Background()); closeErr != nil && err == nil {
			err = closeErr
		}
		opts.app = nil
	}
	return err
}

// newRootCmd builds the command tree. Each invocation loads the
// configuration and wires a fresh client.
func newRootCmd() (*cobra.Command, *rootOptions) {
	opts := &rootOptions{}

	root := &cobra.Command{
		Use:           AppName,
		Short:         "ledgerctl talks to the accounting API through the resilient ledger client",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.LoadWith(config.LoadOptions{
				ConfigFile: opts.configFile,
				DotEnvFile: opts.envFile,
			})
			if err != nil {
				return err
			}

			level := log.ParseLevel(cfg.LogLevel)
			if !opts.verbose {
				level = log.ParseLevel("warn")
			}
			logger := log.NewWriterLogger(cmd.ErrOrStderr(), level)

			opts.app, err = app.New(cmd.Context(), cfg, app.WithLogger(logger))
			return err
		},
	}

	root.PersistentFlags().StringVar(&opts.configFile, "config", "",
		"config file (default is ledger.yaml in ., /etc/ledger/ or $HOME/.ledger)")
	root.PersistentFlags().StringVar(&opts.envFile, "env-file", "", "dotenv file to load before the environment")
	root.PersistentFlags().StringVarP(&opts.tenant, "tenant", "t", "default", "tenant whose tokens are used")
	root.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "log at the configured level instead of warn")

	root.AddCommand(
		newAuthURLCmd(opts),
		newExchangeCmd(opts),
		newRefreshCmd(opts),
		newStatusCmd(opts),
		newDisconnectCmd(opts),
		newCompaniesCmd(opts),
		newJournalsCmd(opts),
		newDocumentsCmd(opts),
		newReceiptsCmd(opts),
		newTrialBalanceCmd(opts),
		newAccountItemsCmd(opts),
		newDownloadCmd(opts),
	)
	return root, opts
}

func ctxOf(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

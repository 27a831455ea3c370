package cmd

import (
	"context"
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"go.pilab.hu/ledger/domain"
)

type listFlags struct {
	companyID int64
	start     string
	end       string
	limit     int
	offset    int
	all       bool
}

func (f *listFlags) bind(cmd *cobra.Command) {
	cmd.Flags().Int64Var(&f.companyID, "company", 0, "company id")
	cmd.Flags().StringVar(&f.start, "start", "", "first issue date (YYYY-MM-DD)")
	cmd.Flags().StringVar(&f.end, "end", "", "last issue date (YYYY-MM-DD)")
	cmd.Flags().IntVar(&f.limit, "limit", 0, "page size")
	cmd.Flags().IntVar(&f.offset, "offset", 0, "page offset")
	cmd.Flags().BoolVar(&f.all, "all", false, "follow pagination and print every record")
	_ = cmd.MarkFlagRequired("company")
}

func (f *listFlags) query() domain.ListQuery {
	return domain.ListQuery{
		CompanyID: f.companyID,
		Period:    domain.Period{Start: f.start, End: f.end},
		Limit:     f.limit,
		Offset:    f.offset,
	}
}

// newListCmd builds a command over one paginated resource.
func newListCmd[T any](
	opts *rootOptions,
	use, short string,
	page func(ctx context.Context, tenantID string, q domain.ListQuery) (*domain.Page[T], error),
	all func(ctx context.Context, tenantID string, q domain.ListQuery) ([]T, error),
) *cobra.Command {
	flags := &listFlags{}
	cmd := &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if flags.all {
				records, err := all(ctxOf(cmd), opts.tenant, flags.query())
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), records)
			}
			p, err := page(ctxOf(cmd), opts.tenant, flags.query())
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), p)
		},
	}
	flags.bind(cmd)
	return cmd
}

func newJournalsCmd(opts *rootOptions) *cobra.Command {
	return newListCmd(opts, "journals", "List journal entries",
		func(ctx context.Context, tenantID string, q domain.ListQuery) (*domain.Page[domain.Journal], error) {
			return opts.app.Client.Journals(ctx, tenantID, q)
		},
		func(ctx context.Context, tenantID string, q domain.ListQuery) ([]domain.Journal, error) {
			return opts.app.Client.AllJournals(ctx, tenantID, q)
		})
}

func newDocumentsCmd(opts *rootOptions) *cobra.Command {
	return newListCmd(opts, "documents", "List documents",
		func(ctx context.Context, tenantID string, q domain.ListQuery) (*domain.Page[domain.Document], error) {
			return opts.app.Client.Documents(ctx, tenantID, q)
		},
		func(ctx context.Context, tenantID string, q domain.ListQuery) ([]domain.Document, error) {
			return opts.app.Client.AllDocuments(ctx, tenantID, q)
		})
}

func newReceiptsCmd(opts *rootOptions) *cobra.Command {
	return newListCmd(opts, "receipts", "List receipts",
		func(ctx context.Context, tenantID string, q domain.ListQuery) (*domain.Page[domain.Receipt], error) {
			return opts.app.Client.Receipts(ctx, tenantID, q)
		},
		func(ctx context.Context, tenantID string, q domain.ListQuery) ([]domain.Receipt, error) {
			return opts.app.Client.AllReceipts(ctx, tenantID, q)
		})
}

func newCompaniesCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "companies",
		Short: "List the companies the tenant can access",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			companies, err := opts.app.Client.Companies(ctxOf(cmd), opts.tenant)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), companies)
		},
	}
}

func newAccountItemsCmd(opts *rootOptions) *cobra.Command {
	var companyID int64
	cmd := &cobra.Command{
		Use:   "account-items",
		Short: "List the chart of accounts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			items, err := opts.app.Client.AccountItems(ctxOf(cmd), opts.tenant, companyID)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), items)
		},
	}
	cmd.Flags().Int64Var(&companyID, "company", 0, "company id")
	_ = cmd.MarkFlagRequired("company")
	return cmd
}

func newTrialBalanceCmd(opts *rootOptions) *cobra.Command {
	q := domain.TrialBalanceQuery{}
	cmd := &cobra.Command{
		Use:   "trial-balance",
		Short: "Fetch the trial balance for a fiscal year or a date range",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			tb, err := opts.app.Client.TrialBalance(ctxOf(cmd), opts.tenant, q)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), tb)
		},
	}
	cmd.Flags().Int64Var(&q.CompanyID, "company", 0, "company id")
	cmd.Flags().IntVar(&q.FiscalYear, "fiscal-year", 0, "fiscal year")
	cmd.Flags().StringVar(&q.Period.Start, "start", "", "first date (YYYY-MM-DD)")
	cmd.Flags().StringVar(&q.Period.End, "end", "", "last date (YYYY-MM-DD)")
	cmd.Flags().StringVar(&q.BreakdownDisplayType, "breakdown", "", "account_item, partner, item or section")
	_ = cmd.MarkFlagRequired("company")
	return cmd
}

func newDownloadCmd(opts *rootOptions) *cobra.Command {
	var (
		companyID int64
		out       string
	)
	cmd := &cobra.Command{
		Use:   "download DOCUMENT_ID",
		Short: "Download a document's file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			documentID, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid document id %q: %w", args[0], err)
			}
			content, err := opts.app.Client.DownloadDocument(ctxOf(cmd), opts.tenant, companyID, documentID)
			if err != nil {
				return err
			}
			if out == "" || out == "-" {
				_, err = cmd.OutOrStdout().Write(content.Data)
				return err
			}
			if err := os.WriteFile(out, content.Data, 0o600); err != nil {
				return fmt.Errorf("failed to write %s: %w", out, err)
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "Wrote %d bytes (%s) to %s\n", len(content.Data), content.ContentType, out)
			return nil
		},
	}
	cmd.Flags().Int64Var(&companyID, "company", 0, "company id")
	cmd.Flags().StringVarP(&out, "out", "o", "", "output file (stdout when empty)")
	_ = cmd.MarkFlagRequired("company")
	return cmd
}

package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"go.pilab.hu/ledger/domain"
	lerrors "go.pilab.hu/ledger/errors"
	"go.pilab.hu/ledger/ratelimit"
	"go.pilab.hu/ledger/transport"
)

type companiesBody struct {
	Companies []domain.Company `json:"companies" validate:"required,dive"`
}

type accountItemsBody struct {
	AccountItems []domain.AccountItem `json:"account_items" validate:"required,dive"`
}

type trialBalanceBody struct {
	TrialBalance *domain.TrialBalance `json:"trial_balance" validate:"required"`
}

// Companies lists the companies the tenant's user can access.
func (c *Client) Companies(ctx context.Context, tenantID string) ([]domain.Company, error) {
	body, err := fetch[companiesBody](ctx, c, &transport.Request{
		TenantID: tenantID,
		Resource: "companies",
		Class:    ratelimit.ClassData,
		Path:     "/companies",
	})
	if err != nil {
		return nil, err
	}
	return body.Companies, nil
}

// Journals returns one page of journal entries.
func (c *Client) Journals(ctx context.Context, tenantID string, q domain.ListQuery) (*domain.Page[domain.Journal], error) {
	return listPage[domain.Journal](ctx, c, tenantID, "journals", "/journals", q)
}

// Documents returns one page of document metadata.
func (c *Client) Documents(ctx context.Context, tenantID string, q domain.ListQuery) (*domain.Page[domain.Document], error) {
	return listPage[domain.Document](ctx, c, tenantID, "documents", "/documents", q)
}

// Receipts returns one page of receipt records.
func (c *Client) Receipts(ctx context.Context, tenantID string, q domain.ListQuery) (*domain.Page[domain.Receipt], error) {
	return listPage[domain.Receipt](ctx, c, tenantID, "receipts", "/receipts", q)
}

// DownloadDocument fetches the binary content of a document.
func (c *Client) DownloadDocument(ctx context.Context, tenantID string, companyID, documentID int64) (*domain.DocumentContent, error) {
	if c.live() && (companyID <= 0 || documentID <= 0) {
		return nil, errors.New("ledger: company id and document id are required")
	}

	resp, err := c.transport.Do(ctx, &transport.Request{
		TenantID: tenantID,
		Resource: "document_download",
		Class:    ratelimit.ClassData,
		Path:     fmt.Sprintf("/documents/%d/download", documentID),
		Query:    url.Values{"company_id": {strconv.FormatInt(companyID, 10)}},
		Accept:   "*/*",
	})
	if err != nil {
		return nil, err
	}
	if len(resp.Body) == 0 {
		return nil, lerrors.NewSchemaError("document_download", resp.StatusCode, errors.New("empty body"))
	}

	contentType := resp.ContentType
	if contentType == "" {
		contentType = http.DetectContentType(resp.Body)
	}
	return &domain.DocumentContent{
		DocumentID:  documentID,
		ContentType: contentType,
		Data:        resp.Body,
	}, nil
}

// TrialBalance fetches the trial balance for a fiscal year or, when
// FiscalYear is zero, for the query period.
func (c *Client) TrialBalance(ctx context.Context, tenantID string, q domain.TrialBalanceQuery) (*domain.TrialBalance, error) {
	if c.live() {
		if err := c.validate.Struct(q); err != nil {
			return nil, fmt.Errorf("ledger: invalid trial balance query: %w", err)
		}
		if q.FiscalYear == 0 && (q.Period.Start == "" || q.Period.End == "") {
			return nil, errors.New("ledger: trial balance needs a fiscal year or a full date range")
		}
	}

	query := url.Values{"company_id": {strconv.FormatInt(q.CompanyID, 10)}}
	if q.FiscalYear > 0 {
		query.Set("fiscal_year", strconv.Itoa(q.FiscalYear))
	} else {
		query.Set("start_date", q.Period.Start)
		query.Set("end_date", q.Period.End)
	}
	if q.BreakdownDisplayType != "" {
		query.Set("breakdown_display_type", q.BreakdownDisplayType)
	}

	body, err := fetch[trialBalanceBody](ctx, c, &transport.Request{
		TenantID: tenantID,
		Resource: "trial_balance",
		Class:    ratelimit.ClassReport,
		Path:     "/reports/trial_balance",
		Query:    query,
	})
	if err != nil {
		return nil, err
	}
	return body.TrialBalance, nil
}

// AccountItems lists the company's chart of accounts.
func (c *Client) AccountItems(ctx context.Context, tenantID string, companyID int64) ([]domain.AccountItem, error) {
	if c.live() && companyID <= 0 {
		return nil, errors.New("ledger: company id is required")
	}
	body, err := fetch[accountItemsBody](ctx, c, &transport.Request{
		TenantID: tenantID,
		Resource: "account_items",
		Class:    ratelimit.ClassData,
		Path:     "/account_items",
		Query:    url.Values{"company_id": {strconv.FormatInt(companyID, 10)}},
	})
	if err != nil {
		return nil, err
	}
	return body.AccountItems, nil
}

// live reports whether requests reach the real API. The mock answers its
// fixtures regardless of parameters, so arguments are only checked live.
func (c *Client) live() bool { return c.transport.Mode() != transport.ModeMock }

func listPage[T any](ctx context.Context, c *Client, tenantID, resource, path string, q domain.ListQuery) (*domain.Page[T], error) {
	if c.live() {
		if err := c.validate.Struct(q); err != nil {
			return nil, fmt.Errorf("ledger: invalid %s query: %w", resource, err)
		}
	}
	return fetch[domain.Page[T]](ctx, c, &transport.Request{
		TenantID: tenantID,
		Resource: resource,
		Class:    ratelimit.ClassData,
		Path:     path,
		Query:    listQuery(q),
	})
}

func listQuery(q domain.ListQuery) url.Values {
	v := url.Values{"company_id": {strconv.FormatInt(q.CompanyID, 10)}}
	if q.Period.Start != "" {
		v.Set("start_issue_date", q.Period.Start)
	}
	if q.Period.End != "" {
		v.Set("end_issue_date", q.Period.End)
	}
	if q.Limit > 0 {
		v.Set("limit", strconv.Itoa(q.Limit))
	}
	if q.Offset > 0 {
		v.Set("offset", strconv.Itoa(q.Offset))
	}
	return v
}

// fetch performs req and decodes the body into T, rejecting bodies that do
// not satisfy T's validation tags.
func fetch[T any](ctx context.Context, c *Client, req *transport.Request) (*T, error) {
	resp, err := c.transport.Do(ctx, req)
	if err != nil {
		return nil, err
	}

	var out T
	if err := json.Unmarshal(resp.Body, &out); err != nil {
		return nil, lerrors.NewSchemaError(req.Resource, resp.StatusCode, err)
	}
	if err := c.validate.Struct(&out); err != nil {
		return nil, lerrors.NewSchemaError(req.Resource, resp.StatusCode, err)
	}
	return &out, nil
}

package domain

// Company is a tenant company visible to the authorized user.
type Company struct {
	ID          int64  `json:"id"           validate:"required"`
	Name        string `json:"name"         validate:"required"`
	DisplayName string `json:"display_name"`
	Role        string `json:"role"`
}

// Journal is one journal entry with its debit/credit lines.
type Journal struct {
	ID          int64         `json:"id"          validate:"required"`
	CompanyID   int64         `json:"company_id"  validate:"required"`
	IssueDate   string        `json:"issue_date"  validate:"required,datetime=2006-01-02"`
	Description string        `json:"description"`
	Details     []JournalLine `json:"details"     validate:"required,min=1,dive"`
}

// JournalLine is a single debit or credit line of a journal entry.
type JournalLine struct {
	EntrySide       string `json:"entry_side"        validate:"required,oneof=debit credit"`
	AccountItemID   int64  `json:"account_item_id"   validate:"required"`
	AccountItemName string `json:"account_item_name"`
	Amount          int64  `json:"amount"            validate:"gte=0"`
	Vat             int64  `json:"vat"`
	TaxCode         int    `json:"tax_code"`
	Description     string `json:"description"`
}

// Document is the metadata of an uploaded accounting document.
type Document struct {
	ID           int64  `json:"id"            validate:"required"`
	CompanyID    int64  `json:"company_id"    validate:"required"`
	IssueDate    string `json:"issue_date"    validate:"omitempty,datetime=2006-01-02"`
	DocumentType string `json:"document_type"`
	FileName     string `json:"file_name"     validate:"required"`
	MimeType     string `json:"mime_type"     validate:"required"`
	FileSize     int64  `json:"file_size"     validate:"gte=0"`
	Amount       int64  `json:"amount"`
	PartnerName  string `json:"partner_name"`
	Status       string `json:"status"`
}

// DocumentContent is the binary body of a downloaded document.
type DocumentContent struct {
	DocumentID  int64
	ContentType string
	Data        []byte
}

// Receipt is an uploaded receipt record.
type Receipt struct {
	ID          int64  `json:"id"          validate:"required"`
	CompanyID   int64  `json:"company_id"  validate:"required"`
	IssueDate   string `json:"issue_date"  validate:"omitempty,datetime=2006-01-02"`
	Description string `json:"description"`
	MimeType    string `json:"mime_type"`
	Status      string `json:"status"`
	Amount      int64  `json:"amount"`
	CreatedAt   string `json:"created_at"`
}

// TrialBalance is the hierarchical account balance report of a company.
type TrialBalance struct {
	CompanyID            int64             `json:"company_id"             validate:"required"`
	FiscalYear           int               `json:"fiscal_year"`
	StartDate            string            `json:"start_date"`
	EndDate              string            `json:"end_date"`
	BreakdownDisplayType string            `json:"breakdown_display_type"`
	Balances             []TrialBalanceRow `json:"balances"               validate:"dive"`
}

// TrialBalanceRow is either an account item row or an account category
// subtotal row. HierarchyLevel starts at 1 for top-level categories.
type TrialBalanceRow struct {
	AccountItemID             int64   `json:"account_item_id"`
	AccountItemName           string  `json:"account_item_name"`
	AccountCategoryName       string  `json:"account_category_name"`
	HierarchyLevel            int     `json:"hierarchy_level"              validate:"gte=0"`
	ParentAccountCategoryName string  `json:"parent_account_category_name"`
	OpeningBalance            int64   `json:"opening_balance"`
	DebitAmount               int64   `json:"debit_amount"`
	CreditAmount              int64   `json:"credit_amount"`
	ClosingBalance            int64   `json:"closing_balance"`
	CompositionRatio          float64 `json:"composition_ratio"`
}

// AccountItem is one entry of a company's chart of accounts.
type AccountItem struct {
	ID                int64  `json:"id"                  validate:"required"`
	Name              string `json:"name"                validate:"required"`
	Shortcut          string `json:"shortcut"`
	AccountCategory   string `json:"account_category"`
	AccountCategoryID int64  `json:"account_category_id"`
	DefaultTaxCode    int    `json:"default_tax_code"`
	Available         bool   `json:"available"`
}

// PageMeta describes the position of a page within the full result set.
type PageMeta struct {
	TotalCount int `json:"total_count" validate:"gte=0"`
	Limit      int `json:"limit"       validate:"gte=0"`
	Offset     int `json:"offset"      validate:"gte=0"`
}

// Page is one page of a paginated resource listing.
type Page[T any] struct {
	Data []T      `json:"data" validate:"required,dive"`
	Meta PageMeta `json:"meta"`
}

// HasMore reports whether records exist past this page.
func (p *Page[T]) HasMore() bool {
	return p.Meta.Limit > 0 && p.Meta.Offset+p.Meta.Limit < p.Meta.TotalCount
}

// Period restricts a listing to an issue-date range (YYYY-MM-DD, inclusive).
type Period struct {
	Start string `validate:"omitempty,datetime=2006-01-02"`
	End   string `validate:"omitempty,datetime=2006-01-02"`
}

// ListQuery are the common parameters of the paginated endpoints.
type ListQuery struct {
	CompanyID int64 `validate:"gt=0"`
	Period    Period
	Limit     int `validate:"gte=0"`
	Offset    int `validate:"gte=0"`
}

// TrialBalanceQuery selects a trial balance either by fiscal year or by an
// explicit date range.
type TrialBalanceQuery struct {
	CompanyID            int64 `validate:"gt=0"`
	FiscalYear           int   `validate:"gte=0"`
	Period               Period
	BreakdownDisplayType string `validate:"omitempty,oneof=account_item partner item section"`
}

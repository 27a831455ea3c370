package ledger

import (
	"context"

	"go.pilab.hu/ledger/domain"
)

// DefaultPageLimit is the page size CollectAll uses when none is given.
const DefaultPageLimit = 100

// PageFunc fetches the page starting at offset.
type PageFunc[T any] func(ctx context.Context, offset, limit int) (*domain.Page[T], error)

// CollectAll requests pages one after another, in increasing offset, until
// the reported total is reached. The offset advances by what the upstream
// actually served: its meta.limit when it caps the page size below limit,
// or the number of records when a page comes back short. Records fetched
// before an error are returned along with it.
func CollectAll[T any](ctx context.Context, limit int, fetch PageFunc[T]) ([]T, error) {
	if limit <= 0 {
		limit = DefaultPageLimit
	}

	var all []T
	for offset := 0; ; {
		if err := ctx.Err(); err != nil {
			return all, err
		}
		page, err := fetch(ctx, offset, limit)
		if err != nil {
			return all, err
		}
		all = append(all, page.Data...)
		if len(page.Data) == 0 {
			return all, nil
		}

		step := limit
		if page.Meta.Limit > 0 && page.Meta.Limit < step {
			step = page.Meta.Limit
		}
		step = min(step, len(page.Data))

		offset += step
		if offset >= page.Meta.TotalCount {
			return all, nil
		}
	}
}

// AllJournals fetches every journal entry matching q, ignoring q.Offset.
func (c *Client) AllJournals(ctx context.Context, tenantID string, q domain.ListQuery) ([]domain.Journal, error) {
	return CollectAll(ctx, q.Limit, func(ctx context.Context, offset, limit int) (*domain.Page[domain.Journal], error) {
		q.Offset, q.Limit = offset, limit
		return c.Journals(ctx, tenantID, q)
	})
}

// AllDocuments fetches every document matching q, ignoring q.Offset.
func (c *Client) AllDocuments(ctx context.Context, tenantID string, q domain.ListQuery) ([]domain.Document, error) {
	return CollectAll(ctx, q.Limit, func(ctx context.Context, offset, limit int) (*domain.Page[domain.Document], error) {
		q.Offset, q.Limit = offset, limit
		return c.Documents(ctx, tenantID, q)
	})
}

// AllReceipts fetches every receipt matching q, ignoring q.Offset.
func (c *Client) AllReceipts(ctx context.Context, tenantID string, q domain.ListQuery) ([]domain.Receipt, error) {
	return CollectAll(ctx, q.Limit, func(ctx context.Context, offset, limit int) (*domain.Page[domain.Receipt], error) {
		q.Offset, q.Limit = offset, limit
		return c.Receipts(ctx, tenantID, q)
	})
}

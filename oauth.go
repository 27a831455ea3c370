package ledger

import (
	"context"
	"errors"
	"time"

	"go.pilab.hu/ledger/domain"
	lerrors "go.pilab.hu/ledger/errors"
	"go.pilab.hu/ledger/log"
	"go.pilab.hu/ledger/tokenstore"
)

// AuthorizationURL is the provider URL the user is sent to. state is
// optional and binds the callback to the request that started it.
func (c *Client) AuthorizationURL(state string) string {
	return c.oauth.AuthCodeURL(state)
}

// ExchangeCode trades an authorization code for tokens and stores them for
// tenantID.
func (c *Client) ExchangeCode(ctx context.Context, tenantID, code string) (*domain.OAuthToken, error) {
	if tenantID == "" {
		return nil, tokenstore.ErrMissingTenant
	}
	if code == "" {
		return nil, errors.New("ledger: authorization code is required")
	}

	resp, err := c.transport.ExchangeCode(ctx, code)
	if err != nil {
		c.logger.Warn(ctx, "Authorization code exchange failed", log.Fields{
			"tenant_id": tenantID,
			"error":     err.Error(),
		})
		return nil, err
	}

	token, err := c.store.Save(ctx, tenantID, resp)
	if err != nil {
		return nil, err
	}
	c.logger.Info(ctx, "Tenant connected", log.Fields{
		"tenant_id":  tenantID,
		"expires_at": token.ExpiresAt,
	})
	return token, nil
}

// RefreshToken renews the tenant's tokens. Concurrent calls for the same
// tenant share one upstream request. On failure the stored record is left
// as it was.
func (c *Client) RefreshToken(ctx context.Context, tenantID string) (*domain.OAuthToken, error) {
	return c.refreshShared(ctx, tenantID, true)
}

type refreshResult struct {
	token     *domain.OAuthToken
	refreshed bool
}

// refreshShared runs refresh through the per-tenant single flight. Unless
// force is set, a record that is no longer expired when re-read is returned
// as is. A forced call that joined such a flight starts its own.
func (c *Client) refreshShared(ctx context.Context, tenantID string, force bool) (*domain.OAuthToken, error) {
	for {
		ch := c.refreshes.DoChan(tenantID, func() (interface{}, error) {
			return c.refresh(context.WithoutCancel(ctx), tenantID, force)
		})
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case res := <-ch:
			if res.Err != nil {
				return nil, res.Err
			}
			r := res.Val.(refreshResult)
			if force && !r.refreshed {
				continue
			}
			return r.token, nil
		}
	}
}

func (c *Client) refresh(ctx context.Context, tenantID string, force bool) (refreshResult, error) {
	current, err := c.store.Get(ctx, tenantID)
	if err != nil {
		return refreshResult{}, err
	}
	if current == nil || current.RefreshToken == "" {
		return refreshResult{}, lerrors.NewNotConnected(tenantID)
	}
	// Renewed by another caller since it was read.
	if !force && !current.Expired(c.store.Now()) {
		return refreshResult{token: current}, nil
	}

	resp, err := c.transport.RefreshToken(ctx, current.RefreshToken)
	if err != nil {
		c.metrics.ObserveRefresh(false)
		c.logger.Warn(ctx, "Token refresh failed", log.Fields{
			"tenant_id": tenantID,
			"error":     err.Error(),
		})
		return refreshResult{}, err
	}

	// Providers may omit a rotated refresh token; the old one stays valid.
	if resp.RefreshToken == "" {
		resp.RefreshToken = current.RefreshToken
	}
	if resp.Scope == "" {
		resp.Scope = current.Scope
	}

	token, err := c.store.Save(ctx, tenantID, resp)
	if err != nil {
		c.metrics.ObserveRefresh(false)
		return refreshResult{}, err
	}
	c.metrics.ObserveRefresh(true)
	c.logger.Info(ctx, "Token refreshed", log.Fields{
		"tenant_id":  tenantID,
		"expires_at": token.ExpiresAt,
	})
	return refreshResult{token: token, refreshed: true}, nil
}

// AccessToken returns a bearer token for tenantID, refreshing the stored
// one first when it is expired.
func (c *Client) AccessToken(ctx context.Context, tenantID string) (string, error) {
	token, err := c.store.Get(ctx, tenantID)
	if err != nil {
		return "", err
	}
	if token == nil {
		return "", lerrors.NewNotConnected(tenantID)
	}
	if token.Expired(c.store.Now()) {
		if token, err = c.refreshShared(ctx, tenantID, false); err != nil {
			return "", err
		}
	}
	return token.AccessToken, nil
}

// Disconnect forgets the tenant's tokens.
func (c *Client) Disconnect(ctx context.Context, tenantID string) error {
	if tenantID == "" {
		return tokenstore.ErrMissingTenant
	}
	return c.store.Delete(ctx, tenantID)
}

// Connected reports whether the tenant has a usable token record and when
// its access token expires.
func (c *Client) Connected(ctx context.Context, tenantID string) (bool, time.Time) {
	token, err := c.store.Get(ctx, tenantID)
	if err != nil || token == nil {
		return false, time.Time{}
	}
	return true, token.ExpiresAt
}

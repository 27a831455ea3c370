//nolint:varnamelen
package echo

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"go.pilab.hu/ledger"
	"go.pilab.hu/ledger/api"
	lerrors "go.pilab.hu/ledger/errors"
	"go.pilab.hu/ledger/internal/audit"
	"go.pilab.hu/ledger/log"
)

// ConnectAPI serves the OAuth2 connect flow and tenant connection status.
type ConnectAPI struct {
	client *ledger.Client
	states *StateStore
	logger log.Logger
	audit  *audit.Logger
}

// NewConnectAPI initializes the connect API.
func NewConnectAPI(client *ledger.Client, states *StateStore, logger log.Logger) *ConnectAPI {
	if states == nil {
		states = NewStateStore(DefaultStateTTL)
	}
	if logger == nil {
		logger = log.NewNop()
	}
	return &ConnectAPI{client: client, states: states, logger: logger}
}

// WithAudit records connect, refresh and disconnect outcomes to l.
func (a *ConnectAPI) WithAudit(l *audit.Logger) *ConnectAPI {
	a.audit = l
	return a
}

// RegisterRoutes registers the connect routes.
func (a *ConnectAPI) RegisterRoutes(e *echo.Echo) {
	e.GET("/healthz", a.HealthHandler)

	e.GET("/oauth/connect", a.ConnectHandler)
	e.GET("/oauth/callback", a.CallbackHandler)

	tenants := e.Group("/tenants/:tenant")
	tenants.GET("/connection", a.StatusHandler)
	tenants.POST("/connection/refresh", a.RefreshHandler)
	tenants.DELETE("/connection", a.DisconnectHandler)
}

// HealthHandler reports liveness and the selected transport.
func (a *ConnectAPI) HealthHandler(c echo.Context) error {
	return c.JSON(http.StatusOK, api.HealthResponse{Status: "ok", Mode: string(a.client.Mode())})
}

// ConnectHandler starts the authorization code flow for the tenant named in
// the query and redirects the user agent to the provider.
func (a *ConnectAPI) ConnectHandler(c echo.Context) error {
	tenantID := c.QueryParam("tenant")
	if tenantID == "" {
		return c.JSON(http.StatusBadRequest, api.ErrorResponse{
			Error:       lerrors.InvalidRequest,
			Description: "tenant is required",
		})
	}

	state := a.states.Issue(tenantID)
	a.logger.Debug(c.Request().Context(), "Authorization flow started", log.Fields{"tenant_id": tenantID})

	return c.Redirect(http.StatusFound, a.client.AuthorizationURL(state))
}

// CallbackHandler completes the flow: it checks the state, exchanges the
// code and persists the tenant's tokens.
func (a *ConnectAPI) CallbackHandler(c echo.Context) error {
	ctx := c.Request().Context()

	if code := c.QueryParam("error"); code != "" {
		if state := c.QueryParam("state"); state != "" {
			a.states.Consume(state)
		}
		return c.JSON(http.StatusBadRequest, api.ErrorResponse{
			Error:       code,
			Description: c.QueryParam("error_description"),
		})
	}

	tenantID, ok := a.states.Consume(c.QueryParam("state"))
	if !ok {
		return c.JSON(http.StatusBadRequest, api.ErrorResponse{
			Error:       lerrors.InvalidRequest,
			Description: "unknown or expired state",
		})
	}

	code := c.QueryParam("code")
	if code == "" {
		return c.JSON(http.StatusBadRequest, api.ErrorResponse{
			Error:       lerrors.InvalidRequest,
			Description: "code is required",
		})
	}

	token, err := a.client.ExchangeCode(ctx, tenantID, code)
	a.audit.Log(audit.ActionConnect, tenantID, "", err)
	if err != nil {
		a.logger.Error(ctx, "Code exchange failed", err, log.Fields{"tenant_id": tenantID})
		return writeError(c, err)
	}

	a.logger.Info(ctx, "Tenant connected", log.Fields{"tenant_id": tenantID})
	return c.JSON(http.StatusOK, a.status(tenantID, true, token.ExpiresAt))
}

// StatusHandler reports whether the tenant holds a token record.
func (a *ConnectAPI) StatusHandler(c echo.Context) error {
	tenantID := c.Param("tenant")
	connected, expiresAt := a.client.Connected(c.Request().Context(), tenantID)
	return c.JSON(http.StatusOK, a.status(tenantID, connected, expiresAt))
}

// RefreshHandler forces a refresh of the tenant's access token.
func (a *ConnectAPI) RefreshHandler(c echo.Context) error {
	tenantID := c.Param("tenant")
	token, err := a.client.RefreshToken(c.Request().Context(), tenantID)
	a.audit.Log(audit.ActionRefresh, tenantID, "", err)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, a.status(tenantID, true, token.ExpiresAt))
}

// DisconnectHandler forgets the tenant's tokens.
func (a *ConnectAPI) DisconnectHandler(c echo.Context) error {
	tenantID := c.Param("tenant")
	err := a.client.Disconnect(c.Request().Context(), tenantID)
	a.audit.Log(audit.ActionDisconnect, tenantID, "", err)
	if err != nil {
		return writeError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (a *ConnectAPI) status(tenantID string, connected bool, expiresAt time.Time) api.ConnectionStatus {
	s := api.ConnectionStatus{
		TenantID:  tenantID,
		Connected: connected,
		Mode:      string(a.client.Mode()),
	}
	if connected && !expiresAt.IsZero() {
		s.ExpiresAt = &expiresAt
	}
	return s
}

// writeError maps the client's error taxonomy onto HTTP answers.
func writeError(c echo.Context, err error) error {
	var (
		authErr *ledger.AuthenticationError
		openErr *ledger.CircuitOpenError
		netErr  *ledger.NetworkError
		apiErr  *ledger.APIError
	)

	switch {
	case errors.As(err, &authErr):
		return c.JSON(http.StatusUnauthorized, api.ErrorResponse{
			Error:       lerrors.AccessDenied,
			Description: err.Error(),
		})
	case errors.As(err, &openErr):
		if openErr.RetryAfter > 0 {
			c.Response().Header().Set("Retry-After", strconv.Itoa(int(openErr.RetryAfter.Round(time.Second).Seconds())))
		}
		return c.JSON(http.StatusServiceUnavailable, api.ErrorResponse{
			Error:       lerrors.TemporarilyUnavailable,
			Description: err.Error(),
		})
	case errors.As(err, &netErr):
		return c.JSON(http.StatusBadGateway, api.ErrorResponse{
			Error:       lerrors.ServerError,
			Description: err.Error(),
		})
	case errors.As(err, &apiErr):
		status := http.StatusBadGateway
		if apiErr.HTTPStatus >= 400 && apiErr.HTTPStatus < 500 {
			status = http.StatusBadRequest
		}
		return c.JSON(status, api.ErrorResponse{
			Error:       apiErr.Code,
			Description: apiErr.Message,
			Fields:      apiErr.Fields,
			RequestID:   apiErr.RequestID,
		})
	}

	return c.JSON(http.StatusInternalServerError, api.ErrorResponse{
		Error:       lerrors.ServerError,
		Description: err.Error(),
	})
}

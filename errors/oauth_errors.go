package errors

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
)

// OAuth2Error is the RFC 6749 error body returned by the token endpoint.
type OAuth2Error struct {
	Code        string `json:"error"`
	Description string `json:"error_description,omitempty"`
	URI         string `json:"error_uri,omitempty"`
}

func (e *OAuth2Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Description)
}

// Standard OAuth2 error codes
const (
	InvalidRequest         = "invalid_request"
	UnauthorizedClient     = "unauthorized_client"
	AccessDenied           = "access_denied"
	UnsupportedGrantType   = "unsupported_grant_type"
	InvalidScope           = "invalid_scope"
	InvalidClient          = "invalid_client"
	InvalidGrant           = "invalid_grant"
	ServerError            = "server_error"
	TemporarilyUnavailable = "temporarily_unavailable"
)

// resourceErrorBody is the error envelope of the resource endpoints.
type resourceErrorBody struct {
	StatusCode int `json:"status_code"`
	Errors     []struct {
		Type     string          `json:"type"`
		Messages json.RawMessage `json:"messages"`
		Field    string          `json:"field,omitempty"`
	} `json:"errors"`
	Message string `json:"message,omitempty"`
}

// ParseErrorBody builds an APIError from a non-2xx answer. Both the resource
// envelope and the OAuth2 body are understood; anything else keeps the raw
// body as message.
func ParseErrorBody(status int, body []byte) *APIError {
	apiErr := &APIError{Code: CodeHTTPStatus, HTTPStatus: status}

	var oauthBody OAuth2Error
	if err := json.Unmarshal(body, &oauthBody); err == nil && oauthBody.Code != "" {
		apiErr.Code = oauthBody.Code
		apiErr.Message = oauthBody.Description
		return apiErr
	}

	var res resourceErrorBody
	if err := json.Unmarshal(body, &res); err == nil && (len(res.Errors) > 0 || res.Message != "") {
		var msgs []string
		if res.Message != "" {
			msgs = append(msgs, res.Message)
		}
		for _, e := range res.Errors {
			if apiErr.Code == CodeHTTPStatus && e.Type != "" {
				apiErr.Code = e.Type
			}
			lines := decodeMessages(e.Messages)
			if e.Field != "" {
				if apiErr.Fields == nil {
					apiErr.Fields = FieldErrors{}
				}
				apiErr.Fields[e.Field] = append(apiErr.Fields[e.Field], lines...)
				continue
			}
			msgs = append(msgs, lines...)
		}
		apiErr.Message = strings.Join(msgs, "; ")
		return apiErr
	}

	apiErr.Message = strings.TrimSpace(string(body))
	if apiErr.Message == "" {
		apiErr.Message = http.StatusText(status)
	}
	return apiErr
}

// decodeMessages accepts either a list of strings or a single string.
func decodeMessages(raw json.RawMessage) []string {
	if len(raw) == 0 {
		return nil
	}
	var list []string
	if err := json.Unmarshal(raw, &list); err == nil {
		return list
	}
	var one string
	if err := json.Unmarshal(raw, &one); err == nil && one != "" {
		return []string{one}
	}
	return nil
}

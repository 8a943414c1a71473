package types

import (
	"encoding/json"
	"net/http"
)

// ErrorResponse is the JSON body returned for every failed request.
type ErrorResponse struct {
	// UserInfo is set on player_api authentication failures so that Xtream
	// clients see the auth=0 shape they expect.
	UserInfo *AuthFailure `json:"user_info,omitempty"`

	// Error contains the error details.
	Error ErrorDetail `json:"error"`
}

// AuthFailure mirrors the user_info object of a rejected Xtream login.
type AuthFailure struct {
	Auth int `json:"auth"`
}

// ErrorDetail contains detailed error information.
type ErrorDetail struct {
	// Code is the stable machine-readable error code.
	Code string `json:"code"`

	// Message is a human-readable error message.
	Message string `json:"message"`

	// RequestID correlates the response with server logs.
	RequestID string `json:"request_id,omitempty"`
}

// NewErrorResponse builds the response body for err.
func NewErrorResponse(err error, requestID string) *ErrorResponse {
	kind := KindOf(err)
	resp := &ErrorResponse{
		Error: ErrorDetail{
			Code:      kind.Code(),
			Message:   MessageOf(err),
			RequestID: requestID,
		},
	}
	if kind == KindUnauthorized || kind == KindAccountSuspended {
		resp.UserInfo = &AuthFailure{Auth: 0}
	}
	return resp
}

// WriteError writes err to w as a JSON error response with the mapped
// status code.
func WriteError(w http.ResponseWriter, err error, requestID string) {
	kind := KindOf(err)
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	if kind == KindOverloaded && w.Header().Get("Retry-After") == "" {
		w.Header().Set("Retry-After", "1")
	}
	w.WriteHeader(kind.HTTPStatus())
	_ = json.NewEncoder(w).Encode(NewErrorResponse(err, requestID))
}

package core

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"alertrelay/internal/types"
)

// maxRequestBodySize is the maximum allowed size of a request body.
const maxRequestBodySize = 256 << 10

// APIResponse is the envelope for successful responses.
type APIResponse struct {
	Data any           `json:"data,omitempty"`
	Meta *ResponseMeta `json:"meta,omitempty"`
}

// ResponseMeta describes list responses.
type ResponseMeta struct {
	Count int `json:"count"`
	Limit int `json:"limit,omitempty"`
}

// APIErrorResponse is the standard envelope for all error API responses.
type APIErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail contains the structured error information returned to clients.
type ErrorDetail struct {
	Code      string         `json:"code"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
	RequestID string         `json:"request_id"`
}

// JSON writes data with the given status. A marshalling failure becomes a
// 500 error envelope.
func JSON(w http.ResponseWriter, r *http.Request, status int, data any) {
	body, err := json.Marshal(data)
	if err != nil {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		_ = json.NewEncoder(w).Encode(APIErrorResponse{
			Error: ErrorDetail{
				Code:      string(types.ErrCodeInternalUnexpected),
				Message:   "failed to marshal response",
				RequestID: types.GetRequestID(r.Context()),
			},
		})
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(body)
}

// Error writes err as an APIErrorResponse. An *types.AppError in the chain
// selects the status and code; anything else is a 500 with a generic
// message. Wrapped causes are never exposed.
func Error(w http.ResponseWriter, r *http.Request, err error) {
	detail := ErrorDetail{
		Code:      string(types.ErrCodeInternalUnexpected),
		Message:   "an unexpected error occurred",
		RequestID: types.GetRequestID(r.Context()),
	}
	status := http.StatusInternalServerError

	var appErr *types.AppError
	if errors.As(err, &appErr) {
		status = appErr.HTTPStatus()
		detail.Code = string(appErr.Code)
		detail.Message = appErr.Message
		detail.Details = appErr.Details
	}

	JSON(w, r, status, APIErrorResponse{Error: detail})
}

// errCodeValidationInvalidJSON is specific to the HTTP layer.
const errCodeValidationInvalidJSON types.ErrorCode = "validation_invalid_json"

// DecodeJSON reads a single JSON value from the request body into dst,
// bounded by maxRequestBodySize. Unknown fields are ignored so producers can
// send richer payloads than the engine consumes. Failures are
// validation_invalid_json app errors.
func DecodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)

	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(dst); err != nil {
		return decodeFailure(err)
	}
	if dec.More() {
		return types.NewAppError(errCodeValidationInvalidJSON, "request body must contain a single JSON object", nil)
	}
	return nil
}

func decodeFailure(err error) *types.AppError {
	var (
		tooLarge *http.MaxBytesError
		syntax   *json.SyntaxError
		mismatch *json.UnmarshalTypeError
		message  = "invalid JSON in request body"
		details  map[string]any
	)
	switch {
	case errors.As(err, &tooLarge):
		message = "request body must not exceed 256KB"
	case errors.As(err, &syntax):
		message = "malformed JSON in request body"
	case errors.As(err, &mismatch):
		message = "invalid value for field"
		details = map[string]any{"field": mismatch.Field, "expected": mismatch.Type.String()}
	case errors.Is(err, io.EOF):
		message = "request body must not be empty"
	}

	appErr := types.NewAppError(errCodeValidationInvalidJSON, message, err)
	if details != nil {
		appErr = appErr.WithDetails(details)
	}
	return appErr
}

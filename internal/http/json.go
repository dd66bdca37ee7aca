package httpx

import (
	"bytes"
	"encoding/json"
	"mime"
	"net/http"

	apperrors "github.com/northwind-consulting/portal/internal/errors"
	"github.com/northwind-consulting/portal/internal/service"
)

// APIError is the error object of every JSON response.
type APIError struct {
	Code       apperrors.ErrorCode `json:"code"`
	Message    string              `json:"message"`
	Field      string              `json:"field,omitempty"`
	Rules      []string            `json:"rules,omitempty"`
	RedirectTo string              `json:"redirect_to,omitempty"`
}

// DecodeJSON decodes JSON from the request body into the destination and handles errors.
// Returns true if successful, false if there was an error (error response already written).
func DecodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()

	if err := dec.Decode(dst); err != nil {
		WriteAPIError(w, apperrors.Wrap(err, apperrors.ErrCodeValidation, "Request body must be valid JSON"))
		return false
	}

	return true
}

// WriteJSON writes a JSON response with the given status code and data.
func WriteJSON(w http.ResponseWriter, code int, v any) {
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(v); err != nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", contentTypeJSON)
	w.WriteHeader(code)
	if _, err := buf.WriteTo(w); err != nil {
		// Response writer errors (e.g., client disconnect) can't be recovered from here.
		return
	}
}

// WriteResult writes a successful operation result. The payload keys are
// merged next to "error": null.
func WriteResult(w http.ResponseWriter, code int, payload map[string]any) {
	body := map[string]any{"error": nil}
	for k, v := range payload {
		body[k] = v
	}
	WriteJSON(w, code, body)
}

// WriteAPIError writes err as {"error": {...}} with the status of its code.
func WriteAPIError(w http.ResponseWriter, err error) {
	WriteJSON(w, StatusForError(err), map[string]any{"error": toAPIError(err)})
}

// writeAPIRedirect writes an authorization failure that tells the client where to go.
func writeAPIRedirect(w http.ResponseWriter, status int, code apperrors.ErrorCode, message, location string) {
	WriteJSON(w, status, map[string]any{"error": APIError{Code: code, Message: message, RedirectTo: location}})
}

func toAPIError(err error) APIError {
	appErr := apperrors.As(err)
	out := APIError{Code: appErr.Code, Message: appErr.Message, Field: appErr.Field}
	for _, rule := range service.UnmetPasswordRules(err) {
		out.Rules = append(out.Rules, string(rule))
	}
	return out
}

// StatusForError maps the auth error taxonomy onto HTTP statuses.
func StatusForError(err error) int {
	switch apperrors.GetCode(err) {
	case apperrors.ErrCodeValidation, apperrors.ErrCodeWeakPassword:
		return http.StatusBadRequest
	case apperrors.ErrCodeInvalidCredentials:
		return http.StatusUnauthorized
	case apperrors.ErrCodeEmailNotConfirmed, apperrors.ErrCodeAccountDeactivated:
		return http.StatusForbidden
	case apperrors.ErrCodeNotFound:
		return http.StatusNotFound
	case apperrors.ErrCodeDuplicateAccount, apperrors.ErrCodeConflict:
		return http.StatusConflict
	case apperrors.ErrCodeRateLimited:
		return http.StatusTooManyRequests
	case apperrors.ErrCodeResetDispatchFailure:
		return http.StatusBadGateway
	case apperrors.ErrCodeTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// isJSONRequest reports whether the request body is declared as JSON.
func isJSONRequest(r *http.Request) bool {
	mt, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	return err == nil && mt == contentTypeJSON
}

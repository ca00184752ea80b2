package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"example.com/fitsync/internal/connection"
	"example.com/fitsync/internal/domain"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(field reflect.StructField) string {
		name := strings.SplitN(field.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// fieldMessages holds the user-facing text for a failed field/tag pair.
var fieldMessages = map[string]string{
	"code.required":             "Authorization code is required",
	"refresh_token.required":    "Refresh token is required",
	"access_token.required":     "Access token is required",
	"email.required":            "Missing required parameters",
	"password.required":         "Missing required parameters",
	"email.email":               "Please enter a valid email address",
	"password.min":              "Password must be at least 6 characters",
	"normalized_email.required": "Missing normalized_email parameter",
}

// validateRequest runs struct validation and reports the first failure as
// a domain.ValidationError.
func validateRequest(req interface{}) error {
	err := validate.Struct(req)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return domain.NewValidationError("body", "Invalid request body")
	}
	first := verrs[0]
	message, ok := fieldMessages[first.Field()+"."+first.Tag()]
	if !ok {
		message = first.Field() + " is invalid"
	}
	return domain.NewValidationError(first.Field(), message)
}

// writeDomainError maps the error taxonomy onto HTTP statuses.
func writeDomainError(w http.ResponseWriter, err error) {
	status, message := classify(err)
	writeError(w, status, message)
}

// writeNoticeError is writeDomainError for connection actions: the body also
// carries the failure notice the client shows.
func writeNoticeError(w http.ResponseWriter, err error, notice connection.Notice) {
	status, message := classify(err)
	writeJSON(w, status, ErrorResponse{Error: message, Notice: &notice})
}

func classify(err error) (int, string) {
	var validation *domain.ValidationError
	var upstream *domain.UpstreamError

	switch {
	case errors.As(err, &validation):
		return http.StatusBadRequest, validation.Error()
	case errors.Is(err, domain.ErrAuthentication):
		return http.StatusUnauthorized, "Authentication error"
	case errors.Is(err, domain.ErrTokenRefreshFailed):
		return http.StatusBadGateway, "Token refresh failed"
	case errors.As(err, &upstream):
		message := upstream.Message
		if message == "" {
			message = upstream.Error()
		}
		return upstream.HTTPStatus(), message
	case errors.Is(err, domain.ErrNotConnected):
		return http.StatusConflict, "Provider not connected"
	case errors.Is(err, domain.ErrInvalidTransition):
		return http.StatusConflict, err.Error()
	case errors.Is(err, connection.ErrUnknownProvider):
		return http.StatusNotFound, err.Error()
	case errors.Is(err, domain.ErrPersistence):
		return http.StatusInternalServerError, "Storage error"
	}
	return http.StatusInternalServerError, err.Error()
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

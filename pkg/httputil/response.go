// Package httputil provides HTTP handler utilities for consistent error
// handling, JSON encoding/decoding, and request parsing.
package httputil

import (
	"encoding/json"
	"net/http"

	"github.com/quayside-labs/saaskit/pkg/errdefs"
)

// WriteJSON writes a JSON response with the given status code
func WriteJSON(w http.ResponseWriter, status int, data interface{}) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	return json.NewEncoder(w).Encode(data)
}

// WriteErrorMessage writes a JSON error response with a custom message
func WriteErrorMessage(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{
		"error": message,
	})
}

// WriteInternalError writes an internal server error response. The error
// detail is not echoed to the client.
func WriteInternalError(w http.ResponseWriter, err error) {
	WriteErrorMessage(w, http.StatusInternalServerError, "internal server error")
}

// WriteCreated writes a successful creation response (201 Created) with JSON data
func WriteCreated(w http.ResponseWriter, data interface{}) error {
	return WriteJSON(w, http.StatusCreated, data)
}

// WriteSuccess writes a successful response (200 OK) with JSON data
func WriteSuccess(w http.ResponseWriter, data interface{}) error {
	return WriteJSON(w, http.StatusOK, data)
}

// WriteNoContent writes a successful response with no content (204 No Content)
func WriteNoContent(w http.ResponseWriter) {
	w.WriteHeader(http.StatusNoContent)
}

// WriteBadRequest writes a bad request error (400)
func WriteBadRequest(w http.ResponseWriter, message string) {
	WriteErrorMessage(w, http.StatusBadRequest, message)
}

// WriteUnauthorized writes an unauthorized error (401)
func WriteUnauthorized(w http.ResponseWriter, message string) {
	WriteErrorMessage(w, http.StatusUnauthorized, message)
}

// WriteForbidden writes a forbidden error (403)
func WriteForbidden(w http.ResponseWriter, message string) {
	WriteErrorMessage(w, http.StatusForbidden, message)
}

// FieldErrorResponse carries a field-attributable validation failure
type FieldErrorResponse struct {
	Error string `json:"error"`
	Field string `json:"field,omitempty"`
}

// WriteDomainError maps the errdefs taxonomy onto HTTP statuses. This is the
// single boundary between the services and the presentation layer: no domain
// error reaches the client as anything but one of these shapes, and anything
// outside the taxonomy becomes an opaque 500.
func WriteDomainError(w http.ResponseWriter, err error) {
	switch {
	case errdefs.IsValidation(err):
		ve := errdefs.AsValidation(err)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnprocessableEntity)
		json.NewEncoder(w).Encode(FieldErrorResponse{Error: ve.Reason, Field: ve.Field})
	case errdefs.IsForbidden(err):
		WriteErrorMessage(w, http.StatusForbidden, err.Error())
	case errdefs.IsInvalidState(err), errdefs.IsPreconditionFailed(err):
		WriteErrorMessage(w, http.StatusConflict, err.Error())
	case errdefs.IsConstraintViolation(err):
		WriteErrorMessage(w, http.StatusConflict, err.Error())
	case errdefs.IsTokenInvalid(err):
		// Expired and forged stay indistinguishable.
		WriteErrorMessage(w, http.StatusUnprocessableEntity, errdefs.ErrTokenInvalid.Error())
	case errdefs.IsNotFound(err):
		WriteErrorMessage(w, http.StatusNotFound, err.Error())
	default:
		WriteInternalError(w, err)
	}
}

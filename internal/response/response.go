// Package response writes the JSON envelope every handler answers with.
package response

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/WailSalutem-Health-Care/clinical-records-service/internal/apperr"
	"go.uber.org/zap"
)

// Envelope is the body of every API response.
type Envelope struct {
	Success bool              `json:"success"`
	Message string            `json:"message"`
	ID      *int64            `json:"id,omitempty"`
	Data    interface{}       `json:"data,omitempty"`
	Error   string            `json:"error,omitempty"`
	Fields  map[string]string `json:"fields,omitempty"`
}

func JSON(w http.ResponseWriter, statusCode int, body Envelope) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(body)
}

// OK answers 200 with data.
func OK(w http.ResponseWriter, message string, data interface{}) {
	JSON(w, http.StatusOK, Envelope{Success: true, Message: message, Data: data})
}

// Created answers 201 with the id of the new row.
func Created(w http.ResponseWriter, message string, id int64) {
	JSON(w, http.StatusCreated, Envelope{Success: true, Message: message, ID: &id})
}

// Fail answers with a plain error type and message.
func Fail(w http.ResponseWriter, statusCode int, errorType, message string) {
	JSON(w, statusCode, Envelope{Success: false, Message: message, Error: errorType})
}

// Error maps err through the apperr taxonomy. Server-side failures are
// logged with the raw error, which never reaches the client.
func Error(w http.ResponseWriter, logger *zap.Logger, err error) {
	status := apperr.HTTPStatus(err)
	body := Envelope{Success: false, Message: apperr.Message(err), Error: apperr.Kind(err)}

	var validation *apperr.ValidationError
	if errors.As(err, &validation) {
		body.Fields = fieldMessages(validation)
	}
	if status >= http.StatusInternalServerError && logger != nil {
		logger.Error("request failed", zap.String("kind", body.Error), zap.Error(err))
	}
	JSON(w, status, body)
}

// DecodeJSON reads the request body into dst and answers 400 on failure.
func DecodeJSON(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		Fail(w, http.StatusBadRequest, "invalid_request", "Invalid JSON payload: "+err.Error())
		return false
	}
	return true
}

func fieldMessages(v *apperr.ValidationError) map[string]string {
	out := make(map[string]string, len(v.Fields))
	for field, problem := range v.Fields {
		out[field] = fmt.Sprint(problem)
	}
	return out
}

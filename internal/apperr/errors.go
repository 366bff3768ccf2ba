// Package apperr holds the error taxonomy shared by the record and identity stores.
package apperr

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/hengadev/errsx"
)

// ValidationError reports input that fails a domain rule. Fields maps the
// offending field name to its problem.
type ValidationError struct {
	Fields errsx.Map
}

func (e *ValidationError) Error() string {
	if e.Fields == nil || e.Fields.IsEmpty() {
		return "validation failed"
	}
	return "validation failed: " + e.Fields.Error()
}

func (e *ValidationError) Unwrap() error {
	if e.Fields == nil || e.Fields.IsEmpty() {
		return nil
	}
	return e.Fields
}

// Invalid wraps a non-empty errsx map into a ValidationError. It returns nil
// when the map holds no entries so callers can use it unconditionally.
func Invalid(fields errsx.Map) error {
	if fields == nil || fields.IsEmpty() {
		return nil
	}
	return &ValidationError{Fields: fields}
}

// InvalidField is shorthand for a single-field validation failure.
func InvalidField(field, message string) error {
	fields := errsx.Map{}
	fields.Set(field, message)
	return &ValidationError{Fields: fields}
}

// UniquenessError reports a violated unique constraint.
type UniquenessError struct {
	Field string
	Err   error
}

func (e *UniquenessError) Error() string {
	if e.Field == "" {
		return "a record with the same unique value already exists"
	}
	return fmt.Sprintf("%s is already in use", e.Field)
}

func (e *UniquenessError) Unwrap() error { return e.Err }

// NotFoundError reports a target row that does not exist.
type NotFoundError struct {
	Entity string
	ID     int64
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %d not found", e.Entity, e.ID)
}

// NoActiveEncounterError is returned when a write needs an encounter to
// attach to and the patient has none.
type NoActiveEncounterError struct {
	PatientID int64
}

func (e *NoActiveEncounterError) Error() string {
	return fmt.Sprintf("patient %d has no encounter to attach to", e.PatientID)
}

// CryptoError reports a field that could not be decrypted while an
// operation needed its plaintext.
type CryptoError struct {
	Field string
	Err   error
}

func (e *CryptoError) Error() string {
	return fmt.Sprintf("failed to decrypt %s: %v", e.Field, e.Err)
}

func (e *CryptoError) Unwrap() error { return e.Err }

// DatabaseError wraps any storage fault that is not otherwise classified.
type DatabaseError struct {
	Op  string
	Err error
}

func (e *DatabaseError) Error() string {
	return fmt.Sprintf("database error during %s: %v", e.Op, e.Err)
}

func (e *DatabaseError) Unwrap() error { return e.Err }

// Database wraps err as a DatabaseError unless it already belongs to the
// taxonomy, in which case it is returned unchanged.
func Database(op string, err error) error {
	if err == nil {
		return nil
	}
	if Classified(err) {
		return err
	}
	return &DatabaseError{Op: op, Err: err}
}

// Classified reports whether err already carries one of the taxonomy types.
func Classified(err error) bool {
	var (
		validation *ValidationError
		unique     *UniquenessError
		notFound   *NotFoundError
		noEnc      *NoActiveEncounterError
		cryptoErr  *CryptoError
		dbErr      *DatabaseError
	)
	return errors.As(err, &validation) ||
		errors.As(err, &unique) ||
		errors.As(err, &notFound) ||
		errors.As(err, &noEnc) ||
		errors.As(err, &cryptoErr) ||
		errors.As(err, &dbErr)
}

// Message renders the user-facing text for err. Raw driver messages are
// never exposed for classified storage faults.
func Message(err error) string {
	if err == nil {
		return ""
	}
	var (
		validation *ValidationError
		unique     *UniquenessError
		notFound   *NotFoundError
		noEnc      *NoActiveEncounterError
		cryptoErr  *CryptoError
		dbErr      *DatabaseError
	)
	switch {
	case errors.As(err, &validation):
		return validation.Error()
	case errors.As(err, &unique):
		return unique.Error()
	case errors.As(err, &notFound):
		return notFound.Error()
	case errors.As(err, &noEnc):
		return noEnc.Error()
	case errors.As(err, &cryptoErr):
		return "stored data could not be decrypted"
	case errors.As(err, &dbErr):
		return "the operation could not be completed, please try again"
	}
	return err.Error()
}

// HTTPStatus maps err onto a response status code.
func HTTPStatus(err error) int {
	var (
		validation *ValidationError
		unique     *UniquenessError
		notFound   *NotFoundError
		noEnc      *NoActiveEncounterError
	)
	switch {
	case errors.As(err, &validation):
		return http.StatusBadRequest
	case errors.As(err, &unique):
		return http.StatusConflict
	case errors.As(err, &notFound):
		return http.StatusNotFound
	case errors.As(err, &noEnc):
		return http.StatusUnprocessableEntity
	}
	return http.StatusInternalServerError
}

// Kind returns a short machine-readable name for the error class.
func Kind(err error) string {
	var (
		validation *ValidationError
		unique     *UniquenessError
		notFound   *NotFoundError
		noEnc      *NoActiveEncounterError
		cryptoErr  *CryptoError
	)
	switch {
	case errors.As(err, &validation):
		return "validation_error"
	case errors.As(err, &unique):
		return "uniqueness_error"
	case errors.As(err, &notFound):
		return "not_found"
	case errors.As(err, &noEnc):
		return "no_active_encounter"
	case errors.As(err, &cryptoErr):
		return "crypto_error"
	}
	return "database_error"
}

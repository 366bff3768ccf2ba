package db

import (
	"errors"
	"strings"

	"github.com/WailSalutem-Health-Care/clinical-records-service/internal/apperr"
	"github.com/lib/pq"
	"github.com/mattn/go-sqlite3"
)

// uniqueFields maps constraint or column names onto the field named in a
// UniquenessError.
var uniqueFields = map[string]string{
	// postgres constraint names
	"users_username_key":              "username",
	"users_national_id_hash_key":      "national_id",
	"users_license_number_key":        "license_number",
	"patients_chart_number_key":       "chart_number",
	"patients_national_id_hash_key":   "national_id",
	"ux_encounters_one_open":          "open_encounter",
	"physical_exams_encounter_id_key": "encounter_id",

	// sqlite table.column
	"users.username":              "username",
	"users.national_id_hash":      "national_id",
	"users.license_number":        "license_number",
	"patients.chart_number":       "chart_number",
	"patients.national_id_hash":   "national_id",
	"encounters.patient_id":       "open_encounter",
	"physical_exams.encounter_id": "encounter_id",
}

// ClassifyError turns driver errors into the shared taxonomy. Unique
// violations become UniquenessError; anything else becomes a DatabaseError
// tagged with op.
func ClassifyError(op string, err error) error {
	if err == nil {
		return nil
	}
	if apperr.Classified(err) {
		return err
	}
	if field, ok := uniqueViolation(err); ok {
		return &apperr.UniquenessError{Field: field, Err: err}
	}
	return &apperr.DatabaseError{Op: op, Err: err}
}

// IsUniqueViolation reports whether err is a unique constraint failure in
// either dialect.
func IsUniqueViolation(err error) bool {
	_, ok := uniqueViolation(err)
	return ok
}

func uniqueViolation(err error) (string, bool) {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		if pqErr.Code != "23505" {
			return "", false
		}
		return uniqueFields[pqErr.Constraint], true
	}

	var liteErr sqlite3.Error
	if errors.As(err, &liteErr) {
		if liteErr.ExtendedCode != sqlite3.ErrConstraintUnique && liteErr.ExtendedCode != sqlite3.ErrConstraintPrimaryKey {
			return "", false
		}
		// "UNIQUE constraint failed: users.username"
		msg := liteErr.Error()
		if i := strings.LastIndex(msg, ": "); i >= 0 {
			columns := strings.Split(msg[i+2:], ", ")
			return uniqueFields[columns[0]], true
		}
		return "", true
	}
	return "", false
}

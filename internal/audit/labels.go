package audit

import (
	"fmt"

	"github.com/WailSalutem-Health-Care/clinical-records-service/internal/cryptostore"
)

// UserLabel renders "Full Name (User: username)", falling back to the bare
// username when the name is absent or unreadable.
func UserLabel(fullName cryptostore.Field, username string) string {
	if fullName.Valid() && fullName.Value != "" {
		return fmt.Sprintf("%s (User: %s)", fullName.Value, username)
	}
	return username
}

// PatientLabel renders "First Last (Chart: H-000001)".
func PatientLabel(first, last, chartNumber string) string {
	return fmt.Sprintf("%s %s (Chart: %s)", first, last, chartNumber)
}

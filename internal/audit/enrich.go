package audit

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"go.uber.org/zap"
)

// subject names where an enrichment rule finds the entity it describes.
type subject int

const (
	subjectRowPatient subject = iota + 1
	subjectDetailPatient
	subjectRowUser
	subjectActor
)

// rule renders a richer summary for one action. table, when set, must match
// the entry's table for the rule to apply.
type rule struct {
	table   string
	subject subject
	render  func(label string, e LogEntry) string
}

var enrichments = map[Action]rule{
	ActionCreatePatient: {
		table:   TablePatients,
		subject: subjectRowPatient,
		render: func(label string, e LogEntry) string {
			s := "Registered new patient: " + label + "."
			if id, ok := e.DetailInt("encounter_id"); ok {
				s += fmt.Sprintf(" Initial encounter ID: %d.", id)
			}
			return s
		},
	},
	ActionUpdatePatientDemographics: {
		table:   TablePatients,
		subject: subjectRowPatient,
		render: func(label string, e LogEntry) string {
			s := "Updated demographics of " + label + "."
			if fields := e.DetailStrings("fields"); len(fields) > 0 {
				s += " Fields: " + strings.Join(fields, ", ") + "."
			}
			return s
		},
	},
	ActionUpdateIntakeAndHistory: {
		subject: subjectDetailPatient,
		render: func(label string, e LogEntry) string {
			return withEncounter("Updated history and intake of "+label, e)
		},
	},
	ActionDeletePatient: {
		table:   TablePatients,
		subject: subjectRowPatient,
		render: func(label string, e LogEntry) string {
			return "Deleted patient " + label + "."
		},
	},
	ActionOpenEncounter: {
		subject: subjectDetailPatient,
		render: func(label string, e LogEntry) string {
			return withEncounter("Opened encounter for "+label, e)
		},
	},
	ActionCloseEncounter: {
		subject: subjectDetailPatient,
		render: func(label string, e LogEntry) string {
			return withEncounter("Closed encounter of "+label, e)
		},
	},
	ActionCreateEvolution: {
		subject: subjectDetailPatient,
		render: func(label string, e LogEntry) string {
			return withEncounter(fmt.Sprintf("Recorded evolution %s for %s", rowRef(e), label), e)
		},
	},
	ActionUpdateEvolution: {
		subject: subjectDetailPatient,
		render: func(label string, e LogEntry) string {
			return withEncounter(fmt.Sprintf("Updated evolution %s of %s", rowRef(e), label), e)
		},
	},
	ActionCreateOrder: {
		subject: subjectDetailPatient,
		render: func(label string, e LogEntry) string {
			return withEncounter(fmt.Sprintf("Created medical order %s for %s", rowRef(e), label), e)
		},
	},
	ActionUpdateOrder: {
		subject: subjectDetailPatient,
		render: func(label string, e LogEntry) string {
			return fmt.Sprintf("Updated medical order %s of %s.", rowRef(e), label)
		},
	},
	ActionCreateComplementary: {
		subject: subjectDetailPatient,
		render: func(label string, e LogEntry) string {
			return fmt.Sprintf("Registered complementary study %s for %s.", rowRef(e), label)
		},
	},
	ActionUpdateComplementary: {
		subject: subjectDetailPatient,
		render: func(label string, e LogEntry) string {
			return fmt.Sprintf("Updated complementary study %s of %s.", rowRef(e), label)
		},
	},
	ActionCreateReferral: {
		subject: subjectDetailPatient,
		render: func(label string, e LogEntry) string {
			return fmt.Sprintf("Requested referral %s for %s.", rowRef(e), label)
		},
	},
	ActionUpdateReferral: {
		subject: subjectDetailPatient,
		render: func(label string, e LogEntry) string {
			return fmt.Sprintf("Updated referral %s of %s.", rowRef(e), label)
		},
	},
	ActionCreateReport: {
		subject: subjectDetailPatient,
		render: func(label string, e LogEntry) string {
			return fmt.Sprintf("Wrote report %s for %s.", rowRef(e), label)
		},
	},
	ActionUpdateReport: {
		subject: subjectDetailPatient,
		render: func(label string, e LogEntry) string {
			return fmt.Sprintf("Updated report %s of %s.", rowRef(e), label)
		},
	},
	ActionCreatePrescription: {
		subject: subjectDetailPatient,
		render: func(label string, e LogEntry) string {
			return fmt.Sprintf("Issued prescription %s for %s.", rowRef(e), label)
		},
	},
	ActionUpdatePrescription: {
		subject: subjectDetailPatient,
		render: func(label string, e LogEntry) string {
			return fmt.Sprintf("Updated prescription %s of %s.", rowRef(e), label)
		},
	},
	ActionCreateUser: {
		table:   TableUsers,
		subject: subjectRowUser,
		render: func(label string, e LogEntry) string {
			return "Created user " + label + "."
		},
	},
	ActionUpdateUser: {
		table:   TableUsers,
		subject: subjectRowUser,
		render: func(label string, e LogEntry) string {
			s := "Updated user " + label + "."
			if fields := e.DetailStrings("changed_fields"); len(fields) > 0 {
				s += " Fields: " + strings.Join(fields, ", ") + "."
			}
			if changed, _ := e.Details["password_changed"].(bool); changed {
				s += " Password changed."
			}
			return s
		},
	},
	ActionToggleUserStatus: {
		table:   TableUsers,
		subject: subjectRowUser,
		render: func(label string, e LogEntry) string {
			state := "Deactivated"
			if active, _ := e.Details["active"].(bool); active {
				state = "Activated"
			}
			return state + " user " + label + "."
		},
	},
	ActionLoginSuccess: {
		subject: subjectActor,
		render: func(label string, e LogEntry) string {
			return label + " signed in."
		},
	},
	ActionLogout: {
		subject: subjectActor,
		render: func(label string, e LogEntry) string {
			return label + " signed out."
		},
	},
}

func withEncounter(s string, e LogEntry) string {
	if id, ok := e.DetailInt("encounter_id"); ok {
		return fmt.Sprintf("%s (encounter %d).", s, id)
	}
	return s + "."
}

func rowRef(e LogEntry) string {
	if e.RowID == nil {
		return ""
	}
	return "#" + strconv.FormatInt(*e.RowID, 10)
}

// DetailInt reads an integer detail. JSON decoding yields float64.
func (e LogEntry) DetailInt(key string) (int64, bool) {
	switch v := e.Details[key].(type) {
	case float64:
		return int64(v), true
	case int64:
		return v, true
	case int:
		return int64(v), true
	case string:
		n, err := strconv.ParseInt(v, 10, 64)
		return n, err == nil
	}
	return 0, false
}

// DetailStrings reads a list-of-strings detail.
func (e LogEntry) DetailStrings(key string) []string {
	raw, ok := e.Details[key].([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

// enrich fills Summary for each entry. Lookups are best-effort: a missing or
// undecryptable subject leaves the stored description in place.
func (s *Service) enrich(ctx context.Context, entries []LogEntry) {
	patients := map[int64]string{}
	users := map[int64]string{}

	for i := range entries {
		e := &entries[i]
		e.Summary = e.Description

		r, ok := enrichments[e.Action]
		if !ok || (r.table != "" && r.table != e.Table) {
			continue
		}

		var (
			label string
			err   error
		)
		switch r.subject {
		case subjectActor:
			label = e.ActorName
		case subjectRowPatient:
			if e.RowID == nil {
				continue
			}
			label, err = s.cached(ctx, patients, *e.RowID, s.patientLabel)
		case subjectDetailPatient:
			id, ok := e.DetailInt("patient_id")
			if !ok {
				continue
			}
			label, err = s.cached(ctx, patients, id, s.patientLabel)
		case subjectRowUser:
			if e.RowID == nil {
				continue
			}
			label, err = s.cached(ctx, users, *e.RowID, s.userLabel)
		}
		if err != nil {
			if !errors.Is(err, errUnresolved) {
				s.logger.Debug("audit enrichment lookup failed",
					zap.Int64("entry_id", e.ID),
					zap.String("action", string(e.Action)),
					zap.Error(err),
				)
			}
			continue
		}
		if label != "" {
			e.Summary = r.render(label, *e)
		}
	}
}

var errUnresolved = errors.New("subject could not be resolved")

func (s *Service) cached(ctx context.Context, cache map[int64]string, id int64, lookup func(context.Context, int64) (string, error)) (string, error) {
	if label, ok := cache[id]; ok {
		if label == "" {
			return "", errUnresolved
		}
		return label, nil
	}
	label, err := lookup(ctx, id)
	if err != nil {
		cache[id] = ""
		return "", err
	}
	cache[id] = label
	return label, nil
}

func (s *Service) patientLabel(ctx context.Context, id int64) (string, error) {
	var (
		chart       string
		first, last []byte
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT chart_number, first_names, last_names FROM patients WHERE id = $1`, id,
	).Scan(&chart, &first, &last)
	if errors.Is(err, sql.ErrNoRows) {
		return "", errUnresolved
	}
	if err != nil {
		return "", err
	}
	f, l := s.crypto.Decrypt(first), s.crypto.Decrypt(last)
	if !f.Valid() || !l.Valid() {
		return "", errUnresolved
	}
	return PatientLabel(f.Value, l.Value, chart), nil
}

func (s *Service) userLabel(ctx context.Context, id int64) (string, error) {
	var (
		username string
		fullName []byte
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT username, full_name FROM users WHERE id = $1`, id,
	).Scan(&username, &fullName)
	if errors.Is(err, sql.ErrNoRows) {
		return "", errUnresolved
	}
	if err != nil {
		return "", err
	}
	return UserLabel(s.crypto.Decrypt(fullName), username), nil
}

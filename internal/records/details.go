package records

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/WailSalutem-Health-Care/clinical-records-service/internal/apperr"
	"github.com/WailSalutem-Health-Care/clinical-records-service/internal/db"
	"github.com/WailSalutem-Health-Care/clinical-records-service/internal/pagination"
)

// GetDetails loads the whole chart of a patient. Fields that fail to
// decrypt are reported per field and never abort the read.
func (r *Repository) GetDetails(ctx context.Context, patientID int64) (*PatientView, error) {
	patient, err := r.loadPatient(ctx, patientID)
	if err != nil {
		return nil, err
	}

	view := &PatientView{Patient: *patient}
	loaders := []struct {
		op   string
		load func(context.Context, int64, *PatientView) error
	}{
		{"load encounters", r.loadEncounters},
		{"load evolutions", r.loadEvolutions},
		{"load orders", r.loadOrders},
		{"load complementaries", r.loadComplementaries},
		{"load referrals", r.loadReferrals},
		{"load reports", r.loadReports},
		{"load prescriptions", r.loadPrescriptions},
	}
	for _, l := range loaders {
		if err := l.load(ctx, patientID, view); err != nil {
			return nil, apperr.Database(l.op, err)
		}
	}
	return view, nil
}

func (r *Repository) loadPatient(ctx context.Context, patientID int64) (*PatientRecord, error) {
	var (
		p          PatientRecord
		sex        sql.NullString
		birth      sql.NullTime
		updatedAt  sql.NullTime
		registrant person
		updater    person
	)
	h := &p.History
	dec := r.decryptor()
	dest := []any{
		&p.ID, &p.ChartNumber,
		dec.into(&p.NationalID), dec.into(&p.FirstNames), dec.into(&p.LastNames),
		&sex, &birth,
		dec.into(&p.BirthPlace), dec.into(&p.MaritalStatus), dec.into(&p.HomePhone), dec.into(&p.MobilePhone),
		dec.into(&p.Email), dec.into(&p.Address), dec.into(&p.Occupation),
		dec.into(&p.EmergencyName), dec.into(&p.EmergencyPhone), dec.into(&p.EmergencyRelationship), dec.into(&p.EmergencyAddress),
		dec.into(&p.Notes),
		&h.Asthma.Present, dec.into(&h.Asthma.Detail),
		&h.Hypertension.Present, dec.into(&h.Hypertension.Detail),
		&h.Diabetes.Present, dec.into(&h.Diabetes.Detail),
		&h.HeartDisease.Present, dec.into(&h.HeartDisease.Detail),
		&h.OtherConditions.Present, dec.into(&h.OtherConditions.Detail),
		dec.into(&h.Allergies), dec.into(&h.SurgicalHistory),
		dec.into(&h.FamilyMother), dec.into(&h.FamilyFather), dec.into(&h.FamilySiblings), dec.into(&h.FamilyChildren),
		dec.into(&h.HabitTobacco), dec.into(&h.HabitAlcohol), dec.into(&h.HabitDrugs), dec.into(&h.HabitCoffee),
		dec.into(&h.WeightLoss),
		&p.RegisteredAt, &updatedAt,
	}
	dest = append(dest, registrant.dest()...)
	dest = append(dest, updater.dest()...)

	err := r.db.QueryRowContext(ctx, `
		SELECT p.id, p.chart_number,
			p.national_id, p.first_names, p.last_names,
			p.sex, p.birth_date,
			p.birth_place, p.marital_status, p.home_phone, p.mobile_phone,
			p.email, p.address, p.occupation,
			p.emergency_name, p.emergency_phone, p.emergency_relationship, p.emergency_address,
			p.notes,
			p.asthma, p.asthma_detail,
			p.hypertension, p.hypertension_detail,
			p.diabetes, p.diabetes_detail,
			p.heart_disease, p.heart_disease_detail,
			p.other_conditions, p.other_conditions_detail,
			p.allergies, p.surgical_history,
			p.family_mother, p.family_father, p.family_siblings, p.family_children,
			p.habit_tobacco, p.habit_alcohol, p.habit_drugs, p.habit_coffee,
			p.weight_loss,
			p.registered_at, p.updated_at,
			ur.username, ur.full_name,
			uu.username, uu.full_name
		FROM patients p
		LEFT JOIN users ur ON ur.id = p.registered_by
		LEFT JOIN users uu ON uu.id = p.updated_by
		WHERE p.id = $1
	`, patientID).Scan(dest...)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &apperr.NotFoundError{Entity: "patient", ID: patientID}
	}
	if err != nil {
		return nil, apperr.Database("load patient", err)
	}
	dec.apply()

	p.Sex = Sex(sex.String)
	if birth.Valid {
		p.BirthDate = birth.Time.Format(DateLayout)
		age := ageAt(birth.Time, r.now())
		p.Age = &age
	}
	p.RegisteredAt = p.RegisteredAt.UTC()
	p.UpdatedAt = timePtr(updatedAt)
	p.RegisteredBy = r.displayName(registrant)
	p.UpdatedBy = r.displayName(updater)
	return &p, nil
}

func (r *Repository) loadEncounters(ctx context.Context, patientID int64, view *PatientView) error {
	rows, err := r.db.QueryContext(ctx, `
		SELECT e.id, e.admitted_at, e.chief_complaint, e.present_illness, e.admission_diagnosis,
			e.discharged_at,
			ua.username, ua.full_name,
			ud.username, ud.full_name,
			x.id, x.recorded_at, x.blood_pressure, x.temperature,
			x.respiratory_rate, x.heart_rate, x.oxygen_saturation, x.glycemia,
			x.skin, x.respiratory, x.cardiovascular, x.abdomen, x.gastrointestinal,
			x.genitourinary, x.extremities, x.neurological, x.other_findings
		FROM encounters e
		LEFT JOIN users ua ON ua.id = e.admitted_by
		LEFT JOIN users ud ON ud.id = e.discharged_by
		LEFT JOIN physical_exams x ON x.encounter_id = e.id
		WHERE e.patient_id = $1
		ORDER BY e.admitted_at DESC, e.id DESC
	`, patientID)
	if err != nil {
		return fmt.Errorf("failed to query encounters: %w", err)
	}
	defer rows.Close()

	view.Encounters = []EncounterView{}
	dec := r.decryptor()
	for rows.Next() {
		var (
			e                              EncounterView
			x                              PhysicalExamView
			discharged, examAt             sql.NullTime
			examID, rr, hr, spo2, glycemia sql.NullInt64
			admitter, discharger           person
		)
		dest := []any{
			&e.ID, &e.AdmittedAt,
			dec.into(&e.ChiefComplaint), dec.into(&e.PresentIllness), dec.into(&e.AdmissionDiagnosis),
			&discharged,
		}
		dest = append(dest, admitter.dest()...)
		dest = append(dest, discharger.dest()...)
		dest = append(dest,
			&examID, &examAt, dec.into(&x.BloodPressure), dec.into(&x.Temperature),
			&rr, &hr, &spo2, &glycemia,
			dec.into(&x.Skin), dec.into(&x.Respiratory), dec.into(&x.Cardiovascular), dec.into(&x.Abdomen),
			dec.into(&x.Gastrointestinal), dec.into(&x.Genitourinary), dec.into(&x.Extremities),
			dec.into(&x.Neurological), dec.into(&x.OtherFindings),
		)
		if err := rows.Scan(dest...); err != nil {
			return fmt.Errorf("failed to scan encounter: %w", err)
		}
		dec.apply()

		e.AdmittedAt = e.AdmittedAt.UTC()
		e.AdmittedBy = r.displayName(admitter)
		e.DischargedAt = timePtr(discharged)
		e.DischargedBy = r.displayName(discharger)
		e.Open = !discharged.Valid
		if examID.Valid {
			x.ID = examID.Int64
			x.RecordedAt = examAt.Time.UTC()
			x.RespiratoryRate = intPtr(rr)
			x.HeartRate = intPtr(hr)
			x.OxygenSaturation = intPtr(spo2)
			x.Glycemia = intPtr(glycemia)
			e.Exam = &x
		}
		view.Encounters = append(view.Encounters, e)
	}
	return rows.Err()
}

func (r *Repository) loadEvolutions(ctx context.Context, patientID int64, view *PatientView) error {
	rows, err := r.db.QueryContext(ctx, `
		SELECT ev.id, ev.encounter_id, ev.recorded_at, ev.hospital_day,
			ev.subjective, ev.objective, ev.blood_pressure, ev.temperature,
			ev.heart_rate, ev.respiratory_rate, ev.oxygen_saturation,
			ev.skin, ev.respiratory, ev.cardiovascular, ev.abdomen, ev.extremities,
			ev.neurological, ev.other_findings, ev.diagnoses, ev.plan, ev.comment,
			ev.updated_at,
			ua.username, ua.full_name,
			uu.username, uu.full_name
		FROM evolutions ev
		JOIN encounters e ON e.id = ev.encounter_id
		LEFT JOIN users ua ON ua.id = ev.author_id
		LEFT JOIN users uu ON uu.id = ev.updated_by
		WHERE e.patient_id = $1
		ORDER BY ev.recorded_at DESC, ev.id DESC
	`, patientID)
	if err != nil {
		return fmt.Errorf("failed to query evolutions: %w", err)
	}
	defer rows.Close()

	view.Evolutions = []EvolutionView{}
	dec := r.decryptor()
	for rows.Next() {
		var (
			ev                EvolutionView
			day, hr, rr, spo2 sql.NullInt64
			updatedAt         sql.NullTime
			author, updater   person
		)
		dest := []any{
			&ev.ID, &ev.EncounterID, &ev.RecordedAt, &day,
			dec.into(&ev.Subjective), dec.into(&ev.Objective), dec.into(&ev.BloodPressure), dec.into(&ev.Temperature),
			&hr, &rr, &spo2,
			dec.into(&ev.Skin), dec.into(&ev.Respiratory), dec.into(&ev.Cardiovascular), dec.into(&ev.Abdomen), dec.into(&ev.Extremities),
			dec.into(&ev.Neurological), dec.into(&ev.OtherFindings), dec.into(&ev.Diagnoses), dec.into(&ev.Plan), dec.into(&ev.Comment),
			&updatedAt,
		}
		dest = append(dest, author.dest()...)
		dest = append(dest, updater.dest()...)
		if err := rows.Scan(dest...); err != nil {
			return fmt.Errorf("failed to scan evolution: %w", err)
		}
		dec.apply()

		ev.RecordedAt = ev.RecordedAt.UTC()
		ev.HospitalDay = intPtr(day)
		ev.HeartRate = intPtr(hr)
		ev.RespiratoryRate = intPtr(rr)
		ev.OxygenSaturation = intPtr(spo2)
		ev.UpdatedAt = timePtr(updatedAt)
		ev.Author = r.displayName(author)
		ev.UpdatedBy = r.displayName(updater)
		view.Evolutions = append(view.Evolutions, ev)
	}
	return rows.Err()
}

func (r *Repository) loadOrders(ctx context.Context, patientID int64, view *PatientView) error {
	rows, err := r.db.QueryContext(ctx, `
		SELECT o.id, o.encounter_id, o.evolution_id, o.ordered_at, o.body, o.status, o.updated_at,
			ua.username, ua.full_name,
			uu.username, uu.full_name
		FROM medical_orders o
		JOIN encounters e ON e.id = o.encounter_id
		LEFT JOIN users ua ON ua.id = o.author_id
		LEFT JOIN users uu ON uu.id = o.updated_by
		WHERE e.patient_id = $1
		ORDER BY o.ordered_at DESC, o.id DESC
	`, patientID)
	if err != nil {
		return fmt.Errorf("failed to query medical orders: %w", err)
	}
	defer rows.Close()

	view.Orders = []OrderView{}
	for rows.Next() {
		var (
			o               OrderView
			evolutionID     sql.NullInt64
			body            []byte
			updatedAt       sql.NullTime
			author, updater person
		)
		dest := []any{&o.ID, &o.EncounterID, &evolutionID, &o.OrderedAt, &body, &o.Status, &updatedAt}
		dest = append(dest, author.dest()...)
		dest = append(dest, updater.dest()...)
		if err := rows.Scan(dest...); err != nil {
			return fmt.Errorf("failed to scan medical order: %w", err)
		}

		o.OrderedAt = o.OrderedAt.UTC()
		o.EvolutionID = idPtr(evolutionID)
		o.UpdatedAt = timePtr(updatedAt)
		o.Author = r.displayName(author)
		o.UpdatedBy = r.displayName(updater)
		o.Body, o.BodyError = r.openOrder(body)
		view.Orders = append(view.Orders, o)
	}
	return rows.Err()
}

// openOrder decrypts and decodes a stored order document.
func (r *Repository) openOrder(raw []byte) (*OrderBody, string) {
	f := r.crypto.Decrypt(raw)
	if !f.Valid() {
		return nil, f.String()
	}
	var body OrderBody
	if err := json.Unmarshal([]byte(f.Value), &body); err != nil {
		return nil, "[invalid order document]"
	}
	return &body, ""
}

func (r *Repository) loadComplementaries(ctx context.Context, patientID int64, view *PatientView) error {
	rows, err := r.db.QueryContext(ctx, `
		SELECT c.id, c.encounter_id, c.order_id, c.registered_at, c.kind, c.study_name,
			c.performed_at, c.result, c.attachment_path IS NOT NULL, c.status, c.updated_at,
			ur.username, ur.full_name,
			uu.username, uu.full_name
		FROM complementaries c
		LEFT JOIN users ur ON ur.id = c.registered_by
		LEFT JOIN users uu ON uu.id = c.updated_by
		WHERE c.patient_id = $1
		ORDER BY c.registered_at DESC, c.id DESC
	`, patientID)
	if err != nil {
		return fmt.Errorf("failed to query complementaries: %w", err)
	}
	defer rows.Close()

	view.Complementaries = []ComplementaryView{}
	dec := r.decryptor()
	for rows.Next() {
		var (
			c                    ComplementaryView
			encounterID, orderID sql.NullInt64
			performedAt, updated sql.NullTime
			registrant, updater  person
		)
		dest := []any{
			&c.ID, &encounterID, &orderID, &c.RegisteredAt, &c.Kind, dec.into(&c.StudyName),
			&performedAt, dec.into(&c.Result), &c.HasAttachment, &c.Status, &updated,
		}
		dest = append(dest, registrant.dest()...)
		dest = append(dest, updater.dest()...)
		if err := rows.Scan(dest...); err != nil {
			return fmt.Errorf("failed to scan complementary: %w", err)
		}
		dec.apply()

		c.RegisteredAt = c.RegisteredAt.UTC()
		c.EncounterID = idPtr(encounterID)
		c.OrderID = idPtr(orderID)
		c.PerformedAt = timePtr(performedAt)
		c.UpdatedAt = timePtr(updated)
		c.RegisteredBy = r.displayName(registrant)
		c.UpdatedBy = r.displayName(updater)
		view.Complementaries = append(view.Complementaries, c)
	}
	return rows.Err()
}

func (r *Repository) loadReferrals(ctx context.Context, patientID int64, view *PatientView) error {
	rows, err := r.db.QueryContext(ctx, `
		SELECT f.id, f.encounter_id, f.requested_at, f.service, f.reason, f.status, f.answer, f.answered_at,
			uq.username, uq.full_name,
			ua.username, ua.full_name
		FROM referrals f
		LEFT JOIN users uq ON uq.id = f.requested_by
		LEFT JOIN users ua ON ua.id = f.answered_by
		WHERE f.patient_id = $1
		ORDER BY f.requested_at DESC, f.id DESC
	`, patientID)
	if err != nil {
		return fmt.Errorf("failed to query referrals: %w", err)
	}
	defer rows.Close()

	view.Referrals = []ReferralView{}
	dec := r.decryptor()
	for rows.Next() {
		var (
			f                   ReferralView
			encounterID         sql.NullInt64
			answeredAt          sql.NullTime
			requester, answerer person
		)
		dest := []any{
			&f.ID, &encounterID, &f.RequestedAt, dec.into(&f.Service), dec.into(&f.Reason),
			&f.Status, dec.into(&f.Answer), &answeredAt,
		}
		dest = append(dest, requester.dest()...)
		dest = append(dest, answerer.dest()...)
		if err := rows.Scan(dest...); err != nil {
			return fmt.Errorf("failed to scan referral: %w", err)
		}
		dec.apply()

		f.RequestedAt = f.RequestedAt.UTC()
		f.EncounterID = idPtr(encounterID)
		f.AnsweredAt = timePtr(answeredAt)
		f.RequestedBy = r.displayName(requester)
		f.AnsweredBy = r.displayName(answerer)
		view.Referrals = append(view.Referrals, f)
	}
	return rows.Err()
}

func (r *Repository) loadReports(ctx context.Context, patientID int64, view *PatientView) error {
	rows, err := r.db.QueryContext(ctx, `
		SELECT rp.id, rp.encounter_id, rp.created_at, rp.kind, rp.content, rp.file_path, rp.updated_at,
			ua.username, ua.full_name,
			uu.username, uu.full_name
		FROM reports rp
		LEFT JOIN users ua ON ua.id = rp.author_id
		LEFT JOIN users uu ON uu.id = rp.updated_by
		WHERE rp.patient_id = $1
		ORDER BY rp.created_at DESC, rp.id DESC
	`, patientID)
	if err != nil {
		return fmt.Errorf("failed to query reports: %w", err)
	}
	defer rows.Close()

	view.Reports = []ReportView{}
	dec := r.decryptor()
	for rows.Next() {
		var (
			rp              ReportView
			encounterID     sql.NullInt64
			updatedAt       sql.NullTime
			author, updater person
		)
		dest := []any{&rp.ID, &encounterID, &rp.CreatedAt, &rp.Kind, dec.into(&rp.Content), dec.into(&rp.FilePath), &updatedAt}
		dest = append(dest, author.dest()...)
		dest = append(dest, updater.dest()...)
		if err := rows.Scan(dest...); err != nil {
			return fmt.Errorf("failed to scan report: %w", err)
		}
		dec.apply()

		rp.CreatedAt = rp.CreatedAt.UTC()
		rp.EncounterID = idPtr(encounterID)
		rp.UpdatedAt = timePtr(updatedAt)
		rp.Author = r.displayName(author)
		rp.UpdatedBy = r.displayName(updater)
		view.Reports = append(view.Reports, rp)
	}
	return rows.Err()
}

func (r *Repository) loadPrescriptions(ctx context.Context, patientID int64, view *PatientView) error {
	rows, err := r.db.QueryContext(ctx, `
		SELECT rx.id, rx.encounter_id, rx.evolution_id, rx.issued_at, rx.kind, rx.body, rx.updated_at,
			ua.username, ua.full_name,
			uu.username, uu.full_name
		FROM prescriptions rx
		LEFT JOIN users ua ON ua.id = rx.author_id
		LEFT JOIN users uu ON uu.id = rx.updated_by
		WHERE rx.patient_id = $1
		ORDER BY rx.issued_at DESC, rx.id DESC
	`, patientID)
	if err != nil {
		return fmt.Errorf("failed to query prescriptions: %w", err)
	}
	defer rows.Close()

	view.Prescriptions = []PrescriptionView{}
	dec := r.decryptor()
	for rows.Next() {
		var (
			rx                       PrescriptionView
			encounterID, evolutionID sql.NullInt64
			updatedAt                sql.NullTime
			author, updater          person
		)
		dest := []any{&rx.ID, &encounterID, &evolutionID, &rx.IssuedAt, &rx.Kind, dec.into(&rx.Body), &updatedAt}
		dest = append(dest, author.dest()...)
		dest = append(dest, updater.dest()...)
		if err := rows.Scan(dest...); err != nil {
			return fmt.Errorf("failed to scan prescription: %w", err)
		}
		dec.apply()

		rx.IssuedAt = rx.IssuedAt.UTC()
		rx.EncounterID = idPtr(encounterID)
		rx.EvolutionID = idPtr(evolutionID)
		rx.UpdatedAt = timePtr(updatedAt)
		rx.Author = r.displayName(author)
		rx.UpdatedBy = r.displayName(updater)
		view.Prescriptions = append(view.Prescriptions, rx)
	}
	return rows.Err()
}

// GetPatientList pages through patients, newest first. search matches a
// chart-number substring or an exact national ID through its blind index;
// names are ciphertext and cannot be searched.
func (r *Repository) GetPatientList(ctx context.Context, search string, params pagination.Params) ([]PatientSummary, int, error) {
	params.Normalize()

	where := ""
	var args []any
	if search = strings.TrimSpace(search); search != "" {
		where = " WHERE LOWER(chart_number) LIKE LOWER($1)" + db.LikeEscape + " OR national_id_hash = $2"
		args = append(args, db.ContainsPattern(search), r.crypto.BlindIndex(strings.ToUpper(search)))
	}

	var total int
	if err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM patients"+where, args...).Scan(&total); err != nil {
		return nil, 0, apperr.Database("count patients", err)
	}

	query := fmt.Sprintf(`
		SELECT id, chart_number, first_names, last_names, national_id, sex, birth_date, registered_at
		FROM patients%s
		ORDER BY id DESC
		LIMIT $%d OFFSET $%d
	`, where, len(args)+1, len(args)+2)
	rows, err := r.db.QueryContext(ctx, query, append(args, params.PageSize, params.Offset())...)
	if err != nil {
		return nil, 0, apperr.Database("list patients", err)
	}
	defer rows.Close()

	now := r.now()
	patients := []PatientSummary{}
	for rows.Next() {
		var (
			p           PatientSummary
			first, last []byte
			nationalID  []byte
			sex         sql.NullString
			birth       sql.NullTime
		)
		if err := rows.Scan(&p.ID, &p.ChartNumber, &first, &last, &nationalID, &sex, &birth, &p.RegisteredAt); err != nil {
			return nil, 0, apperr.Database("list patients", err)
		}
		p.FullName = strings.TrimSpace(r.crypto.Decrypt(first).String() + " " + r.crypto.Decrypt(last).String())
		p.NationalID = r.crypto.Decrypt(nationalID)
		p.Sex = Sex(sex.String)
		p.RegisteredAt = p.RegisteredAt.UTC()
		if birth.Valid {
			p.BirthDate = birth.Time.Format(DateLayout)
			age := ageAt(birth.Time, now)
			p.Age = &age
		}
		patients = append(patients, p)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, apperr.Database("list patients", err)
	}
	return patients, total, nil
}

// GetLatestEncounterID returns the encounter new notes would attach to.
func (r *Repository) GetLatestEncounterID(ctx context.Context, patientID int64) (int64, error) {
	if err := patientExists(ctx, r.db, patientID); err != nil {
		return 0, apperr.Database("get latest encounter", err)
	}
	id, err := latestEncounter(ctx, r.db, patientID)
	if err != nil {
		return 0, apperr.Database("get latest encounter", err)
	}
	return id, nil
}

// ageAt returns completed years between birth and now.
func ageAt(birth, now time.Time) int {
	years := now.Year() - birth.Year()
	if now.Month() < birth.Month() || (now.Month() == birth.Month() && now.Day() < birth.Day()) {
		years--
	}
	if years < 0 {
		return 0
	}
	return years
}

package records

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/hengadev/errsx"
)

var nationalIDPattern = regexp.MustCompile(`^[VE]-\d+$`)

func (d Demographics) normalize() Demographics {
	d.NationalID = strings.ToUpper(strings.TrimSpace(d.NationalID))
	d.FirstNames = strings.TrimSpace(d.FirstNames)
	d.LastNames = strings.TrimSpace(d.LastNames)
	d.Sex = Sex(strings.ToLower(strings.TrimSpace(string(d.Sex))))
	d.BirthDate = strings.TrimSpace(d.BirthDate)
	d.Email = strings.TrimSpace(d.Email)
	return d
}

func (d Demographics) validate(errs *errsx.Map, now time.Time) {
	if d.FirstNames == "" {
		errs.Set("first_names", "first names are required")
	}
	if d.LastNames == "" {
		errs.Set("last_names", "last names are required")
	}
	if d.NationalID != "" && !nationalIDPattern.MatchString(d.NationalID) {
		errs.Set("national_id", "national ID must look like V-12345678 or E-12345678")
	}
	if d.Sex != "" && !d.Sex.Valid() {
		errs.Set("sex", fmt.Sprintf("invalid sex %q", d.Sex))
	}
	if d.BirthDate != "" {
		birth, err := time.Parse(DateLayout, d.BirthDate)
		switch {
		case err != nil:
			errs.Set("birth_date", "birth date must be formatted as YYYY-MM-DD")
		case birth.After(now):
			errs.Set("birth_date", "birth date cannot be in the future")
		}
	}
	if d.Email != "" && !strings.Contains(d.Email, "@") {
		errs.Set("email", "email address is not valid")
	}
}

// secure lists the encrypted demographic columns in a fixed order.
func (d Demographics) secure() []plain {
	return []plain{
		{"national_id", d.NationalID},
		{"first_names", d.FirstNames},
		{"last_names", d.LastNames},
		{"birth_place", d.BirthPlace},
		{"marital_status", d.MaritalStatus},
		{"home_phone", d.HomePhone},
		{"mobile_phone", d.MobilePhone},
		{"email", d.Email},
		{"address", d.Address},
		{"occupation", d.Occupation},
		{"emergency_name", d.EmergencyName},
		{"emergency_phone", d.EmergencyPhone},
		{"emergency_relationship", d.EmergencyRelationship},
		{"emergency_address", d.EmergencyAddress},
		{"notes", d.Notes},
	}
}

func (d Demographics) columns(s *sealer) []column {
	cols := []column{
		{"national_id_hash", s.index(d.NationalID)},
		{"sex", nullable(string(d.Sex))},
		{"birth_date", birthDateValue(d.BirthDate)},
	}
	return append(cols, sealAll(s, d.secure())...)
}

// birthDateValue expects an already validated date.
func birthDateValue(v string) any {
	if v == "" {
		return nil
	}
	t, err := time.Parse(DateLayout, v)
	if err != nil {
		return nil
	}
	return t
}

func (h History) columns(s *sealer) []column {
	conditions := []struct {
		name string
		c    Condition
	}{
		{"asthma", h.Asthma},
		{"hypertension", h.Hypertension},
		{"diabetes", h.Diabetes},
		{"heart_disease", h.HeartDisease},
		{"other_conditions", h.OtherConditions},
	}
	var cols []column
	for _, c := range conditions {
		cols = append(cols, column{c.name, c.c.Present}, column{c.name + "_detail", s.seal(c.c.Detail)})
	}
	return append(cols, sealAll(s, []plain{
		{"allergies", h.Allergies},
		{"surgical_history", h.SurgicalHistory},
		{"family_mother", h.FamilyMother},
		{"family_father", h.FamilyFather},
		{"family_siblings", h.FamilySiblings},
		{"family_children", h.FamilyChildren},
		{"habit_tobacco", h.HabitTobacco},
		{"habit_alcohol", h.HabitAlcohol},
		{"habit_drugs", h.HabitDrugs},
		{"habit_coffee", h.HabitCoffee},
		{"weight_loss", h.WeightLoss},
	})...)
}

func (in Intake) columns(s *sealer) []column {
	return sealAll(s, []plain{
		{"chief_complaint", in.ChiefComplaint},
		{"present_illness", in.PresentIllness},
		{"admission_diagnosis", in.AdmissionDiagnosis},
	})
}

func (e PhysicalExam) validate(errs *errsx.Map, key string) {
	checkVital(errs, key+".respiratory_rate", e.RespiratoryRate, 0, 120)
	checkVital(errs, key+".heart_rate", e.HeartRate, 0, 300)
	checkVital(errs, key+".oxygen_saturation", e.OxygenSaturation, 0, 100)
	checkVital(errs, key+".glycemia", e.Glycemia, 0, 2000)
}

func (e PhysicalExam) columns(s *sealer) []column {
	cols := []column{
		{"respiratory_rate", nullableInt(e.RespiratoryRate)},
		{"heart_rate", nullableInt(e.HeartRate)},
		{"oxygen_saturation", nullableInt(e.OxygenSaturation)},
		{"glycemia", nullableInt(e.Glycemia)},
	}
	return append(cols, sealAll(s, []plain{
		{"blood_pressure", e.BloodPressure},
		{"temperature", e.Temperature},
		{"skin", e.Skin},
		{"respiratory", e.Respiratory},
		{"cardiovascular", e.Cardiovascular},
		{"abdomen", e.Abdomen},
		{"gastrointestinal", e.Gastrointestinal},
		{"genitourinary", e.Genitourinary},
		{"extremities", e.Extremities},
		{"neurological", e.Neurological},
		{"other_findings", e.OtherFindings},
	})...)
}

func (in EvolutionInput) validate(errs *errsx.Map) {
	if strings.TrimSpace(in.Subjective) == "" && strings.TrimSpace(in.Objective) == "" &&
		strings.TrimSpace(in.Diagnoses) == "" && strings.TrimSpace(in.Plan) == "" {
		errs.Set("evolution", "at least one of subjective, objective, diagnoses or plan is required")
	}
	if in.HospitalDay != nil && *in.HospitalDay < 0 {
		errs.Set("hospital_day", "hospital day cannot be negative")
	}
	checkVital(errs, "heart_rate", in.HeartRate, 0, 300)
	checkVital(errs, "respiratory_rate", in.RespiratoryRate, 0, 120)
	checkVital(errs, "oxygen_saturation", in.OxygenSaturation, 0, 100)
}

func (in EvolutionInput) columns(s *sealer) []column {
	cols := []column{
		{"hospital_day", nullableInt(in.HospitalDay)},
		{"heart_rate", nullableInt(in.HeartRate)},
		{"respiratory_rate", nullableInt(in.RespiratoryRate)},
		{"oxygen_saturation", nullableInt(in.OxygenSaturation)},
	}
	return append(cols, sealAll(s, []plain{
		{"subjective", in.Subjective},
		{"objective", in.Objective},
		{"blood_pressure", in.BloodPressure},
		{"temperature", in.Temperature},
		{"skin", in.Skin},
		{"respiratory", in.Respiratory},
		{"cardiovascular", in.Cardiovascular},
		{"abdomen", in.Abdomen},
		{"extremities", in.Extremities},
		{"neurological", in.Neurological},
		{"other_findings", in.OtherFindings},
		{"diagnoses", in.Diagnoses},
		{"plan", in.Plan},
		{"comment", in.Comment},
	})...)
}

func checkVital(errs *errsx.Map, key string, v *int, lo, hi int) {
	if v != nil && (*v < lo || *v > hi) {
		errs.Set(key, fmt.Sprintf("must be between %d and %d", lo, hi))
	}
}

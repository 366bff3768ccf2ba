package records

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/WailSalutem-Health-Care/clinical-records-service/internal/apperr"
	"github.com/hengadev/errsx"
)

// OrderFormatVersion is written into every stored order document.
const OrderFormatVersion = 1

var (
	ErrUnknownDirective   = errors.New("unknown directive kind")
	ErrUnsupportedVersion = errors.New("unsupported order format version")
)

type DirectiveKind string

const (
	DirectiveDiet            DirectiveKind = "diet"
	DirectiveIVFluids        DirectiveKind = "iv_fluids"
	DirectiveMedications     DirectiveKind = "medications"
	DirectiveHospitalization DirectiveKind = "hospitalization"
)

// Directive is one instruction inside a medical order.
type Directive interface {
	Kind() DirectiveKind
	validate(errs *errsx.Map, key string)
}

type DietType string

const (
	DietNothingByMouth DietType = "nothing_by_mouth"
	DietLiquid         DietType = "liquid"
	DietSoft           DietType = "soft"
)

func (t DietType) Valid() bool {
	switch t {
	case DietNothingByMouth, DietLiquid, DietSoft:
		return true
	}
	return false
}

type DietDirective struct {
	Type  DietType `json:"type"`
	Notes string   `json:"notes,omitempty"`
}

func (DietDirective) Kind() DirectiveKind { return DirectiveDiet }

func (d DietDirective) validate(errs *errsx.Map, key string) {
	if !d.Type.Valid() {
		errs.Set(key+".type", fmt.Sprintf("invalid diet type %q", d.Type))
	}
}

type IVFluidsDirective struct {
	Solution  string `json:"solution"`
	Rate      string `json:"rate,omitempty"`
	Additives string `json:"additives,omitempty"`
}

func (IVFluidsDirective) Kind() DirectiveKind { return DirectiveIVFluids }

func (d IVFluidsDirective) validate(errs *errsx.Map, key string) {
	if strings.TrimSpace(d.Solution) == "" {
		errs.Set(key+".solution", "solution is required")
	}
}

type Medication struct {
	Name      string `json:"name"`
	Dose      string `json:"dose,omitempty"`
	Route     string `json:"route,omitempty"`
	Frequency string `json:"frequency,omitempty"`
}

type MedicationsDirective struct {
	Items []Medication `json:"items"`
}

func (MedicationsDirective) Kind() DirectiveKind { return DirectiveMedications }

func (d MedicationsDirective) validate(errs *errsx.Map, key string) {
	if len(d.Items) == 0 {
		errs.Set(key+".items", "at least one medication is required")
		return
	}
	for i, m := range d.Items {
		if strings.TrimSpace(m.Name) == "" {
			errs.Set(fmt.Sprintf("%s.items[%d].name", key, i), "medication name is required")
		}
	}
}

type HospitalizationDirective struct {
	Ward        string `json:"ward,omitempty"`
	Position    string `json:"position,omitempty"`
	VitalSigns  string `json:"vital_signs,omitempty"`
	NursingCare string `json:"nursing_care,omitempty"`
}

func (HospitalizationDirective) Kind() DirectiveKind { return DirectiveHospitalization }

func (d HospitalizationDirective) validate(errs *errsx.Map, key string) {
	if d == (HospitalizationDirective{}) {
		errs.Set(key, "hospitalization directive is empty")
	}
}

// OrderBody is the document stored, encrypted, in medical_orders.body:
//
//	{"version":1,"directives":[{"kind":"diet","type":"soft"}, ...]}
type OrderBody struct {
	Directives []Directive
}

// Validate checks the document before it is written. It needs at least one
// directive and allows at most one of each kind.
func (b OrderBody) Validate() error {
	var errs errsx.Map
	if len(b.Directives) == 0 {
		errs.Set("body", "order must contain at least one directive")
	}
	seen := map[DirectiveKind]bool{}
	for i, d := range b.Directives {
		key := fmt.Sprintf("body.directives[%d]", i)
		if d == nil {
			errs.Set(key, "directive is empty")
			continue
		}
		if seen[d.Kind()] {
			errs.Set(key, fmt.Sprintf("duplicate %s directive", d.Kind()))
			continue
		}
		seen[d.Kind()] = true
		d.validate(&errs, key)
	}
	return apperr.Invalid(errs)
}

// Directive returns the directive of the given kind, if present.
func (b OrderBody) Directive(kind DirectiveKind) (Directive, bool) {
	for _, d := range b.Directives {
		if d != nil && d.Kind() == kind {
			return d, true
		}
	}
	return nil, false
}

type orderDocument struct {
	Version    int               `json:"version"`
	Directives []json.RawMessage `json:"directives"`
}

func (b OrderBody) MarshalJSON() ([]byte, error) {
	doc := orderDocument{Version: OrderFormatVersion, Directives: make([]json.RawMessage, 0, len(b.Directives))}
	for _, d := range b.Directives {
		raw, err := encodeDirective(d)
		if err != nil {
			return nil, err
		}
		doc.Directives = append(doc.Directives, raw)
	}
	return json.Marshal(doc)
}

// UnmarshalJSON accepts documents without a version as the current one.
func (b *OrderBody) UnmarshalJSON(data []byte) error {
	var doc orderDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return err
	}
	if doc.Version > OrderFormatVersion || doc.Version < 0 {
		return fmt.Errorf("%w: %d", ErrUnsupportedVersion, doc.Version)
	}

	directives := make([]Directive, 0, len(doc.Directives))
	for i, raw := range doc.Directives {
		d, err := decodeDirective(raw)
		if err != nil {
			return fmt.Errorf("directive %d: %w", i, err)
		}
		directives = append(directives, d)
	}
	b.Directives = directives
	return nil
}

func encodeDirective(d Directive) (json.RawMessage, error) {
	if d == nil {
		return nil, fmt.Errorf("%w: nil", ErrUnknownDirective)
	}
	raw, err := json.Marshal(d)
	if err != nil {
		return nil, err
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, err
	}
	kind, err := json.Marshal(d.Kind())
	if err != nil {
		return nil, err
	}
	fields["kind"] = kind
	return json.Marshal(fields)
}

func decodeDirective(raw json.RawMessage) (Directive, error) {
	var head struct {
		Kind DirectiveKind `json:"kind"`
	}
	if err := json.Unmarshal(raw, &head); err != nil {
		return nil, err
	}

	var d Directive
	switch head.Kind {
	case DirectiveDiet:
		var v DietDirective
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, err
		}
		d = v
	case DirectiveIVFluids:
		var v IVFluidsDirective
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, err
		}
		d = v
	case DirectiveMedications:
		var v MedicationsDirective
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, err
		}
		d = v
	case DirectiveHospitalization:
		var v HospitalizationDirective
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, err
		}
		d = v
	default:
		return nil, fmt.Errorf("%w %q", ErrUnknownDirective, head.Kind)
	}
	return d, nil
}

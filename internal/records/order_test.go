package records

import (
	"encoding/json"
	"testing"

	"github.com/WailSalutem-Health-Care/clinical-records-service/internal/apperr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleOrder() OrderBody {
	return OrderBody{Directives: []Directive{
		DietDirective{Type: DietSoft, Notes: "low sodium"},
		IVFluidsDirective{Solution: "0.9% saline", Rate: "21 drops/min"},
		MedicationsDirective{Items: []Medication{
			{Name: "Ceftriaxone", Dose: "1 g", Route: "IV", Frequency: "every 12h"},
			{Name: "Omeprazole", Dose: "40 mg", Route: "IV", Frequency: "daily"},
		}},
		HospitalizationDirective{Ward: "Internal medicine", VitalSigns: "every 6h"},
	}}
}

func TestOrderBody_JSONShape(t *testing.T) {
	raw, err := json.Marshal(sampleOrder())
	require.NoError(t, err)

	var doc map[string]interface{}
	require.NoError(t, json.Unmarshal(raw, &doc))
	assert.Equal(t, float64(OrderFormatVersion), doc["version"])

	directives := doc["directives"].([]interface{})
	require.Len(t, directives, 4)
	first := directives[0].(map[string]interface{})
	assert.Equal(t, "diet", first["kind"])
	assert.Equal(t, "soft", first["type"])
	assert.Equal(t, "medications", directives[2].(map[string]interface{})["kind"])
}

func TestOrderBody_DecodesEveryVariant(t *testing.T) {
	raw, err := json.Marshal(sampleOrder())
	require.NoError(t, err)

	var got OrderBody
	require.NoError(t, json.Unmarshal(raw, &got))
	assert.Equal(t, sampleOrder(), got)

	d, ok := got.Directive(DirectiveMedications)
	require.True(t, ok)
	assert.Len(t, d.(MedicationsDirective).Items, 2)

	_, ok = OrderBody{}.Directive(DirectiveDiet)
	assert.False(t, ok)
}

func TestOrderBody_UnmarshalRejects(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr error
	}{
		{"future version", `{"version":2,"directives":[]}`, ErrUnsupportedVersion},
		{"unknown kind", `{"version":1,"directives":[{"kind":"surgery"}]}`, ErrUnknownDirective},
		{"missing kind", `{"version":1,"directives":[{"type":"soft"}]}`, ErrUnknownDirective},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var b OrderBody
			err := json.Unmarshal([]byte(tt.input), &b)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestOrderBody_UnversionedDocumentIsCurrent(t *testing.T) {
	var b OrderBody
	require.NoError(t, json.Unmarshal([]byte(`{"directives":[{"kind":"diet","type":"liquid"}]}`), &b))
	assert.Equal(t, []Directive{DietDirective{Type: DietLiquid}}, b.Directives)
}

func TestOrderBody_Validate(t *testing.T) {
	tests := []struct {
		name      string
		body      OrderBody
		wantField string
	}{
		{"empty", OrderBody{}, "body"},
		{"bad diet", OrderBody{Directives: []Directive{DietDirective{Type: "fasting"}}}, "body.directives[0].type"},
		{"no solution", OrderBody{Directives: []Directive{IVFluidsDirective{Rate: "fast"}}}, "body.directives[0].solution"},
		{"no medications", OrderBody{Directives: []Directive{MedicationsDirective{}}}, "body.directives[0].items"},
		{"unnamed medication", OrderBody{Directives: []Directive{MedicationsDirective{Items: []Medication{{Dose: "1 g"}}}}}, "body.directives[0].items[0].name"},
		{"empty hospitalization", OrderBody{Directives: []Directive{HospitalizationDirective{}}}, "body.directives[0]"},
		{"duplicate kind", OrderBody{Directives: []Directive{DietDirective{Type: DietSoft}, DietDirective{Type: DietLiquid}}}, "body.directives[1]"},
		{"nil directive", OrderBody{Directives: []Directive{nil}}, "body.directives[0]"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.body.Validate()
			var verr *apperr.ValidationError
			require.ErrorAs(t, err, &verr)
			_, ok := verr.Fields[tt.wantField]
			assert.True(t, ok, "expected problem on %s, got %v", tt.wantField, verr.Fields)
		})
	}

	assert.NoError(t, sampleOrder().Validate())
}

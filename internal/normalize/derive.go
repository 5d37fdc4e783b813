package normalize

import "strings"

// Derived feature field names.
const (
	FieldBodyInfo = "bodyInfo"
	FieldGender   = "gender"
	FieldWeight   = "weight"
)

// defaultWeight is assumed when a body info document carries no weight.
const defaultWeight = 70.0

// deriveBodyInfo flattens a nested bodyInfo document into scalar feature
// columns: gender (1 for male, 0 otherwise) and weight in kilograms. The
// nested document is removed since the sink emits flat rows. Records
// without bodyInfo are left unchanged.
func deriveBodyInfo(payload map[string]any) {
	raw, ok := payload[FieldBodyInfo]
	if !ok {
		return
	}
	delete(payload, FieldBodyInfo)

	info, ok := raw.(map[string]any)
	if !ok {
		return
	}

	gender := 0
	if g, ok := info[FieldGender].(string); ok && strings.Contains(strings.ToLower(g), "male") && !strings.Contains(strings.ToLower(g), "female") {
		gender = 1
	}
	payload[FieldGender] = gender

	weight := defaultWeight
	if w, ok := info[FieldWeight].(float64); ok && w > 0 {
		weight = w
	}
	payload[FieldWeight] = weight
}

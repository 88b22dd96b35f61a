package capability

// ParamKind enumerates the closed set of parameter value types a
// Settable device may expose.
type ParamKind string

const (
	ParamScalar ParamKind = "scalar"
	ParamBool   ParamKind = "bool"
	ParamEnum   ParamKind = "enum"
	ParamString ParamKind = "string"
)

// ParamSpec describes one named, typed parameter: its kind, whether
// it is read-only, and (for scalar/enum kinds) the values it accepts.
// Validation happens on the Set path against this spec, never inside
// the driver.
type ParamSpec struct {
	Name       string
	Kind       ParamKind
	ReadOnly   bool
	Min, Max   float64 // only meaningful for ParamScalar; Max <= Min means unbounded
	EnumValues []string // only meaningful for ParamEnum
}

// Validate checks value against the spec, returning an error message
// (empty if valid) suitable for wrapping into a configuration error.
func (p ParamSpec) Validate(value any) string {
	if p.ReadOnly {
		return "parameter " + p.Name + " is read-only"
	}
	switch p.Kind {
	case ParamScalar:
		f, ok := toFloat(value)
		if !ok {
			return "parameter " + p.Name + " expects a numeric value"
		}
		if p.Max > p.Min && (f < p.Min || f > p.Max) {
			return "parameter " + p.Name + " out of range"
		}
	case ParamBool:
		if _, ok := value.(bool); !ok {
			return "parameter " + p.Name + " expects a boolean value"
		}
	case ParamEnum:
		s, ok := value.(string)
		if !ok {
			return "parameter " + p.Name + " expects a string value"
		}
		valid := false
		for _, v := range p.EnumValues {
			if v == s {
				valid = true
				break
			}
		}
		if !valid {
			return "parameter " + p.Name + " is not one of the allowed enum values"
		}
	case ParamString:
		if _, ok := value.(string); !ok {
			return "parameter " + p.Name + " expects a string value"
		}
	}
	return ""
}

func toFloat(value any) (float64, bool) {
	switch v := value.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	default:
		return 0, false
	}
}

package storage

import "encoding/json"

// JSONText converts list and vector values into their JSON text form for
// backends without a native array type. Scalars pass through.
func JSONText(v any) any {
	switch t := v.(type) {
	case []string, []float32, []float64, []any:
		b, err := json.Marshal(t)
		if err != nil {
			return nil
		}
		return string(b)
	default:
		return v
	}
}

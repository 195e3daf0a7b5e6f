package reql

import (
	"fmt"
	"time"
)

// GroupedData is the decoded form of a GROUPED_DATA pseudotype: the
// "group"/"reduction" pairs keyed by whatever the grouping term produced.
type GroupedData map[any]any

// Geometry is the decoded form of a GEOMETRY pseudotype: the raw GeoJSON
// object the server sent, passed through rather than modeled as a typed
// shape (point/line/polygon) the driver has no use for on its own.
type Geometry map[string]any

const reqlTypeTag = "$reql_type$"

// resolvePseudotypes walks a decoded JSON value and converts any
// $reql_type$-tagged object into its native Go representation: TIME to
// time.Time, BINARY to []byte, GROUPED_DATA to GroupedData, GEOMETRY to
// Geometry. Everything else passes through unchanged.
func resolvePseudotypes(v any) (any, error) {
	switch t := v.(type) {
	case map[string]any:
		if tag, ok := t[reqlTypeTag].(string); ok {
			return convertPseudotype(tag, t)
		}
		out := make(map[string]any, len(t))
		for k, e := range t {
			resolved, err := resolvePseudotypes(e)
			if err != nil {
				return nil, err
			}
			out[k] = resolved
		}
		return out, nil
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			resolved, err := resolvePseudotypes(e)
			if err != nil {
				return nil, err
			}
			out[i] = resolved
		}
		return out, nil
	default:
		return v, nil
	}
}

func convertPseudotype(tag string, obj map[string]any) (any, error) {
	switch tag {
	case "TIME":
		epoch, _ := obj["epoch_time"].(float64)
		return time.Unix(0, int64(epoch*float64(time.Second))).UTC(), nil

	case "BINARY":
		data, _ := obj["data"].(string)
		decoded, err := base64Decode(data)
		if err != nil {
			return nil, &DriverError{Message: "decoding BINARY pseudotype", Cause: err}
		}
		return decoded, nil

	case "GROUPED_DATA":
		raw, _ := obj["data"].([]any)
		gd := make(GroupedData, len(raw))
		for _, pair := range raw {
			p, ok := pair.([]any)
			if !ok || len(p) != 2 {
				return nil, &DriverError{Message: "malformed GROUPED_DATA entry"}
			}
			key, err := resolvePseudotypes(p[0])
			if err != nil {
				return nil, err
			}
			value, err := resolvePseudotypes(p[1])
			if err != nil {
				return nil, err
			}
			gd[groupKey(key)] = value
		}
		return gd, nil

	case "GEOMETRY":
		resolved, err := resolvePseudotypes(map[string]any(deleteKey(obj, reqlTypeTag)))
		if err != nil {
			return nil, err
		}
		return Geometry(resolved.(map[string]any)), nil

	default:
		// Unknown pseudotype: hand back the tagged object untouched rather
		// than failing the whole decode over a forward-compatible tag.
		return obj, nil
	}
}

// groupKey normalizes a GROUPED_DATA group value into something usable as
// a Go map key. Slices aren't comparable, so multi-field group keys are
// flattened to their fmt representation; scalar keys pass through as-is.
func groupKey(v any) any {
	switch v.(type) {
	case string, bool, float64, int, int64, nil:
		return v
	default:
		return formatGroupKey(v)
	}
}

func formatGroupKey(v any) string {
	return fmt.Sprintf("%v", v)
}

func deleteKey(m map[string]any, key string) map[string]any {
	out := make(map[string]any, len(m)-1)
	for k, v := range m {
		if k == key {
			continue
		}
		out[k] = v
	}
	return out
}

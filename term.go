package reql

// Term is a node in a ReQL expression tree. The AST surface that produces
// terms is out of scope for this package; reql only ever calls Build to get
// the JSON-serializable value that belongs in a query frame.
type Term interface {
	// Build returns the term as nested []any / map[string]any / literal
	// values, ready for JSON encoding: [termType, args, opts].
	Build() (any, error)

	// String is used for diagnostics (error backtraces, tracing) only.
	String() string
}

// GlobalOpts carries the per-query option map that rides alongside a START
// query, e.g. {db: ..., noreply: ..., profile: ...}. Keys are option names;
// values are either plain JSON-encodable values or Terms that must be built
// first.
type GlobalOpts map[string]any

// build converts opts into a JSON-encodable map, recursively invoking Build
// on any Term values it contains.
func (o GlobalOpts) build() (map[string]any, error) {
	if len(o) == 0 {
		return nil, nil
	}
	out := make(map[string]any, len(o))
	for k, v := range o {
		built, err := buildValue(v)
		if err != nil {
			return nil, err
		}
		out[k] = built
	}
	return out, nil
}

func buildValue(v any) (any, error) {
	switch t := v.(type) {
	case Term:
		return t.Build()
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			built, err := buildValue(e)
			if err != nil {
				return nil, err
			}
			out[i] = built
		}
		return out, nil
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, e := range t {
			built, err := buildValue(e)
			if err != nil {
				return nil, err
			}
			out[k] = built
		}
		return out, nil
	default:
		return v, nil
	}
}

// Codec converts between decoded wire values (plain JSON shapes: map, slice,
// string, float64, bool, nil, plus the pseudotype values reql resolves
// itself) and application types. reql never reflects over arbitrary structs
// itself; that is the codec's job, matching the driver/POJO split documented
// in the package doc.
type Codec interface {
	// Encode turns an application value into something JSON-encodable.
	Encode(value any) (any, error)

	// Decode fills target (normally a pointer) from a decoded wire value.
	Decode(raw any, target any) error
}

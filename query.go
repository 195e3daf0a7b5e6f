package reql

import "encoding/json"

// QueryType is the first element of every query's JSON array, selecting
// what the server should do with the accompanying term.
type QueryType int

const (
	QueryStart QueryType = iota + 1
	QueryContinue
	QueryStop
	QueryNoreplyWait
	QueryServerInfo
)

// query is one outgoing request: a type, an optional term (absent for
// CONTINUE/STOP/NOREPLY_WAIT/SERVER_INFO), and an optional options map.
type query struct {
	typ  QueryType
	term any // already-built JSON value, or nil
	opts map[string]any
}

// serialize assembles [type] or [type, term] or [type, term, opts] and
// returns its UTF-8 JSON encoding. It does not frame the result; that's
// frameCodec's job.
func (q query) serialize() ([]byte, error) {
	var arr []any
	switch {
	case q.term == nil && q.opts == nil:
		arr = []any{int(q.typ)}
	case q.opts == nil:
		arr = []any{int(q.typ), q.term}
	default:
		arr = []any{int(q.typ), q.term, q.opts}
	}
	b, err := json.Marshal(arr)
	if err != nil {
		return nil, &ProtocolError{Message: "encoding query", Cause: err}
	}
	return b, nil
}

// buildGlobalOpts converts a GlobalOpts into the plain map serialize needs,
// recursively resolving any Term values it contains.
func buildGlobalOpts(opts GlobalOpts) (map[string]any, error) {
	if opts == nil {
		return nil, nil
	}
	return opts.build()
}

func startQuery(term Term, opts GlobalOpts) (query, error) {
	built, err := buildTerm(term)
	if err != nil {
		return query{}, err
	}
	o, err := buildGlobalOpts(opts)
	if err != nil {
		return query{}, err
	}
	return query{typ: QueryStart, term: built, opts: o}, nil
}

func buildTerm(term Term) (any, error) {
	if term == nil {
		return nil, &DriverError{Message: "query term must not be nil"}
	}
	built, err := term.Build()
	if err != nil {
		return nil, &DriverError{Message: "building query term", Cause: err}
	}
	return built, nil
}

func continueQuery() query {
	return query{typ: QueryContinue}
}

func stopQuery() query {
	return query{typ: QueryStop}
}

func noreplyWaitQuery() query {
	return query{typ: QueryNoreplyWait}
}

func serverInfoQuery() query {
	return query{typ: QueryServerInfo}
}

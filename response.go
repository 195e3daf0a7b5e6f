package reql

import "encoding/json"

// ResponseType is the "t" field of a response envelope. Values are not
// contiguous on the wire, so they're declared explicitly rather than via
// iota.
type ResponseType int

const (
	respSuccessAtom     ResponseType = 1
	respSuccessSequence ResponseType = 2
	respSuccessPartial  ResponseType = 3
	respWaitComplete    ResponseType = 4
	respServerInfo      ResponseType = 5
	respClientError     ResponseType = 16
	respCompileError    ResponseType = 17
	respRuntimeError    ResponseType = 18
)

// feed notes are integer codes the server attaches to Notes when a
// SUCCESS_PARTIAL/SEQUENCE response belongs to an infinite changefeed
// rather than a bounded sequence.
const (
	noteSequenceFeed     = 1
	noteAtomFeed         = 2
	noteOrderByLimitFeed = 3
	noteUnionedFeed      = 4
	noteIncludesStates   = 5
)

// response is the parsed form of a reply frame's JSON payload:
// {"t":type,"r":[...],"n":[...]?,"p":...?,"b":...?,"e":error_type?}.
type response struct {
	Type      ResponseType `json:"t"`
	Result    []any        `json:"r"`
	Notes     []int        `json:"n,omitempty"`
	Profile   any          `json:"p,omitempty"`
	Backtrace []any        `json:"b,omitempty"`
	ErrorType int          `json:"e,omitempty"`
}

func parseResponse(payload []byte) (*response, error) {
	var r response
	if err := json.Unmarshal(payload, &r); err != nil {
		return nil, &ProtocolError{Message: "decoding response frame", Cause: err}
	}
	return &r, nil
}

// isFeed reports whether this response belongs to a cursor that will never
// see SUCCESS_SEQUENCE under normal operation.
func (r *response) isFeed() bool {
	for _, n := range r.Notes {
		switch n {
		case noteSequenceFeed, noteAtomFeed, noteOrderByLimitFeed, noteUnionedFeed:
			return true
		}
	}
	return false
}

// errorMessage extracts the single error string the server places as
// Result[0] for CLIENT_ERROR/COMPILE_ERROR/RUNTIME_ERROR responses.
func (r *response) errorMessage() string {
	if len(r.Result) == 0 {
		return ""
	}
	s, _ := r.Result[0].(string)
	return s
}

// asError converts a CLIENT_ERROR/COMPILE_ERROR/RUNTIME_ERROR response into
// the typed error it should fail the waiter with. Callers must only call
// this for responses whose Type is one of those three.
func (r *response) asError() error {
	base := Error{Message: r.errorMessage(), Backtrace: r.Backtrace}
	switch r.Type {
	case respClientError:
		return &ClientError{Error: base}
	case respCompileError:
		return &CompileError{Error: base}
	case respRuntimeError:
		return &RuntimeError{Error: base, Type: ErrorType(r.ErrorType)}
	default:
		return &base
	}
}

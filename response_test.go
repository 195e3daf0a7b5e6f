package reql

import "testing"

// TestParseAtomResponse covers scenario S4: token=7, {"t":1,"r":[42]}.
func TestParseAtomResponse(t *testing.T) {
	r, err := parseResponse([]byte(`{"t":1,"r":[42]}`))
	if err != nil {
		t.Fatalf("parseResponse: %v", err)
	}
	if r.Type != respSuccessAtom {
		t.Fatalf("type = %v, want respSuccessAtom", r.Type)
	}
	if len(r.Result) != 1 || r.Result[0].(float64) != 42 {
		t.Fatalf("result = %v, want [42]", r.Result)
	}
}

// TestParseFeedResponse covers scenario S6: a SUCCESS_PARTIAL response
// carrying note 1 (SEQUENCE_FEED).
func TestParseFeedResponse(t *testing.T) {
	r, err := parseResponse([]byte(`{"t":3,"r":[{"x":1}],"n":[1]}`))
	if err != nil {
		t.Fatalf("parseResponse: %v", err)
	}
	if !r.isFeed() {
		t.Fatal("expected isFeed() to be true for a SEQUENCE_FEED note")
	}
}

func TestParseNonFeedPartialResponse(t *testing.T) {
	r, err := parseResponse([]byte(`{"t":3,"r":[1,2]}`))
	if err != nil {
		t.Fatalf("parseResponse: %v", err)
	}
	if r.isFeed() {
		t.Fatal("expected isFeed() to be false without a feed note")
	}
}

func TestResponseAsErrorDispatchesByType(t *testing.T) {
	cases := []struct {
		payload string
		check   func(error) bool
	}{
		{`{"t":16,"r":["bad client"]}`, func(e error) bool { _, ok := e.(*ClientError); return ok }},
		{`{"t":17,"r":["bad compile"]}`, func(e error) bool { _, ok := e.(*CompileError); return ok }},
		{`{"t":18,"r":["bad runtime"],"e":3100000}`, func(e error) bool {
			re, ok := e.(*RuntimeError)
			return ok && re.Type == ErrorTypeNonExistence
		}},
	}
	for _, c := range cases {
		r, err := parseResponse([]byte(c.payload))
		if err != nil {
			t.Fatalf("parseResponse: %v", err)
		}
		if !c.check(r.asError()) {
			t.Fatalf("unexpected error for payload %s: %v", c.payload, r.asError())
		}
	}
}

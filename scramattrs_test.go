package reql

import "testing"

func TestParseScramAttrsServerFirst(t *testing.T) {
	input := "r=rOprNGfwEbeRWgbNEkqOMYE6M6.cpSB2pj1ZnqX,s=W22ZaJ0SNY7soEsUEjb6gQ==,i=4096"
	a, err := parseScramAttrs(input)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if !a.hasNonce || a.nonce != "rOprNGfwEbeRWgbNEkqOMYE6M6.cpSB2pj1ZnqX" {
		t.Fatalf("unexpected nonce: %+v", a)
	}
	if !a.hasIters || a.iters != 4096 {
		t.Fatalf("unexpected iteration count: %+v", a)
	}
	if !a.hasSalt || len(a.salt) != 16 {
		t.Fatalf("unexpected salt: %+v", a)
	}
	if a.raw != input {
		t.Fatalf("raw should be preserved verbatim, got %q", a.raw)
	}
}

func TestParseScramAttrsRejectsMField(t *testing.T) {
	_, err := parseScramAttrs("m=foo,r=bar")
	if err == nil {
		t.Fatal("expected an error for the m field")
	}
	if _, ok := err.(*AuthError); !ok {
		t.Fatalf("expected *AuthError, got %T", err)
	}
}

func TestParseScramAttrsIgnoresUnknownKeys(t *testing.T) {
	a, err := parseScramAttrs("r=abc,x=ignored,i=4096,s=c2FsdA==")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if a.nonce != "abc" {
		t.Fatalf("unexpected nonce: %q", a.nonce)
	}
}

func TestSASLUsernameQuoting(t *testing.T) {
	quoted := quoteSASLUsername("a=b,c")
	if quoted != "a=3Db=2Cc" {
		t.Fatalf("unexpected quoting: %q", quoted)
	}
	if unquoteSASLUsername(quoted) != "a=b,c" {
		t.Fatalf("round trip failed: %q", unquoteSASLUsername(quoted))
	}
}

func TestParseScramAttrsStringRoundTripsRawBytes(t *testing.T) {
	input := "r=rOprNGfwEbeRWgbNEkqOMYE6M6.cpSB2pj1ZnqX,s=W22ZaJ0SNY7soEsUEjb6gQ==,i=4096"
	a, err := parseScramAttrs(input)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if got := a.String(); got != input {
		t.Fatalf("String() = %q, want the exact parsed input %q", got, input)
	}
}

func TestParseScramAttrsStringRoundTripsEmptyInput(t *testing.T) {
	a, err := parseScramAttrs("")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if got := a.String(); got != "" {
		t.Fatalf("String() = %q, want empty string preserved verbatim", got)
	}
}

func TestScramAttrsStringFixedOrder(t *testing.T) {
	a := &scramAttrs{
		hasProof: true, proof: "PROOF",
		hasNonce: true, nonce: "NONCE",
		hasChannel: true, channel: "biws",
	}
	got := a.String()
	want := "r=NONCE,c=biws,p=PROOF"
	if got != want {
		t.Fatalf("String() = %q, want %q", got, want)
	}
}

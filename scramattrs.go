package reql

import "strings"

// scramAttrs is a parsed SCRAM attribute list: a comma-separated sequence of
// "key=value" pairs as defined by RFC 5802 §5.1. Parsing never renormalizes
// the input: raw holds the exact bytes the list was parsed from, so a
// caller that needs byte-identical material for an AuthMessage (see the
// spec's open question about toString()) can use it instead of re-emitting
// the fields.
type scramAttrs struct {
	raw    string
	parsed bool // true iff raw came from parseScramAttrs, even if raw == ""

	username string // n
	nonce    string // r
	salt     []byte // s
	iters    int    // i
	channel  string // c, base64 channel-binding data (opaque to us)
	proof    string // p, base64
	verifier string // v, base64

	hasUsername bool
	hasNonce    bool
	hasSalt     bool
	hasIters    bool
	hasChannel  bool
	hasProof    bool
	hasVerifier bool
}

// parseScramAttrs splits a SCRAM attribute list on "," and each section once
// on "=". Unknown keys are ignored. The "m" key is a mandatory extension
// marker the client doesn't understand; per RFC 5802 §5.1, its presence is
// fatal.
func parseScramAttrs(input string) (*scramAttrs, error) {
	a := &scramAttrs{raw: input, parsed: true}
	for _, part := range strings.Split(input, ",") {
		key, value, ok := strings.Cut(part, "=")
		if !ok {
			continue
		}
		switch key {
		case "m":
			return nil, &AuthError{Message: "m field disallowed"}
		case "n":
			a.username, a.hasUsername = unquoteSASLUsername(value), true
		case "r":
			a.nonce, a.hasNonce = value, true
		case "s":
			salt, err := base64Decode(value)
			if err != nil {
				return nil, &AuthError{Message: "invalid base64 in SCRAM salt", Cause: err}
			}
			a.salt, a.hasSalt = salt, true
		case "i":
			n, err := parseNonNegativeInt(value)
			if err != nil {
				return nil, &AuthError{Message: "invalid SCRAM iteration count", Cause: err}
			}
			a.iters, a.hasIters = n, true
		case "c":
			a.channel, a.hasChannel = value, true
		case "p":
			a.proof, a.hasProof = value, true
		case "v":
			verifier, err := base64Decode(value)
			if err != nil {
				return nil, &AuthError{Message: "invalid base64 in SCRAM verifier", Cause: err}
			}
			_ = verifier
			a.verifier, a.hasVerifier = value, true
		}
	}
	return a, nil
}

func parseNonNegativeInt(s string) (int, error) {
	n := 0
	if s == "" {
		return 0, errInvalidInt
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return 0, errInvalidInt
		}
		n = n*10 + int(r-'0')
	}
	return n, nil
}

var errInvalidInt = &AuthError{Message: "not a valid non-negative integer"}

// String returns the exact bytes the list was parsed from, if it was
// parsed. An attribute list built fresh by the client (never parsed) emits
// its set fields instead, in the fixed order n,r,c,p used by the
// client-first/client-final normalized forms.
func (a *scramAttrs) String() string {
	if a.parsed {
		return a.raw
	}
	var parts []string
	if a.hasUsername {
		parts = append(parts, "n="+quoteSASLUsername(a.username))
	}
	if a.hasNonce {
		parts = append(parts, "r="+a.nonce)
	}
	if a.hasChannel {
		parts = append(parts, "c="+a.channel)
	}
	if a.hasProof {
		parts = append(parts, "p="+a.proof)
	}
	return strings.Join(parts, ",")
}

// quoteSASLUsername escapes '=' and ',' per RFC 5802 §5.1: "=" becomes
// "=3D" and "," becomes "=2C". Order matters — '=' must be escaped first,
// or the literal "=3D"/"=2C" produced for a comma/equals would itself be
// re-escaped.
func quoteSASLUsername(u string) string {
	u = strings.ReplaceAll(u, "=", "=3D")
	u = strings.ReplaceAll(u, ",", "=2C")
	return u
}

func unquoteSASLUsername(u string) string {
	u = strings.ReplaceAll(u, "=2C", ",")
	u = strings.ReplaceAll(u, "=3D", "=")
	return u
}

package reql

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/crypto/pbkdf2"
	"golang.org/x/sync/singleflight"
)

// minPBKDF2Iterations enforces a floor on the server-supplied iteration
// count. The source driver trusts whatever the server sends; we don't, per
// the redesign flag in the spec's open questions.
const minPBKDF2Iterations = 4096

func sha256Sum(b []byte) [32]byte {
	return sha256.Sum256(b)
}

func hmacSHA256(key, msg []byte) []byte {
	mac := hmac.New(sha256.New, key)
	mac.Write(msg)
	return mac.Sum(nil)
}

// xorBytes XORs a and b, which must be the same length, and returns a new
// slice. It does not run in variable time with respect to the bytes
// themselves (only their equality is security-sensitive here, and that's
// checked separately with subtle.ConstantTimeCompare).
func xorBytes(a, b []byte) ([]byte, error) {
	if len(a) != len(b) {
		return nil, fmt.Errorf("reql: xor operands have different lengths (%d != %d)", len(a), len(b))
	}
	out := make([]byte, len(a))
	for i := range a {
		out[i] = a[i] ^ b[i]
	}
	return out, nil
}

func base64Encode(b []byte) string {
	return base64.StdEncoding.EncodeToString(b)
}

func base64Decode(s string) ([]byte, error) {
	return base64.StdEncoding.DecodeString(s)
}

// randomNonce returns a base64-encoded cryptographically random nonce of n
// raw bytes (the SCRAM client nonce; RFC 7677 examples use 18).
func randomNonce(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("reql: reading random nonce: %w", err)
	}
	return base64Encode(buf), nil
}

// pbkdf2Cache is the bounded, deduplicated cache of SaltedPassword derivations
// used by Crypto.SaltedPassword. Re-authenticating many pooled
// connections against the same user/password/salt/iterations would
// otherwise redo an expensive KDF once per connection.
type pbkdf2Cache struct {
	cache *lru.Cache[pbkdf2CacheKey, []byte]
	group singleflight.Group
}

type pbkdf2CacheKey struct {
	password   string
	salt       string
	iterations int
}

func newPBKDF2Cache(size int) *pbkdf2Cache {
	c, err := lru.New[pbkdf2CacheKey, []byte](size)
	if err != nil {
		// size <= 0 is the only failure mode; fall back to a 1-entry cache
		// rather than propagating a constructor error for a pure
		// optimization.
		c, _ = lru.New[pbkdf2CacheKey, []byte](1)
	}
	return &pbkdf2Cache{cache: c}
}

// Crypto bundles the primitives SCRAM authentication needs. It holds no
// state beyond the bounded PBKDF2 derivation cache.
type Crypto struct {
	cache *pbkdf2Cache
}

// defaultPBKDF2CacheSize bounds the SaltedPassword cache per the spec: at
// most 64 entries, LRU-evicted.
const defaultPBKDF2CacheSize = 64

// NewCrypto returns a Crypto with the default-sized derivation cache.
func NewCrypto() *Crypto {
	return &Crypto{cache: newPBKDF2Cache(defaultPBKDF2CacheSize)}
}

// SaltedPassword computes PBKDF2-HMAC-SHA256(password, salt, iterations, 32),
// serving repeat (password, salt, iterations) triples from a bounded cache
// and collapsing concurrent misses for the same triple into one derivation.
func (c *Crypto) SaltedPassword(password string, salt []byte, iterations int) ([]byte, error) {
	if iterations < minPBKDF2Iterations {
		return nil, &AuthError{Message: fmt.Sprintf("server-supplied PBKDF2 iteration count %d is below the minimum of %d", iterations, minPBKDF2Iterations)}
	}

	key := pbkdf2CacheKey{password: password, salt: string(salt), iterations: iterations}
	if v, ok := c.cache.cache.Get(key); ok {
		return v, nil
	}

	cacheKey := fmt.Sprintf("%s\x00%s\x00%d", password, salt, iterations)
	v, err, _ := c.cache.group.Do(cacheKey, func() (any, error) {
		derived := pbkdf2.Key([]byte(password), salt, iterations, sha256.Size, sha256.New)
		c.cache.cache.Add(key, derived)
		return derived, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]byte), nil
}

// ClientProof computes ClientKey/StoredKey/ClientSignature/ClientProof per
// RFC 5802 §3, specialized to SHA-256.
func ClientProof(saltedPassword, authMessage []byte) []byte {
	clientKey := hmacSHA256(saltedPassword, []byte("Client Key"))
	storedKey := sha256Sum(clientKey)
	clientSignature := hmacSHA256(storedKey[:], authMessage)
	proof, _ := xorBytes(clientKey, clientSignature) // same length by construction
	return proof
}

// ServerSignature computes ServerKey/ServerSignature per RFC 5802 §3.
func ServerSignature(saltedPassword, authMessage []byte) []byte {
	serverKey := hmacSHA256(saltedPassword, []byte("Server Key"))
	return hmacSHA256(serverKey, authMessage)
}

// constantTimeEqual reports whether a and b are byte-for-byte identical,
// without leaking timing information about the first mismatching byte.
func constantTimeEqual(a, b []byte) bool {
	return len(a) == len(b) && subtle.ConstantTimeCompare(a, b) == 1
}

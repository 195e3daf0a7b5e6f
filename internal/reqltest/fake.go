// Package reqltest provides an in-process fake ReQL server for exercising
// the driver's wire protocol without a real database: a TCP listener whose
// accepted connections are handed to a caller-supplied handler that reads
// and writes the same frames a real server would.
package reqltest

import (
	"bufio"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"net"

	"golang.org/x/crypto/pbkdf2"
)

// Magic is the little-endian V1_0 protocol magic the client is expected to
// send first.
const Magic uint32 = 0x34c2bdc3

// Fake is a TCP listener standing in for a ReQL server.
type Fake struct {
	Listener net.Listener
	Addr     string
}

// New starts listening on an OS-assigned loopback port.
func New() (*Fake, error) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return nil, err
	}
	return &Fake{Listener: l, Addr: l.Addr().String()}, nil
}

// Accept runs handle on the next accepted connection in a new goroutine.
func (f *Fake) Accept(handle func(net.Conn)) {
	go func() {
		conn, err := f.Listener.Accept()
		if err != nil {
			return
		}
		handle(conn)
	}()
}

func (f *Fake) Close() error {
	return f.Listener.Close()
}

// Conn wraps an accepted connection with the framing helpers a fake
// server's handler needs.
type Conn struct {
	net.Conn
	r *bufio.Reader
}

func NewConn(c net.Conn) *Conn {
	return &Conn{Conn: c, r: bufio.NewReader(c)}
}

// ReadMagic reads and validates the client's opening magic number.
func (c *Conn) ReadMagic() error {
	var buf [4]byte
	if _, err := io.ReadFull(c.r, buf[:]); err != nil {
		return err
	}
	if got := binary.LittleEndian.Uint32(buf[:]); got != Magic {
		return fmt.Errorf("reqltest: unexpected magic %#x", got)
	}
	return nil
}

// ReadHandshakeJSON reads one NUL-terminated JSON handshake message.
func (c *Conn) ReadHandshakeJSON(v any) error {
	line, err := c.r.ReadString(0)
	if err != nil {
		return err
	}
	return json.Unmarshal([]byte(line[:len(line)-1]), v)
}

// WriteHandshakeJSON writes v as JSON followed by a NUL terminator.
func (c *Conn) WriteHandshakeJSON(v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	b = append(b, 0)
	_, err = c.Write(b)
	return err
}

// ReadFrame reads one u64-token/u32-length/payload frame.
func (c *Conn) ReadFrame() (uint64, []byte, error) {
	var header [12]byte
	if _, err := io.ReadFull(c.r, header[:]); err != nil {
		return 0, nil, err
	}
	token := binary.LittleEndian.Uint64(header[0:8])
	length := binary.LittleEndian.Uint32(header[8:12])
	payload := make([]byte, length)
	if _, err := io.ReadFull(c.r, payload); err != nil {
		return 0, nil, err
	}
	return token, payload, nil
}

// WriteFrame writes one u64-token/u32-length/payload frame.
func (c *Conn) WriteFrame(token uint64, payload []byte) error {
	buf := make([]byte, 12+len(payload))
	binary.LittleEndian.PutUint64(buf[0:8], token)
	binary.LittleEndian.PutUint32(buf[8:12], uint32(len(payload)))
	copy(buf[12:], payload)
	_, err := c.Write(buf)
	return err
}

// ScramServer plays the server side of a SCRAM-SHA-256 handshake against a
// known password, to let connection tests authenticate against the fake
// without reimplementing the client's own crypto. Username is not compared
// with the name the client sends.
type ScramServer struct {
	Username   string
	Password   string
	Iterations int
}

// Handshake reads the client's magic and two-message SCRAM exchange and
// replies with success, or with a failure message when the client proof is
// wrong (returning nil unless writing that reply fails). It returns any
// other error encountered. Iterations defaults to 4096 if unset.
func (s *ScramServer) Handshake(c *Conn) error {
	if s.Iterations == 0 {
		s.Iterations = 4096
	}
	if err := c.ReadMagic(); err != nil {
		return err
	}

	var clientFirst struct {
		Authentication string `json:"authentication"`
	}
	if err := c.ReadHandshakeJSON(&clientFirst); err != nil {
		return err
	}
	clientFirstBare := clientFirst.Authentication[len("n,,"):]

	clientNonce, ok := extractField(clientFirstBare, "r")
	if !ok {
		return fmt.Errorf("reqltest: client-first missing nonce")
	}

	serverNonceSuffix := randomB64(18)
	serverNonce := clientNonce + serverNonceSuffix
	salt := randomBytes(16)
	saltB64 := base64.StdEncoding.EncodeToString(salt)

	serverFirst := fmt.Sprintf("r=%s,s=%s,i=%d", serverNonce, saltB64, s.Iterations)
	if err := c.WriteHandshakeJSON(map[string]any{
		"success":        true,
		"authentication": serverFirst,
	}); err != nil {
		return err
	}

	var clientFinal struct {
		Authentication string `json:"authentication"`
	}
	if err := c.ReadHandshakeJSON(&clientFinal); err != nil {
		return err
	}
	proofB64, ok := extractField(clientFinal.Authentication, "p")
	if !ok {
		return fmt.Errorf("reqltest: client-final missing proof")
	}
	clientFinalWithoutProof := clientFinal.Authentication[:len(clientFinal.Authentication)-len(",p="+proofB64)]

	saltedPassword := pbkdf2.Key([]byte(s.Password), salt, s.Iterations, sha256.Size, sha256.New)
	authMessage := []byte(clientFirstBare + "," + serverFirst + "," + clientFinalWithoutProof)

	clientKey := hmacSHA256(saltedPassword, []byte("Client Key"))
	storedKey := sha256.Sum256(clientKey)
	clientSignature := hmacSHA256(storedKey[:], authMessage)
	expectedProof := xor(clientKey, clientSignature)

	gotProof, err := base64.StdEncoding.DecodeString(proofB64)
	if err != nil {
		return err
	}
	if subtle.ConstantTimeCompare(gotProof, expectedProof) != 1 {
		return c.WriteHandshakeJSON(map[string]any{
			"success":    false,
			"error":      "invalid client proof",
			"error_code": 10,
		})
	}

	serverKey := hmacSHA256(saltedPassword, []byte("Server Key"))
	serverSignature := hmacSHA256(serverKey, authMessage)

	return c.WriteHandshakeJSON(map[string]any{
		"success":        true,
		"authentication": "v=" + base64.StdEncoding.EncodeToString(serverSignature),
	})
}

func extractField(attrs, key string) (string, bool) {
	prefix := key + "="
	start := -1
	for i := 0; i+len(prefix) <= len(attrs); i++ {
		if attrs[i:i+len(prefix)] == prefix && (i == 0 || attrs[i-1] == ',') {
			start = i + len(prefix)
			break
		}
	}
	if start < 0 {
		return "", false
	}
	end := len(attrs)
	for i := start; i < len(attrs); i++ {
		if attrs[i] == ',' {
			end = i
			break
		}
	}
	return attrs[start:end], true
}

func hmacSHA256(key, msg []byte) []byte {
	mac := hmac.New(sha256.New, key)
	mac.Write(msg)
	return mac.Sum(nil)
}

func xor(a, b []byte) []byte {
	out := make([]byte, len(a))
	for i := range a {
		out[i] = a[i] ^ b[i]
	}
	return out
}

func randomBytes(n int) []byte {
	b := make([]byte, n)
	rand.Read(b)
	return b
}

func randomB64(n int) string {
	return base64.StdEncoding.EncodeToString(randomBytes(n))
}

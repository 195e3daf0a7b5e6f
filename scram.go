package reql

import (
	"bufio"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
)

// handshakeMagic is the little-endian V1_0 protocol magic number.
const handshakeMagic uint32 = 0x34c2bdc3

// handshakeNonceBytes is the number of random bytes in the client nonce
// before base64 encoding (RFC 7677's own examples use 18).
const handshakeNonceBytes = 18

// handshake drives the V1.0 handshake state machine: SendMagic, SendClientFirst,
// RecvServerFirst, SendClientFinal, RecvServerFinal. It owns no connection
// state beyond the raw reader/writer; on success it returns nothing (the
// socket is ready for framed queries), on failure it returns an *AuthError
// and leaves the socket for the caller to close.
type handshake struct {
	w        io.Writer
	r        *bufio.Reader
	username string
	password string
	crypto   *Crypto
}

func newHandshake(rw io.ReadWriter, username, password string, crypto *Crypto) *handshake {
	if crypto == nil {
		crypto = NewCrypto()
	}
	return &handshake{w: rw, r: bufio.NewReader(rw), username: username, password: password, crypto: crypto}
}

type handshakeRequest struct {
	ProtocolVersion      int    `json:"protocol_version,omitempty"`
	AuthenticationMethod string `json:"authentication_method,omitempty"`
	Authentication       string `json:"authentication"`
}

type handshakeResponse struct {
	Success        bool   `json:"success"`
	Authentication string `json:"authentication"`
	Error          string `json:"error"`
	ErrorCode      int    `json:"error_code"`
	MinVersion     int    `json:"min_protocol_version"`
	MaxVersion     int    `json:"max_protocol_version"`
}

// run executes the full handshake over h.w/h.r.
func (h *handshake) run() error {
	if err := h.sendMagic(); err != nil {
		return err
	}

	nonce, err := randomNonce(handshakeNonceBytes)
	if err != nil {
		return &AuthError{Message: "generating client nonce", Cause: err}
	}
	clientFirstBare := "n=" + quoteSASLUsername(h.username) + ",r=" + nonce

	if err := h.sendClientFirst(clientFirstBare); err != nil {
		return err
	}

	serverFirst, attrs, err := h.recvServerFirst(nonce)
	if err != nil {
		return err
	}

	saltedPassword, err := h.crypto.SaltedPassword(h.password, attrs.salt, attrs.iters)
	if err != nil {
		return err
	}

	clientFinalWithoutProof := "c=biws,r=" + attrs.nonce
	authMessage := []byte(clientFirstBare + "," + serverFirst + "," + clientFinalWithoutProof)

	clientKey := hmacSHA256(saltedPassword, []byte("Client Key"))
	storedKey := sha256Sum(clientKey)
	clientSignature := hmacSHA256(storedKey[:], authMessage)
	clientProof, err := xorBytes(clientKey, clientSignature)
	if err != nil {
		return &AuthError{Message: "computing client proof", Cause: err}
	}

	expectedServerSignature := ServerSignature(saltedPassword, authMessage)

	clientFinal := clientFinalWithoutProof + ",p=" + base64Encode(clientProof)
	if err := h.sendClientFinal(clientFinal); err != nil {
		return err
	}

	return h.recvServerFinal(expectedServerSignature)
}

func (h *handshake) sendMagic() error {
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], handshakeMagic)
	if _, err := h.w.Write(buf[:]); err != nil {
		return &AuthError{Message: "writing protocol magic", Cause: err}
	}
	return nil
}

func (h *handshake) sendClientFirst(clientFirstBare string) error {
	req := handshakeRequest{
		ProtocolVersion:      0,
		AuthenticationMethod: "SCRAM-SHA-256",
		Authentication:       "n,," + clientFirstBare,
	}
	return h.sendJSON(req)
}

func (h *handshake) recvServerFirst(clientNonce string) (string, *scramAttrs, error) {
	resp, err := h.recvJSON()
	if err != nil {
		return "", nil, err
	}
	if !resp.Success {
		return "", nil, &AuthError{Message: fmt.Sprintf("%s (code %d)", resp.Error, resp.ErrorCode)}
	}

	attrs, err := parseScramAttrs(resp.Authentication)
	if err != nil {
		return "", nil, err
	}
	if !attrs.hasNonce || !attrs.hasSalt || !attrs.hasIters {
		return "", nil, &AuthError{Message: "server-first-message missing required field"}
	}
	if len(attrs.nonce) <= len(clientNonce) || attrs.nonce[:len(clientNonce)] != clientNonce {
		return "", nil, &AuthError{Message: "server nonce does not extend client nonce"}
	}

	return resp.Authentication, attrs, nil
}

func (h *handshake) sendClientFinal(authentication string) error {
	return h.sendJSON(handshakeRequest{Authentication: authentication})
}

func (h *handshake) recvServerFinal(expectedServerSignature []byte) error {
	resp, err := h.recvJSON()
	if err != nil {
		return err
	}
	if !resp.Success {
		return &AuthError{Message: fmt.Sprintf("%s (code %d)", resp.Error, resp.ErrorCode)}
	}

	attrs, err := parseScramAttrs(resp.Authentication)
	if err != nil {
		return err
	}
	if !attrs.hasVerifier {
		return &AuthError{Message: "server-final-message missing verifier"}
	}
	gotSignature, err := base64Decode(attrs.verifier)
	if err != nil {
		return &AuthError{Message: "invalid base64 in server signature", Cause: err}
	}
	if !constantTimeEqual(gotSignature, expectedServerSignature) {
		return &AuthError{Message: "invalid server signature"}
	}
	return nil
}

func (h *handshake) sendJSON(v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return &AuthError{Message: "encoding handshake message", Cause: err}
	}
	b = append(b, 0)
	if _, err := h.w.Write(b); err != nil {
		return &AuthError{Message: "writing handshake message", Cause: err}
	}
	return nil
}

// recvJSON reads a NUL-terminated JSON handshake message. Handshake messages
// are NUL-delimited, not length-prefixed like query frames, so this reads
// through h.r rather than the frame codec.
func (h *handshake) recvJSON() (*handshakeResponse, error) {
	line, err := h.r.ReadString(0)
	if err != nil {
		return nil, &AuthError{Message: "reading handshake message", Cause: err}
	}
	line = line[:len(line)-1] // trim the NUL terminator

	var resp handshakeResponse
	if err := json.Unmarshal([]byte(line), &resp); err != nil {
		return nil, &AuthError{Message: "decoding handshake message", Cause: err}
	}
	return &resp, nil
}

// reader returns the buffered reader the handshake consumed from the
// socket, so the caller can keep using it afterward instead of wrapping the
// connection in a second bufio.Reader and losing any bytes already
// buffered past the handshake.
func (h *handshake) reader() *bufio.Reader {
	return h.r
}

package reql

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"net"
	"testing"
	"time"

	"github.com/go-reql/reql/internal/reqltest"
)

// serveOneQuery drives one accepted connection through a SCRAM handshake
// and a single scripted query/response exchange, for tests that exercise
// Connection.Run end to end.
func serveOneQuery(t *testing.T, respond func(token uint64, query []any) []byte) *reqltest.Fake {
	t.Helper()
	fake, err := reqltest.New()
	if err != nil {
		t.Fatalf("starting fake server: %v", err)
	}
	t.Cleanup(func() { fake.Close() })

	fake.Accept(func(c net.Conn) {
		defer c.Close()
		fc := reqltest.NewConn(c)
		s := &reqltest.ScramServer{Username: "user", Password: "pencil"}
		if err := s.Handshake(fc); err != nil {
			return
		}

		token, payload, err := fc.ReadFrame()
		if err != nil {
			return
		}
		var q []any
		if err := json.Unmarshal(payload, &q); err != nil {
			return
		}

		fc.WriteFrame(token, respond(token, q))
	})
	return fake
}

func dialAndConnect(t *testing.T, addr string) *Connection {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	conn, err := Connect(ctx, Config{Address: addr, Username: "user", Password: "pencil"})
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	t.Cleanup(func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		conn.Close(closeCtx)
	})
	return conn
}

// TestConnectionRunAtomResponse covers scenario S4: an atom response
// decodes to a plain value, not a cursor.
func TestConnectionRunAtomResponse(t *testing.T) {
	fake := serveOneQuery(t, func(token uint64, q []any) []byte {
		return []byte(`{"t":1,"r":[42]}`)
	})
	conn := dialAndConnect(t, fake.Addr)

	result, err := conn.Run(context.Background(), literalTerm{value: []any{1}}, nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if v, ok := result.(float64); !ok || v != 42 {
		t.Fatalf("result = %v (%T), want 42", result, result)
	}
}

// TestConnectionRunErrorResponse covers a RUNTIME_ERROR reply failing the
// waiter with the right typed error.
func TestConnectionRunErrorResponse(t *testing.T) {
	fake := serveOneQuery(t, func(token uint64, q []any) []byte {
		return []byte(`{"t":18,"r":["no such table"],"e":3100000}`)
	})
	conn := dialAndConnect(t, fake.Addr)

	_, err := conn.Run(context.Background(), literalTerm{value: []any{1}}, nil)
	re, ok := err.(*RuntimeError)
	if !ok {
		t.Fatalf("err = %v (%T), want *RuntimeError", err, err)
	}
	if re.Type != ErrorTypeNonExistence {
		t.Fatalf("err.Type = %v, want ErrorTypeNonExistence", re.Type)
	}
}

// TestConnectionRunReturnsCursorForPartial covers the SUCCESS_PARTIAL
// branch of run's classification rule. The test never reads from the
// cursor, so no CONTINUE is sent and the fake server doesn't need to answer
// one.
func TestConnectionRunReturnsCursorForPartial(t *testing.T) {
	fake := serveOneQuery(t, func(token uint64, q []any) []byte {
		return []byte(`{"t":3,"r":[1,2]}`)
	})
	conn := dialAndConnect(t, fake.Addr)

	result, err := conn.Run(context.Background(), literalTerm{value: []any{1}}, nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	cur, ok := result.(*Cursor)
	if !ok {
		t.Fatalf("result = %T, want *Cursor", result)
	}
	if cur.IsFeed() {
		t.Fatal("non-feed partial response should not produce a feed cursor")
	}
}

// serveTwoFrames drives one accepted connection through a handshake, reads
// the client's single START frame, then writes both response frames back to
// back without waiting for a CONTINUE. The second frame is already on the
// wire, racing the Run() caller's goroutine, before that caller has had any
// chance to register the cursor a synchronous handleRunResponse path would
// expect.
func serveTwoFrames(t *testing.T, first, second []byte) *reqltest.Fake {
	t.Helper()
	fake, err := reqltest.New()
	if err != nil {
		t.Fatalf("starting fake server: %v", err)
	}
	t.Cleanup(func() { fake.Close() })

	fake.Accept(func(c net.Conn) {
		defer c.Close()
		fc := reqltest.NewConn(c)
		s := &reqltest.ScramServer{Username: "user", Password: "pencil"}
		if err := s.Handshake(fc); err != nil {
			return
		}

		token, _, err := fc.ReadFrame()
		if err != nil {
			return
		}
		if err := fc.WriteFrame(token, first); err != nil {
			return
		}
		fc.WriteFrame(token, second)
	})
	return fake
}

// TestConnectionCursorHandoffAcrossFrames covers scenario S5 end to end
// through the real Connection/readLoop path, with both response frames
// already written before the client goroutine gets a chance to run — this
// is exactly the race the first-PARTIAL-to-cursor handoff in deliver must
// win: the second frame (SUCCESS_SEQUENCE) must reach the cursor, not a
// stale pending waiter.
func TestConnectionCursorHandoffAcrossFrames(t *testing.T) {
	fake := serveTwoFrames(t,
		[]byte(`{"t":3,"r":[1,2]}`),
		[]byte(`{"t":2,"r":[3]}`),
	)
	conn := dialAndConnect(t, fake.Addr)

	result, err := conn.Run(context.Background(), literalTerm{value: []any{1}}, nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	cur, ok := result.(*Cursor)
	if !ok {
		t.Fatalf("result = %T, want *Cursor", result)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	var got []float64
	for {
		var v any
		err := cur.Next(ctx, &v)
		if err == ErrCursorEnd {
			break
		}
		if err != nil {
			t.Fatalf("Next: %v", err)
		}
		got = append(got, v.(float64))
	}
	want := []float64{1, 2, 3}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v, want %v", got, want)
		}
	}
}

func TestConnectionMagicConstantRoundTrips(t *testing.T) {
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], handshakeMagic)
	if binary.LittleEndian.Uint32(buf[:]) != handshakeMagic {
		t.Fatal("magic constant didn't round trip")
	}
}

package reql

import (
	"context"
	"encoding/json"
	"net"
	"testing"
	"time"

	"github.com/go-reql/reql/internal/reqltest"
)

// serveQueries runs a fake server that answers every frame it receives with
// {"t":1,"r":[true]} until the connection closes. Several Accept calls are
// queued up front so both of the pool's initial connections land a handler.
func serveQueries(t *testing.T, n int) *reqltest.Fake {
	t.Helper()
	fake, err := reqltest.New()
	if err != nil {
		t.Fatalf("starting fake server: %v", err)
	}
	t.Cleanup(func() { fake.Close() })

	for i := 0; i < n; i++ {
		fake.Accept(func(c net.Conn) {
			defer c.Close()
			fc := reqltest.NewConn(c)
			s := &reqltest.ScramServer{Username: "user", Password: "pencil"}
			if err := s.Handshake(fc); err != nil {
				return
			}
			for {
				token, payload, err := fc.ReadFrame()
				if err != nil {
					return
				}
				var q []any
				if err := json.Unmarshal(payload, &q); err != nil {
					return
				}
				if err := fc.WriteFrame(token, []byte(`{"t":1,"r":[true]}`)); err != nil {
					return
				}
			}
		})
	}
	return fake
}

func TestPoolRunDispatchesAndCloses(t *testing.T) {
	fake := serveQueries(t, 2)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	pool, err := NewPool(ctx, Config{Address: fake.Addr, Username: "user", Password: "pencil"}, 2)
	if err != nil {
		t.Fatalf("NewPool: %v", err)
	}

	for i := 0; i < 4; i++ {
		result, err := pool.Run(context.Background(), literalTerm{value: []any{1}}, nil)
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
		if result != true {
			t.Fatalf("result = %v, want true", result)
		}
	}

	closeCtx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := pool.Close(closeCtx); err != nil {
		t.Fatalf("Close: %v", err)
	}
}

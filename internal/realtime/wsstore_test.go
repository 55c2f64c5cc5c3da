package realtime

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

func newGatewayServer(t *testing.T, store Store, policy Policy) *httptest.Server {
	t.Helper()
	gw := NewGateway(store, policy, zerolog.Nop())
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		gw.Serve(r.Context(), conn)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestWSStoreContract(t *testing.T) {
	// Transact is server-only, so the contract runs against a store the
	// client shares with a local writer for that one case.
	mem := NewMemoryStore()
	srv := newGatewayServer(t, mem, AllowAll{})
	client := NewWSStore(wsURL(srv), nil, zerolog.Nop())
	defer client.Close()

	storeContract(t, transactVia{Store: client, tx: mem})
}

type transactVia struct {
	Store
	tx Store
}

func (s transactVia) Transact(ctx context.Context, path string, fn func(any) (any, error)) error {
	return s.tx.Transact(ctx, path, fn)
}

func TestWSStoreTransactUnsupported(t *testing.T) {
	srv := newGatewayServer(t, NewMemoryStore(), AllowAll{})
	client := NewWSStore(wsURL(srv), nil, zerolog.Nop())
	defer client.Close()

	err := client.Transact(context.Background(), "sessionCodes/X", func(any) (any, error) { return 1, nil })
	if !errors.Is(err, errors.ErrUnsupported) {
		t.Errorf("err = %v, want ErrUnsupported", err)
	}
}

func TestStudentPolicyOverGateway(t *testing.T) {
	mem := NewMemoryStore()
	ctx := context.Background()
	_ = mem.Set(ctx, "sessions/s1", map[string]any{"isActive": true})
	srv := newGatewayServer(t, mem, StudentPolicy{})
	client := NewWSStore(wsURL(srv), nil, zerolog.Nop())
	defer client.Close()

	if err := client.Update(ctx, "sessions/s1/students/a", map[string]any{
		"isOnline":     true,
		"responses/q1": map[string]any{"slideId": "q1", "isCorrect": nil},
	}); err != nil {
		t.Fatalf("own sub-record write: %v", err)
	}

	forbidden := []func() error{
		func() error { return client.Set(ctx, "sessions/s1/isActive", true) },
		func() error { return client.Update(ctx, "sessions/s1", map[string]any{"currentSlideIndex": 3}) },
		func() error {
			return client.Update(ctx, "sessions/s1/students/a", map[string]any{"responses/q1/isCorrect": true})
		},
		func() error { return client.Set(ctx, "sessions/s1/students/a/responses/q1/points", 5) },
		func() error { _, err := client.Get(ctx, "teachers/1"); return err },
	}
	for i, op := range forbidden {
		if err := op(); !errors.Is(err, ErrForbidden) {
			t.Errorf("op %d: err = %v, want ErrForbidden", i, err)
		}
	}

	if v, _ := mem.Get(ctx, "sessions/s1/isActive"); v != true {
		t.Errorf("isActive changed to %v", v)
	}
}

// A student rewriting a graded response, the whole responses map or the
// whole record cannot change the teacher's verdict or drop the response.
func TestStudentPolicyKeepsEvaluations(t *testing.T) {
	mem := NewMemoryStore()
	ctx := context.Background()
	_ = mem.Set(ctx, "sessions/s1", map[string]any{
		"isActive": true,
		"students": map[string]any{"x": map[string]any{
			"displayName": "Jana",
			"responses": map[string]any{
				"q1": map[string]any{"slideId": "q1", "answer": "b", "isCorrect": false, "points": 0},
			},
		}},
	})
	srv := newGatewayServer(t, mem, StudentPolicy{})
	client := NewWSStore(wsURL(srv), nil, zerolog.Nop())
	defer client.Close()

	forged := map[string]any{"slideId": "q1", "answer": "a", "isCorrect": true, "points": 100}
	writes := []struct {
		name string
		op   func() error
	}{
		{"single response", func() error {
			return client.Update(ctx, "sessions/s1/students/x", map[string]any{"responses/q1": forged})
		}},
		{"responses map", func() error {
			return client.Update(ctx, "sessions/s1/students/x", map[string]any{"responses": map[string]any{"q1": forged}})
		}},
		{"whole record", func() error {
			return client.Set(ctx, "sessions/s1/students/x", map[string]any{"displayName": "Jana", "responses": map[string]any{"q1": forged}})
		}},
		{"response path", func() error { return client.Set(ctx, "sessions/s1/students/x/responses/q1", forged) }},
		{"removal", func() error { return client.Update(ctx, "sessions/s1/students/x", map[string]any{"responses/q1": nil}) }},
	}
	for _, w := range writes {
		if err := w.op(); err != nil {
			t.Fatalf("%s: %v", w.name, err)
		}
		v, _ := mem.Get(ctx, "sessions/s1/students/x/responses/q1")
		resp, ok := v.(map[string]any)
		if !ok {
			t.Fatalf("%s: response removed", w.name)
		}
		if resp["isCorrect"] != false || resp["points"] != 0.0 {
			t.Errorf("%s: evaluation = %v/%v", w.name, resp["isCorrect"], resp["points"])
		}
	}

	// New responses still carry the device's own grading.
	if err := client.Update(ctx, "sessions/s1/students/x", map[string]any{
		"responses/q2": map[string]any{"slideId": "q2", "isCorrect": true, "points": 1},
	}); err != nil {
		t.Fatalf("new response: %v", err)
	}
	if v, _ := mem.Get(ctx, "sessions/s1/students/x/responses/q2/isCorrect"); v != true {
		t.Errorf("new response isCorrect = %v", v)
	}
}

func TestWSStoreTouchOverGateway(t *testing.T) {
	mem := NewMemoryStore()
	ctx := context.Background()
	_ = mem.Set(ctx, "sessions/s1/students/a", map[string]any{"displayName": "Jana"})
	srv := newGatewayServer(t, mem, StudentPolicy{})
	client := NewWSStore(wsURL(srv), nil, zerolog.Nop())
	defer client.Close()

	if err := client.Touch(ctx, "sessions/s1/students/a", map[string]any{"isOnline": true}); err != nil {
		t.Fatalf("touch: %v", err)
	}
	if err := client.Touch(ctx, "sessions/s1/students/b", map[string]any{"isOnline": true}); !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
	if v, _ := mem.Get(ctx, "sessions/s1/students/b"); v != nil {
		t.Errorf("record created: %v", v)
	}
}

func TestWSStoreResubscribesAfterReconnect(t *testing.T) {
	mem := NewMemoryStore()
	ctx := context.Background()
	_ = mem.Set(ctx, "sessions/s1/currentSlideIndex", 0)

	gw := NewGateway(mem, AllowAll{}, zerolog.Nop())
	upgrader := websocket.Upgrader{}
	conns := make(chan *websocket.Conn, 4)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		conns <- conn
		gw.Serve(r.Context(), conn)
	}))
	defer srv.Close()

	client := NewWSStore(wsURL(srv), nil, zerolog.Nop())
	defer client.Close()
	links := make(chan bool, 8)
	client.OnConnectionChange(func(online bool) { links <- online })

	rec := newRecorder()
	unsub, err := client.Subscribe(ctx, "sessions/s1", rec.fn)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer unsub()
	rec.next(t)

	if up := waitLink(t, links); !up {
		t.Fatal("expected online notification")
	}

	// Drop the server side of the first connection.
	(<-conns).Close()
	if up := waitLink(t, links); up {
		t.Fatal("expected offline notification")
	}
	if up := waitLink(t, links); !up {
		t.Fatal("expected client to come back online")
	}
	rec.next(t) // snapshot replayed by the resubscribe

	_ = mem.Set(ctx, "sessions/s1/currentSlideIndex", 2)
	for {
		v := rec.next(t).(map[string]any)
		if v["currentSlideIndex"] == 2.0 {
			break
		}
	}
}

func waitLink(t *testing.T, ch <-chan bool) bool {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for connection change")
		return false
	}
}

func TestWSStoreClosed(t *testing.T) {
	srv := newGatewayServer(t, NewMemoryStore(), AllowAll{})
	client := NewWSStore(wsURL(srv), nil, zerolog.Nop())
	_ = client.Close()

	if _, err := client.Get(context.Background(), "sessions/s1"); !errors.Is(err, ErrClosed) {
		t.Errorf("err = %v, want ErrClosed", err)
	}
}

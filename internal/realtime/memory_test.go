package realtime

import (
	"context"
	"errors"
	"testing"
	"time"
)

// recorder collects subscription deliveries.
type recorder struct {
	ch chan any
}

func newRecorder() *recorder { return &recorder{ch: make(chan any, 64)} }

func (r *recorder) fn(v any) { r.ch <- v }

func (r *recorder) next(t *testing.T) any {
	t.Helper()
	select {
	case v := <-r.ch:
		return v
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for delivery")
		return nil
	}
}

func (r *recorder) quiet(t *testing.T, d time.Duration) {
	t.Helper()
	select {
	case v := <-r.ch:
		t.Fatalf("unexpected delivery: %v", v)
	case <-time.After(d):
	}
}

// storeContract runs the behaviour every Store implementation shares.
func storeContract(t *testing.T, s Store) {
	ctx := context.Background()

	if err := s.Set(ctx, "sessions/s1", map[string]any{
		"isActive": true,
		"students": map[string]any{"a": map[string]any{"displayName": "Jana"}},
	}); err != nil {
		t.Fatalf("set: %v", err)
	}

	t.Run("field merge keeps siblings", func(t *testing.T) {
		if err := s.Update(ctx, "sessions/s1/students/a", map[string]any{
			"isOnline":      true,
			"responses/q1":  map[string]any{"answer": "b"},
			"missing/field": nil,
		}); err != nil {
			t.Fatalf("update: %v", err)
		}
		v, err := s.Get(ctx, "sessions/s1/students/a")
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		m := v.(map[string]any)
		if m["displayName"] != "Jana" || m["isOnline"] != true {
			t.Errorf("student = %v", m)
		}
		if _, ok := m["missing"]; ok {
			t.Errorf("nil field should not create parents: %v", m)
		}
	})

	t.Run("collection read", func(t *testing.T) {
		if err := s.Set(ctx, "sessions/s2/isActive", false); err != nil {
			t.Fatalf("set: %v", err)
		}
		v, err := s.Get(ctx, "sessions")
		if err != nil {
			t.Fatalf("get collection: %v", err)
		}
		m, ok := v.(map[string]any)
		if !ok || len(m) != 2 {
			t.Fatalf("collection = %v", v)
		}
	})

	t.Run("collection writes rejected", func(t *testing.T) {
		if err := s.Set(ctx, "sessions", nil); !errors.Is(err, ErrCollectionWrite) {
			t.Errorf("err = %v, want ErrCollectionWrite", err)
		}
	})

	t.Run("missing value is nil", func(t *testing.T) {
		v, err := s.Get(ctx, "sessions/nope")
		if err != nil || v != nil {
			t.Errorf("got %v, %v", v, err)
		}
	})

	t.Run("touch never recreates a missing value", func(t *testing.T) {
		if err := s.Touch(ctx, "sessions/s1/students/a", map[string]any{"lastSeenAt": 7}); err != nil {
			t.Fatalf("touch existing: %v", err)
		}
		if v, _ := s.Get(ctx, "sessions/s1/students/a/lastSeenAt"); v != 7.0 {
			t.Errorf("lastSeenAt = %v", v)
		}

		err := s.Touch(ctx, "sessions/s1/students/ghost", map[string]any{"isOnline": true})
		if !errors.Is(err, ErrNotFound) {
			t.Errorf("err = %v, want ErrNotFound", err)
		}
		if v, _ := s.Get(ctx, "sessions/s1/students/ghost"); v != nil {
			t.Errorf("ghost record created: %v", v)
		}
		if err := s.Touch(ctx, "sessions/gone/students/a", map[string]any{"isOnline": true}); !errors.Is(err, ErrNotFound) {
			t.Errorf("missing document err = %v", err)
		}
	})

	t.Run("transact", func(t *testing.T) {
		claim := func(cur any) (any, error) {
			if cur != nil {
				return nil, errors.New("taken")
			}
			return map[string]any{"sessionId": "s1"}, nil
		}
		if err := s.Transact(ctx, "sessionCodes/AB12CD", claim); err != nil {
			t.Fatalf("first claim: %v", err)
		}
		if err := s.Transact(ctx, "sessionCodes/AB12CD", claim); err == nil {
			t.Fatal("second claim should fail")
		}
	})

	t.Run("subscribe delivers initial value then changes", func(t *testing.T) {
		rec := newRecorder()
		unsub, err := s.Subscribe(ctx, "sessions/s1/students/a", rec.fn)
		if err != nil {
			t.Fatalf("subscribe: %v", err)
		}
		defer unsub()

		first := rec.next(t).(map[string]any)
		if first["displayName"] != "Jana" {
			t.Errorf("initial = %v", first)
		}

		if err := s.Update(ctx, "sessions/s1/students/a", map[string]any{"isFocused": false}); err != nil {
			t.Fatalf("update: %v", err)
		}
		second := rec.next(t).(map[string]any)
		if second["isFocused"] != false {
			t.Errorf("after update = %v", second)
		}

		unsub()
		_ = s.Update(ctx, "sessions/s1/students/a", map[string]any{"isFocused": true})
		rec.quiet(t, 150*time.Millisecond)
	})

	t.Run("subscribe to collection rejected", func(t *testing.T) {
		if _, err := s.Subscribe(ctx, "sessions", func(any) {}); !errors.Is(err, ErrCollectionSubscribe) {
			t.Errorf("err = %v, want ErrCollectionSubscribe", err)
		}
	})
}

func TestMemoryStoreContract(t *testing.T) {
	storeContract(t, NewMemoryStore())
}

func TestMemoryStoreUnrelatedWritesDoNotNotify(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	rec := newRecorder()
	unsub, err := s.Subscribe(ctx, "sessions/s1/students/a", rec.fn)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer unsub()
	if v := rec.next(t); v != nil {
		t.Fatalf("initial = %v, want nil", v)
	}

	_ = s.Update(ctx, "sessions/s1/students/b", map[string]any{"isOnline": true})
	_ = s.Set(ctx, "sessions/s2/isActive", true)
	rec.quiet(t, 100*time.Millisecond)

	if s.Subscribers() != 1 {
		t.Errorf("subscribers = %d", s.Subscribers())
	}
	unsub()
	if s.Subscribers() != 0 {
		t.Errorf("subscribers after cancel = %d", s.Subscribers())
	}
}

func TestMemoryStoreValuesAreCopies(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	_ = s.Set(ctx, "sessions/s1", map[string]any{"students": map[string]any{}, "isActive": true})

	v, _ := s.Get(ctx, "sessions/s1")
	v.(map[string]any)["isActive"] = false

	again, _ := s.Get(ctx, "sessions/s1/isActive")
	if again != true {
		t.Errorf("caller mutation leaked into the store: %v", again)
	}
}

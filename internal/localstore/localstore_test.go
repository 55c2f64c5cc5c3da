package localstore

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stemsi/liveclass/internal/model"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "device.db"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestIdentityStore(t *testing.T) {
	ctx := context.Background()
	store := NewIdentityStore(openTestDB(t))

	got, err := store.Load(ctx)
	if err != nil || got != nil {
		t.Fatalf("empty load = %v, %v", got, err)
	}

	created := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	id := &model.StudentIdentity{ID: "dev-1", DisplayName: "Jana", CreatedAt: created}
	if err := store.Save(ctx, id); err != nil {
		t.Fatalf("save: %v", err)
	}

	id.DisplayName = "Jana N."
	if err := store.Save(ctx, id); err != nil {
		t.Fatalf("overwrite: %v", err)
	}

	got, err = store.Load(ctx)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got.ID != "dev-1" || got.DisplayName != "Jana N." || !got.CreatedAt.Equal(created) {
		t.Errorf("identity = %+v", got)
	}
}

func TestPointerStoreIndependentOfIdentity(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	identities := NewIdentityStore(db)
	pointers := NewPointerStore(db)

	if err := identities.Save(ctx, &model.StudentIdentity{ID: "dev-1"}); err != nil {
		t.Fatalf("save identity: %v", err)
	}
	p := &model.SessionPointer{SessionID: "s1", JoinCode: "AB12CD", StudentID: "stu-1", StudentDisplayName: "Jana"}
	if err := pointers.Save(ctx, p); err != nil {
		t.Fatalf("save pointer: %v", err)
	}

	got, err := pointers.Load(ctx)
	if err != nil || got == nil || got.SessionID != "s1" || got.JoinCode != "AB12CD" {
		t.Fatalf("pointer = %+v, %v", got, err)
	}

	if err := pointers.Clear(ctx); err != nil {
		t.Fatalf("clear: %v", err)
	}
	if got, _ := pointers.Load(ctx); got != nil {
		t.Errorf("pointer after clear = %+v", got)
	}
	if id, _ := identities.Load(ctx); id == nil {
		t.Error("clearing the pointer must not touch the identity")
	}

	// Clearing twice is harmless.
	if err := pointers.Clear(ctx); err != nil {
		t.Errorf("second clear: %v", err)
	}
}

func TestRecordsSurviveReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "device.db")

	db, err := Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	_ = NewIdentityStore(db).Save(ctx, &model.StudentIdentity{ID: "dev-9", DisplayName: "Ana"})
	_ = db.Close()

	db, err = Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer db.Close()
	got, err := NewIdentityStore(db).Load(ctx)
	if err != nil || got == nil || got.ID != "dev-9" {
		t.Errorf("identity after reopen = %+v, %v", got, err)
	}
}

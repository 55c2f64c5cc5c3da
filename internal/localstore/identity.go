package localstore

import (
	"context"

	"github.com/stemsi/liveclass/internal/model"
)

// IdentityStore persists the device's student identity. It is never
// cleared automatically.
type IdentityStore struct {
	db *DB
}

func NewIdentityStore(db *DB) *IdentityStore {
	return &IdentityStore{db: db}
}

// Load returns nil when no identity has been created on this device yet.
func (s *IdentityStore) Load(ctx context.Context) (*model.StudentIdentity, error) {
	var id model.StudentIdentity
	ok, err := s.db.load(ctx, KeyIdentity, &id)
	if err != nil || !ok {
		return nil, err
	}
	return &id, nil
}

func (s *IdentityStore) Save(ctx context.Context, id *model.StudentIdentity) error {
	return s.db.save(ctx, KeyIdentity, id)
}

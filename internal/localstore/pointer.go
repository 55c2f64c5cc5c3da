package localstore

import (
	"context"

	"github.com/stemsi/liveclass/internal/model"
)

// PointerStore persists the last joined session, used only to attempt a
// silent reconnect.
type PointerStore struct {
	db *DB
}

func NewPointerStore(db *DB) *PointerStore {
	return &PointerStore{db: db}
}

// Load returns nil when there is no pointer.
func (s *PointerStore) Load(ctx context.Context) (*model.SessionPointer, error) {
	var p model.SessionPointer
	ok, err := s.db.load(ctx, KeyPointer, &p)
	if err != nil || !ok {
		return nil, err
	}
	return &p, nil
}

func (s *PointerStore) Save(ctx context.Context, p *model.SessionPointer) error {
	return s.db.save(ctx, KeyPointer, p)
}

func (s *PointerStore) Clear(ctx context.Context) error {
	return s.db.remove(ctx, KeyPointer)
}

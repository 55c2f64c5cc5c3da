package realtime

import (
	"context"
	"sync"
)

// MemoryStore is an in-process Store. It backs tests and local demos and
// follows the same path, merge and notification rules as RedisStore.
type MemoryStore struct {
	mu     sync.Mutex
	root   map[string]any
	subs   map[uint64]*memorySub
	nextID uint64
}

type memorySub struct {
	segs []string
	box  *mailbox
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		root: make(map[string]any),
		subs: make(map[uint64]*memorySub),
	}
}

func (s *MemoryStore) Get(ctx context.Context, path string) (any, error) {
	segs, err := splitPath(path)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return deepCopy(getAt(s.root, segs)), nil
}

func (s *MemoryStore) Set(ctx context.Context, path string, value any) error {
	v, err := normalize(value)
	if err != nil {
		return err
	}
	return s.mutate(ctx, path, func(root any, segs []string) (any, error) {
		return setAt(root, segs, v)
	})
}

func (s *MemoryStore) Update(ctx context.Context, path string, fields map[string]any) error {
	return s.mutate(ctx, path, func(root any, segs []string) (any, error) {
		return updateAt(root, segs, fields)
	})
}

func (s *MemoryStore) Touch(ctx context.Context, path string, fields map[string]any) error {
	return s.mutate(ctx, path, func(root any, segs []string) (any, error) {
		return touchAt(root, segs, fields)
	})
}

func (s *MemoryStore) Transact(ctx context.Context, path string, fn func(current any) (any, error)) error {
	return s.mutate(ctx, path, func(root any, segs []string) (any, error) {
		next, err := fn(deepCopy(getAt(root, segs)))
		if err != nil {
			return nil, err
		}
		v, err := normalize(next)
		if err != nil {
			return nil, err
		}
		return setAt(root, segs, v)
	})
}

func (s *MemoryStore) mutate(ctx context.Context, path string, apply func(root any, segs []string) (any, error)) error {
	segs, err := splitPath(path)
	if err != nil {
		return err
	}
	if len(segs) < 2 {
		return ErrCollectionWrite
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// Work on a copy so a failed apply leaves the tree untouched.
	next, err := apply(deepCopy(s.root), segs)
	if err != nil {
		return err
	}
	root, _ := next.(map[string]any)
	if root == nil {
		root = make(map[string]any)
	}
	s.root = root

	for _, sub := range s.subs {
		if overlaps(sub.segs, segs) {
			sub.box.push(deepCopy(getAt(s.root, sub.segs)))
		}
	}
	return nil
}

func (s *MemoryStore) Subscribe(ctx context.Context, path string, onChange func(value any)) (func(), error) {
	segs, err := splitPath(path)
	if err != nil {
		return nil, err
	}
	if len(segs) < 2 {
		return nil, ErrCollectionSubscribe
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.nextID++
	id := s.nextID
	sub := &memorySub{segs: segs, box: newMailbox(onChange)}
	s.subs[id] = sub
	sub.box.push(deepCopy(getAt(s.root, segs)))
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.subs, id)
			s.mu.Unlock()
			sub.box.close()
		})
	}, nil
}

// Subscribers returns the number of live subscriptions.
func (s *MemoryStore) Subscribers() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.subs)
}

package live

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stemsi/liveclass/internal/model"
	"github.com/stemsi/liveclass/internal/realtime"
	"github.com/stemsi/liveclass/internal/repository"
)

var errInjected = errors.New("injected store failure")

// faultStore wraps a store and fails Update and Touch calls matching
// failIf. Subscriptions can be refused or muted.
type faultStore struct {
	realtime.Store

	mu      sync.Mutex
	failIf  func(path string, fields map[string]any) bool
	getErr  error
	subErr  error
	muted   bool
	updates []map[string]any
	failed  int
}

func (f *faultStore) Subscribe(ctx context.Context, path string, onChange func(any)) (func(), error) {
	f.mu.Lock()
	err := f.subErr
	f.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return f.Store.Subscribe(ctx, path, func(v any) {
		f.mu.Lock()
		muted := f.muted
		f.mu.Unlock()
		if !muted {
			onChange(v)
		}
	})
}

func (f *faultStore) setSubErr(err error) {
	f.mu.Lock()
	f.subErr = err
	f.mu.Unlock()
}

// mute drops snapshot deliveries from now on.
func (f *faultStore) mute() {
	f.mu.Lock()
	f.muted = true
	f.mu.Unlock()
}

func (f *faultStore) Get(ctx context.Context, path string) (any, error) {
	f.mu.Lock()
	err := f.getErr
	f.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return f.Store.Get(ctx, path)
}

func (f *faultStore) setGetErr(err error) {
	f.mu.Lock()
	f.getErr = err
	f.mu.Unlock()
}

func (f *faultStore) Update(ctx context.Context, path string, fields map[string]any) error {
	if err := f.record(path, fields); err != nil {
		return err
	}
	return f.Store.Update(ctx, path, fields)
}

func (f *faultStore) Touch(ctx context.Context, path string, fields map[string]any) error {
	if err := f.record(path, fields); err != nil {
		return err
	}
	return f.Store.Touch(ctx, path, fields)
}

func (f *faultStore) record(path string, fields map[string]any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updates = append(f.updates, fields)
	if f.failIf != nil && f.failIf(path, fields) {
		f.failed++
		return errInjected
	}
	return nil
}

func (f *faultStore) setFailIf(fn func(path string, fields map[string]any) bool) {
	f.mu.Lock()
	f.failIf = fn
	f.mu.Unlock()
}

func (f *faultStore) failures() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.failed
}

// countUpdates counts recorded updates that satisfy match.
func (f *faultStore) countUpdates(match func(fields map[string]any) bool) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, u := range f.updates {
		if match(u) {
			n++
		}
	}
	return n
}

func writesResponse(_ string, fields map[string]any) bool {
	for k := range fields {
		if strings.HasPrefix(k, "responses/") {
			return true
		}
	}
	return false
}

// writesSlideResponse matches only the student's write of one slide's
// response, leaving teacher evaluation writes alone.
func writesSlideResponse(slideID string) func(string, map[string]any) bool {
	key := "responses/" + slideID
	return func(_ string, fields map[string]any) bool {
		_, ok := fields[key]
		return ok
	}
}

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2026, 5, 4, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

type memIdentity struct {
	mu sync.Mutex
	id *model.StudentIdentity
}

func (m *memIdentity) Load(context.Context) (*model.StudentIdentity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.id == nil {
		return nil, nil
	}
	cp := *m.id
	return &cp, nil
}

func (m *memIdentity) Save(_ context.Context, id *model.StudentIdentity) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *id
	m.id = &cp
	return nil
}

type memPointer struct {
	mu sync.Mutex
	p  *model.SessionPointer
}

func (m *memPointer) Load(context.Context) (*model.SessionPointer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.p == nil {
		return nil, nil
	}
	cp := *m.p
	return &cp, nil
}

func (m *memPointer) Save(_ context.Context, p *model.SessionPointer) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *p
	m.p = &cp
	return nil
}

func (m *memPointer) Clear(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.p = nil
	return nil
}

func (m *memPointer) get() *model.SessionPointer {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.p
}

// device is what survives a reload: its local stores.
type device struct {
	identity *memIdentity
	pointer  *memPointer
}

func newDevice() *device {
	return &device{identity: &memIdentity{}, pointer: &memPointer{}}
}

type env struct {
	mu     sync.Mutex
	mem    *realtime.MemoryStore
	faults *faultStore
	repo   *repository.SessionRepository
	clock  *fakeClock
	sleeps []time.Duration
	ids    int
}

func newEnv() *env {
	mem := realtime.NewMemoryStore()
	faults := &faultStore{Store: mem}
	return &env{
		mem:    mem,
		faults: faults,
		repo:   repository.NewSessionRepository(faults),
		clock:  newFakeClock(),
	}
}

func testQuiz() model.Quiz {
	return model.Quiz{
		ID:    "quiz-1",
		Title: "Fractions",
		Slides: []model.Slide{
			{
				ID:               "q1",
				Type:             model.ActivitySingleChoice,
				Title:            "Pick one",
				Options:          []model.Option{{ID: "a", Label: "A"}, {ID: "b", Label: "B"}},
				CorrectOptionIDs: []string{"a"},
				Points:           2,
			},
			{ID: "q2", Type: model.ActivityOpenText, Title: "Half?", CorrectAnswer: "1/2", Points: 1},
			{ID: "intro", Type: model.ActivityContent, Title: "Well done"},
		},
	}
}

type sessionOpts struct {
	immediate bool
	locked    bool
}

func (e *env) createSession(t *testing.T, id, code string, o sessionOpts) {
	t.Helper()
	ctx := context.Background()
	rec := &model.SessionRecord{
		ID:        id,
		JoinCode:  code,
		TeacherID: 1,
		IsActive:  true,
		IsLocked:  o.locked,
		CreatedAt: e.clock.Now().UnixMilli(),
		Settings:  model.SessionSettings{ImmediateFeedback: o.immediate},
		Quiz:      testQuiz(),
	}
	if err := e.repo.CreateSession(ctx, rec); err != nil {
		t.Fatalf("create session: %v", err)
	}
	if err := e.repo.ReserveCode(ctx, code, id); err != nil {
		t.Fatalf("reserve code: %v", err)
	}
}

func (e *env) newClient(t *testing.T, d *device) *Client {
	t.Helper()
	c := New(Options{
		Sessions: e.repo,
		Identity: d.identity,
		Pointer:  d.pointer,
		Retrier: &Retrier{
			Attempts: 3,
			Delay:    10 * time.Millisecond,
			Sleep: func(d time.Duration) {
				e.mu.Lock()
				e.sleeps = append(e.sleeps, d)
				e.mu.Unlock()
			},
		},
		HeartbeatInterval: time.Hour,
		Now:               e.clock.Now,
		NewID: func() string {
			e.mu.Lock()
			defer e.mu.Unlock()
			e.ids++
			return fmt.Sprintf("device-%d", e.ids)
		},
		Log: zerolog.Nop(),
	})
	t.Cleanup(c.Close)
	return c
}

func (e *env) student(t *testing.T, sessionID, studentID string) *model.StudentSessionState {
	t.Helper()
	rec, err := e.repo.GetSession(context.Background(), sessionID)
	if err != nil {
		t.Fatalf("get session: %v", err)
	}
	return rec.Student(studentID)
}

// leave closes c and waits for its offline write to land, so it cannot
// race with whatever the test does next.
func (e *env) leave(t *testing.T, c *Client) {
	t.Helper()
	st := c.State()
	c.Close()
	if !st.IsJoined {
		return
	}
	eventually(t, "offline write", func() bool {
		rec, err := e.repo.GetSession(context.Background(), st.SessionID)
		if err != nil {
			return false
		}
		s := rec.Student(st.StudentID)
		return s != nil && !s.IsOnline
	})
}

func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func (e *env) sleepLog() []time.Duration {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]time.Duration(nil), e.sleeps...)
}

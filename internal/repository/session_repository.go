package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/stemsi/liveclass/internal/config"
	"github.com/stemsi/liveclass/internal/model"
	"github.com/stemsi/liveclass/internal/realtime"
)

// SessionRepository gives typed access to live session documents in the
// realtime store. Every write is a field-level merge on the narrowest path
// that owns the data.
type SessionRepository struct {
	store realtime.Store
}

// NewSessionRepository creates a new SessionRepository.
func NewSessionRepository(store realtime.Store) *SessionRepository {
	return &SessionRepository{store: store}
}

// DecodeSession converts a raw session document into a record. A nil value
// means the document does not exist.
func DecodeSession(id string, v any) (*model.SessionRecord, error) {
	if v == nil {
		return nil, ErrSessionNotFound
	}
	rec := &model.SessionRecord{}
	if err := realtime.Decode(v, rec); err != nil {
		return nil, fmt.Errorf("decode session %s: %w", id, err)
	}
	rec.ID = id
	return rec, nil
}

// GetSession reads a whole session document.
func (r *SessionRepository) GetSession(ctx context.Context, sessionID string) (*model.SessionRecord, error) {
	v, err := r.store.Get(ctx, config.Path.Session(sessionID))
	if err != nil {
		return nil, err
	}
	return DecodeSession(sessionID, v)
}

// LookupCode resolves a join code through the code index.
func (r *SessionRepository) LookupCode(ctx context.Context, code string) (string, error) {
	v, err := r.store.Get(ctx, config.Path.CodeIndex(code))
	if err != nil {
		return "", err
	}
	var entry struct {
		SessionID string `json:"sessionId"`
	}
	if v != nil {
		if err := realtime.Decode(v, &entry); err != nil {
			return "", fmt.Errorf("decode code index %s: %w", code, err)
		}
	}
	if entry.SessionID == "" {
		return "", ErrCodeNotFound
	}
	return entry.SessionID, nil
}

// ScanByCode walks every session looking for code. It exists for sessions
// created before the code index and is slow by nature. Active sessions win;
// among equals the most recently created one does.
func (r *SessionRepository) ScanByCode(ctx context.Context, code string) (string, error) {
	v, err := r.store.Get(ctx, config.Path.Sessions())
	if err != nil {
		return "", err
	}
	all, _ := v.(map[string]any)

	var (
		bestID  string
		bestRec *model.SessionRecord
	)
	for id, raw := range all {
		doc, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		if jc, _ := doc["joinCode"].(string); !strings.EqualFold(jc, code) {
			continue
		}
		rec, err := DecodeSession(id, doc)
		if err != nil {
			continue
		}
		if bestRec == nil || better(rec, bestRec) || (!better(bestRec, rec) && id < bestID) {
			bestID, bestRec = id, rec
		}
	}
	if bestRec == nil {
		return "", ErrCodeNotFound
	}
	return bestID, nil
}

func better(a, b *model.SessionRecord) bool {
	if a.IsActive != b.IsActive {
		return a.IsActive
	}
	return a.CreatedAt > b.CreatedAt
}

// ResolveCode tries the index first and falls back to a scan.
func (r *SessionRepository) ResolveCode(ctx context.Context, code string) (string, error) {
	id, err := r.LookupCode(ctx, code)
	if err == nil {
		return id, nil
	}
	if !errors.Is(err, ErrCodeNotFound) {
		return "", err
	}
	return r.ScanByCode(ctx, code)
}

// ReserveCode atomically claims code for sessionID.
func (r *SessionRepository) ReserveCode(ctx context.Context, code, sessionID string) error {
	return r.store.Transact(ctx, config.Path.CodeIndex(code), func(current any) (any, error) {
		if current != nil {
			return nil, ErrCodeTaken
		}
		return map[string]any{"sessionId": sessionID}, nil
	})
}

// ReleaseCode frees a reserved code.
func (r *SessionRepository) ReleaseCode(ctx context.Context, code string) error {
	return r.store.Set(ctx, config.Path.CodeIndex(code), nil)
}

// CreateSession writes a brand new session document.
func (r *SessionRepository) CreateSession(ctx context.Context, rec *model.SessionRecord) error {
	return r.store.Set(ctx, config.Path.Session(rec.ID), rec)
}

// UpdateSession merges session-level fields. Setting isActive back to true
// is refused.
func (r *SessionRepository) UpdateSession(ctx context.Context, sessionID string, fields map[string]any) error {
	if v, ok := fields["isActive"]; ok && v != false {
		return ErrReactivation
	}
	return r.store.Update(ctx, config.Path.Session(sessionID), fields)
}

// UpdateStudent merges fields into one student's sub-record.
func (r *SessionRepository) UpdateStudent(ctx context.Context, sessionID, studentID string, fields map[string]any) error {
	return r.store.Update(ctx, config.Path.Student(sessionID, studentID), fields)
}

// TouchStudent merges fields into a student sub-record that must already
// exist. A purged record is reported as ErrStudentNotFound, never recreated.
func (r *SessionRepository) TouchStudent(ctx context.Context, sessionID, studentID string, fields map[string]any) error {
	err := r.store.Touch(ctx, config.Path.Student(sessionID, studentID), fields)
	if errors.Is(err, realtime.ErrNotFound) {
		return ErrStudentNotFound
	}
	return err
}

// PutResponse writes a single response entry and the student's running
// time total, leaving every other response untouched.
func (r *SessionRepository) PutResponse(ctx context.Context, sessionID, studentID string, resp model.SlideResponse, totalTimeMs int64) error {
	return r.TouchStudent(ctx, sessionID, studentID, map[string]any{
		config.Path.ResponseField(resp.SlideID): resp,
		"totalTimeMs":                           totalTimeMs,
	})
}

// SetEvaluation writes the teacher-owned fields of one response.
func (r *SessionRepository) SetEvaluation(ctx context.Context, sessionID, studentID, slideID string, isCorrect *bool, points int) error {
	return r.UpdateStudent(ctx, sessionID, studentID, map[string]any{
		config.Path.ResponseField(slideID, "isCorrect"): isCorrect,
		config.Path.ResponseField(slideID, "points"):    points,
	})
}

// Subscribe streams decoded snapshots of a session. fn receives
// ErrSessionNotFound when the document disappears.
func (r *SessionRepository) Subscribe(ctx context.Context, sessionID string, fn func(*model.SessionRecord, error)) (func(), error) {
	return r.store.Subscribe(ctx, config.Path.Session(sessionID), func(v any) {
		fn(DecodeSession(sessionID, v))
	})
}

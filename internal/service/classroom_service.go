package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/liveclass/internal/config"
	"github.com/stemsi/liveclass/internal/model"
	"github.com/stemsi/liveclass/internal/repository"
)

// Classroom errors.
var (
	ErrNotSessionOwner  = errors.New("session belongs to another teacher")
	ErrSessionEnded     = errors.New("session has ended")
	ErrSlideOutOfRange  = errors.New("slide index out of range")
	ErrStudentNotFound  = errors.New("student not in session")
	ErrResponseNotFound = errors.New("response not found")
	ErrInvalidQuiz      = errors.New("invalid quiz")
	ErrCodeExhausted    = errors.New("could not reserve a free join code")
)

// Join codes avoid look-alike characters (0/O, 1/I).
const (
	codeAlphabet    = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"
	codeLength      = 6
	maxCodeAttempts = 8
)

// ClassroomService is the teacher side of a live session: it is the only
// writer of session-level fields and of response evaluations.
type ClassroomService struct {
	sessions *repository.SessionRepository
	rdb      *redis.Client
	now      func() time.Time
	log      zerolog.Logger
}

// NewClassroomService creates a new ClassroomService.
func NewClassroomService(sessions *repository.SessionRepository, rdb *redis.Client, log zerolog.Logger) *ClassroomService {
	return &ClassroomService{
		sessions: sessions,
		rdb:      rdb,
		now:      time.Now,
		log:      log.With().Str("component", "classroom_service").Logger(),
	}
}

// newJoinCode draws a code from uuid randomness. The alphabet has 32
// symbols, so byte%32 is unbiased.
func newJoinCode() string {
	id := uuid.New()
	var b strings.Builder
	for i := 0; i < codeLength; i++ {
		b.WriteByte(codeAlphabet[int(id[i])%len(codeAlphabet)])
	}
	return b.String()
}

// CreateSession starts a live session for quiz and returns its record.
func (s *ClassroomService) CreateSession(ctx context.Context, teacherID int, req *model.CreateSessionRequest) (*model.SessionRecord, error) {
	if err := req.Quiz.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidQuiz, err)
	}

	rec := &model.SessionRecord{
		ID:        uuid.NewString(),
		TeacherID: teacherID,
		IsActive:  true,
		IsLocked:  req.Locked,
		CreatedAt: s.now().UnixMilli(),
		Settings:  model.SessionSettings{ImmediateFeedback: req.ImmediateFeedback},
		Quiz:      req.Quiz,
	}

	for attempt := 1; ; attempt++ {
		code := newJoinCode()
		err := s.sessions.ReserveCode(ctx, code, rec.ID)
		if err == nil {
			rec.JoinCode = code
			break
		}
		if !errors.Is(err, repository.ErrCodeTaken) {
			return nil, fmt.Errorf("reserve code: %w", err)
		}
		if attempt == maxCodeAttempts {
			return nil, ErrCodeExhausted
		}
		s.log.Debug().Str("code", code).Msg("Join code collision, drawing another")
	}

	if err := s.sessions.CreateSession(ctx, rec); err != nil {
		if relErr := s.sessions.ReleaseCode(ctx, rec.JoinCode); relErr != nil {
			s.log.Warn().Err(relErr).Str("code", rec.JoinCode).Msg("Failed to release join code")
		}
		return nil, fmt.Errorf("create session: %w", err)
	}

	s.log.Info().
		Str("session_id", rec.ID).
		Str("code", rec.JoinCode).
		Int("teacher_id", teacherID).
		Int("slides", len(rec.Quiz.Slides)).
		Msg("Session created")
	return rec, nil
}

// GetSession returns a session owned by teacherID.
func (s *ClassroomService) GetSession(ctx context.Context, teacherID int, sessionID string) (*model.SessionRecord, error) {
	rec, err := s.sessions.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if rec.TeacherID != teacherID {
		return nil, ErrNotSessionOwner
	}
	return rec, nil
}

func (s *ClassroomService) activeSession(ctx context.Context, teacherID int, sessionID string) (*model.SessionRecord, error) {
	rec, err := s.GetSession(ctx, teacherID, sessionID)
	if err != nil {
		return nil, err
	}
	if !rec.IsActive {
		return nil, ErrSessionEnded
	}
	return rec, nil
}

// SetSlide moves the teacher's slide pointer.
func (s *ClassroomService) SetSlide(ctx context.Context, teacherID int, sessionID string, index int) error {
	rec, err := s.activeSession(ctx, teacherID, sessionID)
	if err != nil {
		return err
	}
	if index < 0 || index >= len(rec.Quiz.Slides) {
		return fmt.Errorf("%w: %d of %d", ErrSlideOutOfRange, index, len(rec.Quiz.Slides))
	}
	return s.sessions.UpdateSession(ctx, sessionID, map[string]any{"currentSlideIndex": index})
}

// SetLocked switches between teacher-paced and self-paced navigation.
func (s *ClassroomService) SetLocked(ctx context.Context, teacherID int, sessionID string, locked bool) error {
	if _, err := s.activeSession(ctx, teacherID, sessionID); err != nil {
		return err
	}
	return s.sessions.UpdateSession(ctx, sessionID, map[string]any{"isLocked": locked})
}

// SetPaused freezes or resumes student interaction.
func (s *ClassroomService) SetPaused(ctx context.Context, teacherID int, sessionID string, paused bool) error {
	if _, err := s.activeSession(ctx, teacherID, sessionID); err != nil {
		return err
	}
	return s.sessions.UpdateSession(ctx, sessionID, map[string]any{"isPaused": paused})
}

// EndSession ends a session for good and queues it for archiving. Ending an
// ended session is a no-op.
func (s *ClassroomService) EndSession(ctx context.Context, teacherID int, sessionID string) error {
	rec, err := s.GetSession(ctx, teacherID, sessionID)
	if err != nil {
		return err
	}
	if !rec.IsActive {
		return nil
	}

	err = s.sessions.UpdateSession(ctx, sessionID, map[string]any{
		"isActive": false,
		"isPaused": false,
		"endedAt":  s.now().UnixMilli(),
	})
	if err != nil {
		return fmt.Errorf("end session: %w", err)
	}

	s.log.Info().Str("session_id", sessionID).Int("students", len(rec.Students)).Msg("Session ended")
	s.enqueueArchive(ctx, sessionID)
	return nil
}

// EvaluateResponse sets the teacher-owned verdict of one response. Late
// evaluations of an ended session are re-archived.
func (s *ClassroomService) EvaluateResponse(ctx context.Context, teacherID int, sessionID, studentID, slideID string, isCorrect *bool, points int) error {
	rec, err := s.GetSession(ctx, teacherID, sessionID)
	if err != nil {
		return err
	}
	st := rec.Student(studentID)
	if st == nil {
		return ErrStudentNotFound
	}
	if _, ok := st.Responses.Find(slideID); !ok {
		return ErrResponseNotFound
	}

	if err := s.sessions.SetEvaluation(ctx, sessionID, studentID, slideID, isCorrect, points); err != nil {
		return fmt.Errorf("set evaluation: %w", err)
	}
	if !rec.IsActive {
		s.enqueueArchive(ctx, sessionID)
	}
	return nil
}

// LookupCode resolves a join code for the public landing page.
func (s *ClassroomService) LookupCode(ctx context.Context, code string) (*model.CodeLookup, error) {
	id, err := s.sessions.ResolveCode(ctx, strings.ToUpper(strings.TrimSpace(code)))
	if err != nil {
		return nil, err
	}
	rec, err := s.sessions.GetSession(ctx, id)
	if err != nil {
		return nil, err
	}
	return &model.CodeLookup{SessionID: id, IsActive: rec.IsActive}, nil
}

// Watch streams snapshots of an owned session until the returned func is
// called.
func (s *ClassroomService) Watch(ctx context.Context, teacherID int, sessionID string, fn func(*model.SessionRecord, error)) (func(), error) {
	if _, err := s.GetSession(ctx, teacherID, sessionID); err != nil {
		return nil, err
	}
	return s.sessions.Subscribe(ctx, sessionID, fn)
}

func (s *ClassroomService) enqueueArchive(ctx context.Context, sessionID string) {
	err := s.rdb.RPush(context.WithoutCancel(ctx), config.WorkerKey.PersistSessionsQueue, sessionID).Err()
	if err != nil {
		s.log.Error().Err(err).Str("session_id", sessionID).Msg("Failed to queue session for archiving")
	}
}

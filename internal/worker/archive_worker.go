package worker

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/liveclass/internal/config"
	"github.com/stemsi/liveclass/internal/model"
	"github.com/stemsi/liveclass/internal/repository"
)

// Archiver persists an ended session's results.
type Archiver interface {
	SaveArchive(ctx context.Context, a *model.SessionArchive, students []model.StudentResult) error
}

// ArchiveWorker consumes persist_sessions_queue and copies ended sessions
// from the realtime store into PostgreSQL.
type ArchiveWorker struct {
	sessions *repository.SessionRepository
	archiver Archiver
	rdb      *redis.Client
	log      zerolog.Logger

	// RetryDelay is slept after a failed archive before the next item.
	RetryDelay time.Duration
}

// NewArchiveWorker creates a new ArchiveWorker.
func NewArchiveWorker(sessions *repository.SessionRepository, archiver Archiver, rdb *redis.Client, log zerolog.Logger) *ArchiveWorker {
	return &ArchiveWorker{
		sessions:   sessions,
		archiver:   archiver,
		rdb:        rdb,
		log:        log.With().Str("component", "archive_worker").Logger(),
		RetryDelay: 5 * time.Second,
	}
}

var errStillActive = errors.New("session still active")

// Start begins the infinite worker loop. Call in a goroutine.
func (w *ArchiveWorker) Start(ctx context.Context) {
	w.log.Info().Msg("Worker started")

	for {
		select {
		case <-ctx.Done():
			w.log.Info().Msg("Worker stopping...")
			w.drain(context.Background())
			w.log.Info().Msg("Worker stopped")
			return
		default:
			w.processNext(ctx)
		}
	}
}

func (w *ArchiveWorker) processNext(ctx context.Context) {
	// BLPop blocks until an item is available or timeout (1 second).
	result, err := w.rdb.BLPop(ctx, time.Second, config.WorkerKey.PersistSessionsQueue).Result()
	if err != nil {
		if !errors.Is(err, redis.Nil) && ctx.Err() == nil {
			w.log.Error().Err(err).Msg("BLPop error")
		}
		return
	}
	if len(result) < 2 {
		return
	}

	sessionID := result[1]
	err = w.archive(ctx, sessionID)
	switch {
	case err == nil:
	case errors.Is(err, repository.ErrSessionNotFound), errors.Is(err, errStillActive):
		w.log.Warn().Err(err).Str("session_id", sessionID).Msg("Skipping archive")
	default:
		w.log.Error().Err(err).Str("session_id", sessionID).Dur("retry_in", w.RetryDelay).Msg("Archive error, requeueing")
		w.rdb.RPush(context.WithoutCancel(ctx), config.WorkerKey.PersistSessionsQueue, sessionID)
		select {
		case <-ctx.Done():
		case <-time.After(w.RetryDelay):
		}
	}
}

func (w *ArchiveWorker) archive(ctx context.Context, sessionID string) error {
	rec, err := w.sessions.GetSession(ctx, sessionID)
	if err != nil {
		return err
	}
	if rec.IsActive {
		return errStillActive
	}

	archive, students, err := BuildArchive(rec)
	if err != nil {
		return err
	}
	if err := w.archiver.SaveArchive(ctx, archive, students); err != nil {
		return err
	}

	w.log.Info().Str("session_id", sessionID).Int("students", len(students)).Msg("Session archived")
	return nil
}

// drain archives all remaining items in the queue before shutdown.
func (w *ArchiveWorker) drain(ctx context.Context) {
	drained := 0
	for {
		sessionID, err := w.rdb.LPop(ctx, config.WorkerKey.PersistSessionsQueue).Result()
		if err != nil {
			break
		}

		err = w.archive(ctx, sessionID)
		if err != nil && !errors.Is(err, repository.ErrSessionNotFound) && !errors.Is(err, errStillActive) {
			w.log.Error().Err(err).Msg("Drain archive error")
			w.rdb.RPush(ctx, config.WorkerKey.PersistSessionsQueue, sessionID)
			break
		}
		drained++
	}

	if drained > 0 {
		w.log.Info().Int("count", drained).Msg("Drained remaining items")
	}
}

// BuildArchive flattens an ended session into relational rows. Students are
// ordered by score, then name.
func BuildArchive(rec *model.SessionRecord) (*model.SessionArchive, []model.StudentResult, error) {
	endedAt := time.UnixMilli(rec.EndedAt)
	if rec.EndedAt == 0 {
		endedAt = time.Now()
	}
	archive := &model.SessionArchive{
		SessionID:  rec.ID,
		JoinCode:   rec.JoinCode,
		TeacherID:  rec.TeacherID,
		QuizTitle:  rec.Quiz.Title,
		SlideCount: len(rec.Quiz.Slides),
		EndedAt:    endedAt,
	}

	students := make([]model.StudentResult, 0, len(rec.Students))
	for id, st := range rec.Students {
		if st == nil {
			continue
		}
		res := model.StudentResult{
			StudentID:   id,
			DisplayName: st.DisplayName,
			School:      st.School,
			Answered:    len(st.Responses),
			TotalTimeMs: st.TotalTimeMs,
			Responses:   make([]model.ArchivedAnswer, 0, len(st.Responses)),
		}
		for _, r := range st.Responses {
			answer, err := r.AnswerJSON()
			if err != nil {
				return nil, nil, fmt.Errorf("student %s slide %s: %w", id, r.SlideID, err)
			}
			if r.IsCorrect != nil && *r.IsCorrect {
				res.Correct++
			}
			res.Score += r.Points
			res.Responses = append(res.Responses, model.ArchivedAnswer{
				SlideID:          r.SlideID,
				ActivityType:     r.ActivityType,
				Answer:           answer,
				IsCorrect:        r.IsCorrect,
				Points:           r.Points,
				AnsweredAt:       time.UnixMilli(r.AnsweredAt),
				TimeSpentSeconds: r.TimeSpentSeconds,
			})
		}
		students = append(students, res)
	}

	sort.Slice(students, func(i, j int) bool {
		if students[i].Score != students[j].Score {
			return students[i].Score > students[j].Score
		}
		if students[i].DisplayName != students[j].DisplayName {
			return students[i].DisplayName < students[j].DisplayName
		}
		return students[i].StudentID < students[j].StudentID
	})
	return archive, students, nil
}

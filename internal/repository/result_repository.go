package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stemsi/liveclass/internal/model"
)

// ResultRepository stores archived sessions in PostgreSQL.
type ResultRepository struct {
	pool *pgxpool.Pool
}

// NewResultRepository creates a new ResultRepository.
func NewResultRepository(pool *pgxpool.Pool) *ResultRepository {
	return &ResultRepository{pool: pool}
}

// SaveArchive upserts a session archive with all of its student results and
// responses in one transaction. Re-archiving a session overwrites it, which
// is how late teacher evaluations reach the relational copy.
func (r *ResultRepository) SaveArchive(ctx context.Context, a *model.SessionArchive, students []model.StudentResult) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	_, err = tx.Exec(ctx,
		`INSERT INTO session_archives (session_id, join_code, teacher_id, quiz_title, slide_count, ended_at, archived_at)
		 VALUES ($1, $2, $3, $4, $5, $6, NOW())
		 ON CONFLICT (session_id) DO UPDATE
		 SET quiz_title = EXCLUDED.quiz_title,
		     slide_count = EXCLUDED.slide_count,
		     ended_at = EXCLUDED.ended_at,
		     archived_at = NOW()`,
		a.SessionID, a.JoinCode, a.TeacherID, a.QuizTitle, a.SlideCount, a.EndedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert archive: %w", err)
	}

	if len(students) > 0 {
		if err := upsertResults(ctx, tx, a.SessionID, students); err != nil {
			return err
		}
		if err := upsertResponses(ctx, tx, a.SessionID, students); err != nil {
			return err
		}
	}

	return tx.Commit(ctx)
}

func upsertResults(ctx context.Context, tx pgx.Tx, sessionID string, students []model.StudentResult) error {
	n := len(students)
	ids := make([]string, 0, n)
	names := make([]string, 0, n)
	schools := make([]string, 0, n)
	answered := make([]int32, 0, n)
	correct := make([]int32, 0, n)
	scores := make([]int32, 0, n)
	times := make([]int64, 0, n)
	for _, s := range students {
		ids = append(ids, s.StudentID)
		names = append(names, s.DisplayName)
		schools = append(schools, s.School)
		answered = append(answered, int32(s.Answered))
		correct = append(correct, int32(s.Correct))
		scores = append(scores, int32(s.Score))
		times = append(times, s.TotalTimeMs)
	}

	_, err := tx.Exec(ctx, `
		INSERT INTO session_results (session_id, student_id, display_name, school, answered, correct, score, total_time_ms)
		SELECT $1, u.student_id, u.display_name, u.school, u.answered, u.correct, u.score, u.total_time_ms
		FROM UNNEST(
			$2::text[],
			$3::text[],
			$4::text[],
			$5::int[],
			$6::int[],
			$7::int[],
			$8::bigint[]
		) AS u (student_id, display_name, school, answered, correct, score, total_time_ms)
		ON CONFLICT (session_id, student_id) DO UPDATE
		SET display_name = EXCLUDED.display_name,
		    school = EXCLUDED.school,
		    answered = EXCLUDED.answered,
		    correct = EXCLUDED.correct,
		    score = EXCLUDED.score,
		    total_time_ms = EXCLUDED.total_time_ms`,
		sessionID, ids, names, schools, answered, correct, scores, times,
	)
	if err != nil {
		return fmt.Errorf("upsert results: %w", err)
	}
	return nil
}

func upsertResponses(ctx context.Context, tx pgx.Tx, sessionID string, students []model.StudentResult) error {
	batch := &pgx.Batch{}
	for _, s := range students {
		for _, a := range s.Responses {
			batch.Queue(
				`INSERT INTO session_responses
				   (session_id, student_id, slide_id, activity_type, answer, is_correct, points, answered_at, time_spent_seconds)
				 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
				 ON CONFLICT (session_id, student_id, slide_id) DO UPDATE
				 SET answer = EXCLUDED.answer,
				     is_correct = EXCLUDED.is_correct,
				     points = EXCLUDED.points`,
				sessionID, s.StudentID, a.SlideID, string(a.ActivityType), []byte(a.Answer),
				a.IsCorrect, a.Points, a.AnsweredAt, a.TimeSpentSeconds,
			)
		}
	}
	if batch.Len() == 0 {
		return nil
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("upsert responses: %w", err)
	}
	return nil
}

// GetResults reads an archived session back.
func (r *ResultRepository) GetResults(ctx context.Context, sessionID string) (*model.SessionResults, error) {
	out := &model.SessionResults{}
	a := &out.Archive
	err := r.pool.QueryRow(ctx,
		`SELECT session_id, join_code, teacher_id, quiz_title, slide_count, ended_at, archived_at
		 FROM session_archives WHERE session_id = $1`, sessionID,
	).Scan(&a.SessionID, &a.JoinCode, &a.TeacherID, &a.QuizTitle, &a.SlideCount, &a.EndedAt, &a.ArchivedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNoResults
	}
	if err != nil {
		return nil, err
	}

	rows, err := r.pool.Query(ctx,
		`SELECT student_id, display_name, school, answered, correct, score, total_time_ms
		 FROM session_results
		 WHERE session_id = $1
		 ORDER BY score DESC, display_name`, sessionID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	index := make(map[string]int)
	for rows.Next() {
		var s model.StudentResult
		if err := rows.Scan(&s.StudentID, &s.DisplayName, &s.School, &s.Answered, &s.Correct, &s.Score, &s.TotalTimeMs); err != nil {
			return nil, err
		}
		s.Responses = []model.ArchivedAnswer{}
		index[s.StudentID] = len(out.Students)
		out.Students = append(out.Students, s)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	respRows, err := r.pool.Query(ctx,
		`SELECT student_id, slide_id, activity_type, answer, is_correct, points, answered_at, time_spent_seconds
		 FROM session_responses
		 WHERE session_id = $1
		 ORDER BY answered_at, slide_id`, sessionID,
	)
	if err != nil {
		return nil, err
	}
	defer respRows.Close()

	for respRows.Next() {
		var (
			studentID, activity string
			answer              []byte
			ans                 model.ArchivedAnswer
			answeredAt          time.Time
		)
		if err := respRows.Scan(&studentID, &ans.SlideID, &activity, &answer, &ans.IsCorrect, &ans.Points, &answeredAt, &ans.TimeSpentSeconds); err != nil {
			return nil, err
		}
		ans.ActivityType = model.ActivityType(activity)
		ans.Answer = answer
		ans.AnsweredAt = answeredAt
		if i, ok := index[studentID]; ok {
			out.Students[i].Responses = append(out.Students[i].Responses, ans)
		}
	}
	return out, respRows.Err()
}

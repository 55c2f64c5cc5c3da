package model

import (
	"encoding/json"
	"time"
)

// SessionArchive is the relational copy of an ended session.
type SessionArchive struct {
	SessionID  string    `json:"session_id"`
	JoinCode   string    `json:"join_code"`
	TeacherID  int       `json:"teacher_id"`
	QuizTitle  string    `json:"quiz_title"`
	SlideCount int       `json:"slide_count"`
	EndedAt    time.Time `json:"ended_at"`
	ArchivedAt time.Time `json:"archived_at"`
}

// StudentResult is one student's aggregate in an archived session.
type StudentResult struct {
	StudentID   string           `json:"student_id"`
	DisplayName string           `json:"display_name"`
	School      string           `json:"school,omitempty"`
	Answered    int              `json:"answered"`
	Correct     int              `json:"correct"`
	Score       int              `json:"score"`
	TotalTimeMs int64            `json:"total_time_ms"`
	Responses   []ArchivedAnswer `json:"responses"`
}

// ArchivedAnswer is one archived response row.
type ArchivedAnswer struct {
	SlideID          string          `json:"slide_id"`
	ActivityType     ActivityType    `json:"activity_type"`
	Answer           json.RawMessage `json:"answer"`
	IsCorrect        *bool           `json:"is_correct"`
	Points           int             `json:"points"`
	AnsweredAt       time.Time       `json:"answered_at"`
	TimeSpentSeconds int             `json:"time_spent_seconds"`
}

// SessionResults is the payload of the results endpoint.
type SessionResults struct {
	Archive  SessionArchive  `json:"archive"`
	Students []StudentResult `json:"students"`
}

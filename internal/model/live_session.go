package model

import (
	"encoding/json"
	"fmt"
	"sort"
)

// SessionSettings are teacher-chosen knobs of a live session.
type SessionSettings struct {
	// ImmediateFeedback grades answers on the student's device at submit
	// time; otherwise isCorrect stays null until the teacher evaluates.
	ImmediateFeedback bool `json:"immediateFeedback"`
}

// SessionRecord is the shared, server-held state of one live session.
// isActive goes true→false exactly once.
type SessionRecord struct {
	ID                string                          `json:"-"`
	JoinCode          string                          `json:"joinCode"`
	TeacherID         int                             `json:"teacherId"`
	IsActive          bool                            `json:"isActive"`
	IsPaused          bool                            `json:"isPaused"`
	IsLocked          bool                            `json:"isLocked"`
	CurrentSlideIndex int                             `json:"currentSlideIndex"`
	CreatedAt         int64                           `json:"createdAt"`
	EndedAt           int64                           `json:"endedAt,omitempty"`
	Settings          SessionSettings                 `json:"settings"`
	Quiz              Quiz                            `json:"quiz"`
	Students          map[string]*StudentSessionState `json:"students,omitempty"`
}

// Student returns the sub-record of studentID, or nil.
func (r *SessionRecord) Student(studentID string) *StudentSessionState {
	if r == nil || r.Students == nil {
		return nil
	}
	return r.Students[studentID]
}

// StudentSessionState is one student's sub-record inside a session. Only the
// owning student writes it, except the evaluation fields of its responses.
type StudentSessionState struct {
	DisplayName       string       `json:"displayName"`
	School            string       `json:"school,omitempty"`
	JoinedAt          int64        `json:"joinedAt"`
	CurrentSlideIndex int          `json:"currentSlideIndex"`
	Responses         ResponseList `json:"responses,omitempty"`
	IsOnline          bool         `json:"isOnline"`
	IsFocused         bool         `json:"isFocused"`
	LastSeenAt        int64        `json:"lastSeenAt"`
	DeviceID          string       `json:"deviceId"`
	SessionStartedAt  int64        `json:"sessionStartedAt"`
	TotalTimeMs       int64        `json:"totalTimeMs"`
}

// SlideResponse is one submitted answer. IsCorrect nil means "not evaluated yet".
type SlideResponse struct {
	SlideID          string       `json:"slideId"`
	ActivityType     ActivityType `json:"activityType"`
	Answer           Answer       `json:"-"`
	IsCorrect        *bool        `json:"isCorrect"`
	Points           int          `json:"points"`
	AnsweredAt       int64        `json:"answeredAt"`
	TimeSpentSeconds int          `json:"timeSpentSeconds"`
}

type slideResponseJSON struct {
	SlideID          string          `json:"slideId"`
	ActivityType     ActivityType    `json:"activityType"`
	Answer           json.RawMessage `json:"answer"`
	IsCorrect        *bool           `json:"isCorrect"`
	Points           int             `json:"points"`
	AnsweredAt       int64           `json:"answeredAt"`
	TimeSpentSeconds int             `json:"timeSpentSeconds"`
}

func (r SlideResponse) MarshalJSON() ([]byte, error) {
	answer, err := encodeAnswer(r.Answer)
	if err != nil {
		return nil, err
	}
	return json.Marshal(slideResponseJSON{
		SlideID:          r.SlideID,
		ActivityType:     r.ActivityType,
		Answer:           answer,
		IsCorrect:        r.IsCorrect,
		Points:           r.Points,
		AnsweredAt:       r.AnsweredAt,
		TimeSpentSeconds: r.TimeSpentSeconds,
	})
}

func (r *SlideResponse) UnmarshalJSON(data []byte) error {
	var raw slideResponseJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	answer, err := decodeAnswer(raw.ActivityType, raw.Answer)
	if err != nil {
		return fmt.Errorf("response %q: %w", raw.SlideID, err)
	}
	*r = SlideResponse{
		SlideID:          raw.SlideID,
		ActivityType:     raw.ActivityType,
		Answer:           answer,
		IsCorrect:        raw.IsCorrect,
		Points:           raw.Points,
		AnsweredAt:       raw.AnsweredAt,
		TimeSpentSeconds: raw.TimeSpentSeconds,
	}
	return nil
}

// AnswerJSON returns the wire form of the answer payload.
func (r SlideResponse) AnswerJSON() (json.RawMessage, error) {
	return encodeAnswer(r.Answer)
}

// SameEvaluation reports whether two responses carry the same teacher-owned fields.
func (r SlideResponse) SameEvaluation(o SlideResponse) bool {
	if r.Points != o.Points {
		return false
	}
	switch {
	case r.IsCorrect == nil && o.IsCorrect == nil:
		return true
	case r.IsCorrect == nil || o.IsCorrect == nil:
		return false
	default:
		return *r.IsCorrect == *o.IsCorrect
	}
}

// ResponseList is a student's responses in answer order. It is stored as an
// object keyed by slide id, so a slide id can appear at most once and each
// submission writes only its own entry.
type ResponseList []SlideResponse

// Find returns the response for slideID.
func (l ResponseList) Find(slideID string) (SlideResponse, bool) {
	for _, r := range l {
		if r.SlideID == slideID {
			return r, true
		}
	}
	return SlideResponse{}, false
}

// Sort orders by answeredAt, then slide id.
func (l ResponseList) Sort() {
	sort.SliceStable(l, func(i, j int) bool {
		if l[i].AnsweredAt != l[j].AnsweredAt {
			return l[i].AnsweredAt < l[j].AnsweredAt
		}
		return l[i].SlideID < l[j].SlideID
	})
}

// Clone returns an independent copy.
func (l ResponseList) Clone() ResponseList {
	if l == nil {
		return nil
	}
	out := make(ResponseList, len(l))
	for i, r := range l {
		if r.IsCorrect != nil {
			v := *r.IsCorrect
			r.IsCorrect = &v
		}
		out[i] = r
	}
	return out
}

func (l ResponseList) MarshalJSON() ([]byte, error) {
	byID := make(map[string]SlideResponse, len(l))
	for _, r := range l {
		byID[r.SlideID] = r
	}
	return json.Marshal(byID)
}

// UnmarshalJSON accepts the keyed object form and, for older records, a plain array.
func (l *ResponseList) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*l = nil
		return nil
	}

	var out ResponseList
	if len(data) > 0 && data[0] == '[' {
		var arr []*SlideResponse
		if err := json.Unmarshal(data, &arr); err != nil {
			return err
		}
		seen := make(map[string]bool, len(arr))
		for _, r := range arr {
			if r == nil || seen[r.SlideID] {
				continue
			}
			seen[r.SlideID] = true
			out = append(out, *r)
		}
	} else {
		var byID map[string]*SlideResponse
		if err := json.Unmarshal(data, &byID); err != nil {
			return err
		}
		for id, r := range byID {
			if r == nil {
				continue
			}
			if r.SlideID == "" {
				r.SlideID = id
			}
			out = append(out, *r)
		}
	}
	out.Sort()
	*l = out
	return nil
}

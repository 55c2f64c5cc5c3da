package model

// CreateSessionRequest starts a live session for a deck.
type CreateSessionRequest struct {
	Quiz              Quiz `json:"quiz" binding:"required"`
	ImmediateFeedback bool `json:"immediate_feedback"`
	Locked            bool `json:"locked"`
}

// SetSlideRequest moves the teacher-controlled slide pointer.
type SetSlideRequest struct {
	Index *int `json:"index" binding:"required,min=0"`
}

// SetFlagRequest toggles the lock or pause flag.
type SetFlagRequest struct {
	Value *bool `json:"value" binding:"required"`
}

// EvaluateResponseRequest carries a teacher's verdict on one response.
type EvaluateResponseRequest struct {
	IsCorrect *bool `json:"is_correct" binding:"required"`
	Points    int   `json:"points" binding:"min=0,max=10000"`
}

// CodeLookupRequest is the path of the public code lookup.
type CodeLookupRequest struct {
	Code string `json:"code" uri:"code" binding:"required,joincode"`
}

// CodeLookup is the public answer to "which session does this code open?".
type CodeLookup struct {
	SessionID string `json:"session_id"`
	IsActive  bool   `json:"is_active"`
}

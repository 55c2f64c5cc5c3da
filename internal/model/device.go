package model

import "time"

// StudentIdentity is the device-local, session-independent identity of a
// student. ID never changes once created; DisplayName follows the last join.
type StudentIdentity struct {
	ID          string    `json:"id"`
	DisplayName string    `json:"displayName"`
	CreatedAt   time.Time `json:"createdAt"`
}

// SessionPointer remembers the last joined session so a reload can try a
// silent reconnect. It is a hint, never authoritative.
type SessionPointer struct {
	SessionID          string    `json:"sessionId"`
	JoinCode           string    `json:"joinCode"`
	StudentID          string    `json:"studentId"`
	StudentDisplayName string    `json:"studentDisplayName"`
	JoinedAt           time.Time `json:"joinedAt"`
}

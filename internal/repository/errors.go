package repository

import "errors"

var (
	ErrSessionNotFound = errors.New("session not found")
	ErrStudentNotFound = errors.New("student not in session")
	ErrCodeNotFound    = errors.New("join code not found")
	ErrCodeTaken       = errors.New("join code already reserved")
	ErrReactivation    = errors.New("an ended session cannot be reactivated")
	ErrNoResults       = errors.New("session has not been archived")
	ErrEmailTaken      = errors.New("email already registered")
)

package response

// ErrCode is a typed error code enum for consistent API error identification.
type ErrCode string

const (
	// ─── Authentication ────────────────────────────────────────────────
	ErrInvalidCredentials ErrCode = "INVALID_CREDENTIALS"
	ErrTokenRequired      ErrCode = "TOKEN_REQUIRED"
	ErrTokenInvalid       ErrCode = "TOKEN_INVALID"
	ErrTokenRevoked       ErrCode = "TOKEN_REVOKED"

	// ─── Authorization ─────────────────────────────────────────────────
	ErrForbidden         ErrCode = "FORBIDDEN"
	ErrTeacherAccessOnly ErrCode = "TEACHER_ACCESS_ONLY"
	ErrNotSessionOwner   ErrCode = "NOT_SESSION_OWNER"

	// ─── Validation ────────────────────────────────────────────────────
	ErrValidation     ErrCode = "VALIDATION_ERROR"
	ErrInvalidPayload ErrCode = "INVALID_PAYLOAD"
	ErrInvalidQuiz    ErrCode = "INVALID_QUIZ"

	// ─── Resources ─────────────────────────────────────────────────────
	ErrNotFound ErrCode = "NOT_FOUND"
	ErrConflict ErrCode = "CONFLICT"

	// ─── Live sessions ─────────────────────────────────────────────────
	ErrSessionNotFound  ErrCode = "SESSION_NOT_FOUND"
	ErrCodeNotFound     ErrCode = "CODE_NOT_FOUND"
	ErrSessionEnded     ErrCode = "SESSION_ENDED"
	ErrSlideOutOfRange  ErrCode = "SLIDE_OUT_OF_RANGE"
	ErrStudentNotFound  ErrCode = "STUDENT_NOT_FOUND"
	ErrResponseNotFound ErrCode = "RESPONSE_NOT_FOUND"
	ErrNotArchived      ErrCode = "NOT_ARCHIVED"

	// ─── Rate Limiting ─────────────────────────────────────────────────
	ErrRateLimitExceeded ErrCode = "RATE_LIMIT_EXCEEDED"

	// ─── Server ────────────────────────────────────────────────────────
	ErrInternal    ErrCode = "INTERNAL_ERROR"
	ErrUnavailable ErrCode = "SERVICE_UNAVAILABLE"
)

// GetMessage returns a human-readable message for a given error code.
func GetMessage(code ErrCode) string {
	switch code {
	// ─── Authentication ────────────────────────────────────────────────
	case ErrInvalidCredentials:
		return "Incorrect email or password."
	case ErrTokenRequired:
		return "An authentication token is required."
	case ErrTokenInvalid:
		return "The authentication token is invalid or expired."
	case ErrTokenRevoked:
		return "You have been logged out. Please log in again."

	// ─── Authorization ─────────────────────────────────────────────────
	case ErrForbidden:
		return "You are not allowed to access this resource."
	case ErrTeacherAccessOnly:
		return "This resource is for teachers only."
	case ErrNotSessionOwner:
		return "This session belongs to another teacher."

	// ─── Validation ────────────────────────────────────────────────────
	case ErrValidation:
		return "Validation failed. Please check your input."
	case ErrInvalidPayload:
		return "The request payload is invalid."
	case ErrInvalidQuiz:
		return "The quiz cannot be run as a live session."

	// ─── Resources ─────────────────────────────────────────────────────
	case ErrNotFound:
		return "Resource not found."
	case ErrConflict:
		return "Resource already exists."

	// ─── Live sessions ─────────────────────────────────────────────────
	case ErrSessionNotFound:
		return "Session not found."
	case ErrCodeNotFound:
		return "No session uses this code."
	case ErrSessionEnded:
		return "This session has ended."
	case ErrSlideOutOfRange:
		return "That slide does not exist in this quiz."
	case ErrStudentNotFound:
		return "That student is not in this session."
	case ErrResponseNotFound:
		return "The student has not answered that slide."
	case ErrNotArchived:
		return "Results are not available yet. End the session and try again shortly."

	// ─── Rate Limiting ─────────────────────────────────────────────────
	case ErrRateLimitExceeded:
		return "Too many requests. Please try again later."

	// ─── Server ────────────────────────────────────────────────────────
	case ErrInternal:
		return "Internal server error."
	case ErrUnavailable:
		return "The live session store is unreachable."
	default:
		return "An unexpected error occurred."
	}
}

package response

// ErrCode is a typed error code enum for consistent API error identification.
type ErrCode string

const (
	// ─── Validation ────────────────────────────────────────────────────
	ErrValidation      ErrCode = "VALIDATION_ERROR"
	ErrInvalidPayload  ErrCode = "INVALID_PAYLOAD"
	ErrStudentRequired ErrCode = "STUDENT_REQUIRED"

	// ─── Resources ─────────────────────────────────────────────────────
	ErrNotFound        ErrCode = "NOT_FOUND"
	ErrTestNotFound    ErrCode = "TEST_NOT_FOUND"
	ErrSessionNotFound ErrCode = "SESSION_NOT_FOUND"

	// ─── Attempt-specific ──────────────────────────────────────────────
	ErrSessionFinished    ErrCode = "SESSION_ALREADY_FINISHED"
	ErrSessionForbidden   ErrCode = "SESSION_FORBIDDEN"
	ErrQuestionOutOfRange ErrCode = "QUESTION_OUT_OF_RANGE"
	ErrUnknownQuestion    ErrCode = "UNKNOWN_QUESTION"
	ErrNoQuestions        ErrCode = "NO_QUESTIONS"

	// ─── Rate Limiting ─────────────────────────────────────────────────
	ErrRateLimitExceeded ErrCode = "RATE_LIMIT_EXCEEDED"

	// ─── Server ────────────────────────────────────────────────────────
	ErrInternal ErrCode = "INTERNAL_ERROR"
)

// GetMessage returns a human-readable message for a given error code.
func GetMessage(code ErrCode) string {
	switch code {
	case ErrValidation:
		return "Validation failed. Please check your input."
	case ErrInvalidPayload:
		return "Invalid request payload."
	case ErrStudentRequired:
		return "A student identity is required."

	case ErrNotFound:
		return "Resource not found."
	case ErrTestNotFound:
		return "This test does not exist."
	case ErrSessionNotFound:
		return "This test session does not exist."

	case ErrSessionFinished:
		return "This test session has already been submitted."
	case ErrSessionForbidden:
		return "This test session belongs to another student."
	case ErrQuestionOutOfRange:
		return "Question number is out of range."
	case ErrUnknownQuestion:
		return "The answer refers to a question outside the current page."
	case ErrNoQuestions:
		return "This test has no questions."

	case ErrRateLimitExceeded:
		return "Too many requests. Please try again later."

	case ErrInternal:
		return "Internal server error."
	default:
		return "An unexpected error occurred."
	}
}

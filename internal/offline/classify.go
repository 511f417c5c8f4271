package offline

import (
	"context"
	"errors"
	"strings"

	"lumina-exam-agent/internal/services"
)

var permanentStatusCodes = map[int]bool{
	400: true,
	404: true,
	409: true,
	422: true,
}

var permanentErrorCodes = map[string]bool{
	"DUPLICATE_SUBMISSION": true,
	"ALREADY_SUBMITTED":    true,
	"ANSWER_EXISTS":        true,
}

// IsPermanent reports whether a failed upload can never succeed and should be
// dropped from the queue. Structured status and error codes are checked first;
// message matching is the fallback.
func IsPermanent(err error) bool {
	if err == nil {
		return false
	}

	var netErr *services.NetworkError
	if errors.As(err, &netErr) || errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return false
	}

	var subErr *services.SubmissionError
	if errors.As(err, &subErr) {
		if permanentStatusCodes[subErr.StatusCode] {
			return true
		}
		if permanentErrorCodes[strings.ToUpper(strings.TrimSpace(subErr.Code))] {
			return true
		}
		return mentionsDuplicate(subErr.Message)
	}

	return mentionsDuplicate(err.Error())
}

func mentionsDuplicate(msg string) bool {
	msg = strings.ToLower(msg)
	return strings.Contains(msg, "duplicate") || strings.Contains(msg, "already exists")
}

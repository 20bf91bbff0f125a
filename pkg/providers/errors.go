package providers

import "strings"

// IsQuotaError reports whether a backend error looks like rate
// limiting or quota exhaustion, which the agent loop retries with
// backoff and surfaces with a friendlier message.
func IsQuotaError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "status=429") || strings.Contains(msg, "quota") {
		return true
	}
	return strings.Contains(msg, "resource") && strings.Contains(msg, "exhausted")
}

// IsContextLengthError reports whether the backend rejected the
// request for being over its context window, which the loop answers
// by tightening the prompt window and retrying once.
func IsContextLengthError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "context length") ||
		strings.Contains(msg, "context_length_exceeded") ||
		strings.Contains(msg, "maximum context") ||
		strings.Contains(msg, "too many tokens")
}

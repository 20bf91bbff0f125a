package tools

import "strings"

// ToolResult is the outcome of a single tool execution.
//
// ForLLM is what goes back into the model conversation; ForUser, when
// set and not Silent, is relayed directly to the chat surface.
// Ambiguous marks a result that needs the user to disambiguate before
// the operation can proceed; it is a distinct result kind, not an error.
type ToolResult struct {
	ForLLM    string
	ForUser   string
	Silent    bool
	IsError   bool
	Ambiguous bool
	Options   []string
	Err       error
}

// UserResult returns a result whose text is shown to both the model and
// the user.
func UserResult(content string) *ToolResult {
	return &ToolResult{ForLLM: content, ForUser: content}
}

// SilentResult returns a result visible to the model only.
func SilentResult(forLLM string) *ToolResult {
	return &ToolResult{ForLLM: forLLM, Silent: true}
}

// ErrorResult returns a failed result. The message is surfaced to the
// model so it can rephrase or retry.
func ErrorResult(msg string) *ToolResult {
	return &ToolResult{ForLLM: msg, IsError: true}
}

// AmbiguousResult returns a disambiguation request listing the
// candidate matches. The agent loop surfaces it as a clarification
// question instead of silently picking one. The candidate list always
// reaches the model, even when the caller passes no message.
func AmbiguousResult(forLLM string, options []string) *ToolResult {
	if forLLM == "" && len(options) > 0 {
		forLLM = "Multiple matches found. Ask the user which one:\n- " + strings.Join(options, "\n- ")
	}
	return &ToolResult{ForLLM: forLLM, Ambiguous: true, Options: options}
}

// WithError attaches the underlying error to the result.
func (r *ToolResult) WithError(err error) *ToolResult {
	r.Err = err
	return r
}

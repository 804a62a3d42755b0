package models

// ErrorKind is the closed taxonomy of gateway failures. Kinds are carried
// as structured payloads on tool results, audit events, and API errors.
type ErrorKind string

const (
	ErrKindBadRequest       ErrorKind = "bad_request"
	ErrKindNotFound         ErrorKind = "not_found"
	ErrKindRateLimited      ErrorKind = "rate_limited"
	ErrKindUpstream         ErrorKind = "upstream_error"
	ErrKindToolCompile      ErrorKind = "tool_compile_error"
	ErrKindSandboxViolation ErrorKind = "sandbox_violation"
	ErrKindToolExec         ErrorKind = "tool_exec_error"
	ErrKindDeadlineExceeded ErrorKind = "deadline_exceeded"
	ErrKindRecursionLimit   ErrorKind = "recursion_limit"
	ErrKindCancelled        ErrorKind = "cancelled"
	ErrKindEmptyCompilation ErrorKind = "empty_compilation"
	ErrKindInternal         ErrorKind = "internal"
)

// ToolLevel reports whether the kind surfaces as a tool result rather than
// terminating the session.
func (k ErrorKind) ToolLevel() bool {
	switch k {
	case ErrKindSandboxViolation, ErrKindToolExec, ErrKindRecursionLimit:
		return true
	default:
		return false
	}
}

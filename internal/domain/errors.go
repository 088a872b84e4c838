package domain

import (
	"errors"
	"fmt"
)

// Category sentinels — use with NewSubSystemError for subsystem-specific
// errors. These are the preferred sentinels for new code; the FIPA-specific
// sentinels below are returned directly where a single subsystem owns the
// whole category.
var (
	ErrNotFound         = fmt.Errorf("not found")
	ErrDuplicate        = fmt.Errorf("duplicate")
	ErrTimeout          = fmt.Errorf("operation timed out")
	ErrLimitReached     = fmt.Errorf("limit reached")
	ErrPermissionDenied = fmt.Errorf("permission denied")
	ErrDisabled         = fmt.Errorf("disabled")
	ErrInvalidInput     = fmt.Errorf("invalid input")
	ErrProviderError    = fmt.Errorf("provider error")
)

// ProtocolError family (spec.md §7): recovered locally by the conversation
// handler, surfaced to the sender as NotUnderstood or Failure.
var (
	ErrInvalidTransition      = fmt.Errorf("invalid protocol transition")
	ErrValidationFailed       = fmt.Errorf("message validation failed")
	ErrProtocolNotSupported   = fmt.Errorf("protocol not supported")
	ErrMissingConversationID  = fmt.Errorf("missing conversation id")
	ErrUnknownConversation    = fmt.Errorf("unknown conversation")
)

// TransportError family: retried by the ACC; exhausted retries become a
// Failure reply to the sender.
var (
	ErrConnectionFailed = fmt.Errorf("connection failed")
	ErrInvalidAddress   = fmt.Errorf("invalid transport address")
	ErrSerialization    = fmt.Errorf("serialization failed")
	ErrNoMTPForScheme   = fmt.Errorf("no mtp registered for scheme")
	ErrEnvelopeLooped    = fmt.Errorf("envelope already stamped by this acc")
)

// AdmissionError family (AMS): returned synchronously; never retried.
var (
	ErrNameInUse        = fmt.Errorf("agent name already in use")
	ErrQuotaExceeded    = fmt.Errorf("quota exceeded")
	ErrCapabilityDenied = fmt.Errorf("capability denied")
	ErrAgentNotFound    = fmt.Errorf("agent not found")
)

// MigrationError family: fatal for that migration; agent resumes on source.
var (
	ErrHashMismatch     = fmt.Errorf("content hash mismatch")
	ErrSignatureInvalid = fmt.Errorf("signature invalid")
	ErrTargetRefused    = fmt.Errorf("migration target refused package")
	ErrSnapshotTooLarge = fmt.Errorf("snapshot exceeds size limit")
	ErrMigrationNotAllowed = fmt.Errorf("agent capabilities forbid migration")
)

// RuntimeError family: moves the agent to Faulted; snapshot preserved.
var (
	ErrMemoryQuotaExceeded = fmt.Errorf("memory quota exceeded")
	ErrTimeQuotaExceeded   = fmt.Errorf("time quota exceeded")
	ErrTrapInGuest         = fmt.Errorf("guest module trapped")
)

// Mailbox / DF / node errors.
var (
	ErrMailboxFull = fmt.Errorf("mailbox full")

	ErrServiceLimitReached = fmt.Errorf("service registration limit reached")
	ErrSubscriberNotFound  = fmt.Errorf("subscriber not found")

	ErrNodeNotFound    = fmt.Errorf("node not found")
	ErrNodeDuplicate   = fmt.Errorf("node already registered")
	ErrNodeUnreachable = fmt.Errorf("node unreachable")
	ErrNodeAuth        = fmt.Errorf("node authentication failed")
	ErrNodeNotAllowed  = fmt.Errorf("node not in allowlist")
	ErrNodeCapability  = fmt.Errorf("node does not advertise capability")
	ErrNodeInvoke      = fmt.Errorf("node invocation failed")

	ErrConfigLoad         = fmt.Errorf("failed to load configuration")
	ErrAuditWrite         = fmt.Errorf("failed to write audit log entry")
	ErrPathOutsideSandbox = fmt.Errorf("path escapes agent storage sandbox")
	ErrSSRFBlocked        = fmt.Errorf("address blocked by egress policy")
)

// DomainError wraps a sentinel error with context.
type DomainError struct {
	Op        string // operation name (e.g., "AMS.CreateAgent")
	Err       error  // underlying sentinel or wrapped error
	Detail    string // human-readable detail
	SubSystem string // subsystem identifier (e.g., "ams", "df", "sandbox")
}

func (e *DomainError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("%s: %s: %s", e.Op, e.Detail, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Err)
}

func (e *DomainError) Unwrap() error { return e.Err }

// NewDomainError creates a new DomainError.
func NewDomainError(op string, err error, detail string) *DomainError {
	return &DomainError{Op: op, Err: err, Detail: detail}
}

// NewSubSystemError creates a DomainError tagged with a subsystem for
// ErrorCode dispatch.
func NewSubSystemError(subsystem, op string, err error, detail string) *DomainError {
	return &DomainError{Op: op, Err: err, Detail: detail, SubSystem: subsystem}
}

// WrapOp adds operation context to an error using fmt.Errorf wrapping.
// Returns nil if err is nil, enabling idiomatic use: return domain.WrapOp("op", err)
func WrapOp(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", op, err)
}

// IsRetryableError reports whether err is a transient error that may
// succeed on retry — the set the ACC treats as backoff-and-retry rather
// than an immediate Failure reply.
func IsRetryableError(err error) bool {
	return errors.Is(err, ErrConnectionFailed) || errors.Is(err, ErrTimeout) || errors.Is(err, ErrNodeUnreachable)
}

// ErrorCode is a machine-parseable error category for monitoring, and the
// value carried as "failure-reason" in a Failure ACL message.
type ErrorCode string

const (
	CodeUnknown ErrorCode = "UNKNOWN"

	CodeInvalidTransition     ErrorCode = "INVALID_TRANSITION"
	CodeValidationFailed      ErrorCode = "VALIDATION_FAILED"
	CodeProtocolNotSupported  ErrorCode = "NOT_SUPPORTED"
	CodeMissingConversationID ErrorCode = "MISSING_CONVERSATION_ID"
	CodeUnknownConversation   ErrorCode = "UNKNOWN_CONVERSATION"

	CodeConnectionFailed ErrorCode = "CONNECTION_FAILED"
	CodeTimeout          ErrorCode = "TIMEOUT"
	CodeInvalidAddress   ErrorCode = "INVALID_ADDRESS"
	CodeSerialization    ErrorCode = "SERIALIZATION"

	CodeNameInUse        ErrorCode = "NAME_IN_USE"
	CodeQuotaExceeded    ErrorCode = "QUOTA_EXCEEDED"
	CodeCapabilityDenied ErrorCode = "CAPABILITY_DENIED"
	CodeAgentNotFound    ErrorCode = "AGENT_NOT_FOUND"

	CodeHashMismatch        ErrorCode = "HASH_MISMATCH"
	CodeSignatureInvalid    ErrorCode = "SIGNATURE_INVALID"
	CodeTargetRefused       ErrorCode = "TARGET_REFUSED"
	CodeSnapshotTooLarge    ErrorCode = "SNAPSHOT_TOO_LARGE"
	CodeMigrationNotAllowed ErrorCode = "MIGRATION_NOT_ALLOWED"

	CodeMemoryQuotaExceeded ErrorCode = "MEMORY_QUOTA_EXCEEDED"
	CodeTimeQuotaExceeded   ErrorCode = "TIME_QUOTA_EXCEEDED"
	CodeTrapInGuest         ErrorCode = "TRAP_IN_GUEST"

	CodeMailboxFull         ErrorCode = "MAILBOX_FULL"
	CodeServiceLimitReached ErrorCode = "SERVICE_LIMIT_REACHED"
	CodeSubscriberNotFound  ErrorCode = "SUBSCRIBER_NOT_FOUND"

	CodeNodeNotFound    ErrorCode = "NODE_NOT_FOUND"
	CodeNodeDuplicate   ErrorCode = "NODE_DUPLICATE"
	CodeNodeUnreachable ErrorCode = "NODE_UNREACHABLE"
	CodeNodeAuth        ErrorCode = "NODE_AUTH"
	CodeNodeNotAllowed  ErrorCode = "NODE_NOT_ALLOWED"
	CodeNodeCapability  ErrorCode = "NODE_CAPABILITY"
	CodeNodeInvoke      ErrorCode = "NODE_INVOKE"

	CodeNotFound         ErrorCode = "NOT_FOUND"
	CodeDuplicate        ErrorCode = "DUPLICATE"
	CodeLimitReached     ErrorCode = "LIMIT_REACHED"
	CodePermissionDenied ErrorCode = "PERMISSION_DENIED"
	CodeDisabled         ErrorCode = "DISABLED"
	CodeInvalidInput     ErrorCode = "INVALID_INPUT"
	CodeProviderError    ErrorCode = "PROVIDER_ERROR"

	CodePathOutsideSandbox ErrorCode = "PATH_OUTSIDE_SANDBOX"
	CodeSSRFBlocked        ErrorCode = "SSRF_BLOCKED"
)

// errorCodeMap maps sentinel errors to their machine-parseable codes.
var errorCodeMap = map[error]ErrorCode{
	ErrNotFound:         CodeNotFound,
	ErrDuplicate:        CodeDuplicate,
	ErrTimeout:          CodeTimeout,
	ErrLimitReached:     CodeLimitReached,
	ErrPermissionDenied: CodePermissionDenied,
	ErrDisabled:         CodeDisabled,
	ErrInvalidInput:     CodeInvalidInput,
	ErrProviderError:    CodeProviderError,

	ErrInvalidTransition:     CodeInvalidTransition,
	ErrValidationFailed:      CodeValidationFailed,
	ErrProtocolNotSupported:  CodeProtocolNotSupported,
	ErrMissingConversationID: CodeMissingConversationID,
	ErrUnknownConversation:   CodeUnknownConversation,

	ErrConnectionFailed: CodeConnectionFailed,
	ErrInvalidAddress:   CodeInvalidAddress,
	ErrSerialization:    CodeSerialization,

	ErrNameInUse:        CodeNameInUse,
	ErrQuotaExceeded:    CodeQuotaExceeded,
	ErrCapabilityDenied: CodeCapabilityDenied,
	ErrAgentNotFound:    CodeAgentNotFound,

	ErrHashMismatch:        CodeHashMismatch,
	ErrSignatureInvalid:    CodeSignatureInvalid,
	ErrTargetRefused:       CodeTargetRefused,
	ErrSnapshotTooLarge:    CodeSnapshotTooLarge,
	ErrMigrationNotAllowed: CodeMigrationNotAllowed,

	ErrMemoryQuotaExceeded: CodeMemoryQuotaExceeded,
	ErrTimeQuotaExceeded:   CodeTimeQuotaExceeded,
	ErrTrapInGuest:         CodeTrapInGuest,

	ErrMailboxFull:         CodeMailboxFull,
	ErrServiceLimitReached: CodeServiceLimitReached,
	ErrSubscriberNotFound:  CodeSubscriberNotFound,

	ErrNodeNotFound:    CodeNodeNotFound,
	ErrNodeDuplicate:   CodeNodeDuplicate,
	ErrNodeUnreachable: CodeNodeUnreachable,
	ErrNodeAuth:        CodeNodeAuth,
	ErrNodeNotAllowed:  CodeNodeNotAllowed,
	ErrNodeCapability:  CodeNodeCapability,
	ErrNodeInvoke:      CodeNodeInvoke,

	ErrPathOutsideSandbox: CodePathOutsideSandbox,
	ErrSSRFBlocked:        CodeSSRFBlocked,
}

// ErrorCodeOf returns the machine-parseable error code for the given error.
// It unwraps DomainError and uses errors.Is to match sentinel errors.
// Returns CodeUnknown if no matching sentinel is found.
func ErrorCodeOf(err error) ErrorCode {
	if err == nil {
		return CodeUnknown
	}

	if code, ok := errorCodeMap[err]; ok {
		return code
	}

	var de *DomainError
	if errors.As(err, &de) {
		if code, ok := errorCodeMap[de.Err]; ok {
			return code
		}
	}

	for sentinel, code := range errorCodeMap {
		if errors.Is(err, sentinel) {
			return code
		}
	}

	return CodeUnknown
}

// Code returns the ErrorCode for this DomainError's underlying sentinel.
func (e *DomainError) Code() ErrorCode {
	if code, ok := errorCodeMap[e.Err]; ok {
		return code
	}
	return CodeUnknown
}

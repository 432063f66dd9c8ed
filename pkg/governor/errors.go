package governor

import "errors"

// Denial classification. Decision.Denial wraps one of these so callers can
// branch on the class of refusal without parsing reason strings.
var (
	ErrApprovalDenied     = errors.New("approval denied")
	ErrRecursionLimit     = errors.New("recursion depth limit exceeded")
	ErrSystemAgentCap     = errors.New("system agent cap exceeded")
	ErrBudgetInsufficient = errors.New("insufficient resource budget")
	ErrCircuitOpen        = errors.New("circuit breaker open")
	ErrHierarchyPaused    = errors.New("agent hierarchy paused")
	ErrQuotaViolation     = errors.New("user quota violated")
	ErrTempoThrottled     = errors.New("system tempo throttled")

	// ErrUnknownAgent is returned when a request references an agent the
	// governor has never seen.
	ErrUnknownAgent = errors.New("unknown agent")
)

// File: internal/usecase/retry_policy.go
package usecase

import (
	"time"
)

// FailureAction is the closed set of reactions to a failed deduction. Gateway
// error codes are classified into one of these; codes we have never seen fail
// closed into a single bounded retry instead of falling through silently.
type FailureAction int

const (
	// ActionRetry schedules another attempt on the day-level backoff schedule.
	ActionRetry FailureAction = iota
	// ActionRetryLater re-runs the same attempt after a short delay, without
	// consuming a slot on the backoff schedule.
	ActionRetryLater
	// ActionStop permanently disables auto-renewal on the entitlement and
	// surfaces a user-visible reason.
	ActionStop
)

func (a FailureAction) String() string {
	switch a {
	case ActionRetry:
		return "retry"
	case ActionRetryLater:
		return "retry_later"
	case ActionStop:
		return "stop"
	default:
		return "unknown"
	}
}

// Decision is the policy's verdict for one failure.
type Decision struct {
	Action FailureAction
	Delay  time.Duration // for retry/retry_later: wait before the next attempt
	Reason string        // human-readable, user-visible on stop
}

// Gateway failure codes the policy knows about. These are provider-agnostic
// classifications; gateway adapters map provider codes onto them.
const (
	FailCodeInsufficientBalance = "INSUFFICIENT_BALANCE"
	FailCodeBankUnavailable     = "BANK_UNAVAILABLE"
	FailCodeSystemBusy          = "SYSTEM_BUSY"
	FailCodeContractTerminated  = "CONTRACT_TERMINATED"
	FailCodeMandateRevoked      = "MANDATE_REVOKED"
	FailCodeAccountClosed       = "ACCOUNT_CLOSED"
	FailCodeRiskRejected        = "RISK_REJECTED"
)

// RetryPolicy maps deduction failure codes to actions and owns the backoff
// schedule. The zero retry count consumes schedule[0], and the schedule's last
// entry repeats until maxRetries is exhausted.
type RetryPolicy struct {
	schedule   []time.Duration
	shortDelay time.Duration
	maxRetries int
	actions    map[string]FailureAction
}

// NewRetryPolicy builds a policy. A nil or empty schedule falls back to the
// default 1/3/7 day ladder; maxRetries <= 0 falls back to the schedule length.
func NewRetryPolicy(schedule []time.Duration, shortDelay time.Duration, maxRetries int) *RetryPolicy {
	if len(schedule) == 0 {
		schedule = []time.Duration{24 * time.Hour, 3 * 24 * time.Hour, 7 * 24 * time.Hour}
	}
	if shortDelay <= 0 {
		shortDelay = 2 * time.Hour
	}
	if maxRetries <= 0 {
		maxRetries = len(schedule)
	}
	return &RetryPolicy{
		schedule:   schedule,
		shortDelay: shortDelay,
		maxRetries: maxRetries,
		actions: map[string]FailureAction{
			FailCodeInsufficientBalance: ActionRetry,
			FailCodeBankUnavailable:     ActionRetryLater,
			FailCodeSystemBusy:          ActionRetryLater,
			FailCodeContractTerminated:  ActionStop,
			FailCodeMandateRevoked:      ActionStop,
			FailCodeAccountClosed:       ActionStop,
			FailCodeRiskRejected:        ActionStop,
		},
	}
}

// Decide classifies one failure. retryCount is the attempt's count after the
// failure has been recorded (first failure = 1). Exceeding maxRetries forces
// a stop regardless of classification.
func (p *RetryPolicy) Decide(errorCode string, retryCount int) Decision {
	action, known := p.actions[errorCode]
	if !known {
		// Fail closed: one bounded retry for codes we cannot classify.
		if retryCount > 1 {
			return Decision{Action: ActionStop, Reason: "renewal failed with unrecognized code " + errorCode}
		}
		return Decision{Action: ActionRetry, Delay: p.schedule[0]}
	}

	if retryCount > p.maxRetries {
		return Decision{Action: ActionStop, Reason: "renewal retries exhausted"}
	}

	switch action {
	case ActionRetry:
		idx := retryCount - 1
		if idx < 0 {
			idx = 0
		}
		if idx >= len(p.schedule) {
			idx = len(p.schedule) - 1
		}
		return Decision{Action: ActionRetry, Delay: p.schedule[idx]}
	case ActionRetryLater:
		return Decision{Action: ActionRetryLater, Delay: p.shortDelay}
	case ActionStop:
		return Decision{Action: ActionStop, Reason: "renewal rejected by payment provider: " + errorCode}
	default:
		// Unreachable with the closed enum; kept so a future action cannot
		// fall through silently.
		return Decision{Action: ActionStop, Reason: "unclassifiable renewal failure"}
	}
}

// MaxRetries exposes the bound for callers recording attempt state.
func (p *RetryPolicy) MaxRetries() int { return p.maxRetries }

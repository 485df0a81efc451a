package classify

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/duyttran/syncline/internal/core/domain"
)

// Result is the classification of one failed push.
type Result struct {
	Category   domain.ErrorCategory
	RetryAfter *time.Time
}

// statusCategories maps HTTP status codes to error categories.
var statusCategories = map[int]domain.ErrorCategory{
	400: domain.CategoryPermanent,
	401: domain.CategoryPermanent,
	403: domain.CategoryPermanent,
	404: domain.CategoryPermanent,
	422: domain.CategoryPermanent,
	409: domain.CategoryConflict,
	429: domain.CategoryTransient,
	500: domain.CategoryTransient,
	502: domain.CategoryTransient,
	503: domain.CategoryTransient,
	504: domain.CategoryTransient,
}

// messageRule matches a lowercased error message against known substrings.
type messageRule struct {
	patterns []string
	category domain.ErrorCategory
}

// messageRules are evaluated top-down; structural patterns first so a
// malformed-payload failure is never mistaken for a network outage.
var messageRules = []messageRule{
	{
		patterns: []string{
			"json parse error",
			"unexpected token",
			"invalid payload",
			"malformed",
			"serialization failed",
			"parse error",
		},
		category: domain.CategoryStructural,
	},
	{
		patterns: []string{
			"econnrefused",
			"connection refused",
			"econnreset",
			"connection reset",
			"etimedout",
			"timeout",
			"enotfound",
			"no such host",
			"dns",
			"network error",
			"socket hang up",
			"broken pipe",
		},
		category: domain.CategoryTransient,
	},
}

// Classify turns a raw push failure into an error category and an optional
// earliest-next-attempt hint. status == 0 means no HTTP status was
// available (network-level failure).
func Classify(status int, message, retryAfterHeader string) Result {
	res := Result{Category: domain.CategoryUnknown}

	if cat, ok := statusCategories[status]; ok {
		res.Category = cat
	} else if status == 0 && message != "" {
		res.Category = classifyMessage(message)
	} else if status >= 500 {
		res.Category = domain.CategoryTransient
	} else if status >= 400 {
		res.Category = domain.CategoryPermanent
	}

	if retryAfterHeader != "" {
		res.RetryAfter = parseRetryAfter(retryAfterHeader, time.Now())
	}

	return res
}

func classifyMessage(message string) domain.ErrorCategory {
	lower := strings.ToLower(message)
	for _, rule := range messageRules {
		for _, p := range rule.patterns {
			if strings.Contains(lower, p) {
				return rule.category
			}
		}
	}
	return domain.CategoryUnknown
}

// parseRetryAfter accepts both delta-seconds and HTTP-date forms.
func parseRetryAfter(header string, now time.Time) *time.Time {
	header = strings.TrimSpace(header)
	if secs, err := strconv.Atoi(header); err == nil && secs >= 0 {
		t := now.Add(time.Duration(secs) * time.Second)
		return &t
	}
	if t, err := http.ParseTime(header); err == nil {
		return &t
	}
	return nil
}

// Decision is the dead-letter eligibility verdict for one item.
type Decision struct {
	ShouldDeadLetter bool
	Reason           domain.DeadLetterReason
}

// ShouldDeadLetter applies the dead-letter policy:
//   - STRUCTURAL fails are a client bug; dead-letter immediately.
//   - PERMANENT and CONFLICT fails dead-letter once attempts reach
//     maxAttempts.
//   - TRANSIENT/UNKNOWN get twice the patience before giving up.
func ShouldDeadLetter(attempts, maxAttempts int, category domain.ErrorCategory) Decision {
	if maxAttempts <= 0 {
		maxAttempts = domain.DefaultMaxAttempts
	}

	switch category {
	case domain.CategoryStructural:
		return Decision{ShouldDeadLetter: true, Reason: domain.ReasonStructuralFailure}
	case domain.CategoryPermanent:
		if attempts >= maxAttempts {
			return Decision{ShouldDeadLetter: true, Reason: domain.ReasonPermanentError}
		}
	case domain.CategoryConflict:
		// Conflicts need reconciliation, not blind retry; they get no
		// extra patience, and exhausted conflicts fold into
		// MAX_ATTEMPTS_EXCEEDED (there is no dedicated conflict reason).
		if attempts >= maxAttempts {
			return Decision{ShouldDeadLetter: true, Reason: domain.ReasonMaxAttemptsExceeded}
		}
	default:
		// Transient and unknown failures deserve materially more
		// patience than permanent ones.
		if attempts >= 2*maxAttempts {
			return Decision{ShouldDeadLetter: true, Reason: domain.ReasonMaxAttemptsExceeded}
		}
	}

	return Decision{}
}

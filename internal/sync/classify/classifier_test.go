package classify

import (
	"testing"
	"time"

	"github.com/duyttran/syncline/internal/core/domain"
)

func TestClassify_StatusCodes(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		expected domain.ErrorCategory
	}{
		{"bad request", 400, domain.CategoryPermanent},
		{"unauthorized", 401, domain.CategoryPermanent},
		{"forbidden", 403, domain.CategoryPermanent},
		{"not found", 404, domain.CategoryPermanent},
		{"unprocessable", 422, domain.CategoryPermanent},
		{"conflict", 409, domain.CategoryConflict},
		{"rate limited", 429, domain.CategoryTransient},
		{"internal error", 500, domain.CategoryTransient},
		{"bad gateway", 502, domain.CategoryTransient},
		{"unavailable", 503, domain.CategoryTransient},
		{"gateway timeout", 504, domain.CategoryTransient},
		{"unmapped 5xx", 599, domain.CategoryTransient},
		{"unmapped 4xx", 418, domain.CategoryPermanent},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := Classify(tt.status, "", "")
			if res.Category != tt.expected {
				t.Errorf("Classify(%d) = %s, want %s", tt.status, res.Category, tt.expected)
			}
		})
	}
}

func TestClassify_MessagePatterns(t *testing.T) {
	tests := []struct {
		name     string
		message  string
		expected domain.ErrorCategory
	}{
		{"connection refused", "dial tcp 10.0.0.1:443: connect: connection refused", domain.CategoryTransient},
		{"econnrefused", "request failed: ECONNREFUSED", domain.CategoryTransient},
		{"timeout", "context deadline exceeded (Client.Timeout exceeded)", domain.CategoryTransient},
		{"dns failure", "lookup api.cloud.example: no such host", domain.CategoryTransient},
		{"socket hang up", "socket hang up", domain.CategoryTransient},
		{"generic network", "network error while sending request", domain.CategoryTransient},
		{"json parse", "JSON parse error at position 14", domain.CategoryStructural},
		{"unexpected token", "Unexpected token < in payload", domain.CategoryStructural},
		{"malformed", "malformed pack payload", domain.CategoryStructural},
		{"serialization", "serialization failed: unsupported type", domain.CategoryStructural},
		{"unrecognized", "something odd happened", domain.CategoryUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := Classify(0, tt.message, "")
			if res.Category != tt.expected {
				t.Errorf("Classify(0, %q) = %s, want %s", tt.message, res.Category, tt.expected)
			}
		})
	}
}

func TestClassify_NoStatusNoMessage(t *testing.T) {
	res := Classify(0, "", "")
	if res.Category != domain.CategoryUnknown {
		t.Errorf("expected UNKNOWN, got %s", res.Category)
	}
	if res.RetryAfter != nil {
		t.Errorf("expected nil retry-after, got %v", res.RetryAfter)
	}
}

func TestClassify_StructuralBeatsTransientPattern(t *testing.T) {
	// A parse failure mentioning a timeout is still a client-side bug.
	res := Classify(0, "JSON parse error after timeout", "")
	if res.Category != domain.CategoryStructural {
		t.Errorf("expected STRUCTURAL, got %s", res.Category)
	}
}

func TestParseRetryAfter(t *testing.T) {
	now := time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC)

	t.Run("delta seconds", func(t *testing.T) {
		got := parseRetryAfter("120", now)
		if got == nil {
			t.Fatal("expected a timestamp")
		}
		want := now.Add(120 * time.Second)
		if !got.Equal(want) {
			t.Errorf("parseRetryAfter(120) = %v, want %v", got, want)
		}
	})

	t.Run("http date", func(t *testing.T) {
		got := parseRetryAfter("Sun, 15 Mar 2026 13:00:00 GMT", now)
		if got == nil {
			t.Fatal("expected a timestamp")
		}
		if got.Hour() != 13 {
			t.Errorf("unexpected parsed time: %v", got)
		}
	})

	t.Run("garbage", func(t *testing.T) {
		if got := parseRetryAfter("soon", now); got != nil {
			t.Errorf("expected nil, got %v", got)
		}
	})

	t.Run("negative seconds", func(t *testing.T) {
		if got := parseRetryAfter("-5", now); got != nil {
			t.Errorf("expected nil, got %v", got)
		}
	})
}

func TestShouldDeadLetter(t *testing.T) {
	tests := []struct {
		name        string
		attempts    int
		maxAttempts int
		category    domain.ErrorCategory
		shouldDL    bool
		reason      domain.DeadLetterReason
	}{
		{"structural first attempt", 1, 5, domain.CategoryStructural, true, domain.ReasonStructuralFailure},
		{"permanent at max", 5, 5, domain.CategoryPermanent, true, domain.ReasonPermanentError},
		{"permanent below max", 4, 5, domain.CategoryPermanent, false, ""},
		{"transient at double max", 10, 5, domain.CategoryTransient, true, domain.ReasonMaxAttemptsExceeded},
		{"transient below double max", 3, 5, domain.CategoryTransient, false, ""},
		{"transient at max still retries", 5, 5, domain.CategoryTransient, false, ""},
		{"unknown at double max", 10, 5, domain.CategoryUnknown, true, domain.ReasonMaxAttemptsExceeded},
		{"unknown below double max", 9, 5, domain.CategoryUnknown, false, ""},
		{"conflict at max folds into max attempts", 5, 5, domain.CategoryConflict, true, domain.ReasonMaxAttemptsExceeded},
		{"conflict below max", 2, 5, domain.CategoryConflict, false, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := ShouldDeadLetter(tt.attempts, tt.maxAttempts, tt.category)
			if d.ShouldDeadLetter != tt.shouldDL {
				t.Errorf("ShouldDeadLetter(%d, %d, %s) = %v, want %v",
					tt.attempts, tt.maxAttempts, tt.category, d.ShouldDeadLetter, tt.shouldDL)
			}
			if d.Reason != tt.reason {
				t.Errorf("reason = %s, want %s", d.Reason, tt.reason)
			}
		})
	}
}

func TestShouldDeadLetter_ZeroMaxAttempts(t *testing.T) {
	// A zero maxAttempts falls back to the default rather than
	// dead-lettering everything immediately.
	d := ShouldDeadLetter(1, 0, domain.CategoryPermanent)
	if d.ShouldDeadLetter {
		t.Error("expected retry with default max attempts")
	}
}

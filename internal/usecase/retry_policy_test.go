//go:build !integration

package usecase

import (
	"testing"
	"time"
)

func TestRetryPolicy_Decide(t *testing.T) {
	p := NewRetryPolicy(nil, 0, 0) // 1/3/7 day ladder, 2h short delay, 3 retries

	t.Run("insufficient balance walks the ladder", func(t *testing.T) {
		for i, want := range []time.Duration{24 * time.Hour, 3 * 24 * time.Hour, 7 * 24 * time.Hour} {
			d := p.Decide(FailCodeInsufficientBalance, i+1)
			if d.Action != ActionRetry || d.Delay != want {
				t.Fatalf("retry %d: got %s/%v, want retry/%v", i+1, d.Action, d.Delay, want)
			}
		}
	})

	t.Run("exhausted retries stop", func(t *testing.T) {
		d := p.Decide(FailCodeInsufficientBalance, p.MaxRetries()+1)
		if d.Action != ActionStop {
			t.Fatalf("expected stop, got %s", d.Action)
		}
		if d.Reason == "" {
			t.Error("stop decisions must carry a reason")
		}
	})

	t.Run("transient codes use the short delay", func(t *testing.T) {
		for _, code := range []string{FailCodeBankUnavailable, FailCodeSystemBusy} {
			d := p.Decide(code, 1)
			if d.Action != ActionRetryLater || d.Delay != 2*time.Hour {
				t.Fatalf("%s: got %s/%v, want retry-later/2h", code, d.Action, d.Delay)
			}
		}
	})

	t.Run("terminal codes stop immediately", func(t *testing.T) {
		for _, code := range []string{FailCodeContractTerminated, FailCodeMandateRevoked, FailCodeAccountClosed, FailCodeRiskRejected} {
			d := p.Decide(code, 1)
			if d.Action != ActionStop || d.Reason == "" {
				t.Fatalf("%s: got %s (%q), want stop with reason", code, d.Action, d.Reason)
			}
		}
	})

	t.Run("unknown codes fail closed after one retry", func(t *testing.T) {
		first := p.Decide("SOMETHING_NEW", 1)
		if first.Action != ActionRetry || first.Delay != 24*time.Hour {
			t.Fatalf("first unknown failure: got %s/%v, want one bounded retry", first.Action, first.Delay)
		}
		second := p.Decide("SOMETHING_NEW", 2)
		if second.Action != ActionStop {
			t.Fatalf("second unknown failure: got %s, want stop", second.Action)
		}
	})
}

func TestRetryPolicy_CustomSchedule(t *testing.T) {
	p := NewRetryPolicy([]time.Duration{time.Hour}, 10*time.Minute, 5)

	d := p.Decide(FailCodeInsufficientBalance, 4)
	if d.Action != ActionRetry || d.Delay != time.Hour {
		t.Fatalf("schedule tail must repeat: got %s/%v", d.Action, d.Delay)
	}
	if p.MaxRetries() != 5 {
		t.Fatalf("MaxRetries = %d, want 5", p.MaxRetries())
	}
	d = p.Decide(FailCodeBankUnavailable, 1)
	if d.Delay != 10*time.Minute {
		t.Fatalf("custom short delay not honored: %v", d.Delay)
	}
}

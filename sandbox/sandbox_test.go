package sandbox_test

import (
	"errors"
	"testing"
	"time"

	"github.com/firasghr/chromefp/cferrors"
	"github.com/firasghr/chromefp/sandbox"
)

func TestEvaluate_SimpleExpression(t *testing.T) {
	res, err := sandbox.Evaluate("1 + 41", sandbox.ShimState{}, sandbox.Limits{})
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if res.Value != "42" {
		t.Errorf("Value: got %q, want %q", res.Value, "42")
	}
}

func TestEvaluate_Deterministic(t *testing.T) {
	script := "var x = 7 * 6; x;"
	r1, err := sandbox.Evaluate(script, sandbox.ShimState{}, sandbox.Limits{})
	if err != nil {
		t.Fatal(err)
	}
	r2, err := sandbox.Evaluate(script, sandbox.ShimState{}, sandbox.Limits{})
	if err != nil {
		t.Fatal(err)
	}
	if r1.Value != r2.Value {
		t.Errorf("expected deterministic result, got %q and %q", r1.Value, r2.Value)
	}
}

func TestEvaluate_NavigatorUserAgent(t *testing.T) {
	res, err := sandbox.Evaluate("navigator.userAgent", sandbox.ShimState{UserAgent: "test-agent/1.0"}, sandbox.Limits{})
	if err != nil {
		t.Fatal(err)
	}
	if res.Value != "test-agent/1.0" {
		t.Errorf("Value: got %q, want %q", res.Value, "test-agent/1.0")
	}
}

func TestEvaluate_DocumentCookieSeedAndMutation(t *testing.T) {
	res, err := sandbox.Evaluate(`document.cookie = document.cookie + "; extra=1"; 0`, sandbox.ShimState{Cookie: "a=1"}, sandbox.Limits{})
	if err != nil {
		t.Fatal(err)
	}
	if res.Cookie != "a=1; extra=1" {
		t.Errorf("Cookie: got %q, want %q", res.Cookie, "a=1; extra=1")
	}
}

func TestEvaluate_CreateElementStub(t *testing.T) {
	res, err := sandbox.Evaluate(`document.createElement("div").tagName`, sandbox.ShimState{}, sandbox.Limits{})
	if err != nil {
		t.Fatal(err)
	}
	if res.Value != "DIV" {
		t.Errorf("Value: got %q, want %q", res.Value, "DIV")
	}
}

func TestEvaluate_PerformanceNowMonotonic(t *testing.T) {
	res, err := sandbox.Evaluate(`var a = performance.now(); var b = performance.now(); b >= a`, sandbox.ShimState{}, sandbox.Limits{})
	if err != nil {
		t.Fatal(err)
	}
	if res.Value != "true" {
		t.Errorf("expected performance.now() to be monotonic, got %q", res.Value)
	}
}

func TestEvaluate_WallTimeExceeded(t *testing.T) {
	_, err := sandbox.Evaluate(`while (true) {}`, sandbox.ShimState{}, sandbox.Limits{WallTime: 50 * time.Millisecond})
	if err == nil {
		t.Fatal("expected a timeout error for an infinite loop")
	}
	var timeoutErr *cferrors.SandboxTimeoutError
	if !errors.As(err, &timeoutErr) {
		t.Errorf("expected *cferrors.SandboxTimeoutError, got %T: %v", err, err)
	}
}

func TestEvaluate_SyntaxErrorClassified(t *testing.T) {
	_, err := sandbox.Evaluate(`this is not ) valid js (`, sandbox.ShimState{}, sandbox.Limits{})
	if err == nil {
		t.Fatal("expected an error for invalid JavaScript")
	}
	var unsolvable *cferrors.ChallengeUnsolvableError
	if !errors.As(err, &unsolvable) {
		t.Errorf("expected *cferrors.ChallengeUnsolvableError, got %T: %v", err, err)
	}
}

func TestEvaluate_FreshVMPerCall(t *testing.T) {
	if _, err := sandbox.Evaluate(`var leaked = 1;`, sandbox.ShimState{}, sandbox.Limits{}); err != nil {
		t.Fatal(err)
	}
	res, err := sandbox.Evaluate(`typeof leaked`, sandbox.ShimState{}, sandbox.Limits{})
	if err != nil {
		t.Fatal(err)
	}
	if res.Value != "undefined" {
		t.Errorf("expected a fresh VM with no state from the previous call, got leaked=%q", res.Value)
	}
}

package errors

import (
	stdErrors "errors"
	"fmt"
	"net/http"
	"testing"
)

func TestMetadataForKnownCodes(t *testing.T) {
	tests := []struct {
		code      Code
		status    int
		retryable bool
		detailsOK bool
	}{
		{code: CodeValidation, status: http.StatusBadRequest, detailsOK: true},
		{code: CodeInvalidState, status: http.StatusConflict, detailsOK: true},
		{code: CodeInvalidTransition, status: http.StatusUnprocessableEntity, detailsOK: true},
		{code: CodeCurrencyMismatch, status: http.StatusUnprocessableEntity},
		{code: CodeInventoryUnavailable, status: http.StatusConflict, detailsOK: true},
		{code: CodeCouponInvalid, status: http.StatusUnprocessableEntity, detailsOK: true},
		{code: CodeNothingToPayout, status: http.StatusConflict},
		{code: CodeConcurrencyConflict, status: http.StatusConflict, retryable: true},
		{code: CodeExternalTimeout, status: http.StatusGatewayTimeout, retryable: true},
		{code: CodeInternal, status: http.StatusInternalServerError},
	}

	for _, tt := range tests {
		meta := MetadataFor(tt.code)
		if meta.HTTPStatus != tt.status {
			t.Fatalf("code %s expected status %d got %d", tt.code, tt.status, meta.HTTPStatus)
		}
		if meta.Retryable != tt.retryable {
			t.Fatalf("code %s expected retryable %v got %v", tt.code, tt.retryable, meta.Retryable)
		}
		if meta.DetailsAllowed != tt.detailsOK {
			t.Fatalf("code %s expected details allowed %v got %v", tt.code, tt.detailsOK, meta.DetailsAllowed)
		}
		if meta.PublicMessage == "" {
			t.Fatalf("code %s missing public message", tt.code)
		}
	}
}

func TestMetadataForUnknownCodeDefaultsToInternal(t *testing.T) {
	meta := MetadataFor("SOMETHING_UNKNOWN")
	if meta.HTTPStatus != http.StatusInternalServerError {
		t.Fatalf("expected internal status, got %d", meta.HTTPStatus)
	}
}

func TestWrapPreservesCause(t *testing.T) {
	cause := stdErrors.New("boom")
	wrapped := Wrap(CodeDependency, cause, "load order")
	if !stdErrors.Is(wrapped, cause) {
		t.Fatalf("Wrap did not preserve cause")
	}
	if wrapped.Code() != CodeDependency {
		t.Fatalf("unexpected code %s", wrapped.Code())
	}
	if wrapped.Error() != "DEPENDENCY_ERROR: load order: boom" {
		t.Fatalf("unexpected message %q", wrapped.Error())
	}
}

func TestIsCodeWalksNestedTypedErrors(t *testing.T) {
	inner := New(CodeCurrencyMismatch, "USD vs EUR")
	outer := Wrap(CodeDependency, fmt.Errorf("compute total: %w", inner), "confirm order")

	if !IsCode(outer, CodeCurrencyMismatch) {
		t.Fatalf("expected nested currency mismatch to be found")
	}
	if !IsCode(outer, CodeDependency) {
		t.Fatalf("expected outer code to match")
	}
	if IsCode(outer, CodeValidation) {
		t.Fatalf("unexpected validation match")
	}
	if CodeOf(outer) != CodeDependency {
		t.Fatalf("CodeOf should report outermost code")
	}
	if CodeOf(stdErrors.New("plain")) != CodeInternal {
		t.Fatalf("untyped errors should report internal")
	}
}

func TestIsRetryable(t *testing.T) {
	if !IsRetryable(fmt.Errorf("tx: %w", New(CodeConcurrencyConflict, "claimed"))) {
		t.Fatalf("conflict should be retryable")
	}
	if IsRetryable(New(CodeValidation, "bad")) {
		t.Fatalf("validation should not be retryable")
	}
	if IsRetryable(stdErrors.New("plain")) {
		t.Fatalf("untyped errors should not be retryable")
	}
}

func TestPassthroughKeepsTypedErrors(t *testing.T) {
	typed := New(CodeCouponInvalid, "expired")
	if got := Passthrough(CodeDependency, typed, "apply coupon"); got != typed {
		t.Fatalf("expected typed error returned unchanged")
	}
	got := Passthrough(CodeDependency, stdErrors.New("db down"), "apply coupon")
	if CodeOf(got) != CodeDependency {
		t.Fatalf("expected dependency wrap, got %v", got)
	}
	if Passthrough(CodeDependency, nil, "noop") != nil {
		t.Fatalf("nil should pass through")
	}
}

func TestDumpCollectsChain(t *testing.T) {
	err := Wrap(CodeConcurrencyConflict, stdErrors.New("claimed elsewhere"), "claim commission")
	dump := Dump(err)
	if dump.Code != CodeConcurrencyConflict || !dump.Retryable {
		t.Fatalf("unexpected dump %+v", dump)
	}
	if len(dump.Chain) != 2 {
		t.Fatalf("expected two chain entries, got %d", len(dump.Chain))
	}
}

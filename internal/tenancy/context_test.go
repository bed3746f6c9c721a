package tenancy

import (
	"context"
	"testing"
)

func TestCallerIDRoundTrip(t *testing.T) {
	ctx := WithCallerID(context.Background(), "user-42")
	got, ok := CallerIDFromContext(ctx)
	if !ok {
		t.Fatal("expected caller id present")
	}
	if got != "user-42" {
		t.Errorf("caller id = %q, want user-42", got)
	}
}

func TestCallerIDMissing(t *testing.T) {
	if _, ok := CallerIDFromContext(context.Background()); ok {
		t.Error("expected no caller id on empty context")
	}
}

func TestCallerIDEmptyString(t *testing.T) {
	ctx := WithCallerID(context.Background(), "")
	if _, ok := CallerIDFromContext(ctx); ok {
		t.Error("empty caller id should not count as present")
	}
}

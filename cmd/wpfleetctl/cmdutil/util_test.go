package cmdutil

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestUsageErrorSurvivesWrapping(t *testing.T) {
	base := Usagef("no node with id %d", 42)
	wrapped := fmt.Errorf("approve failed: %w", base)

	var usageErr *UsageError
	if !errors.As(wrapped, &usageErr) {
		t.Fatalf("errors.As failed to find UsageError in %v", wrapped)
	}
	if usageErr.Error() != "no node with id 42" {
		t.Errorf("unexpected message: %q", usageErr.Error())
	}
}

func TestUsageErrorDoesNotMatchPlainErrors(t *testing.T) {
	var usageErr *UsageError
	if errors.As(errors.New("database locked"), &usageErr) {
		t.Error("plain error should not match UsageError")
	}
}

func TestOperatorHasCLIPrefix(t *testing.T) {
	actor := Operator()
	if !strings.HasPrefix(actor, "cli:") {
		t.Errorf("Operator() = %q, want cli: prefix", actor)
	}
	if actor == "cli:" {
		t.Errorf("Operator() returned empty login")
	}
}

func TestOperatorPrefersSudoUser(t *testing.T) {
	t.Setenv("SUDO_USER", "alice")
	if got := Operator(); got != "cli:alice" {
		t.Errorf("Operator() = %q, want cli:alice", got)
	}
}

func TestBoolToYesNo(t *testing.T) {
	if BoolToYesNo(true) != "yes" || BoolToYesNo(false) != "no" {
		t.Error("BoolToYesNo mapping wrong")
	}
}

func TestEmptyOr(t *testing.T) {
	if EmptyOr("", "-") != "-" {
		t.Error("expected fallback for empty value")
	}
	if EmptyOr("value", "-") != "value" {
		t.Error("expected value to pass through")
	}
}

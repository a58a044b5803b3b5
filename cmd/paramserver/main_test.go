package main

import (
	"fmt"
	"testing"

	"github.com/FranNetty/dist-keras/internal/update"
)

// captureFatal swaps logFatal for a recorder and restores it on cleanup.
func captureFatal(t *testing.T) *string {
	t.Helper()
	var msg string
	old := logFatal
	logFatal = func(format string, v ...any) {
		msg = fmt.Sprintf(format, v...)
	}
	t.Cleanup(func() { logFatal = old })
	return &msg
}

func TestGetenv(t *testing.T) {
	t.Run("returns default when unset", func(t *testing.T) {
		if got := getenv("PS_TEST_UNSET", "fallback"); got != "fallback" {
			t.Errorf("Expected fallback, got %q", got)
		}
	})

	t.Run("returns value when set", func(t *testing.T) {
		t.Setenv("PS_TEST_SET", ":6000")
		if got := getenv("PS_TEST_SET", ":5000"); got != ":6000" {
			t.Errorf("Expected :6000, got %q", got)
		}
	})
}

func TestEnvFloat(t *testing.T) {
	t.Run("returns default when unset", func(t *testing.T) {
		if got := envFloat("PS_TEST_FLOAT_UNSET", 0.9); got != 0.9 {
			t.Errorf("Expected 0.9, got %v", got)
		}
	})

	t.Run("parses value when set", func(t *testing.T) {
		t.Setenv("PS_TEST_FLOAT", "0.25")
		if got := envFloat("PS_TEST_FLOAT", 0.9); got != 0.25 {
			t.Errorf("Expected 0.25, got %v", got)
		}
	})

	t.Run("bad value is fatal", func(t *testing.T) {
		msg := captureFatal(t)
		t.Setenv("PS_TEST_FLOAT_BAD", "fast")

		envFloat("PS_TEST_FLOAT_BAD", 0.9)

		if *msg == "" {
			t.Error("Expected a fatal error for unparseable float")
		}
	})
}

func TestRuleFromEnv(t *testing.T) {
	t.Run("defaults to additive", func(t *testing.T) {
		t.Setenv("PS_RULE", "")
		t.Setenv("PS_MOMENTUM", "")
		rule, err := ruleFromEnv()
		if err != nil {
			t.Fatalf("ruleFromEnv failed: %v", err)
		}
		if rule.Name() != update.RuleAdditive {
			t.Errorf("Expected additive rule, got %q", rule.Name())
		}
	})

	t.Run("builds the momentum rule", func(t *testing.T) {
		t.Setenv("PS_RULE", update.RuleMomentum)
		t.Setenv("PS_MOMENTUM", "0.5")

		rule, err := ruleFromEnv()
		if err != nil {
			t.Fatalf("ruleFromEnv failed: %v", err)
		}
		if rule.Name() != update.RuleMomentum {
			t.Errorf("Expected momentum rule, got %q", rule.Name())
		}
	})

	t.Run("unknown rule fails", func(t *testing.T) {
		t.Setenv("PS_RULE", "adagrad")
		if _, err := ruleFromEnv(); err == nil {
			t.Error("Expected error for unknown rule")
		}
	})
}

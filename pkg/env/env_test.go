package env

import "testing"

func TestGetFallsBack(t *testing.T) {
	t.Setenv("SERIALS_TEST_ENV_GET", "")
	if got := Get("SERIALS_TEST_ENV_GET", "fallback"); got != "fallback" {
		t.Fatalf("expected fallback, got %q", got)
	}
	t.Setenv("SERIALS_TEST_ENV_GET", "set")
	if got := Get("SERIALS_TEST_ENV_GET", "fallback"); got != "set" {
		t.Fatalf("expected set, got %q", got)
	}
}

func TestFirstPicksEarliestKey(t *testing.T) {
	t.Setenv("SERIALS_TEST_A", "")
	t.Setenv("SERIALS_TEST_B", "b")
	t.Setenv("SERIALS_TEST_C", "c")
	if got := First("x", "SERIALS_TEST_A", "SERIALS_TEST_B", "SERIALS_TEST_C"); got != "b" {
		t.Fatalf("expected b, got %q", got)
	}
	if got := First("x", "SERIALS_TEST_A"); got != "x" {
		t.Fatalf("expected fallback, got %q", got)
	}
}

package instance

import (
	"strings"
	"testing"
)

func TestGetIDPrefersEnv(t *testing.T) {
	t.Setenv("SERIALS_WORKER_ID", " cron-a ")
	if got := GetID(); got != "cron-a" {
		t.Fatalf("expected env id, got %q", got)
	}
	if got := Token("n1"); got != "cron-a:n1" {
		t.Fatalf("unexpected token %q", got)
	}
}

func TestGetIDFallsBack(t *testing.T) {
	t.Setenv("SERIALS_WORKER_ID", "")
	if got := GetID(); strings.TrimSpace(got) == "" {
		t.Fatalf("expected a non-empty id")
	}
}

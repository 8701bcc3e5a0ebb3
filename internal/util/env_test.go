package util

import (
	"testing"
	"time"
)

func TestParseDurationEnv(t *testing.T) {
	const key = "SLACKPIPE_TEST_DURATION"

	t.Setenv(key, "")
	if got := ParseDurationEnv(key, 15*time.Second); got != 15*time.Second {
		t.Errorf("empty value: got %v, want default", got)
	}

	t.Setenv(key, "30s")
	if got := ParseDurationEnv(key, 15*time.Second); got != 30*time.Second {
		t.Errorf("valid value: got %v, want 30s", got)
	}

	t.Setenv(key, "not-a-duration")
	if got := ParseDurationEnv(key, 15*time.Second); got != 15*time.Second {
		t.Errorf("invalid value: got %v, want default", got)
	}

	t.Setenv(key, "-5s")
	if got := ParseDurationEnv(key, 15*time.Second); got != 15*time.Second {
		t.Errorf("negative value: got %v, want default", got)
	}
}

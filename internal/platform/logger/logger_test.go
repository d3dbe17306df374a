package logger

import (
	"errors"
	"strings"
	"testing"
)

func TestSanitizeKVsRedactsSecrets(t *testing.T) {
	out := sanitizeKVs([]interface{}{
		"deepgram_api_key", "abc123",
		"Authorization", "Token xyz",
		"batch_id", "b-1",
	})
	if len(out) != 6 {
		t.Fatalf("expected 6 entries, got %d", len(out))
	}
	if out[1] != "[REDACTED]" || out[3] != "[REDACTED]" {
		t.Fatalf("expected secrets redacted, got %v", out)
	}
	if out[5] != "b-1" {
		t.Fatalf("expected batch_id untouched, got %v", out[5])
	}
}

func TestSanitizeValueMasksDSNPassword(t *testing.T) {
	got := sanitizeValue("error", errors.New("dial postgres://app:hunter2@db:5432/pods failed"))
	s, ok := got.(string)
	if !ok {
		t.Fatalf("expected string, got %T", got)
	}
	if strings.Contains(s, "hunter2") {
		t.Fatalf("password leaked: %s", s)
	}
	if !strings.Contains(s, "postgres://app:****@db:5432/pods") {
		t.Fatalf("unexpected masked value: %s", s)
	}
}

func TestSanitizeValueTruncatesLongStrings(t *testing.T) {
	long := strings.Repeat("x", maxLoggedValueLen+50)
	got := sanitizeValue("message", long).(string)
	if !strings.HasSuffix(got, "...(truncated)") {
		t.Fatalf("expected truncation marker")
	}
}

func TestSanitizeKVsOddLength(t *testing.T) {
	out := sanitizeKVs([]interface{}{"job_id", "j-1", "dangling"})
	if len(out) != 3 || out[2] != "dangling" {
		t.Fatalf("unexpected output: %v", out)
	}
}

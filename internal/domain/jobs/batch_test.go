package jobs

import (
	"strings"
	"testing"
	"unicode/utf8"
)

func TestBatchDerivedCounters(t *testing.T) {
	b := &Batch{TotalEpisodes: 8, CompletedEpisodes: 3, FailedEpisodes: 1}
	if got := b.ProgressPercent(); got != 50 {
		t.Fatalf("expected 50%%, got %v", got)
	}
	if got := b.PendingEpisodes(); got != 4 {
		t.Fatalf("expected 4 pending, got %d", got)
	}
	empty := &Batch{}
	if empty.ProgressPercent() != 0 || empty.PendingEpisodes() != 0 {
		t.Fatalf("empty batch should report zero progress")
	}
}

func TestTruncateErrorKeepsRunesWhole(t *testing.T) {
	msg := strings.Repeat("a", MaxErrorMessageLen-1) + "é" + "tail"
	got := TruncateError(msg)
	if len(got) > MaxErrorMessageLen {
		t.Fatalf("expected at most %d bytes, got %d", MaxErrorMessageLen, len(got))
	}
	if !utf8.ValidString(got) {
		t.Fatalf("truncation split a rune")
	}
	if TruncateError("short") != "short" {
		t.Fatalf("short messages must pass through")
	}
}

package pipeline

import (
	"context"
	"testing"

	"github.com/yungbote/podscribe-backend/internal/clients/transcription"
	"github.com/yungbote/podscribe-backend/internal/platform/logger"
)

func twoSpeakers() []transcription.Utterance {
	return []transcription.Utterance{
		{Speaker: "B", Text: "thanks for having me", StartMs: 1000, EndMs: 2000},
		{Speaker: "A", Text: "welcome to the show", StartMs: 0, EndMs: 900},
	}
}

func TestIdentifySingleSpeakerUsesFirstHost(t *testing.T) {
	l := NewSpeakerLabeler(nil, nil, logger.Nop())
	got := l.Identify(context.Background(), []transcription.Utterance{{Speaker: "A", Text: "hi"}}, []string{"Alice", "Bob"}, "ep")
	if got["A"] != "Alice" {
		t.Fatalf("mapping = %v", got)
	}
	got = l.Identify(context.Background(), []transcription.Utterance{{Speaker: "A", Text: "hi"}}, nil, "ep")
	if got["A"] != "Host" {
		t.Fatalf("mapping without hosts = %v", got)
	}
}

func TestIdentifyUsesModelMapping(t *testing.T) {
	ai := &fakeAI{json: map[string]any{"A": "Alice", "B": " "}}
	l := NewSpeakerLabeler(ai, nil, logger.Nop())
	got := l.Identify(context.Background(), twoSpeakers(), []string{"Alice"}, "Episode 1")
	if got["A"] != "Alice" || got["B"] != "Guest" {
		t.Fatalf("mapping = %v", got)
	}
	if ai.jsonCalls != 1 {
		t.Fatalf("json calls = %d", ai.jsonCalls)
	}
}

func TestIdentifyFallsBackOnModelError(t *testing.T) {
	ai := &fakeAI{jsonErr: errBoom}
	l := NewSpeakerLabeler(ai, nil, logger.Nop())
	got := l.Identify(context.Background(), twoSpeakers(), []string{"Alice"}, "Episode 1")
	if got["A"] != "Alice" || got["B"] != "Guest" {
		t.Fatalf("fallback mapping = %v", got)
	}
}

func TestApplyLabelsNumbersUnmappedSpeakers(t *testing.T) {
	utts := []transcription.Utterance{
		{Speaker: "A", Text: "one"},
		{Speaker: "B", Text: "two"},
		{Speaker: "C", Text: "three"},
		{Speaker: "B", Text: "four"},
	}
	out := ApplyLabels(utts, map[string]string{"A": "Alice"}, "Guest")
	want := []string{"Alice", "Guest", "Guest 2", "Guest"}
	for i, u := range out {
		if u.Speaker != want[i] {
			t.Fatalf("utterance %d speaker = %q, want %q", i, u.Speaker, want[i])
		}
		if u.SpeakerRaw != utts[i].Speaker {
			t.Fatalf("utterance %d lost its raw label", i)
		}
	}
}

func TestSampleUtterancesTakesThreeSections(t *testing.T) {
	utts := make([]transcription.Utterance, 90)
	for i := range utts {
		utts[i] = transcription.Utterance{StartMs: i}
	}
	got := sampleUtterances(utts, 30)
	if len(got) != 30 {
		t.Fatalf("sample size = %d", len(got))
	}
	if got[0].StartMs != 0 || got[29].StartMs != 89 {
		t.Fatalf("sample must include both ends: %d..%d", got[0].StartMs, got[29].StartMs)
	}
}

package pipeline

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/yungbote/podscribe-backend/internal/clients/transcription"
	"github.com/yungbote/podscribe-backend/internal/platform/logger"
	"github.com/yungbote/podscribe-backend/internal/platform/openai"
	"github.com/yungbote/podscribe-backend/internal/resilience"
)

const (
	defaultSpeakerSample = 30
	sampleTextLimit      = 200
)

// SpeakerLabeler maps provider speaker letters (A, B, ...) to people. Any
// model failure degrades to a positional mapping over the known hosts.
type SpeakerLabeler struct {
	ai         openai.Client
	breaker    *resilience.Breaker
	log        *logger.Logger
	sampleSize int
}

// NewSpeakerLabeler accepts a nil client, in which case every episode uses
// the positional fallback.
func NewSpeakerLabeler(ai openai.Client, breaker *resilience.Breaker, log *logger.Logger) *SpeakerLabeler {
	return &SpeakerLabeler{
		ai:         ai,
		breaker:    breaker,
		log:        log.With("service", "SpeakerLabeler"),
		sampleSize: defaultSpeakerSample,
	}
}

func (l *SpeakerLabeler) Identify(ctx context.Context, utterances []transcription.Utterance, known []string, episodeTitle string) map[string]string {
	if len(utterances) == 0 {
		return map[string]string{}
	}
	labels := uniqueSpeakers(utterances)
	if len(labels) == 1 {
		name := "Host"
		if len(known) > 0 {
			name = known[0]
		}
		return map[string]string{labels[0]: name}
	}
	if l.ai == nil {
		return fallbackMapping(labels, known)
	}

	system := "You identify which speaker label in a podcast transcript belongs to which person."
	prompt := buildIdentificationPrompt(sampleUtterances(utterances, l.sampleSize), labels, known, episodeTitle)
	schema := speakerSchema(labels)

	call := func(ctx context.Context) (map[string]any, error) {
		return l.ai.GenerateJSON(ctx, system, prompt, "speaker_mapping", schema)
	}
	var (
		obj map[string]any
		err error
	)
	if l.breaker != nil {
		obj, err = resilience.Call(ctx, l.breaker, call)
	} else {
		obj, err = call(ctx)
	}
	if err != nil {
		l.log.Warn("Speaker identification failed; using fallback mapping", "error", err)
		return fallbackMapping(labels, known)
	}

	mapping := make(map[string]string, len(labels))
	for _, label := range labels {
		name, _ := obj[label].(string)
		name = strings.TrimSpace(name)
		if name == "" {
			name = "Guest"
		}
		mapping[label] = name
	}
	l.log.Info("Speaker mapping identified", "mapping", mapping)
	return mapping
}

// ApplyLabels renames each utterance through mapping. Labels missing from the
// mapping become defaultLabel, then "<defaultLabel> 2", "<defaultLabel> 3", ...
func ApplyLabels(utterances []transcription.Utterance, mapping map[string]string, defaultLabel string) []LabeledUtterance {
	if defaultLabel == "" {
		defaultLabel = "Guest"
	}
	guests := map[string]string{}
	out := make([]LabeledUtterance, 0, len(utterances))
	for _, u := range utterances {
		name, ok := mapping[u.Speaker]
		if !ok {
			name, ok = guests[u.Speaker]
			if !ok {
				name = defaultLabel
				if len(guests) > 0 {
					name = fmt.Sprintf("%s %d", defaultLabel, len(guests)+1)
				}
				guests[u.Speaker] = name
			}
		}
		out = append(out, LabeledUtterance{
			Speaker:    name,
			SpeakerRaw: u.Speaker,
			Text:       u.Text,
			StartMs:    u.StartMs,
			EndMs:      u.EndMs,
			Confidence: u.Confidence,
		})
	}
	return out
}

func uniqueSpeakers(utterances []transcription.Utterance) []string {
	seen := map[string]bool{}
	var out []string
	for _, u := range utterances {
		if !seen[u.Speaker] {
			seen[u.Speaker] = true
			out = append(out, u.Speaker)
		}
	}
	sort.Strings(out)
	return out
}

// fallbackMapping assigns known hosts to labels in sorted order; the rest are
// Guest, Guest 2, ...
func fallbackMapping(labels, known []string) map[string]string {
	sorted := append([]string{}, labels...)
	sort.Strings(sorted)
	out := make(map[string]string, len(sorted))
	for i, label := range sorted {
		switch {
		case i < len(known):
			out[label] = known[i]
		case i == len(known):
			out[label] = "Guest"
		default:
			out[label] = fmt.Sprintf("Guest %d", i-len(known)+1)
		}
	}
	return out
}

// sampleUtterances takes equal slices from the beginning, middle and end.
func sampleUtterances(utterances []transcription.Utterance, size int) []transcription.Utterance {
	if size <= 0 || len(utterances) <= size {
		return utterances
	}
	section := size / 3
	mid := len(utterances)/2 - section/2
	out := make([]transcription.Utterance, 0, section*3)
	out = append(out, utterances[:section]...)
	out = append(out, utterances[mid:mid+section]...)
	out = append(out, utterances[len(utterances)-section:]...)
	return out
}

func buildIdentificationPrompt(sample []transcription.Utterance, labels, known []string, title string) string {
	var b strings.Builder
	b.WriteString("Identify which speaker label corresponds to which person in this podcast transcript.\n\n")
	if title != "" {
		b.WriteString("Episode title: " + title + "\n")
	}
	if len(known) > 0 {
		b.WriteString("Known hosts of this podcast:\n")
		for _, k := range known {
			b.WriteString("- " + k + "\n")
		}
		b.WriteString("Use names addressed directly, self references and recurring topics as evidence.\n")
	}
	b.WriteString("\nSpeaker labels found: " + strings.Join(labels, ", ") + "\n\nTranscript sample:\n---\n")
	for _, u := range sample {
		text := u.Text
		if len(text) > sampleTextLimit {
			text = text[:sampleTextLimit] + "..."
		}
		fmt.Fprintf(&b, "[%s]: %s\n", u.Speaker, text)
	}
	b.WriteString("---\n\n")
	b.WriteString("Map every label to a name. Only use a known host name when confident. ")
	b.WriteString("Use \"Guest\" for unidentified speakers (\"Guest 2\", \"Guest 3\" for more than one).")
	return b.String()
}

func speakerSchema(labels []string) map[string]any {
	props := make(map[string]any, len(labels))
	for _, label := range labels {
		props[label] = map[string]any{"type": "string"}
	}
	return map[string]any{
		"type":                 "object",
		"properties":           props,
		"required":             labels,
		"additionalProperties": false,
	}
}

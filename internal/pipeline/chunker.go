package pipeline

import (
	"strings"
	"time"
)

const unknownSpeaker = "Unknown"

// LabeledUtterance is a transcript turn after speaker attribution.
type LabeledUtterance struct {
	Speaker    string   `json:"speaker"`
	SpeakerRaw string   `json:"speaker_raw"`
	Text       string   `json:"text"`
	StartMs    int      `json:"start_ms"`
	EndMs      int      `json:"end_ms"`
	Confidence *float64 `json:"confidence,omitempty"`
}

func (u LabeledUtterance) words() int { return len(strings.Fields(u.Text)) }

// EpisodeContext anchors chunk embeddings to the episode they came from.
type EpisodeContext struct {
	EpisodeTitle string
	ChannelName  string
	PublishedAt  *time.Time
}

type TextChunk struct {
	Text             string
	TextForEmbedding string
	PrimarySpeaker   string
	Speakers         []string
	StartMs          int
	EndMs            int
	Index            int
	WordCount        int

	utterances []LabeledUtterance
}

type ChunkerConfig struct {
	TargetWords  int
	OverlapWords int
	MinWords     int
}

func DefaultChunkerConfig() ChunkerConfig {
	return ChunkerConfig{TargetWords: 500, OverlapWords: 50, MinWords: 100}
}

// Chunker groups utterances into roughly TargetWords-sized windows,
// preferring speaker changes, pauses and spoken topic transitions as
// boundaries, and carries up to OverlapWords of trailing turns into the next
// window.
type Chunker struct {
	cfg ChunkerConfig
}

func NewChunker(cfg ChunkerConfig) *Chunker {
	def := DefaultChunkerConfig()
	if cfg.TargetWords <= 0 {
		cfg.TargetWords = def.TargetWords
	}
	if cfg.OverlapWords < 0 {
		cfg.OverlapWords = 0
	}
	if cfg.MinWords <= 0 {
		cfg.MinWords = def.MinWords
	}
	return &Chunker{cfg: cfg}
}

func (c *Chunker) Chunk(utterances []LabeledUtterance, ec *EpisodeContext) []TextChunk {
	if len(utterances) == 0 {
		return nil
	}
	target := float64(c.cfg.TargetWords)

	var (
		chunks  []TextChunk
		current []LabeledUtterance
		words   int
		// carried is how many leading entries of current repeat the previous chunk.
		carried int
	)
	for _, utt := range utterances {
		brk := false
		switch {
		case float64(words) >= target:
			brk = true
		case float64(words) >= target*0.7 && isGoodBreak(current, utt):
			brk = true
		case float64(words) >= target*0.5 && isTopicShift(current, utt):
			brk = true
		}
		if brk && len(current) > 0 {
			chunks = append(chunks, c.build(current, len(chunks), ec))
			current = c.overlap(current)
			carried = len(current)
			words = 0
			for _, u := range current {
				words += u.words()
			}
		}
		current = append(current, utt)
		words += utt.words()
	}

	if len(current) > 0 {
		switch {
		case words >= c.cfg.MinWords || len(chunks) == 0:
			chunks = append(chunks, c.build(current, len(chunks), ec))
		default:
			// Too small to stand alone: fold into the previous chunk.
			last := chunks[len(chunks)-1]
			merged := append(append([]LabeledUtterance{}, last.utterances...), current[carried:]...)
			chunks[len(chunks)-1] = c.build(merged, last.Index, ec)
		}
	}
	return chunks
}

func (c *Chunker) overlap(utterances []LabeledUtterance) []LabeledUtterance {
	words := 0
	start := len(utterances)
	for i := len(utterances) - 1; i >= 0; i-- {
		w := utterances[i].words()
		if words+w > c.cfg.OverlapWords {
			break
		}
		words += w
		start = i
	}
	return append([]LabeledUtterance{}, utterances[start:]...)
}

func (c *Chunker) build(utterances []LabeledUtterance, index int, ec *EpisodeContext) TextChunk {
	texts := make([]string, 0, len(utterances))
	var speakers []string
	seen := map[string]bool{}
	wordsBySpeaker := map[string]int{}
	for _, u := range utterances {
		texts = append(texts, strings.TrimSpace(u.Text))
		sp := u.Speaker
		if sp == "" {
			sp = unknownSpeaker
		}
		if !seen[sp] {
			seen[sp] = true
			speakers = append(speakers, sp)
		}
		wordsBySpeaker[sp] += u.words()
	}
	primary := ""
	best := -1
	for _, sp := range speakers {
		if wordsBySpeaker[sp] > best {
			primary, best = sp, wordsBySpeaker[sp]
		}
	}
	text := strings.Join(texts, " ")
	return TextChunk{
		Text:             text,
		TextForEmbedding: enrichedText(text, primary, speakers, ec),
		PrimarySpeaker:   primary,
		Speakers:         speakers,
		StartMs:          utterances[0].StartMs,
		EndMs:            utterances[len(utterances)-1].EndMs,
		Index:            index,
		WordCount:        len(strings.Fields(text)),
		utterances:       utterances,
	}
}

// isGoodBreak reports a speaker change, a pause over 2s, or a sentence end
// followed by a pause over 1s.
func isGoodBreak(current []LabeledUtterance, next LabeledUtterance) bool {
	if len(current) == 0 {
		return false
	}
	last := current[len(current)-1]
	if last.Speaker != next.Speaker {
		return true
	}
	pause := next.StartMs - last.EndMs
	if pause > 2000 {
		return true
	}
	text := strings.TrimSpace(last.Text)
	terminal := strings.HasSuffix(text, ".") || strings.HasSuffix(text, "?") || strings.HasSuffix(text, "!")
	return terminal && pause > 1000
}

var transitionMarkers = []string{
	"anyway",
	"moving on",
	"let's talk about",
	"speaking of",
	"on another note",
	"changing topics",
	"now let's",
	"the next thing",
	"another question",
	"so tell me about",
}

var questionStarters = []string{
	"what about",
	"how about",
	"can you tell",
	"what do you think",
}

func isTopicShift(current []LabeledUtterance, next LabeledUtterance) bool {
	if len(current) == 0 {
		return false
	}
	text := strings.ToLower(next.Text)
	head := text
	if len(head) > 100 {
		head = head[:100]
	}
	for _, m := range transitionMarkers {
		if strings.Contains(head, m) {
			return true
		}
	}
	for _, s := range questionStarters {
		if strings.HasPrefix(text, s) {
			return true
		}
	}
	return false
}

// enrichedText prefixes the chunk with episode, channel, date and speaker
// lines so pronouns and references embed with their context.
func enrichedText(text, primary string, speakers []string, ec *EpisodeContext) string {
	named := primary != "" && primary != unknownSpeaker
	if ec == nil {
		if named {
			return "Speaker: " + primary + "\n---\n" + text
		}
		return text
	}
	var header []string
	if ec.EpisodeTitle != "" {
		header = append(header, "Episode: "+ec.EpisodeTitle)
	}
	if ec.ChannelName != "" {
		header = append(header, "Channel: "+ec.ChannelName)
	}
	if ec.PublishedAt != nil {
		header = append(header, "Date: "+ec.PublishedAt.Format("January 2006"))
	}
	if named {
		header = append(header, "Speaker: "+primary)
		var others []string
		for _, s := range speakers {
			if s != primary {
				others = append(others, s)
			}
		}
		if len(others) > 0 {
			header = append(header, "Also speaking: "+strings.Join(others, ", "))
		}
	}
	if len(header) == 0 {
		return text
	}
	return strings.Join(header, "\n") + "\n---\n" + text
}

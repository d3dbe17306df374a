package promptstyle

import "strings"

const marker = "PODSCRIBE_PROMPT_STYLE_V1"

// ApplySystem prepends a short guidance block to a system prompt. It is a
// no-op for empty prompts and for prompts that already carry the block.
func ApplySystem(system string, mode string) string {
	base := strings.TrimSpace(system)
	if base == "" || strings.Contains(base, marker) {
		return base
	}
	mode = strings.ToLower(strings.TrimSpace(mode))

	var b strings.Builder
	b.WriteString(marker)
	b.WriteString("\nYou are a careful assistant working on podcast transcripts.")
	b.WriteString("\nFollow the system and user instructions precisely.")
	b.WriteString("\nUse the transcript as grounding; do not invent names.")
	if mode == "json" {
		b.WriteString("\nReturn a single JSON object that conforms to the schema and contains no extra keys.")
	} else {
		b.WriteString("\nBe concise.")
	}
	b.WriteString("\n---\n")
	b.WriteString(base)
	return b.String()
}

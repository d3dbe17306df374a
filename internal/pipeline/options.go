package pipeline

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mitchellh/mapstructure"
	"gorm.io/datatypes"
)

const (
	DefaultSpeakersExpected = 2
	DefaultLanguage         = "en"
)

// RunOptions are the per-batch knobs stored in batches.config.
type RunOptions struct {
	SpeakersExpected int      `mapstructure:"speakers_expected"`
	Language         string   `mapstructure:"language"`
	Speakers         []string `mapstructure:"speakers"`
}

// DecodeRunOptions reads batch config leniently ("3" and 3 both decode) and
// fills defaults. Unknown keys are ignored.
func DecodeRunOptions(raw datatypes.JSON) (RunOptions, error) {
	opts := RunOptions{}
	if len(raw) > 0 && string(raw) != "null" {
		var m map[string]any
		if err := json.Unmarshal(raw, &m); err != nil {
			return RunOptions{}, fmt.Errorf("decode batch config: %w", err)
		}
		if err := mapstructure.WeakDecode(m, &opts); err != nil {
			return RunOptions{}, fmt.Errorf("decode batch config: %w", err)
		}
	}
	if opts.SpeakersExpected <= 0 {
		opts.SpeakersExpected = DefaultSpeakersExpected
	}
	opts.Language = strings.TrimSpace(opts.Language)
	if opts.Language == "" {
		opts.Language = DefaultLanguage
	}
	return opts, nil
}

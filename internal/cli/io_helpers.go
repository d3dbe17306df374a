package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/google/uuid"
)

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func parseIDArg(args []string, what string) (uuid.UUID, error) {
	if len(args) == 0 || strings.TrimSpace(args[0]) == "" {
		return uuid.Nil, fmt.Errorf("%s id is required", what)
	}
	id, err := uuid.Parse(strings.TrimSpace(args[0]))
	if err != nil {
		return uuid.Nil, fmt.Errorf("invalid %s id %q", what, args[0])
	}
	return id, nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

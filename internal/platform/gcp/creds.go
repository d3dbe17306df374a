package gcp

import (
	"strings"

	"google.golang.org/api/option"

	"github.com/yungbote/podscribe-backend/internal/platform/envutil"
)

// ClientOptionsFromEnv accepts either inline JSON or a path in
// GOOGLE_APPLICATION_CREDENTIALS(_JSON). Empty means application default
// credentials.
func ClientOptionsFromEnv() []option.ClientOption {
	creds := envutil.String("GOOGLE_APPLICATION_CREDENTIALS_JSON", "")
	if creds == "" {
		creds = envutil.String("GOOGLE_APPLICATION_CREDENTIALS", "")
	}
	if creds == "" {
		return nil
	}
	if strings.HasPrefix(creds, "{") {
		return []option.ClientOption{option.WithCredentialsJSON([]byte(creds))}
	}
	return []option.ClientOption{option.WithCredentialsFile(creds)}
}

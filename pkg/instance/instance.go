package instance

import (
	"os"
	"strings"
)

const defaultID = "serials-0"

// GetID identifies this process in lock tokens and logs. SERIALS_WORKER_ID
// wins, then the hostname.
func GetID() string {
	if id := strings.TrimSpace(os.Getenv("SERIALS_WORKER_ID")); id != "" {
		return id
	}
	if host, err := os.Hostname(); err == nil && host != "" {
		return host
	}
	return defaultID
}

// Token returns a lock owner value that names this process.
func Token(nonce string) string {
	return GetID() + ":" + nonce
}

package session

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	gonanoid "github.com/matoous/go-nanoid/v2"
)

// GenerateSessionID produces a sortable session id: a millisecond
// timestamp plus a short random suffix.
func GenerateSessionID() string {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	return fmt.Sprintf("sess_%d_%s", time.Now().UnixMilli(), suffix)
}

// generateRequestID produces a confirmation request id.
func generateRequestID() string {
	suffix, err := gonanoid.Generate("abcdefghijklmnopqrstuvwxyz0123456789", 10)
	if err != nil {
		suffix = strings.ReplaceAll(uuid.NewString(), "-", "")[:10]
	}
	return fmt.Sprintf("req_%d_%s", time.Now().UnixMilli(), suffix)
}

package run

import (
	"strings"

	"github.com/google/uuid"
)

// NewID returns a prefixed identifier such as "run_4f9c...". Prefixes keep
// ids self-describing in logs and wire payloads.
func NewID(prefix string) string {
	return prefix + "_" + strings.ReplaceAll(uuid.NewString(), "-", "")
}

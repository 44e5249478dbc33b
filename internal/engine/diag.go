package engine

import (
	"time"

	"github.com/lestrrat-go/strftime"
)

// formatTimestamp renders t using the configured diagnostics timestamp
// pattern, grounded on the teacher's tq.go/xmit.go use of
// strftime.Format for a channel's optional logged timestamp. An empty
// or invalid pattern falls back to RFC3339 rather than failing stats
// assembly.
func (m *Manager) formatTimestamp(t time.Time) string {
	pattern := m.settings.DiagnosticsTuning.TimestampFormat
	if pattern == "" {
		return t.Format(time.RFC3339)
	}
	formatted, err := strftime.Format(pattern, t)
	if err != nil {
		return t.Format(time.RFC3339)
	}
	return formatted
}

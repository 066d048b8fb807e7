package transcript

import (
	"fmt"
	"strings"

	"github.com/yungbote/aitranscriber-backend/internal/domain"
)

// FormatText renders groups as "Speaker N [m:ss]: text", one per line.
func FormatText(groups []domain.TranscriptGroup) string {
	lines := make([]string, 0, len(groups))
	for _, g := range groups {
		lines = append(lines, fmt.Sprintf("Speaker %d [%s]: %s", g.Speaker, FormatTime(g.Start), g.Text))
	}
	return strings.Join(lines, "\n")
}

// FormatTime renders whole seconds as m:ss.
func FormatTime(seconds float64) string {
	if seconds < 0 {
		seconds = 0
	}
	total := int(seconds)
	return fmt.Sprintf("%d:%02d", total/60, total%60)
}

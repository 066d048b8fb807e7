// Package transcript projects provider words into per-speaker groups.
package transcript

import (
	"strings"

	"github.com/yungbote/aitranscriber-backend/internal/domain"
)

// Group collapses consecutive words from the same speaker. A new group starts
// exactly where the speaker changes; start is the first word's start and text
// joins the words' punctuated forms with single spaces.
func Group(words []domain.Word) []domain.TranscriptGroup {
	if len(words) == 0 {
		return []domain.TranscriptGroup{}
	}

	groups := []domain.TranscriptGroup{}
	cur := domain.TranscriptGroup{Speaker: words[0].Speaker, Start: words[0].Start}
	var buf strings.Builder

	flush := func() {
		cur.Text = buf.String()
		groups = append(groups, cur)
		buf.Reset()
	}

	for _, w := range words {
		if w.Speaker != cur.Speaker {
			flush()
			cur = domain.TranscriptGroup{Speaker: w.Speaker, Start: w.Start}
		}
		if buf.Len() > 0 {
			buf.WriteByte(' ')
		}
		buf.WriteString(w.Text())
	}
	flush()
	return groups
}

// Equal reports whether two group sequences are identical.
func Equal(a, b []domain.TranscriptGroup) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

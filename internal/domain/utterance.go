package domain

import (
	"fmt"
	"math"
	"strings"
)

// UtterancesBySpeaker builds utterances from words, flushing at every
// speaker change.
func UtterancesBySpeaker(words []Word) []Utterance {
	if len(words) == 0 {
		return nil
	}
	out := []Utterance{}
	cur := Utterance{Speaker: words[0].Speaker, Start: words[0].Start}
	var buf strings.Builder
	var confSum float64
	n := 0

	flush := func() {
		txt := strings.TrimSpace(buf.String())
		if txt == "" {
			return
		}
		cur.Transcript = txt
		if n > 0 {
			cur.Confidence = confSum / float64(n)
		}
		cur.ID = fmt.Sprintf("u%d", len(out))
		out = append(out, cur)
		buf.Reset()
		confSum = 0
		n = 0
	}

	for _, w := range words {
		if w.Speaker != cur.Speaker && buf.Len() > 0 {
			flush()
			cur = Utterance{Speaker: w.Speaker, Start: w.Start}
		}
		if buf.Len() > 0 {
			buf.WriteString(" ")
		}
		buf.WriteString(w.Text())
		cur.End = math.Max(cur.End, w.End)
		confSum += w.Confidence
		n++
	}
	flush()
	return out
}

package transcript

import (
	"math/rand"
	"reflect"
	"strings"
	"testing"

	"github.com/yungbote/aitranscriber-backend/internal/domain"
)

func w(speaker int, start float64, word string) domain.Word {
	return domain.Word{Speaker: speaker, Start: start, Word: word, PunctuatedWord: word}
}

func TestGroupThreeWordScenario(t *testing.T) {
	words := []domain.Word{w(0, 0, "hi"), w(0, 0.5, "there"), w(1, 1.0, "bye")}
	want := []domain.TranscriptGroup{
		{Speaker: 0, Start: 0, Text: "hi there"},
		{Speaker: 1, Start: 1.0, Text: "bye"},
	}
	if got := Group(words); !reflect.DeepEqual(got, want) {
		t.Fatalf("groups: want=%+v got=%+v", want, got)
	}
}

func TestGroupEmpty(t *testing.T) {
	got := Group(nil)
	if got == nil || len(got) != 0 {
		t.Fatalf("empty: want non-nil empty slice got=%#v", got)
	}
}

func TestGroupSplitsOnlyAtSpeakerChange(t *testing.T) {
	words := []domain.Word{w(0, 0, "a"), w(1, 1, "b"), w(1, 2, "c"), w(0, 3, "d"), w(0, 4, "e")}
	got := Group(words)
	if len(got) != 3 {
		t.Fatalf("len: want=3 got=%d", len(got))
	}
	if got[2].Speaker != 0 || got[2].Start != 3 || got[2].Text != "d e" {
		t.Fatalf("third group: got=%+v", got[2])
	}
}

func TestGroupUsesPunctuatedWord(t *testing.T) {
	words := []domain.Word{
		{Speaker: 2, Start: 5, Word: "hello", PunctuatedWord: "Hello,"},
		{Speaker: 2, Start: 6, Word: "world"},
	}
	got := Group(words)
	if got[0].Text != "Hello, world" {
		t.Fatalf("text: want=%q got=%q", "Hello, world", got[0].Text)
	}
}

func TestGroupPreservesWordSequence(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	for iter := 0; iter < 200; iter++ {
		n := rng.Intn(40)
		words := make([]domain.Word, n)
		for i := range words {
			words[i] = w(rng.Intn(3), float64(i), "w"+string(rune('a'+rng.Intn(26))))
		}
		groups := Group(words)

		var joined []string
		for i, g := range groups {
			if i > 0 && groups[i-1].Speaker == g.Speaker {
				t.Fatalf("iter %d: adjacent groups share speaker %d", iter, g.Speaker)
			}
			joined = append(joined, strings.Fields(g.Text)...)
		}
		var orig []string
		for _, word := range words {
			orig = append(orig, word.PunctuatedWord)
		}
		if len(joined) != len(orig) {
			t.Fatalf("iter %d: word count want=%d got=%d", iter, len(orig), len(joined))
		}
		for i := range orig {
			if orig[i] != joined[i] {
				t.Fatalf("iter %d: word %d want=%q got=%q", iter, i, orig[i], joined[i])
			}
		}

		boundaries := 0
		for i := 1; i < len(words); i++ {
			if words[i].Speaker != words[i-1].Speaker {
				boundaries++
			}
		}
		if n > 0 && len(groups) != boundaries+1 {
			t.Fatalf("iter %d: groups want=%d got=%d", iter, boundaries+1, len(groups))
		}
	}
}

func TestFormatText(t *testing.T) {
	groups := []domain.TranscriptGroup{
		{Speaker: 0, Start: 0, Text: "hi there"},
		{Speaker: 1, Start: 75.9, Text: "bye"},
	}
	want := "Speaker 0 [0:00]: hi there\nSpeaker 1 [1:15]: bye"
	if got := FormatText(groups); got != want {
		t.Fatalf("format: want=%q got=%q", want, got)
	}
}

func TestEqual(t *testing.T) {
	a := []domain.TranscriptGroup{{Speaker: 0, Text: "x"}}
	b := []domain.TranscriptGroup{{Speaker: 0, Text: "x"}}
	if !Equal(a, b) || Equal(a, nil) {
		t.Fatalf("equal mismatch")
	}
}

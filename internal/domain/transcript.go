package domain

import "encoding/json"

// Word is one recognized token with speaker attribution.
type Word struct {
	Speaker           int     `json:"speaker"`
	Start             float64 `json:"start"`
	End               float64 `json:"end"`
	Word              string  `json:"word"`
	PunctuatedWord    string  `json:"punctuated_word"`
	Confidence        float64 `json:"confidence"`
	SpeakerConfidence float64 `json:"speaker_confidence"`
}

// Text prefers the punctuated form.
func (w Word) Text() string {
	if w.PunctuatedWord != "" {
		return w.PunctuatedWord
	}
	return w.Word
}

// TranscriptGroup is a contiguous run of words from one speaker.
type TranscriptGroup struct {
	Speaker int     `json:"speaker"`
	Start   float64 `json:"start"`
	Text    string  `json:"text"`
}

// TranscriptionResult mirrors the prerecorded response body of the
// transcription service. Metadata is passed through untouched.
type TranscriptionResult struct {
	Metadata json.RawMessage `json:"metadata,omitempty"`
	Results  ResultBody      `json:"results"`
}

type ResultBody struct {
	Channels   []Channel   `json:"channels"`
	Utterances []Utterance `json:"utterances,omitempty"`
}

type Channel struct {
	Alternatives []Alternative `json:"alternatives"`
}

type Alternative struct {
	Transcript string  `json:"transcript"`
	Confidence float64 `json:"confidence"`
	Words      []Word  `json:"words"`
}

type Utterance struct {
	ID         string  `json:"id,omitempty"`
	Start      float64 `json:"start"`
	End        float64 `json:"end"`
	Confidence float64 `json:"confidence"`
	Channel    int     `json:"channel"`
	Speaker    int     `json:"speaker"`
	Transcript string  `json:"transcript"`
	Words      []Word  `json:"words,omitempty"`
}

// Words returns channels[0].alternatives[0].words, or nil when absent.
func (r *TranscriptionResult) Words() []Word {
	if r == nil || len(r.Results.Channels) == 0 {
		return nil
	}
	alts := r.Results.Channels[0].Alternatives
	if len(alts) == 0 {
		return nil
	}
	return alts[0].Words
}

// TranscribeOptions are the recognition switches sent to a provider.
type TranscribeOptions struct {
	Model      string `json:"model,omitempty"`
	Language   string `json:"language,omitempty"`
	Diarize    bool   `json:"diarize"`
	Punctuate  bool   `json:"punctuate"`
	Utterances bool   `json:"utterances"`
}

// DefaultTranscribeOptions enables speaker separation, punctuation and
// utterance segmentation.
func DefaultTranscribeOptions() TranscribeOptions {
	return TranscribeOptions{Diarize: true, Punctuate: true, Utterances: true}
}

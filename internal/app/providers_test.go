package app

import (
	"context"
	"strings"
	"testing"
)

func TestResolveTranscriptionProvider(t *testing.T) {
	t.Setenv("DEEPGRAM_API_KEY", "dg-key")
	p, err := resolveTranscriptionProvider(context.Background(), mustTestLogger(t), newWiring(Config{TranscriptionProvider: "Deepgram"}))
	if err != nil {
		t.Fatalf("deepgram: %v", err)
	}
	if p.Name() != "deepgram" {
		t.Fatalf("name: want=deepgram got=%q", p.Name())
	}

	_, err = resolveTranscriptionProvider(context.Background(), mustTestLogger(t), newWiring(Config{TranscriptionProvider: "whisper"}))
	if err == nil || !strings.Contains(err.Error(), "TRANSCRIPTION_PROVIDER") {
		t.Fatalf("unknown provider: want error got %v", err)
	}
}

func TestResolveTranscriptionProviderRequiresKey(t *testing.T) {
	t.Setenv("DEEPGRAM_API_KEY", "")
	if _, err := resolveTranscriptionProvider(context.Background(), mustTestLogger(t), newWiring(Config{TranscriptionProvider: "deepgram"})); err == nil {
		t.Fatalf("want error without DEEPGRAM_API_KEY")
	}
}

func TestResolveSummaryGenerator(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "sk-test")
	t.Setenv("GEMINI_API_KEY", "gm-test")
	for _, name := range []string{SummaryProviderOpenAI, SummaryProviderEino, SummaryProviderGemini} {
		g, err := resolveSummaryGenerator(context.Background(), mustTestLogger(t), newWiring(Config{SummaryProvider: name}))
		if err != nil {
			t.Fatalf("%s: %v", name, err)
		}
		if g.Name() != name {
			t.Fatalf("name: want=%q got=%q", name, g.Name())
		}
	}
	if _, err := resolveSummaryGenerator(context.Background(), mustTestLogger(t), newWiring(Config{SummaryProvider: "llama"})); err == nil {
		t.Fatalf("unknown provider: want error")
	}
}

func TestLoadConfigDefaults(t *testing.T) {
	for _, k := range []string{"PORT", "TRANSCRIPTION_PROVIDER", "SUMMARY_PROVIDER"} {
		t.Setenv(k, "")
	}
	t.Setenv("AUDIO_BUCKET", "audio")
	t.Setenv("TRANSCRIBE_BUCKET", "")
	t.Setenv("CORS_ALLOWED_ORIGINS", "https://a.example, https://b.example")
	cfg := LoadConfig(nil)
	if cfg.Port != "8080" || cfg.TranscriptionProvider != TranscriptionProviderDeepgram || cfg.SummaryProvider != SummaryProviderOpenAI {
		t.Fatalf("defaults: got=%+v", cfg)
	}
	if cfg.TranscribeBucket != "audio" {
		t.Fatalf("transcribe bucket: want=audio got=%q", cfg.TranscribeBucket)
	}
	if len(cfg.AllowedOrigins) != 2 || cfg.AllowedOrigins[1] != "https://b.example" {
		t.Fatalf("origins: got=%v", cfg.AllowedOrigins)
	}
}

package app

import (
	"time"

	"github.com/yungbote/aitranscriber-backend/internal/platform/envutil"
	"github.com/yungbote/aitranscriber-backend/internal/platform/logger"
	"github.com/yungbote/aitranscriber-backend/internal/services/transcription"
)

const (
	TranscriptionProviderDeepgram      = "deepgram"
	TranscriptionProviderGCPSpeech     = "gcp_speech"
	TranscriptionProviderAWSTranscribe = "aws_transcribe"

	SummaryProviderOpenAI = "openai"
	SummaryProviderEino   = "eino"
	SummaryProviderGemini = "gemini"
)

type Config struct {
	Port            string
	LogMode         string
	ServiceName     string
	ShutdownTimeout time.Duration

	TranscriptionProvider string
	SummaryProvider       string
	MaxAudioBytes         int64
	MaxMultipartMemory    int64

	BlobStoreMode       string
	AudioBucket         string
	StorageEmulatorHost string

	AWSRegion        string
	S3Endpoint       string
	TranscribeBucket string

	SupabaseURL        string
	SupabaseServiceKey string

	SpeechLanguage string
	SpeechModel    string

	AllowedOrigins []string

	MetricsEnabled bool
	MetricsAddr    string
}

func LoadConfig(log *logger.Logger) Config {
	cfg := Config{
		Port:            envutil.String("PORT", "8080"),
		LogMode:         envutil.String("LOG_MODE", "development"),
		ServiceName:     envutil.String("OTEL_SERVICE_NAME", "aitranscriber"),
		ShutdownTimeout: envutil.Duration("SHUTDOWN_TIMEOUT", 30*time.Second),

		TranscriptionProvider: envutil.String("TRANSCRIPTION_PROVIDER", TranscriptionProviderDeepgram),
		SummaryProvider:       envutil.String("SUMMARY_PROVIDER", SummaryProviderOpenAI),
		MaxAudioBytes:         int64(envutil.Int("MAX_AUDIO_BYTES", transcription.DefaultMaxAudioBytes)),
		MaxMultipartMemory:    int64(envutil.Int("MAX_MULTIPART_MEMORY", 64<<20)),

		BlobStoreMode:       envutil.String("BLOB_STORE_MODE", string(BlobStoreModeGCS)),
		AudioBucket:         envutil.String("AUDIO_BUCKET", ""),
		StorageEmulatorHost: envutil.String("STORAGE_EMULATOR_HOST", ""),

		AWSRegion:  envutil.String("AWS_REGION", "us-east-1"),
		S3Endpoint: envutil.String("S3_ENDPOINT", ""),

		SupabaseURL:        envutil.String("SUPABASE_URL", ""),
		SupabaseServiceKey: envutil.String("SUPABASE_SERVICE_KEY", ""),

		SpeechLanguage: envutil.String("SPEECH_LANGUAGE", "en-US"),
		SpeechModel:    envutil.String("SPEECH_MODEL", ""),

		AllowedOrigins: envutil.List("CORS_ALLOWED_ORIGINS", nil),

		MetricsEnabled: envutil.Bool("METRICS_ENABLED", false),
		MetricsAddr:    envutil.String("METRICS_ADDR", ""),
	}
	cfg.TranscribeBucket = envutil.String("TRANSCRIBE_BUCKET", cfg.AudioBucket)
	if log != nil {
		log.Info("Config loaded",
			"port", cfg.Port,
			"transcription_provider", cfg.TranscriptionProvider,
			"summary_provider", cfg.SummaryProvider,
			"blob_store_mode", cfg.BlobStoreMode,
			"audio_bucket", cfg.AudioBucket,
			"metrics_enabled", cfg.MetricsEnabled,
		)
	}
	return cfg
}

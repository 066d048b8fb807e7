package aws

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/transcribe"
	ttypes "github.com/aws/aws-sdk-go-v2/service/transcribe/types"
	"github.com/google/uuid"

	"github.com/yungbote/aitranscriber-backend/internal/domain"
	"github.com/yungbote/aitranscriber-backend/internal/observability"
	"github.com/yungbote/aitranscriber-backend/internal/platform/ctxutil"
	"github.com/yungbote/aitranscriber-backend/internal/platform/logger"
)

// TranscribeAPI is the job subset of *transcribe.Client.
type TranscribeAPI interface {
	StartTranscriptionJob(ctx context.Context, in *transcribe.StartTranscriptionJobInput, optFns ...func(*transcribe.Options)) (*transcribe.StartTranscriptionJobOutput, error)
	GetTranscriptionJob(ctx context.Context, in *transcribe.GetTranscriptionJobInput, optFns ...func(*transcribe.Options)) (*transcribe.GetTranscriptionJobOutput, error)
	DeleteTranscriptionJob(ctx context.Context, in *transcribe.DeleteTranscriptionJobInput, optFns ...func(*transcribe.Options)) (*transcribe.DeleteTranscriptionJobOutput, error)
}

type TranscribeConfig struct {
	Bucket       string
	LanguageCode string
	MaxSpeakers  int
	PollInterval time.Duration
	// Prefix is the key prefix for staged media and job output.
	Prefix string
}

// Transcriber is a batch transcription provider on Amazon Transcribe. Audio is
// staged in the bucket, the job output is read back from the same bucket and
// both objects are removed afterwards.
type Transcriber struct {
	log     *logger.Logger
	jobs    TranscribeAPI
	objects ObjectAPI
	cfg     TranscribeConfig
}

func NewTranscriber(log *logger.Logger, jobs TranscribeAPI, objects ObjectAPI, cfg TranscribeConfig) (*Transcriber, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}
	if jobs == nil || objects == nil {
		return nil, fmt.Errorf("transcribe and s3 clients required")
	}
	if strings.TrimSpace(cfg.Bucket) == "" {
		return nil, fmt.Errorf("missing env var TRANSCRIBE_BUCKET")
	}
	if cfg.LanguageCode == "" {
		cfg.LanguageCode = "en-US"
	}
	if cfg.MaxSpeakers <= 1 {
		cfg.MaxSpeakers = 6
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 5 * time.Second
	}
	if cfg.Prefix == "" {
		cfg.Prefix = "transcribe"
	}
	return &Transcriber{
		log:     log.With("service", "AWSTranscribe"),
		jobs:    jobs,
		objects: objects,
		cfg:     cfg,
	}, nil
}

func (t *Transcriber) Name() string { return "aws_transcribe" }

func (t *Transcriber) Transcribe(ctx context.Context, audio []byte, contentType string, opts domain.TranscribeOptions) (*domain.TranscriptionResult, error) {
	ctx = ctxutil.Default(ctx)
	if len(audio) == 0 {
		return nil, fmt.Errorf("aws transcribe: empty audio")
	}
	format, err := mediaFormat(contentType)
	if err != nil {
		return nil, err
	}

	jobName := "at-" + uuid.New().String()
	mediaKey := path.Join(t.cfg.Prefix, "input", jobName+"."+string(format))
	outputKey := path.Join(t.cfg.Prefix, "output", jobName+".json")
	start := time.Now()

	if _, err := t.objects.PutObject(ctx, putInput(t.cfg.Bucket, mediaKey, contentType, audio)); err != nil {
		observability.Current().ObserveProvider(t.Name(), "transcribe", "stage_error", time.Since(start))
		return nil, fmt.Errorf("stage media: %w", err)
	}
	defer t.cleanup(mediaKey, outputKey, jobName)

	in := &transcribe.StartTranscriptionJobInput{
		TranscriptionJobName: aws.String(jobName),
		LanguageCode:         ttypes.LanguageCode(languageOr(opts.Language, t.cfg.LanguageCode)),
		MediaFormat:          format,
		Media:                &ttypes.Media{MediaFileUri: aws.String(fmt.Sprintf("s3://%s/%s", t.cfg.Bucket, mediaKey))},
		OutputBucketName:     aws.String(t.cfg.Bucket),
		OutputKey:            aws.String(outputKey),
	}
	if opts.Diarize {
		in.Settings = &ttypes.Settings{
			ShowSpeakerLabels: aws.Bool(true),
			MaxSpeakerLabels:  aws.Int32(int32(t.cfg.MaxSpeakers)),
		}
	}
	if _, err := t.jobs.StartTranscriptionJob(ctx, in); err != nil {
		observability.Current().ObserveProvider(t.Name(), "transcribe", "start_error", time.Since(start))
		return nil, fmt.Errorf("start transcription job: %w", err)
	}

	if err := t.wait(ctx, jobName); err != nil {
		observability.Current().ObserveProvider(t.Name(), "transcribe", "job_error", time.Since(start))
		return nil, err
	}

	out, err := t.objects.GetObject(ctx, getInput(t.cfg.Bucket, outputKey))
	if err != nil {
		observability.Current().ObserveProvider(t.Name(), "transcribe", "output_error", time.Since(start))
		return nil, fmt.Errorf("read job output: %w", err)
	}
	defer out.Body.Close()
	raw, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("read job output: %w", err)
	}
	var job jobOutput
	if err := json.Unmarshal(raw, &job); err != nil {
		observability.Current().ObserveProvider(t.Name(), "transcribe", "decode_error", time.Since(start))
		return nil, fmt.Errorf("decode job output: %w", err)
	}
	observability.Current().ObserveProvider(t.Name(), "transcribe", "ok", time.Since(start))
	return jobToResult(job, jobName), nil
}

func (t *Transcriber) wait(ctx context.Context, jobName string) error {
	ticker := time.NewTicker(t.cfg.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
		out, err := t.jobs.GetTranscriptionJob(ctx, &transcribe.GetTranscriptionJobInput{
			TranscriptionJobName: aws.String(jobName),
		})
		if err != nil {
			return fmt.Errorf("get transcription job: %w", err)
		}
		if out.TranscriptionJob == nil {
			continue
		}
		switch out.TranscriptionJob.TranscriptionJobStatus {
		case ttypes.TranscriptionJobStatusCompleted:
			return nil
		case ttypes.TranscriptionJobStatusFailed:
			return fmt.Errorf("transcription job %s failed: %s", jobName, aws.ToString(out.TranscriptionJob.FailureReason))
		default:
			t.log.Debug("Transcription job pending", "job", jobName, "status", string(out.TranscriptionJob.TranscriptionJobStatus))
		}
	}
}

// cleanup runs on a fresh context so a cancelled request still removes its
// staged objects.
func (t *Transcriber) cleanup(mediaKey, outputKey, jobName string) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	for _, key := range []string{mediaKey, outputKey} {
		if _, err := t.objects.DeleteObject(ctx, deleteInput(t.cfg.Bucket, key)); err != nil && !isNotFound(err) {
			t.log.Warn("Failed to delete staged object", "key", key, "error", err)
		}
	}
	if _, err := t.jobs.DeleteTranscriptionJob(ctx, &transcribe.DeleteTranscriptionJobInput{
		TranscriptionJobName: aws.String(jobName),
	}); err != nil {
		var nf *ttypes.NotFoundException
		if !errors.As(err, &nf) {
			t.log.Warn("Failed to delete transcription job", "job", jobName, "error", err)
		}
	}
}

func languageOr(v, def string) string {
	if strings.TrimSpace(v) != "" {
		return v
	}
	return def
}

func mediaFormat(contentType string) (ttypes.MediaFormat, error) {
	m := strings.ToLower(strings.TrimSpace(contentType))
	switch {
	case strings.Contains(m, "wav"):
		return ttypes.MediaFormatWav, nil
	case strings.Contains(m, "mpeg") || strings.Contains(m, "mp3"):
		return ttypes.MediaFormatMp3, nil
	case strings.Contains(m, "flac"):
		return ttypes.MediaFormatFlac, nil
	case strings.Contains(m, "ogg"):
		return ttypes.MediaFormatOgg, nil
	case strings.Contains(m, "webm"):
		return ttypes.MediaFormatWebm, nil
	case strings.Contains(m, "m4a") || strings.Contains(m, "mp4") || strings.Contains(m, "aac"):
		return ttypes.MediaFormatMp4, nil
	case strings.Contains(m, "amr"):
		return ttypes.MediaFormatAmr, nil
	}
	return "", fmt.Errorf("aws transcribe: unsupported content type %q", contentType)
}

// jobOutput is the transcript document written by a finished job.
type jobOutput struct {
	JobName string `json:"jobName"`
	Results struct {
		Transcripts []struct {
			Transcript string `json:"transcript"`
		} `json:"transcripts"`
		SpeakerLabels *struct {
			Speakers int `json:"speakers"`
			Segments []struct {
				SpeakerLabel string `json:"speaker_label"`
				Items        []struct {
					StartTime    string `json:"start_time"`
					SpeakerLabel string `json:"speaker_label"`
				} `json:"items"`
			} `json:"segments"`
		} `json:"speaker_labels,omitempty"`
		Items []jobItem `json:"items"`
	} `json:"results"`
	Status string `json:"status"`
}

type jobItem struct {
	StartTime    string `json:"start_time,omitempty"`
	EndTime      string `json:"end_time,omitempty"`
	Type         string `json:"type"`
	SpeakerLabel string `json:"speaker_label,omitempty"`
	Alternatives []struct {
		Confidence string `json:"confidence"`
		Content    string `json:"content"`
	} `json:"alternatives"`
}

// jobToResult maps pronunciation items to words. Punctuation items are glued
// onto the preceding word's punctuated form.
func jobToResult(job jobOutput, jobName string) *domain.TranscriptionResult {
	segLabel := map[string]string{}
	if sl := job.Results.SpeakerLabels; sl != nil {
		for _, seg := range sl.Segments {
			for _, it := range seg.Items {
				label := it.SpeakerLabel
				if label == "" {
					label = seg.SpeakerLabel
				}
				segLabel[it.StartTime] = label
			}
		}
	}

	words := make([]domain.Word, 0, len(job.Results.Items))
	var confSum float64
	for _, it := range job.Results.Items {
		if len(it.Alternatives) == 0 {
			continue
		}
		content := it.Alternatives[0].Content
		if it.Type == "punctuation" {
			if n := len(words); n > 0 {
				words[n-1].PunctuatedWord += content
			}
			continue
		}
		label := it.SpeakerLabel
		if label == "" {
			label = segLabel[it.StartTime]
		}
		conf, _ := strconv.ParseFloat(it.Alternatives[0].Confidence, 64)
		confSum += conf
		words = append(words, domain.Word{
			Speaker:        speakerIndex(label),
			Start:          parseSeconds(it.StartTime),
			End:            parseSeconds(it.EndTime),
			Word:           strings.ToLower(content),
			PunctuatedWord: content,
			Confidence:     conf,
		})
	}

	transcript := ""
	if len(job.Results.Transcripts) > 0 {
		transcript = job.Results.Transcripts[0].Transcript
	}
	alt := domain.Alternative{Transcript: transcript, Words: words}
	if len(words) > 0 {
		alt.Confidence = confSum / float64(len(words))
	}
	meta := map[string]any{"provider": "aws_transcribe", "request_id": jobName, "channels": 1}
	if len(words) > 0 {
		meta["duration"] = words[len(words)-1].End
	}
	raw, _ := json.Marshal(meta)
	return &domain.TranscriptionResult{
		Metadata: raw,
		Results: domain.ResultBody{
			Channels:   []domain.Channel{{Alternatives: []domain.Alternative{alt}}},
			Utterances: domain.UtterancesBySpeaker(words),
		},
	}
}

// speakerIndex turns "spk_3" into 3.
func speakerIndex(label string) int {
	n, err := strconv.Atoi(strings.TrimPrefix(label, "spk_"))
	if err != nil || n < 0 {
		return 0
	}
	return n
}

func parseSeconds(s string) float64 {
	v, _ := strconv.ParseFloat(strings.TrimSpace(s), 64)
	return v
}

func putInput(bucket, key, contentType string, data []byte) *s3.PutObjectInput {
	in := &s3.PutObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
		Body:   bytes.NewReader(data),
	}
	if contentType != "" {
		in.ContentType = aws.String(contentType)
	}
	return in
}

func getInput(bucket, key string) *s3.GetObjectInput {
	return &s3.GetObjectInput{Bucket: aws.String(bucket), Key: aws.String(key)}
}

func deleteInput(bucket, key string) *s3.DeleteObjectInput {
	return &s3.DeleteObjectInput{Bucket: aws.String(bucket), Key: aws.String(key)}
}

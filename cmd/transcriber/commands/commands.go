package commands

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/yungbote/aitranscriber-backend/internal/cli"
	"github.com/yungbote/aitranscriber-backend/internal/platform/logger"
)

var (
	// Access these variables only from a main package:

	Root = &cobra.Command{
		Use:           "transcriber",
		Short:         "Reduce, upload, transcribe and summarize audio files",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	Run = &cobra.Command{
		Use:   "run <audio file>",
		Short: "Process one audio file and print the transcript and summary",
		Args:  cobra.ExactArgs(1),
		RunE:  runFile,
	}

	Config = &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration",
		Args:  cobra.ExactArgs(0),
		RunE:  printConfig,
	}

	LogMode = "production"
)

func init() {
	Root.PersistentFlags().String("config", "", "path to a YAML config file")
	Root.PersistentFlags().String("server", "", "base URL of the transcription server")
	Root.PersistentFlags().String("codec", "", "audio codec for size reduction: beep or ffmpeg")
	Root.PersistentFlags().String("upload-mode", "", "direct, tus, gcs or s3")
	Root.PersistentFlags().String("bucket", "", "destination bucket for resumable uploads")
	Root.PersistentFlags().Duration("timeout", 0, "overall request timeout")
	Root.PersistentFlags().StringVar(&LogMode, "log-mode", LogMode, "production or development logging")

	Run.Flags().String("out", "", "write the transcript to this file instead of stdout")

	Root.AddCommand(Run)
	Root.AddCommand(Config)
}

// loadConfig reads --config, applies flag overrides and validates.
func loadConfig(cmd *cobra.Command) (cli.Config, error) {
	flags := cmd.Flags()
	path, _ := flags.GetString("config")
	cfg, err := cli.LoadConfig(path)
	if err != nil {
		return cfg, err
	}
	if v, _ := flags.GetString("server"); v != "" {
		cfg.Server = v
	}
	if v, _ := flags.GetString("codec"); v != "" {
		cfg.Codec = v
	}
	if v, _ := flags.GetString("upload-mode"); v != "" {
		cfg.Upload.Mode = v
	}
	if v, _ := flags.GetString("bucket"); v != "" {
		cfg.Upload.Bucket = v
	}
	if v, _ := flags.GetDuration("timeout"); v > 0 {
		cfg.Timeout = v
	}
	if flags.Lookup("out") != nil {
		if v, _ := flags.GetString("out"); v != "" {
			cfg.Out = v
		}
	}
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func runFile(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	log, err := logger.New(LogMode)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer log.Sync()

	ctx := cmd.Context()
	status := func(s string) {
		if s == "" {
			return
		}
		fmt.Fprintf(cmd.ErrOrStderr(), "%s %s\n", time.Now().Format("15:04:05"), s)
	}
	runner, err := cli.NewRunner(ctx, log, cfg, status)
	if err != nil {
		return err
	}
	defer runner.Close()

	f, err := cli.ReadFile(args[0])
	if err != nil {
		return err
	}
	out, err := runner.Process(ctx, f)
	if err != nil {
		return err
	}
	if len(out.Applied) > 0 {
		log.Info("Audio reduced", "stages", out.Applied, "bytes", out.Upload.BytesTotal)
	}
	return cli.WriteOutput(cmd.OutOrStdout(), cfg.Out, out)
}

func printConfig(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	cfg.Upload.Token = redact(cfg.Upload.Token)
	cfg.Fingerprints.Password = redact(cfg.Fingerprints.Password)
	enc := yaml.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent(2)
	if err := enc.Encode(cfg); err != nil {
		return err
	}
	return enc.Close()
}

func redact(s string) string {
	if s == "" {
		return ""
	}
	return "[redacted]"
}

// Exit prints err and exits non-zero.
func Exit(err error) {
	fmt.Fprintln(os.Stderr, "error:", err)
	os.Exit(1)
}

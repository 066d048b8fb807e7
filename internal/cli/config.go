// Package cli holds the transcriber command's configuration and the
// wiring that turns it into an orchestrator session.
package cli

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/yungbote/aitranscriber-backend/internal/audio"
	"github.com/yungbote/aitranscriber-backend/internal/clients/supabase"
	"github.com/yungbote/aitranscriber-backend/internal/upload"
)

const (
	UploadModeDirect = "direct"
	UploadModeTus    = "tus"
	UploadModeGCS    = "gcs"
	UploadModeS3     = "s3"

	FingerprintsMemory = "memory"
	FingerprintsRedis  = "redis"
)

type Config struct {
	Server       string             `yaml:"server"`
	Timeout      time.Duration      `yaml:"timeout"`
	Codec        string             `yaml:"codec"`
	BudgetBytes  int64              `yaml:"budget_bytes"`
	Upload       UploadConfig       `yaml:"upload"`
	Fingerprints FingerprintsConfig `yaml:"fingerprints"`
	Out          string             `yaml:"out"`
}

type UploadConfig struct {
	Mode      string `yaml:"mode"`
	Bucket    string `yaml:"bucket"`
	ChunkSize int64  `yaml:"chunk_size"`

	// tus; SupabaseURL derives Endpoint when it is unset.
	Endpoint    string `yaml:"endpoint"`
	SupabaseURL string `yaml:"supabase_url"`
	Token       string `yaml:"token"`
	Upsert      bool   `yaml:"upsert"`

	// gcs
	EmulatorHost string `yaml:"emulator_host"`

	// s3
	Region     string `yaml:"region"`
	S3Endpoint string `yaml:"s3_endpoint"`
}

type FingerprintsConfig struct {
	Store    string        `yaml:"store"`
	Addr     string        `yaml:"addr"`
	Password string        `yaml:"password"`
	Prefix   string        `yaml:"prefix"`
	TTL      time.Duration `yaml:"ttl"`
}

// LoadConfig reads a YAML file. A missing path yields the zero config;
// callers run Validate after applying flag overrides.
func LoadConfig(path string) (Config, error) {
	var cfg Config
	path = strings.TrimSpace(path)
	if path == "" {
		return cfg, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate fills defaults and rejects incomplete upload settings.
func (c *Config) Validate() error {
	c.Server = strings.TrimRight(strings.TrimSpace(c.Server), "/")
	if c.Server == "" {
		c.Server = "http://localhost:8080"
	}
	if c.Timeout <= 0 {
		c.Timeout = 30 * time.Minute
	}
	if c.Codec == "" {
		c.Codec = "beep"
	}
	if c.BudgetBytes <= 0 {
		c.BudgetBytes = audio.DefaultBudget
	}

	u := &c.Upload
	u.Mode = strings.ToLower(strings.TrimSpace(u.Mode))
	if u.Mode == "" {
		u.Mode = UploadModeDirect
	}
	if u.ChunkSize <= 0 {
		u.ChunkSize = upload.DefaultChunkSize
	}
	switch u.Mode {
	case UploadModeDirect:
	case UploadModeTus:
		if u.Endpoint == "" && u.SupabaseURL != "" {
			u.Endpoint = supabase.ResumableURL(u.SupabaseURL)
			if u.Bucket == "" {
				u.Bucket = supabase.DefaultBucket
			}
		}
		if u.Endpoint == "" {
			return errors.New("upload.endpoint or upload.supabase_url required for tus uploads")
		}
		if u.Bucket == "" {
			return errors.New("upload.bucket required for tus uploads")
		}
	case UploadModeGCS, UploadModeS3:
		if u.Bucket == "" {
			return fmt.Errorf("upload.bucket required for %s uploads", u.Mode)
		}
	default:
		return fmt.Errorf("unknown upload.mode %q (allowed: direct, tus, gcs, s3)", u.Mode)
	}

	f := &c.Fingerprints
	f.Store = strings.ToLower(strings.TrimSpace(f.Store))
	if f.Store == "" {
		f.Store = FingerprintsMemory
	}
	switch f.Store {
	case FingerprintsMemory:
	case FingerprintsRedis:
		if f.Addr == "" {
			return errors.New("fingerprints.addr required for the redis store")
		}
		if f.Prefix == "" {
			f.Prefix = "aitranscriber:upload:"
		}
		if f.TTL <= 0 {
			f.TTL = 24 * time.Hour
		}
	default:
		return fmt.Errorf("unknown fingerprints.store %q (allowed: memory, redis)", f.Store)
	}
	return nil
}

// Package audio shrinks recordings that exceed an upload budget by running
// them through an ordered list of decode/transform/encode stages.
package audio

import (
	"bytes"
	"path/filepath"
	"strings"
	"time"
)

// File is an encoded audio file held in memory.
type File struct {
	Name        string
	ContentType string
	Data        []byte
}

func (f File) Size() int64 { return int64(len(f.Data)) }

// Ext returns the lower-cased extension without the dot.
func (f File) Ext() string {
	return strings.TrimPrefix(strings.ToLower(filepath.Ext(f.Name)), ".")
}

// Buffer holds decoded samples in [-1, 1], one slice per channel.
// All channels have the same length.
type Buffer struct {
	SampleRate int
	Channels   [][]float32
}

func (b *Buffer) NumChannels() int { return len(b.Channels) }

func (b *Buffer) Frames() int {
	if b == nil || len(b.Channels) == 0 {
		return 0
	}
	return len(b.Channels[0])
}

func (b *Buffer) Duration() time.Duration {
	if b == nil || b.SampleRate <= 0 {
		return 0
	}
	return time.Duration(float64(b.Frames()) / float64(b.SampleRate) * float64(time.Second))
}

// withExt swaps the extension of name, keeping the base.
func withExt(name, ext string) string {
	base := strings.TrimSuffix(name, filepath.Ext(name))
	if base == "" {
		base = "audio"
	}
	return base + "." + ext
}

type container string

const (
	containerUnknown container = ""
	containerWAV     container = "wav"
	containerMP3     container = "mp3"
	containerOgg     container = "ogg"
	containerFLAC    container = "flac"
)

// sniffContainer inspects magic bytes first, then falls back to the
// content type and file extension.
func sniffContainer(f File) container {
	d := f.Data
	switch {
	case len(d) >= 12 && bytes.Equal(d[:4], []byte("RIFF")) && bytes.Equal(d[8:12], []byte("WAVE")):
		return containerWAV
	case len(d) >= 4 && bytes.Equal(d[:4], []byte("fLaC")):
		return containerFLAC
	case len(d) >= 4 && bytes.Equal(d[:4], []byte("OggS")):
		return containerOgg
	case len(d) >= 3 && bytes.Equal(d[:3], []byte("ID3")):
		return containerMP3
	case len(d) >= 2 && d[0] == 0xFF && d[1]&0xE0 == 0xE0:
		return containerMP3
	}
	ct := strings.ToLower(f.ContentType)
	switch {
	case strings.Contains(ct, "wav"):
		return containerWAV
	case strings.Contains(ct, "mpeg"), strings.Contains(ct, "mp3"):
		return containerMP3
	case strings.Contains(ct, "ogg"):
		return containerOgg
	case strings.Contains(ct, "flac"):
		return containerFLAC
	}
	switch f.Ext() {
	case "wav":
		return containerWAV
	case "mp3":
		return containerMP3
	case "ogg", "oga":
		return containerOgg
	case "flac":
		return containerFLAC
	}
	return containerUnknown
}

// isLossy reports whether f is already in a lossy encoding.
func isLossy(f File) bool {
	switch sniffContainer(f) {
	case containerMP3, containerOgg:
		return true
	case containerWAV, containerFLAC:
		return false
	}
	ct := strings.ToLower(f.ContentType)
	for _, sub := range []string{"mp4", "aac", "webm", "opus"} {
		if strings.Contains(ct, sub) {
			return true
		}
	}
	switch f.Ext() {
	case "m4a", "mp4", "aac", "webm", "opus":
		return true
	}
	return false
}

// ContentTypeFor maps a file name to an audio MIME type.
func ContentTypeFor(name string) string {
	switch strings.TrimPrefix(strings.ToLower(filepath.Ext(name)), ".") {
	case "wav":
		return "audio/wav"
	case "mp3":
		return "audio/mpeg"
	case "ogg", "oga":
		return "audio/ogg"
	case "flac":
		return "audio/flac"
	case "m4a", "mp4":
		return "audio/mp4"
	case "webm":
		return "audio/webm"
	default:
		return "application/octet-stream"
	}
}

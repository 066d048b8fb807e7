package domain

import "time"

// UploadSession tracks one resumable upload. ResumeToken is opaque to
// callers: a tus upload URL, a GCS session URI or an S3 upload id.
type UploadSession struct {
	FileID        string    `json:"file_id"`
	ObjectName    string    `json:"object_name"`
	ContentType   string    `json:"content_type,omitempty"`
	BytesTotal    int64     `json:"bytes_total"`
	BytesUploaded int64     `json:"bytes_uploaded"`
	ResumeToken   string    `json:"resume_token"`
	CreatedAt     time.Time `json:"created_at"`
}

func (s UploadSession) Progress() float64 {
	if s.BytesTotal <= 0 {
		return 0
	}
	return float64(s.BytesUploaded) / float64(s.BytesTotal)
}

func (s UploadSession) Complete() bool {
	return s.BytesTotal > 0 && s.BytesUploaded >= s.BytesTotal
}

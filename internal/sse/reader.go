// Package sse reads and writes server-sent event streams framed as
// "data: <payload>\n\n" records.
package sse

import (
	"bytes"
	"errors"
	"io"
	"slices"
	"strings"
)

const (
	readChunkSize = 32 * 1024

	// DefaultMaxRecordSize bounds a single buffered record. Full transcription
	// results for long recordings are a few MiB.
	DefaultMaxRecordSize = 32 * 1024 * 1024
)

var ErrRecordTooLarge = errors.New("sse: record exceeds max size")

// Record is one complete event block.
type Record struct {
	Event string
	Data  string
}

// Reader splits an arbitrary chunked byte stream into records. It buffers
// partial records across reads and yields a record only once its blank-line
// separator has arrived. Bytes left without a separator at EOF are dropped.
type Reader struct {
	src io.Reader
	buf []byte
	// scanned is how far buf is known to hold no separator start.
	scanned       int
	eof           bool
	discarded     int
	MaxRecordSize int
}

func NewReader(r io.Reader) *Reader {
	return &Reader{src: r, MaxRecordSize: DefaultMaxRecordSize}
}

// Next returns the next record carrying a data field. Blocks with no data
// (comments, unknown fields) are skipped. io.EOF marks the end of the stream.
func (rd *Reader) Next() (Record, error) {
	for {
		if i, n := separatorIndex(rd.buf, rd.scanned); i >= 0 {
			block := rd.buf[:i]
			rd.buf = rd.buf[i+n:]
			rd.scanned = 0
			if rec, ok := parseBlock(block); ok {
				return rec, nil
			}
			continue
		}
		// A separator may straddle the next read by up to three bytes.
		rd.scanned = max(len(rd.buf)-3, 0)
		if rd.eof {
			rd.discarded += len(bytes.TrimSpace(rd.buf))
			rd.buf = nil
			return Record{}, io.EOF
		}
		if rd.MaxRecordSize > 0 && len(rd.buf) > rd.MaxRecordSize {
			return Record{}, ErrRecordTooLarge
		}
		if err := rd.fill(); err != nil {
			return Record{}, err
		}
	}
}

// Discarded reports how many non-whitespace trailing bytes were dropped at
// EOF because no separator followed them.
func (rd *Reader) Discarded() int { return rd.discarded }

func (rd *Reader) fill() error {
	rd.buf = slices.Grow(rd.buf, readChunkSize)
	n, err := rd.src.Read(rd.buf[len(rd.buf) : len(rd.buf)+readChunkSize])
	rd.buf = rd.buf[:len(rd.buf)+n]
	if err != nil {
		if errors.Is(err, io.EOF) {
			rd.eof = true
			return nil
		}
		return err
	}
	return nil
}

// separatorIndex finds the earliest blank-line separator, LF or CRLF,
// starting at from. The returned index is relative to b.
func separatorIndex(b []byte, from int) (int, int) {
	if from < 0 || from > len(b) {
		from = 0
	}
	tail := b[from:]
	lf := bytes.Index(tail, []byte("\n\n"))
	crlf := bytes.Index(tail, []byte("\r\n\r\n"))
	switch {
	case lf < 0 && crlf < 0:
		return -1, 0
	case crlf < 0 || (lf >= 0 && lf < crlf):
		return from + lf, 2
	default:
		return from + crlf, 4
	}
}

func parseBlock(block []byte) (Record, bool) {
	var (
		rec     Record
		data    []string
		hasData bool
	)
	for _, line := range strings.Split(string(block), "\n") {
		line = strings.TrimRight(line, "\r")
		switch {
		case line == "", strings.HasPrefix(line, ":"):
			continue
		case strings.HasPrefix(line, "event:"):
			rec.Event = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			v := strings.TrimPrefix(line, "data:")
			v = strings.TrimPrefix(v, " ")
			data = append(data, v)
			hasData = true
		}
	}
	if !hasData {
		return Record{}, false
	}
	rec.Data = strings.Join(data, "\n")
	return rec, true
}

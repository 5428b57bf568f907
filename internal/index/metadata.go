package index

import (
	"bytes"
	"encoding/json"
	"io"
	"os"

	"github.com/rs/zerolog/log"

	"github.com/sessionhub/sessionhub/internal/jsonl"
)

// maxLineBytes caps a single record during metadata scans. Extended thinking
// blocks can push individual records into the megabytes.
const maxLineBytes = 10 * 1024 * 1024

// summaryRecord is the only shape the metadata scan deserialises in full.
type summaryRecord struct {
	Type    string `json:"type"`
	Summary string `json:"summary"`
}

// turnDurationRecord carries the per-turn elapsed time in milliseconds.
type turnDurationRecord struct {
	Type     string `json:"type"`
	Duration int64  `json:"duration"`
}

var (
	summaryNeedle       = []byte(`"type":"summary"`)
	summaryNeedleSpaced = []byte(`"type": "summary"`)
	durationNeedle      = []byte(`"turn_duration"`)
)

// ReadMetadata scans a session file once, returning the latest summary
// (empty if none) and the total line count. Only lines whose raw bytes
// contain the summary type marker are deserialised. I/O errors degrade to
// an empty result with a warning; a partial count is never returned.
func ReadMetadata(path string) (summary string, lineCount int) {
	f, err := os.Open(path)
	if err != nil {
		log.Warn().Err(err).Str("path", path).Msg("failed to open session file")
		return "", 0
	}
	defer func() { _ = f.Close() }()

	summary, lineCount, err = readMetadataFrom(f)
	if err != nil {
		log.Warn().Err(err).Str("path", path).Msg("session file read failed mid-scan")
		return "", 0
	}
	return summary, lineCount
}

func readMetadataFrom(src io.Reader) (summary string, lineCount int, err error) {
	r := jsonl.NewReader(src, maxLineBytes)
	for {
		line, err := r.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", 0, err
		}

		lineCount++
		if line.TooLong {
			continue
		}
		if !bytes.Contains(line.Data, summaryNeedle) && !bytes.Contains(line.Data, summaryNeedleSpaced) {
			continue
		}

		var rec summaryRecord
		if err := json.Unmarshal(line.Data, &rec); err != nil {
			continue
		}
		if rec.Type == "summary" {
			summary = rec.Summary
		}
	}

	return summary, lineCount, nil
}

// readDuration sums turn_duration records across the file. Returns nil when
// the sum is zero or the file cannot be read.
func readDuration(path string) *int64 {
	f, err := os.Open(path)
	if err != nil {
		log.Warn().Err(err).Str("path", path).Msg("failed to open session file for duration scan")
		return nil
	}
	defer func() { _ = f.Close() }()

	var total int64
	r := jsonl.NewReader(f, maxLineBytes)
	for {
		line, err := r.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			log.Warn().Err(err).Str("path", path).Msg("duration scan failed")
			return nil
		}
		if line.TooLong || !bytes.Contains(line.Data, durationNeedle) {
			continue
		}

		var rec turnDurationRecord
		if err := json.Unmarshal(line.Data, &rec); err != nil {
			continue
		}
		if rec.Type == "turn_duration" {
			total += rec.Duration
		}
	}

	if total == 0 {
		return nil
	}
	return &total
}

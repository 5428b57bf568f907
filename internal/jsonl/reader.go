// Package jsonl streams newline-delimited JSON records with a line size cap.
package jsonl

import (
	"bufio"
	"bytes"
	"io"
)

// Line is a single record read from a stream. Data excludes trailing newline
// bytes. TooLong is set when the record exceeded the configured cap; such
// records carry no Data and callers are expected to skip them.
type Line struct {
	Data    []byte
	TooLong bool
}

// Reader streams lines from an io.Reader.
type Reader struct {
	br       *bufio.Reader
	maxBytes int
}

// NewReader creates a Reader. maxBytes of 0 disables the line size cap.
func NewReader(r io.Reader, maxBytes int) *Reader {
	return &Reader{
		br:       bufio.NewReader(r),
		maxBytes: maxBytes,
	}
}

// Next returns the next line, or io.EOF when the stream is exhausted.
// Oversized lines are consumed fully and reported with TooLong set so the
// caller keeps its line count accurate.
func (r *Reader) Next() (Line, error) {
	var (
		buf     []byte
		tooLong bool
	)

	for {
		part, err := r.br.ReadSlice('\n')

		if !tooLong {
			if r.maxBytes > 0 && len(buf)+len(part) > r.maxBytes {
				tooLong = true
				buf = nil
			} else {
				buf = append(buf, part...)
			}
		}

		if err == bufio.ErrBufferFull {
			continue
		}
		if err == io.EOF {
			if len(part) == 0 && len(buf) == 0 && !tooLong {
				return Line{}, io.EOF
			}
			return Line{Data: trimLine(buf), TooLong: tooLong}, nil
		}
		if err != nil {
			return Line{}, err
		}
		return Line{Data: trimLine(buf), TooLong: tooLong}, nil
	}
}

func trimLine(b []byte) []byte {
	b = bytes.TrimSuffix(b, []byte{'\n'})
	b = bytes.TrimSuffix(b, []byte{'\r'})
	return b
}

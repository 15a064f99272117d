// Package output turns a child's byte stream into decoded log lines.
package output

import (
	"bufio"
	"errors"
	"io"
	"io/fs"
	"time"
	"unicode/utf8"

	"golang.org/x/text/encoding/unicode"

	"github.com/hamalhq/hamal/internal/logstore"
)

// DefaultMaxLine is the longest line emitted as a single Line. Longer lines
// are split.
const DefaultMaxLine = 64 * 1024

// Reader reads one stream of a child until EOF.
type Reader struct {
	Stream  logstore.Stream
	MaxLine int
	// OnInvalid is called with the raw bytes of a line that was not valid
	// UTF-8. The line is still emitted, with U+FFFD substitutions.
	OnInvalid func(raw []byte)
	// Now defaults to time.Now.
	Now func() time.Time
}

// Run emits one Line per newline-terminated chunk of src, stripping the line
// terminator. A trailing chunk without newline is emitted at EOF. Run returns
// nil once src reaches EOF or is closed, and the read error otherwise.
// emit is called on the reader's goroutine and must not block for long.
func (r Reader) Run(src io.Reader, emit func(logstore.Line)) error {
	maxLine := r.MaxLine
	if maxLine <= 0 {
		maxLine = DefaultMaxLine
	}
	now := r.Now
	if now == nil {
		now = time.Now
	}
	dec := unicode.UTF8.NewDecoder()
	br := bufio.NewReaderSize(src, maxLine)
	var carry []byte
	for {
		raw, isPrefix, err := br.ReadLine()
		if len(carry) > 0 {
			raw = append(carry, raw...)
			carry = nil
		}
		if isPrefix {
			// keep a rune cut by the split for the next chunk
			if n := partialRune(raw); n > 0 && n < len(raw) {
				carry = append([]byte(nil), raw[len(raw)-n:]...)
				raw = raw[:len(raw)-n]
			}
		}
		if len(raw) > 0 || err == nil {
			text := raw
			if !isPrefix {
				text = trimCR(raw)
			}
			var s string
			if utf8.Valid(text) {
				s = string(text)
			} else {
				if r.OnInvalid != nil {
					r.OnInvalid(append([]byte(nil), text...))
				}
				fixed, derr := dec.Bytes(text)
				if derr != nil {
					fixed = []byte(string([]rune(string(text))))
				}
				s = string(fixed)
				dec.Reset()
			}
			emit(logstore.Line{Timestamp: now(), Stream: r.Stream, Text: s})
		}
		if err != nil {
			if isClosed(err) {
				return nil
			}
			return err
		}
	}
}

// partialRune returns the length of an incomplete UTF-8 sequence at the end
// of b, or 0.
func partialRune(b []byte) int {
	for i := len(b) - 1; i >= 0 && i > len(b)-utf8.UTFMax; i-- {
		if utf8.RuneStart(b[i]) {
			if utf8.FullRune(b[i:]) {
				return 0
			}
			return len(b) - i
		}
	}
	return 0
}

func trimCR(b []byte) []byte {
	if n := len(b); n > 0 && b[n-1] == '\r' {
		return b[:n-1]
	}
	return b
}

func isClosed(err error) bool {
	return errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrClosedPipe) ||
		errors.Is(err, fs.ErrClosed)
}

// Package mbox implements a streaming reader for mbox files.
//
// Converter output follows the mboxo/mboxrd conventions: each message is
// preceded by a Unix "From " separator line, and body lines that begin with
// "From " (or '>' runs followed by "From ") are escaped with one extra '>'.
// The reader splits the stream on separator lines, removes one level of
// escaping, and holds at most one message in memory at a time, so
// multi-gigabyte conversion output can be parsed without buffering the file.
package mbox

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"time"
)

const maxLineBytes = 32 << 20 // 32 MiB

// ErrMessageTooLarge is returned by Next for a message whose body exceeds
// the reader's size limit. The reader stays usable; the following call
// returns the next message.
var ErrMessageTooLarge = errors.New("mbox message exceeds max size")

// Message is a single message from an mbox file.
type Message struct {
	// FromLine is the separator line without its trailing newline.
	FromLine string

	// Raw is the RFC 5322 message bytes (headers + body) with mboxrd
	// escaping removed. The separator line is not included. Line endings
	// are whatever the source file used.
	Raw []byte
}

// SeparatorDate returns the timestamp embedded in the message's "From "
// separator line. It accepts numeric offsets and a small allowlist of
// timezone abbreviations; ok is false when the line carries no trustworthy
// date.
func (m *Message) SeparatorDate() (time.Time, bool) {
	return ParseFromSeparatorDateStrict(m.FromLine)
}

// Reader reads messages from an mbox stream one at a time.
type Reader struct {
	br *bufio.Reader

	// pending holds the separator line of the next message once the scan
	// for the current message runs into it.
	pending    string
	hasPending bool
	eof        bool

	maxMessageBytes int64
}

// NewReader creates an mbox reader with no per-message size limit.
func NewReader(r io.Reader) *Reader {
	return &Reader{br: bufio.NewReader(r)}
}

// NewReaderWithMaxMessageBytes creates an mbox reader that rejects messages
// larger than maxMessageBytes. A limit <= 0 means no limit.
func NewReaderWithMaxMessageBytes(r io.Reader, maxMessageBytes int64) *Reader {
	rd := NewReader(r)
	rd.maxMessageBytes = maxMessageBytes
	return rd
}

// Next returns the next message from the stream. It returns io.EOF when no
// messages remain and ErrMessageTooLarge when the current message exceeds
// the size limit; in the latter case the reader has already skipped to the
// next separator.
func (r *Reader) Next() (*Message, error) {
	if r.eof && !r.hasPending {
		return nil, io.EOF
	}

	if !r.hasPending {
		if err := r.seekSeparator(); err != nil {
			return nil, err
		}
	}

	fromLine := r.pending
	r.hasPending = false

	var raw bytes.Buffer
	var size int64
	tooLarge := false

	for {
		line, err := r.readLine()
		if len(line) > 0 {
			if isSeparatorLine(line) {
				r.pending = string(bytes.TrimRight(line, "\r\n"))
				r.hasPending = true
				break
			}
			if !tooLarge {
				b := unescapeFrom(line)
				if r.maxMessageBytes > 0 && size+int64(len(b)) > r.maxMessageBytes {
					tooLarge = true
				} else {
					raw.Write(b)
					size += int64(len(b))
				}
			}
		}

		if err != nil {
			if err == io.EOF {
				r.eof = true
				break
			}
			return nil, err
		}
	}

	if tooLarge {
		return nil, fmt.Errorf("%w: limit %d bytes", ErrMessageTooLarge, r.maxMessageBytes)
	}

	// Empty bodies are unusual but legal; return them as-is.
	return &Message{FromLine: fromLine, Raw: raw.Bytes()}, nil
}

// seekSeparator discards stream content up to and including the next
// separator line, which it stashes in pending.
func (r *Reader) seekSeparator() error {
	for {
		line, err := r.readLine()
		if isSeparatorLine(line) {
			r.pending = string(bytes.TrimRight(line, "\r\n"))
			r.hasPending = true
			return nil
		}
		if err != nil {
			if err == io.EOF {
				r.eof = true
				return io.EOF
			}
			return err
		}
	}
}

func (r *Reader) readLine() ([]byte, error) {
	// ReadBytes returns bufio.ErrBufferFull when the buffer fills before the
	// delimiter appears; accumulate until the line completes.
	var out []byte
	for {
		b, err := r.br.ReadBytes('\n')
		out = append(out, b...)
		if len(out) > maxLineBytes {
			return nil, fmt.Errorf("mbox line exceeds max length (%d bytes)", maxLineBytes)
		}
		if err == nil {
			return out, nil
		}
		if errors.Is(err, bufio.ErrBufferFull) {
			continue
		}
		if err == io.EOF {
			return out, io.EOF
		}
		if len(out) > 0 {
			return out, err
		}
		return nil, err
	}
}

var fromPrefix = []byte("From ")

// isSeparatorLine reports whether line looks like an mbox "From " separator:
// the prefix plus a parseable ctime-like date somewhere after the sender.
func isSeparatorLine(line []byte) bool {
	if !bytes.HasPrefix(line, fromPrefix) {
		return false
	}
	trimmed := string(bytes.TrimRight(line, "\r\n"))
	_, ok := ParseFromSeparatorDate(trimmed)
	return ok
}

// unescapeFrom removes a single leading '>' from lines matching ^>+From
// (mboxrd unquoting). This also covers mboxo files where only ">From "
// appears for originally "From " body lines.
func unescapeFrom(line []byte) []byte {
	if len(line) == 0 || line[0] != '>' {
		return line
	}
	i := 0
	for i < len(line) && line[i] == '>' {
		i++
	}
	if i < len(line) && bytes.HasPrefix(line[i:], fromPrefix) {
		return line[1:]
	}
	return line
}

// Validate reads up to maxBytes from the stream and returns an error when no
// "From " separator appears. A heuristic check for converter output that
// claims to be mbox.
func Validate(r io.Reader, maxBytes int64) error {
	if maxBytes <= 0 {
		return fmt.Errorf("maxBytes must be > 0")
	}
	br := bufio.NewReader(io.LimitReader(r, maxBytes))
	for {
		line, err := br.ReadString('\n')
		if isSeparatorLine([]byte(line)) {
			return nil
		}
		if err != nil {
			if err == io.EOF {
				return fmt.Errorf("no \"From \" separators found (not an mbox file?)")
			}
			return err
		}
	}
}

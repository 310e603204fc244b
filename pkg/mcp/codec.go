package mcp

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/alsk1992/Flip-God-sub006/pkg/logger"
)

// maxFrameBytes bounds a single frame. A longer line without a newline is
// discarded rather than buffered forever.
const maxFrameBytes = 10 * 1024 * 1024

// EncodeFrame marshals a message as one newline-terminated JSON document.
// JSON string escaping guarantees the payload itself contains no raw
// newline, so the trailing '\n' is an unambiguous frame boundary.
func EncodeFrame(m Message) ([]byte, error) {
	data, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("marshal frame: %w", err)
	}
	return append(data, '\n'), nil
}

// SplitFrames cuts a buffer into complete newline-terminated lines and the
// unconsumed trailing partial line, which the caller re-feeds on the next
// arrival.
func SplitFrames(buf []byte) (lines [][]byte, rest []byte) {
	for {
		i := bytes.IndexByte(buf, '\n')
		if i < 0 {
			return lines, buf
		}
		line := buf[:i]
		// Tolerate CRLF writers.
		line = bytes.TrimSuffix(line, []byte{'\r'})
		if len(line) > 0 {
			lines = append(lines, line)
		}
		buf = buf[i+1:]
	}
}

// FrameDecoder incrementally parses a newline-delimited JSON-RPC byte
// stream into validated messages. It owns the partial-line remainder, so
// frames decode identically however the stream is sliced into reads. A
// malformed line is dropped with a warning and never aborts the stream.
type FrameDecoder struct {
	rem []byte
	log *logger.Logger
}

// NewFrameDecoder creates a decoder. A nil logger discards drop warnings.
func NewFrameDecoder(log *logger.Logger) *FrameDecoder {
	if log == nil {
		log = logger.Discard()
	}
	return &FrameDecoder{log: log.WithComponent("codec")}
}

// Feed appends raw bytes to the decoder and returns every complete, valid
// message that became available. Invalid JSON and envelopes that match no
// JSON-RPC message kind are dropped with a logged warning.
func (d *FrameDecoder) Feed(p []byte) []Message {
	msgs := d.FeedAll(p)
	kept := msgs[:0]
	for _, m := range msgs {
		if m.Kind() == KindInvalid {
			d.log.Warn("dropping invalid envelope", "method", m.Method)
			continue
		}
		kept = append(kept, m)
	}
	return kept
}

// FeedAll is Feed without the envelope check: parseable lines come back even
// when they match no message kind, so a server can answer a malformed
// envelope with a protocol error instead of dropping it. Unparseable JSON is
// still dropped.
func (d *FrameDecoder) FeedAll(p []byte) []Message {
	buf := append(d.rem, p...)
	lines, rest := SplitFrames(buf)

	if len(rest) > maxFrameBytes {
		d.log.Warn("dropping oversized frame", "bytes", len(rest))
		rest = nil
	}
	d.rem = rest

	var msgs []Message
	for _, line := range lines {
		var m Message
		if err := json.Unmarshal(line, &m); err != nil {
			d.log.Warn("dropping unparseable frame", "error", err, "bytes", len(line))
			continue
		}
		msgs = append(msgs, m)
	}
	return msgs
}

// Pending returns the number of buffered bytes awaiting a newline.
func (d *FrameDecoder) Pending() int {
	return len(d.rem)
}

// Package stream turns the raw byte stream from the agent backend into
// classified protocol frames. The wire format is line oriented: SSE-style
// "event:"/"data:" lines, bare JSON objects, or opaque text as a last
// resort. Decoding is split into two stages so each is testable alone: a
// LineDecoder that reassembles whole lines from arbitrarily chunked reads,
// and a Classifier that labels each line with the pipeline node that
// produced it.
package stream

import "strings"

// LineDecoder reassembles whole logical lines from network chunks. A
// trailing fragment with no terminating newline is buffered and prefixed to
// the next chunk, so callers can feed reads of any size.
type LineDecoder struct {
	buf string
}

// Feed consumes one chunk and returns the complete lines it finished, in
// order. Lines may be terminated by \n, \r\n, or a bare \r. A chunk ending
// in \r is held back until the next chunk disambiguates it from a split
// \r\n pair.
func (d *LineDecoder) Feed(chunk string) []string {
	if chunk == "" {
		return nil
	}
	data := d.buf + chunk
	d.buf = ""

	var lines []string
	start := 0
	for i := 0; i < len(data); i++ {
		switch data[i] {
		case '\n':
			lines = append(lines, data[start:i])
			start = i + 1
		case '\r':
			if i == len(data)-1 {
				// Could be the first half of a \r\n split across
				// chunks; keep it buffered until we can tell.
				d.buf = data[start:]
				return lines
			}
			lines = append(lines, data[start:i])
			if data[i+1] == '\n' {
				i++
			}
			start = i + 1
		}
	}
	d.buf = data[start:]
	return lines
}

// Flush returns the buffered remainder when the stream closes. The second
// return is false when nothing was pending. Callers must invoke Flush at
// end-of-stream so a final unterminated line is not dropped.
func (d *LineDecoder) Flush() (string, bool) {
	if d.buf == "" {
		return "", false
	}
	line := strings.TrimSuffix(d.buf, "\r")
	d.buf = ""
	if line == "" {
		return "", false
	}
	return line, true
}

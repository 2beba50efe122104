package client

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"

	"assessbot/protocol"
)

// FrameParseError reports a stream line that is not a valid frame. The
// stream itself is still usable.
type FrameParseError struct {
	Line string
	Err  error
}

func (e *FrameParseError) Error() string {
	return fmt.Sprintf("malformed frame %q: %v", e.Line, e.Err)
}

func (e *FrameParseError) Unwrap() error { return e.Err }

// MaxFrameSize is the default limit on one frame line, newline included.
const MaxFrameSize = 1 << 20

// ErrFrameTooLong is wrapped by the FrameParseError reported for a line over
// the decoder's limit.
var ErrFrameTooLong = errors.New("frame exceeds size limit")

// linePreview bounds the text kept in a FrameParseError for an oversized line.
const linePreview = 64

// Decoder reads newline-terminated frames. A line split across reads is
// held until its newline arrives; a trailing line without one is never
// parsed.
type Decoder struct {
	r     *bufio.Reader
	limit int
	buf   []byte
}

// NewDecoder returns a Decoder reading from r with the MaxFrameSize limit.
func NewDecoder(r io.Reader) *Decoder {
	return NewDecoderSize(r, MaxFrameSize)
}

// NewDecoderSize returns a Decoder that rejects lines longer than limit
// bytes. A non-positive limit selects MaxFrameSize.
func NewDecoderSize(r io.Reader, limit int) *Decoder {
	if limit <= 0 {
		limit = MaxFrameSize
	}
	return &Decoder{r: bufio.NewReader(r), limit: limit}
}

// Next returns the next frame. It returns io.EOF once the stream ends, a
// *FrameParseError for a malformed or oversized line, and any other read
// error as is. Blank lines are skipped.
func (d *Decoder) Next() (protocol.Frame, error) {
	for {
		line, err := d.readLine()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil, io.EOF
			}
			return nil, err
		}

		line = bytes.TrimSpace(line)
		if len(line) == 0 {
			continue
		}

		frame, err := protocol.DecodeFrame(line)
		if err != nil {
			return nil, &FrameParseError{Line: string(line), Err: err}
		}
		return frame, nil
	}
}

// readLine returns the next line including its newline. The returned slice
// is only valid until the next call. An oversized line is consumed through
// its newline and reported as a FrameParseError, so the following frame is
// still readable.
func (d *Decoder) readLine() ([]byte, error) {
	d.buf = d.buf[:0]
	var preview []byte
	oversized := false

	for {
		chunk, err := d.r.ReadSlice('\n')
		if !oversized {
			if len(d.buf)+len(chunk) > d.limit {
				oversized = true
				preview = append(d.buf, chunk...)
				preview = append([]byte(nil), preview[:min(len(preview), linePreview)]...)
			} else {
				d.buf = append(d.buf, chunk...)
			}
		}

		switch {
		case err == nil:
			if oversized {
				return nil, &FrameParseError{Line: string(preview), Err: ErrFrameTooLong}
			}
			return d.buf, nil
		case errors.Is(err, bufio.ErrBufferFull):
			continue
		default:
			return nil, err
		}
	}
}

// Package frame implements the LSP wire framing: encoding a JSON-RPC
// message to "Content-Length: N\r\n\r\n<json>" bytes, and decoding a
// streaming byte feed back into whole messages.
package frame

import (
	"bytes"
	"errors"
	"fmt"
	"strconv"

	"github.com/firi/lspwire/internal/jsonrpc"
)

// DefaultMaxContentLength is the rejectable upper bound on a single
// frame's body size: 100 MiB.
const DefaultMaxContentLength = 100 * 1024 * 1024

const (
	contentLengthHeader = "content-length" // matched case-insensitively
	headerLineDelim     = "\r\n"
	headerBodyDelim     = "\r\n\r\n"
)

// Sentinel protocol errors. Decode errors always wrap one of these so
// callers can distinguish failure kinds with errors.Is.
var (
	ErrMissingContentLength  = errors.New("missing Content-Length header")
	ErrDuplicateContentLength = errors.New("duplicate Content-Length header")
	ErrInvalidContentLength  = errors.New("invalid Content-Length value")
	ErrContentLengthTooLarge = errors.New("Content-Length exceeds maximum")
	ErrDecoderBroken         = errors.New("frame decoder is in a broken state; call Reset")
)

// Encode renders a Message to framed bytes ready to write to a transport.
// Content-Length counts the UTF-8 byte length of the minified JSON body,
// never the character count.
func Encode(msg jsonrpc.Message) ([]byte, error) {
	body, err := jsonrpc.EncodeMessage(msg)
	if err != nil {
		return nil, fmt.Errorf("frame: encode message: %w", err)
	}
	header := fmt.Sprintf("Content-Length: %d%s", len(body), headerBodyDelim)
	out := make([]byte, 0, len(header)+len(body))
	out = append(out, header...)
	out = append(out, body...)
	return out, nil
}

type decodeState int

const (
	stateHeaders decodeState = iota
	stateBody
)

// Decoder turns a streaming byte feed into whole Messages. Input chunks
// may split headers, the blank-line delimiter, or the body at any
// boundary; the decoder buffers across Feed calls and emits only complete
// messages. Once Feed returns an error the decoder is terminally broken
// until Reset is called.
type Decoder struct {
	maxContentLength int
	buf              []byte
	state            decodeState
	contentLength    int
	broken           bool
}

// NewDecoder returns a Decoder with the default 100 MiB content-length
// ceiling.
func NewDecoder() *Decoder {
	return NewDecoderWithMax(DefaultMaxContentLength)
}

// NewDecoderWithMax returns a Decoder that rejects frames whose
// Content-Length exceeds maxContentLength before allocating a body buffer.
func NewDecoderWithMax(maxContentLength int) *Decoder {
	return &Decoder{maxContentLength: maxContentLength}
}

// Reset clears all buffered state, returning the decoder to its initial
// condition. The next Feed starts a fresh frame.
func (d *Decoder) Reset() {
	d.buf = nil
	d.state = stateHeaders
	d.contentLength = 0
	d.broken = false
}

// Feed appends chunk to the internal buffer and decodes as many complete
// messages as are now available. It returns any messages decoded before
// an error was hit, plus the error itself; after an error the decoder
// is broken and further Feed calls fail until Reset.
func (d *Decoder) Feed(chunk []byte) ([]jsonrpc.Message, error) {
	if d.broken {
		return nil, ErrDecoderBroken
	}

	d.buf = append(d.buf, chunk...)

	var out []jsonrpc.Message
	for {
		switch d.state {
		case stateHeaders:
			idx := bytes.Index(d.buf, []byte(headerBodyDelim))
			if idx < 0 {
				d.compact()
				return out, nil
			}
			length, err := parseContentLength(d.buf[:idx], d.maxContentLength)
			if err != nil {
				d.broken = true
				return out, err
			}
			d.contentLength = length
			d.buf = d.buf[idx+len(headerBodyDelim):]
			d.state = stateBody

		case stateBody:
			if len(d.buf) < d.contentLength {
				d.compact()
				return out, nil
			}
			body := d.buf[:d.contentLength]
			d.buf = d.buf[d.contentLength:]
			d.state = stateHeaders

			msg, err := jsonrpc.DecodeMessage(body)
			if err != nil {
				d.broken = true
				return out, err
			}
			out = append(out, msg)
		}
	}
}

// compact copies the unconsumed tail into a fresh, minimally-sized
// backing array so consumed prefix bytes are released rather than kept
// alive by slice capacity.
func (d *Decoder) compact() {
	if len(d.buf) == 0 {
		d.buf = nil
		return
	}
	fresh := make([]byte, len(d.buf))
	copy(fresh, d.buf)
	d.buf = fresh
}

// parseContentLength scans a header block (the bytes before the blank
// line, exclusive) for a case-insensitively matched Content-Length
// header whose value is composed exclusively of ASCII digits. A missing
// header, a duplicate header, a non-digit value, or a value exceeding max
// all fail.
func parseContentLength(headerBlock []byte, max int) (int, error) {
	lines := bytes.Split(headerBlock, []byte(headerLineDelim))

	found := false
	var length int
	for _, line := range lines {
		if len(line) == 0 {
			continue
		}
		colon := bytes.IndexByte(line, ':')
		if colon < 0 {
			continue
		}
		name := string(bytes.TrimSpace(line[:colon]))
		if !equalFoldASCII(name, contentLengthHeader) {
			continue
		}
		if found {
			return 0, ErrDuplicateContentLength
		}
		value := string(bytes.TrimSpace(line[colon+1:]))
		n, err := parseDecimalDigits(value)
		if err != nil {
			return 0, fmt.Errorf("%w: %q", ErrInvalidContentLength, value)
		}
		if n > max {
			return 0, fmt.Errorf("%w: %d > %d", ErrContentLengthTooLarge, n, max)
		}
		length = n
		found = true
	}

	if !found {
		return 0, ErrMissingContentLength
	}
	return length, nil
}

// parseDecimalDigits accepts only a non-empty run of ASCII digits — no
// sign, no whitespace, no fractional part.
func parseDecimalDigits(s string) (int, error) {
	if s == "" {
		return 0, fmt.Errorf("empty value")
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return 0, fmt.Errorf("non-digit character %q", r)
		}
	}
	n, err := strconv.ParseInt(s, 10, 63)
	if err != nil {
		return 0, err
	}
	return int(n), nil
}

func equalFoldASCII(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := 0; i < len(a); i++ {
		ca, cb := a[i], b[i]
		if 'A' <= ca && ca <= 'Z' {
			ca += 'a' - 'A'
		}
		if 'A' <= cb && cb <= 'Z' {
			cb += 'a' - 'A'
		}
		if ca != cb {
			return false
		}
	}
	return true
}

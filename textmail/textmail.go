// Package textmail normalizes message files that already resemble an
// RFC 822 message: header lines, a blank line, a body. Legacy archives mix
// encodings and line endings freely, so everything is folded into UTF-8
// with a deterministic fallback.
package textmail

import (
	"strings"
	"time"
	"unicode/utf8"

	"golang.org/x/text/encoding/charmap"

	"github.com/dhcgn/pmmail-to-eml/classify"
	"github.com/dhcgn/pmmail-to-eml/model"
)

// placeholderDate is synthesized when the source carries no Date header, so
// the serialized artifact stays structurally valid.
var placeholderDate = time.Date(1970, time.January, 1, 0, 0, 0, 0, time.UTC)

// Decode parses a byte stream classified as plain text into a Message. It
// never fails: input without a single valid header line becomes an all-body
// message with synthesized minimal headers. The classifier gates on finding
// a header-like line before routing here, but a spurious gate result
// degrades gracefully instead of raising.
func Decode(raw []byte) *model.Message {
	text := decodeText(raw)
	text = normalizeNewlines(text)

	msg := &model.Message{}

	headerPart, body, split := splitHeaderBody(text)
	if split {
		headers, ok := parseHeaders(headerPart)
		if ok {
			msg.Headers = headers
			msg.Body = body
		}
	}
	if len(msg.Headers) == 0 {
		// Header-less but text-shaped: the whole content is the body.
		msg.Body = text
	}

	if msg.Header("Date") == "" {
		msg.AddHeader("Date", placeholderDate.Format(time.RFC1123Z))
	}

	return msg
}

// decodeText returns raw as a UTF-8 string. Invalid UTF-8 is re-decoded as
// Windows-1252, the encoding the originating mail clients actually used.
func decodeText(raw []byte) string {
	if utf8.Valid(raw) {
		return string(raw)
	}
	decoded, err := charmap.Windows1252.NewDecoder().Bytes(raw)
	if err != nil {
		return string(raw)
	}
	return string(decoded)
}

func normalizeNewlines(text string) string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	return strings.ReplaceAll(text, "\r", "\n")
}

// splitHeaderBody separates the candidate header block from the body at the
// first blank line. split is false when no blank line exists.
func splitHeaderBody(text string) (header, body string, split bool) {
	if idx := strings.Index(text, "\n\n"); idx >= 0 {
		return text[:idx], text[idx+2:], true
	}
	// Headers only, no body. Still a valid message.
	return text, "", true
}

// parseHeaders parses the header block into ordered fields, honoring
// continuation lines. ok is false when the block contains any line that is
// neither a header nor a continuation; the caller then treats the whole
// input as body text.
func parseHeaders(block string) ([]model.Header, bool) {
	var headers []model.Header
	for _, line := range strings.Split(block, "\n") {
		if line == "" {
			continue
		}
		if line[0] == ' ' || line[0] == '\t' {
			if len(headers) == 0 {
				return nil, false
			}
			headers[len(headers)-1].Value += " " + strings.TrimSpace(line)
			continue
		}
		if !classify.IsHeaderLine([]byte(line)) {
			return nil, false
		}
		idx := strings.IndexByte(line, ':')
		headers = append(headers, model.Header{
			Name:  line[:idx],
			Value: strings.TrimSpace(line[idx+1:]),
		})
	}
	return headers, len(headers) > 0
}

// Package eml serializes decoded messages into the standard single-message
// mail file format: headers, a blank line, a MIME body.
package eml

import (
	"bytes"
	"fmt"
	"io"

	_ "github.com/emersion/go-message/charset"
	"github.com/emersion/go-message/mail"

	"github.com/dhcgn/pmmail-to-eml/model"
)

// Extension is the destination file extension for converted messages.
const Extension = ".eml"

// Serialize renders msg as an RFC 822 byte stream. Multipart output is used
// when the message carries attachments or both a plain and an HTML body.
func Serialize(msg *model.Message) ([]byte, error) {
	var buf bytes.Buffer
	h := buildHeader(msg)

	if len(msg.Attachments) == 0 && (msg.HTMLBody == "" || msg.Body == "") {
		contentType, body := inlineBody(msg)
		h.SetContentType(contentType, map[string]string{"charset": "utf-8"})

		w, err := mail.CreateSingleInlineWriter(&buf, h)
		if err != nil {
			return nil, fmt.Errorf("create message writer: %w", err)
		}
		if _, err := io.WriteString(w, body); err != nil {
			return nil, fmt.Errorf("write body: %w", err)
		}
		if err := w.Close(); err != nil {
			return nil, fmt.Errorf("close message writer: %w", err)
		}
		return buf.Bytes(), nil
	}

	mw, err := mail.CreateWriter(&buf, h)
	if err != nil {
		return nil, fmt.Errorf("create message writer: %w", err)
	}

	if err := writeInlineParts(mw, msg); err != nil {
		return nil, err
	}

	for _, att := range msg.Attachments {
		if err := writeAttachment(mw, att); err != nil {
			return nil, err
		}
	}

	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("close message writer: %w", err)
	}
	return buf.Bytes(), nil
}

func buildHeader(msg *model.Message) mail.Header {
	var h mail.Header
	// go-message prepends on Add, so walk the decoder's order backwards to
	// keep it on the wire.
	for i := len(msg.Headers) - 1; i >= 0; i-- {
		h.Add(msg.Headers[i].Name, msg.Headers[i].Value)
	}
	return h
}

func inlineBody(msg *model.Message) (contentType, body string) {
	if msg.HTMLBody != "" && msg.Body == "" {
		return "text/html", msg.HTMLBody
	}
	return "text/plain", msg.Body
}

func writeInlineParts(mw *mail.Writer, msg *model.Message) error {
	iw, err := mw.CreateInline()
	if err != nil {
		return fmt.Errorf("create inline writer: %w", err)
	}

	if msg.Body != "" || msg.HTMLBody == "" {
		if err := writePart(iw, "text/plain", msg.Body); err != nil {
			return err
		}
	}
	if msg.HTMLBody != "" {
		if err := writePart(iw, "text/html", msg.HTMLBody); err != nil {
			return err
		}
	}

	if err := iw.Close(); err != nil {
		return fmt.Errorf("close inline writer: %w", err)
	}
	return nil
}

func writePart(iw *mail.InlineWriter, contentType, body string) error {
	var ph mail.InlineHeader
	ph.SetContentType(contentType, map[string]string{"charset": "utf-8"})

	w, err := iw.CreatePart(ph)
	if err != nil {
		return fmt.Errorf("create %s part: %w", contentType, err)
	}
	if _, err := io.WriteString(w, body); err != nil {
		return fmt.Errorf("write %s part: %w", contentType, err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("close %s part: %w", contentType, err)
	}
	return nil
}

func writeAttachment(mw *mail.Writer, att model.Attachment) error {
	contentType := att.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	var ah mail.AttachmentHeader
	ah.SetFilename(att.Filename)
	ah.SetContentType(contentType, nil)

	w, err := mw.CreateAttachment(ah)
	if err != nil {
		return fmt.Errorf("create attachment %s: %w", att.Filename, err)
	}
	if _, err := w.Write(att.Data); err != nil {
		return fmt.Errorf("write attachment %s: %w", att.Filename, err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("close attachment %s: %w", att.Filename, err)
	}
	return nil
}
